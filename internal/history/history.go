// Package history keeps the running transcript a task accumulates
// across solver steps and compresses old entries so the prompt stays
// inside the model context window.
package history

import (
	"encoding/json"
	"fmt"
)

// Kind labels what produced an entry.
type Kind string

const (
	KindStep    Kind = "step"    // a solver step the model emitted
	KindResult  Kind = "result"  // a tool result fed back to the model
	KindSummary Kind = "summary" // a compressed span of older entries
)

// Entry is one transcript item. Summary entries replace a contiguous
// prefix of step/result entries and record how many they absorbed.
type Entry struct {
	Kind     Kind   `json:"kind"`
	Content  string `json:"content"`
	Absorbed int    `json:"absorbed,omitempty"`
}

// Buffer is an append-only transcript with a compressed prefix. It is
// owned by a single task and is not safe for concurrent use.
type Buffer struct {
	entries []Entry
}

func NewBuffer() *Buffer {
	return &Buffer{}
}

// Append adds a raw entry at the tail. Order is never rearranged.
func (b *Buffer) Append(kind Kind, content string) {
	b.entries = append(b.entries, Entry{Kind: kind, Content: content})
}

// AppendJSON marshals v and appends it. Marshal failures append a
// placeholder rather than dropping the turn.
func (b *Buffer) AppendJSON(kind Kind, v interface{}) {
	raw, err := json.Marshal(v)
	if err != nil {
		b.Append(kind, fmt.Sprintf("<unencodable %s>", kind))
		return
	}
	b.Append(kind, string(raw))
}

// Entries returns the transcript in order, compressed prefix first.
func (b *Buffer) Entries() []Entry {
	return b.entries
}

func (b *Buffer) Len() int { return len(b.entries) }

// EstimatedTokens approximates the token cost of the transcript. The
// heuristic is four characters per token, which tracks close enough
// to decide when to compress.
func (b *Buffer) EstimatedTokens() int {
	chars := 0
	for _, e := range b.entries {
		chars += len(e.Content)
	}
	return chars / 4
}
