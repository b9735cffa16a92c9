// Package wiki provides ranked snippet search over the company wiki.
// Results are advisory context for the solver; they are never consulted
// for security decisions.
package wiki

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
)

const (
	sectionDelimiter = "##"
	minChunkLength   = 40
)

// Result is one ranked search hit.
type Result struct {
	Path    string  `json:"path"`
	Section string  `json:"section,omitempty"`
	Snippet string  `json:"snippet"`
	Score   float64 `json:"score"`
}

type chunk struct {
	path    string
	section string
	text    string
	terms   map[string]int
	length  int
}

type index struct {
	chunks  []chunk
	docFreq map[string]int
}

// Store indexes wiki snapshots keyed by content checksum. Indexes are
// built lazily on first search and cached for the session.
type Store struct {
	root   string
	logger *zap.Logger

	mu      sync.RWMutex
	indexes map[string]*index
}

// NewStore creates a store rooted at the local wiki snapshot directory
// (one subdirectory of markdown pages per checksum).
func NewStore(root string, logger *zap.Logger) *Store {
	return &Store{
		root:    root,
		logger:  logger,
		indexes: make(map[string]*index),
	}
}

// Pages lists page paths for a snapshot.
func (s *Store) Pages(sha string) ([]string, error) {
	idx, err := s.load(sha)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var pages []string
	for _, c := range idx.chunks {
		if !seen[c.path] {
			seen[c.path] = true
			pages = append(pages, c.path)
		}
	}
	sort.Strings(pages)
	return pages, nil
}

// Page returns the full text of one page.
func (s *Store) Page(sha, path string) (string, error) {
	clean := filepath.Clean(path)
	if strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", fmt.Errorf("invalid wiki path %q", path)
	}
	data, err := os.ReadFile(filepath.Join(s.root, sha, clean))
	if err != nil {
		return "", fmt.Errorf("read wiki page %s: %w", path, err)
	}
	return string(data), nil
}

// Search returns up to topK chunks ranked by a tf-idf score against the
// free-text query.
func (s *Store) Search(sha, query string, topK int) ([]Result, error) {
	idx, err := s.load(sha)
	if err != nil {
		return nil, err
	}
	if topK <= 0 {
		topK = 5
	}

	qTerms := tokenize(query)
	if len(qTerms) == 0 {
		return nil, nil
	}

	type scored struct {
		c     *chunk
		score float64
	}
	var hits []scored
	n := float64(len(idx.chunks))
	for i := range idx.chunks {
		c := &idx.chunks[i]
		var score float64
		for term := range qTerms {
			tf := c.terms[term]
			if tf == 0 {
				continue
			}
			idf := math.Log(1 + n/float64(1+idx.docFreq[term]))
			score += float64(tf) / float64(c.length) * idf
		}
		if score > 0 {
			hits = append(hits, scored{c: c, score: score})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	if len(hits) > topK {
		hits = hits[:topK]
	}

	out := make([]Result, 0, len(hits))
	for _, h := range hits {
		snippet := h.c.text
		if len(snippet) > 800 {
			snippet = snippet[:800]
		}
		out = append(out, Result{
			Path:    h.c.path,
			Section: h.c.section,
			Snippet: snippet,
			Score:   h.score,
		})
	}
	return out, nil
}

func (s *Store) load(sha string) (*index, error) {
	s.mu.RLock()
	idx, ok := s.indexes[sha]
	s.mu.RUnlock()
	if ok {
		return idx, nil
	}

	dir := filepath.Join(s.root, sha)
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("wiki snapshot not found: %s", dir)
	}

	idx = &index{docFreq: make(map[string]int)}
	err = filepath.Walk(dir, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.IsDir() || !strings.HasSuffix(fi.Name(), ".md") {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read wiki page %s: %w", path, err)
		}
		rel, _ := filepath.Rel(dir, path)
		for _, sec := range splitSections(string(data)) {
			if len(sec.body) < minChunkLength {
				continue
			}
			terms := tokenize(sec.body)
			length := 0
			for _, n := range terms {
				length += n
			}
			idx.chunks = append(idx.chunks, chunk{
				path:    filepath.ToSlash(rel),
				section: sec.title,
				text:    sec.body,
				terms:   terms,
				length:  length,
			})
			for term := range terms {
				idx.docFreq[term]++
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.indexes[sha] = idx
	s.mu.Unlock()

	s.logger.Info("Wiki snapshot indexed",
		zap.String("sha", sha),
		zap.Int("chunks", len(idx.chunks)),
	)
	return idx, nil
}

type section struct {
	title string
	body  string
}

func splitSections(text string) []section {
	if !strings.HasPrefix(strings.TrimLeft(text, " \t\n"), sectionDelimiter) {
		text = sectionDelimiter + " Introduction\n" + text
	}

	var out []section
	var title string
	var lines []string
	flush := func() {
		body := strings.TrimSpace(strings.Join(lines, "\n"))
		if body != "" {
			out = append(out, section{title: title, body: body})
		}
		lines = lines[:0]
	}
	for _, line := range strings.Split(text, "\n") {
		if strings.HasPrefix(line, sectionDelimiter) {
			flush()
			title = strings.Trim(strings.TrimPrefix(line, sectionDelimiter), " #\t")
			continue
		}
		lines = append(lines, line)
	}
	flush()
	return out
}

func tokenize(text string) map[string]int {
	terms := make(map[string]int)
	var b strings.Builder
	flush := func() {
		if b.Len() >= 2 {
			terms[strings.ToLower(b.String())]++
		}
		b.Reset()
	}
	for _, r := range text {
		if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' {
			b.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()
	return terms
}
