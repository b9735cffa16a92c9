package session

import (
	"errors"
	"time"

	"github.com/praxisworks/hrdesk/internal/models"
)

var (
	// ErrNotFound is returned when a session does not exist.
	ErrNotFound = errors.New("session not found")

	// ErrExpired is returned when a session has passed its TTL.
	ErrExpired = errors.New("session expired")
)

// TaskRecord is the per-task summary kept in session state.
type TaskRecord struct {
	TaskID     string         `json:"task_id"`
	Outcome    models.Outcome `json:"outcome"`
	Steps      int            `json:"steps"`
	Tokens     int            `json:"tokens"`
	DurationMS int64          `json:"duration_ms"`
	FinishedAt time.Time      `json:"finished_at"`
}

// State is the durable record of one work session against the
// platform: which tasks ran, what they spent and how they ended.
type State struct {
	ID        string    `json:"id"`
	Name      string    `json:"name,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	ExpiresAt time.Time `json:"expires_at"`

	Tasks       []TaskRecord `json:"tasks"`
	TotalTokens int          `json:"total_tokens"`
	CostUSD     float64      `json:"cost_usd"`

	// Outcome tallies keyed by outcome string.
	Outcomes map[string]int `json:"outcomes"`
}

// Expired reports whether the state is past its TTL.
func (s *State) Expired() bool {
	return time.Now().After(s.ExpiresAt)
}

// Record appends one finished task and updates the tallies.
func (s *State) Record(rec TaskRecord, costUSD float64) {
	s.Tasks = append(s.Tasks, rec)
	s.TotalTokens += rec.Tokens
	s.CostUSD += costUSD
	if s.Outcomes == nil {
		s.Outcomes = make(map[string]int)
	}
	s.Outcomes[string(rec.Outcome)]++
	s.UpdatedAt = time.Now()
}
