package models

import "time"

// Caller classes
const (
	CallerEmployee = "employee"
	CallerGuest    = "guest"
)

// Outcome is the terminal classification of a task. Created exactly once
// per task by the finalizer; the task is immutable after that point.
type Outcome string

const (
	// Response outcomes (returned to the platform)
	OutcomeOKAnswer            Outcome = "ok_answer"
	OutcomeOKNotFound          Outcome = "ok_not_found"
	OutcomeDeniedSecurity      Outcome = "denied_security"
	OutcomeClarificationNeeded Outcome = "none_clarification_needed"
	OutcomeUnsupported         Outcome = "none_unsupported"
	OutcomeErrorInternal       Outcome = "error_internal"

	// Pipeline statuses (recorded in telemetry; reported to the platform
	// as error_internal)
	OutcomeTimeout          Outcome = "timeout"
	OutcomeRateLimited      Outcome = "rate_limit_exhausted"
	OutcomeMaxStepsExceeded Outcome = "max_steps_exceeded"
	OutcomeServerError      Outcome = "server_error"
)

// Terminal reports whether o is a response outcome the platform accepts
// directly, as opposed to a pipeline status that maps to error_internal.
func (o Outcome) Terminal() bool {
	switch o {
	case OutcomeOKAnswer, OutcomeOKNotFound, OutcomeDeniedSecurity,
		OutcomeClarificationNeeded, OutcomeUnsupported, OutcomeErrorInternal:
		return true
	}
	return false
}

// APIOutcome maps pipeline statuses onto the closed set of response
// outcomes the platform accepts. Response outcomes map to themselves.
func (o Outcome) APIOutcome() Outcome {
	if o.Terminal() {
		return o
	}
	return OutcomeErrorInternal
}

// Link entity types
const (
	LinkEmployee = "employee"
	LinkCustomer = "customer"
	LinkProject  = "project"
	LinkWiki     = "wiki"
	LinkLocation = "location"
	LinkSkill    = "skill_id"
	LinkWill     = "will_id"
)

// Task is an opaque unit of work received from the platform. Immutable
// once constructed; owned by the pipeline until finalization.
type Task struct {
	ID             string                 `json:"task_id"`
	SpecID         string                 `json:"spec_id,omitempty"`
	Text           string                 `json:"text"`
	CallerID       string                 `json:"caller_id"`
	CallerIsPublic bool                   `json:"caller_is_public"`
	CreatedAt      time.Time              `json:"created_at"`
	Meta           map[string]interface{} `json:"meta,omitempty"`
}

// Link is a typed reference attached to an Outcome for UI navigation.
type Link struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// Response is the outbound terminal record for a task.
type Response struct {
	Outcome Outcome `json:"outcome"`
	Message string  `json:"message"`
	Links   []Link  `json:"links"`
}

// Entity identifies a resolved mention: a canonical identifier plus its kind.
type Entity struct {
	Kind string `json:"kind"` // employee, customer, project, wiki, location, skill, will, department
	ID   string `json:"id"`
}

// CallerIdentity is the platform's answer to WhoAmI for the task's caller.
type CallerIdentity struct {
	EmployeeID string `json:"employee_id,omitempty"`
	Name       string `json:"name,omitempty"`
	Role       string `json:"role,omitempty"`
	Department string `json:"department,omitempty"`
	Location   string `json:"location,omitempty"`
	IsPublic   bool   `json:"is_public"`
	Today      string `json:"today,omitempty"`
	WikiSHA    string `json:"wiki_sha1,omitempty"`
}

// SecurityView is the minimal projection of task context the security
// watchdog is allowed to read: caller identity, the tagged task text and
// per-entity security fields only. It must never carry solver enrichment.
type SecurityView struct {
	CallerID    string                            `json:"caller_id"`
	CallerRole  string                            `json:"caller_role"`
	Department  string                            `json:"department"`
	Permissions []string                          `json:"permissions,omitempty"`
	TaskText    string                            `json:"task_text"`
	Entities    map[string]map[string]interface{} `json:"entities,omitempty"`
}

// SolverView is the full projection used to actually perform the task:
// rewritten task text, enriched entity records and unresolved mentions.
type SolverView struct {
	TaskText   string                            `json:"task_text"`
	Today      string                            `json:"today,omitempty"`
	Entities   map[string]map[string]interface{} `json:"entities,omitempty"`
	Unresolved []string                          `json:"unresolved,omitempty"`
}

// TaskContext is the shared state threaded through every pipeline stage.
// Stages mutate only their own sections; the watchdog reads Security only.
type TaskContext struct {
	Task        Task
	SessionID   string
	CallerClass string // CallerEmployee or CallerGuest
	Identity    CallerIdentity

	// mention -> resolved entity, filled by the resolver
	Resolved map[string]Entity

	Security SecurityView
	Solver   SolverView

	// Stage timings for telemetry, keyed by stage name.
	StageDurations map[string]time.Duration
}

// TokenUsage tracks token consumption for a single model call or an
// aggregate over a task.
type TokenUsage struct {
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	TotalTokens      int     `json:"total_tokens"`
	CachedTokens     int     `json:"cached_tokens,omitempty"`
	CostUSD          float64 `json:"cost_usd,omitempty"`
}

// Add accumulates usage from another call.
func (u *TokenUsage) Add(other TokenUsage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
	u.CachedTokens += other.CachedTokens
	u.CostUSD += other.CostUSD
}
