package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/praxisworks/hrdesk/internal/config"
	"github.com/praxisworks/hrdesk/internal/models"
)

// APIError is a typed platform failure. Status 404 is a recoverable
// not-found; everything else is a backend failure.
type APIError struct {
	Status  int    `json:"status"`
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("platform api %d (%s): %s", e.Status, e.Kind, e.Message)
}

// NotFound reports whether err is a 404-class platform error.
func NotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

// Client talks to the task platform: inbound tasks, directory lookups and
// the outbound terminal response. All methods are read-only except
// ProvideResponse and the time entry/wiki mutations.
type Client struct {
	base   *url.URL
	apiKey string
	http   *http.Client
	logger *zap.Logger
}

// NewClient builds a platform client from configuration.
func NewClient(cfg config.PlatformConfig, logger *zap.Logger) (*Client, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse platform base url: %w", err)
	}
	return &Client{
		base:   base,
		apiKey: cfg.APIKey,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}, nil
}

// --- session/task lifecycle ---

// StartSessionResult identifies a started benchmark session.
type StartSessionResult struct {
	SessionID string `json:"session_id"`
}

func (c *Client) StartSession(ctx context.Context, name, benchmark, workspace string) (*StartSessionResult, error) {
	var out StartSessionResult
	err := c.do(ctx, http.MethodPost, "/sessions", map[string]string{
		"name": name, "benchmark": benchmark, "workspace": workspace,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) SessionTasks(ctx context.Context, sessionID string) ([]models.Task, error) {
	var out struct {
		Tasks []models.Task `json:"tasks"`
	}
	if err := c.do(ctx, http.MethodGet, "/sessions/"+sessionID+"/tasks", nil, &out); err != nil {
		return nil, err
	}
	return out.Tasks, nil
}

func (c *Client) StartTask(ctx context.Context, taskID string) error {
	return c.do(ctx, http.MethodPost, "/tasks/"+taskID+"/start", nil, nil)
}

// CompleteTask marks the task done on the platform and returns its eval
// score when the benchmark exposes one.
type CompleteTaskResult struct {
	Score    *float64 `json:"score,omitempty"`
	EvalLogs string   `json:"eval_logs,omitempty"`
}

func (c *Client) CompleteTask(ctx context.Context, taskID string) (*CompleteTaskResult, error) {
	var out CompleteTaskResult
	if err := c.do(ctx, http.MethodPost, "/tasks/"+taskID+"/complete", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) SubmitSession(ctx context.Context, sessionID string) error {
	return c.do(ctx, http.MethodPost, "/sessions/"+sessionID+"/submit", nil, nil)
}

// WhoAmI loads the caller identity for a task.
func (c *Client) WhoAmI(ctx context.Context, taskID string) (*models.CallerIdentity, error) {
	var out models.CallerIdentity
	if err := c.do(ctx, http.MethodGet, "/tasks/"+taskID+"/whoami", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ProvideResponse sends the single terminal response for a task.
func (c *Client) ProvideResponse(ctx context.Context, taskID string, resp models.Response) error {
	return c.do(ctx, http.MethodPost, "/tasks/"+taskID+"/response", resp, nil)
}

// --- directory lookups ---

func (c *Client) GetEmployee(ctx context.Context, id string) (*Employee, error) {
	var out Employee
	if err := c.do(ctx, http.MethodGet, "/employees/"+id, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) SearchEmployees(ctx context.Context, q SearchQuery) ([]Employee, error) {
	var out struct {
		Employees []Employee `json:"employees"`
	}
	if err := c.do(ctx, http.MethodPost, "/employees/search", q, &out); err != nil {
		return nil, err
	}
	return out.Employees, nil
}

func (c *Client) GetProject(ctx context.Context, id string) (*Project, error) {
	var out Project
	if err := c.do(ctx, http.MethodGet, "/projects/"+id, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) SearchProjects(ctx context.Context, q SearchQuery) ([]Project, error) {
	var out struct {
		Projects []Project `json:"projects"`
	}
	if err := c.do(ctx, http.MethodPost, "/projects/search", q, &out); err != nil {
		return nil, err
	}
	return out.Projects, nil
}

func (c *Client) GetCustomer(ctx context.Context, id string) (*Customer, error) {
	var out Customer
	if err := c.do(ctx, http.MethodGet, "/customers/"+id, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) SearchCustomers(ctx context.Context, q SearchQuery) ([]Customer, error) {
	var out struct {
		Customers []Customer `json:"customers"`
	}
	if err := c.do(ctx, http.MethodPost, "/customers/search", q, &out); err != nil {
		return nil, err
	}
	return out.Customers, nil
}

// --- time tracking ---

func (c *Client) SearchTimeEntries(ctx context.Context, q TimeQuery) ([]TimeEntry, error) {
	var out struct {
		Entries []TimeEntry `json:"entries"`
	}
	if err := c.do(ctx, http.MethodPost, "/time/search", q, &out); err != nil {
		return nil, err
	}
	return out.Entries, nil
}

func (c *Client) TimeSummaryByEmployee(ctx context.Context, q TimeQuery) ([]TimeSummaryRow, error) {
	return c.timeSummary(ctx, "/time/summary/employee", q)
}

func (c *Client) TimeSummaryByProject(ctx context.Context, q TimeQuery) ([]TimeSummaryRow, error) {
	return c.timeSummary(ctx, "/time/summary/project", q)
}

func (c *Client) timeSummary(ctx context.Context, path string, q TimeQuery) ([]TimeSummaryRow, error) {
	var out struct {
		Rows []TimeSummaryRow `json:"rows"`
	}
	if err := c.do(ctx, http.MethodPost, path, q, &out); err != nil {
		return nil, err
	}
	return out.Rows, nil
}

// AddTimeEntry logs a new time entry. Mutating: callers must not retry
// after an ambiguous failure.
func (c *Client) AddTimeEntry(ctx context.Context, entry TimeEntry) (*TimeEntry, error) {
	var out TimeEntry
	if err := c.do(ctx, http.MethodPost, "/time/entries", entry, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateTimeEntry patches an existing entry. Mutating.
func (c *Client) UpdateTimeEntry(ctx context.Context, entry TimeEntry) (*TimeEntry, error) {
	var out TimeEntry
	if err := c.do(ctx, http.MethodPut, "/time/entries/"+entry.ID, entry, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) EmployeeWorkload(ctx context.Context, q TimeQuery) ([]WorkloadRow, error) {
	var out struct {
		Rows []WorkloadRow `json:"rows"`
	}
	if err := c.do(ctx, http.MethodPost, "/time/workload", q, &out); err != nil {
		return nil, err
	}
	return out.Rows, nil
}

// --- transport ---

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	u := *c.base
	u.Path, _ = url.JoinPath(c.base.Path, path)

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("platform request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return fmt.Errorf("read platform response: %w", err)
	}

	c.logger.Debug("Platform call",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(started)),
	)

	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode, Message: string(data)}
		var parsed struct {
			Kind    string `json:"kind"`
			Message string `json:"message"`
		}
		if json.Unmarshal(data, &parsed) == nil && parsed.Message != "" {
			apiErr.Kind = parsed.Kind
			apiErr.Message = parsed.Message
		}
		return apiErr
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode platform response %s: %w", path, err)
		}
	}
	return nil
}
