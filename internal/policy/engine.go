// Package policy implements the security watchdog: an OPA rulebook that
// classifies tasks as allow, deny or needs_clarification before any
// data-touching action runs.
package policy

import (
	"container/list"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/rego"
	"go.uber.org/zap"

	"github.com/praxisworks/hrdesk/internal/config"
	"github.com/praxisworks/hrdesk/internal/metrics"
	"github.com/praxisworks/hrdesk/internal/models"
)

// Verdict is the watchdog's classification of a task.
type Verdict string

const (
	VerdictAllow         Verdict = "allow"
	VerdictDeny          Verdict = "deny"
	VerdictClarification Verdict = "needs_clarification"
)

// Input is everything the rulebook may see. It is built exclusively from
// the SecurityView: solver enrichment must never reach this struct.
// Input is the rulebook input document. Scalar fields carry no
// omitempty: a rego comparison against a missing field is undefined and
// silently disables the rule, so every field is always present.
type Input struct {
	CallerClass string                            `json:"caller_class"` // employee | guest
	CallerID    string                            `json:"caller_id"`
	CallerRole  string                            `json:"caller_role"`
	Department  string                            `json:"department"`
	Permissions []string                          `json:"permissions"`
	TaskText    string                            `json:"task_text"`
	Entities    map[string]map[string]interface{} `json:"entities"`
}

// FromSecurityView builds rulebook input for a caller class.
func FromSecurityView(class string, view models.SecurityView) *Input {
	return &Input{
		CallerClass: class,
		CallerID:    view.CallerID,
		CallerRole:  view.CallerRole,
		Department:  view.Department,
		Permissions: view.Permissions,
		TaskText:    view.TaskText,
		Entities:    view.Entities,
	}
}

// Decision is the rulebook's answer plus audit context.
type Decision struct {
	Verdict Verdict `json:"verdict"`
	Reason  string  `json:"reason,omitempty"`
	// Explicit records whether a rule matched or the caller-class
	// default applied.
	Explicit bool   `json:"explicit"`
	Version  string `json:"version,omitempty"`
}

// Engine evaluates the policy rulebook. Implementations must be safe for
// concurrent use and must replace the compiled ruleset atomically on
// reload.
type Engine interface {
	Evaluate(ctx context.Context, input *Input) (*Decision, error)
	Reload() error
}

const decisionQuery = "data.hrdesk.task.decision"

// OPAEngine compiles .rego files from a directory into a single prepared
// query. Precedence is resolved inside the rulebook (explicit deny beats
// explicit allow beats needs_clarification); when no rule matches, the
// engine applies the caller-class default: employees are permissive,
// guests restrictive.
type OPAEngine struct {
	cfg    config.PolicyConfig
	logger *zap.Logger

	mu       sync.RWMutex
	compiled *rego.PreparedEvalQuery
	version  string

	cache *decisionCache
}

// NewOPAEngine loads and compiles the rulebook. With FailClosed set, a
// rulebook that cannot be loaded is a startup error; otherwise the engine
// runs on caller-class defaults alone.
func NewOPAEngine(cfg config.PolicyConfig, logger *zap.Logger) (*OPAEngine, error) {
	e := &OPAEngine{
		cfg:    cfg,
		logger: logger,
		cache:  newDecisionCache(cfg.CacheSize, cfg.CacheTTL),
	}
	if err := e.Reload(); err != nil {
		if cfg.FailClosed {
			return nil, fmt.Errorf("load rulebook in fail-closed mode: %w", err)
		}
		logger.Warn("Rulebook load failed, running on caller-class defaults", zap.Error(err))
	}
	return e, nil
}

// Reload recompiles every .rego file under the configured path and swaps
// the prepared query in one step. Concurrent evaluations keep using the
// previous ruleset until the swap.
func (e *OPAEngine) Reload() error {
	modules := make(map[string]string)
	err := filepath.Walk(e.cfg.Path, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !strings.HasSuffix(info.Name(), ".rego") {
			return nil
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read rulebook file %s: %w", path, err)
		}
		rel, _ := filepath.Rel(e.cfg.Path, path)
		modules[strings.TrimSuffix(rel, ".rego")] = string(content)
		return nil
	})
	if err != nil {
		metrics.PolicyReloads.WithLabelValues("error").Inc()
		return fmt.Errorf("walk rulebook directory: %w", err)
	}
	if len(modules) == 0 {
		metrics.PolicyReloads.WithLabelValues("empty").Inc()
		return fmt.Errorf("no rulebook files under %s", e.cfg.Path)
	}

	opts := []func(*rego.Rego){rego.Query(decisionQuery)}
	for name, content := range modules {
		opts = append(opts, rego.Module(name, content))
	}
	compiled, err := rego.New(opts...).PrepareForEval(context.Background())
	if err != nil {
		metrics.PolicyReloads.WithLabelValues("compile_error").Inc()
		return fmt.Errorf("compile rulebook: %w", err)
	}

	version := rulebookVersion(modules)

	e.mu.Lock()
	e.compiled = &compiled
	e.version = version
	e.mu.Unlock()
	e.cache.Purge()

	metrics.PolicyReloads.WithLabelValues("ok").Inc()
	e.logger.Info("Rulebook loaded",
		zap.Int("modules", len(modules)),
		zap.String("version", version),
	)
	return nil
}

// Evaluate classifies one task. Evaluation reads only the Input; it has
// no side effects on the rulebook.
func (e *OPAEngine) Evaluate(ctx context.Context, input *Input) (*Decision, error) {
	started := time.Now()
	defer func() {
		metrics.PolicyEvaluationDuration.Observe(time.Since(started).Seconds())
	}()

	if d, ok := e.cache.Get(input); ok {
		metrics.PolicyCacheHits.WithLabelValues("hit").Inc()
		return d, nil
	}
	metrics.PolicyCacheHits.WithLabelValues("miss").Inc()

	e.mu.RLock()
	compiled := e.compiled
	version := e.version
	e.mu.RUnlock()

	if compiled == nil {
		// No rulebook. Fail-closed denies everything; fail-open falls
		// back to the caller-class defaults.
		if e.cfg.FailClosed {
			return &Decision{Verdict: VerdictDeny, Reason: "rulebook unavailable"}, nil
		}
		return e.defaultDecision(input, "rulebook unavailable"), nil
	}

	inputMap, err := toMap(input)
	if err != nil {
		return nil, fmt.Errorf("encode rulebook input: %w", err)
	}

	results, err := compiled.Eval(ctx, rego.EvalInput(inputMap))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if e.cfg.FailClosed {
			e.logger.Error("Rulebook evaluation failed", zap.Error(err))
			return &Decision{Verdict: VerdictDeny, Reason: "rulebook evaluation error", Version: version}, nil
		}
		return nil, fmt.Errorf("evaluate rulebook: %w", err)
	}

	decision := e.parseResults(results, input, version)
	metrics.PolicyDecisions.WithLabelValues(input.CallerClass, string(decision.Verdict)).Inc()
	e.logger.Debug("Rulebook evaluated",
		zap.String("caller_class", input.CallerClass),
		zap.String("verdict", string(decision.Verdict)),
		zap.Bool("explicit", decision.Explicit),
		zap.String("reason", decision.Reason),
	)

	e.cache.Set(input, decision)
	return decision, nil
}

// defaultDecision applies the caller-class default: permissive for
// employees, restrictive for guests.
func (e *OPAEngine) defaultDecision(input *Input, reason string) *Decision {
	if input.CallerClass == models.CallerGuest {
		return &Decision{
			Verdict: VerdictDeny,
			Reason:  reason + "; guests are denied by default",
		}
	}
	return &Decision{
		Verdict: VerdictAllow,
		Reason:  reason + "; employees are allowed by default",
	}
}

func (e *OPAEngine) parseResults(results rego.ResultSet, input *Input, version string) *Decision {
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return e.defaultDecision(input, "no rule matched")
	}

	value := results[0].Expressions[0].Value
	valueMap, ok := value.(map[string]interface{})
	if !ok {
		return e.defaultDecision(input, "no rule matched")
	}

	decision := &Decision{Explicit: true, Version: version}
	if verdict, ok := valueMap["verdict"].(string); ok {
		switch Verdict(verdict) {
		case VerdictAllow, VerdictDeny, VerdictClarification:
			decision.Verdict = Verdict(verdict)
		default:
			// Unknown verdict from a rule is a rulebook bug: treat as
			// deny rather than guessing.
			decision.Verdict = VerdictDeny
			decision.Reason = fmt.Sprintf("rulebook returned unknown verdict %q", verdict)
			return decision
		}
	} else {
		return e.defaultDecision(input, "no rule matched")
	}
	if reason, ok := valueMap["reason"].(string); ok {
		decision.Reason = reason
	}
	return decision
}

func toMap(input *Input) (map[string]interface{}, error) {
	data, err := json.Marshal(input)
	if err != nil {
		return nil, err
	}
	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// rulebookVersion hashes the module set for deploy tracking.
func rulebookVersion(modules map[string]string) string {
	names := make([]string, 0, len(modules))
	for name := range modules {
		names = append(names, name)
	}
	sort.Strings(names)

	h := fnv.New64a()
	for _, name := range names {
		_, _ = h.Write([]byte(name))
		_, _ = h.Write([]byte(modules[name]))
	}
	return fmt.Sprintf("%x", h.Sum64())
}

// --- decision cache (LRU with TTL) ---

type decisionCache struct {
	cap  int
	ttl  time.Duration
	mu   sync.Mutex
	list *list.List
	m    map[string]*list.Element
}

type cacheEntry struct {
	key       string
	expiresAt time.Time
	decision  *Decision
}

func newDecisionCache(cap int, ttl time.Duration) *decisionCache {
	if cap <= 0 {
		cap = 1024
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &decisionCache{
		cap:  cap,
		ttl:  ttl,
		list: list.New(),
		m:    make(map[string]*list.Element),
	}
}

func (c *decisionCache) makeKey(input *Input) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(strings.ToLower(input.TaskText)))
	return fmt.Sprintf("%s|%s|%s|%s|%x",
		input.CallerClass, input.CallerID, input.CallerRole, input.Department, h.Sum64())
}

func (c *decisionCache) Get(input *Input) (*Decision, bool) {
	key := c.makeKey(input)
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.m[key]; ok {
		ce := el.Value.(cacheEntry)
		if ce.expiresAt.After(now) {
			c.list.MoveToFront(el)
			return ce.decision, true
		}
		c.list.Remove(el)
		delete(c.m, key)
	}
	return nil, false
}

func (c *decisionCache) Set(input *Input, d *Decision) {
	key := c.makeKey(input)
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.m[key]; ok {
		el.Value = cacheEntry{key: key, expiresAt: time.Now().Add(c.ttl), decision: d}
		c.list.MoveToFront(el)
		return
	}
	el := c.list.PushFront(cacheEntry{key: key, expiresAt: time.Now().Add(c.ttl), decision: d})
	c.m[key] = el
	if c.list.Len() > c.cap {
		lru := c.list.Back()
		if lru != nil {
			ce := lru.Value.(cacheEntry)
			delete(c.m, ce.key)
			c.list.Remove(lru)
		}
	}
}

// Purge drops every cached decision. Called after a rulebook reload so
// stale verdicts never outlive the ruleset that produced them.
func (c *decisionCache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.list.Init()
	c.m = make(map[string]*list.Element)
}
