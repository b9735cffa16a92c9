// Package resolver turns free-text mentions in a task into canonical
// entity identifiers before any reasoning happens. Deterministic
// matching goes first; a constrained model call over a bounded
// candidate list is the fallback, never the other way around.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/praxisworks/hrdesk/internal/config"
	"github.com/praxisworks/hrdesk/internal/llm"
	"github.com/praxisworks/hrdesk/internal/metrics"
	"github.com/praxisworks/hrdesk/internal/models"
	"github.com/praxisworks/hrdesk/internal/platform"
)

// ErrStuck means the fallback model failed too many times in a row and
// the task cannot be resolved reliably.
var ErrStuck = errors.New("entity resolution model failed repeatedly")

// ModelClient is the slice of the LLM client the resolver needs.
type ModelClient interface {
	Complete(ctx context.Context, req llm.Request, out interface{}) (*llm.Result, error)
}

// Directory is the slice of the platform client used for candidate
// lookup and record enrichment.
type Directory interface {
	SearchEmployees(ctx context.Context, q platform.SearchQuery) ([]platform.Employee, error)
	SearchProjects(ctx context.Context, q platform.SearchQuery) ([]platform.Project, error)
	SearchCustomers(ctx context.Context, q platform.SearchQuery) ([]platform.Customer, error)
	GetEmployee(ctx context.Context, id string) (*platform.Employee, error)
	GetProject(ctx context.Context, id string) (*platform.Project, error)
	GetCustomer(ctx context.Context, id string) (*platform.Customer, error)
}

// WikiLister exposes the wiki page listing for mention matching.
type WikiLister interface {
	Pages(sha string) ([]string, error)
}

// Result is the full product of resolution: the rewritten task text,
// resolved identifiers, and the two entity projections downstream
// stages read (the watchdog sees Security only, the solver Solver).
type Result struct {
	Rewritten  string
	Resolved   map[string]models.Entity
	Security   map[string]map[string]interface{}
	Solver     map[string]map[string]interface{}
	Unresolved []string
	Clarify    []string
	Usage      models.TokenUsage
}

// Resolver resolves mentions for one task at a time.
type Resolver struct {
	model    ModelClient
	dir      Directory
	wiki     WikiLister
	lookups  *Lookups
	cfg      config.ResolverConfig
	modelCfg config.ModelConfig
	logger   *zap.Logger

	// consecutive fallback-model failures; resets on any success
	modelFails int
}

func New(model ModelClient, dir Directory, wiki WikiLister, lookups *Lookups,
	cfg config.ResolverConfig, modelCfg config.ModelConfig, logger *zap.Logger) *Resolver {
	if cfg.FuzzyThreshold <= 0 {
		cfg.FuzzyThreshold = 60
	}
	if cfg.MaxCandidates <= 0 {
		cfg.MaxCandidates = 8
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 3
	}
	return &Resolver{
		model:    model,
		dir:      dir,
		wiki:     wiki,
		lookups:  lookups,
		cfg:      cfg,
		modelCfg: modelCfg,
		logger:   logger,
	}
}

type mention struct {
	Text string `json:"text"`
	Kind string `json:"kind"`
}

type candidate struct {
	kind  string
	id    string
	name  string
	score int
}

// Resolve extracts mentions from the task text and resolves each one.
// It returns ErrStuck when the fallback model fails MaxFailures times
// consecutively; everything else degrades per mention.
func (r *Resolver) Resolve(ctx context.Context, task models.Task, identity models.CallerIdentity) (*Result, error) {
	res := &Result{
		Rewritten: task.Text,
		Resolved:  make(map[string]models.Entity),
		Security:  make(map[string]map[string]interface{}),
		Solver:    make(map[string]map[string]interface{}),
	}
	r.modelFails = 0

	mentions, usage, err := r.extractMentions(ctx, task.Text)
	res.Usage.Add(usage)
	if err != nil {
		return res, err
	}

	for _, m := range mentions {
		if r.unreplaceable(m.Text) {
			continue
		}
		if r.selfReference(m.Text, identity) {
			r.bind(res, m.Text, models.Entity{Kind: models.LinkEmployee, ID: identity.EmployeeID})
			metrics.EntityResolutions.WithLabelValues("exact").Inc()
			continue
		}

		cands, err := r.candidates(ctx, m, identity)
		if err != nil {
			r.logger.Warn("candidate lookup failed, leaving mention unresolved",
				zap.String("mention", m.Text), zap.Error(err))
			res.Unresolved = append(res.Unresolved, m.Text)
			metrics.EntityResolutions.WithLabelValues("unresolved").Inc()
			continue
		}
		if len(cands) == 0 {
			res.Unresolved = append(res.Unresolved, m.Text)
			metrics.EntityResolutions.WithLabelValues("unresolved").Inc()
			continue
		}

		usage, err := r.decide(ctx, res, m, cands)
		res.Usage.Add(usage)
		if err != nil {
			return res, err
		}
	}

	r.rewrite(res)
	if err := r.enrich(ctx, res, identity); err != nil {
		r.logger.Warn("entity enrichment incomplete", zap.Error(err))
	}
	return res, nil
}

// decide picks an entity for a mention: deterministically when the
// scores allow it, otherwise through the constrained model fallback.
func (r *Resolver) decide(ctx context.Context, res *Result, m mention, cands []candidate) (models.TokenUsage, error) {
	var usage models.TokenUsage

	sort.Slice(cands, func(i, j int) bool { return cands[i].score > cands[j].score })
	if len(cands) > r.cfg.MaxCandidates {
		cands = cands[:r.cfg.MaxCandidates]
	}

	top := cands[0]
	if top.score >= r.cfg.FuzzyThreshold {
		// A clear winner resolves without the model; an exact score tie
		// between different entities does not.
		if len(cands) == 1 || cands[1].score < top.score || cands[1].id == top.id {
			r.bind(res, m.Text, models.Entity{Kind: top.kind, ID: top.id})
			method := "fuzzy"
			if top.score == 100 {
				method = "exact"
			}
			metrics.EntityResolutions.WithLabelValues(method).Inc()
			return usage, nil
		}
	}

	choice, u, err := r.modelChoice(ctx, m, cands)
	usage.Add(u)
	if err != nil {
		return usage, err
	}
	switch choice.Decision {
	case "match":
		for _, c := range cands {
			if c.id == choice.CandidateID {
				r.bind(res, m.Text, models.Entity{Kind: c.kind, ID: c.id})
				metrics.EntityResolutions.WithLabelValues("model").Inc()
				return usage, nil
			}
		}
		res.Unresolved = append(res.Unresolved, m.Text)
		metrics.EntityResolutions.WithLabelValues("unresolved").Inc()
	case "ambiguous":
		res.Clarify = append(res.Clarify, m.Text)
		metrics.EntityResolutions.WithLabelValues("ambiguous").Inc()
	default:
		res.Unresolved = append(res.Unresolved, m.Text)
		metrics.EntityResolutions.WithLabelValues("unresolved").Inc()
	}
	return usage, nil
}

func (r *Resolver) bind(res *Result, text string, ent models.Entity) {
	res.Resolved[text] = ent
}

// unreplaceable terms stay verbatim in the task text. The company's
// own name is not an entity to resolve.
func (r *Resolver) unreplaceable(text string) bool {
	n := normalize(text)
	return n != "" &&
		(n == normalize(r.cfg.CompanyName) || n == normalize(r.cfg.CompanyFullName))
}

var selfWords = map[string]bool{"me": true, "i": true, "my": true, "myself": true, "mine": true}

func (r *Resolver) selfReference(text string, identity models.CallerIdentity) bool {
	n := normalize(text)
	if selfWords[n] {
		return identity.EmployeeID != ""
	}
	return identity.EmployeeID != "" && identity.Name != "" && n == normalize(identity.Name)
}

// rewrite replaces each resolved mention in the task text with its
// {kind:id} tag so downstream prompts carry stable identifiers.
func (r *Resolver) rewrite(res *Result) {
	// Longer mentions first so "Anna Kowalski" wins over "Anna".
	texts := make([]string, 0, len(res.Resolved))
	for t := range res.Resolved {
		texts = append(texts, t)
	}
	sort.Slice(texts, func(i, j int) bool { return len(texts[i]) > len(texts[j]) })

	for _, t := range texts {
		ent := res.Resolved[t]
		re, err := regexp.Compile(`(?i)` + regexp.QuoteMeta(t))
		if err != nil {
			continue
		}
		res.Rewritten = re.ReplaceAllString(res.Rewritten, fmt.Sprintf("{%s:%s}", ent.Kind, ent.ID))
	}
}

// enrich builds the two entity projections. Security carries only the
// fields the rulebook may read; Solver carries the full records.
func (r *Resolver) enrich(ctx context.Context, res *Result, identity models.CallerIdentity) error {
	var firstErr error
	for text, ent := range res.Resolved {
		sec := map[string]interface{}{"kind": ent.Kind, "id": ent.ID}
		sol := map[string]interface{}{"kind": ent.Kind, "id": ent.ID}

		switch ent.Kind {
		case models.LinkEmployee:
			emp, err := r.dir.GetEmployee(ctx, ent.ID)
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				break
			}
			sec["name"] = emp.Name
			sec["department"] = emp.Department
			sec["manager_id"] = emp.ManagerID
			sol["name"] = emp.Name
			sol["department"] = emp.Department
			sol["manager_id"] = emp.ManagerID
			sol["role"] = emp.Role
			sol["location"] = emp.Location
			sol["email"] = emp.Email
			sol["skills"] = emp.Skills
			sol["projects"] = emp.Projects
		case models.LinkProject:
			p, err := r.dir.GetProject(ctx, ent.ID)
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				break
			}
			sec["name"] = p.Name
			sol["name"] = p.Name
			sol["customer"] = p.Customer
			sol["status"] = p.Status
		case models.LinkCustomer:
			c, err := r.dir.GetCustomer(ctx, ent.ID)
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				break
			}
			sec["name"] = c.Name
			sol["name"] = c.Name
			sol["location"] = c.Location
		default:
			sec["name"] = text
			sol["name"] = text
		}

		res.Security[text] = sec
		res.Solver[text] = sol
	}
	return firstErr
}

// candidates gathers scored candidates for a mention from the sources
// its kind hint allows. An unknown hint searches everything.
func (r *Resolver) candidates(ctx context.Context, m mention, identity models.CallerIdentity) ([]candidate, error) {
	var out []candidate
	add := func(kind, id, name string) {
		out = append(out, candidate{kind: kind, id: id, name: name, score: similarity(m.Text, name)})
	}
	wants := func(kind string) bool { return m.Kind == "" || m.Kind == "unknown" || m.Kind == kind }

	var firstErr error
	if wants("employee") {
		emps, err := r.dir.SearchEmployees(ctx, platform.SearchQuery{Text: m.Text, Limit: r.cfg.MaxCandidates * 2})
		if err != nil && !platform.NotFound(err) {
			firstErr = err
		}
		for _, e := range emps {
			add(models.LinkEmployee, e.ID, e.Name)
		}
	}
	if wants("project") {
		ps, err := r.dir.SearchProjects(ctx, platform.SearchQuery{Text: m.Text, Limit: r.cfg.MaxCandidates * 2})
		if err != nil && !platform.NotFound(err) && firstErr == nil {
			firstErr = err
		}
		for _, p := range ps {
			add(models.LinkProject, p.ID, p.Name)
		}
	}
	if wants("customer") {
		cs, err := r.dir.SearchCustomers(ctx, platform.SearchQuery{Text: m.Text, Limit: r.cfg.MaxCandidates * 2})
		if err != nil && !platform.NotFound(err) && firstErr == nil {
			firstErr = err
		}
		for _, c := range cs {
			add(models.LinkCustomer, c.ID, c.Name)
		}
	}
	if wants("wiki") && r.wiki != nil && identity.WikiSHA != "" {
		pages, err := r.wiki.Pages(identity.WikiSHA)
		if err == nil {
			for _, p := range pages {
				base := strings.TrimSuffix(p, ".md")
				add(models.LinkWiki, p, strings.ReplaceAll(base, "_", " "))
			}
		}
	}
	for _, pair := range []struct {
		hint, link string
	}{
		{"department", "department"},
		{"location", models.LinkLocation},
		{"skill", models.LinkSkill},
		{"will", models.LinkWill},
	} {
		if !wants(pair.hint) {
			continue
		}
		for _, it := range r.lookups.byKind(pair.hint) {
			add(pair.link, it.ID, it.Name)
		}
	}

	// Keep only candidates with some lexical signal; everything at
	// zero is noise from broad sources like lookups.
	kept := out[:0]
	for _, c := range out {
		if c.score > 0 {
			kept = append(kept, c)
		}
	}
	if len(kept) == 0 && firstErr != nil {
		return nil, firstErr
	}
	return kept, nil
}
