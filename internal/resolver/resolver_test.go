package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/praxisworks/hrdesk/internal/config"
	"github.com/praxisworks/hrdesk/internal/llm"
	"github.com/praxisworks/hrdesk/internal/models"
	"github.com/praxisworks/hrdesk/internal/platform"
)

// fakeDirectory serves a fixed employee set; other kinds are empty.
type fakeDirectory struct {
	employees []platform.Employee
}

func (d *fakeDirectory) SearchEmployees(ctx context.Context, q platform.SearchQuery) ([]platform.Employee, error) {
	return d.employees, nil
}
func (d *fakeDirectory) SearchProjects(ctx context.Context, q platform.SearchQuery) ([]platform.Project, error) {
	return nil, nil
}
func (d *fakeDirectory) SearchCustomers(ctx context.Context, q platform.SearchQuery) ([]platform.Customer, error) {
	return nil, nil
}
func (d *fakeDirectory) GetEmployee(ctx context.Context, id string) (*platform.Employee, error) {
	for i := range d.employees {
		if d.employees[i].ID == id {
			return &d.employees[i], nil
		}
	}
	return nil, &platform.APIError{Status: 404, Message: "not found"}
}
func (d *fakeDirectory) GetProject(ctx context.Context, id string) (*platform.Project, error) {
	return nil, &platform.APIError{Status: 404, Message: "not found"}
}
func (d *fakeDirectory) GetCustomer(ctx context.Context, id string) (*platform.Customer, error) {
	return nil, &platform.APIError{Status: 404, Message: "not found"}
}

// fakeModel answers mention extraction from a canned list and candidate
// choices from a canned decision, counting choice calls.
type fakeModel struct {
	mentions    []mention
	choice      choice
	choiceCalls int
	failAll     bool
}

func (m *fakeModel) Complete(ctx context.Context, req llm.Request, out interface{}) (*llm.Result, error) {
	if m.failAll {
		return &llm.Result{}, errors.New("model down")
	}
	var payload interface{}
	switch req.SchemaName {
	case "entity_mentions":
		payload = map[string]interface{}{"mentions": m.mentions}
	case "candidate_choice":
		m.choiceCalls++
		payload = m.choice
	default:
		return nil, errors.New("unexpected schema " + req.SchemaName)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &llm.Result{Raw: raw}, json.Unmarshal(raw, out)
}

func newTestResolver(t *testing.T, model ModelClient, dir Directory) *Resolver {
	t.Helper()
	return New(model, dir, nil, &Lookups{},
		config.ResolverConfig{
			FuzzyThreshold:  60,
			MaxCandidates:   8,
			MaxFailures:     3,
			CompanyName:     "Praxis",
			CompanyFullName: "Praxis Works GmbH",
		},
		config.ModelConfig{ResolverModel: "test-model"},
		zaptest.NewLogger(t))
}

func caller() models.CallerIdentity {
	return models.CallerIdentity{EmployeeID: "emp_1", Name: "Alex Schmidt"}
}

func TestSingleCandidateResolvesWithoutModel(t *testing.T) {
	model := &fakeModel{mentions: []mention{{Text: "Anna Kowalski", Kind: "employee"}}}
	dir := &fakeDirectory{employees: []platform.Employee{
		{ID: "emp_7", Name: "Anna Kowalski", Department: "Engineering"},
	}}
	r := newTestResolver(t, model, dir)

	res, err := r.Resolve(context.Background(), models.Task{Text: "What projects is Anna Kowalski on?"}, caller())
	require.NoError(t, err)
	assert.Equal(t, models.Entity{Kind: models.LinkEmployee, ID: "emp_7"}, res.Resolved["Anna Kowalski"])
	assert.Equal(t, 0, model.choiceCalls)
	assert.Equal(t, "What projects is {employee:emp_7} on?", res.Rewritten)
}

func TestFuzzyMatchAboveThreshold(t *testing.T) {
	model := &fakeModel{mentions: []mention{{Text: "Ana Kowalsky", Kind: "employee"}}}
	dir := &fakeDirectory{employees: []platform.Employee{
		{ID: "emp_7", Name: "Anna Kowalski"},
	}}
	r := newTestResolver(t, model, dir)

	res, err := r.Resolve(context.Background(), models.Task{Text: "contact Ana Kowalsky"}, caller())
	require.NoError(t, err)
	assert.Equal(t, "emp_7", res.Resolved["Ana Kowalsky"].ID)
	assert.Equal(t, 0, model.choiceCalls)
}

func TestScoreTieGoesToModel(t *testing.T) {
	model := &fakeModel{
		mentions: []mention{{Text: "Anna", Kind: "employee"}},
		choice:   choice{Decision: "match", CandidateID: "emp_8"},
	}
	dir := &fakeDirectory{employees: []platform.Employee{
		{ID: "emp_7", Name: "Anna Kowalski"},
		{ID: "emp_8", Name: "Anna Lindqvist"},
	}}
	r := newTestResolver(t, model, dir)

	res, err := r.Resolve(context.Background(), models.Task{Text: "email Anna please"}, caller())
	require.NoError(t, err)
	assert.Equal(t, 1, model.choiceCalls)
	assert.Equal(t, "emp_8", res.Resolved["Anna"].ID)
}

func TestAmbiguousChoiceRequestsClarification(t *testing.T) {
	model := &fakeModel{
		mentions: []mention{{Text: "Anna", Kind: "employee"}},
		choice:   choice{Decision: "ambiguous"},
	}
	dir := &fakeDirectory{employees: []platform.Employee{
		{ID: "emp_7", Name: "Anna Kowalski"},
		{ID: "emp_8", Name: "Anna Lindqvist"},
	}}
	r := newTestResolver(t, model, dir)

	res, err := r.Resolve(context.Background(), models.Task{Text: "email Anna please"}, caller())
	require.NoError(t, err)
	assert.Equal(t, []string{"Anna"}, res.Clarify)
	assert.Empty(t, res.Resolved)
}

func TestDepartmentMentionResolvesFromLookups(t *testing.T) {
	model := &fakeModel{mentions: []mention{{Text: "Engineering", Kind: "department"}}}
	lookups := &Lookups{Departments: []Item{
		{ID: "dep_3", Name: "Engineering"},
		{ID: "dep_4", Name: "Sales"},
	}}
	r := New(model, &fakeDirectory{}, nil, lookups,
		config.ResolverConfig{
			FuzzyThreshold:  60,
			MaxCandidates:   8,
			MaxFailures:     3,
			CompanyName:     "Praxis",
			CompanyFullName: "Praxis Works GmbH",
		},
		config.ModelConfig{ResolverModel: "test-model"},
		zaptest.NewLogger(t))

	res, err := r.Resolve(context.Background(), models.Task{Text: "who works in Engineering?"}, caller())
	require.NoError(t, err)
	assert.Equal(t, "dep_3", res.Resolved["Engineering"].ID)
	assert.Equal(t, "department", res.Resolved["Engineering"].Kind)
	assert.Equal(t, 0, model.choiceCalls)
}

func TestSelfReferenceResolvesToCaller(t *testing.T) {
	model := &fakeModel{mentions: []mention{{Text: "my", Kind: "employee"}}}
	r := newTestResolver(t, model, &fakeDirectory{})

	res, err := r.Resolve(context.Background(), models.Task{Text: "show my time entries"}, caller())
	require.NoError(t, err)
	assert.Equal(t, "emp_1", res.Resolved["my"].ID)
	assert.Equal(t, 0, model.choiceCalls)
}

func TestCompanyNameStaysVerbatim(t *testing.T) {
	model := &fakeModel{mentions: []mention{{Text: "Praxis", Kind: "customer"}}}
	r := newTestResolver(t, model, &fakeDirectory{})

	res, err := r.Resolve(context.Background(), models.Task{Text: "how long has Praxis existed?"}, caller())
	require.NoError(t, err)
	assert.Empty(t, res.Resolved)
	assert.Empty(t, res.Unresolved)
	assert.Equal(t, "how long has Praxis existed?", res.Rewritten)
}

func TestNoCandidatesLeavesMentionUnresolved(t *testing.T) {
	model := &fakeModel{mentions: []mention{{Text: "Zzyzx", Kind: "employee"}}}
	r := newTestResolver(t, model, &fakeDirectory{})

	res, err := r.Resolve(context.Background(), models.Task{Text: "who is Zzyzx?"}, caller())
	require.NoError(t, err)
	assert.Equal(t, []string{"Zzyzx"}, res.Unresolved)
}

func TestRepeatedModelFailureIsStuck(t *testing.T) {
	model := &fakeModel{failAll: true}
	r := newTestResolver(t, model, &fakeDirectory{})

	_, err := r.Resolve(context.Background(), models.Task{Text: "anything"}, caller())
	require.ErrorIs(t, err, ErrStuck)
}

func TestEnrichmentSplitsSecurityAndSolverFields(t *testing.T) {
	model := &fakeModel{mentions: []mention{{Text: "Anna Kowalski", Kind: "employee"}}}
	salary := 90000.0
	dir := &fakeDirectory{employees: []platform.Employee{
		{ID: "emp_7", Name: "Anna Kowalski", Department: "Engineering",
			ManagerID: "emp_2", Role: "Engineer", Salary: &salary},
	}}
	r := newTestResolver(t, model, dir)

	res, err := r.Resolve(context.Background(), models.Task{Text: "about Anna Kowalski"}, caller())
	require.NoError(t, err)

	sec := res.Security["Anna Kowalski"]
	require.NotNil(t, sec)
	assert.Equal(t, "Engineering", sec["department"])
	assert.Equal(t, "emp_2", sec["manager_id"])
	// Sensitive and enrichment-only fields never reach the security view.
	assert.NotContains(t, sec, "salary")
	assert.NotContains(t, sec, "role")

	sol := res.Solver["Anna Kowalski"]
	require.NotNil(t, sol)
	assert.Equal(t, "Engineer", sol["role"])
}
