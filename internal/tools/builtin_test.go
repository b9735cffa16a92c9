package tools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/praxisworks/hrdesk/internal/models"
	"github.com/praxisworks/hrdesk/internal/platform"
	"github.com/praxisworks/hrdesk/internal/wiki"
)

type stubDirectory struct {
	employees map[string]platform.Employee
}

func (d *stubDirectory) GetEmployee(ctx context.Context, id string) (*platform.Employee, error) {
	if emp, ok := d.employees[id]; ok {
		return &emp, nil
	}
	return nil, &platform.APIError{Status: 404, Message: "employee not found"}
}
func (d *stubDirectory) SearchEmployees(ctx context.Context, q platform.SearchQuery) ([]platform.Employee, error) {
	var out []platform.Employee
	for _, e := range d.employees {
		out = append(out, e)
	}
	return out, nil
}
func (d *stubDirectory) GetProject(ctx context.Context, id string) (*platform.Project, error) {
	return nil, &platform.APIError{Status: 404, Message: "project not found"}
}
func (d *stubDirectory) SearchProjects(ctx context.Context, q platform.SearchQuery) ([]platform.Project, error) {
	return nil, nil
}
func (d *stubDirectory) GetCustomer(ctx context.Context, id string) (*platform.Customer, error) {
	return nil, &platform.APIError{Status: 404, Message: "customer not found"}
}
func (d *stubDirectory) SearchCustomers(ctx context.Context, q platform.SearchQuery) ([]platform.Customer, error) {
	return nil, nil
}
func (d *stubDirectory) SearchTimeEntries(ctx context.Context, q platform.TimeQuery) ([]platform.TimeEntry, error) {
	return nil, nil
}
func (d *stubDirectory) TimeSummaryByEmployee(ctx context.Context, q platform.TimeQuery) ([]platform.TimeSummaryRow, error) {
	return nil, nil
}
func (d *stubDirectory) TimeSummaryByProject(ctx context.Context, q platform.TimeQuery) ([]platform.TimeSummaryRow, error) {
	return nil, nil
}
func (d *stubDirectory) EmployeeWorkload(ctx context.Context, q platform.TimeQuery) ([]platform.WorkloadRow, error) {
	return nil, nil
}
func (d *stubDirectory) AddTimeEntry(ctx context.Context, entry platform.TimeEntry) (*platform.TimeEntry, error) {
	entry.ID = "te_1"
	return &entry, nil
}
func (d *stubDirectory) UpdateTimeEntry(ctx context.Context, entry platform.TimeEntry) (*platform.TimeEntry, error) {
	return &entry, nil
}

type stubWiki struct{}

func (stubWiki) Search(sha, query string, topK int) ([]wiki.Result, error) { return nil, nil }
func (stubWiki) Pages(sha string) ([]string, error)                        { return nil, nil }
func (stubWiki) Page(sha, path string) (string, error)                     { return "", nil }

func builtinsRegistry(t *testing.T, dir Directory) *Registry {
	t.Helper()
	reg := NewRegistry(zaptest.NewLogger(t))
	require.NoError(t, RegisterBuiltins(reg, dir, stubWiki{}))
	return reg
}

func TestBuiltinsRegisterAndSeal(t *testing.T) {
	reg := builtinsRegistry(t, &stubDirectory{})
	assert.ErrorIs(t, reg.Register(echoTool("extra")), ErrSealed)

	names := reg.Names()
	assert.Contains(t, names, "employees_get")
	assert.Contains(t, names, "wiki_search")
	assert.Contains(t, names, ResponseTool)
}

func TestEmployeesGetBatch(t *testing.T) {
	salary := 70000.0
	dir := &stubDirectory{employees: map[string]platform.Employee{
		"emp_1": {ID: "emp_1", Name: "Alex", Department: "Engineering", Salary: &salary},
		"emp_2": {ID: "emp_2", Name: "Kim", Department: "Sales"},
	}}
	reg := builtinsRegistry(t, dir)

	res := reg.Dispatch(context.Background(), "employees_get",
		json.RawMessage(`{"employee_ids": ["emp_1", "emp_2", "emp_9"]}`))
	require.True(t, res.OK, "dispatch failed: %v", res.Err)

	var payload struct {
		Employees []map[string]interface{} `json:"employees"`
		Total     int                      `json:"total"`
		Missing   []string                 `json:"missing"`
	}
	require.NoError(t, json.Unmarshal(res.Payload, &payload))
	assert.Equal(t, 2, payload.Total)
	assert.Equal(t, []string{"emp_9"}, payload.Missing)
}

func TestEmployeesGetFieldSelection(t *testing.T) {
	salary := 70000.0
	dir := &stubDirectory{employees: map[string]platform.Employee{
		"emp_1": {ID: "emp_1", Name: "Alex", Department: "Engineering", Salary: &salary},
	}}
	reg := builtinsRegistry(t, dir)

	res := reg.Dispatch(context.Background(), "employees_get",
		json.RawMessage(`{"employee_ids": ["emp_1"], "include_fields": ["department"]}`))
	require.True(t, res.OK)

	var payload struct {
		Employees []map[string]interface{} `json:"employees"`
	}
	require.NoError(t, json.Unmarshal(res.Payload, &payload))
	require.Len(t, payload.Employees, 1)
	rec := payload.Employees[0]
	assert.Equal(t, "Alex", rec["name"])
	assert.Equal(t, "Engineering", rec["department"])
	assert.NotContains(t, rec, "salary")
}

func TestEmployeesGetAllMissingIsNotFound(t *testing.T) {
	reg := builtinsRegistry(t, &stubDirectory{})

	res := reg.Dispatch(context.Background(), "employees_get",
		json.RawMessage(`{"employee_ids": ["emp_9"]}`))
	require.NotNil(t, res.Err)
	assert.Equal(t, models.ToolErrorNotFound, res.Err.Kind)
}
