package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/praxisworks/hrdesk/internal/models"
	"github.com/praxisworks/hrdesk/internal/platform"
	"github.com/praxisworks/hrdesk/internal/wiki"
)

// Directory is the slice of the platform API the builtin tools use.
type Directory interface {
	GetEmployee(ctx context.Context, id string) (*platform.Employee, error)
	SearchEmployees(ctx context.Context, q platform.SearchQuery) ([]platform.Employee, error)
	GetProject(ctx context.Context, id string) (*platform.Project, error)
	SearchProjects(ctx context.Context, q platform.SearchQuery) ([]platform.Project, error)
	GetCustomer(ctx context.Context, id string) (*platform.Customer, error)
	SearchCustomers(ctx context.Context, q platform.SearchQuery) ([]platform.Customer, error)
	SearchTimeEntries(ctx context.Context, q platform.TimeQuery) ([]platform.TimeEntry, error)
	TimeSummaryByEmployee(ctx context.Context, q platform.TimeQuery) ([]platform.TimeSummaryRow, error)
	TimeSummaryByProject(ctx context.Context, q platform.TimeQuery) ([]platform.TimeSummaryRow, error)
	EmployeeWorkload(ctx context.Context, q platform.TimeQuery) ([]platform.WorkloadRow, error)
	AddTimeEntry(ctx context.Context, entry platform.TimeEntry) (*platform.TimeEntry, error)
	UpdateTimeEntry(ctx context.Context, entry platform.TimeEntry) (*platform.TimeEntry, error)
}

// WikiSearcher is the retrieval collaborator surface.
type WikiSearcher interface {
	Search(sha, query string, topK int) ([]wiki.Result, error)
	Pages(sha string) ([]string, error)
	Page(sha, path string) (string, error)
}

// RegisterBuiltins wires the full tool set over the directory and wiki
// collaborators, then seals the registry.
func RegisterBuiltins(r *Registry, dir Directory, wk WikiSearcher) error {
	all := []*Tool{
		employeesGet(dir),
		employeesSearch(dir),
		projectGet(dir),
		projectsSearch(dir),
		customerGet(dir),
		customersSearch(dir),
		timeSearch(dir),
		timeSummary(dir, "time_summary_by_employee", "Aggregate logged hours per employee.", dir.TimeSummaryByEmployee),
		timeSummary(dir, "time_summary_by_project", "Aggregate logged hours per project.", dir.TimeSummaryByProject),
		workload(dir),
		timeAdd(dir),
		timeUpdate(dir),
		wikiSearch(wk),
		wikiList(wk),
		wikiPage(wk),
		currentEmployee(dir),
		responseTool(),
	}
	for _, t := range all {
		if err := r.Register(t); err != nil {
			return err
		}
	}
	r.Seal()
	return nil
}

func objSchema(required []string, props map[string]interface{}) map[string]interface{} {
	schema := map[string]interface{}{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func prop(t, desc string) map[string]interface{} {
	return map[string]interface{}{"type": t, "description": desc}
}

func decode(args json.RawMessage, into interface{}) error {
	if len(args) == 0 {
		return nil
	}
	if err := json.Unmarshal(args, into); err != nil {
		return &models.ToolError{Kind: models.ToolErrorBadRequest, Message: fmt.Sprintf("decode arguments: %v", err)}
	}
	return nil
}

// --- employee tools ---

func employeesGet(dir Directory) *Tool {
	type argsT struct {
		EmployeeIDs   []string `json:"employee_ids"`
		IncludeFields []string `json:"include_fields,omitempty"`
		SortBy        string   `json:"sort_by,omitempty"`
	}
	return &Tool{
		Name:        "employees_get",
		Description: "Fetch one or more employees by ID with optional field selection. Use this instead of repeated single lookups.",
		InputSchema: objSchema([]string{"employee_ids"}, map[string]interface{}{
			"employee_ids":   prop("array", "Employee IDs to fetch"),
			"include_fields": prop("array", "Fields to include (id and name always included); omit for all"),
			"sort_by":        prop("string", "Sort key: name, email, salary, location, department"),
		}),
		OutputSchema: objSchema(nil, map[string]interface{}{
			"employees": prop("array", "Employee records"),
			"total":     prop("integer", "Number of records returned"),
		}),
		Handler: func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
			var args argsT
			if err := decode(raw, &args); err != nil {
				return nil, err
			}
			if len(args.EmployeeIDs) == 0 {
				return nil, &models.ToolError{Kind: models.ToolErrorBadRequest, Message: "employee_ids must not be empty"}
			}
			var found []map[string]interface{}
			var missing []string
			for _, id := range args.EmployeeIDs {
				emp, err := dir.GetEmployee(ctx, id)
				if err != nil {
					if platform.NotFound(err) {
						missing = append(missing, id)
						continue
					}
					return nil, err
				}
				found = append(found, selectFields(emp, args.IncludeFields))
			}
			if len(found) == 0 {
				return nil, &models.ToolError{
					Kind:    models.ToolErrorNotFound,
					Message: "no matching employees",
					Params:  map[string]interface{}{"employee_ids": args.EmployeeIDs},
				}
			}
			if args.SortBy != "" {
				sortRecords(found, args.SortBy)
			}
			return map[string]interface{}{"employees": found, "total": len(found), "missing": missing}, nil
		},
	}
}

func selectFields(emp *platform.Employee, include []string) map[string]interface{} {
	full := map[string]interface{}{
		"id":   emp.ID,
		"name": emp.Name,
	}
	all := map[string]interface{}{
		"email":      emp.Email,
		"role":       emp.Role,
		"notes":      emp.Notes,
		"location":   emp.Location,
		"department": emp.Department,
		"manager_id": emp.ManagerID,
		"skills":     emp.Skills,
		"wills":      emp.Wills,
		"projects":   emp.Projects,
	}
	if emp.Salary != nil {
		all["salary"] = *emp.Salary
	}
	if len(include) == 0 {
		for k, v := range all {
			full[k] = v
		}
		return full
	}
	for _, f := range include {
		if v, ok := all[f]; ok {
			full[f] = v
		}
	}
	return full
}

func sortRecords(records []map[string]interface{}, key string) {
	sort.SliceStable(records, func(i, j int) bool {
		a := fmt.Sprintf("%v", records[i][key])
		b := fmt.Sprintf("%v", records[j][key])
		return strings.ToLower(a) < strings.ToLower(b)
	})
}

func employeesSearch(dir Directory) *Tool {
	return &Tool{
		Name:        "employees_search",
		Description: "Search employees by free text, department, location or skill.",
		InputSchema: objSchema(nil, map[string]interface{}{
			"text":       prop("string", "Free-text name/email match"),
			"department": prop("string", "Exact department name"),
			"location":   prop("string", "Exact location name"),
			"skill":      prop("string", "Skill ID"),
			"limit":      prop("integer", "Max results"),
		}),
		Handler: func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
			var q platform.SearchQuery
			if err := decode(raw, &q); err != nil {
				return nil, err
			}
			emps, err := dir.SearchEmployees(ctx, q)
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"employees": emps, "total": len(emps)}, nil
		},
	}
}

// --- project/customer tools ---

func projectGet(dir Directory) *Tool {
	return &Tool{
		Name:        "project_get",
		Description: "Fetch a project by ID, including its team and status.",
		InputSchema: objSchema([]string{"project_id"}, map[string]interface{}{
			"project_id": prop("string", "Project ID"),
		}),
		Handler: func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
			var args struct {
				ProjectID string `json:"project_id"`
			}
			if err := decode(raw, &args); err != nil {
				return nil, err
			}
			return dir.GetProject(ctx, args.ProjectID)
		},
	}
}

func projectsSearch(dir Directory) *Tool {
	return &Tool{
		Name:        "projects_search",
		Description: "Search projects by free text or status.",
		InputSchema: objSchema(nil, map[string]interface{}{
			"text":   prop("string", "Free-text name match"),
			"status": prop("string", "Project status filter"),
			"limit":  prop("integer", "Max results"),
		}),
		Handler: func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
			var q platform.SearchQuery
			if err := decode(raw, &q); err != nil {
				return nil, err
			}
			projects, err := dir.SearchProjects(ctx, q)
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"projects": projects, "total": len(projects)}, nil
		},
	}
}

func customerGet(dir Directory) *Tool {
	return &Tool{
		Name:        "customer_get",
		Description: "Fetch a customer company by ID.",
		InputSchema: objSchema([]string{"customer_id"}, map[string]interface{}{
			"customer_id": prop("string", "Customer company ID"),
		}),
		Handler: func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
			var args struct {
				CustomerID string `json:"customer_id"`
			}
			if err := decode(raw, &args); err != nil {
				return nil, err
			}
			return dir.GetCustomer(ctx, args.CustomerID)
		},
	}
}

func customersSearch(dir Directory) *Tool {
	return &Tool{
		Name:        "customers_search",
		Description: "Search customer companies by free text or location.",
		InputSchema: objSchema(nil, map[string]interface{}{
			"text":     prop("string", "Free-text name match"),
			"location": prop("string", "Location filter"),
			"limit":    prop("integer", "Max results"),
		}),
		Handler: func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
			var q platform.SearchQuery
			if err := decode(raw, &q); err != nil {
				return nil, err
			}
			customers, err := dir.SearchCustomers(ctx, q)
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"customers": customers, "total": len(customers)}, nil
		},
	}
}

// --- time tracking tools ---

var timeQueryProps = map[string]interface{}{
	"date_from": prop("string", "Inclusive ISO date"),
	"date_to":   prop("string", "Inclusive ISO date"),
	"employees": prop("array", "Employee ID filter"),
	"customers": prop("array", "Customer ID filter"),
	"projects":  prop("array", "Project ID filter"),
	"billable":  prop("string", "Billable filter: yes or no"),
}

func timeSearch(dir Directory) *Tool {
	return &Tool{
		Name:        "time_entries_search",
		Description: "Search logged time entries by date range, employee, customer or project.",
		InputSchema: objSchema(nil, timeQueryProps),
		Handler: func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
			var q platform.TimeQuery
			if err := decode(raw, &q); err != nil {
				return nil, err
			}
			entries, err := dir.SearchTimeEntries(ctx, q)
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"entries": entries, "total": len(entries)}, nil
		},
	}
}

func timeSummary(dir Directory, name, desc string, fn func(context.Context, platform.TimeQuery) ([]platform.TimeSummaryRow, error)) *Tool {
	return &Tool{
		Name:        name,
		Description: desc,
		InputSchema: objSchema(nil, timeQueryProps),
		Handler: func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
			var q platform.TimeQuery
			if err := decode(raw, &q); err != nil {
				return nil, err
			}
			rows, err := fn(ctx, q)
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"rows": rows}, nil
		},
	}
}

func workload(dir Directory) *Tool {
	return &Tool{
		Name:        "employees_workload",
		Description: "Planned workload and capacity per employee for a date range.",
		InputSchema: objSchema(nil, timeQueryProps),
		Handler: func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
			var q platform.TimeQuery
			if err := decode(raw, &q); err != nil {
				return nil, err
			}
			rows, err := dir.EmployeeWorkload(ctx, q)
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"rows": rows}, nil
		},
	}
}

var timeEntryProps = map[string]interface{}{
	"id":            prop("string", "Entry ID (update only)"),
	"employee":      prop("string", "Employee ID"),
	"customer":      prop("string", "Customer ID"),
	"project":       prop("string", "Project ID"),
	"date":          prop("string", "ISO date"),
	"hours":         prop("number", "Hours worked"),
	"work_category": prop("string", "Work category"),
	"notes":         prop("string", "Free-form notes"),
	"billable":      prop("boolean", "Billable flag"),
	"status":        prop("string", "Entry status"),
	"logged_by":     prop("string", "Employee ID logging the entry"),
}

func timeAdd(dir Directory) *Tool {
	return &Tool{
		Name:        "time_entry_add",
		Description: "Log a new time entry. This is a mutating action.",
		Mutating:    true,
		InputSchema: objSchema([]string{"employee", "date", "hours"}, timeEntryProps),
		Handler: func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
			var entry platform.TimeEntry
			if err := decode(raw, &entry); err != nil {
				return nil, err
			}
			return dir.AddTimeEntry(ctx, entry)
		},
	}
}

func timeUpdate(dir Directory) *Tool {
	return &Tool{
		Name:        "time_entry_update",
		Description: "Update an existing time entry by ID. This is a mutating action.",
		Mutating:    true,
		InputSchema: objSchema([]string{"id"}, timeEntryProps),
		Handler: func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
			var entry platform.TimeEntry
			if err := decode(raw, &entry); err != nil {
				return nil, err
			}
			return dir.UpdateTimeEntry(ctx, entry)
		},
	}
}

// --- wiki tools ---

func wikiSearch(wk WikiSearcher) *Tool {
	return &Tool{
		Name:        "wiki_search",
		Description: "Search the company wiki; returns ranked snippets with page paths.",
		InputSchema: objSchema([]string{"query"}, map[string]interface{}{
			"query": prop("string", "Free-text search query"),
			"top_k": prop("integer", "Max results, default 5"),
		}),
		Handler: func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
			var args struct {
				Query string `json:"query"`
				TopK  int    `json:"top_k"`
			}
			if err := decode(raw, &args); err != nil {
				return nil, err
			}
			env := EnvFrom(ctx)
			results, err := wk.Search(env.Identity.WikiSHA, args.Query, args.TopK)
			if err != nil {
				return nil, &models.ToolError{Kind: models.ToolErrorNotFound, Message: err.Error()}
			}
			return map[string]interface{}{"results": results}, nil
		},
	}
}

func wikiList(wk WikiSearcher) *Tool {
	return &Tool{
		Name:        "wiki_list_pages",
		Description: "List all wiki page paths.",
		InputSchema: objSchema(nil, map[string]interface{}{}),
		Handler: func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
			env := EnvFrom(ctx)
			pages, err := wk.Pages(env.Identity.WikiSHA)
			if err != nil {
				return nil, &models.ToolError{Kind: models.ToolErrorNotFound, Message: err.Error()}
			}
			return map[string]interface{}{"pages": pages}, nil
		},
	}
}

func wikiPage(wk WikiSearcher) *Tool {
	return &Tool{
		Name:        "wiki_get_page",
		Description: "Fetch the full text of one wiki page by path.",
		InputSchema: objSchema([]string{"path"}, map[string]interface{}{
			"path": prop("string", "Page path from wiki_list_pages or wiki_search"),
		}),
		Handler: func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
			var args struct {
				Path string `json:"path"`
			}
			if err := decode(raw, &args); err != nil {
				return nil, err
			}
			env := EnvFrom(ctx)
			text, err := wk.Page(env.Identity.WikiSHA, args.Path)
			if err != nil {
				return nil, &models.ToolError{
					Kind:    models.ToolErrorNotFound,
					Message: err.Error(),
					Params:  map[string]interface{}{"path": args.Path},
				}
			}
			return map[string]interface{}{"path": args.Path, "content": text}, nil
		},
	}
}

// --- caller tool ---

func currentEmployee(dir Directory) *Tool {
	return &Tool{
		Name:        "current_employee",
		Description: "Fetch the requester's own employee record.",
		InputSchema: objSchema(nil, map[string]interface{}{}),
		Handler: func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
			env := EnvFrom(ctx)
			if env.Identity.EmployeeID == "" {
				return nil, &models.ToolError{Kind: models.ToolErrorNotFound, Message: "caller has no employee record"}
			}
			return dir.GetEmployee(ctx, env.Identity.EmployeeID)
		},
	}
}

// responseTool registers the terminal pseudo-tool so the decision schema
// stays closed. The executor intercepts it; Dispatch rejects it.
func responseTool() *Tool {
	return &Tool{
		Name:        ResponseTool,
		Description: "Submit the final answer. Sets the task outcome, message and proof links; no further steps run.",
		InputSchema: objSchema([]string{"outcome", "message"}, map[string]interface{}{
			"outcome": prop("string", "One of: ok_answer, ok_not_found, none_clarification_needed, none_unsupported"),
			"message": prop("string", "Exact answer in the requested format, nothing extra"),
			"links":   prop("array", "Proof links: {type, id} pairs"),
		}),
	}
}
