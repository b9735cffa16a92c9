package platform

// Employee is the directory record for an employee. Salary and Notes are
// sensitive fields; the security view must not carry them.
type Employee struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Email      string   `json:"email,omitempty"`
	Role       string   `json:"role,omitempty"`
	Salary     *float64 `json:"salary,omitempty"`
	Notes      string   `json:"notes,omitempty"`
	Location   string   `json:"location,omitempty"`
	Department string   `json:"department,omitempty"`
	ManagerID  string   `json:"manager_id,omitempty"`
	Skills     []string `json:"skills,omitempty"`
	Wills      []string `json:"wills,omitempty"`
	Projects   []string `json:"projects,omitempty"`
}

// TeamMember is one member of a project team.
type TeamMember struct {
	Employee string `json:"employee"`
	Role     string `json:"role"`
}

// Project is the directory record for a project.
type Project struct {
	ID       string       `json:"id"`
	Name     string       `json:"name"`
	Customer string       `json:"customer,omitempty"`
	Status   string       `json:"status,omitempty"`
	Team     []TeamMember `json:"team,omitempty"`
}

// Customer is the directory record for a customer company.
type Customer struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Location string `json:"location,omitempty"`
}

// TimeEntry is a logged unit of work.
type TimeEntry struct {
	ID           string  `json:"id"`
	Employee     string  `json:"employee"`
	Customer     string  `json:"customer,omitempty"`
	Project      string  `json:"project,omitempty"`
	Date         string  `json:"date"`
	Hours        float64 `json:"hours"`
	WorkCategory string  `json:"work_category,omitempty"`
	Notes        string  `json:"notes,omitempty"`
	Billable     bool    `json:"billable"`
	Status       string  `json:"status,omitempty"`
	LoggedBy     string  `json:"logged_by,omitempty"`
}

// SearchQuery is the common filter shape for directory searches. Zero
// values mean "no filter"; pagination is hidden from callers.
type SearchQuery struct {
	Text       string `json:"text,omitempty"`
	Department string `json:"department,omitempty"`
	Location   string `json:"location,omitempty"`
	Skill      string `json:"skill,omitempty"`
	Status     string `json:"status,omitempty"`
	Limit      int    `json:"limit,omitempty"`
}

// TimeQuery filters time entry searches and summaries.
type TimeQuery struct {
	DateFrom  string   `json:"date_from,omitempty"`
	DateTo    string   `json:"date_to,omitempty"`
	Employees []string `json:"employees,omitempty"`
	Customers []string `json:"customers,omitempty"`
	Projects  []string `json:"projects,omitempty"`
	Billable  string   `json:"billable,omitempty"` // "", "yes", "no"
}

// TimeSummaryRow is one aggregation bucket from a time summary.
type TimeSummaryRow struct {
	Key   string  `json:"key"` // employee or project id
	Hours float64 `json:"hours"`
}

// WorkloadRow reports planned allocation for one employee.
type WorkloadRow struct {
	Employee   string  `json:"employee"`
	Hours      float64 `json:"hours"`
	Capacity   float64 `json:"capacity"`
	Department string  `json:"department,omitempty"`
}
