package models

// APIResponse is the standard JSON envelope for all API responses.
type APIResponse struct {
	Data interface{} `json:"data"`
	Meta *Meta       `json:"meta,omitempty"`
}

// Meta contains pagination metadata.
type Meta struct {
	Total int `json:"total,omitempty"`
	Page  int `json:"page,omitempty"`
	Limit int `json:"limit,omitempty"`
}

type Project struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Status      string `json:"status"`
	CreatedBy   string `json:"created_by"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

// ProjectStats is the derived per-project summary returned by /projects/:id/stats.
type ProjectStats struct {
	ProjectID     string   `json:"project_id"`
	Repositories  int      `json:"repositories"`
	Suites        int      `json:"suites"`
	TestCases     int      `json:"test_cases"`
	ActiveCases   int      `json:"active_cases"`
	TestPlans     int      `json:"test_plans"`
	TestRuns      int      `json:"test_runs"`
	RunsInFlight  int      `json:"runs_in_flight"`
	LatestRunID   *string  `json:"latest_run_id"`
	LatestRunRate *float64 `json:"latest_run_pass_rate"`
}

type Repository struct {
	ID          string `json:"id"`
	ProjectID   string `json:"project_id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	CreatedBy   string `json:"created_by"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
	SuiteCount  int    `json:"suite_count,omitempty"`
	CaseCount   int    `json:"case_count,omitempty"`
}

type Suite struct {
	ID           string  `json:"id"`
	RepositoryID string  `json:"repository_id"`
	ParentID     *string `json:"parent_id"`
	Name         string  `json:"name"`
	Description  string  `json:"description"`
	Position     int     `json:"position"`
	CreatedAt    string  `json:"created_at"`
	CaseCount    int     `json:"case_count,omitempty"`
	Children     []Suite `json:"children,omitempty"`
}

// TestStep is one action/expectation pair inside a test case.
type TestStep struct {
	Action   string `json:"action"`
	Expected string `json:"expected"`
}

type TestCase struct {
	ID             string     `json:"id"`
	SuiteID        string     `json:"suite_id"`
	Title          string     `json:"title"`
	Description    string     `json:"description"`
	Preconditions  string     `json:"preconditions"`
	Steps          []TestStep `json:"steps"`
	ExpectedResult string     `json:"expected_result"`
	Priority       string     `json:"priority"`
	Severity       string     `json:"severity"`
	Type           string     `json:"type"`
	Status         string     `json:"status"`
	Tags           string     `json:"tags"`
	CreatedBy      string     `json:"created_by"`
	CreatedAt      string     `json:"created_at"`
	UpdatedAt      string     `json:"updated_at"`
}

type TestPlan struct {
	ID          string `json:"id"`
	ProjectID   string `json:"project_id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Status      string `json:"status"`
	CreatedBy   string `json:"created_by"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
	CaseCount   int    `json:"case_count"`
}

// PlanCase is a test case's membership row inside a plan.
type PlanCase struct {
	PlanID   string `json:"plan_id"`
	CaseID   string `json:"case_id"`
	Position int    `json:"position"`
	AddedBy  string `json:"added_by"`
	AddedAt  string `json:"added_at"`
	Title    string `json:"title"`
	Priority string `json:"priority"`
	SuiteID  string `json:"suite_id"`
}

type TestRun struct {
	ID          string    `json:"id"`
	ProjectID   string    `json:"project_id"`
	PlanID      string    `json:"plan_id"`
	Name        string    `json:"name"`
	Environment string    `json:"environment"`
	Status      string    `json:"status"`
	CreatedBy   string    `json:"created_by"`
	CreatedAt   string    `json:"created_at"`
	StartedAt   *string   `json:"started_at"`
	CompletedAt *string   `json:"completed_at"`
	Stats       *RunStats `json:"stats,omitempty"`
}

type TestRunResult struct {
	ID             int     `json:"id"`
	RunID          string  `json:"run_id"`
	CaseID         string  `json:"case_id"`
	Status         string  `json:"status"`
	Comment        string  `json:"comment"`
	ActualResult   string  `json:"actual_result"`
	ElapsedSeconds int     `json:"elapsed_seconds"`
	Version        int     `json:"version"`
	ExecutedBy     string  `json:"executed_by"`
	ExecutedAt     *string `json:"executed_at"`
}

// CaseWithResult merges a run's snapshot result row with the live case data,
// the view the run execution screen renders.
type CaseWithResult struct {
	ResultID       int     `json:"result_id"`
	RunID          string  `json:"run_id"`
	CaseID         string  `json:"case_id"`
	Title          string  `json:"title"`
	Priority       string  `json:"priority"`
	Severity       string  `json:"severity"`
	SuiteID        string  `json:"suite_id"`
	SuiteName      string  `json:"suite_name"`
	Status         string  `json:"status"`
	Comment        string  `json:"comment"`
	ActualResult   string  `json:"actual_result"`
	ElapsedSeconds int     `json:"elapsed_seconds"`
	Version        int     `json:"version"`
	ExecutedBy     string  `json:"executed_by"`
	ExecutedAt     *string `json:"executed_at"`
}

// RunStats is derived from test_run_results and never stored.
type RunStats struct {
	Total      int     `json:"total"`
	Untested   int     `json:"untested"`
	InProgress int     `json:"in_progress"`
	Passed     int     `json:"passed"`
	Failed     int     `json:"failed"`
	Blocked    int     `json:"blocked"`
	Skipped    int     `json:"skipped"`
	Retest     int     `json:"retest"`
	PassRate   float64 `json:"pass_rate"`
	Completion float64 `json:"completion"`
}

type Comment struct {
	ID        int    `json:"id"`
	Module    string `json:"module"`
	RecordID  string `json:"record_id"`
	Body      string `json:"body"`
	CreatedBy string `json:"created_by"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
	Edited    bool   `json:"edited"`
}

type Attachment struct {
	ID           int    `json:"id"`
	Module       string `json:"module"`
	RecordID     string `json:"record_id"`
	Filename     string `json:"filename"`
	OriginalName string `json:"original_name"`
	SizeBytes    int64  `json:"size_bytes"`
	MimeType     string `json:"mime_type"`
	UploadedBy   string `json:"uploaded_by"`
	CreatedAt    string `json:"created_at"`
}

type AuditEntry struct {
	ID          int    `json:"id"`
	UserID      int    `json:"user_id"`
	Username    string `json:"username"`
	Action      string `json:"action"`
	Module      string `json:"module"`
	RecordID    string `json:"record_id"`
	Summary     string `json:"summary"`
	BeforeValue string `json:"before_value,omitempty"`
	AfterValue  string `json:"after_value,omitempty"`
	IPAddress   string `json:"ip_address,omitempty"`
	UserAgent   string `json:"user_agent,omitempty"`
	CreatedAt   string `json:"created_at"`
}

type Notification struct {
	ID        int     `json:"id"`
	Type      string  `json:"type"`
	Severity  string  `json:"severity"`
	Title     string  `json:"title"`
	Message   *string `json:"message"`
	RecordID  *string `json:"record_id"`
	Module    *string `json:"module"`
	ReadAt    *string `json:"read_at"`
	CreatedAt string  `json:"created_at"`
}

type User struct {
	ID          int     `json:"id"`
	Username    string  `json:"username"`
	DisplayName string  `json:"display_name"`
	Role        string  `json:"role"`
	Active      bool    `json:"active"`
	LastLogin   *string `json:"last_login"`
	CreatedAt   string  `json:"created_at"`
}

type APIKey struct {
	ID        int     `json:"id"`
	Name      string  `json:"name"`
	Prefix    string  `json:"prefix"`
	Enabled   bool    `json:"enabled"`
	ExpiresAt *string `json:"expires_at"`
	LastUsed  *string `json:"last_used"`
	CreatedAt string  `json:"created_at"`
}
