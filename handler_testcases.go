package main

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"qahub/internal/audit"
	"qahub/internal/models"
	"qahub/internal/response"
	"qahub/internal/validation"
)

type TestCaseRequest struct {
	SuiteID        string            `json:"suite_id"`
	Title          string            `json:"title"`
	Description    string            `json:"description"`
	Preconditions  string            `json:"preconditions"`
	Steps          []models.TestStep `json:"steps"`
	ExpectedResult string            `json:"expected_result"`
	Priority       string            `json:"priority"`
	Severity       string            `json:"severity"`
	Type           string            `json:"type"`
	Status         string            `json:"status"`
	Tags           string            `json:"tags"`
}

func validateTestCaseRequest(req *TestCaseRequest, requireSuite bool) *validation.ValidationErrors {
	ve := &validation.ValidationErrors{}
	if requireSuite {
		validation.RequireField(ve, "suite_id", req.SuiteID)
	}
	validation.RequireField(ve, "title", req.Title)
	validation.ValidateMaxLength(ve, "title", req.Title, 500)
	validation.ValidateEnum(ve, "priority", req.Priority, validation.ValidCasePriorities)
	validation.ValidateEnum(ve, "severity", req.Severity, validation.ValidCaseSeverities)
	validation.ValidateEnum(ve, "type", req.Type, validation.ValidCaseTypes)
	validation.ValidateEnum(ve, "status", req.Status, validation.ValidCaseStatuses)
	return ve
}

func scanTestCase(scan func(dest ...interface{}) error) (models.TestCase, error) {
	var tc models.TestCase
	var stepsJSON string
	err := scan(&tc.ID, &tc.SuiteID, &tc.Title, &tc.Description, &tc.Preconditions, &stepsJSON,
		&tc.ExpectedResult, &tc.Priority, &tc.Severity, &tc.Type, &tc.Status, &tc.Tags,
		&tc.CreatedBy, &tc.CreatedAt, &tc.UpdatedAt)
	if err != nil {
		return tc, err
	}
	tc.Steps = []models.TestStep{}
	json.Unmarshal([]byte(stepsJSON), &tc.Steps)
	return tc, nil
}

const testCaseCols = "id, suite_id, title, description, preconditions, steps, expected_result, priority, severity, type, status, tags, created_by, created_at, updated_at"

func handleListTestCases(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	where := []string{"1=1"}
	args := []interface{}{}

	if suiteID := q.Get("suite_id"); suiteID != "" {
		where = append(where, "tc.suite_id = ?")
		args = append(args, suiteID)
	}
	if repoID := q.Get("repository_id"); repoID != "" {
		where = append(where, "tc.suite_id IN (SELECT id FROM suites WHERE repository_id = ?)")
		args = append(args, repoID)
	}
	for _, f := range []string{"priority", "severity", "type", "status"} {
		if v := q.Get(f); v != "" {
			where = append(where, "tc."+f+" = ?")
			args = append(args, v)
		}
	}
	if search := q.Get("search"); search != "" {
		where = append(where, "(tc.title LIKE ? OR tc.description LIKE ? OR tc.tags LIKE ?)")
		term := "%" + search + "%"
		args = append(args, term, term, term)
	}

	whereSQL := strings.Join(where, " AND ")

	var total int
	if err := db.QueryRow("SELECT COUNT(*) FROM test_cases tc WHERE "+whereSQL, args...).Scan(&total); err != nil {
		response.Err(w, err.Error(), 500)
		return
	}

	orderBy := "tc.created_at DESC"
	switch q.Get("sort") {
	case "title":
		orderBy = "tc.title"
	case "priority":
		orderBy = "CASE tc.priority WHEN 'critical' THEN 0 WHEN 'high' THEN 1 WHEN 'medium' THEN 2 ELSE 3 END"
	case "created_at":
		orderBy = "tc.created_at DESC"
	}
	if q.Get("order") == "desc" && q.Get("sort") == "title" {
		orderBy = "tc.title DESC"
	}

	page, _ := strconv.Atoi(q.Get("page"))
	if page < 1 {
		page = 1
	}
	limit, _ := strconv.Atoi(q.Get("limit"))
	if limit < 1 || limit > 200 {
		limit = 50
	}
	offset := (page - 1) * limit

	query := `SELECT tc.id, tc.suite_id, tc.title, tc.description, tc.preconditions, tc.steps,
		tc.expected_result, tc.priority, tc.severity, tc.type, tc.status, tc.tags,
		tc.created_by, tc.created_at, tc.updated_at
		FROM test_cases tc WHERE ` + whereSQL + " ORDER BY " + orderBy + " LIMIT ? OFFSET ?"
	rows, err := db.Query(query, append(args, limit, offset)...)
	if err != nil {
		response.Err(w, err.Error(), 500)
		return
	}
	defer rows.Close()

	cases := []models.TestCase{}
	for rows.Next() {
		tc, err := scanTestCase(rows.Scan)
		if err != nil {
			continue
		}
		cases = append(cases, tc)
	}
	response.JSONMeta(w, cases, total, page, limit)
}

func handleCreateTestCase(w http.ResponseWriter, r *http.Request) {
	var req TestCaseRequest
	if err := response.DecodeBody(r, &req); err != nil {
		response.Err(w, "Invalid request body", 400)
		return
	}
	if ve := validateTestCaseRequest(&req, true); ve.HasErrors() {
		response.Err(w, ve.Error(), 400)
		return
	}
	if _, err := getSuite(req.SuiteID); err != nil {
		response.Err(w, "Suite not found", 404)
		return
	}

	if req.Priority == "" {
		req.Priority = "medium"
	}
	if req.Severity == "" {
		req.Severity = "minor"
	}
	if req.Type == "" {
		req.Type = "functional"
	}
	if req.Status == "" {
		req.Status = "draft"
	}
	if req.Steps == nil {
		req.Steps = []models.TestStep{}
	}
	stepsJSON, _ := json.Marshal(req.Steps)

	id := nextID("TC", "test_cases", 4)
	username := audit.GetUsername(db, r)
	_, err := db.Exec(`INSERT INTO test_cases (id, suite_id, title, description, preconditions, steps,
		expected_result, priority, severity, type, status, tags, created_by)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, req.SuiteID, req.Title, req.Description, req.Preconditions, string(stepsJSON),
		req.ExpectedResult, req.Priority, req.Severity, req.Type, req.Status, req.Tags, username)
	if err != nil {
		response.Err(w, err.Error(), 500)
		return
	}

	audit.LogAudit(db, hub, username, audit.ActionCreate, "test_case", id, "Created test case "+req.Title)
	w.WriteHeader(201)
	response.JSON(w, map[string]string{"id": id})
}

func getTestCase(id string) (*models.TestCase, error) {
	row := db.QueryRow("SELECT "+testCaseCols+" FROM test_cases WHERE id = ?", id)
	tc, err := scanTestCase(row.Scan)
	if err != nil {
		return nil, err
	}
	return &tc, nil
}

func handleGetTestCase(w http.ResponseWriter, r *http.Request, id string) {
	tc, err := getTestCase(id)
	if err != nil {
		response.Err(w, "Test case not found", 404)
		return
	}
	response.JSON(w, tc)
}

func handleUpdateTestCase(w http.ResponseWriter, r *http.Request, id string) {
	before, err := getTestCase(id)
	if err != nil {
		response.Err(w, "Test case not found", 404)
		return
	}

	var req TestCaseRequest
	if err := response.DecodeBody(r, &req); err != nil {
		response.Err(w, "Invalid request body", 400)
		return
	}
	if ve := validateTestCaseRequest(&req, false); ve.HasErrors() {
		response.Err(w, ve.Error(), 400)
		return
	}

	suiteID := before.SuiteID
	if req.SuiteID != "" && req.SuiteID != suiteID {
		if _, err := getSuite(req.SuiteID); err != nil {
			response.Err(w, "Suite not found", 404)
			return
		}
		suiteID = req.SuiteID
	}
	if req.Priority == "" {
		req.Priority = before.Priority
	}
	if req.Severity == "" {
		req.Severity = before.Severity
	}
	if req.Type == "" {
		req.Type = before.Type
	}
	if req.Status == "" {
		req.Status = before.Status
	}
	if req.Steps == nil {
		req.Steps = before.Steps
	}
	stepsJSON, _ := json.Marshal(req.Steps)

	_, err = db.Exec(`UPDATE test_cases SET suite_id = ?, title = ?, description = ?, preconditions = ?,
		steps = ?, expected_result = ?, priority = ?, severity = ?, type = ?, status = ?, tags = ?,
		updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		suiteID, req.Title, req.Description, req.Preconditions, string(stepsJSON),
		req.ExpectedResult, req.Priority, req.Severity, req.Type, req.Status, req.Tags, id)
	if err != nil {
		response.Err(w, err.Error(), 500)
		return
	}

	after, _ := getTestCase(id)
	audit.LogUpdateWithDiff(db, hub, r, "test_case", id, before, after)
	response.JSON(w, after)
}

func handleDeleteTestCase(w http.ResponseWriter, r *http.Request, id string) {
	if _, err := getTestCase(id); err != nil {
		response.Err(w, "Test case not found", 404)
		return
	}

	var inPlans int
	db.QueryRow("SELECT COUNT(*) FROM test_plan_cases WHERE case_id = ?", id).Scan(&inPlans)
	if inPlans > 0 {
		response.Err(w, "Test case is referenced by a test plan", 409)
		return
	}

	if _, err := db.Exec("DELETE FROM test_cases WHERE id = ?", id); err != nil {
		response.Err(w, err.Error(), 500)
		return
	}

	audit.LogSimpleAudit(db, hub, r, audit.ActionDelete, "test_case", id, "Deleted test case")
	response.JSON(w, map[string]string{"status": "deleted"})
}

// handleTestCaseHistory returns the audit trail for one test case.
func handleTestCaseHistory(w http.ResponseWriter, r *http.Request, id string) {
	if _, err := getTestCase(id); err != nil {
		response.Err(w, "Test case not found", 404)
		return
	}

	rows, err := db.Query(`SELECT id, user_id, username, action, module, record_id, summary,
		COALESCE(before_value, ''), COALESCE(after_value, ''), ip_address, user_agent, created_at
		FROM audit_log WHERE module = 'test_case' AND record_id = ? ORDER BY created_at DESC, id DESC`, id)
	if err != nil {
		response.Err(w, err.Error(), 500)
		return
	}
	defer rows.Close()

	entries := []models.AuditEntry{}
	for rows.Next() {
		var e models.AuditEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.Username, &e.Action, &e.Module, &e.RecordID,
			&e.Summary, &e.BeforeValue, &e.AfterValue, &e.IPAddress, &e.UserAgent, &e.CreatedAt); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	response.JSON(w, entries)
}

func handleExportTestCases(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "csv"
	}

	query := "SELECT tc.id, s.name, tc.title, tc.priority, tc.severity, tc.type, tc.status, tc.tags, tc.created_by, tc.created_at FROM test_cases tc JOIN suites s ON tc.suite_id = s.id WHERE 1=1"
	var args []interface{}
	if repoID := r.URL.Query().Get("repository_id"); repoID != "" {
		query += " AND s.repository_id = ?"
		args = append(args, repoID)
	}
	if status := r.URL.Query().Get("status"); status != "" {
		query += " AND tc.status = ?"
		args = append(args, status)
	}
	query += " ORDER BY tc.id"

	rows, err := db.Query(query, args...)
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	defer rows.Close()

	headers := []string{"ID", "Suite", "Title", "Priority", "Severity", "Type", "Status", "Tags", "Created By", "Created At"}
	var data [][]string
	for rows.Next() {
		var id, suite, title, priority, severity, typ, status, tags, createdBy, createdAt string
		rows.Scan(&id, &suite, &title, &priority, &severity, &typ, &status, &tags, &createdBy, &createdAt)
		data = append(data, []string{id, suite, title, priority, severity, typ, status, tags, createdBy, createdAt})
	}

	audit.LogSimpleAudit(db, hub, r, audit.ActionExport, "test_case", "", "Exported test cases ("+format+")")

	if format == "xlsx" {
		exportExcel(w, "TestCases", headers, data)
	} else {
		exportCSV(w, "test_cases.csv", headers, data)
	}
}
