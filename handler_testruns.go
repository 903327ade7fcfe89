package main

import (
	"net/http"
	"strconv"

	"qahub/internal/audit"
	"qahub/internal/models"
	"qahub/internal/response"
	"qahub/internal/validation"
)

type TestRunRequest struct {
	PlanID      string `json:"plan_id"`
	Name        string `json:"name"`
	Environment string `json:"environment"`
}

func handleListTestRuns(w http.ResponseWriter, r *http.Request) {
	query := `SELECT id, project_id, plan_id, name, environment, status, created_by, created_at, started_at, completed_at
		FROM test_runs WHERE 1=1`
	args := []interface{}{}
	if projectID := r.URL.Query().Get("project_id"); projectID != "" {
		query += " AND project_id = ?"
		args = append(args, projectID)
	}
	if planID := r.URL.Query().Get("plan_id"); planID != "" {
		query += " AND plan_id = ?"
		args = append(args, planID)
	}
	if status := r.URL.Query().Get("status"); status != "" {
		query += " AND status = ?"
		args = append(args, status)
	}
	query += " ORDER BY created_at DESC"

	rows, err := db.Query(query, args...)
	if err != nil {
		response.Err(w, err.Error(), 500)
		return
	}
	defer rows.Close()

	runs := []models.TestRun{}
	for rows.Next() {
		var run models.TestRun
		if err := rows.Scan(&run.ID, &run.ProjectID, &run.PlanID, &run.Name, &run.Environment,
			&run.Status, &run.CreatedBy, &run.CreatedAt, &run.StartedAt, &run.CompletedAt); err != nil {
			continue
		}
		runs = append(runs, run)
	}
	response.JSON(w, runs)
}

// handleCreateTestRun snapshots the plan's current cases into result rows.
func handleCreateTestRun(w http.ResponseWriter, r *http.Request) {
	var req TestRunRequest
	if err := response.DecodeBody(r, &req); err != nil {
		response.Err(w, "Invalid request body", 400)
		return
	}

	ve := &validation.ValidationErrors{}
	validation.RequireField(ve, "plan_id", req.PlanID)
	validation.RequireField(ve, "name", req.Name)
	validation.ValidateMaxLength(ve, "name", req.Name, 255)
	if ve.HasErrors() {
		response.Err(w, ve.Error(), 400)
		return
	}

	plan, err := getTestPlan(req.PlanID)
	if err != nil {
		response.Err(w, "Test plan not found", 404)
		return
	}
	if plan.CaseCount == 0 {
		response.Err(w, "Plan has no test cases", 400)
		return
	}

	id := nextID("RUN", "test_runs", 3)
	username := audit.GetUsername(db, r)

	tx, err := db.Begin()
	if err != nil {
		response.Err(w, err.Error(), 500)
		return
	}
	defer tx.Rollback()

	if _, err := tx.Exec("INSERT INTO test_runs (id, project_id, plan_id, name, environment, created_by) VALUES (?, ?, ?, ?, ?, ?)",
		id, plan.ProjectID, plan.ID, req.Name, req.Environment, username); err != nil {
		response.Err(w, err.Error(), 500)
		return
	}
	if _, err := tx.Exec(`INSERT INTO test_run_results (run_id, case_id, case_title, case_priority)
		SELECT ?, tc.id, tc.title, tc.priority
		FROM test_plan_cases pc JOIN test_cases tc ON pc.case_id = tc.id
		WHERE pc.plan_id = ? ORDER BY pc.position`, id, plan.ID); err != nil {
		response.Err(w, err.Error(), 500)
		return
	}
	if err := tx.Commit(); err != nil {
		response.Err(w, err.Error(), 500)
		return
	}

	audit.LogAudit(db, hub, username, audit.ActionCreate, "test_run", id, "Created test run "+req.Name)
	w.WriteHeader(201)
	response.JSON(w, map[string]string{"id": id})
}

func getTestRun(id string) (*models.TestRun, error) {
	var run models.TestRun
	err := db.QueryRow(`SELECT id, project_id, plan_id, name, environment, status, created_by, created_at, started_at, completed_at
		FROM test_runs WHERE id = ?`, id).
		Scan(&run.ID, &run.ProjectID, &run.PlanID, &run.Name, &run.Environment,
			&run.Status, &run.CreatedBy, &run.CreatedAt, &run.StartedAt, &run.CompletedAt)
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// computeRunStats derives counters and rates from the run's result rows.
func computeRunStats(runID string) models.RunStats {
	var stats models.RunStats
	rows, err := db.Query("SELECT status, COUNT(*) FROM test_run_results WHERE run_id = ? GROUP BY status", runID)
	if err != nil {
		return stats
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			continue
		}
		stats.Total += n
		switch status {
		case "untested":
			stats.Untested = n
		case "in_progress":
			stats.InProgress = n
		case "passed":
			stats.Passed = n
		case "failed":
			stats.Failed = n
		case "blocked":
			stats.Blocked = n
		case "skipped":
			stats.Skipped = n
		case "retest":
			stats.Retest = n
		}
	}

	executed := stats.Passed + stats.Failed + stats.Blocked + stats.Skipped
	if executed > 0 {
		stats.PassRate = float64(stats.Passed) / float64(executed) * 100
	}
	if stats.Total > 0 {
		stats.Completion = float64(executed) / float64(stats.Total) * 100
	}
	return stats
}

func handleGetTestRun(w http.ResponseWriter, r *http.Request, id string) {
	run, err := getTestRun(id)
	if err != nil {
		response.Err(w, "Test run not found", 404)
		return
	}
	stats := computeRunStats(id)
	run.Stats = &stats
	response.JSON(w, run)
}

func handleUpdateTestRun(w http.ResponseWriter, r *http.Request, id string) {
	before, err := getTestRun(id)
	if err != nil {
		response.Err(w, "Test run not found", 404)
		return
	}

	var req TestRunRequest
	if err := response.DecodeBody(r, &req); err != nil {
		response.Err(w, "Invalid request body", 400)
		return
	}
	if req.Name == "" {
		req.Name = before.Name
	}

	_, err = db.Exec("UPDATE test_runs SET name = ?, environment = ? WHERE id = ?", req.Name, req.Environment, id)
	if err != nil {
		response.Err(w, err.Error(), 500)
		return
	}

	after, _ := getTestRun(id)
	audit.LogUpdateWithDiff(db, hub, r, "test_run", id, before, after)
	response.JSON(w, after)
}

func handleDeleteTestRun(w http.ResponseWriter, r *http.Request, id string) {
	run, err := getTestRun(id)
	if err != nil {
		response.Err(w, "Test run not found", 404)
		return
	}
	if run.Status == "in_progress" {
		response.Err(w, "Run is in progress, abort it first", 409)
		return
	}

	db.Exec("DELETE FROM test_run_results WHERE run_id = ?", id)
	if _, err := db.Exec("DELETE FROM test_runs WHERE id = ?", id); err != nil {
		response.Err(w, err.Error(), 500)
		return
	}

	audit.LogSimpleAudit(db, hub, r, audit.ActionDelete, "test_run", id, "Deleted test run")
	response.JSON(w, map[string]string{"status": "deleted"})
}

// transitionRun moves a run between lifecycle states, refusing anything
// not in the allowed set.
func transitionRun(w http.ResponseWriter, r *http.Request, id, target string, allowedFrom []string, stamp string) {
	run, err := getTestRun(id)
	if err != nil {
		response.Err(w, "Test run not found", 404)
		return
	}

	ok := false
	for _, from := range allowedFrom {
		if run.Status == from {
			ok = true
			break
		}
	}
	if !ok {
		response.Err(w, "Cannot move run from "+run.Status+" to "+target, 409)
		return
	}

	query := "UPDATE test_runs SET status = ? WHERE id = ?"
	if stamp != "" {
		query = "UPDATE test_runs SET status = ?, " + stamp + " = CURRENT_TIMESTAMP WHERE id = ?"
	}
	if _, err := db.Exec(query, target, id); err != nil {
		response.Err(w, err.Error(), 500)
		return
	}

	audit.LogSimpleAudit(db, hub, r, audit.ActionExecute, "test_run", id, "Run "+target)
	after, _ := getTestRun(id)
	stats := computeRunStats(id)
	after.Stats = &stats
	response.JSON(w, after)
}

func handleStartTestRun(w http.ResponseWriter, r *http.Request, id string) {
	transitionRun(w, r, id, "in_progress", []string{"pending"}, "started_at")
}

func handleCompleteTestRun(w http.ResponseWriter, r *http.Request, id string) {
	transitionRun(w, r, id, "completed", []string{"in_progress"}, "completed_at")
}

func handleAbortTestRun(w http.ResponseWriter, r *http.Request, id string) {
	transitionRun(w, r, id, "aborted", []string{"pending", "in_progress"}, "completed_at")
}

// handleListRunCases returns each snapshot result merged with the case's
// current fields. Cases deleted since run creation fall back to the
// snapshot title/priority.
func handleListRunCases(w http.ResponseWriter, r *http.Request, runID string) {
	if _, err := getTestRun(runID); err != nil {
		response.Err(w, "Test run not found", 404)
		return
	}

	query := `SELECT res.id, res.run_id, res.case_id,
		COALESCE(tc.title, res.case_title), COALESCE(tc.priority, res.case_priority),
		COALESCE(tc.severity, ''), COALESCE(tc.suite_id, ''), COALESCE(s.name, ''),
		res.status, res.comment, res.actual_result, res.elapsed_seconds, res.version,
		res.executed_by, res.executed_at
		FROM test_run_results res
		LEFT JOIN test_cases tc ON res.case_id = tc.id
		LEFT JOIN suites s ON tc.suite_id = s.id
		WHERE res.run_id = ?`
	args := []interface{}{runID}

	if status := r.URL.Query().Get("status"); status != "" {
		query += " AND res.status = ?"
		args = append(args, status)
	}
	if search := r.URL.Query().Get("search"); search != "" {
		query += " AND (COALESCE(tc.title, res.case_title) LIKE ? OR res.case_id LIKE ?)"
		term := "%" + search + "%"
		args = append(args, term, term)
	}

	switch r.URL.Query().Get("sort") {
	case "priority":
		query += ` ORDER BY CASE COALESCE(tc.priority, res.case_priority)
			WHEN 'critical' THEN 0 WHEN 'high' THEN 1 WHEN 'medium' THEN 2 ELSE 3 END, res.id`
	case "status":
		query += " ORDER BY res.status, res.id"
	default:
		query += " ORDER BY res.id"
	}

	rows, err := db.Query(query, args...)
	if err != nil {
		response.Err(w, err.Error(), 500)
		return
	}
	defer rows.Close()

	cases := []models.CaseWithResult{}
	for rows.Next() {
		var c models.CaseWithResult
		if err := rows.Scan(&c.ResultID, &c.RunID, &c.CaseID, &c.Title, &c.Priority, &c.Severity,
			&c.SuiteID, &c.SuiteName, &c.Status, &c.Comment, &c.ActualResult,
			&c.ElapsedSeconds, &c.Version, &c.ExecutedBy, &c.ExecutedAt); err != nil {
			continue
		}
		cases = append(cases, c)
	}
	response.JSON(w, cases)
}

func handleRunStats(w http.ResponseWriter, r *http.Request, runID string) {
	if _, err := getTestRun(runID); err != nil {
		response.Err(w, "Test run not found", 404)
		return
	}
	response.JSON(w, computeRunStats(runID))
}

func handleExportTestRun(w http.ResponseWriter, r *http.Request, runID string) {
	run, err := getTestRun(runID)
	if err != nil {
		response.Err(w, "Test run not found", 404)
		return
	}
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "csv"
	}

	rows, err := db.Query(`SELECT res.case_id, COALESCE(tc.title, res.case_title),
		COALESCE(tc.priority, res.case_priority), res.status, res.comment, res.actual_result,
		res.elapsed_seconds, COALESCE(res.executed_by, ''), COALESCE(res.executed_at, '')
		FROM test_run_results res LEFT JOIN test_cases tc ON res.case_id = tc.id
		WHERE res.run_id = ? ORDER BY res.id`, runID)
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	defer rows.Close()

	headers := []string{"Case ID", "Title", "Priority", "Status", "Comment", "Actual Result", "Elapsed (s)", "Executed By", "Executed At"}
	var data [][]string
	for rows.Next() {
		var caseID, title, priority, status, comment, actual, executedBy, executedAt string
		var elapsed int
		rows.Scan(&caseID, &title, &priority, &status, &comment, &actual, &elapsed, &executedBy, &executedAt)
		data = append(data, []string{caseID, title, priority, status, comment, actual, strconv.Itoa(elapsed), executedBy, executedAt})
	}

	audit.LogSimpleAudit(db, hub, r, audit.ActionExport, "test_run", runID, "Exported run report ("+format+")")

	if format == "xlsx" {
		exportExcel(w, "RunReport", headers, data)
	} else {
		exportCSV(w, run.ID+"_report.csv", headers, data)
	}
}
