package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"qahub/internal/models"
)

// createRun makes a fresh run from the seeded plan and returns its ID.
func createRun(t *testing.T, cookie *http.Cookie, name string) string {
	t.Helper()
	planID := seededPlanID(t)
	w := httptest.NewRecorder()
	handleCreateTestRun(w, authedRequest("POST", "/api/v1/testruns",
		`{"plan_id":"`+planID+`","name":"`+name+`","environment":"ci"}`, cookie))
	if w.Code != 201 {
		t.Fatalf("run creation failed: %d %s", w.Code, w.Body.String())
	}
	var created struct {
		Data map[string]string `json:"data"`
	}
	json.Unmarshal(w.Body.Bytes(), &created)
	return created.Data["id"]
}

func startRun(t *testing.T, cookie *http.Cookie, runID string) {
	t.Helper()
	w := httptest.NewRecorder()
	handleStartTestRun(w, authedRequest("POST", "/api/v1/testruns/"+runID+"/start", "", cookie), runID)
	if w.Code != 200 {
		t.Fatalf("start failed: %d %s", w.Code, w.Body.String())
	}
}

func runCases(t *testing.T, cookie *http.Cookie, runID, query string) []models.CaseWithResult {
	t.Helper()
	w := httptest.NewRecorder()
	handleListRunCases(w, authedRequest("GET", "/api/v1/testruns/"+runID+"/cases"+query, "", cookie), runID)
	if w.Code != 200 {
		t.Fatalf("list run cases failed: %d %s", w.Code, w.Body.String())
	}
	var resp struct {
		Data []models.CaseWithResult `json:"data"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	return resp.Data
}

func TestCreateTestRunSnapshotsPlan(t *testing.T) {
	cleanup := setupTestDB(t)
	defer cleanup()
	cookie := loginAdmin(t)
	runID := createRun(t, cookie, "Nightly")

	if !strings.HasPrefix(runID, "RUN-") {
		t.Fatalf("unexpected run ID %q", runID)
	}

	cases := runCases(t, cookie, runID, "")
	if len(cases) != 6 {
		t.Fatalf("expected 6 snapshot rows, got %d", len(cases))
	}
	for _, c := range cases {
		if c.Status != "untested" || c.Version != 1 {
			t.Errorf("expected untested v1, got %+v", c)
		}
	}

	// Snapshot columns hold the case fields as of run creation
	var title, priority string
	db.QueryRow("SELECT case_title, case_priority FROM test_run_results WHERE run_id = ? AND case_id = ?",
		runID, cases[0].CaseID).Scan(&title, &priority)
	if title != cases[0].Title || priority != cases[0].Priority {
		t.Errorf("snapshot mismatch: %q/%q vs %q/%q", title, priority, cases[0].Title, cases[0].Priority)
	}
}

func TestCreateTestRunEmptyPlan(t *testing.T) {
	cleanup := setupTestDB(t)
	defer cleanup()
	cookie := loginAdmin(t)
	projID := seededProjectID(t)

	w := httptest.NewRecorder()
	handleCreateTestPlan(w, authedRequest("POST", "/api/v1/testplans",
		`{"project_id":"`+projID+`","name":"Empty plan"}`, cookie))
	var created struct {
		Data map[string]string `json:"data"`
	}
	json.Unmarshal(w.Body.Bytes(), &created)

	w2 := httptest.NewRecorder()
	handleCreateTestRun(w2, authedRequest("POST", "/api/v1/testruns",
		`{"plan_id":"`+created.Data["id"]+`","name":"Doomed"}`, cookie))
	if w2.Code != 400 {
		t.Errorf("expected 400 for empty plan, got %d", w2.Code)
	}
}

func TestCreateTestRunUnknownPlan(t *testing.T) {
	cleanup := setupTestDB(t)
	defer cleanup()
	cookie := loginAdmin(t)

	w := httptest.NewRecorder()
	handleCreateTestRun(w, authedRequest("POST", "/api/v1/testruns",
		`{"plan_id":"TP-1999-999","name":"Ghost"}`, cookie))
	if w.Code != 404 {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestRunLifecycle(t *testing.T) {
	cleanup := setupTestDB(t)
	defer cleanup()
	cookie := loginAdmin(t)
	runID := createRun(t, cookie, "Lifecycle")

	// pending -> completed is not allowed
	w := httptest.NewRecorder()
	handleCompleteTestRun(w, authedRequest("POST", "/api/v1/testruns/"+runID+"/complete", "", cookie), runID)
	if w.Code != 409 {
		t.Errorf("complete from pending: expected 409, got %d", w.Code)
	}

	startRun(t, cookie, runID)
	run, _ := getTestRun(runID)
	if run.Status != "in_progress" || run.StartedAt == nil {
		t.Errorf("expected in_progress with started_at, got %+v", run)
	}

	// starting twice is refused
	w2 := httptest.NewRecorder()
	handleStartTestRun(w2, authedRequest("POST", "/api/v1/testruns/"+runID+"/start", "", cookie), runID)
	if w2.Code != 409 {
		t.Errorf("second start: expected 409, got %d", w2.Code)
	}

	w3 := httptest.NewRecorder()
	handleCompleteTestRun(w3, authedRequest("POST", "/api/v1/testruns/"+runID+"/complete", "", cookie), runID)
	if w3.Code != 200 {
		t.Fatalf("complete failed: %d %s", w3.Code, w3.Body.String())
	}
	run, _ = getTestRun(runID)
	if run.Status != "completed" || run.CompletedAt == nil {
		t.Errorf("expected completed with completed_at, got %+v", run)
	}

	// completed is terminal
	w4 := httptest.NewRecorder()
	handleAbortTestRun(w4, authedRequest("POST", "/api/v1/testruns/"+runID+"/abort", "", cookie), runID)
	if w4.Code != 409 {
		t.Errorf("abort after completion: expected 409, got %d", w4.Code)
	}
}

func TestAbortPendingRun(t *testing.T) {
	cleanup := setupTestDB(t)
	defer cleanup()
	cookie := loginAdmin(t)
	runID := createRun(t, cookie, "Abandoned")

	w := httptest.NewRecorder()
	handleAbortTestRun(w, authedRequest("POST", "/api/v1/testruns/"+runID+"/abort", "", cookie), runID)
	if w.Code != 200 {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	run, _ := getTestRun(runID)
	if run.Status != "aborted" {
		t.Errorf("expected aborted, got %q", run.Status)
	}
}

func TestDeleteRunInProgress(t *testing.T) {
	cleanup := setupTestDB(t)
	defer cleanup()
	cookie := loginAdmin(t)
	runID := createRun(t, cookie, "Busy")
	startRun(t, cookie, runID)

	w := httptest.NewRecorder()
	handleDeleteTestRun(w, authedRequest("DELETE", "/api/v1/testruns/"+runID, "", cookie), runID)
	if w.Code != 409 {
		t.Errorf("expected 409 for in-progress run, got %d", w.Code)
	}
}

func TestDeleteRunRemovesResults(t *testing.T) {
	cleanup := setupTestDB(t)
	defer cleanup()
	cookie := loginAdmin(t)
	runID := createRun(t, cookie, "Short lived")

	w := httptest.NewRecorder()
	handleDeleteTestRun(w, authedRequest("DELETE", "/api/v1/testruns/"+runID, "", cookie), runID)
	if w.Code != 200 {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var left int
	db.QueryRow("SELECT COUNT(*) FROM test_run_results WHERE run_id = ?", runID).Scan(&left)
	if left != 0 {
		t.Errorf("expected result rows removed, got %d", left)
	}
}

func TestRunCasesShowLiveCaseFields(t *testing.T) {
	cleanup := setupTestDB(t)
	defer cleanup()
	cookie := loginAdmin(t)
	runID := createRun(t, cookie, "Live view")

	caseID := runCases(t, cookie, runID, "")[0].CaseID
	handleUpdateTestCase(httptest.NewRecorder(), authedRequest("PUT", "/api/v1/testcases/"+caseID,
		`{"title":"Retitled after run creation"}`, cookie), caseID)

	for _, c := range runCases(t, cookie, runID, "") {
		if c.CaseID == caseID && c.Title != "Retitled after run creation" {
			t.Errorf("expected live title in merged view, got %q", c.Title)
		}
	}
}

func TestRunCasesFallBackToSnapshot(t *testing.T) {
	cleanup := setupTestDB(t)
	defer cleanup()
	cookie := loginAdmin(t)
	runID := createRun(t, cookie, "Snapshot view")

	cases := runCases(t, cookie, runID, "")
	caseID := cases[0].CaseID
	origTitle := cases[0].Title

	// Remove the case from the plan, then delete it entirely
	planID := seededPlanID(t)
	db.Exec("DELETE FROM test_plan_cases WHERE plan_id = ? AND case_id = ?", planID, caseID)
	w := httptest.NewRecorder()
	handleDeleteTestCase(w, authedRequest("DELETE", "/api/v1/testcases/"+caseID, "", cookie), caseID)
	if w.Code != 200 {
		t.Fatalf("case delete failed: %d %s", w.Code, w.Body.String())
	}

	after := runCases(t, cookie, runID, "")
	if len(after) != 6 {
		t.Fatalf("expected run history intact, got %d rows", len(after))
	}
	found := false
	for _, c := range after {
		if c.CaseID == caseID {
			found = true
			if c.Title != origTitle {
				t.Errorf("expected snapshot title %q, got %q", origTitle, c.Title)
			}
		}
	}
	if !found {
		t.Error("deleted case missing from run view")
	}
}

func TestRunCasesFilterAndSort(t *testing.T) {
	cleanup := setupTestDB(t)
	defer cleanup()
	cookie := loginAdmin(t)
	runID := createRun(t, cookie, "Filtered")
	startRun(t, cookie, runID)

	caseID := runCases(t, cookie, runID, "")[0].CaseID
	w := httptest.NewRecorder()
	handleUpdateRunResult(w, authedRequest("PUT", "/api/v1/testruns/"+runID+"/results/"+caseID,
		`{"status":"passed","version":1}`, cookie), runID, caseID)
	if w.Code != 200 {
		t.Fatalf("result update failed: %d %s", w.Code, w.Body.String())
	}

	passed := runCases(t, cookie, runID, "?status=passed")
	if len(passed) != 1 || passed[0].CaseID != caseID {
		t.Errorf("status filter: expected just %s, got %+v", caseID, passed)
	}

	byPriority := runCases(t, cookie, runID, "?sort=priority")
	if byPriority[0].Priority != "critical" {
		t.Errorf("expected critical first, got %q", byPriority[0].Priority)
	}
}

func TestRunStatsDerivation(t *testing.T) {
	cleanup := setupTestDB(t)
	defer cleanup()
	cookie := loginAdmin(t)
	runID := createRun(t, cookie, "Stats")
	startRun(t, cookie, runID)

	cases := runCases(t, cookie, runID, "")
	mark := func(caseID, status string) {
		t.Helper()
		w := httptest.NewRecorder()
		handleUpdateRunResult(w, authedRequest("PUT", "/api/v1/testruns/"+runID+"/results/"+caseID,
			`{"status":"`+status+`","version":1}`, cookie), runID, caseID)
		if w.Code != 200 {
			t.Fatalf("marking %s %s failed: %d %s", caseID, status, w.Code, w.Body.String())
		}
	}
	mark(cases[0].CaseID, "passed")
	mark(cases[1].CaseID, "passed")
	mark(cases[2].CaseID, "failed")
	mark(cases[3].CaseID, "blocked")

	w := httptest.NewRecorder()
	handleRunStats(w, authedRequest("GET", "/api/v1/testruns/"+runID+"/stats", "", cookie), runID)
	if w.Code != 200 {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var resp struct {
		Data models.RunStats `json:"data"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	s := resp.Data
	if s.Total != 6 || s.Passed != 2 || s.Failed != 1 || s.Blocked != 1 || s.Untested != 2 {
		t.Errorf("unexpected counters: %+v", s)
	}
	if s.PassRate != 50 {
		t.Errorf("expected pass rate 50 (2 of 4 executed), got %v", s.PassRate)
	}
	if s.Completion < 66.6 || s.Completion > 66.7 {
		t.Errorf("expected completion ~66.67 (4 of 6), got %v", s.Completion)
	}
}

func TestRunStatsAllUntested(t *testing.T) {
	cleanup := setupTestDB(t)
	defer cleanup()
	cookie := loginAdmin(t)
	runID := createRun(t, cookie, "Untouched")

	w := httptest.NewRecorder()
	handleRunStats(w, authedRequest("GET", "/api/v1/testruns/"+runID+"/stats", "", cookie), runID)
	var resp struct {
		Data models.RunStats `json:"data"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Data.PassRate != 0 || resp.Data.Completion != 0 {
		t.Errorf("expected zero rates with nothing executed, got %+v", resp.Data)
	}
}

func TestExportTestRunCSV(t *testing.T) {
	cleanup := setupTestDB(t)
	defer cleanup()
	cookie := loginAdmin(t)
	runID := createRun(t, cookie, "Export me")

	w := httptest.NewRecorder()
	handleExportTestRun(w, authedRequest("GET", "/api/v1/testruns/"+runID+"/export", "", cookie), runID)
	if w.Code != 200 {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
	if len(lines) != 7 {
		t.Errorf("expected header + 6 rows, got %d lines", len(lines))
	}
	if !strings.HasPrefix(lines[0], "Case ID,Title,Priority,Status") {
		t.Errorf("unexpected header: %q", lines[0])
	}
}
