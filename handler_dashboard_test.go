package main

import (
	"encoding/json"
	"net/http/httptest"
	"testing"
)

func TestDashboardCounters(t *testing.T) {
	cleanup := setupTestDB(t)
	defer cleanup()
	cookie := loginAdmin(t)
	runID := createRun(t, cookie, "Dashboard fodder")
	startRun(t, cookie, runID)

	caseID := runCases(t, cookie, runID, "")[0].CaseID
	if w := updateResult(cookie, runID, caseID, `{"status":"failed","version":1}`); w.Code != 200 {
		t.Fatalf("setup write failed: %d", w.Code)
	}

	w := httptest.NewRecorder()
	handleDashboard(w, authedRequest("GET", "/api/v1/dashboard", "", cookie))
	if w.Code != 200 {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var resp struct {
		Data map[string]int `json:"data"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	d := resp.Data
	if d["projects"] != 1 || d["active_cases"] != 6 || d["active_plans"] != 1 {
		t.Errorf("unexpected counters: %+v", d)
	}
	if d["runs_in_progress"] != 1 || d["failed_results_7d"] != 1 {
		t.Errorf("unexpected run counters: %+v", d)
	}
}

func TestDashboardCharts(t *testing.T) {
	cleanup := setupTestDB(t)
	defer cleanup()
	cookie := loginAdmin(t)

	w := httptest.NewRecorder()
	handleDashboardCharts(w, authedRequest("GET", "/api/v1/dashboard/charts", "", cookie))
	if w.Code != 200 {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var resp struct {
		Data struct {
			CasesByPriority map[string]int `json:"cases_by_priority"`
			RunsByStatus    map[string]int `json:"runs_by_status"`
			ResultsByStatus map[string]int `json:"results_by_status"`
		} `json:"data"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Data.CasesByPriority["critical"] != 2 || resp.Data.CasesByPriority["medium"] != 2 {
		t.Errorf("unexpected priority chart: %+v", resp.Data.CasesByPriority)
	}
	if resp.Data.RunsByStatus["pending"] != 1 || resp.Data.RunsByStatus["completed"] != 0 {
		t.Errorf("unexpected run chart: %+v", resp.Data.RunsByStatus)
	}
	if resp.Data.ResultsByStatus["untested"] != 6 {
		t.Errorf("unexpected result chart: %+v", resp.Data.ResultsByStatus)
	}
}
