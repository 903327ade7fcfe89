package main

import (
	"encoding/json"
	"net/http/httptest"
	"strconv"
	"testing"

	"qahub/internal/models"
)

func listNotifications(t *testing.T, query string) []models.Notification {
	t.Helper()
	cookie := loginAdmin(t)
	w := httptest.NewRecorder()
	handleListNotifications(w, authedRequest("GET", "/api/v1/notifications"+query, "", cookie))
	if w.Code != 200 {
		t.Fatalf("list failed: %d", w.Code)
	}
	var resp struct {
		Data []models.Notification `json:"data"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	return resp.Data
}

func TestGenerateNotificationsStaleRun(t *testing.T) {
	cleanup := setupTestDB(t)
	defer cleanup()

	var runID string
	db.QueryRow("SELECT id FROM test_runs LIMIT 1").Scan(&runID)
	db.Exec("UPDATE test_runs SET status = 'in_progress', started_at = datetime('now', '-10 days') WHERE id = ?", runID)

	generateNotifications()

	notifs := listNotifications(t, "?unread=true")
	found := false
	for _, n := range notifs {
		if n.Type == "stale_run" && n.RecordID != nil && *n.RecordID == runID {
			found = true
			if n.Severity != "warning" {
				t.Errorf("expected warning severity, got %q", n.Severity)
			}
		}
	}
	if !found {
		t.Errorf("expected stale_run notification, got %+v", notifs)
	}
}

func TestGenerateNotificationsHighFailureRate(t *testing.T) {
	cleanup := setupTestDB(t)
	defer cleanup()

	var runID string
	db.QueryRow("SELECT id FROM test_runs LIMIT 1").Scan(&runID)
	db.Exec("UPDATE test_runs SET status = 'in_progress' WHERE id = ?", runID)
	// 4 of 5 executed failed
	db.Exec(`UPDATE test_run_results SET status = 'failed' WHERE run_id = ? AND id IN
		(SELECT id FROM test_run_results WHERE run_id = ? LIMIT 4)`, runID, runID)
	db.Exec(`UPDATE test_run_results SET status = 'passed' WHERE run_id = ? AND status = 'untested' AND id IN
		(SELECT id FROM test_run_results WHERE run_id = ? AND status = 'untested' LIMIT 1)`, runID, runID)

	generateNotifications()

	found := false
	for _, n := range listNotifications(t, "?unread=true") {
		if n.Type == "high_failure_rate" {
			found = true
			if n.Severity != "critical" {
				t.Errorf("expected critical severity, got %q", n.Severity)
			}
		}
	}
	if !found {
		t.Error("expected high_failure_rate notification")
	}
}

func TestGenerateNotificationsSkipsAbortedRuns(t *testing.T) {
	cleanup := setupTestDB(t)
	defer cleanup()

	var runID string
	db.QueryRow("SELECT id FROM test_runs LIMIT 1").Scan(&runID)
	db.Exec("UPDATE test_runs SET status = 'aborted' WHERE id = ?", runID)
	db.Exec("UPDATE test_run_results SET status = 'failed' WHERE run_id = ?", runID)

	generateNotifications()

	for _, n := range listNotifications(t, "?unread=true") {
		if n.Type == "high_failure_rate" {
			t.Error("aborted runs should not raise failure alerts")
		}
	}
}

func TestGenerateNotificationsDeduplicates(t *testing.T) {
	cleanup := setupTestDB(t)
	defer cleanup()

	var runID string
	db.QueryRow("SELECT id FROM test_runs LIMIT 1").Scan(&runID)
	db.Exec("UPDATE test_runs SET status = 'in_progress', started_at = datetime('now', '-10 days') WHERE id = ?", runID)

	generateNotifications()
	generateNotifications()

	var count int
	db.QueryRow("SELECT COUNT(*) FROM notifications WHERE type = 'stale_run' AND record_id = ?", runID).Scan(&count)
	if count != 1 {
		t.Errorf("expected 1 notification after repeat checks, got %d", count)
	}
}

func TestMarkNotificationRead(t *testing.T) {
	cleanup := setupTestDB(t)
	defer cleanup()
	cookie := loginAdmin(t)

	var runID string
	db.QueryRow("SELECT id FROM test_runs LIMIT 1").Scan(&runID)
	db.Exec("UPDATE test_runs SET status = 'in_progress', started_at = datetime('now', '-10 days') WHERE id = ?", runID)
	generateNotifications()

	notifs := listNotifications(t, "?unread=true")
	if len(notifs) == 0 {
		t.Fatal("expected a notification")
	}
	id := strconv.Itoa(notifs[0].ID)

	w := httptest.NewRecorder()
	handleMarkNotificationRead(w, authedRequest("POST", "/api/v1/notifications/"+id+"/read", "", cookie), id)
	if w.Code != 200 {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	if len(listNotifications(t, "?unread=true")) != 0 {
		t.Error("expected no unread notifications left")
	}

	// A read notification no longer blocks a fresh one
	generateNotifications()
	if len(listNotifications(t, "?unread=true")) != 1 {
		t.Error("expected condition to re-alert after read")
	}
}

func TestGenerateNotificationsIdlePlan(t *testing.T) {
	cleanup := setupTestDB(t)
	defer cleanup()

	planID := seededPlanID(t)
	db.Exec("UPDATE test_plans SET created_at = datetime('now', '-45 days') WHERE id = ?", planID)
	db.Exec("DELETE FROM test_run_results")
	db.Exec("DELETE FROM test_runs")

	generateNotifications()

	found := false
	for _, n := range listNotifications(t, "?unread=true") {
		if n.Type == "idle_plan" && n.RecordID != nil && *n.RecordID == planID {
			found = true
			if n.Severity != "info" {
				t.Errorf("expected info severity, got %q", n.Severity)
			}
		}
	}
	if !found {
		t.Error("expected idle_plan notification")
	}
}
