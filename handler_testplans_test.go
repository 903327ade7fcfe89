package main

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"qahub/internal/models"
)

func TestListTestPlansIncludesCaseCount(t *testing.T) {
	cleanup := setupTestDB(t)
	defer cleanup()
	cookie := loginAdmin(t)

	w := httptest.NewRecorder()
	handleListTestPlans(w, authedRequest("GET", "/api/v1/testplans", "", cookie))
	if w.Code != 200 {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var resp struct {
		Data []models.TestPlan `json:"data"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.Data) != 1 || resp.Data[0].CaseCount != 6 {
		t.Errorf("unexpected plans: %+v", resp.Data)
	}
}

func TestCreateTestPlanDefaultsToDraft(t *testing.T) {
	cleanup := setupTestDB(t)
	defer cleanup()
	cookie := loginAdmin(t)
	projID := seededProjectID(t)

	w := httptest.NewRecorder()
	handleCreateTestPlan(w, authedRequest("POST", "/api/v1/testplans",
		`{"project_id":"`+projID+`","name":"Smoke pass"}`, cookie))
	if w.Code != 201 {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var created struct {
		Data map[string]string `json:"data"`
	}
	json.Unmarshal(w.Body.Bytes(), &created)
	plan, err := getTestPlan(created.Data["id"])
	if err != nil {
		t.Fatal(err)
	}
	if plan.Status != "draft" || plan.CaseCount != 0 {
		t.Errorf("unexpected new plan: %+v", plan)
	}
}

func TestAddPlanCasesSkipsDuplicates(t *testing.T) {
	cleanup := setupTestDB(t)
	defer cleanup()
	cookie := loginAdmin(t)
	planID := seededPlanID(t)

	var existing, fresh string
	db.QueryRow("SELECT case_id FROM test_plan_cases WHERE plan_id = ? ORDER BY position LIMIT 1", planID).Scan(&existing)

	var suiteID string
	db.QueryRow("SELECT id FROM suites LIMIT 1").Scan(&suiteID)
	w := httptest.NewRecorder()
	handleCreateTestCase(w, authedRequest("POST", "/api/v1/testcases",
		`{"suite_id":"`+suiteID+`","title":"Brand new case"}`, cookie))
	var created struct {
		Data map[string]string `json:"data"`
	}
	json.Unmarshal(w.Body.Bytes(), &created)
	fresh = created.Data["id"]

	w2 := httptest.NewRecorder()
	handleAddPlanCases(w2, authedRequest("POST", "/api/v1/testplans/"+planID+"/cases",
		`{"case_ids":["`+existing+`","`+fresh+`"]}`, cookie), planID)
	if w2.Code != 200 {
		t.Fatalf("expected 200, got %d: %s", w2.Code, w2.Body.String())
	}

	var resp struct {
		Data map[string]int `json:"data"`
	}
	json.Unmarshal(w2.Body.Bytes(), &resp)
	if resp.Data["added"] != 1 {
		t.Errorf("expected 1 added (duplicate skipped), got %d", resp.Data["added"])
	}

	// The new case lands at the end of the ordering
	w3 := httptest.NewRecorder()
	handleListPlanCases(w3, authedRequest("GET", "/api/v1/testplans/"+planID+"/cases", "", cookie), planID)
	var list struct {
		Data []models.PlanCase `json:"data"`
	}
	json.Unmarshal(w3.Body.Bytes(), &list)
	if len(list.Data) != 7 || list.Data[6].CaseID != fresh {
		t.Errorf("expected new case appended last, got %+v", list.Data)
	}
}

func TestAddPlanCasesUnknownCase(t *testing.T) {
	cleanup := setupTestDB(t)
	defer cleanup()
	cookie := loginAdmin(t)
	planID := seededPlanID(t)

	w := httptest.NewRecorder()
	handleAddPlanCases(w, authedRequest("POST", "/api/v1/testplans/"+planID+"/cases",
		`{"case_ids":["TC-1999-9999"]}`, cookie), planID)
	if w.Code != 404 {
		t.Errorf("expected 404 for unknown case, got %d", w.Code)
	}
}

func TestArchivedPlanIsFrozen(t *testing.T) {
	cleanup := setupTestDB(t)
	defer cleanup()
	cookie := loginAdmin(t)
	planID := seededPlanID(t)

	db.Exec("UPDATE test_plans SET status = 'archived' WHERE id = ?", planID)

	var caseID string
	db.QueryRow("SELECT case_id FROM test_plan_cases WHERE plan_id = ? LIMIT 1", planID).Scan(&caseID)

	w := httptest.NewRecorder()
	handleAddPlanCases(w, authedRequest("POST", "/api/v1/testplans/"+planID+"/cases",
		`{"case_ids":["`+caseID+`"]}`, cookie), planID)
	if w.Code != 409 {
		t.Errorf("add to archived plan: expected 409, got %d", w.Code)
	}

	w2 := httptest.NewRecorder()
	handleRemovePlanCase(w2, authedRequest("DELETE", "/api/v1/testplans/"+planID+"/cases/"+caseID, "", cookie), planID, caseID)
	if w2.Code != 409 {
		t.Errorf("remove from archived plan: expected 409, got %d", w2.Code)
	}

	w3 := httptest.NewRecorder()
	handleUpdateTestPlan(w3, authedRequest("PUT", "/api/v1/testplans/"+planID,
		`{"name":"Renamed"}`, cookie), planID)
	if w3.Code != 409 {
		t.Errorf("edit of archived plan: expected 409, got %d", w3.Code)
	}
}

func TestUnarchivePlan(t *testing.T) {
	cleanup := setupTestDB(t)
	defer cleanup()
	cookie := loginAdmin(t)
	planID := seededPlanID(t)

	db.Exec("UPDATE test_plans SET status = 'archived' WHERE id = ?", planID)

	w := httptest.NewRecorder()
	handleUpdateTestPlan(w, authedRequest("PUT", "/api/v1/testplans/"+planID,
		`{"name":"Release 1.0 regression","status":"active"}`, cookie), planID)
	if w.Code != 200 {
		t.Fatalf("expected unarchive to succeed, got %d: %s", w.Code, w.Body.String())
	}

	plan, _ := getTestPlan(planID)
	if plan.Status != "active" {
		t.Errorf("expected active, got %q", plan.Status)
	}
}

func TestRemovePlanCase(t *testing.T) {
	cleanup := setupTestDB(t)
	defer cleanup()
	cookie := loginAdmin(t)
	planID := seededPlanID(t)

	var caseID string
	db.QueryRow("SELECT case_id FROM test_plan_cases WHERE plan_id = ? LIMIT 1", planID).Scan(&caseID)

	w := httptest.NewRecorder()
	handleRemovePlanCase(w, authedRequest("DELETE", "/api/v1/testplans/"+planID+"/cases/"+caseID, "", cookie), planID, caseID)
	if w.Code != 200 {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	w2 := httptest.NewRecorder()
	handleRemovePlanCase(w2, authedRequest("DELETE", "/api/v1/testplans/"+planID+"/cases/"+caseID, "", cookie), planID, caseID)
	if w2.Code != 404 {
		t.Errorf("expected 404 for case no longer in plan, got %d", w2.Code)
	}
}

func TestDeleteTestPlanWithRuns(t *testing.T) {
	cleanup := setupTestDB(t)
	defer cleanup()
	cookie := loginAdmin(t)
	planID := seededPlanID(t)

	w := httptest.NewRecorder()
	handleDeleteTestPlan(w, authedRequest("DELETE", "/api/v1/testplans/"+planID, "", cookie), planID)
	if w.Code != 409 {
		t.Errorf("expected 409 while runs exist, got %d", w.Code)
	}
}

func TestDeleteTestPlanCascadesMembership(t *testing.T) {
	cleanup := setupTestDB(t)
	defer cleanup()
	cookie := loginAdmin(t)
	planID := seededPlanID(t)

	db.Exec("DELETE FROM test_run_results")
	db.Exec("DELETE FROM test_runs")

	w := httptest.NewRecorder()
	handleDeleteTestPlan(w, authedRequest("DELETE", "/api/v1/testplans/"+planID, "", cookie), planID)
	if w.Code != 200 {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var left int
	db.QueryRow("SELECT COUNT(*) FROM test_plan_cases WHERE plan_id = ?", planID).Scan(&left)
	if left != 0 {
		t.Errorf("expected plan membership removed, got %d rows", left)
	}
}
