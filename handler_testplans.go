package main

import (
	"net/http"

	"qahub/internal/audit"
	"qahub/internal/models"
	"qahub/internal/response"
	"qahub/internal/validation"
)

type TestPlanRequest struct {
	ProjectID   string `json:"project_id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Status      string `json:"status"`
}

func handleListTestPlans(w http.ResponseWriter, r *http.Request) {
	query := `SELECT tp.id, tp.project_id, tp.name, tp.description, tp.status, tp.created_by,
		tp.created_at, tp.updated_at,
		(SELECT COUNT(*) FROM test_plan_cases pc WHERE pc.plan_id = tp.id)
		FROM test_plans tp WHERE 1=1`
	args := []interface{}{}
	if projectID := r.URL.Query().Get("project_id"); projectID != "" {
		query += " AND tp.project_id = ?"
		args = append(args, projectID)
	}
	if status := r.URL.Query().Get("status"); status != "" {
		query += " AND tp.status = ?"
		args = append(args, status)
	}
	query += " ORDER BY tp.created_at DESC"

	rows, err := db.Query(query, args...)
	if err != nil {
		response.Err(w, err.Error(), 500)
		return
	}
	defer rows.Close()

	plans := []models.TestPlan{}
	for rows.Next() {
		var tp models.TestPlan
		if err := rows.Scan(&tp.ID, &tp.ProjectID, &tp.Name, &tp.Description, &tp.Status,
			&tp.CreatedBy, &tp.CreatedAt, &tp.UpdatedAt, &tp.CaseCount); err != nil {
			continue
		}
		plans = append(plans, tp)
	}
	response.JSON(w, plans)
}

func handleCreateTestPlan(w http.ResponseWriter, r *http.Request) {
	var req TestPlanRequest
	if err := response.DecodeBody(r, &req); err != nil {
		response.Err(w, "Invalid request body", 400)
		return
	}

	ve := &validation.ValidationErrors{}
	validation.RequireField(ve, "project_id", req.ProjectID)
	validation.RequireField(ve, "name", req.Name)
	validation.ValidateMaxLength(ve, "name", req.Name, 255)
	validation.ValidateEnum(ve, "status", req.Status, validation.ValidPlanStatuses)
	if ve.HasErrors() {
		response.Err(w, ve.Error(), 400)
		return
	}
	if _, err := getProject(req.ProjectID); err != nil {
		response.Err(w, "Project not found", 404)
		return
	}
	if req.Status == "" {
		req.Status = "draft"
	}

	id := nextID("TP", "test_plans", 3)
	username := audit.GetUsername(db, r)
	_, err := db.Exec("INSERT INTO test_plans (id, project_id, name, description, status, created_by) VALUES (?, ?, ?, ?, ?, ?)",
		id, req.ProjectID, req.Name, req.Description, req.Status, username)
	if err != nil {
		response.Err(w, err.Error(), 500)
		return
	}

	audit.LogAudit(db, hub, username, audit.ActionCreate, "test_plan", id, "Created test plan "+req.Name)
	w.WriteHeader(201)
	response.JSON(w, map[string]string{"id": id})
}

func getTestPlan(id string) (*models.TestPlan, error) {
	var tp models.TestPlan
	err := db.QueryRow(`SELECT id, project_id, name, description, status, created_by, created_at, updated_at
		FROM test_plans WHERE id = ?`, id).
		Scan(&tp.ID, &tp.ProjectID, &tp.Name, &tp.Description, &tp.Status, &tp.CreatedBy, &tp.CreatedAt, &tp.UpdatedAt)
	if err != nil {
		return nil, err
	}
	db.QueryRow("SELECT COUNT(*) FROM test_plan_cases WHERE plan_id = ?", id).Scan(&tp.CaseCount)
	return &tp, nil
}

func handleGetTestPlan(w http.ResponseWriter, r *http.Request, id string) {
	tp, err := getTestPlan(id)
	if err != nil {
		response.Err(w, "Test plan not found", 404)
		return
	}
	response.JSON(w, tp)
}

func handleUpdateTestPlan(w http.ResponseWriter, r *http.Request, id string) {
	before, err := getTestPlan(id)
	if err != nil {
		response.Err(w, "Test plan not found", 404)
		return
	}

	var req TestPlanRequest
	if err := response.DecodeBody(r, &req); err != nil {
		response.Err(w, "Invalid request body", 400)
		return
	}

	ve := &validation.ValidationErrors{}
	validation.RequireField(ve, "name", req.Name)
	validation.ValidateMaxLength(ve, "name", req.Name, 255)
	validation.ValidateEnum(ve, "status", req.Status, validation.ValidPlanStatuses)
	if ve.HasErrors() {
		response.Err(w, ve.Error(), 400)
		return
	}
	if req.Status == "" {
		req.Status = before.Status
	}

	// Archived plans are frozen except for unarchiving.
	if before.Status == "archived" && req.Status == "archived" {
		response.Err(w, "Plan is archived", 409)
		return
	}

	_, err = db.Exec("UPDATE test_plans SET name = ?, description = ?, status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?",
		req.Name, req.Description, req.Status, id)
	if err != nil {
		response.Err(w, err.Error(), 500)
		return
	}

	after, _ := getTestPlan(id)
	audit.LogUpdateWithDiff(db, hub, r, "test_plan", id, before, after)
	response.JSON(w, after)
}

func handleDeleteTestPlan(w http.ResponseWriter, r *http.Request, id string) {
	if _, err := getTestPlan(id); err != nil {
		response.Err(w, "Test plan not found", 404)
		return
	}

	var runs int
	db.QueryRow("SELECT COUNT(*) FROM test_runs WHERE plan_id = ?", id).Scan(&runs)
	if runs > 0 {
		response.Err(w, "Test plan has runs", 409)
		return
	}

	db.Exec("DELETE FROM test_plan_cases WHERE plan_id = ?", id)
	if _, err := db.Exec("DELETE FROM test_plans WHERE id = ?", id); err != nil {
		response.Err(w, err.Error(), 500)
		return
	}

	audit.LogSimpleAudit(db, hub, r, audit.ActionDelete, "test_plan", id, "Deleted test plan")
	response.JSON(w, map[string]string{"status": "deleted"})
}

func handleListPlanCases(w http.ResponseWriter, r *http.Request, planID string) {
	if _, err := getTestPlan(planID); err != nil {
		response.Err(w, "Test plan not found", 404)
		return
	}

	rows, err := db.Query(`SELECT pc.plan_id, pc.case_id, pc.position, pc.added_by, pc.added_at,
		tc.title, tc.priority, tc.suite_id
		FROM test_plan_cases pc JOIN test_cases tc ON pc.case_id = tc.id
		WHERE pc.plan_id = ? ORDER BY pc.position, pc.added_at`, planID)
	if err != nil {
		response.Err(w, err.Error(), 500)
		return
	}
	defer rows.Close()

	cases := []models.PlanCase{}
	for rows.Next() {
		var pc models.PlanCase
		if err := rows.Scan(&pc.PlanID, &pc.CaseID, &pc.Position, &pc.AddedBy, &pc.AddedAt,
			&pc.Title, &pc.Priority, &pc.SuiteID); err != nil {
			continue
		}
		cases = append(cases, pc)
	}
	response.JSON(w, cases)
}

// handleAddPlanCases appends cases to a plan, skipping any already present.
func handleAddPlanCases(w http.ResponseWriter, r *http.Request, planID string) {
	plan, err := getTestPlan(planID)
	if err != nil {
		response.Err(w, "Test plan not found", 404)
		return
	}
	if plan.Status == "archived" {
		response.Err(w, "Plan is archived", 409)
		return
	}

	var req struct {
		CaseIDs []string `json:"case_ids"`
	}
	if err := response.DecodeBody(r, &req); err != nil {
		response.Err(w, "Invalid request body", 400)
		return
	}
	if len(req.CaseIDs) == 0 {
		response.Err(w, "case_ids is required", 400)
		return
	}

	var maxPos int
	db.QueryRow("SELECT COALESCE(MAX(position), -1) FROM test_plan_cases WHERE plan_id = ?", planID).Scan(&maxPos)

	username := audit.GetUsername(db, r)
	added := 0
	for _, caseID := range req.CaseIDs {
		if _, err := getTestCase(caseID); err != nil {
			response.Err(w, "Test case not found: "+caseID, 404)
			return
		}
		var exists int
		db.QueryRow("SELECT COUNT(*) FROM test_plan_cases WHERE plan_id = ? AND case_id = ?", planID, caseID).Scan(&exists)
		if exists > 0 {
			continue
		}
		maxPos++
		if _, err := db.Exec("INSERT INTO test_plan_cases (plan_id, case_id, position, added_by) VALUES (?, ?, ?, ?)",
			planID, caseID, maxPos, username); err == nil {
			added++
		}
	}

	if added > 0 {
		audit.LogAudit(db, hub, username, audit.ActionUpdate, "test_plan", planID, "Added cases to plan")
	}
	response.JSON(w, map[string]int{"added": added})
}

func handleRemovePlanCase(w http.ResponseWriter, r *http.Request, planID, caseID string) {
	plan, err := getTestPlan(planID)
	if err != nil {
		response.Err(w, "Test plan not found", 404)
		return
	}
	if plan.Status == "archived" {
		response.Err(w, "Plan is archived", 409)
		return
	}

	res, err := db.Exec("DELETE FROM test_plan_cases WHERE plan_id = ? AND case_id = ?", planID, caseID)
	if err != nil {
		response.Err(w, err.Error(), 500)
		return
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		response.Err(w, "Case not in plan", 404)
		return
	}

	audit.LogSimpleAudit(db, hub, r, audit.ActionUpdate, "test_plan", planID, "Removed case "+caseID+" from plan")
	response.JSON(w, map[string]string{"status": "removed"})
}
