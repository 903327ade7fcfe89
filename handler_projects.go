package main

import (
	"net/http"
	"strings"

	"qahub/internal/audit"
	"qahub/internal/models"
	"qahub/internal/response"
	"qahub/internal/validation"
)

type ProjectRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Status      string `json:"status"`
}

func handleListProjects(w http.ResponseWriter, r *http.Request) {
	query := "SELECT id, name, description, status, created_by, created_at, updated_at FROM projects"
	args := []interface{}{}
	if status := r.URL.Query().Get("status"); status != "" {
		query += " WHERE status = ?"
		args = append(args, status)
	}
	query += " ORDER BY created_at DESC"

	rows, err := db.Query(query, args...)
	if err != nil {
		response.Err(w, err.Error(), 500)
		return
	}
	defer rows.Close()

	projects := []models.Project{}
	for rows.Next() {
		var p models.Project
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.Status, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt); err != nil {
			continue
		}
		projects = append(projects, p)
	}
	response.JSON(w, projects)
}

func handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req ProjectRequest
	if err := response.DecodeBody(r, &req); err != nil {
		response.Err(w, "Invalid request body", 400)
		return
	}

	ve := &validation.ValidationErrors{}
	validation.RequireField(ve, "name", req.Name)
	validation.ValidateMaxLength(ve, "name", req.Name, 255)
	validation.ValidateEnum(ve, "status", req.Status, validation.ValidProjectStatuses)
	if ve.HasErrors() {
		response.Err(w, ve.Error(), 400)
		return
	}
	if req.Status == "" {
		req.Status = "active"
	}

	id := nextID("PRJ", "projects", 3)
	username := audit.GetUsername(db, r)
	_, err := db.Exec("INSERT INTO projects (id, name, description, status, created_by) VALUES (?, ?, ?, ?, ?)",
		id, req.Name, req.Description, req.Status, username)
	if err != nil {
		response.Err(w, err.Error(), 500)
		return
	}

	audit.LogAudit(db, hub, username, audit.ActionCreate, "project", id, "Created project "+req.Name)
	w.WriteHeader(201)
	response.JSON(w, map[string]string{"id": id})
}

func getProject(id string) (*models.Project, error) {
	var p models.Project
	err := db.QueryRow("SELECT id, name, description, status, created_by, created_at, updated_at FROM projects WHERE id = ?", id).
		Scan(&p.ID, &p.Name, &p.Description, &p.Status, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func handleGetProject(w http.ResponseWriter, r *http.Request, id string) {
	p, err := getProject(id)
	if err != nil {
		response.Err(w, "Project not found", 404)
		return
	}
	response.JSON(w, p)
}

func handleUpdateProject(w http.ResponseWriter, r *http.Request, id string) {
	before, err := getProject(id)
	if err != nil {
		response.Err(w, "Project not found", 404)
		return
	}

	var req ProjectRequest
	if err := response.DecodeBody(r, &req); err != nil {
		response.Err(w, "Invalid request body", 400)
		return
	}

	ve := &validation.ValidationErrors{}
	validation.RequireField(ve, "name", req.Name)
	validation.ValidateMaxLength(ve, "name", req.Name, 255)
	validation.ValidateEnum(ve, "status", req.Status, validation.ValidProjectStatuses)
	if ve.HasErrors() {
		response.Err(w, ve.Error(), 400)
		return
	}
	if req.Status == "" {
		req.Status = before.Status
	}

	_, err = db.Exec("UPDATE projects SET name = ?, description = ?, status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?",
		req.Name, req.Description, req.Status, id)
	if err != nil {
		response.Err(w, err.Error(), 500)
		return
	}

	after, _ := getProject(id)
	audit.LogUpdateWithDiff(db, hub, r, "project", id, before, after)
	response.JSON(w, after)
}

func handleDeleteProject(w http.ResponseWriter, r *http.Request, id string) {
	if _, err := getProject(id); err != nil {
		response.Err(w, "Project not found", 404)
		return
	}

	var repos int
	db.QueryRow("SELECT COUNT(*) FROM repositories WHERE project_id = ?", id).Scan(&repos)
	if repos > 0 {
		response.Err(w, "Project still has repositories", 409)
		return
	}
	var plans, runs int
	db.QueryRow("SELECT COUNT(*) FROM test_plans WHERE project_id = ?", id).Scan(&plans)
	db.QueryRow("SELECT COUNT(*) FROM test_runs WHERE project_id = ?", id).Scan(&runs)
	if plans > 0 || runs > 0 {
		response.Err(w, "Project still has test plans or runs", 409)
		return
	}

	if _, err := db.Exec("DELETE FROM projects WHERE id = ?", id); err != nil {
		if strings.Contains(err.Error(), "FOREIGN KEY") {
			response.Err(w, "Project is still referenced", 409)
			return
		}
		response.Err(w, err.Error(), 500)
		return
	}

	audit.LogSimpleAudit(db, hub, r, audit.ActionDelete, "project", id, "Deleted project")
	response.JSON(w, map[string]string{"status": "deleted"})
}

func handleProjectStats(w http.ResponseWriter, r *http.Request, id string) {
	if _, err := getProject(id); err != nil {
		response.Err(w, "Project not found", 404)
		return
	}

	stats := models.ProjectStats{ProjectID: id}
	db.QueryRow("SELECT COUNT(*) FROM repositories WHERE project_id = ?", id).Scan(&stats.Repositories)
	db.QueryRow(`SELECT COUNT(*) FROM suites s JOIN repositories rp ON s.repository_id = rp.id
		WHERE rp.project_id = ?`, id).Scan(&stats.Suites)
	db.QueryRow(`SELECT COUNT(*), COALESCE(SUM(CASE WHEN tc.status = 'active' THEN 1 ELSE 0 END), 0)
		FROM test_cases tc JOIN suites s ON tc.suite_id = s.id
		JOIN repositories rp ON s.repository_id = rp.id
		WHERE rp.project_id = ?`, id).Scan(&stats.TestCases, &stats.ActiveCases)
	db.QueryRow("SELECT COUNT(*) FROM test_plans WHERE project_id = ?", id).Scan(&stats.TestPlans)
	db.QueryRow(`SELECT COUNT(*), COALESCE(SUM(CASE WHEN status = 'in_progress' THEN 1 ELSE 0 END), 0)
		FROM test_runs WHERE project_id = ?`, id).Scan(&stats.TestRuns, &stats.RunsInFlight)

	var latestRun string
	err := db.QueryRow(`SELECT id FROM test_runs WHERE project_id = ? AND status IN ('completed','in_progress')
		ORDER BY created_at DESC LIMIT 1`, id).Scan(&latestRun)
	if err == nil {
		stats.LatestRunID = &latestRun
		rs := computeRunStats(latestRun)
		stats.LatestRunRate = &rs.PassRate
	}

	response.JSON(w, stats)
}
