package main

import (
	"net/http"

	"qahub/internal/audit"
	"qahub/internal/models"
	"qahub/internal/response"
	"qahub/internal/validation"
)

type RepositoryRequest struct {
	ProjectID   string `json:"project_id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

func handleListRepositories(w http.ResponseWriter, r *http.Request) {
	query := `SELECT rp.id, rp.project_id, rp.name, rp.description, rp.created_by, rp.created_at, rp.updated_at,
		(SELECT COUNT(*) FROM suites s WHERE s.repository_id = rp.id),
		(SELECT COUNT(*) FROM test_cases tc JOIN suites s ON tc.suite_id = s.id WHERE s.repository_id = rp.id)
		FROM repositories rp`
	args := []interface{}{}
	if projectID := r.URL.Query().Get("project_id"); projectID != "" {
		query += " WHERE rp.project_id = ?"
		args = append(args, projectID)
	}
	query += " ORDER BY rp.created_at DESC"

	rows, err := db.Query(query, args...)
	if err != nil {
		response.Err(w, err.Error(), 500)
		return
	}
	defer rows.Close()

	repos := []models.Repository{}
	for rows.Next() {
		var rp models.Repository
		if err := rows.Scan(&rp.ID, &rp.ProjectID, &rp.Name, &rp.Description, &rp.CreatedBy,
			&rp.CreatedAt, &rp.UpdatedAt, &rp.SuiteCount, &rp.CaseCount); err != nil {
			continue
		}
		repos = append(repos, rp)
	}
	response.JSON(w, repos)
}

func handleCreateRepository(w http.ResponseWriter, r *http.Request) {
	var req RepositoryRequest
	if err := response.DecodeBody(r, &req); err != nil {
		response.Err(w, "Invalid request body", 400)
		return
	}

	ve := &validation.ValidationErrors{}
	validation.RequireField(ve, "project_id", req.ProjectID)
	validation.RequireField(ve, "name", req.Name)
	validation.ValidateMaxLength(ve, "name", req.Name, 255)
	if ve.HasErrors() {
		response.Err(w, ve.Error(), 400)
		return
	}

	if _, err := getProject(req.ProjectID); err != nil {
		response.Err(w, "Project not found", 404)
		return
	}

	id := nextID("REP", "repositories", 3)
	username := audit.GetUsername(db, r)
	_, err := db.Exec("INSERT INTO repositories (id, project_id, name, description, created_by) VALUES (?, ?, ?, ?, ?)",
		id, req.ProjectID, req.Name, req.Description, username)
	if err != nil {
		response.Err(w, err.Error(), 500)
		return
	}

	audit.LogAudit(db, hub, username, audit.ActionCreate, "repository", id, "Created repository "+req.Name)
	w.WriteHeader(201)
	response.JSON(w, map[string]string{"id": id})
}

func getRepository(id string) (*models.Repository, error) {
	var rp models.Repository
	err := db.QueryRow("SELECT id, project_id, name, description, created_by, created_at, updated_at FROM repositories WHERE id = ?", id).
		Scan(&rp.ID, &rp.ProjectID, &rp.Name, &rp.Description, &rp.CreatedBy, &rp.CreatedAt, &rp.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &rp, nil
}

func handleGetRepository(w http.ResponseWriter, r *http.Request, id string) {
	rp, err := getRepository(id)
	if err != nil {
		response.Err(w, "Repository not found", 404)
		return
	}
	db.QueryRow("SELECT COUNT(*) FROM suites WHERE repository_id = ?", id).Scan(&rp.SuiteCount)
	db.QueryRow("SELECT COUNT(*) FROM test_cases tc JOIN suites s ON tc.suite_id = s.id WHERE s.repository_id = ?", id).Scan(&rp.CaseCount)
	response.JSON(w, rp)
}

func handleUpdateRepository(w http.ResponseWriter, r *http.Request, id string) {
	before, err := getRepository(id)
	if err != nil {
		response.Err(w, "Repository not found", 404)
		return
	}

	var req RepositoryRequest
	if err := response.DecodeBody(r, &req); err != nil {
		response.Err(w, "Invalid request body", 400)
		return
	}

	ve := &validation.ValidationErrors{}
	validation.RequireField(ve, "name", req.Name)
	validation.ValidateMaxLength(ve, "name", req.Name, 255)
	if ve.HasErrors() {
		response.Err(w, ve.Error(), 400)
		return
	}

	_, err = db.Exec("UPDATE repositories SET name = ?, description = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?",
		req.Name, req.Description, id)
	if err != nil {
		response.Err(w, err.Error(), 500)
		return
	}

	after, _ := getRepository(id)
	audit.LogUpdateWithDiff(db, hub, r, "repository", id, before, after)
	response.JSON(w, after)
}

func handleDeleteRepository(w http.ResponseWriter, r *http.Request, id string) {
	if _, err := getRepository(id); err != nil {
		response.Err(w, "Repository not found", 404)
		return
	}

	var suites int
	db.QueryRow("SELECT COUNT(*) FROM suites WHERE repository_id = ?", id).Scan(&suites)
	if suites > 0 {
		response.Err(w, "Repository still has suites", 409)
		return
	}

	if _, err := db.Exec("DELETE FROM repositories WHERE id = ?", id); err != nil {
		response.Err(w, err.Error(), 500)
		return
	}

	audit.LogSimpleAudit(db, hub, r, audit.ActionDelete, "repository", id, "Deleted repository")
	response.JSON(w, map[string]string{"status": "deleted"})
}

// handleRepositorySuiteTree returns the repository's suites nested by parent.
func handleRepositorySuiteTree(w http.ResponseWriter, r *http.Request, id string) {
	if _, err := getRepository(id); err != nil {
		response.Err(w, "Repository not found", 404)
		return
	}

	rows, err := db.Query(`SELECT s.id, s.repository_id, s.parent_id, s.name, s.description, s.position, s.created_at,
		(SELECT COUNT(*) FROM test_cases tc WHERE tc.suite_id = s.id)
		FROM suites s WHERE s.repository_id = ? ORDER BY s.position, s.created_at`, id)
	if err != nil {
		response.Err(w, err.Error(), 500)
		return
	}
	defer rows.Close()

	all := []models.Suite{}
	for rows.Next() {
		var s models.Suite
		if err := rows.Scan(&s.ID, &s.RepositoryID, &s.ParentID, &s.Name, &s.Description,
			&s.Position, &s.CreatedAt, &s.CaseCount); err != nil {
			continue
		}
		all = append(all, s)
	}

	response.JSON(w, buildSuiteTree(all, nil))
}

// buildSuiteTree nests suites under their parents, preserving query order.
func buildSuiteTree(all []models.Suite, parent *string) []models.Suite {
	out := []models.Suite{}
	for _, s := range all {
		match := (parent == nil && s.ParentID == nil) ||
			(parent != nil && s.ParentID != nil && *s.ParentID == *parent)
		if !match {
			continue
		}
		id := s.ID
		s.Children = buildSuiteTree(all, &id)
		out = append(out, s)
	}
	return out
}
