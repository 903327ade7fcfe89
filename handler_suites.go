package main

import (
	"net/http"

	"qahub/internal/audit"
	"qahub/internal/models"
	"qahub/internal/response"
	"qahub/internal/validation"
)

type SuiteRequest struct {
	RepositoryID string  `json:"repository_id"`
	ParentID     *string `json:"parent_id"`
	Name         string  `json:"name"`
	Description  string  `json:"description"`
	Position     int     `json:"position"`
}

func handleListSuites(w http.ResponseWriter, r *http.Request) {
	query := `SELECT s.id, s.repository_id, s.parent_id, s.name, s.description, s.position, s.created_at,
		(SELECT COUNT(*) FROM test_cases tc WHERE tc.suite_id = s.id)
		FROM suites s`
	args := []interface{}{}
	if repoID := r.URL.Query().Get("repository_id"); repoID != "" {
		query += " WHERE s.repository_id = ?"
		args = append(args, repoID)
	}
	query += " ORDER BY s.position, s.created_at"

	rows, err := db.Query(query, args...)
	if err != nil {
		response.Err(w, err.Error(), 500)
		return
	}
	defer rows.Close()

	suites := []models.Suite{}
	for rows.Next() {
		var s models.Suite
		if err := rows.Scan(&s.ID, &s.RepositoryID, &s.ParentID, &s.Name, &s.Description,
			&s.Position, &s.CreatedAt, &s.CaseCount); err != nil {
			continue
		}
		suites = append(suites, s)
	}
	response.JSON(w, suites)
}

func handleCreateSuite(w http.ResponseWriter, r *http.Request) {
	var req SuiteRequest
	if err := response.DecodeBody(r, &req); err != nil {
		response.Err(w, "Invalid request body", 400)
		return
	}

	ve := &validation.ValidationErrors{}
	validation.RequireField(ve, "repository_id", req.RepositoryID)
	validation.RequireField(ve, "name", req.Name)
	validation.ValidateMaxLength(ve, "name", req.Name, 255)
	if ve.HasErrors() {
		response.Err(w, ve.Error(), 400)
		return
	}

	if _, err := getRepository(req.RepositoryID); err != nil {
		response.Err(w, "Repository not found", 404)
		return
	}
	if req.ParentID != nil {
		parent, err := getSuite(*req.ParentID)
		if err != nil {
			response.Err(w, "Parent suite not found", 404)
			return
		}
		if parent.RepositoryID != req.RepositoryID {
			response.Err(w, "Parent suite belongs to a different repository", 400)
			return
		}
	}

	id := nextID("SUI", "suites", 3)
	username := audit.GetUsername(db, r)
	_, err := db.Exec("INSERT INTO suites (id, repository_id, parent_id, name, description, position) VALUES (?, ?, ?, ?, ?, ?)",
		id, req.RepositoryID, req.ParentID, req.Name, req.Description, req.Position)
	if err != nil {
		response.Err(w, err.Error(), 500)
		return
	}

	audit.LogAudit(db, hub, username, audit.ActionCreate, "suite", id, "Created suite "+req.Name)
	w.WriteHeader(201)
	response.JSON(w, map[string]string{"id": id})
}

func getSuite(id string) (*models.Suite, error) {
	var s models.Suite
	err := db.QueryRow("SELECT id, repository_id, parent_id, name, description, position, created_at FROM suites WHERE id = ?", id).
		Scan(&s.ID, &s.RepositoryID, &s.ParentID, &s.Name, &s.Description, &s.Position, &s.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func handleGetSuite(w http.ResponseWriter, r *http.Request, id string) {
	s, err := getSuite(id)
	if err != nil {
		response.Err(w, "Suite not found", 404)
		return
	}
	db.QueryRow("SELECT COUNT(*) FROM test_cases WHERE suite_id = ?", id).Scan(&s.CaseCount)
	response.JSON(w, s)
}

// wouldCycle reports whether setting parentID as id's parent creates a loop.
func wouldCycle(id string, parentID *string) bool {
	seen := map[string]bool{id: true}
	cur := parentID
	for cur != nil {
		if seen[*cur] {
			return true
		}
		seen[*cur] = true
		var next *string
		if err := db.QueryRow("SELECT parent_id FROM suites WHERE id = ?", *cur).Scan(&next); err != nil {
			return false
		}
		cur = next
	}
	return false
}

func handleUpdateSuite(w http.ResponseWriter, r *http.Request, id string) {
	before, err := getSuite(id)
	if err != nil {
		response.Err(w, "Suite not found", 404)
		return
	}

	var req SuiteRequest
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

	if req.ParentID != nil {
		parent, err := getSuite(*req.ParentID)
		if err != nil {
			response.Err(w, "Parent suite not found", 404)
			return
		}
		if parent.RepositoryID != before.RepositoryID {
			response.Err(w, "Parent suite belongs to a different repository", 400)
			return
		}
		if wouldCycle(id, req.ParentID) {
			response.Err(w, "Suite cannot be its own ancestor", 400)
			return
		}
	}

	_, err = db.Exec("UPDATE suites SET parent_id = ?, name = ?, description = ?, position = ? WHERE id = ?",
		req.ParentID, req.Name, req.Description, req.Position, id)
	if err != nil {
		response.Err(w, err.Error(), 500)
		return
	}

	after, _ := getSuite(id)
	audit.LogUpdateWithDiff(db, hub, r, "suite", id, before, after)
	response.JSON(w, after)
}

func handleDeleteSuite(w http.ResponseWriter, r *http.Request, id string) {
	if _, err := getSuite(id); err != nil {
		response.Err(w, "Suite not found", 404)
		return
	}

	var children, cases int
	db.QueryRow("SELECT COUNT(*) FROM suites WHERE parent_id = ?", id).Scan(&children)
	db.QueryRow("SELECT COUNT(*) FROM test_cases WHERE suite_id = ?", id).Scan(&cases)
	if children > 0 {
		response.Err(w, "Suite still has child suites", 409)
		return
	}
	if cases > 0 {
		response.Err(w, "Suite still contains test cases", 409)
		return
	}

	if _, err := db.Exec("DELETE FROM suites WHERE id = ?", id); err != nil {
		response.Err(w, err.Error(), 500)
		return
	}

	audit.LogSimpleAudit(db, hub, r, audit.ActionDelete, "suite", id, "Deleted suite")
	response.JSON(w, map[string]string{"status": "deleted"})
}
