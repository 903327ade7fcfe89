package main

import (
	"net/http"
	"strconv"
	"strings"

	"qahub/internal/audit"
	"qahub/internal/models"
	"qahub/internal/response"
)

func handleListComments(w http.ResponseWriter, r *http.Request) {
	module := r.URL.Query().Get("module")
	recordID := r.URL.Query().Get("record_id")
	if module == "" || recordID == "" {
		response.Err(w, "module and record_id required", 400)
		return
	}

	rows, err := db.Query(`SELECT id, module, record_id, body, created_by, created_at, updated_at, edited
		FROM comments WHERE module = ? AND record_id = ? ORDER BY created_at`, module, recordID)
	if err != nil {
		response.Err(w, err.Error(), 500)
		return
	}
	defer rows.Close()

	comments := []models.Comment{}
	for rows.Next() {
		var c models.Comment
		var edited int
		if err := rows.Scan(&c.ID, &c.Module, &c.RecordID, &c.Body, &c.CreatedBy, &c.CreatedAt, &c.UpdatedAt, &edited); err != nil {
			continue
		}
		c.Edited = edited == 1
		comments = append(comments, c)
	}
	response.JSON(w, comments)
}

func handleCreateComment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Module   string `json:"module"`
		RecordID string `json:"record_id"`
		Body     string `json:"body"`
	}
	if err := response.DecodeBody(r, &req); err != nil {
		response.Err(w, "Invalid request body", 400)
		return
	}
	if req.Module == "" || req.RecordID == "" || strings.TrimSpace(req.Body) == "" {
		response.Err(w, "module, record_id and body required", 400)
		return
	}

	username := audit.GetUsername(db, r)
	result, err := db.Exec("INSERT INTO comments (module, record_id, body, created_by) VALUES (?, ?, ?, ?)",
		req.Module, req.RecordID, req.Body, username)
	if err != nil {
		response.Err(w, err.Error(), 500)
		return
	}
	id, _ := result.LastInsertId()

	audit.LogAudit(db, hub, username, audit.ActionCreate, "comment", req.RecordID, "Commented on "+req.RecordID)
	w.WriteHeader(201)
	response.JSON(w, map[string]interface{}{"id": id})
}

// commentOwnerOrAdmin loads a comment and checks the caller may modify it.
func commentOwnerOrAdmin(w http.ResponseWriter, r *http.Request, idStr string) (int, bool) {
	id, err := strconv.Atoi(idStr)
	if err != nil {
		response.Err(w, "Invalid ID", 400)
		return 0, false
	}
	var createdBy string
	if err := db.QueryRow("SELECT created_by FROM comments WHERE id = ?", id).Scan(&createdBy); err != nil {
		response.Err(w, "Comment not found", 404)
		return 0, false
	}
	me := currentUser(r)
	if me == nil || (me.Username != createdBy && me.Role != "admin") {
		response.Err(w, "Only the author or an admin can modify this comment", 403)
		return 0, false
	}
	return id, true
}

func handleUpdateComment(w http.ResponseWriter, r *http.Request, idStr string) {
	id, ok := commentOwnerOrAdmin(w, r, idStr)
	if !ok {
		return
	}

	var req struct {
		Body string `json:"body"`
	}
	if err := response.DecodeBody(r, &req); err != nil {
		response.Err(w, "Invalid request body", 400)
		return
	}
	if strings.TrimSpace(req.Body) == "" {
		response.Err(w, "body required", 400)
		return
	}

	_, err := db.Exec("UPDATE comments SET body = ?, updated_at = CURRENT_TIMESTAMP, edited = 1 WHERE id = ?", req.Body, id)
	if err != nil {
		response.Err(w, err.Error(), 500)
		return
	}

	audit.LogSimpleAudit(db, hub, r, audit.ActionUpdate, "comment", idStr, "Edited comment")
	response.JSON(w, map[string]string{"status": "updated"})
}

func handleDeleteComment(w http.ResponseWriter, r *http.Request, idStr string) {
	id, ok := commentOwnerOrAdmin(w, r, idStr)
	if !ok {
		return
	}

	if _, err := db.Exec("DELETE FROM comments WHERE id = ?", id); err != nil {
		response.Err(w, err.Error(), 500)
		return
	}

	audit.LogSimpleAudit(db, hub, r, audit.ActionDelete, "comment", idStr, "Deleted comment")
	response.JSON(w, map[string]string{"status": "deleted"})
}
