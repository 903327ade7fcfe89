package main

import (
	"net/http"
	"strconv"
	"strings"

	"qahub/internal/audit"
	"qahub/internal/auth"
	"qahub/internal/models"
	"qahub/internal/response"
	"qahub/internal/validation"
)

type CreateUserRequest struct {
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	Password    string `json:"password"`
	Role        string `json:"role"`
}

type UpdateUserRequest struct {
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
	Active      *int   `json:"active"`
}

// currentUser resolves the session cookie to a user row, or nil.
func currentUser(r *http.Request) *models.User {
	cookie, err := r.Cookie("qahub_session")
	if err != nil {
		return nil
	}
	var u models.User
	var active int
	var lastLogin *string
	err = db.QueryRow(`SELECT u.id, u.username, u.display_name, u.role, u.active, u.created_at, u.last_login
		FROM sessions s JOIN users u ON s.user_id = u.id
		WHERE s.token = ? AND s.expires_at > CURRENT_TIMESTAMP`, cookie.Value).
		Scan(&u.ID, &u.Username, &u.DisplayName, &u.Role, &active, &u.CreatedAt, &lastLogin)
	if err != nil {
		return nil
	}
	u.Active = active == 1
	u.LastLogin = lastLogin
	return &u
}

func handleListUsers(w http.ResponseWriter, r *http.Request) {
	rows, err := db.Query("SELECT id, username, display_name, role, active, created_at, last_login FROM users ORDER BY id")
	if err != nil {
		response.Err(w, err.Error(), 500)
		return
	}
	defer rows.Close()

	users := []models.User{}
	for rows.Next() {
		var u models.User
		var active int
		var lastLogin *string
		if err := rows.Scan(&u.ID, &u.Username, &u.DisplayName, &u.Role, &active, &u.CreatedAt, &lastLogin); err != nil {
			continue
		}
		u.Active = active == 1
		u.LastLogin = lastLogin
		users = append(users, u)
	}
	response.JSON(w, users)
}

func handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := response.DecodeBody(r, &req); err != nil {
		response.Err(w, "Invalid request body", 400)
		return
	}
	req.Username = auth.NormalizeUsername(req.Username)
	if req.Username == "" || req.Password == "" {
		response.Err(w, "Username and password required", 400)
		return
	}

	ve := &validation.ValidationErrors{}
	validation.ValidateMaxLength(ve, "username", req.Username, 100)
	validation.ValidateMaxLength(ve, "display_name", req.DisplayName, 255)
	validation.ValidateEnum(ve, "role", req.Role, validation.ValidUserRoles)
	if ve.HasErrors() {
		response.Err(w, ve.Error(), 400)
		return
	}
	if err := auth.ValidatePasswordStrength(req.Password); err != nil {
		response.Err(w, err.Error(), 400)
		return
	}
	if req.Role == "" {
		req.Role = "user"
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		response.Err(w, "Failed to hash password", 500)
		return
	}
	result, err := db.Exec("INSERT INTO users (username, password_hash, display_name, role, active) VALUES (?, ?, ?, ?, 1)",
		req.Username, hash, req.DisplayName, req.Role)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			response.Err(w, "Username already exists", 409)
			return
		}
		response.Err(w, err.Error(), 500)
		return
	}
	id, _ := result.LastInsertId()

	audit.LogSimpleAudit(db, hub, r, audit.ActionCreate, "user", req.Username, "Created user "+req.Username)
	w.WriteHeader(201)
	response.JSON(w, map[string]interface{}{"id": id, "username": req.Username, "display_name": req.DisplayName, "role": req.Role})
}

func handleUpdateUser(w http.ResponseWriter, r *http.Request, idStr string) {
	me := currentUser(r)
	id, err := strconv.Atoi(idStr)
	if err != nil {
		response.Err(w, "Invalid user ID", 400)
		return
	}
	var req UpdateUserRequest
	if err := response.DecodeBody(r, &req); err != nil {
		response.Err(w, "Invalid request body", 400)
		return
	}
	if me != nil && req.Active != nil && *req.Active == 0 && id == me.ID {
		response.Err(w, "Cannot deactivate yourself", 400)
		return
	}

	ve := &validation.ValidationErrors{}
	validation.ValidateEnum(ve, "role", req.Role, validation.ValidUserRoles)
	if ve.HasErrors() {
		response.Err(w, ve.Error(), 400)
		return
	}
	if req.Role == "" {
		req.Role = "user"
	}
	active := 1
	if req.Active != nil {
		active = *req.Active
	}

	result, err := db.Exec("UPDATE users SET display_name = ?, role = ?, active = ? WHERE id = ?",
		req.DisplayName, req.Role, active, id)
	if err != nil {
		response.Err(w, err.Error(), 500)
		return
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		response.Err(w, "User not found", 404)
		return
	}
	if active == 0 {
		db.Exec("DELETE FROM sessions WHERE user_id = ?", id)
	}
	audit.LogSimpleAudit(db, hub, r, audit.ActionUpdate, "user", idStr, "Updated user")
	response.JSON(w, map[string]string{"status": "updated"})
}

func handleDeleteUser(w http.ResponseWriter, r *http.Request, idStr string) {
	me := currentUser(r)
	id, err := strconv.Atoi(idStr)
	if err != nil {
		response.Err(w, "Invalid user ID", 400)
		return
	}
	if me != nil && id == me.ID {
		response.Err(w, "Cannot delete yourself", 400)
		return
	}

	var username string
	if err := db.QueryRow("SELECT username FROM users WHERE id = ?", id).Scan(&username); err != nil {
		response.Err(w, "User not found", 404)
		return
	}

	// A user referenced in records or the audit trail is deactivated
	// instead of deleted, so history stays attributable.
	var refs int
	db.QueryRow("SELECT COUNT(*) FROM audit_log WHERE username = ?", username).Scan(&refs)
	if refs == 0 {
		var created int
		db.QueryRow(`SELECT
			(SELECT COUNT(*) FROM projects WHERE created_by = ?) +
			(SELECT COUNT(*) FROM test_cases WHERE created_by = ?) +
			(SELECT COUNT(*) FROM test_runs WHERE created_by = ?)`,
			username, username, username).Scan(&created)
		refs = created
	}

	if refs > 0 {
		db.Exec("UPDATE users SET active = 0 WHERE id = ?", id)
		db.Exec("DELETE FROM sessions WHERE user_id = ?", id)
		audit.LogSimpleAudit(db, hub, r, audit.ActionUpdate, "user", idStr, "Deactivated user "+username)
		response.JSON(w, map[string]string{"status": "deactivated"})
		return
	}

	db.Exec("DELETE FROM users WHERE id = ?", id)
	db.Exec("DELETE FROM sessions WHERE user_id = ?", id)
	audit.LogSimpleAudit(db, hub, r, audit.ActionDelete, "user", idStr, "Deleted user "+username)
	response.JSON(w, map[string]string{"status": "deleted"})
}

func handleResetPassword(w http.ResponseWriter, r *http.Request, idStr string) {
	id, err := strconv.Atoi(idStr)
	if err != nil {
		response.Err(w, "Invalid user ID", 400)
		return
	}
	var req struct {
		Password string `json:"password"`
	}
	if err := response.DecodeBody(r, &req); err != nil {
		response.Err(w, "Invalid request body", 400)
		return
	}
	if err := auth.ValidatePasswordStrength(req.Password); err != nil {
		response.Err(w, err.Error(), 400)
		return
	}
	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		response.Err(w, "Failed to hash password", 500)
		return
	}
	result, err := db.Exec("UPDATE users SET password_hash = ?, failed_login_attempts = 0, locked_until = NULL WHERE id = ?", hash, id)
	if err != nil {
		response.Err(w, err.Error(), 500)
		return
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		response.Err(w, "User not found", 404)
		return
	}
	audit.LogSimpleAudit(db, hub, r, audit.ActionUpdate, "user", idStr, "Reset password")
	response.JSON(w, map[string]string{"status": "password_reset"})
}
