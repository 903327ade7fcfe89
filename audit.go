package main

import (
	"encoding/csv"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"qahub/internal/audit"
	"qahub/internal/models"
	"qahub/internal/response"
)

func auditFilterClause(r *http.Request) (string, []interface{}) {
	var args []interface{}
	var conditions []string
	if module := r.URL.Query().Get("module"); module != "" {
		conditions = append(conditions, "module = ?")
		args = append(args, module)
	}
	if user := r.URL.Query().Get("user"); user != "" {
		conditions = append(conditions, "username = ?")
		args = append(args, user)
	}
	if action := r.URL.Query().Get("action"); action != "" {
		conditions = append(conditions, "action = ?")
		args = append(args, action)
	}
	if search := r.URL.Query().Get("search"); search != "" {
		conditions = append(conditions, "(summary LIKE ? OR action LIKE ? OR module LIKE ? OR record_id LIKE ?)")
		s := "%" + search + "%"
		args = append(args, s, s, s, s)
	}
	if from := r.URL.Query().Get("from"); from != "" {
		conditions = append(conditions, "created_at >= ?")
		args = append(args, from)
	}
	if to := r.URL.Query().Get("to"); to != "" {
		conditions = append(conditions, "created_at <= ?")
		args = append(args, to+" 23:59:59")
	}

	if len(conditions) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

func handleAuditLog(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if n, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && n > 0 {
		limit = n
	}
	page := 1
	if n, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && n > 0 {
		page = n
	}

	whereClause, args := auditFilterClause(r)

	var total int
	db.QueryRow("SELECT COUNT(*) FROM audit_log"+whereClause, args...).Scan(&total)

	offset := (page - 1) * limit
	query := `SELECT id, COALESCE(user_id, 0), COALESCE(username, 'system'), action, module, record_id,
		COALESCE(summary, ''), COALESCE(before_value, ''), COALESCE(after_value, ''),
		COALESCE(ip_address, ''), COALESCE(user_agent, ''), created_at
		FROM audit_log` + whereClause + " ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?"

	rows, err := db.Query(query, append(args, limit, offset)...)
	if err != nil {
		response.Err(w, err.Error(), 500)
		return
	}
	defer rows.Close()

	entries := []models.AuditEntry{}
	for rows.Next() {
		var e models.AuditEntry
		rows.Scan(&e.ID, &e.UserID, &e.Username, &e.Action, &e.Module, &e.RecordID,
			&e.Summary, &e.BeforeValue, &e.AfterValue, &e.IPAddress, &e.UserAgent, &e.CreatedAt)
		entries = append(entries, e)
	}
	response.JSONMeta(w, entries, total, page, limit)
}

func handleExportAuditLog(w http.ResponseWriter, r *http.Request) {
	whereClause, args := auditFilterClause(r)

	query := `SELECT id, COALESCE(username, 'system'), action, module, record_id,
		COALESCE(summary, ''), COALESCE(ip_address, ''), created_at
		FROM audit_log` + whereClause + " ORDER BY created_at DESC LIMIT 10000"

	rows, err := db.Query(query, args...)
	if err != nil {
		response.Err(w, err.Error(), 500)
		return
	}
	defer rows.Close()

	filename := fmt.Sprintf("audit_log_%s.csv", time.Now().Format("2006-01-02"))
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", filename))

	writer := csv.NewWriter(w)
	defer writer.Flush()
	writer.Write([]string{"ID", "Username", "Action", "Module", "Record ID", "Summary", "IP Address", "Timestamp"})

	count := 0
	for rows.Next() {
		var id int
		var username, action, module, recordID, summary, ipAddr, createdAt string
		rows.Scan(&id, &username, &action, &module, &recordID, &summary, &ipAddr, &createdAt)
		writer.Write([]string{strconv.Itoa(id), username, action, module, recordID, summary, ipAddr, createdAt})
		count++
	}

	audit.LogSimpleAudit(db, hub, r, audit.ActionExport, "audit_log", "",
		fmt.Sprintf("Exported %d audit entries", count))
}

func handleGetAuditRetention(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, map[string]int{"retention_days": audit.GetRetentionDays(db)})
}

func handleSetAuditRetention(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RetentionDays int `json:"retention_days"`
	}
	if err := response.DecodeBody(r, &req); err != nil {
		response.Err(w, "Invalid request body", 400)
		return
	}
	if req.RetentionDays < 30 || req.RetentionDays > 3650 {
		response.Err(w, "Retention days must be between 30 and 3650", 400)
		return
	}
	if err := audit.SetRetentionDays(db, req.RetentionDays); err != nil {
		response.Err(w, err.Error(), 500)
		return
	}

	audit.LogSimpleAudit(db, hub, r, audit.ActionUpdate, "settings", "audit_retention",
		fmt.Sprintf("Updated audit retention to %d days", req.RetentionDays))
	response.JSON(w, map[string]int{"retention_days": req.RetentionDays})
}
