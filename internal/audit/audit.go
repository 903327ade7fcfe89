package audit

import (
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"qahub/internal/websocket"
)

// Action constants.
const (
	ActionCreate  = "created"
	ActionUpdate  = "updated"
	ActionDelete  = "deleted"
	ActionExport  = "exported"
	ActionLogin   = "login"
	ActionLogout  = "logout"
	ActionExecute = "executed"
)

// LogAudit writes a simple audit entry and broadcasts the change.
func LogAudit(db *sql.DB, hub *websocket.Hub, username, action, module, recordID, summary string) {
	_, err := db.Exec("INSERT INTO audit_log (username, action, module, record_id, summary) VALUES (?, ?, ?, ?, ?)",
		username, action, module, recordID, summary)
	if err != nil {
		log.Printf("audit log error: %v", err)
	}
	if hub != nil {
		hub.BroadcastChange(module, action, recordID)
	}
}

// GetUsername extracts the username from a session cookie.
func GetUsername(db *sql.DB, r *http.Request) string {
	cookie, err := r.Cookie("qahub_session")
	if err != nil {
		return "system"
	}
	var username string
	err = db.QueryRow("SELECT u.username FROM users u JOIN sessions s ON u.id = s.user_id WHERE s.token = ?", cookie.Value).Scan(&username)
	if err != nil {
		return "system"
	}
	return username
}

// GetUserContext extracts the authenticated user's ID and username.
func GetUserContext(r *http.Request, db *sql.DB) (userID int, username string) {
	cookie, err := r.Cookie("qahub_session")
	if err != nil {
		return 0, "system"
	}
	err = db.QueryRow("SELECT u.id, u.username FROM users u JOIN sessions s ON u.id = s.user_id WHERE s.token = ?", cookie.Value).
		Scan(&userID, &username)
	if err != nil {
		return 0, "system"
	}
	return userID, username
}

// GetClientIP extracts the real client IP from the request (handles proxies).
func GetClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		return strings.TrimSpace(ips[0])
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	ip := r.RemoteAddr
	if idx := strings.LastIndex(ip, ":"); idx != -1 {
		ip = ip[:idx]
	}
	return ip
}

// LogAuditOptions contains all options for enhanced audit logging.
type LogAuditOptions struct {
	UserID      int
	Username    string
	Action      string
	Module      string
	RecordID    string
	Summary     string
	BeforeValue interface{}
	AfterValue  interface{}
	IPAddress   string
	UserAgent   string
}

// LogAuditEnhanced logs an audit entry with before/after snapshots and
// request metadata.
func LogAuditEnhanced(db *sql.DB, hub *websocket.Hub, opts LogAuditOptions) error {
	var beforeJSON, afterJSON []byte
	if opts.BeforeValue != nil {
		beforeJSON, _ = json.Marshal(opts.BeforeValue)
	}
	if opts.AfterValue != nil {
		afterJSON, _ = json.Marshal(opts.AfterValue)
	}

	_, err := db.Exec(`INSERT INTO audit_log
		(user_id, username, action, module, record_id, summary, before_value, after_value, ip_address, user_agent)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		opts.UserID, opts.Username, opts.Action, opts.Module, opts.RecordID,
		opts.Summary, beforeJSON, afterJSON, opts.IPAddress, opts.UserAgent,
	)
	if err != nil {
		log.Printf("audit log error: %v", err)
		return err
	}

	if hub != nil {
		hub.BroadcastChange(opts.Module, opts.Action, opts.RecordID)
	}
	return nil
}

// LogSimpleAudit logs an audit entry using the request's session identity.
func LogSimpleAudit(db *sql.DB, hub *websocket.Hub, r *http.Request, action, module, recordID, summary string) {
	LogAudit(db, hub, GetUsername(db, r), action, module, recordID, summary)
}

// LogUpdateWithDiff logs an update with before/after values.
func LogUpdateWithDiff(db *sql.DB, hub *websocket.Hub, r *http.Request, module, recordID string, before, after interface{}) {
	userID, username := GetUserContext(r, db)
	LogAuditEnhanced(db, hub, LogAuditOptions{
		UserID:      userID,
		Username:    username,
		Action:      ActionUpdate,
		Module:      module,
		RecordID:    recordID,
		Summary:     "Updated " + module + " " + recordID,
		BeforeValue: before,
		AfterValue:  after,
		IPAddress:   GetClientIP(r),
		UserAgent:   r.UserAgent(),
	})
}

// GetRetentionDays returns the audit log retention period.
func GetRetentionDays(db *sql.DB) int {
	var days int
	err := db.QueryRow("SELECT COALESCE((SELECT value FROM settings WHERE key = 'audit_retention_days'), '365')").Scan(&days)
	if err != nil {
		return 365
	}
	return days
}

// SetRetentionDays updates the audit log retention period.
func SetRetentionDays(db *sql.DB, days int) error {
	_, err := db.Exec("INSERT OR REPLACE INTO settings (key, value) VALUES ('audit_retention_days', ?)", days)
	return err
}

// CleanupOldEntries deletes audit log entries older than retentionDays.
func CleanupOldEntries(db *sql.DB, retentionDays int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	result, err := db.Exec("DELETE FROM audit_log WHERE created_at < ?", cutoff.Format("2006-01-02 15:04:05"))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
