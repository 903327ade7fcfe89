package main

import (
	"fmt"
	"log"
	"net/http"

	"qahub/internal/models"
	"qahub/internal/response"
)

func strPtr(s string) *string { return &s }

func handleListNotifications(w http.ResponseWriter, r *http.Request) {
	q := "SELECT id, type, severity, title, message, record_id, module, read_at, created_at FROM notifications"
	if r.URL.Query().Get("unread") == "true" {
		q += " WHERE read_at IS NULL"
	}
	q += " ORDER BY created_at DESC LIMIT 50"

	rows, err := db.Query(q)
	if err != nil {
		response.Err(w, err.Error(), 500)
		return
	}
	defer rows.Close()

	notifs := []models.Notification{}
	for rows.Next() {
		var n models.Notification
		if err := rows.Scan(&n.ID, &n.Type, &n.Severity, &n.Title, &n.Message, &n.RecordID, &n.Module, &n.ReadAt, &n.CreatedAt); err != nil {
			continue
		}
		notifs = append(notifs, n)
	}
	response.JSON(w, notifs)
}

func handleMarkNotificationRead(w http.ResponseWriter, r *http.Request, id string) {
	if _, err := db.Exec("UPDATE notifications SET read_at = CURRENT_TIMESTAMP WHERE id = ?", id); err != nil {
		response.Err(w, err.Error(), 500)
		return
	}
	response.JSON(w, map[string]string{"status": "read"})
}

type pendingNotif struct {
	ntype    string
	severity string
	title    string
	message  *string
	recordID *string
	module   *string
}

// generateNotifications checks for actionable conditions and creates
// notifications for them.
func generateNotifications() {
	var pending []pendingNotif

	// Runs stuck in progress for more than a week
	func() {
		rows, err := db.Query(`SELECT id, name FROM test_runs
			WHERE status = 'in_progress' AND started_at < datetime('now', '-7 days')`)
		if err != nil {
			return
		}
		defer rows.Close()
		for rows.Next() {
			var id, name string
			rows.Scan(&id, &name)
			pending = append(pending, pendingNotif{ntype: "stale_run", severity: "warning", title: "Stale run: " + id,
				message: strPtr("In progress for >7 days: " + name), recordID: strPtr(id), module: strPtr("test_run")})
		}
	}()

	// Runs failing more than half of their executed cases
	func() {
		rows, err := db.Query(`SELECT run_id,
			SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END),
			SUM(CASE WHEN status IN ('passed','failed','blocked','skipped') THEN 1 ELSE 0 END)
			FROM test_run_results GROUP BY run_id`)
		if err != nil {
			return
		}
		defer rows.Close()
		for rows.Next() {
			var runID string
			var failed, executed int
			rows.Scan(&runID, &failed, &executed)
			if executed == 0 || float64(failed)/float64(executed) <= 0.5 {
				continue
			}
			var status string
			if err := db.QueryRow("SELECT status FROM test_runs WHERE id = ?", runID).Scan(&status); err != nil || status == "aborted" {
				continue
			}
			pending = append(pending, pendingNotif{ntype: "high_failure_rate", severity: "critical", title: "High failure rate: " + runID,
				message: strPtr(fmt.Sprintf("%d of %d executed cases failed", failed, executed)),
				recordID: strPtr(runID), module: strPtr("test_run")})
		}
	}()

	// Active plans with no run for a month
	func() {
		rows, err := db.Query(`SELECT id, name FROM test_plans tp
			WHERE status = 'active' AND created_at < datetime('now', '-30 days')
			AND NOT EXISTS (SELECT 1 FROM test_runs tr WHERE tr.plan_id = tp.id)`)
		if err != nil {
			return
		}
		defer rows.Close()
		for rows.Next() {
			var id, name string
			rows.Scan(&id, &name)
			pending = append(pending, pendingNotif{ntype: "idle_plan", severity: "info", title: "Plan never run: " + id,
				message: strPtr("Active for >30 days without a run: " + name), recordID: strPtr(id), module: strPtr("test_plan")})
		}
	}()

	for _, p := range pending {
		createNotificationIfNew(p.ntype, p.severity, p.title, p.message, p.recordID, p.module)
	}
	if len(pending) > 0 {
		log.Printf("notification check: %d candidates", len(pending))
	}
}

// createNotificationIfNew inserts a notification unless an unread one for
// the same type+record already exists.
func createNotificationIfNew(ntype, severity, title string, message, recordID, module *string) {
	var count int
	if recordID != nil {
		db.QueryRow("SELECT COUNT(*) FROM notifications WHERE type = ? AND record_id = ? AND read_at IS NULL",
			ntype, *recordID).Scan(&count)
	} else {
		db.QueryRow("SELECT COUNT(*) FROM notifications WHERE type = ? AND title = ? AND read_at IS NULL",
			ntype, title).Scan(&count)
	}
	if count > 0 {
		return
	}
	if _, err := db.Exec("INSERT INTO notifications (type, severity, title, message, record_id, module) VALUES (?, ?, ?, ?, ?, ?)",
		ntype, severity, title, message, recordID, module); err != nil {
		log.Println("failed to insert notification:", err)
	}
}
