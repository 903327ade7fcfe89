package main

import (
	"net/http"

	"qahub/internal/response"
)

func handleDashboard(w http.ResponseWriter, r *http.Request) {
	var projects, activeCases, activePlans, runsInProgress, failedLast7 int
	db.QueryRow("SELECT COUNT(*) FROM projects WHERE status = 'active'").Scan(&projects)
	db.QueryRow("SELECT COUNT(*) FROM test_cases WHERE status = 'active'").Scan(&activeCases)
	db.QueryRow("SELECT COUNT(*) FROM test_plans WHERE status = 'active'").Scan(&activePlans)
	db.QueryRow("SELECT COUNT(*) FROM test_runs WHERE status = 'in_progress'").Scan(&runsInProgress)
	db.QueryRow(`SELECT COUNT(*) FROM test_run_results
		WHERE status = 'failed' AND executed_at >= datetime('now', '-7 days')`).Scan(&failedLast7)

	response.JSON(w, map[string]int{
		"projects":          projects,
		"active_cases":      activeCases,
		"active_plans":      activePlans,
		"runs_in_progress":  runsInProgress,
		"failed_results_7d": failedLast7,
	})
}

func handleDashboardCharts(w http.ResponseWriter, r *http.Request) {
	casesByPriority := map[string]int{"low": 0, "medium": 0, "high": 0, "critical": 0}
	rows, _ := db.Query("SELECT priority, COUNT(*) FROM test_cases GROUP BY priority")
	if rows != nil {
		defer rows.Close()
		for rows.Next() {
			var s string
			var c int
			rows.Scan(&s, &c)
			casesByPriority[s] = c
		}
	}

	runsByStatus := map[string]int{"pending": 0, "in_progress": 0, "completed": 0, "aborted": 0}
	rows2, _ := db.Query("SELECT status, COUNT(*) FROM test_runs GROUP BY status")
	if rows2 != nil {
		defer rows2.Close()
		for rows2.Next() {
			var s string
			var c int
			rows2.Scan(&s, &c)
			runsByStatus[s] = c
		}
	}

	resultsByStatus := map[string]int{}
	rows3, _ := db.Query("SELECT status, COUNT(*) FROM test_run_results GROUP BY status")
	if rows3 != nil {
		defer rows3.Close()
		for rows3.Next() {
			var s string
			var c int
			rows3.Scan(&s, &c)
			resultsByStatus[s] = c
		}
	}

	response.JSON(w, map[string]interface{}{
		"cases_by_priority": casesByPriority,
		"runs_by_status":    runsByStatus,
		"results_by_status": resultsByStatus,
	})
}
