package main

import (
	"net/http"

	"qahub/internal/audit"
	"qahub/internal/models"
	"qahub/internal/response"
	"qahub/internal/validation"
)

// resultTransitions maps each result status to the statuses it may move to.
var resultTransitions = map[string][]string{
	"untested":    {"in_progress", "passed", "failed", "blocked", "skipped"},
	"in_progress": {"passed", "failed", "blocked", "skipped", "untested"},
	"passed":      {"retest"},
	"failed":      {"retest"},
	"blocked":     {"retest"},
	"skipped":     {"retest"},
	"retest":      {"in_progress", "passed", "failed", "blocked", "skipped"},
}

func canTransitionResult(from, to string) bool {
	for _, t := range resultTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

type ResultUpdateRequest struct {
	Status         string `json:"status"`
	Comment        string `json:"comment"`
	ActualResult   string `json:"actual_result"`
	ElapsedSeconds int    `json:"elapsed_seconds"`
	Version        int    `json:"version"`
}

func getRunResult(runID, caseID string) (*models.TestRunResult, error) {
	var res models.TestRunResult
	err := db.QueryRow(`SELECT id, run_id, case_id, status, comment, actual_result, elapsed_seconds, version, executed_by, executed_at
		FROM test_run_results WHERE run_id = ? AND case_id = ?`, runID, caseID).
		Scan(&res.ID, &res.RunID, &res.CaseID, &res.Status, &res.Comment, &res.ActualResult,
			&res.ElapsedSeconds, &res.Version, &res.ExecutedBy, &res.ExecutedAt)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// handleUpdateRunResult records an execution outcome. Concurrent editors are
// resolved optimistically: a stale version gets 409 plus the current row so
// the client can re-read and retry once.
func handleUpdateRunResult(w http.ResponseWriter, r *http.Request, runID, caseID string) {
	run, err := getTestRun(runID)
	if err != nil {
		response.Err(w, "Test run not found", 404)
		return
	}
	if run.Status != "in_progress" {
		response.Err(w, "Run is not in progress", 409)
		return
	}

	current, err := getRunResult(runID, caseID)
	if err != nil {
		response.Err(w, "Result not found", 404)
		return
	}

	var req ResultUpdateRequest
	if err := response.DecodeBody(r, &req); err != nil {
		response.Err(w, "Invalid request body", 400)
		return
	}

	ve := &validation.ValidationErrors{}
	validation.RequireField(ve, "status", req.Status)
	validation.ValidateEnum(ve, "status", req.Status, validation.ValidResultStatuses)
	validation.ValidateNonNegativeInt(ve, "elapsed_seconds", req.ElapsedSeconds)
	if ve.HasErrors() {
		response.Err(w, ve.Error(), 400)
		return
	}

	if req.Version != current.Version {
		response.Conflict(w, "Result was modified by someone else", current)
		return
	}
	if req.Status != current.Status && !canTransitionResult(current.Status, req.Status) {
		response.Err(w, "Cannot move result from "+current.Status+" to "+req.Status, 400)
		return
	}

	username := audit.GetUsername(db, r)
	res, err := db.Exec(`UPDATE test_run_results
		SET status = ?, comment = ?, actual_result = ?, elapsed_seconds = ?,
			version = version + 1, executed_by = ?, executed_at = CURRENT_TIMESTAMP
		WHERE run_id = ? AND case_id = ? AND version = ?`,
		req.Status, req.Comment, req.ActualResult, req.ElapsedSeconds, username,
		runID, caseID, req.Version)
	if err != nil {
		response.Err(w, err.Error(), 500)
		return
	}

	// The version guard in the UPDATE catches writers that raced us
	// between the read above and here.
	n, _ := res.RowsAffected()
	if n == 0 {
		current, err := getRunResult(runID, caseID)
		if err != nil {
			response.Err(w, "Result not found", 404)
			return
		}
		response.Conflict(w, "Result was modified by someone else", current)
		return
	}

	audit.LogAudit(db, hub, username, audit.ActionExecute, "test_run_result", caseID,
		"Marked "+caseID+" "+req.Status+" in "+runID)

	updated, _ := getRunResult(runID, caseID)
	response.JSON(w, updated)
}
