package validation

// Common enum values - these MUST match DB CHECK constraints in db.go.
var (
	ValidProjectStatuses = []string{"active", "archived"}
	ValidCasePriorities  = []string{"low", "medium", "high", "critical"}
	ValidCaseSeverities  = []string{"trivial", "minor", "major", "critical", "blocker"}
	ValidCaseTypes       = []string{"functional", "regression", "smoke", "integration", "acceptance", "performance", "security", "other"}
	ValidCaseStatuses    = []string{"draft", "active", "deprecated"}
	ValidPlanStatuses    = []string{"draft", "active", "completed", "archived"}
	ValidRunStatuses     = []string{"pending", "in_progress", "completed", "aborted"}
	ValidResultStatuses  = []string{"untested", "in_progress", "passed", "failed", "blocked", "skipped", "retest"}
	ValidUserRoles       = []string{"admin", "user", "readonly"}
)
