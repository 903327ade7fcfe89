package main

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"golang.org/x/crypto/bcrypt"
	_ "modernc.org/sqlite"

	"qahub/internal/database"
	"qahub/internal/models"
)

var db *sql.DB

func initDB(path string) error {
	// Close previous connection if any (prevents goroutine leaks in tests)
	if db != nil {
		db.Close()
	}
	var err error
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	db, err = sql.Open("sqlite", path+sep+"_journal_mode=WAL&_busy_timeout=10000&_foreign_keys=1")
	if err != nil {
		return err
	}

	// SQLite handles 1 writer + multiple readers with WAL mode
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(0)

	// Explicitly set WAL mode (some drivers don't parse connection string params correctly)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=30000"); err != nil {
		return fmt.Errorf("set busy_timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return fmt.Errorf("enable foreign keys: %w", err)
	}

	return runMigrations()
}

func runMigrations() error {
	tables := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT UNIQUE NOT NULL,
			password_hash TEXT NOT NULL,
			display_name TEXT DEFAULT '',
			role TEXT DEFAULT 'user' CHECK(role IN ('admin','user','readonly')),
			active INTEGER DEFAULT 1,
			failed_login_attempts INTEGER DEFAULT 0,
			locked_until DATETIME,
			last_login DATETIME,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS sessions (
			token TEXT PRIMARY KEY,
			user_id INTEGER NOT NULL,
			expires_at DATETIME NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS api_keys (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			key_hash TEXT UNIQUE NOT NULL,
			prefix TEXT NOT NULL,
			enabled INTEGER DEFAULT 1,
			expires_at DATETIME,
			last_used DATETIME,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS projects (
			id TEXT PRIMARY KEY, name TEXT NOT NULL, description TEXT DEFAULT '',
			status TEXT DEFAULT 'active' CHECK(status IN ('active','archived')),
			created_by TEXT DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS repositories (
			id TEXT PRIMARY KEY, project_id TEXT NOT NULL,
			name TEXT NOT NULL, description TEXT DEFAULT '',
			created_by TEXT DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (project_id) REFERENCES projects(id) ON DELETE RESTRICT
		)`,
		`CREATE TABLE IF NOT EXISTS suites (
			id TEXT PRIMARY KEY, repository_id TEXT NOT NULL,
			parent_id TEXT,
			name TEXT NOT NULL, description TEXT DEFAULT '',
			position INTEGER DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (repository_id) REFERENCES repositories(id) ON DELETE RESTRICT,
			FOREIGN KEY (parent_id) REFERENCES suites(id) ON DELETE RESTRICT
		)`,
		`CREATE TABLE IF NOT EXISTS test_cases (
			id TEXT PRIMARY KEY, suite_id TEXT NOT NULL,
			title TEXT NOT NULL, description TEXT DEFAULT '',
			preconditions TEXT DEFAULT '',
			steps TEXT DEFAULT '[]',
			expected_result TEXT DEFAULT '',
			priority TEXT DEFAULT 'medium' CHECK(priority IN ('low','medium','high','critical')),
			severity TEXT DEFAULT 'minor' CHECK(severity IN ('trivial','minor','major','critical','blocker')),
			type TEXT DEFAULT 'functional' CHECK(type IN ('functional','regression','smoke','integration','acceptance','performance','security','other')),
			status TEXT DEFAULT 'draft' CHECK(status IN ('draft','active','deprecated')),
			tags TEXT DEFAULT '',
			created_by TEXT DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (suite_id) REFERENCES suites(id) ON DELETE RESTRICT
		)`,
		`CREATE TABLE IF NOT EXISTS test_plans (
			id TEXT PRIMARY KEY, project_id TEXT NOT NULL,
			name TEXT NOT NULL, description TEXT DEFAULT '',
			status TEXT DEFAULT 'draft' CHECK(status IN ('draft','active','completed','archived')),
			created_by TEXT DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (project_id) REFERENCES projects(id) ON DELETE RESTRICT
		)`,
		`CREATE TABLE IF NOT EXISTS test_plan_cases (
			plan_id TEXT NOT NULL, case_id TEXT NOT NULL,
			position INTEGER DEFAULT 0,
			added_by TEXT DEFAULT '',
			added_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (plan_id, case_id),
			FOREIGN KEY (plan_id) REFERENCES test_plans(id) ON DELETE CASCADE,
			FOREIGN KEY (case_id) REFERENCES test_cases(id) ON DELETE RESTRICT
		)`,
		`CREATE TABLE IF NOT EXISTS test_runs (
			id TEXT PRIMARY KEY, project_id TEXT NOT NULL, plan_id TEXT NOT NULL,
			name TEXT NOT NULL, environment TEXT DEFAULT '',
			status TEXT DEFAULT 'pending' CHECK(status IN ('pending','in_progress','completed','aborted')),
			created_by TEXT DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			started_at DATETIME, completed_at DATETIME,
			FOREIGN KEY (project_id) REFERENCES projects(id) ON DELETE RESTRICT,
			FOREIGN KEY (plan_id) REFERENCES test_plans(id) ON DELETE RESTRICT
		)`,
		`CREATE TABLE IF NOT EXISTS test_run_results (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL, case_id TEXT NOT NULL,
			case_title TEXT DEFAULT '', case_priority TEXT DEFAULT '',
			status TEXT DEFAULT 'untested' CHECK(status IN ('untested','in_progress','passed','failed','blocked','skipped','retest')),
			comment TEXT DEFAULT '', actual_result TEXT DEFAULT '',
			elapsed_seconds INTEGER DEFAULT 0 CHECK(elapsed_seconds >= 0),
			version INTEGER DEFAULT 1,
			executed_by TEXT DEFAULT '', executed_at DATETIME,
			UNIQUE (run_id, case_id),
			FOREIGN KEY (run_id) REFERENCES test_runs(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS comments (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			module TEXT NOT NULL, record_id TEXT NOT NULL,
			body TEXT NOT NULL,
			created_by TEXT DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			edited INTEGER DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS attachments (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			module TEXT NOT NULL, record_id TEXT NOT NULL,
			filename TEXT NOT NULL, original_name TEXT NOT NULL,
			size_bytes INTEGER DEFAULT 0, mime_type TEXT DEFAULT '',
			uploaded_by TEXT DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS audit_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER DEFAULT 0,
			username TEXT DEFAULT '',
			action TEXT NOT NULL, module TEXT NOT NULL,
			record_id TEXT DEFAULT '', summary TEXT DEFAULT '',
			before_value TEXT, after_value TEXT,
			ip_address TEXT DEFAULT '', user_agent TEXT DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS notifications (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			type TEXT NOT NULL,
			severity TEXT DEFAULT 'info' CHECK(severity IN ('info','warning','critical')),
			title TEXT NOT NULL, message TEXT,
			record_id TEXT, module TEXT,
			read_at DATETIME,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY, value TEXT NOT NULL
		)`,
	}
	for _, t := range tables {
		if _, err := db.Exec(t); err != nil {
			return fmt.Errorf("migration: %w", err)
		}
	}

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_sessions_expires ON sessions(expires_at)`,
		`CREATE INDEX IF NOT EXISTS idx_repositories_project ON repositories(project_id)`,
		`CREATE INDEX IF NOT EXISTS idx_suites_repo ON suites(repository_id)`,
		`CREATE INDEX IF NOT EXISTS idx_suites_parent ON suites(parent_id)`,
		`CREATE INDEX IF NOT EXISTS idx_cases_suite ON test_cases(suite_id)`,
		`CREATE INDEX IF NOT EXISTS idx_plans_project ON test_plans(project_id)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_project ON test_runs(project_id)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_plan ON test_runs(plan_id)`,
		`CREATE INDEX IF NOT EXISTS idx_results_run ON test_run_results(run_id)`,
		`CREATE INDEX IF NOT EXISTS idx_comments_record ON comments(module, record_id)`,
		`CREATE INDEX IF NOT EXISTS idx_attachments_record ON attachments(module, record_id)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_created ON audit_log(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_record ON audit_log(module, record_id)`,
	}
	for _, idx := range indexes {
		if _, err := db.Exec(idx); err != nil {
			return fmt.Errorf("index migration: %w", err)
		}
	}

	return nil
}

func nextID(prefix, table string, digits int) string {
	return database.NextID(db, prefix, table, digits)
}

// seedDB creates default users and, on an empty database, a small demo
// project so a fresh install isn't a blank screen.
func seedDB() {
	seedUsers()

	var count int
	db.QueryRow("SELECT COUNT(*) FROM projects").Scan(&count)
	if count > 0 {
		return
	}
	seedDemoData()
}

func seedUsers() {
	users := []struct {
		username, display, role string
	}{
		{"admin", "Administrator", "admin"},
		{"qa", "QA Engineer", "user"},
		{"viewer", "Viewer", "readonly"},
	}
	for _, u := range users {
		var exists int
		db.QueryRow("SELECT COUNT(*) FROM users WHERE username = ?", u.username).Scan(&exists)
		if exists > 0 {
			continue
		}
		hash, err := bcrypt.GenerateFromPassword([]byte("changeme"), bcrypt.DefaultCost)
		if err != nil {
			log.Printf("seed user %s: %v", u.username, err)
			continue
		}
		db.Exec("INSERT INTO users (username, password_hash, display_name, role) VALUES (?, ?, ?, ?)",
			u.username, string(hash), u.display, u.role)
	}
}

func seedDemoData() {
	projID := nextID("PRJ", "projects", 3)
	db.Exec("INSERT INTO projects (id, name, description, created_by) VALUES (?, ?, ?, 'admin')",
		projID, "Web Store", "End to end coverage for the storefront")

	repoID := nextID("REP", "repositories", 3)
	db.Exec("INSERT INTO repositories (id, project_id, name, description, created_by) VALUES (?, ?, ?, ?, 'admin')",
		repoID, projID, "Storefront", "Customer-facing flows")

	suites := []struct {
		name string
		id   string
	}{
		{"Authentication", ""},
		{"Checkout", ""},
		{"Catalog", ""},
	}
	for i := range suites {
		suites[i].id = nextID("SUI", "suites", 3)
		db.Exec("INSERT INTO suites (id, repository_id, name, position) VALUES (?, ?, ?, ?)",
			suites[i].id, repoID, suites[i].name, i)
	}

	steps, _ := json.Marshal([]models.TestStep{
		{Action: "Open the login page", Expected: "Login form is shown"},
		{Action: "Submit valid credentials", Expected: "User lands on the dashboard"},
	})
	cases := []struct {
		suite, title, priority, severity, typ string
	}{
		{suites[0].id, "Login with valid credentials", "critical", "blocker", "smoke"},
		{suites[0].id, "Login with wrong password shows error", "high", "major", "functional"},
		{suites[0].id, "Password reset email is delivered", "medium", "major", "functional"},
		{suites[1].id, "Guest checkout completes with card payment", "critical", "critical", "acceptance"},
		{suites[1].id, "Cart survives page reload", "medium", "minor", "regression"},
		{suites[2].id, "Search returns matching products", "high", "major", "functional"},
	}
	caseIDs := make([]string, 0, len(cases))
	for _, c := range cases {
		id := nextID("TC", "test_cases", 4)
		db.Exec(`INSERT INTO test_cases (id, suite_id, title, steps, priority, severity, type, status, created_by)
			VALUES (?, ?, ?, ?, ?, ?, ?, 'active', 'admin')`,
			id, c.suite, c.title, string(steps), c.priority, c.severity, c.typ)
		caseIDs = append(caseIDs, id)
	}

	planID := nextID("TP", "test_plans", 3)
	db.Exec("INSERT INTO test_plans (id, project_id, name, description, status, created_by) VALUES (?, ?, ?, ?, 'active', 'admin')",
		planID, projID, "Release 1.0 regression", "Full regression before the 1.0 cut")
	for i, caseID := range caseIDs {
		db.Exec("INSERT INTO test_plan_cases (plan_id, case_id, position, added_by) VALUES (?, ?, ?, 'admin')",
			planID, caseID, i)
	}

	runID := nextID("RUN", "test_runs", 3)
	db.Exec("INSERT INTO test_runs (id, project_id, plan_id, name, environment, created_by) VALUES (?, ?, ?, ?, 'staging', 'admin')",
		runID, projID, planID, "Release 1.0 regression - staging")
	for i, caseID := range caseIDs {
		db.Exec("INSERT INTO test_run_results (run_id, case_id, case_title, case_priority) VALUES (?, ?, ?, ?)",
			runID, caseID, cases[i].title, cases[i].priority)
	}
}
