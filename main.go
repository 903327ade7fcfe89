package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"qahub/internal/audit"
	"qahub/internal/response"
	"qahub/internal/websocket"
)

var cfg Config
var hub *websocket.Hub

func main() {
	godotenv.Load()

	configPath := flag.String("config", "qahub.yml", "Path to YAML config file")
	port := flag.Int("port", 0, "HTTP port (overrides config)")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	uploadsDir := flag.String("uploads", "", "Attachment storage directory (overrides config)")
	flag.Parse()

	var err error
	cfg, err = loadConfig(*configPath)
	if err != nil {
		log.Fatal("config load failed:", err)
	}
	if *port != 0 {
		cfg.Port = *port
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}
	if *uploadsDir != "" {
		cfg.UploadsDir = *uploadsDir
	}

	if err := os.MkdirAll(cfg.UploadsDir, 0755); err != nil {
		log.Fatal("uploads dir:", err)
	}

	if err := initDB(cfg.DBPath); err != nil {
		log.Fatal("DB init failed:", err)
	}
	seedDB()

	hub = websocket.NewHub()

	// Background notification generator (run once after short delay, then every 5 min)
	go func() {
		time.Sleep(5 * time.Second)
		generateNotifications()
		for {
			time.Sleep(5 * time.Minute)
			generateNotifications()
		}
	}()

	// Daily audit log retention cleanup
	go func() {
		for {
			time.Sleep(24 * time.Hour)
			days := audit.GetRetentionDays(db)
			if n, err := audit.CleanupOldEntries(db, days); err == nil && n > 0 {
				log.Printf("audit cleanup: removed %d entries older than %d days", n, days)
			}
		}
	}()

	mux := http.NewServeMux()

	// Static SPA: serve real files from web/, fall back to index.html
	mux.Handle("/assets/", http.StripPrefix("/assets/", http.FileServer(http.Dir(filepath.Join(cfg.WebDir, "assets")))))
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, filepath.Join(cfg.WebDir, "index.html"))
	})

	// Attachment content
	mux.HandleFunc("/files/", func(w http.ResponseWriter, r *http.Request) {
		filename := strings.TrimPrefix(r.URL.Path, "/files/")
		if filename == "" {
			http.NotFound(w, r)
			return
		}
		handleServeFile(w, r, filename)
	})

	// Auth routes
	mux.HandleFunc("/auth/login", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == "POST" {
			handleLogin(w, r)
		} else {
			http.Error(w, "Method not allowed", 405)
		}
	})
	mux.HandleFunc("/auth/logout", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == "POST" {
			handleLogout(w, r)
		} else {
			http.Error(w, "Method not allowed", 405)
		}
	})
	mux.HandleFunc("/auth/me", func(w http.ResponseWriter, r *http.Request) {
		handleMe(w, r)
	})

	// Live updates
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		websocket.Serve(hub, w, r)
	})

	// API routes - using a simple router
	mux.HandleFunc("/api/v1/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		path := strings.TrimPrefix(r.URL.Path, "/api/v1/")
		path = strings.TrimSuffix(path, "/")
		parts := strings.Split(path, "/")

		switch {
		// Global search
		case parts[0] == "search" && len(parts) == 1 && r.Method == "GET":
			handleGlobalSearch(w, r)

		// Dashboard
		case path == "dashboard" && r.Method == "GET":
			handleDashboard(w, r)
		case path == "dashboard/charts" && r.Method == "GET":
			handleDashboardCharts(w, r)

		// Audit
		case path == "audit" && r.Method == "GET":
			handleAuditLog(w, r)
		case path == "audit/export" && r.Method == "GET":
			handleExportAuditLog(w, r)
		case path == "settings/audit-retention" && r.Method == "GET":
			handleGetAuditRetention(w, r)
		case path == "settings/audit-retention" && r.Method == "PUT":
			handleSetAuditRetention(w, r)

		// Projects
		case parts[0] == "projects" && len(parts) == 1 && r.Method == "GET":
			handleListProjects(w, r)
		case parts[0] == "projects" && len(parts) == 1 && r.Method == "POST":
			handleCreateProject(w, r)
		case parts[0] == "projects" && len(parts) == 2 && r.Method == "GET":
			handleGetProject(w, r, parts[1])
		case parts[0] == "projects" && len(parts) == 2 && r.Method == "PUT":
			handleUpdateProject(w, r, parts[1])
		case parts[0] == "projects" && len(parts) == 2 && r.Method == "DELETE":
			handleDeleteProject(w, r, parts[1])
		case parts[0] == "projects" && len(parts) == 3 && parts[2] == "stats" && r.Method == "GET":
			handleProjectStats(w, r, parts[1])

		// Repositories
		case parts[0] == "repositories" && len(parts) == 1 && r.Method == "GET":
			handleListRepositories(w, r)
		case parts[0] == "repositories" && len(parts) == 1 && r.Method == "POST":
			handleCreateRepository(w, r)
		case parts[0] == "repositories" && len(parts) == 2 && r.Method == "GET":
			handleGetRepository(w, r, parts[1])
		case parts[0] == "repositories" && len(parts) == 2 && r.Method == "PUT":
			handleUpdateRepository(w, r, parts[1])
		case parts[0] == "repositories" && len(parts) == 2 && r.Method == "DELETE":
			handleDeleteRepository(w, r, parts[1])
		case parts[0] == "repositories" && len(parts) == 3 && parts[2] == "suites" && r.Method == "GET":
			handleRepositorySuiteTree(w, r, parts[1])

		// Suites
		case parts[0] == "suites" && len(parts) == 1 && r.Method == "GET":
			handleListSuites(w, r)
		case parts[0] == "suites" && len(parts) == 1 && r.Method == "POST":
			handleCreateSuite(w, r)
		case parts[0] == "suites" && len(parts) == 2 && r.Method == "GET":
			handleGetSuite(w, r, parts[1])
		case parts[0] == "suites" && len(parts) == 2 && r.Method == "PUT":
			handleUpdateSuite(w, r, parts[1])
		case parts[0] == "suites" && len(parts) == 2 && r.Method == "DELETE":
			handleDeleteSuite(w, r, parts[1])

		// Test cases
		case parts[0] == "testcases" && len(parts) == 2 && parts[1] == "export" && r.Method == "GET":
			handleExportTestCases(w, r)
		case parts[0] == "testcases" && len(parts) == 1 && r.Method == "GET":
			handleListTestCases(w, r)
		case parts[0] == "testcases" && len(parts) == 1 && r.Method == "POST":
			handleCreateTestCase(w, r)
		case parts[0] == "testcases" && len(parts) == 2 && r.Method == "GET":
			handleGetTestCase(w, r, parts[1])
		case parts[0] == "testcases" && len(parts) == 2 && r.Method == "PUT":
			handleUpdateTestCase(w, r, parts[1])
		case parts[0] == "testcases" && len(parts) == 2 && r.Method == "DELETE":
			handleDeleteTestCase(w, r, parts[1])
		case parts[0] == "testcases" && len(parts) == 3 && parts[2] == "history" && r.Method == "GET":
			handleTestCaseHistory(w, r, parts[1])

		// Test plans
		case parts[0] == "testplans" && len(parts) == 1 && r.Method == "GET":
			handleListTestPlans(w, r)
		case parts[0] == "testplans" && len(parts) == 1 && r.Method == "POST":
			handleCreateTestPlan(w, r)
		case parts[0] == "testplans" && len(parts) == 2 && r.Method == "GET":
			handleGetTestPlan(w, r, parts[1])
		case parts[0] == "testplans" && len(parts) == 2 && r.Method == "PUT":
			handleUpdateTestPlan(w, r, parts[1])
		case parts[0] == "testplans" && len(parts) == 2 && r.Method == "DELETE":
			handleDeleteTestPlan(w, r, parts[1])
		case parts[0] == "testplans" && len(parts) == 3 && parts[2] == "cases" && r.Method == "GET":
			handleListPlanCases(w, r, parts[1])
		case parts[0] == "testplans" && len(parts) == 3 && parts[2] == "cases" && r.Method == "POST":
			handleAddPlanCases(w, r, parts[1])
		case parts[0] == "testplans" && len(parts) == 4 && parts[2] == "cases" && r.Method == "DELETE":
			handleRemovePlanCase(w, r, parts[1], parts[3])

		// Test runs
		case parts[0] == "testruns" && len(parts) == 1 && r.Method == "GET":
			handleListTestRuns(w, r)
		case parts[0] == "testruns" && len(parts) == 1 && r.Method == "POST":
			handleCreateTestRun(w, r)
		case parts[0] == "testruns" && len(parts) == 2 && r.Method == "GET":
			handleGetTestRun(w, r, parts[1])
		case parts[0] == "testruns" && len(parts) == 2 && r.Method == "PUT":
			handleUpdateTestRun(w, r, parts[1])
		case parts[0] == "testruns" && len(parts) == 2 && r.Method == "DELETE":
			handleDeleteTestRun(w, r, parts[1])
		case parts[0] == "testruns" && len(parts) == 3 && parts[2] == "start" && r.Method == "POST":
			handleStartTestRun(w, r, parts[1])
		case parts[0] == "testruns" && len(parts) == 3 && parts[2] == "complete" && r.Method == "POST":
			handleCompleteTestRun(w, r, parts[1])
		case parts[0] == "testruns" && len(parts) == 3 && parts[2] == "abort" && r.Method == "POST":
			handleAbortTestRun(w, r, parts[1])
		case parts[0] == "testruns" && len(parts) == 3 && parts[2] == "cases" && r.Method == "GET":
			handleListRunCases(w, r, parts[1])
		case parts[0] == "testruns" && len(parts) == 3 && parts[2] == "stats" && r.Method == "GET":
			handleRunStats(w, r, parts[1])
		case parts[0] == "testruns" && len(parts) == 3 && parts[2] == "export" && r.Method == "GET":
			handleExportTestRun(w, r, parts[1])
		case parts[0] == "testruns" && len(parts) == 4 && parts[2] == "results" && r.Method == "PUT":
			handleUpdateRunResult(w, r, parts[1], parts[3])

		// Comments
		case parts[0] == "comments" && len(parts) == 1 && r.Method == "GET":
			handleListComments(w, r)
		case parts[0] == "comments" && len(parts) == 1 && r.Method == "POST":
			handleCreateComment(w, r)
		case parts[0] == "comments" && len(parts) == 2 && r.Method == "PUT":
			handleUpdateComment(w, r, parts[1])
		case parts[0] == "comments" && len(parts) == 2 && r.Method == "DELETE":
			handleDeleteComment(w, r, parts[1])

		// Attachments
		case parts[0] == "attachments" && len(parts) == 1 && r.Method == "POST":
			handleUploadAttachment(w, r)
		case parts[0] == "attachments" && len(parts) == 1 && r.Method == "GET":
			handleListAttachments(w, r)
		case parts[0] == "attachments" && len(parts) == 2 && r.Method == "DELETE":
			handleDeleteAttachment(w, r, parts[1])

		// Users
		case parts[0] == "users" && len(parts) == 1 && r.Method == "GET":
			handleListUsers(w, r)
		case parts[0] == "users" && len(parts) == 1 && r.Method == "POST":
			handleCreateUser(w, r)
		case parts[0] == "users" && len(parts) == 2 && r.Method == "PUT":
			handleUpdateUser(w, r, parts[1])
		case parts[0] == "users" && len(parts) == 2 && r.Method == "DELETE":
			handleDeleteUser(w, r, parts[1])
		case parts[0] == "users" && len(parts) == 3 && parts[2] == "password" && r.Method == "PUT":
			handleResetPassword(w, r, parts[1])

		// API keys
		case parts[0] == "apikeys" && len(parts) == 1 && r.Method == "GET":
			handleListAPIKeys(w, r)
		case parts[0] == "apikeys" && len(parts) == 1 && r.Method == "POST":
			handleCreateAPIKey(w, r)
		case parts[0] == "apikeys" && len(parts) == 2 && r.Method == "PUT":
			handleToggleAPIKey(w, r, parts[1])
		case parts[0] == "apikeys" && len(parts) == 2 && r.Method == "DELETE":
			handleDeleteAPIKey(w, r, parts[1])

		// Notifications
		case parts[0] == "notifications" && len(parts) == 1 && r.Method == "GET":
			handleListNotifications(w, r)
		case parts[0] == "notifications" && len(parts) == 3 && parts[2] == "read" && r.Method == "POST":
			handleMarkNotificationRead(w, r, parts[1])

		// Config
		case parts[0] == "config" && len(parts) == 1 && r.Method == "GET":
			handleConfig(w, r)

		default:
			response.Err(w, "not found", 404)
		}
	})

	addr := fmt.Sprintf(":%d", cfg.Port)
	log.Printf("qahub server starting on http://localhost%s", addr)
	log.Fatal(http.ListenAndServe(addr, logging(requireAuth(requireRBAC(mux)))))
}

func handleConfig(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, map[string]string{"base_url": cfg.BaseURL})
}
