package main

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"qahub/internal/websocket"
)

func setupTestDB(t *testing.T) func() {
	t.Helper()
	dbFile := fmt.Sprintf("test_%s.db", strings.ReplaceAll(t.Name(), "/", "_"))
	os.Remove(dbFile)
	if err := initDB(dbFile); err != nil {
		t.Fatal(err)
	}
	seedDB()
	hub = websocket.NewHub()
	cfg = defaultConfig()
	cfg.UploadsDir = t.TempDir()
	return func() {
		os.Remove(dbFile)
		os.Remove(dbFile + "-wal")
		os.Remove(dbFile + "-shm")
	}
}

// loginAs logs in as the given seeded user and returns the session cookie.
func loginAs(t *testing.T, username string) *http.Cookie {
	t.Helper()
	body := fmt.Sprintf(`{"username":"%s","password":"changeme"}`, username)
	req := httptest.NewRequest("POST", "/auth/login", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	handleLogin(w, req)
	if w.Code != 200 {
		t.Fatalf("login failed: %d %s", w.Code, w.Body.String())
	}
	for _, c := range w.Result().Cookies() {
		if c.Name == "qahub_session" {
			return c
		}
	}
	t.Fatal("no session cookie")
	return nil
}

func loginAdmin(t *testing.T) *http.Cookie {
	t.Helper()
	return loginAs(t, "admin")
}

func authedRequest(method, path string, body string, cookie *http.Cookie) *http.Request {
	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, bodyReader)
	req.Header.Set("Content-Type", "application/json")
	if cookie != nil {
		req.AddCookie(cookie)
	}
	return req
}

// seededProjectID returns the demo project created by seedDB.
func seededProjectID(t *testing.T) string {
	t.Helper()
	var id string
	if err := db.QueryRow("SELECT id FROM projects ORDER BY id LIMIT 1").Scan(&id); err != nil {
		t.Fatalf("no seeded project: %v", err)
	}
	return id
}

// seededPlanID returns the demo test plan created by seedDB.
func seededPlanID(t *testing.T) string {
	t.Helper()
	var id string
	if err := db.QueryRow("SELECT id FROM test_plans ORDER BY id LIMIT 1").Scan(&id); err != nil {
		t.Fatalf("no seeded plan: %v", err)
	}
	return id
}
