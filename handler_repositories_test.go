package main

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"qahub/internal/models"
)

func seededRepoID(t *testing.T) string {
	t.Helper()
	var id string
	if err := db.QueryRow("SELECT id FROM repositories ORDER BY id LIMIT 1").Scan(&id); err != nil {
		t.Fatalf("no seeded repository: %v", err)
	}
	return id
}

func TestListRepositoriesIncludesCounts(t *testing.T) {
	cleanup := setupTestDB(t)
	defer cleanup()
	cookie := loginAdmin(t)

	w := httptest.NewRecorder()
	handleListRepositories(w, authedRequest("GET", "/api/v1/repositories", "", cookie))
	if w.Code != 200 {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var resp struct {
		Data []models.Repository `json:"data"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.Data) != 1 {
		t.Fatalf("expected 1 repository, got %d", len(resp.Data))
	}
	if resp.Data[0].SuiteCount != 3 || resp.Data[0].CaseCount != 6 {
		t.Errorf("unexpected counts: %+v", resp.Data[0])
	}
}

func TestCreateRepositoryUnknownProject(t *testing.T) {
	cleanup := setupTestDB(t)
	defer cleanup()
	cookie := loginAdmin(t)

	w := httptest.NewRecorder()
	handleCreateRepository(w, authedRequest("POST", "/api/v1/repositories",
		`{"project_id":"PRJ-1999-999","name":"Orphan"}`, cookie))
	if w.Code != 404 {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestDeleteRepositoryWithSuites(t *testing.T) {
	cleanup := setupTestDB(t)
	defer cleanup()
	cookie := loginAdmin(t)
	id := seededRepoID(t)

	w := httptest.NewRecorder()
	handleDeleteRepository(w, authedRequest("DELETE", "/api/v1/repositories/"+id, "", cookie), id)
	if w.Code != 409 {
		t.Errorf("expected 409 while suites exist, got %d", w.Code)
	}
}

func TestRepositorySuiteTree(t *testing.T) {
	cleanup := setupTestDB(t)
	defer cleanup()
	cookie := loginAdmin(t)
	repoID := seededRepoID(t)

	// Nest Checkout under Authentication
	var parentID, childID string
	db.QueryRow("SELECT id FROM suites WHERE name = 'Authentication'").Scan(&parentID)
	db.QueryRow("SELECT id FROM suites WHERE name = 'Checkout'").Scan(&childID)
	db.Exec("UPDATE suites SET parent_id = ? WHERE id = ?", parentID, childID)

	w := httptest.NewRecorder()
	handleRepositorySuiteTree(w, authedRequest("GET", "/api/v1/repositories/"+repoID+"/suites", "", cookie), repoID)
	if w.Code != 200 {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var resp struct {
		Data []models.Suite `json:"data"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.Data) != 2 {
		t.Fatalf("expected 2 root suites, got %d", len(resp.Data))
	}
	var auth *models.Suite
	for i := range resp.Data {
		if resp.Data[i].Name == "Authentication" {
			auth = &resp.Data[i]
		}
	}
	if auth == nil || len(auth.Children) != 1 || auth.Children[0].Name != "Checkout" {
		t.Errorf("expected Checkout nested under Authentication: %+v", resp.Data)
	}
}

func TestCreateSuiteUnderParent(t *testing.T) {
	cleanup := setupTestDB(t)
	defer cleanup()
	cookie := loginAdmin(t)
	repoID := seededRepoID(t)

	var parentID string
	db.QueryRow("SELECT id FROM suites WHERE name = 'Checkout'").Scan(&parentID)

	w := httptest.NewRecorder()
	handleCreateSuite(w, authedRequest("POST", "/api/v1/suites",
		`{"repository_id":"`+repoID+`","parent_id":"`+parentID+`","name":"Payments"}`, cookie))
	if w.Code != 201 {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
}

func TestCreateSuiteParentInOtherRepository(t *testing.T) {
	cleanup := setupTestDB(t)
	defer cleanup()
	cookie := loginAdmin(t)
	projID := seededProjectID(t)

	w := httptest.NewRecorder()
	handleCreateRepository(w, authedRequest("POST", "/api/v1/repositories",
		`{"project_id":"`+projID+`","name":"Second Repo"}`, cookie))
	var created struct {
		Data map[string]string `json:"data"`
	}
	json.Unmarshal(w.Body.Bytes(), &created)

	var parentID string
	db.QueryRow("SELECT id FROM suites WHERE name = 'Checkout'").Scan(&parentID)

	w2 := httptest.NewRecorder()
	handleCreateSuite(w2, authedRequest("POST", "/api/v1/suites",
		`{"repository_id":"`+created.Data["id"]+`","parent_id":"`+parentID+`","name":"Cross"}`, cookie))
	if w2.Code != 400 {
		t.Errorf("expected 400 for cross-repository parent, got %d", w2.Code)
	}
}

func TestUpdateSuiteRejectsCycle(t *testing.T) {
	cleanup := setupTestDB(t)
	defer cleanup()
	cookie := loginAdmin(t)

	var parentID, childID string
	db.QueryRow("SELECT id FROM suites WHERE name = 'Authentication'").Scan(&parentID)
	db.QueryRow("SELECT id FROM suites WHERE name = 'Checkout'").Scan(&childID)
	db.Exec("UPDATE suites SET parent_id = ? WHERE id = ?", parentID, childID)

	// Making the parent a child of its own child must fail
	w := httptest.NewRecorder()
	handleUpdateSuite(w, authedRequest("PUT", "/api/v1/suites/"+parentID,
		`{"name":"Authentication","parent_id":"`+childID+`"}`, cookie), parentID)
	if w.Code != 400 {
		t.Errorf("expected 400 for cycle, got %d: %s", w.Code, w.Body.String())
	}

	// Self-parenting is also a cycle
	w2 := httptest.NewRecorder()
	handleUpdateSuite(w2, authedRequest("PUT", "/api/v1/suites/"+parentID,
		`{"name":"Authentication","parent_id":"`+parentID+`"}`, cookie), parentID)
	if w2.Code != 400 {
		t.Errorf("expected 400 for self-parent, got %d", w2.Code)
	}
}

func TestDeleteSuiteGuards(t *testing.T) {
	cleanup := setupTestDB(t)
	defer cleanup()
	cookie := loginAdmin(t)

	var withCases string
	db.QueryRow("SELECT id FROM suites WHERE name = 'Authentication'").Scan(&withCases)

	w := httptest.NewRecorder()
	handleDeleteSuite(w, authedRequest("DELETE", "/api/v1/suites/"+withCases, "", cookie), withCases)
	if w.Code != 409 {
		t.Errorf("expected 409 while cases exist, got %d", w.Code)
	}

	var parentID, childID string
	db.QueryRow("SELECT id FROM suites WHERE name = 'Checkout'").Scan(&parentID)
	db.QueryRow("SELECT id FROM suites WHERE name = 'Catalog'").Scan(&childID)
	db.Exec("UPDATE suites SET parent_id = ? WHERE id = ?", parentID, childID)
	db.Exec("DELETE FROM test_plan_cases")
	db.Exec("DELETE FROM test_cases WHERE suite_id IN (?, ?)", parentID, childID)

	w2 := httptest.NewRecorder()
	handleDeleteSuite(w2, authedRequest("DELETE", "/api/v1/suites/"+parentID, "", cookie), parentID)
	if w2.Code != 409 {
		t.Errorf("expected 409 while children exist, got %d", w2.Code)
	}
}
