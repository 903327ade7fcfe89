package main

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"qahub/internal/audit"
	"qahub/internal/models"
	"qahub/internal/response"
)

type CreateAPIKeyRequest struct {
	Name      string  `json:"name"`
	ExpiresAt *string `json:"expires_at,omitempty"`
}

func generateAPIKey() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return "qh_" + hex.EncodeToString(b), nil
}

func hashAPIKey(key string) string {
	h := sha256.Sum256([]byte(key))
	return hex.EncodeToString(h[:])
}

func handleListAPIKeys(w http.ResponseWriter, r *http.Request) {
	rows, err := db.Query("SELECT id, name, prefix, enabled, expires_at, last_used, created_at FROM api_keys ORDER BY created_at DESC")
	if err != nil {
		response.Err(w, "Failed to fetch API keys", 500)
		return
	}
	defer rows.Close()

	keys := []models.APIKey{}
	for rows.Next() {
		var k models.APIKey
		var enabled int
		if err := rows.Scan(&k.ID, &k.Name, &k.Prefix, &enabled, &k.ExpiresAt, &k.LastUsed, &k.CreatedAt); err != nil {
			continue
		}
		k.Enabled = enabled == 1
		keys = append(keys, k)
	}
	response.JSON(w, keys)
}

func handleCreateAPIKey(w http.ResponseWriter, r *http.Request) {
	var req CreateAPIKeyRequest
	if err := response.DecodeBody(r, &req); err != nil {
		response.Err(w, "Invalid request body", 400)
		return
	}
	if req.Name == "" {
		response.Err(w, "Name is required", 400)
		return
	}

	key, err := generateAPIKey()
	if err != nil {
		response.Err(w, "Failed to generate key", 500)
		return
	}
	keyHash := hashAPIKey(key)
	prefix := key[:10]

	var expiresAt interface{}
	if req.ExpiresAt != nil && *req.ExpiresAt != "" {
		expiresAt = *req.ExpiresAt
	}

	result, err := db.Exec("INSERT INTO api_keys (name, key_hash, prefix, expires_at) VALUES (?, ?, ?, ?)",
		req.Name, keyHash, prefix, expiresAt)
	if err != nil {
		response.Err(w, "Failed to create API key", 500)
		return
	}
	id, _ := result.LastInsertId()

	audit.LogSimpleAudit(db, hub, r, audit.ActionCreate, "api_key", req.Name, "Created API key")

	// The raw key is only returned here, once.
	w.WriteHeader(201)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"id":         id,
		"name":       req.Name,
		"key":        key,
		"prefix":     prefix,
		"enabled":    true,
		"created_at": time.Now().Format(time.RFC3339),
		"message":    "Store this key securely. It will not be shown again.",
	})
}

func handleToggleAPIKey(w http.ResponseWriter, r *http.Request, id string) {
	var body struct {
		Enabled int `json:"enabled"`
	}
	if err := response.DecodeBody(r, &body); err != nil {
		response.Err(w, "Invalid body", 400)
		return
	}
	res, err := db.Exec("UPDATE api_keys SET enabled = ? WHERE id = ?", body.Enabled, id)
	if err != nil {
		response.Err(w, "Failed to update API key", 500)
		return
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		response.Err(w, "API key not found", 404)
		return
	}
	state := "enabled"
	if body.Enabled == 0 {
		state = "disabled"
	}
	audit.LogSimpleAudit(db, hub, r, audit.ActionUpdate, "api_key", id, "API key "+state)
	response.JSON(w, map[string]string{"status": "updated"})
}

func handleDeleteAPIKey(w http.ResponseWriter, r *http.Request, id string) {
	res, err := db.Exec("DELETE FROM api_keys WHERE id = ?", id)
	if err != nil {
		response.Err(w, "Failed to delete API key", 500)
		return
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		response.Err(w, "API key not found", 404)
		return
	}
	audit.LogSimpleAudit(db, hub, r, audit.ActionDelete, "api_key", id, "Revoked API key")
	response.JSON(w, map[string]string{"status": "revoked"})
}

// validateBearerToken checks an Authorization: Bearer token against the DB.
func validateBearerToken(token string) bool {
	if !strings.HasPrefix(token, "qh_") {
		return false
	}
	keyHash := hashAPIKey(token)
	var id int
	var enabled int
	var expiresAt *string
	err := db.QueryRow("SELECT id, enabled, expires_at FROM api_keys WHERE key_hash = ?", keyHash).Scan(&id, &enabled, &expiresAt)
	if err != nil || enabled == 0 {
		return false
	}
	if expiresAt != nil && *expiresAt != "" {
		exp, err := time.Parse("2006-01-02T15:04:05Z", *expiresAt)
		if err != nil {
			exp, err = time.Parse("2006-01-02", *expiresAt)
		}
		if err == nil && time.Now().After(exp) {
			return false
		}
	}
	db.Exec("UPDATE api_keys SET last_used = ? WHERE id = ?", time.Now().Format("2006-01-02 15:04:05"), id)
	return true
}
