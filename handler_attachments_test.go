package main

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"qahub/internal/models"
)

func multipartUpload(t *testing.T, cookie *http.Cookie, module, recordID, filename, content string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("module", module)
	mw.WriteField("record_id", recordID)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatal(err)
	}
	fw.Write([]byte(content))
	mw.Close()

	req := httptest.NewRequest("POST", "/api/v1/attachments", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if cookie != nil {
		req.AddCookie(cookie)
	}
	w := httptest.NewRecorder()
	handleUploadAttachment(w, req)
	return w
}

func TestUploadAttachment(t *testing.T) {
	cleanup := setupTestDB(t)
	defer cleanup()
	cookie := loginAdmin(t)

	w := multipartUpload(t, cookie, "test_case", "TC-1", "evidence.png", "fake png bytes")
	if w.Code != 201 {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Data models.Attachment `json:"data"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	a := resp.Data
	if a.OriginalName != "evidence.png" || a.SizeBytes != int64(len("fake png bytes")) || a.UploadedBy != "admin" {
		t.Errorf("unexpected attachment: %+v", a)
	}

	if _, err := os.Stat(filepath.Join(cfg.UploadsDir, a.Filename)); err != nil {
		t.Errorf("expected file on disk: %v", err)
	}
}

func TestUploadAttachmentBlockedExtension(t *testing.T) {
	cleanup := setupTestDB(t)
	defer cleanup()
	cookie := loginAdmin(t)

	w := multipartUpload(t, cookie, "test_case", "TC-1", "payload.exe", "MZ")
	if w.Code != 400 {
		t.Errorf("expected 400 for blocked extension, got %d: %s", w.Code, w.Body.String())
	}
}

func TestUploadAttachmentRequiresTarget(t *testing.T) {
	cleanup := setupTestDB(t)
	defer cleanup()
	cookie := loginAdmin(t)

	w := multipartUpload(t, cookie, "", "", "note.txt", "hello")
	if w.Code != 400 {
		t.Errorf("expected 400 without module/record, got %d", w.Code)
	}
}

func TestListAttachmentsByRecord(t *testing.T) {
	cleanup := setupTestDB(t)
	defer cleanup()
	cookie := loginAdmin(t)

	multipartUpload(t, cookie, "test_run", "RUN-A", "log1.txt", "a")
	multipartUpload(t, cookie, "test_run", "RUN-A", "log2.txt", "b")
	multipartUpload(t, cookie, "test_run", "RUN-B", "other.txt", "c")

	w := httptest.NewRecorder()
	handleListAttachments(w, authedRequest("GET", "/api/v1/attachments?module=test_run&record_id=RUN-A", "", cookie))
	var resp struct {
		Data []models.Attachment `json:"data"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.Data) != 2 {
		t.Errorf("expected 2 attachments for RUN-A, got %d", len(resp.Data))
	}
}

func TestServeFileRejectsTraversal(t *testing.T) {
	cleanup := setupTestDB(t)
	defer cleanup()

	w := httptest.NewRecorder()
	handleServeFile(w, httptest.NewRequest("GET", "/files/x", nil), "../db.go")
	if w.Code != 404 {
		t.Errorf("expected 404 for traversal attempt, got %d", w.Code)
	}
}

func TestDeleteAttachmentRemovesFile(t *testing.T) {
	cleanup := setupTestDB(t)
	defer cleanup()
	cookie := loginAdmin(t)

	w := multipartUpload(t, cookie, "test_case", "TC-1", "gone.txt", "bye")
	var resp struct {
		Data models.Attachment `json:"data"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)

	w2 := httptest.NewRecorder()
	idStr := strconv.Itoa(resp.Data.ID)
	handleDeleteAttachment(w2, authedRequest("DELETE", "/api/v1/attachments/"+idStr, "", cookie), idStr)
	if w2.Code != 200 {
		t.Fatalf("expected 200, got %d", w2.Code)
	}

	if _, err := os.Stat(filepath.Join(cfg.UploadsDir, resp.Data.Filename)); !os.IsNotExist(err) {
		t.Error("expected file removed from disk")
	}
}
