package main

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"qahub/internal/audit"
	"qahub/internal/models"
	"qahub/internal/response"
	"qahub/internal/validation"
)

func handleUploadAttachment(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(validation.MaxFileSize); err != nil {
		response.Err(w, "Failed to parse form", 400)
		return
	}
	module := r.FormValue("module")
	recordID := r.FormValue("record_id")
	if module == "" || recordID == "" {
		response.Err(w, "module and record_id required", 400)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		response.Err(w, "File required", 400)
		return
	}
	defer file.Close()

	ve := &validation.ValidationErrors{}
	validation.ValidateFileUpload(ve, header.Filename, header.Size)
	if ve.HasErrors() {
		response.Err(w, ve.Error(), 400)
		return
	}

	ts := time.Now().UnixMilli()
	safeName := validation.SanitizeFilename(header.Filename)
	filename := fmt.Sprintf("%s-%s-%d-%s", module, recordID, ts, safeName)
	filename = strings.ReplaceAll(filename, "/", "_")

	outPath := filepath.Join(cfg.UploadsDir, filename)
	out, err := os.Create(outPath)
	if err != nil {
		response.Err(w, "Failed to save file", 500)
		return
	}
	defer out.Close()
	written, err := io.Copy(out, file)
	if err != nil {
		response.Err(w, "Failed to write file", 500)
		return
	}

	uploadedBy := audit.GetUsername(db, r)
	mimeType := header.Header.Get("Content-Type")
	result, err := db.Exec(`INSERT INTO attachments (module, record_id, filename, original_name, size_bytes, mime_type, uploaded_by)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		module, recordID, filename, header.Filename, written, mimeType, uploadedBy)
	if err != nil {
		response.Err(w, err.Error(), 500)
		return
	}

	id, _ := result.LastInsertId()
	audit.LogAudit(db, hub, uploadedBy, audit.ActionCreate, "attachment", recordID, "Uploaded "+header.Filename)
	w.WriteHeader(201)
	response.JSON(w, models.Attachment{
		ID:           int(id),
		Module:       module,
		RecordID:     recordID,
		Filename:     filename,
		OriginalName: header.Filename,
		SizeBytes:    written,
		MimeType:     mimeType,
		UploadedBy:   uploadedBy,
	})
}

func handleListAttachments(w http.ResponseWriter, r *http.Request) {
	module := r.URL.Query().Get("module")
	recordID := r.URL.Query().Get("record_id")
	if module == "" || recordID == "" {
		response.Err(w, "module and record_id required", 400)
		return
	}
	rows, err := db.Query(`SELECT id, module, record_id, filename, original_name, size_bytes, mime_type, uploaded_by, created_at
		FROM attachments WHERE module = ? AND record_id = ? ORDER BY created_at DESC`, module, recordID)
	if err != nil {
		response.Err(w, err.Error(), 500)
		return
	}
	defer rows.Close()

	atts := []models.Attachment{}
	for rows.Next() {
		var a models.Attachment
		rows.Scan(&a.ID, &a.Module, &a.RecordID, &a.Filename, &a.OriginalName, &a.SizeBytes, &a.MimeType, &a.UploadedBy, &a.CreatedAt)
		atts = append(atts, a)
	}
	response.JSON(w, atts)
}

func handleServeFile(w http.ResponseWriter, r *http.Request, filename string) {
	ve := &validation.ValidationErrors{}
	validation.ValidateFilename(ve, filename)
	if ve.HasErrors() {
		http.NotFound(w, r)
		return
	}
	path := filepath.Join(cfg.UploadsDir, filename)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Disposition", "inline; filename=\""+filename+"\"")
	http.ServeFile(w, r, path)
}

func handleDeleteAttachment(w http.ResponseWriter, r *http.Request, idStr string) {
	id, err := strconv.Atoi(idStr)
	if err != nil {
		response.Err(w, "Invalid ID", 400)
		return
	}
	var filename string
	err = db.QueryRow("SELECT filename FROM attachments WHERE id = ?", id).Scan(&filename)
	if err != nil {
		response.Err(w, "Attachment not found", 404)
		return
	}
	db.Exec("DELETE FROM attachments WHERE id = ?", id)
	os.Remove(filepath.Join(cfg.UploadsDir, filename))
	audit.LogSimpleAudit(db, hub, r, audit.ActionDelete, "attachment", idStr, "Deleted attachment "+filename)
	response.JSON(w, map[string]string{"status": "deleted"})
}
