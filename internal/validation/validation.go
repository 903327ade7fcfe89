package validation

import (
	"fmt"
	"net/mail"
	"path/filepath"
	"strings"
	"time"
)

// ValidationError represents a structured validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors collects multiple field errors.
type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (ve *ValidationErrors) Add(field, message string) {
	ve.Errors = append(ve.Errors, ValidationError{Field: field, Message: message})
}

func (ve *ValidationErrors) HasErrors() bool {
	return len(ve.Errors) > 0
}

func (ve *ValidationErrors) Error() string {
	msgs := make([]string, len(ve.Errors))
	for i, e := range ve.Errors {
		msgs[i] = e.Field + ": " + e.Message
	}
	return strings.Join(msgs, "; ")
}

// RequireField checks a required string field is non-empty.
func RequireField(ve *ValidationErrors, field, value string) {
	if strings.TrimSpace(value) == "" {
		ve.Add(field, "is required")
	}
}

// ValidateEnum checks a field is one of allowed values.
func ValidateEnum(ve *ValidationErrors, field, value string, allowed []string) {
	if value == "" {
		return
	}
	for _, a := range allowed {
		if value == a {
			return
		}
	}
	ve.Add(field, fmt.Sprintf("must be one of: %s", strings.Join(allowed, ", ")))
}

// ValidateDate checks a field is a valid date (YYYY-MM-DD).
func ValidateDate(ve *ValidationErrors, field, value string) {
	if value == "" {
		return
	}
	if _, err := time.Parse("2006-01-02", value); err != nil {
		ve.Add(field, "must be a valid date (YYYY-MM-DD)")
	}
}

// ValidatePositiveInt checks a field is > 0.
func ValidatePositiveInt(ve *ValidationErrors, field string, value int) {
	if value <= 0 {
		ve.Add(field, "must be a positive integer")
	}
}

// ValidateNonNegativeInt checks a field is >= 0.
func ValidateNonNegativeInt(ve *ValidationErrors, field string, value int) {
	if value < 0 {
		ve.Add(field, "must be non-negative")
	}
}

// ValidateEmail checks a field is a valid email (if non-empty).
func ValidateEmail(ve *ValidationErrors, field, value string) {
	if value == "" {
		return
	}
	if _, err := mail.ParseAddress(value); err != nil {
		ve.Add(field, "must be a valid email address")
	}
}

// ValidateMaxLength checks string doesn't exceed max length.
func ValidateMaxLength(ve *ValidationErrors, field, value string, max int) {
	if len(value) > max {
		ve.Add(field, fmt.Sprintf("must be at most %d characters", max))
	}
}

// File upload validation constants.
const (
	MaxFileSize = 32 * 1024 * 1024
	MinFileSize = 1
)

// DangerousExtensions is the list of blocked file extensions.
var DangerousExtensions = []string{
	".exe", ".bat", ".cmd", ".com", ".scr", ".pif", ".app", ".dmg", ".pkg",
	".sh", ".bash", ".zsh",
	".vbs", ".vbe", ".js", ".jse", ".wsf", ".wsh",
	".msi", ".msp", ".jar", ".war",
	".ps1", ".psm1",
	".reg", ".dll", ".so", ".dylib",
	".apk", ".ipa", ".deb", ".rpm",
}

// AllowedExtensions is the whitelist of safe file extensions.
var AllowedExtensions = []string{
	".pdf", ".doc", ".docx", ".xls", ".xlsx", ".ppt", ".pptx", ".txt", ".csv",
	".odt", ".ods", ".rtf",
	".jpg", ".jpeg", ".png", ".gif", ".bmp", ".svg", ".webp",
	".zip", ".tar", ".gz", ".7z",
	".json", ".xml", ".yaml", ".yml", ".toml",
	".log", ".md", ".har", ".mp4", ".webm",
}

// ValidateFileUpload validates uploaded file size, type, and name.
func ValidateFileUpload(ve *ValidationErrors, filename string, size int64) {
	if size == 0 {
		ve.Add("file", "cannot be empty (0 bytes)")
		return
	}
	if size > MaxFileSize {
		ve.Add("file", fmt.Sprintf("exceeds maximum size of %d MB", MaxFileSize/(1024*1024)))
		return
	}
	ValidateFilename(ve, filename)
	ValidateFileExtension(ve, filename)
}

// ValidateFilename checks for path traversal and malicious characters.
func ValidateFilename(ve *ValidationErrors, filename string) {
	if filename == "" {
		ve.Add("filename", "is required")
		return
	}
	if strings.Contains(filename, "..") {
		ve.Add("filename", "contains invalid path traversal sequence (..)")
	}
	if strings.HasPrefix(filename, "/") || strings.HasPrefix(filename, "\\") {
		ve.Add("filename", "cannot be an absolute path")
	}
	if strings.Contains(filename, "\x00") {
		ve.Add("filename", "contains null bytes")
	}
	if strings.ContainsAny(filename, "\r\n") {
		ve.Add("filename", "contains line breaks")
	}
}

// ValidateFileExtension checks if file extension is allowed.
func ValidateFileExtension(ve *ValidationErrors, filename string) {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		ve.Add("filename", "must have a file extension")
		return
	}
	for _, dangerous := range DangerousExtensions {
		if ext == dangerous {
			ve.Add("filename", fmt.Sprintf("file type not allowed: %s", ext))
			return
		}
	}
	for _, safe := range AllowedExtensions {
		if ext == safe {
			return
		}
	}
	ve.Add("filename", fmt.Sprintf("file type not in allowed list: %s", ext))
}

// SanitizeFilename removes dangerous characters and path components.
func SanitizeFilename(filename string) string {
	filename = filepath.Base(filename)
	filename = strings.ReplaceAll(filename, "\x00", "")

	replacements := map[string]string{
		"..": "_", "/": "_", "\\": "_", "|": "_", "&": "_", ";": "_",
		"$": "_", "`": "_", "<": "_", ">": "_", "*": "_", "?": "_",
		"\r": "", "\n": "", "\t": "_",
	}
	for old, repl := range replacements {
		filename = strings.ReplaceAll(filename, old, repl)
	}

	if len(filename) > 255 {
		ext := filepath.Ext(filename)
		name := filename[:len(filename)-len(ext)]
		if len(name) > 200 {
			name = name[:200]
		}
		filename = name + ext
	}
	return filename
}
