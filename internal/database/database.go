// Package database holds small helpers shared by handlers working with
// database/sql rows: NULL conversion and sequential ID generation.
package database

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SP converts a NullString to a *string for JSON serialization.
func SP(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

// NS converts a *string to a NullString for query parameters.
func NS(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// NextID generates the next sequential record ID of the form
// PREFIX-YEAR-NNN by scanning the highest existing ID in the table.
// SQLite's single-writer semantics make the scan-then-insert safe enough
// for this application's write rates.
func NextID(db *sql.DB, prefix, table string, digits int) string {
	year := time.Now().Format("2006")
	pattern := prefix + "-" + year + "-%"
	var maxID sql.NullString
	db.QueryRow("SELECT id FROM "+table+" WHERE id LIKE ? ORDER BY id DESC LIMIT 1", pattern).Scan(&maxID)

	next := 1
	if maxID.Valid {
		parts := strings.Split(maxID.String, "-")
		if len(parts) >= 3 {
			if n, err := strconv.Atoi(parts[len(parts)-1]); err == nil {
				next = n + 1
			}
		}
	}
	return fmt.Sprintf("%s-%s-%0*d", prefix, year, digits, next)
}
