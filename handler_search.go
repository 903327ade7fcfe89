package main

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
)

type searchHit struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
}

// handleGlobalSearch runs a case-insensitive substring match across all
// entity types, returning grouped results capped per group.
func handleGlobalSearch(w http.ResponseWriter, r *http.Request) {
	q := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("q")))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit < 1 {
		limit = 20
	}

	groups := map[string][]searchHit{
		"projects":     {},
		"repositories": {},
		"suites":       {},
		"testcases":    {},
		"testplans":    {},
		"testruns":     {},
	}
	total := 0

	if q == "" {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": groups,
			"meta": map[string]interface{}{"total": 0, "query": ""},
		})
		return
	}

	searchGroup := func(key, query string) {
		rows, err := db.Query(query)
		if err != nil {
			return
		}
		defer rows.Close()
		for rows.Next() {
			var hit searchHit
			if err := rows.Scan(&hit.ID, &hit.Name, &hit.Status); err != nil {
				continue
			}
			if strings.Contains(strings.ToLower(hit.ID), q) || strings.Contains(strings.ToLower(hit.Name), q) {
				groups[key] = append(groups[key], hit)
				if len(groups[key]) >= limit {
					break
				}
			}
		}
		total += len(groups[key])
	}

	searchGroup("projects", "SELECT id, name, status FROM projects")
	searchGroup("repositories", "SELECT id, name, '' FROM repositories")
	searchGroup("suites", "SELECT id, name, '' FROM suites")
	searchGroup("testcases", "SELECT id, title, status FROM test_cases")
	searchGroup("testplans", "SELECT id, name, status FROM test_plans")
	searchGroup("testruns", "SELECT id, name, status FROM test_runs")

	json.NewEncoder(w).Encode(map[string]interface{}{
		"data": groups,
		"meta": map[string]interface{}{"total": total, "query": r.URL.Query().Get("q")},
	})
}
