package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

const statsSchema = `
CREATE TABLE IF NOT EXISTS whisker_render_stats (
    template      TEXT    PRIMARY KEY,
    renders       INTEGER NOT NULL DEFAULT 0,
    failures      INTEGER NOT NULL DEFAULT 0,
    total_bytes   INTEGER NOT NULL DEFAULT 0,
    total_nanos   INTEGER NOT NULL DEFAULT 0,
    first_seen    INTEGER NOT NULL,
    last_seen     INTEGER NOT NULL
);
`

const scopeStatsRead = "stats:read"

// TemplateStats is the per-template render record.
type TemplateStats struct {
	Template    string        `json:"template"`
	Renders     int64         `json:"renders"`
	Failures    int64         `json:"failures"`
	TotalBytes  int64         `json:"total_bytes"`
	AvgDuration time.Duration `json:"avg_duration_ns"`
	FirstSeen   time.Time     `json:"first_seen"`
	LastSeen    time.Time     `json:"last_seen"`
}

// GlobalStatsSummary provides a high-level overview of all collected stats.
type GlobalStatsSummary struct {
	TotalRenders  int64 `json:"total_renders"`
	TotalFailures int64 `json:"total_failures"`
	TotalBytes    int64 `json:"total_bytes"`
	Templates     int64 `json:"templates"`
}

// StatsAPI records render outcomes and serves them through /api/stats.
type StatsAPI struct {
	db      *sql.DB
	logger  *slog.Logger
	nowFunc func() time.Time
}

func setupStatsSchema(db *sql.DB) error {
	_, err := db.Exec(statsSchema)
	return err
}

func NewStatsAPI(db *sql.DB, logger *slog.Logger) *StatsAPI {
	return &StatsAPI{
		db:      db,
		logger:  logger,
		nowFunc: time.Now,
	}
}

func (s *StatsAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/stats/summary", s.handleSummary)
	mux.HandleFunc("/api/stats/templates", s.handleTemplates)
}

// Record adds one render of template to the stats. A non-nil renderErr
// counts as a failure and contributes no bytes.
func (s *StatsAPI) Record(ctx context.Context, template string, size int, took time.Duration, renderErr error) error {
	now := s.nowFunc().Unix()
	failures := 0
	if renderErr != nil {
		failures = 1
		size = 0
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO whisker_render_stats (template, renders, failures, total_bytes, total_nanos, first_seen, last_seen)
        VALUES (?, 1, ?, ?, ?, ?, ?)
        ON CONFLICT(template) DO UPDATE SET
            renders = renders + 1,
            failures = failures + excluded.failures,
            total_bytes = total_bytes + excluded.total_bytes,
            total_nanos = total_nanos + excluded.total_nanos,
            last_seen = excluded.last_seen
    `, template, failures, size, took.Nanoseconds(), now, now)
	if err != nil {
		return fmt.Errorf("failed to upsert render stats: %w", err)
	}
	return nil
}

func (s *StatsAPI) handleSummary(w http.ResponseWriter, r *http.Request) {
	if !methodAllowed(w, r, http.MethodGet) || !requireScope(w, r, scopeStatsRead) {
		return
	}
	var summary GlobalStatsSummary
	err := s.db.QueryRowContext(r.Context(), `
        SELECT COALESCE(SUM(renders), 0), COALESCE(SUM(failures), 0), COALESCE(SUM(total_bytes), 0), COUNT(*)
        FROM whisker_render_stats
    `).Scan(&summary.TotalRenders, &summary.TotalFailures, &summary.TotalBytes, &summary.Templates)
	if err != nil {
		s.logger.Error("Failed to query stats summary", "error", err)
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Database error: %v", err))
		return
	}
	respondWithJSON(w, http.StatusOK, summary)
}

// handleTemplates lists the most rendered templates. The optional "limit"
// query parameter defaults to 100.
func (s *StatsAPI) handleTemplates(w http.ResponseWriter, r *http.Request) {
	if !methodAllowed(w, r, http.MethodGet) || !requireScope(w, r, scopeStatsRead) {
		return
	}
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(r.Context(), `
        SELECT template, renders, failures, total_bytes, total_nanos, first_seen, last_seen
        FROM whisker_render_stats ORDER BY renders DESC, template LIMIT ?
    `, limit)
	if err != nil {
		s.logger.Error("Failed to query template stats", "error", err)
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Database error: %v", err))
		return
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	results := []TemplateStats{}
	for rows.Next() {
		var ts TemplateStats
		var nanos, first, last int64
		if err = rows.Scan(&ts.Template, &ts.Renders, &ts.Failures, &ts.TotalBytes, &nanos, &first, &last); err != nil {
			s.logger.Error("Failed to scan template stats", "error", err)
			respondWithError(w, http.StatusInternalServerError, "Failed to process database results")
			return
		}
		if ts.Renders > 0 {
			ts.AvgDuration = time.Duration(nanos / ts.Renders)
		}
		ts.FirstSeen = time.Unix(first, 0).UTC()
		ts.LastSeen = time.Unix(last, 0).UTC()
		results = append(results, ts)
	}
	respondWithJSON(w, http.StatusOK, results)
}
