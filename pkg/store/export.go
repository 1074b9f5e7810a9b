package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"
)

// Export is the serializable form of the whole store, used for JSON-based
// backup and transfer.
type Export struct {
	Version   int        `json:"version"`
	Exported  time.Time  `json:"exported"`
	Templates []Template `json:"templates"`
}

const exportVersion = 1

// Export writes every stored template as indented JSON to w.
func (s *Store) Export(ctx context.Context, w io.Writer) error {
	rows, err := s.db.QueryContext(ctx, "SELECT template_id, name, kind, source, updated_at FROM whisker_templates ORDER BY name")
	if err != nil {
		return fmt.Errorf("could not query templates for export: %w", err)
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	exported := Export{
		Version:   exportVersion,
		Exported:  s.nowFunc().UTC(),
		Templates: make([]Template, 0),
	}
	for rows.Next() {
		var t Template
		var updated int64
		if err := rows.Scan(&t.Id, &t.Name, &t.Kind, &t.Source, &updated); err != nil {
			return err
		}
		t.UpdatedAt = time.Unix(updated, 0).UTC()
		exported.Templates = append(exported.Templates, t)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "Templates exported", slog.Int("count", len(exported.Templates)))

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(exported)
}

// Import reads an Export from r and upserts its templates. Every template is
// validated before anything is written, and the writes happen in a single
// transaction. It returns the number of templates imported.
func (s *Store) Import(ctx context.Context, r io.Reader) (int, error) {
	var imported Export
	if err := json.NewDecoder(r).Decode(&imported); err != nil {
		return 0, fmt.Errorf("failed to decode json export: %w", err)
	}
	if imported.Version > exportVersion {
		return 0, fmt.Errorf("unsupported export version %d", imported.Version)
	}

	for i := range imported.Templates {
		if imported.Templates[i].Kind == "" {
			imported.Templates[i].Kind = KindPage
		}
		if err := s.validate(imported.Templates[i]); err != nil {
			return 0, err
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("could not begin transaction for import: %w", err)
	}
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	stmtUpsert := tx.StmtContext(ctx, s.stmtUpsert)
	now := s.nowFunc().Unix()
	for _, t := range imported.Templates {
		if _, err := stmtUpsert.ExecContext(ctx, t.Name, string(t.Kind), t.Source, now); err != nil {
			return 0, fmt.Errorf("failed to import template %q: %w", t.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("could not commit import: %w", err)
	}

	s.logger.InfoContext(ctx, "Templates imported", slog.Int("count", len(imported.Templates)))
	return len(imported.Templates), nil
}
