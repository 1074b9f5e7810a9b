package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/CTAG07/Whisker/pkg/mustache"
)

// ErrNotFound is returned for names that are not in the store. It matches
// mustache.ErrTemplateNotFound, so a Store can serve as a partial loader.
var ErrNotFound = fmt.Errorf("stored %w", mustache.ErrTemplateNotFound)

// Kind separates page templates from partials.
type Kind string

const (
	KindPage    Kind = "page"
	KindPartial Kind = "partial"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k == KindPage || k == KindPartial
}

// SetupSchema creates the template table. It is idempotent and safe to call
// on an already-initialized database.
func SetupSchema(db *sql.DB) error {

	const schemaTemplates = `
CREATE TABLE IF NOT EXISTS whisker_templates (
    template_id INTEGER PRIMARY KEY,
    name TEXT NOT NULL UNIQUE,
    kind TEXT NOT NULL DEFAULT 'page',
    source TEXT NOT NULL,
    updated_at INTEGER NOT NULL
);
`
	const indexKind = `CREATE INDEX IF NOT EXISTS idx_whisker_templates_kind ON whisker_templates (kind);`

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("could not begin transaction: %w", err)
	}
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	if _, err = tx.Exec(schemaTemplates); err != nil {
		return fmt.Errorf("could not create schema: %w", err)
	}

	if _, err = tx.Exec(indexKind); err != nil {
		return fmt.Errorf("could not create kind index: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("could not commit transaction: %w", err)
	}
	return nil
}

// Template is a stored template source.
type Template struct {
	Id        int       `json:"id,omitempty"`
	Name      string    `json:"name"`
	Kind      Kind      `json:"kind"`
	Source    string    `json:"source"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// Info describes a stored template without its source.
type Info struct {
	Id        int       `json:"id"`
	Name      string    `json:"name"`
	Kind      Kind      `json:"kind"`
	Size      int       `json:"size"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store keeps template sources in SQLite. It holds prepared statements for
// every query it runs and must be closed when no longer needed.
type Store struct {
	db            *sql.DB
	stmtGet       *sql.Stmt
	stmtUpsert    *sql.Stmt
	stmtDelete    *sql.Stmt
	stmtList      *sql.Stmt
	stmtListKind  *sql.Stmt
	stmtCount     *sql.Stmt
	logger        *slog.Logger
	nowFunc       func() time.Time
	maxSourceSize int
}

// NewStore prepares the store's statements against db. SetupSchema must have
// been called on db first.
func NewStore(db *sql.DB) (*Store, error) {
	stmtGet, err := db.Prepare(`SELECT template_id, kind, source, updated_at FROM whisker_templates WHERE name = ?;`)
	if err != nil {
		return nil, err
	}

	stmtUpsert, err := db.Prepare(`INSERT INTO whisker_templates (name, kind, source, updated_at) VALUES (?, ?, ?, ?)
ON CONFLICT(name) DO UPDATE SET kind = excluded.kind, source = excluded.source, updated_at = excluded.updated_at;`)
	if err != nil {
		return nil, err
	}

	stmtDelete, err := db.Prepare(`DELETE FROM whisker_templates WHERE name = ?;`)
	if err != nil {
		return nil, err
	}

	stmtList, err := db.Prepare(`SELECT template_id, name, kind, length(source), updated_at FROM whisker_templates ORDER BY name;`)
	if err != nil {
		return nil, err
	}

	stmtListKind, err := db.Prepare(`SELECT name, source FROM whisker_templates WHERE kind = ?;`)
	if err != nil {
		return nil, err
	}

	stmtCount, err := db.Prepare(`SELECT COUNT(*) FROM whisker_templates;`)
	if err != nil {
		return nil, err
	}

	return &Store{
		db:           db,
		stmtGet:      stmtGet,
		stmtUpsert:   stmtUpsert,
		stmtDelete:   stmtDelete,
		stmtList:     stmtList,
		stmtListKind: stmtListKind,
		stmtCount:    stmtCount,
		logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		nowFunc:      time.Now,
	}, nil
}

// Close releases the prepared statements held by the Store.
func (s *Store) Close() {
	_ = s.stmtGet.Close()
	_ = s.stmtUpsert.Close()
	_ = s.stmtDelete.Close()
	_ = s.stmtList.Close()
	_ = s.stmtListKind.Close()
	_ = s.stmtCount.Close()
}

// SetLogger sets the logger for the Store. By default, all logs are discarded.
func (s *Store) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// SetMaxSourceSize limits the size of template sources accepted by Put and
// Import. Zero disables the limit.
func (s *Store) SetMaxSourceSize(n int) {
	s.maxSourceSize = n
}

// validate rejects templates that would fail at render time.
func (s *Store) validate(t Template) error {
	if t.Name == "" {
		return errors.New("template name is required")
	}
	if !t.Kind.Valid() {
		return fmt.Errorf("unknown template kind %q", t.Kind)
	}
	if s.maxSourceSize > 0 && len(t.Source) > s.maxSourceSize {
		return fmt.Errorf("template %q is %d bytes, limit is %d", t.Name, len(t.Source), s.maxSourceSize)
	}
	if _, err := mustache.Parse(t.Source, mustache.DefaultTags); err != nil {
		return fmt.Errorf("template %q does not parse: %w", t.Name, err)
	}
	return nil
}

// Get returns the template stored under name.
func (s *Store) Get(ctx context.Context, name string) (Template, error) {
	t := Template{Name: name}
	var updated int64
	err := s.stmtGet.QueryRowContext(ctx, name).Scan(&t.Id, &t.Kind, &t.Source, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return Template{}, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	if err != nil {
		return Template{}, err
	}
	t.UpdatedAt = time.Unix(updated, 0).UTC()
	return t, nil
}

// Put validates and stores a template, replacing any template with the same
// name. An empty Kind defaults to KindPage.
func (s *Store) Put(ctx context.Context, t Template) error {
	if t.Kind == "" {
		t.Kind = KindPage
	}
	if err := s.validate(t); err != nil {
		return err
	}
	if _, err := s.stmtUpsert.ExecContext(ctx, t.Name, string(t.Kind), t.Source, s.nowFunc().Unix()); err != nil {
		return fmt.Errorf("failed to store template %q: %w", t.Name, err)
	}
	s.logger.InfoContext(ctx, "Template stored",
		slog.String("name", t.Name),
		slog.String("kind", string(t.Kind)),
		slog.Int("size", len(t.Source)),
	)
	return nil
}

// Delete removes the template stored under name.
func (s *Store) Delete(ctx context.Context, name string) error {
	res, err := s.stmtDelete.ExecContext(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to delete template %q: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	s.logger.InfoContext(ctx, "Template deleted", slog.String("name", name))
	return nil
}

// List describes every stored template, ordered by name.
func (s *Store) List(ctx context.Context) ([]Info, error) {
	rows, err := s.stmtList.QueryContext(ctx)
	if err != nil {
		return nil, err
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	infos := make([]Info, 0)
	for rows.Next() {
		var info Info
		var updated int64
		if err = rows.Scan(&info.Id, &info.Name, &info.Kind, &info.Size, &updated); err != nil {
			return nil, err
		}
		info.UpdatedAt = time.Unix(updated, 0).UTC()
		infos = append(infos, info)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return infos, nil
}

// Sources returns the source of every template of the given kind, keyed by
// name.
func (s *Store) Sources(ctx context.Context, kind Kind) (map[string]string, error) {
	rows, err := s.stmtListKind.QueryContext(ctx, string(kind))
	if err != nil {
		return nil, err
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	sources := make(map[string]string)
	for rows.Next() {
		var name, source string
		if err = rows.Scan(&name, &source); err != nil {
			return nil, err
		}
		sources[name] = source
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return sources, nil
}

// Count returns the number of stored templates.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.stmtCount.QueryRowContext(ctx).Scan(&n)
	return n, err
}

// Load implements mustache.Loader.
func (s *Store) Load(name string) (string, error) {
	t, err := s.Get(context.Background(), name)
	if err != nil {
		return "", err
	}
	return t.Source, nil
}
