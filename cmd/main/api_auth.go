package main

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"
)

const authSchema = `
CREATE TABLE IF NOT EXISTS whisker_api_keys (
    id          INTEGER PRIMARY KEY,
    key_hash    TEXT    NOT NULL UNIQUE,
    key_prefix  TEXT    NOT NULL,
    scopes      TEXT    NOT NULL,
    description TEXT    NOT NULL,
    created_at  INTEGER NOT NULL,
    last_used   INTEGER NOT NULL DEFAULT 0
);
`

// authHeader carries the raw API key on every /api request.
const authHeader = "whisker-auth"

const keyPrefix = "whisk_"

// Scopes understood by the API. scopeMaster grants all of them.
const (
	scopeMaster         = "*"
	scopeTemplatesRead  = "templates:read"
	scopeTemplatesWrite = "templates:write"
	scopeStoreRead      = "store:read"
	scopeStoreWrite     = "store:write"
	scopeAuthManage     = "auth:manage"
	scopeServerConfig   = "server:config"
	scopeServerControl  = "server:control"
)

var knownScopes = []string{
	scopeMaster,
	scopeTemplatesRead,
	scopeTemplatesWrite,
	scopeStoreRead,
	scopeStoreWrite,
	scopeAuthManage,
	scopeServerConfig,
	scopeServerControl,
	scopeStatsRead,
}

// scopeSet is the set of scopes granted to a key.
type scopeSet map[string]struct{}

func parseScopes(s string) scopeSet {
	set := make(scopeSet)
	for _, scope := range strings.Fields(s) {
		set[scope] = struct{}{}
	}
	return set
}

func (s scopeSet) allows(scope string) bool {
	if _, ok := s[scopeMaster]; ok {
		return true
	}
	_, ok := s[scope]
	return ok
}

func (s scopeSet) sorted() []string {
	out := make([]string, 0, len(s))
	for scope := range s {
		out = append(out, scope)
	}
	slices.Sort(out)
	return out
}

type contextKey string

const contextKeyPrincipal = contextKey("principal")

// principal is the caller of an authenticated request. KeyID is zero while
// the API is open.
type principal struct {
	KeyID  int
	Scopes scopeSet
}

func principalFrom(r *http.Request) (*principal, bool) {
	p, ok := r.Context().Value(contextKeyPrincipal).(*principal)
	return p, ok
}

// AuthAPI manages API keys and guards the API mux.
type AuthAPI struct {
	db      *sql.DB
	logger  *slog.Logger
	nowFunc func() time.Time
}

func setupAuthSchema(db *sql.DB) error {
	_, err := db.Exec(authSchema)
	return err
}

func NewAuthAPI(db *sql.DB, logger *slog.Logger) *AuthAPI {
	return &AuthAPI{
		db:      db,
		logger:  logger,
		nowFunc: time.Now,
	}
}

// RegisterRoutes sets up the routing for all /api/auth endpoints on a standard http.ServeMux.
func (a *AuthAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/auth/me", a.handleCheckMe)
	mux.HandleFunc("/api/auth/keys", a.handleKeys)
	mux.HandleFunc("/api/auth/keys/", a.handleKeyByID)
}

// APIKeyInfo describes a key without revealing it.
type APIKeyInfo struct {
	ID          int        `json:"id"`
	Prefix      string     `json:"prefix"`
	Scopes      []string   `json:"scopes"`
	Description string     `json:"description"`
	CreatedAt   time.Time  `json:"created_at"`
	LastUsed    *time.Time `json:"last_used,omitempty"`
}

// CreateKeyRequest is the expected JSON body for creating a new key.
type CreateKeyRequest struct {
	Scopes      []string `json:"scopes"`
	Description string   `json:"description"`
}

// CreateKeyResponse is the JSON response after creating a key. RawKey is
// only ever returned here.
type CreateKeyResponse struct {
	ID     int      `json:"id"`
	RawKey string   `json:"raw_key"`
	Scopes []string `json:"scopes"`
}

var errUnknownKey = errors.New("unknown api key")

// lookupKey resolves a raw key to its id and scopes and marks it used.
func (a *AuthAPI) lookupKey(ctx context.Context, rawKey string) (*principal, error) {
	var (
		id     int
		scopes string
	)
	err := a.db.QueryRowContext(ctx, "SELECT id, scopes FROM whisker_api_keys WHERE key_hash = ?", hashAPIKey(rawKey)).Scan(&id, &scopes)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errUnknownKey
	}
	if err != nil {
		return nil, err
	}
	if _, err = a.db.ExecContext(ctx, "UPDATE whisker_api_keys SET last_used = ? WHERE id = ?", a.nowFunc().Unix(), id); err != nil {
		a.logger.Warn("Failed to record API key use", "id", id, "error", err)
	}
	return &principal{KeyID: id, Scopes: parseScopes(scopes)}, nil
}

// Authenticate resolves the whisker-auth header to a principal stored in the
// request context. While no keys exist the API is open with master scope.
func (a *AuthAPI) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		keyCount, err := a.countKeys(r.Context())
		if err != nil {
			a.logger.Error("Authenticate failed to count keys", "error", err)
			respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
			return
		}

		p := &principal{Scopes: scopeSet{scopeMaster: {}}}
		if keyCount > 0 {
			rawKey := r.Header.Get(authHeader)
			if rawKey == "" {
				respondWithError(w, http.StatusUnauthorized, http.StatusText(http.StatusUnauthorized))
				return
			}
			p, err = a.lookupKey(r.Context(), rawKey)
			if errors.Is(err, errUnknownKey) {
				a.logger.Debug("Rejected unknown API key", "remote_addr", r.RemoteAddr)
				respondWithError(w, http.StatusUnauthorized, http.StatusText(http.StatusUnauthorized))
				return
			}
			if err != nil {
				a.logger.Error("Authenticate failed to query API key", "error", err)
				respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
				return
			}
		}

		ctx := context.WithValue(r.Context(), contextKeyPrincipal, p)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *AuthAPI) countKeys(ctx context.Context) (int, error) {
	var n int
	err := a.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM whisker_api_keys").Scan(&n)
	return n, err
}

func (a *AuthAPI) handleKeys(w http.ResponseWriter, r *http.Request) {
	if !methodAllowed(w, r, http.MethodGet, http.MethodPost) || !requireScope(w, r, scopeAuthManage) {
		return
	}
	if r.Method == http.MethodGet {
		a.listKeys(w, r)
		return
	}
	a.createKey(w, r)
}

func (a *AuthAPI) handleKeyByID(w http.ResponseWriter, r *http.Request) {
	if !methodAllowed(w, r, http.MethodDelete) || !requireScope(w, r, scopeAuthManage) {
		return
	}
	id, err := strconv.Atoi(strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/auth/keys/"), "/"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid key ID format in URL")
		return
	}
	// Key 1 is the first master key and is never removed.
	if id == 1 {
		respondWithError(w, http.StatusBadRequest, "Cannot delete the primary master key (ID 1)")
		return
	}

	res, err := a.db.ExecContext(r.Context(), "DELETE FROM whisker_api_keys WHERE id = ?", id)
	if err != nil {
		a.logger.Error("Failed to delete API key", "id", id, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to delete key")
		return
	}
	if n, _ := res.RowsAffected(); n == 0 {
		respondWithError(w, http.StatusNotFound, "Key not found")
		return
	}
	a.logger.Info("API key deleted", "id", id)
	w.WriteHeader(http.StatusNoContent)
}

func (a *AuthAPI) handleCheckMe(w http.ResponseWriter, r *http.Request) {
	if !methodAllowed(w, r, http.MethodGet) {
		return
	}
	p, ok := principalFrom(r)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "Invalid or missing token")
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]any{"key_id": p.KeyID, "scopes": p.Scopes.sorted()})
}

func (a *AuthAPI) listKeys(w http.ResponseWriter, r *http.Request) {
	rows, err := a.db.QueryContext(r.Context(),
		`SELECT id, key_prefix, scopes, description, created_at, last_used FROM whisker_api_keys ORDER BY id`)
	if err != nil {
		a.logger.Error("Failed to query API keys", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Database query failed")
		return
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	keys := []APIKeyInfo{}
	for rows.Next() {
		var (
			key              APIKeyInfo
			scopes           string
			created, lastUse int64
		)
		if err = rows.Scan(&key.ID, &key.Prefix, &scopes, &key.Description, &created, &lastUse); err != nil {
			a.logger.Error("Failed to scan API key row", "error", err)
			respondWithError(w, http.StatusInternalServerError, "Failed to process database results")
			return
		}
		key.Scopes = parseScopes(scopes).sorted()
		key.CreatedAt = time.Unix(created, 0).UTC()
		if lastUse > 0 {
			t := time.Unix(lastUse, 0).UTC()
			key.LastUsed = &t
		}
		keys = append(keys, key)
	}
	if err = rows.Err(); err != nil {
		a.logger.Error("Failed to iterate API keys", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to process database results")
		return
	}
	respondWithJSON(w, http.StatusOK, keys)
}

func (a *AuthAPI) createKey(w http.ResponseWriter, r *http.Request) {
	var req CreateKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid JSON request body")
		return
	}
	for _, s := range req.Scopes {
		if !slices.Contains(knownScopes, s) {
			respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Unknown scope %q", s))
			return
		}
	}

	rawKey, err := generateAPIKey()
	if err != nil {
		a.logger.Error("Failed to generate new API key", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Key generation failed")
		return
	}

	scopes := strings.Join(req.Scopes, " ")
	// The first key is always a master key so the API cannot be locked.
	if n, _ := a.countKeys(r.Context()); n == 0 {
		scopes = scopeMaster
	}

	var id int
	err = a.db.QueryRowContext(r.Context(),
		`INSERT INTO whisker_api_keys (key_hash, key_prefix, scopes, description, created_at) VALUES (?, ?, ?, ?, ?) RETURNING id`,
		hashAPIKey(rawKey), rawKey[:len(keyPrefix)+6], scopes, req.Description, a.nowFunc().Unix()).Scan(&id)
	if err != nil {
		a.logger.Error("Failed to insert new API key", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to save new key")
		return
	}

	a.logger.Info("API key created", "id", id, "scopes", scopes)
	respondWithJSON(w, http.StatusCreated, CreateKeyResponse{
		ID:     id,
		RawKey: rawKey,
		Scopes: parseScopes(scopes).sorted(),
	})
}

// requireScope writes a 403 and returns false when the request lacks scope.
func requireScope(w http.ResponseWriter, r *http.Request, scope string) bool {
	if p, ok := principalFrom(r); ok && p.Scopes.allows(scope) {
		return true
	}
	respondWithError(w, http.StatusForbidden, fmt.Sprintf("Forbidden: requires '%s' scope", scope))
	return false
}

func generateAPIKey() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return keyPrefix + hex.EncodeToString(b), nil
}

func hashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
