package main

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/CTAG07/Whisker/pkg/mustache"
	"github.com/CTAG07/Whisker/pkg/templating"
	"github.com/natefinch/atomic"
)

// TemplateAPI holds the dependencies for the template file API handlers.
type TemplateAPI struct {
	tm           *templating.TemplateManager
	logger       *slog.Logger
	maxBodyBytes int64
}

// TemplateList is returned by GET /api/templates.
type TemplateList struct {
	Templates []string `json:"templates"`
	Partials  []string `json:"partials"`
}

// NewTemplateAPI creates a new instance of the TemplateAPI.
func NewTemplateAPI(tm *templating.TemplateManager, logger *slog.Logger, maxBodyBytes int64) *TemplateAPI {
	return &TemplateAPI{
		tm:           tm,
		logger:       logger,
		maxBodyBytes: maxBodyBytes,
	}
}

// RegisterRoutes sets up the routing for all /api/templates endpoints.
func (t *TemplateAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/templates/refresh", t.handleRefresh)
	mux.HandleFunc("/api/templates/test", t.handleTest)
	mux.HandleFunc("/api/templates/preview", t.handlePreview)
	mux.HandleFunc("/api/templates", t.handleList)
	mux.HandleFunc("/api/templates/", t.handleFile)
}

// handleRefresh triggers a manual refresh of templates from disk.
func (t *TemplateAPI) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if !methodAllowed(w, r, http.MethodPost) || !requireScope(w, r, scopeTemplatesWrite) {
		return
	}
	if err := t.tm.Refresh(); err != nil {
		t.logger.Error("API triggered refresh failed", "error", err)
		respondWithError(w, http.StatusUnprocessableEntity, fmt.Sprintf("Failed to refresh templates: %v", err))
		return
	}
	t.logger.Info("Templates refreshed via API")
	w.WriteHeader(http.StatusNoContent)
}

// handleList returns the names of all loaded templates and partials.
func (t *TemplateAPI) handleList(w http.ResponseWriter, r *http.Request) {
	if !methodAllowed(w, r, http.MethodGet) || !requireScope(w, r, scopeTemplatesRead) {
		return
	}
	respondWithJSON(w, http.StatusOK, TemplateList{
		Templates: t.tm.GetTemplateNames(),
		Partials:  t.tm.GetPartialNames(),
	})
}

// handleTest renders the raw template in the request body without saving it.
// The view is taken from the "view" query parameter as JSON.
func (t *TemplateAPI) handleTest(w http.ResponseWriter, r *http.Request) {
	if !methodAllowed(w, r, http.MethodPost) || !requireScope(w, r, scopeTemplatesRead) {
		return
	}

	body, err := readLimited(r.Body, t.maxBodyBytes)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Failed to read request body: %v", err))
		return
	}
	view, err := decodeView(strings.NewReader(r.URL.Query().Get("view")), t.maxBodyBytes)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Invalid view parameter: %v", err))
		return
	}

	var buf bytes.Buffer
	if err = t.tm.ExecuteTemplateString(&buf, string(body), view); err != nil {
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Template execution failed: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = buf.WriteTo(w)
}

// handlePreview renders a loaded template with the JSON view in the request
// body.
func (t *TemplateAPI) handlePreview(w http.ResponseWriter, r *http.Request) {
	if !methodAllowed(w, r, http.MethodPost) || !requireScope(w, r, scopeTemplatesRead) {
		return
	}

	name := r.URL.Query().Get("name")
	if name == "" {
		respondWithError(w, http.StatusBadRequest, "Query parameter 'name' is required")
		return
	}
	view, err := decodeView(r.Body, t.maxBodyBytes)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Invalid JSON view: %v", err))
		return
	}

	var buf bytes.Buffer
	if err = t.tm.Execute(&buf, name, view); err != nil {
		if errors.Is(err, mustache.ErrTemplateNotFound) {
			respondWithError(w, http.StatusNotFound, fmt.Sprintf("Template '%s' not found", name))
			return
		}
		respondWithError(w, http.StatusUnprocessableEntity, fmt.Sprintf("Failed to render preview: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = buf.WriteTo(w)
}

// handleFile manages CRUD operations for a single template file. Writes are
// parsed before they reach the disk and replace the file atomically.
func (t *TemplateAPI) handleFile(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/api/templates/")
	if name == "" || strings.HasSuffix(name, "/") {
		respondWithError(w, http.StatusNotFound, "Not Found")
		return
	}

	path, err := safeTemplatePath(t.tm.GetTemplateDir(), name)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid template name format")
		return
	}

	switch r.Method {
	case http.MethodGet:
		if !requireScope(w, r, scopeTemplatesRead) {
			return
		}
		content, err := os.ReadFile(path)
		if err != nil {
			respondWithError(w, http.StatusNotFound, "Template not found")
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write(content)

	case http.MethodPut:
		if !requireScope(w, r, scopeTemplatesWrite) {
			return
		}
		body, err := readLimited(r.Body, t.maxBodyBytes)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Failed to read request body: %v", err))
			return
		}
		if err = t.check(name, string(body)); err != nil {
			respondWithError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		if err = atomic.WriteFile(path, bytes.NewReader(body)); err != nil {
			respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to write template file: %v", err))
			return
		}
		t.refresh("write", name)
		w.WriteHeader(http.StatusNoContent)

	case http.MethodDelete:
		if !requireScope(w, r, scopeTemplatesWrite) {
			return
		}
		if err := os.Remove(path); err != nil {
			if os.IsNotExist(err) {
				respondWithError(w, http.StatusNotFound, "Template not found")
				return
			}
			respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to delete template file: %v", err))
			return
		}
		t.refresh("delete", name)
		w.WriteHeader(http.StatusNoContent)

	default:
		w.Header().Set("Allow", "GET, PUT, DELETE")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// check parses a template file's source with the delimiters it will be loaded
// with.
func (t *TemplateAPI) check(name, src string) error {
	cfg := t.tm.GetConfig()
	if cfg.MaxTemplateBytes > 0 && len(src) > cfg.MaxTemplateBytes {
		return fmt.Errorf("template is %d bytes, limit is %d", len(src), cfg.MaxTemplateBytes)
	}
	tags := mustache.DefaultTags
	if strings.HasSuffix(name, templating.PageSuffix) && cfg.Delimiters != "" {
		var err error
		if tags, err = mustache.ParseTags(cfg.Delimiters); err != nil {
			return err
		}
	}
	_, err := mustache.Parse(src, tags)
	return err
}

func (t *TemplateAPI) refresh(op, name string) {
	if err := t.tm.Refresh(); err != nil {
		t.logger.Error("Refresh after template "+op+" failed", "file", name, "error", err)
		return
	}
	t.logger.Info("Template file updated via API", "op", op, "file", name)
}
