package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/CTAG07/Whisker/pkg/store"
	"github.com/CTAG07/Whisker/pkg/templating"
)

// StoreAPI holds the dependencies for the template store API handlers.
type StoreAPI struct {
	store        *store.Store
	tm           *templating.TemplateManager
	logger       *slog.Logger
	maxBodyBytes int64
}

// PutTemplateRequest is the expected JSON body for storing a template.
type PutTemplateRequest struct {
	Kind   store.Kind `json:"kind"`
	Source string     `json:"source"`
}

// NewStoreAPI creates a new instance of the StoreAPI.
func NewStoreAPI(st *store.Store, tm *templating.TemplateManager, logger *slog.Logger, maxBodyBytes int64) *StoreAPI {
	return &StoreAPI{
		store:        st,
		tm:           tm,
		logger:       logger,
		maxBodyBytes: maxBodyBytes,
	}
}

// RegisterRoutes sets up the routing for all /api/store endpoints.
func (s *StoreAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/store/export", s.handleExport)
	mux.HandleFunc("/api/store/import", s.handleImport)
	mux.HandleFunc("/api/store", s.handleList)
	mux.HandleFunc("/api/store/", s.handleTemplate)
}

func (s *StoreAPI) handleList(w http.ResponseWriter, r *http.Request) {
	if !methodAllowed(w, r, http.MethodGet) || !requireScope(w, r, scopeStoreRead) {
		return
	}
	infos, err := s.store.List(r.Context())
	if err != nil {
		s.logger.Error("Failed to list stored templates", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to list stored templates")
		return
	}
	respondWithJSON(w, http.StatusOK, infos)
}

// handleTemplate manages CRUD operations for a single stored template.
func (s *StoreAPI) handleTemplate(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/api/store/"), "/")
	if name == "" || strings.Contains(name, "/") {
		respondWithError(w, http.StatusNotFound, "Not Found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		if !requireScope(w, r, scopeStoreRead) {
			return
		}
		t, err := s.store.Get(r.Context(), name)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				respondWithError(w, http.StatusNotFound, "Template not found")
				return
			}
			s.logger.Error("Failed to get stored template", "name", name, "error", err)
			respondWithError(w, http.StatusInternalServerError, "Failed to get stored template")
			return
		}
		respondWithJSON(w, http.StatusOK, t)

	case http.MethodPut:
		if !requireScope(w, r, scopeStoreWrite) {
			return
		}
		body, err := readLimited(r.Body, s.maxBodyBytes)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Failed to read request body: %v", err))
			return
		}
		var req PutTemplateRequest
		if err = json.Unmarshal(body, &req); err != nil {
			respondWithError(w, http.StatusBadRequest, "Invalid JSON request body")
			return
		}
		err = s.store.Put(r.Context(), store.Template{Name: name, Kind: req.Kind, Source: req.Source})
		if err != nil {
			respondWithError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		s.refresh()
		w.WriteHeader(http.StatusNoContent)

	case http.MethodDelete:
		if !requireScope(w, r, scopeStoreWrite) {
			return
		}
		if err := s.store.Delete(r.Context(), name); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				respondWithError(w, http.StatusNotFound, "Template not found")
				return
			}
			s.logger.Error("Failed to delete stored template", "name", name, "error", err)
			respondWithError(w, http.StatusInternalServerError, "Failed to delete stored template")
			return
		}
		s.refresh()
		w.WriteHeader(http.StatusNoContent)

	default:
		w.Header().Set("Allow", "GET, PUT, DELETE")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// handleExport streams every stored template as a JSON document.
func (s *StoreAPI) handleExport(w http.ResponseWriter, r *http.Request) {
	if !methodAllowed(w, r, http.MethodGet) || !requireScope(w, r, scopeStoreRead) {
		return
	}
	var buf bytes.Buffer
	if err := s.store.Export(r.Context(), &buf); err != nil {
		s.logger.Error("Failed to export templates", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to export templates")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="whisker-templates.json"`)
	_, _ = buf.WriteTo(w)
}

// handleImport loads an export document. Nothing is written unless every
// template in it is valid.
func (s *StoreAPI) handleImport(w http.ResponseWriter, r *http.Request) {
	if !methodAllowed(w, r, http.MethodPost) || !requireScope(w, r, scopeStoreWrite) {
		return
	}
	body, err := readLimited(r.Body, s.maxBodyBytes)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Failed to read request body: %v", err))
		return
	}
	n, err := s.store.Import(r.Context(), bytes.NewReader(body))
	if err != nil {
		respondWithError(w, http.StatusUnprocessableEntity, fmt.Sprintf("Import failed: %v", err))
		return
	}
	s.logger.Info("Templates imported via API", "count", n)
	s.refresh()
	respondWithJSON(w, http.StatusOK, map[string]int{"imported": n})
}

// refresh reloads the manager when it serves stored templates.
func (s *StoreAPI) refresh() {
	if !s.tm.GetConfig().UseStore {
		return
	}
	if err := s.tm.Refresh(); err != nil {
		s.logger.Error("Refresh after store change failed", "error", err)
	}
}
