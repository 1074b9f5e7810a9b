package main

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/CTAG07/Whisker/pkg/templating"
)

const (
	actionShutdown = "shutdown"
	actionRestart  = "restart"
)

// ServerAPI holds the dependencies for the main application API handlers.
type ServerAPI struct {
	cm         *ConfigManager
	actionChan chan string
	tm         *templating.TemplateManager
	logger     *slog.Logger
}

// VersionInfo defines the structure for build/version information.
type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
	Driver    string `json:"database_driver"`
}

// HealthInfo is returned by the unauthenticated health check.
type HealthInfo struct {
	Status    string `json:"status"`
	Templates int    `json:"templates"`
	Partials  int    `json:"partials"`
	Cached    int    `json:"cached"`
}

// NewServerAPI creates a new instance of the ServerAPI.
func NewServerAPI(cm *ConfigManager, actionChan chan string, tm *templating.TemplateManager, logger *slog.Logger) *ServerAPI {
	return &ServerAPI{
		cm:         cm,
		actionChan: actionChan,
		tm:         tm,
		logger:     logger,
	}
}

// RegisterRoutes sets up the routing for all /api/server endpoints.
func (a *ServerAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/server/config", a.handleConfig)
	mux.HandleFunc("/api/server/version", a.handleVersion)
	mux.HandleFunc("/api/server/shutdown", a.handleShutdown)
	mux.HandleFunc("/api/server/restart", a.handleRestart)
}

// handleConfig gets or updates the main server configuration.
func (a *ServerAPI) handleConfig(w http.ResponseWriter, r *http.Request) {
	if !methodAllowed(w, r, http.MethodGet, http.MethodPut) || !requireScope(w, r, scopeServerConfig) {
		return
	}

	if r.Method == http.MethodGet {
		respondWithJSON(w, http.StatusOK, a.cm.Get())
		return
	}

	var newConfig Config
	if err := json.NewDecoder(r.Body).Decode(&newConfig); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid JSON request body")
		return
	}
	if err := a.cm.Update(newConfig); err != nil {
		a.logger.Error("Failed to update configuration", "error", err)
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	a.logger.Info("Application configuration updated and saved via API. Listener and database changes require a restart.")
	respondWithJSON(w, http.StatusOK, a.cm.Get())
}

// handleVersion returns the application's build information.
func (a *ServerAPI) handleVersion(w http.ResponseWriter, r *http.Request) {
	if !methodAllowed(w, r, http.MethodGet) || !requireScope(w, r, scopeTemplatesRead) {
		return
	}
	respondWithJSON(w, http.StatusOK, VersionInfo{
		Version:   Version,
		Commit:    Commit,
		BuildDate: BuildDate,
		Driver:    driverName,
	})
}

// handleHealthCheck reports the size of the loaded template set.
func (a *ServerAPI) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	if !methodAllowed(w, r, http.MethodGet, http.MethodHead) {
		return
	}
	respondWithJSON(w, http.StatusOK, HealthInfo{
		Status:    "ok",
		Templates: len(a.tm.GetTemplateNames()),
		Partials:  len(a.tm.GetPartialNames()),
		Cached:    a.tm.CacheSize(),
	})
}

// handleShutdown initiates a graceful shutdown of the server.
func (a *ServerAPI) handleShutdown(w http.ResponseWriter, r *http.Request) {
	a.control(w, r, actionShutdown, "Server is shutting down...")
}

// handleRestart initiates a graceful restart of the server.
func (a *ServerAPI) handleRestart(w http.ResponseWriter, r *http.Request) {
	a.control(w, r, actionRestart, "Server is restarting...")
}

func (a *ServerAPI) control(w http.ResponseWriter, r *http.Request, action, message string) {
	if !methodAllowed(w, r, http.MethodPost) || !requireScope(w, r, scopeServerControl) {
		return
	}

	a.logger.Warn("Server "+action+" initiated via API", "remote_addr", r.RemoteAddr)
	respondWithJSON(w, http.StatusAccepted, map[string]string{"message": message})

	go func() {
		a.actionChan <- action
	}()
}
