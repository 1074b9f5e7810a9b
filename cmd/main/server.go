package main

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/CTAG07/Whisker/pkg/mustache"
	"github.com/CTAG07/Whisker/pkg/store"
	"github.com/CTAG07/Whisker/pkg/templating"
)

type Server struct {
	cm          *ConfigManager
	db          *sql.DB
	logger      *slog.Logger
	store       *store.Store
	tm          *templating.TemplateManager
	watcher     *templating.Watcher
	authAPI     *AuthAPI
	templateAPI *TemplateAPI
	storeAPI    *StoreAPI
	statsAPI    *StatsAPI
	serverAPI   *ServerAPI
	renderMux   *http.ServeMux
	apiMux      *http.ServeMux
}

func NewServer(cm *ConfigManager, logger *slog.Logger, db *sql.DB, actionChan chan string) (*Server, error) {
	config := cm.Get()

	st, err := store.NewStore(db)
	if err != nil {
		return nil, fmt.Errorf("error creating template store: %w", err)
	}
	st.SetLogger(logger)
	st.SetMaxSourceSize(config.Templates.MaxTemplateBytes)

	tm, err := templating.NewTemplateManager(logger, st, config.Templates, config.Server.DataDir)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to create template manager: %w", err)
	}
	cm.SetTemplateManager(tm)

	// api initialization
	authAPI := NewAuthAPI(db, logger)
	templateAPI := NewTemplateAPI(tm, logger, config.Server.MaxBodyBytes)
	storeAPI := NewStoreAPI(st, tm, logger, config.Server.MaxBodyBytes)
	statsAPI := NewStatsAPI(db, logger)
	serverAPI := NewServerAPI(cm, actionChan, tm, logger)

	server := &Server{
		cm:          cm,
		db:          db,
		logger:      logger,
		store:       st,
		tm:          tm,
		authAPI:     authAPI,
		templateAPI: templateAPI,
		storeAPI:    storeAPI,
		statsAPI:    statsAPI,
		serverAPI:   serverAPI,
		renderMux:   http.NewServeMux(),
		apiMux:      http.NewServeMux(),
	}

	if interval := config.Templates.ReloadIntervalSec; interval > 0 {
		server.watcher = templating.NewWatcher(tm, logger, time.Duration(interval)*time.Second)
		server.watcher.AddCallback(func(err error) {
			if err == nil {
				logger.Info("Templates reloaded from disk", "count", len(tm.GetTemplateNames()))
			}
		})
		if err = server.watcher.Start(); err != nil {
			st.Close()
			return nil, fmt.Errorf("failed to start template watcher: %w", err)
		}
	}

	apiMux := http.NewServeMux()

	server.authAPI.RegisterRoutes(apiMux)
	server.templateAPI.RegisterRoutes(apiMux)
	server.storeAPI.RegisterRoutes(apiMux)
	server.statsAPI.RegisterRoutes(apiMux)
	server.serverAPI.RegisterRoutes(apiMux)

	// Make sure api functions must pass through authentication first
	authedAPI := server.authAPI.Authenticate(apiMux)
	// ... except for the health check, which is unauthed so something like docker can use it
	server.apiMux.HandleFunc("/api/health", server.serverAPI.handleHealthCheck)
	server.apiMux.Handle("/api/", authedAPI)

	server.renderMux.HandleFunc("/favicon.ico", handleFavicon)
	server.renderMux.HandleFunc("/render/", server.handleRender)

	return server, nil
}

// Close stops the watcher and releases the store. The database is owned by
// the caller.
func (s *Server) Close() {
	if s.watcher != nil {
		s.watcher.Stop()
	}
	s.store.Close()
}

// handleRender renders the page template named by the path with the request's
// view: the JSON body for POST, the query parameters for GET.
func (s *Server) handleRender(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/render/"), "/")
	if name == "" || strings.Contains(name, "/") {
		http.NotFound(w, r)
		return
	}

	var view any
	switch r.Method {
	case http.MethodGet, http.MethodHead:
		view = queryView(r)
	case http.MethodPost:
		var err error
		view, err = decodeView(r.Body, s.cm.Get().Server.MaxBodyBytes)
		if err != nil {
			http.Error(w, fmt.Sprintf("Invalid JSON view: %v", err), http.StatusBadRequest)
			return
		}
	default:
		w.Header().Set("Allow", "GET, HEAD, POST")
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	ipAddr := s.getClientIP(r)

	var buf bytes.Buffer
	start := time.Now()
	err := s.tm.Execute(&buf, name, view)
	if errors.Is(err, mustache.ErrTemplateNotFound) {
		s.logger.Debug("Template not found", "template", name, "remote_addr", ipAddr)
		http.NotFound(w, r)
		return
	}
	if statErr := s.statsAPI.Record(r.Context(), name, buf.Len(), time.Since(start), err); statErr != nil {
		s.logger.Warn("Failed to record render stats", "template", name, "error", statErr)
	}
	if err != nil {
		s.logger.Error("Failed to execute template", "template", name, "remote_addr", ipAddr, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	s.logger.Info("Serving page", "template", name, "remote_addr", ipAddr, "bytes", buf.Len())
	s.setResponseHeaders(w)
	_, _ = buf.WriteTo(w)
}

func (s *Server) setResponseHeaders(w http.ResponseWriter) {
	for k, v := range s.cm.Get().Server.ResponseHeaders {
		w.Header().Set(k, v)
	}
}

// queryView converts query parameters into a view. Parameters given once map
// to a string, repeated ones to a list.
func queryView(r *http.Request) map[string]any {
	query := r.URL.Query()
	view := make(map[string]any, len(query))
	for k, vs := range query {
		if len(vs) == 1 {
			view[k] = vs[0]
		} else {
			view[k] = vs
		}
	}
	return view
}

// readLimited reads all of r, failing if it holds more than limit bytes.
// A limit of zero reads everything.
func readLimited(r io.Reader, limit int64) ([]byte, error) {
	if limit > 0 {
		r = io.LimitReader(r, limit+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if limit > 0 && int64(len(data)) > limit {
		return nil, fmt.Errorf("body exceeds %d bytes", limit)
	}
	return data, nil
}

// decodeView reads a JSON view of at most limit bytes. An empty body is a nil
// view.
func decodeView(body io.Reader, limit int64) (any, error) {
	data, err := readLimited(body, limit)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var view any
	if err = dec.Decode(&view); err != nil {
		return nil, err
	}
	return view, nil
}

// getClientIP returns the client address for logging. Forwarding headers are
// only honoured when the direct peer is a trusted proxy. X-Forwarded-For is
// walked from the right, skipping hops that are themselves trusted.
func (s *Server) getClientIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		// no port
		ip = r.RemoteAddr
	}
	if !s.cm.IsTrusted(ip) {
		return ip
	}

	if forwardedFor := r.Header.Get("X-Forwarded-For"); forwardedFor != "" {
		hops := strings.Split(forwardedFor, ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop := strings.TrimSpace(hops[i])
			if hop != "" && !s.cm.IsTrusted(hop) {
				return hop
			}
		}
	}
	if realIP := r.Header.Get("X-Real-Ip"); realIP != "" {
		return realIP
	}
	return ip
}

// handleFavicon answers favicon requests with no content so browsers do not
// trigger a template lookup.
func handleFavicon(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

// safeTemplatePath resolves a template file name inside dir, rejecting names
// that are not template files or that escape the directory.
func safeTemplatePath(dir, name string) (string, error) {
	if !templating.IsTemplateFile(name) {
		return "", fmt.Errorf("invalid template name %q", name)
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	path := filepath.Join(absDir, name)
	if filepath.Dir(path) != absDir {
		return "", fmt.Errorf("path outside template directory")
	}
	return path, nil
}
