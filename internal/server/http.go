// Package server exposes ingestion and the segment reader over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fastjson"

	"github.com/coffersTech/grandoutput/internal/config"
	"github.com/coffersTech/grandoutput/internal/logreader"
	"github.com/coffersTech/grandoutput/internal/model"
	"github.com/coffersTech/grandoutput/internal/pkg/filterql"
	"github.com/coffersTech/grandoutput/internal/registry"
)

const (
	defaultPageLimit = 100
	maxPageLimit     = 1000
	maxBodySize      = 8 << 20
)

// Ingester routes entries. *output.GrandOutput is an Ingester.
type Ingester interface {
	Handle(topic string, e *model.Entry) bool
}

// Options configure a Server.
type Options struct {
	Ingester Ingester
	// DataDir is scanned for segment files on every read request.
	DataDir  string
	Tokens   []config.Token
	// Registry tracks the monitors seen by ingest. A new one is created
	// when nil.
	Registry *registry.Store
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
}

// Server serves the HTTP API.
type Server struct {
	ingester Ingester
	dataDir  string
	auth     *authenticator
	live     *registry.Store
	gatherer prometheus.Gatherer
	logger   *slog.Logger

	readerMu sync.Mutex
	reader   *logreader.MultiLogReader

	parser   fastjson.ParserPool
	srv      *http.Server
	accepted atomic.Uint64
	rejected atomic.Uint64
}

// New creates a server. It does not listen until Start.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	live := opts.Registry
	if live == nil {
		live = registry.NewStore()
	}
	return &Server{
		ingester: opts.Ingester,
		live:     live,
		dataDir:  opts.DataDir,
		auth:     newAuthenticator(opts.Tokens),
		gatherer: opts.Gatherer,
		logger:   logger,
		reader:   logreader.NewMultiLogReader(logger),
	}
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("POST /api/ingest", s.AuthMiddleware(http.HandlerFunc(s.handleIngest)))
	mux.Handle("GET /api/monitors", s.AuthMiddleware(http.HandlerFunc(s.handleMonitors)))
	mux.Handle("GET /api/monitors/{id}/page", s.AuthMiddleware(http.HandlerFunc(s.handlePage)))
	mux.Handle("GET /api/live", s.AuthMiddleware(http.HandlerFunc(s.handleLive)))
	mux.HandleFunc("GET /api/stats", s.handleStats)
	if s.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

// Start listens on addr until Shutdown.
func (s *Server) Start(addr string) error {
	s.srv = &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv != nil {
		return s.srv.Shutdown(ctx)
	}
	return nil
}

// AuthMiddleware checks the bearer token of the request.
func (s *Server) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.auth.enabled() {
			next.ServeHTTP(w, r)
			return
		}
		token, ok := bearerToken(r)
		if !ok {
			w.Header().Set("WWW-Authenticate", `Bearer realm="GrandOutput"`)
			http.Error(w, "Unauthorized: Missing token", http.StatusUnauthorized)
			return
		}
		if _, ok := s.auth.verify(token); !ok {
			http.Error(w, "Unauthorized: Invalid token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type monitorJSON struct {
	ID             string         `json:"id"`
	FirstEntryTime int64          `json:"first_entry_time"`
	LastEntryTime  int64          `json:"last_entry_time"`
	FirstDepth     int            `json:"first_depth"`
	LastDepth      int            `json:"last_depth"`
	Files          int            `json:"files"`
	Tags           map[string]int `json:"tags,omitempty"`
}

// handleMonitors processes GET /api/monitors.
func (s *Server) handleMonitors(w http.ResponseWriter, r *http.Request) {
	amap, err := s.activityMap()
	if err != nil {
		s.logger.Error("scan segment files", "dir", s.dataDir, "error", err)
		http.Error(w, "Failed to scan segment files", http.StatusInternalServerError)
		return
	}
	monitors := amap.Monitors()
	out := make([]monitorJSON, 0, len(monitors))
	for _, m := range monitors {
		out = append(out, monitorJSON{
			ID:             m.ID.String(),
			FirstEntryTime: int64(m.FirstEntryTime),
			LastEntryTime:  int64(m.LastEntryTime),
			FirstDepth:     m.FirstDepth,
			LastDepth:      m.LastDepth,
			Files:          len(m.Occurrences()),
			Tags:           m.Tags(),
		})
	}
	writeJSON(w, map[string]any{
		"monitors":         out,
		"files":            len(amap.Files()),
		"valid_files":      len(amap.ValidFiles()),
		"first_entry_time": int64(amap.FirstEntryTime()),
		"last_entry_time":  int64(amap.LastEntryTime()),
	})
}

type entryJSON struct {
	Type        string   `json:"type"`
	Time        int64    `json:"time"`
	Depth       int      `json:"depth"`
	Level       string   `json:"level"`
	Text        string   `json:"text,omitempty"`
	Exception   string   `json:"exception,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Conclusions []string `json:"conclusions,omitempty"`
	File        string   `json:"file,omitempty"`
	Line        int      `json:"line,omitempty"`
	Missing     string   `json:"missing,omitempty"`
	ParentTime  int64    `json:"parent_time,omitempty"`
	ParentText  string   `json:"parent_text,omitempty"`
}

// handlePage processes GET /api/monitors/{id}/page?from=&limit=&q=.
// The filter applies to the entries of one page, next pages start after
// the last returned time. Topics are not persisted, so topic terms only
// match an empty topic.
func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	id, err := parseMonitorID(r.PathValue("id"))
	if err != nil {
		http.Error(w, "Invalid monitor id", http.StatusBadRequest)
		return
	}
	q := r.URL.Query()
	var from int64
	if v := q.Get("from"); v != "" {
		if from, err = strconv.ParseInt(v, 10, 64); err != nil {
			http.Error(w, "Invalid from", http.StatusBadRequest)
			return
		}
	}
	limit := defaultPageLimit
	if v := q.Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit <= 0 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = min(limit, maxPageLimit)
	}
	filter, err := filterql.Compile(q.Get("q"))
	if err != nil {
		http.Error(w, "Invalid query: "+err.Error(), http.StatusBadRequest)
		return
	}

	amap, err := s.activityMap()
	if err != nil {
		s.logger.Error("scan segment files", "dir", s.dataDir, "error", err)
		http.Error(w, "Failed to scan segment files", http.StatusInternalServerError)
		return
	}
	m := amap.FindMonitor(id)
	if m == nil {
		http.Error(w, "Monitor not found", http.StatusNotFound)
		return
	}
	page, err := m.ReadFirstPageFrom(model.LogTime(from), limit)
	if err != nil {
		s.logger.Error("read monitor page", "monitor", id, "error", err)
		http.Error(w, "Failed to read monitor", http.StatusInternalServerError)
		return
	}
	defer page.Close()

	entries := page.Entries()
	out := make([]entryJSON, 0, len(entries))
	var next int64
	for i := range entries {
		e := &entries[i]
		next = int64(e.Entry.Time) + 1
		if !filter.MatchEntry(&e.Entry) {
			continue
		}
		out = append(out, toEntryJSON(e))
	}
	resp := map[string]any{
		"monitor": id.String(),
		"entries": out,
		"depth":   page.Depth(),
	}
	if len(entries) == limit {
		resp["next"] = next
	}
	writeJSON(w, resp)
}

func toEntryJSON(e *logreader.ParentedLogEntry) entryJSON {
	out := entryJSON{
		Type:        e.Entry.Type.String(),
		Time:        int64(e.Entry.Time),
		Depth:       e.Entry.Depth,
		Level:       e.Entry.Level.String(),
		Text:        e.Entry.Text,
		Exception:   e.Entry.Exception,
		Tags:        e.Entry.Tags,
		Conclusions: e.Entry.Conclusions,
		File:        e.Entry.File,
		Line:        e.Entry.Line,
	}
	if e.IsMissing {
		out.Missing = e.MissingKind.String()
	}
	if e.Parent != nil {
		out.ParentTime = int64(e.Parent.Entry.Time)
		out.ParentText = e.Parent.Entry.Text
	}
	return out
}

// handleLive processes GET /api/live: the monitors recently seen by ingest.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.live.List())
}

// handleStats processes GET /api/stats.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"accepted": s.accepted.Load(),
		"rejected": s.rejected.Load(),
	})
}

// activityMap rescans the data directory. Files being written are
// skipped.
func (s *Server) activityMap() (*logreader.ActivityMap, error) {
	s.readerMu.Lock()
	defer s.readerMu.Unlock()
	s.reader.RemoveMissing()
	if _, err := s.reader.AddDirectory(s.dataDir, true, false); err != nil {
		return nil, err
	}
	return s.reader.GetActivityMap(), nil
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
