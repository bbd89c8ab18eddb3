// Package httpapi exposes the usage cache to local collaborators over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"usage-cache/src/cache"
)

const (
	defaultLimit = 10
	maxBodyBytes = 1 << 20
)

// Store is the cache surface the handlers call.
type Store interface {
	TrackUsage(ctx context.Context, itemID string, kind cache.Kind) error
	MostFrequent(ctx context.Context, kind cache.Kind, limit int) ([]string, error)
	Recent(ctx context.Context, kind cache.Kind, limit int) ([]string, error)
	Cleanup(ctx context.Context) (int64, error)
	Clear(ctx context.Context) error
}

// Tracker queues usage events to be written in the background.
type Tracker interface {
	Track(itemID string, kind cache.Kind) bool
}

// Server holds the handlers for one store.
type Server struct {
	store     Store
	tracker   Tracker
	accessLog *log.Logger
	errorLog  *log.Logger
}

type trackRequest struct {
	ID string `json:"id"`
}

type idsResponse struct {
	IDs []string `json:"ids"`
}

type cleanupResponse struct {
	Removed int64 `json:"removed"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// NewServer wires the handlers. Nil loggers discard output.
func NewServer(store Store, accessLog, errorLog *log.Logger) *Server {
	if accessLog == nil {
		accessLog = log.New(io.Discard, "", 0)
	}
	if errorLog == nil {
		errorLog = log.New(io.Discard, "", 0)
	}
	return &Server{store: store, accessLog: accessLog, errorLog: errorLog}
}

// WithTracker makes POST /usage/{kind} hand events to t and answer 202
// Accepted instead of writing them before responding.
func (s *Server) WithTracker(t Tracker) *Server {
	s.tracker = t
	return s
}

// Router returns the mux with every route registered.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.loggingMiddleware)

	r.HandleFunc("/health", s.health).Methods(http.MethodGet)
	r.HandleFunc("/usage/{kind}", s.track).Methods(http.MethodPost)
	r.HandleFunc("/usage", s.clear).Methods(http.MethodDelete)
	r.HandleFunc("/rank/{kind}/frequent", s.frequent).Methods(http.MethodGet)
	r.HandleFunc("/rank/{kind}/recent", s.recent).Methods(http.MethodGet)
	r.HandleFunc("/rank/{kind}/sort", s.sort).Methods(http.MethodPost)
	r.HandleFunc("/maintenance/cleanup", s.cleanup).Methods(http.MethodPost)
	return r
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.accessLog.Printf("Method: %s | URL: %s | Duration: %s", r.Method, r.URL.String(), time.Since(start))
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) track(w http.ResponseWriter, r *http.Request) {
	kind, ok := s.kind(w, r)
	if !ok {
		return
	}

	var req trackRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if req.ID == "" {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "id is required"})
		return
	}

	if s.tracker != nil {
		if !s.tracker.Track(req.ID, kind) {
			s.writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "usage event dropped"})
			return
		}
		w.WriteHeader(http.StatusAccepted)
		return
	}

	if err := s.store.TrackUsage(r.Context(), req.ID, kind); err != nil {
		s.fail(w, "track usage", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) frequent(w http.ResponseWriter, r *http.Request) {
	s.rank(w, r, s.store.MostFrequent)
}

func (s *Server) recent(w http.ResponseWriter, r *http.Request) {
	s.rank(w, r, s.store.Recent)
}

func (s *Server) rank(w http.ResponseWriter, r *http.Request, query func(context.Context, cache.Kind, int) ([]string, error)) {
	kind, ok := s.kind(w, r)
	if !ok {
		return
	}

	limit := defaultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "limit must be a non-negative integer"})
			return
		}
		limit = n
	}

	ids, err := query(r.Context(), kind, limit)
	if err != nil {
		s.fail(w, "rank", err)
		return
	}
	s.writeJSON(w, http.StatusOK, idsResponse{IDs: ids})
}

// sort reorders arbitrary JSON objects by their "id" field. Objects are
// passed through untouched apart from their position.
func (s *Server) sort(w http.ResponseWriter, r *http.Request) {
	kind, ok := s.kind(w, r)
	if !ok {
		return
	}

	var raw []json.RawMessage
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&raw); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "body must be a JSON array"})
		return
	}

	items := make([]sortItem, len(raw))
	for i, msg := range raw {
		if err := json.Unmarshal(msg, &items[i]); err != nil {
			s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "every element must be an object with an id"})
			return
		}
		items[i].raw = msg
	}

	sorted, err := cache.SortByFrequency(r.Context(), s.store, items, kind)
	if err != nil {
		s.fail(w, "sort", err)
		return
	}

	out := make([]json.RawMessage, len(sorted))
	for i, item := range sorted {
		out[i] = item.raw
	}
	s.writeJSON(w, http.StatusOK, out)
}

type sortItem struct {
	Key string `json:"id"`
	raw json.RawMessage
}

func (i sortItem) ID() string { return i.Key }

func (s *Server) cleanup(w http.ResponseWriter, r *http.Request) {
	removed, err := s.store.Cleanup(r.Context())
	if err != nil {
		s.fail(w, "cleanup", err)
		return
	}
	s.writeJSON(w, http.StatusOK, cleanupResponse{Removed: removed})
}

func (s *Server) clear(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Clear(r.Context()); err != nil {
		s.fail(w, "clear", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) kind(w http.ResponseWriter, r *http.Request) (cache.Kind, bool) {
	kind, err := cache.ParseKind(mux.Vars(r)["kind"])
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return 0, false
	}
	return kind, true
}

func (s *Server) fail(w http.ResponseWriter, op string, err error) {
	s.errorLog.Printf("%s: %v", op, err)

	status := http.StatusInternalServerError
	if errors.Is(err, cache.ErrStorageUnavailable) {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.errorLog.Printf("encode response: %v", err)
	}
}
