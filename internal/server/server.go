// Package server exposes the persisted county land-cover table and the run
// ledger as a read-only JSON API.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/nlcd-county/internal/landcover"
	"github.com/sells-group/nlcd-county/internal/store"
)

// DefaultTopN is the number of ranked counties per class in /summary.
const DefaultTopN = 10

// maxListLimit caps the page size of /runs.
const maxListLimit = 500

// Server serves county records and runs from a Store.
type Server struct {
	store store.Store
	log   *zap.Logger
}

// New creates a Server backed by st.
func New(st store.Store) *Server {
	return &Server{
		store: st,
		log:   zap.L().With(zap.String("component", "server.api")),
	}
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/summary", s.handleSummary)
	r.Route("/counties", func(r chi.Router) {
		r.Get("/", s.handleListCounties)
		r.Get("/{fips}", s.handleGetCounty)
	})
	r.Route("/runs", func(r chi.Router) {
		r.Get("/", s.handleListRuns)
		r.Get("/{id}", s.handleGetRun)
		r.Get("/{id}/failures", s.handleListFailures)
	})
	return r
}

// ListenAndServe runs an HTTP server on port until ctx is cancelled, then
// shuts it down gracefully.
func ListenAndServe(ctx context.Context, port int, h http.Handler) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		zap.L().Info("starting server", zap.Int("port", port))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server: listen")
		}
		return nil
	case <-ctx.Done():
	}

	zap.L().Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return eris.Wrap(err, "server: shutdown")
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListCounties(w http.ResponseWriter, r *http.Request) {
	state := r.URL.Query().Get("state")
	if state != "" && !isStateFIPS(state) {
		writeError(w, http.StatusBadRequest, "state must be a 2-digit FIPS code")
		return
	}

	records, err := s.store.ListRecords(r.Context(), state)
	if err != nil {
		s.internalError(w, "list counties", err)
		return
	}
	if records == nil {
		records = []landcover.CountyRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleGetCounty(w http.ResponseWriter, r *http.Request) {
	fips, err := landcover.NormalizeFIPS(chi.URLParam(r, "fips"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid county FIPS code")
		return
	}

	rec, err := s.store.GetRecord(r.Context(), fips)
	if store.IsNotFound(err) {
		writeError(w, http.StatusNotFound, "county not found")
		return
	}
	if err != nil {
		s.internalError(w, "get county", err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	top, err := intParam(r, "top", DefaultTopN)
	if err != nil || top < 0 {
		writeError(w, http.StatusBadRequest, "top must be a non-negative integer")
		return
	}

	records, err := s.store.ListRecords(r.Context(), "")
	if err != nil {
		s.internalError(w, "summary", err)
		return
	}
	writeJSON(w, http.StatusOK, landcover.Summarize(records, top))
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", 50)
	if err != nil || limit < 1 {
		writeError(w, http.StatusBadRequest, "limit must be a positive integer")
		return
	}
	offset, err := intParam(r, "offset", 0)
	if err != nil || offset < 0 {
		writeError(w, http.StatusBadRequest, "offset must be a non-negative integer")
		return
	}

	runs, err := s.store.ListRuns(r.Context(), store.RunFilter{
		Status: store.RunStatus(r.URL.Query().Get("status")),
		Limit:  min(limit, maxListLimit),
		Offset: offset,
	})
	if err != nil {
		s.internalError(w, "list runs", err)
		return
	}
	if runs == nil {
		runs = []store.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.GetRun(r.Context(), chi.URLParam(r, "id"))
	if store.IsNotFound(err) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		s.internalError(w, "get run", err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleListFailures(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.store.GetRun(r.Context(), id); err != nil {
		if store.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		s.internalError(w, "get run", err)
		return
	}

	failures, err := s.store.ListFailures(r.Context(), id)
	if err != nil {
		s.internalError(w, "list failures", err)
		return
	}
	if failures == nil {
		failures = []store.Failure{}
	}
	writeJSON(w, http.StatusOK, failures)
}

func (s *Server) internalError(w http.ResponseWriter, op string, err error) {
	s.log.Error(op+" failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func intParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

func isStateFIPS(s string) bool {
	return len(s) == 2 && s[0] >= '0' && s[0] <= '9' && s[1] >= '0' && s[1] <= '9'
}
