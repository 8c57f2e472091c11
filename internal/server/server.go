// Package server exposes a read-only HTTP surface over the replication
// engine for dashboards and ops tooling.
package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/turbolytics/georep/internal/engine"
	"github.com/turbolytics/georep/internal/lag"
	"github.com/turbolytics/georep/internal/stream"
)

type Server struct {
	logger  *zap.Logger
	engine  *engine.Engine
	monitor *lag.Monitor
}

func New(logger *zap.Logger, e *engine.Engine, monitor *lag.Monitor) *Server {
	return &Server{
		logger:  logger,
		engine:  e,
		monitor: monitor,
	}
}

func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/streams", s.listStreams)
		r.Get("/streams/{id}", s.getStream)
		r.Get("/metrics", s.getMetrics)
		r.Get("/lag", s.getLag)
		r.Get("/conflicts", s.listConflicts)
	})

	return r
}

func (s *Server) listStreams(w http.ResponseWriter, r *http.Request) {
	streams := s.engine.Streams()
	infos := make([]stream.Info, 0, len(streams))
	for _, st := range streams {
		infos = append(infos, st.Info())
	}

	writeJSON(w, map[string]any{
		"streams": infos,
		"count":   len(infos),
	})
}

func (s *Server) getStream(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	st, err := s.engine.Stream(id)
	if err != nil {
		http.Error(w, "stream not found", http.StatusNotFound)
		return
	}

	writeJSON(w, st.Info())
}

func (s *Server) getMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.engine.Metrics().Snapshot())
}

func (s *Server) getLag(w http.ResponseWriter, r *http.Request) {
	infos, err := s.monitor.ReplicationLag(s.engine.Streams())
	if err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}

	writeJSON(w, map[string]any{
		"regions": infos,
		"count":   len(infos),
	})
}

func (s *Server) listConflicts(w http.ResponseWriter, r *http.Request) {
	pending := s.engine.Resolver().Pending()
	all := s.engine.Resolver().All()

	writeJSON(w, map[string]any{
		"pending":  pending,
		"total":    len(all),
		"resolved": len(all) - len(pending),
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:    addr,
		Handler: s.Routes(),
	}

	s.logger.Info("starting replication server", zap.String("addr", addr))

	go func() {
		<-ctx.Done()
		s.logger.Info("shutting down replication server")
		srv.Shutdown(context.Background())
	}()

	return srv.ListenAndServe()
}
