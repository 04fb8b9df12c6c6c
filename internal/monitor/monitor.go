// Package monitor serves the server's observability endpoints over HTTP:
//
//	GET /healthz   liveness
//	GET /metrics   Prometheus exposition
//	GET /sessions  JSON snapshot of the session table
//	GET /events    websocket stream of session events
//
// The monitor only reads; nothing it serves can change a session.
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/1ureka/uap/internal/session"
	"github.com/1ureka/uap/internal/table"
	"github.com/1ureka/uap/internal/util"
)

const shutdownTimeout = 2 * time.Second

// Sessions is the read side of the session table.
type Sessions interface {
	Snapshot() []table.Info
}

// Monitor is the HTTP surface. It is also a server.Observer.
type Monitor struct {
	sessions Sessions
	gatherer prometheus.Gatherer
	hub      *hub
	router   chi.Router
}

// New builds the router. gatherer is usually the registry the server's
// metrics were registered with.
func New(sessions Sessions, gatherer prometheus.Gatherer) *Monitor {
	m := &Monitor{
		sessions: sessions,
		gatherer: gatherer,
		hub:      newHub(),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	r.Get("/sessions", m.handleSessions)
	r.Get("/events", m.hub.serveWS)
	m.router = r
	return m
}

// Handler returns the monitor's router.
func (m *Monitor) Handler() http.Handler {
	return m.router
}

// Observe publishes events to every /events subscriber.
func (m *Monitor) Observe(events []session.Event) {
	m.hub.publish(events)
}

func (m *Monitor) handleSessions(w http.ResponseWriter, r *http.Request) {
	infos := m.sessions.Snapshot()
	if infos == nil {
		infos = []table.Info{}
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(infos); err != nil {
		util.LogDebug("monitor: failed to write /sessions: %v", err)
	}
}

// ListenAndServe serves on addr until ctx is cancelled.
func (m *Monitor) ListenAndServe(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to start monitor: %w", err)
	}
	return m.Serve(ctx, listener)
}

// Serve serves on an existing listener until ctx is cancelled.
func (m *Monitor) Serve(ctx context.Context, listener net.Listener) error {
	srv := &http.Server{
		Handler:           m.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		m.hub.closeAll()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	util.LogInfo("monitor listening on http://%s", listener.Addr())
	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
