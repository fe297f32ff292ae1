// SPDX-FileCopyrightText: (C) 2025 Red Hat Inc.
// SPDX-License-Identifier: Apache 2.0

// Package statusd exposes the agent's current onboarding state and
// Prometheus metrics over HTTP, for operators running the agent as a
// long-lived service rather than a one-shot CLI invocation. The
// listen/shutdown lifecycle is grounded on
// kgiusti-go-fdo-server/cmd/manufacturing.go and rendezvous.go's
// Server.Start pattern (signal.Notify + http.Server.Shutdown);
// routing uses chi, and Run uses golang.org/x/sync/errgroup in place
// of the teacher's bare goroutine to tie the serve loop to a graceful
// shutdown when its context is canceled.
package statusd

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

// Metrics are the counters/gauges the agent exports: an attempts
// counter by phase and outcome, and a current-state gauge by phase.
// They are served at /metrics; the /status handler reads only its
// StatusProvider.
type Metrics struct {
	AttemptsTotal  *prometheus.CounterVec
	CurrentState   *prometheus.GaugeVec
}

// NewMetrics registers the agent's metrics against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		AttemptsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sdo_agent_attempts_total",
			Help: "Total protocol phase attempts by phase and outcome.",
		}, []string{"phase", "outcome"}),
		CurrentState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sdo_agent_state",
			Help: "1 if the agent is currently in the given phase, 0 otherwise.",
		}, []string{"phase"}),
	}
}

// StatusProvider is consulted by the /status handler to report the
// agent's current view of onboarding, borrowed from whatever is
// driving the protocol.Driver loop.
type StatusProvider interface {
	Status() Status
}

// Status is the JSON body served at /status.
type Status struct {
	GUID    string `json:"guid,omitempty"`
	Phase   string `json:"phase"`
	State   string `json:"state"`
	Active  bool   `json:"active"`
}

// Server is the status/metrics HTTP server.
type Server struct {
	addr     string
	status   StatusProvider
	registry *prometheus.Registry
}

// NewServer builds a Server listening on addr, serving /status from
// status and /metrics from the given Prometheus registry.
func NewServer(addr string, status StatusProvider, registry *prometheus.Registry) *Server {
	return &Server{addr: addr, status: status, registry: registry}
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/status", s.handleStatus)
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	return r
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.status.Status()); err != nil {
		slog.Error("statusd: encode status", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

// Run starts the HTTP server and blocks until ctx is canceled, at
// which point it shuts down gracefully with a 5 second deadline,
// matching the teacher's server lifecycle.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Handler:           s.routes(),
		ReadHeaderTimeout: 3 * time.Second,
	}

	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("statusd listening", "addr", lis.Addr().String())
		if err := srv.Serve(lis); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		slog.Debug("statusd shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
