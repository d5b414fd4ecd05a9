// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package observability provides HTTP endpoints for metrics and health checks.
package observability

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/oops"
)

// Check verifies one dependency the portal needs to serve requests. A nil
// error from Ping means the dependency is usable.
type Check struct {
	Name  string
	Ping func(ctx context.Context) error
}

// CheckTimeout bounds a single readiness check.
const CheckTimeout = 2 * time.Second

// Authentication outcome counters. They are package-level so the auth
// service and the HTTP guard can record without holding a Server.
var (
	signInTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_signin_total",
			Help: "Total number of sign-in attempts by outcome",
		},
		[]string{"outcome"},
	)
	signUpTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_signup_total",
			Help: "Total number of sign-up attempts by outcome",
		},
		[]string{"outcome"},
	)
	guardDenialsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_guard_denials_total",
			Help: "Total number of requests denied by the access guard by outcome",
		},
		[]string{"outcome"},
	)
)

// RecordSignIn increments the sign-in counter for outcome.
func RecordSignIn(outcome string) {
	signInTotal.WithLabelValues(outcome).Inc()
}

// RecordSignUp increments the sign-up counter for outcome.
func RecordSignUp(outcome string) {
	signUpTotal.WithLabelValues(outcome).Inc()
}

// RecordGuardDenial increments the guard denial counter.
// outcome is "redirect" or "forbid".
func RecordGuardDenial(outcome string) {
	guardDenialsTotal.WithLabelValues(outcome).Inc()
}

// Metrics contains custom Prometheus metrics for the HTTP surface and the
// readiness of portal dependencies.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	DependencyUp    *prometheus.GaugeVec
}

// NewMetrics creates and registers portal metrics, including the
// package-level authentication counters.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portal_http_requests_total",
				Help: "Total number of HTTP requests by method, route and status",
			},
			[]string{"method", "route", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "portal_http_request_duration_seconds",
				Help:    "HTTP request latency by method and route",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		DependencyUp: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "portal_dependency_up",
				Help: "Whether a dependency passed its last readiness check (1) or not (0)",
			},
			[]string{"dependency"},
		),
	}

	reg.MustRegister(m.RequestsTotal)
	reg.MustRegister(m.RequestDuration)
	reg.MustRegister(m.DependencyUp)
	reg.MustRegister(signInTotal)
	reg.MustRegister(signUpTotal)
	reg.MustRegister(guardDenialsTotal)

	return m
}

// Server exposes /metrics and the liveness and readiness endpoints.
type Server struct {
	addr       string
	registry   *prometheus.Registry
	metrics    *Metrics
	checks     []Check
	listener   net.Listener
	httpServer *http.Server
	running    atomic.Bool
}

// NewServer creates a Server on addr ("host:port"). Readiness passes only
// when every check passes; with no checks the portal is always ready.
func NewServer(addr string, checks ...Check) *Server {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return &Server{
		addr:     addr,
		registry: registry,
		metrics:  NewMetrics(registry),
		checks:   checks,
	}
}

// Metrics returns the metrics the web handler records into.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Start listens and serves in the background. The returned channel
// receives a serve error, if any, and is closed when the server stops.
func (s *Server) Start() (<-chan error, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, oops.Code("OBSERVABILITY_SERVER_RUNNING").Errorf("observability server already running")
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.running.Store(false)
		return nil, oops.Code("OBSERVABILITY_LISTEN_FAILED").With("addr", s.addr).Wrap(err)
	}
	s.listener = listener

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{EnableOpenMetrics: true}))
	mux.HandleFunc("GET /healthz/liveness", s.handleLiveness)
	mux.HandleFunc("GET /healthz/readiness", s.handleReadiness)

	httpSrv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.httpServer = httpSrv

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if serveErr := httpSrv.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			slog.Error("observability server error", "error", serveErr)
			errCh <- serveErr
		}
	}()

	slog.Info("observability server started",
		"addr", listener.Addr().String(),
		"checks", len(s.checks))
	return errCh, nil
}

// Stop shuts the server down, waiting for in-flight scrapes until ctx is done.
func (s *Server) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.running.Store(true)
		return oops.Code("OBSERVABILITY_SHUTDOWN_FAILED").Wrap(err)
	}
	slog.Info("observability server stopped")
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

func (s *Server) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	//nolint:errcheck // health clients may hang up
	io.WriteString(w, "ok\n")
}

// handleReadiness checks every dependency, records the result in
// portal_dependency_up and answers 503 if any check failed. The body lists
// one "name: ok|unavailable" line per dependency.
func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	var body strings.Builder
	ready := true
	for _, check := range s.checks {
		if err := s.run(r.Context(), check); err != nil {
			ready = false
			s.metrics.DependencyUp.WithLabelValues(check.Name).Set(0)
			slog.WarnContext(r.Context(), "dependency not ready", "dependency", check.Name, "error", err)
			fmt.Fprintf(&body, "%s: unavailable\n", check.Name)
			continue
		}
		s.metrics.DependencyUp.WithLabelValues(check.Name).Set(1)
		fmt.Fprintf(&body, "%s: ok\n", check.Name)
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if ready {
		w.WriteHeader(http.StatusOK)
		body.WriteString("ready\n")
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
		body.WriteString("not ready\n")
	}
	//nolint:errcheck // health clients may hang up
	io.WriteString(w, body.String())
}

func (s *Server) run(ctx context.Context, check Check) error {
	ctx, cancel := context.WithTimeout(ctx, CheckTimeout)
	defer cancel()
	return check.Ping(ctx)
}
