// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package web

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/holomush/portal/internal/auth"
	"github.com/holomush/portal/internal/logging"
	"github.com/holomush/portal/internal/observability"
	"github.com/holomush/portal/pkg/errutil"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

type (
	sessionKey struct{}
	routeKey   struct{}
)

// SessionFromContext returns the session loaded for the request. Requests
// that never passed through the session middleware are anonymous.
func SessionFromContext(ctx context.Context) *auth.Session {
	if s, ok := ctx.Value(sessionKey{}).(*auth.Session); ok && s != nil {
		return s
	}
	return auth.NewAnonymousSession()
}

func withSession(ctx context.Context, s *auth.Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// requestID reuses a well-formed inbound X-Request-ID or mints a new one.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(logging.WithRequestID(r.Context(), id)))
	})
}

// statusRecorder remembers the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	if r.status == 0 {
		r.status = status
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	//nolint:wrapcheck // ResponseWriter passthrough
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// instrument logs every request and records it in metrics when m is not nil.
// The route label is the matched mux pattern so paths cannot explode
// cardinality.
func instrument(logger *slog.Logger, m *observability.Metrics, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		var route string
		next.ServeHTTP(rec, r.WithContext(context.WithValue(r.Context(), routeKey{}, &route)))

		status := rec.status
		if status == 0 {
			status = http.StatusOK
		}
		if route == "" {
			route = "unmatched"
		}
		elapsed := time.Since(start)

		level := slog.LevelInfo
		if status >= http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		logger.LogAttrs(r.Context(), level, "http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("route", route),
			slog.Int("status", status),
			slog.Duration("duration", elapsed))

		if m != nil {
			m.RequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
			m.RequestDuration.WithLabelValues(r.Method, route).Observe(elapsed.Seconds())
		}
	})
}

// capturePattern copies the pattern matched by mux into the slot instrument
// placed on the context. The mux sets Pattern on the request it is given,
// which inner middleware may have replaced.
func capturePattern(mux http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mux.ServeHTTP(w, r)
		if slot, ok := r.Context().Value(routeKey{}).(*string); ok {
			*slot = r.Pattern
		}
	})
}

// loadSession resolves the session cookie into a session on the request
// context. Unknown or expired tokens yield an anonymous session and the
// stale cookie is cleared.
func (h *handler) loadSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(h.cookies.name)
		if err != nil || cookie.Value == "" {
			next.ServeHTTP(w, r.WithContext(withSession(r.Context(), auth.NewAnonymousSession())))
			return
		}

		session, err := h.auth.Authenticate(r.Context(), cookie.Value)
		if err != nil {
			h.serverError(w, r, "session lookup failed", err)
			return
		}
		if !session.IsAuthenticated() {
			h.cookies.clear(w)
		}
		next.ServeHTTP(w, r.WithContext(withSession(r.Context(), session)))
	})
}

// requestKind maps an HTTP method onto the guard's request kinds. Only GET
// is navigational; GET patterns also match HEAD, which is not.
func requestKind(r *http.Request) auth.RequestKind {
	if r.Method == http.MethodGet {
		return auth.Navigational
	}
	return auth.NonNavigational
}

// requireSession runs next only for authenticated sessions. Denied page
// loads are redirected; anything else gets 403 with an empty body.
func (h *handler) requireSession(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		decision := h.guard.Check(SessionFromContext(r.Context()), requestKind(r))
		switch decision.Outcome {
		case auth.Allow:
			next(w, r)
			return
		case auth.Redirect:
			http.Redirect(w, r, decision.Location, http.StatusFound)
		default:
			w.WriteHeader(http.StatusForbidden)
		}
		observability.RecordGuardDenial(decision.Outcome.String())
		h.logger.DebugContext(r.Context(), "guard denied request",
			"path", r.URL.Path,
			"kind", requestKind(r).String(),
			"outcome", decision.Outcome.String())
	}
}

// serverError logs err and answers with a generic 500.
func (h *handler) serverError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	errutil.LogErrorContext(r.Context(), h.logger, msg, err)
	http.Error(w, genericError, http.StatusInternalServerError)
}
