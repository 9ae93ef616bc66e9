package http

import (
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/time/rate"

	"github.com/example/mess-attendance/internal/application"
	"github.com/example/mess-attendance/internal/domain"
	"github.com/example/mess-attendance/internal/metrics"
)

const (
	HeaderUserID   = "X-User-ID"
	HeaderUserRole = "X-User-Role"
)

// RequireIdentity converts the gateway supplied identity headers into a
// principal. Requests without a user id or with an unknown role get 401.
func RequireIdentity(logger *slog.Logger) func(http.Handler) http.Handler {
	responder := newResponder(logger)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := strings.TrimSpace(r.Header.Get(HeaderUserID))
			role, err := domain.ParseRole(r.Header.Get(HeaderUserRole))
			if userID == "" || err != nil {
				responder.writeError(r.Context(), w, http.StatusUnauthorized, "unauthorized", errMissingIdentity)
				return
			}

			principal := application.Principal{UserID: userID, Role: role}
			ctx := ContextWithPrincipal(r.Context(), principal)
			if logger := LoggerFromContext(ctx); logger != nil {
				ctx = ContextWithLogger(ctx, logger.With("principal_id", userID, "principal_role", string(role)))
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequestLogger attaches a request scoped logger to the context and logs the
// completed request with its status and duration.
func RequestLogger(base *slog.Logger) func(http.Handler) http.Handler {
	if base == nil {
		base = slog.Default()
	}
	var counter atomic.Uint64

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := counter.Add(1)
			logger := base.With(
				"request_id", id,
				"method", r.Method,
				"path", r.URL.Path,
			)

			ctx := ContextWithLogger(r.Context(), logger)
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r.WithContext(ctx))
			logger.InfoContext(ctx, "request completed", "status", sw.status, "duration", time.Since(start))
		})
	}
}

// InstrumentRequests records request counts and latency per route template.
func InstrumentRequests(m *metrics.Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)

			route := "unmatched"
			if current := mux.CurrentRoute(r); current != nil {
				if tpl, err := current.GetPathTemplate(); err == nil {
					route = tpl
				}
			}
			m.ObserveRequest(route, r.Method, sw.status, time.Since(start))
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// ScanLimiter throttles QR scans per scanning principal with a token bucket.
type ScanLimiter struct {
	limit rate.Limit
	burst int
	idle  time.Duration
	now   func() time.Time

	mu       sync.Mutex
	scanners map[string]*scanner
}

type scanner struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewScanLimiter allows perSecond scans per scanner with the given burst.
// Scanners idle for longer than idle are forgotten.
func NewScanLimiter(perSecond float64, burst int, idle time.Duration) *ScanLimiter {
	if burst <= 0 {
		burst = 1
	}
	if idle <= 0 {
		idle = 3 * time.Minute
	}
	return &ScanLimiter{
		limit:    rate.Limit(perSecond),
		burst:    burst,
		idle:     idle,
		now:      time.Now,
		scanners: make(map[string]*scanner),
	}
}

// Allow reports whether key may scan now.
func (l *ScanLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for k, s := range l.scanners {
		if now.Sub(s.lastSeen) > l.idle {
			delete(l.scanners, k)
		}
	}
	s, ok := l.scanners[key]
	if !ok {
		s = &scanner{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.scanners[key] = s
	}
	s.lastSeen = now
	return s.limiter.AllowN(now, 1)
}

// Middleware rejects scans beyond the budget with 429.
func (l *ScanLimiter) Middleware(logger *slog.Logger) func(http.Handler) http.Handler {
	responder := newResponder(logger)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, _ := PrincipalFromContext(r.Context())
			if l != nil && !l.Allow(principal.UserID) {
				w.Header().Set("Retry-After", "1")
				responder.writeError(r.Context(), w, http.StatusTooManyRequests, "rate_limited", errTooManyScans)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
