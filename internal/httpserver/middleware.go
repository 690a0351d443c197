package httpserver

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/fleetedge/upflux-gateway/internal/telemetry"
)

type contextKey string

const requestIDKey contextKey = "request_id"

// RequestIDFromContext extracts the request ID stamped by Observability's
// middleware from ctx. Returns "" if none was stamped.
func RequestIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// Observability is the ops surface's single request middleware. One pass
// over the request stamps a request ID, wraps the response writer once,
// and on completion emits both the structured log line and the Prometheus
// observation from the same captured status and duration, instead of
// three separate middleware each wrapping the writer on its own.
type Observability struct {
	Logger *slog.Logger
}

// Middleware returns the chi-compatible handler wrapper.
func (o *Observability) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", id)
		ctx := context.WithValue(r.Context(), requestIDKey, id)

		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r.WithContext(ctx))

		o.record(r, sw.status, id, time.Since(start))
	})
}

func (o *Observability) record(r *http.Request, status int, requestID string, d time.Duration) {
	routePath := r.URL.Path
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			routePath = pattern
		}
	}

	o.Logger.Info("ops http request",
		"method", r.Method,
		"path", r.URL.Path,
		"status", status,
		"duration_ms", d.Milliseconds(),
		"request_id", requestID,
	)
	telemetry.HTTPRequestDuration.WithLabelValues(r.Method, routePath, strconv.Itoa(status)).Observe(d.Seconds())
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.status = code
	sw.ResponseWriter.WriteHeader(code)
}
