// Package server exposes the overlay over HTTP: the websocket used by overlay
// pages, event injection, health, status and metrics. Requests get a correlation
// ID in their context for consistent logging.
package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/onnwee/fluxbot/overlay"
	"github.com/onnwee/fluxbot/telemetry"
)

// Check is a named readiness probe.
type Check struct {
	Name string
	Fn   func(context.Context) error
}

// Deps are the collaborators served over HTTP.
type Deps struct {
	Client *overlay.Client
	Hub    *Hub
	Checks []Check
}

// NewRouter returns the HTTP handler with all routes.
// The provided context bounds the rate limiter cleanup goroutine.
func NewRouter(ctx context.Context, d Deps) http.Handler {
	authCfg := loadAuthConfig()
	rateLimiterCfg := loadRateLimiterConfig()
	corsCfg := loadCORSConfig()
	slog.Info("initializing in-memory rate limiter", slog.String("component", "http"))
	limiter := newIPRateLimiter(ctx, rateLimiterCfg)

	h := NewHandlers(d)
	router := httprouter.New()
	router.PanicHandler = func(w http.ResponseWriter, r *http.Request, v any) {
		telemetry.LoggerWithCorr(r.Context()).Error("handler panic",
			slog.String("component", "http"),
			slog.String("path", r.URL.Path),
			slog.Any("err", v))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}

	router.Handler(http.MethodGet, "/metrics", promhttp.Handler())
	router.GET("/healthz", h.HandleHealthz)
	router.GET("/readyz", h.HandleReadyz)
	router.GET("/status", h.HandleStatus)

	router.GET("/overlay/ws", d.Hub.ServeWS)
	router.GET("/overlay/sequences", h.HandleSequences)
	router.Handler(http.MethodPost, "/overlay/events/:event",
		eventAuth(rateLimitMiddleware(http.HandlerFunc(h.HandleEvent), limiter), authCfg))

	return withCORSConfig(withCorrelation(router), corsCfg)
}

// withCorrelation reuses or generates X-Correlation-ID and wraps the request in a span.
func withCorrelation(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		corr := r.Header.Get("X-Correlation-ID")
		if corr == "" {
			corr = uuid.NewString()
		}
		ctx := telemetry.WithCorrelation(r.Context(), corr)
		w.Header().Set("X-Correlation-ID", corr)

		ctx, span := telemetry.StartSpan(ctx, "http-server", r.Method+" "+r.URL.Path,
			telemetry.HTTPMethodAttr(r.Method),
			telemetry.HTTPRouteAttr(r.URL.Path),
		)
		defer span.End()

		telemetry.LoggerWithCorr(ctx).Debug("request start",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("component", "http"))

		rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))

		telemetry.SetSpanHTTPStatus(span, rec.statusCode)
		if rec.statusCode >= 400 {
			span.SetStatus(telemetry.ErrorStatus(fmt.Sprintf("HTTP %d", rec.statusCode)))
		}
	})
}

// statusRecorder wraps ResponseWriter to capture the status code.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.statusCode = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

// Hijack lets the websocket upgrader take over the connection.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.statusCode = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func (r *statusRecorder) Flush() {
	if flusher, ok := r.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Start runs the HTTP server and shuts down gracefully on context cancellation.
func Start(ctx context.Context, d Deps, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           NewRouter(ctx, d),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("http server shutdown error", slog.Any("err", err))
		}
	}()

	slog.Info("http server listening", slog.String("component", "http"), slog.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("http server error", slog.Any("err", err))
		return err
	}
	return nil
}
