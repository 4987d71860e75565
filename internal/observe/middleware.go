package observe

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Routes served by the operational HTTP server. They are polled by
// orchestrators and scrapers, so they log at debug. Anything else is
// reported as "other" to keep metric cardinality bounded.
var knownRoutes = map[string]bool{
	"/healthz": true,
	"/readyz":  true,
	"/metrics": true,
}

// MiddlewareOption configures [Middleware].
type MiddlewareOption func(*middleware)

// WithRequestLogger sets the logger for request completion lines. Defaults
// to [slog.Default] at request time.
func WithRequestLogger(l *slog.Logger) MiddlewareOption {
	return func(mw *middleware) { mw.logger = l }
}

// WithTracerProvider sets the provider for server spans. Defaults to the
// global provider.
func WithTracerProvider(tp trace.TracerProvider) MiddlewareOption {
	return func(mw *middleware) { mw.tp = tp }
}

type middleware struct {
	m      *Metrics
	logger *slog.Logger
	tp     trace.TracerProvider
	prop   propagation.TextMapPropagator
}

// Middleware wraps the health and metrics endpoints. It continues an
// incoming W3C trace, echoes the trace id as X-Correlation-ID, records
// voxrelay.http.request.duration by route and status, and logs completion.
func Middleware(m *Metrics, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	mw := &middleware{m: m, prop: propagation.TraceContext{}}
	for _, o := range opts {
		o(mw)
	}
	return mw.wrap
}

func (mw *middleware) wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		route := routeOf(r.URL.Path)

		tp := mw.tp
		if tp == nil {
			tp = otel.GetTracerProvider()
		}
		ctx := mw.prop.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		ctx, span := tp.Tracer(tracerName).Start(ctx, r.Method+" "+route,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				semconv.HTTPRequestMethodKey.String(r.Method),
				semconv.HTTPRoute(route),
			),
		)
		defer span.End()

		cid := CorrelationID(ctx)
		if cid != "" {
			w.Header().Set("X-Correlation-ID", cid)
		}
		mw.prop.Inject(ctx, propagation.HeaderCarrier(w.Header()))

		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r.WithContext(ctx))
		elapsed := time.Since(start)

		span.SetAttributes(semconv.HTTPResponseStatusCode(sw.status))
		mw.m.HTTPRequestDuration.Record(ctx, elapsed.Seconds(),
			metric.WithAttributes(
				attribute.String("method", r.Method),
				attribute.String("route", route),
				attribute.String("status", strconv.Itoa(sw.status)),
			),
		)

		logger := mw.logger
		if logger == nil {
			logger = slog.Default()
		}
		logger.LogAttrs(ctx, requestLogLevel(route), "request completed",
			slog.String("trace_id", cid),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", sw.status),
			slog.Duration("duration", elapsed),
		)
	})
}

// statusWriter remembers the status code written by the handler.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func routeOf(path string) string {
	if knownRoutes[path] {
		return path
	}
	return "other"
}

func requestLogLevel(route string) slog.Level {
	if knownRoutes[route] {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}
