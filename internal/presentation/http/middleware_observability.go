package httppresentation

import (
	"net/http"
	"strconv"
	"time"

	"github.com/Zhima-Mochi/repoevents/internal/observability"
	"github.com/Zhima-Mochi/repoevents/internal/observability/logctx"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// ObservabilityMiddleware combines:
// - W3C Trace Context extraction and a server span per request
// - request-scoped logger injection (dynamic fields only)
// - X-Request-ID generation + echo
// - HTTP metrics (counter + histogram) labelled by the chi route pattern
// - one access log line per request
func ObservabilityMiddleware(
	base observability.Logger,
	requestID func(*http.Request) string,
	tel observability.Observability,
) func(http.Handler) http.Handler {
	tel = observability.OrNop(tel)
	if base == nil {
		base = tel.Logger()
	}
	prop := otel.GetTextMapPropagator()
	tracer := otel.Tracer(tracerName)
	requests := tel.Metrics().Counter(observability.MHTTPRequests)
	durations := tel.Metrics().Histogram(observability.MHTTPRequestDuration)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := prop.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx, span := tracer.Start(ctx, r.Method+" "+r.URL.Path,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					attribute.String("http.method", r.Method),
					attribute.String("http.target", r.URL.Path),
					attribute.String("http.user_agent", r.UserAgent()),
				),
			)
			defer span.End()
			sc := trace.SpanContextFromContext(ctx)

			rid := ""
			if requestID != nil {
				rid = requestID(r)
			}
			if rid == "" {
				rid = uuid.NewString()
			}
			w.Header().Set(headerRequestID, rid)

			fields := []observability.Field{observability.F("request_id", rid)}
			if sc.IsValid() {
				fields = append(fields,
					observability.F("trace_id", sc.TraceID().String()),
					observability.F("span_id", sc.SpanID().String()),
				)
			}
			reqLogger := base.With(fields...)
			ctx = logctx.With(ctx, reqLogger)

			start := time.Now()
			lrw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(lrw, r.WithContext(ctx))
			lat := time.Since(start)

			// The pattern is only known once chi has routed the request.
			route := routePattern(r)
			status := strconv.Itoa(lrw.status)
			span.SetName(r.Method + " " + route)
			span.SetAttributes(
				attribute.String("http.route", route),
				attribute.Int("http.status_code", lrw.status),
			)

			labels := []observability.Label{
				observability.L("method", r.Method),
				observability.L("route", route),
				observability.L("status", status),
			}
			requests.Add(1, labels...)
			durations.Observe(lat.Seconds(), labels...)

			reqLogger.Info("http_access",
				observability.F("method", r.Method),
				observability.F("route", route),
				observability.F("path", r.URL.Path),
				observability.F("status", lrw.status),
				observability.F("latency_ms", lat.Milliseconds()),
			)
		})
	}
}

func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return "unknown"
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
