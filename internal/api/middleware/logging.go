package middleware

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// Logger returns a middleware that writes one log line per request. Server
// errors are logged at error level, client errors at warn.
func Logger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := newStatusRecorder(w)

			next.ServeHTTP(rec, r)

			var ev *zerolog.Event
			switch {
			case rec.statusCode >= 500:
				ev = log.Error()
			case rec.statusCode >= 400:
				ev = log.Warn()
			default:
				ev = log.Info()
			}

			ev = ev.
				Str("request_id", GetRequestID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("route", routePattern(r)).
				Int("status", rec.statusCode).
				Int64("bytes", rec.written).
				Dur("duration", time.Since(start)).
				Str("remote_addr", r.RemoteAddr)

			if sc := trace.SpanContextFromContext(r.Context()); sc.IsValid() {
				ev = ev.Str("trace_id", sc.TraceID().String()).Str("span_id", sc.SpanID().String())
			}
			if stationID, sensorID := seriesParams(r); stationID != "" || sensorID != "" {
				ev = ev.Str("station_id", stationID).Str("sensor_id", sensorID)
			}
			if q := r.URL.RawQuery; q != "" {
				ev = ev.Str("query", q)
			}

			ev.Msg("request completed")
		})
	}
}
