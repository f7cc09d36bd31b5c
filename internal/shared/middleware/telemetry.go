package middleware

import (
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const telemetryOperation = "homeledger-api"

// untracedPaths are polled by load balancers and would drown the traces.
var untracedPaths = map[string]struct{}{
	"/health": {},
}

// Telemetry records a span and the otelhttp server metrics for every API
// request except health checks.
func Telemetry(next http.Handler) http.Handler {
	return otelhttp.NewMiddleware(telemetryOperation,
		otelhttp.WithFilter(traced),
		otelhttp.WithSpanNameFormatter(spanName),
	)(next)
}

func traced(r *http.Request) bool {
	_, skip := untracedPaths[r.URL.Path]
	return !skip
}

// spanName keeps span names low-cardinality: connection and account ids in
// the path are not part of it.
func spanName(_ string, r *http.Request) string {
	return r.Method + " " + telemetryOperation
}
