// Package observe wires OpenTelemetry HTTP instrumentation around the
// proxy's inbound routes and outbound transport.
package observe

import (
	"net/http"
	"slices"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Handler wraps a route with the standard OTel handler, tagged with the
// route pattern. Routes that should stay out of telemetry (the healthcheck)
// are registered without it.
func Handler(pattern string, handler http.Handler) http.Handler {
	return otelhttp.NewHandler(handler, TrimMethod(pattern))
}

// HTTPTransport instruments the outbound transport used to reach target
// hosts.
func HTTPTransport(base http.RoundTripper) http.RoundTripper {
	return otelhttp.NewTransport(base)
}

var methods = []string{
	http.MethodConnect,
	http.MethodDelete,
	http.MethodGet,
	http.MethodHead,
	http.MethodOptions,
	http.MethodPatch,
	http.MethodPost,
	http.MethodPut,
	http.MethodTrace,
}

func TrimMethod(pattern string) string {
	method, resource, hasMethod := strings.Cut(pattern, " ")
	if hasMethod && slices.Contains(methods, method) {
		return resource
	}
	return pattern
}
