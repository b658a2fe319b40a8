// Package testhelpers provides mock servers for exercising the proxy
// against a controllable upstream.
package testhelpers

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

// MockUpstream is a configurable access-gated upstream server for testing.
type MockUpstream struct {
	Server       *httptest.Server
	Body         string // Body to return on success
	ContentType  string // Content-Type to return ("" omits the header)
	StatusCode   int    // HTTP status code to return (200 if not set)
	RequestCount int    // Number of requests received

	LastCookie string      // Captured Cookie header from last request
	LastHeader http.Header // Captured headers from last request
	LastBody   string      // Captured body from last request
	LastPath   string      // Captured path and query from last request
}

// SetupMockUpstream creates an upstream server that records each request and
// responds with the configured status, content type and body.
func SetupMockUpstream(t *testing.T) *MockUpstream {
	t.Helper()

	mock := &MockUpstream{
		Body:        `{"ok":true}`,
		ContentType: "application/json",
		StatusCode:  http.StatusOK,
	}

	mock.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.RequestCount++
		mock.LastCookie = r.Header.Get("Cookie")
		mock.LastHeader = r.Header.Clone()
		mock.LastPath = r.URL.RequestURI()

		body, _ := io.ReadAll(r.Body)
		mock.LastBody = string(body)

		if mock.ContentType != "" {
			w.Header().Set("Content-Type", mock.ContentType)
		} else {
			// Suppress net/http's automatic content sniffing so the
			// header is truly omitted.
			w.Header()["Content-Type"] = nil
		}
		w.WriteHeader(mock.StatusCode)
		w.Write([]byte(mock.Body))
	}))

	t.Cleanup(mock.Server.Close)

	return mock
}
