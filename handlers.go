package main

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/cordon/access-relay/internal/credential"
	"github.com/cordon/access-relay/internal/forward"
	"github.com/cordon/access-relay/internal/ruleset"
	"github.com/cordon/access-relay/internal/target"
	"github.com/rs/zerolog/log"
)

// proxyDeps collects the per-request collaborators for the proxy route.
// Everything is injected so tests can substitute isolated instances.
type proxyDeps struct {
	extractor *target.Extractor
	rules     *ruleset.HostRules
	store     *credential.Store
	provider  *credential.Provider
	forwarder *forward.Forwarder
}

// handleProxy relays an inbound request to the target URL carried in its
// path, attaching the access credential for the target host.
func handleProxy(deps proxyDeps) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		// the raw request target preserves the "//" of the embedded target
		// URL, which r.URL normalization would not
		uri := r.RequestURI
		if uri == "" {
			uri = r.URL.RequestURI()
		}

		u, err := deps.extractor.Extract(uri)
		if err != nil {
			log.Info().Str("path", r.URL.Path).Err(err).Msg("target extraction failed")
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}

		if !deps.rules.Allows(u.Host) {
			log.Info().Str("host", u.Host).Msg("target host not in allowlist")
			writeJSONError(w, http.StatusForbidden, "target host not allowed: "+u.Host)
			return
		}

		cred, ok := deps.store.Get(r.Context(), u.Host)
		if !ok {
			token, err := deps.provider.Obtain(r.Context(), target.Origin(u))
			if err != nil {
				log.Warn().Str("host", u.Host).Err(err).Msg("credential acquisition failed")
				writeJSONError(w, http.StatusInternalServerError, err.Error())
				return
			}
			cred = deps.store.Put(r.Context(), u.Host, token)
		}

		var body []byte
		if requestCarriesBody(r.Method) {
			body, err = io.ReadAll(r.Body)
			if err != nil {
				log.Info().Err(err).Msg("reading inbound body failed")
				writeJSONError(w, http.StatusInternalServerError, "reading request body: "+err.Error())
				return
			}
		}

		resp, err := deps.forwarder.Forward(r.Context(), forward.Request{
			Method: r.Method,
			URL:    u.String(),
			Header: r.Header,
			Body:   body,
			Token:  cred.Token,
		})
		if err != nil {
			log.Warn().Str("url", u.String()).Err(err).Msg("forwarding failed")
			writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		defer resp.Body.Close()

		// mirror the upstream status and body verbatim, relaying the
		// upstream content type when it set one
		contentType := resp.Header.Get("Content-Type")
		if contentType == "" {
			contentType = "application/json"
		}
		w.Header().Set("Content-Type", contentType)
		w.WriteHeader(resp.StatusCode)

		if _, err := io.Copy(w, resp.Body); err != nil {
			// the status line is gone; all that remains is to log
			log.Info().Err(err).Msg("relaying upstream body failed")
		}
	})
}

func handleHealthCheck() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
}

// requestCarriesBody reports whether the inbound body is forwarded for the
// method.
func requestCarriesBody(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return true
	}
	return false
}

// corsMiddleware answers preflight requests and marks every response as
// cross-origin accessible. The proxy serves local tooling, so the policy is
// permissive.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "*")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// recoveredMiddleware converts a handler panic into a structured 500 so no
// failure crashes the listener or leaves the client without a response.
func recoveredMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				log.Error().Interface("panic", rec).Str("path", r.URL.Path).
					Msg("proxy handler panicked")
				writeJSONError(w, http.StatusInternalServerError, "internal proxy failure")
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// requestLogMiddleware records one structured line per proxied request:
// method, path, response status and duration.
func requestLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w}

		next.ServeHTTP(sw, r)

		log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", sw.status()).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

// statusWriter captures the response status for logging.
type statusWriter struct {
	http.ResponseWriter
	wroteStatus int
}

func (w *statusWriter) WriteHeader(code int) {
	if w.wroteStatus == 0 {
		w.wroteStatus = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.wroteStatus == 0 {
		w.wroteStatus = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

func (w *statusWriter) status() int {
	if w.wroteStatus == 0 {
		return http.StatusOK
	}
	return w.wroteStatus
}

func maxRequestSize(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.MaxBytesHandler(next, limit)
	}
}

// ErrorResponse represents a JSON error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// writeJSONError writes a JSON error response with the given status code and message.
func writeJSONError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := ErrorResponse{Error: message}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		// At this point the status code has been written, so we can only log
		log.Info().Msgf("failed to write JSON error response: %v", err)
	}
}

// drainRequestBody drains the request body by reading and discarding the contents.
// This is useful to ensure the request body is fully consumed, which is important
// for connection reuse in HTTP/1 clients.
func drainRequestBody(r *http.Request) {
	if r.Body != nil {
		// 5MB max: after this we'll assume the client is broken or malicious
		// and close the connection
		_, err := io.CopyN(io.Discard, r.Body, 5*1024*1024)
		if err != nil && !errors.Is(err, io.EOF) {
			log.Debug().Err(err).Msg("draining request body failed")
		}
	}
}
