// Package forward builds and executes the outbound request for a proxied
// call, applying the bounded retry policy.
package forward

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
)

// Doer executes an outbound HTTP request. It is satisfied by *http.Client
// and injected so forwarding is testable without network access.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// cookieName carries the access credential to the protected origin.
const cookieName = "cf_authorization"

// defaultContentType is applied to mutating requests whose caller set no
// Content-Type of their own.
const defaultContentType = "application/json"

// Request describes one proxied call: the validated target, a snapshot of
// the inbound headers, the body bytes (mutating methods only) and the
// credential to inject.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
	Token  string
}

// Forwarder executes proxied requests with a bounded, backoff-free retry
// policy. retryCount is the number of additional attempts beyond the first.
type Forwarder struct {
	client     Doer
	retryCount int
}

// New creates a Forwarder using the given client. retryCount must be >= 0.
func New(client Doer, retryCount int) *Forwarder {
	return &Forwarder{client: client, retryCount: retryCount}
}

// Forward executes the request, retrying on transport failure and on 5xx
// responses until the attempt budget (retryCount + 1) is exhausted.
//
// A response with status < 500 is returned immediately, whatever the
// status: upstream 4xx is the caller's business, not the proxy's. A 5xx on
// the final attempt is returned as-is rather than converted to an error, so
// the caller sees the true upstream status. Only a transport failure on the
// final attempt yields an error.
//
// No delay is interposed between attempts. That is a deliberate simplicity
// choice for a local developer-facing proxy.
func (f *Forwarder) Forward(ctx context.Context, r Request) (*http.Response, error) {
	attempts := f.retryCount + 1

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		req, err := f.build(ctx, r)
		if err != nil {
			// request construction is deterministic; retrying cannot help
			return nil, err
		}

		resp, err := f.client.Do(req)
		if err != nil {
			lastErr = err
			log.Info().Str("url", r.URL).Int("attempt", attempt).Err(err).
				Msg("forward attempt failed")
			continue
		}

		if resp.StatusCode >= http.StatusInternalServerError && attempt < attempts {
			log.Info().Str("url", r.URL).Int("attempt", attempt).
				Int("status", resp.StatusCode).
				Msg("upstream server error, retrying")
			resp.Body.Close()
			continue
		}

		return resp, nil
	}

	return nil, fmt.Errorf("forwarding to %s failed after %d attempts: %w", r.URL, attempts, lastErr)
}

// hasBody reports whether the method carries the inbound body outbound.
func hasBody(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return true
	}
	return false
}

// build constructs a fresh outbound request for one attempt. Requests are
// never reused across attempts: the body reader is consumed by each send.
func (f *Forwarder) build(ctx context.Context, r Request) (*http.Request, error) {
	var body *bytes.Reader
	if hasBody(r.Method) && len(r.Body) > 0 {
		body = bytes.NewReader(r.Body)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, r.Method, r.URL, body)
	if err != nil {
		return nil, fmt.Errorf("building outbound request: %w", err)
	}

	for name, values := range r.Header {
		// Host and its variants (Hostname etc.) describe the proxy, not the
		// target; copying them would confuse the origin server.
		if strings.HasPrefix(strings.ToLower(name), "host") {
			continue
		}
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}

	// the credential cookie replaces any inbound cookies: the target's gate
	// expects exactly this credential
	req.Header.Set("Cookie", cookieName+"="+r.Token)

	if hasBody(r.Method) && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", defaultContentType)
	}

	return req, nil
}
