// Package target recovers and validates the caller-supplied destination URL
// from an inbound proxy request path.
package target

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/rs/zerolog/log"
)

// ErrNoTarget indicates that the request path did not carry a proxied target
// URL (no prefix match, or nothing after the prefix).
var ErrNoTarget = errors.New("no target url in request path")

// Extractor parses the inbound request URI to recover a well-formed,
// protocol-restricted absolute URL.
type Extractor struct {
	prefix string
}

// NewExtractor creates an Extractor for the given proxy path prefix
// (e.g. "/curl/").
func NewExtractor(prefix string) *Extractor {
	return &Extractor{prefix: prefix}
}

// Extract takes the raw request URI (path plus query, unescaped as sent by
// the client) and returns the validated absolute target URL.
//
// Only http and https targets are accepted: this is a security boundary
// preventing the proxy from being pointed at non-network schemes such as
// file:.
func (e *Extractor) Extract(requestURI string) (*url.URL, error) {
	_, candidate, found := strings.Cut(requestURI, e.prefix)
	if !found || candidate == "" {
		return nil, ErrNoTarget
	}

	// Quirk repair: a caller that appended query parameters to a target that
	// had none produces ".../path&x=1" rather than ".../path?x=1". Promote
	// the first "&" to "?" when no "?" is present. This is not a general
	// query parser.
	if !strings.Contains(candidate, "?") && strings.Contains(candidate, "&") {
		candidate = strings.Replace(candidate, "&", "?", 1)
	}

	u, err := url.Parse(candidate)
	if err != nil {
		log.Info().Str("target", candidate).Err(err).Msg("malformed target url")
		return nil, fmt.Errorf("malformed target url: %w", err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		log.Info().Str("target", candidate).Str("scheme", u.Scheme).
			Msg("rejected target url: protocol not allowed")
		return nil, fmt.Errorf("target protocol %q not allowed", u.Scheme)
	}

	if u.Host == "" {
		return nil, fmt.Errorf("target url has no host: %s", candidate)
	}

	return u, nil
}

// Origin returns the scheme and authority of a URL, excluding path and
// query. The credential helper is invoked per origin.
func Origin(u *url.URL) string {
	return u.Scheme + "://" + u.Host
}
