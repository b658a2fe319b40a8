package credential

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
)

// Runner invokes the external credential helper against an origin. The two
// operations mirror the helper's subcommands: Token mints an access token
// for an origin the user is already authenticated to, Login performs the
// (possibly interactive) authentication flow.
type Runner interface {
	Token(ctx context.Context, origin string) (string, error)
	Login(ctx context.Context, origin string) error
}

// Provider obtains a token for an origin via the helper, falling back to a
// login when the initial fetch fails.
type Provider struct {
	runner Runner
}

// NewProvider creates a Provider backed by the given helper runner.
func NewProvider(runner Runner) *Provider {
	return &Provider{runner: runner}
}

// obtainState tracks progress through the fetch, login, refetch sequence.
type obtainState int

const (
	stateFetch obtainState = iota
	stateLogin
	stateRefetch
)

// Obtain acquires a token for the origin. The sequence is an explicit state
// machine: an initial token fetch; on failure a single login attempt (no
// retry, no timeout of its own); on login success one final fetch whose
// outcome is terminal either way.
//
// Retry and backoff are deliberately absent here: retries belong to request
// forwarding and are orthogonal to credential acquisition. The helper
// invocations are sequential blocking calls; the login depends on the prior
// fetch failure and the refetch depends on the login.
func (p *Provider) Obtain(ctx context.Context, origin string) (string, error) {
	state := stateFetch

	for {
		switch state {
		case stateFetch:
			token, err := p.runner.Token(ctx, origin)
			if err == nil {
				return token, nil
			}

			log.Info().Str("origin", origin).Err(err).
				Msg("token fetch failed, attempting login")
			state = stateLogin

		case stateLogin:
			if err := p.runner.Login(ctx, origin); err != nil {
				return "", fmt.Errorf("login for %s failed: %w", origin, err)
			}

			log.Info().Str("origin", origin).Msg("login complete, refetching token")
			state = stateRefetch

		case stateRefetch:
			token, err := p.runner.Token(ctx, origin)
			if err != nil {
				return "", fmt.Errorf("token fetch for %s failed after login: %w", origin, err)
			}

			return token, nil
		}
	}
}
