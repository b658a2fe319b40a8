// Package credential acquires and caches the short-lived bearer credentials
// that the proxy attaches to forwarded requests. Credentials are minted per
// origin by an external helper command and cached per host.
package credential

import (
	"context"
	"time"

	"github.com/cordon/access-relay/internal/cache"
	"github.com/rs/zerolog/log"
)

// Credential is a bearer token for a protected host, valid strictly while
// now < ExpiresAt.
type Credential struct {
	Token     string
	ExpiresAt time.Time
}

// Store caches credentials by host. It is the only state shared across
// concurrent requests.
//
// The store is non-locking above its backing cache: concurrent requests for
// the same host during a miss may each trigger an independent refresh, and
// the last Put wins. Refresh is idempotent (every fetch produces an equally
// valid token), so the cost of the race is a redundant helper invocation,
// not a correctness problem.
type Store struct {
	cache cache.Cache[Credential]
	ttl   time.Duration
	now   func() time.Time
}

// NewStore creates a credential store whose entries expire ttl after each
// Put.
func NewStore(ttl time.Duration) (*Store, error) {
	// The backstop eviction TTL trails the credential expiry so that Get
	// observes expiry through ExpiresAt, not through eviction timing.
	backing, err := cache.NewMemory[Credential](ttl+time.Minute, 10_000)
	if err != nil {
		return nil, err
	}

	return &Store{
		cache: backing,
		ttl:   ttl,
		now:   time.Now,
	}, nil
}

// Get returns the cached credential for a host if it has not expired.
// Expired entries report a miss; they are superseded by the next Put rather
// than deleted.
func (s *Store) Get(ctx context.Context, host string) (Credential, bool) {
	cred, found, err := s.cache.Get(ctx, host)
	if err != nil || !found {
		return Credential{}, false
	}

	if !s.now().Before(cred.ExpiresAt) {
		log.Debug().Str("host", host).Time("expired_at", cred.ExpiresAt).
			Msg("cached credential expired")
		return Credential{}, false
	}

	return cred, true
}

// Put stores a freshly minted token for a host, overwriting any previous
// entry. Expiry is absolute, fixed at store time.
func (s *Store) Put(ctx context.Context, host, token string) Credential {
	cred := Credential{
		Token:     token,
		ExpiresAt: s.now().Add(s.ttl),
	}
	if err := s.cache.Set(ctx, host, cred); err != nil {
		// A store failure only costs a refresh on the next request.
		log.Warn().Str("host", host).Err(err).Msg("credential store write failed")
	}

	return cred
}
