package credential

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubRunner scripts the helper's behaviour and records the sequence of
// operations invoked.
type stubRunner struct {
	calls []string

	tokenResults []tokenResult
	loginErr     error
}

type tokenResult struct {
	token string
	err   error
}

func (r *stubRunner) Token(_ context.Context, origin string) (string, error) {
	r.calls = append(r.calls, "token:"+origin)

	if len(r.tokenResults) == 0 {
		return "", errors.New("unexpected token call")
	}
	next := r.tokenResults[0]
	r.tokenResults = r.tokenResults[1:]
	return next.token, next.err
}

func (r *stubRunner) Login(_ context.Context, origin string) error {
	r.calls = append(r.calls, "login:"+origin)
	return r.loginErr
}

func TestObtain_FirstFetchSucceeds(t *testing.T) {
	runner := &stubRunner{
		tokenResults: []tokenResult{{token: "primary-token"}},
	}

	token, err := NewProvider(runner).Obtain(context.Background(), "https://example.com")

	require.NoError(t, err)
	assert.Equal(t, "primary-token", token)
	assert.Equal(t, []string{"token:https://example.com"}, runner.calls)
}

func TestObtain_LoginFallbackSucceeds(t *testing.T) {
	runner := &stubRunner{
		tokenResults: []tokenResult{
			{err: errors.New("not authenticated")},
			{token: "post-login-token"},
		},
	}

	token, err := NewProvider(runner).Obtain(context.Background(), "https://example.com")

	require.NoError(t, err)
	assert.Equal(t, "post-login-token", token)
	assert.Equal(t, []string{
		"token:https://example.com",
		"login:https://example.com",
		"token:https://example.com",
	}, runner.calls)
}

func TestObtain_LoginFailureIsTerminal(t *testing.T) {
	runner := &stubRunner{
		tokenResults: []tokenResult{
			{err: errors.New("not authenticated")},
		},
		loginErr: errors.New("login rejected"),
	}

	_, err := NewProvider(runner).Obtain(context.Background(), "https://example.com")

	require.Error(t, err)
	assert.ErrorContains(t, err, "login rejected")
	// no third helper invocation after a failed login
	assert.Equal(t, []string{
		"token:https://example.com",
		"login:https://example.com",
	}, runner.calls)
}

func TestObtain_RefetchFailureIsTerminal(t *testing.T) {
	runner := &stubRunner{
		tokenResults: []tokenResult{
			{err: errors.New("not authenticated")},
			{err: errors.New("still not authenticated")},
		},
	}

	_, err := NewProvider(runner).Obtain(context.Background(), "https://example.com")

	require.Error(t, err)
	assert.ErrorContains(t, err, "still not authenticated")
	assert.Len(t, runner.calls, 3)
}
