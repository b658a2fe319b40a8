package credential

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// execCommandContext is a variable to allow mocking in tests.
var execCommandContext = exec.CommandContext

// HelperRunner shells out to the configured access helper binary
// (e.g. cloudflared) to mint tokens and perform logins.
type HelperRunner struct {
	command string
	timeout time.Duration
}

// NewHelperRunner creates a runner for the given helper command. The timeout
// bounds each invocation; login flows are interactive and need a generous
// value.
func NewHelperRunner(command string, timeout time.Duration) (*HelperRunner, error) {
	if _, err := exec.LookPath(command); err != nil {
		return nil, fmt.Errorf("credential helper %q not found in PATH: %w", command, err)
	}

	return &HelperRunner{command: command, timeout: timeout}, nil
}

// Token invokes the helper's token subcommand for an origin. The trimmed
// stdout is the token; a non-zero exit reports the helper's stderr.
func (r *HelperRunner) Token(ctx context.Context, origin string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := execCommandContext(ctx, r.command, "access", "token", "-app="+origin)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	log.Debug().Str("origin", origin).Str("command", r.command).
		Msg("invoking helper for access token")

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("helper token fetch for %s failed: %w: %s",
			origin, err, strings.TrimSpace(stderr.String()))
	}

	token := strings.TrimSpace(stdout.String())
	if token == "" {
		return "", fmt.Errorf("helper returned empty token for %s", origin)
	}

	return token, nil
}

// Login invokes the helper's login subcommand for an origin. The helper may
// open a browser and wait for the user; its output is passed through so the
// login URL is visible.
func (r *HelperRunner) Login(ctx context.Context, origin string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := execCommandContext(ctx, r.command, "access", "login", origin)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	log.Info().Str("origin", origin).Str("command", r.command).
		Msg("invoking helper for login")

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("helper login for %s failed: %w", origin, err)
	}

	return nil
}
