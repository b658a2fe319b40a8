package config

import (
	"context"
	"fmt"
	"strings"

	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	Helper HelperConfig
	Proxy  ProxyConfig
	Server ServerConfig
}

type ServerConfig struct {
	Port                   int `env:"SERVER_PORT, default=8080"`
	ShutdownTimeoutSeconds int `env:"SERVER_SHUTDOWN_TIMEOUT_SECS, default=25"`

	OutgoingHTTPMaxIdleConns    int `env:"SERVER_OUTGOING_MAX_IDLE_CONNS, default=100"`
	OutgoingHTTPMaxConnsPerHost int `env:"SERVER_OUTGOING_MAX_CONNS_PER_HOST, default=20"`
}

// ProxyConfig specifies the forwarding behaviour of the proxy routes.
type ProxyConfig struct {
	// Prefix is the path prefix that carries the target URL.
	Prefix string `env:"PROXY_PREFIX, default=/curl/"`

	// RetryCount is the number of additional forwarding attempts beyond the
	// first for transport failures and upstream 5xx responses.
	RetryCount int `env:"PROXY_RETRY_COUNT, default=3"`

	// CacheTimeoutMs is how long a minted credential is served from cache
	// before a refresh.
	CacheTimeoutMs int `env:"PROXY_CACHE_TIMEOUT_MS, default=3600000"`

	// AllowedHostsFile optionally points at a YAML allowlist of proxyable
	// hosts. Unset means all hosts are allowed.
	AllowedHostsFile string `env:"PROXY_ALLOWED_HOSTS_FILE"`

	// MaxBodyBytes caps the inbound request body size.
	MaxBodyBytes int64 `env:"PROXY_MAX_BODY_BYTES, default=10485760"`
}

// HelperConfig specifies the external credential helper.
type HelperConfig struct {
	// Command is the helper binary invoked to mint tokens and log in.
	Command string `env:"HELPER_COMMAND, default=cloudflared"`

	// TimeoutSeconds bounds each helper invocation. Login flows are
	// interactive, so the default is generous.
	TimeoutSeconds int `env:"HELPER_TIMEOUT_SECS, default=120"`
}

func Load(ctx context.Context) (Config, error) {
	return load(ctx, nil) // load from OS environment
}

func load(ctx context.Context, lookup envconfig.Lookuper) (Config, error) {
	var cfg Config
	err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookup, // nil defaults to OS environment
	})
	if err != nil {
		return cfg, err
	}

	err = cfg.Proxy.Validate()
	if err != nil {
		return cfg, fmt.Errorf("invalid proxy configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the proxy configuration is usable.
func (c *ProxyConfig) Validate() error {
	if c.RetryCount < 0 {
		return fmt.Errorf("PROXY_RETRY_COUNT must be >= 0")
	}

	if c.CacheTimeoutMs < 0 {
		return fmt.Errorf("PROXY_CACHE_TIMEOUT_MS must be >= 0")
	}

	if !strings.HasPrefix(c.Prefix, "/") || !strings.HasSuffix(c.Prefix, "/") {
		return fmt.Errorf("PROXY_PREFIX must begin and end with a slash")
	}

	return nil
}
