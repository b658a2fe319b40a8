package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"github.com/cordon/access-relay/internal/config"
	"github.com/cordon/access-relay/internal/credential"
	"github.com/cordon/access-relay/internal/forward"
	"github.com/cordon/access-relay/internal/observe"
	"github.com/cordon/access-relay/internal/ruleset"
	"github.com/cordon/access-relay/internal/server"
	"github.com/cordon/access-relay/internal/target"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/justinas/alice"
)

func configureServerRoutes(cfg config.Config, client forward.Doer) (http.Handler, error) {
	mux := http.NewServeMux()

	rules, err := loadHostRules(cfg.Proxy)
	if err != nil {
		return nil, fmt.Errorf("host rules configuration failed: %w", err)
	}

	store, err := credential.NewStore(time.Duration(cfg.Proxy.CacheTimeoutMs) * time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("credential store configuration failed: %w", err)
	}

	runner, err := credential.NewHelperRunner(
		cfg.Helper.Command,
		time.Duration(cfg.Helper.TimeoutSeconds)*time.Second,
	)
	if err != nil {
		return nil, fmt.Errorf("credential helper configuration failed: %w", err)
	}

	deps := proxyDeps{
		extractor: target.NewExtractor(cfg.Proxy.Prefix),
		rules:     rules,
		store:     store,
		provider:  credential.NewProvider(runner),
		forwarder: forward.New(client, cfg.Proxy.RetryCount),
	}

	requestLimiter := maxRequestSize(cfg.Proxy.MaxBodyBytes)
	proxyRouteMiddleware := alice.New(requestLimiter, requestLogMiddleware, recoveredMiddleware, corsMiddleware)
	proxyHandler := observe.Handler(cfg.Proxy.Prefix, proxyRouteMiddleware.Then(handleProxy(deps)))

	// healthchecks are not included in telemetry
	standardRouteMiddleware := alice.New(requestLimiter)
	mux.Handle("GET /healthcheck", standardRouteMiddleware.Then(handleHealthCheck()))

	// ServeMux canonicalizes paths before matching, which would 301 any
	// target URL under the prefix (they contain "//"). Proxy requests are
	// dispatched ahead of the mux on the unmodified path.
	root := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, cfg.Proxy.Prefix) {
			proxyHandler.ServeHTTP(w, r)
			return
		}
		mux.ServeHTTP(w, r)
	})

	return root, nil
}

func loadHostRules(cfg config.ProxyConfig) (*ruleset.HostRules, error) {
	if cfg.AllowedHostsFile == "" {
		return ruleset.AllowAll(), nil
	}
	return ruleset.Load(cfg.AllowedHostsFile)
}

func main() {
	configureLogging()

	logBuildInfo()

	err := launchServer()
	if err != nil {
		log.Fatal().Err(err).Msg("server failed to start")
	}
}

func launchServer() error {
	ctx := context.Background()

	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("configuration load failed: %w", err)
	}

	transport := configureHTTPTransport(cfg.Server)
	client := &http.Client{
		Transport: observe.HTTPTransport(transport),
	}

	handler, err := configureServerRoutes(cfg, client)
	if err != nil {
		return fmt.Errorf("server routing configuration failed: %w", err)
	}

	hooks := &server.ShutdownHooks{}
	hooks.Add("outbound connections", func() error {
		transport.CloseIdleConnections()
		return nil
	})

	err = server.Serve(ctx, cfg.Server, handler, hooks)
	if err != nil {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

func configureLogging() {
	// default level is Info
	log.Logger = log.Level(zerolog.InfoLevel)

	if os.Getenv("ENV") == "development" {
		log.Logger = log.
			Output(zerolog.ConsoleWriter{Out: os.Stdout}).
			Level(zerolog.DebugLevel)
	}

	zerolog.DefaultContextLogger = &log.Logger
}

func logBuildInfo() {
	buildInfo, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	ev := log.Info()
	for _, v := range buildInfo.Settings {
		if strings.HasPrefix(v.Key, "vcs.") ||
			strings.HasPrefix(v.Key, "GO") ||
			v.Key == "CGO_ENABLED" {
			ev = ev.Str(v.Key, v.Value)
		}
	}

	ev.Msg("build information")
}

func configureHTTPTransport(cfg config.ServerConfig) *http.Transport {
	transport := http.DefaultTransport.(*http.Transport).Clone()

	transport.MaxIdleConns = cfg.OutgoingHTTPMaxIdleConns
	transport.MaxConnsPerHost = cfg.OutgoingHTTPMaxConnsPerHost

	return transport
}
