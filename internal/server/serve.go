package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/cordon/access-relay/internal/config"
	"github.com/rs/zerolog/log"
)

// Serve runs the HTTP server until it fails or the process receives SIGINT
// or SIGTERM. On a signal the listener is drained for the configured
// shutdown timeout, then the registered hooks run with whatever time
// remains.
func Serve(ctx context.Context, cfg config.ServerConfig, handler http.Handler, hooks *ShutdownHooks) error {
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		MaxHeaderBytes:    20 << 10,         // 20 KB
		ReadHeaderTimeout: 20 * time.Second, // Prevent Slowloris attacks
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", server.Addr).Msg("starting server")
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		// listener failed before any signal; hooks still run so resources
		// are released
		hooks.Execute(ctx)
		return fmt.Errorf("listener failed: %w", err)

	case <-signalCtx.Done():
		stop()
		log.Info().Msg("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, time.Duration(cfg.ShutdownTimeoutSeconds)*time.Second)
	defer cancel()

	err := server.Shutdown(shutdownCtx)
	if err != nil {
		log.Warn().Err(err).Msg("listener drain failed; closing")
		server.Close()
	}

	hooks.Execute(shutdownCtx)

	if serveResult := <-serveErr; !errors.Is(serveResult, http.ErrServerClosed) {
		return serveResult
	}

	return err
}
