package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/huefx/internal/config"
	"github.com/dokzlo13/huefx/internal/mcp"
)

// Version is reported to MCP clients.
var Version = "dev"

// Mode selects the front the daemon serves.
type Mode int

const (
	// ModeHTTP serves REST, dispatch and WebSocket over HTTP.
	ModeHTTP Mode = iota
	// ModeMCP serves MCP tools on stdio. No HTTP listener is opened.
	ModeMCP
)

// App owns the services and their lifecycle.
type App struct {
	cfg      *config.Config
	services *Services
}

// New builds every service without starting any. ctx bounds bridge discovery.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	services, err := NewServices(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &App{cfg: cfg, services: services}, nil
}

// Run serves in the given mode until ctx is cancelled, a fatal error occurs
// or, in MCP mode, stdin closes. Every running effect is then stopped and
// its light restored before Run returns.
func (a *App) Run(ctx context.Context, mode Mode) error {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	onFatalError := func(err error) {
		log.Error().Err(err).Msg("Fatal error, initiating shutdown")
		cancel(err)
	}

	switch mode {
	case ModeMCP:
		a.services.Start(ctx, false, onFatalError)
		go func() {
			log.Info().Msg("huefx serving MCP on stdio")
			err := mcp.NewServer(a.services.Dispatcher, Version).ServeStdio()
			if err != nil {
				onFatalError(err)
				return
			}
			cancel(nil)
		}()
	default:
		a.services.Start(ctx, true, onFatalError)
		log.Info().Str("addr", a.cfg.Server.Addr()).Msg("huefx started")
	}

	<-ctx.Done()
	log.Info().Msg("Shutting down...")

	stopErr := a.services.Stop()
	if cause := context.Cause(ctx); cause != nil && cause != context.Canceled {
		return cause
	}
	return stopErr
}

// SignalContext returns a context cancelled on SIGINT or SIGTERM.
func SignalContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigs
		signal.Stop(sigs)
		log.Warn().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	return ctx
}
