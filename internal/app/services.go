package app

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/huefx/internal/config"
	"github.com/dokzlo13/huefx/internal/dispatch"
	"github.com/dokzlo13/huefx/internal/effect"
	"github.com/dokzlo13/huefx/internal/eventbus"
	"github.com/dokzlo13/huefx/internal/session"
)

// Services is a container for all application services.
// It manages service initialization order and dependencies.
type Services struct {
	cfg *config.Config

	// Core infrastructure
	Bus    *eventbus.Bus
	Ledger *LedgerService // nil when disabled
	Bridge *BridgeService

	// Effects
	Registry *effect.Registry
	Sessions *session.Controller

	// Request handling
	Dispatcher *dispatch.Dispatcher
	HTTP       *HTTPService
}

// NewServices creates all services with proper dependency injection.
// ctx bounds bridge discovery only.
func NewServices(ctx context.Context, cfg *config.Config) (*Services, error) {
	s := &Services{cfg: cfg}
	var err error

	s.Bus = eventbus.NewWithConfig(cfg.EventBus.Workers, cfg.EventBus.QueueSize)

	s.Ledger, err = NewLedgerService(cfg)
	if err != nil {
		s.Close()
		return nil, err
	}

	s.Bridge, err = NewBridgeService(ctx, cfg)
	if err != nil {
		s.Close()
		return nil, err
	}

	s.Registry, err = NewEffectRegistry(cfg)
	if err != nil {
		s.Close()
		return nil, err
	}

	s.Sessions = session.New(s.Registry, s.Bridge.Client, s.Bus)

	var history dispatch.History
	if s.Ledger != nil {
		history = s.Ledger.Ledger
	}
	s.Dispatcher, err = dispatch.New(s.Bridge.Client, s.Sessions, s.Registry, history)
	if err != nil {
		s.Close()
		return nil, err
	}

	s.HTTP = NewHTTPService(cfg, s.Dispatcher, s.Bus, s.Bridge.Ready)

	return s, nil
}

// Start starts background services. serveHTTP is false in MCP mode.
func (s *Services) Start(ctx context.Context, serveHTTP bool, onFatalError func(error)) {
	if s.Ledger != nil {
		s.Ledger.Start(ctx, s.Bus)
	}
	s.Bridge.Start(ctx)
	if serveHTTP {
		s.HTTP.Start(ctx, onFatalError)
	}
}

// Stop stops every running effect, restoring lights, then releases resources.
func (s *Services) Stop() error {
	var errs []error
	if s.Sessions != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout.Duration())
		if err := s.Sessions.StopAll(ctx); err != nil {
			log.Warn().Err(err).Msg("Failed to stop some effects")
			errs = append(errs, err)
		}
		cancel()
	}
	s.Close()
	return errors.Join(errs...)
}

// Close releases all resources. The bus is drained before the ledger
// database closes so queued events are still recorded.
func (s *Services) Close() {
	if s.Bus != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout.Duration())
		s.Bus.Close(ctx)
		cancel()
	}
	if s.Ledger != nil {
		s.Ledger.Close()
	}
	if s.Bridge != nil {
		s.Bridge.Close()
	}
}
