package app

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/huefx/internal/config"
	"github.com/dokzlo13/huefx/internal/server"
)

// HTTPService wraps the HTTP/WebSocket server.
type HTTPService struct {
	cfg    *config.Config
	server *server.Server
}

// NewHTTPService creates a new HTTPService.
func NewHTTPService(cfg *config.Config, d server.Dispatcher, events server.EventSource, ready func(context.Context) error) *HTTPService {
	srv := server.New(server.Options{
		Addr:         cfg.Server.Addr(),
		AllowOrigins: cfg.Server.AllowOrigins,
		Ready:        ready,
	}, d, events)

	return &HTTPService{
		cfg:    cfg,
		server: srv,
	}
}

// Start runs the server until ctx is cancelled. A listen failure is
// reported through onFatalError.
func (s *HTTPService) Start(ctx context.Context, onFatalError func(error)) {
	go func() {
		if err := s.server.Run(ctx, s.cfg.ShutdownTimeout.Duration()); err != nil {
			log.Error().Err(err).Msg("HTTP server error")
			if onFatalError != nil {
				onFatalError(err)
			}
		}
	}()
}
