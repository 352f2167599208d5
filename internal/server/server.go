// Package server exposes the dispatcher over HTTP and WebSocket for the
// browser extension.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/huefx/internal/bridge"
	"github.com/dokzlo13/huefx/internal/dispatch"
	"github.com/dokzlo13/huefx/internal/eventbus"
	"github.com/dokzlo13/huefx/internal/session"
)

// Dispatcher handles one request with exactly one response.
type Dispatcher interface {
	Dispatch(ctx context.Context, req dispatch.Request) dispatch.Response
}

// EventSource streams lifecycle events. Implemented by *eventbus.Bus.
type EventSource interface {
	SubscribeAll(handler eventbus.Handler) (unsubscribe func())
}

// Options configures the server.
type Options struct {
	Addr         string
	AllowOrigins []string
	Ready        func(ctx context.Context) error // nil means always ready
}

// Server is the HTTP/WebSocket front of the controller.
type Server struct {
	opts       Options
	dispatcher Dispatcher
	events     EventSource
	engine     *gin.Engine
	httpServer *http.Server
}

// New creates a server. events may be nil.
func New(opts Options, d Dispatcher, events EventSource) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		opts:       opts,
		dispatcher: d,
		events:     events,
		engine:     gin.New(),
	}
	setupMiddleware(s.engine, opts.AllowOrigins)
	s.setupRoutes()
	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) setupRoutes() {
	s.engine.GET("/health", s.health)
	s.engine.GET("/ready", s.ready)

	v1 := s.engine.Group("/api/v1")
	{
		v1.POST("/dispatch", s.handleDispatch)
		v1.GET("/ws", s.handleWS)

		v1.GET("/lights", s.listLights)
		v1.GET("/lights/:id", s.getLight)
		v1.PUT("/lights/:id/state", s.setLightState)

		v1.GET("/effects", s.listEffects)
		v1.GET("/effects/running", s.listRunning)
		v1.POST("/effects/:effect/lights/:light", s.startEffect)
		v1.DELETE("/effects/:effect/lights/:light", s.stopEffect)

		v1.GET("/history", s.history)
	}
}

// Run starts the server. It blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	s.httpServer = &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
		// WebSocket handlers watch the request context; tie it to ctx so
		// hijacked connections end on shutdown too.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	log.Info().Str("addr", s.opts.Addr).Msg("Starting HTTP server")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("HTTP server shutdown error")
		}
	}()

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// statusFor maps a dispatch error to an HTTP status.
func statusFor(err error) int {
	var te *bridge.TransportError
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &te) && te.Status == http.StatusNotFound:
		return http.StatusNotFound
	case errors.Is(err, bridge.ErrTransport):
		return http.StatusBadGateway
	case errors.Is(err, dispatch.ErrInvalidRequest), errors.Is(err, dispatch.ErrUnknownRequest):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
