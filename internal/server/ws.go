package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/huefx/internal/dispatch"
	"github.com/dokzlo13/huefx/internal/eventbus"
)

const (
	wsWriteTimeout = 5 * time.Second
	wsOutboxSize   = 64
)

var errBinaryFrame = errors.New("binary frames are not supported")

type eventFrame struct {
	Event eventbus.Event `json:"event"`
}

// handleWS handles GET /api/v1/ws. Requests on one connection are handled
// in order; lifecycle events are pushed between responses.
func (s *Server) handleWS(c *gin.Context) {
	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		OriginPatterns: originPatterns(s.opts.AllowOrigins),
	})
	if err != nil {
		log.Warn().Err(err).Msg("WebSocket handshake failed")
		return
	}
	defer conn.CloseNow()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	connID := c.GetString(requestIDKey)
	log.Debug().Str("conn", connID).Msg("WebSocket connected")

	outbox := make(chan any, wsOutboxSize)
	if s.events != nil {
		unsubscribe := s.events.SubscribeAll(func(e eventbus.Event) {
			select {
			case outbox <- eventFrame{Event: e}:
			default:
				log.Warn().Str("conn", connID).Str("event_type", string(e.Type)).Msg("WebSocket outbox full, dropping event")
			}
		})
		defer unsubscribe()
	}

	go s.wsWriter(ctx, cancel, conn, outbox)

	for {
		req, err := readRequest(ctx, conn)
		if err != nil {
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) || errors.Is(err, errBinaryFrame) {
				if !send(ctx, outbox, dispatch.Response{Error: fmt.Sprintf("%v: %v", dispatch.ErrInvalidRequest, err)}) {
					return
				}
				continue
			}
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				log.Debug().Str("conn", connID).Msg("WebSocket closed")
			default:
				if ctx.Err() == nil {
					log.Warn().Err(err).Str("conn", connID).Msg("WebSocket read failed")
				}
			}
			return
		}

		resp := s.dispatcher.Dispatch(ctx, req)
		if !send(ctx, outbox, resp) {
			return
		}
	}
}

func readRequest(ctx context.Context, conn *websocket.Conn) (dispatch.Request, error) {
	var req dispatch.Request
	typ, data, err := conn.Read(ctx)
	if err != nil {
		return req, err
	}
	if typ != websocket.MessageText {
		return req, errBinaryFrame
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return req, err
	}
	return req, nil
}

func send(ctx context.Context, outbox chan<- any, msg any) bool {
	select {
	case outbox <- msg:
		return true
	case <-ctx.Done():
		return false
	}
}

// wsWriter is the only goroutine writing to conn.
func (s *Server) wsWriter(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, outbox <-chan any) {
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-outbox:
			wctx, wcancel := context.WithTimeout(ctx, wsWriteTimeout)
			err := wsjson.Write(wctx, conn, msg)
			wcancel()
			if err != nil {
				log.Debug().Err(err).Msg("WebSocket write failed")
				return
			}
		}
	}
}
