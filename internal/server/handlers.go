package server

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dokzlo13/huefx/internal/dispatch"
)

type statusResponse struct {
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, statusResponse{Status: "ok", Timestamp: time.Now()})
}

func (s *Server) ready(c *gin.Context) {
	if s.opts.Ready != nil {
		if err := s.opts.Ready(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, statusResponse{
				Status:    "unavailable",
				Error:     err.Error(),
				Timestamp: time.Now(),
			})
			return
		}
	}
	c.JSON(http.StatusOK, statusResponse{Status: "ready", Timestamp: time.Now()})
}

// handleDispatch handles POST /api/v1/dispatch: one request, one response.
func (s *Server) handleDispatch(c *gin.Context) {
	var req dispatch.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dispatch.Response{
			Error: fmt.Sprintf("%v: %v", dispatch.ErrInvalidRequest, err),
		})
		return
	}
	if req.ID == "" {
		req.ID = c.GetString(requestIDKey)
	}
	s.run(c, req)
}

func (s *Server) listLights(c *gin.Context) {
	s.run(c, dispatch.Request{Type: dispatch.KindListLights})
}

func (s *Server) getLight(c *gin.Context) {
	s.run(c, dispatch.Request{Type: dispatch.KindGetLightState, LightID: c.Param("id")})
}

func (s *Server) setLightState(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, dispatch.Response{Error: err.Error()})
		return
	}
	s.run(c, dispatch.Request{Type: dispatch.KindSetLightState, LightID: c.Param("id"), State: body})
}

func (s *Server) listEffects(c *gin.Context) {
	s.run(c, dispatch.Request{Type: dispatch.KindListEffects})
}

func (s *Server) listRunning(c *gin.Context) {
	s.run(c, dispatch.Request{Type: dispatch.KindListRunning})
}

func (s *Server) startEffect(c *gin.Context) {
	s.run(c, dispatch.Request{Type: dispatch.KindStartEffect, EffectID: c.Param("effect"), LightID: c.Param("light")})
}

func (s *Server) stopEffect(c *gin.Context) {
	s.run(c, dispatch.Request{Type: dispatch.KindStopEffect, EffectID: c.Param("effect"), LightID: c.Param("light")})
}

func (s *Server) history(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	s.run(c, dispatch.Request{Type: dispatch.KindGetHistory, LightID: c.Query("lightId"), Limit: limit})
}

func (s *Server) run(c *gin.Context, req dispatch.Request) {
	resp := s.dispatcher.Dispatch(c.Request.Context(), req)
	c.JSON(statusFor(resp.Err()), resp)
}
