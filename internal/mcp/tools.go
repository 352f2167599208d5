package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/dokzlo13/huefx/internal/dispatch"
)

func (s *Server) registerTools() {
	s.addTool(
		mcp.NewTool("list_lights",
			mcp.WithDescription("List all lights known to the bridge with their current state"),
		),
		s.handle(func(mcp.CallToolRequest) (dispatch.Request, error) {
			return dispatch.Request{Type: dispatch.KindListLights}, nil
		}),
	)

	s.addTool(
		mcp.NewTool("get_light_state",
			mcp.WithDescription("Get the live state of one light"),
			mcp.WithString("light_id", mcp.Required(), mcp.Description("Bridge light id, e.g. \"1\"")),
		),
		s.handle(func(r mcp.CallToolRequest) (dispatch.Request, error) {
			id, err := requiredString(r, "light_id")
			return dispatch.Request{Type: dispatch.KindGetLightState, LightID: id}, err
		}),
	)

	s.addTool(
		mcp.NewTool("set_light_state",
			mcp.WithDescription("Write a partial light state (on, bri, hue, sat, xy, ct, alert, effect, transitiontime)"),
			mcp.WithString("light_id", mcp.Required(), mcp.Description("Bridge light id")),
			mcp.WithObject("state", mcp.Required(), mcp.Description(`State to write, e.g. {"on": true, "bri": 200}`)),
		),
		s.handle(func(r mcp.CallToolRequest) (dispatch.Request, error) {
			id, err := requiredString(r, "light_id")
			if err != nil {
				return dispatch.Request{}, err
			}
			state, ok := r.GetArguments()["state"].(map[string]any)
			if !ok {
				return dispatch.Request{}, fmt.Errorf("parameter %q must be an object", "state")
			}
			raw, err := json.Marshal(state)
			if err != nil {
				return dispatch.Request{}, err
			}
			return dispatch.Request{Type: dispatch.KindSetLightState, LightID: id, State: raw}, nil
		}),
	)

	s.addTool(
		mcp.NewTool("list_effects",
			mcp.WithDescription("List the effects that can be started on a light"),
		),
		s.handle(func(mcp.CallToolRequest) (dispatch.Request, error) {
			return dispatch.Request{Type: dispatch.KindListEffects}, nil
		}),
	)

	s.addTool(
		mcp.NewTool("start_effect",
			mcp.WithDescription("Start an effect on a light. Restarts it if it is already running there."),
			mcp.WithString("effect_id", mcp.Required(), mcp.Description("Effect name from list_effects")),
			mcp.WithString("light_id", mcp.Required(), mcp.Description("Bridge light id")),
		),
		s.handle(keyRequest(dispatch.KindStartEffect)),
	)

	s.addTool(
		mcp.NewTool("stop_effect",
			mcp.WithDescription("Stop an effect on a light and restore the light once nothing else runs on it"),
			mcp.WithString("effect_id", mcp.Required(), mcp.Description("Effect name")),
			mcp.WithString("light_id", mcp.Required(), mcp.Description("Bridge light id")),
		),
		s.handle(keyRequest(dispatch.KindStopEffect)),
	)

	s.addTool(
		mcp.NewTool("list_running",
			mcp.WithDescription("List running effects as effect/light pairs"),
		),
		s.handle(func(mcp.CallToolRequest) (dispatch.Request, error) {
			return dispatch.Request{Type: dispatch.KindListRunning}, nil
		}),
	)
}

func (s *Server) addTool(tool mcp.Tool, handler server.ToolHandlerFunc) {
	s.handlers[tool.Name] = handler
	s.mcpServer.AddTool(tool, handler)
}

func keyRequest(kind dispatch.Kind) func(mcp.CallToolRequest) (dispatch.Request, error) {
	return func(r mcp.CallToolRequest) (dispatch.Request, error) {
		effectID, err := requiredString(r, "effect_id")
		if err != nil {
			return dispatch.Request{}, err
		}
		lightID, err := requiredString(r, "light_id")
		if err != nil {
			return dispatch.Request{}, err
		}
		return dispatch.Request{Type: kind, EffectID: effectID, LightID: lightID}, nil
	}
}

// handle adapts a request builder into a tool handler. Failures are
// reported as tool errors, never as protocol errors.
func (s *Server) handle(build func(mcp.CallToolRequest) (dispatch.Request, error)) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		req, err := build(request)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		resp := s.dispatcher.Dispatch(ctx, req)
		if resp.Error != "" {
			return mcp.NewToolResultError(resp.Error), nil
		}
		return mcp.NewToolResultText(formatJSON(resp)), nil
	}
}

func requiredString(request mcp.CallToolRequest, key string) (string, error) {
	v, ok := request.GetArguments()[key]
	if !ok || v == nil {
		return "", fmt.Errorf("required parameter %q is missing", key)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("parameter %q must be a non-empty string", key)
	}
	return s, nil
}

func formatJSON(v any) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf(`{"error":"failed to marshal response: %s"}`, err)
	}
	return string(b)
}
