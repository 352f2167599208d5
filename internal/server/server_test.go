package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/huefx/internal/bridge"
	"github.com/dokzlo13/huefx/internal/dispatch"
	"github.com/dokzlo13/huefx/internal/eventbus"
	"github.com/dokzlo13/huefx/internal/session"
)

type fakeDispatcher struct {
	mu   sync.Mutex
	reqs []dispatch.Request
	resp func(dispatch.Request) dispatch.Response
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, req dispatch.Request) dispatch.Response {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	if f.resp != nil {
		r := f.resp(req)
		r.ID = req.ID
		return r
	}
	return dispatch.Response{ID: req.ID, OK: true}
}

func (f *fakeDispatcher) last() dispatch.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reqs[len(f.reqs)-1]
}

func newTestServer(t *testing.T, d Dispatcher, events EventSource) *httptest.Server {
	t.Helper()
	s := New(Options{AllowOrigins: []string{"chrome-extension://*"}}, d, events)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func do(t *testing.T, method, url, body string, header ...string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func TestRoutes_MapToRequests(t *testing.T) {
	d := &fakeDispatcher{}
	ts := newTestServer(t, d, nil)

	tests := []struct {
		method, path, body string
		want               dispatch.Request
	}{
		{"GET", "/api/v1/lights", "", dispatch.Request{Type: dispatch.KindListLights}},
		{"GET", "/api/v1/lights/3", "", dispatch.Request{Type: dispatch.KindGetLightState, LightID: "3"}},
		{"PUT", "/api/v1/lights/3/state", `{"on":true}`, dispatch.Request{Type: dispatch.KindSetLightState, LightID: "3", State: json.RawMessage(`{"on":true}`)}},
		{"GET", "/api/v1/effects", "", dispatch.Request{Type: dispatch.KindListEffects}},
		{"GET", "/api/v1/effects/running", "", dispatch.Request{Type: dispatch.KindListRunning}},
		{"POST", "/api/v1/effects/rainbow/lights/3", "", dispatch.Request{Type: dispatch.KindStartEffect, EffectID: "rainbow", LightID: "3"}},
		{"DELETE", "/api/v1/effects/rainbow/lights/3", "", dispatch.Request{Type: dispatch.KindStopEffect, EffectID: "rainbow", LightID: "3"}},
		{"GET", "/api/v1/history?limit=5", "", dispatch.Request{Type: dispatch.KindGetHistory, Limit: 5}},
		{"GET", "/api/v1/history?lightId=3&limit=2", "", dispatch.Request{Type: dispatch.KindGetHistory, LightID: "3", Limit: 2}},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			resp, body := do(t, tt.method, ts.URL+tt.path, tt.body)
			assert.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Equal(t, true, body["ok"])
			assert.Equal(t, tt.want, d.last())
		})
	}
}

func TestDispatchEndpoint(t *testing.T) {
	d := &fakeDispatcher{}
	ts := newTestServer(t, d, nil)

	resp, body := do(t, "POST", ts.URL+"/api/v1/dispatch", `{"type":"START_FUNCTION","functionName":"rainbow","lightId":"1"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["ok"])

	got := d.last()
	assert.Equal(t, dispatch.Kind("START_FUNCTION"), got.Type)
	assert.Equal(t, "rainbow", got.FunctionName)
	assert.NotEmpty(t, got.ID, "request id is used when the body has none")
	assert.Equal(t, got.ID, resp.Header.Get(RequestIDHeader))
}

func TestDispatchEndpoint_MalformedBody(t *testing.T) {
	d := &fakeDispatcher{}
	ts := newTestServer(t, d, nil)

	resp, body := do(t, "POST", ts.URL+"/api/v1/dispatch", `{not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body["error"], "invalid request")
	assert.Empty(t, d.reqs)
}

func TestRequestIDIsEchoed(t *testing.T) {
	ts := newTestServer(t, &fakeDispatcher{}, nil)

	resp, _ := do(t, "GET", ts.URL+"/health", "", RequestIDHeader, "abc-123")
	assert.Equal(t, "abc-123", resp.Header.Get(RequestIDHeader))
}

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not_found", session.ErrNotFound, http.StatusNotFound},
		{"bridge_404", &bridge.TransportError{Op: "get state", Status: 404}, http.StatusNotFound},
		{"transport", &bridge.TransportError{Op: "set state", Message: "connection refused"}, http.StatusBadGateway},
		{"invalid", dispatch.ErrInvalidRequest, http.StatusBadRequest},
		{"unknown", dispatch.ErrUnknownRequest, http.StatusBadRequest},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &fakeDispatcher{resp: func(dispatch.Request) dispatch.Response {
				return errorResponse(tt.err)
			}}
			ts := newTestServer(t, d, nil)

			resp, body := do(t, "GET", ts.URL+"/api/v1/lights/9", "")
			assert.Equal(t, tt.want, resp.StatusCode)
			assert.Equal(t, tt.err.Error(), body["error"])
		})
	}
}

// errorResponse builds a failed response through a real dispatcher so the
// wrapped error is preserved.
func errorResponse(err error) dispatch.Response {
	d, _ := dispatch.New(errLights{err}, nil, nil, nil)
	return d.Dispatch(context.Background(), dispatch.Request{Type: dispatch.KindGetLightState, LightID: "9"})
}

type errLights struct{ err error }

func (e errLights) ListLights(context.Context) (map[string]bridge.Light, error) { return nil, e.err }
func (e errLights) GetState(context.Context, string) (*bridge.Light, error)     { return nil, e.err }
func (e errLights) SetState(context.Context, string, bridge.StateUpdate) (bridge.Ack, error) {
	return nil, e.err
}

func TestReady(t *testing.T) {
	notReady := New(Options{Ready: func(context.Context) error { return errors.New("bridge unreachable") }}, &fakeDispatcher{}, nil)
	ts := httptest.NewServer(notReady.Handler())
	defer ts.Close()

	resp, body := do(t, "GET", ts.URL+"/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "bridge unreachable", body["error"])

	ready := newTestServer(t, &fakeDispatcher{}, nil)
	resp, _ = do(t, "GET", ready.URL+"/ready", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCORS_BrowserExtension(t *testing.T) {
	ts := newTestServer(t, &fakeDispatcher{}, nil)

	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/api/v1/lights", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "chrome-extension://abcdef")
	req.Header.Set("Access-Control-Request-Method", "GET")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "chrome-extension://abcdef", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestWebSocket_RequestsAndEvents(t *testing.T) {
	bus := eventbus.NewWithConfig(1, 10)
	defer bus.Close(context.Background())

	d := &fakeDispatcher{}
	ts := newTestServer(t, d, bus)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws"
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	require.NoError(t, wsjson.Write(ctx, conn, dispatch.Request{ID: "a", Type: dispatch.KindListRunning}))
	require.NoError(t, wsjson.Write(ctx, conn, dispatch.Request{ID: "b", Type: dispatch.KindGetCurrentLight}))

	var first, second dispatch.Response
	require.NoError(t, wsjson.Read(ctx, conn, &first))
	require.NoError(t, wsjson.Read(ctx, conn, &second))
	assert.Equal(t, "a", first.ID)
	assert.Equal(t, "b", second.ID)

	// Malformed frames get an error response; the connection stays usable.
	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(`{oops`)))
	var bad dispatch.Response
	require.NoError(t, wsjson.Read(ctx, conn, &bad))
	assert.Contains(t, bad.Error, "invalid request")

	// The handler subscribed before it read the first request.
	bus.Publish(eventbus.Event{Type: eventbus.EventEffectStarted, EffectID: "rainbow", LightID: "1"})

	var frame struct {
		Event eventbus.Event `json:"event"`
	}
	require.NoError(t, wsjson.Read(ctx, conn, &frame))
	assert.Equal(t, eventbus.EventEffectStarted, frame.Event.Type)
	assert.Equal(t, "1", frame.Event.LightID)

	conn.Close(websocket.StatusNormalClosure, "")
}

func TestOriginPatterns(t *testing.T) {
	assert.Equal(t, []string{"*"}, originPatterns([]string{"chrome-extension://abc", "*"}))
	assert.Equal(t, []string{"abc", "localhost:3000"}, originPatterns([]string{"chrome-extension://abc", "http://localhost:3000"}))
}
