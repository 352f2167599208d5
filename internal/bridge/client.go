package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/amimof/huego"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Options configures a Client.
type Options struct {
	Timeout      time.Duration // HTTP timeout, 0 = no timeout
	ListCacheTTL time.Duration // lights listing freshness window, 0 = 10s
	RateLimitRPS float64       // state writes per second, 0 = unlimited
	HTTPClient   *http.Client  // optional, overrides Timeout
}

// Client talks to a Hue bridge over the v1 REST API.
type Client struct {
	address    string
	username   string
	httpClient *http.Client
	limiter    *rate.Limiter
	listing    *ListingCache
}

// NewClient creates a new bridge client.
// The address may be a bare host ("192.168.1.2") or a base URL.
func NewClient(address, username string, opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}

	var limiter *rate.Limiter
	if opts.RateLimitRPS > 0 {
		burst := int(opts.RateLimitRPS)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimitRPS), burst)
	}

	return &Client{
		address:    address,
		username:   username,
		httpClient: httpClient,
		limiter:    limiter,
		listing:    NewListingCache(opts.ListCacheTTL),
	}
}

// Connect checks the bridge and logs its identity.
func (c *Client) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	cfg, err := huego.New(c.baseURL(), c.username).GetConfig()
	if err != nil {
		return &TransportError{Op: "getConfig", Message: err.Error()}
	}

	log.Info().
		Str("address", c.address).
		Str("name", cfg.Name).
		Str("api_version", cfg.APIVersion).
		Str("bridge_id", cfg.BridgeID).
		Msg("Connected to Hue bridge")
	return nil
}

// Close closes idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// Address returns the bridge address.
func (c *Client) Address() string {
	return c.address
}

// ListLights returns every light keyed by id. The listing is cached for the
// configured freshness window; writes never invalidate it.
func (c *Client) ListLights(ctx context.Context) (map[string]Light, error) {
	if lights, ok := c.listing.Get(); ok {
		return lights, nil
	}

	body, err := c.do(ctx, "getLights", http.MethodGet, "lights", nil)
	if err != nil {
		return nil, err
	}
	if !isJSONObject(body) {
		return nil, shapeError("getLights", body, "unexpected lights response")
	}

	var lights map[string]Light
	if err := json.Unmarshal(body, &lights); err != nil {
		return nil, &TransportError{Op: "getLights", Message: err.Error()}
	}

	c.listing.Set(lights)
	log.Debug().Int("lights", len(lights)).Msg("Lights listing refreshed")
	return lights, nil
}

// GetState fetches the current record of one light. Never cached.
func (c *Client) GetState(ctx context.Context, lightID string) (*Light, error) {
	body, err := c.do(ctx, "getLightState", http.MethodGet, "lights/"+url.PathEscape(lightID), nil)
	if err != nil {
		return nil, err
	}
	if !isJSONObject(body) {
		return nil, shapeError("getLightState", body, "unexpected light state response")
	}

	var light Light
	if err := json.Unmarshal(body, &light); err != nil {
		return nil, &TransportError{Op: "getLightState", Message: err.Error()}
	}
	return &light, nil
}

// SetState sends a partial state update and returns the bridge acknowledgement.
func (c *Client) SetState(ctx context.Context, lightID string, update StateUpdate) (Ack, error) {
	payload, err := json.Marshal(update)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal state: %w", err)
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &TransportError{Op: "setLightState", Message: err.Error()}
		}
	}

	body, err := c.do(ctx, "setLightState", http.MethodPut, "lights/"+url.PathEscape(lightID)+"/state", payload)
	if err != nil {
		return nil, err
	}

	ack, err := decodeAck(body)
	if err != nil {
		return nil, &TransportError{Op: "setLightState", Message: err.Error()}
	}

	log.Debug().
		Str("light", lightID).
		RawJSON("state", payload).
		Msg("Light state written")
	return ack, nil
}

func (c *Client) baseURL() string {
	if strings.Contains(c.address, "://") {
		return strings.TrimRight(c.address, "/")
	}
	return "http://" + c.address
}

func (c *Client) url(path string) string {
	return fmt.Sprintf("%s/api/%s/%s", c.baseURL(), c.username, path)
}

// do performs a request and returns the body of a 2xx response.
func (c *Client) do(ctx context.Context, op, method, path string, payload []byte) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.url(path), body)
	if err != nil {
		return nil, &TransportError{Op: op, Message: err.Error()}
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Op: op, Message: err.Error()}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Op: op, Status: resp.StatusCode, Message: err.Error()}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &TransportError{Op: op, Status: resp.StatusCode}
	}
	return data, nil
}

func isJSONObject(body []byte) bool {
	trimmed := bytes.TrimSpace(body)
	return len(trimmed) > 0 && trimmed[0] == '{'
}

// decodeAck accepts the usual array of entries or a single object entry.
func decodeAck(body []byte) (Ack, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty response")
	}

	switch trimmed[0] {
	case '[':
		var ack Ack
		if err := json.Unmarshal(trimmed, &ack); err != nil {
			return nil, err
		}
		return ack, nil
	case '{':
		var entry AckEntry
		if err := json.Unmarshal(trimmed, &entry); err != nil {
			return nil, err
		}
		return Ack{entry}, nil
	default:
		return nil, fmt.Errorf("unexpected state response")
	}
}
