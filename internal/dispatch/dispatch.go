// Package dispatch turns transport requests into controller calls. Every
// request yields exactly one response, even when the handler panics.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/huefx/internal/bridge"
	"github.com/dokzlo13/huefx/internal/effect"
	"github.com/dokzlo13/huefx/internal/ledger"
	"github.com/dokzlo13/huefx/internal/session"
)

var (
	// ErrUnknownRequest is returned for an unrecognised request type.
	ErrUnknownRequest = errors.New("unknown request")

	// ErrInvalidRequest is returned for missing or malformed request fields.
	ErrInvalidRequest = errors.New("invalid request")
)

// Kind is a request type.
type Kind string

const (
	KindInit            Kind = "INIT"
	KindGetLightState   Kind = "GET_LIGHT_STATE"
	KindSetLightState   Kind = "SET_LIGHT_STATE"
	KindStartEffect     Kind = "START_EFFECT"
	KindStopEffect      Kind = "STOP_EFFECT"
	KindSetCurrentLight Kind = "SET_CURRENT_LIGHT"
	KindGetCurrentLight Kind = "GET_CURRENT_LIGHT"
	KindListLights      Kind = "LIST_LIGHTS"
	KindListEffects     Kind = "LIST_EFFECTS"
	KindListRunning     Kind = "LIST_RUNNING"
	KindGetHistory      Kind = "GET_HISTORY"
)

// Older extension builds send these names.
var aliases = map[Kind]Kind{
	"INIT_POPUP":     KindInit,
	"START_FUNCTION": KindStartEffect,
	"STOP_FUNCTION":  KindStopEffect,
}

// Canonical resolves aliases.
func (k Kind) Canonical() Kind {
	if c, ok := aliases[k]; ok {
		return c
	}
	return k
}

// Request is one transport request.
type Request struct {
	ID           string          `json:"id,omitempty"`
	Type         Kind            `json:"type"`
	LightID      string          `json:"lightId,omitempty"`
	EffectID     string          `json:"effectId,omitempty"`
	FunctionName string          `json:"functionName,omitempty"` // alias of EffectID
	State        json.RawMessage `json:"state,omitempty"`
	Limit        int             `json:"limit,omitempty"`
}

func (r Request) effectID() string {
	if r.EffectID != "" {
		return r.EffectID
	}
	return r.FunctionName
}

// Response is the single reply to a Request. Error is set on failure.
type Response struct {
	ID           string                  `json:"id,omitempty"`
	OK           bool                    `json:"ok,omitempty"`
	Error        string                  `json:"error,omitempty"`
	Lights       map[string]bridge.Light `json:"lights,omitempty"`
	Light        *bridge.Light           `json:"light,omitempty"`
	Effects      []effect.Descriptor     `json:"effects,omitempty"`
	Ack          bridge.Ack              `json:"ack,omitempty"`
	Running      []session.Key           `json:"running,omitempty"`
	CurrentLight *string                 `json:"current_light,omitempty"`
	History      []*ledger.Entry         `json:"history,omitempty"`

	err error
}

// Err returns the error behind Error, for status mapping.
func (r Response) Err() error {
	return r.err
}

// Lights is the bridge surface used by the dispatcher.
type Lights interface {
	ListLights(ctx context.Context) (map[string]bridge.Light, error)
	GetState(ctx context.Context, lightID string) (*bridge.Light, error)
	SetState(ctx context.Context, lightID string, update bridge.StateUpdate) (bridge.Ack, error)
}

// Sessions is the effect lifecycle surface used by the dispatcher.
type Sessions interface {
	Start(ctx context.Context, effectID, lightID string) error
	Stop(ctx context.Context, effectID, lightID string) error
	Running() []session.Key
}

// History reads the activity ledger.
type History interface {
	Recent(ctx context.Context, limit int) ([]*ledger.Entry, error)
	ForLight(ctx context.Context, lightID string, limit int) ([]*ledger.Entry, error)
}

// Dispatcher routes requests. It also holds the process-wide current light
// selection, which starts unset.
type Dispatcher struct {
	lights    Lights
	sessions  Sessions
	registry  *effect.Registry
	history   History
	validator *stateValidator

	mu      sync.RWMutex
	current *string
}

// New creates a dispatcher. history may be nil when the ledger is disabled.
func New(lights Lights, sessions Sessions, registry *effect.Registry, history History) (*Dispatcher, error) {
	v, err := newStateValidator()
	if err != nil {
		return nil, fmt.Errorf("state schema: %w", err)
	}
	return &Dispatcher{
		lights:    lights,
		sessions:  sessions,
		registry:  registry,
		history:   history,
		validator: v,
	}, nil
}

// Dispatch handles one request and always returns exactly one response.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (resp Response) {
	kind := req.Type.Canonical()

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("type", string(kind)).Msg("Request handler panicked")
			resp = failure(req.ID, fmt.Errorf("internal error: %v", r))
		}
	}()

	resp, err := d.handle(ctx, kind, req)
	if err != nil {
		log.Warn().Err(err).Str("type", string(kind)).Str("light", req.LightID).Msg("Request failed")
		return failure(req.ID, err)
	}
	resp.ID = req.ID
	return resp
}

func failure(id string, err error) Response {
	return Response{ID: id, Error: err.Error(), err: err}
}

func (d *Dispatcher) handle(ctx context.Context, kind Kind, req Request) (Response, error) {
	switch kind {
	case KindInit:
		lights, err := d.lights.ListLights(ctx)
		if err != nil {
			return Response{}, err
		}
		return Response{
			Lights:       lights,
			Effects:      d.registry.List(),
			Running:      d.sessions.Running(),
			CurrentLight: d.currentLight(),
		}, nil

	case KindGetLightState:
		if req.LightID == "" {
			return Response{}, missing("lightId")
		}
		light, err := d.lights.GetState(ctx, req.LightID)
		if err != nil {
			return Response{}, err
		}
		return Response{Light: light}, nil

	case KindSetLightState:
		update, err := d.decodeState(req)
		if err != nil {
			return Response{}, err
		}
		ack, err := d.lights.SetState(ctx, req.LightID, update)
		if err != nil {
			return Response{}, err
		}
		return Response{OK: true, Ack: ack}, nil

	case KindStartEffect:
		if err := requireKey(req); err != nil {
			return Response{}, err
		}
		if err := d.sessions.Start(ctx, req.effectID(), req.LightID); err != nil {
			return Response{}, err
		}
		return Response{OK: true}, nil

	case KindStopEffect:
		if err := requireKey(req); err != nil {
			return Response{}, err
		}
		if err := d.sessions.Stop(ctx, req.effectID(), req.LightID); err != nil {
			return Response{}, err
		}
		return Response{OK: true}, nil

	case KindSetCurrentLight:
		if req.LightID == "" {
			return Response{}, missing("lightId")
		}
		id := req.LightID
		d.mu.Lock()
		d.current = &id
		d.mu.Unlock()
		return Response{OK: true}, nil

	case KindGetCurrentLight:
		return Response{CurrentLight: d.currentLight()}, nil

	case KindListLights:
		lights, err := d.lights.ListLights(ctx)
		if err != nil {
			return Response{}, err
		}
		return Response{Lights: lights}, nil

	case KindListEffects:
		return Response{Effects: d.registry.List()}, nil

	case KindListRunning:
		return Response{Running: d.sessions.Running()}, nil

	case KindGetHistory:
		if d.history == nil {
			return Response{History: []*ledger.Entry{}}, nil
		}
		var (
			entries []*ledger.Entry
			err     error
		)
		if req.LightID != "" {
			entries, err = d.history.ForLight(ctx, req.LightID, req.Limit)
		} else {
			entries, err = d.history.Recent(ctx, req.Limit)
		}
		if err != nil {
			return Response{}, err
		}
		return Response{History: entries}, nil

	default:
		return Response{}, fmt.Errorf("%w: %q", ErrUnknownRequest, req.Type)
	}
}

func (d *Dispatcher) decodeState(req Request) (bridge.StateUpdate, error) {
	if req.LightID == "" {
		return bridge.StateUpdate{}, missing("lightId")
	}
	if len(req.State) == 0 {
		return bridge.StateUpdate{}, missing("state")
	}
	if err := d.validator.Validate(req.State); err != nil {
		return bridge.StateUpdate{}, fmt.Errorf("%w: state: %v", ErrInvalidRequest, err)
	}

	var update bridge.StateUpdate
	if err := json.Unmarshal(req.State, &update); err != nil {
		return bridge.StateUpdate{}, fmt.Errorf("%w: state: %v", ErrInvalidRequest, err)
	}
	return update, nil
}

func (d *Dispatcher) currentLight() *string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.current == nil {
		return nil
	}
	id := *d.current
	return &id
}

func requireKey(req Request) error {
	if req.effectID() == "" {
		return missing("effectId")
	}
	if req.LightID == "" {
		return missing("lightId")
	}
	return nil
}

func missing(field string) error {
	return fmt.Errorf("%w: missing %s", ErrInvalidRequest, field)
}
