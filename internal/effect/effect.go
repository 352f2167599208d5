// Package effect defines lighting effects, their registry and the periodic
// runner every effect loop is built on.
package effect

import (
	"context"
	"errors"

	"github.com/dokzlo13/huefx/internal/bridge"
)

var (
	// ErrInvalidEffect is returned for malformed registrations and for
	// effects whose Start returns no handle.
	ErrInvalidEffect = errors.New("invalid effect")

	// ErrDuplicateEffect is returned when an id is registered twice.
	ErrDuplicateEffect = errors.New("effect already registered")
)

// StateWriter writes partial light state. Implemented by *bridge.Client.
type StateWriter interface {
	SetState(ctx context.Context, lightID string, update bridge.StateUpdate) (bridge.Ack, error)
}

// Handle controls one running effect instance.
// Stop must be safe to call more than once.
type Handle interface {
	Stop() error
}

// Effect starts instances of a lighting pattern against a light.
type Effect interface {
	Start(ctx context.Context, lightID string, w StateWriter) (Handle, error)
}

// Descriptor identifies an effect to users.
type Descriptor struct {
	ID    string `json:"name"`
	Label string `json:"displayName"`
}
