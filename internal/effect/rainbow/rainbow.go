// Package rainbow implements the "Rainbow Cycle" effect.
package rainbow

import (
	"context"
	"time"

	"github.com/dokzlo13/huefx/internal/bridge"
	"github.com/dokzlo13/huefx/internal/effect"
)

const (
	ID    = "rainbow"
	Label = "Rainbow Cycle"

	// DefaultStepDelay is the pause between hue changes.
	DefaultStepDelay = 200 * time.Millisecond

	transitionTime uint16 = 3
)

// Hues is the cycle walked one entry per step.
var Hues = [...]uint16{0, 8000, 16000, 25500, 35000, 45000, 50000, 56000, 65000}

// Effect cycles a light through Hues at full saturation and brightness.
type Effect struct {
	stepDelay time.Duration
}

// New creates the effect. A zero delay uses DefaultStepDelay.
func New(stepDelay time.Duration) *Effect {
	if stepDelay <= 0 {
		stepDelay = DefaultStepDelay
	}
	return &Effect{stepDelay: stepDelay}
}

// Descriptor returns the registry descriptor.
func (e *Effect) Descriptor() effect.Descriptor {
	return effect.Descriptor{ID: ID, Label: Label}
}

// Start begins the cycle on lightID.
func (e *Effect) Start(ctx context.Context, lightID string, w effect.StateWriter) (effect.Handle, error) {
	return effect.StartRunner(ctx, effect.RunnerConfig{
		Name:    ID,
		LightID: lightID,
		Delay:   e.stepDelay,
		Writer:  w,
		Step: func(_ context.Context, i int) (bridge.StateUpdate, error) {
			return StateAt(i), nil
		},
	}), nil
}

// HueAt returns the hue used at step i.
func HueAt(step int) uint16 {
	return Hues[step%len(Hues)]
}

// StateAt returns the full write issued at step i.
func StateAt(step int) bridge.StateUpdate {
	return bridge.StateUpdate{
		On:             bridge.Ptr(true),
		Hue:            bridge.Ptr(HueAt(step)),
		Sat:            bridge.Ptr(uint8(254)),
		Bri:            bridge.Ptr(uint8(254)),
		TransitionTime: bridge.Ptr(transitionTime),
	}
}
