// Package session tracks which effect runs on which light. It captures a
// light's state before the first effect starts on it and restores that state
// when the last effect on it stops.
package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/huefx/internal/bridge"
	"github.com/dokzlo13/huefx/internal/effect"
	"github.com/dokzlo13/huefx/internal/eventbus"
	"github.com/dokzlo13/huefx/internal/snapshot"
)

// ErrNotFound is returned when an effect id is not registered.
var ErrNotFound = errors.New("not found")

// LightClient reads and writes light state. Implemented by *bridge.Client.
type LightClient interface {
	effect.StateWriter
	GetState(ctx context.Context, lightID string) (*bridge.Light, error)
}

// Publisher receives lifecycle events. Implemented by *eventbus.Bus.
type Publisher interface {
	Publish(event eventbus.Event)
}

// Key identifies one running effect instance.
type Key struct {
	EffectID string `json:"effectId"`
	LightID  string `json:"lightId"`
}

func (k Key) String() string {
	return k.EffectID + "::" + k.LightID
}

// Phase is the lifecycle phase of a key.
type Phase int

const (
	Absent Phase = iota
	Starting
	Running
	Stopping
)

func (p Phase) String() string {
	switch p {
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	default:
		return "absent"
	}
}

type instance struct {
	id     string
	handle effect.Handle
}

// Controller owns the running-effect table and the snapshot table. All
// mutations of both happen under the light's lock, so start and stop on one
// light are strictly sequential while different lights proceed in parallel.
type Controller struct {
	registry *effect.Registry
	lights   LightClient
	bus      Publisher
	locks    *lightLocks

	mu        sync.Mutex
	running   map[Key]*instance
	phases    map[Key]Phase // transient starting/stopping phases only
	snapshots map[string]bridge.StateUpdate
}

// New creates a controller. bus may be nil.
func New(registry *effect.Registry, lights LightClient, bus Publisher) *Controller {
	return &Controller{
		registry:  registry,
		lights:    lights,
		bus:       bus,
		locks:     newLightLocks(),
		running:   make(map[Key]*instance),
		phases:    make(map[Key]Phase),
		snapshots: make(map[string]bridge.StateUpdate),
	}
}

// Start runs effectID on lightID. If the key is already running, the old
// instance is fully stopped (and the light restored) first.
//
// ctx only bounds waiting for the light; once the sequence has begun it runs
// to completion. Bridge calls carry no timeout of their own, so a hung call
// stalls every later request for the same light.
func (c *Controller) Start(ctx context.Context, effectID, lightID string) error {
	impl, ok := c.registry.Get(effectID)
	if !ok {
		return fmt.Errorf("%w: effect %q", ErrNotFound, effectID)
	}

	unlock, err := c.locks.lock(ctx, lightID)
	if err != nil {
		return err
	}
	defer unlock()
	ctx = context.WithoutCancel(ctx)

	key := Key{EffectID: effectID, LightID: lightID}
	if c.isRunning(key) {
		log.Info().Str("effect", effectID).Str("light", lightID).Msg("Effect already running, restarting")
		c.stopLocked(ctx, key)
	}

	c.setPhase(key, Starting)
	defer c.setPhase(key, Absent)

	inst := &instance{id: uuid.NewString()}
	c.captureLocked(ctx, key, inst.id)

	if err := c.write(ctx, lightID, bridge.StateUpdate{On: bridge.Ptr(true)}); err != nil {
		log.Warn().Err(err).Str("light", lightID).Msg("Failed to power on light")
	}

	handle, err := impl.Start(ctx, lightID, c.lights)
	if err == nil && handle == nil {
		err = fmt.Errorf("%w: %q returned no handle", effect.ErrInvalidEffect, effectID)
	}
	if err != nil {
		log.Error().Err(err).Str("effect", effectID).Str("light", lightID).Msg("Failed to start effect")
		c.publish(eventbus.EventEffectFailed, key, inst.id, err)
		if !c.lightBusy(lightID) {
			c.restoreLocked(ctx, key, inst.id)
		}
		return fmt.Errorf("start %s: %w", key, err)
	}

	inst.handle = handle
	c.mu.Lock()
	c.running[key] = inst
	c.mu.Unlock()

	log.Info().Str("effect", effectID).Str("light", lightID).Str("instance", inst.id).Msg("Effect started")
	c.publish(eventbus.EventEffectStarted, key, inst.id, nil)
	return nil
}

// Stop stops effectID on lightID. Stopping a key that is not running is a
// no-op. The light is restored only when no other effect still runs on it.
func (c *Controller) Stop(ctx context.Context, effectID, lightID string) error {
	unlock, err := c.locks.lock(ctx, lightID)
	if err != nil {
		return err
	}
	defer unlock()

	c.stopLocked(context.WithoutCancel(ctx), Key{EffectID: effectID, LightID: lightID})
	return nil
}

// StopAll stops every running effect and restores every light.
func (c *Controller) StopAll(ctx context.Context) error {
	var errs []error
	for _, key := range c.Running() {
		if err := c.Stop(ctx, key.EffectID, key.LightID); err != nil {
			errs = append(errs, fmt.Errorf("stop %s: %w", key, err))
		}
	}
	return errors.Join(errs...)
}

// Running returns all running keys sorted by light, then effect.
func (c *Controller) Running() []Key {
	c.mu.Lock()
	keys := make([]Key, 0, len(c.running))
	for k := range c.running {
		keys = append(keys, k)
	}
	c.mu.Unlock()

	sort.Slice(keys, func(i, j int) bool {
		if keys[i].LightID != keys[j].LightID {
			return keys[i].LightID < keys[j].LightID
		}
		return keys[i].EffectID < keys[j].EffectID
	})
	return keys
}

// Phase returns the current phase of a key.
func (c *Controller) Phase(effectID, lightID string) Phase {
	key := Key{EffectID: effectID, LightID: lightID}

	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.phases[key]; ok {
		return p
	}
	if _, ok := c.running[key]; ok {
		return Running
	}
	return Absent
}

// HasSnapshot reports whether a restore is pending for lightID.
func (c *Controller) HasSnapshot(lightID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.snapshots[lightID]
	return ok
}

// stopLocked requires the light's lock.
func (c *Controller) stopLocked(ctx context.Context, key Key) {
	c.mu.Lock()
	inst, ok := c.running[key]
	if !ok {
		c.mu.Unlock()
		return
	}
	delete(c.running, key)
	c.phases[key] = Stopping
	c.mu.Unlock()
	defer c.setPhase(key, Absent)

	if err := inst.handle.Stop(); err != nil {
		log.Error().Err(err).Str("effect", key.EffectID).Str("light", key.LightID).Msg("Error stopping effect")
	}
	log.Info().Str("effect", key.EffectID).Str("light", key.LightID).Str("instance", inst.id).Msg("Effect stopped")
	c.publish(eventbus.EventEffectStopped, key, inst.id, nil)

	if !c.lightBusy(key.LightID) {
		c.restoreLocked(ctx, key, inst.id)
	}
}

// captureLocked stores a snapshot unless one is already pending. Failures
// are logged; the effect runs without a restore guarantee.
func (c *Controller) captureLocked(ctx context.Context, key Key, instanceID string) {
	if c.HasSnapshot(key.LightID) {
		return
	}

	light, err := c.lights.GetState(ctx, key.LightID)
	if err != nil {
		log.Warn().Err(err).Str("light", key.LightID).Msg("Failed to capture light state")
		c.publish(eventbus.EventSnapshotFailed, key, instanceID, err)
		return
	}

	c.mu.Lock()
	c.snapshots[key.LightID] = snapshot.Extract(light.State)
	c.mu.Unlock()

	log.Debug().Str("light", key.LightID).Msg("Captured light state")
	c.publish(eventbus.EventSnapshotCaptured, key, instanceID, nil)
}

// restoreLocked applies and drops the pending snapshot. The snapshot is
// dropped even if the write fails, so a restore is attempted exactly once.
func (c *Controller) restoreLocked(ctx context.Context, key Key, instanceID string) {
	c.mu.Lock()
	snap, ok := c.snapshots[key.LightID]
	c.mu.Unlock()
	if !ok {
		return
	}

	err := c.write(ctx, key.LightID, snap)

	c.mu.Lock()
	delete(c.snapshots, key.LightID)
	c.mu.Unlock()

	if err != nil {
		log.Warn().Err(err).Str("light", key.LightID).Msg("Failed to restore light state")
		c.publish(eventbus.EventSnapshotFailed, key, instanceID, err)
		return
	}
	log.Debug().Str("light", key.LightID).Msg("Restored light state")
	c.publish(eventbus.EventSnapshotRestored, key, instanceID, nil)
}

func (c *Controller) write(ctx context.Context, lightID string, update bridge.StateUpdate) error {
	ack, err := c.lights.SetState(ctx, lightID, update)
	if err != nil {
		return err
	}
	return ack.Err()
}

func (c *Controller) isRunning(key Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.running[key]
	return ok
}

// lightBusy reports whether any effect still runs on lightID.
func (c *Controller) lightBusy(lightID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.running {
		if k.LightID == lightID {
			return true
		}
	}
	return false
}

func (c *Controller) setPhase(key Key, p Phase) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p == Absent {
		delete(c.phases, key)
		return
	}
	c.phases[key] = p
}

func (c *Controller) publish(t eventbus.EventType, key Key, instanceID string, err error) {
	if c.bus == nil {
		return
	}
	e := eventbus.Event{
		Type:     t,
		EffectID: key.EffectID,
		LightID:  key.LightID,
		Instance: instanceID,
	}
	if err != nil {
		e.Error = err.Error()
	}
	c.bus.Publish(e)
}
