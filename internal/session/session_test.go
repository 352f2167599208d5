package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/huefx/internal/bridge"
	"github.com/dokzlo13/huefx/internal/effect"
	"github.com/dokzlo13/huefx/internal/effect/rainbow"
	"github.com/dokzlo13/huefx/internal/eventbus"
)

// trace is an ordered log shared by the fake bridge and tracked effects.
type trace struct {
	mu    sync.Mutex
	lines []string
}

func (t *trace) add(format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lines = append(t.lines, fmt.Sprintf(format, args...))
}

func (t *trace) all() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.lines...)
}

type setCall struct {
	lightID string
	update  bridge.StateUpdate
}

type fakeLights struct {
	trace *trace

	mu     sync.Mutex
	state  map[string]bridge.LightState
	getErr error
	setErr error
	gets   int
	sets   []setCall
	// GetState for blockLight waits on block.
	blockLight string
	block      chan struct{}
}

func newFakeLights(tr *trace) *fakeLights {
	return &fakeLights{
		trace: tr,
		state: map[string]bridge.LightState{
			"1": {On: bridge.Ptr(true), Bri: bridge.Ptr[uint8](200), ColorMode: "ct", Ct: bridge.Ptr[uint16](366)},
			"2": {On: bridge.Ptr(false), Bri: bridge.Ptr[uint8](100), ColorMode: "hs", Hue: bridge.Ptr[uint16](500), Sat: bridge.Ptr[uint8](200)},
		},
	}
}

func (f *fakeLights) GetState(ctx context.Context, lightID string) (*bridge.Light, error) {
	f.mu.Lock()
	block := f.block
	if lightID != f.blockLight {
		block = nil
	}
	f.mu.Unlock()
	if block != nil {
		<-block
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	if f.getErr != nil {
		return nil, f.getErr
	}
	st, ok := f.state[lightID]
	if !ok {
		return nil, &bridge.TransportError{Op: "get state", Status: 404}
	}
	return &bridge.Light{Name: "Light " + lightID, State: st}, nil
}

func (f *fakeLights) SetState(ctx context.Context, lightID string, update bridge.StateUpdate) (bridge.Ack, error) {
	if f.trace != nil {
		f.trace.add("set %s %s", lightID, describe(update))
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sets = append(f.sets, setCall{lightID: lightID, update: update})
	if f.setErr != nil {
		return nil, f.setErr
	}
	return bridge.Ack{{Success: map[string]any{}}}, nil
}

func (f *fakeLights) restores(lightID string, want bridge.StateUpdate) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.sets {
		if s.lightID == lightID && assert.ObjectsAreEqual(want, s.update) {
			n++
		}
	}
	return n
}

func (f *fakeLights) setCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sets)
}

func describe(u bridge.StateUpdate) string {
	switch {
	case u.TransitionTime != nil && *u.TransitionTime == 3 && u.Sat == nil && u.Hue == nil:
		return "restore"
	case u.On != nil && u.Bri == nil && u.Hue == nil && u.Ct == nil:
		return "power"
	default:
		return "step"
	}
}

// tracked is an effect that records its lifecycle and tracks live instances.
type tracked struct {
	name      string
	trace     *trace
	startErr  error
	nilHandle bool

	starts  atomic.Int32
	live    atomic.Int32
	maxLive atomic.Int32
}

type trackedHandle struct {
	p    *tracked
	n    int32
	once sync.Once
}

func (p *tracked) Start(ctx context.Context, lightID string, w effect.StateWriter) (effect.Handle, error) {
	if p.startErr != nil {
		return nil, p.startErr
	}
	if p.nilHandle {
		return nil, nil
	}
	n := p.starts.Add(1)
	live := p.live.Add(1)
	for {
		m := p.maxLive.Load()
		if live <= m || p.maxLive.CompareAndSwap(m, live) {
			break
		}
	}
	if p.trace != nil {
		p.trace.add("start %s#%d", p.name, n)
	}
	return &trackedHandle{p: p, n: n}, nil
}

func (h *trackedHandle) Stop() error {
	h.once.Do(func() {
		h.p.live.Add(-1)
		if h.p.trace != nil {
			h.p.trace.add("stop %s#%d", h.p.name, h.n)
		}
	})
	return nil
}

type recorder struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func (r *recorder) Publish(e eventbus.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) types() []eventbus.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]eventbus.EventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

var ctSnapshot = bridge.StateUpdate{
	On:             bridge.Ptr(true),
	Bri:            bridge.Ptr[uint8](200),
	Ct:             bridge.Ptr[uint16](366),
	TransitionTime: bridge.Ptr[uint16](3),
}

func newController(t *testing.T, effects ...effect.Effect) (*Controller, *fakeLights, *trace, *recorder) {
	t.Helper()
	tr := &trace{}
	lights := newFakeLights(tr)
	reg := effect.NewRegistry()
	for _, e := range effects {
		switch e := e.(type) {
		case *tracked:
			if e.trace == nil {
				e.trace = tr
			}
			require.NoError(t, reg.Register(effect.Descriptor{ID: e.name}, e))
		case *rainbow.Effect:
			require.NoError(t, reg.Register(e.Descriptor(), e))
		}
	}
	rec := &recorder{}
	return New(reg, lights, rec), lights, tr, rec
}

func TestController_StartStopRestoresOnce(t *testing.T) {
	c, lights, _, rec := newController(t, rainbow.New(time.Millisecond))
	ctx := context.Background()

	require.NoError(t, c.Start(ctx, "rainbow", "1"))
	assert.Equal(t, Running, c.Phase("rainbow", "1"))
	assert.True(t, c.HasSnapshot("1"))
	assert.Equal(t, []Key{{EffectID: "rainbow", LightID: "1"}}, c.Running())

	require.Eventually(t, func() bool { return lights.setCount() > 3 }, time.Second, time.Millisecond)

	require.NoError(t, c.Stop(ctx, "rainbow", "1"))
	require.NoError(t, c.Stop(ctx, "rainbow", "1"))

	assert.Equal(t, 1, lights.restores("1", ctSnapshot))
	assert.False(t, c.HasSnapshot("1"))
	assert.Empty(t, c.Running())
	assert.Equal(t, Absent, c.Phase("rainbow", "1"))

	// No rainbow writes after the restore.
	n := lights.setCount()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, n, lights.setCount())

	assert.Equal(t, []eventbus.EventType{
		eventbus.EventSnapshotCaptured,
		eventbus.EventEffectStarted,
		eventbus.EventEffectStopped,
		eventbus.EventSnapshotRestored,
	}, rec.types())
	assert.Equal(t, 0, c.locks.len())
}

func TestController_StartUnknownEffect(t *testing.T) {
	c, lights, _, _ := newController(t)

	err := c.Start(context.Background(), "nope", "1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Zero(t, lights.setCount())
}

func TestController_StopNotRunningIsNoop(t *testing.T) {
	c, lights, _, rec := newController(t, &tracked{name: "p"})

	require.NoError(t, c.Stop(context.Background(), "p", "1"))
	require.NoError(t, c.Stop(context.Background(), "missing", "9"))
	assert.Zero(t, lights.setCount())
	assert.Empty(t, rec.types())
}

func TestController_RestartStopsOldInstanceFirst(t *testing.T) {
	p := &tracked{name: "p"}
	c, _, tr, _ := newController(t, p)
	ctx := context.Background()

	require.NoError(t, c.Start(ctx, "p", "1"))
	require.NoError(t, c.Start(ctx, "p", "1"))

	assert.Equal(t, []string{
		"set 1 power",
		"start p#1",
		"stop p#1",
		"set 1 restore",
		"set 1 power",
		"start p#2",
	}, tr.all())
	assert.Len(t, c.Running(), 1)
	assert.True(t, c.HasSnapshot("1"))
}

func TestController_ConcurrentStartsSameKey(t *testing.T) {
	p := &tracked{name: "p"}
	c, _, _, _ := newController(t, p)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, c.Start(ctx, "p", "1"))
		}()
	}
	wg.Wait()

	assert.Len(t, c.Running(), 1)
	assert.Equal(t, int32(1), p.live.Load())
	assert.Equal(t, int32(1), p.maxLive.Load())
	assert.Equal(t, int32(20), p.starts.Load())
}

func TestController_SnapshotSharedAcrossEffectsOnOneLight(t *testing.T) {
	a, b := &tracked{name: "a"}, &tracked{name: "b"}
	c, lights, _, _ := newController(t, a, b)
	ctx := context.Background()

	require.NoError(t, c.Start(ctx, "a", "1"))
	require.NoError(t, c.Start(ctx, "b", "1"))
	assert.Equal(t, 1, lights.gets)

	require.NoError(t, c.Stop(ctx, "a", "1"))
	assert.Zero(t, lights.restores("1", ctSnapshot))
	assert.True(t, c.HasSnapshot("1"))

	require.NoError(t, c.Stop(ctx, "b", "1"))
	assert.Equal(t, 1, lights.restores("1", ctSnapshot))
	assert.False(t, c.HasSnapshot("1"))
}

func TestController_CaptureFailureIsSwallowed(t *testing.T) {
	c, lights, _, rec := newController(t, &tracked{name: "p"})
	lights.getErr = &bridge.TransportError{Op: "get state", Message: "connection refused"}
	ctx := context.Background()

	require.NoError(t, c.Start(ctx, "p", "1"))
	assert.False(t, c.HasSnapshot("1"))

	require.NoError(t, c.Stop(ctx, "p", "1"))
	assert.Equal(t, 1, lights.setCount()) // power-on only, nothing to restore
	assert.Contains(t, rec.types(), eventbus.EventSnapshotFailed)
}

func TestController_RestoreFailureDropsSnapshot(t *testing.T) {
	c, lights, _, rec := newController(t, &tracked{name: "p"})
	ctx := context.Background()

	require.NoError(t, c.Start(ctx, "p", "2"))
	lights.mu.Lock()
	lights.setErr = errors.New("bridge unreachable")
	lights.mu.Unlock()

	require.NoError(t, c.Stop(ctx, "p", "2"))
	assert.False(t, c.HasSnapshot("2"))
	assert.Equal(t, eventbus.EventSnapshotFailed, rec.types()[len(rec.types())-1])
}

func TestController_PowerOnFailureIsSwallowed(t *testing.T) {
	c, lights, _, _ := newController(t, &tracked{name: "p"})
	lights.setErr = errors.New("bridge unreachable")

	require.NoError(t, c.Start(context.Background(), "p", "1"))
	assert.Equal(t, Running, c.Phase("p", "1"))
}

func TestController_StartFailureRestoresAndPropagates(t *testing.T) {
	boom := errors.New("boom")
	c, lights, _, rec := newController(t, &tracked{name: "p", startErr: boom})

	err := c.Start(context.Background(), "p", "1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, boom))

	assert.Empty(t, c.Running())
	assert.Equal(t, Absent, c.Phase("p", "1"))
	assert.False(t, c.HasSnapshot("1"))
	assert.Equal(t, 1, lights.restores("1", ctSnapshot))
	assert.Contains(t, rec.types(), eventbus.EventEffectFailed)
}

func TestController_StartFailureKeepsSnapshotForOtherEffect(t *testing.T) {
	ok := &tracked{name: "ok"}
	bad := &tracked{name: "bad", startErr: errors.New("boom")}
	c, lights, _, _ := newController(t, ok, bad)
	ctx := context.Background()

	require.NoError(t, c.Start(ctx, "ok", "1"))
	require.Error(t, c.Start(ctx, "bad", "1"))

	assert.True(t, c.HasSnapshot("1"))
	assert.Zero(t, lights.restores("1", ctSnapshot))
}

func TestController_NilHandleIsInvalidEffect(t *testing.T) {
	c, _, _, _ := newController(t, &tracked{name: "p", nilHandle: true})

	err := c.Start(context.Background(), "p", "1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, effect.ErrInvalidEffect))
	assert.Empty(t, c.Running())
}

func TestController_StopAll(t *testing.T) {
	a, b := &tracked{name: "a"}, &tracked{name: "b"}
	c, lights, _, _ := newController(t, a, b)
	ctx := context.Background()

	require.NoError(t, c.Start(ctx, "a", "1"))
	require.NoError(t, c.Start(ctx, "b", "1"))
	require.NoError(t, c.Start(ctx, "a", "2"))

	require.NoError(t, c.StopAll(ctx))
	assert.Empty(t, c.Running())
	assert.Zero(t, a.live.Load()+b.live.Load())
	assert.False(t, c.HasSnapshot("1"))
	assert.False(t, c.HasSnapshot("2"))
	assert.Equal(t, 1, lights.restores("1", ctSnapshot))
}

// A hung bridge call holds the light: later requests for that light wait
// until the caller gives up, while other lights are unaffected.
func TestController_HungCallStallsOnlyThatLight(t *testing.T) {
	p := &tracked{name: "p"}
	c, lights, _, _ := newController(t, p)

	release := make(chan struct{})
	lights.mu.Lock()
	lights.blockLight = "1"
	lights.block = release
	lights.mu.Unlock()

	started := make(chan error, 1)
	go func() { started <- c.Start(context.Background(), "p", "1") }()

	require.Eventually(t, func() bool { return c.Phase("p", "1") == Starting }, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := c.Stop(ctx, "p", "1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, c.Start(context.Background(), "p", "2"))

	close(release)
	require.NoError(t, <-started)
	assert.Len(t, c.Running(), 2)
}
