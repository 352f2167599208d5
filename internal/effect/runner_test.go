package effect_test

import (
	"bytes"
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/huefx/internal/bridge"
	"github.com/dokzlo13/huefx/internal/effect"
	"github.com/dokzlo13/huefx/internal/effect/effecttest"
)

func hueStep(_ context.Context, i int) (bridge.StateUpdate, error) {
	return bridge.StateUpdate{Hue: bridge.Ptr(uint16(i))}, nil
}

func waitWrites(t *testing.T, w *effecttest.Writer, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return w.Len() >= n }, 2*time.Second, time.Millisecond)
}

func TestRunner_FirstStepIsImmediate(t *testing.T) {
	w := effecttest.NewWriter()
	r := effect.StartRunner(context.Background(), effect.RunnerConfig{
		Name: "test", LightID: "1", Delay: time.Hour, Step: hueStep, Writer: w,
	})

	select {
	case got := <-w.Next():
		assert.Equal(t, "1", got.LightID)
		assert.Equal(t, uint16(0), *got.Update.Hue)
	case <-time.After(2 * time.Second):
		t.Fatal("step 0 was not written")
	}

	require.NoError(t, r.Stop())
	assert.Equal(t, 1, w.Len())
	assert.Equal(t, effect.Stopped, r.State())
}

func TestRunner_StepsInOrderAndNoWritesAfterStop(t *testing.T) {
	w := effecttest.NewWriter()
	r := effect.StartRunner(context.Background(), effect.RunnerConfig{
		Name: "test", LightID: "1", Delay: time.Millisecond, Step: hueStep, Writer: w,
	})

	waitWrites(t, w, 5)
	require.NoError(t, r.Stop())

	count := w.Len()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, count, w.Len(), "writes after Stop")

	for i, wr := range w.Writes() {
		assert.Equal(t, uint16(i), *wr.Update.Hue)
	}
}

func TestRunner_StopIsIdempotent(t *testing.T) {
	var exits atomic.Int32
	w := effecttest.NewWriter()
	r := effect.StartRunner(context.Background(), effect.RunnerConfig{
		Name: "test", LightID: "1", Delay: time.Millisecond, Step: hueStep, Writer: w,
		OnExit: func() { exits.Add(1) },
	})

	assert.NoError(t, r.Stop())
	assert.NoError(t, r.Stop())
	assert.Equal(t, int32(1), exits.Load())
}

func TestRunner_WriteFailuresAreNotFatal(t *testing.T) {
	w := effecttest.NewWriter()
	w.Err = errors.New("bridge unreachable")

	r := effect.StartRunner(context.Background(), effect.RunnerConfig{
		Name: "test", LightID: "1", Delay: time.Millisecond, Step: hueStep, Writer: w,
	})
	waitWrites(t, w, 3)
	require.NoError(t, r.Stop())
}

func TestRunner_StepFailuresAreNotFatal(t *testing.T) {
	w := effecttest.NewWriter()
	step := func(ctx context.Context, i int) (bridge.StateUpdate, error) {
		if i%2 == 0 {
			return bridge.StateUpdate{}, errors.New("bad step")
		}
		return hueStep(ctx, i)
	}

	r := effect.StartRunner(context.Background(), effect.RunnerConfig{
		Name: "test", LightID: "1", Delay: time.Millisecond, Step: step, Writer: w,
	})
	waitWrites(t, w, 2)
	require.NoError(t, r.Stop())

	for _, wr := range w.Writes() {
		assert.Equal(t, uint16(1), *wr.Update.Hue%2)
	}
	assert.GreaterOrEqual(t, r.Steps(), 3)
}

func TestRunner_ExitsWhenContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	w := effecttest.NewWriter()
	r := effect.StartRunner(ctx, effect.RunnerConfig{
		Name: "test", LightID: "1", Delay: time.Hour, Step: hueStep, Writer: w,
	})
	waitWrites(t, w, 1)

	cancel()
	select {
	case <-r.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not exit")
	}
	assert.Equal(t, effect.Stopped, r.State())
	assert.NoError(t, r.Stop())
}

func TestRunner_PanickingStepIsNotFatal(t *testing.T) {
	w := effecttest.NewWriter()
	step := func(ctx context.Context, i int) (bridge.StateUpdate, error) {
		if i == 1 {
			var arr []any
			_ = arr[i]
		}
		return hueStep(ctx, i)
	}

	r := effect.StartRunner(context.Background(), effect.RunnerConfig{
		Name: "test", LightID: "1", Delay: time.Millisecond, Step: step, Writer: w,
	})
	waitWrites(t, w, 3)
	assert.Equal(t, effect.Running, r.State())
	require.NoError(t, r.Stop())

	for _, wr := range w.Writes() {
		assert.NotEqual(t, uint16(1), *wr.Update.Hue)
	}
}

func TestRunner_LogsRejectedAcks(t *testing.T) {
	var buf bytes.Buffer
	prev := log.Logger
	log.Logger = zerolog.New(&buf)
	t.Cleanup(func() { log.Logger = prev })

	w := effecttest.NewWriter()
	w.Ack = bridge.Ack{{Error: &bridge.AckError{Type: 201, Address: "/lights/1/state/hue", Description: "parameter, hue, is not modifiable. Device is set to off."}}}

	r := effect.StartRunner(context.Background(), effect.RunnerConfig{
		Name: "test", LightID: "1", Delay: time.Millisecond, Step: hueStep, Writer: w,
	})
	waitWrites(t, w, 3)
	require.NoError(t, r.Stop())

	assert.Contains(t, buf.String(), "Light rejected state")
	assert.Contains(t, buf.String(), "is not modifiable")
}

func TestRunner_StopRunsOnStopOnce(t *testing.T) {
	var calls atomic.Int32
	unblock := make(chan struct{})
	w := effecttest.NewWriter()
	step := func(ctx context.Context, i int) (bridge.StateUpdate, error) {
		if i == 1 {
			<-unblock
			return bridge.StateUpdate{}, errors.New("interrupted")
		}
		return hueStep(ctx, i)
	}

	r := effect.StartRunner(context.Background(), effect.RunnerConfig{
		Name: "test", LightID: "1", Delay: time.Millisecond, Step: step, Writer: w,
		OnStop: func() {
			calls.Add(1)
			close(unblock)
		},
	})
	waitWrites(t, w, 1)

	done := make(chan struct{})
	go func() {
		r.Stop()
		r.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not interrupt the blocked step")
	}
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 1, w.Len())
}
