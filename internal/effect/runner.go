package effect

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/huefx/internal/bridge"
)

// RunState is the explicit tag checked before every unit of work.
type RunState int32

const (
	Running RunState = iota
	Stopped
)

func (s RunState) String() string {
	if s == Running {
		return "running"
	}
	return "stopped"
}

// StepFunc computes the state written at step i.
type StepFunc func(ctx context.Context, step int) (bridge.StateUpdate, error)

// RunnerConfig configures a periodic effect loop.
type RunnerConfig struct {
	Name    string // effect id, for logs
	LightID string
	Delay   time.Duration // pause between the end of one step and the next
	Step    StepFunc
	Writer  StateWriter
	OnStop  func() // runs once in Stop after the tag flips; interrupts a blocked step
	OnExit  func() // runs on the loop goroutine after the last step
}

// Runner drives one effect instance: step 0 immediately, then one step per
// delay until stopped. Write failures are logged and the loop continues.
type Runner struct {
	cfg   RunnerConfig
	state atomic.Int32
	steps atomic.Int64

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// StartRunner starts the loop on its own goroutine and returns immediately.
func StartRunner(ctx context.Context, cfg RunnerConfig) *Runner {
	r := &Runner{
		cfg:  cfg,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	r.state.Store(int32(Running))

	go r.loop(ctx)
	return r
}

// State returns the current tag.
func (r *Runner) State() RunState {
	return RunState(r.state.Load())
}

// Steps returns the number of completed steps.
func (r *Runner) Steps() int {
	return int(r.steps.Load())
}

// Stop flips the tag to Stopped and waits for the loop to exit. A step that
// is already writing finishes; no write is issued after Stop returns.
// Calling Stop again is a no-op.
func (r *Runner) Stop() error {
	r.stopOnce.Do(func() {
		r.state.Store(int32(Stopped))
		close(r.stop)
		if r.cfg.OnStop != nil {
			r.cfg.OnStop()
		}
	})
	<-r.done
	return nil
}

// Done is closed when the loop has exited.
func (r *Runner) Done() <-chan struct{} {
	return r.done
}

func (r *Runner) loop(ctx context.Context) {
	defer func() {
		r.state.Store(int32(Stopped))
		if r.cfg.OnExit != nil {
			r.cfg.OnExit()
		}
		close(r.done)
	}()

	timer := time.NewTimer(r.cfg.Delay)
	timer.Stop()
	defer timer.Stop()

	for i := 0; ; i++ {
		if r.State() != Running {
			return
		}

		r.runStep(ctx, i)
		r.steps.Add(1)

		if r.State() != Running {
			return
		}

		timer.Reset(r.cfg.Delay)
		select {
		case <-r.stop:
			return
		case <-ctx.Done():
			log.Debug().
				Str("effect", r.cfg.Name).
				Str("light", r.cfg.LightID).
				Msg("Effect loop context done")
			return
		case <-timer.C:
		}
	}
}

func (r *Runner) runStep(ctx context.Context, i int) {
	defer func() {
		if p := recover(); p != nil {
			log.Error().
				Str("effect", r.cfg.Name).
				Str("light", r.cfg.LightID).
				Int("step", i).
				Interface("panic", p).
				Msg("Effect step panicked")
		}
	}()

	update, err := r.cfg.Step(ctx, i)
	if err != nil {
		// Interrupted by Stop; not a script failure.
		if r.State() != Running {
			return
		}
		log.Error().Err(err).
			Str("effect", r.cfg.Name).
			Str("light", r.cfg.LightID).
			Int("step", i).
			Msg("Effect step failed")
		return
	}

	// A Stop that raced with the step computation wins over the write.
	if r.State() != Running {
		return
	}

	ack, err := r.cfg.Writer.SetState(ctx, r.cfg.LightID, update)
	if err != nil {
		log.Error().Err(err).
			Str("effect", r.cfg.Name).
			Str("light", r.cfg.LightID).
			Int("step", i).
			Msg("Error setting light")
		return
	}
	if err := ack.Err(); err != nil {
		log.Warn().Err(err).
			Str("effect", r.cfg.Name).
			Str("light", r.cfg.LightID).
			Int("step", i).
			Msg("Light rejected state")
	}
}
