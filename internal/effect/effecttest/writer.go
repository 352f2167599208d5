// Package effecttest provides a recording StateWriter for effect tests.
package effecttest

import (
	"context"
	"sync"

	"github.com/dokzlo13/huefx/internal/bridge"
)

// Write is one recorded SetState call.
type Write struct {
	LightID string
	Update  bridge.StateUpdate
}

// Writer records every write. Err, when set, is returned by every call
// after the write is recorded. Ack, when set, replaces the default
// all-success acknowledgement.
type Writer struct {
	mu     sync.Mutex
	writes []Write
	Err    error
	Ack    bridge.Ack
	notify chan Write
}

// NewWriter creates a recording writer.
func NewWriter() *Writer {
	return &Writer{notify: make(chan Write, 1024)}
}

// SetState records the write.
func (w *Writer) SetState(ctx context.Context, lightID string, update bridge.StateUpdate) (bridge.Ack, error) {
	rec := Write{LightID: lightID, Update: update}

	w.mu.Lock()
	w.writes = append(w.writes, rec)
	err, ack := w.Err, w.Ack
	w.mu.Unlock()

	select {
	case w.notify <- rec:
	default:
	}

	if err != nil {
		return nil, err
	}
	if ack != nil {
		return ack, nil
	}
	return bridge.Ack{{Success: map[string]any{}}}, nil
}

// Writes returns a copy of all recorded writes.
func (w *Writer) Writes() []Write {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]Write, len(w.writes))
	copy(out, w.writes)
	return out
}

// Len returns the number of recorded writes.
func (w *Writer) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.writes)
}

// Next returns a channel receiving writes as they happen.
func (w *Writer) Next() <-chan Write {
	return w.notify
}
