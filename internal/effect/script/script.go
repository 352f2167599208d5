// Package script loads lighting effects written in Lua.
//
// A script defines globals:
//
//	name     = "candle"          -- required, registry id
//	label    = "Candle Flicker"  -- optional
//	delay_ms = 150               -- optional step delay
//	function step(i)             -- required, i starts at 0
//	  return { on = true, bri = 120 + (i % 5) * 10 }
//	end
//
// Every running instance gets its own Lua state, used only by its loop.
// Stopping an instance interrupts a step that is still running.
package script

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
	lua "github.com/yuin/gopher-lua"

	"github.com/dokzlo13/huefx/internal/bridge"
	"github.com/dokzlo13/huefx/internal/effect"
)

// loadTimeout bounds the top-level chunk of a script.
const loadTimeout = 2 * time.Second

// Script is a parsed effect script.
type Script struct {
	path   string
	source string
	id     string
	label  string
	delay  time.Duration
}

// Load reads and validates a script file.
func Load(path string, defaultDelay time.Duration) (*Script, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(path, string(src), defaultDelay)
}

// Parse validates script source. It runs the chunk once in a scratch state
// to read its globals.
func Parse(path, source string, defaultDelay time.Duration) (*Script, error) {
	L := newState("", "")
	defer L.Close()

	if err := runChunk(L, source); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", effect.ErrInvalidEffect, path, err)
	}

	id, ok := L.GetGlobal("name").(lua.LString)
	if !ok || id == "" {
		return nil, fmt.Errorf("%w: %s: missing name", effect.ErrInvalidEffect, path)
	}
	if _, ok := L.GetGlobal("step").(*lua.LFunction); !ok {
		return nil, fmt.Errorf("%w: %s: missing step function", effect.ErrInvalidEffect, path)
	}

	s := &Script{
		path:   path,
		source: source,
		id:     string(id),
		label:  string(id),
		delay:  defaultDelay,
	}
	if label, ok := L.GetGlobal("label").(lua.LString); ok && label != "" {
		s.label = string(label)
	}
	if ms, ok := L.GetGlobal("delay_ms").(lua.LNumber); ok && ms > 0 {
		s.delay = time.Duration(float64(ms) * float64(time.Millisecond))
	}

	return s, nil
}

// LoadDir loads every *.lua file in dir, sorted by file name.
// Broken scripts are logged and skipped.
func LoadDir(dir string, defaultDelay time.Duration) ([]*Script, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.lua"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	scripts := make([]*Script, 0, len(paths))
	for _, path := range paths {
		s, err := Load(path, defaultDelay)
		if err != nil {
			log.Error().Err(err).Str("path", path).Msg("Error loading effect script")
			continue
		}
		scripts = append(scripts, s)
	}
	return scripts, nil
}

// Descriptor returns the registry descriptor.
func (s *Script) Descriptor() effect.Descriptor {
	return effect.Descriptor{ID: s.id, Label: s.label}
}

// Delay returns the step delay.
func (s *Script) Delay() time.Duration {
	return s.delay
}

// Start runs the script's step function against lightID.
func (s *Script) Start(ctx context.Context, lightID string, w effect.StateWriter) (effect.Handle, error) {
	L := newState(s.id, lightID)
	if err := runChunk(L, s.source); err != nil {
		L.Close()
		return nil, fmt.Errorf("load %s: %w", s.path, err)
	}
	fn, ok := L.GetGlobal("step").(*lua.LFunction)
	if !ok {
		L.Close()
		return nil, fmt.Errorf("%w: %s: missing step function", effect.ErrInvalidEffect, s.path)
	}

	// The VM checks this context between instructions, so cancelling it
	// breaks out of a step that never returns.
	runCtx, cancel := context.WithCancel(ctx)
	L.SetContext(runCtx)

	return effect.StartRunner(ctx, effect.RunnerConfig{
		Name:    s.id,
		LightID: lightID,
		Delay:   s.delay,
		Writer:  w,
		Step: func(_ context.Context, i int) (bridge.StateUpdate, error) {
			return callStep(L, fn, i)
		},
		OnStop: cancel,
		OnExit: func() {
			cancel()
			L.Close()
		},
	}), nil
}

// runChunk executes source with loadTimeout applied.
func runChunk(L *lua.LState, source string) error {
	ctx, cancel := context.WithTimeout(context.Background(), loadTimeout)
	defer cancel()
	L.SetContext(ctx)
	defer L.RemoveContext()
	return L.DoString(source)
}

func callStep(L *lua.LState, fn *lua.LFunction, i int) (bridge.StateUpdate, error) {
	if err := L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, lua.LNumber(i)); err != nil {
		return bridge.StateUpdate{}, err
	}
	ret := L.Get(-1)
	L.Pop(1)

	tbl, ok := ret.(*lua.LTable)
	if !ok {
		return bridge.StateUpdate{}, fmt.Errorf("step returned %s, want table", ret.Type())
	}
	return decodeState(tbl)
}

func decodeState(tbl *lua.LTable) (bridge.StateUpdate, error) {
	data, err := json.Marshal(tableToMap(tbl))
	if err != nil {
		return bridge.StateUpdate{}, err
	}

	var update bridge.StateUpdate
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&update); err != nil {
		return bridge.StateUpdate{}, fmt.Errorf("invalid state from step: %w", err)
	}
	if update.IsEmpty() {
		return bridge.StateUpdate{}, fmt.Errorf("step returned an empty state")
	}
	return update, nil
}

// newState creates a sandboxed Lua state: no io, os or debug libraries.
func newState(effectID, lightID string) *lua.LState {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})

	for _, lib := range []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.LoadLibName, lua.OpenPackage},
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		L.Push(L.NewFunction(lib.fn))
		L.Push(lua.LString(lib.name))
		L.Call(1, 0)
	}

	mod := &logModule{effect: effectID, lightID: lightID}
	L.PreloadModule("log", mod.loader)
	L.SetGlobal("light_id", lua.LString(lightID))

	return L
}
