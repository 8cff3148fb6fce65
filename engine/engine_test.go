package engine

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSystem struct {
	name   string
	calls  []uint64
	failOn map[uint64]error
	log    *[]string
}

func (r *recordingSystem) Name() string {
	return r.name
}

func (r *recordingSystem) Frame(frame uint64, _ float32) error {
	r.calls = append(r.calls, frame)
	if r.log != nil {
		*r.log = append(*r.log, r.name)
	}
	return r.failOn[frame]
}

func runWithTimeout(t *testing.T, e Engine) error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- e.Run() }()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		e.Quit()
		t.Fatal("engine did not stop")
		return nil
	}
}

func TestEngine_RunsSystemsInOrder(t *testing.T) {
	var order []string
	hash := &recordingSystem{name: "hash", log: &order}
	sort := &recordingSystem{name: "sort", log: &order}

	e := NewEngine(WithSystem(hash), WithSystem(sort), WithMaxFrames(3))
	require.NoError(t, runWithTimeout(t, e))

	assert.Equal(t, []string{"hash", "sort", "hash", "sort", "hash", "sort"}, order)
	assert.Equal(t, []uint64{0, 1, 2}, hash.calls)
	frames, failed := e.Frames()
	assert.Equal(t, uint64(3), frames)
	assert.Zero(t, failed)
}

func TestEngine_FailedFrameIsSkipped(t *testing.T) {
	boom := errors.New("boom")
	first := &recordingSystem{name: "first", failOn: map[uint64]error{1: boom}}
	second := &recordingSystem{name: "second"}

	e := NewEngine(WithSystem(first), WithSystem(second), WithMaxFrames(4))
	require.NoError(t, runWithTimeout(t, e))

	assert.Equal(t, []uint64{0, 1, 2, 3}, first.calls)
	assert.Equal(t, []uint64{0, 2, 3}, second.calls)
	frames, failed := e.Frames()
	assert.Equal(t, uint64(4), frames)
	assert.Equal(t, uint64(1), failed)
}

func TestEngine_StopOnError(t *testing.T) {
	boom := errors.New("boom")
	sys := &recordingSystem{name: "sort", failOn: map[uint64]error{2: boom}}

	e := NewEngine(WithSystem(sys), WithStopOnError(true))
	err := runWithTimeout(t, e)

	assert.ErrorIs(t, err, boom)
	assert.ErrorContains(t, err, "sort")
	assert.Equal(t, []uint64{0, 1, 2}, sys.calls)
}

func TestEngine_PanicStopsRun(t *testing.T) {
	e := NewEngine(WithSystem(SystemFunc{Label: "bad", Fn: func(uint64, float32) error {
		panic("kernel exploded")
	}}))
	err := runWithTimeout(t, e)
	assert.ErrorContains(t, err, "kernel exploded")
}

func TestEngine_Quit(t *testing.T) {
	var frames atomic.Uint64
	var e Engine
	e = NewEngine(WithFrameLimit(1000), WithSystem(SystemFunc{Label: "count", Fn: func(frame uint64, _ float32) error {
		if frames.Add(1) == 5 {
			e.Quit()
		}
		return nil
	}}))

	require.NoError(t, runWithTimeout(t, e))
	assert.GreaterOrEqual(t, frames.Load(), uint64(5))
	e.Quit()
}

func TestEngine_TickCallback(t *testing.T) {
	var ticks atomic.Int32
	var e Engine
	e = NewEngine(WithTickRate(1000), WithFrameLimit(1000))
	e.SetTickCallback(func(float32) {
		if ticks.Add(1) == 3 {
			e.Quit()
		}
	})

	require.NoError(t, runWithTimeout(t, e))
	assert.GreaterOrEqual(t, ticks.Load(), int32(3))
}

func TestEngine_Options(t *testing.T) {
	e := NewEngine(WithTickRate(0), WithFrameLimit(0), WithProfiling(true)).(*engine)
	assert.Equal(t, time.Second/60, e.engineTickRate)
	assert.Zero(t, e.frameLimit)
	assert.True(t, e.profilingEnabled)
	assert.NotNil(t, e.Profiler())

	e.SetTickRate(120)
	assert.Equal(t, time.Second/120, e.engineTickRate)
	e.SetFrameLimit(50)
	assert.Equal(t, 20*time.Millisecond, e.frameLimit)
	e.DisableProfiler()
	assert.False(t, e.profilingEnabled)

	e.AddSystem(SystemFunc{Label: "a", Fn: func(uint64, float32) error { return nil }})
	systems := e.Systems()
	require.Len(t, systems, 1)
	assert.Equal(t, "a", systems[0].Name())
}
