package engine

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/Carmen-Shannon/oxy-sort/engine/profiler"
)

// System is one stage of a frame, such as hashing particles, sorting them or running a
// neighbor query against the sorted result. Systems run in registration order.
type System interface {
	// Name returns the name the engine logs failures under.
	//
	// Returns:
	//   - string: the system name
	Name() string

	// Frame runs the system for one frame.
	//
	// Parameters:
	//   - frame: the zero-based frame number
	//   - deltaTime: seconds since the previous frame
	//
	// Returns:
	//   - error: a failed frame; later systems are skipped for this frame
	Frame(frame uint64, deltaTime float32) error
}

// SystemFunc adapts a function to the System interface.
type SystemFunc struct {
	Label string
	Fn    func(frame uint64, deltaTime float32) error
}

func (s SystemFunc) Name() string {
	return s.Label
}

func (s SystemFunc) Frame(frame uint64, deltaTime float32) error {
	return s.Fn(frame, deltaTime)
}

// engine implements the Engine interface.
// Coordinates the fixed-rate tick thread and the frame thread.
type engine struct {
	mu              *sync.Mutex
	tickRateChannel chan time.Duration // Channel for dynamic tick rate updates

	running bool
	wg      sync.WaitGroup

	quitChannel chan struct{}
	quitOnce    sync.Once // Ensures quitChannel is only closed once

	profiler         *profiler.Profiler
	profilingEnabled bool

	engineTickRate time.Duration
	tickCallback   func(deltaTime float32)

	systems []System

	frameLimit  time.Duration // minimum frame duration; 0 = uncapped
	maxFrames   uint64        // 0 = run until Quit
	stopOnError bool

	frames uint64
	failed uint64
	err    error
}

// Engine is the main entry point for a headless simulation.
// It runs registered systems once per frame and an optional tick callback at a fixed rate.
type Engine interface {
	// Profiler returns the profiler the engine ticks once per frame.
	//
	// Returns:
	//   - *profiler.Profiler: the profiler, shareable with sorters via sort.WithProfiler
	Profiler() *profiler.Profiler

	// EnableProfiler enables performance profiling output to the log.
	EnableProfiler()

	// DisableProfiler disables performance profiling output.
	DisableProfiler()

	// SetTickRate sets the engine tick rate in ticks per second.
	// The tick callback will be called at this rate.
	//
	// Parameters:
	//   - fps: target ticks per second (defaults to 60 if <= 0)
	SetTickRate(fps float64)

	// SetTickCallback registers the function called each engine tick.
	//
	// Parameters:
	//   - callback: function to call at the configured tick rate, receiving the delta time in seconds
	SetTickCallback(callback func(deltaTime float32))

	// SetFrameLimit sets an optional frame rate cap in frames per second.
	// Pass 0 to uncap the frame loop (default).
	//
	// Parameters:
	//   - fps: maximum frames per second (0 = uncapped)
	SetFrameLimit(fps float64)

	// AddSystem appends a system to the frame. Must be called before Run.
	//
	// Parameters:
	//   - s: the System to register
	AddSystem(s System)

	// Systems returns a copy of the registered systems in frame order.
	//
	// Returns:
	//   - []System: the systems
	Systems() []System

	// Frames returns the number of frames run so far, and how many of them failed.
	//
	// Returns:
	//   - uint64: frames run
	//   - uint64: frames that returned an error
	Frames() (uint64, uint64)

	// Run starts the engine and blocks until Quit is called, the frame budget is spent,
	// or a frame fails with stop-on-error enabled.
	//
	// Returns:
	//   - error: the failing frame's error when stop-on-error ended the run, nil otherwise
	Run() error

	// Quit signals all engine goroutines to stop.
	// Safe to call multiple times; subsequent calls are no-ops.
	Quit()
}

// NewEngine creates a new Engine instance with the provided options.
// Options are applied directly to the engine struct via the option-builder pattern.
//
// Parameters:
//   - options: functional options for engine configuration (profiling, tick rate, systems, etc.)
//
// Returns:
//   - Engine: the newly created engine
func NewEngine(options ...EngineBuilderOption) Engine {
	e := &engine{
		mu:               &sync.Mutex{},
		tickRateChannel:  make(chan time.Duration, 1),
		quitChannel:      make(chan struct{}),
		running:          false,
		wg:               sync.WaitGroup{},
		profiler:         profiler.NewProfiler(),
		profilingEnabled: false,
		engineTickRate:   time.Second / 60,
	}

	for _, opt := range options {
		opt(e)
	}

	return e
}

func (e *engine) Profiler() *profiler.Profiler {
	return e.profiler
}

func (e *engine) Run() error {
	e.mu.Lock()
	e.running = true
	e.mu.Unlock()

	e.handle()
	e.wg.Wait()

	e.mu.Lock()
	defer e.mu.Unlock()
	e.running = false
	log.Printf("[Engine] stopped after %d frames (%d failed)", e.frames, e.failed)
	return e.err
}

// Quit signals all engine goroutines to stop and shuts down the engine.
// Safe to call multiple times; subsequent calls are no-ops due to sync.Once.
func (e *engine) Quit() {
	e.signalQuit()
}

// signalQuit closes the quit channel to signal all goroutines to exit.
// Uses sync.Once to ensure the channel is only closed once.
func (e *engine) signalQuit() {
	e.quitOnce.Do(func() {
		close(e.quitChannel)
	})
}

// handle launches the tick and frame goroutines.
// Each goroutine is tracked by the engine's WaitGroup.
func (e *engine) handle() {
	e.wg.Add(2)
	go e.handleEngine()
	go e.handleFrames()
}

// handleEngine runs the fixed-rate engine tick loop in its own goroutine.
// Fires the tick callback at the configured tick rate and listens for dynamic rate changes
// via tickRateChannel. Exits when the quit channel is closed.
func (e *engine) handleEngine() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.engineTickRate)
	defer ticker.Stop()

	lastTick := time.Now()

	for {
		select {
		case <-e.quitChannel:
			return
		case <-ticker.C:
			now := time.Now()
			dt := float32(now.Sub(lastTick).Seconds())
			lastTick = now

			if e.tickCallback != nil {
				e.tickCallback(dt)
			}
		case newRate := <-e.tickRateChannel:
			ticker.Reset(newRate)
			e.engineTickRate = newRate
		}
	}
}

// handleFrames runs the uncapped (or frame-limited) frame loop in its own goroutine.
// Every frame runs each system in order. A failed frame is logged and the loop moves on to the
// next frame with fresh input, unless stop-on-error is set.
// Recovers from panics to avoid crashing the process and signals quit on recovery.
func (e *engine) handleFrames() {
	defer e.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[Engine] frame goroutine recovered from panic: %v", r)
			e.mu.Lock()
			e.err = fmt.Errorf("frame %d panicked: %v", e.frames, r)
			e.mu.Unlock()
			e.signalQuit()
		}
	}()

	lastFrame := time.Now()

	for {
		select {
		case <-e.quitChannel:
			return
		default:
		}

		now := time.Now()
		dt := float32(now.Sub(lastFrame).Seconds())
		lastFrame = now

		e.mu.Lock()
		frame := e.frames
		e.mu.Unlock()

		err := e.runFrame(frame, dt)

		e.mu.Lock()
		e.frames++
		if err != nil {
			e.failed++
		}
		done := e.maxFrames > 0 && e.frames >= e.maxFrames
		profiling := e.profilingEnabled
		e.mu.Unlock()

		if err != nil {
			log.Printf("[Engine] frame %d failed: %v", frame, err)
			if e.stopOnError {
				e.mu.Lock()
				e.err = err
				e.mu.Unlock()
				e.signalQuit()
				return
			}
		}

		if profiling && e.profiler != nil {
			e.profiler.Tick()
		}

		if done {
			e.signalQuit()
			return
		}

		// Frame rate limiting
		if e.frameLimit > 0 {
			elapsed := time.Since(now)
			if remaining := e.frameLimit - elapsed; remaining > 0 {
				select {
				case <-e.quitChannel:
					return
				case <-time.After(remaining):
				}
			}
		}
	}
}

// runFrame runs every system for one frame, stopping at the first failure.
func (e *engine) runFrame(frame uint64, dt float32) error {
	for _, s := range e.systems {
		if err := s.Frame(frame, dt); err != nil {
			return fmt.Errorf("%s: %w", s.Name(), err)
		}
	}
	return nil
}

// EnableProfiler enables performance profiling output to the log.
func (e *engine) EnableProfiler() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.profilingEnabled = true
}

// DisableProfiler disables performance profiling output.
func (e *engine) DisableProfiler() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.profilingEnabled = false
}

// SetTickRate sets the engine tick rate in ticks per second.
// If the engine is running, the change takes effect immediately.
func (e *engine) SetTickRate(fps float64) {
	newRate := tickInterval(fps)

	e.mu.Lock()
	running := e.running
	e.mu.Unlock()

	if running {
		// Non-blocking send - if channel is full, replace the pending value
		select {
		case e.tickRateChannel <- newRate:
		default:
			select {
			case <-e.tickRateChannel:
			default:
			}
			e.tickRateChannel <- newRate
		}
	} else {
		e.engineTickRate = newRate
	}
}

func (e *engine) SetTickCallback(callback func(deltaTime float32)) {
	e.tickCallback = callback
}

func (e *engine) SetFrameLimit(fps float64) {
	e.frameLimit = frameInterval(fps)
}

func (e *engine) AddSystem(s System) {
	e.systems = append(e.systems, s)
}

func (e *engine) Systems() []System {
	out := make([]System, len(e.systems))
	copy(out, e.systems)
	return out
}

func (e *engine) Frames() (uint64, uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.frames, e.failed
}

func tickInterval(fps float64) time.Duration {
	if fps <= 0 {
		fps = 60
	}
	return time.Duration(float64(time.Second) / fps)
}

func frameInterval(fps float64) time.Duration {
	if fps <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / fps)
}
