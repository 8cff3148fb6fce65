package engine

// EngineBuilderOption is a functional option for configuring an Engine.
// Use the With* functions to create options that are applied directly to the engine instance.
type EngineBuilderOption func(*engine)

// WithProfiling enables or disables performance profiling output.
//
// Parameters:
//   - enabled: if true, enables performance profiling
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithProfiling(enabled bool) EngineBuilderOption {
	return func(e *engine) {
		e.profilingEnabled = enabled
	}
}

// WithTickRate sets the engine tick rate in ticks per second.
// Values <= 0 will be treated as the default (60Hz).
//
// Parameters:
//   - fps: target ticks per second (default 60)
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithTickRate(fps float64) EngineBuilderOption {
	return func(e *engine) {
		e.engineTickRate = tickInterval(fps)
	}
}

// WithFrameLimit sets an optional frame rate cap in frames per second.
// Pass 0 to uncap the frame loop (default).
//
// Parameters:
//   - fps: maximum frames per second (0 = uncapped)
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithFrameLimit(fps float64) EngineBuilderOption {
	return func(e *engine) {
		e.frameLimit = frameInterval(fps)
	}
}

// WithMaxFrames stops the engine after n frames. 0 runs until Quit.
//
// Parameters:
//   - n: the frame budget
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithMaxFrames(n uint64) EngineBuilderOption {
	return func(e *engine) {
		e.maxFrames = n
	}
}

// WithStopOnError makes a failed frame end the run instead of being logged and skipped.
//
// Parameters:
//   - enabled: if true, the first failed frame stops the engine
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithStopOnError(enabled bool) EngineBuilderOption {
	return func(e *engine) {
		e.stopOnError = enabled
	}
}

// WithSystem appends a system to the frame during engine construction.
//
// Parameters:
//   - s: the System to register
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithSystem(s System) EngineBuilderOption {
	return func(e *engine) {
		e.systems = append(e.systems, s)
	}
}
