package playback

import "context"

// EngineStatus is one asynchronous status report from the engine.
type EngineStatus struct {
	Position float64 // Seconds into the current source
	Duration float64 // Measured length in seconds, 0 if unknown
	Playing  bool
	Source   string // URL the report refers to, empty if the engine cannot tell
}

// Engine is the audio backend capability set.
// A Controller owns exactly one Engine for its whole lifetime and replaces
// its source instead of creating new engines.
type Engine interface {
	// AttachSource loads url as the engine's only source.
	AttachSource(ctx context.Context, url string) error
	Play(ctx context.Context) error
	Pause(ctx context.Context) error
	Stop(ctx context.Context) error
	// Release unloads the current source.
	Release(ctx context.Context) error
	Seek(ctx context.Context, seconds float64) error
	// Playing reports whether the engine is currently producing audio.
	Playing() bool
	// OnStatus registers the status callback. Engines must not hold their
	// own locks while invoking it.
	OnStatus(fn func(EngineStatus))
	// Close tears the engine down.
	Close() error
}

// SessionOptions is the device-level audio session configuration.
type SessionOptions struct {
	AllowSilentPlayback     bool
	AllowBackgroundPlayback bool
	ExclusiveWithOtherApps  bool
}

// SessionConfigurer is implemented by engines that can apply SessionOptions.
type SessionConfigurer interface {
	ConfigureSession(ctx context.Context, opts SessionOptions) error
}
