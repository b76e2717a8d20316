//go:build !((linux && cgo) || windows || darwin)

package beep

import "time"

// Available reports whether this build can play audio.
// Audio output needs cgo on this platform.
const Available = false

// New always fails without an audio output.
func New(settings Settings, interval time.Duration) (*Engine, error) {
	return nil, ErrUnavailable
}
