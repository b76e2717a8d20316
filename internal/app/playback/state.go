// Package playback provides the playback controller that drives the audio
// engine through track transitions, transport controls and status ticks.
package playback

import (
	"github.com/cockroachdb/errors"

	"github.com/osa030/nowplaying/internal/domain/track"
)

// State represents the playback state.
type State int

const (
	StateIdle     State = iota // No track loaded
	StateLoading               // A source is being attached
	StatePlaying               // Track is playing
	StatePaused                // Track is loaded but paused
	StateReleased              // Controller closed
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateReleased:
		return "released"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name written by MarshalText.
func (s *State) UnmarshalText(text []byte) error {
	for st := StateIdle; st <= StateReleased; st++ {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return errors.Newf("unknown playback state %q", text)
}

// Session is a read-only snapshot of the playback session.
type Session struct {
	State              State        `json:"state"`
	CurrentTrack       *track.Track `json:"current_track,omitempty"`
	IsPlaying          bool         `json:"is_playing"`
	IsLoading          bool         `json:"is_loading"`
	IsTransitioning    bool         `json:"is_transitioning"`
	CurrentTimeSeconds int          `json:"current_time_seconds"`
	DurationSeconds    int          `json:"duration_seconds"`
	QueueIndex         int          `json:"queue_index"`
	QueueLength        int          `json:"queue_length"`
}
