package playback

// EventType represents a playback event type.
type EventType int

const (
	EventTrackStarted   EventType = iota // A new track was loaded and started
	EventStateChanged                    // Play/pause/seek/loading changed
	EventProgress                        // Engine tick
	EventQueueChanged                    // Queue replaced or spliced
	EventPlaybackFailed                  // An operation failed; Err is set
	EventCleared                         // Session reset to idle
)

// String returns the string representation of the event type.
func (e EventType) String() string {
	switch e {
	case EventTrackStarted:
		return "track_started"
	case EventStateChanged:
		return "state_changed"
	case EventProgress:
		return "progress"
	case EventQueueChanged:
		return "queue_changed"
	case EventPlaybackFailed:
		return "playback_failed"
	case EventCleared:
		return "cleared"
	default:
		return "unknown"
	}
}

// Event represents a playback event.
type Event struct {
	Type    EventType
	Session Session // Snapshot taken when the event was emitted
	Err     error   // Set for EventPlaybackFailed
}
