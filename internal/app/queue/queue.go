// Package queue provides the ordered playback queue and its current position.
package queue

import (
	"github.com/samber/lo"

	"github.com/osa030/nowplaying/internal/domain/track"
)

// Manager keeps the playback queue and the current index.
// It performs no I/O and no locking; the owner serializes access.
type Manager struct {
	tracks []track.Track
	index  int
}

// New creates an empty queue.
func New() *Manager {
	return &Manager{tracks: make([]track.Track, 0)}
}

// Set replaces the queue and positions it at startIndex.
// Out-of-range start indexes clamp to 0.
func (m *Manager) Set(tracks []track.Track, startIndex int) (track.Track, bool) {
	m.tracks = append(make([]track.Track, 0, len(tracks)), tracks...)
	m.index = 0
	if startIndex >= 0 && startIndex < len(m.tracks) {
		m.index = startIndex
	}
	return m.Current()
}

// InsertNext splices tracks right after the current position.
func (m *Manager) InsertNext(tracks []track.Track) {
	if len(tracks) == 0 {
		return
	}
	if len(m.tracks) == 0 {
		m.Set(tracks, 0)
		return
	}

	at := m.index + 1
	merged := make([]track.Track, 0, len(m.tracks)+len(tracks))
	merged = append(merged, m.tracks[:at]...)
	merged = append(merged, tracks...)
	merged = append(merged, m.tracks[at:]...)
	m.tracks = merged
}

// Append adds tracks to the end of the queue.
func (m *Manager) Append(tracks []track.Track) {
	m.tracks = append(m.tracks, tracks...)
}

// Advance moves one step forward, wrapping to the start.
func (m *Manager) Advance() (track.Track, bool) {
	idx, _, ok := m.PeekNext()
	if !ok {
		return track.Track{}, false
	}
	m.index = idx
	return m.Current()
}

// Retreat moves one step back, wrapping to the end.
func (m *Manager) Retreat() (track.Track, bool) {
	idx, _, ok := m.PeekPrevious()
	if !ok {
		return track.Track{}, false
	}
	m.index = idx
	return m.Current()
}

// PeekNext returns the position Advance would move to.
func (m *Manager) PeekNext() (int, track.Track, bool) {
	if len(m.tracks) == 0 {
		return 0, track.Track{}, false
	}
	idx := (m.index + 1) % len(m.tracks)
	return idx, m.tracks[idx], true
}

// PeekPrevious returns the position Retreat would move to.
func (m *Manager) PeekPrevious() (int, track.Track, bool) {
	if len(m.tracks) == 0 {
		return 0, track.Track{}, false
	}
	idx := m.index - 1
	if m.index == 0 {
		idx = len(m.tracks) - 1
	}
	return idx, m.tracks[idx], true
}

// MoveTo positions the queue on the track with the given id.
// The hint index is used when it still holds that track, which keeps
// duplicates stable; otherwise the first occurrence is used.
func (m *Manager) MoveTo(hint int, id string) bool {
	if hint >= 0 && hint < len(m.tracks) && m.tracks[hint].ID == id {
		m.index = hint
		return true
	}
	idx := m.IndexOf(id)
	if idx < 0 {
		return false
	}
	m.index = idx
	return true
}

// IndexOf returns the position of the first track with the id, or -1.
func (m *Manager) IndexOf(id string) int {
	_, idx, ok := lo.FindIndexOf(m.tracks, func(t track.Track) bool {
		return t.ID == id
	})
	if !ok {
		return -1
	}
	return idx
}

// Current returns the track at the current position.
func (m *Manager) Current() (track.Track, bool) {
	if len(m.tracks) == 0 {
		return track.Track{}, false
	}
	return m.tracks[m.index], true
}

// Index returns the current position. It is 0 for an empty queue.
func (m *Manager) Index() int {
	return m.index
}

// Len returns the number of queued tracks.
func (m *Manager) Len() int {
	return len(m.tracks)
}

// Tracks returns a copy of the queued tracks.
func (m *Manager) Tracks() []track.Track {
	result := make([]track.Track, len(m.tracks))
	copy(result, m.tracks)
	return result
}

// Clear empties the queue.
func (m *Manager) Clear() {
	m.tracks = make([]track.Track, 0)
	m.index = 0
}
