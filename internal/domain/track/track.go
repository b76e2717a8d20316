// Package track provides the Track domain entity.
package track

import (
	"strconv"
	"strings"
)

// DefaultQuality is the stream quality requested when none is configured.
const DefaultQuality = "160kbps"

// StreamCandidate is one quality-labelled stream URL of a track.
type StreamCandidate struct {
	Quality string `json:"quality"` // e.g. "96kbps", "320kbps"
	URL     string `json:"url"`
}

// Track represents a playable catalog item.
// Contains only information delivered by the catalog collaborator.
type Track struct {
	ID               string            `json:"id" validate:"required"`            // Catalog track ID
	Name             string            `json:"name"`                              // Track name
	Artists          []string          `json:"artists,omitempty"`                 // Artist names
	Album            string            `json:"album,omitempty"`                   // Album name
	ImageURL         string            `json:"image_url,omitempty"`
	DurationSeconds  int               `json:"duration_seconds" validate:"gte=0"` // Nominal length reported by the catalog
	StreamCandidates []StreamCandidate `json:"stream_candidates"`                 // Ordered lowest to highest quality
}

// ResolveStreamURL picks the URL to play for the preferred quality.
// An exact quality match wins; otherwise the highest-quality candidate that
// has a URL is used. Returns false if no candidate carries a URL.
func (t *Track) ResolveStreamURL(preferred string) (string, bool) {
	if len(t.StreamCandidates) == 0 {
		return "", false
	}

	for _, c := range t.StreamCandidates {
		if c.Quality == preferred && c.URL != "" {
			return c.URL, true
		}
	}

	best := -1
	bestRank := -1
	for i, c := range t.StreamCandidates {
		if c.URL == "" {
			continue
		}
		rank := qualityRank(c.Quality, i)
		if rank >= bestRank {
			best = i
			bestRank = rank
		}
	}
	if best < 0 {
		return "", false
	}
	return t.StreamCandidates[best].URL, true
}

// qualityRank orders candidates by the bitrate in their label.
// Labels without a number rank by list position, below any parsed bitrate.
func qualityRank(quality string, position int) int {
	digits := strings.TrimRightFunc(strings.ToLower(strings.TrimSpace(quality)), func(r rune) bool {
		return r < '0' || r > '9'
	})
	if kbps, err := strconv.Atoi(digits); err == nil && kbps >= 0 {
		return kbps << 16
	}
	return position
}

// Playable reports whether the track has at least one stream URL.
func (t *Track) Playable() bool {
	_, ok := t.ResolveStreamURL("")
	return ok
}
