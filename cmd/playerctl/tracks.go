package main

import (
	"os"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/osa030/nowplaying/internal/domain/track"
)

// trackFile is the on-disk track list. Either a bare list or {tracks: [...]}
// is accepted, in YAML or JSON.
type trackFile struct {
	Tracks []track.Track `json:"tracks" validate:"dive"`
}

// loadTracks reads track records from path.
func loadTracks(path string) ([]track.Track, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", path)
	}
	return parseTracks(data)
}

// parseTracks decodes track records. Field names follow the JSON wire names
// so the same file can be sent to the API unchanged.
func parseTracks(data []byte) ([]track.Track, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrap(err, "failed to parse track file")
	}
	if list, ok := raw.([]any); ok {
		raw = map[string]any{"tracks": list}
	}

	var out trackFile
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &out,
		TagName:          "json",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create decoder")
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, errors.Wrap(err, "failed to decode tracks")
	}
	if len(out.Tracks) == 0 {
		return nil, errors.New("track file contains no tracks")
	}
	if err := validator.New().Struct(out); err != nil {
		return nil, errors.Wrap(err, "invalid track")
	}
	return out.Tracks, nil
}

// adHocTrack builds a single-candidate track from command-line values.
func adHocTrack(id, url, name string, duration int) track.Track {
	if name == "" {
		name = id
	}
	return track.Track{
		ID:              id,
		Name:            name,
		DurationSeconds: duration,
		StreamCandidates: []track.StreamCandidate{
			{Quality: track.DefaultQuality, URL: url},
		},
	}
}
