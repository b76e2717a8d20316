package playback

import "github.com/cockroachdb/errors"

// Failure taxonomy. Engine errors are marked with these sentinels so callers
// can test them with errors.Is.
var (
	ErrNoStreamURL          = errors.New("no playable stream url")
	ErrEngineCreateFailed   = errors.New("engine create failed")
	ErrEngineLoadFailed     = errors.New("engine load failed")
	ErrEnginePlaybackFailed = errors.New("engine playback failed")
	ErrSeekFailed           = errors.New("seek failed")
	ErrReleased             = errors.New("controller released")
)
