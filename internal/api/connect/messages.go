package connect

import (
	"github.com/osa030/nowplaying/internal/app/playback"
	"github.com/osa030/nowplaying/internal/domain/track"
	"github.com/osa030/nowplaying/internal/infra/history"
)

const (
	// PlayerServiceName is the fully-qualified name of the PlayerService service.
	PlayerServiceName = "nowplaying.v1.PlayerService"

	PlayerServicePlayTrackProcedure       = "/nowplaying.v1.PlayerService/PlayTrack"
	PlayerServicePlayQueueProcedure       = "/nowplaying.v1.PlayerService/PlayQueue"
	PlayerServiceTogglePlayPauseProcedure = "/nowplaying.v1.PlayerService/TogglePlayPause"
	PlayerServiceNextProcedure            = "/nowplaying.v1.PlayerService/Next"
	PlayerServicePreviousProcedure        = "/nowplaying.v1.PlayerService/Previous"
	PlayerServiceSeekToProcedure          = "/nowplaying.v1.PlayerService/SeekTo"
	PlayerServiceSetQueueProcedure        = "/nowplaying.v1.PlayerService/SetQueue"
	PlayerServiceInsertNextProcedure      = "/nowplaying.v1.PlayerService/InsertNext"
	PlayerServiceAppendProcedure          = "/nowplaying.v1.PlayerService/Append"
	PlayerServiceClearQueueProcedure      = "/nowplaying.v1.PlayerService/ClearQueue"
	PlayerServiceClearProcedure           = "/nowplaying.v1.PlayerService/Clear"
	PlayerServiceGetSessionProcedure      = "/nowplaying.v1.PlayerService/GetSession"
	PlayerServiceWatchSessionProcedure    = "/nowplaying.v1.PlayerService/WatchSession"
	PlayerServiceHistoryProcedure         = "/nowplaying.v1.PlayerService/History"
)

// PlayTrackRequest plays Track. QueueContext, when set, replaces the queue.
type PlayTrackRequest struct {
	Track        track.Track   `json:"track"`
	QueueContext []track.Track `json:"queue_context,omitempty" validate:"dive"`
}

// PlayQueueRequest replaces the queue and plays its first track.
type PlayQueueRequest struct {
	Tracks  []track.Track `json:"tracks" validate:"dive"`
	Shuffle bool          `json:"shuffle"`
}

// SeekToRequest seeks the loaded track. Negative values seek to 0.
type SeekToRequest struct {
	Seconds float64 `json:"seconds"`
}

// SetQueueRequest replaces the queue without touching playback.
type SetQueueRequest struct {
	Tracks     []track.Track `json:"tracks" validate:"dive"`
	StartIndex int           `json:"start_index"`
}

// TracksRequest carries tracks for InsertNext and Append.
type TracksRequest struct {
	Tracks []track.Track `json:"tracks" validate:"required,dive"`
}

// SessionResponse is the session after the call.
type SessionResponse struct {
	Session playback.Session `json:"session"`
	Queue   []track.Track    `json:"queue,omitempty"`
}

// HistoryRequest asks for recent plays.
type HistoryRequest struct {
	Limit int `json:"limit" validate:"gte=0,lte=1000"`
}

// HistoryResponse lists recent plays, newest first.
type HistoryResponse struct {
	Entries []history.Entry `json:"entries"`
}
