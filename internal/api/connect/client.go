package connect

import (
	"context"
	"net/http"
	"strings"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/emptypb"

	"github.com/osa030/nowplaying/internal/app/notification"
	"github.com/osa030/nowplaying/internal/domain/track"
)

// PlayerClient is a client for the PlayerService RPC.
type PlayerClient struct {
	playTrack       *connect.Client[PlayTrackRequest, SessionResponse]
	playQueue       *connect.Client[PlayQueueRequest, SessionResponse]
	togglePlayPause *connect.Client[emptypb.Empty, SessionResponse]
	next            *connect.Client[emptypb.Empty, SessionResponse]
	previous        *connect.Client[emptypb.Empty, SessionResponse]
	seekTo          *connect.Client[SeekToRequest, SessionResponse]
	setQueue        *connect.Client[SetQueueRequest, SessionResponse]
	insertNext      *connect.Client[TracksRequest, SessionResponse]
	appendTracks    *connect.Client[TracksRequest, SessionResponse]
	clearQueue      *connect.Client[emptypb.Empty, SessionResponse]
	clear           *connect.Client[emptypb.Empty, SessionResponse]
	getSession      *connect.Client[emptypb.Empty, SessionResponse]
	watchSession    *connect.Client[emptypb.Empty, notification.Notification]
	history         *connect.Client[HistoryRequest, HistoryResponse]
}

// NewPlayerClient creates a client for the service at baseURL.
func NewPlayerClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *PlayerClient {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = append([]connect.ClientOption{connect.WithCodec(jsonCodec{})}, opts...)
	return &PlayerClient{
		playTrack:       connect.NewClient[PlayTrackRequest, SessionResponse](httpClient, baseURL+PlayerServicePlayTrackProcedure, opts...),
		playQueue:       connect.NewClient[PlayQueueRequest, SessionResponse](httpClient, baseURL+PlayerServicePlayQueueProcedure, opts...),
		togglePlayPause: connect.NewClient[emptypb.Empty, SessionResponse](httpClient, baseURL+PlayerServiceTogglePlayPauseProcedure, opts...),
		next:            connect.NewClient[emptypb.Empty, SessionResponse](httpClient, baseURL+PlayerServiceNextProcedure, opts...),
		previous:        connect.NewClient[emptypb.Empty, SessionResponse](httpClient, baseURL+PlayerServicePreviousProcedure, opts...),
		seekTo:          connect.NewClient[SeekToRequest, SessionResponse](httpClient, baseURL+PlayerServiceSeekToProcedure, opts...),
		setQueue:        connect.NewClient[SetQueueRequest, SessionResponse](httpClient, baseURL+PlayerServiceSetQueueProcedure, opts...),
		insertNext:      connect.NewClient[TracksRequest, SessionResponse](httpClient, baseURL+PlayerServiceInsertNextProcedure, opts...),
		appendTracks:    connect.NewClient[TracksRequest, SessionResponse](httpClient, baseURL+PlayerServiceAppendProcedure, opts...),
		clearQueue:      connect.NewClient[emptypb.Empty, SessionResponse](httpClient, baseURL+PlayerServiceClearQueueProcedure, opts...),
		clear:           connect.NewClient[emptypb.Empty, SessionResponse](httpClient, baseURL+PlayerServiceClearProcedure, opts...),
		getSession:      connect.NewClient[emptypb.Empty, SessionResponse](httpClient, baseURL+PlayerServiceGetSessionProcedure, opts...),
		watchSession:    connect.NewClient[emptypb.Empty, notification.Notification](httpClient, baseURL+PlayerServiceWatchSessionProcedure, opts...),
		history:         connect.NewClient[HistoryRequest, HistoryResponse](httpClient, baseURL+PlayerServiceHistoryProcedure, opts...),
	}
}

// NewDefaultPlayerClient creates a client using http.DefaultClient and token.
func NewDefaultPlayerClient(baseURL, token string) *PlayerClient {
	return NewPlayerClient(http.DefaultClient, baseURL, connect.WithInterceptors(WithToken(token)))
}

func unwrap(res *connect.Response[SessionResponse], err error) (*SessionResponse, error) {
	if err != nil {
		return nil, err
	}
	return res.Msg, nil
}

// PlayTrack plays t. A non-nil queueContext replaces the queue.
func (c *PlayerClient) PlayTrack(ctx context.Context, t track.Track, queueContext []track.Track) (*SessionResponse, error) {
	return unwrap(c.playTrack.CallUnary(ctx, connect.NewRequest(&PlayTrackRequest{Track: t, QueueContext: queueContext})))
}

// PlayQueue replaces the queue and plays its first track.
func (c *PlayerClient) PlayQueue(ctx context.Context, tracks []track.Track, shuffle bool) (*SessionResponse, error) {
	return unwrap(c.playQueue.CallUnary(ctx, connect.NewRequest(&PlayQueueRequest{Tracks: tracks, Shuffle: shuffle})))
}

// TogglePlayPause toggles the loaded track.
func (c *PlayerClient) TogglePlayPause(ctx context.Context) (*SessionResponse, error) {
	return unwrap(c.togglePlayPause.CallUnary(ctx, connect.NewRequest(&emptypb.Empty{})))
}

// Next moves to the next track.
func (c *PlayerClient) Next(ctx context.Context) (*SessionResponse, error) {
	return unwrap(c.next.CallUnary(ctx, connect.NewRequest(&emptypb.Empty{})))
}

// Previous moves to the previous track.
func (c *PlayerClient) Previous(ctx context.Context) (*SessionResponse, error) {
	return unwrap(c.previous.CallUnary(ctx, connect.NewRequest(&emptypb.Empty{})))
}

// SeekTo seeks the loaded track.
func (c *PlayerClient) SeekTo(ctx context.Context, seconds float64) (*SessionResponse, error) {
	return unwrap(c.seekTo.CallUnary(ctx, connect.NewRequest(&SeekToRequest{Seconds: seconds})))
}

// SetQueue replaces the queue.
func (c *PlayerClient) SetQueue(ctx context.Context, tracks []track.Track, startIndex int) (*SessionResponse, error) {
	return unwrap(c.setQueue.CallUnary(ctx, connect.NewRequest(&SetQueueRequest{Tracks: tracks, StartIndex: startIndex})))
}

// InsertNext queues tracks after the current one.
func (c *PlayerClient) InsertNext(ctx context.Context, tracks []track.Track) (*SessionResponse, error) {
	return unwrap(c.insertNext.CallUnary(ctx, connect.NewRequest(&TracksRequest{Tracks: tracks})))
}

// Append adds tracks to the end of the queue.
func (c *PlayerClient) Append(ctx context.Context, tracks []track.Track) (*SessionResponse, error) {
	return unwrap(c.appendTracks.CallUnary(ctx, connect.NewRequest(&TracksRequest{Tracks: tracks})))
}

// ClearQueue empties the queue.
func (c *PlayerClient) ClearQueue(ctx context.Context) (*SessionResponse, error) {
	return unwrap(c.clearQueue.CallUnary(ctx, connect.NewRequest(&emptypb.Empty{})))
}

// Clear stops playback and resets the session.
func (c *PlayerClient) Clear(ctx context.Context) (*SessionResponse, error) {
	return unwrap(c.clear.CallUnary(ctx, connect.NewRequest(&emptypb.Empty{})))
}

// GetSession returns the current session.
func (c *PlayerClient) GetSession(ctx context.Context) (*SessionResponse, error) {
	return unwrap(c.getSession.CallUnary(ctx, connect.NewRequest(&emptypb.Empty{})))
}

// WatchSession opens the session notification stream.
func (c *PlayerClient) WatchSession(ctx context.Context) (*connect.ServerStreamForClient[notification.Notification], error) {
	return c.watchSession.CallServerStream(ctx, connect.NewRequest(&emptypb.Empty{}))
}

// History returns up to limit recent plays.
func (c *PlayerClient) History(ctx context.Context, limit int) (*HistoryResponse, error) {
	res, err := c.history.CallUnary(ctx, connect.NewRequest(&HistoryRequest{Limit: limit}))
	if err != nil {
		return nil, err
	}
	return res.Msg, nil
}
