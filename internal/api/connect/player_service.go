package connect

import (
	"context"
	"net/http"
	"sync"

	"connectrpc.com/connect"
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	"google.golang.org/protobuf/types/known/emptypb"

	"github.com/osa030/nowplaying/internal/app/notification"
	"github.com/osa030/nowplaying/internal/app/session"
	"github.com/osa030/nowplaying/internal/infra/history"
)

const defaultHistoryLimit = 50

var errHistoryDisabled = errors.New("history is disabled")

// HistoryReader lists recent plays.
type HistoryReader interface {
	Recent(ctx context.Context, limit int) ([]history.Entry, error)
}

// PlayerService implements the PlayerService RPC.
type PlayerService struct {
	session *session.Manager
	history HistoryReader
}

// NewPlayerService creates a new PlayerService. history may be nil.
func NewPlayerService(session *session.Manager, history HistoryReader) *PlayerService {
	return &PlayerService{
		session: session,
		history: history,
	}
}

// Handler builds the HTTP handler serving every PlayerService procedure.
// It returns the path prefix to mount it on.
func (s *PlayerService) Handler(opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithCodec(jsonCodec{})}, opts...)

	mux := http.NewServeMux()
	mux.Handle(PlayerServicePlayTrackProcedure, connect.NewUnaryHandler(PlayerServicePlayTrackProcedure, s.PlayTrack, opts...))
	mux.Handle(PlayerServicePlayQueueProcedure, connect.NewUnaryHandler(PlayerServicePlayQueueProcedure, s.PlayQueue, opts...))
	mux.Handle(PlayerServiceTogglePlayPauseProcedure, connect.NewUnaryHandler(PlayerServiceTogglePlayPauseProcedure, s.TogglePlayPause, opts...))
	mux.Handle(PlayerServiceNextProcedure, connect.NewUnaryHandler(PlayerServiceNextProcedure, s.Next, opts...))
	mux.Handle(PlayerServicePreviousProcedure, connect.NewUnaryHandler(PlayerServicePreviousProcedure, s.Previous, opts...))
	mux.Handle(PlayerServiceSeekToProcedure, connect.NewUnaryHandler(PlayerServiceSeekToProcedure, s.SeekTo, opts...))
	mux.Handle(PlayerServiceSetQueueProcedure, connect.NewUnaryHandler(PlayerServiceSetQueueProcedure, s.SetQueue, opts...))
	mux.Handle(PlayerServiceInsertNextProcedure, connect.NewUnaryHandler(PlayerServiceInsertNextProcedure, s.InsertNext, opts...))
	mux.Handle(PlayerServiceAppendProcedure, connect.NewUnaryHandler(PlayerServiceAppendProcedure, s.Append, opts...))
	mux.Handle(PlayerServiceClearQueueProcedure, connect.NewUnaryHandler(PlayerServiceClearQueueProcedure, s.ClearQueue, opts...))
	mux.Handle(PlayerServiceClearProcedure, connect.NewUnaryHandler(PlayerServiceClearProcedure, s.Clear, opts...))
	mux.Handle(PlayerServiceGetSessionProcedure, connect.NewUnaryHandler(PlayerServiceGetSessionProcedure, s.GetSession, opts...))
	mux.Handle(PlayerServiceWatchSessionProcedure, connect.NewServerStreamHandler(PlayerServiceWatchSessionProcedure, s.WatchSession, opts...))
	mux.Handle(PlayerServiceHistoryProcedure, connect.NewUnaryHandler(PlayerServiceHistoryProcedure, s.History, opts...))

	return "/" + PlayerServiceName + "/", mux
}

// sessionResponse returns the current session and queue.
func (s *PlayerService) sessionResponse() *connect.Response[SessionResponse] {
	ctrl := s.session.Playback()
	queue, _ := ctrl.Queue()
	return connect.NewResponse(&SessionResponse{
		Session: ctrl.Snapshot(),
		Queue:   queue,
	})
}

// PlayTrack plays a track, optionally replacing the queue.
func (s *PlayerService) PlayTrack(
	ctx context.Context,
	req *connect.Request[PlayTrackRequest],
) (*connect.Response[SessionResponse], error) {
	if err := validateRequest(req.Msg); err != nil {
		return nil, err
	}
	if err := s.session.Playback().PlayTrack(ctx, req.Msg.Track, req.Msg.QueueContext); err != nil {
		return nil, toConnectError(err)
	}
	return s.sessionResponse(), nil
}

// PlayQueue replaces the queue and starts its first track.
func (s *PlayerService) PlayQueue(
	ctx context.Context,
	req *connect.Request[PlayQueueRequest],
) (*connect.Response[SessionResponse], error) {
	if err := validateRequest(req.Msg); err != nil {
		return nil, err
	}
	if err := s.session.Playback().PlayQueue(ctx, req.Msg.Tracks, req.Msg.Shuffle); err != nil {
		return nil, toConnectError(err)
	}
	return s.sessionResponse(), nil
}

// TogglePlayPause toggles the loaded track.
func (s *PlayerService) TogglePlayPause(
	ctx context.Context,
	_ *connect.Request[emptypb.Empty],
) (*connect.Response[SessionResponse], error) {
	if err := s.session.Playback().TogglePlayPause(ctx); err != nil {
		return nil, toConnectError(err)
	}
	return s.sessionResponse(), nil
}

// Next moves to the next queued track.
func (s *PlayerService) Next(
	ctx context.Context,
	_ *connect.Request[emptypb.Empty],
) (*connect.Response[SessionResponse], error) {
	if err := s.session.Playback().Next(ctx); err != nil {
		return nil, toConnectError(err)
	}
	return s.sessionResponse(), nil
}

// Previous moves to the previous queued track.
func (s *PlayerService) Previous(
	ctx context.Context,
	_ *connect.Request[emptypb.Empty],
) (*connect.Response[SessionResponse], error) {
	if err := s.session.Playback().Previous(ctx); err != nil {
		return nil, toConnectError(err)
	}
	return s.sessionResponse(), nil
}

// SeekTo seeks the loaded track.
func (s *PlayerService) SeekTo(
	ctx context.Context,
	req *connect.Request[SeekToRequest],
) (*connect.Response[SessionResponse], error) {
	if err := s.session.Playback().SeekTo(ctx, req.Msg.Seconds); err != nil {
		return nil, toConnectError(err)
	}
	return s.sessionResponse(), nil
}

// SetQueue replaces the queue without touching playback.
func (s *PlayerService) SetQueue(
	_ context.Context,
	req *connect.Request[SetQueueRequest],
) (*connect.Response[SessionResponse], error) {
	if err := validateRequest(req.Msg); err != nil {
		return nil, err
	}
	s.session.Playback().SetQueue(req.Msg.Tracks, req.Msg.StartIndex)
	return s.sessionResponse(), nil
}

// InsertNext queues tracks after the current one.
func (s *PlayerService) InsertNext(
	_ context.Context,
	req *connect.Request[TracksRequest],
) (*connect.Response[SessionResponse], error) {
	if err := validateRequest(req.Msg); err != nil {
		return nil, err
	}
	s.session.Playback().InsertNext(req.Msg.Tracks)
	return s.sessionResponse(), nil
}

// Append adds tracks to the end of the queue.
func (s *PlayerService) Append(
	_ context.Context,
	req *connect.Request[TracksRequest],
) (*connect.Response[SessionResponse], error) {
	if err := validateRequest(req.Msg); err != nil {
		return nil, err
	}
	s.session.Playback().Append(req.Msg.Tracks)
	return s.sessionResponse(), nil
}

// ClearQueue empties the queue.
func (s *PlayerService) ClearQueue(
	_ context.Context,
	_ *connect.Request[emptypb.Empty],
) (*connect.Response[SessionResponse], error) {
	s.session.Playback().ClearQueue()
	return s.sessionResponse(), nil
}

// Clear stops playback and resets the session to idle.
func (s *PlayerService) Clear(
	ctx context.Context,
	_ *connect.Request[emptypb.Empty],
) (*connect.Response[SessionResponse], error) {
	if err := s.session.Playback().Clear(ctx); err != nil {
		return nil, toConnectError(err)
	}
	return s.sessionResponse(), nil
}

// GetSession returns the current session and queue.
func (s *PlayerService) GetSession(
	_ context.Context,
	_ *connect.Request[emptypb.Empty],
) (*connect.Response[SessionResponse], error) {
	return s.sessionResponse(), nil
}

// WatchSession streams a snapshot followed by every session notification.
func (s *PlayerService) WatchSession(
	ctx context.Context,
	_ *connect.Request[emptypb.Empty],
	stream *connect.ServerStream[notification.Notification],
) error {
	notifManager := s.session.GetNotificationManager()

	snapshot := s.session.Snapshot()
	snapshot.SequenceNo = notifManager.NextSequenceNo()
	if err := stream.Send(snapshot); err != nil {
		return err
	}

	adapter := &notificationStreamAdapter{stream: stream}
	subscriptionID := notifManager.Subscribe(adapter)
	zlog.Debug().Msgf("watch session started: subscription_id=%s", subscriptionID)

	select {
	case <-ctx.Done():
	case <-s.session.Done():
	}

	notifManager.Unsubscribe(subscriptionID)
	adapter.close()
	return nil
}

// History returns recent plays, newest first.
func (s *PlayerService) History(
	ctx context.Context,
	req *connect.Request[HistoryRequest],
) (*connect.Response[HistoryResponse], error) {
	if s.history == nil {
		return nil, connect.NewError(connect.CodeUnimplemented, errHistoryDisabled)
	}
	if err := validateRequest(req.Msg); err != nil {
		return nil, err
	}
	limit := req.Msg.Limit
	if limit == 0 {
		limit = defaultHistoryLimit
	}
	entries, err := s.history.Recent(ctx, limit)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	return connect.NewResponse(&HistoryResponse{Entries: entries}), nil
}

// notificationStreamAdapter adapts connect.ServerStream to notification.Stream.
// Sends after close are dropped since the stream is gone once the handler returns.
type notificationStreamAdapter struct {
	mu     sync.Mutex
	stream *connect.ServerStream[notification.Notification]
	closed bool
}

func (a *notificationStreamAdapter) Send(n *notification.Notification) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	return a.stream.Send(n)
}

func (a *notificationStreamAdapter) close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
}
