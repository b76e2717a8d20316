// Package session provides the session manager that owns the audio engine
// and connects the playback controller to its observers.
package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/nowplaying/internal/app/notification"
	"github.com/osa030/nowplaying/internal/app/playback"
	"github.com/osa030/nowplaying/internal/infra/config"
	"github.com/osa030/nowplaying/internal/infra/history"
)

const (
	closeTimeout  = 5 * time.Second
	recordTimeout = 2 * time.Second
)

// EngineFactory creates the audio engine. It is called once per manager.
type EngineFactory func(cfg *config.Config) (playback.Engine, error)

// Recorder stores played tracks.
type Recorder interface {
	Record(ctx context.Context, e history.Entry) error
}

// Manager owns the engine and the playback controller for one daemon run.
type Manager struct {
	id     string
	config *config.Config

	engine       playback.Engine
	playback     *playback.Controller
	notification *notification.Manager
	recorder     Recorder

	startOnce sync.Once
	closeOnce sync.Once
	done      chan struct{}
}

// NewManager creates the engine through newEngine and wraps it in a
// playback controller. recorder may be nil.
func NewManager(cfg *config.Config, newEngine EngineFactory, recorder Recorder) (*Manager, error) {
	engine, err := newEngine(cfg)
	if err != nil {
		return nil, errors.Mark(err, playback.ErrEngineCreateFailed)
	}

	ctrl := playback.NewController(engine, playback.Config{
		PreferredQuality: cfg.Player.PreferredQuality,
		LoadRetries:      cfg.Retries(),
		RetryDelay:       cfg.RetryDelay(),
		EventBuffer:      cfg.Player.EventBuffer,
		Session: playback.SessionOptions{
			AllowSilentPlayback:     cfg.Player.Session.SilentAllowed(),
			AllowBackgroundPlayback: cfg.Player.Session.BackgroundAllowed(),
			ExclusiveWithOtherApps:  cfg.Player.Session.IsExclusive(),
		},
	})

	m := &Manager{
		id:           uuid.New().String(),
		config:       cfg,
		engine:       engine,
		playback:     ctrl,
		notification: notification.NewManager(),
		recorder:     recorder,
		done:         make(chan struct{}),
	}
	zlog.Info().Msgf("session created: session_id=%s engine=%s", m.id, cfg.Engine.Type)
	return m, nil
}

// ID returns the session ID.
func (m *Manager) ID() string {
	return m.id
}

// Start begins forwarding playback events.
func (m *Manager) Start() {
	m.startOnce.Do(func() {
		go func() {
			defer close(m.done)
			m.playbackLoop()
		}()
	})
}

// Done is closed once the session is closed and its events are drained.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

// Playback returns the playback controller.
func (m *Manager) Playback() *playback.Controller {
	return m.playback
}

// GetNotificationManager returns the notification manager.
func (m *Manager) GetNotificationManager() *notification.Manager {
	return m.notification
}

// Snapshot returns the current session as a notification, for new subscribers.
func (m *Manager) Snapshot() *notification.Notification {
	return &notification.Notification{
		Type:    "snapshot",
		Session: m.playback.Snapshot(),
	}
}

// playbackLoop forwards controller events until the event channel closes.
func (m *Manager) playbackLoop() {
	for event := range m.playback.Events() {
		m.handleEventSafely(event)
	}
	zlog.Debug().Msgf("playback loop finished: session_id=%s", m.id)
}

func (m *Manager) handleEventSafely(event playback.Event) {
	defer func() {
		if r := recover(); r != nil {
			zlog.Error().Msgf("playback event handler panicked: type=%s err=%v", event.Type, r)
		}
	}()
	m.handlePlaybackEvent(event)
}

// handlePlaybackEvent handles playback events.
func (m *Manager) handlePlaybackEvent(event playback.Event) {
	if event.Type != playback.EventProgress {
		zlog.Info().Msgf("playback event: type=%s state=%s", event.Type, event.Session.State)
	}

	switch event.Type {
	case playback.EventTrackStarted:
		m.onTrackStarted(event.Session)
	case playback.EventPlaybackFailed:
		zlog.Warn().Msgf("playback failed: err=%v", event.Err)
	}

	m.notification.Broadcast(notification.FromEvent(event))
}

func (m *Manager) onTrackStarted(s playback.Session) {
	t := s.CurrentTrack
	if t == nil || m.recorder == nil {
		return
	}
	url, _ := t.ResolveStreamURL(m.config.Player.PreferredQuality)

	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	if err := m.recorder.Record(ctx, history.Entry{
		TrackID:   t.ID,
		Name:      t.Name,
		Artists:   strings.Join(t.Artists, ", "),
		SourceURL: url,
		StartedAt: time.Now(),
	}); err != nil {
		zlog.Error().Msgf("failed to record history: track_id=%s err=%v", t.ID, err)
	}
}

// Close releases the playback source, drains pending events and closes the
// engine. Only the first call has an effect.
func (m *Manager) Close(ctx context.Context) error {
	var err error
	m.closeOnce.Do(func() {
		zlog.Info().Msgf("closing session: session_id=%s", m.id)

		if cerr := m.playback.Close(ctx); cerr != nil {
			err = errors.CombineErrors(err, errors.Wrap(cerr, "failed to close playback"))
		}

		m.Start() // drains events if the loop never ran
		select {
		case <-m.done:
		case <-time.After(closeTimeout):
			zlog.Warn().Msg("playback loop did not finish in time")
		}

		if cerr := m.engine.Close(); cerr != nil {
			err = errors.CombineErrors(err, errors.Wrap(cerr, "failed to close engine"))
		}
		m.notification.Close()
	})
	return err
}
