package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/nowplaying/internal/app/notification"
	"github.com/osa030/nowplaying/internal/app/playback"
	"github.com/osa030/nowplaying/internal/domain/track"
	"github.com/osa030/nowplaying/internal/infra/config"
	"github.com/osa030/nowplaying/internal/infra/history"
)

type stubEngine struct {
	mu      sync.Mutex
	playing bool
	closed  int
}

func (e *stubEngine) AttachSource(context.Context, string) error { return nil }
func (e *stubEngine) Play(context.Context) error                 { e.set(true); return nil }
func (e *stubEngine) Pause(context.Context) error                { e.set(false); return nil }
func (e *stubEngine) Stop(context.Context) error                 { e.set(false); return nil }
func (e *stubEngine) Release(context.Context) error              { e.set(false); return nil }
func (e *stubEngine) Seek(context.Context, float64) error        { return nil }
func (e *stubEngine) OnStatus(func(playback.EngineStatus))       {}

func (e *stubEngine) Playing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.playing
}

func (e *stubEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed++
	return nil
}

func (e *stubEngine) set(p bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.playing = p
}

type memRecorder struct {
	mu      sync.Mutex
	entries []history.Entry
}

func (r *memRecorder) Record(_ context.Context, e history.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	return nil
}

func (r *memRecorder) Entries() []history.Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]history.Entry(nil), r.entries...)
}

func testConfig() *config.Config {
	cfg, err := config.Parse([]byte("engine:\n  type: beep\n"))
	if err != nil {
		panic(err)
	}
	return cfg
}

func newTestManager(t *testing.T, rec Recorder) (*Manager, *stubEngine) {
	t.Helper()
	eng := &stubEngine{}
	m, err := NewManager(testConfig(), func(*config.Config) (playback.Engine, error) { return eng, nil }, rec)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close(context.Background()) })
	return m, eng
}

func sampleTrack(id string) track.Track {
	return track.Track{
		ID:              id,
		Name:            "Song " + id,
		Artists:         []string{"One", "Two"},
		DurationSeconds: 120,
		StreamCandidates: []track.StreamCandidate{
			{Quality: "160kbps", URL: "https://cdn.example/" + id},
		},
	}
}

func TestNewManager_EngineFailure(t *testing.T) {
	_, err := NewManager(testConfig(), func(*config.Config) (playback.Engine, error) {
		return nil, errors.New("no device")
	}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, playback.ErrEngineCreateFailed))
}

func TestManager_ForwardsEvents(t *testing.T) {
	rec := &memRecorder{}
	m, _ := newTestManager(t, rec)

	var mu sync.Mutex
	var types []string
	m.GetNotificationManager().Subscribe(notification.StreamFunc(func(n *notification.Notification) error {
		mu.Lock()
		defer mu.Unlock()
		types = append(types, n.Type)
		return nil
	}))
	m.Start()

	require.NoError(t, m.Playback().PlayTrack(context.Background(), sampleTrack("A"), nil))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(types) == 2
	}, 2*time.Second, 10*time.Millisecond)
	mu.Lock()
	assert.Equal(t, []string{"state_changed", "track_started"}, types)
	mu.Unlock()

	require.Eventually(t, func() bool { return len(rec.Entries()) == 1 }, 2*time.Second, 10*time.Millisecond)
	e := rec.Entries()[0]
	assert.Equal(t, "A", e.TrackID)
	assert.Equal(t, "Song A", e.Name)
	assert.Equal(t, "One, Two", e.Artists)
	assert.Equal(t, "https://cdn.example/A", e.SourceURL)
}

func TestManager_Snapshot(t *testing.T) {
	m, _ := newTestManager(t, nil)
	m.Start()

	require.NoError(t, m.Playback().PlayTrack(context.Background(), sampleTrack("A"), nil))

	n := m.Snapshot()
	assert.Equal(t, "snapshot", n.Type)
	require.NotNil(t, n.Session.CurrentTrack)
	assert.Equal(t, "A", n.Session.CurrentTrack.ID)
	assert.NotEmpty(t, m.ID())
}

func TestManager_CloseOnce(t *testing.T) {
	m, eng := newTestManager(t, nil)
	m.GetNotificationManager().Subscribe(notification.StreamFunc(func(*notification.Notification) error { return nil }))

	require.NoError(t, m.Close(context.Background()))
	require.NoError(t, m.Close(context.Background()))

	assert.Equal(t, 1, eng.closed)
	assert.Equal(t, 0, m.GetNotificationManager().SubscriberCount())
	assert.Equal(t, playback.StateReleased, m.Playback().Snapshot().State)
}
