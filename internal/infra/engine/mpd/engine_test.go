package mpd

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/fhs/gompd/v2/mpd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/nowplaying/internal/app/playback"
)

type fakeClient struct {
	mu       sync.Mutex
	calls    []string
	status   mpd.Attrs
	song     mpd.Attrs
	outputs  []mpd.Attrs
	pingErr  error
	seekTo   time.Duration
	closed   bool
	enabled  map[int]bool
	addedURI string
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		status:  mpd.Attrs{"state": "stop"},
		song:    mpd.Attrs{},
		enabled: map[int]bool{},
	}
}

func (f *fakeClient) record(c string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
}

func (f *fakeClient) Ping() error   { return f.pingErr }
func (f *fakeClient) Close() error  { f.closed = true; return nil }
func (f *fakeClient) Stop() error   { f.record("stop"); f.status["state"] = "stop"; return nil }
func (f *fakeClient) Clear() error  { f.record("clear"); return nil }
func (f *fakeClient) Play(pos int) error {
	f.record("play")
	f.status["state"] = "play"
	return nil
}

func (f *fakeClient) Pause(pause bool) error {
	if pause {
		f.record("pause")
		f.status["state"] = "pause"
	} else {
		f.record("resume")
		f.status["state"] = "play"
	}
	return nil
}

func (f *fakeClient) Add(uri string) error {
	f.record("add")
	f.addedURI = uri
	f.song = mpd.Attrs{"file": uri}
	return nil
}

func (f *fakeClient) SeekCur(d time.Duration, relative bool) error {
	f.record("seekcur")
	f.seekTo = d
	return nil
}

func (f *fakeClient) Status() (mpd.Attrs, error) {
	out := mpd.Attrs{}
	for k, v := range f.status {
		out[k] = v
	}
	return out, nil
}

func (f *fakeClient) CurrentSong() (mpd.Attrs, error) { return f.song, nil }

func (f *fakeClient) ListOutputs() ([]mpd.Attrs, error) { return f.outputs, nil }

func (f *fakeClient) EnableOutput(id int) error {
	f.enabled[id] = true
	return nil
}

func (f *fakeClient) DisableOutput(id int) error {
	f.enabled[id] = false
	return nil
}

func newTestEngine(fc *fakeClient, settings Settings) *Engine {
	return newEngine(fc, nil, settings, time.Second)
}

func collect(e *Engine) *[]playback.EngineStatus {
	var got []playback.EngineStatus
	e.OnStatus(func(st playback.EngineStatus) { got = append(got, st) })
	return &got
}

func TestEngine_AttachAndPlay(t *testing.T) {
	fc := newFakeClient()
	e := newTestEngine(fc, Settings{})
	ctx := context.Background()

	require.NoError(t, e.AttachSource(ctx, "http://cdn/a"))
	require.NoError(t, e.Play(ctx))
	assert.True(t, e.Playing())

	require.NoError(t, e.Pause(ctx))
	assert.False(t, e.Playing())

	require.NoError(t, e.Play(ctx))
	assert.Equal(t, []string{"clear", "add", "play", "pause", "resume"}, fc.calls)
	assert.Equal(t, "http://cdn/a", fc.addedURI)
}

func TestEngine_ReleaseClearsPlaylist(t *testing.T) {
	fc := newFakeClient()
	e := newTestEngine(fc, Settings{})
	ctx := context.Background()

	require.NoError(t, e.AttachSource(ctx, "http://cdn/a"))
	require.NoError(t, e.Release(ctx))
	assert.Equal(t, []string{"clear", "add", "stop", "clear"}, fc.calls)

	got := collect(e)
	e.poll()
	assert.Empty(t, *got, "no status without a source")
}

func TestEngine_Seek(t *testing.T) {
	fc := newFakeClient()
	e := newTestEngine(fc, Settings{})

	require.NoError(t, e.Seek(context.Background(), 61.5))
	assert.Equal(t, 61500*time.Millisecond, fc.seekTo)
}

func TestEngine_PollReportsStatus(t *testing.T) {
	fc := newFakeClient()
	e := newTestEngine(fc, Settings{})
	ctx := context.Background()
	got := collect(e)

	require.NoError(t, e.AttachSource(ctx, "http://cdn/a"))
	require.NoError(t, e.Play(ctx))

	fc.status["elapsed"] = "12.5"
	fc.status["duration"] = "200.1"
	e.poll()

	require.Len(t, *got, 1)
	assert.Equal(t, playback.EngineStatus{Position: 12.5, Duration: 200.1, Playing: true, Source: "http://cdn/a"}, (*got)[0])
}

func TestEngine_PollLegacyTime(t *testing.T) {
	fc := newFakeClient()
	e := newTestEngine(fc, Settings{})
	got := collect(e)

	require.NoError(t, e.AttachSource(context.Background(), "http://cdn/a"))
	fc.status = mpd.Attrs{"state": "pause", "time": "30:180"}
	e.poll()

	require.Len(t, *got, 1)
	assert.Equal(t, 30.0, (*got)[0].Position)
	assert.Equal(t, 180.0, (*got)[0].Duration)
	assert.False(t, (*got)[0].Playing)
}

func TestEngine_PollSynthesizesEnd(t *testing.T) {
	fc := newFakeClient()
	e := newTestEngine(fc, Settings{})
	ctx := context.Background()
	got := collect(e)

	require.NoError(t, e.AttachSource(ctx, "http://cdn/a"))
	require.NoError(t, e.Play(ctx))
	fc.status["elapsed"] = "199"
	fc.status["duration"] = "200"
	e.poll()

	// Stream ran out: MPD reports stop with no times.
	fc.status = mpd.Attrs{"state": "stop"}
	e.poll()
	e.poll()

	require.Len(t, *got, 3)
	end := (*got)[1]
	assert.Equal(t, 200.0, end.Position)
	assert.Equal(t, 200.0, end.Duration)
	assert.Equal(t, "http://cdn/a", end.Source)
	assert.Equal(t, 0.0, (*got)[2].Duration, "end is reported once")
}

func TestEngine_OwnStopIsNotAnEnd(t *testing.T) {
	fc := newFakeClient()
	e := newTestEngine(fc, Settings{})
	ctx := context.Background()
	got := collect(e)

	require.NoError(t, e.AttachSource(ctx, "http://cdn/a"))
	require.NoError(t, e.Play(ctx))
	fc.status["duration"] = "200"
	e.poll()

	require.NoError(t, e.Stop(ctx))
	e.poll()

	require.Len(t, *got, 2)
	assert.Equal(t, 0.0, (*got)[1].Position)
}

func TestEngine_ConfigureSession(t *testing.T) {
	fc := newFakeClient()
	fc.outputs = []mpd.Attrs{
		{"outputid": "0", "outputname": "ALSA", "outputenabled": "0"},
		{"outputid": "1", "outputname": "Pulse", "outputenabled": "1"},
	}
	ctx := context.Background()

	t.Run("exclusive keeps only the configured output", func(t *testing.T) {
		e := newTestEngine(fc, Settings{Output: "ALSA"})
		require.NoError(t, e.ConfigureSession(ctx, playback.SessionOptions{ExclusiveWithOtherApps: true}))
		assert.Equal(t, map[int]bool{0: true, 1: false}, fc.enabled)
	})

	t.Run("unknown output", func(t *testing.T) {
		e := newTestEngine(fc, Settings{Output: "HDMI"})
		assert.Error(t, e.ConfigureSession(ctx, playback.SessionOptions{ExclusiveWithOtherApps: true}))
	})

	t.Run("non exclusive is a no-op", func(t *testing.T) {
		fc.enabled = map[int]bool{}
		e := newTestEngine(fc, Settings{Output: "ALSA"})
		require.NoError(t, e.ConfigureSession(ctx, playback.SessionOptions{AllowBackgroundPlayback: true}))
		assert.Empty(t, fc.enabled)
	})
}

func TestEngine_Reconnect(t *testing.T) {
	broken := newFakeClient()
	broken.pingErr = errors.New("broken pipe")
	fresh := newFakeClient()

	dials := 0
	e := newEngine(broken, func() (client, error) {
		dials++
		return fresh, nil
	}, Settings{}, time.Second)

	require.NoError(t, e.AttachSource(context.Background(), "http://cdn/a"))
	assert.Equal(t, 1, dials)
	assert.True(t, broken.closed)
	assert.Equal(t, "http://cdn/a", fresh.addedURI)
}

func TestEngine_Close(t *testing.T) {
	fc := newFakeClient()
	e := newTestEngine(fc, Settings{})
	e.start()

	require.NoError(t, e.Close())
	require.NoError(t, e.Close())
	assert.True(t, fc.closed)
	assert.Error(t, e.AttachSource(context.Background(), "http://cdn/a"))
}

func TestSettings_Addr(t *testing.T) {
	assert.Equal(t, "localhost:6600", Settings{Host: "localhost", Port: 6600}.Addr())
}
