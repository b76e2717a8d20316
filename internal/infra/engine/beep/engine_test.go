package beep

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gopxl/beep/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/nowplaying/internal/app/playback"
)

const testRate = beep.SampleRate(1000)

// fakeOutput stands in for the speaker; tests pull samples by hand.
type fakeOutput struct {
	mu        sync.Mutex
	inits     int
	streamers []beep.Streamer
}

func (o *fakeOutput) Init(beep.SampleRate, int) error { o.inits++; return nil }
func (o *fakeOutput) Play(s ...beep.Streamer)         { o.streamers = append(o.streamers, s...) }
func (o *fakeOutput) Clear()                          { o.streamers = nil }
func (o *fakeOutput) Lock()                           { o.mu.Lock() }
func (o *fakeOutput) Unlock()                         { o.mu.Unlock() }

// pull streams n samples from the first queued streamer and reports whether
// it is still live.
func (o *fakeOutput) pull(n int) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.streamers) == 0 {
		return false
	}
	buf := make([][2]float64, n)
	_, ok := o.streamers[0].Stream(buf)
	return ok
}

// tone is a seekable streamer of fixed length.
type tone struct {
	length int
	pos    int
	closed bool
}

func (t *tone) Stream(samples [][2]float64) (int, bool) {
	if t.pos >= t.length {
		return 0, false
	}
	n := min(len(samples), t.length-t.pos)
	for i := range samples[:n] {
		samples[i] = [2]float64{0.1, 0.1}
	}
	t.pos += n
	return n, true
}

func (t *tone) Err() error     { return nil }
func (t *tone) Len() int       { return t.length }
func (t *tone) Position() int  { return t.pos }
func (t *tone) Close() error   { t.closed = true; return nil }
func (t *tone) Seek(p int) error {
	if p < 0 || p > t.length {
		return errors.Newf("seek out of range: %d", p)
	}
	t.pos = p
	return nil
}

type harness struct {
	engine *Engine
	out    *fakeOutput
	tones  []*tone
	server *httptest.Server
}

func newHarness(t *testing.T, samples int) *harness {
	t.Helper()
	h := &harness{out: &fakeOutput{}}
	h.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("ID3-not-really-mp3"))
	}))
	t.Cleanup(h.server.Close)

	decode := func(rc io.ReadCloser) (beep.StreamSeekCloser, beep.Format, error) {
		data, _ := io.ReadAll(rc)
		if len(data) == 0 {
			return nil, beep.Format{}, errors.New("empty stream")
		}
		tn := &tone{length: samples}
		h.tones = append(h.tones, tn)
		return tn, beep.Format{SampleRate: testRate, NumChannels: 2, Precision: 2}, nil
	}
	h.engine = newEngine(h.out, decode, Settings{SampleRate: int(testRate), BufferMs: 100, DownloadTimeoutSec: 5, MaxDownloadMB: 1}, time.Second)
	return h
}

func (h *harness) url(path string) string {
	return h.server.URL + path
}

func TestEngine_AttachStartsPaused(t *testing.T) {
	h := newHarness(t, 5000)
	ctx := context.Background()

	require.NoError(t, h.engine.AttachSource(ctx, h.url("/a.mp3")))
	assert.Equal(t, 1, h.out.inits)
	assert.False(t, h.engine.Playing())

	require.NoError(t, h.engine.Play(ctx))
	assert.True(t, h.engine.Playing())

	require.NoError(t, h.engine.Pause(ctx))
	assert.False(t, h.engine.Playing())

	// The speaker is initialised once.
	require.NoError(t, h.engine.AttachSource(ctx, h.url("/b.mp3")))
	assert.Equal(t, 1, h.out.inits)
	assert.True(t, h.tones[0].closed, "previous stream is closed")
}

func TestEngine_AttachErrors(t *testing.T) {
	h := newHarness(t, 5000)
	ctx := context.Background()

	assert.Error(t, h.engine.AttachSource(ctx, h.url("/missing")))
	assert.Error(t, h.engine.AttachSource(ctx, "http://127.0.0.1:1/a.mp3"))
	assert.ErrorIs(t, h.engine.Play(ctx), ErrNoSource)
	assert.ErrorIs(t, h.engine.Seek(ctx, 1), ErrNoSource)
}

func TestEngine_DownloadLimit(t *testing.T) {
	big := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(make([]byte, (1<<20)+10))
	}))
	defer big.Close()

	h := newHarness(t, 5000)
	err := h.engine.AttachSource(context.Background(), big.URL)
	assert.True(t, errors.Is(err, ErrTooLarge))
}

func TestEngine_TickReportsPosition(t *testing.T) {
	h := newHarness(t, 5000)
	ctx := context.Background()

	var got []playback.EngineStatus
	h.engine.OnStatus(func(st playback.EngineStatus) { got = append(got, st) })

	h.engine.tick()
	assert.Empty(t, got, "no source")

	require.NoError(t, h.engine.AttachSource(ctx, h.url("/a.mp3")))
	require.NoError(t, h.engine.Play(ctx))
	require.True(t, h.out.pull(1500))

	h.engine.tick()
	require.Len(t, got, 1)
	assert.InDelta(t, 1.5, got[0].Position, 0.001)
	assert.InDelta(t, 5.0, got[0].Duration, 0.001)
	assert.True(t, got[0].Playing)
	assert.Equal(t, h.url("/a.mp3"), got[0].Source)
}

func TestEngine_Seek(t *testing.T) {
	h := newHarness(t, 5000)
	ctx := context.Background()

	require.NoError(t, h.engine.AttachSource(ctx, h.url("/a.mp3")))
	require.NoError(t, h.engine.Seek(ctx, 2.5))
	assert.Equal(t, 2500, h.tones[0].pos)

	require.NoError(t, h.engine.Seek(ctx, 99))
	assert.Equal(t, 4999, h.tones[0].pos, "clamped to the last sample")

	require.NoError(t, h.engine.Stop(ctx))
	assert.Equal(t, 0, h.tones[0].pos)
	assert.False(t, h.engine.Playing())
}

func TestEngine_NaturalEndReportsOnce(t *testing.T) {
	h := newHarness(t, 1000)
	ctx := context.Background()

	ends := make(chan playback.EngineStatus, 4)
	h.engine.OnStatus(func(st playback.EngineStatus) { ends <- st })

	require.NoError(t, h.engine.AttachSource(ctx, h.url("/a.mp3")))
	require.NoError(t, h.engine.Play(ctx))

	for h.out.pull(400) {
	}

	select {
	case st := <-ends:
		assert.InDelta(t, 1.0, st.Position, 0.001)
		assert.InDelta(t, 1.0, st.Duration, 0.001)
		assert.Equal(t, h.url("/a.mp3"), st.Source)
	case <-time.After(2 * time.Second):
		t.Fatal("no end status")
	}

	assert.Eventually(t, func() bool { return !h.engine.Playing() }, time.Second, 10*time.Millisecond)
	h.engine.tick()
	assert.Empty(t, ends, "no ticks after the end")
}

func TestEngine_ReleaseIgnoresStaleEnd(t *testing.T) {
	h := newHarness(t, 1000)
	ctx := context.Background()

	var calls int
	h.engine.OnStatus(func(playback.EngineStatus) { calls++ })

	require.NoError(t, h.engine.AttachSource(ctx, h.url("/a.mp3")))
	h.engine.mu.Lock()
	gen := h.engine.generation
	h.engine.mu.Unlock()

	require.NoError(t, h.engine.Release(ctx))
	assert.Empty(t, h.out.streamers)

	h.engine.finished(gen)
	assert.Equal(t, 0, calls)
}

func TestEngine_Close(t *testing.T) {
	h := newHarness(t, 1000)
	h.engine.start()

	require.NoError(t, h.engine.AttachSource(context.Background(), h.url("/a.mp3")))
	require.NoError(t, h.engine.Close())
	require.NoError(t, h.engine.Close())
	assert.True(t, h.tones[0].closed)
}
