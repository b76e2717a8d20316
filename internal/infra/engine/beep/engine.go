// Package beep implements the playback engine with in-process audio output
// through gopxl/beep. Streams are downloaded into memory and decoded as mp3.
package beep

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/mp3"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/nowplaying/internal/app/playback"
)

var (
	// ErrUnavailable is returned when the build has no audio output.
	ErrUnavailable = errors.New("beep engine unavailable: built without cgo")
	// ErrNoSource is returned by transport calls before AttachSource.
	ErrNoSource = errors.New("no source attached")
	// ErrTooLarge is returned when a stream exceeds the download limit.
	ErrTooLarge = errors.New("stream exceeds download limit")
)

// Settings configures the beep engine.
type Settings struct {
	SampleRate         int `mapstructure:"sample_rate" default:"44100" validate:"min=8000,max=192000"`
	BufferMs           int `mapstructure:"buffer_ms" default:"100" validate:"min=10,max=2000"`
	DownloadTimeoutSec int `mapstructure:"download_timeout_sec" default:"30" validate:"min=1"`
	MaxDownloadMB      int `mapstructure:"max_download_mb" default:"64" validate:"min=1"`
}

// output is the audio sink. The speaker package implements it in cgo builds.
type output interface {
	Init(sampleRate beep.SampleRate, bufferSize int) error
	Play(s ...beep.Streamer)
	Clear()
	Lock()
	Unlock()
}

type decodeFunc func(rc io.ReadCloser) (beep.StreamSeekCloser, beep.Format, error)

func decodeMP3(rc io.ReadCloser) (beep.StreamSeekCloser, beep.Format, error) {
	return mp3.Decode(rc)
}

// Engine plays one decoded stream at a time.
type Engine struct {
	mu sync.Mutex

	out         output
	decode      decodeFunc
	httpClient  *http.Client
	settings    Settings
	sampleRate  beep.SampleRate
	interval    time.Duration
	initialized bool

	onStatus func(playback.EngineStatus)

	source   string
	streamer beep.StreamSeekCloser
	format   beep.Format
	ctrl     *beep.Ctrl
	ended    bool
	// Bumped on every source change so callbacks of old streams are ignored.
	generation uint64

	stopCh    chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

func newEngine(out output, decode decodeFunc, settings Settings, interval time.Duration) *Engine {
	if interval <= 0 {
		interval = time.Second
	}
	if settings.SampleRate <= 0 {
		settings.SampleRate = 44100
	}
	if settings.BufferMs <= 0 {
		settings.BufferMs = 100
	}
	return &Engine{
		out:        out,
		decode:     decode,
		httpClient: &http.Client{Timeout: time.Duration(settings.DownloadTimeoutSec) * time.Second},
		settings:   settings,
		sampleRate: beep.SampleRate(settings.SampleRate),
		interval:   interval,
		stopCh:     make(chan struct{}),
	}
}

func (e *Engine) start() {
	e.wg.Add(1)
	go e.tickLoop()
}

// AttachSource downloads and decodes url and queues it paused on the output.
func (e *Engine) AttachSource(ctx context.Context, url string) error {
	data, err := e.download(ctx, url)
	if err != nil {
		return err
	}
	streamer, format, err := e.decode(io.NopCloser(bytes.NewReader(data)))
	if err != nil {
		return errors.Wrapf(err, "failed to decode %s", url)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.initialized {
		if err := e.out.Init(e.sampleRate, e.sampleRate.N(time.Duration(e.settings.BufferMs)*time.Millisecond)); err != nil {
			_ = streamer.Close()
			return errors.Wrap(err, "failed to initialize speaker")
		}
		e.initialized = true
	}

	e.releaseLocked()

	var s beep.Streamer = streamer
	if format.SampleRate != e.sampleRate {
		s = beep.Resample(4, format.SampleRate, e.sampleRate, streamer)
	}

	e.generation++
	gen := e.generation
	e.source = url
	e.streamer = streamer
	e.format = format
	e.ended = false
	e.ctrl = &beep.Ctrl{Streamer: s, Paused: true}

	e.out.Play(beep.Seq(e.ctrl, beep.Callback(func() {
		// Runs on the audio goroutine with the speaker locked.
		go e.finished(gen)
	})))

	zlog.Debug().Msgf("beep: source attached: url=%s duration=%v", url, format.SampleRate.D(streamer.Len()))
	return nil
}

func (e *Engine) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid stream url %s", url)
	}
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to fetch %s", url)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Newf("failed to fetch %s: status %d", url, resp.StatusCode)
	}

	limit := int64(e.settings.MaxDownloadMB) << 20
	if limit <= 0 {
		limit = 64 << 20
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", url)
	}
	if int64(len(data)) > limit {
		return nil, errors.Wrapf(ErrTooLarge, "%s", url)
	}
	return data, nil
}

// Play resumes the attached source.
func (e *Engine) Play(ctx context.Context) error {
	return e.setPaused(false)
}

// Pause pauses the attached source.
func (e *Engine) Pause(ctx context.Context) error {
	return e.setPaused(true)
}

func (e *Engine) setPaused(paused bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.ctrl == nil {
		return ErrNoSource
	}
	e.out.Lock()
	e.ctrl.Paused = paused
	e.out.Unlock()
	return nil
}

// Stop pauses and rewinds the source.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.ctrl == nil {
		return nil
	}
	e.out.Lock()
	defer e.out.Unlock()
	e.ctrl.Paused = true
	if err := e.streamer.Seek(0); err != nil {
		return errors.Wrap(err, "failed to rewind")
	}
	return nil
}

// Release drops the source from the output and closes the decoder.
func (e *Engine) Release(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.releaseLocked()
}

// releaseLocked must be called with lock held.
func (e *Engine) releaseLocked() error {
	if e.streamer == nil {
		return nil
	}
	e.generation++
	e.out.Clear()

	err := e.streamer.Close()
	e.streamer = nil
	e.ctrl = nil
	e.source = ""
	e.ended = false
	if err != nil {
		return errors.Wrap(err, "failed to close stream")
	}
	return nil
}

// Seek moves to seconds, clamped to the stream length.
func (e *Engine) Seek(ctx context.Context, seconds float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.streamer == nil {
		return ErrNoSource
	}
	n := e.format.SampleRate.N(time.Duration(seconds * float64(time.Second)))
	if last := e.streamer.Len() - 1; n > last {
		n = last
	}
	if n < 0 {
		n = 0
	}

	e.out.Lock()
	defer e.out.Unlock()
	if err := e.streamer.Seek(n); err != nil {
		return errors.Wrapf(err, "failed to seek to %.1fs", seconds)
	}
	e.ended = false
	return nil
}

// Playing reports whether audio is currently flowing.
func (e *Engine) Playing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.ctrl == nil || e.ended {
		return false
	}
	e.out.Lock()
	defer e.out.Unlock()
	return !e.ctrl.Paused
}

// OnStatus registers the status callback.
func (e *Engine) OnStatus(fn func(playback.EngineStatus)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onStatus = fn
}

// Close stops the ticker and releases the source.
func (e *Engine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		close(e.stopCh)
		e.wg.Wait()
		err = e.Release(context.Background())
	})
	return err
}

// finished reports the natural end of the stream of generation gen.
func (e *Engine) finished(gen uint64) {
	e.mu.Lock()
	if gen != e.generation || e.streamer == nil {
		e.mu.Unlock()
		return
	}
	e.ended = true
	d := e.format.SampleRate.D(e.streamer.Len()).Seconds()
	st := playback.EngineStatus{Position: d, Duration: d, Playing: false, Source: e.source}
	cb := e.onStatus
	e.mu.Unlock()

	zlog.Debug().Msgf("beep: stream finished: url=%s", st.Source)
	if cb != nil {
		cb(st)
	}
}

func (e *Engine) tickLoop() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.tick()
		}
	}
}

// tick reports the current position. The callback runs without the engine
// lock held.
func (e *Engine) tick() {
	e.mu.Lock()
	if e.streamer == nil || e.ended {
		e.mu.Unlock()
		return
	}
	e.out.Lock()
	pos := e.streamer.Position()
	paused := e.ctrl.Paused
	e.out.Unlock()

	st := playback.EngineStatus{
		Position: e.format.SampleRate.D(pos).Seconds(),
		Duration: e.format.SampleRate.D(e.streamer.Len()).Seconds(),
		Playing:  !paused,
		Source:   e.source,
	}
	cb := e.onStatus
	e.mu.Unlock()

	if cb != nil {
		cb(st)
	}
}

var _ playback.Engine = (*Engine)(nil)
