// Package mpd implements the playback engine on top of a Music Player Daemon.
package mpd

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/fhs/gompd/v2/mpd"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/nowplaying/internal/app/playback"
)

// Settings configures the MPD engine.
type Settings struct {
	Host     string `mapstructure:"host" default:"localhost" validate:"required"`
	Port     int    `mapstructure:"port" default:"6600" validate:"min=1,max=65535"`
	Password string `mapstructure:"password"`
	// Output is the only output left enabled for exclusive sessions.
	Output string `mapstructure:"output"`
}

// Addr returns the host:port pair.
func (s Settings) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// client is the subset of *mpd.Client used by the engine.
type client interface {
	Ping() error
	Close() error
	Status() (mpd.Attrs, error)
	CurrentSong() (mpd.Attrs, error)
	Play(pos int) error
	Pause(pause bool) error
	Stop() error
	Clear() error
	Add(uri string) error
	SeekCur(d time.Duration, relative bool) error
	ListOutputs() ([]mpd.Attrs, error)
	EnableOutput(id int) error
	DisableOutput(id int) error
}

type dialFunc func() (client, error)

// Engine drives MPD and polls its status.
type Engine struct {
	mu   sync.Mutex
	conn client
	dial dialFunc

	settings Settings
	interval time.Duration

	onStatus func(playback.EngineStatus)

	source       string
	playing      bool
	lastState    string
	lastDuration float64
	// Set by our own stop so the poll does not mistake it for the track ending.
	stopRequested bool

	stopCh    chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// New connects to MPD and starts polling its status every interval.
func New(settings Settings, interval time.Duration) (*Engine, error) {
	dial := func() (client, error) {
		addr := settings.Addr()
		zlog.Info().Msgf("mpd: connecting: addr=%s", addr)
		if settings.Password != "" {
			return mpd.DialAuthenticated("tcp", addr, settings.Password)
		}
		return mpd.Dial("tcp", addr)
	}

	conn, err := dial()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to connect to mpd at %s", settings.Addr())
	}

	e := newEngine(conn, dial, settings, interval)
	e.start()
	return e, nil
}

func newEngine(conn client, dial dialFunc, settings Settings, interval time.Duration) *Engine {
	if interval <= 0 {
		interval = time.Second
	}
	return &Engine{
		conn:     conn,
		dial:     dial,
		settings: settings,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

func (e *Engine) start() {
	e.wg.Add(1)
	go e.pollLoop()
}

// ensureConnectedLocked pings the connection and redials when it is gone.
// Must be called with lock held.
func (e *Engine) ensureConnectedLocked() error {
	if e.conn != nil {
		if err := e.conn.Ping(); err == nil {
			return nil
		}
		zlog.Warn().Msg("mpd: connection lost, reconnecting")
		_ = e.conn.Close()
		e.conn = nil
	}
	if e.dial == nil {
		return errors.New("mpd: not connected")
	}
	conn, err := e.dial()
	if err != nil {
		return errors.Wrap(err, "failed to reconnect to mpd")
	}
	e.conn = conn
	return nil
}

// do runs fn against a live connection.
func (e *Engine) do(fn func(c client) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.ensureConnectedLocked(); err != nil {
		return err
	}
	return fn(e.conn)
}

// AttachSource replaces the MPD playlist with url.
func (e *Engine) AttachSource(ctx context.Context, url string) error {
	return e.do(func(c client) error {
		if err := c.Clear(); err != nil {
			return errors.Wrap(err, "mpd clear")
		}
		if err := c.Add(url); err != nil {
			return errors.Wrapf(err, "mpd add %s", url)
		}
		e.source = url
		e.playing = false
		e.lastState = "stop"
		e.lastDuration = 0
		e.stopRequested = false
		return nil
	})
}

// Play starts the attached source or resumes it when paused.
func (e *Engine) Play(ctx context.Context) error {
	return e.do(func(c client) error {
		st, err := c.Status()
		if err != nil {
			return errors.Wrap(err, "mpd status")
		}
		switch st["state"] {
		case "play":
		case "pause":
			if err := c.Pause(false); err != nil {
				return errors.Wrap(err, "mpd resume")
			}
		default:
			if err := c.Play(0); err != nil {
				return errors.Wrap(err, "mpd play")
			}
		}
		e.playing = true
		e.lastState = "play"
		e.stopRequested = false
		return nil
	})
}

// Pause pauses playback.
func (e *Engine) Pause(ctx context.Context) error {
	return e.do(func(c client) error {
		if err := c.Pause(true); err != nil {
			return errors.Wrap(err, "mpd pause")
		}
		e.playing = false
		e.lastState = "pause"
		return nil
	})
}

// Stop stops playback. The source stays in the playlist.
func (e *Engine) Stop(ctx context.Context) error {
	return e.do(func(c client) error {
		e.stopRequested = true
		if err := c.Stop(); err != nil {
			return errors.Wrap(err, "mpd stop")
		}
		e.playing = false
		return nil
	})
}

// Release stops playback and empties the playlist.
func (e *Engine) Release(ctx context.Context) error {
	return e.do(func(c client) error {
		e.stopRequested = true
		e.playing = false
		e.source = ""
		if err := c.Stop(); err != nil {
			return errors.Wrap(err, "mpd stop")
		}
		if err := c.Clear(); err != nil {
			return errors.Wrap(err, "mpd clear")
		}
		return nil
	})
}

// Seek moves within the current song.
func (e *Engine) Seek(ctx context.Context, seconds float64) error {
	return e.do(func(c client) error {
		d := time.Duration(seconds * float64(time.Second))
		if err := c.SeekCur(d, false); err != nil {
			return errors.Wrapf(err, "mpd seekcur %.1f", seconds)
		}
		return nil
	})
}

// Playing reports the last known play state.
func (e *Engine) Playing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.playing
}

// OnStatus registers the status callback.
func (e *Engine) OnStatus(fn func(playback.EngineStatus)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onStatus = fn
}

// ConfigureSession applies output exclusivity. Background and silent playback
// need no setup on a daemon.
func (e *Engine) ConfigureSession(ctx context.Context, opts playback.SessionOptions) error {
	if !opts.ExclusiveWithOtherApps || e.settings.Output == "" {
		return nil
	}
	return e.do(func(c client) error {
		outputs, err := c.ListOutputs()
		if err != nil {
			return errors.Wrap(err, "mpd outputs")
		}

		found := false
		for _, o := range outputs {
			id, err := strconv.Atoi(o["outputid"])
			if err != nil {
				continue
			}
			want := o["outputname"] == e.settings.Output
			enabled := o["outputenabled"] == "1"
			found = found || want
			switch {
			case want && !enabled:
				err = c.EnableOutput(id)
			case !want && enabled:
				err = c.DisableOutput(id)
			}
			if err != nil {
				return errors.Wrapf(err, "mpd toggle output %s", o["outputname"])
			}
		}
		if !found {
			return errors.Newf("mpd output %q not found", e.settings.Output)
		}
		return nil
	})
}

// Close stops polling and closes the connection.
func (e *Engine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		close(e.stopCh)
		e.wg.Wait()

		e.mu.Lock()
		defer e.mu.Unlock()
		if e.conn != nil {
			err = e.conn.Close()
			e.conn = nil
		}
		e.dial = nil
	})
	return err
}

func (e *Engine) pollLoop() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.poll()
		}
	}
}

// poll reads MPD status and reports it. The callback runs without the
// engine lock so the controller may call back into the engine.
func (e *Engine) poll() {
	st, cb, ok := e.readStatus()
	if !ok || cb == nil {
		return
	}
	cb(st)
}

func (e *Engine) readStatus() (playback.EngineStatus, func(playback.EngineStatus), bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.source == "" {
		return playback.EngineStatus{}, nil, false
	}
	if err := e.ensureConnectedLocked(); err != nil {
		zlog.Warn().Msgf("mpd: status unavailable: %v", err)
		return playback.EngineStatus{}, nil, false
	}

	attrs, err := e.conn.Status()
	if err != nil {
		zlog.Warn().Msgf("mpd: status failed: %v", err)
		return playback.EngineStatus{}, nil, false
	}

	state := attrs["state"]
	elapsed, duration := parseTimes(attrs)
	if duration > 0 {
		e.lastDuration = duration
	}

	source := e.source
	if song, err := e.conn.CurrentSong(); err == nil && song["file"] != "" {
		source = song["file"]
	}

	st := playback.EngineStatus{
		Position: elapsed,
		Duration: duration,
		Playing:  state == "play",
		Source:   source,
	}

	// MPD drops to stop at the end of a stream. Report it as a finished track.
	if e.lastState == "play" && state == "stop" && !e.stopRequested && e.lastDuration > 0 {
		zlog.Debug().Msgf("mpd: playback ended: source=%s", e.source)
		st.Position = e.lastDuration
		st.Duration = e.lastDuration
		st.Playing = false
		st.Source = e.source
	}

	e.lastState = state
	e.playing = state == "play"
	return st, e.onStatus, true
}

// parseTimes reads elapsed and duration, falling back to the legacy
// "time" attribute ("elapsed:total").
func parseTimes(attrs mpd.Attrs) (float64, float64) {
	elapsed, _ := strconv.ParseFloat(attrs["elapsed"], 64)
	duration, _ := strconv.ParseFloat(attrs["duration"], 64)

	if t := attrs["time"]; t != "" && (elapsed == 0 || duration == 0) {
		var e, d int
		if _, err := fmt.Sscanf(t, "%d:%d", &e, &d); err == nil {
			if elapsed == 0 {
				elapsed = float64(e)
			}
			if duration == 0 {
				duration = float64(d)
			}
		}
	}
	return elapsed, duration
}

var (
	_ playback.Engine            = (*Engine)(nil)
	_ playback.SessionConfigurer = (*Engine)(nil)
)
