package playback

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	"github.com/samber/lo/mutable"

	"github.com/osa030/nowplaying/internal/app/queue"
	"github.com/osa030/nowplaying/internal/domain/track"
)

// Config holds controller configuration.
type Config struct {
	PreferredQuality string         // Stream quality label to request, e.g. "160kbps"
	LoadRetries      int            // Extra AttachSource attempts after a failure
	RetryDelay       time.Duration  // Base delay between attach attempts
	EventBuffer      int            // Event channel capacity
	Session          SessionOptions // Applied before attach, toggle and seek
}

// Controller drives the single audio engine and owns the playback queue.
type Controller struct {
	mu sync.Mutex

	engine     Engine
	configurer SessionConfigurer // nil when the engine cannot configure sessions
	queue      *queue.Manager

	// Session state
	current       *track.Track
	playing       bool
	loading       bool
	transitioning bool
	currentTime   int
	duration      int

	// Set by Clear while a transition runs; the transition then ends idle.
	clearRequested bool

	// Loaded source
	hasSource bool
	loadedID  string
	loadedURL string
	released  bool

	// Configuration
	config Config

	// Events
	eventCh chan Event

	// Context for auto-advance transitions
	ctx    context.Context
	cancel context.CancelFunc
}

// NewController creates a controller around an already created engine and
// registers itself as the engine's status callback.
func NewController(engine Engine, config Config) *Controller {
	if config.PreferredQuality == "" {
		config.PreferredQuality = track.DefaultQuality
	}
	if config.EventBuffer <= 0 {
		config.EventBuffer = 64
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		engine:  engine,
		queue:   queue.New(),
		config:  config,
		eventCh: make(chan Event, config.EventBuffer),
		ctx:     ctx,
		cancel:  cancel,
	}
	if sc, ok := engine.(SessionConfigurer); ok {
		c.configurer = sc
	}
	engine.OnStatus(c.OnEngineTick)
	return c
}

// Events returns the event channel.
func (c *Controller) Events() <-chan Event {
	return c.eventCh
}

// Snapshot returns the current playback session.
func (c *Controller) Snapshot() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Queue returns a copy of the queued tracks and the current index.
func (c *Controller) Queue() ([]track.Track, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queue.Tracks(), c.queue.Index()
}

// PlayTrack loads and plays t. If t is already loaded, playback is toggled
// instead. When queueContext is non-nil it replaces the queue.
// Calls made while another transition is running are ignored.
func (c *Controller) PlayTrack(ctx context.Context, t track.Track, queueContext []track.Track) error {
	c.mu.Lock()
	if c.released {
		c.mu.Unlock()
		return ErrReleased
	}
	if c.transitioning {
		c.mu.Unlock()
		zlog.Debug().Msgf("playback: transition in progress, ignoring play request: track=%s", t.ID)
		return nil
	}
	if c.hasSource && c.loadedID == t.ID {
		c.mu.Unlock()
		zlog.Debug().Msgf("playback: same track, toggling play state: track=%s", t.ID)
		return c.TogglePlayPause(ctx)
	}

	url, err := c.resolveLocked(t)
	if err != nil {
		c.mu.Unlock()
		return err
	}

	var contextCopy []track.Track
	if queueContext != nil {
		contextCopy = append(make([]track.Track, 0, len(queueContext)), queueContext...)
	}

	c.beginTransitionLocked()
	c.mu.Unlock()

	return c.transition(ctx, t, url, func(q *queue.Manager) {
		if contextCopy != nil {
			q.Set(contextCopy, 0)
			q.MoveTo(0, t.ID)
			return
		}
		if !q.MoveTo(q.Index(), t.ID) {
			q.Set([]track.Track{t}, 0)
		}
	})
}

// PlayQueue replaces the queue with tracks, optionally shuffled, and plays
// the first one.
func (c *Controller) PlayQueue(ctx context.Context, tracks []track.Track, shuffle bool) error {
	if len(tracks) == 0 {
		return nil
	}

	toPlay := append(make([]track.Track, 0, len(tracks)), tracks...)
	if shuffle {
		mutable.Shuffle(toPlay)
	}
	return c.PlayTrack(ctx, toPlay[0], toPlay)
}

// TogglePlayPause flips between playing and paused on the loaded source.
// It does nothing when no source is attached.
func (c *Controller) TogglePlayPause(ctx context.Context) error {
	c.mu.Lock()
	if !c.hasSource {
		c.mu.Unlock()
		zlog.Debug().Msg("playback: no source loaded, ignoring toggle")
		return nil
	}
	wasPlaying := c.playing
	c.mu.Unlock()

	c.configureSession(ctx)

	var err error
	if wasPlaying {
		err = c.engine.Pause(ctx)
	} else {
		err = c.engine.Play(ctx)
	}
	if err != nil {
		return c.reportFailure(errors.Mark(errors.Wrap(err, "failed to toggle playback"), ErrEnginePlaybackFailed))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.hasSource {
		c.playing = !wasPlaying
		c.sendEventLocked(EventStateChanged, nil)
	}
	return nil
}

// Next plays the following queue entry, wrapping to the start.
func (c *Controller) Next(ctx context.Context) error {
	return c.step(ctx, true)
}

// Previous plays the preceding queue entry, wrapping to the end.
func (c *Controller) Previous(ctx context.Context) error {
	return c.step(ctx, false)
}

func (c *Controller) step(ctx context.Context, forward bool) error {
	c.mu.Lock()
	if c.released {
		c.mu.Unlock()
		return ErrReleased
	}
	if c.transitioning {
		c.mu.Unlock()
		zlog.Debug().Msgf("playback: transition in progress, ignoring step: forward=%v", forward)
		return nil
	}

	var (
		idx  int
		next track.Track
		ok   bool
	)
	if forward {
		idx, next, ok = c.queue.PeekNext()
	} else {
		idx, next, ok = c.queue.PeekPrevious()
	}
	if !ok {
		c.mu.Unlock()
		return nil
	}

	url, err := c.resolveLocked(next)
	if err != nil {
		c.mu.Unlock()
		return err
	}

	c.beginTransitionLocked()
	c.mu.Unlock()

	return c.transition(ctx, next, url, func(q *queue.Manager) {
		q.MoveTo(idx, next.ID)
	})
}

// SeekTo moves playback to seconds. Seeking never leaves a playing session
// paused.
func (c *Controller) SeekTo(ctx context.Context, seconds float64) error {
	c.mu.Lock()
	if !c.hasSource {
		c.mu.Unlock()
		zlog.Debug().Msg("playback: no source loaded, ignoring seek")
		return nil
	}
	wasPlaying := c.playing
	c.mu.Unlock()

	if seconds < 0 {
		seconds = 0
	}

	c.configureSession(ctx)

	if err := c.engine.Seek(ctx, seconds); err != nil {
		return c.reportFailure(errors.Mark(errors.Wrapf(err, "failed to seek to %.1fs", seconds), ErrSeekFailed))
	}

	c.mu.Lock()
	if c.hasSource {
		c.currentTime = int(math.Floor(seconds))
		c.sendEventLocked(EventStateChanged, nil)
	}
	c.mu.Unlock()

	if wasPlaying && !c.engine.Playing() {
		zlog.Debug().Msg("playback: engine paused on seek, resuming")
		if err := c.engine.Play(ctx); err != nil {
			return c.reportFailure(errors.Mark(errors.Wrap(err, "failed to resume after seek"), ErrEnginePlaybackFailed))
		}
	}
	return nil
}

// SetQueue replaces the queue without touching the engine. The session's
// current track and duration follow the new position.
func (c *Controller) SetQueue(tracks []track.Track, startIndex int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cur, ok := c.queue.Set(tracks, startIndex)
	if ok {
		c.current = &cur
		c.duration = cur.DurationSeconds
	} else {
		c.current = nil
		c.duration = 0
	}
	c.sendEventLocked(EventQueueChanged, nil)
}

// InsertNext queues tracks right after the current one.
func (c *Controller) InsertNext(tracks []track.Track) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.queue.InsertNext(tracks)
	c.sendEventLocked(EventQueueChanged, nil)
}

// Append adds tracks to the end of the queue.
func (c *Controller) Append(tracks []track.Track) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.queue.Append(tracks)
	c.sendEventLocked(EventQueueChanged, nil)
}

// ClearQueue empties the queue. Playback is not affected.
func (c *Controller) ClearQueue() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.queue.Clear()
	c.sendEventLocked(EventQueueChanged, nil)
}

// Clear stops and releases the loaded source and resets the session to idle.
// The queue is left as is.
func (c *Controller) Clear(ctx context.Context) error {
	had := c.detachSource()
	var err error
	if had {
		err = c.stopAndRelease(ctx)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.current = nil
	c.playing = false
	c.currentTime = 0
	c.duration = 0
	if c.transitioning {
		// The running transition releases its source when it commits.
		c.clearRequested = true
	} else {
		c.loading = false
	}
	c.sendEventLocked(EventCleared, nil)
	return err
}

// OnEngineTick ingests one engine status report.
func (c *Controller) OnEngineTick(st EngineStatus) {
	c.mu.Lock()
	if c.released || c.transitioning || !c.hasSource {
		c.mu.Unlock()
		return
	}
	if st.Source != "" && st.Source != c.loadedURL {
		c.mu.Unlock()
		zlog.Debug().Msgf("playback: ignoring tick for stale source: source=%s", st.Source)
		return
	}

	wasPlaying := c.playing
	c.currentTime = floorSeconds(st.Position)
	if d := floorSeconds(st.Duration); d > 0 {
		c.duration = d
	}
	c.playing = st.Playing
	c.sendEventLocked(EventProgress, nil)

	if !(st.Duration > 0 && st.Position >= st.Duration && wasPlaying) {
		c.mu.Unlock()
		return
	}

	idx, next, ok := c.queue.PeekNext()
	if !ok {
		c.mu.Unlock()
		return
	}
	// The finished track is no longer playing, whatever happens next.
	c.playing = false
	url, err := c.resolveLocked(next)
	if err != nil {
		c.mu.Unlock()
		return
	}

	zlog.Debug().Msgf("playback: track completed, advancing: next=%s", next.ID)
	c.beginTransitionLocked()
	c.mu.Unlock()

	_ = c.transition(c.ctx, next, url, func(q *queue.Manager) {
		q.MoveTo(idx, next.ID)
	})
}

// Close releases the loaded source and closes the event channel.
// The engine itself is closed by its owner.
func (c *Controller) Close(ctx context.Context) error {
	had := c.detachSource()
	var err error
	if had {
		err = c.stopAndRelease(ctx)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return err
	}
	c.released = true
	c.current = nil
	c.playing = false
	c.cancel()
	close(c.eventCh)
	return err
}

// transition runs the load-and-play path. The caller must have claimed the
// transition flag; it is always cleared before returning.
func (c *Controller) transition(ctx context.Context, t track.Track, url string, commit func(q *queue.Manager)) error {
	zlog.Info().Msgf("playback: loading track: id=%s name=%s", t.ID, t.Name)

	if c.detachSource() {
		if err := c.stopAndRelease(ctx); err != nil {
			zlog.Warn().Msgf("playback: failed to release previous source: %v", err)
		}
	}

	c.configureSession(ctx)

	if err := c.attachWithRetry(ctx, url); err != nil {
		return c.failTransition(ctx, errors.Mark(errors.Wrapf(err, "failed to load track %s", t.ID), ErrEngineLoadFailed))
	}
	if err := c.engine.Play(ctx); err != nil {
		return c.failTransition(ctx, errors.Mark(errors.Wrapf(err, "failed to play track %s", t.ID), ErrEnginePlaybackFailed))
	}

	c.mu.Lock()
	if c.released {
		c.loading = false
		c.transitioning = false
		c.mu.Unlock()
		_ = c.stopAndRelease(ctx)
		return ErrReleased
	}
	if c.clearRequested {
		c.clearRequested = false
		c.loading = false
		c.transitioning = false
		c.current = nil
		c.playing = false
		c.currentTime = 0
		c.duration = 0
		c.mu.Unlock()

		zlog.Debug().Msgf("playback: cleared while loading, dropping track: id=%s", t.ID)
		if err := c.stopAndRelease(ctx); err != nil {
			zlog.Warn().Msgf("playback: failed to release cleared source: %v", err)
		}
		c.mu.Lock()
		c.sendEventLocked(EventStateChanged, nil)
		c.mu.Unlock()
		return nil
	}
	defer c.mu.Unlock()

	loaded := t
	c.current = &loaded
	c.hasSource = true
	c.loadedID = t.ID
	c.loadedURL = url
	c.playing = true
	c.currentTime = 0
	c.duration = t.DurationSeconds
	commit(c.queue)
	c.loading = false
	c.transitioning = false
	c.sendEventLocked(EventTrackStarted, nil)
	return nil
}

// failTransition leaves the session idle with no source attached.
func (c *Controller) failTransition(ctx context.Context, err error) error {
	if rerr := c.engine.Release(ctx); rerr != nil {
		zlog.Warn().Msgf("playback: failed to release source after error: %v", rerr)
	}

	c.mu.Lock()
	c.current = nil
	c.playing = false
	c.currentTime = 0
	c.duration = 0
	c.hasSource = false
	c.loadedID = ""
	c.loadedURL = ""
	c.loading = false
	c.transitioning = false
	c.clearRequested = false
	c.mu.Unlock()

	return c.reportFailure(err)
}

func (c *Controller) attachWithRetry(ctx context.Context, url string) error {
	var lastErr error
	for i := 0; i <= c.config.LoadRetries; i++ {
		if i > 0 {
			zlog.Warn().Msgf("playback: attach failed, retrying (attempt %d/%d): %v", i+1, c.config.LoadRetries+1, lastErr)
			select {
			case <-ctx.Done():
				return errors.CombineErrors(lastErr, ctx.Err())
			case <-time.After(c.config.RetryDelay * time.Duration(i)):
			}
		}
		if err := c.engine.AttachSource(ctx, url); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return lastErr
}

// detachSource marks the source as gone and reports whether one was loaded.
func (c *Controller) detachSource() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	had := c.hasSource
	c.hasSource = false
	c.loadedID = ""
	c.loadedURL = ""
	c.playing = false
	return had
}

func (c *Controller) stopAndRelease(ctx context.Context) error {
	stopErr := c.engine.Stop(ctx)
	relErr := c.engine.Release(ctx)
	return errors.CombineErrors(stopErr, relErr)
}

// configureSession applies the session options. Failures are logged only.
func (c *Controller) configureSession(ctx context.Context) {
	if c.configurer == nil {
		return
	}
	if err := c.configurer.ConfigureSession(ctx, c.config.Session); err != nil {
		zlog.Warn().Msgf("playback: failed to configure audio session: %v", err)
	}
}

// resolveLocked resolves the stream URL for t or reports ErrNoStreamURL.
// Must be called with lock held.
func (c *Controller) resolveLocked(t track.Track) (string, error) {
	url, ok := t.ResolveStreamURL(c.config.PreferredQuality)
	if ok {
		return url, nil
	}
	err := errors.Wrapf(ErrNoStreamURL, "track %s", t.ID)
	zlog.Error().Msgf("playback: no streaming url available: id=%s name=%s", t.ID, t.Name)
	c.sendEventLocked(EventPlaybackFailed, err)
	return "", err
}

// beginTransitionLocked claims the transition flag.
// Must be called with lock held.
func (c *Controller) beginTransitionLocked() {
	c.loading = true
	c.transitioning = true
	c.clearRequested = false
	c.sendEventLocked(EventStateChanged, nil)
}

func (c *Controller) reportFailure(err error) error {
	zlog.Error().Msgf("playback: %v", err)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendEventLocked(EventPlaybackFailed, err)
	return err
}

// snapshotLocked must be called with lock held.
func (c *Controller) snapshotLocked() Session {
	s := Session{
		IsPlaying:          c.playing,
		IsLoading:          c.loading,
		IsTransitioning:    c.transitioning,
		CurrentTimeSeconds: c.currentTime,
		DurationSeconds:    c.duration,
		QueueIndex:         c.queue.Index(),
		QueueLength:        c.queue.Len(),
	}
	if c.current != nil {
		cur := *c.current
		s.CurrentTrack = &cur
	}

	switch {
	case c.released:
		s.State = StateReleased
	case c.loading:
		s.State = StateLoading
	case c.current == nil || !c.hasSource:
		s.State = StateIdle
	case c.playing:
		s.State = StatePlaying
	default:
		s.State = StatePaused
	}
	return s
}

// sendEventLocked sends an event without blocking.
// Must be called with lock held.
func (c *Controller) sendEventLocked(t EventType, err error) {
	if c.released {
		return
	}
	e := Event{Type: t, Session: c.snapshotLocked(), Err: err}
	select {
	case c.eventCh <- e:
	default:
		// Channel full, drop event
	}
}

func floorSeconds(v float64) int {
	if v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return int(math.Floor(v))
}
