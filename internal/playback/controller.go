package playback

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	cplog "cinepro/internal/log"
	"cinepro/internal/media"
	"cinepro/internal/player"
	"cinepro/internal/progress"
)

// DefaultSaveInterval is the minimum gap between throttled progress writes.
const DefaultSaveInterval = 5 * time.Second

// Resolver fetches what a session needs for a content key.
type Resolver interface {
	Resolve(ctx context.Context, key media.ContentKey) (*media.Catalog, error)
	ResolveMetadata(ctx context.Context, key media.ContentKey) (*media.Metadata, error)
	ExtractEmbed(ctx context.Context, src media.MediaSource) (media.MediaSource, error)
}

// ProgressStore reads and writes watched positions.
type ProgressStore interface {
	ResumePosition(key media.ContentKey) (float64, error)
	Save(e progress.Entry) (bool, error)
}

// Config wires a Controller to its collaborators.
type Config struct {
	Resolver Resolver
	Store    ProgressStore // optional
	// NewEngine creates a fresh engine for each source attempt, titled with
	// the metadata title when it is already known. The engine kind is fixed
	// for the lifetime of the controller.
	NewEngine    func(title string) player.Engine
	SaveInterval time.Duration
	Logger       *zerolog.Logger
}

// session is the runtime state of one content key. It is owned by the
// Controller and only touched with Controller.mu held.
type session struct {
	id     string
	gen    uint64
	key    media.ContentKey
	ctx    context.Context
	cancel context.CancelFunc
	log    zerolog.Logger
	done   chan struct{}

	state   State
	reason  Reason
	cause   error
	message string

	sources   []media.MediaSource
	index     int
	attempts  int
	subtitles []media.SubtitleTrack
	metadata  *media.Metadata

	engine  player.Engine
	attempt uint64 // bumped on every engine create and destroy
	resumed bool   // resume seek issued for the current engine
	time    float64
	dur     float64

	saveTimer *time.Timer
	saveSeq   uint64
}

func (s *session) finish() {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
}

// Controller runs one playback session at a time. Every transition happens
// with mu held; async continuations carry the session and engine attempt
// they were started for and are dropped when either is stale.
type Controller struct {
	resolver     Resolver
	store        ProgressStore
	newEngine    func(title string) player.Engine
	saveInterval time.Duration
	log          zerolog.Logger

	mu      sync.Mutex
	gen     uint64
	sess    *session
	closed  bool
	updates chan Snapshot
	wg      sync.WaitGroup
}

var closedDone = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// New creates a Controller.
func New(cfg Config) *Controller {
	interval := cfg.SaveInterval
	if interval <= 0 {
		interval = DefaultSaveInterval
	}
	logger := cplog.WithComponent("playback")
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	return &Controller{
		resolver:     cfg.Resolver,
		store:        cfg.Store,
		newEngine:    cfg.NewEngine,
		saveInterval: interval,
		log:          logger,
		updates:      make(chan Snapshot, 1),
	}
}

// Start tears down the current session and starts a new one for key.
// A malformed key returns *media.ValidationError and changes nothing.
func (c *Controller) Start(ctx context.Context, key media.ContentKey) error {
	if err := key.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}

	c.teardownLocked()

	c.gen++
	sctx, cancel := context.WithCancel(ctx)
	id := uuid.NewString()
	s := &session{
		id:     id,
		gen:    c.gen,
		key:    key,
		ctx:    sctx,
		cancel: cancel,
		log:    c.log.With().Str("session", id).Str("key", key.String()).Logger(),
		done:   make(chan struct{}),
		state:  Resolving,
		index:  -1,
	}
	c.sess = s
	s.log.Info().Msg("session started")
	c.publishLocked()

	c.spawnLocked(func() { c.resolveSources(s) })
	c.spawnLocked(func() { c.resolveMetadata(s) })
	return nil
}

// Snapshot returns a copy of the current session state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Updates delivers the latest snapshot after every transition. Only the
// most recent snapshot is kept; the channel is closed by Close.
func (c *Controller) Updates() <-chan Snapshot {
	return c.updates
}

// Done is closed when the current session fails, ends or is replaced.
func (c *Controller) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return closedDone
	}
	return c.sess.done
}

// Seek moves playback to an absolute position.
func (c *Controller) Seek(seconds float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seekLocked(seconds)
}

// SeekBy moves playback relative to the current position.
func (c *Controller) SeekBy(delta float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return ErrNoSession
	}
	return c.seekLocked(c.sess.time + delta)
}

// NextEpisode starts a session for the following episode of the season.
func (c *Controller) NextEpisode(ctx context.Context) error {
	c.mu.Lock()
	s := c.sess
	if s == nil {
		c.mu.Unlock()
		return ErrNoSession
	}
	next := media.NextEpisode(s.key, s.metadata.EpisodeCount(s.key.Season))
	c.mu.Unlock()

	if next == nil {
		return ErrNoNextEpisode
	}
	return c.Start(ctx, *next)
}

// PreviousEpisode starts a session for the preceding episode of the season.
func (c *Controller) PreviousEpisode(ctx context.Context) error {
	c.mu.Lock()
	s := c.sess
	if s == nil {
		c.mu.Unlock()
		return ErrNoSession
	}
	prev := media.PreviousEpisode(s.key)
	c.mu.Unlock()

	if prev == nil {
		return ErrNoPreviousEpisode
	}
	return c.Start(ctx, *prev)
}

// SelectSource switches to candidate i, replacing the running engine. The
// failover chain restarts from i, so a failed session can be revived.
func (c *Controller) SelectSource(i int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.sess
	if s == nil || len(s.sources) == 0 {
		return ErrNoSession
	}
	if i < 0 || i >= len(s.sources) {
		return fmt.Errorf("source %d out of range [0, %d)", i, len(s.sources))
	}

	c.saveLocked(s)
	c.destroyEngineLocked(s)
	if s.state.Terminal() {
		s.done = make(chan struct{})
	}
	s.reason, s.cause, s.message = NoReason, nil, ""
	s.attempts = 0
	s.index = i
	s.log.Info().Int("source", i).Msg("source selected manually")
	c.loadLocked(s)
	return nil
}

// Close ends the current session with a final progress save and waits for
// every background goroutine to exit.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.teardownLocked()
	c.mu.Unlock()

	c.wg.Wait()
	close(c.updates)
}

func (c *Controller) spawnLocked(f func()) {
	if c.closed {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		f()
	}()
}

func (c *Controller) current(s *session) bool {
	return c.sess == s && s.gen == c.gen
}

func (c *Controller) currentAttempt(s *session, attempt uint64) bool {
	return c.current(s) && s.attempt == attempt
}

func (c *Controller) resolveSources(s *session) {
	catalog, err := c.resolver.Resolve(s.ctx, s.key)

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.current(s) {
		s.log.Debug().Msg("dropping stale source resolution")
		return
	}
	if err != nil {
		c.failLocked(s, ResolutionFailed, err)
		return
	}
	if len(catalog.Sources) == 0 {
		c.failLocked(s, NoSourcesAvailable, nil)
		return
	}

	s.sources = catalog.Sources
	s.subtitles = catalog.Subtitles
	s.index = media.DefaultSourceIndex(s.sources)
	s.log.Debug().Int("sources", len(s.sources)).Int("default", s.index).Msg("sources resolved")
	c.loadLocked(s)
}

func (c *Controller) resolveMetadata(s *session) {
	meta, err := c.resolver.ResolveMetadata(s.ctx, s.key)

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.current(s) {
		return
	}
	if err != nil {
		s.log.Warn().Err(err).Msg("metadata unavailable")
		return
	}
	s.metadata = meta
	c.publishLocked()
}

// loadLocked creates an engine for s.sources[s.index] and starts loading it
// in the background. The previous engine must already be destroyed.
func (c *Controller) loadLocked(s *session) {
	var title string
	if s.metadata != nil {
		title = s.metadata.Title
	}
	eng := c.newEngine(title)
	s.engine = eng
	s.attempt++
	s.attempts++
	s.resumed = false
	s.state = SourceSelected
	attempt := s.attempt
	src := s.sources[s.index]

	s.log.Info().
		Int("source", s.index).
		Int("attempt", s.attempts).
		Str("engine", eng.Name()).
		Str("type", src.DeliveryType.String()).
		Msg("loading source")
	c.publishLocked()

	eng.AttachSubtitleTracks(s.subtitles)
	c.spawnLocked(func() {
		for ev := range eng.Events() {
			c.handleEvent(s, attempt, ev)
		}
	})
	c.spawnLocked(func() { c.load(s, attempt, eng, src) })
}

func (c *Controller) load(s *session, attempt uint64, eng player.Engine, src media.MediaSource) {
	if src.DeliveryType == media.Embed {
		extracted, err := c.resolver.ExtractEmbed(s.ctx, src)
		if err != nil {
			c.engineFailed(s, attempt, fmt.Errorf("extracting embed: %w", err))
			return
		}
		src = extracted
	}

	if err := eng.Load(s.ctx, player.SourceFrom(src)); err != nil {
		c.engineFailed(s, attempt, err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.currentAttempt(s, attempt) && s.state == SourceSelected {
		s.state = Playing
		c.publishLocked()
	}
}

func (c *Controller) engineFailed(s *session, attempt uint64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.currentAttempt(s, attempt) {
		return
	}
	c.failoverLocked(s, err)
}

func (c *Controller) handleEvent(s *session, attempt uint64, ev player.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.currentAttempt(s, attempt) {
		return
	}

	switch ev.Type {
	case player.Ready:
		if s.state == SourceSelected {
			s.state = Playing
		}
		s.dur = ev.Duration
		c.resumeLocked(s)
		c.publishLocked()

	case player.TimeUpdate:
		s.time, s.dur = ev.Time, ev.Duration
		if s.state == SourceSelected {
			s.state = Playing
		}
		c.scheduleSaveLocked(s)
		c.publishLocked()

	case player.Seeked:
		s.time = ev.Time
		if ev.Duration > 0 {
			s.dur = ev.Duration
		}
		if s.state == Seeking {
			s.state = Playing
		}
		c.publishLocked()

	case player.Ended:
		if ev.Time > 0 {
			s.time = ev.Time
		}
		c.stopTimerLocked(s)
		c.saveLocked(s)
		c.destroyEngineLocked(s)
		s.state = Ended
		s.finish()
		s.log.Info().Msg("playback ended")
		c.publishLocked()

	case player.Error:
		if !ev.Fatal {
			s.log.Debug().Err(ev.Err).Msg("recoverable engine error")
			return
		}
		c.failoverLocked(s, ev.Err)
	}
}

// resumeLocked seeks once per engine: to the position reached before a
// failover, else to the stored progress for the key.
func (c *Controller) resumeLocked(s *session) {
	if s.resumed || s.engine == nil {
		return
	}
	s.resumed = true

	target := s.time
	if target <= 0 && c.store != nil {
		pos, err := c.store.ResumePosition(s.key)
		if err != nil {
			s.log.Warn().Err(err).Msg("resume position unavailable")
		}
		target = pos
	}
	if target <= 0 {
		return
	}

	s.state = Seeking
	if err := s.engine.SetCurrentTime(target); err != nil {
		s.log.Warn().Err(err).Float64("position", target).Msg("resume seek failed")
		s.state = Playing
		return
	}
	s.time = s.engine.CurrentTime()
	s.log.Debug().Float64("position", s.time).Msg("resumed")
}

func (c *Controller) seekLocked(seconds float64) error {
	s := c.sess
	if s == nil || s.engine == nil || (s.state != Playing && s.state != Seeking) {
		return ErrNoSession
	}
	s.state = Seeking
	if err := s.engine.SetCurrentTime(seconds); err != nil {
		s.state = Playing
		return fmt.Errorf("seeking: %w", err)
	}
	s.time = s.engine.CurrentTime()
	c.publishLocked()
	return nil
}

// failoverLocked destroys the failed engine and moves forward to the next
// candidate. Candidates before the starting index are never tried.
func (c *Controller) failoverLocked(s *session, cause error) {
	s.log.Warn().Err(cause).Int("source", s.index).Msg("source failed")
	c.destroyEngineLocked(s)

	if s.index >= len(s.sources)-1 {
		c.failLocked(s, AllSourcesFailed, cause)
		return
	}
	s.index++
	c.loadLocked(s)
}

func (c *Controller) failLocked(s *session, reason Reason, cause error) {
	c.stopTimerLocked(s)
	c.saveLocked(s)
	c.destroyEngineLocked(s)

	s.state = Failed
	s.reason = reason
	s.cause = cause
	s.message = reason.Message()
	s.finish()
	s.log.Error().Err(cause).Str("reason", reason.String()).Msg("session failed")
	c.publishLocked()
}

// err is the sentinel for the failure reason, wrapping its cause when known.
func (s *session) err() error {
	sentinel := s.reason.Err()
	if sentinel == nil || s.cause == nil {
		return sentinel
	}
	return fmt.Errorf("%w: %w", sentinel, s.cause)
}

func (c *Controller) destroyEngineLocked(s *session) {
	if s.engine == nil {
		return
	}
	s.engine.Destroy()
	s.engine = nil
	s.attempt++
}

// teardownLocked ends the current session: pending throttled saves are
// superseded by one final save, then the engine is destroyed.
func (c *Controller) teardownLocked() {
	s := c.sess
	if s == nil {
		return
	}
	s.cancel()
	c.stopTimerLocked(s)
	if !s.state.Terminal() {
		c.saveLocked(s)
	}
	c.destroyEngineLocked(s)
	s.finish()
	s.log.Debug().Msg("session torn down")
	c.sess = nil
}

// scheduleSaveLocked arms the save timer unless it is already armed, so
// at most one write happens per interval and it records the latest position.
func (c *Controller) scheduleSaveLocked(s *session) {
	if s.saveTimer != nil {
		return
	}
	seq := s.saveSeq
	s.saveTimer = time.AfterFunc(c.saveInterval, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if !c.current(s) || s.saveSeq != seq {
			return
		}
		s.saveTimer = nil
		s.saveSeq++
		c.saveLocked(s)
	})
}

func (c *Controller) stopTimerLocked(s *session) {
	if s.saveTimer != nil {
		s.saveTimer.Stop()
		s.saveTimer = nil
	}
	s.saveSeq++
}

func (c *Controller) saveLocked(s *session) {
	if c.store == nil || s.dur <= 0 {
		return
	}
	entry := progress.Entry{
		Key:      s.key,
		Watched:  s.time,
		Duration: s.dur,
	}
	if s.metadata != nil {
		entry.Title = s.metadata.Title
		entry.PosterPath = s.metadata.PosterPath
		entry.BackdropPath = s.metadata.BackdropPath
	}
	saved, err := c.store.Save(entry)
	if err != nil {
		s.log.Warn().Err(err).Msg("saving progress")
		return
	}
	if saved {
		s.log.Debug().Float64("watched", s.time).Msg("progress saved")
	}
}

func (c *Controller) snapshotLocked() Snapshot {
	s := c.sess
	if s == nil {
		return Snapshot{State: Idle, SourceIndex: -1}
	}
	snap := Snapshot{
		SessionID:   s.id,
		Key:         s.key,
		State:       s.state,
		Reason:      s.reason,
		Message:     s.message,
		Err:         s.err(),
		Sources:     slices.Clone(s.sources),
		SourceIndex: s.index,
		Attempts:    s.attempts,
		Subtitles:   slices.Clone(s.subtitles),
		Metadata:    s.metadata,
		Time:        s.time,
		Duration:    s.dur,
		HasNext:     media.NextEpisode(s.key, s.metadata.EpisodeCount(s.key.Season)) != nil,
		HasPrevious: media.PreviousEpisode(s.key) != nil,
	}
	if s.engine != nil {
		snap.Engine = s.engine.Name()
	}
	return snap
}

func (c *Controller) publishLocked() {
	snap := c.snapshotLocked()
	select {
	case <-c.updates:
	default:
	}
	select {
	case c.updates <- snap:
	default:
	}
}
