package playback

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	cplog "cinepro/internal/log"
	"cinepro/internal/media"
	"cinepro/internal/player"
	"cinepro/internal/progress"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeEngine records what the controller asks of it. Tests push events
// with send.
type fakeEngine struct {
	journal *journal
	loadErr error

	mu        sync.Mutex
	src       player.Source
	subs      []media.SubtitleTrack
	seeks     []float64
	time      float64
	dur       float64
	destroyed int

	events chan player.Event
	loaded chan struct{}
	once   sync.Once
}

func (e *fakeEngine) Name() string    { return "fake" }
func (e *fakeEngine) Available() bool { return true }

func (e *fakeEngine) AttachSubtitleTracks(tracks []media.SubtitleTrack) {
	e.mu.Lock()
	e.subs = tracks
	e.mu.Unlock()
}

func (e *fakeEngine) Load(_ context.Context, src player.Source) error {
	e.mu.Lock()
	e.src = src
	e.mu.Unlock()
	e.journal.add("load " + src.URL)
	close(e.loaded)
	return e.loadErr
}

func (e *fakeEngine) CurrentTime() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.time
}

func (e *fakeEngine) SetCurrentTime(seconds float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.time = player.Clamp(seconds, e.dur)
	e.seeks = append(e.seeks, e.time)
	return nil
}

func (e *fakeEngine) Duration() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dur
}

func (e *fakeEngine) Events() <-chan player.Event { return e.events }

func (e *fakeEngine) Destroy() {
	e.mu.Lock()
	e.destroyed++
	url := e.src.URL
	e.mu.Unlock()
	e.once.Do(func() {
		e.journal.add("destroy " + url)
		close(e.events)
	})
}

func (e *fakeEngine) send(ev player.Event) {
	e.mu.Lock()
	if ev.Duration > 0 {
		e.dur = ev.Duration
	}
	if ev.Type == player.TimeUpdate {
		e.time = ev.Time
	}
	e.mu.Unlock()
	e.events <- ev
}

func (e *fakeEngine) waitLoaded(t *testing.T) player.Source {
	t.Helper()
	select {
	case <-e.loaded:
	case <-time.After(2 * time.Second):
		t.Fatal("engine was never loaded")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.src
}

func (e *fakeEngine) destroyCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.destroyed
}

func (e *fakeEngine) seekLog() []float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]float64(nil), e.seeks...)
}

// journal is an ordered log of engine lifecycle calls.
type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(s string) {
	j.mu.Lock()
	j.entries = append(j.entries, s)
	j.mu.Unlock()
}

func (j *journal) list() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.entries...)
}

type fakeResolver struct {
	mu       sync.Mutex
	catalogs map[string]*media.Catalog
	meta     map[string]*media.Metadata
	gates    map[string]chan struct{}
	srcErr   error
	metaErr  error
	embedErr error
	calls    atomic.Int32
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{
		catalogs: map[string]*media.Catalog{},
		meta:     map[string]*media.Metadata{},
		gates:    map[string]chan struct{}{},
	}
}

func (r *fakeResolver) Resolve(_ context.Context, key media.ContentKey) (*media.Catalog, error) {
	r.calls.Add(1)
	r.mu.Lock()
	gate := r.gates[key.String()]
	r.mu.Unlock()
	if gate != nil {
		<-gate
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.srcErr != nil {
		return nil, r.srcErr
	}
	cat, ok := r.catalogs[key.String()]
	if !ok {
		return &media.Catalog{}, nil
	}
	return &media.Catalog{Sources: cat.Sources, Subtitles: cat.Subtitles}, nil
}

func (r *fakeResolver) ResolveMetadata(_ context.Context, key media.ContentKey) (*media.Metadata, error) {
	r.calls.Add(1)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.metaErr != nil {
		return nil, r.metaErr
	}
	if m, ok := r.meta[key.String()]; ok {
		return m, nil
	}
	return &media.Metadata{Title: "Untitled"}, nil
}

func (r *fakeResolver) ExtractEmbed(_ context.Context, src media.MediaSource) (media.MediaSource, error) {
	if r.embedErr != nil {
		return media.MediaSource{}, r.embedErr
	}
	src.URL += "/extracted.m3u8"
	src.DeliveryType = media.HLS
	return src, nil
}

// recordingStore wraps a Store and records every accepted write.
type recordingStore struct {
	*progress.Store
	mu    sync.Mutex
	saves []float64
}

func (s *recordingStore) Save(e progress.Entry) (bool, error) {
	saved, err := s.Store.Save(e)
	if saved {
		s.mu.Lock()
		s.saves = append(s.saves, e.Watched)
		s.mu.Unlock()
	}
	return saved, err
}

func (s *recordingStore) list() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]float64(nil), s.saves...)
}

type harness struct {
	t        *testing.T
	ctrl     *Controller
	resolver *fakeResolver
	store    *recordingStore
	storage  *progress.MemoryStorage
	journal  *journal
	engines  chan *fakeEngine
	created  atomic.Int32
	loadErrs []error
}

func newHarness(t *testing.T, interval time.Duration) *harness {
	t.Helper()
	h := &harness{
		t:        t,
		resolver: newFakeResolver(),
		storage:  progress.NewMemoryStorage(),
		journal:  &journal{},
		engines:  make(chan *fakeEngine, 16),
	}
	nop := cplog.Nop()
	h.store = &recordingStore{Store: progress.NewStore(h.storage, progress.WithLogger(nop))}
	h.ctrl = New(Config{
		Resolver: h.resolver,
		Store:    h.store,
		NewEngine: func(string) player.Engine {
			n := int(h.created.Add(1))
			e := &fakeEngine{
				journal: h.journal,
				events:  make(chan player.Event, 16),
				loaded:  make(chan struct{}),
			}
			if n <= len(h.loadErrs) {
				e.loadErr = h.loadErrs[n-1]
			}
			h.journal.add("create")
			h.engines <- e
			return e
		},
		SaveInterval: interval,
		Logger:       &nop,
	})
	t.Cleanup(h.ctrl.Close)
	return h
}

func (h *harness) nextEngine() *fakeEngine {
	h.t.Helper()
	select {
	case e := <-h.engines:
		return e
	case <-time.After(2 * time.Second):
		h.t.Fatal("no engine was created")
		return nil
	}
}

func (h *harness) waitFor(desc string, cond func(Snapshot) bool) Snapshot {
	h.t.Helper()
	var snap Snapshot
	require.Eventually(h.t, func() bool {
		snap = h.ctrl.Snapshot()
		return cond(snap)
	}, 2*time.Second, 5*time.Millisecond, desc)
	return snap
}

func (h *harness) waitState(state State) Snapshot {
	h.t.Helper()
	return h.waitFor("state "+state.String(), func(s Snapshot) bool { return s.State == state })
}

func movie(id string) media.ContentKey {
	return media.ContentKey{ID: id, Kind: media.Movie}
}

func episode(id string, season, ep int) media.ContentKey {
	return media.ContentKey{ID: id, Kind: media.Series, Season: season, Episode: ep}
}

func TestStartRejectsInvalidKey(t *testing.T) {
	h := newHarness(t, time.Hour)

	for _, key := range []media.ContentKey{
		{ID: "4a", Kind: media.Movie},
		{ID: "7", Kind: media.Series, Season: 1},
		{ID: "", Kind: media.Anime, Season: 1, Episode: 1},
	} {
		err := h.ctrl.Start(context.Background(), key)
		var ve *media.ValidationError
		assert.True(t, errors.As(err, &ve), "Start(%v) = %v", key, err)
	}

	assert.Equal(t, Idle, h.ctrl.Snapshot().State)
	assert.Zero(t, h.resolver.calls.Load())
	assert.Zero(t, h.created.Load())
}

func TestFailoverScenario(t *testing.T) {
	h := newHarness(t, time.Hour)
	h.resolver.catalogs[movie("42").String()] = &media.Catalog{Sources: []media.MediaSource{
		{URL: "https://cdn.example/a.m3u8", DeliveryType: media.HLS, IsDefault: true},
		{URL: "https://cdn.example/b.mp4", DeliveryType: media.MP4},
	}}

	require.NoError(t, h.ctrl.Start(context.Background(), movie("42")))

	first := h.nextEngine()
	assert.Equal(t, "https://cdn.example/a.m3u8", first.waitLoaded(t).URL)
	assert.Equal(t, "application/x-mpegurl", first.waitLoaded(t).MIMEType)
	h.waitState(Playing)

	first.send(player.Event{Type: player.Error, Fatal: true, Err: errors.New("manifest 403")})

	second := h.nextEngine()
	assert.Equal(t, "https://cdn.example/b.mp4", second.waitLoaded(t).URL)
	snap := h.waitState(Playing)
	assert.Equal(t, 1, snap.SourceIndex)
	assert.Equal(t, 1, first.destroyCount())

	second.send(player.Event{Type: player.Error, Fatal: true, Err: errors.New("decode error")})

	snap = h.waitState(Failed)
	assert.Equal(t, AllSourcesFailed, snap.Reason)
	assert.ErrorIs(t, snap.Err, ErrAllSourcesFailed)
	assert.NotEmpty(t, snap.Message)
	assert.Equal(t, 2, snap.Attempts)
	assert.Equal(t, 1, second.destroyCount())

	// Destroy-then-create on every failover.
	assert.Equal(t, []string{
		"create", "load https://cdn.example/a.m3u8",
		"destroy https://cdn.example/a.m3u8",
		"create", "load https://cdn.example/b.mp4",
		"destroy https://cdn.example/b.mp4",
	}, h.journal.list())

	select {
	case <-h.ctrl.Done():
	default:
		t.Error("Done should be closed after failure")
	}
}

func TestFailoverStartsAtDefaultAndNeverWraps(t *testing.T) {
	h := newHarness(t, time.Hour)
	h.resolver.catalogs[movie("9").String()] = &media.Catalog{Sources: []media.MediaSource{
		{URL: "https://cdn.example/x.mp4", DeliveryType: media.MP4},
		{URL: "https://cdn.example/y.m3u8", DeliveryType: media.HLS},
		{URL: "https://cdn.example/z.webm", DeliveryType: media.WebM},
	}}

	require.NoError(t, h.ctrl.Start(context.Background(), movie("9")))

	var tried []string
	for i := 0; i < 2; i++ {
		e := h.nextEngine()
		tried = append(tried, e.waitLoaded(t).URL)
		e.send(player.Event{Type: player.Error, Fatal: true})
	}

	snap := h.waitState(Failed)
	assert.Equal(t, []string{"https://cdn.example/y.m3u8", "https://cdn.example/z.webm"}, tried)
	assert.Equal(t, 2, snap.Attempts)
	assert.EqualValues(t, 2, h.created.Load(), "sources before the default are never tried")
}

func TestNonFatalErrorDoesNotFailOver(t *testing.T) {
	h := newHarness(t, time.Hour)
	h.resolver.catalogs[movie("1").String()] = &media.Catalog{Sources: []media.MediaSource{
		{URL: "https://cdn.example/a.m3u8", DeliveryType: media.HLS},
		{URL: "https://cdn.example/b.mp4", DeliveryType: media.MP4},
	}}
	require.NoError(t, h.ctrl.Start(context.Background(), movie("1")))

	e := h.nextEngine()
	e.waitLoaded(t)
	h.waitState(Playing)
	e.send(player.Event{Type: player.Error, Fatal: false, Err: errors.New("segment retry")})
	e.send(player.Event{Type: player.TimeUpdate, Time: 3, Duration: 100})

	h.waitFor("time update applied", func(s Snapshot) bool { return s.Time == 3 })
	assert.EqualValues(t, 1, h.created.Load())
}

func TestLoadErrorFailsOver(t *testing.T) {
	h := newHarness(t, time.Hour)
	h.loadErrs = []error{errors.New("mpv not installed")}
	h.resolver.catalogs[movie("1").String()] = &media.Catalog{Sources: []media.MediaSource{
		{URL: "https://cdn.example/a.m3u8", DeliveryType: media.HLS},
		{URL: "https://cdn.example/b.mp4", DeliveryType: media.MP4},
	}}
	require.NoError(t, h.ctrl.Start(context.Background(), movie("1")))

	h.nextEngine()
	second := h.nextEngine()
	assert.Equal(t, "https://cdn.example/b.mp4", second.waitLoaded(t).URL)
	h.waitState(Playing)
}

func TestEmbedSources(t *testing.T) {
	h := newHarness(t, time.Hour)
	h.resolver.catalogs[movie("1").String()] = &media.Catalog{Sources: []media.MediaSource{
		{URL: "https://embed.example/e/1", DeliveryType: media.Embed, IsDefault: true,
			RequestHeaders: map[string]string{"Referer": "https://site.example/"}},
	}}
	require.NoError(t, h.ctrl.Start(context.Background(), movie("1")))

	src := h.nextEngine().waitLoaded(t)
	assert.Equal(t, "https://embed.example/e/1/extracted.m3u8", src.URL)
	assert.Equal(t, "https://site.example/", src.Headers["Referer"])
}

func TestEmbedFailureFailsOver(t *testing.T) {
	h := newHarness(t, time.Hour)
	h.resolver.embedErr = errors.New("no video")
	h.resolver.catalogs[movie("1").String()] = &media.Catalog{Sources: []media.MediaSource{
		{URL: "https://embed.example/e/1", DeliveryType: media.Embed, IsDefault: true},
		{URL: "https://cdn.example/b.mp4", DeliveryType: media.MP4},
	}}
	require.NoError(t, h.ctrl.Start(context.Background(), movie("1")))

	h.nextEngine()
	assert.Equal(t, "https://cdn.example/b.mp4", h.nextEngine().waitLoaded(t).URL)
}

func TestNoSourcesAvailable(t *testing.T) {
	h := newHarness(t, time.Hour)
	require.NoError(t, h.ctrl.Start(context.Background(), movie("5")))

	snap := h.waitState(Failed)
	assert.Equal(t, NoSourcesAvailable, snap.Reason)
	assert.ErrorIs(t, snap.Err, ErrNoSourcesAvailable)
	assert.Zero(t, h.created.Load())
}

func TestResolutionFailed(t *testing.T) {
	h := newHarness(t, time.Hour)
	cause := errors.New("backend down")
	h.resolver.srcErr = cause
	require.NoError(t, h.ctrl.Start(context.Background(), movie("5")))

	snap := h.waitState(Failed)
	assert.Equal(t, ResolutionFailed, snap.Reason)
	assert.Equal(t, "This title could not be found.", snap.Message)
	assert.ErrorIs(t, snap.Err, ErrResolutionFailed)
	assert.ErrorIs(t, snap.Err, cause)
}

func TestMetadataFailureDegrades(t *testing.T) {
	h := newHarness(t, time.Hour)
	h.resolver.metaErr = errors.New("tmdb down")
	h.resolver.catalogs[movie("5").String()] = &media.Catalog{Sources: []media.MediaSource{
		{URL: "https://cdn.example/a.m3u8", DeliveryType: media.HLS},
	}}
	require.NoError(t, h.ctrl.Start(context.Background(), movie("5")))

	h.nextEngine().waitLoaded(t)
	snap := h.waitState(Playing)
	assert.Nil(t, snap.Metadata)
	assert.Empty(t, snap.Title())
}

func TestResumeOnReady(t *testing.T) {
	h := newHarness(t, time.Hour)
	require.NoError(t, h.storage.Set(progress.StorageKey, `{"42":{"progress":{"watched":120,"duration":3600}}}`))
	h.resolver.catalogs[movie("42").String()] = &media.Catalog{Sources: []media.MediaSource{
		{URL: "https://cdn.example/a.m3u8", DeliveryType: media.HLS},
	}}
	require.NoError(t, h.ctrl.Start(context.Background(), movie("42")))

	e := h.nextEngine()
	e.waitLoaded(t)
	h.waitState(Playing)
	assert.Empty(t, e.seekLog(), "no seek before the engine is ready")

	e.send(player.Event{Type: player.Ready, Duration: 3600})
	h.waitState(Seeking)
	assert.Equal(t, []float64{120}, e.seekLog())
	assert.Equal(t, 120.0, e.CurrentTime())

	e.send(player.Event{Type: player.Seeked, Time: 120, Duration: 3600})
	h.waitState(Playing)

	// A second ready does not seek again.
	e.send(player.Event{Type: player.Ready, Duration: 3600})
	e.send(player.Event{Type: player.TimeUpdate, Time: 121, Duration: 3600})
	h.waitFor("time advanced", func(s Snapshot) bool { return s.Time == 121 })
	assert.Len(t, e.seekLog(), 1)
}

func TestFailoverResumesFromLastPosition(t *testing.T) {
	h := newHarness(t, time.Hour)
	h.resolver.catalogs[movie("42").String()] = &media.Catalog{Sources: []media.MediaSource{
		{URL: "https://cdn.example/a.m3u8", DeliveryType: media.HLS},
		{URL: "https://cdn.example/b.mp4", DeliveryType: media.MP4},
	}}
	require.NoError(t, h.ctrl.Start(context.Background(), movie("42")))

	first := h.nextEngine()
	first.waitLoaded(t)
	first.send(player.Event{Type: player.Ready, Duration: 3600})
	first.send(player.Event{Type: player.TimeUpdate, Time: 300, Duration: 3600})
	h.waitFor("position", func(s Snapshot) bool { return s.Time == 300 })
	first.send(player.Event{Type: player.Error, Fatal: true})

	second := h.nextEngine()
	second.waitLoaded(t)
	second.send(player.Event{Type: player.Ready, Duration: 3600})
	h.waitState(Seeking)
	assert.Equal(t, []float64{300}, second.seekLog())
}

func TestThrottledSaves(t *testing.T) {
	const interval = 100 * time.Millisecond
	h := newHarness(t, interval)
	h.resolver.catalogs[movie("42").String()] = &media.Catalog{Sources: []media.MediaSource{
		{URL: "https://cdn.example/a.m3u8", DeliveryType: media.HLS},
	}}
	require.NoError(t, h.ctrl.Start(context.Background(), movie("42")))

	e := h.nextEngine()
	e.waitLoaded(t)
	e.send(player.Event{Type: player.Ready, Duration: 600})
	for _, pos := range []float64{10, 11, 12} {
		e.send(player.Event{Type: player.TimeUpdate, Time: pos, Duration: 600})
	}

	require.Eventually(t, func() bool { return len(h.store.list()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []float64{12}, h.store.list(), "a burst coalesces into one write of the latest position")

	// Arm the timer again, then tear down before it fires.
	e.send(player.Event{Type: player.TimeUpdate, Time: 20, Duration: 600})
	h.waitFor("position 20", func(s Snapshot) bool { return s.Time == 20 })
	h.ctrl.Close()

	time.Sleep(2 * interval)
	assert.Equal(t, []float64{12, 20}, h.store.list(), "teardown saves once and the pending timer never fires")

	pos, err := h.store.ResumePosition(movie("42"))
	require.NoError(t, err)
	assert.Equal(t, 20.0, pos)
}

func TestEndedSavesAndFinishes(t *testing.T) {
	h := newHarness(t, time.Hour)
	h.resolver.catalogs[movie("42").String()] = &media.Catalog{Sources: []media.MediaSource{
		{URL: "https://cdn.example/a.m3u8", DeliveryType: media.HLS},
	}}
	require.NoError(t, h.ctrl.Start(context.Background(), movie("42")))

	e := h.nextEngine()
	e.waitLoaded(t)
	e.send(player.Event{Type: player.Ready, Duration: 1000})
	e.send(player.Event{Type: player.TimeUpdate, Time: 400, Duration: 1000})
	h.waitFor("position", func(s Snapshot) bool { return s.Time == 400 })

	// The engine stopped mid-way (e.g. the window was closed).
	e.send(player.Event{Type: player.Ended, Time: 450, Duration: 1000})
	h.waitState(Ended)

	assert.Equal(t, []float64{450}, h.store.list())
	assert.Equal(t, 1, e.destroyCount())
	select {
	case <-h.ctrl.Done():
	case <-time.After(time.Second):
		t.Fatal("Done not closed after Ended")
	}
}

func TestStaleResolutionIsDropped(t *testing.T) {
	h := newHarness(t, time.Hour)
	gate := make(chan struct{})
	h.resolver.gates[movie("100").String()] = gate
	h.resolver.catalogs[movie("100").String()] = &media.Catalog{Sources: []media.MediaSource{
		{URL: "https://cdn.example/x.m3u8", DeliveryType: media.HLS},
	}}
	h.resolver.catalogs[movie("200").String()] = &media.Catalog{Sources: []media.MediaSource{
		{URL: "https://cdn.example/y.m3u8", DeliveryType: media.HLS},
	}}

	require.NoError(t, h.ctrl.Start(context.Background(), movie("100")))
	require.NoError(t, h.ctrl.Start(context.Background(), movie("200")))

	e := h.nextEngine()
	assert.Equal(t, "https://cdn.example/y.m3u8", e.waitLoaded(t).URL)
	before := h.waitState(Playing)

	close(gate)
	// Give the stale continuation time to run.
	time.Sleep(50 * time.Millisecond)

	after := h.ctrl.Snapshot()
	assert.Equal(t, before.SessionID, after.SessionID)
	assert.True(t, after.Key.Equal(movie("200")))
	assert.Equal(t, Playing, after.State)
	assert.EqualValues(t, 1, h.created.Load(), "the stale key never got an engine")
}

func TestEpisodeNavigation(t *testing.T) {
	h := newHarness(t, time.Hour)
	h.resolver.meta[episode("7", 1, 1).String()] = &media.Metadata{Title: "Show", Seasons: []media.Season{{Number: 1, EpisodeCount: 2}}}
	for _, ep := range []int{1, 2} {
		h.resolver.catalogs[episode("7", 1, ep).String()] = &media.Catalog{Sources: []media.MediaSource{
			{URL: "https://cdn.example/ep.m3u8", DeliveryType: media.HLS},
		}}
	}

	ctx := context.Background()
	require.NoError(t, h.ctrl.Start(ctx, episode("7", 1, 1)))
	first := h.nextEngine()
	first.waitLoaded(t)
	snap := h.waitFor("metadata", func(s Snapshot) bool { return s.HasNext })
	assert.False(t, snap.HasPrevious)
	assert.ErrorIs(t, h.ctrl.PreviousEpisode(ctx), ErrNoPreviousEpisode)

	require.NoError(t, h.ctrl.NextEpisode(ctx))
	assert.Equal(t, 1, first.destroyCount(), "navigation destroys the old engine")

	second := h.nextEngine()
	second.waitLoaded(t)
	snap = h.waitState(Playing)
	assert.True(t, snap.Key.Equal(episode("7", 1, 2)))
	assert.True(t, snap.HasPrevious)
	assert.ErrorIs(t, h.ctrl.NextEpisode(ctx), ErrNoNextEpisode)

	require.NoError(t, h.ctrl.PreviousEpisode(ctx))
	h.nextEngine().waitLoaded(t)
	snap = h.waitState(Playing)
	assert.True(t, snap.Key.Equal(episode("7", 1, 1)))
}

func TestSeekControls(t *testing.T) {
	h := newHarness(t, time.Hour)
	assert.ErrorIs(t, h.ctrl.Seek(10), ErrNoSession)

	h.resolver.catalogs[movie("1").String()] = &media.Catalog{Sources: []media.MediaSource{
		{URL: "https://cdn.example/a.m3u8", DeliveryType: media.HLS},
	}}
	require.NoError(t, h.ctrl.Start(context.Background(), movie("1")))
	e := h.nextEngine()
	e.waitLoaded(t)
	e.send(player.Event{Type: player.Ready, Duration: 100})
	e.send(player.Event{Type: player.TimeUpdate, Time: 50, Duration: 100})
	h.waitFor("position", func(s Snapshot) bool { return s.Time == 50 })

	require.NoError(t, h.ctrl.SeekBy(10))
	require.NoError(t, h.ctrl.Seek(500))
	require.NoError(t, h.ctrl.SeekBy(-1000))
	assert.Equal(t, []float64{60, 100, 0}, e.seekLog())
	assert.Equal(t, Seeking, h.ctrl.Snapshot().State)
}

func TestSelectSourceRevivesFailedSession(t *testing.T) {
	h := newHarness(t, time.Hour)
	h.resolver.catalogs[movie("1").String()] = &media.Catalog{Sources: []media.MediaSource{
		{URL: "https://cdn.example/a.mp4", DeliveryType: media.MP4},
		{URL: "https://cdn.example/b.mp4", DeliveryType: media.MP4},
	}}
	require.NoError(t, h.ctrl.Start(context.Background(), movie("1")))

	// Last entry is the default when nothing is HLS or marked default.
	e := h.nextEngine()
	assert.Equal(t, "https://cdn.example/b.mp4", e.waitLoaded(t).URL)
	e.send(player.Event{Type: player.Error, Fatal: true})
	h.waitState(Failed)

	assert.Error(t, h.ctrl.SelectSource(5))
	require.NoError(t, h.ctrl.SelectSource(0))
	assert.Equal(t, "https://cdn.example/a.mp4", h.nextEngine().waitLoaded(t).URL)

	snap := h.waitState(Playing)
	assert.Equal(t, NoReason, snap.Reason)
	assert.Equal(t, 1, snap.Attempts)
	select {
	case <-h.ctrl.Done():
		t.Error("revived session should not be done")
	default:
	}
}

func TestUpdatesCoalesce(t *testing.T) {
	h := newHarness(t, time.Hour)
	require.NoError(t, h.ctrl.Start(context.Background(), movie("5")))
	h.waitState(Failed)

	snap := <-h.ctrl.Updates()
	assert.Equal(t, Failed, snap.State, "only the latest snapshot is buffered")
}

func TestCloseIsIdempotent(t *testing.T) {
	h := newHarness(t, time.Hour)
	h.ctrl.Close()
	h.ctrl.Close()

	assert.ErrorIs(t, h.ctrl.Start(context.Background(), movie("1")), ErrClosed)
	_, open := <-h.ctrl.Updates()
	assert.False(t, open)
}

func TestSeriesProgressIsPerEpisode(t *testing.T) {
	h := newHarness(t, time.Hour)
	key := episode("7", 1, 2)
	h.resolver.meta[key.String()] = &media.Metadata{Title: "Show", PosterPath: "/p.jpg"}
	h.resolver.catalogs[key.String()] = &media.Catalog{Sources: []media.MediaSource{
		{URL: "https://cdn.example/ep.m3u8", DeliveryType: media.HLS},
	}}
	require.NoError(t, h.ctrl.Start(context.Background(), key))

	e := h.nextEngine()
	e.waitLoaded(t)
	h.waitFor("metadata", func(s Snapshot) bool { return s.Title() == "Show" })
	e.send(player.Event{Type: player.Ready, Duration: 1500})
	e.send(player.Event{Type: player.TimeUpdate, Time: 640, Duration: 1500})
	h.waitFor("position", func(s Snapshot) bool { return s.Time == 640 })
	h.ctrl.Close()

	rec, err := h.store.Load("7")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "Show", rec.Title)
	assert.Equal(t, "/p.jpg", rec.PosterPath)
	assert.Equal(t, "1", rec.LastSeasonWatched)
	assert.Equal(t, "2", rec.LastEpisodeWatched)
	require.Contains(t, rec.ShowProgress, "s1e2")
	assert.Equal(t, 640.0, rec.ShowProgress["s1e2"].Progress.Watched)
}
