// Package progress persists watched positions keyed by content id, so a
// session can resume where the last one stopped.
package progress

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"cinepro/internal/media"
)

// StorageKey is the well-known key the whole progress map is stored under.
const StorageKey = "cinepro_playback_progress"

// MinWatched is the engagement floor and the end-of-media margin, in seconds.
const MinWatched = 5.0

// ErrStoreIO wraps storage read/write and decode failures.
var ErrStoreIO = errors.New("progress store I/O")

// errCorrupt marks a stored blob that exists but cannot be decoded.
var errCorrupt = errors.New("corrupt progress blob")

// Position is a watched/duration pair in seconds.
type Position struct {
	Watched  float64 `json:"watched"`
	Duration float64 `json:"duration"`
}

// EpisodeProgress is one entry of a series' per-episode map.
type EpisodeProgress struct {
	Season   string   `json:"season"`
	Episode  string   `json:"episode"`
	Progress Position `json:"progress"`
}

// Record is the persisted progress for one content id.
type Record struct {
	ID                 string                     `json:"id"`
	Kind               media.Kind                 `json:"type"`
	Title              string                     `json:"title"`
	PosterPath         string                     `json:"poster_path"`
	BackdropPath       string                     `json:"backdrop_path"`
	Progress           Position                   `json:"progress"`
	LastUpdated        int64                      `json:"last_updated"` // unix millis
	LastSeasonWatched  string                     `json:"last_season_watched,omitempty"`
	LastEpisodeWatched string                     `json:"last_episode_watched,omitempty"`
	ShowProgress       map[string]EpisodeProgress `json:"show_progress,omitempty"`
}

// Entry is what a session hands to Save.
type Entry struct {
	Key          media.ContentKey
	Title        string
	PosterPath   string
	BackdropPath string
	Watched      float64
	Duration     float64
}

// ShouldPersist applies the write guard: unknown or infinite durations,
// negligible engagement and near-finished positions are not recorded.
func ShouldPersist(watched, duration float64) bool {
	if duration <= 0 || math.IsInf(duration, 0) || math.IsNaN(duration) || math.IsNaN(watched) {
		return false
	}
	if watched < MinWatched {
		return false
	}
	return watched < duration-MinWatched
}

// Store is the process-wide progress store. It is safe for concurrent use.
type Store struct {
	storage    Storage
	maxEntries int
	logger     zerolog.Logger
	now        func() time.Time

	mu sync.Mutex
}

// Option configures a Store.
type Option func(*Store)

// WithMaxEntries bounds the number of records; the least recently updated
// are evicted first. Zero means unbounded.
func WithMaxEntries(n int) Option {
	return func(s *Store) { s.maxEntries = n }
}

// WithLogger sets the logger used for absorbed storage errors.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore creates a store over the given storage backend.
func NewStore(storage Storage, opts ...Option) *Store {
	s := &Store{
		storage: storage,
		logger:  zerolog.Nop(),
		now:     time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Store) read() (map[string]*Record, error) {
	raw, ok, err := s.storage.Get(StorageKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreIO, err)
	}
	records := make(map[string]*Record)
	if !ok || raw == "" {
		return records, nil
	}
	if err := json.Unmarshal([]byte(raw), &records); err != nil {
		return nil, fmt.Errorf("%w: %w: %v", ErrStoreIO, errCorrupt, err)
	}
	return records, nil
}

func (s *Store) write(records map[string]*Record) error {
	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("%w: encoding progress: %v", ErrStoreIO, err)
	}
	if err := s.storage.Set(StorageKey, string(data)); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreIO, err)
	}
	return nil
}

// Load returns the record for contentID, or nil if there is none.
func (s *Store) Load(contentID string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.read()
	if err != nil {
		return nil, err
	}
	return records[contentID], nil
}

// ResumePosition returns where playback of key should resume, or 0.
// Movies use the top-level position; series and anime use the entry for
// the key's season and episode.
func (s *Store) ResumePosition(key media.ContentKey) (float64, error) {
	rec, err := s.Load(key.ID)
	if err != nil || rec == nil {
		return 0, err
	}
	if !key.Kind.Episodic() {
		return rec.Progress.Watched, nil
	}
	ep, ok := rec.ShowProgress[key.EpisodeKey()]
	if !ok {
		return 0, nil
	}
	return ep.Progress.Watched, nil
}

// Save upserts the record for e.Key.ID. It reports whether anything was
// written; entries failing ShouldPersist are ignored. Per-episode entries of
// the same series are merged: the entry for this episode is replaced, others
// are kept.
func (s *Store) Save(e Entry) (bool, error) {
	if !ShouldPersist(e.Watched, e.Duration) {
		return false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.read()
	if err != nil {
		if !errors.Is(err, errCorrupt) {
			return false, err
		}
		s.logger.Warn().Err(err).Msg("progress store unreadable, starting from empty")
		records = make(map[string]*Record)
	}

	pos := Position{Watched: e.Watched, Duration: e.Duration}
	rec := &Record{
		ID:           e.Key.ID,
		Kind:         e.Key.Kind,
		Title:        e.Title,
		PosterPath:   e.PosterPath,
		BackdropPath: e.BackdropPath,
		Progress:     pos,
		LastUpdated:  s.now().UnixMilli(),
	}
	if rec.Title == "" {
		rec.Title = "Unknown Title"
	}

	if e.Key.Kind.Episodic() {
		season := strconv.Itoa(e.Key.Season)
		episode := strconv.Itoa(e.Key.Episode)

		rec.LastSeasonWatched = season
		rec.LastEpisodeWatched = episode
		rec.ShowProgress = make(map[string]EpisodeProgress)
		if existing := records[e.Key.ID]; existing != nil {
			for k, v := range existing.ShowProgress {
				rec.ShowProgress[k] = v
			}
		}
		rec.ShowProgress[e.Key.EpisodeKey()] = EpisodeProgress{
			Season:   season,
			Episode:  episode,
			Progress: pos,
		}
	}

	records[e.Key.ID] = rec
	s.evict(records, e.Key.ID)

	if err := s.write(records); err != nil {
		return false, err
	}
	return true, nil
}

// evict drops the least recently updated records beyond maxEntries, never
// the one just written.
func (s *Store) evict(records map[string]*Record, keep string) {
	if s.maxEntries <= 0 || len(records) <= s.maxEntries {
		return
	}
	ids := lo.Keys(records)
	sort.Slice(ids, func(i, j int) bool {
		return records[ids[i]].LastUpdated < records[ids[j]].LastUpdated
	})
	for _, id := range ids {
		if len(records) <= s.maxEntries {
			break
		}
		if id == keep {
			continue
		}
		delete(records, id)
		s.logger.Debug().Str("content_id", id).Msg("evicted progress record")
	}
}

// List returns every record, most recently updated first.
func (s *Store) List() ([]*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.read()
	if err != nil {
		return nil, err
	}
	list := lo.Values(records)
	sort.Slice(list, func(i, j int) bool {
		if list[i].LastUpdated == list[j].LastUpdated {
			return list[i].ID < list[j].ID
		}
		return list[i].LastUpdated > list[j].LastUpdated
	})
	return list, nil
}

// Remove deletes the record for contentID. Removing a missing id is not an error.
func (s *Store) Remove(contentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.read()
	if err != nil {
		return err
	}
	if _, ok := records[contentID]; !ok {
		return nil
	}
	delete(records, contentID)
	return s.write(records)
}
