package media

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"cinepro/internal/httputil"
)

// ValidationError reports a malformed ContentKey field. It is raised before
// any network call is made.
type ValidationError struct {
	Field string
	Value string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %q: %v", e.Field, e.Value, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// ContentKey identifies a watchable unit: a movie, or a show plus season and episode.
type ContentKey struct {
	ID      string
	Kind    Kind
	Season  int // series/anime only
	Episode int // series/anime only
}

// Equal reports whether two keys address the same content.
func (k ContentKey) Equal(o ContentKey) bool {
	return k.ID == o.ID && k.Kind == o.Kind && k.Season == o.Season && k.Episode == o.Episode
}

// EpisodeKey returns the per-episode map key, e.g. "s1e2".
func (k ContentKey) EpisodeKey() string {
	return fmt.Sprintf("s%de%d", k.Season, k.Episode)
}

func (k ContentKey) String() string {
	if k.Kind.Episodic() {
		return fmt.Sprintf("%s/%s S%02dE%02d", k.Kind, k.ID, k.Season, k.Episode)
	}
	return fmt.Sprintf("%s/%s", k.Kind, k.ID)
}

// Validate checks that the key can be turned into backend URLs safely.
func (k ContentKey) Validate() error {
	if err := httputil.ValidateNumericID(k.ID); err != nil {
		return &ValidationError{Field: "id", Value: k.ID, Err: err}
	}
	if !k.Kind.Episodic() {
		return nil
	}
	if k.Season < 1 {
		return &ValidationError{Field: "season", Value: strconv.Itoa(k.Season), Err: fmt.Errorf("must be a positive number")}
	}
	if k.Episode < 1 {
		return &ValidationError{Field: "episode", Value: strconv.Itoa(k.Episode), Err: fmt.Errorf("must be a positive number")}
	}
	return nil
}

// ParseKey builds a key from raw string parts, validating each of them.
// Season and episode may be empty for movies.
func ParseKey(kind Kind, id, season, episode string) (ContentKey, error) {
	key := ContentKey{ID: id, Kind: kind}
	if err := httputil.ValidateNumericID(id); err != nil {
		return key, &ValidationError{Field: "id", Value: id, Err: err}
	}
	if !kind.Episodic() {
		return key, nil
	}
	if err := httputil.ValidateNumericID(season); err != nil {
		return key, &ValidationError{Field: "season", Value: season, Err: err}
	}
	if err := httputil.ValidateNumericID(episode); err != nil {
		return key, &ValidationError{Field: "episode", Value: episode, Err: err}
	}
	key.Season, _ = strconv.Atoi(season)
	key.Episode, _ = strconv.Atoi(episode)
	return key, key.Validate()
}

// NextEpisode returns the key of the following episode, or nil when the season
// has no more episodes (or the key is not episodic).
func NextEpisode(key ContentKey, totalEpisodes int) *ContentKey {
	if !key.Kind.Episodic() || key.Episode+1 > totalEpisodes {
		return nil
	}
	next := key
	next.Episode++
	return &next
}

// PreviousEpisode returns the key of the preceding episode, or nil at episode 1.
func PreviousEpisode(key ContentKey) *ContentKey {
	if !key.Kind.Episodic() || key.Episode <= 1 {
		return nil
	}
	prev := key
	prev.Episode--
	return &prev
}

// routePrefix is the first path segment of every watch route.
const routePrefix = "stream"

// Route describes a parsed watch route.
type Route struct {
	Title string // slug, e.g. "breaking-bad"
	Key   ContentKey
	Query url.Values
}

// BuildRoute constructs /stream/{title}/{id}[/{season}/{episode}].
func BuildRoute(title string, key ContentKey) string {
	segments := []string{routePrefix, httputil.Slug(title), key.ID}
	if key.Kind.Episodic() {
		segments = append(segments, strconv.Itoa(key.Season), strconv.Itoa(key.Episode))
	}
	return httputil.BuildURL("", segments...)
}

// ParseRoute parses a watch route, optionally carrying query parameters.
// Routes with season and episode are treated as series unless kind says otherwise.
func ParseRoute(raw string, kind Kind) (Route, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Route{}, fmt.Errorf("parsing route: %w", err)
	}

	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 3 || parts[0] != routePrefix {
		return Route{}, fmt.Errorf("route %q does not match /%s/{title}/{id}[/{season}/{episode}]", raw, routePrefix)
	}

	r := Route{Title: parts[1], Query: u.Query()}
	switch len(parts) {
	case 3:
		r.Key, err = ParseKey(Movie, parts[2], "", "")
	case 5:
		if !kind.Episodic() {
			kind = Series
		}
		r.Key, err = ParseKey(kind, parts[2], parts[3], parts[4])
	default:
		return Route{}, fmt.Errorf("route %q has %d segments", raw, len(parts))
	}
	if err != nil {
		return Route{}, err
	}
	return r, nil
}
