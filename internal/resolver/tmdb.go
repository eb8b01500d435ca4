package resolver

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"cinepro/internal/httputil"
	"cinepro/internal/media"
)

// imageBase is where TMDB serves artwork.
const imageBase = "https://image.tmdb.org/t/p"

// ImageURL builds an artwork URL for a TMDB path at the given size
// ("w200", "w500", "w1280", "original").
func ImageURL(size, path string) string {
	if path == "" {
		return ""
	}
	return imageBase + "/" + size + "/" + strings.TrimPrefix(path, "/")
}

// trailerSites are the video hosts a trailer link can be built for.
var trailerSites = map[string]string{
	"YouTube": "https://www.youtube.com/watch?v=",
	"Vimeo":   "https://vimeo.com/",
}

// TMDB is the metadata API client.
type TMDB struct {
	base   string // e.g. "https://api.themoviedb.org/3"
	apiKey string
	client *http.Client
}

// NewTMDB creates a metadata client.
func NewTMDB(base, apiKey string, client *http.Client) *TMDB {
	if client == nil {
		client = httputil.NewClient()
	}
	return &TMDB{
		base:   strings.TrimRight(base, "/"),
		apiKey: apiKey,
		client: client,
	}
}

type tmdbDetails struct {
	Title        string `json:"title"`
	Name         string `json:"name"`
	Tagline      string `json:"tagline"`
	Overview     string `json:"overview"`
	PosterPath   string `json:"poster_path"`
	BackdropPath string `json:"backdrop_path"`
	Genres       []struct {
		Name string `json:"name"`
	} `json:"genres"`
	Seasons []struct {
		SeasonNumber int    `json:"season_number"`
		Name         string `json:"name"`
		EpisodeCount int    `json:"episode_count"`
	} `json:"seasons"`
	Videos struct {
		Results []struct {
			Key  string `json:"key"`
			Site string `json:"site"`
			Type string `json:"type"`
		} `json:"results"`
	} `json:"videos"`
}

type tmdbSeason struct {
	Episodes []struct {
		EpisodeNumber int    `json:"episode_number"`
		Name          string `json:"name"`
		Overview      string `json:"overview"`
	} `json:"episodes"`
}

func (t *TMDB) endpoint(q url.Values, segments ...string) string {
	if q == nil {
		q = url.Values{}
	}
	q.Set("api_key", t.apiKey)
	return httputil.BuildURL(t.base, segments...) + "?" + q.Encode()
}

func tmdbType(kind media.Kind) string {
	if kind.Episodic() {
		return "tv"
	}
	return "movie"
}

// Details fetches title, artwork, synopsis, genres, seasons and the trailer
// in one combined request.
func (t *TMDB) Details(ctx context.Context, key media.ContentKey) (*media.Metadata, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("append_to_response", "credits,images,videos")

	var d tmdbDetails
	if err := httputil.GetJSON(ctx, t.client, t.endpoint(q, tmdbType(key.Kind), key.ID), &d); err != nil {
		return nil, fmt.Errorf("fetching metadata for %s: %w", key, err)
	}

	m := &media.Metadata{
		Title:        d.Title,
		Tagline:      d.Tagline,
		Overview:     d.Overview,
		PosterPath:   d.PosterPath,
		BackdropPath: d.BackdropPath,
	}
	if m.Title == "" {
		m.Title = d.Name
	}
	for _, g := range d.Genres {
		m.Genres = append(m.Genres, g.Name)
	}
	for _, s := range d.Seasons {
		m.Seasons = append(m.Seasons, media.Season{
			Number:       s.SeasonNumber,
			Name:         s.Name,
			EpisodeCount: s.EpisodeCount,
		})
	}
	for _, v := range d.Videos.Results {
		prefix, ok := trailerSites[v.Site]
		if v.Type != "Trailer" || !ok || v.Key == "" {
			continue
		}
		m.Trailer = &media.Trailer{Site: v.Site, Key: v.Key, URL: prefix + v.Key}
		break
	}
	return m, nil
}

// Episodes fetches the episode list of one season.
func (t *TMDB) Episodes(ctx context.Context, id string, season int) ([]media.Episode, error) {
	if err := httputil.ValidateNumericID(id); err != nil {
		return nil, &media.ValidationError{Field: "id", Value: id, Err: err}
	}

	var s tmdbSeason
	if err := httputil.GetJSON(ctx, t.client, t.endpoint(nil, "tv", id, "season", strconv.Itoa(season)), &s); err != nil {
		return nil, fmt.Errorf("fetching season %d of %s: %w", season, id, err)
	}

	episodes := make([]media.Episode, 0, len(s.Episodes))
	for _, e := range s.Episodes {
		episodes = append(episodes, media.Episode{
			Number:   e.EpisodeNumber,
			Name:     e.Name,
			Overview: e.Overview,
		})
	}
	return episodes, nil
}
