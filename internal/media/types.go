// Package media defines shared types for the cinepro application.
package media

import (
	"fmt"
	"strings"
)

// Kind represents what sort of content a key points at.
type Kind int

const (
	Movie Kind = iota
	Series
	Anime
)

func (k Kind) String() string {
	switch k {
	case Movie:
		return "movie"
	case Series:
		return "series"
	case Anime:
		return "anime"
	default:
		return "unknown"
	}
}

// Episodic reports whether content of this kind is addressed by season and episode.
func (k Kind) Episodic() bool {
	return k == Series || k == Anime
}

// ParseKind maps user and storage spellings onto a Kind.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "movie", "movies", "film":
		return Movie, nil
	case "series", "tv", "show", "shows":
		return Series, nil
	case "anime":
		return Anime, nil
	default:
		return Movie, fmt.Errorf("unknown content kind %q", s)
	}
}

// MarshalText stores the kind by name so progress records stay readable.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText accepts any spelling ParseKind does.
func (k *Kind) UnmarshalText(b []byte) error {
	parsed, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// SubtitleTrack is a selectable text track.
type SubtitleTrack struct {
	URL          string // usually VTT
	LanguageCode string // e.g. "en", "pt-BR"
	Label        string // display label, e.g. "English"
	IsDefault    bool
}

// Catalog is the playable side of a resolution: ordered candidates plus text tracks.
type Catalog struct {
	Sources   []MediaSource
	Subtitles []SubtitleTrack
}

// Season summarises one season of a series.
type Season struct {
	Number       int
	Name         string
	EpisodeCount int
}

// Episode is one entry of a season's episode list.
type Episode struct {
	Number   int
	Name     string
	Overview string
}

// Trailer points at a video on a hosting site.
type Trailer struct {
	Site string // "YouTube" or "Vimeo"
	Key  string
	URL  string
}

// Metadata is display information for a content key. None of it is needed to play.
type Metadata struct {
	Title        string
	Tagline      string
	Overview     string
	PosterPath   string
	BackdropPath string
	Genres       []string
	Seasons      []Season
	Episodes     []Episode // episodes of the key's season, series/anime only
	Trailer      *Trailer
}

// EpisodeCount returns the number of episodes in a season, or 0 if unknown.
func (m *Metadata) EpisodeCount(season int) int {
	if m == nil {
		return 0
	}
	for _, s := range m.Seasons {
		if s.Number == season {
			return s.EpisodeCount
		}
	}
	return 0
}
