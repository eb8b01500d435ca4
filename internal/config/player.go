package config

import (
	"net/url"
	"strconv"
	"strings"

	"cinepro/internal/httputil"
)

// validEngines are the media engines a session can be bound to.
var validEngines = map[string]bool{"mpv": true, "vlc": true}

// Subtitle font size bounds, in points.
const (
	minSubtitleFontSize = 8
	maxSubtitleFontSize = 96
)

// PlayerConfiguration is the validated set of player options for one session.
type PlayerConfiguration struct {
	Engine           string `toml:"engine"`
	Theme            string `toml:"theme"` // accent colour, hex without '#'
	Autoplay         bool   `toml:"autoplay"`
	ShowTitle        bool   `toml:"show_title"`
	ShowPoster       bool   `toml:"show_poster"`
	SubtitleColor    string `toml:"subtitle_color"` // hex without '#'
	SubtitleFontSize int    `toml:"subtitle_font_size"`
	NextButton       bool   `toml:"next_button"`
}

// DefaultPlayer returns the hard-coded player defaults.
func DefaultPlayer() PlayerConfiguration {
	return PlayerConfiguration{
		Engine:           "mpv",
		Theme:            "e50914",
		Autoplay:         true,
		ShowTitle:        true,
		ShowPoster:       true,
		SubtitleColor:    "ffffff",
		SubtitleFontSize: 40,
		NextButton:       true,
	}
}

// Sanitize replaces every invalid field with the matching field of fallback.
func (p PlayerConfiguration) Sanitize(fallback PlayerConfiguration) PlayerConfiguration {
	p.Engine = strings.ToLower(p.Engine)
	if !validEngines[p.Engine] {
		p.Engine = fallback.Engine
	}
	if httputil.ValidateHexColor(p.Theme) != nil {
		p.Theme = fallback.Theme
	}
	if httputil.ValidateHexColor(p.SubtitleColor) != nil {
		p.SubtitleColor = fallback.SubtitleColor
	}
	if p.SubtitleFontSize < minSubtitleFontSize || p.SubtitleFontSize > maxSubtitleFontSize {
		p.SubtitleFontSize = fallback.SubtitleFontSize
	}
	return p
}

// FromQuery builds the player configuration for a session from URL query
// parameters. Absent or unrecognised values keep the value from defaults.
func FromQuery(q url.Values, defaults PlayerConfiguration) PlayerConfiguration {
	p := defaults

	if v := strings.ToLower(q.Get("player")); validEngines[v] {
		p.Engine = v
	}
	if v := strings.TrimPrefix(q.Get("theme"), "#"); httputil.ValidateHexColor(v) == nil {
		p.Theme = strings.ToLower(v)
	}
	if v := strings.TrimPrefix(q.Get("subtitleColor"), "#"); httputil.ValidateHexColor(v) == nil {
		p.SubtitleColor = strings.ToLower(v)
	}
	if v := strings.TrimSuffix(q.Get("subtitleFontSize"), "px"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= minSubtitleFontSize && n <= maxSubtitleFontSize {
			p.SubtitleFontSize = n
		}
	}

	boolParam(q, "autoplay", &p.Autoplay)
	boolParam(q, "title", &p.ShowTitle)
	boolParam(q, "poster", &p.ShowPoster)
	boolParam(q, "nextButton", &p.NextButton)

	return p
}

// ParseQuery accepts "a=b&c=d" with or without a leading '?'.
func ParseQuery(raw string) (url.Values, error) {
	return url.ParseQuery(strings.TrimPrefix(raw, "?"))
}

func boolParam(q url.Values, name string, dst *bool) {
	if !q.Has(name) {
		return
	}
	if b, err := strconv.ParseBool(q.Get(name)); err == nil {
		*dst = b
	}
}
