// Package subtitle orders subtitle tracks for menus and manages temp files for
// engines that cannot fetch remote tracks themselves.
package subtitle

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/samber/lo"
	"golang.org/x/text/language"
	"golang.org/x/text/language/display"

	"cinepro/internal/httputil"
	"cinepro/internal/media"
)

// DisplayName returns the English name of a language code ("pt-BR" ->
// "Brazilian Portuguese"). Unknown codes are returned unchanged.
func DisplayName(code string) string {
	tag, err := language.Parse(code)
	if err != nil {
		return code
	}
	if name := display.English.Languages().Name(tag); name != "" {
		return name
	}
	return code
}

// Normalize drops tracks without a URL, dedupes by language code (first
// occurrence wins) and sorts by display name for stable menu ordering.
// If no track is marked default, the first one after sorting becomes default.
func Normalize(tracks []media.SubtitleTrack) []media.SubtitleTrack {
	valid := lo.Filter(tracks, func(t media.SubtitleTrack, _ int) bool {
		return t.URL != "" && t.LanguageCode != ""
	})
	uniq := lo.UniqBy(valid, func(t media.SubtitleTrack) string {
		return strings.ToLower(t.LanguageCode)
	})

	sort.SliceStable(uniq, func(i, j int) bool {
		return DisplayName(uniq[i].LanguageCode) < DisplayName(uniq[j].LanguageCode)
	})

	hasDefault := false
	for i := range uniq {
		if uniq[i].Label == "" {
			uniq[i].Label = DisplayName(uniq[i].LanguageCode)
		}
		if uniq[i].IsDefault {
			if hasDefault {
				uniq[i].IsDefault = false
			}
			hasDefault = true
		}
	}
	if !hasDefault && len(uniq) > 0 {
		uniq[0].IsDefault = true
	}
	return uniq
}

// Filter returns tracks whose code, label or display name matches the
// preferred language (case-insensitive).
func Filter(tracks []media.SubtitleTrack, lang string) []media.SubtitleTrack {
	if lang == "" {
		return tracks
	}

	want := strings.ToLower(lang)
	var matched []media.SubtitleTrack
	for _, t := range tracks {
		code := strings.ToLower(t.LanguageCode)
		if code == want || strings.HasPrefix(code, want+"-") ||
			strings.Contains(strings.ToLower(t.Label), want) ||
			strings.Contains(strings.ToLower(DisplayName(t.LanguageCode)), want) {
			matched = append(matched, t)
		}
	}
	return matched
}

// BestMatch returns the best track for the preferred language, preferring
// non-SDH variants, or nil if nothing matches.
func BestMatch(tracks []media.SubtitleTrack, lang string) *media.SubtitleTrack {
	filtered := Filter(tracks, lang)
	if len(filtered) == 0 {
		return nil
	}

	for _, t := range filtered {
		if !strings.Contains(strings.ToLower(t.Label), "sdh") {
			return &t
		}
	}
	return &filtered[0]
}

// PreferLanguage moves the default flag onto the best match for lang. Tracks
// are returned unchanged when nothing matches.
func PreferLanguage(tracks []media.SubtitleTrack, lang string) []media.SubtitleTrack {
	best := BestMatch(tracks, lang)
	if best == nil {
		return tracks
	}
	out := make([]media.SubtitleTrack, len(tracks))
	for i, t := range tracks {
		t.IsDefault = t.URL == best.URL && t.LanguageCode == best.LanguageCode
		out[i] = t
	}
	return out
}

// Default returns the default track, or nil.
func Default(tracks []media.SubtitleTrack) *media.SubtitleTrack {
	for _, t := range tracks {
		if t.IsDefault {
			return &t
		}
	}
	return nil
}

// Dir is a directory subtitle files are downloaded into. Its owner removes it.
type Dir struct {
	path string
}

// DirAt wraps an existing directory owned by the caller.
func DirAt(path string) *Dir {
	return &Dir{path: path}
}

// Download fetches a subtitle file into the directory and returns the local path.
func (t *Dir) Download(ctx context.Context, client *http.Client, track media.SubtitleTrack) (string, error) {
	if err := httputil.ValidateURL(track.URL); err != nil {
		return "", fmt.Errorf("invalid subtitle URL: %w", err)
	}

	filename := "subtitle.vtt"
	if parts := strings.Split(track.URL, "/"); len(parts) > 0 {
		last := parts[len(parts)-1]
		if idx := strings.Index(last, "?"); idx != -1 {
			last = last[:idx]
		}
		if last != "" {
			filename = httputil.SanitizeFilename(last)
		}
	}
	filename = httputil.SanitizeFilename(track.LanguageCode) + "-" + filename

	localPath, err := httputil.SafeJoin(t.path, filename)
	if err != nil {
		return "", err
	}

	resp, err := httputil.Get(ctx, client, track.URL, nil)
	if err != nil {
		return "", fmt.Errorf("downloading subtitle: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("subtitle download returned status %d", resp.StatusCode)
	}

	f, err := os.Create(localPath)
	if err != nil {
		return "", fmt.Errorf("creating subtitle file: %w", err)
	}
	defer f.Close()

	// Limit subtitle file size to 10MB
	if _, err := io.Copy(f, io.LimitReader(resp.Body, 10*1024*1024)); err != nil {
		return "", fmt.Errorf("writing subtitle file: %w", err)
	}

	return filepath.Clean(localPath), nil
}
