package progress

import (
	"fmt"
	"strconv"
)

// FormatForDisplay creates one selection line per record, e.g.
// "Breaking Bad S01E02 [42%]".
func FormatForDisplay(records []*Record) []string {
	items := make([]string, 0, len(records))
	for _, r := range records {
		display := r.Title
		if r.Kind.Episodic() && r.LastSeasonWatched != "" {
			season, _ := strconv.Atoi(r.LastSeasonWatched)
			episode, _ := strconv.Atoi(r.LastEpisodeWatched)
			display = fmt.Sprintf("%s S%02dE%02d", r.Title, season, episode)
		}
		if r.Progress.Watched > 0 && r.Progress.Duration > 0 {
			pct := (r.Progress.Watched / r.Progress.Duration) * 100
			display += fmt.Sprintf(" [%.0f%%]", pct)
		}
		items = append(items, display)
	}
	return items
}

// FormatPosition formats seconds as H:MM:SS or M:SS.
func FormatPosition(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	s := int(seconds)
	h := s / 3600
	m := (s % 3600) / 60
	sec := s % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, sec)
	}
	return fmt.Sprintf("%d:%02d", m, sec)
}
