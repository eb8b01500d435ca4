package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"cinepro/internal/httputil"
	"cinepro/internal/media"
	"cinepro/internal/resolver"
)

var detailsCmd = &cobra.Command{
	Use:   "details [movie|tv|anime] <route|id>",
	Short: "Show metadata and playable sources without playing",
	Example: `  cinepro details movie 27205
  cinepro details tv 1396 -s 1 -e 2 --json
  cinepro details /stream/breaking-bad/1396/1/2`,
	Args: cobra.RangeArgs(1, 2),
	RunE: detailsRun,
}

func init() {
	detailsCmd.Flags().StringVarP(&flagKind, "kind", "k", "movie", "Content kind for a bare id: movie | series | anime")
	detailsCmd.Flags().IntVarP(&flagSeason, "season", "s", 0, "Season number (series/anime)")
	detailsCmd.Flags().IntVarP(&flagEpisode, "episode", "e", 0, "Episode number (series/anime)")
}

// detailsOutput is the --json shape of the details command.
type detailsOutput struct {
	Key         string           `json:"key"`
	Route       string           `json:"route,omitempty"`
	Metadata    *metadataOutput  `json:"metadata,omitempty"`
	Sources     []sourceOutput   `json:"sources"`
	Subtitles   []subtitleOutput `json:"subtitles"`
	Default     int              `json:"default_source"`
	SourcesErr  string           `json:"sources_error,omitempty"`
	MetadataErr string           `json:"metadata_error,omitempty"`
}

type metadataOutput struct {
	Title    string          `json:"title"`
	Tagline  string          `json:"tagline,omitempty"`
	Overview string          `json:"overview,omitempty"`
	Poster   string          `json:"poster,omitempty"`
	Backdrop string          `json:"backdrop,omitempty"`
	Genres   []string        `json:"genres,omitempty"`
	Seasons  []seasonOutput  `json:"seasons,omitempty"`
	Episodes []episodeOutput `json:"episodes,omitempty"`
	Trailer  string          `json:"trailer,omitempty"`
}

type seasonOutput struct {
	Number   int    `json:"number"`
	Name     string `json:"name,omitempty"`
	Episodes int    `json:"episode_count"`
}

type episodeOutput struct {
	Number   int    `json:"number"`
	Name     string `json:"name"`
	Overview string `json:"overview,omitempty"`
	Current  bool   `json:"current,omitempty"`
}

// sourceOutput leaves out request headers, which may carry tokens.
type sourceOutput struct {
	Label    string `json:"label"`
	URL      string `json:"url"`
	Type     string `json:"type"`
	Language string `json:"language,omitempty"`
	Default  bool   `json:"default,omitempty"`
}

type subtitleOutput struct {
	Label    string `json:"label"`
	Language string `json:"language"`
	URL      string `json:"url"`
	Default  bool   `json:"default,omitempty"`
}

func detailsRun(cmd *cobra.Command, args []string) error {
	kindArg := flagKind
	if len(args) == 2 {
		kindArg, args = args[0], args[1:]
	}
	kind, err := media.ParseKind(kindArg)
	if err != nil {
		return err
	}
	key, _, err := parseTarget(args[0], kind, flagSeason, flagEpisode)
	if err != nil {
		return err
	}

	res := newResolver().ResolveAll(cmd.Context(), key)
	if res.SourcesErr != nil && res.MetadataErr != nil {
		if httputil.IsNotFound(res.SourcesErr) && httputil.IsNotFound(res.MetadataErr) {
			return fmt.Errorf("%s not found", key)
		}
		return fmt.Errorf("resolving %s: %w", key, res.SourcesErr)
	}

	out := newDetailsOutput(key, res)
	w := cmd.OutOrStdout()
	if flagJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}
	printDetails(w, out)
	return nil
}

func newDetailsOutput(key media.ContentKey, res resolver.Result) detailsOutput {
	out := detailsOutput{Key: key.String(), Default: -1}
	if c := res.Catalog; c != nil {
		out.Default = media.DefaultSourceIndex(c.Sources)
		out.Sources = lo.Map(c.Sources, func(s media.MediaSource, i int) sourceOutput {
			return sourceOutput{
				Label:    s.Label(i),
				URL:      s.URL,
				Type:     s.DeliveryType.String(),
				Language: s.Language,
				Default:  i == out.Default,
			}
		})
		out.Subtitles = lo.Map(c.Subtitles, func(t media.SubtitleTrack, _ int) subtitleOutput {
			return subtitleOutput{Label: t.Label, Language: t.LanguageCode, URL: t.URL, Default: t.IsDefault}
		})
	}
	if m := res.Metadata; m != nil {
		out.Route = media.BuildRoute(m.Title, key)
		out.Metadata = &metadataOutput{
			Title:    m.Title,
			Tagline:  m.Tagline,
			Overview: m.Overview,
			Poster:   resolver.ImageURL("w500", m.PosterPath),
			Backdrop: resolver.ImageURL("original", m.BackdropPath),
			Genres:   m.Genres,
			Seasons: lo.Map(m.Seasons, func(s media.Season, _ int) seasonOutput {
				return seasonOutput{Number: s.Number, Name: s.Name, Episodes: s.EpisodeCount}
			}),
			Episodes: lo.Map(m.Episodes, func(e media.Episode, _ int) episodeOutput {
				return episodeOutput{Number: e.Number, Name: e.Name, Overview: e.Overview, Current: e.Number == key.Episode}
			}),
		}
		if m.Trailer != nil {
			out.Metadata.Trailer = m.Trailer.URL
		}
	}
	out.SourcesErr = describeErr(res.SourcesErr)
	out.MetadataErr = describeErr(res.MetadataErr)
	return out
}

// describeErr renders err for the user, collapsing a remote 404 to "not found".
func describeErr(err error) string {
	switch {
	case err == nil:
		return ""
	case httputil.IsNotFound(err):
		return "not found"
	default:
		return err.Error()
	}
}

func printDetails(w io.Writer, d detailsOutput) {
	if m := d.Metadata; m != nil {
		fmt.Fprintf(w, "%s\n", m.Title)
		if m.Tagline != "" {
			fmt.Fprintf(w, "  %s\n", m.Tagline)
		}
		if len(m.Genres) > 0 {
			fmt.Fprintf(w, "  %s\n", strings.Join(m.Genres, ", "))
		}
		if m.Overview != "" {
			fmt.Fprintf(w, "\n%s\n", m.Overview)
		}
		if m.Poster != "" {
			fmt.Fprintf(w, "\nPoster:  %s\n", m.Poster)
		}
		if m.Trailer != "" {
			fmt.Fprintf(w, "Trailer: %s\n", m.Trailer)
		}
		if len(m.Seasons) > 0 {
			fmt.Fprintf(w, "Seasons: %s\n", strings.Join(lo.Map(m.Seasons, func(s seasonOutput, _ int) string {
				return fmt.Sprintf("%d (%d eps)", s.Number, s.Episodes)
			}), ", "))
		}
		if d.Route != "" {
			fmt.Fprintf(w, "Route:   %s\n", d.Route)
		}
		if len(m.Episodes) > 0 {
			fmt.Fprintln(w, "\nEpisodes:")
			for _, e := range m.Episodes {
				marker := " "
				if e.Current {
					marker = ">"
				}
				fmt.Fprintf(w, " %s %2d. %s\n", marker, e.Number, e.Name)
			}
		}
	} else {
		fmt.Fprintf(w, "%s\n  metadata unavailable: %s\n", d.Key, d.MetadataErr)
	}

	fmt.Fprintln(w)
	if d.SourcesErr != "" {
		fmt.Fprintf(w, "Sources unavailable: %s\n", d.SourcesErr)
		return
	}
	if len(d.Sources) == 0 {
		fmt.Fprintln(w, "No playable sources.")
		return
	}
	fmt.Fprintln(w, "Sources:")
	for i, s := range d.Sources {
		marker := " "
		if s.Default {
			marker = "*"
		}
		fmt.Fprintf(w, " %s %d. %s\n", marker, i+1, s.Label)
	}
	if len(d.Subtitles) > 0 {
		fmt.Fprintf(w, "Subtitles: %s\n", strings.Join(lo.Map(d.Subtitles, func(t subtitleOutput, _ int) string {
			return t.Label
		}), ", "))
	}
}
