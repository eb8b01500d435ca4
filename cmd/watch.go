package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"cinepro/internal/config"
	"cinepro/internal/httputil"
	cplog "cinepro/internal/log"
	"cinepro/internal/media"
	"cinepro/internal/playback"
	"cinepro/internal/player"
	"cinepro/internal/ui"
)

// Watch flags
var (
	flagKind         string
	flagSeason       int
	flagEpisode      int
	flagQuery        string
	flagSaveDefaults bool
)

var watchCmd = &cobra.Command{
	Use:   "watch [route|id]",
	Short: "Play a movie or episode",
	Example: `  cinepro watch /stream/inception/27205
  cinepro watch /stream/breaking-bad/1396/1/2?theme=1db954&autoplay=false
  cinepro watch 1396 --kind series -s 1 -e 2 --query "player=vlc&subtitleColor=ffff00"`,
	Args: cobra.MaximumNArgs(1),
	RunE: watchRun,
}

func init() {
	addWatchFlags(watchCmd)
}

func addWatchFlags(c *cobra.Command) {
	c.Flags().StringVarP(&flagKind, "kind", "k", "movie", "Content kind for a bare id: movie | series | anime")
	c.Flags().IntVarP(&flagSeason, "season", "s", 0, "Season number (series/anime)")
	c.Flags().IntVarP(&flagEpisode, "episode", "e", 0, "Episode number (series/anime)")
	c.Flags().StringVarP(&flagQuery, "query", "Q", "", "Player options as a query string, e.g. theme=1db954&autoplay=false")
	c.Flags().BoolVar(&flagSaveDefaults, "save-defaults", false, "Persist the resulting player options as the new defaults")
}

func watchRun(cmd *cobra.Command, args []string) error {
	kind, err := media.ParseKind(flagKind)
	if err != nil {
		return err
	}
	var target string
	switch {
	case len(args) == 1:
		target = args[0]
	case interactive():
		if target, err = ui.Input("Route or id"); err != nil {
			return err
		}
	default:
		return errors.New("a route or id is required")
	}
	key, query, err := parseTarget(target, kind, flagSeason, flagEpisode)
	if err != nil {
		return err
	}

	if flagQuery != "" {
		extra, err := config.ParseQuery(flagQuery)
		if err != nil {
			return fmt.Errorf("parsing --query: %w", err)
		}
		for k, v := range extra {
			query[k] = v
		}
	}
	if flagPlayer != "" {
		query.Set("player", flagPlayer)
	}
	pc := config.FromQuery(query, cfg.Player)

	if flagSaveDefaults {
		if err := config.SavePlayer(pc); err != nil {
			return fmt.Errorf("saving player defaults: %w", err)
		}
	}

	return play(cmd.Context(), key, pc)
}

// parseTarget accepts a watch route or a bare numeric id.
func parseTarget(arg string, kind media.Kind, season, episode int) (media.ContentKey, url.Values, error) {
	if strings.Contains(arg, "/") {
		route, err := media.ParseRoute(arg, kind)
		if err != nil {
			return media.ContentKey{}, nil, err
		}
		return route.Key, route.Query, nil
	}

	var s, e string
	if kind.Episodic() {
		s, e = strconv.Itoa(season), strconv.Itoa(episode)
	}
	key, err := media.ParseKey(kind, arg, s, e)
	if err != nil {
		return media.ContentKey{}, nil, err
	}
	return key, url.Values{}, nil
}

// play runs one session for key and blocks until it ends, fails or the
// user quits.
func play(parent context.Context, key media.ContentKey, pc config.PlayerConfiguration) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, release, err := openStore()
	if err != nil {
		return fmt.Errorf("opening progress store: %w", err)
	}
	defer release()

	interval, err := cfg.SaveEvery()
	if err != nil {
		return err
	}

	engineLog := cplog.WithComponent("player")
	client := httputil.NewClient()
	newEngine := func(title string) player.Engine {
		opts := player.Options{
			Theme:            pc.Theme,
			SubtitleColor:    pc.SubtitleColor,
			SubtitleFontSize: pc.SubtitleFontSize,
			Autoplay:         pc.Autoplay,
			Client:           client,
			Logger:           &engineLog,
		}
		if pc.ShowTitle {
			opts.Title = title
		}
		return player.New(pc.Engine, opts)
	}
	if eng := newEngine(""); !eng.Available() {
		return fmt.Errorf("%s not found in PATH", eng.Name())
	}

	ctrlLog := cplog.WithComponent("playback")
	ctrl := playback.New(playback.Config{
		Resolver:     newResolver(),
		Store:        store,
		NewEngine:    newEngine,
		SaveInterval: interval,
		Logger:       &ctrlLog,
	})
	defer ctrl.Close()

	if err := ctrl.Start(ctx, key); err != nil {
		return err
	}

	if !interactive() {
		return waitHeadless(ctx, ctrl, ctrlLog)
	}
	for {
		if err := ui.RunControls(ctx, ctrl, pc); err != nil {
			return err
		}
		started, err := playNext(ctx, ctrl, ui.Confirm)
		if err != nil {
			return err
		}
		if !started {
			return sessionErr(ctrl.Snapshot())
		}
	}
}

func interactive() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
}

// episodeAdvancer is the part of the controller playNext needs.
type episodeAdvancer interface {
	Snapshot() playback.Snapshot
	NextEpisode(ctx context.Context) error
}

// playNext offers the next episode once a session has ended and starts it if
// the user accepts. It reports whether a new session started.
func playNext(ctx context.Context, ctrl episodeAdvancer, confirm func(string) (bool, error)) (bool, error) {
	snap := ctrl.Snapshot()
	if snap.State != playback.Ended || !snap.HasNext {
		return false, nil
	}
	ok, err := confirm("Play next episode?")
	if err != nil {
		if errors.Is(err, ui.ErrCancelled) {
			return false, nil
		}
		return false, err
	}
	if !ok {
		return false, nil
	}
	if err := ctrl.NextEpisode(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// waitHeadless follows the session without a UI, logging state changes.
func waitHeadless(ctx context.Context, ctrl *playback.Controller, logger zerolog.Logger) error {
	done := ctrl.Done()
	updates := ctrl.Updates()
	last := playback.Idle
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-done:
			return sessionErr(ctrl.Snapshot())
		case snap, ok := <-updates:
			if !ok {
				return nil
			}
			if snap.State != last {
				logger.Info().Str("state", snap.State.String()).Int("source", snap.SourceIndex).Msg("playback state")
				last = snap.State
			}
		}
	}
}

func sessionErr(snap playback.Snapshot) error {
	if snap.State != playback.Failed {
		return nil
	}
	if snap.Reason == playback.ResolutionFailed && httputil.IsNotFound(snap.Err) {
		return fmt.Errorf("%s not found: %w", snap.Key, playback.ErrResolutionFailed)
	}
	return fmt.Errorf("%s: %w", snap.Message, snap.Err)
}
