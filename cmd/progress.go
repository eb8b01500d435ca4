package cmd

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"cinepro/internal/media"
	"cinepro/internal/progress"
	"cinepro/internal/ui"
)

var progressCmd = &cobra.Command{
	Use:     "progress",
	Aliases: []string{"history", "continue"},
	Short:   "Resume something you started watching",
	Args:    cobra.NoArgs,
	RunE:    progressRun,
}

var progressListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved progress, most recent first",
	Args:  cobra.NoArgs,
	RunE:  progressListRun,
}

var progressRmCmd = &cobra.Command{
	Use:   "rm <id>...",
	Short: "Forget saved progress for the given ids",
	Args:  cobra.MinimumNArgs(1),
	RunE:  progressRmRun,
}

func init() {
	progressCmd.AddCommand(progressListCmd)
	progressCmd.AddCommand(progressRmCmd)
}

func loadRecords() ([]*progress.Record, error) {
	store, release, err := openStore()
	if err != nil {
		return nil, fmt.Errorf("opening progress store: %w", err)
	}
	defer release()

	records, err := store.List()
	if err != nil {
		return nil, fmt.Errorf("loading progress: %w", err)
	}
	return records, nil
}

func progressRun(cmd *cobra.Command, args []string) error {
	records, err := loadRecords()
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "Nothing to resume yet.")
		return nil
	}

	idx, err := ui.Select("Continue watching", progress.FormatForDisplay(records))
	if err != nil {
		if errors.Is(err, ui.ErrCancelled) {
			return nil
		}
		return err
	}

	key, err := recordKey(records[idx])
	if err != nil {
		return fmt.Errorf("progress entry %s: %w", records[idx].ID, err)
	}
	return play(cmd.Context(), key, cfg.Player)
}

// recordKey rebuilds the content key a record was last saved under.
func recordKey(r *progress.Record) (media.ContentKey, error) {
	if !r.Kind.Episodic() {
		return media.ParseKey(r.Kind, r.ID, "", "")
	}
	return media.ParseKey(r.Kind, r.ID, r.LastSeasonWatched, r.LastEpisodeWatched)
}

func progressListRun(cmd *cobra.Command, args []string) error {
	records, err := loadRecords()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if flagJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	}

	lines := progress.FormatForDisplay(records)
	width := lo.Max(lo.Map(records, func(r *progress.Record, _ int) int { return len(r.ID) }))
	for i, r := range records {
		fmt.Fprintf(out, "%-*s  %s\n", width, r.ID, lines[i])
	}
	return nil
}

func progressRmRun(cmd *cobra.Command, args []string) error {
	store, release, err := openStore()
	if err != nil {
		return fmt.Errorf("opening progress store: %w", err)
	}
	defer release()

	for _, id := range lo.Uniq(args) {
		if err := store.Remove(id); err != nil {
			return fmt.Errorf("removing %s: %w", id, err)
		}
	}
	return nil
}
