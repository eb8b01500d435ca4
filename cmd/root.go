// Package cmd implements the CLI commands using Cobra.
package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"cinepro/internal/config"
	cplog "cinepro/internal/log"
	"cinepro/internal/progress"
	"cinepro/internal/resolver"
)

// Version is set at build time via ldflags.
var Version = "dev"

// Global flags
var (
	flagPlayer   string
	flagLanguage string
	flagStore    string
	flagJSON     bool
	flagDebug    bool
)

// cfg holds the loaded configuration (merged: defaults < config file < flags).
var cfg *config.Config

// logFile is closed by Execute once the command has run.
var logFile io.Closer

var rootCmd = &cobra.Command{
	Use:   "cinepro [route|id]",
	Short: "Play movies and TV shows from the terminal",
	Long: `cinepro resolves a title into playable sources and plays them with mpv or vlc,
failing over between sources and remembering where you stopped.

A title is either a watch route such as /stream/breaking-bad/1396/1/2?theme=1db954
or a numeric id together with --kind, --season and --episode.`,
	Args:              cobra.MaximumNArgs(1),
	PersistentPreRunE: loadConfig,
	SilenceUsage:      true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			return progressRun(cmd, args)
		}
		return watchRun(cmd, args)
	},
}

// Execute runs the root command.
func Execute() {
	err := rootCmd.Execute()
	if logFile != nil {
		logFile.Close()
	}
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagPlayer, "player", "", "Media player: mpv | vlc")
	rootCmd.PersistentFlags().StringVarP(&flagLanguage, "language", "l", "", "Preferred subtitle language code (default: en)")
	rootCmd.PersistentFlags().StringVar(&flagStore, "store", "", "Progress store: file | sqlite")
	rootCmd.PersistentFlags().BoolVarP(&flagJSON, "json", "j", false, "Print JSON instead of text where supported")
	rootCmd.PersistentFlags().BoolVarP(&flagDebug, "debug", "x", false, "Debug logging")

	addWatchFlags(rootCmd)

	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(progressCmd)
	rootCmd.AddCommand(detailsCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig loads and merges configuration: defaults < config file < CLI flags.
func loadConfig(cmd *cobra.Command, args []string) error {
	var err error
	cfg, err = config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// CLI flags override config file values
	if flagPlayer != "" {
		cfg.Player.Engine = flagPlayer
	}
	if flagLanguage != "" {
		cfg.SubsLanguage = flagLanguage
	}
	if flagStore != "" {
		cfg.Store = flagStore
	}
	if flagDebug {
		cfg.Debug = true
	}

	// Re-validate after flag overrides
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if err := configureLogging(); err != nil {
		return err
	}
	l := cplog.Base()
	l.Debug().
		Str("store", cfg.Store).
		Str("player", cfg.Player.Engine).
		Str("backend", cfg.BackendURL).
		Msg("configuration loaded")
	return nil
}

// configureLogging sends logs to the configured file, or to stderr. Without
// a log file only warnings reach stderr, which the controls view would
// otherwise have to share.
func configureLogging() error {
	level := zerolog.WarnLevel.String()
	if cfg.Debug {
		level = zerolog.DebugLevel.String()
	}

	var out io.Writer = os.Stderr
	console := true
	if cfg.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.LogFile), 0o700); err != nil {
			return fmt.Errorf("creating log dir: %w", err)
		}
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return fmt.Errorf("opening log file: %w", err)
		}
		logFile = f
		out = f
		console = false
		if !cfg.Debug {
			level = zerolog.InfoLevel.String()
		}
	}

	cplog.Configure(cplog.Config{
		Level:   level,
		Output:  out,
		Service: "cinepro",
		Console: console,
	})
	return nil
}

// openStore opens the configured progress backend. The returned func
// releases it.
func openStore() (*progress.Store, func(), error) {
	dir, err := config.DataDir()
	if err != nil {
		return nil, nil, err
	}

	var (
		storage progress.Storage
		release = func() {}
	)
	switch strings.ToLower(cfg.Store) {
	case "sqlite":
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, nil, fmt.Errorf("creating data dir: %w", err)
		}
		db, err := progress.OpenSQLite(filepath.Join(dir, "progress.db"))
		if err != nil {
			return nil, nil, err
		}
		storage = db
		release = func() { db.Close() }
	default:
		fs, err := progress.NewFileStorage(dir)
		if err != nil {
			return nil, nil, err
		}
		storage = fs
	}

	store := progress.NewStore(storage,
		progress.WithMaxEntries(cfg.MaxEntries),
		progress.WithLogger(cplog.WithComponent("progress")),
	)
	return store, release, nil
}

func newResolver() *resolver.Resolver {
	logger := cplog.WithComponent("resolver")
	return resolver.New(resolver.Config{
		BackendURL:     cfg.BackendURL,
		MetadataURL:    cfg.MetadataURL,
		MetadataAPIKey: cfg.MetadataAPIKey,
		SubsLanguage:   cfg.SubsLanguage,
		Logger:         &logger,
	})
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "cinepro %s\n", Version)
	},
}
