// Package cmd provides CLI commands for the genesisweb tool.
package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mdde/genesisweb/internal/config"
	"github.com/mdde/genesisweb/internal/exitcode"
	"github.com/mdde/genesisweb/internal/style"
	"github.com/mdde/genesisweb/internal/ui"
)

var (
	settingsFile string
	logLevel     string
	quiet        bool

	// settings is loaded once per invocation by loadSettings.
	settings *config.Settings
)

var rootCmd = &cobra.Command{
	Use:     "genesisweb",
	Short:   "Web control panel for Genesis workflow runs",
	Version: Version,
	Long: `genesisweb starts Genesis workflow runs from a browser, streams their
output live and relays answers to the questions a run asks.

Workflow configurations are the YAML files in the configuration directory.
Settings are read from genesisweb.toml in the working directory, or from
the file named by --config or GENESISWEB_SETTINGS.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

// Commands that work without a settings file.
var settingsExemptCommands = map[string]bool{
	"version":    true,
	"help":       true,
	"completion": true,
}

// setup installs the logger and loads settings for the command being run.
func setup(cmd *cobra.Command, args []string) error {
	if err := configureLogging(cmd.ErrOrStderr()); err != nil {
		return err
	}
	if !ui.ShouldUseColor() {
		style.DisableColor()
	}
	if settingsExemptCommands[cmd.Name()] {
		return nil
	}
	return loadSettings()
}

// configureLogging installs a text slog handler on w at the level the
// flags select.
func configureLogging(w io.Writer) error {
	level, err := parseLevel(logLevel)
	if err != nil {
		return exitcode.Wrap(exitcode.ErrUsage, "invalid --log-level", err)
	}
	if quiet {
		level = slog.LevelError
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})))
	return nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, err
	}
	return level, nil
}

// loadSettings reads the settings file named by --config, then
// GENESISWEB_SETTINGS, then the default path, and applies environment
// overrides.
func loadSettings() error {
	path := settingsFile
	if path == "" {
		path = os.Getenv(config.EnvSettings)
	}
	s, err := config.Load(path)
	if err != nil {
		return exitcode.Wrap(exitcode.ErrUsage, "loading settings", err)
	}
	s.ApplyEnv()
	if err := s.Validate(); err != nil {
		return exitcode.Wrap(exitcode.ErrUsage, "invalid settings", err)
	}
	settings = s
	if s.Path() != "" {
		slog.Debug("settings loaded", "path", s.Path())
	}
	return nil
}

// Execute runs the root command and returns an exit code.
// The caller (main) should call os.Exit with this code.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", style.ErrorPrefix, err)
		return exitcode.Code(coded(err))
	}
	return 0
}

// Command group IDs - used by subcommands to organize help output
const (
	GroupRuns   = "runs"
	GroupConfig = "config"
	GroupDiag   = "diag"
)

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: GroupRuns, Title: "Workflow Runs:"},
		&cobra.Group{ID: GroupConfig, Title: "Configuration:"},
		&cobra.Group{ID: GroupDiag, Title: "Diagnostics:"},
	)

	rootCmd.SetHelpCommandGroupID(GroupDiag)
	rootCmd.SetCompletionCommandGroupID(GroupConfig)

	rootCmd.PersistentFlags().StringVar(&settingsFile, "config", "", "settings file (default genesisweb.toml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn or error")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "only log errors")
}
