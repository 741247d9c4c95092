package cmd

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	verbose bool

	// Version is set by the main package via ldflags.
	Version = "dev"
)

// NewRootCmd creates the root kodiview command. Run without a subcommand it
// starts the viewer.
func NewRootCmd() *cobra.Command {
	rootCmd := newViewCmd()
	rootCmd.Version = Version

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log every frame at debug level")

	rootCmd.AddCommand(newSendCmd())
	rootCmd.AddCommand(newMCPCmd())
	rootCmd.AddCommand(newSecretsCmd())

	return rootCmd
}

func newLogger() zerolog.Logger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(
		zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339},
	).Level(level).With().Timestamp().Logger()
}
