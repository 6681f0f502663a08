package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/BioHazard786/duocall/internal/config"
	"github.com/BioHazard786/duocall/internal/logging"
	"github.com/BioHazard786/duocall/internal/ui"
	"github.com/BioHazard786/duocall/internal/version"
)

var (
	flagConfig   string
	flagLogLevel string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "duocall",
	Short: "Two-person WebRTC video calls through a single-room signaling server",
	Long: `duocall runs a tiny signaling server that lets exactly two participants find
each other and exchange the offer, answer and ICE candidates needed for a
direct peer-to-peer call. The same binary joins calls from the terminal,
streaming media files and recording what the peer sends.`,
	Version: version.Version,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "log level: debug, info, warn, error")
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		ui.PrintError(err.Error())
		os.Exit(1)
	}
}

// loadConfig resolves configuration for a command and applies its log level.
// def is the level used when none is configured.
func loadConfig(opts config.Options, def slog.Level) (*config.Config, error) {
	opts.ConfigFile = flagConfig
	opts.LogLevel = flagLogLevel

	cfg, err := config.Load(opts)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logging.SetLevel(logging.ParseLevel(cfg.LogLevel, def))
	return cfg, nil
}
