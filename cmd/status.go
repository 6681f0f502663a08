package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/BioHazard786/duocall/internal/config"
	"github.com/BioHazard786/duocall/internal/ui"
)

var flagWatch bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the room status",
	Long: `Show how many participants are in the room and how far their handshake got.
With --watch the table is reprinted on every change until interrupted.

Examples:
  duocall status --server https://call.example.com
  duocall status --watch`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(config.Options{ServerURL: flagServer}, slog.LevelError)
		if err != nil {
			return err
		}
		return showStatus(cmd.Context(), cfg.Client, flagWatch)
	},
}

func init() {
	addServerFlag(statusCmd)
	statusCmd.Flags().BoolVarP(&flagWatch, "watch", "w", false, "stream status changes")
	rootCmd.AddCommand(statusCmd)
}

func showStatus(ctx context.Context, cfg config.ClientConfig, watch bool) error {
	client, err := newSignalingClient(cfg)
	if err != nil {
		return err
	}

	if !watch {
		stopSpinner := ui.RunSpinner("Fetching room status...")
		st, err := client.Status(ctx)
		stopSpinner()
		if err != nil {
			return fmt.Errorf("fetch status: %w", err)
		}
		fmt.Println(ui.StatusView(st, time.Time{}))
		return nil
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	updates, err := client.Watch(ctx)
	if err != nil {
		return fmt.Errorf("watch status: %w", err)
	}
	ui.PrintInfof("Watching %s (ctrl+c to stop)", client.ServerURL())
	for st := range updates {
		fmt.Println(ui.StatusView(st, time.Now()))
	}
	if ctx.Err() == nil {
		ui.PrintWarning("Server closed the status stream.")
	}
	return nil
}
