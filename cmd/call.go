package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/BioHazard786/duocall/internal/call"
	"github.com/BioHazard786/duocall/internal/config"
	"github.com/BioHazard786/duocall/internal/keepalive"
	"github.com/BioHazard786/duocall/internal/media"
	"github.com/BioHazard786/duocall/internal/room"
	"github.com/BioHazard786/duocall/internal/signaling"
	"github.com/BioHazard786/duocall/internal/ui"
)

const hangUpTimeout = 10 * time.Second

var (
	flagServer       string
	flagVideo        string
	flagAudio        string
	flagRecordDir    string
	flagSTUN         []string
	flagTURN         string
	flagTURNUser     string
	flagTURNPass     string
	flagRelay        bool
	flagPollInterval time.Duration
	flagTimeout      time.Duration
	flagNoKeepAlive  bool
)

var callCmd = &cobra.Command{
	Use:     "call",
	Aliases: []string{"c"},
	Short:   "Join the call room",
	Long: `Join the room on the signaling server and hold a call with the other
participant. Local media is streamed from an IVF (VP8) and an Ogg (Opus) file;
without them the call only receives. Remote media is recorded when a record
directory is set.

Examples:
  duocall call --server https://call.example.com
  duocall call --video me.ivf --audio me.ogg --record ./recordings
  duocall call --turn turn.example.com --turn-user u --turn-pass p --relay`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(config.Options{
			ServerURL:      flagServer,
			PollInterval:   flagPollInterval,
			RequestTimeout: flagTimeout,
			STUNServers:    flagSTUN,
			TURNServer:     flagTURN,
			TURNUser:       flagTURNUser,
			TURNPass:       flagTURNPass,
			ForceRelay:     flagRelay,
			VideoFile:      flagVideo,
			AudioFile:      flagAudio,
			RecordDir:      flagRecordDir,
			NoKeepAlive:    flagNoKeepAlive,
		}, slog.LevelError)
		if err != nil {
			return err
		}
		return runCall(cmd.Context(), cfg.Client)
	},
}

func init() {
	addServerFlag(callCmd)
	f := callCmd.Flags()
	f.StringVar(&flagVideo, "video", "", "IVF (VP8) file to stream as video")
	f.StringVar(&flagAudio, "audio", "", "Ogg (Opus) file to stream as audio")
	f.StringVar(&flagRecordDir, "record", "", "directory to record the peer's media into")
	f.StringSliceVar(&flagSTUN, "stun", nil, "STUN server URLs")
	f.StringVar(&flagTURN, "turn", "", "TURN server host")
	f.StringVar(&flagTURNUser, "turn-user", "", "TURN username")
	f.StringVar(&flagTURNPass, "turn-pass", "", "TURN password")
	f.BoolVar(&flagRelay, "relay", false, "force traffic through the TURN server")
	f.DurationVar(&flagPollInterval, "poll-interval", 0, "how often to poll the room (default 2s)")
	f.DurationVar(&flagTimeout, "timeout", 0, "per-request timeout for signaling calls (0 disables)")
	f.BoolVar(&flagNoKeepAlive, "no-keepalive", false, "do not ping the server to keep it awake")
	rootCmd.AddCommand(callCmd)
}

func addServerFlag(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&flagServer, "server", "s", "", "signaling server URL (default http://localhost:8080)")
}

func newSignalingClient(cfg config.ClientConfig) (*signaling.Client, error) {
	var opts []signaling.ClientOption
	if cfg.RequestTimeout > 0 {
		opts = append(opts, signaling.WithTimeout(cfg.RequestTimeout))
	}
	return signaling.NewClient(cfg.ServerURL, opts...)
}

func runCall(ctx context.Context, cfg config.ClientConfig) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := newSignalingClient(cfg)
	if err != nil {
		return err
	}

	fmt.Println(ui.CallInfo{
		ServerURL: client.ServerURL(),
		VideoFile: cfg.VideoFile,
		AudioFile: cfg.AudioFile,
		RecordDir: cfg.RecordDir,
	}.View())
	fmt.Println()

	stopSpinner := ui.RunConnectionSpinner("Reaching signaling server...")
	st, err := client.Status(ctx)
	stopSpinner()
	if err != nil {
		return call.WrapError("reach signaling server", call.ErrSignalingFailure, err)
	}
	if st.UsersCount >= room.MaxParticipants {
		ui.PrintWarning("The room is full; joining will fail until someone leaves.")
	}

	turnUser, turnPass := cfg.GetTURNCredentials()
	coord := call.New(call.Config{
		Signaler: client,
		NewTransport: media.Factory(media.Options{
			STUNServers: cfg.GetSTUNServers(),
			TURNServers: cfg.GetTURNServers(),
			TURNUser:    turnUser,
			TURNPass:    turnPass,
			ForceRelay:  cfg.ForceRelay,
			VideoFile:   cfg.VideoFile,
			AudioFile:   cfg.AudioFile,
			RecordDir:   cfg.RecordDir,
		}),
		PollInterval: cfg.PollInterval,
	})

	if cfg.KeepAlive.Enabled {
		pinger := keepalive.New(client, cfg.KeepAlive.Interval)
		defer pinger.Stop()
		coord.OnStateChange(pinger.Follow)
	}

	view := ui.NewCallView(client.ServerURL(), func() error {
		return coord.StartCall(ctx)
	})
	coord.OnStateChange(func(s call.State) {
		var err error
		if s == call.Error {
			err = coord.Err()
		}
		view.SetState(s, err)
	})

	started := make(chan struct{})
	go func() {
		defer close(started)
		if err := coord.StartCall(ctx); err != nil && !errors.Is(err, call.ErrCallEnded) {
			slog.Debug("call did not start", "err", err)
		}
	}()
	stopQuit := context.AfterFunc(ctx, view.Quit)
	defer stopQuit()

	if err := view.Run(); err != nil {
		slog.Warn("call view failed", "err", err)
	}
	view.Quit()

	hctx, cancel := context.WithTimeout(context.Background(), hangUpTimeout)
	defer cancel()
	summary := coord.EndCall(hctx)
	<-started

	fmt.Println()
	ui.RenderSummary(summary)
	if summary.Err != nil {
		return errors.New(ui.ErrorText(summary.Err))
	}
	return nil
}
