package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/BioHazard786/duocall/internal/config"
	"github.com/BioHazard786/duocall/internal/health"
	"github.com/BioHazard786/duocall/internal/observe"
	"github.com/BioHazard786/duocall/internal/room"
	"github.com/BioHazard786/duocall/internal/server"
	"github.com/BioHazard786/duocall/internal/signaling"
	"github.com/BioHazard786/duocall/internal/version"
)

const shutdownTimeout = 10 * time.Second

var (
	flagAddr           string
	flagAllowedOrigins []string
	flagWebDir         string
	flagNoMetrics      bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the signaling server",
	Long: `Run the room signaling server. The room API is served under /api/room,
probes at /healthz and /readyz, and Prometheus metrics at /metrics.

Examples:
  duocall serve
  duocall serve --addr :9000 --allowed-origins https://call.example.com
  PORT=8080 duocall serve --web-dir ./web`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(config.Options{
			ListenAddr:     flagAddr,
			AllowedOrigins: flagAllowedOrigins,
			WebDir:         flagWebDir,
			NoMetrics:      flagNoMetrics,
		}, slog.LevelInfo)
		if err != nil {
			return err
		}
		return serve(cmd.Context(), cfg.Server)
	},
}

func init() {
	serveCmd.Flags().StringVar(&flagAddr, "addr", "", "listen address (default :8080)")
	serveCmd.Flags().StringSliceVar(&flagAllowedOrigins, "allowed-origins", nil, "browser origins allowed to call the API, or *")
	serveCmd.Flags().StringVar(&flagWebDir, "web-dir", "", "directory of static files served at /")
	serveCmd.Flags().BoolVar(&flagNoMetrics, "no-metrics", false, "disable the /metrics endpoint")
	rootCmd.AddCommand(serveCmd)
}

func serve(ctx context.Context, cfg config.ServerConfig) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: version.Version,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			slog.Warn("telemetry shutdown failed", "err", err)
		}
	}()

	metrics := observe.DefaultMetrics()
	reg := room.New()
	srv := server.New(reg, server.Options{
		Metrics:         metrics,
		AllowedOrigins:  cfg.AllowedOrigins,
		AllowAllOrigins: cfg.AllowAllOrigins(),
	})

	mux := http.NewServeMux()
	mux.Handle(signaling.BasePath+"/", srv.Handler())
	health.New(srv.ReadinessChecks()...).Register(mux)
	if cfg.Metrics {
		mux.Handle("GET /metrics", promhttp.Handler())
	}
	if cfg.WebDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(cfg.WebDir)))
	}

	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           observe.Middleware(metrics)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		srv.Watch().Run(gctx)
		return nil
	})
	g.Go(func() error {
		slog.Info("signaling server listening", "addr", cfg.ListenAddr, "version", version.Version,
			"metrics", cfg.Metrics, "web_dir", cfg.WebDir)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen on %s: %w", cfg.ListenAddr, err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down signaling server")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpSrv.Shutdown(sctx)
	})
	return g.Wait()
}
