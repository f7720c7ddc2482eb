package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/junsooki/airshare/internal/config"
	"github.com/junsooki/airshare/internal/logging"
	"github.com/junsooki/airshare/internal/metrics"
	"github.com/junsooki/airshare/internal/signaling"
)

var log = logging.For("signal")

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfg config.Signal
	cmd := &cobra.Command{
		Use:          "airshare-signal",
		Short:        "Relay WebRTC signaling between airshare hosts and viewers",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.Load(&cfg, cmd); err != nil {
				return err
			}
			if err := logging.Setup(cfg.Logging()); err != nil {
				return err
			}
			return run(cmd.Context(), &cfg)
		},
	}
	config.BindSignalFlags(cmd, &cfg)
	return cmd
}

func run(ctx context.Context, cfg *config.Signal) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	mux := http.NewServeMux()
	mux.Handle("/ws", signaling.NewServer())
	if cfg.MetricsAddr == "" || cfg.MetricsAddr == cfg.Addr {
		mux.Handle("/metrics", metrics.Handler())
	} else {
		metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: metrics.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.WithError(err).Error("metrics server")
			}
		}()
		defer metricsSrv.Close()
	}

	srv := &http.Server{Addr: cfg.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	log.WithField("addr", cfg.Addr).Info("signaling server listening")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
