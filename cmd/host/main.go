package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/junsooki/airshare/internal/capture"
	"github.com/junsooki/airshare/internal/config"
	"github.com/junsooki/airshare/internal/logging"
	"github.com/junsooki/airshare/internal/metrics"
	"github.com/junsooki/airshare/internal/peer"
	"github.com/junsooki/airshare/internal/processor"
	"github.com/junsooki/airshare/internal/session"
	"github.com/junsooki/airshare/internal/signaling"
)

var log = logging.For("host")

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfg config.Host
	cmd := &cobra.Command{
		Use:          "airshare-host",
		Short:        "Share this screen with airshare viewers",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.Load(&cfg, cmd); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := logging.Setup(cfg.Logging()); err != nil {
				return err
			}
			return run(cmd.Context(), &cfg)
		},
	}
	config.BindHostFlags(cmd, &cfg)
	return cmd
}

func newSource(cfg *config.Host) (capture.Source, error) {
	if cfg.Source == config.SourcePattern {
		return capture.NewPatternSource(cfg.PatternWidth, cfg.PatternHeight)
	}
	return capture.NewScreenSource(cfg.DisplayIndex)
}

func run(ctx context.Context, cfg *config.Host) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(logrus.Fields{
		"host_id":   cfg.HostID,
		"signaling": cfg.SignalingURL,
		"source":    cfg.Source,
		"display":   cfg.DisplayIndex,
		"interval":  cfg.CaptureIntervalMs,
	}).Info("airshare host starting")

	src, err := newSource(cfg)
	if err != nil {
		return fmt.Errorf("capture source: %w", err)
	}

	if cfg.MetricsAddr != "" {
		srv := serveMetrics(cfg.MetricsAddr)
		defer shutdown(srv)
	}

	sess := session.New(src,
		session.WithCapture(
			capture.WithInterval(time.Duration(cfg.CaptureIntervalMs)*time.Millisecond),
			capture.WithQueueLen(cfg.QueueLen),
		),
		session.WithProcessing(
			processor.WithThreshold(cfg.DiffThreshold),
			processor.WithQueueLen(cfg.QueueLen),
		),
	)
	if err := sess.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := sess.Stop(); err != nil {
			log.WithError(err).Warn("session stop")
		}
	}()

	var peers *session.Peers
	sig := signaling.NewClient(cfg.SignalingURL, cfg.HostID, signaling.ClientTypeHost, signaling.Handler{
		OnRegistered: func() {
			log.Info("registered with signaling server")
		},
		OnOffer: func(from string, payload json.RawMessage) {
			log.WithField("viewer", from).Info("offer received")
			peers.HandleOffer(from, payload)
		},
		OnICECandidate: func(from string, payload json.RawMessage) {
			peers.HandleICECandidate(from, payload)
		},
		OnViewerLeft: func(id string) {
			peers.HandleViewerLeft(id)
		},
		OnError: func(msg string) {
			log.WithField("msg", msg).Warn("signaling error")
		},
	})
	peers = session.NewPeers(sess, peer.Config{ICEServers: cfg.ICEServers}, sig)
	defer peers.Close()

	if err := sig.Connect(ctx); err != nil {
		return err
	}
	defer sig.Close()

	log.WithField("host_id", cfg.HostID).Info("host ready, share this ID with viewers")

	select {
	case <-ctx.Done():
		log.Info("shutting down")
		return nil
	case <-sig.Done():
		return errors.New("signaling connection lost")
	}
}

func serveMetrics(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("metrics server")
		}
	}()
	log.WithField("addr", addr).Info("serving metrics")
	return srv
}

func shutdown(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}
