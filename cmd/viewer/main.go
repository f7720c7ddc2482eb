package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/pion/webrtc/v4"
	"github.com/spf13/cobra"

	"github.com/junsooki/airshare/internal/config"
	"github.com/junsooki/airshare/internal/decoder"
	"github.com/junsooki/airshare/internal/display"
	"github.com/junsooki/airshare/internal/logging"
	"github.com/junsooki/airshare/internal/peer"
	"github.com/junsooki/airshare/internal/signaling"
)

var log = logging.For("viewer")

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfg config.Viewer
	cmd := &cobra.Command{
		Use:          "airshare-viewer",
		Short:        "Watch a shared screen; without --host-id, list available hosts",
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
			if cfg.HostID == "" {
				return listHosts(cmd, &cfg)
			}
			return run(cmd.Context(), &cfg)
		},
	}
	config.BindViewerFlags(cmd, &cfg)
	return cmd
}

func listHosts(cmd *cobra.Command, cfg *config.Viewer) error {
	hosts := make(chan []signaling.HostInfo, 1)
	sig := signaling.NewClient(cfg.SignalingURL, cfg.ViewerID, signaling.ClientTypeViewer, signaling.Handler{
		OnHostsUpdated: func(list []signaling.HostInfo) {
			select {
			case hosts <- list:
			default:
			}
		},
	})
	if err := sig.Connect(cmd.Context()); err != nil {
		return err
	}
	defer sig.Close()

	if err := sig.RequestHostList(); err != nil {
		return err
	}
	select {
	case list := <-hosts:
		if len(list) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no hosts online")
		}
		for _, h := range list {
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d viewer(s)\n", h.ID, h.Viewers)
		}
		return nil
	case <-sig.Done():
		return errors.New("signaling connection lost")
	}
}

func run(ctx context.Context, cfg *config.Viewer) error {
	log.WithField("host", cfg.HostID).Info("airshare viewer starting")

	rec := decoder.NewReconstructor(decoder.NewDeflateDecoder())
	disp := display.NewEbitenDisplay("airshare - " + cfg.HostID)

	var viewer *peer.Viewer
	sig := signaling.NewClient(cfg.SignalingURL, cfg.ViewerID, signaling.ClientTypeViewer, signaling.Handler{
		OnAnswer: func(from string, payload json.RawMessage) {
			if err := viewer.HandleAnswer(payload); err != nil {
				log.WithError(err).Error("handle answer")
			}
		},
		OnICECandidate: func(from string, payload json.RawMessage) {
			if err := viewer.HandleICECandidate(payload); err != nil {
				log.WithError(err).Warn("add ICE candidate")
			}
		},
		OnHostDisconnected: func(id string) {
			log.WithField("host", id).Warn("host disconnected")
			disp.Close()
		},
		OnError: func(msg string) {
			log.WithField("msg", msg).Warn("signaling error")
		},
	})

	var err error
	viewer, err = peer.NewViewer(peer.Config{ICEServers: cfg.ICEServers}, sig, cfg.HostID, func(s webrtc.PeerConnectionState) {
		if s == webrtc.PeerConnectionStateFailed || s == webrtc.PeerConnectionStateClosed {
			disp.Close()
		}
	})
	if err != nil {
		return err
	}
	defer viewer.Close()

	viewer.Transport().OnFrame(func(data []byte) {
		img, mode, err := rec.Apply(data)
		if errors.Is(err, decoder.ErrNoBase) {
			log.Debug("delta before base frame, waiting for a full frame")
			return
		}
		if err != nil {
			log.WithError(err).WithField("mode", mode.String()).Warn("drop frame")
			return
		}
		disp.SetFrame(img)
	})

	if err := sig.Connect(ctx); err != nil {
		return err
	}
	defer sig.Close()

	if err := viewer.Connect(); err != nil {
		return fmt.Errorf("send offer: %w", err)
	}

	// Ebitengine RunGame must be on the main goroutine (macOS requirement).
	return disp.Run()
}
