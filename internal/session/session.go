// Package session runs the host pipeline: capture, delta processing and
// fan-out of processed payloads to every connected viewer.
package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/junsooki/airshare/internal/capture"
	"github.com/junsooki/airshare/internal/encoder"
	"github.com/junsooki/airshare/internal/logging"
	"github.com/junsooki/airshare/internal/metrics"
	"github.com/junsooki/airshare/internal/processor"
	"github.com/junsooki/airshare/internal/resolution"
	"github.com/junsooki/airshare/internal/transport"
)

var (
	// ErrAlreadyRunning is returned by Start on a running session.
	ErrAlreadyRunning = errors.New("session: already running")
	// ErrNotRunning is returned by Stop on an idle session.
	ErrNotRunning = errors.New("session: not running")
)

var log = logging.For("session")

// Option configures a Session.
type Option func(*Session)

// WithCapture passes options to the capture producer.
func WithCapture(opts ...capture.Option) Option {
	return func(s *Session) { s.captureOpts = append(s.captureOpts, opts...) }
}

// WithProcessing passes options to the processor.
func WithProcessing(opts ...processor.Option) Option {
	return func(s *Session) { s.processOpts = append(s.processOpts, opts...) }
}

// viewer is one receiver. last is the Seq of the last payload it was sent,
// or 0 while it has no usable base. A delta is only sent when its Base is
// last; otherwise it would be applied to the wrong frame.
type viewer struct {
	id     string
	sender transport.FrameSender
	last   atomic.Uint64
}

// Session owns a capture producer, a processor and the viewer set.
type Session struct {
	captureOpts []capture.Option
	processOpts []processor.Option

	producer *capture.Producer
	proc     *processor.Processor
	res      *resolution.Controller

	mu       sync.Mutex
	viewers  map[string]*viewer
	running  bool
	starting bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// New creates an idle session capturing from src.
func New(src capture.Source, opts ...Option) *Session {
	s := &Session{
		res:     resolution.NewController(),
		viewers: make(map[string]*viewer),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.producer = capture.NewProducer(src, s.captureOpts...)
	s.proc = processor.New(s.producer, s.res, s.processOpts...)
	return s
}

// Start starts capture and processing and begins delivering payloads. It
// blocks until the first frame is captured or ctx is done. Viewers can be
// added while it waits; Stop returns ErrNotRunning until it has returned.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running || s.starting {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.starting = true
	s.mu.Unlock()

	err := s.startPipeline(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.starting = false
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	s.wg.Add(1)
	go s.deliver(ctx)

	log.WithField("resolution", s.proc.Resolution().String()).Info("session started")
	return nil
}

func (s *Session) startPipeline(ctx context.Context) error {
	if err := s.producer.Start(ctx); err != nil {
		return fmt.Errorf("start capture: %w", err)
	}
	if err := s.proc.Start(ctx); err != nil {
		_ = s.producer.Stop()
		return fmt.Errorf("start processing: %w", err)
	}
	return nil
}

// Stop stops delivery, processing and capture, in that order.
func (s *Session) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return ErrNotRunning
	}

	s.cancel()
	s.wg.Wait()
	s.running = false

	var errs []error
	if err := s.proc.Stop(); err != nil {
		errs = append(errs, err)
	}
	if err := s.producer.Stop(); err != nil {
		errs = append(errs, err)
	}
	log.Info("session stopped")
	return errors.Join(errs...)
}

// Running reports whether the session is delivering payloads.
func (s *Session) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Resolution returns the resolution payloads are produced at.
func (s *Session) Resolution() resolution.Resolution {
	return s.proc.Resolution()
}

// AddViewer starts sending payloads to sender under id, replacing any viewer
// with the same id. The resolution is divided among all viewers and the next
// payload is a full frame so the newcomer has a base.
func (s *Session) AddViewer(id string, sender transport.FrameSender) {
	s.mu.Lock()
	s.viewers[id] = &viewer{id: id, sender: sender}
	n := len(s.viewers)
	s.mu.Unlock()

	s.resize(n)
	s.proc.RequestFullFrame()
	metrics.SetViewers(n)
	log.WithFields(logrus.Fields{"viewer": id, "viewers": n}).Info("viewer added")
}

// RemoveViewer stops sending to id. Unknown ids are ignored.
func (s *Session) RemoveViewer(id string) {
	s.mu.Lock()
	if _, ok := s.viewers[id]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.viewers, id)
	n := len(s.viewers)
	s.mu.Unlock()

	if n > 0 {
		s.resize(n)
	}
	metrics.SetViewers(n)
	log.WithFields(logrus.Fields{"viewer": id, "viewers": n}).Info("viewer removed")
}

// Viewers returns the ids of connected viewers, sorted.
func (s *Session) Viewers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.viewers))
	for id := range s.viewers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Synced reports whether viewer id holds the frame the next delta builds
// on. It turns true with the first full frame it is sent and false when it
// misses a payload.
func (s *Session) Synced(id string) bool {
	s.mu.Lock()
	v, ok := s.viewers[id]
	s.mu.Unlock()
	return ok && v.last.Load() != 0
}

func (s *Session) resize(n int) {
	if err := s.proc.SetRequestedResolution(uint32(n)); err != nil {
		log.WithError(err).Warn("resolution request rejected")
	}
}

func (s *Session) snapshot() []*viewer {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*viewer, 0, len(s.viewers))
	for _, v := range s.viewers {
		out = append(out, v)
	}
	return out
}

func (s *Session) deliver(ctx context.Context) {
	defer s.wg.Done()

	for {
		pl, ok := s.proc.Dequeue(ctx)
		if !ok {
			return
		}
		s.broadcast(pl)
	}
}

func (s *Session) broadcast(pl encoder.Payload) {
	wire := pl.Marshal()
	full := pl.Mode == encoder.FullFrame

	for _, v := range s.snapshot() {
		if !full && v.last.Load() != pl.Base {
			// This viewer never got the delta's base. Wait for a full frame.
			if v.last.Swap(0) != 0 {
				s.proc.RequestFullFrame()
				log.WithFields(logrus.Fields{"viewer": v.id, "seq": pl.Seq}).Debug("delta base missed, resyncing")
			}
			continue
		}
		if err := v.sender.SendFrame(wire); err != nil {
			v.last.Store(0)
			s.proc.RequestFullFrame()
			log.WithError(err).WithField("viewer", v.id).Debug("send failed, resyncing")
			continue
		}
		v.last.Store(pl.Seq)
	}
}
