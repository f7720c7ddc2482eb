// Package processor turns raw captured frames into compressed full or delta
// payloads at the resolution requested by the viewers.
package processor

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"sync/atomic"

	"github.com/klauspost/compress/flate"
	"github.com/sirupsen/logrus"
	"golang.org/x/image/draw"

	"github.com/junsooki/airshare/internal/capture"
	"github.com/junsooki/airshare/internal/encoder"
	"github.com/junsooki/airshare/internal/logging"
	"github.com/junsooki/airshare/internal/metrics"
	"github.com/junsooki/airshare/internal/queue"
	"github.com/junsooki/airshare/internal/resolution"
)

var (
	// ErrAlreadyRunning is returned by Start on a running processor.
	ErrAlreadyRunning = errors.New("processor: already running")
	// ErrNotRunning is returned by Stop on an idle processor. It indicates a
	// caller bug.
	ErrNotRunning = errors.New("processor: not running")
	// ErrNoBaseline is returned by Start when it was cancelled before the
	// first frame arrived. The processor did not start.
	ErrNoBaseline = errors.New("processor: no baseline frame")
)

var log = logging.For("processor")

// FrameSource yields raw frames; capture.Producer implements it.
type FrameSource interface {
	Dequeue(ctx context.Context) (*capture.Frame, bool)
}

// State says whether the next payload can be a delta.
type State int

const (
	// AwaitingBaseline means the previous frame is not valid for the
	// receiver, so the next payload is a full frame.
	AwaitingBaseline State = iota
	// SteadyState means the next payload is a delta unless too many pixels
	// changed.
	SteadyState
)

func (s State) String() string {
	if s == SteadyState {
		return "steady"
	}
	return "awaiting-baseline"
}

// Option configures a Processor.
type Option func(*Processor)

// WithThreshold sets the changed-pixel count above which a full frame is sent.
func WithThreshold(n int) Option {
	return func(p *Processor) { p.threshold = n }
}

// WithQueueLen sets the outbound queue capacity.
func WithQueueLen(n int) Option {
	return func(p *Processor) { p.queueLen = n }
}

// WithEncoder replaces the default deflate encoder. The encoder must be
// lossless for deltas to reconstruct.
func WithEncoder(enc encoder.Encoder) Option {
	return func(p *Processor) { p.enc = enc }
}

// WithScaler sets the resampler used to reach the current resolution.
func WithScaler(s draw.Scaler) Option {
	return func(p *Processor) { p.scaler = s }
}

// Processor owns the processing goroutine. prev and state are only touched
// by that goroutine (or by Start before it is spawned).
type Processor struct {
	frames    FrameSource
	res       *resolution.Controller
	enc       encoder.Encoder
	scaler    draw.Scaler
	threshold int
	queueLen  int
	out       *queue.Bounded[encoder.Payload]

	forceFull atomic.Bool

	mu       sync.Mutex
	running  bool
	starting bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	prev  *image.RGBA
	state State
	seq   uint64
}

// New creates an idle processor reading from frames. res is shared with
// whoever requests resolutions; a nil res gets a private controller.
func New(frames FrameSource, res *resolution.Controller, opts ...Option) *Processor {
	if res == nil {
		res = resolution.NewController()
	}
	p := &Processor{
		frames:    frames,
		res:       res,
		enc:       encoder.NewDeflateEncoder(flate.BestSpeed),
		scaler:    draw.NearestNeighbor,
		threshold: encoder.DefaultThreshold,
		queueLen:  queue.DefaultMaxLen,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.out = queue.New[encoder.Payload](p.queueLen)
	p.out.OnDrop(func(n int) {
		// The surviving deltas build on payloads nobody will receive.
		p.forceFull.Store(true)
		metrics.QueueDropped(metrics.QueueProcessed, n)
		log.WithField("dropped", n).Debug("outbound queue full, shed oldest payloads")
	})
	return p
}

// Start waits for one frame to learn the native capture size, sets the
// current resolution and spawns the processing loop. It returns
// ErrNoBaseline if ctx is cancelled first. While Start waits the processor
// is not running: Running reports false and Stop returns ErrNotRunning.
func (p *Processor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running || p.starting {
		p.mu.Unlock()
		return ErrAlreadyRunning
	}
	p.starting = true
	p.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	first, ok := p.frames.Dequeue(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.starting = false

	if !ok {
		cancel()
		return ErrNoBaseline
	}

	native := resolution.Resolution{
		Width:  uint32(first.Width()),
		Height: uint32(first.Height()),
	}
	cur := p.res.Init(native)
	p.prev = image.NewRGBA(image.Rect(0, 0, int(cur.Width), int(cur.Height)))
	p.state = AwaitingBaseline
	metrics.SetResolution(cur.Width, cur.Height)

	p.cancel = cancel
	p.running = true
	p.wg.Add(1)
	go p.loop(ctx)

	log.WithFields(logrus.Fields{
		"native":  native.String(),
		"current": cur.String(),
	}).Info("image processing started")
	return nil
}

// Stop cancels the loop, waits for it to exit and empties the outbound
// queue. Stopping an idle processor returns ErrNotRunning.
func (p *Processor) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return ErrNotRunning
	}

	p.cancel()
	p.wg.Wait()
	p.running = false

	p.out.Clear()
	metrics.SetQueueLength(metrics.QueueProcessed, 0)
	log.Info("image processing stopped")
	return nil
}

// Running reports whether the loop is active.
func (p *Processor) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Dequeue blocks until a payload is available or ctx is done.
func (p *Processor) Dequeue(ctx context.Context) (encoder.Payload, bool) {
	pl, ok := p.out.Pop(ctx)
	if ok {
		metrics.SetQueueLength(metrics.QueueProcessed, p.out.Len())
	}
	return pl, ok
}

// QueueLen returns the number of payloads waiting.
func (p *Processor) QueueLen() int {
	return p.out.Len()
}

// SetRequestedResolution asks for the native size divided by the number of
// viewer windows. It is applied at the next frame.
func (p *Processor) SetRequestedResolution(viewerWindowCount uint32) error {
	if err := p.res.Request(viewerWindowCount); err != nil {
		return fmt.Errorf("set requested resolution: %w", err)
	}
	log.WithFields(logrus.Fields{
		"windows":   viewerWindowCount,
		"requested": p.res.Requested().String(),
	}).Debug("resolution requested")
	return nil
}

// Resolution returns the resolution in effect.
func (p *Processor) Resolution() resolution.Resolution {
	return p.res.Current()
}

// RequestFullFrame makes the next payload a full frame, for receivers that
// joined without a base.
func (p *Processor) RequestFullFrame() {
	p.forceFull.Store(true)
}

func (p *Processor) loop(ctx context.Context) {
	defer p.wg.Done()

	for ctx.Err() == nil {
		frame, ok := p.frames.Dequeue(ctx)
		if !ok {
			return
		}

		pl, err := p.process(frame)
		if err != nil {
			log.WithError(err).Warn("dropping frame")
			continue
		}

		p.out.Push(pl)
		metrics.SetQueueLength(metrics.QueueProcessed, p.out.Len())
	}
}

// process encodes one frame against the stored baseline and advances it.
func (p *Processor) process(frame *capture.Frame) (encoder.Payload, error) {
	cur, changed := p.res.Sync()
	if changed {
		p.prev = image.NewRGBA(image.Rect(0, 0, int(cur.Width), int(cur.Height)))
		p.state = AwaitingBaseline
		metrics.SetResolution(cur.Width, cur.Height)
		log.WithField("resolution", cur.String()).Info("resolution changed")
	}
	if p.forceFull.Swap(false) {
		p.state = AwaitingBaseline
	}

	scaled := p.resample(frame.Image, cur)

	mode := encoder.FullFrame
	img := scaled
	if p.state == SteadyState {
		if delta, _, ok := encoder.XOR(p.prev, scaled, p.threshold); ok {
			mode = encoder.DeltaFrame
			img = delta
		}
	}

	data, err := p.enc.Encode(img)
	if err != nil {
		return encoder.Payload{}, fmt.Errorf("encode %s frame: %w", mode, err)
	}

	p.prev = scaled
	p.state = SteadyState
	p.seq++
	metrics.PayloadProduced(mode.String(), len(data))

	pl := encoder.Payload{Data: data, Mode: mode, Seq: p.seq}
	if mode == encoder.DeltaFrame {
		pl.Base = p.seq - 1
	}
	return pl, nil
}

func (p *Processor) resample(src *image.RGBA, res resolution.Resolution) *image.RGBA {
	w, h := int(res.Width), int(res.Height)
	if src.Rect.Min == (image.Point{}) && src.Rect.Dx() == w && src.Rect.Dy() == h && src.Stride == w*4 {
		return src
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	p.scaler.Scale(dst, dst.Rect, src, src.Rect, draw.Src, nil)
	return dst
}
