package capture

import (
	"context"
	"sync"
	"time"

	"github.com/junsooki/airshare/internal/logging"
	"github.com/junsooki/airshare/internal/metrics"
	"github.com/junsooki/airshare/internal/queue"
)

// DefaultInterval is the pause after each successful capture. It bounds the
// capture rate independently of the display refresh rate.
const DefaultInterval = 150 * time.Millisecond

var log = logging.For("capture")

// Option configures a Producer.
type Option func(*Producer)

// WithQueueLen sets the raw-frame queue capacity.
func WithQueueLen(n int) Option {
	return func(p *Producer) { p.queueLen = n }
}

// WithInterval sets the pacing delay after each successful capture.
func WithInterval(d time.Duration) Option {
	return func(p *Producer) { p.interval = d }
}

// Producer polls a Source on its own goroutine and keeps the frames in a
// bounded queue for the processor.
type Producer struct {
	src      Source
	queueLen int
	interval time.Duration
	frames   *queue.Bounded[*Frame]

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewProducer creates an idle producer reading from src.
func NewProducer(src Source, opts ...Option) *Producer {
	p := &Producer{
		src:      src,
		queueLen: queue.DefaultMaxLen,
		interval: DefaultInterval,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.frames = queue.New[*Frame](p.queueLen)
	p.frames.OnDrop(func(n int) {
		metrics.QueueDropped(metrics.QueueCapture, n)
		log.WithField("dropped", n).Debug("capture queue full, shed oldest frames")
	})
	return p
}

// Start spawns the capture loop. The loop runs until Stop or until ctx is
// cancelled.
func (p *Producer) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return ErrAlreadyRunning
	}

	ctx, p.cancel = context.WithCancel(ctx)
	p.running = true

	p.wg.Add(1)
	go p.loop(ctx)

	log.WithField("queue_len", p.frames.MaxLen()).Info("screen capture started")
	return nil
}

// Stop cancels the loop, waits for it to exit and empties the queue.
// Stopping an idle producer returns ErrNotRunning.
func (p *Producer) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return ErrNotRunning
	}

	p.cancel()
	p.wg.Wait()
	p.running = false

	p.frames.Clear()
	metrics.SetQueueLength(metrics.QueueCapture, 0)
	log.Info("screen capture stopped")
	return nil
}

// Running reports whether the loop is active.
func (p *Producer) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Dequeue blocks until a frame is available or ctx is done.
func (p *Producer) Dequeue(ctx context.Context) (*Frame, bool) {
	f, ok := p.frames.Pop(ctx)
	if ok {
		metrics.SetQueueLength(metrics.QueueCapture, p.frames.Len())
	}
	return f, ok
}

// QueueLen returns the number of frames waiting.
func (p *Producer) QueueLen() int {
	return p.frames.Len()
}

func (p *Producer) loop(ctx context.Context) {
	defer p.wg.Done()

	for ctx.Err() == nil {
		if p.frames.Full() {
			p.frames.Shed()
			continue
		}

		f, err := p.src.Capture()
		if err != nil {
			metrics.CaptureFailed()
			log.WithError(err).Warn("could not capture screen")
			p.pause(ctx)
			continue
		}
		if f == nil || f.Image == nil {
			p.pause(ctx)
			continue
		}

		p.frames.Push(f)
		metrics.FrameCaptured()
		metrics.SetQueueLength(metrics.QueueCapture, p.frames.Len())
		p.pause(ctx)
	}
}

func (p *Producer) pause(ctx context.Context) {
	t := time.NewTimer(p.interval)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
