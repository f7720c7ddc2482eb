package capture

import (
	"context"
	"errors"
	"image"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFrame(w, h int) *Frame {
	return &Frame{Image: image.NewRGBA(image.Rect(0, 0, w, h)), Timestamp: time.Now()}
}

func countingSource(calls *atomic.Int64) Source {
	return SourceFunc(func() (*Frame, error) {
		calls.Add(1)
		return newTestFrame(4, 4), nil
	})
}

func TestProducer_StartStop(t *testing.T) {
	var calls atomic.Int64
	p := NewProducer(countingSource(&calls), WithInterval(time.Millisecond))

	require.NoError(t, p.Start(context.Background()))
	assert.True(t, p.Running())
	assert.ErrorIs(t, p.Start(context.Background()), ErrAlreadyRunning)

	require.Eventually(t, func() bool { return p.QueueLen() > 0 }, time.Second, 5*time.Millisecond)

	require.NoError(t, p.Stop())
	assert.False(t, p.Running())
	assert.Equal(t, 0, p.QueueLen())

	// The loop has exited, so nothing refills the queue.
	n := calls.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, n, calls.Load())
	assert.Equal(t, 0, p.QueueLen())
}

func TestProducer_StopWithoutStart(t *testing.T) {
	p := NewProducer(SourceFunc(func() (*Frame, error) { return nil, ErrNoFrame }))
	assert.ErrorIs(t, p.Stop(), ErrNotRunning)
}

func TestProducer_Restart(t *testing.T) {
	var calls atomic.Int64
	p := NewProducer(countingSource(&calls), WithInterval(time.Millisecond))

	for i := 0; i < 3; i++ {
		require.NoError(t, p.Start(context.Background()))
		require.NoError(t, p.Stop())
	}
}

func TestProducer_QueueStaysBounded(t *testing.T) {
	var calls atomic.Int64
	p := NewProducer(countingSource(&calls), WithQueueLen(10), WithInterval(0))
	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()

	deadline := time.Now().Add(100 * time.Millisecond)
	for time.Now().Before(deadline) {
		l := p.QueueLen()
		assert.GreaterOrEqual(t, l, 0)
		assert.LessOrEqual(t, l, 10)
	}
	assert.Greater(t, calls.Load(), int64(10), "producer keeps capturing after shedding")
}

func TestProducer_TransientErrorsAreSkipped(t *testing.T) {
	var calls atomic.Int64
	src := SourceFunc(func() (*Frame, error) {
		if calls.Add(1)%2 == 1 {
			return nil, errors.New("display asleep")
		}
		return newTestFrame(2, 2), nil
	})

	p := NewProducer(src, WithInterval(time.Millisecond))
	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	for i := 0; i < 3; i++ {
		f, ok := p.Dequeue(ctx)
		require.True(t, ok)
		require.NotNil(t, f)
		assert.Equal(t, 2, f.Width())
		assert.Equal(t, 2, f.Height())
	}
}

func TestProducer_DequeueCancelled(t *testing.T) {
	p := NewProducer(SourceFunc(func() (*Frame, error) { return nil, ErrNoFrame }), WithInterval(time.Millisecond))
	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	f, ok := p.Dequeue(ctx)
	assert.False(t, ok)
	assert.Nil(t, f)
}

func TestProducer_ParentContextCancel(t *testing.T) {
	var calls atomic.Int64
	p := NewProducer(countingSource(&calls), WithInterval(time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, p.Start(ctx))
	cancel()

	// Stop still waits for the loop and clears the queue.
	require.NoError(t, p.Stop())
	assert.Equal(t, 0, p.QueueLen())
}

func TestPatternSource(t *testing.T) {
	_, err := NewPatternSource(0, 10)
	assert.Error(t, err)

	src, err := NewPatternSource(64, 48)
	require.NoError(t, err)

	a, err := src.Capture()
	require.NoError(t, err)
	b, err := src.Capture()
	require.NoError(t, err)

	assert.Equal(t, 64, a.Width())
	assert.Equal(t, 48, a.Height())
	assert.NotEqual(t, a.Image.Pix, b.Image.Pix, "the square moves between captures")

	diff := 0
	for i := 0; i < len(a.Image.Pix); i += 4 {
		if a.Image.Pix[i] != b.Image.Pix[i] || a.Image.Pix[i+1] != b.Image.Pix[i+1] ||
			a.Image.Pix[i+2] != b.Image.Pix[i+2] {
			diff++
		}
	}
	assert.Less(t, diff, 64*48/4)
}

func TestPatternSource_FailEvery(t *testing.T) {
	src, err := NewPatternSource(8, 8)
	require.NoError(t, err)
	src.FailEvery = 2

	_, err = src.Capture()
	assert.NoError(t, err)
	_, err = src.Capture()
	assert.Error(t, err)
}
