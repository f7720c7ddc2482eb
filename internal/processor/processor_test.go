package processor

import (
	"context"
	"errors"
	"image"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/junsooki/airshare/internal/capture"
	"github.com/junsooki/airshare/internal/decoder"
	"github.com/junsooki/airshare/internal/encoder"
	"github.com/junsooki/airshare/internal/resolution"
)

// chanSource feeds frames from a channel, like capture.Producer.Dequeue.
type chanSource chan *capture.Frame

func (c chanSource) Dequeue(ctx context.Context) (*capture.Frame, bool) {
	select {
	case f := <-c:
		return f, true
	case <-ctx.Done():
		return nil, false
	}
}

func createTestFrame(w, h int, seed int64) *capture.Frame {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	rand.New(rand.NewSource(seed)).Read(img.Pix)
	return &capture.Frame{Image: img, Timestamp: time.Now()}
}

// changed returns a copy of f with n pixels flipped.
func changed(f *capture.Frame, n int) *capture.Frame {
	img := image.NewRGBA(f.Image.Rect)
	copy(img.Pix, f.Image.Pix)
	for i := 0; i < n; i++ {
		img.Pix[i*4*3] ^= 0xff
	}
	return &capture.Frame{Image: img, Timestamp: time.Now()}
}

func next(t *testing.T, p *Processor) encoder.Payload {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	pl, ok := p.Dequeue(ctx)
	require.True(t, ok, "no payload produced")
	return pl
}

func startWithBaseline(t *testing.T, src chanSource, w, h int, opts ...Option) *Processor {
	t.Helper()
	p := New(src, resolution.NewController(), opts...)
	src <- createTestFrame(w, h, 99)
	require.NoError(t, p.Start(context.Background()))
	t.Cleanup(func() {
		if p.Running() {
			_ = p.Stop()
		}
	})
	return p
}

func TestProcessor_StartWithoutBaseline(t *testing.T) {
	p := New(make(chanSource), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := p.Start(ctx)
	assert.ErrorIs(t, err, ErrNoBaseline)
	assert.False(t, p.Running())
	assert.ErrorIs(t, p.Stop(), ErrNotRunning)
}

func TestProcessor_StartTwice(t *testing.T) {
	src := make(chanSource, 1)
	p := startWithBaseline(t, src, 8, 8)
	assert.ErrorIs(t, p.Start(context.Background()), ErrAlreadyRunning)
}

func TestProcessor_FirstPayloadIsFullThenDeltas(t *testing.T) {
	src := make(chanSource, 4)
	p := startWithBaseline(t, src, 64, 48)
	assert.Equal(t, resolution.Resolution{Width: 64, Height: 48}, p.Resolution())

	rec := decoder.NewReconstructor(decoder.NewDeflateDecoder())

	f1 := createTestFrame(64, 48, 1)
	src <- f1
	pl := next(t, p)
	assert.Equal(t, encoder.FullFrame, pl.Mode)
	img, _, err := rec.Apply(pl.Marshal())
	require.NoError(t, err)
	assert.Equal(t, f1.Image.Pix, img.Pix)

	f2 := changed(f1, 10)
	src <- f2
	pl = next(t, p)
	assert.Equal(t, encoder.DeltaFrame, pl.Mode)
	img, _, err = rec.Apply(pl.Marshal())
	require.NoError(t, err)
	assert.Equal(t, f2.Image.Pix, img.Pix)
}

func TestProcessor_ThresholdFallback(t *testing.T) {
	src := make(chanSource, 4)
	p := startWithBaseline(t, src, 100, 100)

	f1 := createTestFrame(100, 100, 1)
	src <- f1
	assert.Equal(t, encoder.FullFrame, next(t, p).Mode)

	src <- changed(f1, 600)
	assert.Equal(t, encoder.FullFrame, next(t, p).Mode)
}

func TestProcessor_ResolutionChangeForcesFullFrame(t *testing.T) {
	src := make(chanSource, 4)
	p := startWithBaseline(t, src, 64, 48)

	f1 := createTestFrame(64, 48, 1)
	src <- f1
	next(t, p)
	f2 := changed(f1, 5)
	src <- f2
	require.Equal(t, encoder.DeltaFrame, next(t, p).Mode)

	require.NoError(t, p.SetRequestedResolution(2))

	src <- changed(f2, 1)
	pl := next(t, p)
	assert.Equal(t, encoder.FullFrame, pl.Mode)
	assert.Equal(t, resolution.Resolution{Width: 32, Height: 24}, p.Resolution())

	img, err := decoder.NewDeflateDecoder().Decode(pl.Data)
	require.NoError(t, err)
	assert.Equal(t, 32, img.Rect.Dx())
	assert.Equal(t, 24, img.Rect.Dy())

	// Deltas resume at the new size.
	src <- createTestFrame(64, 48, 1)
	next(t, p)
	src <- createTestFrame(64, 48, 1)
	assert.Equal(t, encoder.DeltaFrame, next(t, p).Mode)
}

func TestProcessor_RequestBeforeStart(t *testing.T) {
	src := make(chanSource, 2)
	p := New(src, nil)
	require.NoError(t, p.SetRequestedResolution(4))

	src <- createTestFrame(400, 200, 1)
	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()

	assert.Equal(t, resolution.Resolution{Width: 100, Height: 50}, p.Resolution())
}

func TestProcessor_InvalidWindowCount(t *testing.T) {
	p := New(make(chanSource), nil)
	assert.ErrorIs(t, p.SetRequestedResolution(0), resolution.ErrInvalidWindowCount)
}

func TestProcessor_RequestFullFrame(t *testing.T) {
	src := make(chanSource, 4)
	p := startWithBaseline(t, src, 16, 16)

	f := createTestFrame(16, 16, 1)
	src <- f
	next(t, p)
	src <- f
	require.Equal(t, encoder.DeltaFrame, next(t, p).Mode)

	p.RequestFullFrame()
	src <- f
	assert.Equal(t, encoder.FullFrame, next(t, p).Mode)
	src <- f
	assert.Equal(t, encoder.DeltaFrame, next(t, p).Mode)
}

func TestProcessor_StopClearsQueue(t *testing.T) {
	src := make(chanSource, 8)
	p := startWithBaseline(t, src, 16, 16, WithQueueLen(4))

	for i := 0; i < 6; i++ {
		src <- createTestFrame(16, 16, int64(i))
	}
	require.Eventually(t, func() bool { return len(src) == 0 }, 2*time.Second, 5*time.Millisecond)
	assert.LessOrEqual(t, p.QueueLen(), 4)

	require.NoError(t, p.Stop())
	assert.Equal(t, 0, p.QueueLen())
	assert.False(t, p.Running())

	// The loop is gone: frames sent now are never consumed.
	src <- createTestFrame(16, 16, 7)
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, src, 1)
	assert.Equal(t, 0, p.QueueLen())
}

func TestProcessor_OutboundOverflow(t *testing.T) {
	src := make(chanSource, 32)
	p := startWithBaseline(t, src, 8, 8, WithQueueLen(10))

	for i := 0; i < 13; i++ {
		src <- createTestFrame(8, 8, int64(i))
	}
	require.Eventually(t, func() bool { return len(src) == 0 }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return p.QueueLen() == 8 }, time.Second, 5*time.Millisecond,
		"13 payloads into capacity 10 shed to 5 then add 3")
}

func TestProcessor_OutboundShedForcesFullFrame(t *testing.T) {
	src := make(chanSource, 8)
	p := startWithBaseline(t, src, 64, 48, WithQueueLen(4))

	rec := decoder.NewReconstructor(decoder.NewDeflateDecoder())
	f := createTestFrame(64, 48, 1)
	src <- f
	first := next(t, p)
	require.Equal(t, encoder.FullFrame, first.Mode)
	_, _, err := rec.Apply(first.Marshal())
	require.NoError(t, err)

	// Nobody drains while six small changes arrive, so the fifth sheds the
	// deltas that follow the frame the receiver holds.
	for i := 0; i < 6; i++ {
		f = changed(f, i+1)
		src <- f
	}
	require.Eventually(t, func() bool { return len(src) == 0 && p.QueueLen() == 4 }, 2*time.Second, 5*time.Millisecond)

	var got []encoder.Payload
	for i := 0; i < 4; i++ {
		got = append(got, next(t, p))
	}
	assert.NotEqual(t, first.Seq, got[0].Base, "oldest survivor builds on a shed payload")
	assert.Equal(t, encoder.FullFrame, got[3].Mode)

	last := first.Seq
	var img *image.RGBA
	for _, pl := range got {
		if pl.Mode == encoder.DeltaFrame && pl.Base != last {
			continue
		}
		img, _, err = rec.Apply(pl.Marshal())
		require.NoError(t, err)
		last = pl.Seq
	}
	require.NotNil(t, img)
	assert.Equal(t, f.Image.Pix, img.Pix)
}

func TestProcessor_PayloadSequence(t *testing.T) {
	src := make(chanSource, 4)
	p := startWithBaseline(t, src, 16, 16)

	f := createTestFrame(16, 16, 1)
	src <- f
	full := next(t, p)
	src <- changed(f, 1)
	delta := next(t, p)

	assert.Equal(t, uint64(0), full.Base)
	require.Equal(t, encoder.DeltaFrame, delta.Mode)
	assert.Equal(t, full.Seq+1, delta.Seq)
	assert.Equal(t, full.Seq, delta.Base)
}

func TestProcessor_StartDoesNotBlockStop(t *testing.T) {
	src := make(chanSource, 1)
	p := New(src, nil)

	done := make(chan error, 1)
	go func() { done <- p.Start(context.Background()) }()

	// Start is parked waiting for a baseline frame.
	require.Eventually(t, func() bool {
		return errors.Is(p.Start(context.Background()), ErrAlreadyRunning)
	}, time.Second, time.Millisecond)
	assert.False(t, p.Running())
	assert.ErrorIs(t, p.Stop(), ErrNotRunning)
	assert.Equal(t, 0, p.QueueLen())

	src <- createTestFrame(8, 8, 1)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("start never returned")
	}
	assert.True(t, p.Running())
	require.NoError(t, p.Stop())
}

func TestProcessor_WithCaptureProducer(t *testing.T) {
	srcPattern, err := capture.NewPatternSource(128, 96)
	require.NoError(t, err)

	prod := capture.NewProducer(srcPattern, capture.WithInterval(time.Millisecond))
	require.NoError(t, prod.Start(context.Background()))
	defer prod.Stop()

	p := New(prod, nil)
	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()

	rec := decoder.NewReconstructor(decoder.NewDeflateDecoder())
	first := next(t, p)
	assert.Equal(t, encoder.FullFrame, first.Mode)
	_, _, err = rec.Apply(first.Marshal())
	require.NoError(t, err)

	sawDelta := false
	for i := 0; i < 10 && !sawDelta; i++ {
		pl := next(t, p)
		sawDelta = pl.Mode == encoder.DeltaFrame
	}
	assert.True(t, sawDelta, "a moving square stays under the delta threshold")
}
