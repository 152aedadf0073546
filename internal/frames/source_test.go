package frames

import (
	"context"
	"errors"
	"image"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gimbal-tracker/internal/metrics"
	"gimbal-tracker/internal/monitoring"
)

func init() {
	monitoring.SetLogger(nil)
}

type testFrame struct {
	id     int
	closed atomic.Bool
	// cloneGate, when set, blocks Clone until it is closed.
	cloneGate chan struct{}
	clones    atomic.Int32
}

func (f *testFrame) Bounds() image.Rectangle { return image.Rect(0, 0, 640, 480) }

func (f *testFrame) Clone() Frame {
	if f.cloneGate != nil {
		<-f.cloneGate
	}
	f.clones.Add(1)
	return &testFrame{id: f.id}
}

func (f *testFrame) Close() error {
	f.closed.Store(true)
	return nil
}

func TestReadBeforePushIsNotReady(t *testing.T) {
	s := NewSource(nil)
	f, ok := s.Read()
	assert.False(t, ok)
	assert.Nil(t, f)
}

func TestReadReturnsCopyOfLatest(t *testing.T) {
	s := NewSource(nil)
	orig := &testFrame{id: 1}
	s.Push(orig, true)

	f, ok := s.Read()
	require.True(t, ok)
	got := f.(*testFrame)
	assert.Equal(t, 1, got.id)
	assert.NotSame(t, orig, got)
	assert.Equal(t, int32(1), orig.clones.Load())
}

func TestPushDropsAndClosesOlderFrame(t *testing.T) {
	s := NewSource(nil)
	first := &testFrame{id: 1}
	second := &testFrame{id: 2}

	s.Push(first, true)
	s.Push(second, true)

	assert.True(t, first.closed.Load())
	assert.False(t, second.closed.Load())

	f, ok := s.Read()
	require.True(t, ok)
	assert.Equal(t, 2, f.(*testFrame).id)
	assert.Equal(t, uint64(2), s.Seq())
}

func TestFailedGrabMakesSourceNotReady(t *testing.T) {
	s := NewSource(nil)
	s.Push(&testFrame{id: 1}, true)
	s.Push(nil, false)

	_, ok := s.Read()
	assert.False(t, ok)
}

func TestPlainFramesAreShared(t *testing.T) {
	s := NewSource(nil)
	img := image.NewGray(image.Rect(0, 0, 4, 4))
	s.Push(img, true)

	f, ok := s.Read()
	require.True(t, ok)
	assert.Same(t, img, f)
}

func TestPushDoesNotBlockOnSlowRead(t *testing.T) {
	s := NewSource(nil)
	gate := make(chan struct{})
	slow := &testFrame{id: 1, cloneGate: gate}
	s.Push(slow, true)

	readDone := make(chan Frame)
	go func() {
		f, _ := s.Read()
		readDone <- f
	}()

	// Let the reader reach Clone.
	time.Sleep(20 * time.Millisecond)

	pushed := make(chan struct{})
	go func() {
		s.Push(&testFrame{id: 2}, true)
		close(pushed)
	}()

	select {
	case <-pushed:
	case <-time.After(time.Second):
		t.Fatal("Push blocked behind a slow Read")
	}

	// The frame being read is not closed under the reader.
	assert.False(t, slow.closed.Load())

	close(gate)
	f := <-readDone
	assert.Equal(t, 1, f.(*testFrame).id)
	assert.True(t, slow.closed.Load())
}

type scriptedGrabber struct {
	frames []Frame
	errs   []error
	i      int
}

func (g *scriptedGrabber) Grab() (Frame, error) {
	defer func() { g.i++ }()
	if g.i < len(g.errs) && g.errs[g.i] != nil {
		return nil, g.errs[g.i]
	}
	if g.i < len(g.frames) {
		return g.frames[g.i], nil
	}
	return nil, io.EOF
}

func TestRunPullsUntilEOF(t *testing.T) {
	m := metrics.Discard()
	s := NewSource(m)
	g := &scriptedGrabber{
		frames: []Frame{&testFrame{id: 1}, nil, &testFrame{id: 3}},
		errs:   []error{nil, errors.New("decode error"), nil},
	}

	err := s.Run(context.Background(), g, time.Millisecond)
	require.NoError(t, err)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.FramesGrabbed.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FramesGrabbed.WithLabelValues("failed")))

	// Run clears the source on exit.
	_, ok := s.Read()
	assert.False(t, ok)
}

type blockingGrabber struct{}

func (blockingGrabber) Grab() (Frame, error) {
	time.Sleep(time.Millisecond)
	return &testFrame{}, nil
}

func TestRunStopsOnCancel(t *testing.T) {
	s := NewSource(nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error)
	go func() { done <- s.Run(ctx, blockingGrabber{}, time.Millisecond) }()

	require.Eventually(t, func() bool {
		_, ok := s.Read()
		return ok
	}, time.Second, time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
}
