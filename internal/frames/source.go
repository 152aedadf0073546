// Package frames keeps the most recent video frame for the control loop.
package frames

import (
	"context"
	"errors"
	"image"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"gimbal-tracker/internal/metrics"
	"gimbal-tracker/internal/monitoring"
)

// Frame is one decoded image. Only its size matters outside the vision
// package.
type Frame interface {
	Bounds() image.Rectangle
}

// Cloner is implemented by frames backed by mutable buffers. Read hands
// out clones of such frames; other frames are shared as is. Frames that
// hold native memory implement both Cloner and io.Closer.
type Cloner interface {
	Clone() Frame
}

// Grabber pulls the next frame from a video transport. It blocks until a
// frame is decoded. io.EOF ends the stream.
type Grabber interface {
	Grab() (Frame, error)
}

// Source stores only the latest frame. Older frames are dropped as soon as
// a newer one arrives.
type Source struct {
	mu  sync.Mutex
	cur *slot
	ok  bool
	seq uint64

	m *metrics.Metrics
}

// NewSource returns an empty source. m may be nil.
func NewSource(m *metrics.Metrics) *Source {
	return &Source{m: metrics.OrDiscard(m)}
}

// Push replaces the latest frame. ok=false records a failed grab; Read
// reports not-ready until the next good frame. The previous frame is
// closed once no reader holds it.
func (s *Source) Push(f Frame, ok bool) {
	var next *slot
	if ok && f != nil {
		next = newSlot(f)
	}

	s.mu.Lock()
	prev := s.cur
	s.cur = next
	s.ok = next != nil
	s.seq++
	s.mu.Unlock()

	prev.release()
}

// Read returns a copy of the latest frame without waiting for a new one.
// ok is false before the first frame or after a failed grab.
func (s *Source) Read() (Frame, bool) {
	s.mu.Lock()
	cur, ok := s.cur, s.ok
	if cur != nil {
		cur.acquire()
	}
	s.mu.Unlock()

	if !ok || cur == nil {
		return nil, false
	}
	defer cur.release()

	if c, isCloner := cur.frame.(Cloner); isCloner {
		return c.Clone(), true
	}
	return cur.frame, true
}

// Seq counts pushes, good or failed. It lets callers tell a new frame from
// the one they already processed.
func (s *Source) Seq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}

// Run pulls frames from g until ctx is cancelled or g returns io.EOF.
// Failed grabs are recorded and retried after retryDelay.
func (s *Source) Run(ctx context.Context, g Grabber, retryDelay time.Duration) error {
	defer s.Push(nil, false)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		f, err := g.Grab()
		if err != nil {
			if errors.Is(err, io.EOF) {
				monitoring.Logf("Frames: Stream ended")
				return nil
			}
			s.m.FramesGrabbed.WithLabelValues("failed").Inc()
			s.Push(nil, false)

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryDelay):
			}
			continue
		}

		s.m.FramesGrabbed.WithLabelValues("ok").Inc()
		s.Push(f, true)
	}
}

// Close releases the held frame.
func (s *Source) Close() {
	s.Push(nil, false)
}

// slot counts the source's own reference plus one per in-flight Read.
type slot struct {
	frame Frame
	refs  atomic.Int32
}

func newSlot(f Frame) *slot {
	s := &slot{frame: f}
	s.refs.Store(1)
	return s
}

func (s *slot) acquire() {
	s.refs.Add(1)
}

func (s *slot) release() {
	if s == nil {
		return
	}
	if s.refs.Add(-1) == 0 {
		if c, ok := s.frame.(io.Closer); ok {
			c.Close()
		}
	}
}

// Release closes f if it holds native resources. Callers use it on frames
// returned by Read.
func Release(f Frame) {
	if c, ok := f.(io.Closer); ok {
		c.Close()
	}
}
