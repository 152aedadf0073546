// Package vision binds the tracker to OpenCV: video capture, visual
// trackers and the YOLO detector.
package vision

import (
	"errors"
	"image"

	"gocv.io/x/gocv"

	"gimbal-tracker/internal/frames"
)

// Frame is a decoded BGR image held in native memory.
type Frame struct {
	mat gocv.Mat
}

// NewFrame takes ownership of m.
func NewFrame(m gocv.Mat) *Frame {
	return &Frame{mat: m}
}

func (f *Frame) Bounds() image.Rectangle {
	return image.Rect(0, 0, f.mat.Cols(), f.mat.Rows())
}

// Clone deep-copies the pixels.
func (f *Frame) Clone() frames.Frame {
	return &Frame{mat: f.mat.Clone()}
}

func (f *Frame) Close() error {
	return f.mat.Close()
}

// Mat exposes the underlying matrix. It stays owned by f.
func (f *Frame) Mat() gocv.Mat {
	return f.mat
}

// matOf returns a Mat view of f and a function releasing anything matOf
// had to allocate. Frames that are not *Frame are converted.
func matOf(f frames.Frame) (gocv.Mat, func(), error) {
	switch v := f.(type) {
	case *Frame:
		if v.mat.Empty() {
			return gocv.Mat{}, nil, errors.New("empty frame")
		}
		return v.mat, func() {}, nil
	case image.Image:
		m, err := gocv.ImageToMatRGB(v)
		if err != nil {
			return gocv.Mat{}, nil, err
		}
		return m, func() { m.Close() }, nil
	}
	return gocv.Mat{}, nil, errors.New("unsupported frame type")
}
