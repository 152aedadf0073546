package vision

import (
	"image"
	"math"
)

// letterbox maps between a source frame and the square network input it
// is scaled and padded into.
type letterbox struct {
	size   int
	scale  float64
	w, h   int // scaled content size
	dx, dy int // padding before the content
	src    image.Rectangle
}

func newLetterbox(src image.Rectangle, size int) letterbox {
	sw, sh := src.Dx(), src.Dy()
	scale := math.Min(float64(size)/float64(sw), float64(size)/float64(sh))
	w, h := int(float64(sw)*scale), int(float64(sh)*scale)
	return letterbox{
		size:  size,
		scale: scale,
		w:     w,
		h:     h,
		dx:    (size - w) / 2,
		dy:    (size - h) / 2,
		src:   src,
	}
}

// toSource converts a box given as normalized center and size in the
// network input into frame pixels, clipped to the frame.
func (l letterbox) toSource(cx, cy, w, h float64) image.Rectangle {
	s := float64(l.size)
	x0 := (cx*s - w*s/2 - float64(l.dx)) / l.scale
	y0 := (cy*s - h*s/2 - float64(l.dy)) / l.scale
	x1 := (cx*s + w*s/2 - float64(l.dx)) / l.scale
	y1 := (cy*s + h*s/2 - float64(l.dy)) / l.scale
	r := image.Rect(int(math.Round(x0)), int(math.Round(y0)), int(math.Round(x1)), int(math.Round(y1)))
	return r.Add(l.src.Min).Intersect(l.src)
}
