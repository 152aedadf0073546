// Package mot assigns persistent identities to per-frame detections in the
// ByteTrack style: Kalman prediction, IoU cost, two association passes
// (confident detections first, then the weak ones) solved with the
// Hungarian algorithm.
package mot

import (
	"image"
	"math"
)

// Box is an axis-aligned box in pixels, top-left plus size.
type Box struct {
	X, Y, W, H float64
}

// BoxFromRect converts an integer rectangle.
func BoxFromRect(r image.Rectangle) Box {
	return Box{X: float64(r.Min.X), Y: float64(r.Min.Y), W: float64(r.Dx()), H: float64(r.Dy())}
}

// Center returns the box centroid.
func (b Box) Center() (float64, float64) {
	return b.X + b.W/2, b.Y + b.H/2
}

// Rect rounds the box to integer pixels.
func (b Box) Rect() image.Rectangle {
	x0 := int(math.Round(b.X))
	y0 := int(math.Round(b.Y))
	return image.Rect(x0, y0, x0+int(math.Round(b.W)), y0+int(math.Round(b.H)))
}

// IoU returns the intersection over union of a and b.
func IoU(a, b Box) float64 {
	ix := math.Min(a.X+a.W, b.X+b.W) - math.Max(a.X, b.X)
	iy := math.Min(a.Y+a.H, b.Y+b.H) - math.Max(a.Y, b.Y)
	if ix <= 0 || iy <= 0 {
		return 0
	}
	inter := ix * iy
	union := a.W*a.H + b.W*b.H - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// Detection is one detector output for a frame.
type Detection struct {
	Box   Box
	Score float64
}

// Config tunes association.
type Config struct {
	// TrackThresh splits confident detections from weak ones.
	TrackThresh float64
	// HighThresh is the lowest score that can start a new track.
	HighThresh float64
	// MatchThresh is the largest 1-IoU cost accepted in the first pass.
	MatchThresh float64
	// TrackBuffer is how many frames a lost track is kept for recovery.
	TrackBuffer int
}

// DefaultConfig returns ByteTrack's usual thresholds.
func DefaultConfig() Config {
	return Config{TrackThresh: 0.5, HighThresh: 0.6, MatchThresh: 0.8, TrackBuffer: 30}
}

const (
	// lowScoreFloor drops detections too weak even for the second pass.
	lowScoreFloor = 0.1
	// secondPassGate is the 1-IoU gate for weak detections.
	secondPassGate = 0.5
)

// Track is one identity as reported for the current frame.
type Track struct {
	ID    int
	Box   Box
	Score float64
	// Det indexes the detection this track was matched to or born from in
	// the last Update.
	Det int
	// Confirmed is set once the track has been matched on two frames, or
	// immediately for tracks born on the first frame.
	Confirmed bool
}

type trackState int

const (
	stateTracked trackState = iota
	stateLost
)

type track struct {
	id        int
	kf        *kalman
	score     float64
	state     trackState
	confirmed bool
	lastFrame int
}

// Tracker keeps identities across frames. It is not safe for concurrent use.
type Tracker struct {
	cfg    Config
	tracks []*track
	frame  int
	nextID int
}

// NewTracker returns an empty tracker. Zero fields of cfg take defaults.
func NewTracker(cfg Config) *Tracker {
	d := DefaultConfig()
	if cfg.TrackThresh <= 0 {
		cfg.TrackThresh = d.TrackThresh
	}
	if cfg.HighThresh <= 0 {
		cfg.HighThresh = d.HighThresh
	}
	if cfg.MatchThresh <= 0 {
		cfg.MatchThresh = d.MatchThresh
	}
	if cfg.TrackBuffer <= 0 {
		cfg.TrackBuffer = d.TrackBuffer
	}
	return &Tracker{cfg: cfg, nextID: 1}
}

// Update advances one frame. It returns every track matched to or born
// from one of dets, in detection order.
func (t *Tracker) Update(dets []Detection) []Track {
	t.frame++

	var high, low []int
	for i, d := range dets {
		switch {
		case d.Score >= t.cfg.TrackThresh:
			high = append(high, i)
		case d.Score > lowScoreFloor:
			low = append(low, i)
		}
	}

	for _, tr := range t.tracks {
		tr.kf.predict()
	}

	matchedDet := make(map[int]*track)

	// First pass: every live track against confident detections.
	pool := t.tracks
	matches, unmatchedTracks, unmatchedHigh := assign(t.costs(pool, dets, high), len(high), t.cfg.MatchThresh)
	for _, m := range matches {
		t.apply(pool[m[0]], dets, high[m[1]], matchedDet)
	}

	// Second pass: tracks still being followed against weak detections.
	var remaining []*track
	for _, i := range unmatchedTracks {
		if pool[i].state == stateTracked {
			remaining = append(remaining, pool[i])
		}
	}
	matches, unmatchedRemaining, _ := assign(t.costs(remaining, dets, low), len(low), secondPassGate)
	for _, m := range matches {
		t.apply(remaining[m[0]], dets, low[m[1]], matchedDet)
	}
	for _, i := range unmatchedRemaining {
		remaining[i].state = stateLost
	}

	// Births.
	for _, j := range unmatchedHigh {
		di := high[j]
		if dets[di].Score < t.cfg.HighThresh {
			continue
		}
		tr := &track{
			id:        t.nextID,
			kf:        newKalman(dets[di].Box),
			score:     dets[di].Score,
			state:     stateTracked,
			confirmed: t.frame == 1,
			lastFrame: t.frame,
		}
		t.nextID++
		t.tracks = append(t.tracks, tr)
		matchedDet[di] = tr
	}

	// Expire tracks lost for too long.
	kept := t.tracks[:0]
	for _, tr := range t.tracks {
		if tr.state == stateLost && t.frame-tr.lastFrame > t.cfg.TrackBuffer {
			continue
		}
		kept = append(kept, tr)
	}
	t.tracks = kept

	out := make([]Track, 0, len(matchedDet))
	for di := range dets {
		tr, ok := matchedDet[di]
		if !ok {
			continue
		}
		out = append(out, Track{
			ID:        tr.id,
			Box:       tr.kf.box(),
			Score:     tr.score,
			Det:       di,
			Confirmed: tr.confirmed,
		})
	}
	return out
}

// Seed starts a confirmed track on d whatever its score. Used when the
// operator picks a detection the birth threshold would skip.
func (t *Tracker) Seed(d Detection) Track {
	tr := &track{
		id:        t.nextID,
		kf:        newKalman(d.Box),
		score:     d.Score,
		state:     stateTracked,
		confirmed: true,
		lastFrame: t.frame,
	}
	t.nextID++
	t.tracks = append(t.tracks, tr)
	return Track{ID: tr.id, Box: d.Box, Score: d.Score, Det: -1, Confirmed: true}
}

// Len returns the number of live and recently lost tracks.
func (t *Tracker) Len() int {
	return len(t.tracks)
}

func (t *Tracker) apply(tr *track, dets []Detection, di int, matched map[int]*track) {
	tr.kf.update(dets[di].Box)
	tr.score = dets[di].Score
	tr.confirmed = true
	tr.state = stateTracked
	tr.lastFrame = t.frame
	matched[di] = tr
}

func (t *Tracker) costs(tracks []*track, dets []Detection, idx []int) [][]float64 {
	cost := make([][]float64, len(tracks))
	for i, tr := range tracks {
		pred := tr.kf.box()
		cost[i] = make([]float64, len(idx))
		for j, di := range idx {
			cost[i][j] = 1 - IoU(pred, dets[di].Box)
		}
	}
	return cost
}
