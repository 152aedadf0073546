package mot

import (
	"gonum.org/v1/gonum/mat"
)

// Noise weights relative to the box size.
const (
	stdWeightPosition = 1.0 / 20
	stdWeightVelocity = 1.0 / 160
)

var (
	// motion is the constant-velocity transition for
	// [cx cy w h vcx vcy vw vh] over one frame.
	motion = func() *mat.Dense {
		f := mat.NewDense(8, 8, nil)
		for i := 0; i < 8; i++ {
			f.Set(i, i, 1)
		}
		for i := 0; i < 4; i++ {
			f.Set(i, i+4, 1)
		}
		return f
	}()

	// observe projects the state onto the measured box.
	observe = func() *mat.Dense {
		h := mat.NewDense(4, 8, nil)
		for i := 0; i < 4; i++ {
			h.Set(i, i, 1)
		}
		return h
	}()
)

// kalman tracks one box in centre-size form.
type kalman struct {
	x *mat.VecDense
	p *mat.Dense
}

func newKalman(b Box) *kalman {
	cx, cy := b.Center()
	x := mat.NewVecDense(8, []float64{cx, cy, b.W, b.H, 0, 0, 0, 0})

	w, h := b.W, b.H
	std := []float64{
		2 * stdWeightPosition * w,
		2 * stdWeightPosition * h,
		2 * stdWeightPosition * w,
		2 * stdWeightPosition * h,
		10 * stdWeightVelocity * w,
		10 * stdWeightVelocity * h,
		10 * stdWeightVelocity * w,
		10 * stdWeightVelocity * h,
	}
	return &kalman{x: x, p: diagSquared(std)}
}

func (k *kalman) predict() {
	w, h := k.x.AtVec(2), k.x.AtVec(3)
	q := diagSquared([]float64{
		stdWeightPosition * w,
		stdWeightPosition * h,
		stdWeightPosition * w,
		stdWeightPosition * h,
		stdWeightVelocity * w,
		stdWeightVelocity * h,
		stdWeightVelocity * w,
		stdWeightVelocity * h,
	})

	var x mat.VecDense
	x.MulVec(motion, k.x)
	k.x = &x

	var fp, p mat.Dense
	fp.Mul(motion, k.p)
	p.Mul(&fp, motion.T())
	p.Add(&p, q)
	k.p = &p
}

func (k *kalman) update(b Box) {
	w, h := k.x.AtVec(2), k.x.AtVec(3)
	r := diagSquared([]float64{
		stdWeightPosition * w,
		stdWeightPosition * h,
		stdWeightPosition * w,
		stdWeightPosition * h,
	})

	cx, cy := b.Center()
	z := mat.NewVecDense(4, []float64{cx, cy, b.W, b.H})

	// y = z - Hx
	var hx, y mat.VecDense
	hx.MulVec(observe, k.x)
	y.SubVec(z, &hx)

	// S = H P H' + R
	var hp, s mat.Dense
	hp.Mul(observe, k.p)
	s.Mul(&hp, observe.T())
	s.Add(&s, r)

	var sInv mat.Dense
	if err := sInv.Inverse(&s); err != nil {
		// Singular innovation: take the measurement as is.
		k.x.SetVec(0, cx)
		k.x.SetVec(1, cy)
		k.x.SetVec(2, b.W)
		k.x.SetVec(3, b.H)
		return
	}

	// K = P H' S^-1
	var pht, gain mat.Dense
	pht.Mul(k.p, observe.T())
	gain.Mul(&pht, &sInv)

	var dx mat.VecDense
	dx.MulVec(&gain, &y)
	k.x.AddVec(k.x, &dx)

	// P = (I - K H) P
	var kh mat.Dense
	kh.Mul(&gain, observe)
	ikh := mat.NewDense(8, 8, nil)
	for i := 0; i < 8; i++ {
		ikh.Set(i, i, 1)
	}
	ikh.Sub(ikh, &kh)
	var p mat.Dense
	p.Mul(ikh, k.p)
	k.p = &p
}

func (k *kalman) box() Box {
	cx, cy := k.x.AtVec(0), k.x.AtVec(1)
	w, h := k.x.AtVec(2), k.x.AtVec(3)
	return Box{X: cx - w/2, Y: cy - h/2, W: w, H: h}
}

func diagSquared(std []float64) *mat.Dense {
	d := mat.NewDense(len(std), len(std), nil)
	for i, s := range std {
		d.Set(i, i, s*s)
	}
	return d
}
