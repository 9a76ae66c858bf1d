package backproject

import (
	"math"

	"conebeamfdk/internal/models"
	"conebeamfdk/pkg/geometry"
)

// fastKernel is the alternate per-angle backend. It keeps the filtered view
// and the per-angle accumulator in float32, trading a little precision for
// roughly half the memory traffic of the reference path. The contract is
// identical: one view's contribution is added into the shared float64
// accumulator, and the outer summation and scaling are untouched.
type fastKernel struct {
	p *Projector

	view    []float32 // current view, it*ns+is
	scratch []float32 // per-angle contribution, volume layout
}

func newFastKernel(p *Projector) *fastKernel {
	return &fastKernel{
		p:       p,
		view:    make([]float32, p.det.NS*p.det.NT),
		scratch: make([]float32, p.grid.NX*p.grid.NY*p.grid.NZ),
	}
}

func (k *fastKernel) accumulate(dst *models.Volume, stack *models.ProjectionStack, ia int) {
	p := k.p
	src := stack.View(ia)
	for i, v := range src {
		k.view[i] = float32(v)
	}
	for i := range k.scratch {
		k.scratch[i] = 0
	}

	ns, nt := p.det.NS, p.det.NT
	sinb, cosb := math.Sincos(p.betas[ia])
	dsd := float32(p.det.DSD)
	dso := float32(p.det.DSO)
	ds := float32(p.det.DS)
	dt := float32(p.det.DT)
	offSrc := float32(p.det.OffsetSource)
	ws := float32(p.ws)
	wt := float32(p.wt)
	sb := float32(sinb)
	cb := float32(cosb)

	for iy := range p.ys {
		y := float32(p.ys[iy])
		for ix := range p.xs {
			if !p.mask.At(ix, iy) {
				continue
			}
			x := float32(p.xs[ix])
			xb := x*cb + y*sb
			yb := -x*sb + y*cb
			d := dso - yb
			mag := dsd / d

			var sprime, w2 float32
			switch p.topo {
			case geometry.Flat:
				sprime = mag * xb
				w2 = mag * mag
			case geometry.Arc:
				r := xb - offSrc
				sprime = dsd * float32(math.Atan2(float64(r), float64(d)))
				w2 = dsd * dsd / (r*r + d*d)
			}

			bh := sprime/ds + ws
			is0 := int(floor32(bh))
			fs := bh - float32(is0)

			for iz := range p.zs {
				bv := mag*float32(p.zs[iz])/dt + wt
				it0 := int(floor32(bv))
				ft := bv - float32(it0)

				v := (1-fs)*(1-ft)*k.sample(ns, nt, is0, it0) +
					fs*(1-ft)*k.sample(ns, nt, is0+1, it0) +
					(1-fs)*ft*k.sample(ns, nt, is0, it0+1) +
					fs*ft*k.sample(ns, nt, is0+1, it0+1)

				k.scratch[(iz*p.grid.NY+iy)*p.grid.NX+ix] = w2 * v
			}
		}
	}

	for i, v := range k.scratch {
		dst.Data[i] += float64(v)
	}
}

func (k *fastKernel) sample(ns, nt, is, it int) float32 {
	if is < 0 || is >= ns || it < 0 || it >= nt {
		return 0
	}
	return k.view[it*ns+is]
}

func floor32(v float32) float32 {
	return float32(math.Floor(float64(v)))
}
