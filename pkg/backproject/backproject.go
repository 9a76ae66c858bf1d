// Package backproject implements the geometric backprojection stage: for
// each source angle every mask-active voxel is projected onto the detector,
// the filtered projection is sampled with bilinear interpolation, weighted,
// and accumulated into the output volume.
//
// The per-angle contribution is an explicit contract with two interchangeable
// implementations: the float64 reference backend and an alternate
// reduced-precision backend. Selecting the alternate backend changes only
// the internal representation, never the outer summation or scaling.
package backproject

import (
	"fmt"
	"math"
	"runtime"
	"sync"

	"gonum.org/v1/gonum/floats"

	"conebeamfdk/internal/models"
	"conebeamfdk/pkg/geometry"
)

// Backend selects the per-angle backprojection implementation.
type Backend int

const (
	// BackendReference accumulates in float64. This is the default.
	BackendReference Backend = iota

	// BackendFast accumulates each angle's contribution in float32 before
	// folding it into the float64 volume. Results agree with the reference
	// backend within floating-point accumulation tolerance.
	BackendFast
)

// Options controls a reconstruction call's backprojection loop.
type Options struct {
	// Workers is the number of goroutines angles are partitioned across.
	// Each worker accumulates into its own partial volume; partials are
	// summed at the end, so results differ from the sequential order only
	// by floating-point rounding. <=0 selects all CPUs; 1 reproduces the
	// strictly sequential ascending-angle order.
	Workers int

	// Backend selects the per-angle implementation.
	Backend Backend
}

// Projector backprojects filtered projections of one acquisition onto one
// volume grid. A Projector holds only read-only geometry; every call to Run
// owns its accumulator for the duration of the call, so a Projector may be
// reused and shared.
type Projector struct {
	det  geometry.Detector
	topo geometry.Topology
	traj geometry.Trajectory
	grid geometry.Grid
	mask *models.Mask

	betas      []float64
	xs, ys, zs []float64
	// fractional detector center offsets, in samples
	ws, wt float64
}

// New validates the geometry and returns a projector. The topology check and
// the mask/grid shape check both happen here, before any accumulation can
// start. The mask is captured by reference and treated as read-only.
func New(det geometry.Detector, traj geometry.Trajectory, grid geometry.Grid, mask *models.Mask) (*Projector, error) {
	if err := det.Validate(); err != nil {
		return nil, err
	}
	if err := grid.Validate(); err != nil {
		return nil, err
	}
	topo, err := det.Topology()
	if err != nil {
		return nil, err
	}
	if traj.NA <= 0 {
		return nil, fmt.Errorf("%w: trajectory needs at least one view", models.ErrConfiguration)
	}
	if mask.NX != grid.NX || mask.NY != grid.NY {
		return nil, fmt.Errorf("%w: mask is %dx%d but volume grid is %dx%d",
			models.ErrShapeMismatch, mask.NX, mask.NY, grid.NX, grid.NY)
	}
	xs, ys, zs := grid.Axes()
	return &Projector{
		det:   det,
		topo:  topo,
		traj:  traj,
		grid:  grid,
		mask:  mask,
		betas: traj.Angles(),
		xs:    xs,
		ys:    ys,
		zs:    zs,
		ws:    float64(det.NS-1)/2 + det.OffsetS,
		wt:    float64(det.NT-1)/2 + det.OffsetT,
	}, nil
}

// Run backprojects every selected view of the filtered stack and returns the
// accumulated volume. The final angular-quadrature scale is the pipeline
// driver's job; Run returns the raw per-angle sum.
func (p *Projector) Run(stack *models.ProjectionStack, opts Options) (*models.Volume, error) {
	if stack.NS != p.det.NS || stack.NT != p.det.NT || stack.NA != p.traj.NA {
		return nil, fmt.Errorf("%w: projection stack is %dx%dx%d but geometry expects %dx%dx%d",
			models.ErrShapeMismatch, stack.NS, stack.NT, stack.NA, p.det.NS, p.det.NT, p.traj.NA)
	}

	skip := p.traj.Skip()
	var views []int
	for ia := 0; ia < p.traj.NA; ia += skip {
		views = append(views, ia)
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > len(views) {
		workers = len(views)
	}

	vol := models.NewVolume(p.grid.NX, p.grid.NY, p.grid.NZ, p.grid.DX, p.grid.DY, p.grid.DZ)
	if workers == 1 {
		k := p.newKernel(opts.Backend)
		for _, ia := range views {
			k.accumulate(vol, stack, ia)
		}
		return vol, nil
	}

	// Angle-partitioned workers, each with a private partial volume reduced
	// at the end (addition commutes up to rounding).
	partials := make([]*models.Volume, workers)
	var wg sync.WaitGroup
	perWorker := (len(views) + workers - 1) / workers
	for w := 0; w < workers; w++ {
		start := w * perWorker
		end := start + perWorker
		if end > len(views) {
			end = len(views)
		}
		if start >= end {
			break
		}
		wg.Add(1)
		go func(w, start, end int) {
			defer wg.Done()
			part := models.NewVolume(p.grid.NX, p.grid.NY, p.grid.NZ, p.grid.DX, p.grid.DY, p.grid.DZ)
			k := p.newKernel(opts.Backend)
			for _, ia := range views[start:end] {
				k.accumulate(part, stack, ia)
			}
			partials[w] = part
		}(w, start, end)
	}
	wg.Wait()
	for _, part := range partials {
		if part != nil {
			floats.Add(vol.Data, part.Data)
		}
	}
	return vol, nil
}

// View adds the contribution of the single view ia into dst using the
// reference backend. It exposes the per-angle contract directly so callers
// (and tests) can drive the angle loop in any order.
func (p *Projector) View(dst *models.Volume, stack *models.ProjectionStack, ia int) {
	p.newKernel(BackendReference).accumulate(dst, stack, ia)
}

// angleKernel is the per-angle contribution contract shared by the backends:
// given one filtered view, add its backprojected contribution into dst.
type angleKernel interface {
	accumulate(dst *models.Volume, stack *models.ProjectionStack, ia int)
}

func (p *Projector) newKernel(b Backend) angleKernel {
	if b == BackendFast {
		return newFastKernel(p)
	}
	return refKernel{p}
}

// refKernel is the float64 reference implementation.
type refKernel struct{ p *Projector }

func (k refKernel) accumulate(dst *models.Volume, stack *models.ProjectionStack, ia int) {
	p := k.p
	view := stack.View(ia)
	ns, nt := p.det.NS, p.det.NT
	sinb, cosb := math.Sincos(p.betas[ia])

	for iy, y := range p.ys {
		for ix, x := range p.xs {
			if !p.mask.At(ix, iy) {
				continue
			}
			// Rotate the voxel column into the source frame.
			xb := x*cosb + y*sinb
			yb := -x*sinb + y*cosb
			d := p.det.DSO - yb
			mag := p.det.DSD / d

			var sprime, w2 float64
			switch p.topo {
			case geometry.Flat:
				sprime = mag * xb
				w2 = mag * mag
			case geometry.Arc:
				r := xb - p.det.OffsetSource
				sprime = p.det.DSD * math.Atan2(r, d)
				w2 = p.det.DSD * p.det.DSD / (r*r + d*d)
			}

			bh := sprime/p.det.DS + p.ws
			is0 := int(math.Floor(bh))
			fs := bh - float64(is0)

			for iz, z := range p.zs {
				bv := (mag*z)/p.det.DT + p.wt
				it0 := int(math.Floor(bv))
				ft := bv - float64(it0)

				v := (1-fs)*(1-ft)*sampleView(view, ns, nt, is0, it0) +
					fs*(1-ft)*sampleView(view, ns, nt, is0+1, it0) +
					(1-fs)*ft*sampleView(view, ns, nt, is0, it0+1) +
					fs*ft*sampleView(view, ns, nt, is0+1, it0+1)

				dst.Data[(iz*p.grid.NY+iy)*p.grid.NX+ix] += w2 * v
			}
		}
	}
}

// sampleView returns the filtered sample at (is, it), or zero when the index
// falls outside the detector. The explicit range check replaces a guard-
// sample trick; out-of-range lookups contribute nothing either way.
func sampleView(view []float64, ns, nt, is, it int) float64 {
	if is < 0 || is >= ns || it < 0 || it >= nt {
		return 0
	}
	return view[it*ns+is]
}
