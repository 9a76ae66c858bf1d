// Package geometry models the cone-beam acquisition geometry: the detector,
// the circular source trajectory, and the reconstruction grid. It provides
// the pure functions the pipeline stages share — detector sample grids, the
// cone-beam weighting map, the maximum reachable in-plane radius, and the
// source angles — plus the field-of-view mask narrowing derived from them.
package geometry

import (
	"fmt"
	"math"

	"conebeamfdk/internal/models"
)

// Topology enumerates the two supported detector sampling topologies.
type Topology int

const (
	// Flat is a planar detector (focal-spot distance Dfs = +Inf).
	Flat Topology = iota

	// Arc is a detector curved about the source at constant radius Dsd
	// (focal-spot distance Dfs = 0).
	Arc
)

// String returns the topology name.
func (t Topology) String() string {
	switch t {
	case Flat:
		return "flat"
	case Arc:
		return "arc"
	}
	return fmt.Sprintf("Topology(%d)", int(t))
}

// Detector describes the detector panel and its placement relative to the
// source and the isocenter. Distances share one physical unit with the
// reconstruction grid.
type Detector struct {
	// NS, NT are the horizontal and vertical sample counts.
	NS, NT int

	// DS, DT are the horizontal and vertical sample spacings.
	DS, DT float64

	// OffsetS, OffsetT shift the detector center in (possibly fractional)
	// samples, e.g. a quarter-detector offset of 0.25.
	OffsetS, OffsetT float64

	// DSD is the source-to-detector distance.
	DSD float64

	// DSO is the source-to-isocenter distance.
	DSO float64

	// DFS is the focal-spot-to-source distance. Only +Inf (flat panel) and
	// 0 (arc) are supported; any other value is rejected.
	DFS float64

	// OffsetSource is the lateral source offset, meaningful for the arc
	// topology only.
	OffsetSource float64
}

// Topology maps the focal-spot distance onto the detector topology.
// Any finite nonzero DFS is a declared unsupported configuration.
func (d *Detector) Topology() (Topology, error) {
	switch {
	case math.IsInf(d.DFS, 1):
		return Flat, nil
	case d.DFS == 0:
		return Arc, nil
	}
	return 0, fmt.Errorf("%w: focal-spot distance %g not supported (want 0 or +Inf)",
		models.ErrConfiguration, d.DFS)
}

// Validate checks the detector parameters that every stage relies on.
func (d *Detector) Validate() error {
	if d.NS <= 0 || d.NT <= 0 {
		return fmt.Errorf("%w: detector needs positive sample counts, got %dx%d",
			models.ErrShapeMismatch, d.NS, d.NT)
	}
	if d.DS <= 0 {
		return fmt.Errorf("%w: detector sample spacing ds must be positive", models.ErrConfiguration)
	}
	if d.DT <= 0 {
		return fmt.Errorf("%w: detector sample spacing dt must be positive", models.ErrConfiguration)
	}
	if d.DSD <= 0 || d.DSO <= 0 {
		return fmt.Errorf("%w: source distances must be positive (Dsd=%g, Dso=%g)",
			models.ErrConfiguration, d.DSD, d.DSO)
	}
	_, err := d.Topology()
	return err
}

// SampleGrids returns the horizontal and vertical detector coordinate
// vectors. Index (ns-1)/2 (zero-based) maps to coordinate 0, shifted by the
// fractional center offsets, so grids stay consistent with the fractional
// sample coordinates used during backprojection.
func (d *Detector) SampleGrids() (ss, tt []float64) {
	ss = make([]float64, d.NS)
	ws := float64(d.NS-1)/2 + d.OffsetS
	for i := range ss {
		ss[i] = (float64(i) - ws) * d.DS
	}
	tt = make([]float64, d.NT)
	wt := float64(d.NT-1)/2 + d.OffsetT
	for i := range tt {
		tt[i] = (float64(i) - wt) * d.DT
	}
	return ss, tt
}

// WeightMap computes the per-detector-pixel cone-beam weight applied to
// every projection before filtering. The map depends only on the detector
// geometry, never on the source position, so one map serves all angles of a
// circular trajectory.
//
// The returned slice has length NS*NT, indexed it*NS+is.
func (d *Detector) WeightMap() ([]float64, error) {
	topo, err := d.Topology()
	if err != nil {
		return nil, err
	}
	ss, tt := d.SampleGrids()
	w := make([]float64, d.NS*d.NT)
	for it, t := range tt {
		for is, s := range ss {
			var v float64
			switch topo {
			case Flat:
				v = d.DSO * math.Sqrt(1+(t/d.DSD)*(t/d.DSD)) /
					math.Sqrt(d.DSD*d.DSD+s*s+t*t)
			case Arc:
				v = (d.DSO / d.DSD) * math.Cos(s/(d.DSD*math.Sqrt(1+(t/d.DSD)*(t/d.DSD))))
			}
			w[it*d.NS+is] = v
		}
	}
	return w, nil
}

// MaxRadius returns the largest in-plane radius the detector's angular
// extent can reach: rmax = Dso*sin(gamma_max), where gamma_max is the fan
// half-angle of the outermost usable sample.
func (d *Detector) MaxRadius() (float64, error) {
	topo, err := d.Topology()
	if err != nil {
		return 0, err
	}
	smax := (float64(d.NS-1)/2 - math.Abs(d.OffsetS)) * d.DS
	var gamma float64
	switch topo {
	case Flat:
		gamma = math.Atan(smax / d.DSD)
	case Arc:
		gamma = smax / d.DSD
	}
	return d.DSO * math.Sin(gamma), nil
}

// Trajectory describes the circular source orbit.
type Trajectory struct {
	// Orbit is the total angular sweep in radians.
	Orbit float64

	// OrbitStart is the first source angle in radians.
	OrbitStart float64

	// NA is the number of views over the orbit.
	NA int

	// IaSkip subsamples the views, using every IaSkip-th angle. 1 (or 0)
	// means every view.
	IaSkip int
}

// Angles returns all NA source angles, evenly spaced over
// [OrbitStart, OrbitStart+Orbit). Angular subsampling is applied by the
// caller when iterating, not here, so view indices stay aligned with the
// projection stack.
func (t Trajectory) Angles() []float64 {
	betas := make([]float64, t.NA)
	for i := range betas {
		betas[i] = t.OrbitStart + t.Orbit*float64(i)/float64(t.NA)
	}
	return betas
}

// Skip returns the effective angular subsampling factor (at least 1).
func (t Trajectory) Skip() int {
	if t.IaSkip < 1 {
		return 1
	}
	return t.IaSkip
}

// Used returns the number of views actually processed under IaSkip.
func (t Trajectory) Used() int {
	skip := t.Skip()
	return (t.NA + skip - 1) / skip
}

// Grid describes the reconstruction voxel lattice.
type Grid struct {
	// NX, NY, NZ are the voxel counts.
	NX, NY, NZ int

	// DX, DY, DZ are the voxel sizes, in the same unit as the detector
	// distances.
	DX, DY, DZ float64

	// CenterX, CenterY, CenterZ shift the volume center, in voxels.
	CenterX, CenterY, CenterZ float64
}

// Axes returns the physical voxel-center coordinates along each axis.
// Index (n-1)/2 maps to coordinate 0 before the center shift.
func (g Grid) Axes() (xs, ys, zs []float64) {
	xs = make([]float64, g.NX)
	wx := float64(g.NX-1)/2 + g.CenterX
	for i := range xs {
		xs[i] = (float64(i) - wx) * g.DX
	}
	ys = make([]float64, g.NY)
	wy := float64(g.NY-1)/2 + g.CenterY
	for i := range ys {
		ys[i] = (float64(i) - wy) * g.DY
	}
	zs = make([]float64, g.NZ)
	wz := float64(g.NZ-1)/2 + g.CenterZ
	for i := range zs {
		zs[i] = (float64(i) - wz) * g.DZ
	}
	return xs, ys, zs
}

// Validate checks the grid extents and spacings.
func (g Grid) Validate() error {
	if g.NX <= 0 || g.NY <= 0 || g.NZ <= 0 {
		return fmt.Errorf("%w: volume needs positive extents, got %dx%dx%d",
			models.ErrShapeMismatch, g.NX, g.NY, g.NZ)
	}
	if g.DX <= 0 || g.DY <= 0 || g.DZ <= 0 {
		return fmt.Errorf("%w: voxel sizes must be positive (dx=%g, dy=%g, dz=%g)",
			models.ErrConfiguration, g.DX, g.DY, g.DZ)
	}
	return nil
}

// NarrowMask deactivates every mask entry whose in-plane radius exceeds the
// detector's reachable radius. The mask is only ever narrowed, never
// widened; entries already inactive stay inactive.
func NarrowMask(m *models.Mask, g Grid, d *Detector) error {
	if m.NX != g.NX || m.NY != g.NY {
		return fmt.Errorf("%w: mask is %dx%d but volume grid is %dx%d",
			models.ErrShapeMismatch, m.NX, m.NY, g.NX, g.NY)
	}
	rmax, err := d.MaxRadius()
	if err != nil {
		return err
	}
	xs, ys, _ := g.Axes()
	r2 := rmax * rmax
	for iy, y := range ys {
		for ix, x := range xs {
			if x*x+y*y >= r2 {
				m.Set(ix, iy, false)
			}
		}
	}
	return nil
}
