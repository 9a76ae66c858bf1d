// Package models defines the core array types shared by every stage of the
// cone-beam reconstruction pipeline, together with the two error kinds the
// pipeline reports before any computation starts.
package models

import "errors"

// Sentinel errors for the two failure classes of the pipeline. Stages wrap
// these with fmt.Errorf("...: %w", ...) so callers can match with errors.Is.
var (
	// ErrConfiguration is returned for an unsupported or incomplete
	// configuration: a focal-spot distance other than 0 or +Inf, an unknown
	// filter window, a custom window of the wrong length, or a missing
	// required spacing parameter. It is always raised before any array is
	// allocated or touched.
	ErrConfiguration = errors.New("fdk: invalid configuration")

	// ErrShapeMismatch is returned when array dimensions disagree: mask
	// extents inconsistent with the requested volume, or projection
	// dimensions inconsistent across stages. It is always raised before any
	// accumulation begins.
	ErrShapeMismatch = errors.New("fdk: shape mismatch")
)

// ProjectionStack holds line-integral samples for every source angle.
// Samples are indexed by (detector-horizontal, detector-vertical, angle) and
// stored as a flat row-major array so that a single detector row (fixed
// vertical sample and angle) is contiguous in memory.
//
// The weighting and filtering stages mutate the stack in place; the
// backprojector treats it as read-only.
type ProjectionStack struct {
	// NS, NT are the horizontal and vertical detector sample counts.
	NS, NT int

	// NA is the number of source angles (views).
	NA int

	// Data is the sample array, indexed as (ia*NT+it)*NS+is.
	Data []float64
}

// NewProjectionStack allocates a zeroed stack with the given dimensions.
func NewProjectionStack(ns, nt, na int) *ProjectionStack {
	return &ProjectionStack{
		NS:   ns,
		NT:   nt,
		NA:   na,
		Data: make([]float64, ns*nt*na),
	}
}

// At returns the sample at horizontal index is, vertical index it, angle ia.
func (p *ProjectionStack) At(is, it, ia int) float64 {
	return p.Data[(ia*p.NT+it)*p.NS+is]
}

// Set stores a sample at horizontal index is, vertical index it, angle ia.
func (p *ProjectionStack) Set(is, it, ia int, v float64) {
	p.Data[(ia*p.NT+it)*p.NS+is] = v
}

// Row returns the contiguous detector row for vertical sample it at angle ia.
// The returned slice aliases the stack's storage.
func (p *ProjectionStack) Row(it, ia int) []float64 {
	off := (ia*p.NT + it) * p.NS
	return p.Data[off : off+p.NS]
}

// View returns the full (NS x NT) projection at angle ia as a flat slice
// indexed it*NS+is. The returned slice aliases the stack's storage.
func (p *ProjectionStack) View(ia int) []float64 {
	off := ia * p.NT * p.NS
	return p.Data[off : off+p.NT*p.NS]
}

// Clone returns a deep copy of the stack.
func (p *ProjectionStack) Clone() *ProjectionStack {
	q := NewProjectionStack(p.NS, p.NT, p.NA)
	copy(q.Data, p.Data)
	return q
}

// Volume is a reconstructed 3D image.
type Volume struct {
	// NX, NY, NZ are the voxel counts along each axis.
	NX, NY, NZ int

	// DX, DY, DZ are the physical voxel sizes.
	DX, DY, DZ float64

	// Data is the voxel array in row-major order, indexed as
	// (iz*NY+iy)*NX+ix.
	Data []float64
}

// NewVolume allocates a zeroed volume with the given dimensions and voxel
// sizes.
func NewVolume(nx, ny, nz int, dx, dy, dz float64) *Volume {
	return &Volume{
		NX: nx, NY: ny, NZ: nz,
		DX: dx, DY: dy, DZ: dz,
		Data: make([]float64, nx*ny*nz),
	}
}

// At returns the voxel value at (ix, iy, iz).
func (v *Volume) At(ix, iy, iz int) float64 {
	return v.Data[(iz*v.NY+iy)*v.NX+ix]
}

// Set stores a voxel value at (ix, iy, iz).
func (v *Volume) Set(ix, iy, iz int, val float64) {
	v.Data[(iz*v.NY+iy)*v.NX+ix] = val
}

// Mask is a boolean field-of-view indicator over the in-plane voxel grid.
// A voxel column (ix, iy) is reconstructed only when its mask entry is true.
type Mask struct {
	// NX, NY are the in-plane voxel counts.
	NX, NY int

	// Data is the indicator array, indexed as iy*NX+ix.
	Data []bool
}

// NewMask allocates a mask with every voxel column active.
func NewMask(nx, ny int) *Mask {
	m := &Mask{NX: nx, NY: ny, Data: make([]bool, nx*ny)}
	for i := range m.Data {
		m.Data[i] = true
	}
	return m
}

// At reports whether the voxel column (ix, iy) is active.
func (m *Mask) At(ix, iy int) bool {
	return m.Data[iy*m.NX+ix]
}

// Set marks the voxel column (ix, iy) active or inactive.
func (m *Mask) Set(ix, iy int, active bool) {
	m.Data[iy*m.NX+ix] = active
}

// Clone returns a deep copy of the mask.
func (m *Mask) Clone() *Mask {
	c := &Mask{NX: m.NX, NY: m.NY, Data: make([]bool, len(m.Data))}
	copy(c.Data, m.Data)
	return c
}
