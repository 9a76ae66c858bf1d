// Package recon drives the three-stage cone-beam reconstruction pipeline:
// cone-beam projection weighting, frequency-domain ramp filtering, and
// geometric backprojection, followed by the final angular-quadrature scale.
//
// The reconstruction follows the Feldkamp-Davis-Kress (FDK) filtered
// backprojection algorithm for a circular source orbit. The pipeline is a
// pure, stateless transform: a Reconstructor holds only geometry, every call
// to Reconstruct owns its accumulator, and no state persists between calls.
package recon

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"conebeamfdk/internal/models"
	"conebeamfdk/pkg/backproject"
	"conebeamfdk/pkg/config"
	"conebeamfdk/pkg/filter"
	"conebeamfdk/pkg/geometry"
)

// Params holds the reconstruction parameters. Angles are in radians here;
// the degree-to-radian conversion belongs to the config interface.
type Params struct {
	// Detector describes the panel geometry and placement.
	Detector geometry.Detector

	// Trajectory describes the circular source orbit.
	Trajectory geometry.Trajectory

	// Grid describes the reconstruction voxel lattice.
	Grid geometry.Grid

	// Window selects the ramp filter apodization.
	Window filter.Window

	// Workers is the goroutine count for the filtering and backprojection
	// stages; <=0 selects all CPUs.
	Workers int

	// UseAlternateBackend selects the reduced-precision per-angle
	// backprojection backend.
	UseAlternateBackend bool
}

// ParamsFromConfig converts the YAML-facing configuration into pipeline
// parameters: spacings are defaulted, angles converted from degrees to
// radians, and the derived source-to-isocenter distance computed. The
// detector and volume extents come from the data itself (projection stack
// and mask), not from the configuration.
func ParamsFromConfig(cfg *config.Config) (*Params, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	p := &Params{
		Detector: geometry.Detector{
			DS:           cfg.Detector.DS,
			DT:           cfg.Detector.DT,
			OffsetS:      cfg.Detector.OffsetS,
			OffsetT:      cfg.Detector.OffsetT,
			DSD:          cfg.Detector.DisSrcDet,
			DSO:          cfg.Detector.DisSrcDet - cfg.Detector.DisIsoDet,
			DFS:          cfg.Detector.DisFocSrc,
			OffsetSource: cfg.Detector.OffsetSource,
		},
		Trajectory: geometry.Trajectory{
			Orbit:      cfg.Orbit.Orbit * math.Pi / 180,
			OrbitStart: cfg.Orbit.OrbitStart * math.Pi / 180,
			IaSkip:     cfg.Orbit.IaSkip,
		},
		Grid: geometry.Grid{
			NZ:      cfg.Volume.NZ,
			DX:      cfg.Volume.DX,
			DY:      cfg.Volume.DY,
			DZ:      cfg.Volume.DZ,
			CenterX: cfg.Volume.CenterX,
			CenterY: cfg.Volume.CenterY,
			CenterZ: cfg.Volume.CenterZ,
		},
		Window: filter.Window{
			Name:   cfg.Filter.Window,
			Custom: cfg.Filter.CustomWindow,
		},
		Workers:             cfg.Processing.Workers,
		UseAlternateBackend: cfg.Processing.UseAlternateBackend,
	}
	return p, nil
}

// Reconstructor runs the FDK pipeline for one acquisition geometry.
type Reconstructor struct {
	params *Params
}

// NewReconstructor creates a reconstructor with the provided parameters.
func NewReconstructor(params *Params) *Reconstructor {
	return &Reconstructor{params: params}
}

// Reconstruct runs the full pipeline on the projection stack and returns the
// reconstructed volume.
//
// The stack is mutated in place by the weighting and filtering stages; pass
// a clone if the raw projections must survive the call. The mask restricts
// reconstruction to the voxel columns it marks active and is additionally
// narrowed (on a private copy) to the radius the detector can reach; voxels
// outside the mask stay exactly zero.
func (r *Reconstructor) Reconstruct(stack *models.ProjectionStack, mask *models.Mask) (*models.Volume, error) {
	p := r.params

	// All validation precedes any computation: no stage runs with partially
	// validated input.
	det := p.Detector
	det.NS = stack.NS
	det.NT = stack.NT
	if det.DT == 0 {
		det.DT = det.DS
	}
	if err := det.Validate(); err != nil {
		return nil, err
	}
	topo, err := det.Topology()
	if err != nil {
		return nil, err
	}

	traj := p.Trajectory
	traj.NA = stack.NA

	grid := p.Grid
	grid.NX = mask.NX
	grid.NY = mask.NY
	if grid.DY == 0 {
		grid.DY = grid.DX
	}
	if grid.DZ == 0 {
		grid.DZ = grid.DX
	}
	if err := grid.Validate(); err != nil {
		return nil, err
	}

	// Geometry setup: narrow a private copy of the mask to the reachable
	// field of view.
	fov := mask.Clone()
	if err := geometry.NarrowMask(fov, grid, &det); err != nil {
		return nil, err
	}

	// Stage 1: cone-beam weighting, one map for all angles.
	weights, err := det.WeightMap()
	if err != nil {
		return nil, err
	}
	applyWeights(stack, weights)

	// Stage 2: ramp filtering.
	npad := filter.PadLength(stack.NS)
	kernel, err := filter.BuildKernel(topo, npad, det.DS, det.DSD, p.Window)
	if err != nil {
		return nil, err
	}
	if err := filter.Apply(stack, kernel, p.Workers); err != nil {
		return nil, err
	}

	// Stage 3: backprojection.
	proj, err := backproject.New(det, traj, grid, fov)
	if err != nil {
		return nil, err
	}
	backend := backproject.BackendReference
	if p.UseAlternateBackend {
		backend = backproject.BackendFast
	}
	vol, err := proj.Run(stack, backproject.Options{
		Workers: p.Workers,
		Backend: backend,
	})
	if err != nil {
		return nil, err
	}

	// Discrete approximation of the continuous angular integral: scale the
	// per-angle sum once, by half the orbit over the number of views used.
	floats.Scale(0.5*traj.Orbit/float64(traj.Used()), vol.Data)
	return vol, nil
}

// applyWeights multiplies every angular slice of the stack, elementwise, by
// the precomputed cone-beam weight map. The map is identical for all angles
// because it depends only on the detector geometry, not the source position.
func applyWeights(stack *models.ProjectionStack, weights []float64) {
	for ia := 0; ia < stack.NA; ia++ {
		floats.Mul(stack.View(ia), weights)
	}
}

// Reconstruct is a convenience wrapper running the pipeline once with the
// given parameters.
func Reconstruct(params *Params, stack *models.ProjectionStack, mask *models.Mask) (*models.Volume, error) {
	if params == nil {
		return nil, fmt.Errorf("%w: nil parameters", models.ErrConfiguration)
	}
	return NewReconstructor(params).Reconstruct(stack, mask)
}
