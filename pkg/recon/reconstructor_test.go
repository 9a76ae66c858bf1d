package recon

import (
	"errors"
	"math"
	"testing"

	"conebeamfdk/internal/models"
	"conebeamfdk/pkg/config"
	"conebeamfdk/pkg/filter"
	"conebeamfdk/pkg/geometry"
	"conebeamfdk/pkg/phantom"
)

// sphereSetup builds a flat-detector circular-orbit acquisition of a
// centered uniform sphere and the matching reconstruction parameters.
func sphereSetup(ns, nt, na, nx, nz int, radius float64) (*Params, *phantom.Phantom) {
	params := &Params{
		Detector: geometry.Detector{
			NS: ns, NT: nt,
			DS: 1, DT: 1,
			DSD: 949, DSO: 949 - 408,
			DFS: math.Inf(1),
		},
		Trajectory: geometry.Trajectory{
			Orbit:  2 * math.Pi,
			NA:     na,
			IaSkip: 1,
		},
		Grid: geometry.Grid{
			NZ: nz,
			DX: 1, DY: 1, DZ: 1,
		},
		Window:  filter.Window{Name: filter.WindowRamp},
		Workers: 4,
	}
	ph := &phantom.Phantom{Ellipsoids: []phantom.Ellipsoid{
		phantom.Sphere(0, 0, 0, radius, 1.0),
	}}
	return params, ph
}

// interiorMean averages the volume over voxels within the given radius of
// the center.
func interiorMean(vol *models.Volume, grid geometry.Grid, radius float64) float64 {
	xs, ys, zs := grid.Axes()
	var sum float64
	var n int
	for iz, z := range zs {
		for iy, y := range ys {
			for ix, x := range xs {
				if x*x+y*y+z*z <= radius*radius {
					sum += vol.At(ix, iy, iz)
					n++
				}
			}
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// TestSphereReconstruction reconstructs a centered spherical attenuator from
// a simulated flat-detector acquisition and checks the centroid position and
// the mean interior intensity against the known phantom.
func TestSphereReconstruction(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping end-to-end reconstruction in short mode")
	}

	const radius = 6.0
	params, ph := sphereSetup(64, 32, 180, 64, 16, radius)

	stack, err := ph.Project(params.Detector, params.Trajectory)
	if err != nil {
		t.Fatalf("phantom projection failed: %v", err)
	}
	mask := models.NewMask(64, 64)
	vol, err := Reconstruct(params, stack, mask)
	if err != nil {
		t.Fatalf("reconstruction failed: %v", err)
	}

	grid := params.Grid
	grid.NX, grid.NY = 64, 64
	xs, ys, zs := grid.Axes()

	// Intensity-weighted centroid over voxels above half maximum.
	var peak float64
	for _, v := range vol.Data {
		if v > peak {
			peak = v
		}
	}
	var cx, cy, cz, w float64
	for iz, z := range zs {
		for iy, y := range ys {
			for ix, x := range xs {
				v := vol.At(ix, iy, iz)
				if v > 0.5*peak {
					cx += v * x
					cy += v * y
					cz += v * z
					w += v
				}
			}
		}
	}
	if w == 0 {
		t.Fatal("no voxels above half maximum; reconstruction produced nothing")
	}
	cx, cy, cz = cx/w, cy/w, cz/w
	if math.Abs(cx) > 0.5 || math.Abs(cy) > 0.5 || math.Abs(cz) > 0.5 {
		t.Errorf("centroid (%.3f, %.3f, %.3f) farther than 0.5 voxel from center", cx, cy, cz)
	}

	// Mean intensity deep inside the sphere, away from the blurred boundary.
	mean := interiorMean(vol, grid, 0.5*radius)
	if math.Abs(mean-1.0) > 0.05 {
		t.Errorf("mean interior intensity %.4f deviates more than 5%% from 1.0", mean)
	}
}

// TestIaSkipProportionality verifies that angular subsampling with the
// adjusted quadrature scale stays consistent with the full-angle run.
func TestIaSkipProportionality(t *testing.T) {
	const radius = 4.0
	params, ph := sphereSetup(32, 16, 96, 32, 8, radius)

	stack, err := ph.Project(params.Detector, params.Trajectory)
	if err != nil {
		t.Fatalf("phantom projection failed: %v", err)
	}
	mask := models.NewMask(32, 32)

	full, err := Reconstruct(params, stack.Clone(), mask)
	if err != nil {
		t.Fatalf("full reconstruction failed: %v", err)
	}

	sub := *params
	sub.Trajectory.IaSkip = 2
	skipped, err := Reconstruct(&sub, stack.Clone(), mask)
	if err != nil {
		t.Fatalf("subsampled reconstruction failed: %v", err)
	}

	grid := params.Grid
	grid.NX, grid.NY = 32, 32
	meanFull := interiorMean(full, grid, 0.5*radius)
	meanSkip := interiorMean(skipped, grid, 0.5*radius)
	if meanFull == 0 {
		t.Fatal("full run produced an empty interior")
	}
	if rel := math.Abs(meanSkip-meanFull) / math.Abs(meanFull); rel > 0.05 {
		t.Errorf("subsampled interior mean %.4f deviates %.1f%% from full run %.4f",
			meanSkip, 100*rel, meanFull)
	}
}

// TestOutsideMaskExactlyZero verifies that voxels outside the reachable
// field of view stay exactly zero end to end.
func TestOutsideMaskExactlyZero(t *testing.T) {
	params, ph := sphereSetup(32, 16, 48, 32, 8, 4)

	stack, err := ph.Project(params.Detector, params.Trajectory)
	if err != nil {
		t.Fatalf("phantom projection failed: %v", err)
	}
	vol, err := Reconstruct(params, stack, models.NewMask(32, 32))
	if err != nil {
		t.Fatalf("reconstruction failed: %v", err)
	}

	// Corner columns lie far beyond the detector's reachable radius.
	for _, c := range [][2]int{{0, 0}, {0, 31}, {31, 0}, {31, 31}} {
		for iz := 0; iz < 8; iz++ {
			if v := vol.At(c[0], c[1], iz); v != 0 {
				t.Fatalf("corner voxel (%d,%d,%d) = %g, want exactly 0", c[0], c[1], iz, v)
			}
		}
	}
}

// TestAlternateBackendAgrees runs the same reconstruction through both
// per-angle backends and checks they agree within accumulation tolerance.
func TestAlternateBackendAgrees(t *testing.T) {
	params, ph := sphereSetup(32, 16, 48, 32, 8, 4)

	stack, err := ph.Project(params.Detector, params.Trajectory)
	if err != nil {
		t.Fatalf("phantom projection failed: %v", err)
	}
	mask := models.NewMask(32, 32)

	ref, err := Reconstruct(params, stack.Clone(), mask)
	if err != nil {
		t.Fatalf("reference reconstruction failed: %v", err)
	}
	alt := *params
	alt.UseAlternateBackend = true
	fast, err := Reconstruct(&alt, stack.Clone(), mask)
	if err != nil {
		t.Fatalf("alternate reconstruction failed: %v", err)
	}

	var peak float64
	for _, v := range ref.Data {
		if a := math.Abs(v); a > peak {
			peak = a
		}
	}
	for i := range ref.Data {
		if math.Abs(ref.Data[i]-fast.Data[i]) > 1e-3*peak {
			t.Fatalf("voxel %d: reference %g vs alternate %g beyond tolerance",
				i, ref.Data[i], fast.Data[i])
		}
	}
}

// TestUnsupportedFocalSpotFailsEarly verifies that an unsupported focal-spot
// distance aborts before any stage runs or any volume is allocated.
func TestUnsupportedFocalSpotFailsEarly(t *testing.T) {
	params, _ := sphereSetup(16, 8, 12, 16, 4, 2)
	params.Detector.DFS = 500

	stack := models.NewProjectionStack(16, 8, 12)
	orig := stack.Clone()
	vol, err := Reconstruct(params, stack, models.NewMask(16, 16))
	if !errors.Is(err, models.ErrConfiguration) {
		t.Fatalf("Expected ErrConfiguration for Dfs=500, got %v", err)
	}
	if vol != nil {
		t.Error("no volume may be returned on configuration failure")
	}
	// No stage may have touched the stack.
	for i := range stack.Data {
		if stack.Data[i] != orig.Data[i] {
			t.Fatal("stack was mutated despite failing validation")
		}
	}
}

// TestShapeMismatchFailsEarly verifies the mask/volume consistency check.
func TestShapeMismatchFailsEarly(t *testing.T) {
	params, _ := sphereSetup(16, 8, 12, 16, 4, 2)
	params.Grid.NZ = 0

	stack := models.NewProjectionStack(16, 8, 12)
	if _, err := Reconstruct(params, stack, models.NewMask(16, 16)); !errors.Is(err, models.ErrShapeMismatch) {
		t.Errorf("Expected ErrShapeMismatch for nz=0, got %v", err)
	}
}

// TestParamsFromConfig verifies defaulting and the degree-to-radian
// conversion at the configuration boundary.
func TestParamsFromConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Detector.DS = 2
	cfg.Volume.DX = 0.5
	cfg.Volume.NZ = 4
	cfg.Orbit.Orbit = 180
	cfg.Orbit.OrbitStart = 90

	params, err := ParamsFromConfig(cfg)
	if err != nil {
		t.Fatalf("ParamsFromConfig failed: %v", err)
	}
	if params.Detector.DT != 2 {
		t.Errorf("dt should default to ds=2, got %g", params.Detector.DT)
	}
	if params.Grid.DY != 0.5 || params.Grid.DZ != 0.5 {
		t.Errorf("dy/dz should default to dx=0.5, got %g/%g", params.Grid.DY, params.Grid.DZ)
	}
	if math.Abs(params.Trajectory.Orbit-math.Pi) > 1e-12 {
		t.Errorf("orbit 180 degrees should convert to pi, got %g", params.Trajectory.Orbit)
	}
	if math.Abs(params.Trajectory.OrbitStart-math.Pi/2) > 1e-12 {
		t.Errorf("orbit start 90 degrees should convert to pi/2, got %g", params.Trajectory.OrbitStart)
	}
	if want := cfg.Detector.DisSrcDet - cfg.Detector.DisIsoDet; params.Detector.DSO != want {
		t.Errorf("Dso should derive as Dsd-Dod=%g, got %g", want, params.Detector.DSO)
	}

	cfg.Detector.DisFocSrc = 500
	if _, err := ParamsFromConfig(cfg); !errors.Is(err, models.ErrConfiguration) {
		t.Errorf("Expected ErrConfiguration for Dfs=500, got %v", err)
	}
}
