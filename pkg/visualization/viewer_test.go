package visualization

import (
	"os"
	"path/filepath"
	"testing"

	"conebeamfdk/internal/models"
)

// testVolume returns a small volume with a bright center voxel.
func testVolume() *models.Volume {
	vol := models.NewVolume(8, 6, 4, 1, 1, 1)
	vol.Set(4, 3, 2, 1.0)
	return vol
}

// TestExtractSliceDimensions verifies the slice sizes along each axis.
func TestExtractSliceDimensions(t *testing.T) {
	v := NewViewer(testVolume())

	cases := []struct {
		axis string
		w, h int
	}{
		{"x", 6, 4},
		{"y", 8, 4},
		{"z", 8, 6},
	}
	for _, c := range cases {
		img, err := v.ExtractSlice(c.axis, 1)
		if err != nil {
			t.Fatalf("ExtractSlice(%s) failed: %v", c.axis, err)
		}
		b := img.Bounds()
		if b.Dx() != c.w || b.Dy() != c.h {
			t.Errorf("axis %s: slice is %dx%d, want %dx%d", c.axis, b.Dx(), b.Dy(), c.w, c.h)
		}
	}
}

// TestExtractSliceErrors verifies position and axis validation.
func TestExtractSliceErrors(t *testing.T) {
	v := NewViewer(testVolume())

	if _, err := v.ExtractSlice("z", 10); err == nil {
		t.Error("Expected error for out-of-range position")
	}
	if _, err := v.ExtractSlice("w", 0); err == nil {
		t.Error("Expected error for invalid axis")
	}
	if _, err := v.ExtractSlice("z", -1); err == nil {
		t.Error("Expected error for negative position")
	}
}

// TestSaveSliceSequence writes a z-axis slice stack to a temp directory.
func TestSaveSliceSequence(t *testing.T) {
	dir, err := os.MkdirTemp("", "conebeamfdk-viewer-*")
	if err != nil {
		t.Fatalf("Failed to create temporary directory: %v", err)
	}
	defer os.RemoveAll(dir)

	v := NewViewer(testVolume())
	if err := v.SaveSliceSequence("z", dir); err != nil {
		t.Fatalf("SaveSliceSequence failed: %v", err)
	}

	files, err := filepath.Glob(filepath.Join(dir, "slice_z_*.jpg"))
	if err != nil {
		t.Fatalf("Glob failed: %v", err)
	}
	if len(files) != 4 {
		t.Errorf("Expected 4 slice images, got %d", len(files))
	}
}
