// Package visualization exports axis-aligned slices of a reconstructed
// volume as grayscale images for inspection.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"

	"conebeamfdk/internal/models"
)

// Viewer extracts and saves 2D slices of a reconstructed volume.
type Viewer struct {
	vol *models.Volume

	// display window: attenuation values in [lo, hi] map to the full
	// grayscale range, values outside clamp.
	lo, hi float64
}

// NewViewer creates a viewer with the display window spanning the volume's
// value range.
func NewViewer(vol *models.Volume) *Viewer {
	lo, hi := vol.Data[0], vol.Data[0]
	for _, v := range vol.Data {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	if hi <= lo {
		hi = lo + 1
	}
	return &Viewer{vol: vol, lo: lo, hi: hi}
}

// SetWindow overrides the display window used for grayscale mapping.
func (v *Viewer) SetWindow(lo, hi float64) {
	if hi > lo {
		v.lo, v.hi = lo, hi
	}
}

// gray maps an attenuation value into the 16-bit grayscale range.
func (v *Viewer) gray(val float64) color.Gray16 {
	f := (val - v.lo) / (v.hi - v.lo)
	if f < 0 {
		f = 0
	}
	if f > 1 {
		f = 1
	}
	return color.Gray16{Y: uint16(f * 65535)}
}

// ExtractSlice extracts a 2D slice from the volume along the specified axis
// at the given position.
func (v *Viewer) ExtractSlice(axis string, position int) (image.Image, error) {
	if position < 0 {
		return nil, fmt.Errorf("position must be non-negative")
	}
	vol := v.vol

	switch axis {
	case "x", "X":
		if position >= vol.NX {
			return nil, fmt.Errorf("position %d exceeds width %d", position, vol.NX)
		}
		img := image.NewGray16(image.Rect(0, 0, vol.NY, vol.NZ))
		for iz := 0; iz < vol.NZ; iz++ {
			for iy := 0; iy < vol.NY; iy++ {
				img.SetGray16(iy, iz, v.gray(vol.At(position, iy, iz)))
			}
		}
		return img, nil

	case "y", "Y":
		if position >= vol.NY {
			return nil, fmt.Errorf("position %d exceeds height %d", position, vol.NY)
		}
		img := image.NewGray16(image.Rect(0, 0, vol.NX, vol.NZ))
		for iz := 0; iz < vol.NZ; iz++ {
			for ix := 0; ix < vol.NX; ix++ {
				img.SetGray16(ix, iz, v.gray(vol.At(ix, position, iz)))
			}
		}
		return img, nil

	case "z", "Z":
		if position >= vol.NZ {
			return nil, fmt.Errorf("position %d exceeds depth %d", position, vol.NZ)
		}
		img := image.NewGray16(image.Rect(0, 0, vol.NX, vol.NY))
		for iy := 0; iy < vol.NY; iy++ {
			for ix := 0; ix < vol.NX; ix++ {
				img.SetGray16(ix, iy, v.gray(vol.At(ix, iy, position)))
			}
		}
		return img, nil
	}

	return nil, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
}

// SaveSlice saves an extracted slice as a JPEG image.
func (v *Viewer) SaveSlice(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	return jpeg.Encode(file, img, &jpeg.Options{Quality: 90})
}

// SaveSliceSequence extracts and saves every slice along the specified axis.
func (v *Viewer) SaveSliceSequence(axis string, outputDir string) error {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}

	var maxPos int
	switch axis {
	case "x", "X":
		maxPos = v.vol.NX
	case "y", "Y":
		maxPos = v.vol.NY
	case "z", "Z":
		maxPos = v.vol.NZ
	default:
		return fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	for pos := 0; pos < maxPos; pos++ {
		img, err := v.ExtractSlice(axis, pos)
		if err != nil {
			return err
		}

		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%s_%03d.jpg", axis, pos))
		if err := v.SaveSlice(img, filename); err != nil {
			return err
		}
	}

	return nil
}
