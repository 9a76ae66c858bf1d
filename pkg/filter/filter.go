// Package filter implements the frequency-domain ramp filtering stage of the
// reconstruction pipeline. The filter kernel is built analytically from the
// closed-form ramp impulse response for the detector topology, transformed
// with gonum's real FFT, windowed, and applied row by row to every
// projection with zero-padded linear convolution.
package filter

import (
	"fmt"
	"math"
	"runtime"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"

	"conebeamfdk/internal/models"
	"conebeamfdk/pkg/geometry"
)

// Built-in window names.
const (
	// WindowRamp applies no apodization: the pure ramp response.
	WindowRamp = "ramp"

	// WindowHann applies a periodic Hann window over the padded length.
	WindowHann = "hann"
)

// Window selects the frequency-domain apodization applied on top of the ramp
// response. When Custom is non-nil it takes precedence over Name and must
// have exactly the padded kernel length, sampled over frequency bins
// [-npad/2, npad/2).
type Window struct {
	Name   string
	Custom []float64
}

// Kernel is the windowed ramp frequency response, ready to multiply the
// real-FFT coefficients of a zero-padded detector row.
//
// The ramp impulse response is even, so its spectrum is purely real and only
// the npad/2+1 non-negative-frequency bins are stored. Filtering through the
// real half spectrum cannot leave an imaginary residual by construction.
type Kernel struct {
	// Npad is the padded convolution length: the smallest power of two
	// >= 2*ns-1, which guarantees linear rather than circular convolution.
	Npad int

	// Freq holds the real frequency response at bins 0..Npad/2.
	Freq []float64
}

// PadLength returns the smallest power of two >= 2*ns-1.
func PadLength(ns int) int {
	n := 1
	for n < 2*ns-1 {
		n <<= 1
	}
	return n
}

// BuildKernel constructs the windowed ramp kernel for the given topology.
// The response is scaled by ds so that the discrete convolution approximates
// the continuous ramp convolution of the reconstruction formula.
func BuildKernel(topo geometry.Topology, npad int, ds, dsd float64, win Window) (*Kernel, error) {
	if ds <= 0 {
		return nil, fmt.Errorf("%w: ramp kernel needs a positive sample spacing", models.ErrConfiguration)
	}
	h := impulseResponse(topo, npad, ds, dsd)

	// Real spectrum of the even impulse response, scaled to the continuous
	// convolution equivalent.
	fft := fourier.NewFFT(npad)
	coeff := fft.Coefficients(nil, h)
	freq := make([]float64, npad/2+1)
	for k := range freq {
		freq[k] = real(coeff[k]) * ds
	}

	if err := applyWindow(freq, npad, win); err != nil {
		return nil, err
	}
	return &Kernel{Npad: npad, Freq: freq}, nil
}

// impulseResponse evaluates the closed-form ramp impulse response on the
// padded index range, stored in natural FFT order (lag 0 at index 0,
// negative lags wrapped to the top half).
func impulseResponse(topo geometry.Topology, npad int, ds, dsd float64) []float64 {
	h := make([]float64, npad)
	for k := range h {
		n := k
		if k >= npad/2 {
			n = k - npad
		}
		switch {
		case n == 0:
			h[k] = 1 / (4 * ds * ds)
		case n%2 == 0:
			// even lags vanish for both topologies
		case topo == geometry.Flat:
			d := math.Pi * float64(n) * ds
			h[k] = -1 / (d * d)
		default: // arc
			d := math.Pi * dsd * math.Sin(float64(n)*ds/dsd)
			h[k] = -1 / (d * d)
		}
	}
	return h
}

// applyWindow multiplies the half-spectrum response by the selected window.
// Windows are defined over centered frequency bins [-npad/2, npad/2); bin k
// of the half spectrum corresponds to centered bin k, except the Nyquist bin
// npad/2 which folds onto -npad/2.
func applyWindow(freq []float64, npad int, win Window) error {
	if win.Custom != nil {
		if len(win.Custom) != npad {
			return fmt.Errorf("%w: custom window has length %d, want padded length %d",
				models.ErrConfiguration, len(win.Custom), npad)
		}
		for k := range freq {
			freq[k] *= windowBin(win.Custom, npad, k)
		}
		return nil
	}
	switch win.Name {
	case WindowRamp, "":
		// unity window
	case WindowHann:
		for k := range freq {
			m := float64(k)
			if k == npad/2 {
				m = -float64(npad) / 2
			}
			freq[k] *= 0.5 * (1 + math.Cos(2*math.Pi*m/float64(npad)))
		}
	default:
		return fmt.Errorf("%w: unknown filter window %q", models.ErrConfiguration, win.Name)
	}
	return nil
}

// windowBin looks up the centered window sample for half-spectrum bin k.
func windowBin(w []float64, npad, k int) float64 {
	if k == npad/2 {
		return w[0] // Nyquist folds onto the -npad/2 sample
	}
	return w[k+npad/2]
}

// Apply filters every detector row of the stack in place: each row is
// zero-padded to the kernel length, transformed, multiplied by the kernel,
// inverse-transformed and truncated back to ns samples. Rows are independent
// across (vertical-sample, angle) pairs and are processed in parallel across
// the given number of workers (<=0 selects all CPUs).
func Apply(stack *models.ProjectionStack, kernel *Kernel, workers int) error {
	if kernel.Npad < 2*stack.NS-1 {
		return fmt.Errorf("%w: kernel padded to %d cannot filter rows of %d samples",
			models.ErrShapeMismatch, kernel.Npad, stack.NS)
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	rows := stack.NT * stack.NA
	if workers > rows {
		workers = rows
	}

	var wg sync.WaitGroup
	rowsPerWorker := (rows + workers - 1) / workers
	for w := 0; w < workers; w++ {
		start := w * rowsPerWorker
		end := start + rowsPerWorker
		if end > rows {
			end = rows
		}
		if start >= end {
			break
		}
		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			filterRows(stack, kernel, start, end)
		}(start, end)
	}
	wg.Wait()
	return nil
}

// filterRows filters the row range [start, end), counting rows as it*NA+ia
// flattened pairs. Each worker owns its FFT plan and scratch buffers.
func filterRows(stack *models.ProjectionStack, kernel *Kernel, start, end int) {
	fft := fourier.NewFFT(kernel.Npad)
	padded := make([]float64, kernel.Npad)
	coeff := make([]complex128, kernel.Npad/2+1)
	inv := 1 / float64(kernel.Npad)

	for r := start; r < end; r++ {
		ia := r / stack.NT
		it := r % stack.NT
		row := stack.Row(it, ia)

		copy(padded, row)
		for i := stack.NS; i < kernel.Npad; i++ {
			padded[i] = 0
		}
		fft.Coefficients(coeff, padded)
		for k, f := range kernel.Freq {
			coeff[k] *= complex(f, 0)
		}
		fft.Sequence(padded, coeff)
		// gonum's transform pair is unnormalized; fold 1/npad back in while
		// truncating to the detector width.
		for i := range row {
			row[i] = padded[i] * inv
		}
	}
}
