// Copyright (C) 2024 The bfkernel authors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package stats provides iteratively sigma-clipped location and scale
// estimates, the basic statistical primitive underneath gain estimation,
// cross-correlation and kernel aggregation.
package stats

import (
	"errors"
	"math"

	"github.com/valyala/fastrand"
)

// Returned when sigma clipping rejects every sample, or the input is empty
var ErrEmptyRegion = errors.New("empty region: no samples left after clipping")

// Number of clipping passes. Matches the fixed iteration count of the
// statistics code the empirical bias correction constant was derived with;
// raising it changes the clipping bias on non-Gaussian distributions.
const maxClipIter = 3

// Returns the iteratively sigma-clipped mean of the data.
// Clipping recomputes mean and standard deviation each pass and rejects
// samples beyond nSigma standard deviations, until a pass rejects nothing
// or the iteration cap is reached.
func ClippedMean(data []float32, nSigma float32) (float64, error) {
	mean, _, err := clipped(data, nSigma)
	return mean, err
}

// Returns the iteratively sigma-clipped mean and sample variance of the data
func ClippedMeanVariance(data []float32, nSigma float32) (mean, variance float64, err error) {
	return clipped(data, nSigma)
}

func clipped(data []float32, nSigma float32) (mean, variance float64, err error) {
	if len(data) == 0 {
		return 0, 0, ErrEmptyRegion
	}
	remaining := make([]float32, len(data))
	copy(remaining, data)

	for iter := 0; iter < maxClipIter; iter++ {
		mean, variance = meanVariance(remaining)
		stdDev := math.Sqrt(variance)
		lowBound := mean - float64(nSigma)*stdDev
		highBound := mean + float64(nSigma)*stdDev

		kept := 0
		for _, r := range remaining {
			if float64(r) >= lowBound && float64(r) <= highBound {
				remaining[kept] = r
				kept++
			}
		}
		rejected := len(remaining) - kept
		remaining = remaining[:kept]
		if kept == 0 {
			return 0, 0, ErrEmptyRegion
		}
		if rejected == 0 {
			break
		}
	}
	mean, variance = meanVariance(remaining)
	return mean, variance, nil
}

// Mean and unbiased sample variance with float64 accumulation, so that
// regions of a few hundred pixels at flux levels around 1e5 stay stable
func meanVariance(data []float32) (mean, variance float64) {
	sum := float64(0)
	for _, d := range data {
		sum += float64(d)
	}
	mean = sum / float64(len(data))

	sumSqDiff := float64(0)
	for _, d := range data {
		diff := float64(d) - mean
		sumSqDiff += diff * diff
	}
	if len(data) > 1 {
		variance = sumSqDiff / float64(len(data)-1)
	}
	return mean, variance
}

// Returns the iteratively sigma-clipped mean and standard deviation of
// float64 data. Used on regression residuals and on per-pixel stacks of
// correlation surfaces, which are already in float64.
func ClippedMeanStdDev64(data []float64, nSigma float64) (mean, stdDev float64, err error) {
	if len(data) == 0 {
		return 0, 0, ErrEmptyRegion
	}
	remaining := make([]float64, len(data))
	copy(remaining, data)

	for iter := 0; iter < maxClipIter; iter++ {
		mean, stdDev = meanStdDev64(remaining)
		lowBound := mean - nSigma*stdDev
		highBound := mean + nSigma*stdDev

		kept := 0
		for _, r := range remaining {
			if r >= lowBound && r <= highBound {
				remaining[kept] = r
				kept++
			}
		}
		rejected := len(remaining) - kept
		remaining = remaining[:kept]
		if kept == 0 {
			return 0, 0, ErrEmptyRegion
		}
		if rejected == 0 {
			break
		}
	}
	mean, stdDev = meanStdDev64(remaining)
	return mean, stdDev, nil
}

func meanStdDev64(data []float64) (mean, stdDev float64) {
	sum := float64(0)
	for _, d := range data {
		sum += d
	}
	mean = sum / float64(len(data))

	sumSqDiff := float64(0)
	for _, d := range data {
		diff := d - mean
		sumSqDiff += diff * diff
	}
	if len(data) > 1 {
		stdDev = math.Sqrt(sumSqDiff / float64(len(data)-1))
	}
	return mean, stdDev
}

// Returns a fast approximate sigma-clipped mean and standard deviation by
// randomly subsampling numSamples values. Intended for quick diagnostics on
// full-frame data where an exact pass over every pixel is not worth it;
// all quantities that feed the kernel use the exact estimators above.
func FastClippedMeanStdDev(data []float32, nSigma float32, numSamples int) (mean, stdDev float64) {
	if len(data) == 0 {
		return 0, 0
	}
	if numSamples >= len(data) {
		m, v, err := clipped(data, nSigma)
		if err != nil {
			return 0, 0
		}
		return m, math.Sqrt(v)
	}
	samples := make([]float32, numSamples)
	max := uint32(len(data))
	rng := fastrand.RNG{}
	for i := range samples {
		samples[i] = data[rng.Uint32n(max)]
	}
	m, v, err := clipped(samples, nSigma)
	if err != nil {
		return 0, 0
	}
	return m, math.Sqrt(v)
}
