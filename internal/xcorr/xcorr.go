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

// Package xcorr prepares gain-corrected difference images and measures their
// lag-limited spatial cross-correlation, the raw signal of the
// brighter-fatter effect.
package xcorr

import (
	"errors"
	"fmt"

	"github.com/lumispec/bfkernel/internal/image"
	"github.com/lumispec/bfkernel/internal/stats"
)

// Returned when the border-cropped region is too small for the requested lag
var ErrInsufficientRegion = errors.New("insufficient region: cropped region not larger than max lag")

// Tuning for a single correlation measurement. All regions within one
// kernel-generation run share one Config.
type Config struct {
	MaxLag            int32   // largest pixel offset measured in each direction
	Border            int32   // pixels to crop on each side before measuring
	ClipSigma         float32 // sigma for all clipped means
	BackgroundBinSize int32   // background grid cell size in pixels

	// BiasCorr is the empirical correction for the sigma-clipping bias on the
	// non-Gaussian pixel-product distribution. An opaque calibration constant,
	// not re-derivable here.
	BiasCorr float64
}

// Prepare produces, for every region, a gain-rescaled and mean-subtracted
// working copy of the input image, plus the region's sigma-clipped mean over
// the border-excluded interior. The reported mean is taken before the
// subtraction; it feeds the later zero-lag normalization, not the centering.
// The caller's image is never modified.
//
// CCD-level runs pass a single whole-sensor region with a gain of 1.
func Prepare(img *image.Image, gains map[string]float64, regions image.RegionSet,
	border int32, clipSigma float32) (areas map[string]*image.Image, means map[string]float64, err error) {

	areas = make(map[string]*image.Image, len(regions))
	means = make(map[string]float64, len(regions))

	for _, reg := range regions {
		gain, ok := gains[reg.Name]
		if !ok {
			return nil, nil, fmt.Errorf("region %s: no gain supplied", reg.Name)
		}

		sub := img.Sub(reg.Bounds) // private copy, in-place ops below are safe
		for i := range sub.Data {
			sub.Data[i] *= float32(gain)
		}

		interior := sub.Bounds().Inset(border)
		if interior.Empty() {
			return nil, nil, fmt.Errorf("region %s %v: border %d leaves no interior", reg.Name, reg.Bounds, border)
		}
		interiorMean, err := stats.ClippedMean(sub.Gather(interior), clipSigma)
		if err != nil {
			return nil, nil, fmt.Errorf("region %s interior mean: %w", reg.Name, err)
		}

		mean, err := stats.ClippedMean(sub.Data, clipSigma)
		if err != nil {
			return nil, nil, fmt.Errorf("region %s mean: %w", reg.Name, err)
		}
		for i := range sub.Data {
			sub.Data[i] -= float32(mean)
		}

		areas[reg.Name] = sub
		means[reg.Name] = interiorMean
	}
	return areas, means, nil
}

// Correlate measures the quarter-plane cross-correlation of two prepared
// image regions of equal size. Steps: difference, border crop, binned
// background subtraction, then for every lag (dx,dy) in [0,maxLag]^2 the
// sigma-clipped mean of the product of the independently re-centered
// reference and shifted patches, divided by the clipping bias correction.
//
// The returned array has shape (maxLag+1)x(maxLag+1); entry [0][0]
// approximates the variance of the difference image.
func Correlate(a, b *image.Image, cfg Config) ([][]float64, error) {
	if a.Width != b.Width || a.Height != b.Height {
		return nil, fmt.Errorf("image sizes differ: %dx%d vs %dx%d", a.Width, a.Height, b.Width, b.Height)
	}

	diff := a.Clone()
	for i := range diff.Data {
		diff.Data[i] -= b.Data[i]
	}

	cropped := diff.Bounds().Inset(cfg.Border)
	if cropped.Empty() {
		return nil, fmt.Errorf("%w: %dx%d image with border %d", ErrInsufficientRegion, a.Width, a.Height, cfg.Border)
	}
	diff = diff.Sub(cropped)

	bg, err := NewBackground(diff, cfg.BackgroundBinSize, cfg.ClipSigma)
	if err != nil {
		return nil, fmt.Errorf("background estimation: %w", err)
	}
	if err := bg.Subtract(diff); err != nil {
		return nil, err
	}

	if diff.Width <= cfg.MaxLag || diff.Height <= cfg.MaxLag {
		return nil, fmt.Errorf("%w: %dx%d after crop, max lag %d", ErrInsufficientRegion, diff.Width, diff.Height, cfg.MaxLag)
	}

	// zero-lag reference patch, re-centered once
	w, h := diff.Width-cfg.MaxLag, diff.Height-cfg.MaxLag
	ref := diff.Sub(image.Rect{X0: 0, Y0: 0, X1: w, Y1: h})
	refMean, err := stats.ClippedMean(ref.Data, cfg.ClipSigma)
	if err != nil {
		return nil, fmt.Errorf("reference patch mean: %w", err)
	}
	for i := range ref.Data {
		ref.Data[i] -= float32(refMean)
	}

	corr := make([][]float64, cfg.MaxLag+1)
	for ylag := int32(0); ylag <= cfg.MaxLag; ylag++ {
		corr[ylag] = make([]float64, cfg.MaxLag+1)
		for xlag := int32(0); xlag <= cfg.MaxLag; xlag++ {
			patch := diff.Sub(image.Rect{X0: xlag, Y0: ylag, X1: xlag + w, Y1: ylag + h})
			patchMean, err := stats.ClippedMean(patch.Data, cfg.ClipSigma)
			if err != nil {
				return nil, fmt.Errorf("lag (%d,%d) patch mean: %w", xlag, ylag, err)
			}
			for i := range patch.Data {
				patch.Data[i] = (patch.Data[i] - float32(patchMean)) * ref.Data[i]
			}
			prodMean, err := stats.ClippedMean(patch.Data, cfg.ClipSigma)
			if err != nil {
				return nil, fmt.Errorf("lag (%d,%d) product mean: %w", xlag, ylag, err)
			}
			corr[ylag][xlag] = prodMean / cfg.BiasCorr
		}
	}
	return corr, nil
}
