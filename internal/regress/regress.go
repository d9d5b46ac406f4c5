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

// Package regress fits straight lines to photon transfer curve data with
// iterative outlier rejection.
package regress

import (
	"errors"
	"fmt"
	"math"

	"github.com/lumispec/bfkernel/internal/stats"
	"gonum.org/v1/gonum/stat"
)

// Returned when fewer than two points remain during fitting
var ErrInsufficientData = errors.New("insufficient data: fewer than 2 points remain")

// Fit fits a line of best fit to (xs, ys), iteratively removing outliers.
//
// Each pass performs an ordinary least-squares fit (through the origin if
// throughOrigin is set), then rejects every point whose residual lies more
// than nSigmaClip clipped standard deviations from the clipped residual mean.
// The loop ends when a pass rejects nothing, or after maxIter passes. This is
// a fixed-point scheme with an iteration cap, not a guaranteed-convergent
// one: after maxIter passes the current fit is returned even if residual
// outliers are still present.
//
// The intercept is 0 when throughOrigin is set.
func Fit(xs, ys []float64, throughOrigin bool, nSigmaClip float64, maxIter int) (slope, intercept float64, err error) {
	if len(xs) != len(ys) {
		return 0, 0, fmt.Errorf("regression inputs differ in length: %d vs %d", len(xs), len(ys))
	}
	x := append([]float64(nil), xs...)
	y := append([]float64(nil), ys...)

	for iter := 0; iter < maxIter; iter++ {
		if len(x) < 2 {
			return 0, 0, fmt.Errorf("%w after %d iterations", ErrInsufficientData, iter)
		}

		if throughOrigin {
			slope, intercept = originSlope(x, y), 0
		} else {
			intercept, slope = stat.LinearRegression(x, y, nil, false)
		}

		// residuals w.r.t. the current fit
		res := make([]float64, len(x))
		for i := range x {
			res[i] = y[i] - slope*x[i] - intercept
		}
		resMean, resStdDev, err := stats.ClippedMeanStdDev64(res, nSigmaClip)
		if err != nil {
			return 0, 0, fmt.Errorf("residual statistics: %w", err)
		}

		kept := 0
		for i := range x {
			if math.Abs(res[i]-resMean) <= nSigmaClip*resStdDev {
				x[kept], y[kept] = x[i], y[i]
				kept++
			}
		}
		rejected := len(x) - kept
		x, y = x[:kept], y[:kept]
		if rejected == 0 {
			break
		}
	}
	if len(x) < 2 {
		return 0, 0, ErrInsufficientData
	}
	return slope, intercept, nil
}

// Least-squares slope of a line through the origin: sum(xy)/sum(x^2)
func originSlope(xs, ys []float64) float64 {
	sumXY, sumXX := float64(0), float64(0)
	for i := range xs {
		sumXY += xs[i] * ys[i]
		sumXX += xs[i] * xs[i]
	}
	return sumXY / sumXX
}

// RawFit performs a single unclipped least-squares fit, for diagnostics
// alongside the iterative fits
func RawFit(xs, ys []float64) (slope, intercept float64) {
	intercept, slope = stat.LinearRegression(xs, ys, nil, false)
	return slope, intercept
}
