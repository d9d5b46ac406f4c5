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

package kernel

import (
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/lumispec/bfkernel/internal/stats"
)

// Returned when the screening stage rejects every measurement for a region
var ErrAllSamplesRejected = errors.New("all correlation samples rejected")

// Sample is one cross-correlation measurement from a single flat pair,
// together with the pre-subtraction interior means of the two exposures
// it was computed from. Means and correlations are in electrons once the
// exposures have been gain-scaled.
type Sample struct {
	Mean1, Mean2 float64
	Corr         [][]float64
}

// Config holds the parameters for kernel generation.
type Config struct {
	SigmaClip   float64 // sigma threshold for the per-pixel stack clip
	RejectLevel float64 // |sum|/sum(|.|) threshold on the tiled surface
	MaxIterSOR  int     // iteration cap for the relaxation solver
	ELevelSOR   float64 // convergence threshold for the relaxation solver
}

// outcome carries a screened sample through the aggregation stages.
// Rejected samples keep their index so log lines can name them.
type outcome struct {
	index    int
	rejected bool
	reason   string
	tiled    [][]float64
}

// screen normalizes and tiles a single sample, or marks it rejected.
// The sample's correlation array is not modified.
func screen(index int, s Sample, rejectLevel float64) outcome {
	n := len(s.Corr)
	corr := make([][]float64, n)
	for i, row := range s.Corr {
		corr[i] = append([]float64(nil), row...)
	}

	// The zero-lag term contains the photon shot noise; what remains after
	// subtracting the two means is the brighter-fatter covariance, which
	// must be negative.
	corr[0][0] -= s.Mean1 + s.Mean2
	if corr[0][0] >= 0 {
		return outcome{index: index, rejected: true,
			reason: fmt.Sprintf("zero-lag residual %g is not negative", corr[0][0])}
	}

	scale := -(s.Mean1*s.Mean1 + s.Mean2*s.Mean2)
	for i := range corr {
		for j := range corr[i] {
			corr[i][j] /= scale
		}
	}

	tiled, err := Tile(corr)
	if err != nil {
		return outcome{index: index, rejected: true, reason: err.Error()}
	}

	absSum := AbsSum(tiled)
	if absSum == 0 {
		return outcome{index: index, rejected: true, reason: "tiled surface is all zero"}
	}
	if ratio := math.Abs(Sum(tiled)) / absSum; ratio > rejectLevel {
		return outcome{index: index, rejected: true,
			reason: fmt.Sprintf("sum balance %.3g exceeds %.3g", ratio, rejectLevel)}
	}
	return outcome{index: index, tiled: tiled}
}

// Aggregate screens the given samples and combines the survivors into a
// single full-plane correlation surface via a per-pixel sigma-clipped mean.
// Rejections are reported on logWriter. Returns ErrAllSamplesRejected when
// nothing survives, and ErrShape when the surviving surfaces disagree in size.
func Aggregate(samples []Sample, cfg Config, logWriter io.Writer) ([][]float64, error) {
	accepted := []outcome{}
	for i, s := range samples {
		o := screen(i, s, cfg.RejectLevel)
		if o.rejected {
			fmt.Fprintf(logWriter, "Dropping correlation sample %d: %s\n", i, o.reason)
			continue
		}
		accepted = append(accepted, o)
	}
	if len(accepted) == 0 {
		return nil, fmt.Errorf("%w: %d candidates", ErrAllSamplesRejected, len(samples))
	}

	side := len(accepted[0].tiled)
	for _, o := range accepted[1:] {
		if len(o.tiled) != side {
			return nil, fmt.Errorf("%w: sample %d tiles to side %d, want %d",
				ErrShape, o.index, len(o.tiled), side)
		}
	}

	mean := make([][]float64, side)
	column := make([]float64, len(accepted))
	for i := range mean {
		mean[i] = make([]float64, side)
		for j := range mean[i] {
			for k, o := range accepted {
				column[k] = o.tiled[i][j]
			}
			m, _, err := stats.ClippedMeanStdDev64(column, cfg.SigmaClip)
			if err != nil {
				return nil, fmt.Errorf("aggregating pixel (%d,%d): %w", i, j, err)
			}
			mean[i][j] = m
		}
	}
	return mean, nil
}
