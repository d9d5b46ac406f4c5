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
	"fmt"
	"io"
	"math"
)

// Solve integrates the given source term twice by successive over-relaxation,
// solving the discrete Poisson equation with zero boundary conditions on a
// one-pixel frame around the source. The relaxation factor follows the
// Chebyshev acceleration schedule on a checkerboard sweep, so the spectral
// radius estimate assumes a square grid; non-square sources return ErrShape.
//
// Returns the interior solution, sized like the source, and whether the
// residual dropped below eLevel times the initial residual within maxIter
// full sweeps. A non-converged solution is still returned, with a warning
// on logWriter.
func Solve(source [][]float64, maxIter int, eLevel float64, logWriter io.Writer) ([][]float64, bool, error) {
	n := len(source)
	if n == 0 {
		return nil, false, fmt.Errorf("%w: empty source", ErrShape)
	}
	for i, row := range source {
		if len(row) != n {
			return nil, false, fmt.Errorf("%w: source row %d has %d columns, want %d", ErrShape, i, len(row), n)
		}
	}

	// Padded working grids: func and resid carry the zero boundary frame,
	// source indices are offset by one.
	side := n + 2
	fn := make([][]float64, side)
	resid := make([][]float64, side)
	for i := range fn {
		fn[i] = make([]float64, side)
		resid[i] = make([]float64, side)
	}

	// Initial residual of the all-zero solution
	inError := float64(0)
	for i := 1; i < side-1; i++ {
		for j := 1; j < side-1; j++ {
			r := fn[i-1][j] + fn[i+1][j] + fn[i][j-1] + fn[i][j+1] - 4*fn[i][j] - source[i-1][j-1]
			resid[i][j] = r
			inError += math.Abs(r)
		}
	}

	rho := math.Cos(math.Pi / float64(n))
	omega := float64(1.0)
	outError := float64(0)
	converged := false
	nIter := 0

	// Each pass updates one color of the checkerboard; two passes make one
	// full sweep. The relaxation factor is updated after every pass.
	for ; nIter < maxIter*2; nIter++ {
		for i := 1; i < side-1; i++ {
			for j := 1 + (i+nIter)%2; j < side-1; j += 2 {
				r := fn[i-1][j] + fn[i+1][j] + fn[i][j-1] + fn[i][j+1] - 4*fn[i][j] - source[i-1][j-1]
				resid[i][j] = r
				fn[i][j] += omega * r * 0.25
			}
		}
		if nIter == 0 {
			omega = 1.0 / (1.0 - 0.5*rho*rho)
		} else {
			omega = 1.0 / (1.0 - 0.25*rho*rho*omega)
		}

		outError = 0
		for i := 1; i < side-1; i++ {
			for j := 1; j < side-1; j++ {
				outError += math.Abs(resid[i][j])
			}
		}
		if outError <= inError*eLevel {
			converged = true
			nIter++
			break
		}
	}

	ratio := float64(0)
	if inError > 0 {
		ratio = outError / inError
	}
	if converged {
		fmt.Fprintf(logWriter, "Relaxation converged in %d iterations, residual reduced to %.2e of initial\n",
			(nIter+1)/2, ratio)
	} else {
		fmt.Fprintf(logWriter, "Warning: relaxation did not converge in %d iterations, residual at %.2e of initial\n",
			nIter/2, ratio)
	}

	sol := make([][]float64, n)
	for i := range sol {
		sol[i] = append([]float64(nil), fn[i+1][1:side-1]...)
	}
	return sol, converged, nil
}

// Generate runs the full kernel generation for one region: screening and
// stacking the correlation samples, then integrating the stacked surface.
func Generate(samples []Sample, cfg Config, logWriter io.Writer) ([][]float64, bool, error) {
	surface, err := Aggregate(samples, cfg, logWriter)
	if err != nil {
		return nil, false, err
	}
	return Solve(surface, cfg.MaxIterSOR, cfg.ELevelSOR, logWriter)
}
