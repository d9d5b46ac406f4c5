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
	"io"
	"math"
	"testing"
)

func TestTileSymmetry(t *testing.T) {
	quarter := [][]float64{
		{1, 2, 3},
		{4, 5, 6},
		{7, 8, 9},
	}
	full, err := Tile(quarter)
	if err != nil {
		t.Fatalf("error %v; want nil", err)
	}
	n := len(quarter)
	side := 2*n - 1
	if len(full) != side {
		t.Fatalf("side=%d; want %d", len(full), side)
	}
	center := n - 1
	if full[center][center] != quarter[0][0] {
		t.Errorf("center=%v; want %v", full[center][center], quarter[0][0])
	}
	for i := 0; i < side; i++ {
		for j := 0; j < side; j++ {
			if full[i][j] != full[side-1-i][j] {
				t.Errorf("not symmetric under vertical flip at (%d,%d)", i, j)
			}
			if full[i][j] != full[i][side-1-j] {
				t.Errorf("not symmetric under horizontal flip at (%d,%d)", i, j)
			}
		}
	}
	if full[center+2][center+1] != quarter[2][1] {
		t.Errorf("full[c+2][c+1]=%v; want quarter[2][1]=%v", full[center+2][center+1], quarter[2][1])
	}
}

func TestTileShapeError(t *testing.T) {
	_, err := Tile([][]float64{{1, 2}, {3}})
	if !errors.Is(err, ErrShape) {
		t.Errorf("error %v; want ErrShape", err)
	}
	_, err = Tile([][]float64{})
	if !errors.Is(err, ErrShape) {
		t.Errorf("error %v; want ErrShape for empty input", err)
	}
}

// validSample returns a physically plausible correlation measurement:
// strong negative zero-lag term after shot noise subtraction, small
// off-center values.
func validSample(mean float64) Sample {
	corr := [][]float64{
		{1.9 * mean, -0.001 * mean, -0.0001 * mean},
		{-0.001 * mean, -0.0005 * mean, -0.0001 * mean},
		{-0.0001 * mean, -0.0001 * mean, -0.00005 * mean},
	}
	return Sample{Mean1: mean, Mean2: mean, Corr: corr}
}

func TestAggregateDropsInvalidSample(t *testing.T) {
	good := validSample(10000)
	bad := validSample(10000)
	bad.Corr[0][0] = 3 * 10000 // zero-lag stays positive after subtraction

	surface, err := Aggregate([]Sample{good, bad}, Config{SigmaClip: 4, RejectLevel: 1.0}, io.Discard)
	if err != nil {
		t.Fatalf("error %v; want nil", err)
	}

	// with the bad sample dropped, the result must equal the screened
	// good sample alone
	only, err := Aggregate([]Sample{good}, Config{SigmaClip: 4, RejectLevel: 1.0}, io.Discard)
	if err != nil {
		t.Fatalf("error %v; want nil", err)
	}
	for i := range surface {
		for j := range surface[i] {
			if surface[i][j] != only[i][j] {
				t.Errorf("surface[%d][%d]=%v; want %v from the valid sample alone", i, j, surface[i][j], only[i][j])
			}
		}
	}
}

func TestAggregateAllRejected(t *testing.T) {
	bad := validSample(10000)
	bad.Corr[0][0] = 3 * 10000
	_, err := Aggregate([]Sample{bad, bad}, Config{SigmaClip: 4, RejectLevel: 1.0}, io.Discard)
	if !errors.Is(err, ErrAllSamplesRejected) {
		t.Errorf("error %v; want ErrAllSamplesRejected", err)
	}
}

func TestAggregateRejectsUnbalancedSample(t *testing.T) {
	// a surface dominated by same-signed off-center terms sums far from
	// zero; the balance check must compare its magnitude, regardless of
	// sign, against the reject level
	mean := 10000.0
	s := Sample{
		Mean1: mean, Mean2: mean,
		Corr: [][]float64{
			{1.9 * mean, 5 * mean},
			{5 * mean, 5 * mean},
		},
	}
	// tiled surface sums to -19.95/mean with absolute sum 20.05/mean,
	// a balance of ~0.995
	_, err := Aggregate([]Sample{s}, Config{SigmaClip: 4, RejectLevel: 0.5}, io.Discard)
	if !errors.Is(err, ErrAllSamplesRejected) {
		t.Errorf("error %v; want ErrAllSamplesRejected at reject level 0.5", err)
	}

	if _, err := Aggregate([]Sample{s}, Config{SigmaClip: 4, RejectLevel: 1.0}, io.Discard); err != nil {
		t.Errorf("error %v; want nil at reject level 1.0", err)
	}
}

func TestAggregateNormalization(t *testing.T) {
	mean := 10000.0
	s := validSample(mean)
	surface, err := Aggregate([]Sample{s}, Config{SigmaClip: 4, RejectLevel: 1.0}, io.Discard)
	if err != nil {
		t.Fatalf("error %v; want nil", err)
	}
	center := len(surface) / 2
	// corr[0][0]=1.9*mean minus 2*mean leaves -0.1*mean, scaled by
	// -(2*mean^2)
	want := (-0.1 * mean) / -(2 * mean * mean)
	if math.Abs(surface[center][center]-want) > 1e-12 {
		t.Errorf("center=%v; want %v", surface[center][center], want)
	}
}

func TestSolveZeroSource(t *testing.T) {
	source := make([][]float64, 11)
	for i := range source {
		source[i] = make([]float64, 11)
	}
	sol, converged, err := Solve(source, 10000, 5e-14, io.Discard)
	if err != nil {
		t.Fatalf("error %v; want nil", err)
	}
	if !converged {
		t.Errorf("converged=false; want true for zero source")
	}
	for i := range sol {
		for j := range sol[i] {
			if sol[i][j] != 0 {
				t.Errorf("sol[%d][%d]=%v; want 0", i, j, sol[i][j])
			}
		}
	}
}

func TestSolveResidual(t *testing.T) {
	// point source in the center; verify the discrete Poisson equation
	// holds on the converged interior
	n := 11
	source := make([][]float64, n)
	for i := range source {
		source[i] = make([]float64, n)
	}
	source[n/2][n/2] = 1.0

	sol, converged, err := Solve(source, 10000, 5e-14, io.Discard)
	if err != nil {
		t.Fatalf("error %v; want nil", err)
	}
	if !converged {
		t.Fatalf("converged=false; want true")
	}

	// padded lookup treating out-of-range entries as the zero boundary
	at := func(i, j int) float64 {
		if i < 0 || j < 0 || i >= n || j >= n {
			return 0
		}
		return sol[i][j]
	}
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			laplacian := at(i-1, j) + at(i+1, j) + at(i, j-1) + at(i, j+1) - 4*at(i, j)
			if math.Abs(laplacian-source[i][j]) > 1e-10 {
				t.Errorf("residual %v at (%d,%d); want below 1e-10", laplacian-source[i][j], i, j)
			}
		}
	}

	// solution of a centered symmetric source must be symmetric
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if math.Abs(sol[i][j]-sol[n-1-i][j]) > 1e-10 {
				t.Errorf("solution not symmetric at (%d,%d)", i, j)
			}
		}
	}
}

func TestSolveShapeError(t *testing.T) {
	_, _, err := Solve([][]float64{{1, 2}, {3}}, 10, 1e-10, io.Discard)
	if !errors.Is(err, ErrShape) {
		t.Errorf("error %v; want ErrShape", err)
	}
}
