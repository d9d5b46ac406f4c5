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

// Package kernel turns aggregated cross-correlation measurements into the
// brighter-fatter deconvolution kernel.
package kernel

import (
	"errors"
	"fmt"
	"math"
)

// Returned for non-square or inconsistently shaped correlation arrays
var ErrShape = errors.New("correlation array is not square")

// Tile mirrors a quarter-plane correlation array into the full plane,
// exploiting the point symmetry of the correlation function.
//
// For a square input of side n, the output has side 2n-1 with the input's
// [0][0] at the center; the value at quarter index (i,j) is copied to all
// four positions (center±i, center±j). Pure function, the input is not
// modified.
//
//	in:  1 2 3      out:  9 8 7 8 9
//	     4 5 6            6 5 4 5 6
//	     7 8 9            3 2 1 2 3
//	                      6 5 4 5 6
//	                      9 8 7 8 9
func Tile(quarter [][]float64) ([][]float64, error) {
	n := len(quarter)
	if n == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrShape)
	}
	for i, row := range quarter {
		if len(row) != n {
			return nil, fmt.Errorf("%w: row %d has %d columns, want %d", ErrShape, i, len(row), n)
		}
	}

	l := n - 1
	full := make([][]float64, 2*l+1)
	for i := range full {
		full[i] = make([]float64, 2*l+1)
	}
	for i := 0; i <= l; i++ {
		for j := 0; j <= l; j++ {
			v := quarter[i][j]
			full[l+i][l+j] = v
			full[l-i][l+j] = v
			full[l+i][l-j] = v
			full[l-i][l-j] = v
		}
	}
	return full, nil
}

// Sum of all entries of a 2D array
func Sum(a [][]float64) float64 {
	sum := float64(0)
	for _, row := range a {
		for _, v := range row {
			sum += v
		}
	}
	return sum
}

// Sum of the absolute values of all entries of a 2D array
func AbsSum(a [][]float64) float64 {
	sum := float64(0)
	for _, row := range a {
		for _, v := range row {
			sum += math.Abs(v)
		}
	}
	return sum
}
