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

package stats

import (
	"errors"
	"math"
	"testing"
)

func TestClippedMeanConstant(t *testing.T) {
	values := []float32{42, 42, 42, 42, 42, 42, 42, 42}
	mean, err := ClippedMean(values, 3)
	if err != nil {
		t.Fatalf("error %v; want nil", err)
	}
	if mean != 42 {
		t.Errorf("mean=%v; want 42 exactly", mean)
	}
}

func TestClippedMeanRejectsOutlier(t *testing.T) {
	// 20 well-behaved values around 10 plus one gross outlier
	values := []float32{}
	for i := 0; i < 10; i++ {
		values = append(values, 9.9, 10.1)
	}
	values = append(values, 1000)

	plainSum := float64(0)
	for _, v := range values {
		plainSum += float64(v)
	}
	plainMean := plainSum / float64(len(values))

	mean, err := ClippedMean(values, 3)
	if err != nil {
		t.Fatalf("error %v; want nil", err)
	}
	if math.Abs(mean-10) > 1e-4 {
		t.Errorf("mean=%v; want 10", mean)
	}
	if math.Abs(mean-10) >= math.Abs(plainMean-10) {
		t.Errorf("clipping did not move the mean toward the population: clipped %v, plain %v", mean, plainMean)
	}
}

func TestClippedMeanVariance(t *testing.T) {
	// alternating +/-1 around 5: mean 5, sample variance 1*n/(n-1)
	n := 100
	values := make([]float32, n)
	for i := range values {
		if i%2 == 0 {
			values[i] = 6
		} else {
			values[i] = 4
		}
	}
	mean, variance, err := ClippedMeanVariance(values, 3)
	if err != nil {
		t.Fatalf("error %v; want nil", err)
	}
	if math.Abs(mean-5) > 1e-9 {
		t.Errorf("mean=%v; want 5", mean)
	}
	want := float64(n) / float64(n-1)
	if math.Abs(variance-want) > 1e-6 {
		t.Errorf("variance=%v; want %v", variance, want)
	}
}

func TestClippedMeanEmpty(t *testing.T) {
	_, err := ClippedMean([]float32{}, 3)
	if !errors.Is(err, ErrEmptyRegion) {
		t.Errorf("error %v; want ErrEmptyRegion", err)
	}
}

func TestClippedMeanStdDev64RejectsOutlier(t *testing.T) {
	values := []float64{}
	for i := 0; i < 12; i++ {
		values = append(values, 0.9, 1.1)
	}
	values = append(values, 50)

	mean, stdDev, err := ClippedMeanStdDev64(values, 3)
	if err != nil {
		t.Fatalf("error %v; want nil", err)
	}
	if math.Abs(mean-1) > 1e-3 {
		t.Errorf("mean=%v; want 1", mean)
	}
	if stdDev > 0.2 {
		t.Errorf("stdDev=%v; want below 0.2 after rejection", stdDev)
	}
}

func TestFastClippedMeanStdDev(t *testing.T) {
	values := make([]float32, 100000)
	for i := range values {
		if i%2 == 0 {
			values[i] = 99
		} else {
			values[i] = 101
		}
	}
	mean, stdDev := FastClippedMeanStdDev(values, 3, 10000)
	if math.Abs(mean-100) > 0.1 {
		t.Errorf("mean=%v; want 100 within 0.1", mean)
	}
	if math.Abs(stdDev-1) > 0.1 {
		t.Errorf("stdDev=%v; want 1 within 0.1", stdDev)
	}
}
