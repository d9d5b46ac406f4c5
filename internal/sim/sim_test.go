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

package sim

import (
	"math"
	"testing"

	"github.com/lumispec/bfkernel/internal/xcorr"
)

func TestPairs(t *testing.T) {
	s := &FlatSource{Width: 16, Height: 16, Fluxes: []float64{1000, 2000}, Repeats: 2}
	pairs := s.Pairs()
	if len(pairs) != 4 {
		t.Fatalf("pair count %d; want 4", len(pairs))
	}
	for i, p := range pairs {
		if p.V1 != 2*i || p.V2 != 2*i+1 {
			t.Errorf("pair %d is (%d,%d); want (%d,%d)", i, p.V1, p.V2, 2*i, 2*i+1)
		}
	}
	if s.Flux(0) != 1000 || s.Flux(2) != 2000 || s.Flux(4) != 1000 {
		t.Errorf("flux mapping %v %v %v; want 1000 2000 1000", s.Flux(0), s.Flux(2), s.Flux(4))
	}
}

func TestDetrendDeterministic(t *testing.T) {
	s := &FlatSource{Width: 32, Height: 32, Fluxes: []float64{5000}, Repeats: 1, Seed: 42}
	a, err := s.Detrend(0)
	if err != nil {
		t.Fatalf("error %v; want nil", err)
	}
	b, err := s.Detrend(0)
	if err != nil {
		t.Fatalf("error %v; want nil", err)
	}
	for i := range a.Data {
		if a.Data[i] != b.Data[i] {
			t.Fatalf("pixel %d differs between identical visits: %v vs %v", i, a.Data[i], b.Data[i])
		}
	}

	c, err := s.Detrend(1)
	if err != nil {
		t.Fatalf("error %v; want nil", err)
	}
	same := true
	for i := range a.Data {
		if a.Data[i] != c.Data[i] {
			same = false
			break
		}
	}
	if same {
		t.Errorf("visits 0 and 1 generated identical noise")
	}
}

func TestDetrendStatistics(t *testing.T) {
	flux := 10000.0
	g := 2.0
	s := &FlatSource{Width: 128, Height: 128, Gain: g, Fluxes: []float64{flux}, Repeats: 1, Seed: 1}
	img, err := s.Detrend(0)
	if err != nil {
		t.Fatalf("error %v; want nil", err)
	}

	sum := float64(0)
	for _, v := range img.Data {
		sum += float64(v)
	}
	mean := sum / float64(len(img.Data))
	if math.Abs(mean-flux/g) > 0.02*flux/g {
		t.Errorf("mean=%v; want %v within 2%%", mean, flux/g)
	}

	sumSq := float64(0)
	for _, v := range img.Data {
		d := float64(v) - mean
		sumSq += d * d
	}
	variance := sumSq / float64(len(img.Data)-1)
	want := flux / (g * g) // Poisson variance scaled by 1/gain^2
	if math.Abs(variance-want) > 0.05*want {
		t.Errorf("variance=%v; want %v within 5%%", variance, want)
	}
}

func TestDetrendOutOfRange(t *testing.T) {
	s := &FlatSource{Width: 16, Height: 16, Fluxes: []float64{1000}, Repeats: 1}
	if _, err := s.Detrend(2); err == nil {
		t.Errorf("error nil; want out of range error")
	}
	if _, err := s.Detrend(-1); err == nil {
		t.Errorf("error nil; want out of range error")
	}
}

func TestMeasureCorrelationsNoiseFloor(t *testing.T) {
	// uncorrelated flats at high flux: the zero-lag term carries the shot
	// noise of the difference, everything else sits at the noise floor
	flux := 100000.0
	s := &FlatSource{Width: 200, Height: 200, Gain: 1.0, Fluxes: []float64{flux}, Repeats: 1, Seed: 3}
	cfg := xcorr.Config{
		MaxLag:            5,
		Border:            3,
		ClipSigma:         5,
		BackgroundBinSize: 128,
		BiasCorr:          0.9241,
	}
	measurements, err := s.MeasureCorrelations(cfg)
	if err != nil {
		t.Fatalf("error %v; want nil", err)
	}
	if len(measurements) != 1 {
		t.Fatalf("measurement count %d; want 1", len(measurements))
	}
	m := measurements[0]

	if math.Abs(m.MeanSum-2*flux) > 0.02*2*flux {
		t.Errorf("mean sum=%v; want %v within 2%%", m.MeanSum, 2*flux)
	}
	zeroLag := m.Corr[0][0]
	if math.Abs(zeroLag-2*flux) > 0.25*2*flux {
		t.Errorf("zero lag=%v; want near %v", zeroLag, 2*flux)
	}
	for y := range m.Corr {
		for x := range m.Corr[y] {
			if x == 0 && y == 0 {
				continue
			}
			if math.Abs(m.Corr[y][x]) > 0.05*zeroLag {
				t.Errorf("corr[%d][%d]=%v; want below noise floor %v", y, x, m.Corr[y][x], 0.05*zeroLag)
			}
		}
	}
}

func TestCorrelationInjection(t *testing.T) {
	// injected charge leak must appear as a positive diagonal covariance
	flux := 100000.0
	s := &FlatSource{Width: 200, Height: 200, Gain: 1.0, Fluxes: []float64{flux},
		Repeats: 1, CorrelationStrength: 0.1, Seed: 4}
	cfg := xcorr.Config{
		MaxLag:            2,
		Border:            3,
		ClipSigma:         5,
		BackgroundBinSize: 128,
		BiasCorr:          0.9241,
	}
	measurements, err := s.MeasureCorrelations(cfg)
	if err != nil {
		t.Fatalf("error %v; want nil", err)
	}
	m := measurements[0]

	// cov(diff_{i,j}, diff_{i+1,j+1}) = 2*a*flux for leak fraction a
	want := 2 * 0.1 * flux
	if m.Corr[1][1] < 0.5*want {
		t.Errorf("corr[1][1]=%v; want at least half of the injected %v", m.Corr[1][1], want)
	}
	// the anti-diagonal lag carries no injected signal
	if math.Abs(m.Corr[0][1]) > 0.5*want || math.Abs(m.Corr[1][0]) > 0.5*want {
		t.Errorf("axis lags %v, %v; want well below the diagonal %v", m.Corr[0][1], m.Corr[1][0], m.Corr[1][1])
	}
}
