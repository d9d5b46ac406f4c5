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

// Package sim generates synthetic flat-field pairs with Poisson photon
// noise, optional injected pixel correlations and a known gain, for
// validating the measurement chain against known inputs.
package sim

import (
	"fmt"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/lumispec/bfkernel/internal/gain"
	"github.com/lumispec/bfkernel/internal/image"
	"github.com/lumispec/bfkernel/internal/xcorr"
)

// A FlatSource deterministically generates flat-field exposures. Visits are
// numbered 0..2*len(Fluxes)*Repeats-1; consecutive visits (2k, 2k+1) form a
// pair at the same flux. The same visit number always yields the same image,
// so it can serve as the detrending collaborator of a pipeline run.
type FlatSource struct {
	Width, Height       int32
	Gain                float64   // electrons per digital unit
	Fluxes              []float64 // mean illumination per pair, in electrons
	Repeats             int       // pairs generated per flux level
	CorrelationStrength float64   // if >0, leaks this fraction of each pixel into its upper-right neighbor
	Seed                uint64
}

// Pairs returns the visit pairs this source generates, one per flux level
// and repeat.
func (s *FlatSource) Pairs() []gain.VisitPair {
	repeats := s.Repeats
	if repeats < 1 {
		repeats = 1
	}
	pairs := make([]gain.VisitPair, 0, len(s.Fluxes)*repeats)
	v := 0
	for rep := 0; rep < repeats; rep++ {
		for range s.Fluxes {
			pairs = append(pairs, gain.VisitPair{V1: v, V2: v + 1})
			v += 2
		}
	}
	return pairs
}

// Flux returns the mean illumination of the given visit in electrons.
func (s *FlatSource) Flux(visit int) float64 {
	return s.Fluxes[(visit/2)%len(s.Fluxes)]
}

// Detrend generates the exposure for the given visit: independent Poisson
// counts at the visit's flux, optional correlation injection, then
// conversion from electrons to digital units with the source's gain.
// Implements gain.Detrender.
func (s *FlatSource) Detrend(visit int) (*image.Image, error) {
	if visit < 0 || visit >= 2*len(s.Pairs()) {
		return nil, fmt.Errorf("visit %d out of range", visit)
	}
	g := s.Gain
	if g == 0 {
		g = 1.0
	}

	dist := distuv.Poisson{
		Lambda: s.Flux(visit),
		Src:    rand.NewSource(s.Seed + uint64(visit)*0x9e3779b97f4a7c15),
	}
	img := image.NewImage(s.Width, s.Height)
	for i := range img.Data {
		img.Data[i] = float32(dist.Rand())
	}

	if a := s.CorrelationStrength; a > 0 {
		// Leak from the uncorrelated counts, not the already-updated ones
		orig := append([]float32(nil), img.Data...)
		w := int(s.Width)
		for y := 0; y < int(s.Height)-1; y++ {
			for x := 0; x < w-1; x++ {
				img.Data[(y+1)*w+x+1] += float32(a) * orig[y*w+x]
			}
		}
	}

	if g != 1.0 {
		for i := range img.Data {
			img.Data[i] /= float32(g)
		}
	}
	return img, nil
}

// A Measurement is the outcome of correlating one simulated flat pair.
type Measurement struct {
	Flux    float64 // nominal illumination in electrons
	MeanSum float64 // sum of the two measured interior means
	Corr    [][]float64
}

// MeasureCorrelations runs the preparation and correlation stages over every
// simulated pair, treating the whole frame as a single unit-gain region.
// Used to study the clipping bias and the noise floor of the correlation
// estimate under known conditions.
func (s *FlatSource) MeasureCorrelations(cfg xcorr.Config) ([]Measurement, error) {
	regions := image.SingleRegion("SIM", s.Width, s.Height)
	unit := gain.UnitTable(regions)

	measurements := []Measurement{}
	for _, pair := range s.Pairs() {
		im1, err := s.Detrend(pair.V1)
		if err != nil {
			return nil, err
		}
		im2, err := s.Detrend(pair.V2)
		if err != nil {
			return nil, err
		}
		areas1, means1, err := xcorr.Prepare(im1, unit, regions, cfg.Border, cfg.ClipSigma)
		if err != nil {
			return nil, fmt.Errorf("preparing visit %d: %w", pair.V1, err)
		}
		areas2, means2, err := xcorr.Prepare(im2, unit, regions, cfg.Border, cfg.ClipSigma)
		if err != nil {
			return nil, fmt.Errorf("preparing visit %d: %w", pair.V2, err)
		}
		corr, err := xcorr.Correlate(areas1["SIM"], areas2["SIM"], cfg)
		if err != nil {
			return nil, fmt.Errorf("correlating visits %d,%d: %w", pair.V1, pair.V2, err)
		}
		measurements = append(measurements, Measurement{
			Flux:    s.Flux(pair.V1),
			MeanSum: means1["SIM"] + means2["SIM"],
			Corr:    corr,
		})
	}
	return measurements, nil
}
