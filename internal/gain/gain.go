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

// Package gain measures detector gains from flat-field pairs via the
// photon transfer curve: the variance of a flat difference grows linearly
// with its mean, with slope 1/gain.
package gain

import (
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/lumispec/bfkernel/internal/image"
	"github.com/lumispec/bfkernel/internal/kernel"
	"github.com/lumispec/bfkernel/internal/regress"
	"github.com/lumispec/bfkernel/internal/xcorr"
)

// Returned when the photon transfer curve fit yields a slope that cannot
// be inverted into a gain
var ErrDegenerateFit = errors.New("degenerate photon transfer curve fit")

// Table maps a region name to its gain in electrons per digital unit.
type Table map[string]float64

// UnitTable returns a gain table with gain 1.0 for every given region.
func UnitTable(regions image.RegionSet) Table {
	t := Table{}
	for _, r := range regions {
		t[r.Name] = 1.0
	}
	return t
}

// VisitPair identifies two flat-field exposures taken back to back at the
// same nominal flux.
type VisitPair struct {
	V1, V2 int
}

// Detrender loads and detrends the exposure for a given visit. Implemented
// by the caller, typically backed by a calibration archive or a simulator.
type Detrender func(visit int) (*image.Image, error)

// Params holds the configuration for one gain estimation run.
type Params struct {
	MaxLag               int32   // maximum correlation lag in pixels
	Border               int32   // border exclusion width in pixels
	ClipSigma            float32 // sigma threshold for pixel statistics
	BackgroundBinSize    int32   // bin size for background estimation
	BiasCorr             float64 // clipping bias correction for correlation means
	NSigmaClipRegression float64 // sigma threshold for fit outlier rejection
	MaxIterRegression    int     // iteration cap for the robust fit
	FixThroughOrigin     bool    // force the PTC fit through the origin
}

// ptcSample is one (mean, variance, covariance) measurement for a region
// from a single flat pair. Means are the sum of the two exposure means,
// uncorrected for gain.
type ptcSample struct {
	mean, variance, covariance float64
}

// Estimate measures the gain of every region from the given flat pairs.
//
// For each pair both exposures are detrended and per-region means and
// difference correlations are computed without applying any gain. Pairs and
// samples failing the data quality checks are logged and skipped. The
// surviving (mean, covariance) points per region are fit with iterative
// outlier rejection, and the gain is the inverse slope.
//
// If nominal is non-nil, the measured gains are logged against it for
// comparison. Regions whose fit fails get an entry in the returned error
// map instead of the table; other regions are unaffected. The error return
// covers infrastructure failures that abort the whole run.
func Estimate(pairs []VisitPair, detrend Detrender, regions image.RegionSet,
	p Params, nominal Table, logWriter io.Writer) (Table, map[string]error, error) {

	samples := map[string][]ptcSample{}
	failed := map[string]error{}

	corrCfg := xcorr.Config{
		MaxLag:            p.MaxLag,
		Border:            p.Border,
		ClipSigma:         p.ClipSigma,
		BackgroundBinSize: p.BackgroundBinSize,
		BiasCorr:          p.BiasCorr,
	}
	unit := UnitTable(regions)

	for _, pair := range pairs {
		im1, err := detrend(pair.V1)
		if err != nil {
			return nil, nil, fmt.Errorf("detrending visit %d: %w", pair.V1, err)
		}
		im2, err := detrend(pair.V2)
		if err != nil {
			return nil, nil, fmt.Errorf("detrending visit %d: %w", pair.V2, err)
		}

		areas1, means1, err := xcorr.Prepare(im1, unit, regions, p.Border, p.ClipSigma)
		if err != nil {
			return nil, nil, fmt.Errorf("preparing visit %d: %w", pair.V1, err)
		}
		areas2, means2, err := xcorr.Prepare(im2, unit, regions, p.Border, p.ClipSigma)
		if err != nil {
			return nil, nil, fmt.Errorf("preparing visit %d: %w", pair.V2, err)
		}

		pairSamples := map[string]ptcSample{}
		sane := true
		for _, region := range regions {
			if _, bad := failed[region.Name]; bad {
				continue
			}
			corr, err := xcorr.Correlate(areas1[region.Name], areas2[region.Name], corrCfg)
			if err != nil {
				fmt.Fprintf(logWriter, "Region %s failed on visits %d,%d: %s\n",
					region.Name, pair.V1, pair.V2, err.Error())
				failed[region.Name] = err
				continue
			}
			full, err := kernel.Tile(corr)
			if err != nil {
				return nil, nil, fmt.Errorf("tiling correlations for region %s: %w", region.Name, err)
			}
			s := ptcSample{
				mean:       means1[region.Name] + means2[region.Name],
				variance:   corr[0][0],
				covariance: kernel.Sum(full),
			}
			fmt.Fprintf(logWriter, "Region %s visits %d,%d: mean sum %.1f, variance %.1f, covariance %.1f\n",
				region.Name, pair.V1, pair.V2, s.mean, s.variance, s.covariance)
			if s.mean*10 < s.variance || s.mean*10 < s.covariance {
				sane = false
			}
			pairSamples[region.Name] = s
		}
		if !sane {
			fmt.Fprintf(logWriter, "Sanity check failed, skipping visit pair %d,%d\n", pair.V1, pair.V2)
			continue
		}

		for name, s := range pairSamples {
			// Cosmic rays or defects in one exposure push the covariance
			// away from the variance
			if s.variance*1.3 < s.covariance || s.variance*0.7 > s.covariance {
				fmt.Fprintf(logWriter, "Dropping region %s sample from visits %d,%d: covariance %.1f inconsistent with variance %.1f\n",
					name, pair.V1, pair.V2, s.covariance, s.variance)
				continue
			}
			samples[name] = append(samples[name], s)
		}
	}

	gains := Table{}
	for _, region := range regions {
		name := region.Name
		if _, bad := failed[name]; bad {
			continue
		}
		xs := make([]float64, len(samples[name]))
		ys := make([]float64, len(samples[name]))
		for i, s := range samples[name] {
			xs[i] = s.mean
			ys[i] = s.covariance
		}

		slopeRaw, interceptRaw := regress.RawFit(xs, ys)
		slopeFix, _, err := regress.Fit(xs, ys, true, p.NSigmaClipRegression, p.MaxIterRegression)
		if err != nil {
			failed[name] = err
			continue
		}
		slopeFree, _, err := regress.Fit(xs, ys, false, p.NSigmaClipRegression, p.MaxIterRegression)
		if err != nil {
			failed[name] = err
			continue
		}
		fmt.Fprintf(logWriter, "Region %s raw fit slope %.6g intercept %.6g\n", name, slopeRaw, interceptRaw)
		fmt.Fprintf(logWriter, "Region %s fixed fit slope %.6g, difference vs raw %.3g\n", name, slopeFix, slopeFix-slopeRaw)
		fmt.Fprintf(logWriter, "Region %s free fit slope %.6g, difference vs fixed %.3g\n", name, slopeFree, slopeFix-slopeFree)

		slope := slopeFree
		if p.FixThroughOrigin {
			slope = slopeFix
		}
		if math.IsNaN(slope) || slope <= 0 {
			failed[name] = fmt.Errorf("%w: region %s slope %g from %d samples",
				ErrDegenerateFit, name, slope, len(xs))
			continue
		}
		gains[name] = 1.0 / slope
		if nominal != nil {
			fmt.Fprintf(logWriter, "Region %s measured gain %.4f, nominal %.4f\n",
				name, gains[name], nominal[name])
		} else {
			fmt.Fprintf(logWriter, "Region %s measured gain %.4f\n", name, gains[name])
		}
	}
	return gains, failed, nil
}
