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

package pipe

import (
	"fmt"
	"sync"

	"github.com/lumispec/bfkernel/internal/config"
	"github.com/lumispec/bfkernel/internal/gain"
	"github.com/lumispec/bfkernel/internal/image"
	"github.com/lumispec/bfkernel/internal/kernel"
	"github.com/lumispec/bfkernel/internal/stats"
	"github.com/lumispec/bfkernel/internal/xcorr"
)

// A Job describes one kernel generation run: which flat pairs to process,
// how to load them, and the detector regions to produce kernels for.
type Job struct {
	Pairs        []gain.VisitPair
	Detrend      gain.Detrender
	Regions      image.RegionSet
	Params       config.Params
	Gains        gain.Table // when non-nil, skips the gain estimation pass
	NominalGains gain.Table // optional as-reported gains for comparison logging
}

// A Result carries the gains and kernels of a completed run. Regions that
// failed have an entry in Errors instead of Kernels; healthy regions are
// unaffected by their neighbors' failures.
type Result struct {
	Gains     gain.Table
	Kernels   map[string][][]float64
	Converged map[string]bool
	Errors    map[string]error
}

// GenerateKernels runs the full pipeline: gain estimation (unless gains were
// supplied or the run is CCD-level), a gain-corrected correlation pass over
// all flat pairs, and per-region kernel generation. Per-pair correlation work
// is spread across up to c.MaxThreads workers, bounded further by the pair
// memory budget; workers own private image copies, so only the sample lists
// are locked.
func GenerateKernels(c *Context, job *Job) (*Result, error) {
	p := job.Params
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if len(job.Pairs) == 0 {
		return nil, fmt.Errorf("no visit pairs given")
	}

	regions := job.Regions
	if p.Level == config.LevelCCD && len(regions) != 1 {
		first, err := job.Detrend(job.Pairs[0].V1)
		if err != nil {
			return nil, fmt.Errorf("detrending visit %d: %w", job.Pairs[0].V1, err)
		}
		regions = image.SingleRegion("CCD", first.Width, first.Height)
		fmt.Fprintf(c.Log, "CCD-level run, collapsing to a single %dx%d region\n", first.Width, first.Height)
	}

	res := &Result{
		Kernels:   map[string][][]float64{},
		Converged: map[string]bool{},
		Errors:    map[string]error{},
	}

	switch {
	case job.Gains != nil:
		fmt.Fprintf(c.Log, "Using supplied gains for %d regions\n", len(job.Gains))
		res.Gains = job.Gains
	case p.Level == config.LevelCCD:
		// CCD-level runs measure the whole sensor as one region and apply
		// no per-amplifier rescale
		res.Gains = gain.UnitTable(regions)
	default:
		gp := gain.Params{
			MaxLag:               p.MaxLag,
			Border:               p.NPixBorderGainCalc,
			ClipSigma:            p.NSigmaClipGainCalc,
			BackgroundBinSize:    p.BackgroundBinSize,
			BiasCorr:             p.BiasCorr,
			NSigmaClipRegression: p.NSigmaClipRegression,
			MaxIterRegression:    p.MaxIterRegression,
			FixThroughOrigin:     p.FixPtcThroughOrigin,
		}
		gains, failed, err := gain.Estimate(job.Pairs, job.Detrend, regions, gp, job.NominalGains, c.Log)
		if err != nil {
			return nil, err
		}
		for name, ferr := range failed {
			res.Errors[name] = ferr
		}
		res.Gains = gains
	}

	// Regions without a usable gain cannot be prepared for correlation
	active := image.RegionSet{}
	for _, r := range regions {
		if _, bad := res.Errors[r.Name]; !bad {
			active = append(active, r)
		}
	}
	if len(active) == 0 {
		fmt.Fprintf(c.Log, "No regions left after gain estimation, giving up\n")
		return res, nil
	}
	regions = active

	// Correlation pass over all pairs. Each worker detrends, prepares and
	// correlates one pair; the pair memory budget keeps the number of
	// in-flight pairs from exhausting RAM on large sensors.
	corrCfg := xcorr.Config{
		MaxLag:            p.MaxLag,
		Border:            p.NPixBorderXCorr,
		ClipSigma:         p.NSigmaClipXCorr,
		BackgroundBinSize: p.BackgroundBinSize,
		BiasCorr:          p.BiasCorr,
	}
	threads := c.MaxThreads
	if limit := pairBudget(c.PairMemoryMB, regions); limit < threads {
		threads = limit
	}
	fmt.Fprintf(c.Log, "Correlating %d visit pairs over %d regions with %d workers\n",
		len(job.Pairs), len(regions), threads)

	var mu sync.Mutex
	var fatal error
	samples := map[string][]kernel.Sample{}
	sem := make(chan bool, threads)
	for _, pair := range job.Pairs {
		sem <- true
		go func(pair gain.VisitPair) {
			defer func() { <-sem }()
			mu.Lock()
			aborted := fatal != nil
			mu.Unlock()
			if aborted {
				return
			}
			err := correlatePair(c, job, pair, res.Gains, regions, corrCfg, samples, res.Errors, &mu)
			if err != nil {
				mu.Lock()
				if fatal == nil {
					fatal = err
				}
				mu.Unlock()
			}
		}(pair)
	}
	for i := 0; i < cap(sem); i++ {
		sem <- true
	}
	if fatal != nil {
		return nil, fatal
	}

	kCfg := kernel.Config{
		SigmaClip:   p.NSigmaClipKernelGen,
		RejectLevel: p.XcorrCheckRejectLevel,
		MaxIterSOR:  p.MaxIterSOR,
		ELevelSOR:   p.ELevelSOR,
	}
	for _, region := range regions {
		name := region.Name
		if _, bad := res.Errors[name]; bad {
			continue
		}
		fmt.Fprintf(c.Log, "Generating kernel for region %s from %d samples\n", name, len(samples[name]))
		k, converged, err := kernel.Generate(samples[name], kCfg, c.Log)
		if err != nil {
			res.Errors[name] = err
			continue
		}
		res.Kernels[name] = k
		res.Converged[name] = converged
	}
	return res, nil
}

// correlatePair processes one flat pair: detrend both visits, prepare all
// regions gain-corrected, correlate the prepared pairs and append the
// samples. Region-level failures land in errs; the error return is reserved
// for failures that invalidate the whole run.
func correlatePair(c *Context, job *Job, pair gain.VisitPair, gains gain.Table,
	regions image.RegionSet, cfg xcorr.Config,
	samples map[string][]kernel.Sample, errs map[string]error, mu *sync.Mutex) error {

	im1, err := job.Detrend(pair.V1)
	if err != nil {
		return fmt.Errorf("detrending visit %d: %w", pair.V1, err)
	}
	im2, err := job.Detrend(pair.V2)
	if err != nil {
		return fmt.Errorf("detrending visit %d: %w", pair.V2, err)
	}
	for i, im := range []*image.Image{im1, im2} {
		visit := pair.V1
		if i == 1 {
			visit = pair.V2
		}
		mean, stdDev := stats.FastClippedMeanStdDev(im.Data, cfg.ClipSigma, 32768)
		// c.Log may be a non-threadsafe sink like an HTTP response writer
		mu.Lock()
		fmt.Fprintf(c.Log, "Visit %d %v: mean %.1f stddev %.1f\n", visit, im, mean, stdDev)
		mu.Unlock()
	}

	areas1, means1, err := xcorr.Prepare(im1, gains, regions, cfg.Border, cfg.ClipSigma)
	if err != nil {
		return fmt.Errorf("preparing visit %d: %w", pair.V1, err)
	}
	areas2, means2, err := xcorr.Prepare(im2, gains, regions, cfg.Border, cfg.ClipSigma)
	if err != nil {
		return fmt.Errorf("preparing visit %d: %w", pair.V2, err)
	}

	for _, region := range regions {
		name := region.Name
		mu.Lock()
		_, bad := errs[name]
		mu.Unlock()
		if bad {
			continue
		}
		corr, err := xcorr.Correlate(areas1[name], areas2[name], cfg)
		mu.Lock()
		if err != nil {
			fmt.Fprintf(c.Log, "Region %s failed on visits %d,%d: %s\n", name, pair.V1, pair.V2, err.Error())
			if _, dup := errs[name]; !dup {
				errs[name] = err
			}
		} else {
			samples[name] = append(samples[name], kernel.Sample{
				Mean1: means1[name], Mean2: means2[name], Corr: corr,
			})
		}
		mu.Unlock()
	}
	return nil
}

// pairBudget returns how many flat pairs fit in the given memory budget,
// assuming each in-flight pair holds roughly six region-sized float32
// buffers (two source frames, two prepared copies, difference and scratch).
func pairBudget(memoryMB int, regions image.RegionSet) int {
	pixels := int64(0)
	for _, r := range regions {
		pixels += int64(r.Bounds.Width()) * int64(r.Bounds.Height())
	}
	pairMB := pixels * 4 * 6 / (1024 * 1024)
	if pairMB < 1 {
		pairMB = 1
	}
	limit := int(int64(memoryMB) / pairMB)
	if limit < 1 {
		limit = 1
	}
	return limit
}
