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

package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"runtime/debug"
	"runtime/pprof"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/cpuid"
	"github.com/pbnjay/memory"

	"github.com/lumispec/bfkernel/internal/config"
	"github.com/lumispec/bfkernel/internal/fio"
	"github.com/lumispec/bfkernel/internal/gain"
	"github.com/lumispec/bfkernel/internal/pipe"
	"github.com/lumispec/bfkernel/internal/rest"
	"github.com/lumispec/bfkernel/internal/sim"
	"github.com/lumispec/bfkernel/internal/xcorr"
)

const version = "0.1.0"

var totalMiBs = memory.TotalMemory() / 1024 / 1024

var cpuprofile = flag.String("cpuprofile", "", "write cpu profile to `file`")
var memprofile = flag.String("memprofile", "", "write memory profile to `file`")

var cfgFile = flag.String("config", "", "load settings from YAML `file`")
var out = flag.String("out", "kernels.json", "save gains and kernels to `file`")
var threads = flag.Int64("threads", 0, "number of worker threads, 0=all cores")

var flats = flag.String("flats", "", "read flats from FITS files matching this `pattern` with a %d verb for the visit number, instead of simulating")
var nPairs = flag.Int64("npairs", 0, "number of flat pairs when reading from files; visits are numbered 0..2*npairs-1")

var width = flag.Int64("width", 512, "simulated sensor width in pixels")
var height = flag.Int64("height", 512, "simulated sensor height in pixels")
var simGain = flag.Float64("gain", 1.5, "simulated detector gain in electrons per digital unit")
var fluxes = flag.String("fluxes", "20000,40000,60000,80000,100000", "comma-separated simulated flux levels in electrons")
var repeats = flag.Int64("repeats", 2, "simulated flat pairs per flux level")
var corrStrength = flag.Float64("corr", 0, "simulated charge leak fraction into the upper-right neighbor, 0=uncorrelated")
var seed = flag.Uint64("seed", 0, "random seed for the simulated flats")

var chroot = flag.String("chroot", "", "serve: change filesystem root to `directory` before listening (requires root)")
var setuid = flag.Int64("setuid", -1, "serve: drop to this user id before listening, -1=no change")

func main() {
	logWriter := os.Stdout
	debug.SetGCPercent(10)
	start := time.Now()
	flag.Usage = func() {
		fmt.Fprintf(logWriter, `Bfkernel Copyright (c) 2024 The bfkernel authors
This program comes with ABSOLUTELY NO WARRANTY.
This is free software, and you are welcome to redistribute it under certain conditions.
Refer to https://www.gnu.org/licenses/gpl-3.0.en.html for details.

Usage: %s [-flag value] (generate|correlate|serve|legal|version)

Commands:
  generate  Generate brighter-fatter kernels from simulated flat pairs
  correlate Measure raw flat-pair correlations without kernel generation
  serve     Offer the pipeline as a REST service on port 8080
  legal     Show license and attribution information
  version   Show version information

Flags:
`, os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	// Enable CPU profiling if flagged
	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			fmt.Fprintf(logWriter, "Could not create CPU profile: %s\n", err.Error())
			os.Exit(-1)
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			fmt.Fprintf(logWriter, "Could not start CPU profile: %s\n", err.Error())
			os.Exit(-1)
		}
		defer pprof.StopCPUProfile()
	}

	args := flag.Args()
	if len(args) < 1 {
		flag.Usage()
		return
	}

	params := config.Defaults()
	var err error
	if *cfgFile != "" {
		params, err = config.Load(*cfgFile)
		if err != nil {
			fmt.Fprintf(logWriter, "Error loading config: %s\n", err.Error())
			os.Exit(-1)
		}
	}

	if args[0] == "generate" || args[0] == "correlate" || args[0] == "serve" {
		fmt.Fprintf(logWriter, "Running on %s with %d logical cores, %d MiB RAM, AVX2 %v\n",
			cpuid.CPU.BrandName, cpuid.CPU.LogicalCores, totalMiBs, cpuid.CPU.AVX2())
	}

	switch args[0] {
	case "generate":
		err = cmdGenerate(params, logWriter)

	case "correlate":
		err = cmdCorrelate(params, logWriter)

	case "serve":
		if err = rest.MakeSandbox(*chroot, int(*setuid), logWriter); err == nil {
			rest.Serve()
		}

	case "legal":
		cmdLegal(logWriter)

	case "version":
		fmt.Fprintf(logWriter, "Version %s\n", version)

	case "help", "?":
		flag.Usage()

	default:
		fmt.Fprintf(logWriter, "Unknown command '%s'\n\n", args[0])
		flag.Usage()
		return
	}

	elapsed := time.Now().Sub(start)
	fmt.Fprintf(logWriter, "\nDone after %v\n", elapsed)

	// Store memory profile if flagged
	if *memprofile != "" {
		f, ferr := os.Create(*memprofile)
		if ferr != nil {
			fmt.Fprintf(logWriter, "Could not create memory profile: %s\n", ferr.Error())
			os.Exit(-1)
		}
		defer f.Close()
		if perr := pprof.Lookup("allocs").WriteTo(f, 0); perr != nil {
			fmt.Fprintf(logWriter, "Could not write allocation profile: %s\n", perr.Error())
			os.Exit(-1)
		}
	}

	if err != nil {
		fmt.Fprintf(logWriter, "Error: %s\n", err.Error())
		os.Exit(-1)
	}
}

// flatSource builds the simulated flat source from command line flags.
func flatSource() (*sim.FlatSource, error) {
	levels, err := parseFluxes(*fluxes)
	if err != nil {
		return nil, err
	}
	return &sim.FlatSource{
		Width:               int32(*width),
		Height:              int32(*height),
		Gain:                *simGain,
		Fluxes:              levels,
		Repeats:             int(*repeats),
		CorrelationStrength: *corrStrength,
		Seed:                *seed,
	}, nil
}

func parseFluxes(s string) ([]float64, error) {
	parts := strings.Split(s, ",")
	levels := make([]float64, 0, len(parts))
	for _, part := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid flux level %q: %w", part, err)
		}
		levels = append(levels, f)
	}
	return levels, nil
}

// Runs the full pipeline on flat pairs and saves the results as JSON.
// Flats come from FITS files if -flats is given, from the simulator otherwise.
func cmdGenerate(params config.Params, logWriter io.Writer) error {
	var pairs []gain.VisitPair
	var detrend gain.Detrender
	var nominal gain.Table
	if *flats != "" {
		if *nPairs < 1 {
			return fmt.Errorf("-npairs must be positive when reading flats from files")
		}
		src, err := fio.NewFlatSource(*flats, logWriter)
		if err != nil {
			return err
		}
		for k := int64(0); k < *nPairs; k++ {
			pairs = append(pairs, gain.VisitPair{V1: int(2 * k), V2: int(2*k + 1)})
		}
		detrend = src.Detrend
	} else {
		source, err := flatSource()
		if err != nil {
			return err
		}
		pairs, detrend = source.Pairs(), source.Detrend
		nominal = gain.Table{"CCD": source.Gain}
	}
	params.Level = config.LevelCCD // the CLI carries no amplifier geometry

	ctx := pipe.NewContext(logWriter)
	if *threads > 0 {
		ctx.MaxThreads = int(*threads)
	}
	job := &pipe.Job{
		Pairs:        pairs,
		Detrend:      detrend,
		Params:       params,
		NominalGains: nominal,
	}
	res, err := pipe.GenerateKernels(ctx, job)
	if err != nil {
		return err
	}
	for name, rerr := range res.Errors {
		fmt.Fprintf(logWriter, "Region %s failed: %s\n", name, rerr.Error())
	}
	for name, g := range res.Gains {
		fmt.Fprintf(logWriter, "Region %s: gain %.4f, kernel converged %v\n",
			name, g, res.Converged[name])
	}

	errStrings := map[string]string{}
	for name, rerr := range res.Errors {
		errStrings[name] = rerr.Error()
	}
	output := struct {
		Gains     map[string]float64     `json:"gains"`
		Kernels   map[string][][]float64 `json:"kernels"`
		Converged map[string]bool        `json:"converged"`
		Errors    map[string]string      `json:"errors,omitempty"`
	}{res.Gains, res.Kernels, res.Converged, errStrings}

	m, err := json.MarshalIndent(output, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(*out, m, 0644); err != nil {
		return err
	}
	fmt.Fprintf(logWriter, "Saved results to %s\n", *out)
	return nil
}

// Measures raw pair correlations on simulated flats and prints them.
func cmdCorrelate(params config.Params, logWriter io.Writer) error {
	source, err := flatSource()
	if err != nil {
		return err
	}
	cfg := xcorr.Config{
		MaxLag:            params.MaxLag,
		Border:            params.NPixBorderXCorr,
		ClipSigma:         params.NSigmaClipXCorr,
		BackgroundBinSize: params.BackgroundBinSize,
		BiasCorr:          params.BiasCorr,
	}
	measurements, err := source.MeasureCorrelations(cfg)
	if err != nil {
		return err
	}
	for i, m := range measurements {
		fmt.Fprintf(logWriter, "Pair %d at flux %.0f: mean sum %.1f, zero-lag %.1f, [0,1] %.2f, [1,0] %.2f, [1,1] %.2f\n",
			i, m.Flux, m.MeanSum, m.Corr[0][0], m.Corr[0][1], m.Corr[1][0], m.Corr[1][1])
	}
	return nil
}

func cmdLegal(logWriter io.Writer) {
	fmt.Fprintf(logWriter, `Bfkernel is Copyright (c) 2024 The bfkernel authors
This program comes with ABSOLUTELY NO WARRANTY.
This is free software, and you are welcome to redistribute it under certain conditions.
Refer to https://www.gnu.org/licenses/gpl-3.0.en.html for details.
The binary version of this program uses several open source libraries and components, which come with their own licensing terms. See below for a list of attributions.

ATTRIBUTIONS

A1. https://github.com/gonum/gonum is Copyright (c) 2013 The Gonum Authors. All rights reserved. (BSD 3-Clause License)

A2. https://github.com/gin-gonic/gin is Copyright (c) 2014 Manuel Martinez-Almeida. (MIT License)

A3. https://github.com/klauspost/cpuid is Copyright (c) 2015 Klaus Post. (MIT License)

A4. https://github.com/pbnjay/memory is Copyright (c) 2017, Jeremy Jay. (BSD 3-Clause License)

A5. https://github.com/valyala/fastrand is Copyright (c) 2017 Aliaksandr Valialkin. (MIT License)

A6. https://gopkg.in/yaml.v3 is Copyright (c) 2011-2019 Canonical Ltd. (MIT and Apache License 2.0)

A7. https://golang.org/x/exp is Copyright (c) 2009 The Go Authors. (BSD 3-Clause License)
`)
}
