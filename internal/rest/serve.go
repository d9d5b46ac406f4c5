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

// Package rest exposes the kernel generation pipeline over HTTP, running
// against simulated flat sources and streaming the run log to the client.
package rest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lumispec/bfkernel/internal/config"
	"github.com/lumispec/bfkernel/internal/pipe"
	"github.com/lumispec/bfkernel/internal/sim"
	"github.com/lumispec/bfkernel/internal/xcorr"
)

func Serve() {
	r := gin.Default()
	api := r.Group("/api")
	{
		v1 := api.Group("/v1")
		{
			v1.GET("/ping", getPing)
			v1.POST("/kernel", postKernel)
			v1.POST("/correlate", postCorrelate)
		}
	}
	r.Run() // listen and serve on 0.0.0.0:8080
}

func getPing(c *gin.Context) {
	c.JSON(200, gin.H{
		"message": "pong",
	})
}

func printArgs(logWriter io.Writer, prefix, suffix string, args interface{}) error {
	m, err := json.MarshalIndent(args, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintf(logWriter, "%s%s%s", prefix, string(m), suffix)
	return nil
}

// simArgs describes the simulated flat source of a REST-triggered run.
// Zero fields fall back to a small but meaningful default simulation.
type simArgs struct {
	Width               int32     `json:"width"`
	Height              int32     `json:"height"`
	Gain                float64   `json:"gain"`
	Fluxes              []float64 `json:"fluxes"`
	Repeats             int       `json:"repeats"`
	CorrelationStrength float64   `json:"correlationStrength"`
	Seed                uint64    `json:"seed"`
}

func (a *simArgs) source() *sim.FlatSource {
	s := &sim.FlatSource{
		Width: 256, Height: 256,
		Gain:    1.0,
		Fluxes:  []float64{20000, 40000, 60000, 80000},
		Repeats: 2,
	}
	if a.Width > 0 {
		s.Width = a.Width
	}
	if a.Height > 0 {
		s.Height = a.Height
	}
	if a.Gain > 0 {
		s.Gain = a.Gain
	}
	if len(a.Fluxes) > 0 {
		s.Fluxes = a.Fluxes
	}
	if a.Repeats > 0 {
		s.Repeats = a.Repeats
	}
	s.CorrelationStrength = a.CorrelationStrength
	s.Seed = a.Seed
	return s
}

type postKernelArgs struct {
	Sim    simArgs        `json:"sim"`
	Params *config.Params `json:"params"`
}

// postKernel runs the full pipeline on a simulated flat source, streaming
// the run log as plain text and appending the resulting gains and kernels
// as JSON.
func postKernel(c *gin.Context) {
	logWriter := c.Writer
	var args postKernelArgs
	if err := c.ShouldBind(&args); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	params := config.Defaults()
	if args.Params != nil {
		params = *args.Params
	}
	params.Level = config.LevelCCD // simulated frames carry no amplifier geometry
	if err := params.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	header := logWriter.Header()
	header.Set("Content-Type", "text/plain")
	logWriter.WriteHeader(http.StatusOK)

	if err := printArgs(logWriter, "Arguments:\n", "\n", args); err != nil {
		fmt.Fprintf(logWriter, "Error printing arguments: %s\n", err.Error())
		return
	}

	source := args.Sim.source()
	ctx := pipe.NewContext(logWriter)
	job := &pipe.Job{
		Pairs:        source.Pairs(),
		Detrend:      source.Detrend,
		Params:       params,
		NominalGains: map[string]float64{"CCD": source.Gain},
	}
	res, err := pipe.GenerateKernels(ctx, job)
	if err != nil {
		fmt.Fprintf(logWriter, "error: %s\n", err.Error())
		return
	}
	for name, rerr := range res.Errors {
		fmt.Fprintf(logWriter, "Region %s failed: %s\n", name, rerr.Error())
	}
	if err := printArgs(logWriter, "Gains:\n", "\n", res.Gains); err != nil {
		fmt.Fprintf(logWriter, "error: %s\n", err.Error())
		return
	}
	if err := printArgs(logWriter, "Kernels:\n", "\n", res.Kernels); err != nil {
		fmt.Fprintf(logWriter, "error: %s\n", err.Error())
	}
	logWriter.(http.Flusher).Flush()
}

type postCorrelateArgs struct {
	Sim    simArgs        `json:"sim"`
	Params *config.Params `json:"params"`
}

// postCorrelate measures the raw pair correlations of a simulated flat
// source without kernel generation, for studying the noise floor.
func postCorrelate(c *gin.Context) {
	logWriter := c.Writer
	var args postCorrelateArgs
	if err := c.ShouldBind(&args); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	params := config.Defaults()
	if args.Params != nil {
		params = *args.Params
	}
	params.Level = config.LevelCCD
	if err := params.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	header := logWriter.Header()
	header.Set("Content-Type", "text/plain")
	logWriter.WriteHeader(http.StatusOK)

	if err := printArgs(logWriter, "Arguments:\n", "\n", args); err != nil {
		fmt.Fprintf(logWriter, "Error printing arguments: %s\n", err.Error())
		return
	}

	source := args.Sim.source()
	cfg := xcorr.Config{
		MaxLag:            params.MaxLag,
		Border:            params.NPixBorderXCorr,
		ClipSigma:         params.NSigmaClipXCorr,
		BackgroundBinSize: params.BackgroundBinSize,
		BiasCorr:          params.BiasCorr,
	}
	measurements, err := source.MeasureCorrelations(cfg)
	if err != nil {
		fmt.Fprintf(logWriter, "error: %s\n", err.Error())
		return
	}
	if err := printArgs(logWriter, "Measurements:\n", "\n", measurements); err != nil {
		fmt.Fprintf(logWriter, "error: %s\n", err.Error())
	}
	logWriter.(http.Flusher).Flush()
}
