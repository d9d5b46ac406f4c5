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

// Package config loads and validates kernel generation settings.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Level selects whether gains and kernels are produced per amplifier or
// for the detector as a whole.
type Level string

const (
	LevelAmp Level = "AMP"
	LevelCCD Level = "CCD"
)

// Params holds all tunable settings for one kernel generation run.
type Params struct {
	Level                 Level   `yaml:"level"`
	MaxLag                int32   `yaml:"maxLag"`
	NPixBorderGainCalc    int32   `yaml:"nPixBorderGainCalc"`
	NPixBorderXCorr       int32   `yaml:"nPixBorderXCorr"`
	NSigmaClipGainCalc    float32 `yaml:"nSigmaClipGainCalc"`
	NSigmaClipXCorr       float32 `yaml:"nSigmaClipXCorr"`
	NSigmaClipKernelGen   float64 `yaml:"nSigmaClipKernelGen"`
	NSigmaClipRegression  float64 `yaml:"nSigmaClipRegression"`
	MaxIterRegression     int     `yaml:"maxIterRegression"`
	XcorrCheckRejectLevel float64 `yaml:"xcorrCheckRejectLevel"`
	MaxIterSOR            int     `yaml:"maxIterSOR"`
	ELevelSOR             float64 `yaml:"eLevelSOR"`
	BiasCorr              float64 `yaml:"biasCorr"`
	BackgroundBinSize     int32   `yaml:"backgroundBinSize"`
	FixPtcThroughOrigin   bool    `yaml:"fixPtcThroughOrigin"`
}

// Defaults returns the standard parameter set.
func Defaults() Params {
	return Params{
		Level:                 LevelAmp,
		MaxLag:                5,
		NPixBorderGainCalc:    10,
		NPixBorderXCorr:       10,
		NSigmaClipGainCalc:    5,
		NSigmaClipXCorr:       5,
		NSigmaClipKernelGen:   4,
		NSigmaClipRegression:  3,
		MaxIterRegression:     10,
		XcorrCheckRejectLevel: 1.0,
		MaxIterSOR:            10000,
		ELevelSOR:             5e-14,
		BiasCorr:              0.9241,
		BackgroundBinSize:     128,
		FixPtcThroughOrigin:   true,
	}
}

// Load reads parameters from a YAML file, with unset fields keeping
// their defaults.
func Load(path string) (Params, error) {
	p := Defaults()
	data, err := os.ReadFile(path)
	if err != nil {
		return p, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := p.Validate(); err != nil {
		return p, fmt.Errorf("config %s: %w", path, err)
	}
	return p, nil
}

// Validate reports the first invalid setting.
func (p *Params) Validate() error {
	if p.Level != LevelAmp && p.Level != LevelCCD {
		return fmt.Errorf("level must be %s or %s, have %q", LevelAmp, LevelCCD, p.Level)
	}
	if p.MaxLag < 1 {
		return fmt.Errorf("maxLag must be at least 1, have %d", p.MaxLag)
	}
	if p.NPixBorderGainCalc < 0 || p.NPixBorderXCorr < 0 {
		return fmt.Errorf("border widths must not be negative")
	}
	if p.NSigmaClipGainCalc <= 0 || p.NSigmaClipXCorr <= 0 ||
		p.NSigmaClipKernelGen <= 0 || p.NSigmaClipRegression <= 0 {
		return fmt.Errorf("sigma clip thresholds must be positive")
	}
	if p.MaxIterRegression < 1 {
		return fmt.Errorf("maxIterRegression must be at least 1, have %d", p.MaxIterRegression)
	}
	if p.MaxIterSOR < 1 {
		return fmt.Errorf("maxIterSOR must be at least 1, have %d", p.MaxIterSOR)
	}
	if p.ELevelSOR <= 0 {
		return fmt.Errorf("eLevelSOR must be positive, have %g", p.ELevelSOR)
	}
	if p.BiasCorr <= 0 {
		return fmt.Errorf("biasCorr must be positive, have %g", p.BiasCorr)
	}
	if p.BackgroundBinSize < 1 {
		return fmt.Errorf("backgroundBinSize must be at least 1, have %d", p.BackgroundBinSize)
	}
	return nil
}
