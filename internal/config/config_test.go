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

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultsAreValid(t *testing.T) {
	p := Defaults()
	if err := p.Validate(); err != nil {
		t.Errorf("error %v; want nil", err)
	}
	if p.MaxLag != 5 || p.BiasCorr != 0.9241 || p.ELevelSOR != 5e-14 {
		t.Errorf("unexpected defaults: maxLag=%d biasCorr=%v eLevelSOR=%v", p.MaxLag, p.BiasCorr, p.ELevelSOR)
	}
	if !p.FixPtcThroughOrigin || p.Level != LevelAmp {
		t.Errorf("unexpected defaults: fixPtcThroughOrigin=%v level=%v", p.FixPtcThroughOrigin, p.Level)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "params.yaml")
	content := "level: CCD\nmaxLag: 3\nbiasCorr: 1.0\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing temp config: %v", err)
	}

	p, err := Load(path)
	if err != nil {
		t.Fatalf("error %v; want nil", err)
	}
	if p.Level != LevelCCD || p.MaxLag != 3 || p.BiasCorr != 1.0 {
		t.Errorf("loaded level=%v maxLag=%d biasCorr=%v; want CCD 3 1.0", p.Level, p.MaxLag, p.BiasCorr)
	}
	// untouched fields keep their defaults
	if p.MaxIterSOR != 10000 || p.BackgroundBinSize != 128 {
		t.Errorf("defaults lost on load: maxIterSOR=%d backgroundBinSize=%d", p.MaxIterSOR, p.BackgroundBinSize)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "params.yaml")
	if err := os.WriteFile(path, []byte("maxLag: 0\n"), 0644); err != nil {
		t.Fatalf("writing temp config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Errorf("error nil; want validation error for maxLag 0")
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Params)
	}{
		{"badLevel", func(p *Params) { p.Level = "DETECTOR" }},
		{"negativeBorder", func(p *Params) { p.NPixBorderXCorr = -1 }},
		{"zeroSigma", func(p *Params) { p.NSigmaClipXCorr = 0 }},
		{"zeroELevel", func(p *Params) { p.ELevelSOR = 0 }},
		{"zeroBiasCorr", func(p *Params) { p.BiasCorr = 0 }},
		{"zeroBinSize", func(p *Params) { p.BackgroundBinSize = 0 }},
	}
	for _, tc := range cases {
		p := Defaults()
		tc.mutate(&p)
		if err := p.Validate(); err == nil {
			t.Errorf("%s: error nil; want validation error", tc.name)
		}
	}
}
