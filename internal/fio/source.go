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

package fio

import (
	"fmt"
	"io"
	"strings"

	"github.com/lumispec/bfkernel/internal/image"
)

// A FlatSource resolves visit numbers to detrended flat frames stored as
// FITS files on disk. The pattern must contain exactly one %d verb which
// receives the visit number, e.g. "flats/visit-%d.fits".
type FlatSource struct {
	Pattern string
	Log     io.Writer
}

func NewFlatSource(pattern string, logWriter io.Writer) (*FlatSource, error) {
	if strings.Count(pattern, "%d") != 1 {
		return nil, fmt.Errorf("flat file pattern %q must contain exactly one %%d verb", pattern)
	}
	return &FlatSource{Pattern: pattern, Log: logWriter}, nil
}

// Detrend loads the flat frame for the given visit number
func (s *FlatSource) Detrend(visit int) (*image.Image, error) {
	fileName := fmt.Sprintf(s.Pattern, visit)
	fmt.Fprintf(s.Log, "Visit %d: reading flat from %s\n", visit, fileName)
	return ReadFile(fileName, s.Log)
}
