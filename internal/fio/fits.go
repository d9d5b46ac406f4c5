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

// Package fio reads and writes detector flat frames as FITS files.
// Spec here:   https://fits.gsfc.nasa.gov/standard40/fits_standard40aa-le.pdf
// Primer here: https://fits.gsfc.nasa.gov/fits_primer.html
//
// Only two-dimensional primary HDUs are supported; flat frames are always
// single-channel.
package fio

import (
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/lumispec/bfkernel/internal/image"
)

const blockSize = 2880 // block size of FITS header and data units
const lineSize = 80    // line size of a FITS header

var reParser *regexp.Regexp = compileRE() // regexp parser for FITS header lines

// FITS header key/value storage, grouped by value type
type header struct {
	bools   map[string]bool
	ints    map[string]int32
	floats  map[string]float32
	strings map[string]string
	end     bool
}

func newHeader() *header {
	return &header{
		bools:   make(map[string]bool),
		ints:    make(map[string]int32),
		floats:  make(map[string]float32),
		strings: make(map[string]string),
	}
}

// ReadFile reads a two-dimensional FITS flat from the file with the given
// name. Decompresses gzip if a .gz or .gzip suffix is present. Pixel values
// are converted to float32 with BZERO and BSCALE applied.
func ReadFile(fileName string, logWriter io.Writer) (*image.Image, error) {
	f, err := os.Open(fileName)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = f
	lExt := strings.ToLower(path.Ext(fileName))
	if lExt == ".gz" || lExt == ".gzip" {
		if r, err = gzip.NewReader(f); err != nil {
			return nil, err
		}
	}
	img, err := Read(r, logWriter)
	if err != nil {
		return nil, fmt.Errorf("%s: %s", fileName, err.Error())
	}
	return img, nil
}

// Read reads a two-dimensional FITS flat from the given reader
func Read(r io.Reader, logWriter io.Writer) (*image.Image, error) {
	h := newHeader()
	if err := h.read(r, logWriter); err != nil {
		return nil, err
	}

	// mandatory fields as per standard
	if !h.bools["SIMPLE"] {
		return nil, fmt.Errorf("not a valid FITS file; SIMPLE=T missing in header")
	}
	bitpix, ok := h.ints["BITPIX"]
	if !ok {
		return nil, fmt.Errorf("FITS header does not contain key BITPIX")
	}
	naxis, ok := h.ints["NAXIS"]
	if !ok {
		return nil, fmt.Errorf("FITS header does not contain key NAXIS")
	}
	if naxis != 2 {
		return nil, fmt.Errorf("NAXIS is %d; flat frames must be two-dimensional", naxis)
	}
	naxisn := make([]int32, naxis)
	for i := int32(1); i <= naxis; i++ {
		name := "NAXIS" + strconv.FormatInt(int64(i), 10)
		nai, ok := h.ints[name]
		if !ok {
			return nil, fmt.Errorf("FITS header does not contain key %s", name)
		}
		if nai <= 0 {
			return nil, fmt.Errorf("%s is %d; must be positive", name, nai)
		}
		naxisn[i-1] = nai
	}

	// optional scaling fields
	bzero, bscale := h.floatOrInt("BZERO", 0), h.floatOrInt("BSCALE", 1)

	data, err := readData(r, bitpix, int(naxisn[0])*int(naxisn[1]), bzero, bscale, logWriter)
	if err != nil {
		return nil, err
	}
	return image.NewImageFromData(naxisn[0], data), nil
}

// Returns the header value for the given key as a float, accepting integer
// values, or the given default if the key is absent
func (h *header) floatOrInt(key string, def float32) float32 {
	if val, ok := h.floats[key]; ok {
		return val
	}
	if val, ok := h.ints[key]; ok {
		return float32(val)
	}
	return def
}

// Reads pixel data of the given BITPIX type, converting from network byte
// order to float32 and applying the BZERO offset and BSCALE factor
func readData(r io.Reader, bitpix int32, pixels int, bzero, bscale float32, logWriter io.Writer) ([]float32, error) {
	bytesPerValue := int(bitpix) / 8
	if bytesPerValue < 0 {
		bytesPerValue = -bytesPerValue
	}
	switch bitpix {
	case 8, 16, -32:
		// native precision or better
	case 32, 64:
		fmt.Fprintf(logWriter, "Warning: loss of precision converting int%d to float32 values\n", bitpix)
	case -64:
		fmt.Fprintf(logWriter, "Warning: loss of precision converting float64 to float32 values\n")
	default:
		return nil, fmt.Errorf("unknown BITPIX value %d", bitpix)
	}

	buf := make([]byte, pixels*bytesPerValue)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}

	data := make([]float32, pixels)
	for i := range data {
		var v float32
		b := buf[i*bytesPerValue:]
		switch bitpix {
		case 8:
			v = float32(b[0])
		case 16:
			v = float32(int16(binary.BigEndian.Uint16(b)))
		case 32:
			v = float32(int32(binary.BigEndian.Uint32(b)))
		case 64:
			v = float32(int64(binary.BigEndian.Uint64(b)))
		case -32:
			v = math.Float32frombits(binary.BigEndian.Uint32(b))
		case -64:
			v = float32(math.Float64frombits(binary.BigEndian.Uint64(b)))
		}
		data[i] = v*bscale + bzero
	}
	return data, nil
}

func (h *header) read(r io.Reader, logWriter io.Writer) error {
	buf := make([]byte, blockSize)

	for !h.end {
		// read next header unit
		if _, err := io.ReadFull(r, buf); err != nil {
			return err
		}

		// parse all lines in this header unit
		for lineNo := 0; lineNo < blockSize/lineSize && !h.end; lineNo++ {
			line := buf[lineNo*lineSize : (lineNo+1)*lineSize]
			subValues := reParser.FindSubmatch(line)
			if subValues == nil {
				fmt.Fprintf(logWriter, "Warning: cannot parse header line '%s', ignoring\n", string(line))
			} else {
				h.readLine(reParser.SubexpNames(), subValues)
			}
		}
	}
	return nil
}

func (h *header) readLine(subNames []string, subValues [][]byte) {
	key := ""
	// ignore index 0 which is the whole line
	for i := 1; i < len(subNames); i++ {
		if subValues[i] == nil || len(subNames[i]) != 1 {
			continue
		}
		switch subNames[i][0] {
		case byte('E'): // end line
			h.end = true
		case byte('k'): // key
			key = string(subValues[i])
		case byte('b'): // boolean
			if len(subValues[i]) > 0 {
				v := subValues[i][0]
				h.bools[key] = v == byte('t') || v == byte('T')
			}
		case byte('i'): // int
			if val, err := strconv.ParseInt(string(subValues[i]), 10, 64); err == nil {
				h.ints[key] = int32(val)
			}
		case byte('f'): // float
			if val, err := strconv.ParseFloat(string(subValues[i]), 64); err == nil {
				h.floats[key] = float32(val)
			}
		case byte('s'): // string
			h.strings[key] = string(subValues[i])
		}
	}
}

// Build regexp parser for FITS header lines
func compileRE() *regexp.Regexp {
	white := "\\s+"
	whiteOpt := "\\s*"
	whiteLine := white

	histLine := "HISTORY" + white + "(?P<H>.*)"
	commLine := "COMMENT" + white + "(?P<C>.*)"
	endLine := "(?P<E>END)" + whiteOpt

	key := "(?P<k>[A-Z0-9_-]+)"
	boo := "(?P<b>[TF])"
	inte := "(?P<i>[+-]?[0-9]+)"
	floa := "(?P<f>[+-]?[0-9]*\\.[0-9]*(?:[ED][-+]?[0-9]+)?)"
	stri := "'(?P<s>[^']*)'"
	val := "(?:" + boo + "|" + inte + "|" + floa + "|" + stri + ")"
	commOpt := "(?:/(?P<c>.*))?"
	keyLine := key + whiteOpt + "=" + whiteOpt + val + whiteOpt + commOpt

	lineRe := "^(?:" + whiteLine + "|" + histLine + "|" + commLine + "|" + keyLine + "|" + endLine + ")$"
	return regexp.MustCompile(lineRe)
}
