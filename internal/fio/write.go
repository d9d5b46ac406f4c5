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
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/lumispec/bfkernel/internal/image"
)

// WriteFile writes a flat frame as a 32-bit floating point FITS file
func WriteFile(img *image.Image, fileName string) error {
	f, err := os.OpenFile(fileName, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	return Write(img, f)
}

// Write writes a flat frame as a 32-bit floating point FITS stream
func Write(img *image.Image, w io.Writer) error {
	// build header in string buffer
	sb := strings.Builder{}
	writeHeaderBool(&sb, "SIMPLE", true, "    FITS standard 4.0")
	writeHeaderInt32(&sb, "BITPIX", -32, "    32-bit floating point")
	writeHeaderInt32(&sb, "NAXIS", 2, "[1] Number of axis")
	writeHeaderInt32(&sb, "NAXIS1", img.Width, "[1] Axis size")
	writeHeaderInt32(&sb, "NAXIS2", img.Height, "[1] Axis size")
	writeHeaderEnd(&sb)

	// pad current header block with spaces if necessary
	if rem := sb.Len() % blockSize; rem > 0 {
		sb.WriteString(strings.Repeat(" ", blockSize-rem))
	}
	if _, err := io.WriteString(w, sb.String()); err != nil {
		return err
	}

	// write payload data, replacing NaNs with zeros for compatibility
	buf := make([]byte, 4*len(img.Data))
	for i, d := range img.Data {
		if math.IsNaN(float64(d)) {
			d = 0
		}
		binary.BigEndian.PutUint32(buf[4*i:], math.Float32bits(d))
	}
	if _, err := w.Write(buf); err != nil {
		return err
	}

	// pad the data unit to a full block
	if rem := len(buf) % blockSize; rem > 0 {
		_, err := w.Write(make([]byte, blockSize-rem))
		return err
	}
	return nil
}

func writeHeaderBool(w io.Writer, key string, value bool, comment string) {
	v := "F"
	if value {
		v = "T"
	}
	fmt.Fprintf(w, "%-8s= %20s / %-47s", key, v, comment)
}

func writeHeaderInt32(w io.Writer, key string, value int32, comment string) {
	fmt.Fprintf(w, "%-8s= %20d / %-47s", key, value, comment)
}

func writeHeaderEnd(w io.Writer) {
	fmt.Fprintf(w, "END%s", strings.Repeat(" ", lineSize-3))
}
