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

package image

import (
	"fmt"
)

// A calibrated detector image: a flat array of pixel values in row-major
// order. The pipeline never keeps a reference to a caller's image beyond a
// single call; anything modified in place is a private clone.
type Image struct {
	Width  int32     // pixels per row
	Height int32     // number of rows
	Data   []float32 // row-major pixel values, len = Width*Height
}

// Creates a zero-filled image of the given dimensions
func NewImage(width, height int32) *Image {
	return &Image{
		Width:  width,
		Height: height,
		Data:   make([]float32, int(width)*int(height)),
	}
}

// Creates an image wrapping the given data. Data is not copied.
// The length of the data must be a multiple of the width.
func NewImageFromData(width int32, data []float32) *Image {
	return &Image{
		Width:  width,
		Height: int32(len(data)) / width,
		Data:   data,
	}
}

// Returns a deep copy of the image
func (img *Image) Clone() *Image {
	data := make([]float32, len(img.Data))
	copy(data, img.Data)
	return &Image{
		Width:  img.Width,
		Height: img.Height,
		Data:   data,
	}
}

// Returns the full-image bounds as a rectangle
func (img *Image) Bounds() Rect {
	return Rect{X0: 0, Y0: 0, X1: img.Width, Y1: img.Height}
}

// Returns a new image holding a copy of the pixels inside the given rectangle
func (img *Image) Sub(r Rect) *Image {
	w, h := r.Width(), r.Height()
	data := make([]float32, int(w)*int(h))
	for y := int32(0); y < h; y++ {
		srcRow := img.Data[(r.Y0+y)*img.Width+r.X0 : (r.Y0+y)*img.Width+r.X1]
		copy(data[y*w:(y+1)*w], srcRow)
	}
	return &Image{Width: w, Height: h, Data: data}
}

// Gathers the pixels inside the given rectangle into a fresh slice
func (img *Image) Gather(r Rect) []float32 {
	w, h := r.Width(), r.Height()
	out := make([]float32, 0, int(w)*int(h))
	for y := r.Y0; y < r.Y0+h; y++ {
		out = append(out, img.Data[y*img.Width+r.X0:y*img.Width+r.X1]...)
	}
	return out
}

func (img *Image) String() string {
	return fmt.Sprintf("%dx%d image", img.Width, img.Height)
}

// A half-open rectangle [X0,X1) x [Y0,Y1) in pixel coordinates
type Rect struct {
	X0, Y0, X1, Y1 int32
}

func (r Rect) Width() int32  { return r.X1 - r.X0 }
func (r Rect) Height() int32 { return r.Y1 - r.Y0 }

// Returns the rectangle shrunk by the given border on all four sides
func (r Rect) Inset(border int32) Rect {
	return Rect{X0: r.X0 + border, Y0: r.Y0 + border, X1: r.X1 - border, Y1: r.Y1 - border}
}

// Reports whether the rectangle has positive area
func (r Rect) Empty() bool {
	return r.X1 <= r.X0 || r.Y1 <= r.Y0
}

func (r Rect) String() string {
	return fmt.Sprintf("[%d:%d,%d:%d]", r.X0, r.X1, r.Y0, r.Y1)
}

// A named rectangular readout region of a detector, e.g. one amplifier
// segment, or the whole sensor when kernels are generated per CCD
type Region struct {
	Name   string
	Bounds Rect
}

// An ordered list of non-overlapping regions covering the parts of the sensor
// to be processed. Amp-level runs carry one region per amplifier; CCD-level
// runs collapse to a single region so downstream code never branches on level.
type RegionSet []Region

// Returns a region set with a single region spanning the whole sensor
func SingleRegion(name string, width, height int32) RegionSet {
	return RegionSet{{Name: name, Bounds: Rect{X0: 0, Y0: 0, X1: width, Y1: height}}}
}

// Returns the region names in set order
func (rs RegionSet) Names() []string {
	names := make([]string, len(rs))
	for i, r := range rs {
		names[i] = r.Name
	}
	return names
}
