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

package xcorr

import (
	"fmt"

	"github.com/lumispec/bfkernel/internal/image"
	"github.com/lumispec/bfkernel/internal/stats"
	"gonum.org/v1/gonum/interp"
)

// A smooth background model for a difference image, built from a grid of
// sigma-clipped cell means and upsampled with natural cubic splines. Flat
// pairs should difference to a constant, but slow illumination gradients
// survive differencing and would leak into the correlation measurement.
type Background struct {
	Width    int32     // source image width
	Height   int32     // source image height
	BinSize  int32     // requested cell size in pixels
	CellsX   int32     // number of grid cells, X direction
	CellsY   int32     // number of grid cells, Y direction
	Cells    []float64 // clipped mean per cell, row-major
	CentersX []float64 // cell center coordinates, X direction
	CentersY []float64 // cell center coordinates, Y direction
}

func (b *Background) String() string {
	return fmt.Sprintf("background grid %dx%d cells of ~%d pixels", b.CellsX, b.CellsY, b.BinSize)
}

// Builds a background model for the given image. Cell count per axis is
// width/binSize as for the correlation borders; images smaller than two bins
// per axis degrade to a single constant cell along that axis.
func NewBackground(img *image.Image, binSize int32, clipSigma float32) (*Background, error) {
	cellsX := img.Width / binSize
	if cellsX < 1 {
		cellsX = 1
	}
	cellsY := img.Height / binSize
	if cellsY < 1 {
		cellsY = 1
	}

	b := &Background{
		Width:    img.Width,
		Height:   img.Height,
		BinSize:  binSize,
		CellsX:   cellsX,
		CellsY:   cellsY,
		Cells:    make([]float64, cellsX*cellsY),
		CentersX: make([]float64, cellsX),
		CentersY: make([]float64, cellsY),
	}

	for cy := int32(0); cy < cellsY; cy++ {
		yStart := cy * img.Height / cellsY
		yEnd := (cy + 1) * img.Height / cellsY
		b.CentersY[cy] = 0.5 * float64(yStart+yEnd-1)

		for cx := int32(0); cx < cellsX; cx++ {
			xStart := cx * img.Width / cellsX
			xEnd := (cx + 1) * img.Width / cellsX
			if cy == 0 {
				b.CentersX[cx] = 0.5 * float64(xStart+xEnd-1)
			}

			cell := img.Gather(image.Rect{X0: xStart, Y0: yStart, X1: xEnd, Y1: yEnd})
			mean, err := stats.ClippedMean(cell, clipSigma)
			if err != nil {
				return nil, fmt.Errorf("background cell (%d,%d): %w", cx, cy, err)
			}
			b.Cells[cy*cellsX+cx] = mean
		}
	}
	return b, nil
}

// Renders the full-resolution background by separable spline interpolation:
// first along rows of cells, then along columns of the row results
func (b *Background) Render() ([]float64, error) {
	// interpolate each cell row across the full image width
	rows := make([][]float64, b.CellsY)
	for cy := int32(0); cy < b.CellsY; cy++ {
		cells := b.Cells[cy*b.CellsX : (cy+1)*b.CellsX]
		row, err := interpolateLine(b.CentersX, cells, b.Width)
		if err != nil {
			return nil, err
		}
		rows[cy] = row
	}

	// then interpolate each pixel column across the full image height
	dest := make([]float64, int(b.Width)*int(b.Height))
	column := make([]float64, b.CellsY)
	for x := int32(0); x < b.Width; x++ {
		for cy := int32(0); cy < b.CellsY; cy++ {
			column[cy] = rows[cy][x]
		}
		col, err := interpolateLine(b.CentersY, column, b.Height)
		if err != nil {
			return nil, err
		}
		for y := int32(0); y < b.Height; y++ {
			dest[y*b.Width+x] = col[y]
		}
	}
	return dest, nil
}

// Subtracts the rendered background from the image in place
func (b *Background) Subtract(img *image.Image) error {
	if img.Width != b.Width || img.Height != b.Height {
		return fmt.Errorf("background %dx%d does not match image %dx%d",
			b.Width, b.Height, img.Width, img.Height)
	}
	bg, err := b.Render()
	if err != nil {
		return err
	}
	for i := range img.Data {
		img.Data[i] -= float32(bg[i])
	}
	return nil
}

// Evaluates a natural cubic spline through (xs, ys) at every integer
// coordinate in [0, length). A single knot degrades to a constant.
// The spline order is fixed; it is part of the background model, not a
// tuning parameter.
func interpolateLine(xs, ys []float64, length int32) ([]float64, error) {
	out := make([]float64, length)
	if len(xs) == 1 {
		for i := range out {
			out[i] = ys[0]
		}
		return out, nil
	}
	var nc interp.NaturalCubic
	if err := nc.Fit(xs, ys); err != nil {
		return nil, fmt.Errorf("background spline fit: %w", err)
	}
	for i := int32(0); i < length; i++ {
		out[i] = nc.Predict(float64(i))
	}
	return out, nil
}
