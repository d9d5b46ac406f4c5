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
	"testing"
)

// gradient returns a w x h image with pixel value y*w+x
func gradient(w, h int32) *Image {
	img := NewImage(w, h)
	for i := range img.Data {
		img.Data[i] = float32(i)
	}
	return img
}

func TestSubCopies(t *testing.T) {
	img := gradient(8, 6)
	sub := img.Sub(Rect{X0: 2, Y0: 1, X1: 6, Y1: 4})
	if sub.Width != 4 || sub.Height != 3 {
		t.Fatalf("sub dims %dx%d; want 4x3", sub.Width, sub.Height)
	}
	for y := int32(0); y < sub.Height; y++ {
		for x := int32(0); x < sub.Width; x++ {
			want := float32((y+1)*8 + (x + 2))
			if got := sub.Data[y*sub.Width+x]; got != want {
				t.Errorf("sub[%d,%d]=%v; want %v", x, y, got, want)
			}
		}
	}

	// mutating the crop must not touch the source
	sub.Data[0] = -1
	if img.Data[1*8+2] != float32(1*8+2) {
		t.Errorf("source image modified by crop mutation")
	}
}

func TestCloneIndependent(t *testing.T) {
	img := gradient(4, 4)
	clone := img.Clone()
	clone.Data[5] = 99
	if img.Data[5] == 99 {
		t.Errorf("source image modified by clone mutation")
	}
}

func TestRectInset(t *testing.T) {
	r := Rect{X0: 0, Y0: 0, X1: 10, Y1: 8}
	in := r.Inset(2)
	if in.X0 != 2 || in.Y0 != 2 || in.X1 != 8 || in.Y1 != 6 {
		t.Errorf("inset=%v; want {2 2 8 6}", in)
	}
	if in.Width() != 6 || in.Height() != 4 {
		t.Errorf("inset dims %dx%d; want 6x4", in.Width(), in.Height())
	}
	if !r.Inset(5).Empty() {
		t.Errorf("inset past the middle must be empty")
	}
	if r.Inset(0) != r {
		t.Errorf("zero inset must be identity")
	}
}

func TestGather(t *testing.T) {
	img := gradient(5, 5)
	values := img.Gather(Rect{X0: 1, Y0: 1, X1: 3, Y1: 3})
	want := []float32{6, 7, 11, 12}
	if len(values) != len(want) {
		t.Fatalf("gathered %d values; want %d", len(values), len(want))
	}
	for i := range want {
		if values[i] != want[i] {
			t.Errorf("values[%d]=%v; want %v", i, values[i], want[i])
		}
	}
}

func TestSingleRegion(t *testing.T) {
	rs := SingleRegion("CCD", 100, 50)
	if len(rs) != 1 {
		t.Fatalf("region count %d; want 1", len(rs))
	}
	b := rs[0].Bounds
	if b.Width() != 100 || b.Height() != 50 {
		t.Errorf("bounds %v; want 100x50 at origin", b)
	}
	names := rs.Names()
	if len(names) != 1 || names[0] != "CCD" {
		t.Errorf("names=%v; want [CCD]", names)
	}
}
