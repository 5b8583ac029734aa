// Copyright 2025 go-highway Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package kernel

import (
	"fmt"

	"github.com/ajroetker/go-halo/stencil/grid"
	"github.com/ajroetker/go-halo/stencil/halo"
	"github.com/ajroetker/go-halo/stencil/image"
	"github.com/ajroetker/go-halo/stencil/workerpool"
)

// Apply convolves src with k and writes the result into dst.
//
// Every coordinate of the extended field is computed: the tile and, on each
// Open side, the halo band. Results land at the same location in dst, so
// dst's halo already holds the border data the next iteration needs. Samples
// outside src's field contribute nothing. Coordinates near the outer edge of
// an open band read past the data src holds; their results are only valid
// for the first Halo.Width()/Radius() steps after an exchange.
//
// src and dst must describe tiles and halos of the same geometry with the
// same open sides. pool may be nil.
func Apply(dst, src halo.Field, k Kernel, pool *workerpool.Pool) error {
	if k.IsZero() {
		return fmt.Errorf("%w: zero kernel", ErrInvalid)
	}
	if src.Halo == nil || dst.Halo == nil || src.Halo.Released() || dst.Halo.Released() {
		return fmt.Errorf("%w: released field", ErrGeometry)
	}
	for _, f := range []halo.Field{src, dst} {
		if f.Halo.TileWidth() != f.Tile.Width() || f.Halo.TileHeight() != f.Tile.Height() {
			return fmt.Errorf("%w: %dx%d halo around %dx%d tile", ErrGeometry,
				f.Halo.TileWidth(), f.Halo.TileHeight(), f.Tile.Width(), f.Tile.Height())
		}
	}
	if !image.SameSize(src.Tile, dst.Tile) || src.Halo.Width() != dst.Halo.Width() || src.Open != dst.Open {
		return fmt.Errorf("%w: source %dx%d+%d[%v] and destination %dx%d+%d[%v] differ", ErrGeometry,
			src.Tile.Width(), src.Tile.Height(), src.Halo.Width(), src.Open,
			dst.Tile.Width(), dst.Tile.Height(), dst.Halo.Width(), dst.Open)
	}

	w := src.Halo.Width()
	tw, th := src.Tile.Width(), src.Tile.Height()
	x0, x1 := extent(src.Open, grid.West, grid.East, w, tw)
	y0, y1 := extent(src.Open, grid.North, grid.South, w, th)

	pool.Range(y0, y1, func(lo, hi int) {
		for y := lo; y < hi; y++ {
			convolveRow(dst, src, k, y, x0, x1)
		}
	})
	return nil
}

// extent returns the range of one axis covered by the field.
func extent(open halo.Sides, before, after grid.Direction, width, size int) (int, int) {
	lo, hi := 0, size
	if open.Has(before) {
		lo = -width
	}
	if open.Has(after) {
		hi = size + width
	}
	return lo, hi
}

func convolveRow(dst, src halo.Field, k Kernel, y, x0, x1 int) {
	r := k.Radius()
	tw, th := src.Tile.Width(), src.Tile.Height()
	rowInside := y-r >= 0 && y+r < th

	for x := x0; x < x1; x++ {
		var sum int
		if rowInside && x-r >= 0 && x+r < tw {
			sum = tileSum(src.Tile, k, x, y)
		} else {
			sum = fieldSum(src, k, x, y)
		}
		dst.Set(x, y, pixel(sum, k.factor))
	}
}

// tileSum is the weighted sum for a neighborhood that lies inside the tile.
func tileSum(tile *image.Gray, k Kernel, x, y int) int {
	r := k.Radius()
	sum := 0
	for ky := range k.dim {
		row := tile.Row(y + ky - r)[x-r : x+r+1]
		coeffs := k.flipped[ky*k.dim : (ky+1)*k.dim]
		for kx, c := range coeffs {
			sum += int(row[kx]) * c
		}
	}
	return sum
}

func fieldSum(f halo.Field, k Kernel, x, y int) int {
	r := k.Radius()
	sum := 0
	for ky := range k.dim {
		for kx := range k.dim {
			sum += int(f.At(x+kx-r, y+ky-r)) * k.flipped[ky*k.dim+kx]
		}
	}
	return sum
}

// Reference convolves img with k iterations times in a single process,
// treating pixels outside the image as zero. img is not modified.
func Reference(img *image.Gray, k Kernel, iterations int) *image.Gray {
	cur := img.Clone()
	if iterations <= 0 || cur.Empty() {
		return cur
	}
	next := image.NewGray(cur.Width(), cur.Height())
	r := k.Radius()
	for range iterations {
		for y := range cur.Height() {
			for x := range cur.Width() {
				sum := 0
				for ky := range k.dim {
					for kx := range k.dim {
						sum += int(cur.At(x+kx-r, y+ky-r)) * k.flipped[ky*k.dim+kx]
					}
				}
				next.Set(x, y, pixel(sum, k.factor))
			}
		}
		cur, next = next, cur
	}
	return cur
}
