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

package halo

import (
	"strings"

	"github.com/ajroetker/go-halo/stencil/grid"
	"github.com/ajroetker/go-halo/stencil/image"
)

// Sides is a set of tile sides that face a neighbor. A side missing from the
// set faces the image edge: its halo band holds no image data.
type Sides uint8

// NoSides is a tile with no neighbors, i.e. the whole image.
const NoSides Sides = 0

// AllSides is an interior tile.
const AllSides = Sides(1<<grid.North | 1<<grid.South | 1<<grid.West | 1<<grid.East)

// SideSet builds a Sides from directions.
func SideSet(dirs ...grid.Direction) Sides {
	var s Sides
	for _, d := range dirs {
		s |= 1 << d
	}
	return s
}

// SidesOf returns the sides of t's tile that face another tile.
func SidesOf(t grid.Topology) Sides {
	var open []grid.Direction
	for _, d := range []grid.Direction{grid.North, grid.South, grid.West, grid.East} {
		if t.HasNeighbor(d) {
			open = append(open, d)
		}
	}
	return SideSet(open...)
}

// Has reports whether side d faces a neighbor.
func (s Sides) Has(d grid.Direction) bool {
	return s&(1<<d) != 0
}

func (s Sides) String() string {
	var names []string
	for _, d := range []grid.Direction{grid.North, grid.South, grid.West, grid.East} {
		if s.Has(d) {
			names = append(names, d.String())
		}
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, "|")
}

// Field is a tile together with its halo, addressed in tile coordinates that
// extend Halo.Width() pixels past every side. Coordinates on a side that is
// not Open lie outside the image and are never read or written.
type Field struct {
	Tile *image.Gray
	Halo *Halo
	Open Sides
}

// Contains reports whether (x, y) is image data held by the field.
func (f Field) Contains(x, y int) bool {
	w := f.Halo.width
	tw, th := f.Tile.Width(), f.Tile.Height()
	if x < -w || x >= tw+w || y < -w || y >= th+w {
		return false
	}
	switch {
	case x < 0 && !f.Open.Has(grid.West):
		return false
	case x >= tw && !f.Open.Has(grid.East):
		return false
	case y < 0 && !f.Open.Has(grid.North):
		return false
	case y >= th && !f.Open.Has(grid.South):
		return false
	}
	return true
}

// At returns the pixel at (x, y), or zero where Contains is false.
func (f Field) At(x, y int) uint8 {
	if !f.Contains(x, y) {
		return 0
	}
	return f.at(x, y)
}

// Set stores v at (x, y). Writes outside the field are dropped.
func (f Field) Set(x, y int, v uint8) {
	if !f.Contains(x, y) {
		return
	}
	row, i := f.locate(x, y)
	row[i] = v
}

func (f Field) at(x, y int) uint8 {
	row, i := f.locate(x, y)
	return row[i]
}

// locate resolves (x, y), which must satisfy Contains, to the row holding
// it and the index within that row. Rows above or below the tile belong to
// the north and south bands across their full width, corners included; the
// west and east bands only cover the tile's own rows.
func (f Field) locate(x, y int) ([]uint8, int) {
	w := f.Halo.width
	tw, th := f.Tile.Width(), f.Tile.Height()
	switch {
	case y < 0:
		return f.Halo.North.Row(y + w), x + w
	case y >= th:
		return f.Halo.South.Row(y - th), x + w
	case x < 0:
		return f.Halo.West.Row(y), x + w
	case x >= tw:
		return f.Halo.East.Row(y), x - tw
	default:
		return f.Tile.Row(y), x
	}
}
