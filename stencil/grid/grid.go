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

// Package grid decomposes an image into a 2D grid of near-balanced tiles,
// one per worker.
//
// Workers are arranged row-major: rank = row*Cols + col. Plan picks the grid
// shape, Split spreads the pixels of one axis over the grid rows or columns,
// and Layout combines both into per-rank rectangles.
package grid

import (
	"errors"
	"fmt"

	"github.com/ajroetker/go-halo/stencil/image"
)

// ErrInvalidSplit reports a worker count or image size that cannot be
// decomposed into non-empty tiles.
var ErrInvalidSplit = errors.New("grid: invalid split")

// Plan factors workers into a cols x rows grid with rows >= cols, choosing
// the pair closest to square. 12 workers give 3 columns and 4 rows; a prime
// count degenerates to a single column.
func Plan(workers int) (cols, rows int) {
	if workers <= 0 {
		return 0, 0
	}
	rows, cols = workers, 1
	for i := workers - 1; i > 0; i-- {
		if workers%i != 0 {
			continue
		}
		r, c := i, workers/i
		if r >= c && r < rows && c > cols {
			rows, cols = r, c
		}
	}
	return cols, rows
}

// Split distributes total cells over parts. An even division gives every part
// total/parts; otherwise parts are filled from the highest index down, each
// taking one extra cell until the cells left over divide evenly among the
// parts still unassigned. Split(3, 10) is [3 3 4] and Split(4, 10) is
// [2 2 3 3].
//
// Split returns nil when parts is not positive.
func Split(parts, total int) []int {
	if parts <= 0 {
		return nil
	}
	cells := make([]int, parts)
	base := total / parts
	if total%parts == 0 {
		for i := range cells {
			cells[i] = base
		}
		return cells
	}
	remaining := total
	for i := parts - 1; i >= 0; i-- {
		if remaining%(i+1) == 0 {
			cells[i] = base
		} else {
			cells[i] = base + 1
		}
		remaining -= cells[i]
	}
	return cells
}

// Offsets returns the starting position of each entry of split.
func Offsets(split []int) []int {
	offsets := make([]int, len(split))
	sum := 0
	for i, n := range split {
		offsets[i] = sum
		sum += n
	}
	return offsets
}

// Direction names one of the four grid neighbors.
type Direction int

const (
	North Direction = iota
	South
	West
	East
)

func (d Direction) String() string {
	switch d {
	case North:
		return "north"
	case South:
		return "south"
	case West:
		return "west"
	case East:
		return "east"
	default:
		return fmt.Sprintf("Direction(%d)", int(d))
	}
}

// Topology places one rank in the process grid. It is derived once from the
// worker count and never changes.
type Topology struct {
	Workers int
	Cols    int
	Rows    int
	Rank    int
	Row     int
	Col     int
}

// NewTopology plans the grid for workers and locates rank in it.
func NewTopology(workers, rank int) (Topology, error) {
	if workers <= 0 {
		return Topology{}, fmt.Errorf("%w: %d workers", ErrInvalidSplit, workers)
	}
	if rank < 0 || rank >= workers {
		return Topology{}, fmt.Errorf("%w: rank %d outside [0,%d)", ErrInvalidSplit, rank, workers)
	}
	cols, rows := Plan(workers)
	return Topology{
		Workers: workers,
		Cols:    cols,
		Rows:    rows,
		Rank:    rank,
		Row:     rank / cols,
		Col:     rank % cols,
	}, nil
}

// RankAt returns the rank at grid position (row, col).
func (t Topology) RankAt(row, col int) int {
	return row*t.Cols + col
}

// Neighbor returns the rank adjacent in direction d, and false when d points
// off the grid.
func (t Topology) Neighbor(d Direction) (int, bool) {
	switch d {
	case North:
		if t.Row > 0 {
			return t.RankAt(t.Row-1, t.Col), true
		}
	case South:
		if t.Row < t.Rows-1 {
			return t.RankAt(t.Row+1, t.Col), true
		}
	case West:
		if t.Col > 0 {
			return t.RankAt(t.Row, t.Col-1), true
		}
	case East:
		if t.Col < t.Cols-1 {
			return t.RankAt(t.Row, t.Col+1), true
		}
	}
	return -1, false
}

// HasNeighbor reports whether a neighbor exists in direction d.
func (t Topology) HasNeighbor(d Direction) bool {
	_, ok := t.Neighbor(d)
	return ok
}

// Layout assigns every rank its rectangle of a width x height image.
type Layout struct {
	Width     int
	Height    int
	Cols      int
	Rows      int
	ColSplit  []int // tile widths, one per grid column
	RowSplit  []int // tile heights, one per grid row
	colOffset []int
	rowOffset []int
}

// NewLayout validates and builds the decomposition of a width x height image
// over workers. Every tile must be at least minTile pixels (and at least one)
// along each axis so that a halo of that width can be cut from it.
func NewLayout(workers, width, height, minTile int) (*Layout, error) {
	if workers <= 0 {
		return nil, fmt.Errorf("%w: %d workers", ErrInvalidSplit, workers)
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: image %dx%d", ErrInvalidSplit, width, height)
	}
	minTile = max(minTile, 1)
	cols, rows := Plan(workers)
	l := &Layout{
		Width:    width,
		Height:   height,
		Cols:     cols,
		Rows:     rows,
		ColSplit: Split(cols, width),
		RowSplit: Split(rows, height),
	}
	if w := l.ColSplit[0]; w < minTile {
		return nil, fmt.Errorf("%w: %d columns of a %d pixel wide image leave %d pixel tiles, need %d",
			ErrInvalidSplit, cols, width, w, minTile)
	}
	if h := l.RowSplit[0]; h < minTile {
		return nil, fmt.Errorf("%w: %d rows of a %d pixel high image leave %d pixel tiles, need %d",
			ErrInvalidSplit, rows, height, h, minTile)
	}
	l.colOffset = Offsets(l.ColSplit)
	l.rowOffset = Offsets(l.RowSplit)
	return l, nil
}

// Workers returns the number of tiles.
func (l *Layout) Workers() int {
	return l.Cols * l.Rows
}

// Rect returns the image rectangle owned by rank.
func (l *Layout) Rect(rank int) image.Rect {
	row, col := rank/l.Cols, rank%l.Cols
	x0, y0 := l.colOffset[col], l.rowOffset[row]
	return image.Rect{X0: x0, Y0: y0, X1: x0 + l.ColSplit[col], Y1: y0 + l.RowSplit[row]}
}

// Counts returns the pixel count of every tile in rank order.
func (l *Layout) Counts() []int {
	counts := make([]int, l.Workers())
	for rank := range counts {
		counts[rank] = l.Rect(rank).Area()
	}
	return counts
}
