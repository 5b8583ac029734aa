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

// Package halo manages the border pixels a tile borrows from its grid
// neighbors and the exchange that keeps them fresh.
//
// A Halo holds four bands around a tileWidth x tileHeight tile, each Width
// pixels deep:
//
//	+--------------------------+
//	|  north: (W+2h) x h       |
//	+-----+------------+-------+
//	|west |   tile     | east  |
//	|h x H|   W x H    | h x H |
//	+-----+------------+-------+
//	|  south: (W+2h) x h       |
//	+--------------------------+
//
// The north and south bands span the corners, so a diagonal neighbor's
// pixels arrive through them without a separate diagonal message.
package halo

import (
	"errors"
	"fmt"

	"github.com/ajroetker/go-halo/stencil/image"
)

// ErrAllocation reports a halo that cannot be sized for its tile.
var ErrAllocation = errors.New("halo: allocation failed")

// Width returns the halo depth needed by a kernel of dimension kernelDim
// when neighbors exchange data every period iterations.
func Width(kernelDim, period int) int {
	return (kernelDim - 1) / 2 * period
}

// Halo holds the four borrowed border bands of one tile.
type Halo struct {
	North *image.Gray // (tileWidth + 2*Width) x Width
	South *image.Gray // (tileWidth + 2*Width) x Width
	West  *image.Gray // Width x tileHeight
	East  *image.Gray // Width x tileHeight

	tileWidth  int
	tileHeight int
	width      int
}

// New allocates a zeroed halo of depth width around a tileWidth x tileHeight
// tile. The four bands share one buffer.
func New(tileWidth, tileHeight, width int) (*Halo, error) {
	if tileWidth <= 0 || tileHeight <= 0 || width < 0 {
		return nil, fmt.Errorf("%w: %dx%d tile with %d pixel halo", ErrAllocation, tileWidth, tileHeight, width)
	}
	rowBand := (tileWidth + 2*width) * width
	colBand := width * tileHeight
	buf := make([]uint8, 2*rowBand+2*colBand)

	var bands [4]*image.Gray
	shapes := [4][2]int{
		{tileWidth + 2*width, width},
		{tileWidth + 2*width, width},
		{width, tileHeight},
		{width, tileHeight},
	}
	off := 0
	for i, sh := range shapes {
		n := sh[0] * sh[1]
		band, err := image.FromPix(sh[0], sh[1], buf[off:off+n:off+n])
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrAllocation, err)
		}
		bands[i] = band
		off += n
	}
	return &Halo{
		North:      bands[0],
		South:      bands[1],
		West:       bands[2],
		East:       bands[3],
		tileWidth:  tileWidth,
		tileHeight: tileHeight,
		width:      width,
	}, nil
}

// Width returns the halo depth in pixels.
func (h *Halo) Width() int {
	return h.width
}

// TileWidth returns the width of the tile the halo surrounds.
func (h *Halo) TileWidth() int {
	return h.tileWidth
}

// TileHeight returns the height of the tile the halo surrounds.
func (h *Halo) TileHeight() int {
	return h.tileHeight
}

// Released reports whether Release has been called.
func (h *Halo) Released() bool {
	return h.North == nil
}

// Fill sets every halo pixel to value.
func (h *Halo) Fill(value uint8) {
	for _, band := range []*image.Gray{h.North, h.South, h.West, h.East} {
		band.Fill(value)
	}
}

// Release drops all four bands. Calling Release more than once is a no-op.
func (h *Halo) Release() {
	if h == nil || h.Released() {
		return
	}
	h.North.Release()
	h.South.Release()
	h.West.Release()
	h.East.Release()
	h.North, h.South, h.West, h.East = nil, nil, nil, nil
}

// WestEdge copies the leftmost width columns of tile row by row. The result
// is the east halo of the western neighbor.
func WestEdge(tile *image.Gray, width int, dst []byte) []byte {
	dst = resize(dst, width*tile.Height())
	for y := range tile.Height() {
		copy(dst[y*width:(y+1)*width], tile.Row(y)[:width])
	}
	return dst
}

// EastEdge copies the rightmost width columns of tile row by row. The result
// is the west halo of the eastern neighbor.
func EastEdge(tile *image.Gray, width int, dst []byte) []byte {
	dst = resize(dst, width*tile.Height())
	x0 := tile.Width() - width
	for y := range tile.Height() {
		copy(dst[y*width:(y+1)*width], tile.Row(y)[x0:])
	}
	return dst
}

// NorthEdge copies the top width rows of tile, each extended on the left and
// right by the matching rows of the west and east halo bands. The west and
// east bands must already hold this cycle's data. The result is the south
// halo of the northern neighbor, corners included.
func NorthEdge(tile *image.Gray, width int, west, east *image.Gray, dst []byte) []byte {
	return extendedRows(tile, 0, width, west, east, dst)
}

// SouthEdge is NorthEdge for the bottom width rows. The result is the north
// halo of the southern neighbor.
func SouthEdge(tile *image.Gray, width int, west, east *image.Gray, dst []byte) []byte {
	return extendedRows(tile, tile.Height()-width, width, west, east, dst)
}

func extendedRows(tile *image.Gray, y0, width int, west, east *image.Gray, dst []byte) []byte {
	stride := tile.Width() + 2*width
	dst = resize(dst, stride*width)
	for i := range width {
		y := y0 + i
		row := dst[i*stride : (i+1)*stride]
		copy(row[:width], west.Row(y))
		copy(row[width:width+tile.Width()], tile.Row(y))
		copy(row[width+tile.Width():], east.Row(y))
	}
	return dst
}

func resize(buf []byte, n int) []byte {
	if cap(buf) < n {
		return make([]byte, n)
	}
	return buf[:n]
}

// Pair is the double buffer of a tile and its halo. Swap flips which slot
// is current; nothing is copied.
type Pair struct {
	tiles [2]*image.Gray
	halos [2]*Halo
	cur   int
}

// NewPair allocates both slots for a tileWidth x tileHeight tile with a halo
// of depth width.
func NewPair(tileWidth, tileHeight, width int) (*Pair, error) {
	p := &Pair{}
	for i := range 2 {
		h, err := New(tileWidth, tileHeight, width)
		if err != nil {
			return nil, err
		}
		p.tiles[i] = image.NewGray(tileWidth, tileHeight)
		p.halos[i] = h
	}
	return p, nil
}

// Current returns the field computed by the last iteration.
func (p *Pair) Current() (*image.Gray, *Halo) {
	return p.tiles[p.cur], p.halos[p.cur]
}

// Next returns the field the next iteration writes into.
func (p *Pair) Next() (*image.Gray, *Halo) {
	return p.tiles[1-p.cur], p.halos[1-p.cur]
}

// Swap makes Next the current field.
func (p *Pair) Swap() {
	p.cur = 1 - p.cur
}

// Release frees both slots.
func (p *Pair) Release() {
	for i := range 2 {
		p.tiles[i].Release()
		p.halos[i].Release()
	}
}
