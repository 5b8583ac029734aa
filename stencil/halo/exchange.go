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
	"context"
	"fmt"

	"github.com/ajroetker/go-halo/stencil/grid"
	"github.com/ajroetker/go-halo/stencil/image"
)

// Peer is the blocking point-to-point messaging an exchange needs. Send
// must not retain data after it returns.
type Peer interface {
	Send(ctx context.Context, dst, tag int, data []byte) error
	Recv(ctx context.Context, src, tag int, buf []byte) error
}

// Message tags, named by the direction the payload travels.
const (
	TagWestward = 100 + iota
	TagEastward
	TagNorthward
	TagSouthward
)

// Exchanger fills a tile's halo with its neighbors' edges.
//
// For any pair of neighbors one side receives first while the other sends
// first, so the exchange cannot deadlock under synchronous messaging. West
// and east run before north and south: the north and south edges carry
// corner pixels read from the west and east bands received in the same
// cycle.
type Exchanger struct {
	Topology grid.Topology
	scratch  []byte
}

// NewExchanger returns an Exchanger for the rank placed by t.
func NewExchanger(t grid.Topology) *Exchanger {
	return &Exchanger{Topology: t}
}

// Exchange sends tile's edges to every neighbor and receives theirs into h.
// Bands facing the image edge are left untouched.
func (x *Exchanger) Exchange(ctx context.Context, p Peer, tile *image.Gray, h *Halo) error {
	if h.Released() {
		return fmt.Errorf("halo: exchange on released halo")
	}
	if tile.Width() != h.tileWidth || tile.Height() != h.tileHeight {
		return fmt.Errorf("halo: %dx%d halo cannot surround %dx%d tile",
			h.tileWidth, h.tileHeight, tile.Width(), tile.Height())
	}
	w := h.width
	if w == 0 {
		return nil
	}
	t := x.Topology

	if west, ok := t.Neighbor(grid.West); ok {
		if err := p.Recv(ctx, west, TagEastward, h.West.Pix()); err != nil {
			return exchangeErr(grid.West, west, err)
		}
		x.scratch = WestEdge(tile, w, x.scratch)
		if err := p.Send(ctx, west, TagWestward, x.scratch); err != nil {
			return exchangeErr(grid.West, west, err)
		}
	}
	if east, ok := t.Neighbor(grid.East); ok {
		x.scratch = EastEdge(tile, w, x.scratch)
		if err := p.Send(ctx, east, TagEastward, x.scratch); err != nil {
			return exchangeErr(grid.East, east, err)
		}
		if err := p.Recv(ctx, east, TagWestward, h.East.Pix()); err != nil {
			return exchangeErr(grid.East, east, err)
		}
	}
	if north, ok := t.Neighbor(grid.North); ok {
		if err := p.Recv(ctx, north, TagSouthward, h.North.Pix()); err != nil {
			return exchangeErr(grid.North, north, err)
		}
		x.scratch = NorthEdge(tile, w, h.West, h.East, x.scratch)
		if err := p.Send(ctx, north, TagNorthward, x.scratch); err != nil {
			return exchangeErr(grid.North, north, err)
		}
	}
	if south, ok := t.Neighbor(grid.South); ok {
		x.scratch = SouthEdge(tile, w, h.West, h.East, x.scratch)
		if err := p.Send(ctx, south, TagSouthward, x.scratch); err != nil {
			return exchangeErr(grid.South, south, err)
		}
		if err := p.Recv(ctx, south, TagNorthward, h.South.Pix()); err != nil {
			return exchangeErr(grid.South, south, err)
		}
	}
	return nil
}

func exchangeErr(d grid.Direction, rank int, err error) error {
	return fmt.Errorf("halo: %s exchange with rank %d: %w", d, rank, err)
}
