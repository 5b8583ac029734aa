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

package halo_test

import (
	"context"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ajroetker/go-halo/stencil/comm"
	"github.com/ajroetker/go-halo/stencil/grid"
	"github.com/ajroetker/go-halo/stencil/halo"
	"github.com/ajroetker/go-halo/stencil/image"
)

const sentinel = 0xEE

func globalImage(w, h int) *image.Gray {
	img := image.NewGray(w, h)
	for y := range h {
		for x := range w {
			img.Set(x, y, uint8((x*7+y*31)%251))
		}
	}
	return img
}

// exchangeAll cuts img into tiles for workers ranks, runs one exchange on
// every rank concurrently and returns each rank's field.
func exchangeAll(t *testing.T, img *image.Gray, workers, width int) ([]halo.Field, *grid.Layout) {
	t.Helper()
	layout, err := grid.NewLayout(workers, img.Width(), img.Height(), width)
	if err != nil {
		t.Fatal(err)
	}
	fields := make([]halo.Field, workers)
	for rank := range workers {
		r := layout.Rect(rank)
		pix := make([]uint8, r.Area())
		if err := img.CopyRect(r, pix); err != nil {
			t.Fatal(err)
		}
		tile, err := image.FromPix(r.Width(), r.Height(), pix)
		if err != nil {
			t.Fatal(err)
		}
		h, err := halo.New(r.Width(), r.Height(), width)
		if err != nil {
			t.Fatal(err)
		}
		h.Fill(sentinel)
		topo, _ := grid.NewTopology(workers, rank)
		fields[rank] = halo.Field{Tile: tile, Halo: h, Open: halo.SidesOf(topo)}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	members := comm.NewLocal(workers)
	g, ctx := errgroup.WithContext(ctx)
	for rank := range workers {
		g.Go(func() error {
			topo, err := grid.NewTopology(workers, rank)
			if err != nil {
				return err
			}
			x := halo.NewExchanger(topo)
			return x.Exchange(ctx, members[rank], fields[rank].Tile, fields[rank].Halo)
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("exchange: %v", err)
	}
	return fields, layout
}

func TestExchangeFillsHalo(t *testing.T) {
	for _, tc := range []struct {
		workers, width, w, h int
	}{
		{4, 1, 8, 8},
		{6, 2, 11, 13},
		{9, 2, 12, 10},
		{3, 1, 5, 9},
		{1, 2, 6, 6},
	} {
		img := globalImage(tc.w, tc.h)
		fields, layout := exchangeAll(t, img, tc.workers, tc.width)
		for rank, f := range fields {
			r := layout.Rect(rank)
			for y := -tc.width; y < r.Height()+tc.width; y++ {
				for x := -tc.width; x < r.Width()+tc.width; x++ {
					if !f.Contains(x, y) {
						continue
					}
					if got, want := f.At(x, y), img.At(r.X0+x, r.Y0+y); got != want {
						t.Errorf("%d workers rank %d (%d,%d): got %d, want %d",
							tc.workers, rank, x, y, got, want)
					}
				}
			}
		}
	}
}

func TestExchangeLeavesEdgeBands(t *testing.T) {
	fields, _ := exchangeAll(t, globalImage(9, 9), 9, 1)
	type band struct {
		rank int
		dir  grid.Direction
	}
	untouched := []band{
		{0, grid.North}, {0, grid.West},
		{2, grid.North}, {2, grid.East},
		{6, grid.South}, {6, grid.West},
		{8, grid.South}, {8, grid.East},
	}
	for _, b := range untouched {
		h := fields[b.rank].Halo
		var img *image.Gray
		switch b.dir {
		case grid.North:
			img = h.North
		case grid.South:
			img = h.South
		case grid.West:
			img = h.West
		case grid.East:
			img = h.East
		}
		for i, v := range img.Pix() {
			if v != sentinel {
				t.Errorf("rank %d %s band pixel %d: got %#x, want sentinel", b.rank, b.dir, i, v)
				break
			}
		}
	}
}

func TestExchangeZeroWidth(t *testing.T) {
	topo, _ := grid.NewTopology(4, 0)
	h, _ := halo.New(3, 3, 0)
	// No peer calls are made, so a nil peer is never touched.
	if err := halo.NewExchanger(topo).Exchange(context.Background(), nil, image.NewGray(3, 3), h); err != nil {
		t.Errorf("zero-width exchange: %v", err)
	}
}

func TestExchangeErrors(t *testing.T) {
	topo, _ := grid.NewTopology(4, 0)
	x := halo.NewExchanger(topo)
	members := comm.NewLocal(4)

	h, _ := halo.New(3, 3, 1)
	if err := x.Exchange(context.Background(), members[0], image.NewGray(4, 3), h); err == nil {
		t.Error("exchange with mismatched tile succeeded")
	}
	h.Release()
	if err := x.Exchange(context.Background(), members[0], image.NewGray(3, 3), h); err == nil {
		t.Error("exchange on released halo succeeded")
	}

	// Rank 0 sends east first; with nobody receiving the context expires.
	h, _ = halo.New(3, 3, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := x.Exchange(ctx, members[0], image.NewGray(3, 3), h); err == nil {
		t.Error("exchange without peers succeeded")
	}
}
