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

package stencil

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"

	"github.com/ajroetker/go-halo/stencil/comm"
	"github.com/ajroetker/go-halo/stencil/grid"
	"github.com/ajroetker/go-halo/stencil/halo"
	"github.com/ajroetker/go-halo/stencil/image"
	"github.com/ajroetker/go-halo/stencil/kernel"
)

// Run executes one rank of a distributed convolution. img is only read on
// cfg.Root; a nil or empty img there aborts every rank with ErrConfig. Run
// returns the convolved image on the root and nil on the other ranks.
func Run(ctx context.Context, c comm.Comm, img *image.Gray, cfg Config) (*image.Gray, error) {
	if err := cfg.Validate(c.Size()); err != nil {
		return nil, err
	}
	r := &runner{
		c:     c,
		cfg:   cfg,
		root:  c.Rank() == cfg.Root,
		width: cfg.HaloWidth(),
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r.log = logger.With("rank", c.Rank(), "job", cfg.Job)
	return r.run(ctx, img)
}

type runner struct {
	c     comm.Comm
	cfg   Config
	root  bool
	width int
	log   *slog.Logger
}

func (r *runner) enter(phase Phase, iteration int) {
	r.log.Debug("phase", "phase", phase, "iteration", iteration)
	if r.cfg.Observer != nil {
		r.cfg.Observer(r.c.Rank(), phase, iteration)
	}
}

func (r *runner) run(ctx context.Context, img *image.Gray) (*image.Gray, error) {
	width, height, err := r.shareSize(ctx, img)
	if err != nil {
		return nil, err
	}
	layout, err := grid.NewLayout(r.c.Size(), width, height, r.width)
	if err != nil {
		return nil, classify(ErrConfig, err)
	}
	topo, err := grid.NewTopology(r.c.Size(), r.c.Rank())
	if err != nil {
		return nil, classify(ErrConfig, err)
	}
	rect := layout.Rect(r.c.Rank())
	r.log.Debug("planned", "grid_cols", layout.Cols, "grid_rows", layout.Rows, "tile", rect, "halo", r.width,
		"kernel", r.cfg.Kernel.Name(), "threads", r.cfg.Pool.NumWorkers())

	pair, err := halo.NewPair(rect.Width(), rect.Height(), r.width)
	if err != nil {
		return nil, classify(ErrAllocation, err)
	}
	defer pair.Release()

	var linear []byte
	counts := layout.Counts()
	if r.root {
		if linear, err = Linearize(img, layout); err != nil {
			return nil, classify(ErrConfig, err)
		}
	}
	tile, _ := pair.Current()
	if err := comm.Scatterv(ctx, r.c, r.cfg.Root, linear, counts, tile.Pix()); err != nil {
		return nil, classify(ErrComm, err)
	}
	r.enter(ScatterReceived, -1)
	if r.root {
		r.log.Info("scattered", "width", width, "height", height, "workers", r.c.Size())
	}

	if err := r.iterate(ctx, topo, pair); err != nil {
		return nil, err
	}

	tile, _ = pair.Current()
	if err := comm.Gatherv(ctx, r.c, r.cfg.Root, tile.Pix(), linear, counts); err != nil {
		return nil, classify(ErrComm, err)
	}
	r.enter(GatherSent, -1)
	if !r.root {
		return nil, nil
	}
	out, err := r.assemble(linear, layout)
	if err != nil {
		return nil, err
	}
	r.log.Info("gathered", "iterations", r.cfg.Iterations)
	return out, nil
}

// assemble rebuilds the image from the gathered tiles. A buffer that does
// not match the layout means the gather delivered the wrong data.
func (r *runner) assemble(linear []byte, layout *grid.Layout) (*image.Gray, error) {
	out, err := Delinearize(linear, layout)
	if err != nil {
		return nil, classify(ErrComm, err)
	}
	return out, nil
}

// shareSize broadcasts the image size from the root. A root without an
// image sends 0x0 so that every rank fails the same way.
func (r *runner) shareSize(ctx context.Context, img *image.Gray) (int, int, error) {
	var dims [8]byte
	if r.root && !img.Empty() {
		binary.BigEndian.PutUint32(dims[0:], uint32(img.Width()))
		binary.BigEndian.PutUint32(dims[4:], uint32(img.Height()))
	}
	if err := comm.Bcast(ctx, r.c, r.cfg.Root, dims[:]); err != nil {
		return 0, 0, classify(ErrComm, err)
	}
	width := int(binary.BigEndian.Uint32(dims[0:]))
	height := int(binary.BigEndian.Uint32(dims[4:]))
	if width == 0 || height == 0 {
		return 0, 0, fmt.Errorf("%w: root rank %d has no image", ErrConfig, r.cfg.Root)
	}
	return width, height, nil
}

func (r *runner) iterate(ctx context.Context, topo grid.Topology, pair *halo.Pair) error {
	exchanger := halo.NewExchanger(topo)
	open := halo.SidesOf(topo)
	for i := range r.cfg.Iterations {
		if err := ctx.Err(); err != nil {
			return classify(ErrComm, err)
		}
		src, srcHalo := pair.Current()
		if i%r.cfg.Period == 0 {
			r.enter(Exchange, i)
			if err := exchanger.Exchange(ctx, r.c, src, srcHalo); err != nil {
				return classify(ErrComm, err)
			}
		}

		r.enter(Convolve, i)
		dst, dstHalo := pair.Next()
		err := r.convolve(
			halo.Field{Tile: dst, Halo: dstHalo, Open: open},
			halo.Field{Tile: src, Halo: srcHalo, Open: open})
		if err != nil {
			return err
		}

		r.enter(Swap, i)
		pair.Swap()
	}
	return nil
}

func (r *runner) convolve(dst, src halo.Field) error {
	if err := kernel.Apply(dst, src, r.cfg.Kernel, r.cfg.Pool); err != nil {
		return classify(ErrInternal, err)
	}
	return nil
}
