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

package stencil_test

import (
	"context"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/ajroetker/go-halo/stencil"
	"github.com/ajroetker/go-halo/stencil/comm"
	"github.com/ajroetker/go-halo/stencil/comm/grpcnet"
	"github.com/ajroetker/go-halo/stencil/grid"
	"github.com/ajroetker/go-halo/stencil/image"
	"github.com/ajroetker/go-halo/stencil/kernel"
	"github.com/ajroetker/go-halo/stencil/workerpool"
)

func testImage(w, h int) *image.Gray {
	img := image.NewGray(w, h)
	for y := range h {
		for x := range w {
			img.Set(x, y, uint8((x*x*3+y*17+x*y*5+11)%256))
		}
	}
	return img
}

func mustKernel(t *testing.T, name string) kernel.Kernel {
	t.Helper()
	k, err := kernel.Lookup(name)
	require.NoError(t, err)
	return k
}

// runGroup runs every rank of a group on its own goroutine and returns the
// root's result.
func runGroup(ctx context.Context, members []comm.Comm, img *image.Gray, cfg stencil.Config) (*image.Gray, error) {
	var out *image.Gray
	g, ctx := errgroup.WithContext(ctx)
	for _, m := range members {
		g.Go(func() error {
			var in *image.Gray
			if m.Rank() == cfg.Root {
				in = img
			}
			res, err := stencil.Run(ctx, m, in, cfg)
			if err != nil {
				return fmt.Errorf("rank %d: %w", m.Rank(), err)
			}
			if m.Rank() == cfg.Root {
				out = res
			} else if res != nil {
				return fmt.Errorf("rank %d returned an image", m.Rank())
			}
			return nil
		})
	}
	err := g.Wait()
	return out, err
}

func runLocal(t *testing.T, workers int, img *image.Gray, cfg stencil.Config) (*image.Gray, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	var members []comm.Comm
	for _, l := range comm.NewLocal(workers) {
		members = append(members, l)
	}
	return runGroup(ctx, members, img, cfg)
}

func TestPhaseString(t *testing.T) {
	assert.Equal(t, "scatter-received", stencil.ScatterReceived.String())
	assert.Equal(t, "exchange", stencil.Exchange.String())
	assert.Equal(t, "gather-sent", stencil.GatherSent.String())
	assert.Equal(t, "Phase(9)", stencil.Phase(9).String())
}

func TestConfigValidate(t *testing.T) {
	k := mustKernel(t, "laplacian1")
	tests := []struct {
		name string
		cfg  stencil.Config
		ok   bool
	}{
		{"valid", stencil.Config{Kernel: k, Iterations: 3, Period: 1}, true},
		{"zero iterations", stencil.Config{Kernel: k, Period: 2}, true},
		{"zero period", stencil.Config{Kernel: k, Iterations: 1}, false},
		{"negative iterations", stencil.Config{Kernel: k, Iterations: -1, Period: 1}, false},
		{"no kernel", stencil.Config{Iterations: 1, Period: 1}, false},
		{"root outside group", stencil.Config{Kernel: k, Iterations: 1, Period: 1, Root: 4}, false},
		{"negative root", stencil.Config{Kernel: k, Iterations: 1, Period: 1, Root: -1}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate(4)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, stencil.ErrConfig)
			}
		})
	}
	cfg := stencil.Config{Kernel: mustKernel(t, "gaussian"), Period: 3}
	assert.Equal(t, 6, cfg.HaloWidth())
}

func TestLinearize(t *testing.T) {
	img := testImage(11, 13)
	layout, err := grid.NewLayout(6, 11, 13, 1)
	require.NoError(t, err)

	buf, err := stencil.Linearize(img, layout)
	require.NoError(t, err)
	require.Len(t, buf, 11*13)

	// The first block is rank 0's tile, row by row.
	r := layout.Rect(0)
	for y := r.Y0; y < r.Y1; y++ {
		for x := r.X0; x < r.X1; x++ {
			assert.Equal(t, img.At(x, y), buf[(y-r.Y0)*r.Width()+(x-r.X0)])
		}
	}

	back, err := stencil.Delinearize(buf, layout)
	require.NoError(t, err)
	assert.True(t, image.Equal(img, back))

	_, err = stencil.Linearize(testImage(10, 13), layout)
	assert.Error(t, err)
	_, err = stencil.Delinearize(buf[1:], layout)
	assert.Error(t, err)
}

// TestLaplacianTwoByTwo is the 8x8 image on a 2x2 grid with one Laplacian
// step.
func TestLaplacianTwoByTwo(t *testing.T) {
	img := testImage(8, 8)
	k := mustKernel(t, "laplacian1")
	cfg := stencil.Config{Kernel: k, Iterations: 1, Period: 1}

	out, err := runLocal(t, 4, img, cfg)
	require.NoError(t, err)
	want := kernel.Reference(img, k, 1)
	assert.True(t, image.Equal(want, out), "got %v\nwant %v", out.Pix(), want.Pix())
}

func TestMatchesSingleProcess(t *testing.T) {
	const w, h = 23, 29
	img := testImage(w, h)
	pool := workerpool.New(2)
	defer pool.Close()

	for _, name := range kernel.Names() {
		k := mustKernel(t, name)
		for _, iterations := range []int{1, 4} {
			want := kernel.Reference(img, k, iterations)
			for period := 1; period <= 3; period++ {
				for workers := 1; workers <= 9; workers++ {
					cfg := stencil.Config{Kernel: k, Iterations: iterations, Period: period, Pool: pool}
					if _, err := grid.NewLayout(workers, w, h, cfg.HaloWidth()); err != nil {
						continue
					}
					out, err := runLocal(t, workers, img, cfg)
					require.NoError(t, err, "%s, %d workers, period %d", name, workers, period)
					if !image.Equal(want, out) {
						t.Errorf("%s: %d iterations, period %d, %d workers: output differs from single process",
							name, iterations, period, workers)
					}
				}
			}
		}
	}
}

func TestIdentityIsIdempotent(t *testing.T) {
	img := testImage(12, 9)
	cfg := stencil.Config{Kernel: mustKernel(t, "identity"), Iterations: 7, Period: 2}
	for _, workers := range []int{1, 2, 4, 6} {
		out, err := runLocal(t, workers, img, cfg)
		require.NoError(t, err)
		assert.True(t, image.Equal(img, out), "%d workers", workers)
	}
}

func TestZeroIterations(t *testing.T) {
	img := testImage(9, 9)
	out, err := runLocal(t, 3, img, stencil.Config{Kernel: mustKernel(t, "gaussian"), Period: 1, Root: 2})
	require.NoError(t, err)
	assert.True(t, image.Equal(img, out))
}

func TestObserverPhases(t *testing.T) {
	var mu sync.Mutex
	seen := make(map[int][]string)
	cfg := stencil.Config{
		Kernel:     mustKernel(t, "laplacian2"),
		Iterations: 3,
		Period:     2,
		Observer: func(rank int, phase stencil.Phase, iteration int) {
			mu.Lock()
			defer mu.Unlock()
			seen[rank] = append(seen[rank], fmt.Sprintf("%v@%d", phase, iteration))
		},
	}
	_, err := runLocal(t, 4, testImage(10, 10), cfg)
	require.NoError(t, err)

	want := []string{
		"scatter-received@-1",
		"exchange@0", "convolve@0", "swap@0",
		"convolve@1", "swap@1",
		"exchange@2", "convolve@2", "swap@2",
		"gather-sent@-1",
	}
	for rank := range 4 {
		assert.Equal(t, want, seen[rank], "rank %d", rank)
	}
}

func TestRootWithoutImage(t *testing.T) {
	_, err := runLocal(t, 4, nil, stencil.Config{Kernel: mustKernel(t, "identity"), Iterations: 1, Period: 1})
	assert.ErrorIs(t, err, stencil.ErrConfig)
}

func TestTilesTooSmall(t *testing.T) {
	cfg := stencil.Config{Kernel: mustKernel(t, "gaussian"), Iterations: 1, Period: 2}
	_, err := runLocal(t, 9, testImage(8, 8), cfg)
	assert.ErrorIs(t, err, stencil.ErrConfig)
	assert.ErrorIs(t, err, grid.ErrInvalidSplit)
}

func TestMissingPeer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	members := comm.NewLocal(2)
	cfg := stencil.Config{Kernel: mustKernel(t, "identity"), Iterations: 1, Period: 1}
	_, err := stencil.Run(ctx, members[0], testImage(4, 4), cfg)
	assert.ErrorIs(t, err, stencil.ErrComm)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// grpcGroup starts one gRPC node per rank on loopback.
func grpcGroup(t *testing.T, workers int, job uuid.UUID) ([]*grpcnet.Node, []comm.Comm, func() error) {
	t.Helper()
	lis := make([]net.Listener, workers)
	addrs := make([]string, workers)
	for i := range workers {
		l, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		lis[i], addrs[i] = l, l.Addr().String()
	}
	nodes := make([]*grpcnet.Node, workers)
	members := make([]comm.Comm, workers)
	for rank := range workers {
		n, err := grpcnet.New(grpcnet.Config{Rank: rank, Peers: addrs, Job: job, Listener: lis[rank], CloseTimeout: 2 * time.Second})
		require.NoError(t, err)
		nodes[rank], members[rank] = n, n
	}
	closeAll := func() error {
		var g errgroup.Group
		for _, n := range nodes {
			g.Go(n.Close)
		}
		return g.Wait()
	}
	return nodes, members, closeAll
}

func TestOverGRPC(t *testing.T) {
	job := uuid.New()
	_, members, closeAll := grpcGroup(t, 4, job)

	img := testImage(16, 12)
	k := mustKernel(t, "sobelY")
	cfg := stencil.Config{Kernel: k, Iterations: 3, Period: 2, Job: job}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	out, err := runGroup(ctx, members, img, cfg)
	require.NoError(t, err)
	assert.True(t, image.Equal(kernel.Reference(img, k, 3), out))
	require.NoError(t, closeAll())
}

func TestOverGRPCAbortedRank(t *testing.T) {
	const workers = 4
	job := uuid.New()
	nodes, members, closeAll := grpcGroup(t, workers, job)

	img := testImage(16, 12)
	cfg := stencil.Config{Kernel: mustKernel(t, "laplacian1"), Iterations: 3, Period: 1, Job: job}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	errs := make([]error, workers)
	var wg sync.WaitGroup
	for rank := range workers - 1 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var in *image.Gray
			if rank == 0 {
				in = img
			}
			_, errs[rank] = stencil.Run(ctx, members[rank], in, cfg)
		}()
	}
	// The last rank gives up before taking part.
	require.NoError(t, nodes[workers-1].Abort(fmt.Errorf("rank %d crashed", workers-1)))
	wg.Wait()

	for rank, err := range errs[:workers-1] {
		assert.ErrorIs(t, err, stencil.ErrComm, "rank %d", rank)
		assert.NotErrorIs(t, err, context.DeadlineExceeded, "rank %d waited for the deadline", rank)
	}
	_ = closeAll()
}
