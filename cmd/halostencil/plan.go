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

package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ajroetker/go-halo/stencil"
	"github.com/ajroetker/go-halo/stencil/grid"
	"github.com/ajroetker/go-halo/stencil/halo"
	"github.com/ajroetker/go-halo/stencil/kernel"
)

func (a *app) planCmd() *cobra.Command {
	var (
		workers, width, height, period int
		kernelName                     string
	)
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Print the grid and the tile of every rank",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			k, err := kernel.Lookup(kernelName)
			if err != nil {
				return fmt.Errorf("%w: %w", stencil.ErrConfig, err)
			}
			hw := halo.Width(k.Dim(), period)
			layout, err := grid.NewLayout(workers, width, height, hw)
			if err != nil {
				return fmt.Errorf("%w: %w", stencil.ErrConfig, err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "grid %d cols x %d rows, halo width %d\n", layout.Cols, layout.Rows, hw)
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "rank\trow\tcol\ttile\tsize\tneighbors")
			for rank := range layout.Workers() {
				topo, err := grid.NewTopology(workers, rank)
				if err != nil {
					return err
				}
				r := layout.Rect(rank)
				fmt.Fprintf(tw, "%d\t%d\t%d\t%v\t%dx%d\t%v\n",
					rank, topo.Row, topo.Col, r, r.Width(), r.Height(), halo.SidesOf(topo))
			}
			return tw.Flush()
		},
	}
	fs := cmd.Flags()
	fs.IntVarP(&workers, "workers", "n", 4, "number of ranks")
	fs.IntVar(&width, "width", 640, "image width")
	fs.IntVar(&height, "height", 480, "image height")
	fs.IntVar(&period, "period", 1, "iterations between halo exchanges")
	fs.StringVar(&kernelName, "kernel", kernel.Default, "convolution kernel")
	return cmd
}
