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
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/ajroetker/go-halo/stencil"
	"github.com/ajroetker/go-halo/stencil/comm"
	"github.com/ajroetker/go-halo/stencil/config"
	"github.com/ajroetker/go-halo/stencil/image"
	"github.com/ajroetker/go-halo/stencil/workerpool"
)

func (a *app) viper(cmd *cobra.Command) (*viper.Viper, error) {
	return config.NewViper(cmd.Flags(), a.configFile)
}

func (a *app) runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run every rank in this process",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			v, err := a.viper(cmd)
			if err != nil {
				return err
			}
			cfg, err := config.LoadRun(v)
			if err != nil {
				return err
			}
			a.level.Set(cfg.Level())
			return a.run(cmd.Context(), cfg)
		},
	}
	config.RunFlags(cmd.Flags())
	return cmd
}

func (a *app) run(ctx context.Context, cfg config.Run) error {
	job, err := config.JobID(cfg.Job)
	if err != nil {
		return err
	}
	scfg, err := cfg.Stencil(job)
	if err != nil {
		return err
	}
	log := a.log.With("job", job)
	scfg.Logger = log

	img, err := image.Load(cfg.Input)
	if err != nil {
		return fmt.Errorf("%w: %w", stencil.ErrConfig, err)
	}
	pool := workerpool.New(cfg.Threads)
	defer pool.Close()
	scfg.Pool = pool

	log.Info("starting", "input", cfg.Input, "workers", cfg.Workers, "kernel", cfg.Kernel,
		"iterations", cfg.Iterations, "period", cfg.Period)
	start := time.Now()

	var out *image.Gray
	g, ctx := errgroup.WithContext(ctx)
	for _, member := range comm.NewLocal(cfg.Workers) {
		g.Go(func() error {
			var in *image.Gray
			if member.Rank() == cfg.Root {
				in = img
			}
			res, err := stencil.Run(ctx, member, in, scfg)
			if err != nil {
				return fmt.Errorf("rank %d: %w", member.Rank(), err)
			}
			if member.Rank() == cfg.Root {
				out = res
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if err := image.Save(cfg.Output, out); err != nil {
		return err
	}
	log.Info("done", "output", cfg.Output, "elapsed", time.Since(start))
	return nil
}
