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
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/ajroetker/go-halo/stencil"
	"github.com/ajroetker/go-halo/stencil/comm/grpcnet"
	"github.com/ajroetker/go-halo/stencil/config"
	"github.com/ajroetker/go-halo/stencil/image"
	"github.com/ajroetker/go-halo/stencil/workerpool"
)

func (a *app) workerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run one rank of a multi-process run over gRPC",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			v, err := a.viper(cmd)
			if err != nil {
				return err
			}
			cfg, err := config.LoadWorker(v)
			if err != nil {
				return err
			}
			a.level.Set(cfg.Level())
			return a.worker(cmd.Context(), cfg)
		},
	}
	config.WorkerFlags(cmd.Flags())
	return cmd
}

func (a *app) worker(ctx context.Context, cfg config.Worker) (err error) {
	job, err := uuid.Parse(cfg.Job)
	if err != nil {
		return err
	}
	scfg, err := cfg.Stencil(job)
	if err != nil {
		return err
	}
	log := a.log.With("rank", cfg.Rank, "job", job)
	scfg.Logger = a.log

	node, err := grpcnet.New(grpcnet.Config{
		Rank:           cfg.Rank,
		Peers:          cfg.Peers,
		Job:            job,
		ConnectTimeout: cfg.ConnectTimeout,
		Logger:         a.log,
	})
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, node.Close())
	}()

	pool := workerpool.New(cfg.Threads)
	defer pool.Close()
	scfg.Pool = pool

	// A root that cannot read its input still joins the run so that every
	// rank learns about the failure and exits.
	var img *image.Gray
	var loadErr error
	if cfg.IsRoot() {
		if img, loadErr = image.Load(cfg.Input); loadErr != nil {
			log.Error("cannot load input", "input", cfg.Input, "err", loadErr)
		}
	}

	start := time.Now()
	out, err := stencil.Run(ctx, node, img, scfg)
	if err != nil {
		// Ranks waiting on this one would otherwise never hear from it.
		if aerr := node.Abort(err); aerr != nil {
			log.Debug("abort not delivered to every peer", "err", aerr)
		}
		return multierr.Append(loadErr, err)
	}
	if !cfg.IsRoot() {
		log.Info("done", "elapsed", time.Since(start))
		return nil
	}
	if err := image.Save(cfg.Output, out); err != nil {
		return err
	}
	log.Info("done", "output", cfg.Output, "elapsed", time.Since(start))
	return nil
}
