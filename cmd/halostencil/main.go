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

// Command halostencil convolves an image repeatedly on a grid of ranks that
// exchange tile borders with their neighbors.
//
// Usage:
//
//	halostencil run -i in.bmp -o out.bmp -n 4 --iterations 10 --kernel gaussian
//	halostencil worker --rank 1 --peers h0:7000,h1:7000,h2:7000,h3:7000 --job $JOB
//	halostencil plan -n 6 --width 640 --height 480 --kernel gaussian --period 4
//	halostencil kernels
//
// run starts every rank in this process. worker starts one rank of a
// multi-process run; start one worker per peer address with the same --job
// and the rank that owns the image (--root, default 0) also given --input and
// --output.
//
// Every flag can also be set in the environment (HALOSTENCIL_ITERATIONS=10)
// or in a YAML, JSON or TOML file passed with --config.
package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/ajroetker/go-halo/stencil"
)

// app holds the state shared by the subcommands.
type app struct {
	configFile string
	level      slog.LevelVar
	log        *slog.Logger
}

func newApp(stderr io.Writer) *app {
	a := &app{}
	a.log = slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: &a.level}))
	return a
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "halostencil",
		Short:         "Distributed iterated image convolution with halo exchange",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&a.configFile, "config", "", "config file (yaml, json or toml)")
	root.PersistentFlags().String("log-level", "info", "log level: debug, info, warn or error")

	root.AddCommand(
		a.runCmd(),
		a.workerCmd(),
		a.planCmd(),
		a.kernelsCmd(),
	)
	return root
}

// exitCode maps configuration problems to 2 and every other failure to 1.
func exitCode(err error) int {
	if errors.Is(err, stencil.ErrConfig) {
		return 2
	}
	return 1
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	a := newApp(os.Stderr)
	if err := a.rootCmd().ExecuteContext(ctx); err != nil {
		a.log.Error("halostencil failed", "err", err)
		stop()
		os.Exit(exitCode(err))
	}
}
