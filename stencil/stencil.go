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

// Package stencil runs an iterated convolution over an image split into
// tiles, one tile per rank of a process group.
//
// Every rank calls Run with the same Config. The root rank passes the image;
// the others pass nil. Run then:
//
//  1. broadcasts the image size from the root,
//  2. plans the grid and scatters one tile to every rank,
//  3. iterates: refresh the halo from the neighbors every Period iterations,
//     convolve tile and halo into the spare buffers, swap,
//  4. gathers the tiles back and reassembles the image on the root.
//
// A halo of Width = Radius * Period lets a rank run Period iterations between
// exchanges: each convolution step consumes Radius pixels of the halo.
//
// Any failure is fatal for the whole group. Errors are classified as
// ErrConfig, ErrAllocation, ErrComm or ErrInternal and wrap the underlying
// cause.
package stencil

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/ajroetker/go-halo/stencil/halo"
	"github.com/ajroetker/go-halo/stencil/kernel"
	"github.com/ajroetker/go-halo/stencil/workerpool"
)

var (
	// ErrConfig reports invalid settings or an image that cannot be split,
	// detected before any tile data moves.
	ErrConfig = errors.New("stencil: configuration error")

	// ErrAllocation reports a tile or halo buffer that could not be set up.
	ErrAllocation = errors.New("stencil: allocation error")

	// ErrComm reports a failed message exchange, or data that arrived in a
	// shape the layout does not allow.
	ErrComm = errors.New("stencil: communication error")

	// ErrInternal reports a broken invariant between the buffers of one
	// rank. It indicates a bug, not bad input.
	ErrInternal = errors.New("stencil: internal error")
)

func classify(class, err error) error {
	return fmt.Errorf("%w: %w", class, err)
}

// Phase is a step of a rank's run.
type Phase int

const (
	ScatterReceived Phase = iota
	Exchange
	Convolve
	Swap
	GatherSent
)

var phaseNames = [...]string{
	ScatterReceived: "scatter-received",
	Exchange:        "exchange",
	Convolve:        "convolve",
	Swap:            "swap",
	GatherSent:      "gather-sent",
}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return fmt.Sprintf("Phase(%d)", int(p))
	}
	return phaseNames[p]
}

// Observer is told about every phase a rank enters. iteration is -1 for
// ScatterReceived and GatherSent. It is called on the rank's goroutine.
type Observer func(rank int, phase Phase, iteration int)

// Config holds the settings shared by all ranks of a run.
type Config struct {
	Kernel kernel.Kernel `validate:"-"`

	// Iterations is the number of convolution steps.
	Iterations int `validate:"gte=0"`

	// Period is the number of iterations between halo exchanges.
	Period int `validate:"gte=1"`

	// Root is the rank that owns the image.
	Root int `validate:"gte=0"`

	// Job tags log records. Optional.
	Job uuid.UUID

	// Pool runs the rows of each convolution. Optional.
	Pool *workerpool.Pool

	Logger   *slog.Logger
	Observer Observer
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks cfg for a group of size ranks.
func (cfg Config) Validate(size int) error {
	if err := validate.Struct(cfg); err != nil {
		return classify(ErrConfig, err)
	}
	if cfg.Kernel.IsZero() {
		return fmt.Errorf("%w: no kernel", ErrConfig)
	}
	if cfg.Root >= size {
		return fmt.Errorf("%w: root %d in group of %d", ErrConfig, cfg.Root, size)
	}
	return nil
}

// HaloWidth returns the halo depth cfg needs.
func (cfg Config) HaloWidth() int {
	return halo.Width(cfg.Kernel.Dim(), cfg.Period)
}
