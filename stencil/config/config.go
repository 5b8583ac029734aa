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

// Package config loads the settings of the halostencil command.
//
// Values come from, in order of precedence: command line flags that were
// set, HALOSTENCIL_* environment variables (dashes become underscores, so
// --log-level is HALOSTENCIL_LOG_LEVEL), the optional config file, and the
// flag defaults.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/ajroetker/go-halo/stencil"
	"github.com/ajroetker/go-halo/stencil/kernel"
)

// EnvPrefix prefixes every environment variable read by the command.
const EnvPrefix = "HALOSTENCIL"

// Compute holds the settings every rank needs.
type Compute struct {
	Kernel     string `mapstructure:"kernel" validate:"required,kernel"`
	Iterations int    `mapstructure:"iterations" validate:"gte=0"`
	Period     int    `mapstructure:"period" validate:"gte=1"`
	Threads    int    `mapstructure:"threads" validate:"gte=0"`
	Root       int    `mapstructure:"root" validate:"gte=0"`
	LogLevel   string `mapstructure:"log-level" validate:"oneof=debug info warn error"`
}

// Run configures an in-process run of Workers ranks.
type Run struct {
	Compute `mapstructure:",squash"`

	Input   string `mapstructure:"input" validate:"required"`
	Output  string `mapstructure:"output" validate:"required"`
	Workers int    `mapstructure:"workers" validate:"gte=1,gtfield=Root"`
	Job     string `mapstructure:"job" validate:"omitempty,uuid"`
}

// Worker configures one rank of a multi-process run. Input and Output are
// only used on the root.
type Worker struct {
	Compute `mapstructure:",squash"`

	Rank           int           `mapstructure:"rank" validate:"gte=0"`
	Peers          []string      `mapstructure:"peers" validate:"min=1,dive,hostname_port"`
	Job            string        `mapstructure:"job" validate:"required,uuid"`
	ConnectTimeout time.Duration `mapstructure:"connect-timeout" validate:"gte=0"`
	Input          string        `mapstructure:"input"`
	Output         string        `mapstructure:"output"`
}

// IsRoot reports whether this worker owns the image.
func (w Worker) IsRoot() bool {
	return w.Rank == w.Root
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.RegisterValidation("kernel", func(fl validator.FieldLevel) bool {
		_, err := kernel.Lookup(fl.Field().String())
		return err == nil
	}); err != nil {
		panic(err)
	}
	return v
}

// ComputeFlags registers the flags shared by every command that computes.
func ComputeFlags(fs *pflag.FlagSet) {
	fs.String("kernel", kernel.Default, "convolution kernel, one of "+strings.Join(kernel.Names(), ", "))
	fs.Int("iterations", 1, "number of convolution steps")
	fs.Int("period", 1, "iterations between halo exchanges")
	fs.Int("threads", 0, "goroutines per rank for the convolution (0 = GOMAXPROCS)")
	fs.Int("root", 0, "rank that reads the input and writes the output")
}

// RunFlags registers the flags of an in-process run.
func RunFlags(fs *pflag.FlagSet) {
	ComputeFlags(fs)
	fs.StringP("input", "i", "", "input image (.bmp or .png)")
	fs.StringP("output", "o", "", "output image (.bmp or .png)")
	fs.IntP("workers", "n", 4, "number of ranks")
	fs.String("job", "", "job id (default: random)")
}

// WorkerFlags registers the flags of one rank of a multi-process run.
func WorkerFlags(fs *pflag.FlagSet) {
	ComputeFlags(fs)
	fs.StringP("input", "i", "", "input image, read on the root")
	fs.StringP("output", "o", "", "output image, written on the root")
	fs.Int("rank", 0, "rank of this process")
	fs.StringSlice("peers", nil, "host:port of every rank, in rank order")
	fs.String("job", "", "job id shared by all ranks")
	fs.Duration("connect-timeout", 30*time.Second, "how long to wait for a peer to start")
}

// NewViper returns a viper instance reading flags from fs, the environment
// and, if file is not empty, a config file whose format follows its
// extension.
func NewViper(fs *pflag.FlagSet, file string) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	v.SetDefault("log-level", "info")
	if fs != nil {
		if err := v.BindPFlags(fs); err != nil {
			return nil, fmt.Errorf("config: bind flags: %w", err)
		}
	}
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("%w: read %s: %w", stencil.ErrConfig, file, err)
		}
	}
	return v, nil
}

func load[T any](v *viper.Viper) (T, error) {
	var cfg T
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("%w: %w", stencil.ErrConfig, err)
	}
	if err := validate.Struct(cfg); err != nil {
		return cfg, fmt.Errorf("%w: %w", stencil.ErrConfig, err)
	}
	return cfg, nil
}

// LoadRun reads and validates the settings of an in-process run.
func LoadRun(v *viper.Viper) (Run, error) {
	return load[Run](v)
}

// LoadWorker reads and validates the settings of one rank.
func LoadWorker(v *viper.Viper) (Worker, error) {
	v.Set("peers", cleanPeers(v.GetStringSlice("peers")))
	cfg, err := load[Worker](v)
	if err != nil {
		return cfg, err
	}
	if cfg.Rank >= len(cfg.Peers) {
		return cfg, fmt.Errorf("%w: rank %d with %d peers", stencil.ErrConfig, cfg.Rank, len(cfg.Peers))
	}
	if cfg.Root >= len(cfg.Peers) {
		return cfg, fmt.Errorf("%w: root %d with %d peers", stencil.ErrConfig, cfg.Root, len(cfg.Peers))
	}
	if cfg.IsRoot() && (cfg.Input == "" || cfg.Output == "") {
		return cfg, fmt.Errorf("%w: the root rank needs --input and --output", stencil.ErrConfig)
	}
	return cfg, nil
}

// cleanPeers splits comma-joined entries and drops blanks.
func cleanPeers(peers []string) []string {
	split := lo.FlatMap(peers, func(p string, _ int) []string {
		return strings.Split(p, ",")
	})
	trimmed := lo.Map(split, func(p string, _ int) string {
		return strings.TrimSpace(p)
	})
	return lo.Compact(trimmed)
}

// Level returns the slog level named by LogLevel.
func (c Compute) Level() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// Stencil builds the run settings for job. The kernel name must have been
// validated.
func (c Compute) Stencil(job uuid.UUID) (stencil.Config, error) {
	k, err := kernel.Lookup(c.Kernel)
	if err != nil {
		return stencil.Config{}, fmt.Errorf("%w: %w", stencil.ErrConfig, err)
	}
	return stencil.Config{
		Kernel:     k,
		Iterations: c.Iterations,
		Period:     c.Period,
		Root:       c.Root,
		Job:        job,
	}, nil
}

// JobID parses s, or returns a fresh id when s is empty.
func JobID(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.New(), nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: job id: %w", stencil.ErrConfig, err)
	}
	return id, nil
}
