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

// Package kernel holds square convolution kernels and applies them to tiles
// surrounded by a halo.
//
// Kernels are applied as true convolutions: the coefficient matrix is
// mirrored in both axes before it is laid over the neighborhood. The
// weighted sum is scaled by the kernel's factor, truncated toward zero and
// clamped to [0, 255].
package kernel

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/samber/lo"
)

var (
	// ErrUnknown reports a kernel name with no built-in kernel.
	ErrUnknown = errors.New("kernel: unknown kernel")

	// ErrInvalid reports a malformed coefficient matrix or factor.
	ErrInvalid = errors.New("kernel: invalid kernel")

	// ErrGeometry reports source and destination fields that do not
	// describe the same tile and halo.
	ErrGeometry = errors.New("kernel: field geometry mismatch")
)

// Kernel is an immutable odd-sized square coefficient matrix with a scalar
// normalization factor.
type Kernel struct {
	name    string
	dim     int
	coeffs  []int // row-major, as written
	flipped []int // coeffs mirrored in both axes
	factor  float32
}

// New validates and builds a kernel. coeffs is row-major with dim*dim
// entries.
func New(name string, dim int, coeffs []int, factor float32) (Kernel, error) {
	if dim <= 0 || dim%2 == 0 {
		return Kernel{}, fmt.Errorf("%w: %q has dimension %d, want a positive odd number", ErrInvalid, name, dim)
	}
	if len(coeffs) != dim*dim {
		return Kernel{}, fmt.Errorf("%w: %q has %d coefficients, want %d", ErrInvalid, name, len(coeffs), dim*dim)
	}
	if f := float64(factor); math.IsNaN(f) || math.IsInf(f, 0) {
		return Kernel{}, fmt.Errorf("%w: %q has factor %v", ErrInvalid, name, factor)
	}
	k := Kernel{
		name:    name,
		dim:     dim,
		coeffs:  slices.Clone(coeffs),
		flipped: make([]int, dim*dim),
		factor:  factor,
	}
	for ky := range dim {
		for kx := range dim {
			k.flipped[ky*dim+kx] = coeffs[(dim-1-ky)*dim+(dim-1-kx)]
		}
	}
	return k, nil
}

func mustNew(name string, dim int, coeffs []int, factor float32) Kernel {
	k, err := New(name, dim, coeffs, factor)
	if err != nil {
		panic(err)
	}
	return k
}

// Name returns the kernel name.
func (k Kernel) Name() string { return k.name }

// Dim returns the kernel dimension.
func (k Kernel) Dim() int { return k.dim }

// Radius returns how far the kernel reaches past the center pixel.
func (k Kernel) Radius() int { return (k.dim - 1) / 2 }

// Factor returns the normalization factor.
func (k Kernel) Factor() float32 { return k.factor }

// Coeff returns the coefficient at row ky, column kx as written.
func (k Kernel) Coeff(ky, kx int) int { return k.coeffs[ky*k.dim+kx] }

// IsZero reports whether k is the zero Kernel.
func (k Kernel) IsZero() bool { return k.dim == 0 }

func (k Kernel) String() string {
	return fmt.Sprintf("%s(%dx%d, factor %g)", k.name, k.dim, k.dim, k.factor)
}

// pixel scales sum by factor, truncating toward zero, and clamps the result
// to a byte.
func pixel(sum int, factor float32) uint8 {
	v := int(float32(sum) * factor)
	switch {
	case v <= 0:
		return 0
	case v > 255:
		return 255
	}
	return uint8(v)
}

var builtin = map[string]Kernel{
	"identity": mustNew("identity", 3, []int{
		0, 0, 0,
		0, 1, 0,
		0, 0, 0,
	}, 1),
	"laplacian1": mustNew("laplacian1", 3, []int{
		-1, -4, -1,
		-4, 20, -4,
		-1, -4, -1,
	}, 1),
	"laplacian2": mustNew("laplacian2", 3, []int{
		0, 1, 0,
		1, -4, 1,
		0, 1, 0,
	}, 1),
	"laplacian3": mustNew("laplacian3", 3, []int{
		-1, -1, -1,
		-1, 8, -1,
		-1, -1, -1,
	}, 1),
	"sobelX": mustNew("sobelX", 3, []int{
		-1, 0, 1,
		-2, 0, 2,
		-1, 0, 1,
	}, 1),
	"sobelY": mustNew("sobelY", 3, []int{
		-1, -2, -1,
		0, 0, 0,
		1, 2, 1,
	}, 1),
	"gaussian": mustNew("gaussian", 5, []int{
		1, 4, 6, 4, 1,
		4, 16, 24, 16, 4,
		6, 24, 36, 24, 6,
		4, 16, 24, 16, 4,
		1, 4, 6, 4, 1,
	}, 1.0/256.0),
}

// Default is the kernel used when none is configured.
const Default = "laplacian1"

// Lookup returns the built-in kernel called name.
func Lookup(name string) (Kernel, error) {
	k, ok := builtin[name]
	if !ok {
		return Kernel{}, fmt.Errorf("%w %q (have %v)", ErrUnknown, name, Names())
	}
	return k, nil
}

// Names returns the built-in kernel names in sorted order.
func Names() []string {
	names := lo.Keys(builtin)
	slices.Sort(names)
	return names
}
