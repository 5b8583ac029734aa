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

package grid

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/samber/lo"

	"github.com/ajroetker/go-halo/stencil/image"
)

func TestPlan(t *testing.T) {
	tests := []struct {
		workers    int
		cols, rows int
	}{
		{1, 1, 1},
		{2, 1, 2},
		{3, 1, 3},
		{4, 2, 2},
		{6, 2, 3},
		{7, 1, 7},
		{8, 2, 4},
		{9, 3, 3},
		{12, 3, 4},
		{16, 4, 4},
		{18, 3, 6},
		{24, 4, 6},
		{36, 6, 6},
	}
	for _, tt := range tests {
		cols, rows := Plan(tt.workers)
		if cols != tt.cols || rows != tt.rows {
			t.Errorf("Plan(%d) = (%d, %d), want (%d, %d)", tt.workers, cols, rows, tt.cols, tt.rows)
		}
	}
}

func TestPlan_ClosestToSquare(t *testing.T) {
	for w := 1; w <= 200; w++ {
		cols, rows := Plan(w)
		if cols*rows != w {
			t.Fatalf("Plan(%d): %d x %d != %d", w, cols, rows, w)
		}
		if rows < cols {
			t.Fatalf("Plan(%d): rows %d < cols %d", w, rows, cols)
		}
		for c := cols + 1; c*c <= w; c++ {
			if w%c == 0 {
				t.Errorf("Plan(%d) = (%d, %d), but %d x %d is closer to square", w, cols, rows, c, w/c)
			}
		}
	}
}

func TestSplit(t *testing.T) {
	tests := []struct {
		parts, total int
		want         []int
	}{
		{1, 10, []int{10}},
		{2, 10, []int{5, 5}},
		{3, 10, []int{3, 3, 4}},
		{4, 10, []int{2, 2, 3, 3}},
		{5, 13, []int{2, 2, 3, 3, 3}},
		{3, 2, []int{0, 1, 1}},
		{4, 8, []int{2, 2, 2, 2}},
	}
	for _, tt := range tests {
		got := Split(tt.parts, tt.total)
		if diff := cmp.Diff(tt.want, got); diff != "" {
			t.Errorf("Split(%d, %d) mismatch (-want +got):\n%s", tt.parts, tt.total, diff)
		}
	}
	if got := Split(0, 10); got != nil {
		t.Errorf("Split(0, 10) = %v, want nil", got)
	}
}

func TestSplit_Properties(t *testing.T) {
	for parts := 1; parts <= 17; parts++ {
		for total := parts; total <= 97; total++ {
			split := Split(parts, total)
			if sum := lo.Sum(split); sum != total {
				t.Fatalf("Split(%d, %d) = %v sums to %d", parts, total, split, sum)
			}
			if spread := lo.Max(split) - lo.Min(split); spread > 1 {
				t.Fatalf("Split(%d, %d) = %v spreads by %d", parts, total, split, spread)
			}
			// Extra cells go to the highest ranks first.
			for i := 1; i < parts; i++ {
				if split[i] < split[i-1] {
					t.Fatalf("Split(%d, %d) = %v decreases at %d", parts, total, split, i)
				}
			}
		}
	}
}

func TestOffsets(t *testing.T) {
	if diff := cmp.Diff([]int{0, 3, 6}, Offsets([]int{3, 3, 4})); diff != "" {
		t.Errorf("Offsets mismatch (-want +got):\n%s", diff)
	}
}

func TestTopology(t *testing.T) {
	// 6 workers: 2 columns x 3 rows.
	top, err := NewTopology(6, 3)
	if err != nil {
		t.Fatalf("NewTopology: %v", err)
	}
	if top.Row != 1 || top.Col != 1 {
		t.Fatalf("rank 3 at (%d, %d), want (1, 1)", top.Row, top.Col)
	}
	tests := []struct {
		dir  Direction
		rank int
		ok   bool
	}{
		{North, 1, true},
		{South, 5, true},
		{West, 2, true},
		{East, -1, false},
	}
	for _, tt := range tests {
		rank, ok := top.Neighbor(tt.dir)
		if rank != tt.rank || ok != tt.ok {
			t.Errorf("Neighbor(%v) = (%d, %v), want (%d, %v)", tt.dir, rank, ok, tt.rank, tt.ok)
		}
	}

	corner, _ := NewTopology(6, 0)
	if corner.HasNeighbor(North) || corner.HasNeighbor(West) {
		t.Error("rank 0 should have no north or west neighbor")
	}
	if !corner.HasNeighbor(South) || !corner.HasNeighbor(East) {
		t.Error("rank 0 should have south and east neighbors")
	}

	if _, err := NewTopology(4, 4); !errors.Is(err, ErrInvalidSplit) {
		t.Errorf("rank out of range: got %v, want ErrInvalidSplit", err)
	}
	if _, err := NewTopology(0, 0); !errors.Is(err, ErrInvalidSplit) {
		t.Errorf("zero workers: got %v, want ErrInvalidSplit", err)
	}
}

func TestLayout(t *testing.T) {
	l, err := NewLayout(6, 10, 10, 1)
	if err != nil {
		t.Fatalf("NewLayout: %v", err)
	}
	if l.Cols != 2 || l.Rows != 3 {
		t.Fatalf("grid %dx%d, want 2x3", l.Cols, l.Rows)
	}
	want := []image.Rect{
		{X0: 0, Y0: 0, X1: 5, Y1: 3},
		{X0: 5, Y0: 0, X1: 10, Y1: 3},
		{X0: 0, Y0: 3, X1: 5, Y1: 6},
		{X0: 5, Y0: 3, X1: 10, Y1: 6},
		{X0: 0, Y0: 6, X1: 5, Y1: 10},
		{X0: 5, Y0: 6, X1: 10, Y1: 10},
	}
	got := make([]image.Rect, l.Workers())
	for rank := range got {
		got[rank] = l.Rect(rank)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Rect mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{15, 15, 15, 15, 20, 20}, l.Counts()); diff != "" {
		t.Errorf("Counts mismatch (-want +got):\n%s", diff)
	}
}

func TestLayout_Invalid(t *testing.T) {
	tests := []struct {
		name                   string
		workers, width, height int
		minTile                int
	}{
		{"no workers", 0, 8, 8, 1},
		{"empty image", 4, 0, 8, 1},
		{"more rows than pixels", 5, 8, 4, 1},
		{"tile thinner than halo", 4, 8, 8, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLayout(tt.workers, tt.width, tt.height, tt.minTile)
			if !errors.Is(err, ErrInvalidSplit) {
				t.Errorf("got %v, want ErrInvalidSplit", err)
			}
		})
	}
}
