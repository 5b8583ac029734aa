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

package comm

import (
	"context"
	"fmt"
)

// Tags reserved for the collectives.
const (
	TagBcast = 1 + iota
	TagScatter
	TagGather
)

// Displacements returns the offset of each rank's block in a buffer that
// packs blocks of the given counts contiguously in rank order.
func Displacements(counts []int) []int {
	displs := make([]int, len(counts))
	for i := 1; i < len(counts); i++ {
		displs[i] = displs[i-1] + counts[i-1]
	}
	return displs
}

func total(counts []int) int {
	n := 0
	for _, c := range counts {
		n += c
	}
	return n
}

func checkRoot(c Comm, root int) error {
	if root < 0 || root >= c.Size() {
		return fmt.Errorf("%w: root %d in group of %d", ErrRank, root, c.Size())
	}
	return nil
}

// Bcast copies buf on root into buf on every other rank. All ranks pass a
// buffer of the same length.
func Bcast(ctx context.Context, c Comm, root int, buf []byte) error {
	if err := checkRoot(c, root); err != nil {
		return err
	}
	if c.Rank() != root {
		if err := c.Recv(ctx, root, TagBcast, buf); err != nil {
			return fmt.Errorf("comm: bcast: %w", err)
		}
		return nil
	}
	for dst := range c.Size() {
		if dst == root {
			continue
		}
		if err := c.Send(ctx, dst, TagBcast, buf); err != nil {
			return fmt.Errorf("comm: bcast: %w", err)
		}
	}
	return nil
}

// Scatterv splits send on root into blocks of counts[r] bytes, packed in
// rank order, and delivers block r into recv on rank r. send and counts are
// only read on root; recv must hold exactly that rank's count.
func Scatterv(ctx context.Context, c Comm, root int, send []byte, counts []int, recv []byte) error {
	if err := checkRoot(c, root); err != nil {
		return err
	}
	if c.Rank() != root {
		if err := c.Recv(ctx, root, TagScatter, recv); err != nil {
			return fmt.Errorf("comm: scatterv: %w", err)
		}
		return nil
	}
	if len(counts) != c.Size() {
		return fmt.Errorf("comm: scatterv: %d counts for group of %d", len(counts), c.Size())
	}
	if total(counts) != len(send) {
		return fmt.Errorf("%w: scatterv counts cover %d bytes, send buffer holds %d", ErrSizeMismatch, total(counts), len(send))
	}
	displs := Displacements(counts)
	for dst := range c.Size() {
		block := send[displs[dst] : displs[dst]+counts[dst]]
		if dst == root {
			if len(recv) != len(block) {
				return fmt.Errorf("%w: scatterv root block is %d bytes, recv holds %d", ErrSizeMismatch, len(block), len(recv))
			}
			copy(recv, block)
			continue
		}
		if err := c.Send(ctx, dst, TagScatter, block); err != nil {
			return fmt.Errorf("comm: scatterv: %w", err)
		}
	}
	return nil
}

// Gatherv is the inverse of Scatterv: every rank contributes send, and root
// packs the contributions into recv in rank order using counts. recv and
// counts are only read on root.
func Gatherv(ctx context.Context, c Comm, root int, send []byte, recv []byte, counts []int) error {
	if err := checkRoot(c, root); err != nil {
		return err
	}
	if c.Rank() != root {
		if err := c.Send(ctx, root, TagGather, send); err != nil {
			return fmt.Errorf("comm: gatherv: %w", err)
		}
		return nil
	}
	if len(counts) != c.Size() {
		return fmt.Errorf("comm: gatherv: %d counts for group of %d", len(counts), c.Size())
	}
	if total(counts) != len(recv) {
		return fmt.Errorf("%w: gatherv counts cover %d bytes, recv buffer holds %d", ErrSizeMismatch, total(counts), len(recv))
	}
	displs := Displacements(counts)
	for src := range c.Size() {
		block := recv[displs[src] : displs[src]+counts[src]]
		if src == root {
			if len(send) != len(block) {
				return fmt.Errorf("%w: gatherv root sends %d bytes, count is %d", ErrSizeMismatch, len(send), len(block))
			}
			copy(block, send)
			continue
		}
		if err := c.Recv(ctx, src, TagGather, block); err != nil {
			return fmt.Errorf("comm: gatherv: %w", err)
		}
	}
	return nil
}
