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
	"bytes"
	"context"
	"fmt"
)

// Local is a member of an in-process group. Send blocks until the
// destination calls the matching Recv.
type Local struct {
	rank  int
	boxes []*Mailbox
}

// NewLocal creates a group of size members, one per rank, sharing no
// memory other than the messages passed between them.
func NewLocal(size int) []*Local {
	boxes := make([]*Mailbox, size)
	for i := range boxes {
		boxes[i] = NewMailbox(0)
	}
	members := make([]*Local, size)
	for i := range members {
		members[i] = &Local{rank: i, boxes: boxes}
	}
	return members
}

// Rank returns the rank of this member.
func (l *Local) Rank() int {
	return l.rank
}

// Size returns the number of members in the group.
func (l *Local) Size() int {
	return len(l.boxes)
}

// Send blocks until dst receives a copy of data.
func (l *Local) Send(ctx context.Context, dst, tag int, data []byte) error {
	if dst < 0 || dst >= len(l.boxes) {
		return fmt.Errorf("%w: send to %d in group of %d", ErrRank, dst, len(l.boxes))
	}
	if dst == l.rank {
		return fmt.Errorf("%w: rank %d cannot send to itself synchronously", ErrRank, dst)
	}
	return l.boxes[dst].Put(ctx, l.rank, tag, bytes.Clone(data))
}

// Recv blocks until src sends a message with tag.
func (l *Local) Recv(ctx context.Context, src, tag int, buf []byte) error {
	if src < 0 || src >= len(l.boxes) {
		return fmt.Errorf("%w: receive from %d in group of %d", ErrRank, src, len(l.boxes))
	}
	return l.boxes[l.rank].TakeInto(ctx, src, tag, buf)
}
