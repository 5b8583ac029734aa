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

// Package comm is a small MPI-like process group over byte buffers.
//
// A group has a fixed Size; every member has a unique Rank with
// 0 <= Rank < Size. Members exchange messages point to point with Send and
// Recv, matched by source rank and tag. All calls block. A failed call is
// fatal for the whole group: there is no retry.
//
// Two implementations exist: Local, where every rank is a goroutine of the
// same process and a Send completes only when the matching Recv takes the
// message, and grpcnet.Node, where ranks are separate processes connected by
// gRPC streams.
//
// The collectives Bcast, Scatterv and Gatherv are built on Send and Recv and
// work with any implementation.
package comm

import (
	"context"
	"errors"
)

var (
	// ErrRank reports a rank outside [0, Size).
	ErrRank = errors.New("comm: rank out of range")

	// ErrSizeMismatch reports a message whose length differs from the
	// receive buffer.
	ErrSizeMismatch = errors.New("comm: message size mismatch")

	// ErrClosed reports use of a closed group member.
	ErrClosed = errors.New("comm: closed")

	// ErrPeerLost reports a member that stopped, aborted or became
	// unreachable. The group cannot continue without it.
	ErrPeerLost = errors.New("comm: peer lost")
)

// Comm is one member of a process group.
type Comm interface {
	// Rank returns the rank of this member.
	Rank() int

	// Size returns the number of members in the group.
	Size() int

	// Send transmits data to dst with the given tag. Send does not retain
	// data after it returns.
	Send(ctx context.Context, dst, tag int, data []byte) error

	// Recv blocks until a message from src with the given tag arrives and
	// copies it into buf. The message must be exactly len(buf) bytes.
	Recv(ctx context.Context, src, tag int, buf []byte) error
}
