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
	"sync"
)

type slotKey struct {
	src, tag int
}

// ending records why a source, or the whole mailbox, stopped delivering.
type ending struct {
	done chan struct{}
	err  error
}

func newEnding() *ending {
	return &ending{done: make(chan struct{})}
}

func (e *ending) close(err error) bool {
	select {
	case <-e.done:
		return false
	default:
		e.err = err
		close(e.done)
		return true
	}
}

func (e *ending) closed() error {
	select {
	case <-e.done:
		return e.err
	default:
		return nil
	}
}

// Mailbox queues incoming messages of one rank per (source, tag) pair.
// Messages with the same source and tag are delivered in order.
//
// With depth 0 a Put blocks until the matching Take, which gives
// synchronous send semantics. A positive depth buffers that many messages
// per pair.
//
// Close marks a source as finished and CloseAll the whole mailbox. Messages
// already queued are still delivered; after that, Take fails with the error
// passed to Close or CloseAll.
type Mailbox struct {
	depth int

	mu      sync.Mutex
	slots   map[slotKey]chan []byte
	sources map[int]*ending
	all     *ending
}

// NewMailbox creates an empty mailbox.
func NewMailbox(depth int) *Mailbox {
	return &Mailbox{
		depth:   max(depth, 0),
		slots:   make(map[slotKey]chan []byte),
		sources: make(map[int]*ending),
		all:     newEnding(),
	}
}

func (m *Mailbox) slot(src, tag int) chan []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := slotKey{src, tag}
	ch, ok := m.slots[k]
	if !ok {
		ch = make(chan []byte, m.depth)
		m.slots[k] = ch
	}
	return ch
}

func (m *Mailbox) source(src int) *ending {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sources[src]
	if !ok {
		e = newEnding()
		m.sources[src] = e
	}
	return e
}

// Close records that src will send nothing more. It reports whether src
// was still open.
func (m *Mailbox) Close(src int, err error) bool {
	e := m.source(src)
	m.mu.Lock()
	defer m.mu.Unlock()
	return e.close(err)
}

// CloseAll records that no source will send anything more. It reports
// whether the mailbox was still open.
func (m *Mailbox) CloseAll(err error) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.all.close(err)
}

// Err returns the error the mailbox or src was closed with, or nil while
// src may still send.
func (m *Mailbox) Err(src int) error {
	if err := m.all.closed(); err != nil {
		return err
	}
	return m.source(src).closed()
}

// Put hands msg to the receiver of (src, tag). The mailbox takes ownership
// of msg.
func (m *Mailbox) Put(ctx context.Context, src, tag int, msg []byte) error {
	select {
	case m.slot(src, tag) <- msg:
		return nil
	case <-m.all.done:
		return m.all.err
	case <-ctx.Done():
		return fmt.Errorf("comm: deliver from rank %d tag %d: %w", src, tag, ctx.Err())
	}
}

// Take waits for the next message from (src, tag).
func (m *Mailbox) Take(ctx context.Context, src, tag int) ([]byte, error) {
	slot := m.slot(src, tag)
	from := m.source(src)
	select {
	case msg := <-slot:
		return msg, nil
	case <-from.done:
		return drain(slot, from.err)
	case <-m.all.done:
		return drain(slot, m.all.err)
	case <-ctx.Done():
		return nil, fmt.Errorf("comm: receive from rank %d tag %d: %w", src, tag, ctx.Err())
	}
}

// drain returns a message queued before the slot's source ended, or err.
func drain(slot chan []byte, err error) ([]byte, error) {
	select {
	case msg := <-slot:
		return msg, nil
	default:
		return nil, err
	}
}

// TakeInto waits for the next message from (src, tag) and copies it into
// buf.
func (m *Mailbox) TakeInto(ctx context.Context, src, tag int, buf []byte) error {
	msg, err := m.Take(ctx, src, tag)
	if err != nil {
		return err
	}
	if len(msg) != len(buf) {
		return fmt.Errorf("%w: rank %d tag %d sent %d bytes, want %d", ErrSizeMismatch, src, tag, len(msg), len(buf))
	}
	copy(buf, msg)
	return nil
}
