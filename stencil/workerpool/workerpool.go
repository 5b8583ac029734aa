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

// Package workerpool runs the rows of one convolution step on a fixed set of
// goroutines. A Pool is created once per rank and reused by every iteration,
// so no goroutines are spawned inside the iteration loop.
//
// Usage:
//
//	pool := workerpool.New(runtime.GOMAXPROCS(0))
//	defer pool.Close()
//
//	for range iterations {
//	    pool.Range(-halo, height+halo, func(y0, y1 int) {
//	        convolveRows(y0, y1)
//	    })
//	}
//
// A nil *Pool is valid and runs everything on the calling goroutine.
package workerpool

import (
	"runtime"
	"sync"
)

// Pool is a persistent set of workers.
type Pool struct {
	numWorkers int
	workC      chan task

	mu     sync.RWMutex // guards closed against sends on workC
	closed bool
}

type task struct {
	fn   func(lo, hi int)
	lo   int
	hi   int
	done *sync.WaitGroup
}

// New starts numWorkers workers. If numWorkers <= 0, GOMAXPROCS is used.
func New(numWorkers int) *Pool {
	if numWorkers <= 0 {
		numWorkers = runtime.GOMAXPROCS(0)
	}
	p := &Pool{
		numWorkers: numWorkers,
		workC:      make(chan task, numWorkers*2),
	}
	for range numWorkers {
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	for t := range p.workC {
		t.fn(t.lo, t.hi)
		t.done.Done()
	}
}

// NumWorkers returns the number of workers, or 1 for a nil pool.
func (p *Pool) NumWorkers() int {
	if p == nil {
		return 1
	}
	return p.numWorkers
}

// Close stops the workers after pending work completes. Later calls to
// Range run sequentially. Calling Close more than once is safe.
func (p *Pool) Close() {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.workC)
}

// Range calls fn over contiguous chunks covering [lo, hi) and blocks until
// all chunks are done. lo may be negative.
func (p *Pool) Range(lo, hi int, fn func(lo, hi int)) {
	n := hi - lo
	if n <= 0 {
		return
	}
	if p == nil {
		fn(lo, hi)
		return
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	workers := min(p.numWorkers, n)
	if p.closed || workers == 1 {
		fn(lo, hi)
		return
	}

	chunk := (n + workers - 1) / workers
	var wg sync.WaitGroup
	for start := lo; start < hi; start += chunk {
		wg.Add(1)
		p.workC <- task{fn: fn, lo: start, hi: min(start+chunk, hi), done: &wg}
	}
	wg.Wait()
}
