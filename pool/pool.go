// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package pool implements the bounded worker pool used to compute a
// block's outputs. Both the local worker and the remote controller
// compute blocks with a Pool.
package pool

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/traverse"
	"github.com/rowanphipps/Cerberus"
)

// A Pool computes target functions over ranges of inputs with bounded
// parallelism. Pools are safe for concurrent use; each call to Map is
// bounded independently.
type Pool struct {
	n int

	mu     sync.Mutex
	closed bool
	active sync.WaitGroup
}

// New returns a pool that runs at most n function calls at a time.
// If n <= 0, the pool uses all available cores.
func New(n int) *Pool {
	if n <= 0 {
		n = runtime.NumCPU()
	}
	return &Pool{n: n}
}

// MaxSpan is the largest range of inputs a single call to Map
// computes.
const MaxSpan = 1 << 26

// Size returns the pool's parallelism.
func (p *Pool) Size() int { return p.n }

// Map computes fn over every input in [low, high) and returns the
// resulting pairs in input order. If fn fails on any input, Map
// returns the failure (a *cerberus.ComputeError) for the smallest
// such input. Map may not be called after Close. Ranges wider than
// MaxSpan are rejected with errors.Invalid.
func (p *Pool) Map(fn *cerberus.FuncValue, low, high int64) ([]cerberus.Pair, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, errors.E(errors.Invalid, "pool: map called after close")
	}
	p.active.Add(1)
	p.mu.Unlock()
	defer p.active.Done()

	if high <= low {
		return nil, nil
	}
	// The difference overflows for spans wider than MaxInt64.
	if n := high - low; n <= 0 || n > MaxSpan {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("pool: range [%d, %d) exceeds %d inputs", low, high, MaxSpan))
	}
	pairs := make([]cerberus.Pair, high-low)
	errs := make([]error, len(pairs))
	_ = traverse.Limit(p.n).Each(len(pairs), func(i int) error {
		x := low + int64(i)
		pairs[i].In = x
		pairs[i].Out, errs[i] = fn.Call(x)
		return nil
	})
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return pairs, nil
}

// Close shuts down the pool: subsequent calls to Map fail, and Close
// returns once all in-flight calls have completed. Close may be
// called multiple times.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.active.Wait()
}
