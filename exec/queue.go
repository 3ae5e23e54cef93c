// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"fmt"
	"sort"
	"sync"

	"github.com/grailbio/base/errors"
	"github.com/rowanphipps/Cerberus"
)

// A Queue is the work queue shared by all workers of a run. The
// orchestrator pushes every block of the run and then seals the
// queue; workers then claim blocks until the queue is empty. A queue
// is drained once: blocks are never re-inserted, and a claimed block
// that is never acknowledged is lost.
//
// Queues are safe for concurrent use without external locking. Each
// block is returned by at most one call to TryClaim.
type Queue struct {
	blocks chan cerberus.Block

	mu      sync.Mutex
	sealed  bool
	claimed map[int]cerberus.Block
	acked   int
}

// NewQueue returns a queue that can hold up to capacity blocks.
func NewQueue(capacity int) *Queue {
	return &Queue{
		blocks:  make(chan cerberus.Block, capacity),
		claimed: make(map[int]cerberus.Block),
	}
}

// Push appends a block to the queue. Blocks may only be pushed before
// the queue is sealed.
func (q *Queue) Push(b cerberus.Block) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.sealed {
		return errors.E(errors.Precondition, fmt.Sprintf("push block %s to sealed queue", b))
	}
	select {
	case q.blocks <- b:
		return nil
	default:
		return errors.E(errors.Invalid, fmt.Sprintf("push block %s: queue is full", b))
	}
}

// Seal marks the end of the queue's blocks: once the pushed blocks
// have been claimed, the queue is empty for good.
func (q *Queue) Seal() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.sealed {
		q.sealed = true
		close(q.blocks)
	}
}

// TryClaim removes and returns the block at the head of the queue. It
// never blocks: if no block is available it returns false, and the
// caller should stop pulling work from the queue.
func (q *Queue) TryClaim() (cerberus.Block, bool) {
	select {
	case b, ok := <-q.blocks:
		if !ok {
			return cerberus.Block{}, false
		}
		q.mu.Lock()
		q.claimed[b.ID] = b
		q.mu.Unlock()
		return b, true
	default:
		return cerberus.Block{}, false
	}
}

// Ack records that the worker which claimed block id is done with it.
// Acknowledgements are used for bookkeeping only; Ack reports whether
// the block was outstanding.
func (q *Queue) Ack(id int) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.claimed[id]; !ok {
		return false
	}
	delete(q.claimed, id)
	q.acked++
	return true
}

// Len returns the number of unclaimed blocks.
func (q *Queue) Len() int {
	return len(q.blocks)
}

// Acked returns the number of acknowledged blocks.
func (q *Queue) Acked() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.acked
}

// Outstanding returns the blocks that were claimed but not yet
// acknowledged, ordered by ID.
func (q *Queue) Outstanding() []cerberus.Block {
	q.mu.Lock()
	blocks := make([]cerberus.Block, 0, len(q.claimed))
	for _, b := range q.claimed {
		blocks = append(blocks, b)
	}
	q.mu.Unlock()
	sort.Slice(blocks, func(i, j int) bool { return blocks[i].ID < blocks[j].ID })
	return blocks
}
