// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"context"

	"github.com/grailbio/base/status"
	"github.com/rowanphipps/Cerberus"
)

// A worker computes blocks claimed from a run's queue. Workers loop
// until the queue is empty or the run's cancellation signal is set.
// A worker that returns an error abandons the block it was computing,
// if any; other workers carry on.
type worker interface {
	// Name returns the worker's display name, used to attribute
	// results.
	Name() string
	// Run computes blocks until the queue is exhausted or the run
	// is cancelled.
	Run(r *run) error
}

// A run holds the state of one Session.Run that is shared by all of
// its workers.
type run struct {
	// ctx is the operator's context. It bounds connection setup.
	ctx context.Context
	// abort is closed when blocks in flight must be abandoned.
	abort <-chan struct{}
	// queue holds the run's unclaimed blocks.
	queue *Queue
	// results receives every completed block. It has room for all
	// of the run's blocks, so sends never block.
	results chan<- cerberus.BlockResult
	// cancel is polled by workers between blocks.
	cancel *Signal
}

// next claims the next block for a worker, reporting false when the
// worker should stop.
func (r *run) next() (cerberus.Block, bool) {
	if r.cancel.IsSet() {
		return cerberus.Block{}, false
	}
	return r.queue.TryClaim()
}

// complete publishes a computed block and acknowledges it.
func (r *run) complete(res cerberus.BlockResult) {
	r.results <- res
	r.queue.Ack(res.Block.ID)
}

// printf prints a status message to task, which may be nil.
func printf(task *status.Task, format string, args ...interface{}) {
	if task != nil {
		task.Printf(format, args...)
	}
}
