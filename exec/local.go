// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"runtime"

	"github.com/grailbio/base/log"
	"github.com/grailbio/base/status"
	"github.com/rowanphipps/Cerberus"
	"github.com/rowanphipps/Cerberus/pool"
)

// LocalName is the name under which the local worker's results are
// reported.
const LocalName = "local"

// DefaultLocalParallelism returns the default size of the local
// worker pool: one worker per core, keeping one core for the
// orchestrator.
func DefaultLocalParallelism() int {
	if n := runtime.NumCPU() - 1; n > 1 {
		return n
	}
	return 1
}

// localWorker computes blocks in-process, on a pool of p goroutines.
type localWorker struct {
	fn     *cerberus.FuncValue
	p      int
	status *status.Task
}

func (l *localWorker) Name() string { return LocalName }

func (l *localWorker) Run(r *run) error {
	p := pool.New(l.p)
	defer p.Close()
	printf(l.status, "computing with %d workers", p.Size())
	var n int
	for {
		b, ok := r.next()
		if !ok {
			break
		}
		printf(l.status, "block %s", b)
		pairs, err := p.Map(l.fn, b.Low, b.High)
		if err != nil {
			printf(l.status, "block %s: %v", b, err)
			return err
		}
		r.complete(cerberus.BlockResult{Block: b, Pairs: pairs, Worker: LocalName})
		n++
	}
	log.Debug.Printf("exec: local worker done after %d blocks", n)
	printf(l.status, "done: %d blocks", n)
	return nil
}
