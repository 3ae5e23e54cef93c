// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/must"
	"github.com/grailbio/base/status"
	"github.com/rowanphipps/Cerberus"
	"github.com/rowanphipps/Cerberus/blockio"
	"github.com/rowanphipps/Cerberus/remote"
	"golang.org/x/sync/errgroup"
)

// DefaultPollInterval is the default interval at which a run merges
// results and reports progress.
const DefaultPollInterval = 500 * time.Millisecond

// DefaultController is the default controller command: the cerberus
// binary's controller subcommand.
var DefaultController = []string{"cerberus", "controller"}

// Session represents a Cerberus compute session: a set of workers,
// local and remote, among which the blocks of a run are dispatched.
// A session may perform multiple runs, one at a time; every run
// connects to its remote targets afresh.
//
//	sess := exec.Start(exec.Local, exec.Remote(transport, targets...))
//	res, err := sess.Run(ctx, fn, 0, 1e6, 0)
//	if err != nil {
//		log.Fatal(err)
//	}
type Session struct {
	local        bool
	p            int
	transport    remote.Transport
	targets      []cerberus.Target
	command      []string
	framing      blockio.Framing
	poll         time.Duration
	stall        time.Duration
	blockTimeout time.Duration
	retries      int
	progress     io.Writer
	status       *status.Status
}

// An Option represents a session configuration parameter value.
type Option func(s *Session)

// Local configures the session to compute blocks in-process, in
// addition to any remote targets.
var Local Option = func(s *Session) {
	s.local = true
}

// Remote configures the session to compute blocks on the provided
// targets, whose controllers are started with the transport.
func Remote(transport remote.Transport, targets ...cerberus.Target) Option {
	return func(s *Session) {
		s.transport = transport
		s.targets = append(s.targets, targets...)
	}
}

// Parallelism configures the size of the local worker pool.
func Parallelism(p int) Option {
	if p <= 0 {
		panic("exec.Parallelism: p <= 0")
	}
	return func(s *Session) {
		s.p = p
	}
}

// Controller configures the command used to start remote
// controllers. The controller's arguments are appended to it.
func Controller(command ...string) Option {
	if len(command) == 0 {
		panic("exec.Controller: empty command")
	}
	return func(s *Session) {
		s.command = command
	}
}

// Framing configures the response framing requested from remote
// controllers.
func Framing(framing blockio.Framing) Option {
	return func(s *Session) {
		s.framing = framing
	}
}

// PollInterval configures the interval at which results are merged
// and progress is reported.
func PollInterval(d time.Duration) Option {
	if d <= 0 {
		panic("exec.PollInterval: d <= 0")
	}
	return func(s *Session) {
		s.poll = d
	}
}

// StallTimeout configures the session to fail a run when no block
// completes within d. Workers still computing are abandoned. By
// default runs wait indefinitely.
func StallTimeout(d time.Duration) Option {
	return func(s *Session) {
		s.stall = d
	}
}

// BlockTimeout bounds the time a remote controller may take to
// answer a single request. A controller that exceeds it is killed
// and its worker stops. By default requests are not bounded.
func BlockTimeout(d time.Duration) Option {
	return func(s *Session) {
		s.blockTimeout = d
	}
}

// ConnectRetries configures the number of times a failed connection
// to a remote target is retried.
func ConnectRetries(n int) Option {
	return func(s *Session) {
		s.retries = n
	}
}

// Progress configures the writer to which run progress is reported.
func Progress(w io.Writer) Option {
	return func(s *Session) {
		s.progress = w
	}
}

// Status configures the session with a status object to which
// run and worker statuses are reported.
func Status(status *status.Status) Option {
	return func(s *Session) {
		s.status = status
	}
}

// Start creates a new session, configuring it according to the
// provided options. Sessions with no options compute locally.
func Start(options ...Option) *Session {
	s := &Session{
		command: DefaultController,
		framing: blockio.SentinelFraming,
		poll:    DefaultPollInterval,
	}
	for _, opt := range options {
		opt(s)
	}
	if !s.local && len(s.targets) == 0 {
		s.local = true
	}
	if s.p == 0 {
		s.p = DefaultLocalParallelism()
	}
	return s
}

// Parallelism returns the size of the session's local worker pool.
func (s *Session) Parallelism() int { return s.p }

// Targets returns the session's remote targets.
func (s *Session) Targets() []cerberus.Target { return s.targets }

func (s *Session) workers(fn *cerberus.FuncValue, group *status.Group) []worker {
	var workers []worker
	start := func(name string) *status.Task {
		if group == nil {
			return nil
		}
		return group.Start(name)
	}
	for _, t := range s.targets {
		workers = append(workers, &remoteWorker{
			target:       t,
			transport:    s.transport,
			command:      s.command,
			fn:           fn,
			framing:      s.framing,
			blockTimeout: s.blockTimeout,
			retries:      s.retries,
			status:       start(t.Name),
		})
	}
	if s.local {
		workers = append(workers, &localWorker{fn: fn, p: s.p, status: start(LocalName)})
	}
	return workers
}

// Run computes fn over every input in [start, stop), split into blocks
// of blockSize inputs (or an automatic size if blockSize is 0).
// Blocks are dispatched to the session's workers, which claim them
// until none are left; workers that fail are tolerated as long as
// others complete the run.
//
// Run returns an error if the range is invalid, if ctx is done before
// the run completes, if no worker is left to compute outstanding
// blocks, or if the run stalls. In each case partial results are
// discarded. Run returns only after every worker has stopped, except
// when the run stalls: workers still computing are then abandoned.
func (s *Session) Run(ctx context.Context, fn *cerberus.FuncValue, start, stop, blockSize int64) (*Result, error) {
	blocks, err := cerberus.Partition(start, stop, blockSize)
	if err != nil {
		return nil, err
	}
	if len(s.targets) > 0 && s.transport == nil {
		return nil, errors.E(errors.Invalid, "exec: remote targets configured without a transport")
	}
	q := NewQueue(len(blocks))
	for _, b := range blocks {
		must.Nil(q.Push(b))
	}
	q.Seal()

	var group *status.Group
	if s.status != nil {
		group = s.status.Groupf("run %s [%d, %d)", fn, start, stop)
	}
	var (
		results = make(chan cerberus.BlockResult, len(blocks))
		abortc  = make(chan struct{})
		workers = s.workers(fn, group)
		errs    = make([]error, len(workers))
		donec   = make(chan struct{})
		g       errgroup.Group
		werr    error
		r       = &run{ctx: ctx, abort: abortc, queue: q, results: results, cancel: NewSignal()}
	)
	log.Printf("exec: run %s over [%d, %d): %d blocks, %d workers", fn, start, stop, len(blocks), len(workers))
	// A failed worker does not stop the others: every error is kept in
	// errs, and g.Wait reports the first one.
	for i := range workers {
		i, w := i, workers[i]
		g.Go(func() error {
			errs[i] = w.Run(r)
			if errs[i] != nil {
				log.Error.Printf("exec: worker %s failed: %v", w.Name(), errs[i])
			}
			return errs[i]
		})
	}
	go func() {
		werr = g.Wait()
		close(donec)
	}()

	res := newResult(len(blocks))
	err = s.wait(ctx, r, results, donec, res, workers, errs, group)
	r.cancel.Set()
	if errors.Is(errors.Timeout, err) {
		// Remote sessions are killed. Local goroutines stuck in the
		// target function cannot be interrupted and are abandoned.
		log.Error.Printf("%v", err)
		close(abortc)
		return nil, err
	}
	<-donec
	for i, w := range workers {
		if errs[i] != nil {
			res.worker(w.Name()).Err = errs[i]
		}
	}
	if err != nil {
		return nil, err
	}
	if werr != nil {
		log.Printf("exec: run %s completed despite worker failures; first: %v", fn, werr)
	}
	if group != nil {
		group.Printf("%d complete of %d; done", res.Completed, res.Total)
	}
	log.Printf("exec: run %s complete: %d values", fn, len(res.Values))
	return res, nil
}

// wait merges results until every block is complete, the run is
// aborted, the run stalls, or no worker is left to complete it.
func (s *Session) wait(ctx context.Context, r *run, results <-chan cerberus.BlockResult, donec <-chan struct{}, res *Result, workers []worker, errs []error, group *status.Group) error {
	var (
		ticker   = time.NewTicker(s.poll)
		progress = newProgress(s.progress)
		last     = time.Now()
	)
	defer ticker.Stop()
	defer progress.done()
	merge := func() {
		for {
			select {
			case br := <-results:
				res.merge(br)
				last = time.Now()
			default:
				progress.update(res.Completed, res.Total)
				if group != nil {
					group.Printf("%d complete of %d", res.Completed, res.Total)
				}
				return
			}
		}
	}
	for {
		merge()
		if res.Completed == res.Total {
			return nil
		}
		select {
		case <-donec:
			// Every result was sent before its worker returned.
			merge()
			if res.Completed == res.Total {
				return nil
			}
			return s.abandoned(r.queue, res, workers, errs)
		default:
		}
		if s.stall > 0 && time.Since(last) > s.stall {
			return errors.E(errors.Timeout,
				fmt.Sprintf("exec: no block completed in %s (%d complete of %d)", s.stall, res.Completed, res.Total))
		}
		select {
		case <-ctx.Done():
			log.Printf("exec: run aborted with %d of %d blocks complete", res.Completed, res.Total)
			return errors.E(errors.Canceled, "exec: run aborted", ctx.Err())
		case <-ticker.C:
		}
	}
}

// abandoned returns the error reported when every worker has stopped
// while blocks remain incomplete.
func (s *Session) abandoned(q *Queue, res *Result, workers []worker, errs []error) error {
	var b strings.Builder
	fmt.Fprintf(&b, "exec: all workers stopped with %d of %d blocks complete", res.Completed, res.Total)
	if outstanding := q.Outstanding(); len(outstanding) > 0 {
		ids := make([]string, len(outstanding))
		for i, blk := range outstanding {
			ids[i] = blk.String()
		}
		fmt.Fprintf(&b, "; abandoned blocks: %s", strings.Join(ids, " "))
	}
	if n := q.Len(); n > 0 {
		fmt.Fprintf(&b, "; %d blocks never claimed", n)
	}
	for i, w := range workers {
		if errs[i] != nil {
			fmt.Fprintf(&b, "\n\t%s: %v", w.Name(), errs[i])
		}
	}
	return errors.E(errors.Unavailable, b.String())
}
