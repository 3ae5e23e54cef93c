// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"bufio"
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/retry"
	"github.com/grailbio/base/status"
	"github.com/rowanphipps/Cerberus"
	"github.com/rowanphipps/Cerberus/blockio"
	"github.com/rowanphipps/Cerberus/remote"
)

// shutdownTimeout bounds the time a remote controller is given to
// exit after the shutdown token is sent, before it is killed.
var shutdownTimeout = 10 * time.Second

// connectPolicy is the backoff applied between connection attempts.
var connectPolicy = retry.Backoff(time.Second, 10*time.Second, 2)

// sessionState is the state of a remote worker's session.
type sessionState int

const (
	// sessionInit: the session has not yet connected.
	sessionInit sessionState = iota
	// sessionOpen: the controller is running and serving blocks.
	sessionOpen
	// sessionClosing: the shutdown token has been sent.
	sessionClosing
	// sessionClosed: the controller has exited or was killed.
	sessionClosed
)

var sessionStates = [...]string{
	sessionInit:    "init",
	sessionOpen:    "open",
	sessionClosing: "closing",
	sessionClosed:  "closed",
}

func (s sessionState) String() string {
	if int(s) < len(sessionStates) {
		return sessionStates[s]
	}
	return fmt.Sprintf("sessionState(%d)", int(s))
}

// remoteWorker computes blocks by driving a controller on a remote
// target. The controller is started over the transport, and blocks
// are exchanged over its standard streams, one request at a time.
type remoteWorker struct {
	target    cerberus.Target
	transport remote.Transport
	// command is the controller command, without the controller's
	// arguments.
	command      []string
	fn           *cerberus.FuncValue
	framing      blockio.Framing
	blockTimeout time.Duration
	retries      int
	status       *status.Task

	state    sessionState
	proc     *remote.Process
	dec      *blockio.Decoder
	timedOut int32
}

func (w *remoteWorker) Name() string { return w.target.Name }

// controllerCommand returns the command line that starts the
// controller for the worker's function.
func (w *remoteWorker) controllerCommand() []string {
	cmd := append([]string(nil), w.command...)
	return append(cmd,
		"-framing="+w.framing.String(),
		strconv.Itoa(w.target.Cores),
		w.fn.Module(),
		w.fn.Function(),
	)
}

func (w *remoteWorker) Run(r *run) (err error) {
	if err := w.open(r); err != nil {
		printf(w.status, "connect: %v", err)
		return err
	}
	defer func() {
		if cerr := w.close(); cerr != nil {
			if err == nil {
				err = cerr
			} else {
				log.Debug.Printf("exec: %s: close: %v", w.target.Name, cerr)
			}
		}
	}()
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-r.abort:
			log.Error.Printf("exec: %s: abandoning session", w.target.Name)
			w.proc.Kill()
		case <-done:
		}
	}()
	var n int
	for {
		b, ok := r.next()
		if !ok {
			break
		}
		printf(w.status, "block %s", b)
		pairs, err := w.compute(b)
		if err != nil {
			printf(w.status, "block %s: %v", b, err)
			return errors.E(fmt.Sprintf("%s: block %s", w.target.Name, b), err)
		}
		r.complete(cerberus.BlockResult{Block: b, Pairs: pairs, Worker: w.target.Name})
		n++
	}
	printf(w.status, "done: %d blocks", n)
	return nil
}

// open starts the controller, retrying failed connections up to the
// configured number of times. Retries stop once the run is cancelled,
// since the remaining blocks no longer need this worker.
func (w *remoteWorker) open(r *run) error {
	if w.state != sessionInit {
		return errors.E(errors.Precondition, fmt.Sprintf("%s: session is %s", w.target.Name, w.state))
	}
	var (
		cmd         = w.controllerCommand()
		policy      = retry.MaxTries(connectPolicy, w.retries+1)
		ctx, cancel = context.WithCancel(r.ctx)
	)
	defer cancel()
	go func() {
		select {
		case <-r.cancel.Done():
			cancel()
		case <-ctx.Done():
		}
	}()
	printf(w.status, "connecting to %s", w.target)
	for retries := 0; ; retries++ {
		proc, err := w.transport.Start(r.ctx, w.target, cmd)
		if err == nil {
			w.proc = proc
			break
		}
		log.Error.Printf("exec: connect to %s: %v", w.target, err)
		if werr := retry.Wait(ctx, policy, retries); werr != nil || r.cancel.IsSet() {
			w.state = sessionClosed
			return errors.E(errors.Net, fmt.Sprintf("%s: connect to %s", w.target.Name, w.target), err)
		}
	}
	w.state = sessionOpen
	w.dec = blockio.NewDecoder(w.proc.Stdout, w.framing)
	go w.drainStderr()
	log.Printf("exec: %s: controller started on %s", w.target.Name, w.target)
	return nil
}

// drainStderr logs the controller's standard error until it is
// closed.
func (w *remoteWorker) drainStderr() {
	scan := bufio.NewScanner(w.proc.Stderr)
	for scan.Scan() {
		log.Debug.Printf("exec: %s: %s", w.target.Name, scan.Text())
	}
}

// compute sends a block to the controller and reads back its
// solution.
func (w *remoteWorker) compute(b cerberus.Block) ([]cerberus.Pair, error) {
	if w.blockTimeout > 0 {
		timer := time.AfterFunc(w.blockTimeout, func() {
			atomic.StoreInt32(&w.timedOut, 1)
			log.Error.Printf("exec: %s: block %s timed out after %s", w.target.Name, b, w.blockTimeout)
			w.proc.Kill()
		})
		defer timer.Stop()
	}
	pairs, err := w.exchange(b)
	if err != nil && atomic.LoadInt32(&w.timedOut) == 1 {
		return nil, errors.E(errors.Timeout, fmt.Sprintf("no response within %s", w.blockTimeout), err)
	}
	return pairs, err
}

func (w *remoteWorker) exchange(b cerberus.Block) ([]cerberus.Pair, error) {
	if err := blockio.WriteRequest(w.proc.Stdin, blockio.BlockRequest(b)); err != nil {
		return nil, errors.E(errors.Net, "send request", err)
	}
	pairs, err := w.dec.Decode()
	if err != nil {
		return nil, err
	}
	if int64(len(pairs)) != b.Len() {
		return nil, errors.E(errors.Integrity, fmt.Sprintf("got %d pairs, want %d", len(pairs), b.Len()))
	}
	for i, p := range pairs {
		if want := b.Low + int64(i); p.In != want {
			return nil, errors.E(errors.Integrity, fmt.Sprintf("pair %d: got input %d, want %d", i, p.In, want))
		}
	}
	return pairs, nil
}

// close shuts down the session: the shutdown token is sent, the
// controller's input is closed, and the controller is given
// shutdownTimeout to exit before it is killed. Close is called on
// every exit path once the session is open.
func (w *remoteWorker) close() error {
	if w.state != sessionOpen {
		return nil
	}
	w.state = sessionClosing
	if err := blockio.WriteShutdown(w.proc.Stdin); err != nil {
		log.Debug.Printf("exec: %s: send shutdown: %v", w.target.Name, err)
	}
	if err := w.proc.Stdin.Close(); err != nil {
		log.Debug.Printf("exec: %s: close input: %v", w.target.Name, err)
	}
	waitc := make(chan error, 1)
	go func() { waitc <- w.proc.Wait() }()
	var err error
	select {
	case err = <-waitc:
	case <-time.After(shutdownTimeout):
		log.Error.Printf("exec: %s: controller did not exit within %s; killing", w.target.Name, shutdownTimeout)
		w.proc.Kill()
		err = <-waitc
	}
	w.state = sessionClosed
	if err != nil {
		return errors.E(errors.Unavailable, fmt.Sprintf("%s: controller exited", w.target.Name), err)
	}
	log.Printf("exec: %s: session closed", w.target.Name)
	return nil
}
