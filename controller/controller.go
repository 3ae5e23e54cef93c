// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package controller implements the remote side of a cerberus run: a
// long-lived process that reads block requests from its standard
// input, computes them with a local worker pool, and writes framed
// responses to its standard output until it is asked to shut down.
package controller

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"strconv"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/rowanphipps/Cerberus"
	"github.com/rowanphipps/Cerberus/blockio"
	"github.com/rowanphipps/Cerberus/pool"
)

// State is the state of a controller.
type State int

const (
	// Serving controllers accept requests.
	Serving State = iota
	// Terminated controllers have shut down their worker pool and
	// accept no further requests.
	Terminated
)

// String returns the state's name.
func (s State) String() string {
	switch s {
	case Serving:
		return "SERVING"
	case Terminated:
		return "TERMINATED"
	default:
		return "State(" + strconv.Itoa(int(s)) + ")"
	}
}

// A Controller serves block requests for a single target function.
type Controller struct {
	fn      *cerberus.FuncValue
	pool    *pool.Pool
	framing blockio.Framing
	state   State
	served  int
}

// New returns a serving controller that computes fn with a pool of
// the given size (0 meaning all cores), writing responses with the
// provided framing.
func New(fn *cerberus.FuncValue, parallelism int, framing blockio.Framing) *Controller {
	return &Controller{
		fn:      fn,
		pool:    pool.New(parallelism),
		framing: framing,
	}
}

// Command returns a controller configured by the command line
//
//	[-framing sentinel|length] cores module function
//
// where cores is the worker pool size (0 for all cores) and module
// and function name a function registered with cerberus.Func.
func Command(args []string) (*Controller, error) {
	flags := flag.NewFlagSet("controller", flag.ContinueOnError)
	flags.SetOutput(io.Discard)
	framingName := flags.String("framing", blockio.SentinelFraming.String(), "response framing")
	if err := flags.Parse(args); err != nil {
		return nil, errors.E(errors.Invalid, "controller", err)
	}
	if flags.NArg() != 3 {
		return nil, errors.E(errors.Invalid, "usage: controller [-framing f] cores module function")
	}
	cores, err := strconv.Atoi(flags.Arg(0))
	if err != nil || cores < 0 {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("invalid core count %q", flags.Arg(0)))
	}
	framing, err := blockio.ParseFraming(*framingName)
	if err != nil {
		return nil, err
	}
	name := flags.Arg(2)
	if module := flags.Arg(1); module != "" {
		name = module + "." + name
	}
	fn, err := cerberus.Lookup(name)
	if err != nil {
		return nil, err
	}
	return New(fn, cores, framing), nil
}

// State returns the controller's current state.
func (c *Controller) State() State { return c.state }

// Served returns the number of blocks served so far.
func (c *Controller) Served() int { return c.served }

// Serve reads requests from in and writes responses to out until the
// shutdown token is read, at which point the worker pool is closed
// and the controller terminates. Serve returns nil after a clean
// shutdown.
//
// Any other outcome is fatal: a malformed request, a stream that ends
// without the shutdown token, or a failure of the target function.
// The latter is reported to the peer as an error response before
// Serve returns. In every case the controller is terminated when
// Serve returns.
func (c *Controller) Serve(in io.Reader, out io.Writer) error {
	if c.state != Serving {
		return errors.E(errors.Precondition, fmt.Sprintf("controller is %s", c.state))
	}
	defer c.terminate()
	log.Printf("controller: serving %s with %d workers (%s framing)", c.fn, c.pool.Size(), c.framing)
	var (
		w    = bufio.NewWriter(out)
		enc  = blockio.NewEncoder(w, c.framing)
		reqs = blockio.NewRequestReader(in)
	)
	for {
		req, err := reqs.Next()
		switch {
		case err == blockio.ErrShutdown:
			log.Printf("controller: shutdown after %d blocks", c.served)
			return nil
		case err == io.EOF:
			return errors.E(errors.Net, "controller: input closed without shutdown", io.ErrUnexpectedEOF)
		case err != nil:
			return err
		}
		log.Debug.Printf("controller: received block [%d, %d)", req.Start, req.Stop)
		pairs, err := c.pool.Map(c.fn, req.Start, req.Stop)
		if err != nil {
			if encErr := enc.EncodeError(err); encErr != nil {
				log.Error.Printf("controller: report %v: %v", err, encErr)
			}
			return err
		}
		if err := enc.Encode(pairs); err != nil {
			return err
		}
		c.served++
	}
}

func (c *Controller) terminate() {
	c.pool.Close()
	c.state = Terminated
}
