// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package remote

import (
	"context"
	"io"
	"sync"

	"github.com/grailbio/base/errors"
	"github.com/rowanphipps/Cerberus"
)

// ServeFunc serves a command in-process, reading its input from stdin
// and writing to stdout and stderr.
type ServeFunc func(ctx context.Context, target cerberus.Target, command []string, stdin io.Reader, stdout, stderr io.Writer) error

// Loopback returns a transport that runs commands in-process by
// calling serve in a separate goroutine, connected through pipes.
// It is used to test workers without remote machines, and to debug
// controllers locally.
func Loopback(serve ServeFunc) Transport {
	return TransportFunc(func(ctx context.Context, target cerberus.Target, command []string) (*Process, error) {
		var (
			inr, inw   = io.Pipe()
			outr, outw = io.Pipe()
			errr, errw = io.Pipe()
			done       = make(chan struct{})
			err        error
		)
		go func() {
			defer close(done)
			err = serve(ctx, target, command, inr, outw, errw)
			// Unblock a peer still writing requests, and signal end
			// of output.
			inr.CloseWithError(io.ErrClosedPipe)
			outw.CloseWithError(err)
			errw.Close()
		}()
		var killOnce sync.Once
		kill := func() error {
			killOnce.Do(func() {
				err := errors.E(errors.Net, "process killed")
				inr.CloseWithError(err)
				outr.CloseWithError(err)
				errr.CloseWithError(err)
			})
			return nil
		}
		wait := func() error {
			<-done
			return err
		}
		return NewProcess(inw, outr, errr, wait, kill), nil
	})
}
