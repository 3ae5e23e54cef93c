// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package remote provides the remote-shell transports over which
// cerberus starts controllers on remote machines. A transport starts
// a command on a target and exposes the command's standard streams.
package remote

import (
	"context"
	"io"
	"strings"
	"sync"

	"github.com/rowanphipps/Cerberus"
)

// A Transport starts commands on remote targets.
type Transport interface {
	// Start runs the command on the target. The command's words are
	// passed to a remote shell after quoting. The returned process
	// must eventually be waited on or killed.
	Start(ctx context.Context, target cerberus.Target, command []string) (*Process, error)
}

// TransportFunc adapts a function to the Transport interface.
type TransportFunc func(ctx context.Context, target cerberus.Target, command []string) (*Process, error)

// Start implements Transport.
func (f TransportFunc) Start(ctx context.Context, target cerberus.Target, command []string) (*Process, error) {
	return f(ctx, target, command)
}

// A Process is a command running on a remote target.
type Process struct {
	// Stdin is connected to the command's standard input. Closing it
	// signals end of input to the command.
	Stdin io.WriteCloser
	// Stdout and Stderr read the command's standard output and
	// error.
	Stdout, Stderr io.Reader

	wait, kill func() error

	once    sync.Once
	waitErr error
}

// NewProcess returns a process with the provided streams. Wait calls
// wait at most once; Kill calls kill and should cause a pending wait
// to return.
func NewProcess(stdin io.WriteCloser, stdout, stderr io.Reader, wait, kill func() error) *Process {
	return &Process{Stdin: stdin, Stdout: stdout, Stderr: stderr, wait: wait, kill: kill}
}

// Wait waits for the command to exit and releases the process's
// resources. It is safe to call Wait multiple times.
func (p *Process) Wait() error {
	p.once.Do(func() { p.waitErr = p.wait() })
	return p.waitErr
}

// Kill terminates the command and its session. Reads and writes
// blocked on the process's streams return with errors.
func (p *Process) Kill() error {
	return p.kill()
}

// Quote returns the words of command joined into a single string
// suitable for evaluation by a POSIX shell.
func Quote(command []string) string {
	quoted := make([]string, len(command))
	for i, word := range command {
		quoted[i] = quoteWord(word)
	}
	return strings.Join(quoted, " ")
}

func quoteWord(word string) string {
	if word == "" {
		return "''"
	}
	safe := true
	for _, r := range word {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || strings.ContainsRune("-_./=:,+@%~", r)) {
			safe = false
			break
		}
	}
	if safe {
		return word
	}
	return "'" + strings.ReplaceAll(word, "'", `'\''`) + "'"
}
