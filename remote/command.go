// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package remote

import (
	"context"
	"fmt"
	"os/exec"

	"github.com/grailbio/base/errors"
	"github.com/rowanphipps/Cerberus"
)

// Command is a transport that runs commands through a local ssh
// client binary, so that the user's ssh configuration (aliases, jump
// hosts, control masters) applies.
type Command struct {
	// Path is the client binary; it defaults to "ssh".
	Path string
	// Args are passed to the client before the destination, for
	// example "-o", "BatchMode=yes".
	Args []string
}

// Start implements Transport. The process is not bound to ctx: it
// lives until it exits or is killed.
func (c *Command) Start(ctx context.Context, target cerberus.Target, command []string) (*Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := c.Path
	if path == "" {
		path = "ssh"
	}
	args := append(append([]string(nil), c.Args...), target.String(), "--", Quote(command))
	cmd := exec.Command(path, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, errors.E(errors.Net, fmt.Sprintf("start %s for %s", path, target), err)
	}
	kill := func() error {
		return cmd.Process.Kill()
	}
	return NewProcess(stdin, stdout, stderr, cmd.Wait, kill), nil
}
