// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package cerberus

import (
	"fmt"
	"strconv"

	jsoniter "github.com/json-iterator/go"
)

// A Pair is a single computed value: the output of the target
// function on input In.
type Pair struct {
	In  int64
	Out interface{}
}

// MarshalJSON encodes the pair as the two-element array [In, Out].
func (p Pair) MarshalJSON() ([]byte, error) {
	out, err := jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(p.Out)
	if err != nil {
		return nil, err
	}
	b := make([]byte, 0, len(out)+24)
	b = append(b, '[')
	b = strconv.AppendInt(b, p.In, 10)
	b = append(b, ',')
	b = append(b, out...)
	b = append(b, ']')
	return b, nil
}

// String returns a representation of the pair as "In:Out".
func (p Pair) String() string {
	return fmt.Sprintf("%d:%v", p.In, p.Out)
}

// A BlockResult holds the pairs computed for a block, in input order.
type BlockResult struct {
	Block Block
	Pairs []Pair
	// Worker names the worker that computed the block.
	Worker string
}

// A Target is a remote machine on which a controller computes
// blocks.
type Target struct {
	// Name is the target's display name, or its host if no alias
	// was configured.
	Name string
	// Host is the address of the remote machine, optionally
	// including a port.
	Host string
	// User is the login used on the remote machine.
	User string
	// Cores is the size of the controller's worker pool. Zero
	// means all of the machine's cores.
	Cores int
}

// String returns the target formatted as user@host.
func (t Target) String() string {
	if t.User == "" {
		return t.Host
	}
	return t.User + "@" + t.Host
}
