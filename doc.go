// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

/*
Package cerberus distributes an embarrassingly parallel computation
over an integer range: a registered function is applied to every
integer in [start, stop), and the outputs are collected into a single
mapping from input to output.

The range is partitioned into blocks (see Partition). Blocks are
placed on a work queue from which workers pull until it is empty: a
local worker computes blocks with a bounded pool of goroutines, and
one remote worker per configured machine feeds blocks to a controller
process started over SSH. Package exec implements the scheduler;
package controller implements the remote side; package blockio
implements the protocol spoken between them.

Because Go cannot ship code across the wire, target functions are
named: they are registered with Func in every binary that takes part
in a run, usually as package-level variables:

	var Square = cerberus.Func("demo.square", func(x int64) int64 {
		return x * x
	})

The controller is the same binary, invoked with its "controller"
subcommand (see package cerberuscmd), so a function registered this
way is available on both sides.
*/
package cerberus
