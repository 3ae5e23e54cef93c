// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package main

import (
	"fmt"

	"github.com/rowanphipps/Cerberus"
)

var (
	square = cerberus.Func("demo.square", func(x int64) int64 {
		return x * x
	})

	isprime = cerberus.Func("demo.isprime", func(x int64) bool {
		if x < 2 {
			return false
		}
		for d := int64(2); d*d <= x; d++ {
			if x%d == 0 {
				return false
			}
		}
		return true
	})

	// collatz returns the number of steps the Collatz sequence
	// starting at x takes to reach 1.
	collatz = cerberus.Func("demo.collatz", func(x int64) (int, error) {
		if x < 1 {
			return 0, fmt.Errorf("collatz is undefined for %d", x)
		}
		var steps int
		for ; x != 1; steps++ {
			if x%2 == 0 {
				x /= 2
			} else {
				x = 3*x + 1
			}
		}
		return steps, nil
	})
)
