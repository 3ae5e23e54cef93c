// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package cerberus

import (
	"fmt"
	"math"

	"github.com/grailbio/base/errors"
)

// A Block is a contiguous, half-open range of inputs [Low, High). It
// is the unit of work distribution: each block is claimed and
// computed by a single worker.
type Block struct {
	// ID is the block's index in the partition of a run.
	ID int
	// Low and High bound the block's inputs: Low <= x < High.
	Low, High int64
}

// Len returns the number of inputs in the block.
func (b Block) Len() int64 { return b.High - b.Low }

// String returns a representation of b formatted as
//
//	{b.ID}[{b.Low},{b.High})
func (b Block) String() string {
	return fmt.Sprintf("%d[%d,%d)", b.ID, b.Low, b.High)
}

// AutoBlockSize returns the block size used when none is given for a
// range of n inputs: the largest power of ten not exceeding n.
func AutoBlockSize(n int64) int64 {
	size := int64(1)
	for size <= math.MaxInt64/10 && size*10 <= n {
		size *= 10
	}
	return size
}

// Partition splits the range [start, stop) into blocks of the given
// size, the last of which is clipped to end at stop. If size is 0, it
// is chosen by AutoBlockSize. Blocks are numbered densely from 0 in
// range order.
//
// Partition returns an error with kind errors.Invalid if stop <= start
// or if size is negative.
func Partition(start, stop, size int64) ([]Block, error) {
	if stop <= start {
		return nil, errors.E(errors.Invalid,
			fmt.Sprintf("invalid range [%d, %d): stop - start must be at least 1", start, stop))
	}
	n := stop - start
	if n < 0 {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("range [%d, %d) is too large", start, stop))
	}
	switch {
	case size < 0:
		return nil, errors.E(errors.Invalid, fmt.Sprintf("invalid block size %d", size))
	case size == 0:
		size = AutoBlockSize(n)
	}
	count := n / size
	if n%size != 0 {
		count++
	}
	blocks := make([]Block, count)
	for i := range blocks {
		low := start + int64(i)*size
		high := stop
		if stop-low > size {
			high = low + size
		}
		blocks[i] = Block{ID: i, Low: low, High: high}
	}
	return blocks, nil
}
