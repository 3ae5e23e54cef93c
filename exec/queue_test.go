// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"sync"
	"testing"

	fuzz "github.com/google/gofuzz"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
	"github.com/rowanphipps/Cerberus"
)

func fillQueue(t *testing.T, blocks []cerberus.Block) *Queue {
	t.Helper()
	q := NewQueue(len(blocks))
	for _, b := range blocks {
		assert.NoError(t, q.Push(b))
	}
	q.Seal()
	return q
}

func TestQueueOrder(t *testing.T) {
	blocks, err := cerberus.Partition(0, 2500, 1000)
	assert.NoError(t, err)
	q := fillQueue(t, blocks)
	expect.EQ(t, q.Len(), 3)
	for _, want := range blocks {
		b, ok := q.TryClaim()
		assert.EQ(t, ok, true)
		expect.EQ(t, b, want)
	}
	_, ok := q.TryClaim()
	expect.EQ(t, ok, false)
	expect.EQ(t, q.Outstanding(), blocks)
	expect.EQ(t, q.Ack(1), true)
	expect.EQ(t, q.Ack(1), false)
	expect.EQ(t, q.Outstanding(), []cerberus.Block{blocks[0], blocks[2]})
	expect.EQ(t, q.Acked(), 1)
}

func TestQueueSealed(t *testing.T) {
	q := NewQueue(2)
	assert.NoError(t, q.Push(cerberus.Block{ID: 0, Low: 0, High: 1}))
	q.Seal()
	q.Seal()
	err := q.Push(cerberus.Block{ID: 1, Low: 1, High: 2})
	expect.EQ(t, errors.Is(errors.Precondition, err), true)
}

func TestQueueFull(t *testing.T) {
	q := NewQueue(1)
	assert.NoError(t, q.Push(cerberus.Block{ID: 0, Low: 0, High: 1}))
	err := q.Push(cerberus.Block{ID: 1, Low: 1, High: 2})
	expect.EQ(t, errors.Is(errors.Invalid, err), true)
}

func TestQueueEmpty(t *testing.T) {
	q := NewQueue(0)
	_, ok := q.TryClaim()
	expect.EQ(t, ok, false)
	q.Seal()
	_, ok = q.TryClaim()
	expect.EQ(t, ok, false)
}

// TestQueueExclusive checks that concurrent claimers partition the
// queue: every block is claimed exactly once.
func TestQueueExclusive(t *testing.T) {
	fz := fuzz.NewWithSeed(12345)
	for iter := 0; iter < 20; iter++ {
		var n, claimers uint8
		fz.Fuzz(&n)
		fz.Fuzz(&claimers)
		blocks, err := cerberus.Partition(0, int64(n)+1, 1)
		assert.NoError(t, err)
		q := fillQueue(t, blocks)
		var (
			wg      sync.WaitGroup
			claimed = make([][]int, int(claimers%16)+1)
		)
		for i := range claimed {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				for {
					b, ok := q.TryClaim()
					if !ok {
						return
					}
					claimed[i] = append(claimed[i], b.ID)
					q.Ack(b.ID)
				}
			}(i)
		}
		wg.Wait()
		seen := make(map[int]int)
		for _, ids := range claimed {
			for _, id := range ids {
				seen[id]++
			}
		}
		assert.EQ(t, len(seen), len(blocks))
		for id, count := range seen {
			if count != 1 {
				t.Errorf("block %d claimed %d times", id, count)
			}
		}
		expect.EQ(t, q.Acked(), len(blocks))
		expect.EQ(t, len(q.Outstanding()), 0)
	}
}

func TestSignal(t *testing.T) {
	s := NewSignal()
	expect.EQ(t, s.IsSet(), false)
	select {
	case <-s.Done():
		t.Fatal("signal done before set")
	default:
	}
	s.Set()
	s.Set()
	expect.EQ(t, s.IsSet(), true)
	<-s.Done()
}
