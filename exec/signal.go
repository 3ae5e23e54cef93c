// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import "sync"

// A Signal is a cancellation flag shared by the workers of a run. It
// is initially unset, and once set it remains set. Workers poll it
// between blocks; setting it never interrupts a block in flight.
type Signal struct {
	once sync.Once
	c    chan struct{}
}

// NewSignal returns a new, unset signal.
func NewSignal() *Signal {
	return &Signal{c: make(chan struct{})}
}

// Set sets the signal. Only the first call has an effect.
func (s *Signal) Set() {
	s.once.Do(func() { close(s.c) })
}

// IsSet tells whether the signal has been set.
func (s *Signal) IsSet() bool {
	select {
	case <-s.c:
		return true
	default:
		return false
	}
}

// Done returns a channel that is closed when the signal is set.
func (s *Signal) Done() <-chan struct{} {
	return s.c
}
