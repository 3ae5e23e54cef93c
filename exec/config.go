// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"time"

	"github.com/grailbio/base/config"
	"github.com/grailbio/base/errors"
	"github.com/rowanphipps/Cerberus/blockio"
	"github.com/rowanphipps/Cerberus/remote"
)

// Config holds the session parameters read from a configuration
// profile. Targets are not part of the profile: they are named by
// each project's manifest.
type Config struct {
	Parallelism    int
	Framing        blockio.Framing
	PollInterval   time.Duration
	StallTimeout   time.Duration
	BlockTimeout   time.Duration
	ConnectRetries int
	// Transport starts remote controllers.
	Transport remote.Transport
}

func init() {
	config.Register("cerberus", func(constr *config.Constructor) {
		var (
			c                          Config
			framing                    string
			poll, stall, blockDuration string
		)
		constr.IntVar(&c.Parallelism, "parallelism", 0, "size of the local worker pool; 0 keeps one core for the orchestrator")
		constr.StringVar(&framing, "framing", blockio.SentinelFraming.String(), "response framing requested from controllers (sentinel or length)")
		constr.StringVar(&poll, "poll-interval", DefaultPollInterval.String(), "interval at which progress is reported")
		constr.StringVar(&stall, "stall-timeout", "0s", "fail a run when no block completes within this duration; 0 waits forever")
		constr.StringVar(&blockDuration, "block-timeout", "0s", "kill a remote controller that does not answer a request within this duration; 0 waits forever")
		constr.IntVar(&c.ConnectRetries, "connect-retries", 0, "number of times a failed connection is retried")
		constr.InstanceVar(&c.Transport, "transport", "cerberus/transport/ssh", "the transport used to start remote controllers")
		constr.Doc = "cerberus configures the block scheduler"
		constr.New = func() (interface{}, error) {
			if c.Parallelism < 0 {
				return nil, errors.E(errors.Invalid, "parallelism must be non-negative")
			}
			var err error
			if c.Framing, err = blockio.ParseFraming(framing); err != nil {
				return nil, err
			}
			for _, d := range []struct {
				name string
				val  string
				ptr  *time.Duration
			}{
				{"poll-interval", poll, &c.PollInterval},
				{"stall-timeout", stall, &c.StallTimeout},
				{"block-timeout", blockDuration, &c.BlockTimeout},
			} {
				if *d.ptr, err = time.ParseDuration(d.val); err != nil {
					return nil, errors.E(errors.Invalid, d.name, err)
				}
			}
			if c.PollInterval <= 0 {
				return nil, errors.E(errors.Invalid, "poll-interval must be positive")
			}
			return &c, nil
		}
	})
}

// Options returns the session options configured by c. Workers and
// the controller command are configured separately, from a project's
// manifest.
func (c *Config) Options() []Option {
	options := []Option{
		Framing(c.Framing),
		PollInterval(c.PollInterval),
		StallTimeout(c.StallTimeout),
		BlockTimeout(c.BlockTimeout),
		ConnectRetries(c.ConnectRetries),
	}
	if c.Parallelism > 0 {
		options = append(options, Parallelism(c.Parallelism))
	}
	return options
}
