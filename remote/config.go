// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package remote

import (
	"strings"
	"time"

	"github.com/google/shlex"
	"github.com/grailbio/base/config"
	"github.com/grailbio/base/errors"
)

func init() {
	config.Register("cerberus/transport/ssh", func(constr *config.Constructor) {
		var (
			t           SSH
			identities  string
			dialTimeout string
		)
		constr.StringVar(&identities, "identities", "", "comma-separated list of private key files; defaults to ~/.ssh/id_*")
		constr.StringVar(&t.KnownHosts, "known-hosts", "", "known_hosts file used to verify host keys; defaults to ~/.ssh/known_hosts")
		constr.BoolVar(&t.InsecureIgnoreHostKey, "insecure-ignore-host-key", false, "do not verify host keys")
		constr.StringVar(&dialTimeout, "dial-timeout", "30s", "timeout for establishing a session")
		constr.Doc = "cerberus/transport/ssh runs controllers over SSH sessions"
		constr.New = func() (interface{}, error) {
			if identities != "" {
				t.IdentityFiles = strings.Split(identities, ",")
			}
			var err error
			if t.DialTimeout, err = time.ParseDuration(dialTimeout); err != nil {
				return nil, errors.E(errors.Invalid, "dial-timeout", err)
			}
			return &t, nil
		}
	})
	config.Register("cerberus/transport/command", func(constr *config.Constructor) {
		var (
			t    Command
			args string
		)
		constr.StringVar(&t.Path, "path", "ssh", "ssh client binary")
		constr.StringVar(&args, "args", "-o BatchMode=yes", "arguments passed to the client before the destination")
		constr.Doc = "cerberus/transport/command runs controllers through the local ssh client"
		constr.New = func() (interface{}, error) {
			var err error
			if t.Args, err = shlex.Split(args); err != nil {
				return nil, errors.E(errors.Invalid, "args", err)
			}
			return &t, nil
		}
	})
}
