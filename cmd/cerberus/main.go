// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Command cerberus computes the demo functions over integer ranges on
// local and remote machines. It serves both as the orchestrator and,
// when installed on a remote machine, as the controller.
//
//	cerberus run -b 1000 1000000 primes.json
package main

import "github.com/rowanphipps/Cerberus/cerberuscmd"

func main() {
	cerberuscmd.Main()
}
