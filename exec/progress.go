// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

// progress writes "<completed> complete of <total>" lines. On a
// terminal, each line overwrites the previous one.
type progress struct {
	w        io.Writer
	tty      bool
	reported int
}

func newProgress(w io.Writer) *progress {
	if w == nil {
		return nil
	}
	p := &progress{w: w, reported: -1}
	if f, ok := w.(*os.File); ok {
		p.tty = term.IsTerminal(int(f.Fd()))
	}
	return p
}

// update reports the run's progress if it changed since the last
// report.
func (p *progress) update(completed, total int) {
	if p == nil || completed == p.reported {
		return
	}
	p.reported = completed
	if p.tty {
		fmt.Fprintf(p.w, "\r%d complete of %d", completed, total)
	} else {
		fmt.Fprintf(p.w, "%d complete of %d\n", completed, total)
	}
}

// done terminates the progress line.
func (p *progress) done() {
	if p != nil && p.tty && p.reported >= 0 {
		fmt.Fprintln(p.w)
	}
}
