// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"bufio"
	"context"
	"io"
	"sort"
	"strconv"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	jsoniter "github.com/json-iterator/go"
	"github.com/rowanphipps/Cerberus"
)

var resultJSON = jsoniter.Config{EscapeHTML: false, SortMapKeys: true}.Froze()

// WorkerStats summarizes a worker's contribution to a run.
type WorkerStats struct {
	// Blocks is the number of blocks computed by the worker.
	Blocks int
	// Values is the number of values computed by the worker.
	Values int
	// Err is the error that stopped the worker, if any.
	Err error
}

// A Result is the outcome of a completed run: the value computed for
// every input of the run's range.
type Result struct {
	// Values maps each input to its output.
	Values map[int64]interface{}
	// Total is the number of blocks in the run; Completed is the
	// number of blocks whose results were merged.
	Total, Completed int
	// Workers holds per-worker statistics, keyed by worker name.
	Workers map[string]*WorkerStats
}

func newResult(total int) *Result {
	return &Result{
		Values:  make(map[int64]interface{}),
		Total:   total,
		Workers: make(map[string]*WorkerStats),
	}
}

func (r *Result) worker(name string) *WorkerStats {
	stats := r.Workers[name]
	if stats == nil {
		stats = new(WorkerStats)
		r.Workers[name] = stats
	}
	return stats
}

// merge adds a block's pairs to the result. Later values for an input
// replace earlier ones.
func (r *Result) merge(res cerberus.BlockResult) {
	for _, p := range res.Pairs {
		r.Values[p.In] = p.Out
	}
	r.Completed++
	stats := r.worker(res.Worker)
	stats.Blocks++
	stats.Values += len(res.Pairs)
}

// Pairs returns the result's values ordered by input.
func (r *Result) Pairs() []cerberus.Pair {
	pairs := make([]cerberus.Pair, 0, len(r.Values))
	for in, out := range r.Values {
		pairs = append(pairs, cerberus.Pair{In: in, Out: out})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].In < pairs[j].In })
	return pairs
}

// WriteTo writes the result to w as a JSON object mapping each input,
// in increasing order, to its output.
func (r *Result) WriteTo(w io.Writer) (int64, error) {
	cw := &countingWriter{w: bufio.NewWriter(w)}
	cw.WriteString("{")
	for i, p := range r.Pairs() {
		if i > 0 {
			cw.WriteString(",")
		}
		cw.WriteString(strconv.Quote(strconv.FormatInt(p.In, 10)))
		cw.WriteString(":")
		b, err := resultJSON.Marshal(p.Out)
		if err != nil {
			return cw.n, errors.E(errors.Invalid, "encode value for "+strconv.FormatInt(p.In, 10), err)
		}
		cw.Write(b)
	}
	cw.WriteString("}\n")
	if cw.err != nil {
		return cw.n, cw.err
	}
	return cw.n, cw.w.Flush()
}

// WriteFile writes the result to the file at path, which may name any
// location supported by package file. The file is only committed if
// the whole result was written.
func (r *Result) WriteFile(ctx context.Context, path string) (err error) {
	f, err := file.Create(ctx, path)
	if err != nil {
		return err
	}
	if _, err = r.WriteTo(f.Writer(ctx)); err != nil {
		f.Discard(ctx)
		return err
	}
	return f.Close(ctx)
}

// countingWriter writes to a buffered writer, counting bytes and
// retaining the first error.
type countingWriter struct {
	w   *bufio.Writer
	n   int64
	err error
}

func (c *countingWriter) Write(p []byte) {
	if c.err != nil {
		return
	}
	n, err := c.w.Write(p)
	c.n += int64(n)
	c.err = err
}

func (c *countingWriter) WriteString(s string) {
	c.Write([]byte(s))
}
