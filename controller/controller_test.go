// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package controller

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	gerrors "github.com/grailbio/base/errors"
	"github.com/grailbio/testutil/assert"
	"github.com/rowanphipps/Cerberus"
	"github.com/rowanphipps/Cerberus/blockio"
)

var (
	square = cerberus.Func("controllertest.square", func(x int64) int64 { return x * x })
	fails  = cerberus.Func("controllertest.fails", func(x int) (int, error) {
		if x == 3 {
			return 0, errors.New("three")
		}
		return x, nil
	})
)

func TestServe(t *testing.T) {
	c := New(square, 2, blockio.SentinelFraming)
	assert.EQ(t, c.State(), Serving)
	var out bytes.Buffer
	in := strings.NewReader("{\"start\":5,\"stop\":8}\n{\"start\":0,\"stop\":2}\nend\n")
	assert.NoError(t, c.Serve(in, &out))
	assert.EQ(t, out.String(), `{"solution":[[5,25],[6,36],[7,49]]}${"solution":[[0,0],[1,1]]}$`)
	assert.EQ(t, c.State(), Terminated)
	assert.EQ(t, c.Served(), 2)
	if err := c.Serve(strings.NewReader("end\n"), &out); !gerrors.Is(gerrors.Precondition, err) {
		t.Errorf("got %v, want precondition error", err)
	}
}

func TestServeMalformed(t *testing.T) {
	c := New(square, 1, blockio.SentinelFraming)
	var out bytes.Buffer
	err := c.Serve(strings.NewReader("{\"start\":0,\"stop\":1}\nbogus\n{\"start\":1,\"stop\":2}\nend\n"), &out)
	if !gerrors.Is(gerrors.Invalid, err) {
		t.Errorf("got %v, want invalid", err)
	}
	assert.EQ(t, out.String(), `{"solution":[[0,0]]}$`)
	assert.EQ(t, c.State(), Terminated)
}

func TestServeEOF(t *testing.T) {
	c := New(square, 1, blockio.SentinelFraming)
	err := c.Serve(strings.NewReader("{\"start\":0,\"stop\":1}\n"), io.Discard)
	if !gerrors.Is(gerrors.Net, err) {
		t.Errorf("got %v, want net error", err)
	}
	assert.EQ(t, c.State(), Terminated)
}

func TestServeOversizedBlock(t *testing.T) {
	c := New(square, 2, blockio.SentinelFraming)
	var out bytes.Buffer
	err := c.Serve(strings.NewReader("{\"start\":0,\"stop\":9000000000000000000}\nend\n"), &out)
	if !gerrors.Is(gerrors.Invalid, err) {
		t.Fatalf("got %v, want invalid", err)
	}
	assert.EQ(t, c.State(), Terminated)
	_, err = blockio.NewDecoder(&out, blockio.SentinelFraming).Decode()
	if !gerrors.Is(gerrors.Unavailable, err) {
		t.Errorf("got %v, want error response", err)
	}
}

func TestServeComputeError(t *testing.T) {
	c := New(fails, 4, blockio.SentinelFraming)
	var out bytes.Buffer
	err := c.Serve(strings.NewReader("{\"start\":0,\"stop\":5}\nend\n"), &out)
	if _, ok := err.(*cerberus.ComputeError); !ok {
		t.Fatalf("got %v, want compute error", err)
	}
	_, err = blockio.NewDecoder(&out, blockio.SentinelFraming).Decode()
	if !gerrors.Is(gerrors.Unavailable, err) || !strings.Contains(err.Error(), "three") {
		t.Errorf("got %v, want remote error", err)
	}
}

func TestServeLengthFraming(t *testing.T) {
	c := New(square, 0, blockio.LengthFraming)
	r, w := io.Pipe()
	go func() {
		blockio.WriteRequest(w, blockio.Request{Start: 10, Stop: 13})
		blockio.WriteShutdown(w)
		w.Close()
	}()
	var out bytes.Buffer
	assert.NoError(t, c.Serve(r, &out))
	pairs, err := blockio.NewDecoder(&out, blockio.LengthFraming).Decode()
	assert.NoError(t, err)
	assert.EQ(t, len(pairs), 3)
	for i, p := range pairs {
		assert.EQ(t, p.In, int64(10+i))
	}
}

func TestCommand(t *testing.T) {
	c, err := Command([]string{"-framing=length", "3", "controllertest", "square"})
	assert.NoError(t, err)
	assert.EQ(t, c.fn, square)
	assert.EQ(t, c.pool.Size(), 3)
	assert.EQ(t, c.framing, blockio.LengthFraming)

	for _, args := range [][]string{
		{"2", "controllertest"},
		{"x", "controllertest", "square"},
		{"-1", "controllertest", "square"},
		{"-framing=smoke", "1", "controllertest", "square"},
		{"-bogus", "1", "controllertest", "square"},
	} {
		if _, err := Command(args); !gerrors.Is(gerrors.Invalid, err) {
			t.Errorf("%v: got %v, want invalid", args, err)
		}
	}
	if _, err := Command([]string{"0", "controllertest", "cube"}); !gerrors.Is(gerrors.NotExist, err) {
		t.Errorf("got %v, want not exist", err)
	}
}
