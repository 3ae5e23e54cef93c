// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package blockio

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/rowanphipps/Cerberus"
)

// A Request asks the controller to compute the inputs [Start, Stop).
type Request struct {
	Start int64 `json:"start"`
	Stop  int64 `json:"stop"`
}

// BlockRequest returns the request for block b.
func BlockRequest(b cerberus.Block) Request {
	return Request{Start: b.Low, Stop: b.High}
}

// WriteRequest writes req to w as a single line.
func WriteRequest(w io.Writer, req Request) error {
	b, err := encoding.Marshal(req)
	if err != nil {
		return err
	}
	_, err = w.Write(append(b, '\n'))
	return err
}

// WriteShutdown writes the shutdown token to w.
func WriteShutdown(w io.Writer) error {
	_, err := io.WriteString(w, Shutdown+"\n")
	return err
}

// A RequestReader reads requests written by WriteRequest and
// WriteShutdown.
type RequestReader struct {
	r *bufio.Reader
}

// NewRequestReader returns a RequestReader that reads from r.
func NewRequestReader(r io.Reader) *RequestReader {
	return &RequestReader{bufio.NewReader(r)}
}

// Next returns the next request. Next returns ErrShutdown if the
// shutdown token was read, io.EOF if the stream ended cleanly between
// requests, and an error of kind errors.Invalid if the line could not
// be parsed as a request. Blank lines are skipped.
func (r *RequestReader) Next() (Request, error) {
	for {
		line, err := r.r.ReadString('\n')
		if err != nil && err != io.EOF {
			return Request{}, err
		}
		text := strings.TrimSpace(line)
		if text == "" {
			if err == io.EOF {
				return Request{}, io.EOF
			}
			continue
		}
		if text == Shutdown {
			return Request{}, ErrShutdown
		}
		return parseRequest(text)
	}
}

func parseRequest(line string) (Request, error) {
	var msg struct {
		Start *int64 `json:"start"`
		Stop  *int64 `json:"stop"`
	}
	if err := decoding.UnmarshalFromString(line, &msg); err != nil {
		return Request{}, errors.E(errors.Invalid, fmt.Sprintf("malformed request %q", line), err)
	}
	if msg.Start == nil || msg.Stop == nil {
		return Request{}, errors.E(errors.Invalid, fmt.Sprintf("request %q must specify start and stop", line))
	}
	if *msg.Stop < *msg.Start {
		return Request{}, errors.E(errors.Invalid, fmt.Sprintf("request %q has stop before start", line))
	}
	return Request{Start: *msg.Start, Stop: *msg.Stop}, nil
}
