// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package blockio implements the line protocol spoken between a remote
// worker and the controller it drives over a remote shell.
//
// The worker writes one request per line, a JSON object
// {"start": <int>, "stop": <int>}, and finally the shutdown token
// "end". For each request the controller replies with the JSON object
// {"solution": [[<input>, <output>], ...]}, pairs in input order, or
// {"error": <message>} if the target function failed.
//
// Responses are framed. With SentinelFraming, a response is followed
// immediately by the sentinel byte '$' and nothing else; encoders
// escape '$' within payloads (it can only appear inside JSON
// strings) so that the first sentinel always ends a response. With
// LengthFraming, each response is preceded by a header line
// "#<length> <checksum>\n", where checksum is the hex-encoded 32-bit
// murmur3 hash of the payload, and is still followed by the sentinel.
package blockio

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/grailbio/base/errors"
	jsoniter "github.com/json-iterator/go"
)

const (
	// Sentinel terminates every response.
	Sentinel = '$'
	// Shutdown is the request line that stops a controller.
	Shutdown = "end"
)

// ErrShutdown is returned by RequestReader.Next when the shutdown token
// is read.
var ErrShutdown = errors.New("shutdown requested")

// Framing determines how responses are delimited on the wire.
type Framing int

const (
	// SentinelFraming terminates each response with the sentinel.
	SentinelFraming Framing = iota
	// LengthFraming prefixes each response with its length and
	// checksum, and terminates it with the sentinel.
	LengthFraming
)

var framings = [...]string{
	SentinelFraming: "sentinel",
	LengthFraming:   "length",
}

// String returns the framing's name as accepted by ParseFraming.
func (f Framing) String() string {
	if f < 0 || int(f) >= len(framings) {
		return "Framing(" + strconv.Itoa(int(f)) + ")"
	}
	return framings[f]
}

// ParseFraming returns the framing named by s.
func ParseFraming(s string) (Framing, error) {
	for f, name := range framings {
		if strings.EqualFold(s, name) {
			return Framing(f), nil
		}
	}
	return 0, errors.E(errors.Invalid, fmt.Sprintf("unknown framing %q", s))
}

var (
	// encoding is used for everything written to the wire. HTML
	// escaping is not needed, and map keys are sorted so that
	// encodings are deterministic.
	encoding = jsoniter.Config{
		EscapeHTML:  false,
		SortMapKeys: true,
	}.Froze()
	// decoding preserves numbers exactly.
	decoding = jsoniter.Config{
		UseNumber: true,
	}.Froze()
)
