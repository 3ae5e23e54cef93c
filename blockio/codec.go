// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package blockio

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/grailbio/base/errors"
	"github.com/rowanphipps/Cerberus"
	"github.com/spaolacci/murmur3"
)

// MaxFrameSize is the largest payload accepted by a decoder using
// LengthFraming.
const MaxFrameSize = 1 << 30

var escapedSentinel = []byte(`\u0024`)

type solution struct {
	Solution []cerberus.Pair `json:"solution"`
}

type failure struct {
	Error string `json:"error"`
}

// An Encoder writes framed responses.
type Encoder struct {
	w       io.Writer
	framing Framing
}

// NewEncoder returns an encoder that writes responses to w using the
// provided framing. If w has a Flush method, it is called after each
// response.
func NewEncoder(w io.Writer, framing Framing) *Encoder {
	return &Encoder{w, framing}
}

// Encode writes a response carrying the provided pairs.
func (e *Encoder) Encode(pairs []cerberus.Pair) error {
	if pairs == nil {
		pairs = []cerberus.Pair{}
	}
	return e.write(solution{pairs})
}

// EncodeError writes a response reporting err.
func (e *Encoder) EncodeError(err error) error {
	return e.write(failure{err.Error()})
}

func (e *Encoder) write(v interface{}) error {
	payload, err := encoding.Marshal(v)
	if err != nil {
		return errors.E(errors.Invalid, "encode response", err)
	}
	payload = bytes.ReplaceAll(payload, []byte{Sentinel}, escapedSentinel)
	var buf bytes.Buffer
	if e.framing == LengthFraming {
		fmt.Fprintf(&buf, "#%d %08x\n", len(payload), murmur3.Sum32(payload))
	}
	buf.Write(payload)
	buf.WriteByte(Sentinel)
	if _, err := e.w.Write(buf.Bytes()); err != nil {
		return err
	}
	if f, ok := e.w.(interface{ Flush() error }); ok {
		return f.Flush()
	}
	return nil
}

// A Decoder reads framed responses. Responses may arrive in any
// number of partial reads.
type Decoder struct {
	r       *bufio.Reader
	framing Framing
}

// NewDecoder returns a decoder that reads responses from r using the
// provided framing.
func NewDecoder(r io.Reader, framing Framing) *Decoder {
	return &Decoder{bufio.NewReader(r), framing}
}

// Decode reads the next response and returns its pairs. Framing
// errors (a stream that ends before the sentinel, a malformed payload,
// a bad header or checksum) have kind errors.Integrity. Responses that
// report a failure of the target function are returned as errors of
// kind errors.Unavailable.
func (d *Decoder) Decode() ([]cerberus.Pair, error) {
	var (
		payload []byte
		err     error
	)
	switch d.framing {
	case LengthFraming:
		payload, err = d.readLength()
	default:
		payload, err = d.readSentinel()
	}
	if err != nil {
		return nil, err
	}
	var msg struct {
		Solution *[][]interface{} `json:"solution"`
		Error    *string          `json:"error"`
	}
	if err := decoding.Unmarshal(payload, &msg); err != nil {
		return nil, errors.E(errors.Integrity, fmt.Sprintf("malformed response %.64q", payload), err)
	}
	if msg.Error != nil {
		return nil, errors.E(errors.Unavailable, *msg.Error)
	}
	if msg.Solution == nil {
		return nil, errors.E(errors.Integrity, fmt.Sprintf("response %.64q has no solution", payload))
	}
	pairs := make([]cerberus.Pair, len(*msg.Solution))
	for i, elem := range *msg.Solution {
		if len(elem) != 2 {
			return nil, errors.E(errors.Integrity, fmt.Sprintf("solution element %d has %d values", i, len(elem)))
		}
		in, err := Int64(elem[0])
		if err != nil {
			return nil, errors.E(errors.Integrity, fmt.Sprintf("solution element %d", i), err)
		}
		pairs[i] = cerberus.Pair{In: in, Out: elem[1]}
	}
	return pairs, nil
}

// readSentinel accumulates bytes until the sentinel is seen.
func (d *Decoder) readSentinel() ([]byte, error) {
	b, err := d.r.ReadBytes(Sentinel)
	if err != nil {
		return nil, truncated(b, err)
	}
	b = bytes.TrimSpace(b[:len(b)-1])
	return b, nil
}

func (d *Decoder) readLength() ([]byte, error) {
	var header string
	for header == "" {
		line, err := d.r.ReadString('\n')
		if err != nil {
			return nil, truncated([]byte(line), err)
		}
		header = string(bytes.TrimSpace([]byte(line)))
	}
	var (
		n   int
		sum uint32
	)
	if _, err := fmt.Sscanf(header, "#%d %x", &n, &sum); err != nil {
		return nil, errors.E(errors.Integrity, fmt.Sprintf("bad frame header %.64q", header), err)
	}
	if n < 0 || n > MaxFrameSize {
		return nil, errors.E(errors.Integrity, fmt.Sprintf("bad frame length %d", n))
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(d.r, payload); err != nil {
		return nil, truncated(nil, err)
	}
	c, err := d.r.ReadByte()
	if err != nil {
		return nil, truncated(nil, err)
	}
	if c != Sentinel {
		return nil, errors.E(errors.Integrity, fmt.Sprintf("frame terminated by %q, not %q", c, Sentinel))
	}
	if got := murmur3.Sum32(payload); got != sum {
		return nil, errors.E(errors.Integrity, fmt.Sprintf("computed checksum %08x but expected checksum %08x", got, sum))
	}
	return payload, nil
}

func truncated(partial []byte, err error) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return errors.E(errors.Integrity,
			fmt.Sprintf("stream closed before sentinel after %d bytes", len(partial)), io.ErrUnexpectedEOF)
	}
	return err
}

// Int64 converts a decoded JSON number to an int64.
func Int64(v interface{}) (int64, error) {
	switch v := v.(type) {
	case json.Number:
		return v.Int64()
	case float64:
		if v != float64(int64(v)) {
			return 0, fmt.Errorf("%v is not an integer", v)
		}
		return int64(v), nil
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case fmt.Stringer:
		return strconv.ParseInt(v.String(), 10, 64)
	default:
		return 0, fmt.Errorf("%v (%T) is not an integer", v, v)
	}
}
