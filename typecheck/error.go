// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package typecheck

import (
	"fmt"
	"runtime"
)

// Error is a typechecking error attributed to the source location
// that registered the offending function.
type Error struct {
	Err  error
	File string
	Line int
}

// Errorf constructs an error in the manner of fmt.Errorf, capturing
// the location of the caller at the given calldepth.
func Errorf(calldepth int, format string, args ...interface{}) *Error {
	e := &Error{Err: fmt.Errorf(format, args...)}
	var ok bool
	_, e.File, e.Line, ok = runtime.Caller(calldepth + 1)
	if !ok {
		e.File = "<unknown>"
	}
	return e
}

// Error implements error.
func (err *Error) Error() string {
	return fmt.Sprintf("%s:%d: %v", err.File, err.Line, err.Err)
}

// Unwrap returns the underlying error.
func (err *Error) Unwrap() error {
	return err.Err
}
