// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package typecheck checks the signatures of functions registered
// with cerberus.Func. Registered functions map a single integer input
// to one output value, optionally followed by an error.
package typecheck

import (
	"reflect"
)

var typeOfError = reflect.TypeOf((*error)(nil)).Elem()

// Signature describes a function accepted by cerberus.Func.
type Signature struct {
	// In is the (integer) input type.
	In reflect.Type
	// Out is the output type.
	Out reflect.Type
	// Err tells whether the function returns an error as its
	// second result.
	Err bool
}

// Func returns the signature of the function type typ. A typechecking
// error is returned if typ is not a func(I) O or func(I) (O, error)
// with an integer I. The error is attributed to the caller at
// calldepth.
func Func(calldepth int, typ reflect.Type) (Signature, error) {
	var sig Signature
	if typ.Kind() != reflect.Func {
		return sig, Errorf(calldepth+1, "argument is a %s, not a func", typ)
	}
	if typ.IsVariadic() || typ.NumIn() != 1 {
		return sig, Errorf(calldepth+1, "func %s must take exactly one integer argument", typ)
	}
	sig.In = typ.In(0)
	if !IsInteger(sig.In) {
		return sig, Errorf(calldepth+1, "func %s: argument type %s is not an integer", typ, sig.In)
	}
	switch typ.NumOut() {
	case 1:
	case 2:
		if typ.Out(1) != typeOfError {
			return sig, Errorf(calldepth+1, "func %s: second result must be an error, not %s", typ, typ.Out(1))
		}
		sig.Err = true
	default:
		return sig, Errorf(calldepth+1, "func %s must return a value, optionally followed by an error", typ)
	}
	sig.Out = typ.Out(0)
	if sig.Out == typeOfError {
		return sig, Errorf(calldepth+1, "func %s: first result cannot be an error", typ)
	}
	switch sig.Out.Kind() {
	case reflect.Chan, reflect.Func, reflect.UnsafePointer, reflect.Complex64, reflect.Complex128:
		return sig, Errorf(calldepth+1, "func %s: result type %s cannot be encoded", typ, sig.Out)
	}
	return sig, nil
}

// IsInteger tells whether typ is one of Go's integer kinds.
func IsInteger(typ reflect.Type) bool {
	switch typ.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return true
	}
	return false
}
