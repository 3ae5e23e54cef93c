// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package cerberus

import (
	"fmt"
	"reflect"
	"runtime/debug"
	"sort"
	"strings"
	"sync"

	"github.com/grailbio/base/errors"
	"github.com/rowanphipps/Cerberus/typecheck"
)

var (
	mu sync.Mutex
	// Funcs is the global registry of target functions, keyed by name.
	// Orchestrator and controller binaries must register the same set
	// of functions (usually at package initialization).
	funcs = make(map[string]*FuncValue)
)

// A FuncValue is a target function registered by Func: it maps
// every integer in a block to an output value.
type FuncValue struct {
	name string
	fn   reflect.Value
	sig  typecheck.Signature
}

// Func registers the function fn under the provided name and returns
// its FuncValue. Names conventionally take the form "module.function";
// the controller command line names functions by these two
// components.
//
// fn must be a func(I) O or a func(I) (O, error), where I is an
// integer type. O must be encodable as JSON. Func panics with a
// typechecking error if fn does not have a valid signature, and
// panics if name is already registered.
func Func(name string, fn interface{}) *FuncValue {
	if name == "" {
		panic("cerberus.Func: empty name")
	}
	sig, err := typecheck.Func(1, reflect.TypeOf(fn))
	if err != nil {
		panic(err)
	}
	v := &FuncValue{name: name, fn: reflect.ValueOf(fn), sig: sig}
	mu.Lock()
	defer mu.Unlock()
	if funcs[name] != nil {
		panic(fmt.Sprintf("cerberus.Func: func %s is already registered", name))
	}
	funcs[name] = v
	return v
}

// Lookup returns the function registered under name. An error with
// kind errors.NotExist is returned if no such function exists.
func Lookup(name string) (*FuncValue, error) {
	mu.Lock()
	fv := funcs[name]
	mu.Unlock()
	if fv == nil {
		return nil, errors.E(errors.NotExist, fmt.Sprintf("func %s is not registered", name))
	}
	return fv, nil
}

// Names returns the names of all registered functions, sorted.
func Names() []string {
	mu.Lock()
	names := make([]string, 0, len(funcs))
	for name := range funcs {
		names = append(names, name)
	}
	mu.Unlock()
	sort.Strings(names)
	return names
}

// Name returns the name under which f was registered.
func (f *FuncValue) Name() string { return f.name }

// Module returns the module component of f's name: everything before
// the last dot. It is empty if the name does not contain a dot.
func (f *FuncValue) Module() string {
	if i := strings.LastIndexByte(f.name, '.'); i >= 0 {
		return f.name[:i]
	}
	return ""
}

// Function returns the function component of f's name.
func (f *FuncValue) Function() string {
	return f.name[strings.LastIndexByte(f.name, '.')+1:]
}

// String returns f's name.
func (f *FuncValue) String() string { return f.name }

// Call invokes f on input x. Errors returned by f, and panics raised
// by it, are returned as a *ComputeError.
func (f *FuncValue) Call(x int64) (out interface{}, err error) {
	defer func() {
		if e := recover(); e != nil {
			err = &ComputeError{
				Func:  f.name,
				Input: x,
				Err:   fmt.Errorf("panic: %v\n%s", e, debug.Stack()),
			}
		}
	}()
	arg := reflect.ValueOf(x).Convert(f.sig.In)
	if (x < 0 && isUnsigned(f.sig.In)) || arg.Convert(reflect.TypeOf(x)).Int() != x {
		return nil, &ComputeError{Func: f.name, Input: x,
			Err: fmt.Errorf("input overflows argument type %s", f.sig.In)}
	}
	res := f.fn.Call([]reflect.Value{arg})
	if f.sig.Err && !res[1].IsNil() {
		return nil, &ComputeError{Func: f.name, Input: x, Err: res[1].Interface().(error)}
	}
	return res[0].Interface(), nil
}

func isUnsigned(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return true
	}
	return false
}

// ComputeError is returned when a target function fails on an
// input, either by returning an error or by panicking.
type ComputeError struct {
	// Func is the name of the function that failed.
	Func string
	// Input is the integer on which it failed.
	Input int64
	// Err is the underlying failure.
	Err error
}

// Error implements error.
func (e *ComputeError) Error() string {
	return fmt.Sprintf("%s(%d): %v", e.Func, e.Input, e.Err)
}

// Unwrap returns the underlying failure.
func (e *ComputeError) Unwrap() error { return e.Err }
