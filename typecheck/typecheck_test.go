// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package typecheck

import (
	"reflect"
	"strings"
	"testing"
)

func TestFunc(t *testing.T) {
	for _, c := range []struct {
		fn  interface{}
		err bool
	}{
		{func(int) int { return 0 }, false},
		{func(int64) string { return "" }, false},
		{func(uint8) (bool, error) { return false, nil }, false},
		{func(int) []float64 { return nil }, false},
		{func(float64) int { return 0 }, true},
		{func(int, int) int { return 0 }, true},
		{func(...int) int { return 0 }, true},
		{func(int) {}, true},
		{func(int) (int, int) { return 0, 0 }, true},
		{func(int) error { return nil }, true},
		{func(int) chan int { return nil }, true},
		{42, true},
	} {
		typ := reflect.TypeOf(c.fn)
		sig, err := Func(0, typ)
		if got, want := err != nil, c.err; got != want {
			t.Errorf("%s: got error %v, want error %v", typ, err, want)
			continue
		}
		if err != nil {
			continue
		}
		if got, want := sig.In, typ.In(0); got != want {
			t.Errorf("%s: got %v, want %v", typ, got, want)
		}
		if got, want := sig.Err, typ.NumOut() == 2; got != want {
			t.Errorf("%s: got %v, want %v", typ, got, want)
		}
	}
}

func TestErrorLocation(t *testing.T) {
	_, err := Func(0, reflect.TypeOf(3.14))
	if err == nil {
		t.Fatal("expected error")
	}
	e, ok := err.(*Error)
	if !ok {
		t.Fatalf("unexpected error type %T", err)
	}
	if !strings.HasSuffix(e.File, "typecheck_test.go") {
		t.Errorf("error attributed to %s, not the caller", e.File)
	}
	if !strings.Contains(e.Error(), "not a func") {
		t.Errorf("unexpected message %q", e.Error())
	}
}
