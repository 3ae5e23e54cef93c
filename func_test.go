// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package cerberus

import (
	"errors"
	"strings"
	"testing"

	gerrors "github.com/grailbio/base/errors"
	"github.com/grailbio/testutil/assert"
	"github.com/rowanphipps/Cerberus/typecheck"
)

var (
	testSquare = Func("functest.square", func(x int64) int64 { return x * x })
	testHalf   = Func("functest.half", func(x int) (int, error) {
		if x%2 != 0 {
			return 0, errors.New("odd input")
		}
		return x / 2, nil
	})
	testPanic = Func("functest.panic", func(x int) string {
		panic("boom")
	})
	testByte = Func("functest.byte", func(x uint8) uint8 { return x })
	testUint = Func("functest.uint", func(x uint64) uint64 { return x })
	testBare = Func("bare", func(x int) int { return x })
)

func TestFuncLookup(t *testing.T) {
	fv, err := Lookup("functest.square")
	assert.NoError(t, err)
	if fv != testSquare {
		t.Errorf("got %v, want %v", fv, testSquare)
	}
	if _, err := Lookup("functest.missing"); !gerrors.Is(gerrors.NotExist, err) {
		t.Errorf("got %v, want not exist", err)
	}
	var found bool
	for _, name := range Names() {
		found = found || name == "functest.half"
	}
	if !found {
		t.Errorf("functest.half missing from %v", Names())
	}
}

func TestFuncName(t *testing.T) {
	assert.EQ(t, testSquare.Module(), "functest")
	assert.EQ(t, testSquare.Function(), "square")
	assert.EQ(t, testBare.Module(), "")
	assert.EQ(t, testBare.Function(), "bare")
}

func TestFuncCall(t *testing.T) {
	out, err := testSquare.Call(12)
	assert.NoError(t, err)
	assert.EQ(t, out, int64(144))

	out, err = testHalf.Call(8)
	assert.NoError(t, err)
	assert.EQ(t, out, 4)

	_, err = testHalf.Call(3)
	cerr, ok := err.(*ComputeError)
	if !ok {
		t.Fatalf("got %v, want compute error", err)
	}
	assert.EQ(t, cerr.Input, int64(3))
	assert.EQ(t, cerr.Func, "functest.half")

	_, err = testPanic.Call(1)
	if cerr, ok := err.(*ComputeError); !ok || !strings.Contains(cerr.Error(), "boom") {
		t.Errorf("got %v, want recovered panic", err)
	}

	_, err = testByte.Call(256)
	if _, ok := err.(*ComputeError); !ok {
		t.Errorf("got %v, want overflow error", err)
	}
	for _, fn := range []*FuncValue{testByte, testUint} {
		if out, err := fn.Call(-1); err == nil {
			t.Errorf("%s(-1): got %v, want overflow error", fn, out)
		}
	}
	out, err = testUint.Call(1 << 40)
	assert.NoError(t, err)
	assert.EQ(t, out, uint64(1<<40))
}

func TestFuncRegistration(t *testing.T) {
	expectPanic := func(name string, fn interface{}) {
		defer func() { recover() }()
		Func(name, fn)
		t.Errorf("Func(%q, %T): expected panic", name, fn)
	}
	expectPanic("functest.square", func(x int) int { return x })
	expectPanic("", func(x int) int { return x })
	expectPanic("functest.float", func(x float64) int { return 0 })

	func() {
		defer func() {
			e := recover()
			if _, ok := e.(*typecheck.Error); !ok {
				t.Errorf("got %v, want typecheck error", e)
			}
		}()
		Func("functest.noargs", func() int { return 0 })
	}()
}

func TestPairJSON(t *testing.T) {
	for _, c := range []struct {
		pair Pair
		want string
	}{
		{Pair{5, 25}, `[5,25]`},
		{Pair{-1, "x"}, `[-1,"x"]`},
		{Pair{0, nil}, `[0,null]`},
		{Pair{7, []bool{true}}, `[7,[true]]`},
	} {
		b, err := c.pair.MarshalJSON()
		assert.NoError(t, err)
		assert.EQ(t, string(b), c.want)
	}
}
