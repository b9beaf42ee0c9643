package engine

import (
	"strings"
	"testing"
)

const jsSource = `
var counter = { n: 0 };

function double(x) {
	return x * 2;
}

function counterAdd(self, v) {
	self.n += v;
	return self.n;
}

function fail() {
	throw new Error("boom");
}

function failString() {
	throw "plain";
}
`

func newJs(t *testing.T) *JsEngine {
	t.Helper()
	e := &JsEngine{}
	e.New()
	t.Cleanup(e.Close)
	if err := e.ParseString(jsSource); err != nil {
		t.Fatalf("parse: %v", err)
	}
	return e
}

func toFloat(t *testing.T, v interface{}) float64 {
	t.Helper()
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	case int:
		return float64(n)
	}
	t.Fatalf("expected a number, got %#v", v)
	return 0
}

func TestJsEngine_Invoke(t *testing.T) {
	e := newJs(t)

	ret, err := e.Invoke(mustFunction(t, e, "double"), Ref{}, 5)
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if toFloat(t, ret) != 10 {
		t.Fatalf("expected 10, got %#v", ret)
	}

	fn := mustFunction(t, e, "counterAdd")
	self := mustObject(t, e, "counter")
	if _, err := e.Invoke(fn, self, 2); err != nil {
		t.Fatalf("invoke: %v", err)
	}
	ret, err = e.Invoke(fn, self, 3)
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if toFloat(t, ret) != 5 {
		t.Fatalf("expected receiver state to accumulate, got %#v", ret)
	}

	if !e.IsFunction("double") || e.IsFunction("counter") {
		t.Fatalf("IsFunction misreports globals")
	}
	rets, err := e.Call("double", 1, 21)
	if err != nil {
		t.Fatalf("call by name: %v", err)
	}
	if len(rets) != 1 || toFloat(t, rets[0]) != 42 {
		t.Fatalf("unexpected results %#v", rets)
	}
	if _, err := e.Call("fail", 1); err == nil {
		t.Fatalf("expected a thrown error from call by name")
	}
}

func TestJsEngine_InvokeFailures(t *testing.T) {
	e := newJs(t)

	for _, name := range []string{"fail", "failString"} {
		_, err := e.Invoke(mustFunction(t, e, name), Ref{})
		f := assertFailure(t, err, KindRecoverable, ErrScriptRuntime)
		if f.Text == "" {
			t.Fatalf("%s: expected error text", name)
		}
	}

	_, err := e.Invoke(mustFunction(t, e, "fail"), Ref{})
	if f := assertFailure(t, err, KindRecoverable, nil); !strings.Contains(f.Text, "boom") {
		t.Fatalf("expected thrown message in %q", f.Text)
	}

	fn := mustFunction(t, e, "double")
	e.Close()
	_, err = e.Invoke(fn, Ref{}, 1)
	assertFailure(t, err, KindUnknown, ErrEnvironmentClosed)
}

func TestJsEngine_Handles(t *testing.T) {
	e := newJs(t)

	if _, err := e.Function("counter"); err == nil {
		t.Fatalf("expected counter to be rejected as a function")
	}

	a := mustFunction(t, e, "double")
	b := mustFunction(t, e, "double")
	if !Equal(a, b) {
		t.Fatalf("expected two handles on one function to be equal")
	}
	if Equal(a, mustFunction(t, e, "fail")) {
		t.Fatalf("expected different functions to differ")
	}

	undef := mustObject(t, e, "undefined")
	null := mustObject(t, e, "null")
	if !undef.Nil() || !null.Nil() || !Equal(undef, null) {
		t.Fatalf("expected null and undefined to be nil")
	}

	e.Release(a)
	if a.Live() || !b.Live() {
		t.Fatalf("release must only drop its own slot")
	}
}
