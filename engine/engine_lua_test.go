package engine

import (
	"errors"
	"strings"
	"testing"
)

const luaSource = `
counter = { n = 0 }

function double(x)
	return x * 2
end

function counter_add(self, v)
	self.n = self.n + v
	return self.n
end

function fail()
	error("boom")
end

function call_explode()
	return explode()
end

npc = {}
function npc.greet(name)
	return "hello " .. name
end
`

func newLua(t *testing.T) *LuaEngine {
	t.Helper()
	e := &LuaEngine{}
	e.New()
	t.Cleanup(e.Close)
	if err := e.ParseString(luaSource); err != nil {
		t.Fatalf("parse: %v", err)
	}
	return e
}

func mustFunction(t *testing.T, env Environment, name string) Ref {
	t.Helper()
	ref, err := env.Function(name)
	if err != nil {
		t.Fatalf("Function(%q): %v", name, err)
	}
	return ref
}

func mustObject(t *testing.T, env Environment, name string) Ref {
	t.Helper()
	ref, err := env.Object(name)
	if err != nil {
		t.Fatalf("Object(%q): %v", name, err)
	}
	return ref
}

func assertFailure(t *testing.T, err error, want Kind, sentinel error) *Failure {
	t.Helper()
	if err == nil {
		t.Fatalf("expected failure, got nil")
	}
	var f *Failure
	if !errors.As(err, &f) {
		t.Fatalf("expected *Failure, got %T: %v", err, err)
	}
	if f.Kind != want {
		t.Fatalf("expected %v failure, got %v: %v", want, f.Kind, err)
	}
	if sentinel != nil && !errors.Is(err, sentinel) {
		t.Fatalf("expected %v, got %v", sentinel, err)
	}
	return f
}

func TestLuaEngine_Invoke(t *testing.T) {
	e := newLua(t)

	ret, err := e.Invoke(mustFunction(t, e, "double"), Ref{}, 5)
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if ret != float64(10) {
		t.Fatalf("expected 10, got %#v", ret)
	}

	ret, err = e.Invoke(mustFunction(t, e, "npc.greet"), Ref{}, "bob")
	if err != nil {
		t.Fatalf("invoke dotted: %v", err)
	}
	if ret != "hello bob" {
		t.Fatalf("expected greeting, got %#v", ret)
	}
}

func TestLuaEngine_InvokeWithReceiver(t *testing.T) {
	e := newLua(t)
	fn := mustFunction(t, e, "counter_add")
	self := mustObject(t, e, "counter")

	for i, want := range []float64{3, 7} {
		ret, err := e.Invoke(fn, self, []int{3, 4}[i])
		if err != nil {
			t.Fatalf("invoke: %v", err)
		}
		if ret != want {
			t.Fatalf("call %d: expected %v, got %#v", i, want, ret)
		}
	}
}

func TestLuaEngine_InvokeFailures(t *testing.T) {
	e := newLua(t)
	e.RegisterFunction("explode", func() int { panic("kaboom") })

	_, err := e.Invoke(mustFunction(t, e, "fail"), Ref{})
	f := assertFailure(t, err, KindRecoverable, ErrScriptRuntime)
	if !strings.Contains(f.Text, "boom") {
		t.Fatalf("expected script message in %q", f.Text)
	}
	if f.Env == nil || f.Env.ID() != e.ID() {
		t.Fatalf("expected failure to carry the originating environment")
	}

	_, err = e.Invoke(mustFunction(t, e, "call_explode"), Ref{})
	assertFailure(t, err, KindUnknown, nil)

	other := &LuaEngine{}
	other.New()
	defer other.Close()
	if err := other.ParseString(luaSource); err != nil {
		t.Fatalf("parse: %v", err)
	}
	_, err = e.Invoke(mustFunction(t, e, "counter_add"), mustObject(t, other, "counter"), 1)
	assertFailure(t, err, KindUnknown, ErrForeignHandle)

	fn := mustFunction(t, e, "double")
	e.Release(fn)
	_, err = e.Invoke(fn, Ref{}, 1)
	assertFailure(t, err, KindUnknown, ErrStaleHandle)
}

func TestLuaEngine_Close(t *testing.T) {
	e := &LuaEngine{}
	e.New()
	if err := e.ParseString(luaSource); err != nil {
		t.Fatalf("parse: %v", err)
	}
	fn := mustFunction(t, e, "double")
	e.Close()

	if fn.Live() {
		t.Fatalf("expected handle to die with its environment")
	}
	if !fn.Valid() {
		t.Fatalf("expected handle to stay bound locally")
	}
	_, err := e.Invoke(fn, Ref{}, 1)
	assertFailure(t, err, KindUnknown, ErrEnvironmentClosed)

	if _, err := e.Function("double"); !errors.Is(err, ErrEnvironmentClosed) {
		t.Fatalf("expected ErrEnvironmentClosed, got %v", err)
	}
	e.Close()
}

func TestLuaEngine_FunctionNotCallable(t *testing.T) {
	e := newLua(t)
	if _, err := e.Function("counter"); !errors.Is(err, ErrNotCallable) {
		t.Fatalf("expected ErrNotCallable, got %v", err)
	}
	if _, err := e.Function("missing"); !errors.Is(err, ErrNotCallable) {
		t.Fatalf("expected ErrNotCallable, got %v", err)
	}
}

func TestLuaEngine_Equality(t *testing.T) {
	e := newLua(t)
	a := mustFunction(t, e, "double")
	b := mustFunction(t, e, "double")
	c := mustFunction(t, e, "fail")
	missingA := mustObject(t, e, "missing")
	missingB := mustObject(t, e, "also_missing")

	tests := []struct {
		name string
		a, b Ref
		want bool
	}{
		{"empty refs", Ref{}, Ref{}, true},
		{"same function, distinct handles", a, b, true},
		{"different functions", a, c, false},
		{"script nils", missingA, missingB, true},
		{"empty and script nil", Ref{}, missingA, true},
		{"empty and function", Ref{}, a, false},
		{"script nil and function", missingA, a, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Equal(tt.a, tt.b); got != tt.want {
				t.Fatalf("Equal = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLuaEngine_PreloadedModules(t *testing.T) {
	e := newLua(t)
	err := e.ParseString(`
for _, name in ipairs({"json", "url", "re", "http", "xmlpath"}) do
	require(name)
end

local json = require("json")
function encode(t)
	return json.encode(t)
end
`)
	if err != nil {
		t.Fatalf("require: %v", err)
	}

	ret, err := e.Invoke(mustFunction(t, e, "encode"), Ref{}, map[string]interface{}{"a": 1})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if ret != `{"a":1}` {
		t.Fatalf("unexpected json %#v", ret)
	}
}

func TestLuaEngine_CallByName(t *testing.T) {
	e := newLua(t)
	if !e.IsFunction("double") || e.IsFunction("counter") {
		t.Fatalf("IsFunction misreports globals")
	}
	rets, err := e.Call("double", 1, 21)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if len(rets) != 1 || rets[0] != float64(42) {
		t.Fatalf("unexpected results %#v", rets)
	}

	e.RegisterModule("host", map[string]interface{}{
		"add": func(a, b int) int { return a + b },
	})
	if err := e.ParseString(`function sum(a, b) return require("host").add(a, b) end`); err != nil {
		t.Fatalf("parse: %v", err)
	}
	rets, err = e.Call("sum", 1, 2, 3)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if rets[0] != float64(5) {
		t.Fatalf("unexpected module result %#v", rets)
	}
}

func TestLuaEngine_SameHonoursEqMetamethod(t *testing.T) {
	e := newLua(t)
	err := e.ParseString(`
local point = { __eq = function(a, b) return a.x == b.x end }
p1 = setmetatable({ x = 1 }, point)
p2 = setmetatable({ x = 1 }, point)
p3 = setmetatable({ x = 2 }, point)
`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	p1, p2, p3 := mustObject(t, e, "p1"), mustObject(t, e, "p2"), mustObject(t, e, "p3")
	if !Equal(p1, p2) {
		t.Fatalf("expected __eq to make distinct tables equal")
	}
	if Equal(p1, p3) {
		t.Fatalf("expected __eq to tell p1 and p3 apart")
	}
	if Equal(mustObject(t, e, "counter"), mustObject(t, e, "npc")) {
		t.Fatalf("expected plain tables to compare by identity")
	}
}
