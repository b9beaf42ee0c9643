package engine

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"unicode"

	"github.com/ailncode/gluaxmlpath"
	"github.com/ciaos/gluahttp"
	"github.com/cjoudrey/gluaurl"
	"github.com/ygrebnov/errorc"
	"github.com/yuin/gluamapper"
	"github.com/yuin/gluare"
	lua "github.com/yuin/gopher-lua"
	luajson "layeh.com/gopher-json"
	luar "layeh.com/gopher-luar"
)

const (
	TypeEngineLua = "lua"
)

type LuaEngine struct {
	vm     *lua.LState
	id     uint64
	refs   *slotTable[lua.LValue]
	ready  bool
	closed bool
}

func (e *LuaEngine) New() {
	e.vm = lua.NewState()
	luajson.Preload(e.vm)
	e.vm.PreloadModule("url", gluaurl.Loader)
	e.vm.PreloadModule("re", gluare.Loader)
	e.vm.PreloadModule("http", gluahttp.NewHttpModule(&http.Client{
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: true,
			},
		},
	}).Loader)
	e.vm.PreloadModule("xmlpath", gluaxmlpath.Loader)
	e.id = nextEnvID()
	e.refs = newSlotTable[lua.LValue]()
	e.ready = false
	e.closed = false
}

func (e *LuaEngine) ID() uint64 {
	return e.id
}

func (e *LuaEngine) Type() string {
	return TypeEngineLua
}

func (e *LuaEngine) IsReady() bool {
	return e.ready
}
func (e *LuaEngine) SetReady() {
	e.ready = true
}

func (e *LuaEngine) ParseString(source string) error {
	if e.closed {
		return e.closedError()
	}
	return e.vm.DoString(source)
}

func (e *LuaEngine) ParseFile(path string) error {
	if e.closed {
		return e.closedError()
	}
	return e.vm.DoFile(path)
}

func (e *LuaEngine) toLuaValue(src interface{}) lua.LValue {
	if src == nil {
		return lua.LNil
	}
	srcVal := reflect.ValueOf(src)
	switch srcVal.Kind() {
	case reflect.Map:
		dst := e.vm.NewTable()
		for _, key := range srcVal.MapKeys() {
			dst.RawSet(luar.New(e.vm, key.Interface()), e.toLuaValue(srcVal.MapIndex(key).Interface()))
		}
		return dst
	case reflect.Slice:
		dst := e.vm.NewTable()
		for i := 0; i < srcVal.Len(); i++ {
			dst.Append(e.toLuaValue(srcVal.Index(i).Interface()))
		}
		return dst
	default:
		return luar.New(e.vm, src)
	}
}

func (e *LuaEngine) toGoValue(src lua.LValue) interface{} {
	switch v := src.(type) {
	case *lua.LTable:
		maxn := v.MaxN()
		if maxn == 0 { // table
			ret := make(map[string]interface{})
			v.ForEach(func(key, value lua.LValue) {
				keyStr := fmt.Sprint(e.toGoValue(key))
				if keyStr != "" && unicode.IsLower(rune(keyStr[0])) {
					ret[gluamapper.ToUpperCamelCase(keyStr)] = e.toGoValue(value)
				} else {
					ret[keyStr] = e.toGoValue(value)
				}
			})
			return ret
		}
		// array
		ret := make([]interface{}, 0, maxn)
		for i := 1; i <= maxn; i++ {
			ret = append(ret, e.toGoValue(v.RawGetInt(i)))
		}
		return ret
	case *lua.LUserData:
		return v.Value
	default:
		return gluamapper.ToGoValue(src, gluamapper.Option{NameFunc: gluamapper.ToUpperCamelCase})
	}
}

func (e *LuaEngine) RegisterObject(objectName string, objectPtr interface{}) {
	dst := e.toLuaValue(objectPtr)
	e.vm.SetGlobal(objectName, dst)
}

func (e *LuaEngine) wrap(goFuncPtr interface{}) lua.LGFunction {
	goFuncVal := reflect.ValueOf(goFuncPtr)
	if goFuncVal.Kind() != reflect.Func {
		panic("register not invalid function")
	}

	goParamsNum := goFuncVal.Type().NumIn()
	goRetsNum := goFuncVal.Type().NumOut()

	return func(L *lua.LState) int {
		in := make([]reflect.Value, goParamsNum)
		for i := 0; i < goParamsNum; i++ {
			in[i] = goArg(e.toGoValue(L.Get(i+1)), goFuncVal.Type().In(i))
		}

		goRet := goFuncVal.Call(in)
		for i := 0; i < len(goRet); i++ {
			L.Push(e.toLuaValue(goRet[i].Interface()))
		}

		return goRetsNum
	}
}

func (e *LuaEngine) RegisterFunction(goFuncName string, goFuncPtr interface{}) {
	e.vm.SetGlobal(goFuncName, e.vm.NewFunction(e.wrap(goFuncPtr)))
}

func (e *LuaEngine) RegisterModule(moduleName string, moduleFuncPtr map[string]interface{}) {
	exports := make(map[string]lua.LGFunction, len(moduleFuncPtr))
	for goFuncName, goFuncPtr := range moduleFuncPtr {
		exports[goFuncName] = e.wrap(goFuncPtr)
	}

	e.vm.PreloadModule(moduleName, func(L *lua.LState) int {
		// register functions to the table
		mod := L.SetFuncs(L.NewTable(), exports)
		// register other stuff
		L.SetField(mod, "name", lua.LString(moduleName))

		// returns the module
		L.Push(mod)
		return 1
	})
}

// lookup resolves a global, following dots through tables ("npc.on_hit").
func (e *LuaEngine) lookup(name string) lua.LValue {
	parts := strings.Split(name, ".")
	val := e.vm.GetGlobal(parts[0])
	for _, part := range parts[1:] {
		tbl, ok := val.(*lua.LTable)
		if !ok {
			return lua.LNil
		}
		val = tbl.RawGetString(part)
	}
	return val
}

func (e *LuaEngine) IsFunction(scriptFuncName string) bool {
	if e.closed {
		return false
	}
	return e.lookup(scriptFuncName).Type() == lua.LTFunction
}

func (e *LuaEngine) Call(scriptFuncName string, retNum int, args ...interface{}) ([]interface{}, error) {
	if e.closed {
		return nil, e.closedError()
	}

	luaArgs := make([]lua.LValue, len(args))
	for i := 0; i < len(args); i++ {
		luaArgs[i] = e.toLuaValue(args[i])
	}

	if err := e.vm.CallByParam(lua.P{
		Fn:      e.lookup(scriptFuncName),
		NRet:    retNum,
		Protect: true,
		Handler: nil,
	}, luaArgs...); err != nil {
		return nil, err
	}

	rets := make([]interface{}, retNum)
	for i := retNum - 1; i >= 0; i-- {
		rets[i] = e.toGoValue(e.vm.Get(-1))
		e.vm.Pop(1)
	}

	return rets, nil
}

func (e *LuaEngine) Function(name string) (Ref, error) {
	if e.closed {
		return Ref{}, e.closedError()
	}
	val := e.lookup(name)
	if val.Type() != lua.LTFunction {
		return Ref{}, errorc.With(
			ErrNotCallable,
			errorc.String(ErrorFieldName, name),
			errorc.String(ErrorFieldType, val.Type().String()),
		)
	}
	return e.refs.put(e, name, val), nil
}

func (e *LuaEngine) Object(name string) (Ref, error) {
	if e.closed {
		return Ref{}, e.closedError()
	}
	return e.refs.put(e, name, e.lookup(name)), nil
}

func (e *LuaEngine) Alive(ref Ref) bool {
	if !ref.owned(e.id) {
		return false
	}
	_, ok := e.refs.get(ref)
	return ok
}

func (e *LuaEngine) IsNil(ref Ref) bool {
	val, ok := e.refs.get(ref)
	return !ok || val.Type() == lua.LTNil
}

// Same uses Lua == semantics, __eq included. A failing __eq compares unequal.
func (e *LuaEngine) Same(a, b Ref) (same bool) {
	va, okA := e.refs.get(a)
	vb, okB := e.refs.get(b)
	if !okA || !okB {
		return false
	}
	defer func() {
		if r := recover(); r != nil {
			same = false
		}
	}()
	return e.vm.Equal(va, vb)
}

func (e *LuaEngine) Release(ref Ref) {
	if ref.owned(e.id) {
		e.refs.drop(ref)
	}
}

func (e *LuaEngine) resolve(ref Ref) (lua.LValue, error) {
	if e.closed {
		return nil, unknownFailure(e, e.closedError())
	}
	if !ref.owned(e.id) {
		return nil, unknownFailure(e, errorc.With(ErrForeignHandle, errorc.String(ErrorFieldEnvType, TypeEngineLua)))
	}
	val, ok := e.refs.get(ref)
	if !ok {
		return nil, unknownFailure(e, errorc.With(ErrStaleHandle, errorc.String(ErrorFieldName, e.refs.name(ref))))
	}
	return val, nil
}

func (e *LuaEngine) Invoke(fn, recv Ref, args ...interface{}) (ret interface{}, err error) {
	f, err := e.resolve(fn)
	if err != nil {
		return nil, err
	}
	if f.Type() != lua.LTFunction {
		return nil, unknownFailure(e, errorc.With(ErrNotCallable, errorc.String(ErrorFieldType, f.Type().String())))
	}

	luaArgs := make([]lua.LValue, 0, len(args)+1)
	if recv.Valid() {
		self, err := e.resolve(recv)
		if err != nil {
			return nil, err
		}
		luaArgs = append(luaArgs, self)
	}

	defer func() {
		if r := recover(); r != nil {
			ret, err = nil, panicFailure(e, r)
		}
	}()

	for _, arg := range args {
		luaArgs = append(luaArgs, e.toLuaValue(arg))
	}

	top := e.vm.GetTop()
	if callErr := e.vm.CallByParam(lua.P{
		Fn:      f,
		NRet:    1,
		Protect: true,
	}, luaArgs...); callErr != nil {
		e.vm.SetTop(top)
		var apiErr *lua.ApiError
		if errors.As(callErr, &apiErr) && apiErr.Type == lua.ApiErrorRun {
			return nil, runtimeFailure(e, luaErrorText(apiErr))
		}
		return nil, unknownFailure(e, callErr)
	}

	luaRet := e.vm.Get(-1)
	e.vm.Pop(1)
	return e.toGoValue(luaRet), nil
}

func luaErrorText(apiErr *lua.ApiError) string {
	text := apiErr.Object.String()
	if apiErr.StackTrace != "" {
		text += "\n" + apiErr.StackTrace
	}
	return text
}

func (e *LuaEngine) closedError() error {
	return errorc.With(
		ErrEnvironmentClosed,
		errorc.String(ErrorFieldEnvType, TypeEngineLua),
		errorc.String(ErrorFieldEnvID, fmt.Sprint(e.id)),
	)
}

func (e *LuaEngine) Close() {
	if e.closed {
		return
	}
	e.closed = true
	e.refs.close()
	e.vm.Close()
}

func (e *LuaEngine) GetVM() *lua.LState {
	return e.vm
}
