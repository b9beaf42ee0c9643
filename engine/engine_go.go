package engine

import (
	"fmt"
	"reflect"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
	"github.com/ygrebnov/errorc"
)

const (
	TypeEngineGo = "go"
)

var errorType = reflect.TypeOf((*error)(nil)).Elem()

type GoEngine struct {
	i       *interp.Interpreter
	id      uint64
	symbols map[string]reflect.Value
	fn      map[string]reflect.Value
	refs    *slotTable[reflect.Value]
	ready   bool
	closed  bool
}

func (e *GoEngine) New() {
	e.i = interp.New(interp.Options{})
	e.symbols = make(map[string]reflect.Value)
	e.fn = make(map[string]reflect.Value)
	err := e.i.Use(stdlib.Symbols)
	if err != nil {
		panic(err)
	}
	e.id = nextEnvID()
	e.refs = newSlotTable[reflect.Value]()
	e.ready = false
	e.closed = false
}

func (e *GoEngine) ID() uint64 {
	return e.id
}

func (e *GoEngine) Type() string {
	return TypeEngineGo
}

func (e *GoEngine) IsReady() bool {
	return e.ready
}
func (e *GoEngine) SetReady() {
	symbols := map[string]map[string]reflect.Value{
		"gos/gos": e.symbols,
	}
	e.i.Use(symbols)
	e.ready = true
}

func (e *GoEngine) ParseString(source string) error {
	if e.closed {
		return e.closedError()
	}
	_, err := e.i.Eval(source)
	return err
}

func (e *GoEngine) ParseFile(path string) error {
	if e.closed {
		return e.closedError()
	}
	_, err := e.i.EvalPath(path)
	return err
}

func (e *GoEngine) RegisterObject(objectName string, objectPtr interface{}) {
	e.symbols[objectName] = reflect.ValueOf(objectPtr)
}

func (e *GoEngine) RegisterFunction(goFuncName string, goFuncPtr interface{}) {
	e.symbols[goFuncName] = reflect.ValueOf(goFuncPtr)
}

func (e *GoEngine) RegisterModule(moduleName string, moduleFuncPtr map[string]interface{}) {
	modFuncSymbols := make(map[string]reflect.Value)
	for k, v := range moduleFuncPtr {
		modFuncSymbols[k] = reflect.ValueOf(v)
	}
	symbols := map[string]map[string]reflect.Value{
		moduleName: modFuncSymbols,
	}
	e.i.Use(symbols)
}

func (e *GoEngine) lookup(name string) (reflect.Value, error) {
	if f, ok := e.fn[name]; ok {
		return f, nil
	}
	f, err := e.i.Eval(name)
	if err != nil {
		return reflect.Value{}, err
	}
	e.fn[name] = f
	return f, nil
}

func (e *GoEngine) IsFunction(scriptFuncName string) bool {
	if e.closed {
		return false
	}
	f, err := e.lookup(scriptFuncName)
	return err == nil && f.Kind() == reflect.Func
}

func (e *GoEngine) Call(scriptFuncName string, retNum int, args ...interface{}) ([]interface{}, error) {
	if e.closed {
		return nil, e.closedError()
	}
	f, err := e.lookup(scriptFuncName)
	if err != nil {
		return nil, err
	}
	rets := f.Call(goArgs(f.Type(), args))

	results := make([]interface{}, 0, len(rets))
	for i := 0; i < len(rets); i++ {
		results = append(results, rets[i].Interface())
	}
	return results, nil
}

func (e *GoEngine) Function(name string) (Ref, error) {
	if e.closed {
		return Ref{}, e.closedError()
	}
	f, err := e.lookup(name)
	if err != nil {
		return Ref{}, err
	}
	if f.Kind() != reflect.Func {
		return Ref{}, errorc.With(
			ErrNotCallable,
			errorc.String(ErrorFieldName, name),
			errorc.String(ErrorFieldType, f.Kind().String()),
		)
	}
	return e.refs.put(e, name, f), nil
}

func (e *GoEngine) Object(name string) (Ref, error) {
	if e.closed {
		return Ref{}, e.closedError()
	}
	v, err := e.lookup(name)
	if err != nil {
		return Ref{}, err
	}
	return e.refs.put(e, name, v), nil
}

func (e *GoEngine) Alive(ref Ref) bool {
	if !ref.owned(e.id) {
		return false
	}
	_, ok := e.refs.get(ref)
	return ok
}

func (e *GoEngine) IsNil(ref Ref) bool {
	v, ok := e.refs.get(ref)
	if !ok || !v.IsValid() {
		return true
	}
	switch v.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Func, reflect.Interface, reflect.Chan:
		return v.IsNil()
	}
	return false
}

// Same compares by resolved name: func values are not comparable in Go.
func (e *GoEngine) Same(a, b Ref) bool {
	va, okA := e.refs.get(a)
	vb, okB := e.refs.get(b)
	if !okA || !okB {
		return false
	}
	if a.slot == b.slot || e.refs.name(a) == e.refs.name(b) {
		return true
	}
	if !va.IsValid() || !vb.IsValid() {
		return false
	}
	if va.Kind() == reflect.Func || vb.Kind() == reflect.Func || !va.Type().Comparable() || !vb.Type().Comparable() {
		return false
	}
	return va.Interface() == vb.Interface()
}

func (e *GoEngine) Release(ref Ref) {
	if ref.owned(e.id) {
		e.refs.drop(ref)
	}
}

func (e *GoEngine) resolve(ref Ref) (reflect.Value, error) {
	if e.closed {
		return reflect.Value{}, unknownFailure(e, e.closedError())
	}
	if !ref.owned(e.id) {
		return reflect.Value{}, unknownFailure(e, errorc.With(ErrForeignHandle, errorc.String(ErrorFieldEnvType, TypeEngineGo)))
	}
	v, ok := e.refs.get(ref)
	if !ok {
		return reflect.Value{}, unknownFailure(e, errorc.With(ErrStaleHandle, errorc.String(ErrorFieldName, e.refs.name(ref))))
	}
	return v, nil
}

// Invoke treats a non-nil trailing error result as the script runtime error.
func (e *GoEngine) Invoke(fn, recv Ref, args ...interface{}) (ret interface{}, err error) {
	f, err := e.resolve(fn)
	if err != nil {
		return nil, err
	}
	if f.Kind() != reflect.Func {
		return nil, unknownFailure(e, errorc.With(ErrNotCallable, errorc.String(ErrorFieldType, f.Kind().String())))
	}

	callArgs := make([]interface{}, 0, len(args)+1)
	if recv.Valid() {
		self, err := e.resolve(recv)
		if err != nil {
			return nil, err
		}
		callArgs = append(callArgs, self.Interface())
	}
	callArgs = append(callArgs, args...)

	defer func() {
		if r := recover(); r != nil {
			ret, err = nil, panicFailure(e, r)
		}
	}()

	rets := f.Call(goArgs(f.Type(), callArgs))
	if n := len(rets); n > 0 && f.Type().Out(n-1) == errorType {
		if callErr, _ := rets[n-1].Interface().(error); callErr != nil {
			return nil, runtimeFailure(e, callErr.Error())
		}
		rets = rets[:n-1]
	}
	if len(rets) == 0 {
		return nil, nil
	}
	return rets[0].Interface(), nil
}

func (e *GoEngine) closedError() error {
	return errorc.With(
		ErrEnvironmentClosed,
		errorc.String(ErrorFieldEnvType, TypeEngineGo),
		errorc.String(ErrorFieldEnvID, fmt.Sprint(e.id)),
	)
}

func (e *GoEngine) Close() {
	if e.closed {
		return
	}
	e.closed = true
	e.refs.close()
	e.fn = make(map[string]reflect.Value)
}

// goArgs converts args to the parameter types of fnType. Variadic tails are
// converted to the element type.
func goArgs(fnType reflect.Type, args []interface{}) []reflect.Value {
	params := make([]reflect.Value, len(args))
	for i, arg := range args {
		if fnType.IsVariadic() && i >= fnType.NumIn()-1 {
			params[i] = goArg(arg, fnType.In(fnType.NumIn()-1).Elem())
			continue
		}
		if i >= fnType.NumIn() {
			params[i] = reflect.ValueOf(arg)
			continue
		}
		params[i] = goArg(arg, fnType.In(i))
	}
	return params
}

func goArg(arg interface{}, t reflect.Type) reflect.Value {
	if arg == nil {
		return reflect.Zero(t)
	}
	v := reflect.ValueOf(arg)
	if v.Type().AssignableTo(t) {
		return v
	}
	if v.Type().ConvertibleTo(t) {
		return v.Convert(t)
	}
	return v
}
