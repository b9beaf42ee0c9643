package engine

import (
	"fmt"
	"reflect"

	"github.com/robertkrimen/otto"
	"github.com/ygrebnov/errorc"
)

const (
	TypeEngineJs = "js"
)

type JsEngine struct {
	vm     *otto.Otto
	id     uint64
	refs   *slotTable[otto.Value]
	ready  bool
	closed bool
}

func (e *JsEngine) New() {
	e.vm = otto.New()
	e.id = nextEnvID()
	e.refs = newSlotTable[otto.Value]()
	e.ready = false
	e.closed = false
}

func (e *JsEngine) ID() uint64 {
	return e.id
}

func (e *JsEngine) Type() string {
	return TypeEngineJs
}

func (e *JsEngine) IsReady() bool {
	return e.ready
}

func (e *JsEngine) SetReady() {
	e.ready = true
}

func (e *JsEngine) ParseString(source string) error {
	if e.closed {
		return e.closedError()
	}
	_, err := e.vm.Run(source)
	return err
}

func (e *JsEngine) ParseFile(path string) error {
	if e.closed {
		return e.closedError()
	}
	script, err := e.vm.Compile(path, nil)
	if err != nil {
		return err
	}
	_, err = e.vm.Run(script)
	return err
}

func (e *JsEngine) RegisterObject(objectName string, objectPtr interface{}) {
	e.vm.Set(objectName, objectPtr)
}

func (e *JsEngine) RegisterFunction(goFuncName string, goFuncPtr interface{}) {
	goFuncVal := reflect.ValueOf(goFuncPtr)
	if goFuncVal.Kind() != reflect.Func {
		panic("register not invalid function")
	}

	goParamsNum := goFuncVal.Type().NumIn()

	var fn = func(call otto.FunctionCall) otto.Value {
		in := make([]reflect.Value, goParamsNum)
		for i := 0; i < goParamsNum; i++ {
			val, err := call.Argument(i).Export()
			if err != nil {
				panic(err)
			}
			in[i] = goArg(val, goFuncVal.Type().In(i))
		}
		goRets := goFuncVal.Call(in)
		if len(goRets) == 0 {
			return otto.NullValue()
		}
		result, _ := e.vm.ToValue(goRets[0].Interface())
		return result
	}
	e.vm.Set(goFuncName, fn)
}

func (e *JsEngine) RegisterModule(moduleName string, moduleFuncPtr map[string]interface{}) {
	// not supported
}

func (e *JsEngine) IsFunction(scriptFuncName string) bool {
	if e.closed {
		return false
	}
	val, err := e.vm.Get(scriptFuncName)
	return err == nil && val.IsFunction()
}

func (e *JsEngine) Call(scriptFuncName string, retNum int, args ...interface{}) ([]interface{}, error) {
	if e.closed {
		return nil, e.closedError()
	}
	value, err := e.vm.Call(scriptFuncName, nil, args...)
	if err != nil {
		return nil, err
	}
	data, err := value.Export()
	if err != nil {
		return nil, err
	}
	return []interface{}{data}, nil
}

// lookup evaluates name as an expression, so "npc.onHit" resolves too.
func (e *JsEngine) lookup(name string) (otto.Value, error) {
	return e.vm.Run(name)
}

func (e *JsEngine) Function(name string) (Ref, error) {
	if e.closed {
		return Ref{}, e.closedError()
	}
	val, err := e.lookup(name)
	if err != nil {
		return Ref{}, err
	}
	if !val.IsFunction() {
		return Ref{}, errorc.With(
			ErrNotCallable,
			errorc.String(ErrorFieldName, name),
			errorc.String(ErrorFieldType, val.Class()),
		)
	}
	return e.refs.put(e, name, val), nil
}

func (e *JsEngine) Object(name string) (Ref, error) {
	if e.closed {
		return Ref{}, e.closedError()
	}
	val, err := e.lookup(name)
	if err != nil {
		return Ref{}, err
	}
	return e.refs.put(e, name, val), nil
}

func (e *JsEngine) Alive(ref Ref) bool {
	if !ref.owned(e.id) {
		return false
	}
	_, ok := e.refs.get(ref)
	return ok
}

func (e *JsEngine) IsNil(ref Ref) bool {
	val, ok := e.refs.get(ref)
	return !ok || val.IsNull() || val.IsUndefined()
}

func (e *JsEngine) Same(a, b Ref) bool {
	va, okA := e.refs.get(a)
	vb, okB := e.refs.get(b)
	if !okA || !okB {
		return false
	}
	return va == vb
}

func (e *JsEngine) Release(ref Ref) {
	if ref.owned(e.id) {
		e.refs.drop(ref)
	}
}

func (e *JsEngine) resolve(ref Ref) (otto.Value, error) {
	if e.closed {
		return otto.UndefinedValue(), unknownFailure(e, e.closedError())
	}
	if !ref.owned(e.id) {
		return otto.UndefinedValue(), unknownFailure(e, errorc.With(ErrForeignHandle, errorc.String(ErrorFieldEnvType, TypeEngineJs)))
	}
	val, ok := e.refs.get(ref)
	if !ok {
		return otto.UndefinedValue(), unknownFailure(e, errorc.With(ErrStaleHandle, errorc.String(ErrorFieldName, e.refs.name(ref))))
	}
	return val, nil
}

func (e *JsEngine) Invoke(fn, recv Ref, args ...interface{}) (ret interface{}, err error) {
	f, err := e.resolve(fn)
	if err != nil {
		return nil, err
	}
	if !f.IsFunction() {
		return nil, unknownFailure(e, errorc.With(ErrNotCallable, errorc.String(ErrorFieldType, f.Class())))
	}

	jsArgs := make([]interface{}, 0, len(args)+1)
	if recv.Valid() {
		self, err := e.resolve(recv)
		if err != nil {
			return nil, err
		}
		jsArgs = append(jsArgs, self)
	}
	jsArgs = append(jsArgs, args...)

	defer func() {
		if r := recover(); r != nil {
			ret, err = nil, panicFailure(e, r)
		}
	}()

	// otto turns every thrown script value into an error; Go panics it does
	// not recognise are re-raised and land in the recover above.
	value, callErr := f.Call(otto.UndefinedValue(), jsArgs...)
	if callErr != nil {
		return nil, runtimeFailure(e, jsErrorText(callErr))
	}
	data, exportErr := value.Export()
	if exportErr != nil {
		return nil, unknownFailure(e, errorc.With(ErrConversion, errorc.String(ErrorFieldCause, exportErr.Error())))
	}
	return data, nil
}

func jsErrorText(err error) string {
	if ottoErr, ok := err.(*otto.Error); ok {
		return ottoErr.String()
	}
	return err.Error()
}

func (e *JsEngine) closedError() error {
	return errorc.With(
		ErrEnvironmentClosed,
		errorc.String(ErrorFieldEnvType, TypeEngineJs),
		errorc.String(ErrorFieldEnvID, fmt.Sprint(e.id)),
	)
}

func (e *JsEngine) Close() {
	if e.closed {
		return
	}
	e.closed = true
	e.refs.close()
}
