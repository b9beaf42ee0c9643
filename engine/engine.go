// Package engine embeds dynamic script environments (Lua, JavaScript, Go) and
// exposes the handle based call facility used by package callback.
package engine

import "sync/atomic"

type Engine interface {
	Environment

	New()

	IsReady() bool
	SetReady()

	ParseString(source string) error
	ParseFile(path string) error

	RegisterObject(objectName string, objectPtr interface{})
	RegisterFunction(goFuncName string, goFuncPtr interface{})
	RegisterModule(moduleName string, moduleFuncPtr map[string]interface{})

	IsFunction(scriptFuncName string) bool
	Call(scriptFuncName string, retNum int, args ...interface{}) ([]interface{}, error)

	Close()
}

// Environment is the dynamic call facility of an engine. Handles returned by
// Function and Object do not own the script value: the environment keeps it
// alive until Release or Close.
type Environment interface {
	ID() uint64
	Type() string

	Function(name string) (Ref, error)
	Object(name string) (Ref, error)

	Alive(ref Ref) bool
	IsNil(ref Ref) bool
	Same(a, b Ref) bool

	// Invoke calls fn, passing recv as the implicit first argument when it is
	// valid. Errors are always *Failure.
	Invoke(fn, recv Ref, args ...interface{}) (interface{}, error)

	Release(ref Ref)
}

var envSeq atomic.Uint64

func nextEnvID() uint64 {
	return envSeq.Add(1)
}
