package engine

import (
	"errors"
	"fmt"

	"github.com/ygrebnov/errorc"
)

const Namespace = "scriptbridge"

var namespace = errorc.Namespace(Namespace)

// Sentinel errors. Use errors.Is to match.
var (
	ErrScriptRuntime     = namespace.NewError("script runtime error")
	ErrEnvironmentClosed = namespace.NewError("environment closed")
	ErrStaleHandle       = namespace.NewError("stale handle")
	ErrForeignHandle     = namespace.NewError("handle belongs to another environment")
	ErrNotCallable       = namespace.NewError("value is not callable")
	ErrConversion        = namespace.NewError("cannot convert script value")
	ErrPanic             = namespace.NewError("panic during script call")
)

var newKey = errorc.KeyFactory(Namespace)

const keySegmentEnv = "env"

var (
	ErrorFieldEnvType    = newKey("type", keySegmentEnv) // scriptbridge.env.type
	ErrorFieldEnvID      = newKey("id", keySegmentEnv)   // scriptbridge.env.id
	ErrorFieldName       = newKey("name")
	ErrorFieldType       = newKey("value_type")
	ErrorFieldTargetType = newKey("target_type")
	ErrorFieldCause      = newKey("cause")
)

// Kind discriminates the two failure tiers of a script call.
type Kind int

const (
	// KindUnknown failures clear the callback that hit them.
	KindUnknown Kind = iota
	// KindRecoverable failures are script runtime errors: reported, then swallowed.
	KindRecoverable
)

func (k Kind) String() string {
	if k == KindRecoverable {
		return "recoverable"
	}
	return "unknown"
}

// Failure is the error returned by Environment.Invoke.
type Failure struct {
	Kind Kind
	// Env is the environment the failure originated in, if known.
	Env Environment
	// Text is the script side message, stack trace included when available.
	Text string
	Err  error
}

func (f *Failure) Error() string {
	if f.Err == nil {
		return f.Kind.String() + " failure: " + f.Text
	}
	if f.Text != "" {
		return fmt.Sprintf("%s: %s", f.Err, f.Text)
	}
	return f.Err.Error()
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// AsFailure classifies err. Anything that is not a *Failure is unknown.
func AsFailure(err error) *Failure {
	if err == nil {
		return nil
	}
	var f *Failure
	if errors.As(err, &f) {
		return f
	}
	return &Failure{Kind: KindUnknown, Text: err.Error(), Err: err}
}

func runtimeFailure(env Environment, text string) *Failure {
	return &Failure{
		Kind: KindRecoverable,
		Env:  env,
		Text: text,
		Err: errorc.With(
			ErrScriptRuntime,
			errorc.String(ErrorFieldEnvType, env.Type()),
			errorc.String(ErrorFieldEnvID, fmt.Sprint(env.ID())),
		),
	}
}

func unknownFailure(env Environment, err error) *Failure {
	return &Failure{Kind: KindUnknown, Env: env, Err: err}
}

func panicFailure(env Environment, r interface{}) *Failure {
	return unknownFailure(env, errorc.With(
		ErrPanic,
		errorc.String(ErrorFieldEnvType, env.Type()),
		errorc.String(ErrorFieldCause, fmt.Sprint(r)),
	))
}
