// Package callback binds script side functions, optionally with a receiver
// ("self") object, to typed Go call sites.
//
// A Callback never lets a script failure escape Call. Script runtime errors
// are reported to the host sink and the binding stays usable; any other
// failure clears the binding so a broken target is not invoked again.
package callback

import (
	"log/slog"

	"github.com/icyseptember2237/scriptbridge/engine"
)

// Void is the result type of callbacks that return nothing.
type Void = struct{}

// Hook is a callback invoked for its side effects only.
type Hook = Callback[Void]

// Invoker is the read-only view of a callback. Calling through it still
// clears the underlying binding on unknown failures.
type Invoker[R any] interface {
	IsSet() bool
	Call(args ...interface{}) R
}

// Callback pairs a function handle with an optional receiver handle. The
// zero value is empty and ready to use.
//
// Copy a Callback with Clone or Assign; plain assignment copies the handles
// without checking that they are still live.
type Callback[R any] struct {
	fn   engine.Ref
	recv engine.Ref
}

// Set binds fn with no receiver.
func (c *Callback[R]) Set(fn engine.Ref) {
	c.Clear()
	c.fn = fn
}

// SetWithReceiver binds fn; recv is passed as its first argument on every call.
func (c *Callback[R]) SetWithReceiver(fn, recv engine.Ref) {
	c.Clear()
	c.fn = fn
	c.recv = recv
}

// Clear resets both handles. It does not touch the environment.
func (c *Callback[R]) Clear() {
	c.fn = engine.Ref{}
	c.recv = engine.Ref{}
}

// IsSet reports whether a function is bound. It never calls into the environment.
func (c *Callback[R]) IsSet() bool {
	return c.fn.Valid()
}

// ReceiverIsSet reports whether a receiver is bound.
func (c *Callback[R]) ReceiverIsSet() bool {
	return c.recv.Valid()
}

// Function returns the bound function handle, possibly empty.
func (c *Callback[R]) Function() engine.Ref {
	return c.fn
}

// Receiver returns the bound receiver handle, possibly empty.
func (c *Callback[R]) Receiver() engine.Ref {
	return c.recv
}

// Equal reports whether both callbacks bind the same function and receiver,
// comparing nil-safely. A nil other is an empty callback.
func (c *Callback[R]) Equal(other *Callback[R]) bool {
	if other == nil {
		other = &Callback[R]{}
	}
	return engine.Equal(c.recv, other.recv) && engine.Equal(c.fn, other.fn)
}

// EqualReceiver compares the receiver alone against obj.
func (c *Callback[R]) EqualReceiver(obj engine.Ref) bool {
	return engine.Equal(c.recv, obj)
}

// Assign replaces c with the handles of src that are still live. A source
// with a stale receiver and a live function yields a function-only binding.
func (c *Callback[R]) Assign(src *Callback[R]) {
	fn, recv := src.fn, src.recv
	c.Clear()
	if fn.Live() {
		c.fn = fn
	}
	if recv.Live() {
		c.recv = recv
	}
}

// Clone returns a copy of c built the way Assign does.
func (c *Callback[R]) Clone() Callback[R] {
	var dst Callback[R]
	dst.Assign(c)
	return dst
}

// Call invokes the bound function with args and adapts its result to R.
// An empty callback returns the zero R without reaching any environment.
func (c *Callback[R]) Call(args ...interface{}) (result R) {
	if !c.fn.Valid() {
		return result
	}

	defer func() {
		if r := recover(); r != nil {
			c.reset(nil, r)
			var zero R
			result = zero
		}
	}()

	// a receiver the environment no longer holds is skipped, as copies drop it
	recv := c.recv
	if !recv.Live() {
		recv = engine.Ref{}
	}

	raw, err := c.fn.Env().Invoke(c.fn, recv, args...)
	if err != nil {
		failure := engine.AsFailure(err)
		if failure.Kind == engine.KindRecoverable {
			report(failure)
			return result
		}
		c.reset(failure, nil)
		return result
	}

	v, err := adapt[R](raw)
	if err != nil {
		c.reset(engine.AsFailure(err), nil)
		return result
	}
	return v
}

func (c *Callback[R]) reset(failure *engine.Failure, panicked interface{}) {
	attrs := []any{slog.String("function", describe(c.fn))}
	if failure != nil {
		attrs = append(attrs, slog.String("error", failure.Error()))
	}
	if panicked != nil {
		attrs = append(attrs, slog.Any("panic", panicked))
	}
	c.Clear()
	slog.Debug("callback cleared after unknown failure", attrs...)
}

func report(failure *engine.Failure) {
	h := CurrentHost()
	env := failure.Env
	if env == nil {
		env = h.Env
	}
	text := failure.Text
	if text == "" {
		text = failure.Error()
	}
	h.Sink.PrintOutput(env, engine.ChannelRuntime, text)
}

func describe(ref engine.Ref) string {
	if env := ref.Env(); env != nil {
		return env.Type()
	}
	return "none"
}
