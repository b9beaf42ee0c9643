package callback

import (
	"sync/atomic"

	"github.com/icyseptember2237/scriptbridge/engine"
)

// Host is the embedding side of every callback: the environment reported
// when a script error carries none, and where diagnostics go.
type Host struct {
	Env  engine.Environment
	Sink engine.Sink
}

var host atomic.Pointer[Host]

// SetHost installs h for all callbacks. A nil Sink falls back to a LogSink
// over slog.Default().
func SetHost(h Host) {
	host.Store(&h)
}

// CurrentHost returns the installed host with its Sink defaulted.
func CurrentHost() Host {
	var h Host
	if p := host.Load(); p != nil {
		h = *p
	}
	if h.Sink == nil {
		h.Sink = engine.NewLogSink(nil)
	}
	return h
}
