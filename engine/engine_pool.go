package engine

import "sync"

// EnginePool recycles engines of one type. Shutdown closes the pooled
// engines, which invalidates every Ref into them.
type EnginePool struct {
	engineType string
	m          sync.Mutex
	saved      []Engine
}

func (ep *EnginePool) Get() Engine {
	ep.m.Lock()
	defer ep.m.Unlock()
	n := len(ep.saved)
	if n == 0 {
		return ep.New()
	}
	x := ep.saved[n-1]
	ep.saved = ep.saved[0 : n-1]
	return x
}

func (ep *EnginePool) Put(e Engine) {
	if e == nil {
		return
	}
	ep.m.Lock()
	defer ep.m.Unlock()
	ep.saved = append(ep.saved, e)
}

func (ep *EnginePool) Len() int {
	ep.m.Lock()
	defer ep.m.Unlock()
	return len(ep.saved)
}

func (ep *EnginePool) Shutdown() {
	ep.m.Lock()
	saved := ep.saved
	ep.saved = nil
	ep.m.Unlock()
	for _, e := range saved {
		e.Close()
	}
}

// New returns a fresh engine, or nil for an unknown engine type.
func (ep *EnginePool) New() Engine {
	var engine Engine
	switch ep.engineType {
	case TypeEngineLua:
		engine = &LuaEngine{}
	case TypeEngineJs:
		engine = &JsEngine{}
	case TypeEngineGo:
		engine = &GoEngine{}
	default:
		return nil
	}

	engine.New()
	return engine
}

func InitEnginePool(engineType string) *EnginePool {
	return &EnginePool{
		engineType: engineType,
		m:          sync.Mutex{},
		saved:      make([]Engine, 0, 4),
	}
}
