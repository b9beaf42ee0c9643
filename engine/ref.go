package engine

// Ref is a tagged reference to a value living in an Environment. The zero Ref
// is empty.
type Ref struct {
	env  Environment
	slot uint64
}

// NewRef builds a reference for Environment implementations outside this
// package. Slot 0 is never handed out by the engines here.
func NewRef(env Environment, slot uint64) Ref {
	return Ref{env: env, slot: slot}
}

func (r Ref) Env() Environment {
	return r.env
}

func (r Ref) Slot() uint64 {
	return r.slot
}

// Valid reports whether r is bound to an environment. It never calls into
// the environment.
func (r Ref) Valid() bool {
	return r.env != nil
}

// Live reports whether the environment still holds the referenced value.
func (r Ref) Live() bool {
	return r.env != nil && r.env.Alive(r)
}

// Nil reports whether r is empty or refers to a script nil value.
func (r Ref) Nil() bool {
	return r.env == nil || r.env.IsNil(r)
}

func (r Ref) owned(id uint64) bool {
	return r.env != nil && r.env.ID() == id
}

// Equal compares two references nil-safely: two nil references are equal
// whatever their identity, a nil and a non-nil one never are.
func Equal(a, b Ref) bool {
	aNil, bNil := a.Nil(), b.Nil()
	if aNil && bNil {
		return true
	}
	if aNil || bNil {
		return false
	}
	if a.env.ID() != b.env.ID() {
		return false
	}
	return a.env.Same(a, b)
}

// slotTable holds the script values referenced by the Refs of one engine.
type slotTable[T any] struct {
	next   uint64
	values map[uint64]T
	names  map[uint64]string
	closed bool
}

func newSlotTable[T any]() *slotTable[T] {
	return &slotTable[T]{
		values: make(map[uint64]T),
		names:  make(map[uint64]string),
	}
}

func (t *slotTable[T]) put(env Environment, name string, v T) Ref {
	t.next++
	t.values[t.next] = v
	t.names[t.next] = name
	return Ref{env: env, slot: t.next}
}

func (t *slotTable[T]) get(ref Ref) (T, bool) {
	var zero T
	if t.closed {
		return zero, false
	}
	v, ok := t.values[ref.slot]
	return v, ok
}

func (t *slotTable[T]) name(ref Ref) string {
	return t.names[ref.slot]
}

func (t *slotTable[T]) drop(ref Ref) {
	delete(t.values, ref.slot)
	delete(t.names, ref.slot)
}

func (t *slotTable[T]) close() {
	t.closed = true
	t.values = make(map[uint64]T)
	t.names = make(map[uint64]string)
}
