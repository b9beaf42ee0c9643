package callback

import (
	"fmt"
	"reflect"

	"github.com/mitchellh/mapstructure"
	"github.com/ygrebnov/errorc"

	"github.com/icyseptember2237/scriptbridge/engine"
)

// adapt converts a dynamic result into R. Void discards it, nil becomes the
// zero R, everything else is decoded with mapstructure.
func adapt[R any](raw interface{}) (R, error) {
	var out R
	if _, ok := any(out).(Void); ok {
		return out, nil
	}
	if raw == nil {
		return out, nil
	}
	if v, ok := raw.(R); ok {
		return v, nil
	}
	if err := mapstructure.Decode(raw, &out); err != nil {
		var zero R
		return zero, errorc.With(
			engine.ErrConversion,
			errorc.String(engine.ErrorFieldType, fmt.Sprintf("%T", raw)),
			errorc.String(engine.ErrorFieldCause, err.Error()),
			errorc.String(engine.ErrorFieldTargetType, reflect.TypeOf(&out).Elem().String()),
		)
	}
	return out, nil
}
