package evaluation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// NotApplicable is the JSON form of a metric that could not be computed.
const NotApplicable = "n/a"

// Value is a metric that may be unavailable. It marshals to a number or to
// the string "n/a".
type Value struct {
	v  float64
	ok bool
}

// NA is the unavailable value.
var NA = Value{}

// Of returns an available value.
func Of(v float64) Value {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return NA
	}
	return Value{v: v, ok: true}
}

// Get returns the value and whether it is available.
func (v Value) Get() (float64, bool) { return v.v, v.ok }

// Or returns the value, or def when unavailable.
func (v Value) Or(def float64) float64 {
	if !v.ok {
		return def
	}
	return v.v
}

func (v Value) String() string {
	if !v.ok {
		return NotApplicable
	}
	return strconv.FormatFloat(round(v.v), 'f', -1, 64)
}

func (v Value) MarshalJSON() ([]byte, error) {
	if !v.ok {
		return []byte(`"` + NotApplicable + `"`), nil
	}
	return []byte(strconv.FormatFloat(round(v.v), 'f', -1, 64)), nil
}

func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if string(data) == "null" || string(data) == `"`+NotApplicable+`"` {
		*v = NA
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("metric value: %w", err)
	}
	*v = Of(f)
	return nil
}

func round(f float64) float64 {
	return math.Round(f*10000) / 10000
}

// mean averages the available values.
func mean(values []Value) Value {
	var sum float64
	n := 0
	for _, v := range values {
		if f, ok := v.Get(); ok {
			sum += f
			n++
		}
	}
	if n == 0 {
		return NA
	}
	return Of(sum / float64(n))
}
