package ajax

// Fields holds an entity's state as a JSON map.
//
// Examples:
//   - Contact sensor: {"opened": true, "battery": 84, "signal": 3}
//   - Hub:            {"armed_mode": "armed", "online": true}
//   - Switch:         {"on": false, "power_watts": 0.0}
//
// Every field update is absolute (last-writer-wins per field), never
// incremental. Derived counters do not belong here.
type Fields map[string]any

// Well-known field names shared across device types.
const (
	FieldArmedMode   = "armed_mode"
	FieldOnline      = "online"
	FieldFirmware    = "firmware_version"
	FieldBattery     = "battery"
	FieldSignal      = "signal"
	FieldTemperature = "temperature"
	FieldTamper      = "tamper"
	FieldOpened      = "opened"
	FieldMotion      = "motion"
	FieldSmoke       = "smoke"
	FieldLeak        = "leak"
	FieldGlassBreak  = "glass_break"
	FieldOn          = "on"
	FieldLocked      = "locked"
	FieldLowBattery  = "low_battery"
)

// Clone creates a deep copy of the field map. Nested maps and slices are
// recursively copied.
func (f Fields) Clone() Fields {
	if f == nil {
		return nil
	}
	cpy := make(Fields, len(f))
	for k, v := range f {
		cpy[k] = cloneValue(v)
	}
	return cpy
}

// cloneValue recursively copies a value, handling nested maps and slices.
func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		cpy := make(map[string]any, len(val))
		for k, nested := range val {
			cpy[k] = cloneValue(nested)
		}
		return cpy
	case []any:
		cpy := make([]any, len(val))
		for i, elem := range val {
			cpy[i] = cloneValue(elem)
		}
		return cpy
	default:
		// Primitives (string, bool, int, float64) are safe to copy by value.
		return v
	}
}

// Bool returns the named field as a bool.
func (f Fields) Bool(key string) (bool, bool) {
	v, ok := f[key].(bool)
	return v, ok
}

// String returns the named field as a string.
func (f Fields) String(key string) (string, bool) {
	v, ok := f[key].(string)
	return v, ok
}

// Float returns the named field as a float64. JSON numbers decode as
// float64, but int values written locally are accepted too.
func (f Fields) Float(key string) (float64, bool) {
	switch v := f[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

// Int returns the named field as an int, truncating a float64 value.
func (f Fields) Int(key string) (int, bool) {
	v, ok := f.Float(key)
	if !ok {
		return 0, false
	}
	return int(v), true
}

// Battery returns the battery level percentage, if present.
func (f Fields) Battery() (int, bool) { return f.Int(FieldBattery) }

// Signal returns the radio signal level, if present.
func (f Fields) Signal() (int, bool) { return f.Int(FieldSignal) }

// Temperature returns the temperature reading, if present.
func (f Fields) Temperature() (float64, bool) { return f.Float(FieldTemperature) }

// Online returns the connectivity flag, if present.
func (f Fields) Online() (bool, bool) { return f.Bool(FieldOnline) }
