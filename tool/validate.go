package tool

import (
	"fmt"
	"math"
	"reflect"
	"slices"
)

// Validate checks an argument map against the schema and returns
// human-readable problems; an empty slice means the arguments are valid.
//
// Problems are reported in a fixed order: missing required parameters,
// then unknown argument keys, then per-parameter type and enum
// mismatches, each group in deterministic name order.
func (s Schema) Validate(arguments map[string]any) []string {
	problems := make([]string, 0)

	for _, name := range s.ParameterNames() {
		param := s.Parameters[name]
		if !param.Required {
			continue
		}
		if _, present := arguments[name]; !present {
			problems = append(problems, fmt.Sprintf("missing required parameter %q", name))
		}
	}

	argNames := make([]string, 0, len(arguments))
	for name := range arguments {
		argNames = append(argNames, name)
	}
	slices.Sort(argNames)

	for _, name := range argNames {
		if _, known := s.Parameters[name]; !known {
			problems = append(problems, fmt.Sprintf("unknown parameter %q", name))
		}
	}

	for _, name := range argNames {
		param, known := s.Parameters[name]
		if !known {
			continue
		}
		value := arguments[name]
		if !kindMatches(param.Kind, value) {
			problems = append(problems, fmt.Sprintf("parameter %q: expected %s, got %s", name, param.Kind, valueKind(value)))
			continue
		}
		if len(param.Enum) > 0 && !enumContains(param.Enum, value) {
			problems = append(problems, fmt.Sprintf("parameter %q: value %v is not one of %v", name, value, param.Enum))
		}
	}

	return problems
}

// kindMatches checks a runtime JSON value against a declared kind family.
// Integers accept whole-valued floats because JSON decoding produces
// float64 for every number.
func kindMatches(kind string, value any) bool {
	if value == nil {
		return true
	}
	switch kind {
	case KindString:
		_, ok := value.(string)
		return ok
	case KindBoolean:
		_, ok := value.(bool)
		return ok
	case KindNumber:
		return isNumeric(value)
	case KindInteger:
		switch v := value.(type) {
		case int, int32, int64:
			return true
		case float64:
			return v == math.Trunc(v)
		case float32:
			return float64(v) == math.Trunc(float64(v))
		default:
			return false
		}
	case KindArray:
		return reflect.ValueOf(value).Kind() == reflect.Slice
	case KindObject:
		return reflect.ValueOf(value).Kind() == reflect.Map
	default:
		return true
	}
}

func isNumeric(value any) bool {
	switch value.(type) {
	case int, int32, int64, float32, float64:
		return true
	default:
		return false
	}
}

func enumContains(enum []any, value any) bool {
	for _, allowed := range enum {
		if reflect.DeepEqual(allowed, value) {
			return true
		}
		// JSON decoding yields float64; tolerate integer literals in
		// either representation.
		if af, aok := toFloat(allowed); aok {
			if vf, vok := toFloat(value); vok && af == vf {
				return true
			}
		}
	}
	return false
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	default:
		return 0, false
	}
}

func valueKind(value any) string {
	switch value.(type) {
	case nil:
		return "null"
	case string:
		return KindString
	case bool:
		return KindBoolean
	case int, int32, int64, float32, float64:
		return KindNumber
	default:
		switch reflect.ValueOf(value).Kind() {
		case reflect.Slice:
			return KindArray
		case reflect.Map:
			return KindObject
		default:
			return fmt.Sprintf("%T", value)
		}
	}
}
