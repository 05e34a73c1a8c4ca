package matchers

import (
	"fmt"
	"math"
	"reflect"
	"strings"
)

// Equal tests whether the input value matches the expected value according to reflect.DeepEqual.
func Equal(expectedValue interface{}) Matcher {
	return named("equal", expectedValue,
		func(value interface{}) bool {
			return reflect.DeepEqual(value, expectedValue)
		},
		func(value interface{}, desc DescribeValueFunc) string {
			return fmt.Sprintf("equal to %s", desc(expectedValue))
		},
	)
}

// AlmostEqual tests whether a numeric value rounds to the expected value at the given number
// of decimal places.
func AlmostEqual(expectedValue interface{}, places int) Matcher {
	return named("almost equal", expectedValue,
		func(value interface{}) bool {
			a, okA := toFloat(value)
			b, okB := toFloat(expectedValue)
			if !okA || !okB {
				return false
			}
			scale := math.Pow(10, float64(places))
			return math.Round((a-b)*scale) == 0
		},
		func(value interface{}, desc DescribeValueFunc) string {
			return fmt.Sprintf("almost equal to %s (%d places)", desc(expectedValue), places)
		},
	)
}

// BeGreaterThan tests a number or string against a lower bound.
func BeGreaterThan(expectedValue interface{}) Matcher {
	return named("be greater than", expectedValue,
		func(value interface{}) bool {
			c, ok := compareOrdered(value, expectedValue)
			return ok && c > 0
		},
		func(value interface{}, desc DescribeValueFunc) string {
			return fmt.Sprintf("greater than %s", desc(expectedValue))
		},
	)
}

// BeLessThan tests a number or string against an upper bound.
func BeLessThan(expectedValue interface{}) Matcher {
	return named("be less than", expectedValue,
		func(value interface{}) bool {
			c, ok := compareOrdered(value, expectedValue)
			return ok && c < 0
		},
		func(value interface{}, desc DescribeValueFunc) string {
			return fmt.Sprintf("less than %s", desc(expectedValue))
		},
	)
}

// BeNil passes for a nil interface value or a nil pointer, slice, map, channel, or function.
func BeNil() Matcher {
	return Matcher{
		comparator: "be nil",
		maybeTest:  isNil,
		maybeDescribeFailure: func(interface{}, DescribeValueFunc) string {
			return "nil"
		},
	}
}

// BeTrue passes only for the boolean true.
func BeTrue() Matcher { return Equal(true).Named("be true", nil) }

// BeFalse passes only for the boolean false.
func BeFalse() Matcher { return Equal(false).Named("be false", nil) }

// BeA passes if the value has the same dynamic type as valueOfType.
func BeA(valueOfType interface{}) Matcher {
	return named("be a", fmt.Sprintf("%T", valueOfType),
		func(value interface{}) bool {
			return reflect.TypeOf(value) == reflect.TypeOf(valueOfType)
		},
		func(value interface{}, desc DescribeValueFunc) string {
			return fmt.Sprintf("value of type %T, was %T", valueOfType, value)
		},
	)
}

// Panic passes if the value is a func() that panics when called. If matcher is given, it
// must also pass for the recovered value.
func Panic(matchers ...Matcher) Matcher {
	recovered := func(value interface{}) (r interface{}, panicked bool, ok bool) {
		fn, isFunc := value.(func())
		if !isFunc {
			return nil, false, false
		}
		defer func() {
			if p := recover(); p != nil {
				r, panicked, ok = p, true, true
			}
		}()
		fn()
		return nil, false, true
	}
	m := AllOf(matchers...)
	return named("panic", nil,
		func(value interface{}) bool {
			r, panicked, ok := recovered(value)
			return ok && panicked && m.test(r)
		},
		func(value interface{}, desc DescribeValueFunc) string {
			r, panicked, ok := recovered(value)
			switch {
			case !ok:
				return "a func() that panics"
			case !panicked:
				return "a panic, but the function returned normally"
			default:
				return "a panic with value " + m.describeFailure(r, m.describeValue)
			}
		},
	)
}

func isNil(value interface{}) bool {
	if value == nil {
		return true
	}
	v := reflect.ValueOf(value)
	switch v.Kind() {
	case reflect.Ptr, reflect.Slice, reflect.Map, reflect.Chan, reflect.Func, reflect.Interface:
		return v.IsNil()
	default:
		return false
	}
}

func toFloat(value interface{}) (float64, bool) {
	v := reflect.ValueOf(value)
	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(v.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(v.Uint()), true
	case reflect.Float32, reflect.Float64:
		return v.Float(), true
	default:
		return 0, false
	}
}

func compareOrdered(a, b interface{}) (int, bool) {
	if sa, ok := a.(string); ok {
		if sb, ok := b.(string); ok {
			return strings.Compare(sa, sb), true
		}
		return 0, false
	}
	fa, okA := toFloat(a)
	fb, okB := toFloat(b)
	if !okA || !okB {
		return 0, false
	}
	switch {
	case fa < fb:
		return -1, true
	case fa > fb:
		return 1, true
	default:
		return 0, true
	}
}
