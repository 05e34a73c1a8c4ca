package matchers

import (
	"fmt"
	"reflect"
	"strings"
)

// ItemsInAnyOrder is a matcher for a slice value. It tests that the slice contains the same
// number of elements as the number of parameters, and that each parameter is a matcher that
// matches one item in the slice.
//
//	s := []int{6,2}
//	matchers.ItemsInAnyOrder(matchers.Equal(2), matchers.Equal(6)).Test(s) // pass
func ItemsInAnyOrder(matchers ...Matcher) Matcher {
	return named("contain in any order", nil,
		func(value interface{}) bool {
			v := reflect.ValueOf(value)
			if v.Kind() != reflect.Slice || v.Len() != len(matchers) {
				return false
			}
			for _, m := range matchers {
				if indexWhere(v, m.test) < 0 {
					return false
				}
			}
			return true
		},
		func(value interface{}, desc DescribeValueFunc) string {
			v := reflect.ValueOf(value)
			if v.Kind() != reflect.Slice {
				return "a slice"
			}
			if v.Len() != len(matchers) {
				return fmt.Sprintf("should have %d item(s) (had %d)", len(matchers), v.Len())
			}
			return "contains in any order: " + describeMatchersList(matchers, value, ", ")
		},
	)
}

// Contain passes if the value is a string containing the expected substring, a slice or array
// with an element equal to the expected value, or a map with the expected value as a key.
func Contain(expectedValue interface{}) Matcher {
	return named("contain", expectedValue,
		func(value interface{}) bool {
			return contains(value, expectedValue)
		},
		func(value interface{}, desc DescribeValueFunc) string {
			return fmt.Sprintf("containing %s", desc(expectedValue))
		},
	)
}

// BeIn is the reverse of Contain: the value must be contained in the expected collection.
func BeIn(collection interface{}) Matcher {
	return named("be in", collection,
		func(value interface{}) bool {
			return contains(collection, value)
		},
		func(value interface{}, desc DescribeValueFunc) string {
			return fmt.Sprintf("contained in %s", desc(collection))
		},
	)
}

// HaveLength passes if the value is a string, slice, array, map, or channel of the given length.
func HaveLength(length int) Matcher {
	return named("have length", length,
		func(value interface{}) bool {
			n, ok := lengthOf(value)
			return ok && n == length
		},
		func(value interface{}, desc DescribeValueFunc) string {
			if n, ok := lengthOf(value); ok {
				return fmt.Sprintf("length %d (had %d)", length, n)
			}
			return fmt.Sprintf("a value with length %d", length)
		},
	)
}

// BeSubsetOf passes if every element of the value (a slice, array, or the keys of a map) is
// also an element of the expected collection.
func BeSubsetOf(collection interface{}) Matcher {
	return named("be a subset of", collection,
		func(value interface{}) bool {
			return isSubset(value, collection)
		},
		func(value interface{}, desc DescribeValueFunc) string {
			return fmt.Sprintf("a subset of %s", desc(collection))
		},
	)
}

// BeSupersetOf passes if every element of the expected collection is also an element of the value.
func BeSupersetOf(collection interface{}) Matcher {
	return named("be a superset of", collection,
		func(value interface{}) bool {
			return isSubset(collection, value)
		},
		func(value interface{}, desc DescribeValueFunc) string {
			return fmt.Sprintf("a superset of %s", desc(collection))
		},
	)
}

func indexWhere(v reflect.Value, test func(interface{}) bool) int {
	for i := 0; i < v.Len(); i++ {
		if test(v.Index(i).Interface()) {
			return i
		}
	}
	return -1
}

func contains(collection, item interface{}) bool {
	if s, ok := collection.(string); ok {
		sub, ok := item.(string)
		return ok && strings.Contains(s, sub)
	}
	v := reflect.ValueOf(collection)
	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		return indexWhere(v, func(elem interface{}) bool { return reflect.DeepEqual(elem, item) }) >= 0
	case reflect.Map:
		key := reflect.ValueOf(item)
		if !key.IsValid() || !key.Type().AssignableTo(v.Type().Key()) {
			return false
		}
		return v.MapIndex(key).IsValid()
	default:
		return false
	}
}

func lengthOf(value interface{}) (int, bool) {
	v := reflect.ValueOf(value)
	switch v.Kind() {
	case reflect.String, reflect.Slice, reflect.Array, reflect.Map, reflect.Chan:
		return v.Len(), true
	default:
		return 0, false
	}
}

func elementsOf(collection interface{}) ([]interface{}, bool) {
	v := reflect.ValueOf(collection)
	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		ret := make([]interface{}, 0, v.Len())
		for i := 0; i < v.Len(); i++ {
			ret = append(ret, v.Index(i).Interface())
		}
		return ret, true
	case reflect.Map:
		ret := make([]interface{}, 0, v.Len())
		for _, k := range v.MapKeys() {
			ret = append(ret, k.Interface())
		}
		return ret, true
	default:
		return nil, false
	}
}

func isSubset(sub, super interface{}) bool {
	items, ok := elementsOf(sub)
	if !ok {
		return false
	}
	if _, ok := elementsOf(super); !ok {
		return false
	}
	for _, item := range items {
		if !contains(super, item) {
			return false
		}
	}
	return true
}
