package matchers

import (
	"fmt"
	"strings"
)

// Not negates the result of another Matcher. The comparator name gets a "not " prefix.
//
//	matchers.Not(Equal(3)).Assert(t, 4)
//	// failure message will describe expectation as "not (equal to 3)"
func Not(matcher Matcher) Matcher {
	ret := matcher
	ret.comparator = "not " + matcher.comparator
	ret.maybeTest = func(value interface{}) bool {
		return !matcher.test(value)
	}
	ret.maybeDescribeFailure = func(value interface{}, desc DescribeValueFunc) string {
		return fmt.Sprintf("not (%s)", matcher.describeFailure(value, desc))
	}
	return ret
}

// AllOf requires that the input value passes all of the specified Matchers. If it fails,
// the failure message describes all of the Matchers that failed.
func AllOf(matchers ...Matcher) Matcher {
	return combine("all of", matchers, " and ", func(passed int) bool { return passed == len(matchers) })
}

// AnyOf requires that the input value passes at least one of the specified Matchers.
func AnyOf(matchers ...Matcher) Matcher {
	return combine("any of", matchers, " or ", func(passed int) bool { return passed > 0 })
}

func combine(comparator string, matchers []Matcher, separator string, ok func(passed int) bool) Matcher {
	countPassing := func(value interface{}) (int, []Matcher) {
		passed := 0
		var fails []Matcher
		for _, m := range matchers {
			if m.test(value) {
				passed++
			} else {
				fails = append(fails, m)
			}
		}
		return passed, fails
	}
	expected := make([]string, 0, len(matchers))
	for _, m := range matchers {
		expected = append(expected, m.comparator)
	}
	ret := named(comparator, expected,
		func(value interface{}) bool {
			passed, _ := countPassing(value)
			return ok(passed)
		},
		func(value interface{}, desc DescribeValueFunc) string {
			_, fails := countPassing(value)
			return describeMatchersList(fails, value, separator)
		},
	)
	if len(matchers) != 0 {
		ret.maybeDescribeValue = matchers[0].maybeDescribeValue
	}
	return ret
}

func describeMatchersList(matchers []Matcher, value interface{}, separator string) string {
	if len(matchers) == 1 {
		return matchers[0].describeFailure(value, matchers[0].describeValue)
	}
	parts := make([]string, 0, len(matchers))
	for _, m := range matchers {
		parts = append(parts, "("+m.describeFailure(value, m.describeValue)+")")
	}
	return strings.Join(parts, separator)
}
