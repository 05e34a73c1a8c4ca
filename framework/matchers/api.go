// Package matchers provides the assertion vocabulary used by case bodies, similar to Java's
// Hamcrest. Matchers are constructed separately from the values being tested, and can then be
// applied to any value, or negated, or combined in various ways.
//
// Every matcher carries a comparator name (such as "equal" or "be greater than") and the
// expected value it was built with, so that an assertion can be recorded and reported as
// "target <comparator> expected" without rerunning it.
package matchers

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestFunc is a function used in defining a new Matcher. It returns true if the value passes
// the test or false for failure.
type TestFunc func(value interface{}) bool

// DescribeFailureFunc is a function used in defining a new Matcher. Given the value that was
// tested, and assuming that the test failed, it returns a description of the expectation,
// like "equal to 3". A description of the actual value is always appended automatically.
type DescribeFailureFunc func(value interface{}, describeValueFunc DescribeValueFunc) string

// DescribeValueFunc returns a string description of a value. The default is DefaultDescription.
type DescribeValueFunc func(value interface{}) string

// Matcher is a general mechanism for declaring expectations about a value.
type Matcher struct {
	comparator           string
	expected             interface{}
	hasExpected          bool
	maybeTest            TestFunc
	maybeDescribeFailure DescribeFailureFunc
	maybeDescribeValue   DescribeValueFunc
}

// New creates a Matcher with the generic comparator name "satisfy".
func New(test TestFunc, describeFailure DescribeFailureFunc) Matcher {
	return Matcher{comparator: "satisfy", maybeTest: test, maybeDescribeFailure: describeFailure}
}

func named(comparator string, expected interface{}, test TestFunc, describeFailure DescribeFailureFunc) Matcher {
	return Matcher{
		comparator:           comparator,
		expected:             expected,
		hasExpected:          true,
		maybeTest:            test,
		maybeDescribeFailure: describeFailure,
	}
}

// Named returns a copy of the Matcher with a different comparator name and expected value.
func (m Matcher) Named(comparator string, expected interface{}) Matcher {
	m.comparator = comparator
	m.expected = expected
	m.hasExpected = true
	return m
}

// Comparator returns the name of the comparison, such as "equal".
func (m Matcher) Comparator() string { return m.comparator }

// Expected returns the expected value the matcher was built with, and whether there was one.
// Matchers such as BeNil have none.
func (m Matcher) Expected() (interface{}, bool) { return m.expected, m.hasExpected }

// Describe returns a string description of a value using this matcher's formatting.
func (m Matcher) Describe(value interface{}) string { return m.describeValue(value) }

// Test executes the expectation for a specific value. It returns true if the value passes the
// test or false for failure, plus a string describing the expectation that failed.
func (m Matcher) Test(value interface{}) (pass bool, failDescription string) {
	if m.test(value) {
		return true, ""
	}
	testDesc := m.describeFailure(value, m.describeValue)
	return false, fmt.Sprintf("expected: %s\nactual value was: %s", testDesc, m.describeValue(value))
}

func (m Matcher) test(value interface{}) bool {
	if m.maybeTest == nil {
		return true
	}
	return m.maybeTest(value)
}

func (m Matcher) describeFailure(value interface{}, describeValue DescribeValueFunc) string {
	if m.maybeDescribeFailure == nil {
		return "no test description given"
	}
	return m.maybeDescribeFailure(value, describeValue)
}

func (m Matcher) describeValue(value interface{}) string {
	if m.maybeDescribeValue != nil {
		return m.maybeDescribeValue(value)
	}
	return DefaultDescription(value)
}

// Assert is for use with the testify/assert package (or any API with a compatible interface).
func (m Matcher) Assert(t assert.TestingT, value interface{}) bool {
	if pass, desc := m.Test(value); !pass {
		assert.Fail(t, desc)
		return false
	}
	return true
}

// Require is for use with the testify/require package (or any API with a compatible interface).
func (m Matcher) Require(t require.TestingT, value interface{}) bool {
	if pass, desc := m.Test(value); !pass {
		require.Fail(t, desc)
		return false
	}
	return true
}

// EnsureType adds type safety to a matcher. The returned Matcher fails for any value whose type
// differs from that of valueOfType, before calling the original test function.
func (m Matcher) EnsureType(valueOfType interface{}) Matcher {
	wrapped := m
	wrapped.maybeTest = func(value interface{}) bool {
		if valueOfType != nil && (reflect.TypeOf(value) != reflect.TypeOf(valueOfType)) {
			return false
		}
		return m.test(value)
	}
	wrapped.maybeDescribeFailure = func(value interface{}, desc DescribeValueFunc) string {
		if valueOfType != nil && reflect.TypeOf(value) != reflect.TypeOf(valueOfType) {
			return fmt.Sprintf("value of type %T, was %T", valueOfType, value)
		}
		return m.describeFailure(value, desc)
	}
	return wrapped
}

// WithValueDescription adds custom behavior for rendering values as strings in failure
// messages. If not specified, the default behavior is DefaultDescription.
func (m Matcher) WithValueDescription(describeValue DescribeValueFunc) Matcher {
	ret := m
	ret.maybeDescribeValue = describeValue
	return ret
}

// DefaultDescription calls the value's String method if it implements fmt.Stringer, or else
// formats it with "%+v".
func DefaultDescription(value interface{}) string {
	if s, ok := value.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("%+v", value)
}

// JSONDescription renders the value by calling json.Marshal on it.
func JSONDescription(value interface{}) string {
	data, _ := json.Marshal(value)
	return string(data)
}
