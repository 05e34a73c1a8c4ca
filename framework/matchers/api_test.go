package matchers

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

type decoratedString string

func (s decoratedString) String() string { return decorate(string(s)) }

func decorate(value interface{}) string { return fmt.Sprintf("Hi, I'm '%s'", value.(string)) }

func assertPasses(t *testing.T, value interface{}, m Matcher) {
	t.Helper()
	pass, desc := m.Test(value)
	assert.True(t, pass)
	assert.Equal(t, "", desc)
}

func assertFails(t *testing.T, value interface{}, m Matcher, expectedDesc string) {
	t.Helper()
	pass, desc := m.Test(value)
	assert.False(t, pass)
	assert.Equal(t, expectedDesc, desc)
}

type fakeTestingT struct{ errors []string }

func (f *fakeTestingT) Errorf(format string, args ...interface{}) {
	f.errors = append(f.errors, fmt.Sprintf(format, args...))
}

func (f *fakeTestingT) FailNow() {}

func TestSimpleMatcher(t *testing.T) {
	m := New(
		func(value interface{}) bool { return value == "good" },
		func(interface{}, DescribeValueFunc) string { return "should be good" },
	)
	assertPasses(t, "good", m)
	assertFails(t, "bad", m, "expected: should be good\nactual value was: bad")
	assert.Equal(t, "satisfy", m.Comparator())
	_, hasExpected := m.Expected()
	assert.False(t, hasExpected)
}

func TestMatcherValueDescriptionUsesStringer(t *testing.T) {
	m := New(
		func(value interface{}) bool { return value == decoratedString("good") },
		func(interface{}, DescribeValueFunc) string { return "should be good" },
	)
	assertFails(t, decoratedString("bad"), m,
		fmt.Sprintf("expected: should be good\nactual value was: %s", decorate("bad")))
}

func TestNamed(t *testing.T) {
	m := Equal(2).Named("match", 3)
	assert.Equal(t, "match", m.Comparator())
	expected, ok := m.Expected()
	assert.True(t, ok)
	assert.Equal(t, 3, expected)
	assertPasses(t, 2, m)
}

func TestAssertAndRequire(t *testing.T) {
	var ft fakeTestingT
	assert.True(t, Equal(2).Assert(&ft, 2))
	assert.False(t, Equal(2).Assert(&ft, 3))
	assert.False(t, Equal(2).Require(&ft, 4))
	if assert.Len(t, ft.errors, 2) {
		assert.Contains(t, ft.errors[0], "actual value was: 3")
		assert.Contains(t, ft.errors[1], "actual value was: 4")
	}
}

func TestEnsureType(t *testing.T) {
	m := New(
		func(value interface{}) bool { return value == "good" },
		func(interface{}, DescribeValueFunc) string { return "should be good" },
	)
	m1 := m.EnsureType("example string")
	assertPasses(t, "good", m1)
	assertFails(t, "bad", m1, "expected: should be good\nactual value was: bad")
	assertFails(t, 3, m1, "expected: value of type string, was int\nactual value was: 3")

	m2 := m.EnsureType(nil)
	assertFails(t, 3, m2, "expected: should be good\nactual value was: 3")
}

func TestWithValueDescription(t *testing.T) {
	m := New(
		func(value interface{}) bool { return value == "good" },
		func(value interface{}, desc DescribeValueFunc) string {
			return fmt.Sprintf("should be %s", desc("good"))
		},
	).WithValueDescription(decorate)

	assertFails(t, "bad", m,
		fmt.Sprintf("expected: should be %s\nactual value was: %s", decorate("good"), decorate("bad")))
	assert.Equal(t, decorate("x"), m.Describe("x"))
}

func TestJSONDescription(t *testing.T) {
	assert.Equal(t, `{"a":1}`, JSONDescription(map[string]int{"a": 1}))
}
