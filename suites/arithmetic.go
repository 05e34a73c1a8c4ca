package suites

import (
	"fmt"

	"github.com/launchdarkly/go-sdk-common/v3/ldvalue"

	"github.com/launchdarkly/spec-harness/data"
	"github.com/launchdarkly/spec-harness/framework/ldspec"
	m "github.com/launchdarkly/spec-harness/framework/matchers"
)

var arithmeticParams = []ldspec.Param{
	{Name: "a", Default: ldvalue.Int(0)},
	{Name: "b", Default: ldvalue.Int(0)},
	{Name: "total", Default: ldvalue.Int(0)},
}

var arithmeticSpec = &ldspec.Def{
	Name:     "Arithmetic",
	Package:  "suites",
	Doc:      "integer addition over the arithmetic dataset",
	Metadata: ldspec.Metadata{"speed": ldvalue.String("fast")},
	Dataset:  data.MustLoadDataset("arithmetic.yaml"),
	Cases: []ldspec.CaseTemplate{
		{
			Name:   "adds",
			Params: arithmeticParams,
			Body: func(t *ldspec.T) {
				a, b := t.Arg("a").IntValue(), t.Arg("b").IntValue()
				t.Expect(a + b).To(m.Equal(t.Arg("total").IntValue()))
			},
		},
		{
			Name:   "commutes",
			Params: arithmeticParams,
			Body: func(t *ldspec.T) {
				a, b := t.Arg("a").IntValue(), t.Arg("b").IntValue()
				t.Expect(a + b).To(m.Equal(b + a))
			},
		},
		{
			Name:   "subtracts_back",
			Params: arithmeticParams,
			Body: func(t *ldspec.T) {
				a, b, total := t.Arg("a").IntValue(), t.Arg("b").IntValue(), t.Arg("total").IntValue()
				t.Require(total - b).To(m.Equal(a))
				third := float64(a+b) / 3
				t.Expect(float64(total) / 3).To(m.AlmostEqual(third, 6))
			},
		},
	},
}

var greetingsSpec = &ldspec.Def{
	Name:     "Greetings",
	Package:  "suites",
	Metadata: ldspec.Metadata{"speed": ldvalue.String("fast")},
	Dataset:  data.MustLoadDataset("greetings.json"),
	Cases: []ldspec.CaseTemplate{
		{
			Name:   "formats",
			Params: []ldspec.Param{{Name: "greeting"}, {Name: "name"}},
			Body: func(t *ldspec.T) {
				greeting, name := t.Arg("greeting").StringValue(), t.Arg("name").StringValue()
				message := fmt.Sprintf("%s, %s!", greeting, name)
				t.Debug("formatted %q", message)
				t.Expect(len(message)).To(m.Equal(len(greeting) + len(name) + 3))
				t.Expect(message).To(m.Not(m.BeIn([]string{"", "!"})))
			},
		},
	},
}
