package suites

import "github.com/launchdarkly/spec-harness/framework/ldspec"

// All returns every definition in this package, fixtures included, in a fixed order.
func All() []*ldspec.Def {
	return []*ldspec.Def{
		arithmeticSpec,
		greetingsSpec,
		ledgerSpec,
		storeContract,
		mapStoreSpec,
		syncMapStoreSpec,
		throughputSpec,
	}
}

// NewRegistry returns a registry containing All.
func NewRegistry() *ldspec.Registry {
	r := ldspec.NewRegistry()
	r.MustRegister(All()...)
	return r
}
