package ldspec

import (
	"github.com/launchdarkly/go-sdk-common/v3/ldvalue"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// BoundCase is a case template with its final arguments and metadata resolved. Building a node
// turns each BoundCase into a Case.
type BoundCase struct {
	Template   *CaseTemplate
	Name       string
	Args       Args
	Metadata   Metadata
	DataDriven bool
}

// ExpandOptions controls dataset expansion.
type ExpandOptions struct {
	// Dedupe drops entries whose resolved arguments are identical to an earlier entry of the
	// same template. Dropped entries are counted but never run. Off by default.
	Dedupe bool
}

// Bind resolves a template that is not data-driven: its arguments are its parameter defaults.
func Bind(t *CaseTemplate) BoundCase {
	return BoundCase{
		Template: t,
		Name:     t.Name,
		Args:     defaultArgs(t),
		Metadata: mergeMetadata(t.Metadata),
	}
}

// Expand produces one BoundCase per template and dataset entry, named template_entry. Entries
// are visited in name order so the result is deterministic. An empty dataset binds each
// template once. The second return value is the number of entries dropped by deduplication.
func Expand(templates []*CaseTemplate, dataset Dataset, opts ExpandOptions) ([]BoundCase, int) {
	if len(dataset) == 0 {
		ret := make([]BoundCase, 0, len(templates))
		for _, t := range templates {
			ret = append(ret, Bind(t))
		}
		return ret, 0
	}
	entryNames := maps.Keys(dataset)
	slices.Sort(entryNames)

	var ret []BoundCase
	duplicates := 0
	for _, t := range templates {
		seen := make(map[string]bool)
		for _, entryName := range entryNames {
			entry := dataset[entryName]
			args := defaultArgs(t)
			for k, v := range entry.Args {
				args[k] = v
			}
			if opts.Dedupe {
				key := argsKey(args)
				if seen[key] {
					duplicates++
					continue
				}
				seen[key] = true
			}
			ret = append(ret, BoundCase{
				Template:   t,
				Name:       t.Name + "_" + entryName,
				Args:       args,
				Metadata:   mergeMetadata(t.Metadata, entry.Meta),
				DataDriven: true,
			})
		}
	}
	return ret, duplicates
}

func defaultArgs(t *CaseTemplate) Args {
	ret := make(Args, len(t.Params))
	for _, p := range t.Params {
		ret[p.Name] = p.Default
	}
	return ret
}

// mergeMetadata combines metadata sets; later sets override earlier ones.
func mergeMetadata(sets ...Metadata) Metadata {
	ret := make(Metadata)
	for _, s := range sets {
		for k, v := range s {
			ret[k] = v
		}
	}
	return ret
}

// argsKey is the JSON array of [name, value] pairs in name order.
func argsKey(args Args) string {
	pairs := ldvalue.ArrayBuildWithCapacity(len(args))
	for _, n := range sortedKeys(args) {
		pairs.Add(ldvalue.ArrayOf(ldvalue.String(n), args[n]))
	}
	return pairs.Build().JSONString()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := maps.Keys(m)
	slices.Sort(keys)
	return keys
}
