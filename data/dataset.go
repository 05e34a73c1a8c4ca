package data

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/launchdarkly/go-sdk-common/v3/ldvalue"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/launchdarkly/spec-harness/framework/ldspec"
)

type datasetFile struct {
	Constants  ldspec.Args                `json:"constants"`
	Entries    map[string]json.RawMessage `json:"entries"`
	Parameters []json.RawMessage          `json:"parameters"`
	Meta       ldspec.Metadata            `json:"meta"`
}

// ParseDataset reads a dataset document in JSON or YAML.
//
// Entries are listed under "entries", by name. Each one is either a flat object of arguments, or
// an object with "args" and optionally "meta". Alternatively, or in addition, "parameters" lists
// argument sets that become entries named after their values; see permuteParameters. Values
// under "constants" are substituted for "<name>" placeholders anywhere in the document, and
// "meta" at the top level applies to every entry.
func ParseDataset(data []byte) (ldspec.Dataset, error) {
	var constants struct {
		Constants ldspec.Args `json:"constants"`
	}
	if err := ParseJSONOrYAML(data, &constants); err != nil {
		return nil, err
	}
	var file datasetFile
	if err := ParseJSONOrYAML(replaceConstants(normalizeToJSON(data), constants.Constants), &file); err != nil {
		return nil, err
	}

	dataset := make(ldspec.Dataset)
	for name, raw := range file.Entries {
		if name == "" {
			return nil, fmt.Errorf("dataset entry has an empty name")
		}
		entry, err := parseEntry(raw)
		if err != nil {
			return nil, fmt.Errorf("dataset entry %q: %w", name, err)
		}
		entry.Meta = mergeMeta(file.Meta, entry.Meta)
		dataset[name] = entry
	}

	permutations, err := permuteParameters(file.Parameters)
	if err != nil {
		return nil, err
	}
	for _, args := range permutations {
		name := uniqueName(dataset, entryName(args))
		dataset[name] = ldspec.DatasetEntry{Args: args, Meta: mergeMeta(file.Meta, nil)}
	}
	return dataset, nil
}

// normalizeToJSON converts YAML to JSON first so that constant substitution always sees JSON
// syntax. Data that is already JSON is returned unchanged.
func normalizeToJSON(data []byte) []byte {
	if json.Valid(data) {
		return data
	}
	if converted, err := yamlToJSON(data); err == nil {
		return converted
	}
	return data
}

func parseEntry(raw json.RawMessage) (ldspec.DatasetEntry, error) {
	value := ldvalue.Parse(raw)
	if value.Type() != ldvalue.ObjectType {
		return ldspec.DatasetEntry{}, fmt.Errorf("expected an object, got %s", value.Type())
	}
	if isStructuredEntry(raw, value) {
		var structured struct {
			Args ldspec.Args     `json:"args"`
			Meta ldspec.Metadata `json:"meta"`
		}
		if err := json.Unmarshal(raw, &structured); err != nil {
			return ldspec.DatasetEntry{}, err
		}
		return ldspec.DatasetEntry{Args: structured.Args, Meta: structured.Meta}, nil
	}
	var args ldspec.Args
	if err := json.Unmarshal(raw, &args); err != nil {
		return ldspec.DatasetEntry{}, err
	}
	return ldspec.DatasetEntry{Args: args}, nil
}

// isStructuredEntry is true for {"args": {...}} and {"args": {...}, "meta": {...}}.
func isStructuredEntry(raw json.RawMessage, value ldvalue.Value) bool {
	if value.GetByKey("args").Type() != ldvalue.ObjectType {
		return false
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return false
	}
	for k := range fields {
		if k != "args" && k != "meta" {
			return false
		}
	}
	return true
}

func mergeMeta(base, override ldspec.Metadata) ldspec.Metadata {
	if len(base) == 0 && len(override) == 0 {
		return nil
	}
	ret := make(ldspec.Metadata, len(base)+len(override))
	for k, v := range base {
		ret[k] = v
	}
	for k, v := range override {
		ret[k] = v
	}
	return ret
}

// entryName derives a name from argument values, such as "a_1_b_x" for {"a": 1, "b": "x"}.
func entryName(args ldspec.Args) string {
	keys := maps.Keys(args)
	slices.Sort(keys)
	parts := make([]string, 0, len(keys)*2)
	for _, k := range keys {
		v := args[k]
		text := v.JSONString()
		if v.IsString() {
			text = v.StringValue()
		}
		parts = append(parts, sanitize(k), sanitize(text))
	}
	if len(parts) == 0 {
		return "empty"
	}
	return strings.Join(parts, "_")
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, s)
}

func uniqueName(dataset ldspec.Dataset, name string) string {
	if _, exists := dataset[name]; !exists {
		return name
	}
	for i := 2; ; i++ {
		candidate := name + "_" + strconv.Itoa(i)
		if _, exists := dataset[candidate]; !exists {
			return candidate
		}
	}
}
