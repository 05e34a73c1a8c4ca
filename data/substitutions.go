package data

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/launchdarkly/go-sdk-common/v3/ldvalue"

	"github.com/launchdarkly/spec-harness/framework/ldspec"
)

// replaceConstants substitutes every "<name>" placeholder in the raw document. A placeholder that
// is a whole JSON string is replaced by the constant's JSON value; one embedded in a longer
// string is replaced by the constant's text.
func replaceConstants(originalData []byte, constants ldspec.Args) []byte {
	str := string(originalData)
	str = strings.ReplaceAll(str, `\u003c`, "<")
	str = strings.ReplaceAll(str, `\u003e`, ">")
	for name, value := range constants {
		typedValueStr := value.JSONString()
		str = strings.ReplaceAll(str, `"<`+name+`>"`, typedValueStr)
		interpolatedValueStr := typedValueStr
		if value.IsString() {
			interpolatedValueStr = value.StringValue()
		}
		str = strings.ReplaceAll(str, "<"+name+">", interpolatedValueStr)
	}
	return []byte(str)
}

// permuteParameters turns a parameters block into argument sets. The block is either a list of
// argument objects, used as they are, or a list of lists whose cartesian product is taken, with
// later objects in a combination overriding earlier ones.
func permuteParameters(paramsData []json.RawMessage) ([]ldspec.Args, error) {
	if len(paramsData) == 0 {
		return nil, nil
	}
	allData, _ := json.Marshal(paramsData)
	switch ldvalue.Parse(paramsData[0]).Type() {
	case ldvalue.ObjectType:
		var list []ldspec.Args
		if err := json.Unmarshal(allData, &list); err != nil {
			return nil, err
		}
		return list, nil
	case ldvalue.ArrayType:
	default:
		return nil, errors.New("parameters must be an array of objects or an array of arrays")
	}
	var lists [][]ldspec.Args
	if err := json.Unmarshal(allData, &lists); err != nil {
		return nil, err
	}
	for _, list := range lists {
		if len(list) == 0 {
			return nil, errors.New("parameters contained an empty list")
		}
	}
	indices := make([]int, len(lists))
	var result []ldspec.Args
	for {
		merged := make(ldspec.Args)
		for i := 0; i < len(lists); i++ {
			for k, v := range lists[i][indices[i]] {
				merged[k] = v
			}
		}
		result = append(result, merged)
		incrementPos := 0
		for incrementPos < len(lists) {
			indices[incrementPos]++
			if indices[incrementPos] < len(lists[incrementPos]) {
				break
			}
			indices[incrementPos] = 0
			incrementPos++
		}
		if incrementPos == len(lists) {
			return result, nil
		}
	}
}
