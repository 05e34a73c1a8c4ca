package data

import (
	"embed"
	"fmt"
	"path"
	"strings"

	"github.com/launchdarkly/spec-harness/framework/ldspec"
)

//go:embed data-files
var dataFilesRoot embed.FS

const dataBasePath = "data-files"

// LoadDataset reads an embedded dataset file and parses it with ParseDataset.
//
// The path parameter is relative to data/data-files.
func LoadDataset(filePath string) (ldspec.Dataset, error) {
	data, err := dataFilesRoot.ReadFile(dataBasePath + "/" + filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read %q: %w", filePath, err)
	}
	dataset, err := ParseDataset(data)
	if err != nil {
		return nil, fmt.Errorf("error reading %q: %w", filePath, err)
	}
	return dataset, nil
}

// MustLoadDataset is LoadDataset for use in spec definitions. It panics on error.
func MustLoadDataset(filePath string) ldspec.Dataset {
	dataset, err := LoadDataset(filePath)
	if err != nil {
		panic(err)
	}
	return dataset
}

// DatasetFiles lists the embedded dataset files in a directory, relative to data/data-files.
func DatasetFiles(dir string) ([]string, error) {
	entries, err := dataFilesRoot.ReadDir(path.Join(dataBasePath, dir))
	if err != nil {
		return nil, err
	}
	var ret []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !(strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml") ||
			strings.HasSuffix(name, ".json")) {
			continue
		}
		ret = append(ret, path.Join(dir, name))
	}
	return ret, nil
}
