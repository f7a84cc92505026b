package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ColumnThreshold adds Columns to the expected occupancy header set for every
// academic year at or after Year.
type ColumnThreshold struct {
	Year    int      `yaml:"year"`
	Columns []string `yaml:"columns"`
}

type columnTableFile struct {
	Occupancy []ColumnThreshold `yaml:"occupancy"`
}

// LoadColumnTable reads an occupancy threshold table from YAML:
//
//	occupancy:
//	  - year: 2020
//	    columns: ["Provider name", "Family name"]
func LoadColumnTable(path string) ([]ColumnThreshold, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read column table: %w", err)
	}

	var file columnTableFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse column table %s: %w", path, err)
	}

	for i, th := range file.Occupancy {
		if th.Year == 0 {
			return nil, fmt.Errorf("column table %s: entry %d has no year", path, i)
		}
		if i > 0 && th.Year <= file.Occupancy[i-1].Year {
			return nil, fmt.Errorf("column table %s: years must be ascending", path)
		}
	}
	return file.Occupancy, nil
}
