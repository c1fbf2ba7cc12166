// Package jobfile reads winding job files for the host tools. JSON and YAML
// share the same field names.
package jobfile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"coilwinder/winder"
)

// Load reads path and returns the validated job configuration. Files ending
// in .yaml or .yml are YAML; anything else is JSON.
func Load(path string) (*winder.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return ParseYAML(data)
	}
	return winder.LoadConfig(data)
}

// ParseYAML converts a YAML job to JSON and loads it, so defaults and
// validation stay in one place
func ParseYAML(data []byte) (*winder.Config, error) {
	var fields map[string]any
	if err := yaml.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	if fields == nil {
		fields = map[string]any{}
	}
	asJSON, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}
	return winder.LoadConfig(asJSON)
}
