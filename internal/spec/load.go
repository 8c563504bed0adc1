package spec

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads a specification document from a JSON or YAML file, picking
// the decoder by extension (.json vs .yaml/.yml), and validates it.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("spec file not found: %s", path)
		}
		return nil, fmt.Errorf("reading spec file: %w", err)
	}

	var doc Document
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parsing YAML spec %s: %w", path, err)
		}
	case ".json":
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parsing JSON spec %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("unsupported spec file extension %q (want .json, .yaml or .yml)", ext)
	}

	if doc.Language == "" {
		doc.Language = "python"
	}
	if doc.ID == "" {
		doc.ID = doc.ModuleName() + "_v1"
	}

	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}
