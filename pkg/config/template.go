package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/openfroyo/stackforge/pkg/engine"
)

// Template format version keys accepted and ignored at the top level.
var versionKeys = map[string]bool{
	"AWSTemplateFormatVersion":  true,
	"HeatTemplateFormatVersion": true,
	"heat_template_version":     true,
}

// Lower-case aliases of the template sections.
var sectionAliases = map[string]string{
	"description": "Description",
	"parameters":  "Parameters",
	"mappings":    "Mappings",
	"resources":   "Resources",
	"outputs":     "Outputs",
}

// Lower-case aliases of the resource definition keys.
var resourceAliases = map[string]string{
	"type":            engine.KeyType,
	"properties":      engine.KeyProperties,
	"depends_on":      engine.KeyDependsOn,
	"deletion_policy": engine.KeyDeletionPolicy,
	"metadata":        engine.KeyMetadata,
}

// LoadTemplate reads and parses a template file.
func LoadTemplate(path string) (*engine.Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read template: %w", err)
	}
	return ParseTemplate(data)
}

// ParseTemplate parses a JSON or YAML template. A document whose first
// non-blank character is '{' is JSON, anything else is YAML.
//
// The document is round-tripped through JSON so that numbers are always
// float64, the same shape a template has after being loaded from the store.
func ParseTemplate(data []byte) (*engine.Template, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, engine.NewValidationError("template is empty")
	}

	var raw map[string]interface{}
	if trimmed[0] == '{' {
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			return nil, engine.NewValidationError(fmt.Sprintf("invalid JSON template: %v", err))
		}
	} else {
		if err := yaml.Unmarshal(trimmed, &raw); err != nil {
			return nil, engine.NewValidationError(fmt.Sprintf("invalid YAML template: %v", err))
		}
		if raw == nil {
			return nil, engine.NewValidationError("template must be a mapping")
		}
	}

	normalized, err := normalizeSections(raw)
	if err != nil {
		return nil, err
	}

	encoded, err := json.Marshal(normalized)
	if err != nil {
		return nil, engine.NewValidationError(fmt.Sprintf("template is not representable as JSON: %v", err))
	}

	var tmpl engine.Template
	if err := json.Unmarshal(encoded, &tmpl); err != nil {
		return nil, engine.NewValidationError(fmt.Sprintf("invalid template structure: %v", err))
	}
	if err := tmpl.Validate(); err != nil {
		return nil, err
	}
	return &tmpl, nil
}

// FormatTemplate renders a template as indented JSON, for diffs and display.
func FormatTemplate(tmpl *engine.Template) (string, error) {
	out, err := json.MarshalIndent(tmpl, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode template: %w", err)
	}
	return string(out) + "\n", nil
}

func normalizeSections(raw map[string]interface{}) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(raw))
	var unknown []string
	for key, value := range raw {
		if versionKeys[key] {
			continue
		}
		if canonical, ok := sectionAliases[key]; ok {
			key = canonical
		}
		if _, dup := out[key]; dup {
			return nil, engine.NewValidationError(fmt.Sprintf("template section %s is defined twice", key))
		}
		switch key {
		case "Description", "Parameters", "Mappings", "Outputs":
		case "Resources":
			resources, err := normalizeResources(value)
			if err != nil {
				return nil, err
			}
			value = resources
		default:
			unknown = append(unknown, key)
			continue
		}
		out[key] = value
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, engine.NewValidationError(fmt.Sprintf("unknown template sections: %s", strings.Join(unknown, ", ")))
	}
	return out, nil
}

func normalizeResources(value interface{}) (map[string]interface{}, error) {
	resources, ok := value.(map[string]interface{})
	if !ok {
		return nil, engine.NewValidationError("Resources must be a mapping")
	}
	out := make(map[string]interface{}, len(resources))
	for name, def := range resources {
		defMap, ok := def.(map[string]interface{})
		if !ok {
			return nil, engine.NewValidationError(fmt.Sprintf("resource %s must be a mapping", name)).
				WithResource(name)
		}
		normalized := make(map[string]interface{}, len(defMap))
		for key, v := range defMap {
			if canonical, ok := resourceAliases[key]; ok {
				key = canonical
			}
			normalized[key] = v
		}
		out[name] = normalized
	}
	return out, nil
}
