package config

import (
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/openfroyo/stackforge/pkg/engine"
)

const yamlTemplate = `
heat_template_version: 2013-05-23
description: test stack
parameters:
  Size:
    Type: Number
    Default: 2
resources:
  Suffix:
    type: Stackforge::RandomString
    properties:
      Length: 8
  Ready:
    type: Stackforge::Wait
    depends_on: Suffix
    deletion_policy: Retain
    properties:
      Duration: 1s
outputs:
  Name:
    Value: {"Fn::Join": ["-", ["app", {"Ref": "Suffix"}]]}
`

const jsonTemplate = `{
  "AWSTemplateFormatVersion": "2010-09-09",
  "Description": "test stack",
  "Parameters": {"Size": {"Type": "Number", "Default": 2}},
  "Resources": {
    "Suffix": {"Type": "Stackforge::RandomString", "Properties": {"Length": 8}},
    "Ready": {
      "Type": "Stackforge::Wait",
      "DependsOn": "Suffix",
      "DeletionPolicy": "Retain",
      "Properties": {"Duration": "1s"}
    }
  },
  "Outputs": {"Name": {"Value": {"Fn::Join": ["-", ["app", {"Ref": "Suffix"}]]}}}
}`

func TestParseTemplate(t *testing.T) {
	for name, doc := range map[string]string{"yaml": yamlTemplate, "json": jsonTemplate} {
		t.Run(name, func(t *testing.T) {
			tmpl, err := ParseTemplate([]byte(doc))
			if err != nil {
				t.Fatalf("ParseTemplate() error = %v", err)
			}

			if tmpl.Description != "test stack" {
				t.Errorf("Expected description, got %q", tmpl.Description)
			}
			if got := tmpl.ResourceNames(); !reflect.DeepEqual(got, []string{"Ready", "Suffix"}) {
				t.Errorf("Unexpected resources: %v", got)
			}

			ready := tmpl.Resources["Ready"]
			if ready.Type() != "Stackforge::Wait" || ready.DeletionPolicy() != engine.DeletionPolicyRetain {
				t.Errorf("Unexpected Ready definition: %v", ready)
			}
			if ready[engine.KeyDependsOn] != "Suffix" {
				t.Errorf("Expected DependsOn Suffix, got %v", ready[engine.KeyDependsOn])
			}
			if got := tmpl.Resources["Suffix"].Properties()["Length"]; got != float64(8) {
				t.Errorf("Expected Length normalized to float64(8), got %#v", got)
			}
			if got := tmpl.Parameters["Size"].Default; got != float64(2) {
				t.Errorf("Expected Default float64(2), got %#v", got)
			}
			if _, ok := tmpl.Outputs["Name"]; !ok {
				t.Error("Expected the Name output")
			}
		})
	}
}

func TestParseTemplate_FormatsAgree(t *testing.T) {
	fromYAML, err := ParseTemplate([]byte(yamlTemplate))
	if err != nil {
		t.Fatalf("ParseTemplate(yaml) error = %v", err)
	}
	fromJSON, err := ParseTemplate([]byte(jsonTemplate))
	if err != nil {
		t.Fatalf("ParseTemplate(json) error = %v", err)
	}
	if !reflect.DeepEqual(fromYAML, fromJSON) {
		t.Errorf("Expected identical templates\nyaml: %#v\njson: %#v", fromYAML, fromJSON)
	}

	// A stored template is re-read from JSON; it must compare equal.
	rendered, err := FormatTemplate(fromYAML)
	if err != nil {
		t.Fatalf("FormatTemplate() error = %v", err)
	}
	again, err := ParseTemplate([]byte(rendered))
	if err != nil {
		t.Fatalf("ParseTemplate(rendered) error = %v", err)
	}
	if !reflect.DeepEqual(fromYAML.Resources, again.Resources) {
		t.Error("Expected resources to survive a render and re-parse unchanged")
	}
}

func TestParseTemplate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantErr string
	}{
		{name: "empty", doc: "  \n", wantErr: "empty"},
		{name: "bad json", doc: `{"Resources": `, wantErr: "invalid JSON"},
		{name: "bad yaml", doc: "Resources: [", wantErr: "invalid YAML"},
		{name: "scalar", doc: "just text", wantErr: "invalid YAML"},
		{name: "no resources", doc: "Description: nothing\n", wantErr: "at least one resource"},
		{name: "unknown section", doc: "Conditions: {}\nResources:\n  A:\n    Type: T\n", wantErr: "unknown template sections: Conditions"},
		{name: "duplicate section", doc: "resources:\n  A:\n    Type: T\nResources:\n  B:\n    Type: T\n", wantErr: "defined twice"},
		{name: "resource not a map", doc: "Resources:\n  A: nope\n", wantErr: "resource A must be a mapping"},
		{name: "missing type", doc: "Resources:\n  A:\n    Properties: {}\n", wantErr: "no Type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseTemplate([]byte(tt.doc))
			if !engine.IsValidation(err) {
				t.Fatalf("Expected a validation error, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestLoadTemplate(t *testing.T) {
	path := writeFile(t, "stack.yaml", yamlTemplate)
	tmpl, err := LoadTemplate(path)
	if err != nil {
		t.Fatalf("LoadTemplate() error = %v", err)
	}
	if len(tmpl.Resources) != 2 {
		t.Errorf("Expected 2 resources, got %d", len(tmpl.Resources))
	}

	if _, err := LoadTemplate(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Expected an error for a missing template")
	}
}
