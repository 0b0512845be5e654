package engine

import (
	"fmt"
	"regexp"
	"sort"
)

// Template section and definition keys.
const (
	KeyType           = "Type"
	KeyProperties     = "Properties"
	KeyDependsOn      = "DependsOn"
	KeyDeletionPolicy = "DeletionPolicy"
	KeyMetadata       = "Metadata"
)

// Deletion policies.
const (
	DeletionPolicyDelete   = "Delete"
	DeletionPolicyRetain   = "Retain"
	DeletionPolicySnapshot = "Snapshot"
)

var stackNamePattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_.-]*$`)

// Template is the declarative description of a stack.
type Template struct {
	// Description is free-form text describing the stack.
	Description string `json:"Description,omitempty" yaml:"Description,omitempty"`

	// Parameters declares the inputs the template accepts.
	Parameters map[string]ParameterSchema `json:"Parameters,omitempty" yaml:"Parameters,omitempty"`

	// Mappings holds static lookup tables for Fn::FindInMap.
	Mappings map[string]map[string]map[string]interface{} `json:"Mappings,omitempty" yaml:"Mappings,omitempty"`

	// Resources maps logical resource names to their definitions.
	Resources map[string]ResourceDefinition `json:"Resources" yaml:"Resources"`

	// Outputs declares values computed from the live stack.
	Outputs map[string]OutputDefinition `json:"Outputs,omitempty" yaml:"Outputs,omitempty"`
}

// ResourceDefinition is the raw template snippet of one resource.
type ResourceDefinition map[string]interface{}

// OutputDefinition is one entry of the Outputs section.
type OutputDefinition struct {
	// Description documents the output.
	Description string `json:"Description,omitempty" yaml:"Description,omitempty"`

	// Value is the snippet resolved at read time.
	Value interface{} `json:"Value" yaml:"Value"`
}

// Type returns the declared resource type.
func (d ResourceDefinition) Type() string {
	t, _ := d[KeyType].(string)
	return t
}

// Properties returns the Properties section, or an empty map.
func (d ResourceDefinition) Properties() map[string]interface{} {
	if p, ok := d[KeyProperties].(map[string]interface{}); ok {
		return p
	}
	return map[string]interface{}{}
}

// DeletionPolicy returns the declared deletion policy, defaulting to Delete.
func (d ResourceDefinition) DeletionPolicy() string {
	if p, ok := d[KeyDeletionPolicy].(string); ok && p != "" {
		return p
	}
	return DeletionPolicyDelete
}

// Copy returns a deep copy of the definition.
func (d ResourceDefinition) Copy() ResourceDefinition {
	if d == nil {
		return nil
	}
	return deepCopy(map[string]interface{}(d)).(map[string]interface{})
}

// ResourceNames returns the logical resource names in sorted order.
func (t *Template) ResourceNames() []string {
	names := make([]string, 0, len(t.Resources))
	for name := range t.Resources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate performs structural checks that need no driver knowledge.
func (t *Template) Validate() error {
	if t == nil {
		return NewValidationError("template is required")
	}
	if len(t.Resources) == 0 {
		return NewValidationError("template must define at least one resource")
	}
	for _, name := range t.ResourceNames() {
		def := t.Resources[name]
		if def == nil {
			return NewValidationError(fmt.Sprintf("resource %s has an empty definition", name)).
				WithResource(name)
		}
		if def.Type() == "" {
			return NewValidationError(fmt.Sprintf("resource %s has no Type", name)).
				WithResource(name)
		}
		if props, ok := def[KeyProperties]; ok && props != nil {
			if _, isMap := props.(map[string]interface{}); !isMap {
				return NewValidationError(fmt.Sprintf("Properties of resource %s must be a map", name)).
					WithResource(name)
			}
		}
		switch def.DeletionPolicy() {
		case DeletionPolicyDelete, DeletionPolicyRetain, DeletionPolicySnapshot:
		default:
			return NewValidationError(fmt.Sprintf("invalid DeletionPolicy %s", def.DeletionPolicy())).
				WithResource(name)
		}
	}
	for name, param := range t.Parameters {
		if err := param.validateSchema(name); err != nil {
			return err
		}
	}
	return nil
}

// ValidateStackName checks a stack name against the allowed pattern.
func ValidateStackName(name string) error {
	if !stackNamePattern.MatchString(name) {
		return NewValidationError(fmt.Sprintf(
			"invalid stack name %q: must start with a letter and contain only letters, digits, '_', '.' or '-'", name))
	}
	return nil
}

// deepCopy copies maps and slices produced by JSON or YAML decoding.
func deepCopy(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[k] = deepCopy(item)
		}
		return out
	case ResourceDefinition:
		return ResourceDefinition(deepCopy(map[string]interface{}(val)).(map[string]interface{}))
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = deepCopy(item)
		}
		return out
	default:
		return val
	}
}
