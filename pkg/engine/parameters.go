package engine

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Parameter types.
const (
	ParamTypeString          = "String"
	ParamTypeNumber          = "Number"
	ParamTypeCommaDelimited  = "CommaDelimitedList"
	ParamTypeJSON            = "Json"
	pseudoParamAWSStackName  = "AWS::StackName"
	pseudoParamAWSStackID    = "AWS::StackId"
	pseudoParamAWSRegion     = "AWS::Region"
	pseudoParamStackName     = "Stackforge::StackName"
	pseudoParamStackID       = "Stackforge::StackId"
	noEchoMask               = "******"
	defaultRegion            = "local"
)

var paramValidator = validator.New()

// ParameterSchema declares one template parameter and its constraints.
type ParameterSchema struct {
	Type                  string        `json:"Type" yaml:"Type"`
	Description           string        `json:"Description,omitempty" yaml:"Description,omitempty"`
	Default               interface{}   `json:"Default,omitempty" yaml:"Default,omitempty"`
	NoEcho                bool          `json:"NoEcho,omitempty" yaml:"NoEcho,omitempty"`
	AllowedValues         []interface{} `json:"AllowedValues,omitempty" yaml:"AllowedValues,omitempty"`
	AllowedPattern        string        `json:"AllowedPattern,omitempty" yaml:"AllowedPattern,omitempty"`
	MinLength             *int          `json:"MinLength,omitempty" yaml:"MinLength,omitempty"`
	MaxLength             *int          `json:"MaxLength,omitempty" yaml:"MaxLength,omitempty"`
	MinValue              *float64      `json:"MinValue,omitempty" yaml:"MinValue,omitempty"`
	MaxValue              *float64      `json:"MaxValue,omitempty" yaml:"MaxValue,omitempty"`
	ConstraintDescription string        `json:"ConstraintDescription,omitempty" yaml:"ConstraintDescription,omitempty"`
}

func (p ParameterSchema) validateSchema(name string) error {
	switch p.Type {
	case ParamTypeString, ParamTypeNumber, ParamTypeCommaDelimited, ParamTypeJSON:
	default:
		return NewValidationError(fmt.Sprintf("parameter %s has invalid Type %q", name, p.Type))
	}
	if p.AllowedPattern != "" {
		if _, err := regexp.Compile(p.AllowedPattern); err != nil {
			return NewValidationError(fmt.Sprintf("parameter %s has invalid AllowedPattern: %v", name, err))
		}
	}
	return nil
}

// check validates a raw string value against the schema's constraints.
func (p ParameterSchema) check(name, value string) error {
	fail := func(format string, args ...interface{}) error {
		msg := fmt.Sprintf(format, args...)
		if p.ConstraintDescription != "" {
			msg = p.ConstraintDescription
		}
		return NewValidationError(fmt.Sprintf("parameter %s: %s", name, msg))
	}

	if len(p.AllowedValues) > 0 {
		allowed := false
		for _, v := range p.AllowedValues {
			if fmt.Sprint(v) == value {
				allowed = true
				break
			}
		}
		if !allowed {
			return fail("%q is not one of the allowed values", value)
		}
	}

	switch p.Type {
	case ParamTypeNumber:
		if err := paramValidator.Var(value, "numeric"); err != nil {
			return fail("%q is not a number", value)
		}
		n, _ := strconv.ParseFloat(value, 64)
		if p.MinValue != nil {
			if err := paramValidator.Var(n, fmt.Sprintf("gte=%v", *p.MinValue)); err != nil {
				return fail("%v is less than %v", n, *p.MinValue)
			}
		}
		if p.MaxValue != nil {
			if err := paramValidator.Var(n, fmt.Sprintf("lte=%v", *p.MaxValue)); err != nil {
				return fail("%v is greater than %v", n, *p.MaxValue)
			}
		}
	case ParamTypeString:
		if p.MinLength != nil {
			if err := paramValidator.Var(value, fmt.Sprintf("min=%d", *p.MinLength)); err != nil {
				return fail("length of %q is less than %d", value, *p.MinLength)
			}
		}
		if p.MaxLength != nil {
			if err := paramValidator.Var(value, fmt.Sprintf("max=%d", *p.MaxLength)); err != nil {
				return fail("length of %q is greater than %d", value, *p.MaxLength)
			}
		}
		if p.AllowedPattern != "" {
			re, err := regexp.Compile("^(?:" + p.AllowedPattern + ")$")
			if err != nil {
				return fail("invalid AllowedPattern")
			}
			if !re.MatchString(value) {
				return fail("%q does not match pattern %s", value, p.AllowedPattern)
			}
		}
	case ParamTypeJSON:
		if err := paramValidator.Var(value, "json"); err != nil {
			return fail("value is not valid JSON")
		}
	}
	return nil
}

// Parameters holds the resolved parameter values of one stack, including the
// pseudo parameters.
type Parameters struct {
	schemas map[string]ParameterSchema
	given   map[string]string
	values  map[string]interface{}
}

// NewParameters validates given against the template's parameter schemas.
// Parameters without a value and without a default are an error.
func NewParameters(stackName, stackID, region string, tmpl *Template, given map[string]string) (*Parameters, error) {
	if region == "" {
		region = defaultRegion
	}
	p := &Parameters{
		schemas: make(map[string]ParameterSchema),
		given:   make(map[string]string, len(given)),
		values:  make(map[string]interface{}),
	}
	var schemas map[string]ParameterSchema
	if tmpl != nil {
		schemas = tmpl.Parameters
	}

	for name := range given {
		if _, ok := schemas[name]; !ok {
			return nil, NewValidationError(fmt.Sprintf("unknown parameter %s", name))
		}
	}

	names := make([]string, 0, len(schemas))
	for name := range schemas {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		schema := schemas[name]
		p.schemas[name] = schema

		raw, ok := given[name]
		if ok {
			p.given[name] = raw
		} else if schema.Default != nil {
			raw = fmt.Sprint(schema.Default)
		} else {
			return nil, NewValidationError(fmt.Sprintf("parameter %s requires a value", name))
		}

		if err := schema.check(name, raw); err != nil {
			return nil, err
		}
		p.values[name] = convertParameter(schema.Type, raw)
	}

	p.values[pseudoParamAWSStackName] = stackName
	p.values[pseudoParamStackName] = stackName
	p.values[pseudoParamAWSRegion] = region
	p.SetStackID(stackID)
	return p, nil
}

// SetStackID updates the stack id pseudo parameters once the stack is stored.
func (p *Parameters) SetStackID(id string) {
	p.values[pseudoParamAWSStackID] = id
	p.values[pseudoParamStackID] = id
}

// Value returns the resolved value of a parameter or pseudo parameter.
func (p *Parameters) Value(name string) (interface{}, bool) {
	v, ok := p.values[name]
	return v, ok
}

// Given returns the user supplied values, which are what gets persisted.
func (p *Parameters) Given() map[string]string {
	out := make(map[string]string, len(p.given))
	for k, v := range p.given {
		out[k] = v
	}
	return out
}

// Display returns every declared parameter as a string with NoEcho values masked.
func (p *Parameters) Display() map[string]string {
	out := make(map[string]string, len(p.schemas))
	for name, schema := range p.schemas {
		if schema.NoEcho {
			out[name] = noEchoMask
			continue
		}
		out[name] = fmt.Sprint(p.values[name])
	}
	return out
}

func convertParameter(paramType, raw string) interface{} {
	switch paramType {
	case ParamTypeNumber:
		if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return i
		}
		f, _ := strconv.ParseFloat(raw, 64)
		return f
	case ParamTypeCommaDelimited:
		if raw == "" {
			return []interface{}{}
		}
		parts := strings.Split(raw, ",")
		out := make([]interface{}, len(parts))
		for i, part := range parts {
			out[i] = strings.TrimSpace(part)
		}
		return out
	default:
		return raw
	}
}
