package engine

import (
	"fmt"
	"math"
	"reflect"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

// PropertyType is the value type of a resource property.
type PropertyType string

const (
	PropertyString  PropertyType = "String"
	PropertyInteger PropertyType = "Integer"
	PropertyNumber  PropertyType = "Number"
	PropertyBoolean PropertyType = "Boolean"
	PropertyList    PropertyType = "List"
	PropertyMap     PropertyType = "Map"
)

var propertyValidator = validator.New()

// PropertySchema constrains one resource property.
type PropertySchema struct {
	Type           PropertyType
	Description    string
	Required       bool
	Default        interface{}
	AllowedValues  []interface{}
	AllowedPattern string
	MinLength      *int
	MaxLength      *int
	MinValue       *float64
	MaxValue       *float64
}

// IntPtr is a helper for schema literals.
func IntPtr(v int) *int { return &v }

// FloatPtr is a helper for schema literals.
func FloatPtr(v float64) *float64 { return &v }

// ResolveProperties checks data against schema, converts values to their
// declared types and fills in defaults. When partial is set, values that are
// still unresolved intrinsic functions are accepted unchecked and required
// properties may be missing; this is used while validating a template before
// any resource exists.
func ResolveProperties(schema map[string]PropertySchema, data map[string]interface{}, partial bool) (map[string]interface{}, error) {
	keys := make([]string, 0, len(data))
	for key := range data {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if _, ok := schema[key]; !ok {
			return nil, NewValidationError(fmt.Sprintf("unknown property %s", key))
		}
	}

	names := make([]string, 0, len(schema))
	for name := range schema {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make(map[string]interface{}, len(schema))
	for _, name := range names {
		s := schema[name]
		value, present := data[name]
		if present && value == nil {
			present = false
		}
		if !present {
			if s.Default != nil {
				out[name] = s.Default
				continue
			}
			if s.Required && !partial {
				return nil, NewValidationError(fmt.Sprintf("property %s not assigned", name))
			}
			continue
		}
		if partial && isIntrinsic(value) {
			out[name] = value
			continue
		}
		converted, err := s.convert(value)
		if err != nil {
			return nil, NewValidationError(fmt.Sprintf("property %s: %v", name, err))
		}
		if err := s.check(converted); err != nil {
			return nil, NewValidationError(fmt.Sprintf("property %s: %v", name, err))
		}
		out[name] = converted
	}
	return out, nil
}

// convert coerces a decoded template value to the schema type.
func (s PropertySchema) convert(value interface{}) (interface{}, error) {
	switch s.Type {
	case PropertyString:
		switch v := value.(type) {
		case string:
			return v, nil
		case int, int64, float64, bool:
			return fmt.Sprint(v), nil
		}
	case PropertyInteger:
		switch v := value.(type) {
		case int:
			return int64(v), nil
		case int64:
			return v, nil
		case float64:
			if v == math.Trunc(v) {
				return int64(v), nil
			}
		case string:
			if i, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
				return i, nil
			}
		}
	case PropertyNumber:
		switch v := value.(type) {
		case int:
			return float64(v), nil
		case int64:
			return float64(v), nil
		case float64:
			return v, nil
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
				return f, nil
			}
		}
	case PropertyBoolean:
		switch v := value.(type) {
		case bool:
			return v, nil
		case string:
			if b, err := strconv.ParseBool(v); err == nil {
				return b, nil
			}
		}
	case PropertyList:
		switch v := value.(type) {
		case []interface{}:
			return v, nil
		case []string:
			out := make([]interface{}, len(v))
			for i, item := range v {
				out[i] = item
			}
			return out, nil
		case string:
			return convertParameter(ParamTypeCommaDelimited, v), nil
		}
	case PropertyMap:
		if v, ok := value.(map[string]interface{}); ok {
			return v, nil
		}
	default:
		return nil, fmt.Errorf("unsupported schema type %q", s.Type)
	}
	return nil, fmt.Errorf("value %v is not of type %s", value, s.Type)
}

// check applies the value constraints to an already converted value.
func (s PropertySchema) check(value interface{}) error {
	if len(s.AllowedValues) > 0 {
		allowed := false
		for _, candidate := range s.AllowedValues {
			if reflect.DeepEqual(candidate, value) || fmt.Sprint(candidate) == fmt.Sprint(value) {
				allowed = true
				break
			}
		}
		if !allowed {
			return fmt.Errorf("%v is not one of the allowed values", value)
		}
	}

	switch v := value.(type) {
	case string:
		if s.MinLength != nil {
			if err := propertyValidator.Var(v, fmt.Sprintf("min=%d", *s.MinLength)); err != nil {
				return fmt.Errorf("length must be at least %d", *s.MinLength)
			}
		}
		if s.MaxLength != nil {
			if err := propertyValidator.Var(v, fmt.Sprintf("max=%d", *s.MaxLength)); err != nil {
				return fmt.Errorf("length must be at most %d", *s.MaxLength)
			}
		}
		if s.AllowedPattern != "" {
			re, err := regexp.Compile("^(?:" + s.AllowedPattern + ")$")
			if err != nil {
				return fmt.Errorf("invalid pattern %s: %w", s.AllowedPattern, err)
			}
			if !re.MatchString(v) {
				return fmt.Errorf("%q does not match pattern %s", v, s.AllowedPattern)
			}
		}
	case []interface{}:
		if s.MinLength != nil && len(v) < *s.MinLength {
			return fmt.Errorf("list must have at least %d items", *s.MinLength)
		}
		if s.MaxLength != nil && len(v) > *s.MaxLength {
			return fmt.Errorf("list must have at most %d items", *s.MaxLength)
		}
	case int64, float64:
		n := toFloat(v)
		if s.MinValue != nil {
			if err := propertyValidator.Var(n, fmt.Sprintf("gte=%v", *s.MinValue)); err != nil {
				return fmt.Errorf("%v is less than %v", v, *s.MinValue)
			}
		}
		if s.MaxValue != nil {
			if err := propertyValidator.Var(n, fmt.Sprintf("lte=%v", *s.MaxValue)); err != nil {
				return fmt.Errorf("%v is greater than %v", v, *s.MaxValue)
			}
		}
	}
	return nil
}

func toFloat(v interface{}) float64 {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case float64:
		return n
	}
	return 0
}
