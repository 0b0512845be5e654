package engine

import (
	"encoding/base64"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Intrinsic function names.
const (
	FnRef       = "Ref"
	FnGetAtt    = "Fn::GetAtt"
	FnFindInMap = "Fn::FindInMap"
	FnJoin      = "Fn::Join"
	FnSelect    = "Fn::Select"
	FnSplit     = "Fn::Split"
	FnReplace   = "Fn::Replace"
	FnBase64    = "Fn::Base64"
)

// fnHandler resolves one intrinsic function whose arguments are already
// resolved. It returns handled=false to leave the snippet untouched.
type fnHandler func(fn string, args interface{}) (value interface{}, handled bool, err error)

// isIntrinsic reports whether v is a single-key map naming an intrinsic function.
func isIntrinsic(v interface{}) bool {
	m, ok := v.(map[string]interface{})
	if !ok || len(m) != 1 {
		return false
	}
	for k := range m {
		return k == FnRef || strings.HasPrefix(k, "Fn::")
	}
	return false
}

// walk resolves a snippet bottom-up, applying handle to every intrinsic
// function after its arguments were resolved. The input is never mutated.
func walk(snippet interface{}, handle fnHandler) (interface{}, error) {
	switch v := snippet.(type) {
	case ResourceDefinition:
		return walk(map[string]interface{}(v), handle)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, item := range v {
			resolved, err := walk(item, handle)
			if err != nil {
				return nil, err
			}
			out[k] = resolved
		}
		if len(out) == 1 {
			for fn, args := range out {
				if fn != FnRef && !strings.HasPrefix(fn, "Fn::") {
					break
				}
				value, handled, err := handle(fn, args)
				if err != nil {
					return nil, err
				}
				if handled {
					return value, nil
				}
			}
		}
		return out, nil
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			resolved, err := walk(item, handle)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return v, nil
	}
}

// resolveStatic replaces parameter references and map lookups, which do not
// depend on any resource state.
func resolveStatic(snippet interface{}, params *Parameters, mappings map[string]map[string]map[string]interface{}) (interface{}, error) {
	return walk(snippet, func(fn string, args interface{}) (interface{}, bool, error) {
		switch fn {
		case FnRef:
			name, ok := args.(string)
			if !ok || params == nil {
				return nil, false, nil
			}
			value, ok := params.Value(name)
			return value, ok, nil

		case FnFindInMap:
			list, ok := args.([]interface{})
			if !ok || len(list) != 3 {
				return nil, false, NewValidationError("Fn::FindInMap requires [map, key, value]").
					WithCode(ErrCodeInvalidReference)
			}
			keys := make([]string, 3)
			for i, item := range list {
				s, isString := item.(string)
				if !isString {
					return nil, false, nil
				}
				keys[i] = s
			}
			value, found := mappings[keys[0]][keys[1]][keys[2]]
			if !found {
				return nil, false, NewValidationError(
					fmt.Sprintf("Fn::FindInMap: no entry %s.%s.%s", keys[0], keys[1], keys[2]),
				).WithCode(ErrCodeInvalidReference)
			}
			return deepCopy(value), true, nil

		case FnJoin:
			delim, list, ok := joinArgs(args)
			if !ok {
				return nil, false, nil
			}
			parts := make([]string, len(list))
			for i, item := range list {
				s, isString := item.(string)
				if !isString {
					return nil, false, nil
				}
				parts[i] = s
			}
			return strings.Join(parts, delim), true, nil
		}
		return nil, false, nil
	})
}

// resolveRuntime evaluates resource references and the string functions
// against the live resources of a stack.
func resolveRuntime(snippet interface{}, resources map[string]*Resource) (interface{}, error) {
	return walk(snippet, func(fn string, args interface{}) (interface{}, bool, error) {
		switch fn {
		case FnRef:
			name, ok := args.(string)
			if !ok {
				return nil, false, NewValidationError("Ref requires a name").
					WithCode(ErrCodeInvalidReference)
			}
			r, ok := resources[name]
			if !ok {
				return nil, false, invalidReference(name)
			}
			if !r.State().Referenceable() {
				return nil, true, nil
			}
			return r.RefID(), true, nil

		case FnGetAtt:
			name, attr, err := getAttArgs(args)
			if err != nil {
				return nil, false, err
			}
			r, ok := resources[name]
			if !ok {
				return nil, false, invalidReference(name)
			}
			if !r.State().Referenceable() {
				if _, declared := r.driver.Attributes[attr]; !declared {
					return nil, false, invalidAttribute(name, attr)
				}
				return nil, true, nil
			}
			value, err := r.GetAtt(attr)
			return value, true, err

		case FnJoin:
			delim, list, ok := joinArgs(args)
			if !ok {
				return nil, false, NewValidationError("Fn::Join requires [delimiter, list]")
			}
			parts := make([]string, len(list))
			for i, item := range list {
				if item == nil {
					continue
				}
				parts[i] = fmt.Sprint(item)
			}
			return strings.Join(parts, delim), true, nil

		case FnSplit:
			list, ok := args.([]interface{})
			if !ok || len(list) != 2 {
				return nil, false, NewValidationError("Fn::Split requires [delimiter, string]")
			}
			delim, ok1 := list[0].(string)
			str, ok2 := list[1].(string)
			if !ok1 || !ok2 {
				return nil, false, NewValidationError("Fn::Split arguments must be strings")
			}
			parts := strings.Split(str, delim)
			out := make([]interface{}, len(parts))
			for i, part := range parts {
				out[i] = part
			}
			return out, true, nil

		case FnSelect:
			list, ok := args.([]interface{})
			if !ok || len(list) != 2 {
				return nil, false, NewValidationError("Fn::Select requires [index, collection]")
			}
			return selectItem(list[0], list[1])

		case FnReplace:
			list, ok := args.([]interface{})
			if !ok || len(list) != 2 {
				return nil, false, NewValidationError("Fn::Replace requires [mapping, string]")
			}
			mapping, ok1 := list[0].(map[string]interface{})
			str, ok2 := list[1].(string)
			if !ok1 || !ok2 {
				return nil, false, NewValidationError("Fn::Replace requires a map and a string")
			}
			keys := make([]string, 0, len(mapping))
			for k := range mapping {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				replacement := ""
				if mapping[k] != nil {
					replacement = fmt.Sprint(mapping[k])
				}
				str = strings.ReplaceAll(str, k, replacement)
			}
			return str, true, nil

		case FnBase64:
			str, ok := args.(string)
			if !ok {
				return nil, false, NewValidationError("Fn::Base64 requires a string")
			}
			return base64.StdEncoding.EncodeToString([]byte(str)), true, nil
		}
		return nil, false, nil
	})
}

// dependencies scans a statically resolved definition for the resources it
// requires through DependsOn, Ref and Fn::GetAtt.
func dependencies(def ResourceDefinition, resources map[string]*Resource) ([]string, error) {
	seen := make(map[string]bool)
	var deps []string
	add := func(name string) {
		if !seen[name] {
			seen[name] = true
			deps = append(deps, name)
		}
	}

	switch dependsOn := def[KeyDependsOn].(type) {
	case nil:
	case string:
		if _, ok := resources[dependsOn]; !ok {
			return nil, invalidReference(dependsOn)
		}
		add(dependsOn)
	case []interface{}:
		for _, item := range dependsOn {
			name, ok := item.(string)
			if !ok {
				return nil, NewValidationError("DependsOn entries must be strings")
			}
			if _, ok := resources[name]; !ok {
				return nil, invalidReference(name)
			}
			add(name)
		}
	default:
		return nil, NewValidationError("DependsOn must be a string or a list")
	}

	var scan func(v interface{}) error
	scan = func(v interface{}) error {
		switch val := v.(type) {
		case ResourceDefinition:
			return scan(map[string]interface{}(val))
		case map[string]interface{}:
			if len(val) == 1 {
				if name, ok := val[FnRef].(string); ok {
					if _, exists := resources[name]; !exists {
						return invalidReference(name)
					}
					add(name)
					return nil
				}
				if args, ok := val[FnGetAtt]; ok {
					name, attr, err := getAttArgs(args)
					if err != nil {
						return err
					}
					target, exists := resources[name]
					if !exists {
						return invalidReference(name)
					}
					if _, declared := target.driver.Attributes[attr]; !declared {
						return invalidAttribute(name, attr)
					}
					add(name)
					return nil
				}
			}
			for k, item := range val {
				if k == KeyDependsOn {
					continue
				}
				if err := scan(item); err != nil {
					return err
				}
			}
		case []interface{}:
			for _, item := range val {
				if err := scan(item); err != nil {
					return err
				}
			}
		}
		return nil
	}
	if err := scan(def); err != nil {
		return nil, err
	}
	sort.Strings(deps)
	return deps, nil
}

func invalidReference(name string) error {
	return NewPermanentError(fmt.Sprintf("invalid reference: %s is not a resource in this stack", name), nil).
		WithCode(ErrCodeInvalidReference).
		WithResource(name)
}

func invalidAttribute(name, attr string) error {
	return NewPermanentError(fmt.Sprintf("invalid attribute: %s has no attribute %s", name, attr), nil).
		WithCode(ErrCodeInvalidAttribute).
		WithResource(name)
}

func getAttArgs(args interface{}) (string, string, error) {
	list, ok := args.([]interface{})
	if !ok || len(list) != 2 {
		return "", "", NewValidationError("Fn::GetAtt requires [resource, attribute]").
			WithCode(ErrCodeInvalidReference)
	}
	name, ok1 := list[0].(string)
	attr, ok2 := list[1].(string)
	if !ok1 || !ok2 {
		return "", "", NewValidationError("Fn::GetAtt arguments must be strings").
			WithCode(ErrCodeInvalidReference)
	}
	return name, attr, nil
}

func joinArgs(args interface{}) (string, []interface{}, bool) {
	list, ok := args.([]interface{})
	if !ok || len(list) != 2 {
		return "", nil, false
	}
	delim, ok := list[0].(string)
	if !ok {
		return "", nil, false
	}
	items, ok := list[1].([]interface{})
	if !ok {
		return "", nil, false
	}
	return delim, items, true
}

func selectItem(index, collection interface{}) (interface{}, bool, error) {
	switch c := collection.(type) {
	case []interface{}:
		var i int
		switch idx := index.(type) {
		case int:
			i = idx
		case int64:
			i = int(idx)
		case float64:
			i = int(idx)
		case string:
			n, err := strconv.Atoi(idx)
			if err != nil {
				return nil, false, NewValidationError(fmt.Sprintf("Fn::Select: invalid index %q", idx))
			}
			i = n
		default:
			return nil, false, NewValidationError("Fn::Select: index must be a number")
		}
		if i < 0 || i >= len(c) {
			return "", true, nil
		}
		return c[i], true, nil
	case map[string]interface{}:
		key := fmt.Sprint(index)
		if v, ok := c[key]; ok {
			return v, true, nil
		}
		return "", true, nil
	case nil:
		return "", true, nil
	default:
		return nil, false, NewValidationError("Fn::Select: collection must be a list or a map")
	}
}
