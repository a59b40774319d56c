// Package schema declares the parameter schema attached to templates and
// controller definitions: typed properties with optional defaults and
// required flags.
package schema

import (
	"fmt"
	"sort"
	"strings"

	"github.com/vk/manifold/internal/resource"
)

// Property declares a single parameter.
type Property struct {
	// Type names the expected value shape: string, number, bool, array,
	// object, or any. Empty means any.
	Type string
	// Default is merged into the evaluation context when the caller does
	// not supply the parameter.
	Default any
	// Required marks the parameter mandatory even without a top-level
	// required list entry.
	Required bool
}

// Schema is an ordered-agnostic set of parameter declarations.
type Schema struct {
	Properties map[string]Property
	Required   []string
}

// Decode builds a Schema from its document form:
//
//	schema:
//	  properties:
//	    regions: { type: array, default: ["a", "b"] }
//	  required: [regions]
func Decode(raw map[string]any) (*Schema, error) {
	s := &Schema{Properties: make(map[string]Property)}

	if props, ok := raw["properties"]; ok {
		propsMap, ok := resource.NormalizeMap(props)
		if !ok {
			return nil, fmt.Errorf("schema properties must be a mapping, got %T", props)
		}
		for name, decl := range propsMap {
			declMap, ok := resource.NormalizeMap(decl)
			if !ok {
				return nil, fmt.Errorf("schema property %q must be a mapping, got %T", name, decl)
			}
			p := Property{}
			if t, ok := declMap["type"].(string); ok {
				p.Type = t
			}
			if d, ok := declMap["default"]; ok {
				p.Default = d
			}
			if r, ok := declMap["required"].(bool); ok {
				p.Required = r
			}
			s.Properties[name] = p
		}
	}

	if req, ok := raw["required"]; ok {
		list, ok := req.([]any)
		if !ok {
			return nil, fmt.Errorf("schema required must be a list, got %T", req)
		}
		for _, item := range list {
			name, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("schema required entries must be strings, got %T", item)
			}
			s.Required = append(s.Required, name)
		}
	}
	return s, nil
}

// Defaults returns the declared default values, deep-copied so callers can
// mutate the result freely.
func (s *Schema) Defaults() map[string]any {
	out := make(map[string]any)
	for name, p := range s.Properties {
		if p.Default != nil {
			out[name] = resource.DeepCopyValue(p.Default)
		}
	}
	return out
}

// Validate checks the supplied parameters against the schema: every
// required parameter present, every typed parameter of the declared type.
func (s *Schema) Validate(params map[string]any) error {
	var errs []string

	required := make(map[string]struct{}, len(s.Required))
	for _, name := range s.Required {
		required[name] = struct{}{}
	}
	for name, p := range s.Properties {
		if p.Required {
			required[name] = struct{}{}
		}
	}
	names := make([]string, 0, len(required))
	for name := range required {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if _, ok := params[name]; !ok {
			if p, declared := s.Properties[name]; !declared || p.Default == nil {
				errs = append(errs, fmt.Sprintf("missing required parameter %q", name))
			}
		}
	}

	for name, p := range s.Properties {
		v, ok := params[name]
		if !ok || p.Type == "" || p.Type == "any" {
			continue
		}
		if !matchesType(v, p.Type) {
			errs = append(errs, fmt.Sprintf("parameter %q: expected %s, got %T", name, p.Type, v))
		}
	}

	if len(errs) > 0 {
		sort.Strings(errs)
		return fmt.Errorf("schema validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func matchesType(v any, typeName string) bool {
	switch typeName {
	case "string":
		_, ok := v.(string)
		return ok
	case "number", "integer", "int":
		switch v.(type) {
		case int, int32, int64, float32, float64:
			return true
		}
		return false
	case "bool", "boolean":
		_, ok := v.(bool)
		return ok
	case "array", "list":
		_, ok := v.([]any)
		return ok
	case "object", "map":
		_, ok := resource.NormalizeMap(v)
		return ok
	default:
		// Unknown type names validate permissively; the expression layer
		// will surface a concrete failure if the value cannot be used.
		return true
	}
}
