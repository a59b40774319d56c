// Package resource defines the unit of configuration the runtime operates
// on: a named, typed document identified by its (Kind, Name) pair.
package resource

import (
	"fmt"
	"strings"
)

// Metadata holds the identifying and provenance fields of a resource.
type Metadata struct {
	// Name identifies the resource within its Kind. Required.
	Name string
	// Module is the logical module the resource belongs to.
	Module string
	// URI encodes provenance: a file path for directly loaded resources,
	// or a lineage chain for resources produced by template expansion.
	URI string
	// Source is the manifest file the resource (or its originating
	// template instantiation) was loaded from.
	Source string
	// GenerationDepth is 0 for directly loaded resources and N for the
	// Nth level of template expansion.
	GenerationDepth int
	// Extra carries any free-form metadata fields the document declared.
	Extra map[string]any
}

// Resource is a configuration unit. Fields holds every top-level document
// field other than "kind" and "metadata".
type Resource struct {
	Kind   string
	Meta   Metadata
	Fields map[string]any
}

// FQN returns the fully qualified "Kind.Name" identity of the resource.
func (r *Resource) FQN() string {
	return r.Kind + "." + r.Meta.Name
}

// Validate checks the structural invariants every resource must satisfy
// before it may enter the registry.
func (r *Resource) Validate() error {
	if r.Kind == "" {
		return fmt.Errorf("resource %q: missing kind", r.Meta.Name)
	}
	if r.Meta.Name == "" {
		return fmt.Errorf("resource of kind %q: missing metadata.name", r.Kind)
	}
	return nil
}

// FromDoc builds a Resource from a decoded manifest document. It separates
// the reserved "kind" and "metadata" fields from the free-form remainder.
// Shape validation is left to Validate so callers can attach provenance
// to the error.
func FromDoc(doc map[string]any) (*Resource, error) {
	r := &Resource{Fields: make(map[string]any)}

	for k, v := range doc {
		switch k {
		case "kind":
			s, ok := v.(string)
			if !ok {
				return nil, fmt.Errorf("field \"kind\" must be a string, got %T", v)
			}
			r.Kind = s
		case "metadata":
			meta, ok := normalizeMap(v)
			if !ok {
				return nil, fmt.Errorf("field \"metadata\" must be a mapping, got %T", v)
			}
			if err := decodeMetadata(meta, &r.Meta); err != nil {
				return nil, err
			}
		default:
			r.Fields[k] = v
		}
	}
	return r, nil
}

func decodeMetadata(meta map[string]any, out *Metadata) error {
	for k, v := range meta {
		switch k {
		case "name":
			s, ok := v.(string)
			if !ok {
				return fmt.Errorf("metadata.name must be a string, got %T", v)
			}
			out.Name = s
		case "module":
			s, ok := v.(string)
			if !ok {
				return fmt.Errorf("metadata.module must be a string, got %T", v)
			}
			out.Module = s
		case "uri":
			if s, ok := v.(string); ok {
				out.URI = s
			}
		case "source":
			if s, ok := v.(string); ok {
				out.Source = s
			}
		case "generationDepth":
			switch n := v.(type) {
			case int:
				out.GenerationDepth = n
			case int64:
				out.GenerationDepth = int(n)
			case float64:
				out.GenerationDepth = int(n)
			}
		default:
			if out.Extra == nil {
				out.Extra = make(map[string]any)
			}
			out.Extra[k] = v
		}
	}
	return nil
}

// Doc renders the resource back into its document form, the inverse of
// FromDoc. Used by snapshots and template re-expansion.
func (r *Resource) Doc() map[string]any {
	meta := map[string]any{
		"name": r.Meta.Name,
	}
	if r.Meta.Module != "" {
		meta["module"] = r.Meta.Module
	}
	if r.Meta.URI != "" {
		meta["uri"] = r.Meta.URI
	}
	if r.Meta.Source != "" {
		meta["source"] = r.Meta.Source
	}
	meta["generationDepth"] = r.Meta.GenerationDepth
	for k, v := range r.Meta.Extra {
		meta[k] = v
	}

	doc := map[string]any{
		"kind":     r.Kind,
		"metadata": meta,
	}
	for k, v := range r.Fields {
		doc[k] = v
	}
	return doc
}

// Clone returns a deep copy of the resource. Template expansion mutates
// field trees, so blueprints are always cloned before expansion.
func (r *Resource) Clone() *Resource {
	out := &Resource{
		Kind:   r.Kind,
		Meta:   r.Meta,
		Fields: DeepCopyMap(r.Fields),
	}
	out.Meta.Extra = DeepCopyMap(r.Meta.Extra)
	return out
}

// DeepCopyMap deep-copies a decoded document tree. Only the types the YAML
// and JSON decoders produce are descended into.
func DeepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = DeepCopyValue(v)
	}
	return out
}

// DeepCopyValue deep-copies a single decoded document value.
func DeepCopyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return DeepCopyMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = DeepCopyValue(e)
		}
		return out
	default:
		return v
	}
}

// normalizeMap coerces the mapping shapes the YAML decoder can produce
// into map[string]any.
func normalizeMap(v any) (map[string]any, bool) {
	switch t := v.(type) {
	case map[string]any:
		return t, true
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			ks, ok := k.(string)
			if !ok {
				return nil, false
			}
			out[ks] = val
		}
		return out, true
	default:
		return nil, false
	}
}

// NormalizeMap exposes mapping normalization for collaborators that decode
// documents themselves.
func NormalizeMap(v any) (map[string]any, bool) {
	return normalizeMap(v)
}

// KindSegments splits a dot-segmented Kind into its namespace path.
func KindSegments(kind string) []string {
	return strings.Split(kind, ".")
}
