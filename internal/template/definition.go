// Package template expands TemplateDefinition resources plus instantiation
// parameters into concrete resources, recursively, honoring the for/if
// control-flow directives, and runs the registry-wide expression
// resolution pass that follows expansion.
package template

import (
	"fmt"

	"github.com/vk/manifold/internal/resource"
	"github.com/vk/manifold/internal/schema"
)

// KindTemplateDefinition is the reserved resource kind holding a template.
const KindTemplateDefinition = "TemplateDefinition"

// Definition is a decoded TemplateDefinition: a parameter schema plus an
// ordered list of resource blueprints.
type Definition struct {
	Name       string
	Module     string
	Schema     *schema.Schema
	Blueprints []map[string]any
}

// QualifiedName returns the module-qualified template name when a module
// is declared, otherwise the bare name.
func (d *Definition) QualifiedName() string {
	if d.Module != "" {
		return d.Module + "." + d.Name
	}
	return d.Name
}

// DefinitionFromResource decodes a TemplateDefinition resource.
func DefinitionFromResource(r *resource.Resource) (*Definition, error) {
	if r.Kind != KindTemplateDefinition {
		return nil, fmt.Errorf("resource %s is not a %s", r.FQN(), KindTemplateDefinition)
	}
	def := &Definition{
		Name:   r.Meta.Name,
		Module: r.Meta.Module,
		Schema: &schema.Schema{Properties: map[string]schema.Property{}},
	}

	if raw, ok := r.Fields["schema"]; ok {
		rawMap, ok := resource.NormalizeMap(raw)
		if !ok {
			return nil, fmt.Errorf("template %s: schema must be a mapping, got %T", def.QualifiedName(), raw)
		}
		s, err := schema.Decode(rawMap)
		if err != nil {
			return nil, fmt.Errorf("template %s: %w", def.QualifiedName(), err)
		}
		def.Schema = s
	}

	raw, ok := r.Fields["resources"]
	if !ok {
		return nil, fmt.Errorf("template %s: missing resources list", def.QualifiedName())
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("template %s: resources must be a list, got %T", def.QualifiedName(), raw)
	}
	for i, item := range list {
		bp, ok := resource.NormalizeMap(item)
		if !ok {
			return nil, fmt.Errorf("template %s: blueprint %d must be a mapping, got %T", def.QualifiedName(), i, item)
		}
		def.Blueprints = append(def.Blueprints, bp)
	}
	return def, nil
}

// catalog resolves instantiation kinds to template definitions, by bare
// name and by module-qualified name.
type catalog map[string]*Definition

func buildCatalog(resources []*resource.Resource) (catalog, error) {
	c := make(catalog)
	for _, r := range resources {
		if r.Kind != KindTemplateDefinition {
			continue
		}
		def, err := DefinitionFromResource(r)
		if err != nil {
			return nil, err
		}
		c[def.Name] = def
		if def.Module != "" {
			c[def.QualifiedName()] = def
		}
	}
	return c, nil
}

func (c catalog) lookup(kind string) *Definition {
	return c[kind]
}
