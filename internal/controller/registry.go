package controller

import (
	"fmt"

	"github.com/vk/manifold/internal/resource"
	"github.com/vk/manifold/internal/schema"
)

// KindResourceDefinition is the reserved resource kind declaring a Kind's
// controller entrypoint, parent Kind, and schema.
const KindResourceDefinition = "ResourceDefinition"

// Definition mirrors a ResourceDefinition resource: how the Kind named by
// the definition obtains its controller.
type Definition struct {
	// Kind is the Kind being defined (the definition's metadata.name,
	// module-qualified when a module is declared).
	Kind string
	// Entrypoint names the factory producing the controller.
	Entrypoint string
	// Extends names a parent Kind whose controller is attached when this
	// Kind has none of its own.
	Extends string
	// Schema is inherited by controllers created without one.
	Schema *schema.Schema
}

// DefinitionFromResource decodes a ResourceDefinition resource.
func DefinitionFromResource(r *resource.Resource) (*Definition, error) {
	if r.Kind != KindResourceDefinition {
		return nil, fmt.Errorf("resource %s is not a %s", r.FQN(), KindResourceDefinition)
	}
	def := &Definition{Kind: r.Meta.Name}
	if r.Meta.Module != "" {
		def.Kind = r.Meta.Module + "." + r.Meta.Name
	}
	if v, ok := r.Fields["entrypoint"].(string); ok {
		def.Entrypoint = v
	}
	if v, ok := r.Fields["extends"].(string); ok {
		def.Extends = v
	}
	if raw, ok := r.Fields["schema"]; ok {
		rawMap, ok := resource.NormalizeMap(raw)
		if !ok {
			return nil, fmt.Errorf("definition %s: schema must be a mapping, got %T", def.Kind, raw)
		}
		s, err := schema.Decode(rawMap)
		if err != nil {
			return nil, fmt.Errorf("definition %s: %w", def.Kind, err)
		}
		def.Schema = s
	}
	return def, nil
}

// Registry maps Kinds to controllers. At most one controller may claim a
// Kind. Controllers are found either statically or lazily through the
// entrypoint declared on the Kind's definition, and a Kind without its own
// controller inherits its parent's through the extends relationship.
type Registry struct {
	controllers map[string]*Controller
	entrypoints map[string]Entrypoint
	definitions map[string]*Definition
}

// NewRegistry creates an empty controller registry.
func NewRegistry() *Registry {
	return &Registry{
		controllers: make(map[string]*Controller),
		entrypoints: make(map[string]Entrypoint),
		definitions: make(map[string]*Definition),
	}
}

// RegisterController statically binds a controller to its Kind. A second
// registration for the same Kind is a usage error.
func (r *Registry) RegisterController(c *Controller) error {
	if c == nil || c.Kind == "" {
		return fmt.Errorf("invalid controller: missing kind")
	}
	if _, exists := r.controllers[c.Kind]; exists {
		return fmt.Errorf("kind %q already has a controller", c.Kind)
	}
	r.controllers[c.Kind] = r.withDefinitionSchema(c)
	return nil
}

// RegisterEntrypoint names a controller factory for lazy resolution.
func (r *Registry) RegisterEntrypoint(name string, ep Entrypoint) error {
	if _, exists := r.entrypoints[name]; exists {
		return fmt.Errorf("entrypoint %q already registered", name)
	}
	r.entrypoints[name] = ep
	return nil
}

// AddDefinition records a Kind definition for lazy resolution and
// inheritance. Later definitions for the same Kind are rejected.
func (r *Registry) AddDefinition(def *Definition) error {
	if def.Kind == "" {
		return fmt.Errorf("invalid definition: missing kind")
	}
	if _, exists := r.definitions[def.Kind]; exists {
		return fmt.Errorf("kind %q already has a definition", def.Kind)
	}
	r.definitions[def.Kind] = def
	return nil
}

// Lookup resolves the controller for a Kind: a statically registered one,
// then the definition's entrypoint, then the parent's controller through
// extends. Resolved controllers are cached. A missing controller is not an
// error here; discovery retries across passes.
func (r *Registry) Lookup(kind string) (*Controller, bool, error) {
	return r.lookup(kind, make(map[string]bool))
}

func (r *Registry) lookup(kind string, seen map[string]bool) (*Controller, bool, error) {
	if seen[kind] {
		return nil, false, fmt.Errorf("kind %q: inheritance cycle through extends", kind)
	}
	seen[kind] = true

	if c, ok := r.controllers[kind]; ok {
		return c, true, nil
	}
	def, ok := r.definitions[kind]
	if !ok {
		return nil, false, nil
	}

	if def.Entrypoint != "" {
		ep, ok := r.entrypoints[def.Entrypoint]
		if !ok {
			return nil, false, nil
		}
		c := ep()
		if c == nil {
			return nil, false, fmt.Errorf("entrypoint %q for kind %q returned no controller", def.Entrypoint, kind)
		}
		c = rebind(c, kind, def.Schema)
		r.controllers[kind] = c
		return c, true, nil
	}

	if def.Extends != "" {
		parent, ok, err := r.lookup(def.Extends, seen)
		if err != nil || !ok {
			return nil, ok, err
		}
		c := rebind(parent, kind, def.Schema)
		r.controllers[kind] = c
		return c, true, nil
	}
	return nil, false, nil
}

// withDefinitionSchema wraps a schemaless controller so it inherits its
// definition's schema. The caller's controller value is never mutated.
func (r *Registry) withDefinitionSchema(c *Controller) *Controller {
	if c.Schema != nil {
		return c
	}
	def, ok := r.definitions[c.Kind]
	if !ok || def.Schema == nil {
		return c
	}
	return rebind(c, c.Kind, def.Schema)
}

// rebind copies a controller onto a Kind, filling in an inherited schema
// without mutating the original.
func rebind(c *Controller, kind string, inherited *schema.Schema) *Controller {
	wrapped := *c
	wrapped.Kind = kind
	if wrapped.Schema == nil {
		wrapped.Schema = inherited
	}
	return &wrapped
}
