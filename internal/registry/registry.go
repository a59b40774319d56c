// Package registry indexes registered resources by (Kind, Name) and keeps
// the secondary introspection indices (origin URI, source file, generation
// depth). A (Kind, Name) pair is unique for the lifetime of a boot; the
// first registration always wins and a duplicate is fatal.
package registry

import (
	"fmt"

	"github.com/vk/manifold/internal/resource"
)

// DuplicateError reports an attempt to register an already-registered
// (Kind, Name) pair.
type DuplicateError struct {
	Ref resource.Ref
}

// Error implements the error interface.
func (e *DuplicateError) Error() string {
	return fmt.Sprintf("duplicate resource %s", e.Ref)
}

// Registry holds the resources of a single kernel instance. It is owned by
// the kernel and mutated only from its single control flow, so it carries
// no lock of its own.
type Registry struct {
	byKind map[string]map[string]*resource.Resource
	all    []*resource.Resource
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		byKind: make(map[string]map[string]*resource.Resource),
	}
}

// Register inserts the resource, failing on shape violations or on a
// duplicate (Kind, Name). The existing entry is never overwritten.
func (r *Registry) Register(res *resource.Resource) error {
	if err := res.Validate(); err != nil {
		return err
	}
	names, ok := r.byKind[res.Kind]
	if !ok {
		names = make(map[string]*resource.Resource)
		r.byKind[res.Kind] = names
	}
	if _, exists := names[res.Meta.Name]; exists {
		return &DuplicateError{Ref: resource.Ref{Kind: res.Kind, Name: res.Meta.Name}}
	}
	names[res.Meta.Name] = res
	r.all = append(r.all, res)
	return nil
}

// Get looks up one resource by kind and name.
func (r *Registry) Get(kind, name string) (*resource.Resource, bool) {
	res, ok := r.byKind[kind][name]
	return res, ok
}

// GetByKind returns every resource of the kind, in registration order.
func (r *Registry) GetByKind(kind string) []*resource.Resource {
	var out []*resource.Resource
	for _, res := range r.all {
		if res.Kind == kind {
			out = append(out, res)
		}
	}
	return out
}

// All returns every registered resource in registration order. Callers
// must not mutate the returned slice.
func (r *Registry) All() []*resource.Resource {
	return r.all
}

// Len returns the number of registered resources.
func (r *Registry) Len() int {
	return len(r.all)
}

// ByURI returns the resources whose origin URI matches. Introspection only.
func (r *Registry) ByURI(uri string) []*resource.Resource {
	var out []*resource.Resource
	for _, res := range r.all {
		if res.Meta.URI == uri {
			out = append(out, res)
		}
	}
	return out
}

// BySource returns the resources loaded from one source file.
// Introspection only.
func (r *Registry) BySource(source string) []*resource.Resource {
	var out []*resource.Resource
	for _, res := range r.all {
		if res.Meta.Source == source {
			out = append(out, res)
		}
	}
	return out
}

// ByDepth returns the resources of one template-expansion generation.
// Introspection only.
func (r *Registry) ByDepth(depth int) []*resource.Resource {
	var out []*resource.Resource
	for _, res := range r.all {
		if res.Meta.GenerationDepth == depth {
			out = append(out, res)
		}
	}
	return out
}
