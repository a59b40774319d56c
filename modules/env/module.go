// Package env provides a reference controller exposing a declared set of
// environment variables as a resource instance with snapshot support.
package env

import (
	"context"
	"fmt"
	"os"

	"github.com/vk/manifold/internal/controller"
	"github.com/vk/manifold/internal/resource"
	"github.com/vk/manifold/internal/schema"
)

// Kind is the resource kind this controller claims.
const Kind = "Core.Env"

// Module implements the controller.Module interface for this package.
type Module struct{}

// Register binds the controller statically and names its entrypoint for
// lazy resolution through ResourceDefinition resources.
func (m *Module) Register(r *controller.Registry) error {
	if err := r.RegisterController(New()); err != nil {
		return err
	}
	return r.RegisterEntrypoint("env", New)
}

// New builds the env controller.
func New() *controller.Controller {
	return &controller.Controller{
		Kind: Kind,
		Schema: &schema.Schema{
			Properties: map[string]schema.Property{
				"names": {Type: "array", Required: true},
			},
		},
		Create: func(ctx context.Context, res *resource.Resource, rc controller.ResourceContext) (controller.Instance, error) {
			names, _ := res.Fields["names"].([]any)
			vars := make(map[string]string, len(names))
			for _, n := range names {
				name, ok := n.(string)
				if !ok {
					return nil, fmt.Errorf("resource %s: names entries must be strings, got %T", res.FQN(), n)
				}
				if v, found := os.LookupEnv(name); found {
					vars[name] = v
				}
			}
			return &instance{vars: vars}, nil
		},
	}
}

type instance struct {
	vars map[string]string
}

// Invoke returns the value of one declared variable.
func (i *instance) Invoke(ctx context.Context, input any) (any, error) {
	name, ok := input.(string)
	if !ok {
		return nil, fmt.Errorf("input must be a variable name string, got %T", input)
	}
	v, found := i.vars[name]
	if !found {
		return nil, fmt.Errorf("variable %q is not declared or not set", name)
	}
	return v, nil
}

// Snapshot contributes the captured variables to registry snapshots.
func (i *instance) Snapshot() any {
	out := make(map[string]string, len(i.vars))
	for k, v := range i.vars {
		out[k] = v
	}
	return out
}
