// Package print provides a reference controller that writes
// resource-configured lines to an output stream during the run phase and
// on invocation.
package print

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/vk/manifold/internal/controller"
	"github.com/vk/manifold/internal/resource"
	"github.com/vk/manifold/internal/schema"
)

// Kind is the resource kind this controller claims.
const Kind = "Core.Print"

// Module implements the controller.Module interface for this package.
type Module struct {
	// Out overrides the output stream. Defaults to stdout.
	Out io.Writer
}

// Register binds the controller statically and names its entrypoint for
// lazy resolution through ResourceDefinition resources.
func (m *Module) Register(r *controller.Registry) error {
	out := m.Out
	if out == nil {
		out = os.Stdout
	}
	if err := r.RegisterController(New(out)); err != nil {
		return err
	}
	return r.RegisterEntrypoint("print", func() *controller.Controller { return New(out) })
}

// New builds the print controller writing to the given stream.
func New(out io.Writer) *controller.Controller {
	return &controller.Controller{
		Kind: Kind,
		Schema: &schema.Schema{
			Properties: map[string]schema.Property{
				"message": {Type: "string", Required: true},
			},
		},
		Create: func(ctx context.Context, res *resource.Resource, rc controller.ResourceContext) (controller.Instance, error) {
			message, _ := res.Fields["message"].(string)
			return &instance{out: out, name: res.Meta.Name, message: message}, nil
		},
	}
}

type instance struct {
	out     io.Writer
	name    string
	message string
}

// Run prints the configured message once during the run phase.
func (i *instance) Run(ctx context.Context) error {
	_, err := fmt.Fprintln(i.out, i.message)
	return err
}

// Invoke prints the dispatched input and returns the rendered line.
func (i *instance) Invoke(ctx context.Context, input any) (any, error) {
	line := fmt.Sprintf("%s: %v", i.name, input)
	if _, err := fmt.Fprintln(i.out, line); err != nil {
		return nil, err
	}
	return line, nil
}
