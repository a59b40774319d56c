package kernel

import (
	"context"

	"github.com/vk/manifold/internal/controller"
	"github.com/vk/manifold/internal/resource"
	"github.com/vk/manifold/internal/template"
)

// registerBuiltins binds the reserved definition kinds to inert
// controllers. Template and resource definitions are consumed during the
// resolve and register phases; at discovery time they only need to be
// marked handled, so Create returns no instance.
func registerBuiltins(reg *controller.Registry) {
	inert := func(kind string) *controller.Controller {
		return &controller.Controller{
			Kind: kind,
			Create: func(ctx context.Context, res *resource.Resource, rc controller.ResourceContext) (controller.Instance, error) {
				return nil, nil
			},
		}
	}
	// Registration cannot fail on a fresh registry.
	_ = reg.RegisterController(inert(template.KindTemplateDefinition))
	_ = reg.RegisterController(inert(controller.KindResourceDefinition))
}
