package kernel

import (
	"context"
	"fmt"

	"github.com/vk/manifold/internal/controller"
	"github.com/vk/manifold/internal/resource"
)

// Execute dispatches an invocation to a resource addressed as
// "Kind.Name". It is usable at any time after discovery. Failures are
// surfaced to the caller as typed errors and never tear the process down.
func (k *Kernel) Execute(ctx context.Context, ref string, input any) (any, error) {
	parsed, err := resource.ParseRef(ref)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrResourceNotFound, err)
	}

	res, ok := k.resources.Get(parsed.Kind, parsed.Name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrResourceNotFound, ref)
	}

	ctl, ok, err := k.controllers.Lookup(res.Kind)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrControllerMissing, res.Kind, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrControllerMissing, res.Kind)
	}

	// An instance implementing Invoker takes precedence over the
	// controller-level Execute capability.
	if m := k.byRef[res.FQN()]; m != nil && m.inst != nil {
		if inv, ok := m.inst.(controller.Invoker); ok {
			out, err := inv.Invoke(ctx, input)
			if err != nil {
				return nil, fmt.Errorf("%w: invoking %s: %v", ErrExecutionFailed, ref, err)
			}
			return out, nil
		}
	}

	if ctl.Execute != nil {
		out, err := ctl.Execute(ctx, res.Meta.Name, input, k.context())
		if err != nil {
			return nil, fmt.Errorf("%w: executing %s: %v", ErrExecutionFailed, ref, err)
		}
		return out, nil
	}

	return nil, fmt.Errorf("%w: kind %q accepts no invocations", ErrControllerInvalid, res.Kind)
}
