package kernel

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vk/manifold/internal/controller"
	"github.com/vk/manifold/internal/resource"
)

// resourceContext is the kernel-backed implementation of
// controller.ResourceContext. Recursive dispatch threads the same context
// shape: a controller invoking another resource goes through the same
// kernel entry points its own caller used.
type resourceContext struct {
	k *Kernel
}

// context returns the capability surface handed to controller calls.
func (k *Kernel) context() controller.ResourceContext {
	return &resourceContext{k: k}
}

// Evaluate resolves one expression against the registry-wide scope.
// Deferred expressions are reported as unavailable rather than invalid.
func (rc *resourceContext) Evaluate(src string) (any, error) {
	return rc.k.engine.Evaluate(src, rc.k.resources, rc.k.env)
}

// RegisterResource dynamically registers a resource. During discovery the
// resource joins the current loop; after boot it is adopted immediately.
func (rc *resourceContext) RegisterResource(res *resource.Resource) error {
	if err := rc.k.register(res); err != nil {
		return err
	}
	if rc.k.discovering {
		rc.k.pending = append(rc.k.pending, res)
		return nil
	}
	if !rc.k.booted {
		return nil
	}
	ok, err := rc.k.adopt(context.Background(), res)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w %q", ErrControllerMissing, res.Kind)
	}
	return nil
}

// AcquireHold increments the kernel keepalive counter.
func (rc *resourceContext) AcquireHold(reason string) (release func()) {
	return rc.k.AcquireHold(reason)
}

// Invoke dispatches to another resource.
func (rc *resourceContext) Invoke(ctx context.Context, ref string, input any) (any, error) {
	return rc.k.Execute(ctx, ref, input)
}

// EmitEvent publishes a custom resource event.
func (rc *resourceContext) EmitEvent(ctx context.Context, kind, name, event string, payload any) error {
	return rc.k.EmitResourceEvent(ctx, kind, name, event, payload)
}

// Lookup fetches a registered resource.
func (rc *resourceContext) Lookup(kind, name string) (*resource.Resource, bool) {
	return rc.k.resources.Get(kind, name)
}

// Logger returns the kernel's logger.
func (rc *resourceContext) Logger() *slog.Logger {
	return rc.k.logger
}
