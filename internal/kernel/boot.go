package kernel

import (
	"context"
	"fmt"

	"github.com/vk/manifold/internal/controller"
	"github.com/vk/manifold/internal/ctxlog"
	"github.com/vk/manifold/internal/order"
	"github.com/vk/manifold/internal/resource"
)

// Run drives a complete kernel lifetime: boot, serve until every hold is
// released, then tear down.
func (k *Kernel) Run(ctx context.Context, paths ...string) error {
	if err := k.Start(ctx, paths...); err != nil {
		return err
	}
	if err := k.WaitForIdle(ctx); err != nil {
		k.Shutdown(context.WithoutCancel(ctx))
		return err
	}
	return k.Shutdown(ctx)
}

// Start executes the boot state machine through the run phase: Load,
// Resolve, Register, Discover, Run. Every step is all-or-nothing: any
// failure tears down the instances created so far and leaves no partial
// runtime behind.
func (k *Kernel) Start(ctx context.Context, paths ...string) error {
	if err := k.start(ctx, paths...); err != nil {
		k.teardown(ctxlog.WithLogger(ctx, k.logger))
		return err
	}
	return nil
}

func (k *Kernel) start(ctx context.Context, paths ...string) error {
	ctx = ctxlog.WithLogger(ctx, k.logger)
	if err := k.emitLifecycle(ctx, EventStarting); err != nil {
		return err
	}

	// Load.
	raw, err := k.loader.Load(ctx, paths...)
	if err != nil {
		return fmt.Errorf("loading resources: %w", err)
	}
	k.logger.Debug("Resources loaded.", "count", len(raw))

	// Resolve: dependency order, template expansion, registry-wide
	// expression resolution.
	ordered, err := order.Sort(raw)
	if err != nil {
		return fmt.Errorf("ordering resources: %w", err)
	}
	expanded, err := k.engine.ExpandAll(ctx, ordered)
	if err != nil {
		return fmt.Errorf("expanding templates: %w", err)
	}
	k.logger.Debug("Templates expanded.", "count", len(expanded))

	// Register.
	for _, res := range expanded {
		if err := k.register(res); err != nil {
			return err
		}
	}
	if err := k.engine.ResolveRegistry(ctx, k.resources, k.env); err != nil {
		return fmt.Errorf("resolving expressions: %w", err)
	}
	k.logger.Debug("Registry populated and resolved.", "count", k.resources.Len())

	// Multi-pass controller discovery, then the run phase in creation
	// order.
	if err := k.discover(ctx); err != nil {
		return err
	}
	k.booted = true

	for _, m := range k.created {
		runner, ok := m.inst.(controller.Runner)
		if !ok {
			continue
		}
		if err := runner.Run(ctx); err != nil {
			return fmt.Errorf("running %s: %w", m.res.FQN(), err)
		}
	}

	return k.emitLifecycle(ctx, EventStarted)
}

// Shutdown tears every remaining instance down in strict reverse creation
// order. Resources registered dynamically from a parent's Init were
// created after their parent, so the reverse walk destroys children
// strictly before parents.
func (k *Kernel) Shutdown(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, k.logger)
	if err := k.emitLifecycle(ctx, EventStopping); err != nil {
		k.logger.Error("Runtime.Stopping emission failed.", "error", err)
	}
	k.teardown(ctx)
	return k.emitLifecycle(ctx, EventStopped)
}

func (k *Kernel) teardown(ctx context.Context) {
	for i := len(k.created) - 1; i >= 0; i-- {
		m := k.created[i]
		if td, ok := m.inst.(controller.Teardowner); ok {
			if err := td.Teardown(ctx); err != nil {
				k.logger.Error("Teardown failed.", "resource", m.res.FQN(), "error", err)
			}
		}
		if err := k.emitResourceLifecycle(ctx, m.res.Kind, m.res.Meta.Name, eventTeardown); err != nil {
			k.logger.Error("Teardown event emission failed.", "resource", m.res.FQN(), "error", err)
		}
		delete(k.byRef, m.res.FQN())
	}
	k.created = nil
}

// register inserts one resource into the registry and records definition
// resources with the controller registry.
func (k *Kernel) register(res *resource.Resource) error {
	if err := k.resources.Register(res); err != nil {
		return err
	}
	if res.Kind == controller.KindResourceDefinition {
		def, err := controller.DefinitionFromResource(res)
		if err != nil {
			return err
		}
		if err := k.controllers.AddDefinition(def); err != nil {
			return err
		}
	}
	return nil
}
