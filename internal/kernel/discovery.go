package kernel

import (
	"context"
	"fmt"

	"github.com/vk/manifold/internal/controller"
	"github.com/vk/manifold/internal/resource"
)

// discover runs the multi-pass controller discovery loop. Each pass walks
// the not-yet-instantiated resources in their stable order; a resource is
// removed from the set once its controller created (and initialized) it.
// A pass that handles nothing ends discovery early. Resources registered
// dynamically by an instance's Init join the set between passes.
func (k *Kernel) discover(ctx context.Context) error {
	unhandled := make([]*resource.Resource, 0, k.resources.Len())
	unhandled = append(unhandled, k.resources.All()...)
	lastErr := make(map[string]error)

	k.discovering = true
	defer func() { k.discovering = false }()

	passes := 0
	limitBound := false
	for pass := 1; pass <= k.opts.MaxDiscoveryPasses; pass++ {
		passes = pass
		unhandled = append(unhandled, k.drainPending()...)
		if len(unhandled) == 0 {
			break
		}

		handled := 0
		// The set is filtered, never re-sorted, so relative order among
		// resources is preserved across passes.
		still := unhandled[:0]
		for _, res := range unhandled {
			ok, err := k.adopt(ctx, res)
			if err != nil {
				lastErr[res.FQN()] = err
				still = append(still, res)
				continue
			}
			if !ok {
				if _, seen := lastErr[res.FQN()]; !seen {
					lastErr[res.FQN()] = fmt.Errorf("%w %q", ErrControllerMissing, res.Kind)
				}
				still = append(still, res)
				continue
			}
			handled++
		}
		unhandled = still

		k.logger.Debug("Discovery pass complete.", "pass", pass, "handled", handled, "remaining", len(unhandled))
		if handled == 0 {
			break
		}
		if pass == k.opts.MaxDiscoveryPasses && len(unhandled) > 0 {
			limitBound = true
		}
	}

	unhandled = append(unhandled, k.drainPending()...)
	if len(unhandled) > 0 {
		derr := &DiscoveryError{Passes: passes, LimitBound: limitBound}
		for _, res := range unhandled {
			err, ok := lastErr[res.FQN()]
			if !ok {
				err = fmt.Errorf("%w %q", ErrControllerMissing, res.Kind)
			}
			derr.Unresolved = append(derr.Unresolved, UnresolvedResource{Ref: res.FQN(), Err: err})
		}
		return derr
	}
	return nil
}

// adopt attempts to hand one resource to its controller. It returns false
// with no error when the controller is simply not available yet.
func (k *Kernel) adopt(ctx context.Context, res *resource.Resource) (bool, error) {
	// Created on an earlier pass whose Initialized announcement failed.
	// Only the announcement is outstanding; the instance must never be
	// created, initialized, or torn down twice.
	if _, done := k.byRef[res.FQN()]; done {
		if err := k.emitResourceLifecycle(ctx, res.Kind, res.Meta.Name, eventInitialized); err != nil {
			return false, err
		}
		return true, nil
	}

	ctl, ok, err := k.controllers.Lookup(res.Kind)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	rc := k.context()
	if ctl.Register != nil && !k.registered[ctl.Kind] {
		if err := ctl.Register(ctx, rc); err != nil {
			return false, fmt.Errorf("controller register for kind %q: %w", ctl.Kind, err)
		}
		k.registered[ctl.Kind] = true
	}

	target := res
	if ctl.Compile != nil {
		compiled, err := ctl.Compile(ctx, res, rc)
		if err != nil {
			return false, fmt.Errorf("compiling %s: %w", res.FQN(), err)
		}
		if compiled != nil {
			target = compiled
		}
	}

	if ctl.Schema != nil {
		if err := ctl.Schema.Validate(target.Fields); err != nil {
			return false, fmt.Errorf("validating %s: %w", res.FQN(), err)
		}
	}

	m := &managed{res: res, ctl: ctl}
	if ctl.Create != nil {
		inst, err := ctl.Create(ctx, target, rc)
		if err != nil {
			return false, fmt.Errorf("creating %s: %w", res.FQN(), err)
		}
		m.inst = inst
	}

	k.created = append(k.created, m)
	k.byRef[res.FQN()] = m

	if init, ok := m.inst.(controller.Initializer); ok {
		if err := init.Init(ctx); err != nil {
			// Roll the record back so a later pass may retry cleanly.
			k.created = k.created[:len(k.created)-1]
			delete(k.byRef, res.FQN())
			return false, fmt.Errorf("initializing %s: %w", res.FQN(), err)
		}
	}
	if m.inst != nil {
		// The managed record stays in place on an announcement failure:
		// the next pass retries the emission alone via the byRef check
		// above instead of repeating the whole lifecycle.
		if err := k.emitResourceLifecycle(ctx, res.Kind, res.Meta.Name, eventInitialized); err != nil {
			return false, err
		}
	}
	return true, nil
}

// drainPending collects resources registered dynamically since the last
// pass.
func (k *Kernel) drainPending() []*resource.Resource {
	out := k.pending
	k.pending = nil
	return out
}
