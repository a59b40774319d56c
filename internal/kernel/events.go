package kernel

import (
	"context"
	"fmt"
)

// Lifecycle event names emitted by the kernel.
const (
	EventStarting  = "Runtime.Starting"
	EventStarted   = "Runtime.Started"
	EventBlocked   = "Runtime.Blocked"
	EventUnblocked = "Runtime.Unblocked"
	EventStopping  = "Runtime.Stopping"
	EventStopped   = "Runtime.Stopped"
)

// Per-kind lifecycle event suffixes. These names are reserved and cannot
// be emitted as custom resource events.
const (
	eventInitialized = "Initialized"
	eventTeardown    = "Teardown"
)

// ResourceEvent is the payload of per-resource lifecycle and custom
// events.
type ResourceEvent struct {
	Kind    string
	Name    string
	Payload any
}

// emitLifecycle publishes a runtime lifecycle event. A failing subscriber
// fails the emission, which in turn fails the boot phase that emitted it.
func (k *Kernel) emitLifecycle(ctx context.Context, name string) error {
	if err := k.bus.Emit(ctx, name, nil); err != nil {
		return fmt.Errorf("emitting %s: %w", name, err)
	}
	return nil
}

// emitResourceLifecycle publishes <Kind>.<Event> for one resource.
func (k *Kernel) emitResourceLifecycle(ctx context.Context, kind, name, event string) error {
	payload := ResourceEvent{Kind: kind, Name: name}
	if err := k.bus.Emit(ctx, kind+"."+event, payload); err != nil {
		return fmt.Errorf("emitting %s.%s for %s.%s: %w", kind, event, kind, name, err)
	}
	return nil
}

// EmitResourceEvent publishes a custom event on behalf of a resource,
// namespaced <Kind>.<Event>. The kernel's per-resource lifecycle names are
// reserved.
func (k *Kernel) EmitResourceEvent(ctx context.Context, kind, name, event string, payload any) error {
	if event == eventInitialized || event == eventTeardown {
		return fmt.Errorf("%w: %s", ErrReservedEvent, event)
	}
	return k.bus.Emit(ctx, kind+"."+event, ResourceEvent{Kind: kind, Name: name, Payload: payload})
}
