// Package controller defines the contract between the kernel and the
// external implementations bound to resource Kinds, and the registry that
// maps Kinds to controllers.
//
// A controller is a capability set: any subset of Register, Create,
// Compile, and Execute may be present. The capabilities are declared as
// optional struct fields and resolved once at load time rather than probed
// per call.
package controller

import (
	"context"
	"log/slog"

	"github.com/vk/manifold/internal/resource"
	"github.com/vk/manifold/internal/schema"
)

// Instance is the live object a controller returns from Create. Optional
// behavior is expressed through the capability interfaces below.
type Instance any

// Initializer is implemented by instances needing initialization during
// discovery, immediately after creation.
type Initializer interface {
	Init(ctx context.Context) error
}

// Runner is implemented by instances with a run phase. A long-lived
// instance typically acquires a hold inside Run before serving.
type Runner interface {
	Run(ctx context.Context) error
}

// Invoker is implemented by instances that accept dispatched invocations.
type Invoker interface {
	Invoke(ctx context.Context, input any) (any, error)
}

// Teardowner is implemented by instances needing cleanup at shutdown.
type Teardowner interface {
	Teardown(ctx context.Context) error
}

// Snapshotter is implemented by instances contributing state to
// point-in-time snapshots.
type Snapshotter interface {
	Snapshot() any
}

// ResourceContext is the capability surface the kernel passes into every
// controller call.
type ResourceContext interface {
	// Evaluate resolves one expression against the registry-wide scope.
	// The request-time namespaces (request, result) are never bound here;
	// an expression needing them returns an error.
	Evaluate(src string) (any, error)
	// RegisterResource dynamically registers a resource. When called from
	// an instance's Init, the new resource joins the current discovery
	// loop and is torn down before its registering parent.
	RegisterResource(res *resource.Resource) error
	// AcquireHold increments the process keepalive counter. The returned
	// release function is idempotent.
	AcquireHold(reason string) (release func())
	// Invoke dispatches to another resource by "Kind.Name" reference.
	Invoke(ctx context.Context, ref string, input any) (any, error)
	// EmitEvent publishes a custom resource event. The Initialized and
	// Teardown event names are reserved for the kernel.
	EmitEvent(ctx context.Context, kind, name, event string, payload any) error
	// Lookup fetches a registered resource.
	Lookup(kind, name string) (*resource.Resource, bool)
	// Logger returns the kernel's logger.
	Logger() *slog.Logger
}

// Controller binds behavior to one Kind. Every func field is optional.
type Controller struct {
	// Kind is the fully qualified Kind this controller claims.
	Kind string
	// Schema validates resources of this Kind before creation. A nil
	// schema inherits the owning definition's schema by wrapping.
	Schema *schema.Schema
	// Register runs once when the controller is first bound.
	Register func(ctx context.Context, rc ResourceContext) error
	// Create builds the live instance for one resource. A nil instance
	// with a nil error marks the resource handled without runtime state.
	Create func(ctx context.Context, res *resource.Resource, rc ResourceContext) (Instance, error)
	// Compile optionally transforms a resource before validation and
	// creation; returning nil keeps the resource unchanged.
	Compile func(ctx context.Context, res *resource.Resource, rc ResourceContext) (*resource.Resource, error)
	// Execute handles dispatched operations for resources of this Kind
	// whose instances do not implement Invoker themselves.
	Execute func(ctx context.Context, name string, input any, rc ResourceContext) (any, error)
}

// Entrypoint lazily constructs a controller. Entrypoints are declared on
// ResourceDefinition resources and resolved on first access.
type Entrypoint func() *Controller

// Module is the interface bundled controller packages implement to bind
// their controllers and entrypoints before boot.
type Module interface {
	Register(r *Registry) error
}
