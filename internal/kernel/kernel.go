// Package kernel orchestrates the resource runtime: it drives the boot
// state machine (load, resolve, register, discover, run), owns the event
// bus and the hold counter, and exposes the dispatch entry point.
//
// The kernel is domain-agnostic. Everything it knows about behavior comes
// from controllers bound to resource Kinds.
package kernel

import (
	"context"
	"log/slog"
	"os"
	"sync"

	"github.com/vk/manifold/internal/controller"
	"github.com/vk/manifold/internal/eventbus"
	"github.com/vk/manifold/internal/expr"
	"github.com/vk/manifold/internal/registry"
	"github.com/vk/manifold/internal/resource"
	"github.com/vk/manifold/internal/template"
)

// Loader obtains the raw resources for a boot. The bundled implementation
// reads manifest files; tests substitute in-memory loaders.
type Loader interface {
	Load(ctx context.Context, paths ...string) ([]*resource.Resource, error)
}

// Options bounds and wires one Kernel instance. The pass limits are
// configurable because their defaults interact: deeply nested
// configurations where resolved values feed discovery may need more
// passes than either default allows.
type Options struct {
	// Logger receives all kernel logging. Defaults to slog.Default().
	Logger *slog.Logger
	// MaxExpansionDepth caps recursive template nesting. Default 10.
	MaxExpansionDepth int
	// MaxExpansionPasses caps the template expansion loop. Default 10.
	MaxExpansionPasses int
	// MaxResolvePasses caps the registry-wide expression resolution
	// fixed-point loop. Default 5.
	MaxResolvePasses int
	// MaxDiscoveryPasses caps the multi-pass controller discovery loop.
	// Default 10.
	MaxDiscoveryPasses int
	// EnvAllowlist names the environment variables exposed to
	// expressions under the "env" namespace.
	EnvAllowlist []string
}

// managed is one resource the kernel has handed to its controller,
// recorded in creation order.
type managed struct {
	res  *resource.Resource
	ctl  *controller.Controller
	inst controller.Instance
}

// Kernel is a single resource runtime instance. All registries and the
// hold counter live on the instance, never as ambient global state, so
// multiple kernels stay independently testable.
type Kernel struct {
	opts   Options
	logger *slog.Logger
	loader Loader

	resources   *registry.Registry
	controllers *controller.Registry
	eval        *expr.Evaluator
	engine      *template.Engine
	bus         *eventbus.Bus
	env         map[string]string

	// Boot state. Mutated only by the kernel's single control flow.
	created     []*managed
	byRef       map[string]*managed
	pending     []*resource.Resource
	discovering bool
	booted      bool
	registered  map[string]bool

	// Hold/keepalive state.
	holdMu  sync.Mutex
	holds   int
	waiters []chan struct{}
}

// New creates a Kernel around a loader. Built-in controllers for the
// reserved TemplateDefinition and ResourceDefinition kinds are registered
// immediately.
func New(loader Loader, opts Options) *Kernel {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MaxDiscoveryPasses <= 0 {
		opts.MaxDiscoveryPasses = 10
	}

	eval := expr.New()
	k := &Kernel{
		opts:        opts,
		logger:      opts.Logger,
		loader:      loader,
		resources:   registry.New(),
		controllers: controller.NewRegistry(),
		eval:        eval,
		engine: template.NewEngine(eval, template.Config{
			MaxDepth:      opts.MaxExpansionDepth,
			MaxPasses:     opts.MaxExpansionPasses,
			ResolvePasses: opts.MaxResolvePasses,
		}),
		bus:        eventbus.New(),
		byRef:      make(map[string]*managed),
		registered: make(map[string]bool),
		env:        make(map[string]string, len(opts.EnvAllowlist)),
	}
	for _, name := range opts.EnvAllowlist {
		if v, ok := os.LookupEnv(name); ok {
			k.env[name] = v
		}
	}
	registerBuiltins(k.controllers)
	return k
}

// Controllers exposes the controller registry so embedders can bind their
// controllers and entrypoints before boot.
func (k *Kernel) Controllers() *controller.Registry {
	return k.controllers
}

// Resources exposes the resource registry for introspection.
func (k *Kernel) Resources() *registry.Registry {
	return k.resources
}

// Bus exposes the event bus for lifecycle and custom event subscriptions.
func (k *Kernel) Bus() *eventbus.Bus {
	return k.bus
}
