package kernel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/manifold/internal/controller"
	"github.com/vk/manifold/internal/resource"
	"github.com/vk/manifold/internal/schema"
)

func strictSchema() *schema.Schema {
	return &schema.Schema{Required: []string{"size"}}
}

// stubLoader supplies a fixed resource list to the boot sequence.
type stubLoader struct {
	resources []*resource.Resource
	err       error
}

func (s *stubLoader) Load(ctx context.Context, paths ...string) ([]*resource.Resource, error) {
	return s.resources, s.err
}

// recorder collects ordered lifecycle observations from probe instances.
type recorder struct {
	mu  sync.Mutex
	log []string
}

func (r *recorder) add(entry string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.log = append(r.log, entry)
}

func (r *recorder) entries() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.log...)
}

// probe is a full-capability instance used to observe kernel sequencing.
type probe struct {
	name    string
	rec     *recorder
	initErr error
	runErr  error
}

func (p *probe) Init(ctx context.Context) error {
	p.rec.add("init " + p.name)
	return p.initErr
}

func (p *probe) Run(ctx context.Context) error {
	p.rec.add("run " + p.name)
	return p.runErr
}

func (p *probe) Teardown(ctx context.Context) error {
	p.rec.add("teardown " + p.name)
	return nil
}

func probeController(kind string, rec *recorder) *controller.Controller {
	return &controller.Controller{
		Kind: kind,
		Create: func(ctx context.Context, res *resource.Resource, rc controller.ResourceContext) (controller.Instance, error) {
			return &probe{name: res.Meta.Name, rec: rec}, nil
		},
	}
}

func plain(kind, name string, fields map[string]any) *resource.Resource {
	return &resource.Resource{Kind: kind, Meta: resource.Metadata{Name: name}, Fields: fields}
}

func TestStart(t *testing.T) {
	ctx := context.Background()

	t.Run("boots, runs in creation order, tears down in reverse", func(t *testing.T) {
		rec := &recorder{}
		k := New(&stubLoader{resources: []*resource.Resource{
			plain("Probe", "first", nil),
			plain("Probe", "second", nil),
		}}, Options{})
		require.NoError(t, k.Controllers().RegisterController(probeController("Probe", rec)))

		require.NoError(t, k.Start(ctx))
		require.NoError(t, k.Shutdown(ctx))

		assert.Equal(t, []string{
			"init first", "init second",
			"run first", "run second",
			"teardown second", "teardown first",
		}, rec.entries())
	})

	t.Run("lifecycle events frame the boot", func(t *testing.T) {
		rec := &recorder{}
		k := New(&stubLoader{}, Options{})
		for _, name := range []string{EventStarting, EventStarted, EventStopping, EventStopped} {
			k.Bus().Subscribe(name, func(event string) func(context.Context, any) error {
				return func(context.Context, any) error {
					rec.add(event)
					return nil
				}
			}(name))
		}

		require.NoError(t, k.Start(ctx))
		require.NoError(t, k.Shutdown(ctx))
		assert.Equal(t, []string{EventStarting, EventStarted, EventStopping, EventStopped}, rec.entries())
	})

	t.Run("a failing lifecycle subscriber fails the boot", func(t *testing.T) {
		k := New(&stubLoader{}, Options{})
		boom := errors.New("boom")
		k.Bus().Subscribe(EventStarting, func(context.Context, any) error { return boom })
		assert.ErrorIs(t, k.Start(ctx), boom)
	})

	t.Run("initialized events fire per created instance", func(t *testing.T) {
		rec := &recorder{}
		k := New(&stubLoader{resources: []*resource.Resource{
			plain("Probe", "a", nil),
		}}, Options{})
		require.NoError(t, k.Controllers().RegisterController(probeController("Probe", rec)))

		k.Bus().Subscribe("Probe.Initialized", func(_ context.Context, payload any) error {
			ev, ok := payload.(ResourceEvent)
			require.True(t, ok)
			rec.add("event " + ev.Kind + "." + ev.Name)
			return nil
		})

		require.NoError(t, k.Start(ctx))
		assert.Contains(t, rec.entries(), "event Probe.a")
	})

	t.Run("a load failure aborts the boot", func(t *testing.T) {
		k := New(&stubLoader{err: errors.New("disk gone")}, Options{})
		assert.ErrorContains(t, k.Start(ctx), "loading resources")
	})

	t.Run("a run failure surfaces the resource", func(t *testing.T) {
		rec := &recorder{}
		k := New(&stubLoader{resources: []*resource.Resource{
			plain("Probe", "bad", nil),
		}}, Options{})
		require.NoError(t, k.Controllers().RegisterController(&controller.Controller{
			Kind: "Probe",
			Create: func(ctx context.Context, res *resource.Resource, rc controller.ResourceContext) (controller.Instance, error) {
				return &probe{name: res.Meta.Name, rec: rec, runErr: errors.New("bind refused")}, nil
			},
		}))
		assert.ErrorContains(t, k.Start(ctx), "running Probe.bad")
	})

	t.Run("a failed boot tears down what it created", func(t *testing.T) {
		rec := &recorder{}
		k := New(&stubLoader{resources: []*resource.Resource{
			plain("Probe", "good", nil),
			plain("Unclaimed", "o", nil),
		}}, Options{})
		require.NoError(t, k.Controllers().RegisterController(probeController("Probe", rec)))

		err := k.Start(ctx)
		var derr *DiscoveryError
		require.ErrorAs(t, err, &derr)
		assert.Equal(t, []string{"init good", "teardown good"}, rec.entries())
		assert.Empty(t, k.created)
	})

	t.Run("duplicate identities are fatal", func(t *testing.T) {
		rec := &recorder{}
		k := New(&stubLoader{resources: []*resource.Resource{
			plain("Probe", "a", nil),
			plain("Probe", "a", nil),
		}}, Options{})
		require.NoError(t, k.Controllers().RegisterController(probeController("Probe", rec)))
		assert.ErrorContains(t, k.Start(ctx), "duplicate resource Probe.a")
	})

	t.Run("templates expand and cross references resolve before discovery", func(t *testing.T) {
		rec := &recorder{}
		tmpl := &resource.Resource{
			Kind: "TemplateDefinition",
			Meta: resource.Metadata{Name: "Pair"},
			Fields: map[string]any{
				"schema": map[string]any{
					"properties": map[string]any{
						"names": map[string]any{"type": "array", "default": []any{"a", "b"}},
					},
				},
				"resources": []any{
					map[string]any{
						"for":      "n in names",
						"kind":     "Probe",
						"metadata": map[string]any{"name": "${{ n }}"},
						"peer":     "${{ Anchor.base.port }}",
					},
				},
			},
		}
		anchor := plain("Anchor", "base", map[string]any{"port": 8080})
		inst := plain("Pair", "mine", nil)

		k := New(&stubLoader{resources: []*resource.Resource{tmpl, anchor, inst}}, Options{})
		require.NoError(t, k.Controllers().RegisterController(probeController("Probe", rec)))
		require.NoError(t, k.Controllers().RegisterController(&controller.Controller{Kind: "Anchor"}))

		require.NoError(t, k.Start(ctx))

		a, ok := k.Resources().Get("Probe", "a")
		require.True(t, ok)
		assert.Equal(t, 8080, a.Fields["peer"])
		assert.Equal(t, 1, a.Meta.GenerationDepth)
		_, ok = k.Resources().Get("Pair", "mine")
		assert.False(t, ok, "the instantiation is replaced by its expansion")
	})
}

func TestDiscovery(t *testing.T) {
	ctx := context.Background()

	t.Run("a resource with no controller fails discovery", func(t *testing.T) {
		k := New(&stubLoader{resources: []*resource.Resource{
			plain("Orphan", "o", nil),
		}}, Options{})

		err := k.Start(ctx)
		var derr *DiscoveryError
		require.ErrorAs(t, err, &derr)
		require.Len(t, derr.Unresolved, 1)
		assert.Equal(t, "Orphan.o", derr.Unresolved[0].Ref)
		assert.ErrorIs(t, derr.Unresolved[0].Err, ErrControllerMissing)
	})

	t.Run("the latest creation error is reported per resource", func(t *testing.T) {
		k := New(&stubLoader{resources: []*resource.Resource{
			plain("Flaky", "f", nil),
		}}, Options{MaxDiscoveryPasses: 3})
		attempt := 0
		require.NoError(t, k.Controllers().RegisterController(&controller.Controller{
			Kind: "Flaky",
			Create: func(ctx context.Context, res *resource.Resource, rc controller.ResourceContext) (controller.Instance, error) {
				attempt++
				return nil, fmt.Errorf("attempt %d failed", attempt)
			},
		}))

		err := k.Start(ctx)
		var derr *DiscoveryError
		require.ErrorAs(t, err, &derr)
		require.Len(t, derr.Unresolved, 1)
		assert.ErrorContains(t, derr.Unresolved[0].Err, "attempt 1 failed",
			"a pass that handles nothing ends discovery early")
	})

	t.Run("a definition registered from Init resolves later resources", func(t *testing.T) {
		rec := &recorder{}
		// The widget resource precedes its seeder, so pass one cannot
		// resolve it: the seeder's Init registers the definition and pass
		// two picks the widget up through the entrypoint.
		k := New(&stubLoader{resources: []*resource.Resource{
			plain("Widget", "w1", nil),
			plain("Seeder", "s", nil),
		}}, Options{})

		require.NoError(t, k.Controllers().RegisterEntrypoint("widget", func() *controller.Controller {
			return probeController("", rec)
		}))
		require.NoError(t, k.Controllers().RegisterController(&controller.Controller{
			Kind: "Seeder",
			Create: func(ctx context.Context, res *resource.Resource, rc controller.ResourceContext) (controller.Instance, error) {
				return &seeder{rc: rc, rec: rec}, nil
			},
		}))

		require.NoError(t, k.Start(ctx))

		_, ok := k.Resources().Get(controller.KindResourceDefinition, "Widget")
		assert.True(t, ok, "the dynamically registered definition resource is in the registry")
		assert.Contains(t, rec.entries(), "init w1")
	})

	t.Run("dynamically registered children tear down before their parent", func(t *testing.T) {
		rec := &recorder{}
		k := New(&stubLoader{resources: []*resource.Resource{
			plain("Parent", "p", nil),
		}}, Options{})
		require.NoError(t, k.Controllers().RegisterController(probeController("Child", rec)))
		require.NoError(t, k.Controllers().RegisterController(&controller.Controller{
			Kind: "Parent",
			Create: func(ctx context.Context, res *resource.Resource, rc controller.ResourceContext) (controller.Instance, error) {
				return &spawner{name: res.Meta.Name, rc: rc, rec: rec}, nil
			},
		}))

		require.NoError(t, k.Start(ctx))
		require.NoError(t, k.Shutdown(ctx))

		entries := rec.entries()
		parentDown := indexOf(t, entries, "teardown p")
		childDown := indexOf(t, entries, "teardown kid")
		assert.Less(t, childDown, parentDown, "children are destroyed strictly before parents")
	})

	t.Run("controller register hooks run once per kind", func(t *testing.T) {
		rec := &recorder{}
		registered := 0
		k := New(&stubLoader{resources: []*resource.Resource{
			plain("Probe", "a", nil),
			plain("Probe", "b", nil),
		}}, Options{})
		ctl := probeController("Probe", rec)
		ctl.Register = func(ctx context.Context, rc controller.ResourceContext) error {
			registered++
			return nil
		}
		require.NoError(t, k.Controllers().RegisterController(ctl))

		require.NoError(t, k.Start(ctx))
		assert.Equal(t, 1, registered)
	})

	t.Run("a handled resource without runtime state gets no initialized event", func(t *testing.T) {
		fired := false
		k := New(&stubLoader{resources: []*resource.Resource{
			plain("Stateless", "s", nil),
		}}, Options{})
		require.NoError(t, k.Controllers().RegisterController(&controller.Controller{
			Kind: "Stateless",
			Create: func(ctx context.Context, res *resource.Resource, rc controller.ResourceContext) (controller.Instance, error) {
				return nil, nil
			},
		}))
		k.Bus().Subscribe("Stateless.Initialized", func(context.Context, any) error {
			fired = true
			return nil
		})

		require.NoError(t, k.Start(ctx))
		assert.False(t, fired)
	})

	t.Run("compile output replaces the resource for validation and create", func(t *testing.T) {
		var seen map[string]any
		k := New(&stubLoader{resources: []*resource.Resource{
			plain("Compiled", "c", map[string]any{"raw": "x"}),
		}}, Options{})
		require.NoError(t, k.Controllers().RegisterController(&controller.Controller{
			Kind: "Compiled",
			Compile: func(ctx context.Context, res *resource.Resource, rc controller.ResourceContext) (*resource.Resource, error) {
				out := res.Clone()
				out.Fields["cooked"] = true
				return out, nil
			},
			Create: func(ctx context.Context, res *resource.Resource, rc controller.ResourceContext) (controller.Instance, error) {
				seen = res.Fields
				return nil, nil
			},
		}))

		require.NoError(t, k.Start(ctx))
		assert.Equal(t, true, seen["cooked"])
	})

	t.Run("schema validation failures block adoption", func(t *testing.T) {
		rec := &recorder{}
		k := New(&stubLoader{resources: []*resource.Resource{
			plain("Strict", "s", nil),
		}}, Options{})
		ctl := probeController("Strict", rec)
		ctl.Schema = strictSchema()
		require.NoError(t, k.Controllers().RegisterController(ctl))

		err := k.Start(ctx)
		var derr *DiscoveryError
		require.ErrorAs(t, err, &derr)
		assert.ErrorContains(t, derr.Unresolved[0].Err, "missing required parameter")
	})

	t.Run("a failed initialized announcement retries without re-creating", func(t *testing.T) {
		rec := &recorder{}
		creates := 0
		k := New(&stubLoader{resources: []*resource.Resource{
			plain("Flaky", "f", nil),
			plain("Probe", "ok", nil),
		}}, Options{})
		require.NoError(t, k.Controllers().RegisterController(&controller.Controller{
			Kind: "Flaky",
			Create: func(ctx context.Context, res *resource.Resource, rc controller.ResourceContext) (controller.Instance, error) {
				creates++
				return &probe{name: res.Meta.Name, rec: rec}, nil
			},
		}))
		require.NoError(t, k.Controllers().RegisterController(probeController("Probe", rec)))

		announced := 0
		k.Bus().Subscribe("Flaky.Initialized", func(context.Context, any) error {
			announced++
			if announced == 1 {
				return errors.New("listener hiccup")
			}
			return nil
		})

		require.NoError(t, k.Start(ctx))
		require.NoError(t, k.Shutdown(ctx))

		assert.Equal(t, 1, creates, "create must not repeat for an announcement retry")
		assert.Equal(t, 2, announced)
		assert.Equal(t, []string{
			"init f", "init ok",
			"run f", "run ok",
			"teardown ok", "teardown f",
		}, rec.entries())
	})

	t.Run("an init failure rolls back for retry and reports last", func(t *testing.T) {
		rec := &recorder{}
		k := New(&stubLoader{resources: []*resource.Resource{
			plain("Probe", "p", nil),
		}}, Options{})
		require.NoError(t, k.Controllers().RegisterController(&controller.Controller{
			Kind: "Probe",
			Create: func(ctx context.Context, res *resource.Resource, rc controller.ResourceContext) (controller.Instance, error) {
				return &probe{name: res.Meta.Name, rec: rec, initErr: errors.New("not ready")}, nil
			},
		}))

		err := k.Start(ctx)
		var derr *DiscoveryError
		require.ErrorAs(t, err, &derr)
		assert.ErrorContains(t, derr.Unresolved[0].Err, "not ready")
		assert.Empty(t, k.created, "a failed init leaves no managed record behind")
	})
}

// seeder registers a Widget definition from its Init.
type seeder struct {
	rc  controller.ResourceContext
	rec *recorder
}

func (s *seeder) Init(ctx context.Context) error {
	s.rec.add("init seeder")
	return s.rc.RegisterResource(&resource.Resource{
		Kind:   controller.KindResourceDefinition,
		Meta:   resource.Metadata{Name: "Widget"},
		Fields: map[string]any{"entrypoint": "widget"},
	})
}

// spawner registers a child resource of an already-bound kind from Init.
type spawner struct {
	name string
	rc   controller.ResourceContext
	rec  *recorder
}

func (s *spawner) Init(ctx context.Context) error {
	s.rec.add("init " + s.name)
	return s.rc.RegisterResource(&resource.Resource{
		Kind: "Child",
		Meta: resource.Metadata{Name: "kid"},
	})
}

func (s *spawner) Teardown(ctx context.Context) error {
	s.rec.add("teardown " + s.name)
	return nil
}

func indexOf(t *testing.T, entries []string, want string) int {
	t.Helper()
	for i, e := range entries {
		if e == want {
			return i
		}
	}
	t.Fatalf("entry %q not found in %v", want, entries)
	return -1
}
