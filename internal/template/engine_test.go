package template

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/manifold/internal/expr"
	"github.com/vk/manifold/internal/resource"
)

func newTestEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	return NewEngine(expr.New(), cfg)
}

func mustResource(t *testing.T, doc map[string]any) *resource.Resource {
	t.Helper()
	r, err := resource.FromDoc(doc)
	require.NoError(t, err)
	require.NoError(t, r.Validate())
	return r
}

// regionTemplate declares a template producing one X resource per region,
// with a defaulted parameter.
func regionTemplate(t *testing.T) *resource.Resource {
	t.Helper()
	return mustResource(t, map[string]any{
		"kind":     KindTemplateDefinition,
		"metadata": map[string]any{"name": "Region"},
		"schema": map[string]any{
			"properties": map[string]any{
				"regions": map[string]any{"type": "array", "default": []any{"a", "b"}},
			},
		},
		"resources": []any{
			map[string]any{
				"for":      "r in regions",
				"kind":     "X",
				"metadata": map[string]any{"name": "${{ r }}"},
				"region":   "${{ r }}",
			},
		},
	})
}

func instRes(t *testing.T, kind, name string, fields map[string]any) *resource.Resource {
	t.Helper()
	doc := map[string]any{
		"kind":     kind,
		"metadata": map[string]any{"name": name, "uri": "stack.yaml#0", "source": "stack.yaml"},
	}
	for k, v := range fields {
		doc[k] = v
	}
	return mustResource(t, doc)
}

func TestExpandAll(t *testing.T) {
	ctx := context.Background()

	t.Run("loop over a defaulted parameter", func(t *testing.T) {
		e := newTestEngine(t, Config{})
		out, err := e.ExpandAll(ctx, []*resource.Resource{
			regionTemplate(t),
			instRes(t, "Region", "my", nil),
		})
		require.NoError(t, err)
		// The definition stays; the instantiation is replaced by one X per
		// default region.
		require.Len(t, out, 3)
		assert.Equal(t, KindTemplateDefinition, out[0].Kind)
		assert.Equal(t, "X", out[1].Kind)
		assert.Equal(t, "X", out[2].Kind)
	})

	t.Run("produced resources carry provenance", func(t *testing.T) {
		e := newTestEngine(t, Config{})
		out, err := e.ExpandAll(ctx, []*resource.Resource{
			regionTemplate(t),
			instRes(t, "Region", "my", nil),
		})
		require.NoError(t, err)

		var produced []*resource.Resource
		for _, r := range out {
			if r.Kind == "X" {
				produced = append(produced, r)
			}
		}
		require.Len(t, produced, 2)

		assert.Equal(t, "a", produced[0].Meta.Name)
		assert.Equal(t, "a", produced[0].Fields["region"])
		assert.Equal(t, "b", produced[1].Meta.Name)
		assert.Equal(t, 1, produced[0].Meta.GenerationDepth)
		assert.Equal(t, "stack.yaml#0/X.a", produced[0].Meta.URI)
		assert.Equal(t, "stack.yaml", produced[0].Meta.Source)
	})

	t.Run("caller parameters override schema defaults", func(t *testing.T) {
		e := newTestEngine(t, Config{})
		out, err := e.ExpandAll(ctx, []*resource.Resource{
			regionTemplate(t),
			instRes(t, "Region", "my", map[string]any{"regions": []any{"only"}}),
		})
		require.NoError(t, err)

		var produced []*resource.Resource
		for _, r := range out {
			if r.Kind == "X" {
				produced = append(produced, r)
			}
		}
		require.Len(t, produced, 1)
		assert.Equal(t, "only", produced[0].Meta.Name)
	})

	t.Run("nested loops expand outer to inner", func(t *testing.T) {
		tmpl := mustResource(t, map[string]any{
			"kind":     KindTemplateDefinition,
			"metadata": map[string]any{"name": "Grid"},
			"schema": map[string]any{
				"properties": map[string]any{
					"rows": map[string]any{"default": []any{"r1", "r2"}},
					"cols": map[string]any{"default": []any{"c1", "c2", "c3"}},
				},
			},
			"resources": []any{
				map[string]any{
					"for":      []any{"row in rows", "col in cols"},
					"kind":     "Cell",
					"metadata": map[string]any{"name": "${{ row }}-${{ col }}"},
				},
			},
		})
		e := newTestEngine(t, Config{})
		out, err := e.ExpandAll(ctx, []*resource.Resource{tmpl, instRes(t, "Grid", "g", nil)})
		require.NoError(t, err)

		var names []string
		for _, r := range out {
			if r.Kind == "Cell" {
				names = append(names, r.Meta.Name)
			}
		}
		want := []string{
			"r1-c1", "r1-c2", "r1-c3",
			"r2-c1", "r2-c2", "r2-c3",
		}
		if diff := cmp.Diff(want, names); diff != "" {
			t.Errorf("expansion order mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("falsy if guard drops the blueprint", func(t *testing.T) {
		tmpl := mustResource(t, map[string]any{
			"kind":     KindTemplateDefinition,
			"metadata": map[string]any{"name": "Guarded"},
			"schema": map[string]any{
				"properties": map[string]any{
					"debug": map[string]any{"type": "bool", "default": false},
				},
			},
			"resources": []any{
				map[string]any{
					"kind":     "Always",
					"metadata": map[string]any{"name": "on"},
				},
				map[string]any{
					"if":       "${{ debug }}",
					"kind":     "Debug",
					"metadata": map[string]any{"name": "probe"},
				},
			},
		})
		e := newTestEngine(t, Config{})
		out, err := e.ExpandAll(ctx, []*resource.Resource{tmpl, instRes(t, "Guarded", "g", nil)})
		require.NoError(t, err)

		kinds := map[string]bool{}
		for _, r := range out {
			kinds[r.Kind] = true
		}
		assert.True(t, kinds["Always"])
		assert.False(t, kinds["Debug"])
	})

	t.Run("truthy if guard keeps the blueprint", func(t *testing.T) {
		tmpl := mustResource(t, map[string]any{
			"kind":     KindTemplateDefinition,
			"metadata": map[string]any{"name": "Guarded"},
			"schema": map[string]any{
				"properties": map[string]any{
					"count": map[string]any{"type": "number", "default": 2},
				},
			},
			"resources": []any{
				map[string]any{
					"if":       "count > 1",
					"kind":     "Debug",
					"metadata": map[string]any{"name": "probe"},
				},
			},
		})
		e := newTestEngine(t, Config{})
		out, err := e.ExpandAll(ctx, []*resource.Resource{tmpl, instRes(t, "Guarded", "g", nil)})
		require.NoError(t, err)

		found := false
		for _, r := range out {
			if r.Kind == "Debug" {
				found = true
			}
		}
		assert.True(t, found)
	})

	t.Run("guard on an unknown identifier is fatal", func(t *testing.T) {
		tmpl := mustResource(t, map[string]any{
			"kind":     KindTemplateDefinition,
			"metadata": map[string]any{"name": "Bad"},
			"resources": []any{
				map[string]any{
					"if":       "${{ nope }}",
					"kind":     "X",
					"metadata": map[string]any{"name": "a"},
				},
			},
		})
		e := newTestEngine(t, Config{})
		_, err := e.ExpandAll(ctx, []*resource.Resource{tmpl, instRes(t, "Bad", "b", nil)})
		assert.ErrorContains(t, err, "undefined identifiers")
	})

	t.Run("unknown identifiers in plain fields survive expansion", func(t *testing.T) {
		tmpl := mustResource(t, map[string]any{
			"kind":     KindTemplateDefinition,
			"metadata": map[string]any{"name": "Linked"},
			"resources": []any{
				map[string]any{
					"kind":     "X",
					"metadata": map[string]any{"name": "a"},
					"peer":     "${{ X.other.port }}",
				},
			},
		})
		e := newTestEngine(t, Config{})
		out, err := e.ExpandAll(ctx, []*resource.Resource{tmpl, instRes(t, "Linked", "l", nil)})
		require.NoError(t, err)

		for _, r := range out {
			if r.Kind == "X" {
				assert.Equal(t, "${{ X.other.port }}", r.Fields["peer"])
			}
		}
	})

	t.Run("missing required parameter fails instantiation", func(t *testing.T) {
		tmpl := mustResource(t, map[string]any{
			"kind":     KindTemplateDefinition,
			"metadata": map[string]any{"name": "Strict"},
			"schema": map[string]any{
				"properties": map[string]any{
					"size": map[string]any{"type": "number", "required": true},
				},
			},
			"resources": []any{
				map[string]any{"kind": "X", "metadata": map[string]any{"name": "a"}},
			},
		})
		e := newTestEngine(t, Config{})
		_, err := e.ExpandAll(ctx, []*resource.Resource{tmpl, instRes(t, "Strict", "s", nil)})
		assert.ErrorContains(t, err, `missing required parameter "size"`)
	})

	t.Run("blueprint without a name is a blueprint error", func(t *testing.T) {
		tmpl := mustResource(t, map[string]any{
			"kind":     KindTemplateDefinition,
			"metadata": map[string]any{"name": "Broken"},
			"resources": []any{
				map[string]any{"kind": "X"},
			},
		})
		e := newTestEngine(t, Config{})
		_, err := e.ExpandAll(ctx, []*resource.Resource{tmpl, instRes(t, "Broken", "b", nil)})
		var bpErr *BlueprintError
		require.ErrorAs(t, err, &bpErr)
		assert.Equal(t, "Broken", bpErr.Template)
		assert.Equal(t, 0, bpErr.Index)
	})

	t.Run("self-recursive template hits the depth limit", func(t *testing.T) {
		tmpl := mustResource(t, map[string]any{
			"kind":     KindTemplateDefinition,
			"metadata": map[string]any{"name": "Loop"},
			"resources": []any{
				map[string]any{"kind": "Loop", "metadata": map[string]any{"name": "again"}},
			},
		})
		e := newTestEngine(t, Config{MaxDepth: 3})
		_, err := e.ExpandAll(ctx, []*resource.Resource{tmpl, instRes(t, "Loop", "start", nil)})
		var depthErr *DepthError
		require.ErrorAs(t, err, &depthErr)
		assert.Equal(t, "Loop", depthErr.Template)
		assert.Equal(t, 3, depthErr.Limit)
	})

	t.Run("deep nesting within the limit succeeds", func(t *testing.T) {
		// A chain of templates, each instantiating the next.
		var resources []*resource.Resource
		resources = append(resources, mustResource(t, map[string]any{
			"kind":     KindTemplateDefinition,
			"metadata": map[string]any{"name": "L3"},
			"resources": []any{
				map[string]any{"kind": "Leaf", "metadata": map[string]any{"name": "done"}},
			},
		}))
		resources = append(resources, mustResource(t, map[string]any{
			"kind":     KindTemplateDefinition,
			"metadata": map[string]any{"name": "L2"},
			"resources": []any{
				map[string]any{"kind": "L3", "metadata": map[string]any{"name": "three"}},
			},
		}))
		resources = append(resources, mustResource(t, map[string]any{
			"kind":     KindTemplateDefinition,
			"metadata": map[string]any{"name": "L1"},
			"resources": []any{
				map[string]any{"kind": "L2", "metadata": map[string]any{"name": "two"}},
			},
		}))
		resources = append(resources, instRes(t, "L1", "one", nil))

		e := newTestEngine(t, Config{MaxDepth: 3})
		out, err := e.ExpandAll(ctx, resources)
		require.NoError(t, err)

		var leaf *resource.Resource
		for _, r := range out {
			if r.Kind == "Leaf" {
				leaf = r
			}
		}
		require.NotNil(t, leaf)
		assert.Equal(t, 3, leaf.Meta.GenerationDepth)
		assert.Equal(t, "stack.yaml#0/L2.two/L3.three/Leaf.done", leaf.Meta.URI)
	})

	t.Run("templates produced by templates expand on a later pass", func(t *testing.T) {
		// Maker emits a TemplateDefinition whose own instantiation already
		// sits in the resource list.
		maker := mustResource(t, map[string]any{
			"kind":     KindTemplateDefinition,
			"metadata": map[string]any{"name": "Maker"},
			"resources": []any{
				map[string]any{
					"kind":     KindTemplateDefinition,
					"metadata": map[string]any{"name": "Inner"},
					"resources": []any{
						map[string]any{
							"kind":     "Y",
							"metadata": map[string]any{"name": "${{ label }}"},
						},
					},
					"schema": map[string]any{
						"properties": map[string]any{
							"label": map[string]any{"type": "string", "required": true},
						},
					},
				},
			},
		})
		e := newTestEngine(t, Config{})
		out, err := e.ExpandAll(ctx, []*resource.Resource{
			maker,
			instRes(t, "Maker", "mk", nil),
			instRes(t, "Inner", "use", map[string]any{"label": "made"}),
		})
		require.NoError(t, err)

		var y *resource.Resource
		for _, r := range out {
			if r.Kind == "Y" {
				y = r
			}
		}
		require.NotNil(t, y, "the emitted template must become instantiable on the next pass")
		assert.Equal(t, "made", y.Meta.Name)
	})

	t.Run("nested template definitions keep their bodies literal", func(t *testing.T) {
		maker := mustResource(t, map[string]any{
			"kind":     KindTemplateDefinition,
			"metadata": map[string]any{"name": "Maker"},
			"schema": map[string]any{
				"properties": map[string]any{
					"label": map[string]any{"type": "string", "default": "outer"},
				},
			},
			"resources": []any{
				map[string]any{
					"kind":     KindTemplateDefinition,
					"metadata": map[string]any{"name": "Inner"},
					"schema": map[string]any{
						"properties": map[string]any{
							"label": map[string]any{"type": "string", "required": true},
						},
					},
					"resources": []any{
						map[string]any{
							"kind":     "Y",
							"metadata": map[string]any{"name": "${{ label }}"},
						},
					},
				},
			},
		})
		e := newTestEngine(t, Config{})
		out, err := e.ExpandAll(ctx, []*resource.Resource{
			maker,
			instRes(t, "Maker", "mk", nil),
			instRes(t, "Inner", "use", map[string]any{"label": "inner-wins"}),
		})
		require.NoError(t, err)

		// If Maker's expansion had interpolated Inner's body, the produced Y
		// would be named "outer" instead of the inner parameter.
		var y *resource.Resource
		for _, r := range out {
			if r.Kind == "Y" {
				y = r
			}
		}
		require.NotNil(t, y)
		assert.Equal(t, "inner-wins", y.Meta.Name)
	})

	t.Run("pass limit reports the stuck instantiations", func(t *testing.T) {
		maker := mustResource(t, map[string]any{
			"kind":     KindTemplateDefinition,
			"metadata": map[string]any{"name": "Maker"},
			"resources": []any{
				map[string]any{
					"kind":     KindTemplateDefinition,
					"metadata": map[string]any{"name": "Inner"},
					"resources": []any{
						map[string]any{"kind": "Y", "metadata": map[string]any{"name": "y"}},
					},
				},
			},
		})
		e := newTestEngine(t, Config{MaxPasses: 1})
		_, err := e.ExpandAll(ctx, []*resource.Resource{
			maker,
			instRes(t, "Maker", "mk", nil),
			instRes(t, "Inner", "use", nil),
		})
		var incomplete *IncompleteError
		require.ErrorAs(t, err, &incomplete)
		assert.Equal(t, 1, incomplete.Passes)
		assert.Contains(t, incomplete.Remaining, "Inner.use")
	})

	t.Run("module-qualified template names resolve", func(t *testing.T) {
		tmpl := mustResource(t, map[string]any{
			"kind":     KindTemplateDefinition,
			"metadata": map[string]any{"name": "Region", "module": "Net"},
			"resources": []any{
				map[string]any{"kind": "X", "metadata": map[string]any{"name": "a"}},
			},
		})
		inst := mustResource(t, map[string]any{
			"kind":     "Net.Region",
			"metadata": map[string]any{"name": "my", "module": "Net", "uri": "stack.yaml#0"},
		})
		e := newTestEngine(t, Config{})
		out, err := e.ExpandAll(ctx, []*resource.Resource{tmpl, inst})
		require.NoError(t, err)

		found := false
		for _, r := range out {
			if r.Kind == "X" {
				found = true
				assert.Equal(t, "Net", r.Meta.Module, "produced resources inherit the instantiation module")
			}
		}
		assert.True(t, found)
	})

	t.Run("no templates is a no-op", func(t *testing.T) {
		plain := mustResource(t, map[string]any{
			"kind": "X", "metadata": map[string]any{"name": "a"},
		})
		e := newTestEngine(t, Config{})
		out, err := e.ExpandAll(ctx, []*resource.Resource{plain})
		require.NoError(t, err)
		require.Len(t, out, 1)
		assert.Same(t, plain, out[0])
	})
}

func TestDefinitionFromResource(t *testing.T) {
	t.Run("rejects a missing resources list", func(t *testing.T) {
		r := mustResource(t, map[string]any{
			"kind":     KindTemplateDefinition,
			"metadata": map[string]any{"name": "Empty"},
		})
		_, err := DefinitionFromResource(r)
		assert.ErrorContains(t, err, "missing resources list")
	})

	t.Run("rejects non-template kinds", func(t *testing.T) {
		r := mustResource(t, map[string]any{
			"kind": "X", "metadata": map[string]any{"name": "a"},
		})
		_, err := DefinitionFromResource(r)
		assert.Error(t, err)
	})

	t.Run("qualified name includes the module", func(t *testing.T) {
		d := &Definition{Name: "Region", Module: "Net"}
		assert.Equal(t, "Net.Region", d.QualifiedName())
		d.Module = ""
		assert.Equal(t, "Region", d.QualifiedName())
	})
}
