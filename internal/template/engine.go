package template

import (
	"context"
	"fmt"
	"strings"

	"github.com/zclconf/go-cty/cty"

	"github.com/vk/manifold/internal/ctxlog"
	"github.com/vk/manifold/internal/expr"
	"github.com/vk/manifold/internal/resource"
)

// Engine expands templates into concrete resources.
type Engine struct {
	eval          *expr.Evaluator
	maxDepth      int
	maxPasses     int
	resolvePasses int
}

// Config bounds the engine's expansion and resolution loops. Zero fields
// take the documented defaults.
type Config struct {
	// MaxDepth caps recursive template nesting. Default 10.
	MaxDepth int
	// MaxPasses caps the top-level expansion passes. Default 10.
	MaxPasses int
	// ResolvePasses caps the registry-wide fixed-point resolution passes.
	// Default 5.
	ResolvePasses int
}

// NewEngine creates an Engine around the given evaluator.
func NewEngine(eval *expr.Evaluator, cfg Config) *Engine {
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = 10
	}
	if cfg.MaxPasses <= 0 {
		cfg.MaxPasses = 10
	}
	if cfg.ResolvePasses <= 0 {
		cfg.ResolvePasses = 5
	}
	return &Engine{
		eval:          eval,
		maxDepth:      cfg.MaxDepth,
		maxPasses:     cfg.MaxPasses,
		resolvePasses: cfg.ResolvePasses,
	}
}

// ExpandAll replaces every template instantiation in the list with its
// expansion, re-scanning until no instantiation remains. Templates emitted
// by an expansion become instantiable on the following pass.
func (e *Engine) ExpandAll(ctx context.Context, resources []*resource.Resource) ([]*resource.Resource, error) {
	logger := ctxlog.FromContext(ctx)
	out := resources

	for pass := 1; pass <= e.maxPasses; pass++ {
		cat, err := buildCatalog(out)
		if err != nil {
			return nil, err
		}

		changed := false
		next := make([]*resource.Resource, 0, len(out))
		for _, r := range out {
			def := cat.lookup(r.Kind)
			if def == nil {
				next = append(next, r)
				continue
			}
			changed = true
			logger.Debug("Expanding template instantiation.", "template", def.QualifiedName(), "instance", r.Meta.Name, "pass", pass)
			produced, err := e.instantiateResource(ctx, def, cat, r)
			if err != nil {
				return nil, err
			}
			next = append(next, produced...)
		}
		out = next
		if !changed {
			return out, nil
		}
	}

	cat, err := buildCatalog(out)
	if err != nil {
		return nil, err
	}
	var remaining []string
	for _, r := range out {
		if cat.lookup(r.Kind) != nil {
			remaining = append(remaining, r.FQN())
		}
	}
	if len(remaining) > 0 {
		return nil, &IncompleteError{Passes: e.maxPasses, Remaining: remaining}
	}
	return out, nil
}

// instantiateResource expands one instantiation resource: its non-reserved
// fields become template parameters, its name the instance name.
func (e *Engine) instantiateResource(ctx context.Context, def *Definition, cat catalog, inst *resource.Resource) ([]*resource.Resource, error) {
	lineage := inst.Meta.URI
	if lineage == "" {
		lineage = inst.FQN()
	}
	return e.Instantiate(ctx, def, cat, instantiation{
		params:      resource.DeepCopyMap(inst.Fields),
		name:        inst.Meta.Name,
		module:      inst.Meta.Module,
		source:      inst.Meta.Source,
		parentDepth: inst.Meta.GenerationDepth,
		lineage:     lineage,
	})
}

// instantiation carries the parameters of one template expansion.
type instantiation struct {
	params      map[string]any
	name        string
	module      string
	source      string
	parentDepth int
	lineage     string
}

// Instantiate expands a template with the given parameters into concrete
// resources, recursing into nested instantiations with an explicit depth
// counter.
func (e *Engine) Instantiate(ctx context.Context, def *Definition, cat catalog, in instantiation) ([]*resource.Resource, error) {
	if in.parentDepth >= e.maxDepth {
		return nil, &DepthError{Template: def.QualifiedName(), Depth: in.parentDepth + 1, Limit: e.maxDepth}
	}

	if err := def.Schema.Validate(in.params); err != nil {
		return nil, fmt.Errorf("instantiating template %s as %q: %w", def.QualifiedName(), in.name, err)
	}

	// Schema defaults merged under the caller-supplied parameters.
	merged := def.Schema.Defaults()
	for k, v := range in.params {
		merged[k] = v
	}
	scope := make(map[string]cty.Value, len(merged))
	for k, v := range merged {
		cv, err := expr.ToCty(v)
		if err != nil {
			return nil, fmt.Errorf("template %s: parameter %q: %w", def.QualifiedName(), k, err)
		}
		scope[k] = cv
	}

	var out []*resource.Resource
	for i, bp := range def.Blueprints {
		docs, err := e.expandBlueprint(ctx, bp, scope)
		if err != nil {
			return nil, fmt.Errorf("template %s, blueprint %d: %w", def.QualifiedName(), i, err)
		}
		for _, doc := range docs {
			res, err := resource.FromDoc(doc)
			if err != nil {
				return nil, &BlueprintError{Template: def.QualifiedName(), Index: i, Reason: err.Error()}
			}
			if res.Kind == "" {
				return nil, &BlueprintError{Template: def.QualifiedName(), Index: i, Reason: "missing kind"}
			}
			if res.Meta.Name == "" {
				return nil, &BlueprintError{Template: def.QualifiedName(), Index: i, Reason: "missing metadata.name"}
			}

			res.Meta.GenerationDepth = in.parentDepth + 1
			res.Meta.URI = in.lineage + "/" + res.FQN()
			if res.Meta.Module == "" {
				res.Meta.Module = in.module
			}
			if res.Meta.Source == "" {
				res.Meta.Source = in.source
			}

			// A produced resource may itself be an instantiation of a
			// template already known in this pass; recurse immediately so
			// nesting depth is enforced where it occurs.
			if nested := cat.lookup(res.Kind); nested != nil {
				children, err := e.instantiateResource(ctx, nested, cat, res)
				if err != nil {
					return nil, err
				}
				out = append(out, children...)
				continue
			}
			out = append(out, res)
		}
	}
	return out, nil
}

// expandBlueprint applies the fixed expansion order to one blueprint:
// the "if" guard first, then "for" loops outer to inner, then field
// interpolation.
func (e *Engine) expandBlueprint(ctx context.Context, bp map[string]any, scope map[string]cty.Value) ([]map[string]any, error) {
	if rawIf, ok := bp["if"]; ok {
		enabled, err := e.evalGuard(rawIf, scope)
		if err != nil {
			return nil, err
		}
		if !enabled {
			return nil, nil
		}
		bp = withoutKey(bp, "if")
	}

	if rawFor, ok := bp["for"]; ok {
		clauses, err := decodeForDirective(rawFor)
		if err != nil {
			return nil, err
		}
		rest := withoutKey(bp, "for")
		return e.expandLoops(ctx, rest, clauses, scope)
	}

	doc, err := e.resolveValue(bp, scope, true)
	if err != nil {
		return nil, err
	}
	docMap, _ := resource.NormalizeMap(doc)
	return []map[string]any{docMap}, nil
}

// expandLoops recurses through the loop clauses outer to inner,
// concatenating one expansion per binding.
func (e *Engine) expandLoops(ctx context.Context, bp map[string]any, clauses []*expr.ForClause, scope map[string]cty.Value) ([]map[string]any, error) {
	if len(clauses) == 0 {
		return e.expandBlueprint(ctx, bp, scope)
	}
	bindings, err := e.eval.Bindings(clauses[0], scope)
	if err != nil {
		return nil, err
	}
	var out []map[string]any
	for _, binding := range bindings {
		extended := make(map[string]cty.Value, len(scope)+len(binding))
		for k, v := range scope {
			extended[k] = v
		}
		for k, v := range binding {
			extended[k] = v
		}
		docs, err := e.expandLoops(ctx, bp, clauses[1:], extended)
		if err != nil {
			return nil, err
		}
		out = append(out, docs...)
	}
	return out, nil
}

// evalGuard evaluates an "if" directive. Boolean literals pass through;
// strings are evaluated as expressions (a bare expression or a single
// ${{ }} wrapper). Unknown identifiers in control flow are fatal.
func (e *Engine) evalGuard(raw any, scope map[string]cty.Value) (bool, error) {
	switch t := raw.(type) {
	case bool:
		return t, nil
	case string:
		src := strings.TrimSpace(t)
		if strings.HasPrefix(src, "${{") && strings.HasSuffix(src, "}}") {
			src = strings.TrimSpace(src[3 : len(src)-2])
		}
		outcome, err := e.eval.Eval(src, scope)
		if err != nil {
			return false, err
		}
		switch outcome.State {
		case expr.Deferred:
			return false, fmt.Errorf("if guard %q references deferred request-time data", t)
		case expr.Unknown:
			return false, fmt.Errorf("if guard %q references undefined identifiers: %s",
				t, strings.Join(outcome.Missing, ", "))
		}
		return expr.Truthy(outcome.Value)
	default:
		return false, fmt.Errorf("if guard must be a bool or an expression string, got %T", raw)
	}
}

// decodeForDirective accepts a single clause or an ordered list of clauses
// (outer loop first).
func decodeForDirective(raw any) ([]*expr.ForClause, error) {
	switch t := raw.(type) {
	case string:
		clause, err := expr.ParseFor(t)
		if err != nil {
			return nil, err
		}
		return []*expr.ForClause{clause}, nil
	case []any:
		var out []*expr.ForClause
		for _, item := range t {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("for directive entries must be strings, got %T", item)
			}
			clause, err := expr.ParseFor(s)
			if err != nil {
				return nil, err
			}
			out = append(out, clause)
		}
		if len(out) == 0 {
			return nil, fmt.Errorf("for directive list is empty")
		}
		return out, nil
	default:
		return nil, fmt.Errorf("for directive must be a string or list of strings, got %T", raw)
	}
}

// resolveValue walks a field tree resolving string interpolations.
// Interpolations whose identifiers are deferred or absent from the scope
// are left untouched for the registry-wide pass (or request time).
//
// topLevel guards the TemplateDefinition literal rule: the resources and
// schema fields of a nested template stay untouched until that template's
// own instantiation.
func (e *Engine) resolveValue(v any, scope map[string]cty.Value, topLevel bool) (any, error) {
	switch t := v.(type) {
	case string:
		res, err := e.eval.Interpolate(t, scope)
		if err != nil {
			return nil, err
		}
		return res.Value, nil
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			rv, err := e.resolveValue(item, scope, false)
			if err != nil {
				return nil, err
			}
			out[i] = rv
		}
		return out, nil
	case map[string]any, map[any]any:
		m, _ := resource.NormalizeMap(t)
		isTemplate := topLevel && m["kind"] == KindTemplateDefinition
		out := make(map[string]any, len(m))
		for k, item := range m {
			if isTemplate && (k == "resources" || k == "schema") {
				out[k] = resource.DeepCopyValue(item)
				continue
			}
			rv, err := e.resolveValue(item, scope, false)
			if err != nil {
				return nil, err
			}
			out[k] = rv
		}
		return out, nil
	default:
		return v, nil
	}
}

func withoutKey(m map[string]any, key string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if k == key {
			continue
		}
		out[k] = v
	}
	return out
}
