package template

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/zclconf/go-cty/cty"

	"github.com/vk/manifold/internal/ctxlog"
	"github.com/vk/manifold/internal/expr"
	"github.com/vk/manifold/internal/registry"
	"github.com/vk/manifold/internal/resource"
)

// UnresolvedError reports expressions whose identifiers were still absent
// after the resolution pass limit, excluding deferred namespaces.
type UnresolvedError struct {
	Passes      int
	LimitBound  bool
	Expressions []string
}

// Error implements the error interface.
func (e *UnresolvedError) Error() string {
	msg := fmt.Sprintf("unresolved expressions after %d resolution passes: %s",
		e.Passes, strings.Join(e.Expressions, "; "))
	if e.LimitBound {
		msg += " (the pass limit was reached before a fixed point; raising ResolvePasses may help)"
	}
	return msg
}

// ResolveRegistry runs the registry-wide expression resolution pass: every
// registered resource is exposed in a namespace tree built by splitting
// its Kind on dots, plus the allow-listed environment variables under
// "env". Fields are re-resolved up to the configured number of fixed-point
// passes, stopping early once a pass changes nothing.
//
// Deferred expressions (request/result namespaces) are left untouched;
// any other unresolved identifier is fatal after the final pass.
func (e *Engine) ResolveRegistry(ctx context.Context, reg *registry.Registry, env map[string]string) error {
	logger := ctxlog.FromContext(ctx)

	limitBound := true
	passes := 0
	for pass := 1; pass <= e.resolvePasses; pass++ {
		passes = pass
		scope, err := buildRegistryScope(reg, env)
		if err != nil {
			return err
		}
		changed := false
		for _, res := range reg.All() {
			ch, err := e.resolveResource(res, scope)
			if err != nil {
				return fmt.Errorf("resolving %s: %w", res.FQN(), err)
			}
			changed = changed || ch
		}
		logger.Debug("Registry resolution pass complete.", "pass", pass, "changed", changed)
		if !changed {
			limitBound = false
			break
		}
	}

	scope, err := buildRegistryScope(reg, env)
	if err != nil {
		return err
	}
	var problems []string
	for _, res := range reg.All() {
		collectUnknown(e.eval, res.FQN(), resourceWalkRoot(res), scope, &problems)
	}
	if len(problems) > 0 {
		sort.Strings(problems)
		return &UnresolvedError{Passes: passes, LimitBound: limitBound, Expressions: problems}
	}
	return nil
}

// Evaluate resolves a single expression (bare, or wrapped in ${{ }})
// against the registry-wide scope. Deferred expressions are reported as
// unavailable rather than invalid, and unknown identifiers as undefined.
func (e *Engine) Evaluate(src string, reg *registry.Registry, env map[string]string) (any, error) {
	scope, err := buildRegistryScope(reg, env)
	if err != nil {
		return nil, err
	}

	if !expr.HasInterpolation(src) {
		outcome, err := e.eval.Eval(src, scope)
		if err != nil {
			return nil, err
		}
		switch outcome.State {
		case expr.Deferred:
			return nil, fmt.Errorf("expression %q needs request-time data that is not available", src)
		case expr.Unknown:
			return nil, fmt.Errorf("expression %q references undefined identifiers: %s",
				src, strings.Join(outcome.Missing, ", "))
		}
		return expr.FromCty(outcome.Value)
	}

	res, err := e.eval.Interpolate(src, scope)
	if err != nil {
		return nil, err
	}
	switch res.State {
	case expr.Deferred:
		return nil, fmt.Errorf("expression %q needs request-time data that is not available", src)
	case expr.Unknown:
		return nil, fmt.Errorf("expression %q references undefined identifiers: %s",
			src, strings.Join(res.Missing, ", "))
	}
	return res.Value, nil
}

// resolveResource resolves the free-form fields of one resource in place,
// reporting whether anything changed.
func (e *Engine) resolveResource(res *resource.Resource, scope map[string]cty.Value) (bool, error) {
	changed := false
	for k, v := range res.Fields {
		if res.Kind == KindTemplateDefinition && (k == "resources" || k == "schema") {
			continue
		}
		nv, ch, err := e.resolveTracked(v, scope)
		if err != nil {
			return changed, err
		}
		if ch {
			res.Fields[k] = nv
			changed = true
		}
	}
	return changed, nil
}

// resolveTracked is resolveValue plus change tracking for the fixed-point
// loop.
func (e *Engine) resolveTracked(v any, scope map[string]cty.Value) (any, bool, error) {
	switch t := v.(type) {
	case string:
		res, err := e.eval.Interpolate(t, scope)
		if err != nil {
			return nil, false, err
		}
		return res.Value, res.Changed, nil
	case []any:
		changed := false
		out := make([]any, len(t))
		for i, item := range t {
			nv, ch, err := e.resolveTracked(item, scope)
			if err != nil {
				return nil, false, err
			}
			out[i] = nv
			changed = changed || ch
		}
		return out, changed, nil
	case map[string]any, map[any]any:
		m, _ := resource.NormalizeMap(t)
		changed := false
		out := make(map[string]any, len(m))
		for k, item := range m {
			nv, ch, err := e.resolveTracked(item, scope)
			if err != nil {
				return nil, false, err
			}
			out[k] = nv
			changed = changed || ch
		}
		return out, changed, nil
	default:
		return v, false, nil
	}
}

// resourceWalkRoot returns the parts of a resource subject to resolution.
func resourceWalkRoot(res *resource.Resource) map[string]any {
	if res.Kind != KindTemplateDefinition {
		return res.Fields
	}
	out := make(map[string]any, len(res.Fields))
	for k, v := range res.Fields {
		if k == "resources" || k == "schema" {
			continue
		}
		out[k] = v
	}
	return out
}

// collectUnknown records every interpolation left in a non-deferred state
// after the final pass: identifiers absent from the scope, and fields the
// pass limit cut off mid-resolution. Deferred expressions are intentionally
// not collected.
func collectUnknown(eval *expr.Evaluator, fqn string, v any, scope map[string]cty.Value, problems *[]string) {
	switch t := v.(type) {
	case string:
		if !expr.HasInterpolation(t) {
			return
		}
		res, err := eval.Interpolate(t, scope)
		if err != nil {
			*problems = append(*problems, fmt.Sprintf("%s: %v", fqn, err))
			return
		}
		switch res.State {
		case expr.Unknown:
			*problems = append(*problems, fmt.Sprintf("%s: %q references undefined identifiers: %s",
				fqn, t, strings.Join(res.Missing, ", ")))
		case expr.Resolved:
			// Still resolvable means the fixed-point loop stopped before
			// this field converged: only the pass limit can cause that.
			*problems = append(*problems, fmt.Sprintf("%s: %q was still being resolved when the pass limit was reached", fqn, t))
		}
	case []any:
		for _, item := range t {
			collectUnknown(eval, fqn, item, scope, problems)
		}
	case map[string]any, map[any]any:
		m, _ := resource.NormalizeMap(t)
		for _, item := range m {
			collectUnknown(eval, fqn, item, scope, problems)
		}
	}
}

// buildRegistryScope nests every registered resource under the namespace
// path of its dot-split Kind, keyed by name at the leaf, and exposes the
// environment allowlist under "env".
func buildRegistryScope(reg *registry.Registry, env map[string]string) (map[string]cty.Value, error) {
	tree := make(map[string]any)
	for _, res := range reg.All() {
		node := tree
		for _, seg := range resource.KindSegments(res.Kind) {
			child, ok := node[seg].(map[string]any)
			if !ok {
				child = make(map[string]any)
				node[seg] = child
			}
			node = child
		}
		node[res.Meta.Name] = resourceScopeValue(res)
	}

	if len(env) > 0 {
		envNode := make(map[string]any, len(env))
		for k, v := range env {
			envNode[k] = v
		}
		tree["env"] = envNode
	}

	scope := make(map[string]cty.Value, len(tree))
	for root, node := range tree {
		cv, err := expr.ToCty(node)
		if err != nil {
			return nil, fmt.Errorf("building evaluation scope for namespace %q: %w", root, err)
		}
		scope[root] = cv
	}
	return scope, nil
}

// resourceScopeValue is the view of one resource inside the evaluation
// scope: its free-form fields plus a metadata block.
func resourceScopeValue(res *resource.Resource) map[string]any {
	out := make(map[string]any, len(res.Fields)+1)
	for k, v := range res.Fields {
		out[k] = v
	}
	out["metadata"] = map[string]any{
		"name":   res.Meta.Name,
		"module": res.Meta.Module,
		"uri":    res.Meta.URI,
	}
	return out
}
