// Package expr evaluates the manifest expression language: ${{ ... }}
// interpolations and the "x in expr" loop grammar. Expressions are HCL
// native syntax evaluated against a cty scope.
//
// Evaluation has three first-class outcomes rather than two: an expression
// can resolve to a value, be deferred (its identifiers only exist at
// request or invocation time), or reference identifiers unknown to the
// current scope. Callers decide whether Unknown is fatal; Deferred never is.
package expr

import (
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"
)

// State classifies the outcome of an evaluation.
type State int

const (
	// Resolved means the expression produced a value.
	Resolved State = iota
	// Deferred means the expression references a deferred namespace
	// (request-time data) and was intentionally left unevaluated.
	Deferred
	// Unknown means the expression references identifiers absent from
	// the scope and outside the deferred allowlist.
	Unknown
)

// Outcome is the result of evaluating a single expression.
type Outcome struct {
	State State
	// Value is set only when State is Resolved.
	Value cty.Value
	// Missing lists the unknown identifier roots when State is Unknown.
	Missing []string
}

// Evaluator owns the function table and the deferred-namespace allowlist.
type Evaluator struct {
	funcs         map[string]function.Function
	deferredRoots map[string]struct{}
}

// Option mutates an Evaluator under construction.
type Option func(*Evaluator)

// WithDeferredRoots replaces the default deferred namespace allowlist.
func WithDeferredRoots(roots ...string) Option {
	return func(e *Evaluator) {
		e.deferredRoots = make(map[string]struct{}, len(roots))
		for _, r := range roots {
			e.deferredRoots[r] = struct{}{}
		}
	}
}

// New creates an Evaluator with the standard function table and the
// default deferred roots ("request", "result").
func New(opts ...Option) *Evaluator {
	e := &Evaluator{
		funcs: map[string]function.Function{
			"abs":      stdlib.AbsoluteFunc,
			"coalesce": stdlib.CoalesceFunc,
			"concat":   stdlib.ConcatFunc,
			"element":  stdlib.ElementFunc,
			"flatten":  stdlib.FlattenFunc,
			"format":   stdlib.FormatFunc,
			"int":      stdlib.IntFunc,
			"keys":     stdlib.KeysFunc,
			"length":   stdlib.LengthFunc,
			"lower":    stdlib.LowerFunc,
			"max":      stdlib.MaxFunc,
			"merge":    stdlib.MergeFunc,
			"min":      stdlib.MinFunc,
			"range":    stdlib.RangeFunc,
			"strlen":   stdlib.StrlenFunc,
			"substr":   stdlib.SubstrFunc,
			"upper":    stdlib.UpperFunc,
			"values":   stdlib.ValuesFunc,
		},
		deferredRoots: map[string]struct{}{
			"request": {},
			"result":  {},
		},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Eval parses and evaluates a single expression against the scope.
// Syntax errors and evaluation failures are returned as errors; missing
// identifiers are reported through the Outcome state instead.
func (e *Evaluator) Eval(src string, scope map[string]cty.Value) (Outcome, error) {
	parsed, diags := hclsyntax.ParseExpression([]byte(src), "expression", hcl.Pos{Line: 1, Column: 1})
	if diags.HasErrors() {
		return Outcome{}, fmt.Errorf("invalid expression %q: %s", src, diags.Error())
	}

	unknown := make(map[string]struct{})
	deferred := false
	for _, traversal := range parsed.Variables() {
		root := traversal.RootName()
		if _, ok := scope[root]; ok {
			continue
		}
		if _, ok := e.deferredRoots[root]; ok {
			deferred = true
			continue
		}
		unknown[root] = struct{}{}
	}
	if len(unknown) > 0 {
		return Outcome{State: Unknown, Missing: sortedKeys(unknown)}, nil
	}
	if deferred {
		return Outcome{State: Deferred}, nil
	}

	val, diags := parsed.Value(&hcl.EvalContext{
		Variables: scope,
		Functions: e.funcs,
	})
	if diags.HasErrors() {
		return Outcome{}, fmt.Errorf("evaluating %q: %s", src, diags.Error())
	}
	return Outcome{State: Resolved, Value: val}, nil
}

// Truthy reports whether a guard value enables its blueprint. A null is
// falsy; a bool is itself; anything else is an error rather than a guess.
func Truthy(v cty.Value) (bool, error) {
	if v.IsNull() {
		return false, nil
	}
	if v.Type() == cty.Bool {
		return v.True(), nil
	}
	return false, fmt.Errorf("guard expression must be a bool, got %s", v.Type().FriendlyName())
}
