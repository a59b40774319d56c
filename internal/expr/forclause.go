package expr

import (
	"fmt"
	"strings"

	"github.com/zclconf/go-cty/cty"
)

// ForClause is one parsed loop directive: "x in expr" or "k, v in expr".
type ForClause struct {
	// Vars holds one or two loop variable names.
	Vars []string
	// Collection is the raw source of the collection expression.
	Collection string
}

// InvalidForTargetError reports a loop whose collection expression did not
// evaluate to an iterable value.
type InvalidForTargetError struct {
	Expr string
	Type string
}

// Error implements the error interface.
func (e *InvalidForTargetError) Error() string {
	return fmt.Sprintf("for target %q is not iterable (got %s)", e.Expr, e.Type)
}

// ParseFor parses a single loop directive.
func ParseFor(src string) (*ForClause, error) {
	idx := strings.Index(src, " in ")
	if idx < 0 {
		return nil, fmt.Errorf("invalid for clause %q: want \"<id> in <expr>\" or \"<id>, <id> in <expr>\"", src)
	}
	head := strings.TrimSpace(src[:idx])
	coll := strings.TrimSpace(src[idx+len(" in "):])
	if coll == "" {
		return nil, fmt.Errorf("invalid for clause %q: empty collection expression", src)
	}

	var vars []string
	for _, v := range strings.Split(head, ",") {
		v = strings.TrimSpace(v)
		if !isIdentifier(v) {
			return nil, fmt.Errorf("invalid for clause %q: %q is not an identifier", src, v)
		}
		vars = append(vars, v)
	}
	if len(vars) < 1 || len(vars) > 2 {
		return nil, fmt.Errorf("invalid for clause %q: want one or two loop variables, got %d", src, len(vars))
	}
	return &ForClause{Vars: vars, Collection: coll}, nil
}

// Bindings evaluates the clause's collection against the scope and returns
// one variable binding set per iteration, in collection order.
//
// Arrays bind the single variable to each element; with two variables the
// first is the index and the second the element. Maps and objects bind
// key (single variable) or key and value.
func (e *Evaluator) Bindings(clause *ForClause, scope map[string]cty.Value) ([]map[string]cty.Value, error) {
	outcome, err := e.Eval(clause.Collection, scope)
	if err != nil {
		return nil, err
	}
	switch outcome.State {
	case Deferred:
		return nil, fmt.Errorf("for target %q references deferred request-time data", clause.Collection)
	case Unknown:
		return nil, fmt.Errorf("for target %q references undefined identifiers: %s",
			clause.Collection, strings.Join(outcome.Missing, ", "))
	}

	val := outcome.Value
	if val.IsNull() {
		return nil, &InvalidForTargetError{Expr: clause.Collection, Type: "null"}
	}

	ty := val.Type()
	switch {
	case ty.IsTupleType() || ty.IsListType() || ty.IsSetType():
		var out []map[string]cty.Value
		idx := int64(0)
		it := val.ElementIterator()
		for it.Next() {
			_, ev := it.Element()
			binding := make(map[string]cty.Value, 2)
			if len(clause.Vars) == 1 {
				binding[clause.Vars[0]] = ev
			} else {
				binding[clause.Vars[0]] = cty.NumberIntVal(idx)
				binding[clause.Vars[1]] = ev
			}
			out = append(out, binding)
			idx++
		}
		return out, nil
	case ty.IsMapType():
		var out []map[string]cty.Value
		it := val.ElementIterator()
		for it.Next() {
			kv, ev := it.Element()
			out = append(out, bindKeyValue(clause.Vars, kv, ev))
		}
		return out, nil
	case ty.IsObjectType():
		attrs := ty.AttributeTypes()
		names := make(map[string]struct{}, len(attrs))
		for name := range attrs {
			names[name] = struct{}{}
		}
		var out []map[string]cty.Value
		for _, name := range sortedKeys(names) {
			out = append(out, bindKeyValue(clause.Vars, cty.StringVal(name), val.GetAttr(name)))
		}
		return out, nil
	default:
		return nil, &InvalidForTargetError{Expr: clause.Collection, Type: ty.FriendlyName()}
	}
}

func bindKeyValue(vars []string, key, value cty.Value) map[string]cty.Value {
	binding := make(map[string]cty.Value, 2)
	if len(vars) == 1 {
		binding[vars[0]] = key
	} else {
		binding[vars[0]] = key
		binding[vars[1]] = value
	}
	return binding
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_',
			r >= 'a' && r <= 'z',
			r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}
