package expr

import (
	"strings"

	"github.com/zclconf/go-cty/cty"
)

const (
	openMarker  = "${{"
	closeMarker = "}}"
)

// segment is one piece of a scanned string: either literal text or the
// inner source of a ${{ }} interpolation.
type segment struct {
	text   string
	isExpr bool
}

// scan splits a string into literal and expression segments. An unclosed
// marker is treated as literal text.
func scan(s string) []segment {
	var segs []segment
	for {
		start := strings.Index(s, openMarker)
		if start < 0 {
			break
		}
		end := strings.Index(s[start+len(openMarker):], closeMarker)
		if end < 0 {
			break
		}
		if start > 0 {
			segs = append(segs, segment{text: s[:start]})
		}
		inner := s[start+len(openMarker) : start+len(openMarker)+end]
		segs = append(segs, segment{text: strings.TrimSpace(inner), isExpr: true})
		s = s[start+len(openMarker)+end+len(closeMarker):]
	}
	if s != "" || len(segs) == 0 {
		segs = append(segs, segment{text: s})
	}
	return segs
}

// HasInterpolation reports whether the string contains at least one
// complete ${{ }} span.
func HasInterpolation(s string) bool {
	for _, seg := range scan(s) {
		if seg.isExpr {
			return true
		}
	}
	return false
}

// StringResult is the outcome of interpolating one string field.
type StringResult struct {
	// Value is the replacement value. A string that was exactly one
	// interpolation keeps the typed result; mixed text yields a string.
	Value any
	State State
	// Changed is false when the input contained no interpolations or was
	// left untouched because of a Deferred/Unknown outcome.
	Changed bool
	// Missing aggregates unknown identifier roots across all spans.
	Missing []string
}

// Interpolate resolves every ${{ }} span in s against the scope.
//
// A field that is exactly one interpolation with no surrounding text
// evaluates to the typed result. Spans mixed with literal text are each
// stringified independently. If any span is Deferred or Unknown the whole
// string is left untouched so a later pass (or request-time evaluation)
// can finish the job.
func (e *Evaluator) Interpolate(s string, scope map[string]cty.Value) (StringResult, error) {
	segs := scan(s)

	exprCount := 0
	for _, seg := range segs {
		if seg.isExpr {
			exprCount++
		}
	}
	if exprCount == 0 {
		return StringResult{Value: s}, nil
	}

	// Whole-field single interpolation keeps the typed result.
	if exprCount == 1 && len(segs) == 1 {
		outcome, err := e.Eval(segs[0].text, scope)
		if err != nil {
			return StringResult{}, err
		}
		if outcome.State != Resolved {
			return StringResult{Value: s, State: outcome.State, Missing: outcome.Missing}, nil
		}
		val, err := FromCty(outcome.Value)
		if err != nil {
			return StringResult{}, err
		}
		return StringResult{Value: val, State: Resolved, Changed: true}, nil
	}

	var (
		b        strings.Builder
		deferred bool
		missing  = make(map[string]struct{})
	)
	for _, seg := range segs {
		if !seg.isExpr {
			b.WriteString(seg.text)
			continue
		}
		outcome, err := e.Eval(seg.text, scope)
		if err != nil {
			return StringResult{}, err
		}
		switch outcome.State {
		case Deferred:
			deferred = true
		case Unknown:
			for _, m := range outcome.Missing {
				missing[m] = struct{}{}
			}
		case Resolved:
			text, err := Stringify(outcome.Value)
			if err != nil {
				return StringResult{}, err
			}
			b.WriteString(text)
		}
	}
	if len(missing) > 0 {
		return StringResult{Value: s, State: Unknown, Missing: sortedKeys(missing)}, nil
	}
	if deferred {
		return StringResult{Value: s, State: Deferred}, nil
	}
	return StringResult{Value: b.String(), State: Resolved, Changed: true}, nil
}
