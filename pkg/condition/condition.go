// Package condition evaluates the boolean expressions attached to condition
// nodes.
//
// The grammar is deliberately small: literals, variable references, the six
// comparison operators, &&, || and !, with parentheses for grouping. Variables
// are written as {{key}} or as bare identifiers and are resolved against the
// session scope at evaluation time, never spliced into the expression text.
// A {{key}} inside a quoted literal is resolved the same way and yields text.
//
// Evaluation fails closed: any expression that does not parse evaluates to
// false. Use Compile to surface parse errors when validating a graph.
package condition

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/interpolate"
)

const (
	// MaxLength is the longest expression accepted.
	MaxLength = 4096
	// MaxDepth bounds parenthesis and negation nesting.
	MaxDepth = 64

	maxCached = 1024
)

// Resolver supplies variable values by key.
type Resolver interface {
	Lookup(key string) (any, bool)
}

// Program is a parsed expression, safe for concurrent evaluation.
type Program struct {
	source string
	root   node
}

// String returns the source expression.
func (p *Program) String() string { return p.source }

// Compile parses an expression without evaluating it.
func Compile(expression string) (*Program, error) {
	if strings.TrimSpace(expression) == "" {
		return nil, fmt.Errorf("empty condition")
	}
	if len(expression) > MaxLength {
		return nil, fmt.Errorf("condition longer than %d characters", MaxLength)
	}
	root, err := parse(expression)
	if err != nil {
		return nil, fmt.Errorf("parse condition %q: %w", expression, err)
	}
	return &Program{source: expression, root: root}, nil
}

var cache = struct {
	sync.RWMutex
	programs map[string]*Program
}{programs: make(map[string]*Program)}

func compileCached(expression string) (*Program, error) {
	cache.RLock()
	prg, ok := cache.programs[expression]
	cache.RUnlock()
	if ok {
		return prg, nil
	}

	prg, err := Compile(expression)
	if err != nil {
		return nil, err
	}

	cache.Lock()
	if len(cache.programs) < maxCached {
		cache.programs[expression] = prg
	}
	cache.Unlock()
	return prg, nil
}

// Evaluate reports whether expression holds for the given session variables.
// Keys match case-insensitively. Malformed expressions yield false.
func Evaluate(expression string, variables map[string]any) bool {
	return EvaluateWith(expression, interpolate.NewScope(variables, domain.Contact{}))
}

// EvaluateWith is Evaluate over an arbitrary resolver, typically an
// interpolate.Scope that also exposes contact fields.
func EvaluateWith(expression string, r Resolver) bool {
	prg, err := compileCached(expression)
	if err != nil {
		return false
	}
	return prg.Eval(r)
}

// Eval runs the program against r.
func (p *Program) Eval(r Resolver) bool {
	return truthy(eval(p.root, r))
}

func eval(n node, r Resolver) any {
	switch n := n.(type) {
	case literal:
		return n.value
	case varRef:
		if r == nil {
			return nil
		}
		v, ok := r.Lookup(n.key)
		if !ok {
			return nil
		}
		return v
	case template:
		var sb strings.Builder
		for _, part := range n.parts {
			if v := eval(part, r); v != nil {
				sb.WriteString(toText(v))
			}
		}
		return sb.String()
	case notExpr:
		return !truthy(eval(n.operand, r))
	case logicalExpr:
		left := truthy(eval(n.left, r))
		if n.op == tokAnd {
			return left && truthy(eval(n.right, r))
		}
		return left || truthy(eval(n.right, r))
	case compareExpr:
		return compare(n.op, eval(n.left, r), eval(n.right, r))
	}
	return nil
}

func compare(op tokenKind, a, b any) bool {
	switch op {
	case tokEq:
		return looseEqual(a, b)
	case tokNeq:
		return !looseEqual(a, b)
	}

	if a == nil || b == nil {
		return false
	}
	var c int
	if x, okA := toNumber(a); okA {
		if y, okB := toNumber(b); okB {
			c = cmpFloat(x, y)
		} else {
			c = strings.Compare(toText(a), toText(b))
		}
	} else {
		c = strings.Compare(toText(a), toText(b))
	}

	switch op {
	case tokGt:
		return c > 0
	case tokLt:
		return c < 0
	case tokGte:
		return c >= 0
	case tokLte:
		return c <= 0
	}
	return false
}

func looseEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if x, ok := toNumber(a); ok {
		if y, ok := toNumber(b); ok {
			return x == y
		}
	}
	return toText(a) == toText(b)
}

func cmpFloat(x, y float64) int {
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	}
	return 0
}

func truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != ""
	}
	if f, ok := toNumber(v); ok {
		return f != 0
	}
	return true
}

// toNumber coerces numbers and numeric strings to a finite float64.
func toNumber(v any) (float64, bool) {
	var f float64
	switch val := v.(type) {
	case float64:
		f = val
	case float32:
		f = float64(val)
	case int:
		f = float64(val)
	case int8:
		f = float64(val)
	case int16:
		f = float64(val)
	case int32:
		f = float64(val)
	case int64:
		f = float64(val)
	case uint:
		f = float64(val)
	case uint8:
		f = float64(val)
	case uint16:
		f = float64(val)
	case uint32:
		f = float64(val)
	case uint64:
		f = float64(val)
	case json.Number:
		parsed, err := val.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		s := strings.TrimSpace(val)
		if s == "" {
			return 0, false
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func toText(v any) string {
	if f, ok := v.(float64); ok {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return interpolate.Format(v)
}
