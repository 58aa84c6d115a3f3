// Package expr evaluates JavaScript expressions embedded in target and
// strategy configuration. It supports $(...) references and ${...} code
// blocks inside otherwise literal strings.
package expr

import (
	"fmt"
	"os"
	"strings"

	"github.com/dop251/goja"
)

// Context holds the variables visible to an expression.
type Context struct {
	Target   map[string]any
	Artifact map[string]any
	Env      map[string]string
}

// Evaluator evaluates configuration expressions. Each evaluation gets a
// fresh JavaScript VM so no state leaks between calls.
type Evaluator struct{}

// NewEvaluator creates an Evaluator.
func NewEvaluator() *Evaluator {
	return &Evaluator{}
}

// setupVM creates a JavaScript VM with the context variables bound.
func (e *Evaluator) setupVM(ctx *Context) (*goja.Runtime, error) {
	if ctx == nil {
		ctx = &Context{}
	}
	vm := goja.New()
	if err := vm.Set("target", ctx.Target); err != nil {
		return nil, fmt.Errorf("set target: %w", err)
	}
	if err := vm.Set("artifact", ctx.Artifact); err != nil {
		return nil, fmt.Errorf("set artifact: %w", err)
	}
	if err := vm.Set("env", ctx.Env); err != nil {
		return nil, fmt.Errorf("set env: %w", err)
	}
	return vm, nil
}

// Evaluate evaluates a single expression string and returns its value.
// Supported forms:
//   - references: $(target.id)
//   - code blocks: ${ return target.id + "-release"; }
//
// A string in neither form is returned as-is.
func (e *Evaluator) Evaluate(expr string, ctx *Context) (any, error) {
	expr = strings.TrimSpace(expr)
	switch {
	case strings.HasPrefix(expr, "$(") && strings.HasSuffix(expr, ")"):
		return e.run(expr[2:len(expr)-1], ctx)
	case strings.HasPrefix(expr, "${") && strings.HasSuffix(expr, "}"):
		body := expr[2 : len(expr)-1]
		return e.run("(function() {"+body+"})()", ctx)
	default:
		return expr, nil
	}
}

// EvaluateBool evaluates expr and requires a boolean result. An empty
// expression is true (an absent filter admits everything).
func (e *Evaluator) EvaluateBool(expr string, ctx *Context) (bool, error) {
	if strings.TrimSpace(expr) == "" {
		return true, nil
	}
	v, err := e.Evaluate(expr, ctx)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("expression %q: want boolean result, got %T", expr, v)
	}
	return b, nil
}

// Interpolate replaces every $(expr) occurrence inside s with its evaluated
// value. $( can be escaped as \$(.
func (e *Evaluator) Interpolate(s string, ctx *Context) (string, error) {
	var out strings.Builder
	i := 0
	for i < len(s) {
		if strings.HasPrefix(s[i:], `\$(`) {
			out.WriteString("$(")
			i += 3
			continue
		}
		if strings.HasPrefix(s[i:], "$(") {
			end, err := matchParen(s, i+1)
			if err != nil {
				return "", err
			}
			v, err := e.run(s[i+2:end], ctx)
			if err != nil {
				return "", err
			}
			fmt.Fprintf(&out, "%v", v)
			i = end + 1
			continue
		}
		out.WriteByte(s[i])
		i++
	}
	return out.String(), nil
}

func (e *Evaluator) run(js string, ctx *Context) (any, error) {
	vm, err := e.setupVM(ctx)
	if err != nil {
		return nil, err
	}
	v, err := vm.RunString(js)
	if err != nil {
		return nil, fmt.Errorf("evaluate %q: %w", js, err)
	}
	return v.Export(), nil
}

// matchParen returns the index of the ')' matching the '(' at open.
func matchParen(s string, open int) (int, error) {
	depth := 0
	for i := open; i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return i, nil
			}
		}
	}
	return 0, fmt.Errorf("unbalanced parentheses in %q", s)
}

// EnvMap returns the process environment as a map for expression contexts.
func EnvMap() map[string]string {
	m := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			m[k] = v
		}
	}
	return m
}
