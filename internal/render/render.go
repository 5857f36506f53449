// Package render exposes the narrow Jinja-subset template interface the
// rest of the system needs: variable access with dotted paths, comparison
// and boolean operators, and a handful of built-in filters. It does not
// re-implement a full templating engine — expressions are delegated to
// expr-lang/expr, with a small LRU cache of compiled programs since the
// same `{{ ... }}` strings in a playbook are rendered on every evaluation.
package render

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	lru "github.com/hashicorp/golang-lru/v2"
)

// exprTag matches a single {{ ... }} interpolation.
var exprTag = regexp.MustCompile(`\{\{(.*?)\}\}`)

// Evaluator compiles and evaluates expr-lang expressions extracted from
// {{ }} tags, caching compiled programs by source text.
type Evaluator struct {
	cache *lru.Cache[string, *vm.Program]
}

// NewEvaluator builds an Evaluator with a compiled-expression cache holding
// up to size entries.
func NewEvaluator(size int) *Evaluator {
	if size <= 0 {
		size = 512
	}
	cache, err := lru.New[string, *vm.Program](size)
	if err != nil {
		panic(fmt.Sprintf("render: failed to create expression cache: %v", err))
	}
	return &Evaluator{cache: cache}
}

func (e *Evaluator) compile(src string) (*vm.Program, error) {
	key := hashExpr(src)
	if program, ok := e.cache.Get(key); ok {
		return program, nil
	}

	program, err := expr.Compile(src, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, err
	}
	e.cache.Add(key, program)
	return program, nil
}

func hashExpr(src string) string {
	sum := sha256.Sum256([]byte(src))
	return hex.EncodeToString(sum[:])
}

// EvaluateExpr compiles (or fetches from cache) and runs a raw expr-lang
// expression — no surrounding {{ }} — against context.
func (e *Evaluator) EvaluateExpr(src string, context map[string]interface{}) (interface{}, error) {
	program, err := e.compile(src)
	if err != nil {
		return nil, fmt.Errorf("render: compile %q: %w", src, err)
	}
	result, err := expr.Run(program, buildEnv(context))
	if err != nil {
		return nil, fmt.Errorf("render: evaluate %q: %w", src, err)
	}
	return result, nil
}

// RenderString interpolates every {{ expr }} segment of a template against
// context, substituting each with the string form of its evaluated value.
// Text outside {{ }} tags passes through unchanged. A tag whose expression
// references an undefined variable renders as the empty string rather than
// failing the whole template.
func (e *Evaluator) RenderString(template string, context map[string]interface{}) (string, error) {
	var firstErr error
	out := exprTag.ReplaceAllStringFunc(template, func(match string) string {
		inner := exprTag.FindStringSubmatch(match)[1]
		value, err := e.EvaluateExpr(strings.TrimSpace(inner), context)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			return ""
		}
		return toDisplayString(value)
	})
	if firstErr != nil {
		return out, firstErr
	}
	return out, nil
}

// EvaluatePredicate evaluates a `when:` style boolean expression. The
// expression is wrapped in {{ }} if the caller didn't already. A missing
// variable or any evaluation error is treated as false, matching the
// requirement that transitions degrade to "not taken" rather than crash
// the broker.
func (e *Evaluator) EvaluatePredicate(when string, context map[string]interface{}) bool {
	if when == "" {
		return true
	}

	src := strings.TrimSpace(when)
	if strings.HasPrefix(src, "{{") && strings.HasSuffix(src, "}}") {
		src = strings.TrimSpace(src[2 : len(src)-2])
	}

	value, err := e.EvaluateExpr(src, context)
	if err != nil {
		return false
	}
	return truthy(value)
}

func truthy(value interface{}) bool {
	switch v := value.(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		return v != ""
	case int:
		return v != 0
	case int64:
		return v != 0
	case float64:
		return v != 0
	case []interface{}:
		return len(v) > 0
	case map[string]interface{}:
		return len(v) > 0
	default:
		return true
	}
}

func toDisplayString(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}

func buildEnv(context map[string]interface{}) map[string]interface{} {
	env := make(map[string]interface{}, len(context)+len(builtinFilters))
	for k, v := range builtinFilters {
		env[k] = v
	}
	for k, v := range context {
		env[k] = v
	}
	return env
}

// builtinFilters is the small, intentionally limited function set the
// Jinja-subset exposes — length/lower/default, matching spec §9's guidance
// to avoid re-implementing a full templating engine.
var builtinFilters = map[string]interface{}{
	"length": func(v interface{}) int {
		switch x := v.(type) {
		case string:
			return len(x)
		case []interface{}:
			return len(x)
		case map[string]interface{}:
			return len(x)
		default:
			return 0
		}
	},
	"lower": func(s string) string { return strings.ToLower(s) },
	"default": func(v interface{}, fallback interface{}) interface{} {
		if v == nil {
			return fallback
		}
		if s, ok := v.(string); ok && s == "" {
			return fallback
		}
		return v
	},
}
