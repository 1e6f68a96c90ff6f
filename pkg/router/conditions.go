package router

import (
	"fmt"

	"github.com/ohler55/ojg/jp"

	"github.com/apipulse/pulsed/pkg/definition"
)

// conditionsHold reports whether every clause of a scenario condition block
// matches the request. Absent clauses hold vacuously.
func (rt *Router) conditionsHold(c *definition.ScenarioConditions, tctx templateContext) bool {
	for k, want := range c.Query {
		if tctx.Query[k] != want {
			return false
		}
	}
	for k, want := range c.Headers {
		if tctx.Headers[k] != want && tctx.Headers[lowerKey(k)] != want {
			return false
		}
	}
	if len(c.Body) > 0 {
		obj, ok := tctx.Body.(map[string]any)
		if !ok {
			return false
		}
		for k, want := range c.Body {
			if !looseEqual(obj[k], want) {
				return false
			}
		}
	}
	for path, want := range c.BodyPath {
		if !rt.bodyPathMatches(path, want, tctx.Body) {
			return false
		}
	}
	return true
}

// bodyPathMatches evaluates one JSONPath clause against the parsed body. An
// invalid path counts as a non-match and is logged.
func (rt *Router) bodyPathMatches(path string, want any, body any) bool {
	expr, err := jp.ParseString(path)
	if err != nil {
		rt.logger.Warn("invalid body_path expression", "service", rt.def.Name, "path", path, "error", err)
		return false
	}
	results := expr.Get(body)
	for _, got := range results {
		if looseEqual(got, want) {
			return true
		}
	}
	return false
}

// looseEqual compares decoded JSON/YAML values: numbers by value regardless
// of concrete type, everything else by string form.
func looseEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == b
	}
	if fa, ok := asNumber(a); ok {
		fb, ok := asNumber(b)
		return ok && fa == fb
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func lowerKey(k string) string {
	out := make([]byte, len(k))
	for i := 0; i < len(k); i++ {
		c := k[i]
		if 'A' <= c && c <= 'Z' {
			c += 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
}
