package router

import (
	"encoding/json"
	"regexp"
	"strings"
	"time"
)

var placeholderRe = regexp.MustCompile(`\{\{\s*([^{}]+?)\s*\}\}`)

// templateContext is the data visible to {{…}} placeholders in bodies,
// headers, and side-effect values.
type templateContext struct {
	Method   string
	Path     string
	Params   map[string]string
	Query    map[string]string
	Headers  map[string]string
	Body     any
	Fixtures map[string]any
	Bucket   map[string]any
}

// render expands {{…}} placeholders against ctx. Unknown placeholders are
// left in place so a half-written template is visible rather than silently
// blanked. Non-string values render as their JSON encoding.
func render(tpl string, ctx templateContext) string {
	if !strings.Contains(tpl, "{{") {
		return tpl
	}
	return placeholderRe.ReplaceAllStringFunc(tpl, func(m string) string {
		expr := strings.TrimSpace(m[2 : len(m)-2])
		v, ok := resolve(expr, ctx)
		if !ok {
			return m
		}
		return stringify(v)
	})
}

func resolve(expr string, ctx templateContext) (any, bool) {
	parts := strings.Split(expr, ".")
	head, rest := parts[0], parts[1:]

	switch head {
	case "now":
		return time.Now().UTC().Format(time.RFC3339), len(rest) == 0
	case "params":
		return lookupString(ctx.Params, rest)
	case "query":
		return lookupString(ctx.Query, rest)
	case "headers":
		return lookupString(ctx.Headers, rest)
	case "fixtures":
		return lookupAny(ctx.Fixtures, rest)
	case "bucket":
		return lookupAny(ctx.Bucket, rest)
	case "body":
		return drill(ctx.Body, rest)
	case "request":
		if len(rest) == 0 {
			return nil, false
		}
		switch rest[0] {
		case "method":
			return ctx.Method, true
		case "path":
			return ctx.Path, true
		case "body":
			return drill(ctx.Body, rest[1:])
		case "params":
			return lookupString(ctx.Params, rest[1:])
		case "query":
			return lookupString(ctx.Query, rest[1:])
		case "headers":
			return lookupString(ctx.Headers, rest[1:])
		}
	}
	return nil, false
}

func lookupString(m map[string]string, path []string) (any, bool) {
	if len(path) != 1 || m == nil {
		return nil, false
	}
	v, ok := m[path[0]]
	return v, ok
}

func lookupAny(m map[string]any, path []string) (any, bool) {
	if len(path) == 0 || m == nil {
		return nil, false
	}
	v, ok := m[path[0]]
	if !ok {
		return nil, false
	}
	return drill(v, path[1:])
}

// drill walks the remaining dotted path through nested maps.
func drill(v any, path []string) (any, bool) {
	for _, key := range path {
		m, ok := v.(map[string]any)
		if !ok {
			return nil, false
		}
		v, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	if v == nil {
		return nil, false
	}
	return v, true
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(raw)
	}
}
