// Package script evaluates response scripts written in expr. A script sees
// the incoming request plus the service's fixtures and bucket, and returns
// either a plain value (the response body) or a map with a "response" key and
// optional "side_effects" mutation instructions.
package script

import (
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/apipulse/pulsed/pkg/pulseerr"
)

// Request is the view of the incoming HTTP request exposed to scripts.
type Request struct {
	Method  string            `expr:"method"`
	Path    string            `expr:"path"`
	Params  map[string]string `expr:"params"`
	Query   map[string]string `expr:"query"`
	Headers map[string]string `expr:"headers"`
	Body    any               `expr:"body"`
}

// Context is the evaluation environment handed to a script. Fixtures and
// Bucket are snapshots; mutations must go through returned side effects.
type Context struct {
	Request  Request
	Fixtures map[string]any
	Bucket   map[string]any
}

// Engine compiles and runs scripts. Compiled programs are cached by source;
// execution is serialized per engine so scripts observe a stable snapshot
// even while the instance serves concurrent traffic.
type Engine struct {
	mu    sync.Mutex
	cache map[string]*vm.Program
}

// NewEngine creates an engine with an empty program cache.
func NewEngine() *Engine {
	return &Engine{cache: make(map[string]*vm.Program)}
}

// Execute compiles source if needed and runs it against ctx. Compile and
// runtime failures both come back as Runtime-kind errors; the caller turns
// them into a 500 for the current request without touching the instance.
func (e *Engine) Execute(source string, ctx Context) (any, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	program, ok := e.cache[source]
	if !ok {
		var err error
		program, err = expr.Compile(source)
		if err != nil {
			return nil, scriptError("script compilation failed", err)
		}
		e.cache[source] = program
	}

	result, err := expr.Run(program, envOf(ctx))
	if err != nil {
		return nil, scriptError("script execution failed", err)
	}
	return result, nil
}

// envOf flattens the context into the expression environment. Scripts address
// the request as `request.method`, `request.params.id`, and so on.
func envOf(ctx Context) map[string]any {
	return map[string]any{
		"request": map[string]any{
			"method":  ctx.Request.Method,
			"path":    ctx.Request.Path,
			"params":  orEmpty(ctx.Request.Params),
			"query":   orEmpty(ctx.Request.Query),
			"headers": orEmpty(ctx.Request.Headers),
			"body":    ctx.Request.Body,
		},
		"fixtures": orEmptyAny(ctx.Fixtures),
		"bucket":   orEmptyAny(ctx.Bucket),
	}
}

func orEmpty(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func orEmptyAny(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func scriptError(msg string, err error) error {
	return &pulseerr.Error{
		Kind:       pulseerr.KindRuntime,
		Message:    msg,
		Suggestion: "check script syntax",
		Err:        err,
	}
}
