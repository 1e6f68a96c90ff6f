// Package router turns a service definition into an http.Handler: it matches
// requests against the endpoint table, selects and renders a response, applies
// side effects, and logs every request served.
package router

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/apipulse/pulsed/pkg/definition"
	"github.com/apipulse/pulsed/pkg/graphql"
	"github.com/apipulse/pulsed/pkg/logging"
	"github.com/apipulse/pulsed/pkg/requestlog"
	"github.com/apipulse/pulsed/pkg/scenario"
	"github.com/apipulse/pulsed/pkg/script"
	"github.com/apipulse/pulsed/pkg/state"
)

// LogsPath is the built-in introspection route serving the request log.
const LogsPath = "/__pulse/logs"

const maxBodyBytes = 10 << 20

// Router serves one service definition.
type Router struct {
	def      *definition.ServiceDefinition
	st       *state.State
	logger   *slog.Logger
	logs     requestlog.Store
	scripts  *script.Engine
	override func() string
	baseDir  string

	schemas map[int]*jsonschema.Schema
	gql     map[int]http.Handler
	proxy   *httputil.ReverseProxy
}

// Option configures a Router.
type Option func(*Router)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(rt *Router) { rt.logger = l }
}

// WithLogStore sets the request log destination.
func WithLogStore(s requestlog.Store) Option {
	return func(rt *Router) { rt.logs = s }
}

// WithScriptEngine sets the script engine shared across requests.
func WithScriptEngine(e *script.Engine) Option {
	return func(rt *Router) { rt.scripts = e }
}

// WithOverride installs the manager-wide scenario override getter. The
// returned string is empty, a strategy name, a scenario name, or force-error.
func WithOverride(f func() string) Option {
	return func(rt *Router) { rt.override = f }
}

// WithBaseDir sets the directory relative schema paths resolve against.
func WithBaseDir(dir string) Option {
	return func(rt *Router) { rt.baseDir = dir }
}

// New builds a router for def backed by st. Request-body schemas and graphql
// mocks are compiled up front so a bad definition fails at load, not at serve
// time.
func New(def *definition.ServiceDefinition, st *state.State, opts ...Option) (*Router, error) {
	rt := &Router{
		def:      def,
		st:       st,
		logger:   logging.Nop(),
		logs:     requestlog.NewInMemoryStore(0),
		scripts:  script.NewEngine(),
		override: func() string { return "" },
		baseDir:  ".",
		schemas:  make(map[int]*jsonschema.Schema),
		gql:      make(map[int]http.Handler),
	}
	for _, opt := range opts {
		opt(rt)
	}

	for i := range def.Endpoints {
		ep := &def.Endpoints[i]
		if ep.RequestBody != nil {
			schema, err := compileSchema(ep.RequestBody)
			if err != nil {
				return nil, err
			}
			rt.schemas[i] = schema
		}
		if ep.KindOf() == definition.KindGraphQL {
			mocks, err := graphql.Load(def.GraphQL, rt.baseDir)
			if err != nil {
				return nil, err
			}
			rt.gql[i] = mocks.Handler(func(tpl string) string {
				return render(tpl, templateContext{
					Fixtures: rt.st.Fixtures(),
					Bucket:   rt.st.Bucket().Snapshot(),
				})
			})
		}
	}

	if def.Server.ProxyBaseURL != "" {
		target, err := url.Parse(def.Server.ProxyBaseURL)
		if err == nil {
			rt.proxy = httputil.NewSingleHostReverseProxy(target)
		}
	}
	return rt, nil
}

func compileSchema(raw map[string]any) (*jsonschema.Schema, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	if err := compiler.AddResource("request_body.json", bytes.NewReader(data)); err != nil {
		return nil, err
	}
	return compiler.Compile("request_body.json")
}

func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	if r.URL.Path == LogsPath {
		rt.serveLogs(w, r)
		return
	}

	if cors := rt.def.Server.CORS; cors != nil {
		applyCORS(w, cors)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}

	path, ok := rt.stripBase(r.URL.Path)
	if !ok {
		rt.notFound(w, r, start)
		return
	}

	idx, params, found := rt.match(r, path)
	if !found {
		if rt.def.Server.RecordUnknown && rt.proxy != nil {
			rt.proxy.ServeHTTP(w, r)
			return
		}
		rt.notFound(w, r, start)
		return
	}

	ep := &rt.def.Endpoints[idx]
	switch ep.KindOf() {
	case definition.KindGraphQL:
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		rt.gql[idx].ServeHTTP(sw, r)
		rt.logRequest(r, idx, sw.status, start)
	case definition.KindStream:
		rt.serveStream(w, r, ep)
		rt.logRequest(r, idx, http.StatusOK, start)
	default:
		rt.serveEndpoint(w, r, idx, ep, params, start)
	}
}

// stripBase removes the configured base path prefix, reporting false when the
// request falls outside it.
func (rt *Router) stripBase(path string) (string, bool) {
	base := rt.def.Server.BasePathOrDefault()
	if base == "/" {
		return path, true
	}
	if path == base {
		return "/", true
	}
	if strings.HasPrefix(path, base+"/") {
		return path[len(base):], true
	}
	return "", false
}

// match scans the endpoint table in declaration order. At equal declaration
// rank a static path beats a parameterized one; otherwise the first declared
// match wins.
func (rt *Router) match(r *http.Request, path string) (int, map[string]string, bool) {
	best := -1
	var bestParams map[string]string
	for i := range rt.def.Endpoints {
		ep := &rt.def.Endpoints[i]
		if !strings.EqualFold(ep.Method, r.Method) {
			continue
		}
		params, ok := matchPath(ep.Path, path)
		if !ok || !headersMatch(r, ep.HeaderMatch) {
			continue
		}
		if best == -1 || moreSpecific(ep.Path, rt.def.Endpoints[best].Path) {
			best = i
			bestParams = params
		}
	}
	if best == -1 {
		return 0, nil, false
	}
	return best, bestParams, true
}

func headersMatch(r *http.Request, want map[string]string) bool {
	for k, v := range want {
		if r.Header.Get(k) != v {
			return false
		}
	}
	return true
}

func (rt *Router) serveEndpoint(w http.ResponseWriter, r *http.Request, idx int, ep *definition.EndpointDefinition, params map[string]string, start time.Time) {
	raw, _ := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	var body any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &body); err != nil {
			body = string(raw)
		}
	}

	if schema, ok := rt.schemas[idx]; ok {
		if err := schema.Validate(body); err != nil {
			rt.writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
				"error":   "request body validation failed",
				"details": err.Error(),
			})
			rt.logRequest(r, idx, http.StatusUnprocessableEntity, start)
			return
		}
	}

	tctx := templateContext{
		Method:   r.Method,
		Path:     r.URL.Path,
		Params:   params,
		Query:    flattenQuery(r.URL.Query()),
		Headers:  flattenHeaders(r.Header),
		Body:     body,
		Fixtures: rt.st.Fixtures(),
		Bucket:   rt.st.Bucket().Snapshot(),
	}

	status, resp := rt.selectResponse(idx, ep, tctx)
	if resp == nil {
		rt.writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "endpoint has no response to serve",
		})
		rt.logRequest(r, idx, http.StatusInternalServerError, start)
		return
	}

	var rendered string
	if resp.Script != "" {
		result, err := rt.runScript(resp.Script, tctx)
		if err != nil {
			rt.logger.Error("script failed", "service", rt.def.Name, "path", ep.Path, "error", err)
			rt.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "script execution failed"})
			rt.logRequest(r, idx, http.StatusInternalServerError, start)
			return
		}
		if result.Status != 0 {
			status = result.Status
		}
		rendered = stringifyBody(result.Body)
	} else {
		rendered = render(string(resp.Body), tctx)
	}

	for _, eff := range resp.SideEffects {
		if err := applyDeclaredEffect(rt.st, eff, tctx); err != nil {
			rt.logger.Error("side effect failed", "service", rt.def.Name, "action", string(eff.Action), "target", eff.Target, "error", err)
			rt.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "side effect failed"})
			rt.logRequest(r, idx, http.StatusInternalServerError, start)
			return
		}
	}

	contentType := resp.ContentType
	if contentType == "" {
		contentType = "application/json"
	}
	w.Header().Set("Content-Type", contentType)
	for k, v := range resp.Headers {
		w.Header().Set(k, render(v, tctx))
	}
	w.WriteHeader(status)
	io.WriteString(w, rendered) //nolint:errcheck

	rt.logRequest(r, idx, status, start)
}

// runScript executes a response script and applies any mutations it returns.
func (rt *Router) runScript(source string, tctx templateContext) (*script.Result, error) {
	out, err := rt.scripts.Execute(source, script.Context{
		Request: script.Request{
			Method:  tctx.Method,
			Path:    tctx.Path,
			Params:  tctx.Params,
			Query:   tctx.Query,
			Headers: tctx.Headers,
			Body:    tctx.Body,
		},
		Fixtures: tctx.Fixtures,
		Bucket:   tctx.Bucket,
	})
	if err != nil {
		return nil, err
	}
	result, err := script.ParseResult(out)
	if err != nil {
		return nil, err
	}
	for _, m := range result.Mutations {
		if err := applyMutation(rt.st, m); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// selectResponse picks the status and response definition for this request.
//
// Scenario endpoints: a manager override naming a scenario wins; force-error
// picks the highest error status; otherwise the first scenario whose
// conditions hold wins, and condition-less scenarios rotate per the strategy.
//
// Status-map endpoints: force-error picks the highest 4xx/5xx; otherwise the
// first truthy condition in ascending status order wins; the default prefers
// 200, then the lowest declared status.
func (rt *Router) selectResponse(idx int, ep *definition.EndpointDefinition, tctx templateContext) (int, *definition.ResponseDefinition) {
	override := rt.override()

	if len(ep.Scenarios) > 0 {
		return rt.selectScenario(idx, ep, tctx, override)
	}

	statuses := ep.Responses.StatusCodes()
	if len(statuses) == 0 {
		return 0, nil
	}

	if override == scenario.ForceError {
		for i := len(statuses) - 1; i >= 0; i-- {
			if statuses[i] >= 400 {
				resp := ep.Responses[statuses[i]]
				return statuses[i], &resp
			}
		}
	}

	for _, status := range statuses {
		resp := ep.Responses[status]
		if resp.Condition == "" {
			continue
		}
		if rt.truthy(resp.Condition, tctx) {
			return status, &resp
		}
	}

	if resp, ok := ep.Responses[http.StatusOK]; ok && resp.Condition == "" {
		return http.StatusOK, &resp
	}
	for _, status := range statuses {
		resp := ep.Responses[status]
		if resp.Condition == "" {
			return status, &resp
		}
	}
	// Every response is conditioned and none matched.
	return 0, nil
}

func (rt *Router) selectScenario(idx int, ep *definition.EndpointDefinition, tctx templateContext, override string) (int, *definition.ResponseDefinition) {
	if override != "" && override != scenario.ForceError {
		if strat, err := scenario.Parse(override); err != nil || !strat.Valid() {
			// Not a strategy name; treat as a scenario name.
			for i := range ep.Scenarios {
				if ep.Scenarios[i].Name == override {
					return scenarioResponse(&ep.Scenarios[i])
				}
			}
		}
	}

	if override == scenario.ForceError {
		best := -1
		for i := range ep.Scenarios {
			if ep.Scenarios[i].Response.Status >= 400 {
				if best == -1 || ep.Scenarios[i].Response.Status > ep.Scenarios[best].Response.Status {
					best = i
				}
			}
		}
		if best != -1 {
			return scenarioResponse(&ep.Scenarios[best])
		}
	}

	var candidates []int
	for i := range ep.Scenarios {
		sc := &ep.Scenarios[i]
		if sc.Conditions == nil {
			candidates = append(candidates, i)
			continue
		}
		if rt.conditionsHold(sc.Conditions, tctx) {
			return scenarioResponse(sc)
		}
	}
	if len(candidates) == 0 {
		return 0, nil
	}

	strat := scenario.StrategySequential
	if parsed, err := scenario.Parse(override); err == nil && override != "" {
		strat = parsed
	}
	pick := candidates[rt.st.NextResponseIndex(idx, len(candidates), strat)]
	return scenarioResponse(&ep.Scenarios[pick])
}

func scenarioResponse(sc *definition.Scenario) (int, *definition.ResponseDefinition) {
	status := sc.Response.Status
	if status == 0 {
		status = http.StatusOK
	}
	return status, &sc.Response.ResponseDefinition
}

// truthy evaluates a response condition expression against the request.
// Evaluation failures count as non-matches and are logged once per request.
func (rt *Router) truthy(condition string, tctx templateContext) bool {
	out, err := rt.scripts.Execute(condition, script.Context{
		Request: script.Request{
			Method:  tctx.Method,
			Path:    tctx.Path,
			Params:  tctx.Params,
			Query:   tctx.Query,
			Headers: tctx.Headers,
			Body:    tctx.Body,
		},
		Fixtures: tctx.Fixtures,
		Bucket:   tctx.Bucket,
	})
	if err != nil {
		rt.logger.Warn("condition failed", "service", rt.def.Name, "condition", condition, "error", err)
		return false
	}
	b, ok := out.(bool)
	return ok && b
}

func (rt *Router) notFound(w http.ResponseWriter, r *http.Request, start time.Time) {
	rt.writeJSON(w, http.StatusNotFound, map[string]string{
		"error": "no endpoint matches " + r.Method + " " + r.URL.Path,
	})
	rt.logUnmatched(r, http.StatusNotFound, start)
}

func (rt *Router) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func (rt *Router) logRequest(r *http.Request, endpoint int, status int, start time.Time) {
	e := requestlog.NewEntry(rt.def.Name, r.Method, r.URL.Path, status, time.Since(start))
	idx := endpoint
	e.Endpoint = &idx
	rt.logs.Log(e)
	rt.logger.Debug("request served", "service", rt.def.Name, "method", r.Method, "path", r.URL.Path, "status", status)
}

func (rt *Router) logUnmatched(r *http.Request, status int, start time.Time) {
	rt.logs.Log(requestlog.NewEntry(rt.def.Name, r.Method, r.URL.Path, status, time.Since(start)))
	rt.logger.Debug("request unmatched", "service", rt.def.Name, "method", r.Method, "path", r.URL.Path)
}

// serveLogs handles the built-in introspection route.
func (rt *Router) serveLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		rt.writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	q := r.URL.Query()
	f := requestlog.Filter{
		Service: rt.def.Name,
		Method:  q.Get("method"),
		Route:   q.Get("route"),
	}
	if v := q.Get("status"); v != "" {
		f.Status, _ = strconv.Atoi(v)
	}
	if v := q.Get("limit"); v != "" {
		f.Limit, _ = strconv.Atoi(v)
	}
	entries := rt.logs.List(f)
	if entries == nil {
		entries = []*requestlog.Entry{}
	}
	rt.writeJSON(w, http.StatusOK, entries)
}

func applyCORS(w http.ResponseWriter, cors *definition.CORSConfig) {
	origins := "*"
	if len(cors.Origins) > 0 {
		origins = strings.Join(cors.Origins, ", ")
	}
	w.Header().Set("Access-Control-Allow-Origin", origins)
	if len(cors.Methods) > 0 {
		w.Header().Set("Access-Control-Allow-Methods", strings.Join(cors.Methods, ", "))
	}
	if len(cors.Headers) > 0 {
		w.Header().Set("Access-Control-Allow-Headers", strings.Join(cors.Headers, ", "))
	}
}

func flattenQuery(values url.Values) map[string]string {
	out := make(map[string]string, len(values))
	for k, v := range values {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		if len(v) > 0 {
			out[strings.ToLower(k)] = v[0]
		}
	}
	return out
}

func stringifyBody(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(raw)
	}
}

// statusWriter records the status a wrapped handler sent.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
