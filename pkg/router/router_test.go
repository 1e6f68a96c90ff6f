package router

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/apipulse/pulsed/pkg/definition"
	"github.com/apipulse/pulsed/pkg/requestlog"
	"github.com/apipulse/pulsed/pkg/scenario"
	"github.com/apipulse/pulsed/pkg/state"
)

func loadDef(t *testing.T, doc string) *definition.ServiceDefinition {
	t.Helper()
	var def definition.ServiceDefinition
	if err := yaml.Unmarshal([]byte(doc), &def); err != nil {
		t.Fatal(err)
	}
	return &def
}

func newRouter(t *testing.T, def *definition.ServiceDefinition, opts ...Option) (*Router, *state.State) {
	t.Helper()
	st := state.New(def.Fixtures, def.Bucket)
	rt, err := New(def, st, opts...)
	if err != nil {
		t.Fatal(err)
	}
	return rt, st
}

func do(rt *Router, method, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, target, nil)
	} else {
		r = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	for k, v := range headers {
		r.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	rt.ServeHTTP(rec, r)
	return rec
}

const usersDoc = `
name: users
server:
  base_path: /api
fixtures:
  users:
    - {id: 1, name: alice}
    - {id: 2, name: bob}
endpoints:
  - method: GET
    path: /users
    responses:
      200:
        body: '{{fixtures.users}}'
  - method: GET
    path: /users/me
    responses:
      200:
        body: '{"name": "self"}'
  - method: GET
    path: /users/{id}
    responses:
      200:
        body: '{"id": "{{params.id}}"}'
  - method: POST
    path: /users
    responses:
      201:
        body: '{"created": "{{body.name}}"}'
        headers:
          Location: /users/{{body.name}}
        side_effects:
          - action: add_to_fixture
            target: users
            value: '{{request.body}}'
`

func TestMatchAndRenderPathParam(t *testing.T) {
	t.Parallel()

	rt, _ := newRouter(t, loadDef(t, usersDoc))
	rec := do(rt, "GET", "/api/users/42", "", nil)
	if rec.Code != 200 {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"id": "42"`) {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestExactPathBeatsParameterized(t *testing.T) {
	t.Parallel()

	rt, _ := newRouter(t, loadDef(t, usersDoc))
	rec := do(rt, "GET", "/api/users/me", "", nil)
	if !strings.Contains(rec.Body.String(), "self") {
		t.Fatalf("matched the wrong route: %s", rec.Body.String())
	}
}

func TestBasePathEnforced(t *testing.T) {
	t.Parallel()

	rt, _ := newRouter(t, loadDef(t, usersDoc))
	rec := do(rt, "GET", "/users/42", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 outside base path", rec.Code)
	}
}

func TestNotFoundIsJSON(t *testing.T) {
	t.Parallel()

	rt, _ := newRouter(t, loadDef(t, usersDoc))
	rec := do(rt, "DELETE", "/api/users/1", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("404 body is not JSON: %s", rec.Body.String())
	}
	if body["error"] == "" {
		t.Fatal("404 body has no error field")
	}
}

func TestTemplateExpandsFixtures(t *testing.T) {
	t.Parallel()

	rt, _ := newRouter(t, loadDef(t, usersDoc))
	rec := do(rt, "GET", "/api/users", "", nil)
	var users []map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &users); err != nil {
		t.Fatalf("body = %s: %v", rec.Body.String(), err)
	}
	if len(users) != 2 || users[0]["name"] != "alice" {
		t.Fatalf("users = %v", users)
	}
}

func TestSideEffectMutatesFixture(t *testing.T) {
	t.Parallel()

	rt, st := newRouter(t, loadDef(t, usersDoc))
	rec := do(rt, "POST", "/api/users", `{"id": 3, "name": "carol"}`, nil)
	if rec.Code != 201 {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Location"); got != "/users/carol" {
		t.Fatalf("Location = %q", got)
	}

	users, _ := st.Fixture("users")
	if got := len(users.([]any)); got != 3 {
		t.Fatalf("users after POST = %d, want 3", got)
	}

	// The next GET sees the mutation.
	rec = do(rt, "GET", "/api/users", "", nil)
	if !strings.Contains(rec.Body.String(), "carol") {
		t.Fatalf("GET after POST = %s", rec.Body.String())
	}
}

func TestHeaderMatchPredicate(t *testing.T) {
	t.Parallel()

	doc := `
name: versioned
server: {}
endpoints:
  - method: GET
    path: /thing
    header_match:
      X-Api-Version: "2"
    responses:
      200: {body: v2}
  - method: GET
    path: /thing
    responses:
      200: {body: v1}
`
	rt, _ := newRouter(t, loadDef(t, doc))

	rec := do(rt, "GET", "/thing", "", map[string]string{"X-Api-Version": "2"})
	if rec.Body.String() != "v2" {
		t.Fatalf("with header: %s", rec.Body.String())
	}
	rec = do(rt, "GET", "/thing", "", nil)
	if rec.Body.String() != "v1" {
		t.Fatalf("without header: %s", rec.Body.String())
	}
}

func TestConditionSelectsResponse(t *testing.T) {
	t.Parallel()

	doc := `
name: conditional
server: {}
endpoints:
  - method: GET
    path: /orders
    responses:
      200:
        body: all
      402:
        condition: 'request.query.unpaid == "true"'
        body: payment required
`
	rt, _ := newRouter(t, loadDef(t, doc))

	rec := do(rt, "GET", "/orders?unpaid=true", "", nil)
	if rec.Code != 402 {
		t.Fatalf("conditioned: status = %d", rec.Code)
	}
	rec = do(rt, "GET", "/orders", "", nil)
	if rec.Code != 200 || rec.Body.String() != "all" {
		t.Fatalf("default: status = %d body = %s", rec.Code, rec.Body.String())
	}
}

func TestDefaultPrefers200ElseLowest(t *testing.T) {
	t.Parallel()

	doc := `
name: statuses
server: {}
endpoints:
  - method: GET
    path: /nope
    responses:
      404: {body: gone}
      500: {body: broken}
`
	rt, _ := newRouter(t, loadDef(t, doc))
	rec := do(rt, "GET", "/nope", "", nil)
	if rec.Code != 404 {
		t.Fatalf("status = %d, want lowest declared 404", rec.Code)
	}
}

func TestForceErrorOverride(t *testing.T) {
	t.Parallel()

	doc := `
name: flaky
server: {}
endpoints:
  - method: GET
    path: /pay
    responses:
      200: {body: ok}
      402: {body: payment required}
      503: {body: down}
`
	override := ""
	rt, _ := newRouter(t, loadDef(t, doc), WithOverride(func() string { return override }))

	rec := do(rt, "GET", "/pay", "", nil)
	if rec.Code != 200 {
		t.Fatalf("normal: status = %d", rec.Code)
	}

	override = scenario.ForceError
	rec = do(rt, "GET", "/pay", "", nil)
	if rec.Code != 503 {
		t.Fatalf("force-error: status = %d, want highest error 503", rec.Code)
	}
}

const scenarioDoc = `
name: checkout
server: {}
endpoints:
  - method: POST
    path: /checkout
    scenarios:
      - name: declined
        conditions:
          body_path:
            $.card.number: "4000000000000002"
        response:
          status: 402
          body: declined
      - name: slow-success
        response:
          status: 200
          body: ok-a
      - name: alt-success
        response:
          status: 200
          body: ok-b
`

func TestScenarioConditionWins(t *testing.T) {
	t.Parallel()

	rt, _ := newRouter(t, loadDef(t, scenarioDoc))
	rec := do(rt, "POST", "/checkout", `{"card": {"number": "4000000000000002"}}`, nil)
	if rec.Code != 402 || rec.Body.String() != "declined" {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
}

func TestScenarioSequentialRotation(t *testing.T) {
	t.Parallel()

	rt, _ := newRouter(t, loadDef(t, scenarioDoc))
	var got []string
	for i := 0; i < 4; i++ {
		rec := do(rt, "POST", "/checkout", `{"card": {"number": "4111"}}`, nil)
		got = append(got, rec.Body.String())
	}
	want := []string{"ok-a", "ok-b", "ok-a", "ok-b"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("rotation = %v, want %v", got, want)
		}
	}
}

func TestScenarioOverrideByName(t *testing.T) {
	t.Parallel()

	rt, _ := newRouter(t, loadDef(t, scenarioDoc), WithOverride(func() string { return "alt-success" }))
	for i := 0; i < 3; i++ {
		rec := do(rt, "POST", "/checkout", `{}`, nil)
		if rec.Body.String() != "ok-b" {
			t.Fatalf("request %d: body = %s, want pinned ok-b", i, rec.Body.String())
		}
	}
}

func TestScenarioForceError(t *testing.T) {
	t.Parallel()

	rt, _ := newRouter(t, loadDef(t, scenarioDoc), WithOverride(func() string { return scenario.ForceError }))
	rec := do(rt, "POST", "/checkout", `{}`, nil)
	if rec.Code != 402 {
		t.Fatalf("status = %d, want 402", rec.Code)
	}
}

func TestScenarioStatusDefaultsTo200(t *testing.T) {
	t.Parallel()

	const doc = `
name: checkout
server: {}
endpoints:
  - method: POST
    path: /checkout
    scenarios:
      - name: ok
        response:
          body: accepted
`
	rt, _ := newRouter(t, loadDef(t, doc))
	rec := do(rt, "POST", "/checkout", `{}`, nil)
	if rec.Code != 200 || rec.Body.String() != "accepted" {
		t.Fatalf("status = %d body = %s, want 200 accepted", rec.Code, rec.Body.String())
	}
}

func TestRequestBodySchemaValidation(t *testing.T) {
	t.Parallel()

	doc := `
name: strict
server: {}
endpoints:
  - method: POST
    path: /users
    request_body:
      type: object
      required: [name]
      properties:
        name: {type: string}
    responses:
      201: {body: created}
`
	rt, _ := newRouter(t, loadDef(t, doc))

	rec := do(rt, "POST", "/users", `{"name": "alice"}`, nil)
	if rec.Code != 201 {
		t.Fatalf("valid body: status = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = do(rt, "POST", "/users", `{"age": 3}`, nil)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("invalid body: status = %d, want 422", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "details") {
		t.Fatalf("422 body lacks details: %s", rec.Body.String())
	}
}

func TestScriptResponse(t *testing.T) {
	t.Parallel()

	doc := `
name: scripted
server: {}
bucket:
  counter: 10
endpoints:
  - method: GET
    path: /next
    responses:
      200:
        script: |
          {"response": {"value": bucket.counter + 1}, "side_effects": [{"action": "set_bucket", "target": "counter", "value": bucket.counter + 1}]}
`
	rt, st := newRouter(t, loadDef(t, doc))

	rec := do(rt, "GET", "/next", "", nil)
	if rec.Code != 200 {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "11") {
		t.Fatalf("body = %s", rec.Body.String())
	}
	if v, _ := st.Bucket().Get("counter"); v != 11 {
		t.Fatalf("bucket counter = %v, want 11", v)
	}

	// Second call sees the mutated bucket.
	rec = do(rt, "GET", "/next", "", nil)
	if !strings.Contains(rec.Body.String(), "12") {
		t.Fatalf("second body = %s", rec.Body.String())
	}
}

func TestScriptFailureIs500NotFatal(t *testing.T) {
	t.Parallel()

	doc := `
name: broken
server: {}
endpoints:
  - method: GET
    path: /bad
    responses:
      200:
        script: 'fixtures.missing.deeper'
  - method: GET
    path: /good
    responses:
      200: {body: fine}
`
	rt, _ := newRouter(t, loadDef(t, doc))

	rec := do(rt, "GET", "/bad", "", nil)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("bad: status = %d, want 500", rec.Code)
	}
	// The instance keeps serving.
	rec = do(rt, "GET", "/good", "", nil)
	if rec.Code != 200 || rec.Body.String() != "fine" {
		t.Fatalf("good after failure: status = %d body = %s", rec.Code, rec.Body.String())
	}
}

func TestIntrospectionRoute(t *testing.T) {
	t.Parallel()

	store := requestlog.NewInMemoryStore(0)
	rt, _ := newRouter(t, loadDef(t, usersDoc), WithLogStore(store))

	do(rt, "GET", "/api/users", "", nil)
	do(rt, "GET", "/api/users/1", "", nil)
	do(rt, "POST", "/api/users", `{"name": "x"}`, nil)

	rec := do(rt, "GET", LogsPath+"?method=GET", "", nil)
	if rec.Code != 200 {
		t.Fatalf("status = %d", rec.Code)
	}
	var entries []map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &entries); err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("GET entries = %d, want 2", len(entries))
	}

	rec = do(rt, "GET", LogsPath+"?limit=1", "", nil)
	json.Unmarshal(rec.Body.Bytes(), &entries) //nolint:errcheck
	if len(entries) != 1 {
		t.Fatalf("limited entries = %d, want 1", len(entries))
	}
}

func TestCORSPreflightAndHeaders(t *testing.T) {
	t.Parallel()

	doc := `
name: cors
server:
  cors:
    origins: ["https://app.example.com"]
    methods: [GET, POST]
endpoints:
  - method: GET
    path: /data
    responses:
      200: {body: ok}
`
	rt, _ := newRouter(t, loadDef(t, doc))

	rec := do(rt, "OPTIONS", "/data", "", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("preflight status = %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Fatalf("origin header = %q", got)
	}

	rec = do(rt, "GET", "/data", "", nil)
	if rec.Header().Get("Access-Control-Allow-Methods") != "GET, POST" {
		t.Fatalf("methods header = %q", rec.Header().Get("Access-Control-Allow-Methods"))
	}
}

func TestStreamEndpointEmitsSSE(t *testing.T) {
	t.Parallel()

	doc := `
name: ticker
server: {}
endpoints:
  - kind: stream
    method: GET
    path: /ticks
    stream:
      events:
        - {data: one}
        - {data: two}
`
	rt, _ := newRouter(t, loadDef(t, doc))

	rec := do(rt, "GET", "/ticks", "", nil)
	if rec.Code != 200 {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Fatalf("content type = %q", got)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "data: one\n\n") || !strings.Contains(body, "data: two\n\n") {
		t.Fatalf("stream body = %q", body)
	}
}

func TestContentTypeDefaultsToJSON(t *testing.T) {
	t.Parallel()

	rt, _ := newRouter(t, loadDef(t, usersDoc))
	rec := do(rt, "GET", "/api/users/1", "", nil)
	if got := rec.Header().Get("Content-Type"); got != "application/json" {
		t.Fatalf("content type = %q", got)
	}
}

func TestMatchPathTable(t *testing.T) {
	t.Parallel()

	cases := []struct {
		pattern, path string
		ok            bool
		params        map[string]string
	}{
		{"/users", "/users", true, map[string]string{}},
		{"/users", "/users/", true, map[string]string{}},
		{"/users/{id}", "/users/7", true, map[string]string{"id": "7"}},
		{"/users/{id}/pets/{pet}", "/users/7/pets/rex", true, map[string]string{"id": "7", "pet": "rex"}},
		{"/users/{id}", "/users", false, nil},
		{"/users/{id}", "/users/7/extra", false, nil},
		{"/a/b", "/a/c", false, nil},
	}
	for _, tc := range cases {
		params, ok := matchPath(tc.pattern, tc.path)
		if ok != tc.ok {
			t.Fatalf("matchPath(%q, %q) ok = %v, want %v", tc.pattern, tc.path, ok, tc.ok)
		}
		for k, v := range tc.params {
			if params[k] != v {
				t.Fatalf("matchPath(%q, %q) params = %v", tc.pattern, tc.path, params)
			}
		}
	}
}

func TestRenderTable(t *testing.T) {
	t.Parallel()

	ctx := templateContext{
		Method:   "GET",
		Path:     "/orders/9",
		Params:   map[string]string{"id": "9"},
		Query:    map[string]string{"page": "2"},
		Fixtures: map[string]any{"plan": "pro", "limits": map[string]any{"max": 10}},
		Bucket:   map[string]any{"token": "abc"},
		Body:     map[string]any{"name": "alice"},
	}
	cases := []struct {
		in, want string
	}{
		{"plain", "plain"},
		{"{{params.id}}", "9"},
		{"{{query.page}}", "2"},
		{"{{fixtures.plan}}", "pro"},
		{"{{fixtures.limits.max}}", "10"},
		{"{{bucket.token}}", "abc"},
		{"{{body.name}}", "alice"},
		{"{{request.method}} {{request.path}}", "GET /orders/9"},
		{"{{request.body.name}}", "alice"},
		{"{{unknown.thing}}", "{{unknown.thing}}"},
	}
	for _, tc := range cases {
		if got := render(tc.in, ctx); got != tc.want {
			t.Fatalf("render(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
