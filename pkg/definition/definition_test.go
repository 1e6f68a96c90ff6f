package definition

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

const sampleYAML = `
name: users-api
version: "1.0"
server:
  port: 4100
  base_path: /api/v1
  cors:
    origins: ["*"]
fixtures:
  users:
    - id: 1
      name: Ada
bucket:
  counter: 0
endpoints:
  - method: GET
    path: /users/{id}
    responses:
      200:
        content_type: application/json
        body: { id: 1, name: Ada }
      404:
        condition: 'request.params.id == "999"'
        content_type: application/json
        body: '{"error": "not found"}'
  - method: POST
    path: /users
    responses:
      201:
        content_type: application/json
        body: '{"created": true}'
        side_effects:
          - action: add_to_fixture
            target: users
            value: '{{request.body}}'
behavior:
  latency:
    min_ms: 10
    max_ms: 50
  error_simulation:
    rate: 0.1
    codes: [500, 503]
  rate_limiting:
    requests_per_minute: 120
`

func TestServiceDefinition_DecodeYAML(t *testing.T) {
	var def ServiceDefinition
	require.NoError(t, yaml.Unmarshal([]byte(sampleYAML), &def))

	assert.Equal(t, "users-api", def.Name)
	assert.Equal(t, 4100, def.Server.Port)
	assert.Equal(t, "/api/v1", def.Server.BasePath)
	require.Len(t, def.Endpoints, 2)

	get := def.Endpoints[0]
	assert.Equal(t, KindHTTP, get.KindOf())
	assert.Equal(t, "/users/{id}", get.Path)
	require.Contains(t, get.Responses, 200)
	require.Contains(t, get.Responses, 404)

	// Structured body is normalized to its JSON encoding.
	var body map[string]any
	require.NoError(t, json.Unmarshal([]byte(get.Responses[200].Body), &body))
	assert.Equal(t, "Ada", body["name"])

	post := def.Endpoints[1]
	require.Len(t, post.Responses[201].SideEffects, 1)
	assert.Equal(t, ActionAddToFixture, post.Responses[201].SideEffects[0].Action)

	require.NotNil(t, def.Behavior)
	assert.Equal(t, 10, def.Behavior.Latency.MinMs)
	assert.InDelta(t, 0.1, def.Behavior.ErrorSimulation.Rate, 1e-9)
	assert.Equal(t, 120, def.Behavior.RateLimiting.RequestsPerMinute)
}

func TestServiceDefinition_DecodeJSON_StringStatusKeys(t *testing.T) {
	raw := `{
		"name": "orders",
		"server": {"base_path": "/"},
		"endpoints": [
			{
				"method": "GET",
				"path": "/orders",
				"responses": {
					"200": {"content_type": "application/json", "body": {"orders": []}}
				}
			}
		]
	}`

	var def ServiceDefinition
	require.NoError(t, json.Unmarshal([]byte(raw), &def))
	require.Contains(t, def.Endpoints[0].Responses, 200)
	assert.JSONEq(t, `{"orders": []}`, string(def.Endpoints[0].Responses[200].Body))
}

func TestServiceDefinition_RoundTrip(t *testing.T) {
	var def ServiceDefinition
	require.NoError(t, yaml.Unmarshal([]byte(sampleYAML), &def))

	encoded, err := yaml.Marshal(&def)
	require.NoError(t, err)

	var again ServiceDefinition
	require.NoError(t, yaml.Unmarshal(encoded, &again))

	assert.Equal(t, def.Name, again.Name)
	assert.Equal(t, def.Server, again.Server)
	require.Len(t, again.Endpoints, len(def.Endpoints))
	for i := range def.Endpoints {
		assert.Equal(t, def.Endpoints[i].Method, again.Endpoints[i].Method)
		assert.Equal(t, def.Endpoints[i].Path, again.Endpoints[i].Path)
		assert.Equal(t, def.Endpoints[i].Responses.StatusCodes(), again.Endpoints[i].Responses.StatusCodes())
	}
}

func TestResponseMap_RejectsNonIntegerKeys(t *testing.T) {
	var m ResponseMap
	err := yaml.Unmarshal([]byte("ok:\n  body: hi\n"), &m)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not an integer")
}

func TestBody_ScalarForms(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"plain string", `body: hello`, "hello"},
		{"quoted json", `body: '{"a":1}'`, `{"a":1}`},
		{"number", `body: 42`, "42"},
		{"mapping", `body: {a: 1}`, `{"a":1}`},
		{"sequence", `body: [1, 2]`, `[1,2]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var holder struct {
				Body Body `yaml:"body"`
			}
			require.NoError(t, yaml.Unmarshal([]byte(tt.yaml), &holder))
			assert.Equal(t, tt.want, string(holder.Body))
		})
	}
}

func TestValidate_AcceptsWellFormedDefinition(t *testing.T) {
	var def ServiceDefinition
	require.NoError(t, yaml.Unmarshal([]byte(sampleYAML), &def))
	result := def.Validate()
	assert.True(t, result.IsValid(), "unexpected errors: %s", result.Error())
}

func TestValidate_ScenarioStatusOptional(t *testing.T) {
	var def ServiceDefinition
	require.NoError(t, yaml.Unmarshal([]byte(sampleYAML), &def))
	def.Endpoints[0].Responses = nil
	def.Endpoints[0].Scenarios = []Scenario{
		{Name: "ok", Response: ScenarioResponse{ResponseDefinition: ResponseDefinition{Body: "hi"}}},
	}

	result := def.Validate()
	assert.True(t, result.IsValid(), "omitted status should validate: %s", result.Error())

	def.Endpoints[0].Scenarios[0].Response.Status = 99
	result = def.Validate()
	require.False(t, result.IsValid())
	assert.Equal(t, "endpoints[0].scenarios[0].response.status", result.Errors[0].Field)
}

func TestValidate_Violations(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*ServiceDefinition)
		field  string
	}{
		{"empty name", func(d *ServiceDefinition) { d.Name = " " }, "name"},
		{"no endpoints", func(d *ServiceDefinition) { d.Endpoints = nil }, "endpoints"},
		{"relative base path", func(d *ServiceDefinition) { d.Server.BasePath = "api" }, "server.base_path"},
		{"latency inverted", func(d *ServiceDefinition) {
			d.Behavior.Latency = &LatencyConfig{MinMs: 100, MaxMs: 10}
		}, "behavior.latency.min_ms"},
		{"error rate above one", func(d *ServiceDefinition) {
			d.Behavior.ErrorSimulation.Rate = 1.5
		}, "behavior.error_simulation.rate"},
		{"zero rate limit", func(d *ServiceDefinition) {
			d.Behavior.RateLimiting.RequestsPerMinute = 0
		}, "behavior.rate_limiting.requests_per_minute"},
		{"endpoint without responses", func(d *ServiceDefinition) {
			d.Endpoints[0].Responses = nil
		}, "endpoints[0]"},
		{"bad endpoint kind", func(d *ServiceDefinition) {
			d.Endpoints[0].Kind = "tcp"
		}, "endpoints[0].kind"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var def ServiceDefinition
			require.NoError(t, yaml.Unmarshal([]byte(sampleYAML), &def))
			tt.mutate(&def)

			result := def.Validate()
			require.False(t, result.IsValid())

			found := false
			for _, e := range result.Errors {
				if e.Field == tt.field {
					found = true
				}
			}
			assert.True(t, found, "expected a violation on %s, got: %s", tt.field, result.Error())
		})
	}
}
