// Package definition holds the declarative model for one simulated service:
// its endpoints, seed data, and behavior settings. Definitions are plain data
// loaded from YAML or JSON files; the serving machinery lives elsewhere.
package definition

// EndpointKind selects how an endpoint is served.
type EndpointKind string

const (
	KindHTTP    EndpointKind = "http"
	KindStream  EndpointKind = "stream"
	KindGraphQL EndpointKind = "graphql"
)

// ServiceDefinition describes one mock service.
type ServiceDefinition struct {
	// Name uniquely identifies the service within a loaded set.
	Name string `json:"name" yaml:"name"`

	Version     string `json:"version,omitempty" yaml:"version,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Server holds listener and routing configuration.
	Server ServerConfig `json:"server" yaml:"server"`

	// Models are named JSON shapes, available to scripts and documentation.
	Models map[string]any `json:"models,omitempty" yaml:"models,omitempty"`

	// Fixtures seed the mutable per-instance fixture store.
	Fixtures map[string]any `json:"fixtures,omitempty" yaml:"fixtures,omitempty"`

	// Bucket seeds the shared key/value Data Bucket.
	Bucket map[string]any `json:"bucket,omitempty" yaml:"bucket,omitempty"`

	// Endpoints is the ordered route table. Order matters: the router
	// matches in declaration order.
	Endpoints []EndpointDefinition `json:"endpoints" yaml:"endpoints"`

	// GraphQL configures the optional /graphql surface.
	GraphQL *GraphQLConfig `json:"graphql,omitempty" yaml:"graphql,omitempty"`

	// Behavior configures simulated network conditions.
	Behavior *BehaviorConfig `json:"behavior,omitempty" yaml:"behavior,omitempty"`
}

// ServerConfig holds per-service listener configuration.
type ServerConfig struct {
	// Port pins the listening port. Zero means the manager allocates one.
	Port int `json:"port,omitempty" yaml:"port,omitempty"`

	// BasePath prefixes every declared route. Defaults to "/".
	BasePath string `json:"base_path,omitempty" yaml:"base_path,omitempty"`

	// ProxyBaseURL forwards unmatched requests to an upstream when set.
	ProxyBaseURL string `json:"proxy_base_url,omitempty" yaml:"proxy_base_url,omitempty"`

	// CORS enables cross-origin headers and preflight handling.
	CORS *CORSConfig `json:"cors,omitempty" yaml:"cors,omitempty"`

	// RecordUnknown passes unmatched requests through for capture instead
	// of returning 404. Only meaningful together with ProxyBaseURL.
	RecordUnknown bool `json:"record_unknown,omitempty" yaml:"record_unknown,omitempty"`
}

// CORSConfig lists the allowed cross-origin parameters.
type CORSConfig struct {
	Origins []string `json:"origins,omitempty" yaml:"origins,omitempty"`
	Methods []string `json:"methods,omitempty" yaml:"methods,omitempty"`
	Headers []string `json:"headers,omitempty" yaml:"headers,omitempty"`
}

// EndpointDefinition is one method+path route with its candidate responses.
// Either Responses (status-keyed) or Scenarios (strategy-selected) is set.
type EndpointDefinition struct {
	// Kind defaults to http.
	Kind EndpointKind `json:"kind,omitempty" yaml:"kind,omitempty"`

	Method string `json:"method" yaml:"method"`

	// Path may contain named parameters, e.g. /users/{id}.
	Path string `json:"path" yaml:"path"`

	// HeaderMatch restricts matching to requests carrying these headers.
	HeaderMatch map[string]string `json:"header_match,omitempty" yaml:"header_match,omitempty"`

	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Parameters documents path/query parameters (informational).
	Parameters map[string]string `json:"parameters,omitempty" yaml:"parameters,omitempty"`

	// RequestBody is a JSON Schema validated against incoming bodies.
	RequestBody map[string]any `json:"request_body,omitempty" yaml:"request_body,omitempty"`

	// Responses maps status code to the response served for it.
	Responses ResponseMap `json:"responses,omitempty" yaml:"responses,omitempty"`

	// Scenarios are consumed via the scenario strategy on successive calls.
	Scenarios []Scenario `json:"scenarios,omitempty" yaml:"scenarios,omitempty"`

	// Stream configures event delivery for stream-kind endpoints.
	Stream *StreamConfig `json:"stream,omitempty" yaml:"stream,omitempty"`
}

// ResponseDefinition describes one canned or computed response.
type ResponseDefinition struct {
	// Condition is an expression evaluated against the request context;
	// the response is only eligible when it is truthy.
	Condition string `json:"condition,omitempty" yaml:"condition,omitempty"`

	ContentType string `json:"content_type,omitempty" yaml:"content_type,omitempty"`

	// Body is the literal or templated response body. Structured YAML/JSON
	// values are accepted and stored as their JSON encoding.
	Body Body `json:"body,omitempty" yaml:"body,omitempty"`

	// Script computes a dynamic body, overriding Body when set.
	Script string `json:"script,omitempty" yaml:"script,omitempty"`

	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`

	// SideEffects are state mutations applied when this response is served.
	SideEffects []SideEffect `json:"side_effects,omitempty" yaml:"side_effects,omitempty"`
}

// Scenario is a named, optionally conditioned response variant.
type Scenario struct {
	Name       string              `json:"name,omitempty" yaml:"name,omitempty"`
	Conditions *ScenarioConditions `json:"conditions,omitempty" yaml:"conditions,omitempty"`
	Response   ScenarioResponse    `json:"response" yaml:"response"`
}

// ScenarioConditions gate a scenario on request properties.
// All present clauses must hold.
type ScenarioConditions struct {
	Query   map[string]string `json:"query,omitempty" yaml:"query,omitempty"`
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	Body    map[string]any    `json:"body,omitempty" yaml:"body,omitempty"`

	// BodyPath maps JSONPath expressions to expected values in the body.
	BodyPath map[string]any `json:"body_path,omitempty" yaml:"body_path,omitempty"`
}

// ScenarioResponse pairs a status code with a response definition.
type ScenarioResponse struct {
	Status             int `json:"status" yaml:"status"`
	ResponseDefinition `yaml:",inline"`
}

// SideEffectAction names a declared state mutation.
type SideEffectAction string

const (
	ActionAddToFixture      SideEffectAction = "add_to_fixture"
	ActionUpdateFixture     SideEffectAction = "update_fixture"
	ActionRemoveFromFixture SideEffectAction = "remove_from_fixture"
	ActionSetBucket         SideEffectAction = "set_bucket"
	ActionRemoveBucket      SideEffectAction = "remove_bucket"
	ActionSetRuntimeData    SideEffectAction = "set_runtime_data"
	ActionRemoveRuntimeData SideEffectAction = "remove_runtime_data"
)

// SideEffect declares a fixture/bucket mutation triggered by a response.
type SideEffect struct {
	Action SideEffectAction `json:"action" yaml:"action"`

	// Target is the fixture or bucket key to mutate.
	Target string `json:"target" yaml:"target"`

	// Value is the templated value to apply. Rendered, then parsed as JSON.
	Value Body `json:"value,omitempty" yaml:"value,omitempty"`
}

// BehaviorConfig holds simulated-condition parameters.
type BehaviorConfig struct {
	Latency         *LatencyConfig         `json:"latency,omitempty" yaml:"latency,omitempty"`
	ErrorSimulation *ErrorSimulationConfig `json:"error_simulation,omitempty" yaml:"error_simulation,omitempty"`
	RateLimiting    *RateLimitingConfig    `json:"rate_limiting,omitempty" yaml:"rate_limiting,omitempty"`
}

// LatencyConfig injects a uniform random delay per request.
type LatencyConfig struct {
	MinMs int `json:"min_ms" yaml:"min_ms"`
	MaxMs int `json:"max_ms" yaml:"max_ms"`
}

// ErrorSimulationConfig short-circuits a fraction of requests with errors.
type ErrorSimulationConfig struct {
	// Rate is the error probability in [0,1].
	Rate float64 `json:"rate" yaml:"rate"`

	// Codes are the statuses drawn from. Defaults to 500.
	Codes []int `json:"codes,omitempty" yaml:"codes,omitempty"`
}

// RateLimitingConfig bounds request volume per fixed one-minute window.
type RateLimitingConfig struct {
	RequestsPerMinute int `json:"requests_per_minute" yaml:"requests_per_minute"`
}

// StreamConfig describes events emitted by a stream-kind endpoint.
type StreamConfig struct {
	Events     []StreamEvent `json:"events,omitempty" yaml:"events,omitempty"`
	IntervalMs int           `json:"interval_ms,omitempty" yaml:"interval_ms,omitempty"`
	Repeat     bool          `json:"repeat,omitempty" yaml:"repeat,omitempty"`
}

// StreamEvent is one server-sent event.
type StreamEvent struct {
	Event   string `json:"event,omitempty" yaml:"event,omitempty"`
	Data    Body   `json:"data" yaml:"data"`
	DelayMs int    `json:"delay_ms,omitempty" yaml:"delay_ms,omitempty"`
}

// GraphQLConfig points at an SDL schema and per-operation mock templates.
type GraphQLConfig struct {
	SchemaPath string `json:"schema_path" yaml:"schema_path"`

	// Mocks maps operation name to a template file path.
	Mocks map[string]string `json:"mocks,omitempty" yaml:"mocks,omitempty"`
}

// KindOf returns the endpoint kind, applying the http default.
func (e *EndpointDefinition) KindOf() EndpointKind {
	if e.Kind == "" {
		return KindHTTP
	}
	return e.Kind
}

// BasePathOrDefault returns the configured base path or "/".
func (s *ServerConfig) BasePathOrDefault() string {
	if s.BasePath == "" {
		return "/"
	}
	return s.BasePath
}
