package definition

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/apipulse/pulsed/pkg/pulseerr"
)

// ValidationResult collects every schema violation found in one definition.
type ValidationResult struct {
	Errors []*pulseerr.Error
}

// IsValid reports whether no violations were found.
func (r *ValidationResult) IsValid() bool { return len(r.Errors) == 0 }

// Err returns the first violation, or nil when valid.
func (r *ValidationResult) Err() error {
	if len(r.Errors) == 0 {
		return nil
	}
	return r.Errors[0]
}

// Error joins all violations into one message.
func (r *ValidationResult) Error() string {
	msgs := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		msgs = append(msgs, e.Error())
	}
	return strings.Join(msgs, "\n")
}

func (r *ValidationResult) add(field, message, suggestion string) {
	r.Errors = append(r.Errors, pulseerr.Validation(field, message, suggestion))
}

// Validate checks the definition's schema: non-empty name, a sane server
// block, at least one endpoint, and recursively each endpoint and the
// behavior block. It returns every violation, not just the first.
func (d *ServiceDefinition) Validate() *ValidationResult {
	result := &ValidationResult{}

	if strings.TrimSpace(d.Name) == "" {
		result.add("name", "must not be empty", "give the service a unique name")
	}

	d.validateServer(result)

	if len(d.Endpoints) == 0 {
		result.add("endpoints", "at least one endpoint is required",
			"declare an endpoints list with method, path, and responses")
	}
	for i := range d.Endpoints {
		d.Endpoints[i].validate(fmt.Sprintf("endpoints[%d]", i), result)
	}

	if d.Behavior != nil {
		d.Behavior.validate("behavior", result)
	}

	if d.GraphQL != nil && strings.TrimSpace(d.GraphQL.SchemaPath) == "" {
		result.add("graphql.schema_path", "must not be empty",
			"point schema_path at an SDL file")
	}

	return result
}

func (d *ServiceDefinition) validateServer(result *ValidationResult) {
	if d.Server.Port < 0 || d.Server.Port > 65535 {
		result.add("server.port", fmt.Sprintf("invalid port %d", d.Server.Port),
			"use a port between 1 and 65535, or omit it to auto-allocate")
	}
	if d.Server.BasePath != "" && !strings.HasPrefix(d.Server.BasePath, "/") {
		result.add("server.base_path", "must start with '/'",
			"use an absolute path like /api/v1")
	}
	if d.Server.ProxyBaseURL != "" {
		u, err := url.Parse(d.Server.ProxyBaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			result.add("server.proxy_base_url", "must be an absolute URL",
				"use a URL like http://localhost:8080")
		}
	}
}

func (e *EndpointDefinition) validate(path string, result *ValidationResult) {
	switch e.KindOf() {
	case KindHTTP, KindStream, KindGraphQL:
	default:
		result.add(path+".kind", fmt.Sprintf("unknown kind %q", e.Kind),
			"use http, stream, or graphql")
	}

	if strings.TrimSpace(e.Method) == "" {
		result.add(path+".method", "must not be empty", "use GET, POST, PUT, PATCH, or DELETE")
	}
	if !strings.HasPrefix(e.Path, "/") {
		result.add(path+".path", "must start with '/'", "use a route like /users/{id}")
	}

	if len(e.Responses) == 0 && len(e.Scenarios) == 0 && e.Stream == nil {
		result.add(path, "endpoint declares no responses, scenarios, or stream",
			"add a responses map or a scenarios list")
	}
	for code := range e.Responses {
		if code < 100 || code > 599 {
			result.add(fmt.Sprintf("%s.responses[%d]", path, code),
				"status code out of range", "use a status between 100 and 599")
		}
	}
	for i, sc := range e.Scenarios {
		// An omitted status defaults to 200 at serve time.
		if sc.Response.Status != 0 && (sc.Response.Status < 100 || sc.Response.Status > 599) {
			result.add(fmt.Sprintf("%s.scenarios[%d].response.status", path, i),
				fmt.Sprintf("status code %d out of range", sc.Response.Status),
				"use a status between 100 and 599, or omit it to default to 200")
		}
	}

	if e.KindOf() == KindStream && e.Stream != nil && len(e.Stream.Events) == 0 {
		result.add(path+".stream.events", "stream endpoint declares no events",
			"add at least one event")
	}
}

func (b *BehaviorConfig) validate(path string, result *ValidationResult) {
	if b.Latency != nil {
		if b.Latency.MinMs < 0 {
			result.add(path+".latency.min_ms", "must be >= 0", "")
		}
		if b.Latency.MinMs > b.Latency.MaxMs {
			result.add(path+".latency.min_ms",
				fmt.Sprintf("min_ms (%d) must be <= max_ms (%d)", b.Latency.MinMs, b.Latency.MaxMs),
				"swap the bounds")
		}
	}
	if b.ErrorSimulation != nil {
		if b.ErrorSimulation.Rate < 0 || b.ErrorSimulation.Rate > 1 {
			result.add(path+".error_simulation.rate",
				fmt.Sprintf("must be between 0.0 and 1.0, got %v", b.ErrorSimulation.Rate), "")
		}
		for i, code := range b.ErrorSimulation.Codes {
			if code < 400 || code > 599 {
				result.add(fmt.Sprintf("%s.error_simulation.codes[%d]", path, i),
					fmt.Sprintf("%d is not an error status", code),
					"use a 4xx or 5xx status")
			}
		}
	}
	if b.RateLimiting != nil && b.RateLimiting.RequestsPerMinute <= 0 {
		result.add(path+".rate_limiting.requests_per_minute",
			fmt.Sprintf("must be > 0, got %d", b.RateLimiting.RequestsPerMinute), "")
	}
}
