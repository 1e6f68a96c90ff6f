// Package graphql serves graphql-kind endpoints: the schema SDL on GET and
// per-operation mock responses on POST.
package graphql

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"

	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"

	"github.com/apipulse/pulsed/pkg/definition"
	"github.com/apipulse/pulsed/pkg/pulseerr"
)

// Mocks holds a parsed schema and the mock bodies keyed by operation name.
type Mocks struct {
	Schema     string
	Operations map[string]string
}

// Load reads and validates the schema referenced by cfg. The SDL must parse
// cleanly or loading fails with a Configuration-kind error pointing at the
// file.
func Load(cfg *definition.GraphQLConfig, baseDir string) (*Mocks, error) {
	if cfg == nil {
		return nil, pulseerr.Config("graphql block missing", "add a graphql section with schema_path")
	}
	path := cfg.SchemaPath
	if !filepath.IsAbs(path) {
		path = filepath.Join(baseDir, path)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &pulseerr.Error{
			Kind:       pulseerr.KindFileSystem,
			Message:    "cannot read graphql schema " + path,
			Suggestion: "check that schema_path points at an existing file",
			Err:        err,
		}
	}
	if _, gqlErr := gqlparser.LoadSchema(&ast.Source{Name: path, Input: string(raw)}); gqlErr != nil {
		return nil, &pulseerr.Error{
			Kind:       pulseerr.KindConfiguration,
			Message:    "invalid graphql schema " + path,
			Suggestion: "fix the SDL syntax errors reported below",
			Err:        gqlErr,
		}
	}
	ops := make(map[string]string, len(cfg.Mocks))
	for name, body := range cfg.Mocks {
		ops[name] = body
	}
	return &Mocks{Schema: string(raw), Operations: ops}, nil
}

// RenderFunc expands {{…}} placeholders in a mock body. The router supplies
// its template machinery so graphql mocks behave like any other response.
type RenderFunc func(template string) string

type postRequest struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName"`
	Variables     map[string]any `json:"variables"`
}

// Handler serves one graphql endpoint. GET returns the SDL as text; POST
// looks up the mock for operationName and returns it as the "data" envelope.
func (m *Mocks) Handler(render RenderFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.Write([]byte(m.Schema)) //nolint:errcheck

		case http.MethodPost:
			var req postRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeGraphQLError(w, http.StatusBadRequest, "invalid request body")
				return
			}
			if req.OperationName == "" {
				writeGraphQLError(w, http.StatusBadRequest, "operationName is required")
				return
			}
			mock, ok := m.Operations[req.OperationName]
			if !ok {
				writeGraphQLError(w, http.StatusBadRequest, "no mock for operation "+req.OperationName)
				return
			}
			if render != nil {
				mock = render(mock)
			}
			var data any
			if err := json.Unmarshal([]byte(mock), &data); err != nil {
				// Mock bodies that are not JSON pass through as strings.
				data = mock
			}
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]any{"data": data}) //nolint:errcheck

		default:
			writeGraphQLError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	})
}

func writeGraphQLError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
		"errors": []map[string]string{{"message": msg}},
	})
}
