// Package importer converts third-party API description formats into
// service definitions, so an existing contract can be simulated without
// writing a definition by hand.
package importer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/apipulse/pulsed/pkg/definition"
	"github.com/apipulse/pulsed/pkg/pulseerr"
)

// FromOpenAPIFile loads an OpenAPI 3.x document from disk and converts it.
func FromOpenAPIFile(path string) (*definition.ServiceDefinition, error) {
	loader := openapi3.NewLoader()
	loader.IsExternalRefsAllowed = true
	doc, err := loader.LoadFromFile(path)
	if err != nil {
		return nil, pulseerr.Parsing(path, err)
	}
	return FromOpenAPI(doc)
}

// FromOpenAPIData converts an in-memory OpenAPI 3.x document (JSON or YAML).
func FromOpenAPIData(data []byte) (*definition.ServiceDefinition, error) {
	loader := openapi3.NewLoader()
	loader.IsExternalRefsAllowed = true
	doc, err := loader.LoadFromData(data)
	if err != nil {
		return nil, pulseerr.Wrap(pulseerr.KindParsing, "failed to parse OpenAPI document", err)
	}
	return FromOpenAPI(doc)
}

// FromOpenAPI converts a loaded document into a service definition: one
// endpoint per path+method, responses keyed by declared status, bodies taken
// from the document's examples where present. Paths are emitted in sorted
// order so repeated imports produce identical files.
func FromOpenAPI(doc *openapi3.T) (*definition.ServiceDefinition, error) {
	if err := doc.Validate(context.Background()); err != nil {
		return nil, &pulseerr.Error{
			Kind:       pulseerr.KindConfiguration,
			Message:    "invalid OpenAPI document",
			Suggestion: "fix the validation errors reported by the loader",
			Err:        err,
		}
	}

	def := &definition.ServiceDefinition{
		Server: definition.ServerConfig{BasePath: basePath(doc)},
	}
	if doc.Info != nil {
		def.Name = serviceName(doc.Info.Title)
		def.Version = doc.Info.Version
		def.Description = doc.Info.Description
	}
	if def.Name == "" {
		def.Name = "imported-service"
	}

	if doc.Components != nil && len(doc.Components.Schemas) > 0 {
		def.Models = make(map[string]any, len(doc.Components.Schemas))
		for name, ref := range doc.Components.Schemas {
			if m := schemaToMap(ref); m != nil {
				def.Models[name] = m
			}
		}
	}

	var paths map[string]*openapi3.PathItem
	if doc.Paths != nil {
		paths = doc.Paths.Map()
	}
	keys := make([]string, 0, len(paths))
	for p := range paths {
		keys = append(keys, p)
	}
	sort.Strings(keys)

	for _, path := range keys {
		item := paths[path]
		for _, entry := range []struct {
			method string
			op     *openapi3.Operation
		}{
			{"GET", item.Get},
			{"POST", item.Post},
			{"PUT", item.Put},
			{"PATCH", item.Patch},
			{"DELETE", item.Delete},
			{"HEAD", item.Head},
			{"OPTIONS", item.Options},
		} {
			if entry.op == nil {
				continue
			}
			def.Endpoints = append(def.Endpoints, convertOperation(path, entry.method, entry.op))
		}
	}

	if len(def.Endpoints) == 0 {
		return nil, pulseerr.Config("OpenAPI document declares no operations",
			"add at least one path with an operation")
	}
	return def, nil
}

func convertOperation(path, method string, op *openapi3.Operation) definition.EndpointDefinition {
	ep := definition.EndpointDefinition{
		Method:      method,
		Path:        path,
		Description: op.Summary,
	}
	if ep.Description == "" {
		ep.Description = op.Description
	}

	for _, ref := range op.Parameters {
		p := ref.Value
		if p == nil || p.In == "cookie" {
			continue
		}
		if ep.Parameters == nil {
			ep.Parameters = make(map[string]string)
		}
		ep.Parameters[p.Name] = fmt.Sprintf("%s %s", p.In, paramType(p))
	}

	if op.RequestBody != nil && op.RequestBody.Value != nil {
		if media := jsonContent(op.RequestBody.Value.Content); media != nil {
			ep.RequestBody = schemaToMap(media.Schema)
		}
	}

	ep.Responses = convertResponses(op)
	return ep
}

func convertResponses(op *openapi3.Operation) definition.ResponseMap {
	out := make(definition.ResponseMap)
	if op.Responses == nil {
		return out
	}
	var fallback *definition.ResponseDefinition
	for status, ref := range op.Responses.Map() {
		if ref == nil || ref.Value == nil {
			continue
		}
		resp := convertResponse(ref.Value)
		code, err := strconv.Atoi(status)
		if err != nil {
			// "default" and range keys like "5XX" have no single status.
			fallback = &resp
			continue
		}
		out[code] = resp
	}
	// An operation with only a "default" response still needs something to
	// serve, so it lands on 200.
	if len(out) == 0 && fallback != nil {
		out[200] = *fallback
	}
	return out
}

func convertResponse(resp *openapi3.Response) definition.ResponseDefinition {
	out := definition.ResponseDefinition{ContentType: "application/json"}

	var media *openapi3.MediaType
	for _, ct := range sortedKeys(resp.Content) {
		if strings.HasPrefix(ct, "application/json") {
			out.ContentType = ct
			media = resp.Content[ct]
			break
		}
		if media == nil {
			out.ContentType = ct
			media = resp.Content[ct]
		}
	}

	if body, ok := exampleBody(media); ok {
		out.Body = body
		return out
	}
	if resp.Description != nil {
		out.Body = definition.Body(*resp.Description)
		out.ContentType = "text/plain"
	}
	return out
}

// jsonContent picks the application/json-prefixed media type entry,
// falling back to the first key in sorted order.
func jsonContent(content openapi3.Content) *openapi3.MediaType {
	var media *openapi3.MediaType
	for _, ct := range sortedKeys(content) {
		if strings.HasPrefix(ct, "application/json") {
			return content[ct]
		}
		if media == nil {
			media = content[ct]
		}
	}
	return media
}

// exampleBody digs the most specific example out of a media type entry:
// the inline example, then the first named example, then the schema's own.
func exampleBody(media *openapi3.MediaType) (definition.Body, bool) {
	if media == nil {
		return "", false
	}
	if media.Example != nil {
		return encodeExample(media.Example)
	}
	for _, name := range sortedKeys(media.Examples) {
		ex := media.Examples[name]
		if ex != nil && ex.Value != nil && ex.Value.Value != nil {
			return encodeExample(ex.Value.Value)
		}
	}
	if media.Schema != nil && media.Schema.Value != nil && media.Schema.Value.Example != nil {
		return encodeExample(media.Schema.Value.Example)
	}
	return "", false
}

func encodeExample(v any) (definition.Body, bool) {
	if s, ok := v.(string); ok {
		return definition.Body(s), true
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return "", false
	}
	return definition.Body(raw), true
}

func schemaToMap(ref *openapi3.SchemaRef) map[string]any {
	if ref == nil || ref.Value == nil {
		return nil
	}
	raw, err := json.Marshal(ref.Value)
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return m
}

func paramType(p *openapi3.Parameter) string {
	if p.Schema != nil && p.Schema.Value != nil && p.Schema.Value.Type != nil {
		if types := p.Schema.Value.Type.Slice(); len(types) > 0 {
			return types[0]
		}
	}
	return "string"
}

// basePath derives the route prefix from the first server entry.
func basePath(doc *openapi3.T) string {
	if len(doc.Servers) == 0 {
		return ""
	}
	u, err := url.Parse(doc.Servers[0].URL)
	if err != nil || u.Path == "" || u.Path == "/" {
		return ""
	}
	return strings.TrimSuffix(u.Path, "/")
}

// serviceName slugs a document title into a usable service name.
func serviceName(title string) string {
	slug := strings.ToLower(strings.TrimSpace(title))
	slug = strings.Join(strings.Fields(slug), "-")
	return slug
}

func sortedKeys[M ~map[string]V, V any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
