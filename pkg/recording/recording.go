// Package recording captures live traffic against an upstream API and
// converts the captured exchanges into a service definition, so a real API
// can be snapshotted into a simulation.
package recording

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/apipulse/pulsed/pkg/definition"
	"github.com/apipulse/pulsed/pkg/pulseerr"
)

// Capture is one recorded request/response exchange.
type Capture struct {
	ID              string            `json:"id"`
	Timestamp       time.Time         `json:"timestamp"`
	Method          string            `json:"method"`
	Path            string            `json:"path"`
	Query           map[string]string `json:"query,omitempty"`
	RequestHeaders  map[string]string `json:"request_headers,omitempty"`
	RequestBody     string            `json:"request_body,omitempty"`
	Status          int               `json:"status"`
	ResponseHeaders map[string]string `json:"response_headers,omitempty"`
	ResponseBody    string            `json:"response_body,omitempty"`
	ContentType     string            `json:"content_type,omitempty"`
}

// Proxy forwards requests to a target URL while recording each exchange.
type Proxy struct {
	target  *url.URL
	reverse *httputil.ReverseProxy

	mu       sync.Mutex
	captures []*Capture
}

// NewProxy builds a recording proxy for targetURL.
func NewProxy(targetURL string) (*Proxy, error) {
	target, err := url.Parse(targetURL)
	if err != nil || target.Scheme == "" || target.Host == "" {
		return nil, pulseerr.Config("invalid record target URL "+targetURL,
			"use an absolute URL like https://api.example.com")
	}
	p := &Proxy{target: target}
	p.reverse = httputil.NewSingleHostReverseProxy(target)
	p.reverse.ModifyResponse = p.captureResponse
	return p, nil
}

// ServeHTTP records the request and forwards it upstream.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c := &Capture{
		ID:             uuid.NewString(),
		Timestamp:      time.Now().UTC(),
		Method:         r.Method,
		Path:           r.URL.Path,
		Query:          flatten(r.URL.Query()),
		RequestHeaders: flattenHeader(r.Header),
	}
	if r.Body != nil {
		raw, _ := io.ReadAll(r.Body)
		c.RequestBody = string(raw)
		r.Body = io.NopCloser(bytes.NewReader(raw))
	}
	ctx := withCapture(r.Context(), c)
	p.reverse.ServeHTTP(w, r.WithContext(ctx))
}

func (p *Proxy) captureResponse(resp *http.Response) error {
	c, ok := captureFrom(resp.Request.Context())
	if !ok {
		return nil
	}
	c.Status = resp.StatusCode
	c.ResponseHeaders = flattenHeader(resp.Header)
	c.ContentType = resp.Header.Get("Content-Type")

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	resp.Body = io.NopCloser(bytes.NewReader(raw))
	c.ResponseBody = string(raw)

	p.mu.Lock()
	p.captures = append(p.captures, c)
	p.mu.Unlock()
	return nil
}

// Captures returns a copy of everything recorded so far.
func (p *Proxy) Captures() []*Capture {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Capture, len(p.captures))
	copy(out, p.captures)
	return out
}

// Convert folds captures into a service definition: one endpoint per unique
// method+path, responses keyed by observed status. The first capture for a
// status wins; later duplicates are ignored.
func Convert(captures []*Capture, serviceName string) *definition.ServiceDefinition {
	def := &definition.ServiceDefinition{
		Name:        serviceName,
		Description: "recorded from live traffic",
		Server:      definition.ServerConfig{BasePath: "/"},
	}

	type key struct{ method, path string }
	index := map[key]int{}
	for _, c := range captures {
		k := key{strings.ToUpper(c.Method), c.Path}
		i, ok := index[k]
		if !ok {
			def.Endpoints = append(def.Endpoints, definition.EndpointDefinition{
				Method:    k.method,
				Path:      c.Path,
				Responses: definition.ResponseMap{},
			})
			i = len(def.Endpoints) - 1
			index[k] = i
		}
		ep := &def.Endpoints[i]
		if _, seen := ep.Responses[c.Status]; seen {
			continue
		}
		ep.Responses[c.Status] = definition.ResponseDefinition{
			ContentType: c.ContentType,
			Body:        definition.Body(c.ResponseBody),
		}
	}
	return def
}

// WriteDefinition saves def as <name>.yaml under outputDir.
func WriteDefinition(def *definition.ServiceDefinition, outputDir string) (string, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", pulseerr.FileSystem("cannot create output directory "+outputDir, err)
	}
	raw, err := yaml.Marshal(def)
	if err != nil {
		return "", pulseerr.Wrap(pulseerr.KindConfiguration, "cannot encode recorded definition", err)
	}
	path := filepath.Join(outputDir, filepath.Base(def.Name)+".yaml")
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return "", pulseerr.FileSystem("cannot write "+path, err)
	}
	return path, nil
}

func flatten(values url.Values) map[string]string {
	if len(values) == 0 {
		return nil
	}
	out := make(map[string]string, len(values))
	for k, v := range values {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}

func flattenHeader(h http.Header) map[string]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}
