// Package requestlog captures every request served by a running instance so
// users can introspect what their clients actually sent.
package requestlog

import (
	"time"

	"github.com/google/uuid"
)

// Entry is one logged request/response pair.
type Entry struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	Service    string    `json:"service"`
	Endpoint   *int      `json:"endpoint,omitempty"`
	Method     string    `json:"method"`
	Path       string    `json:"path"`
	Status     int       `json:"status"`
	DurationMs float64   `json:"duration_ms"`
	Payload    any       `json:"payload,omitempty"`
}

// NewEntry stamps a fresh entry with an ID and the current time.
func NewEntry(service, method, path string, status int, duration time.Duration) *Entry {
	return &Entry{
		ID:         uuid.NewString(),
		Timestamp:  time.Now().UTC(),
		Service:    service,
		Method:     method,
		Path:       path,
		Status:     status,
		DurationMs: float64(duration.Microseconds()) / 1000,
	}
}

// Filter narrows a List query. Zero values mean "any".
type Filter struct {
	Service string
	Route   string
	Method  string
	Status  int
	Limit   int
	Offset  int
}

func (f Filter) matches(e *Entry) bool {
	if f.Service != "" && e.Service != f.Service {
		return false
	}
	if f.Route != "" && e.Path != f.Route {
		return false
	}
	if f.Method != "" && e.Method != f.Method {
		return false
	}
	if f.Status != 0 && e.Status != f.Status {
		return false
	}
	return true
}

// Store is the request log port. Implementations must be safe for concurrent
// use by the serving path and introspection readers.
type Store interface {
	Log(e *Entry)
	Get(id string) (*Entry, bool)
	List(f Filter) []*Entry
	Clear()
	Count() int
}
