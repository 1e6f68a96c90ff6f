// Package storage defines the persistence port for service definitions and
// request logs, plus the in-memory reference implementation used when no SQL
// backend is configured.
package storage

import (
	"context"
	"errors"

	"github.com/apipulse/pulsed/pkg/definition"
	"github.com/apipulse/pulsed/pkg/requestlog"
)

// ErrNotFound is returned when the named record does not exist.
var ErrNotFound = errors.New("not found")

// Backend names a storage implementation in configuration.
type Backend string

const (
	// BackendMemory keeps everything in process memory.
	BackendMemory Backend = "memory"

	// BackendSQLite persists to a local SQLite database. The SQL
	// implementation lives outside this module; a log row is
	// (id, ISO-8601 timestamp, service, nullable endpoint index, method,
	// path, status).
	BackendSQLite Backend = "sqlite"
)

// LogQuery narrows QueryLogs. Zero values mean "any".
type LogQuery struct {
	Service string
	Route   string
	Method  string
	Status  int
	Limit   int
	Offset  int
}

// Store persists service definitions and request logs. Implementations must
// be safe for concurrent use.
type Store interface {
	SaveService(ctx context.Context, def *definition.ServiceDefinition) error
	LoadService(ctx context.Context, name string) (*definition.ServiceDefinition, error)
	ListServices(ctx context.Context) ([]string, error)
	DeleteService(ctx context.Context, name string) error

	AppendLog(ctx context.Context, e *requestlog.Entry) error
	QueryLogs(ctx context.Context, q LogQuery) ([]*requestlog.Entry, error)
	ClearLogs(ctx context.Context) error
}
