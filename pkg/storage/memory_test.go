package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/apipulse/pulsed/pkg/definition"
	"github.com/apipulse/pulsed/pkg/requestlog"
)

func TestServiceCRUD(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewMemoryStore()

	if _, err := s.LoadService(ctx, "users"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("load missing: %v, want ErrNotFound", err)
	}

	def := &definition.ServiceDefinition{Name: "users"}
	if err := s.SaveService(ctx, def); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveService(ctx, &definition.ServiceDefinition{Name: "orders"}); err != nil {
		t.Fatal(err)
	}

	got, err := s.LoadService(ctx, "users")
	if err != nil || got.Name != "users" {
		t.Fatalf("load = %v, %v", got, err)
	}

	names, err := s.ListServices(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 2 || names[0] != "orders" || names[1] != "users" {
		t.Fatalf("names = %v, want sorted [orders users]", names)
	}

	if err := s.DeleteService(ctx, "users"); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteService(ctx, "users"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second delete: %v, want ErrNotFound", err)
	}
}

func TestLogQuery(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewMemoryStore()

	add := func(service, method, path string, status int) {
		e := requestlog.NewEntry(service, method, path, status, time.Millisecond)
		if err := s.AppendLog(ctx, e); err != nil {
			t.Fatal(err)
		}
	}
	add("users", "GET", "/users", 200)
	add("users", "POST", "/users", 201)
	add("orders", "GET", "/orders/7", 404)

	got, err := s.QueryLogs(ctx, LogQuery{Service: "users"})
	if err != nil || len(got) != 2 {
		t.Fatalf("by service: %d entries, err %v", len(got), err)
	}
	// Newest first.
	if got[0].Method != "POST" {
		t.Fatalf("first = %s, want POST", got[0].Method)
	}

	got, _ = s.QueryLogs(ctx, LogQuery{Route: "/orders/7"})
	if len(got) != 1 || got[0].Service != "orders" {
		t.Fatalf("by route: %v", got)
	}

	got, _ = s.QueryLogs(ctx, LogQuery{Status: 404})
	if len(got) != 1 || got[0].Service != "orders" {
		t.Fatalf("by status: %v", got)
	}

	got, _ = s.QueryLogs(ctx, LogQuery{Limit: 1, Offset: 1})
	if len(got) != 1 {
		t.Fatalf("paged: %d entries", len(got))
	}

	if err := s.ClearLogs(ctx); err != nil {
		t.Fatal(err)
	}
	got, _ = s.QueryLogs(ctx, LogQuery{})
	if len(got) != 0 {
		t.Fatalf("after clear: %d entries", len(got))
	}
}
