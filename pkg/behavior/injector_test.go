package behavior

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/apipulse/pulsed/pkg/definition"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestNilConfigPassesThrough(t *testing.T) {
	t.Parallel()

	h := New(nil).Middleware(okHandler())
	for i := 0; i < 10; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d", i, rec.Code)
		}
	}
}

func TestRateLimitRejectsOverBudget(t *testing.T) {
	t.Parallel()

	inj := New(&definition.BehaviorConfig{
		RateLimiting: &definition.RateLimitingConfig{RequestsPerMinute: 5},
	})
	h := inj.Middleware(okHandler())

	var accepted, rejected int
	for i := 0; i < 6; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		switch rec.Code {
		case http.StatusOK:
			accepted++
		case http.StatusTooManyRequests:
			rejected++
			if rec.Header().Get("Retry-After") == "" {
				t.Fatal("429 without Retry-After")
			}
		default:
			t.Fatalf("unexpected status %d", rec.Code)
		}
	}
	if accepted != 5 || rejected != 1 {
		t.Fatalf("accepted=%d rejected=%d, want 5/1", accepted, rejected)
	}
	if got := inj.Stats().RateLimited; got != 1 {
		t.Fatalf("stats.RateLimited = %d, want 1", got)
	}
}

func TestRateLimitWindowResets(t *testing.T) {
	t.Parallel()

	inj := New(&definition.BehaviorConfig{
		RateLimiting: &definition.RateLimitingConfig{RequestsPerMinute: 1},
	})

	base := time.Now()
	if _, limited := inj.takeToken(base); limited {
		t.Fatal("first request limited")
	}
	if _, limited := inj.takeToken(base.Add(time.Second)); !limited {
		t.Fatal("second request in window not limited")
	}
	if _, limited := inj.takeToken(base.Add(Window + time.Second)); limited {
		t.Fatal("request in next window limited")
	}
}

func TestErrorInjectionAlways(t *testing.T) {
	t.Parallel()

	inj := New(&definition.BehaviorConfig{
		ErrorSimulation: &definition.ErrorSimulationConfig{Rate: 1.0, Codes: []int{503}},
	})
	h := inj.Middleware(okHandler())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestErrorInjectionDefaultsTo500(t *testing.T) {
	t.Parallel()

	inj := New(&definition.BehaviorConfig{
		ErrorSimulation: &definition.ErrorSimulationConfig{Rate: 1.0},
	})
	h := inj.Middleware(okHandler())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}

func TestErrorInjectionNever(t *testing.T) {
	t.Parallel()

	inj := New(&definition.BehaviorConfig{
		ErrorSimulation: &definition.ErrorSimulationConfig{Rate: 0},
	})
	h := inj.Middleware(okHandler())

	for i := 0; i < 50; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("rate 0 injected an error (status %d)", rec.Code)
		}
	}
}

func TestShortCircuitHookObservesRejections(t *testing.T) {
	t.Parallel()

	var statuses []int
	hook := WithShortCircuitHook(func(_ *http.Request, status int, _ time.Duration) {
		statuses = append(statuses, status)
	})

	inj := New(&definition.BehaviorConfig{
		RateLimiting: &definition.RateLimitingConfig{RequestsPerMinute: 1},
	}, hook)
	h := inj.Middleware(okHandler())
	for i := 0; i < 3; i++ {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	}
	if len(statuses) != 2 || statuses[0] != http.StatusTooManyRequests {
		t.Fatalf("hook saw %v, want two 429s", statuses)
	}

	statuses = nil
	inj = New(&definition.BehaviorConfig{
		ErrorSimulation: &definition.ErrorSimulationConfig{Rate: 1.0, Codes: []int{503}},
	}, hook)
	h = inj.Middleware(okHandler())
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if len(statuses) != 1 || statuses[0] != http.StatusServiceUnavailable {
		t.Fatalf("hook saw %v, want one 503", statuses)
	}
}

func TestLatencyDelaysRequest(t *testing.T) {
	t.Parallel()

	inj := New(&definition.BehaviorConfig{
		Latency: &definition.LatencyConfig{MinMs: 20, MaxMs: 20},
	})
	h := inj.Middleware(okHandler())

	start := time.Now()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Fatalf("request returned after %v, want ≥ 20ms", elapsed)
	}
	if got := inj.Stats().Delayed; got != 1 {
		t.Fatalf("stats.Delayed = %d, want 1", got)
	}
}

func TestStatsCountRequests(t *testing.T) {
	t.Parallel()

	inj := New(nil)
	h := inj.Middleware(okHandler())
	for i := 0; i < 3; i++ {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	}
	if got := inj.Stats().Requests; got != 3 {
		t.Fatalf("stats.Requests = %d, want 3", got)
	}
}
