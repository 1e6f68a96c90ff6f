// Package behavior injects configured latency, error responses, and rate
// limiting into a running service, so clients can exercise their retry and
// backoff paths against realistic conditions.
package behavior

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/apipulse/pulsed/pkg/definition"
)

// Stats counts what the injector has done since the instance started.
type Stats struct {
	Requests    int64 `json:"requests"`
	Delayed     int64 `json:"delayed"`
	ErrorsSent  int64 `json:"errors_sent"`
	RateLimited int64 `json:"rate_limited"`
}

// Injector applies a definition's behavior block to incoming requests in a
// fixed order: rate limit, then latency, then error injection. Steps without
// configuration are skipped entirely.
type Injector struct {
	latency   *definition.LatencyConfig
	errorSim  *definition.ErrorSimulationConfig
	rateLimit *definition.RateLimitingConfig

	onShortCircuit func(r *http.Request, status int, elapsed time.Duration)

	mu          sync.Mutex
	rng         *rand.Rand
	windowStart time.Time
	windowCount int
	stats       Stats
}

// Option configures an Injector.
type Option func(*Injector)

// WithShortCircuitHook registers fn to be called whenever the injector
// answers a request itself instead of passing it to the handler, either a
// rate-limit rejection or an injected error. The hook must not block.
func WithShortCircuitHook(fn func(r *http.Request, status int, elapsed time.Duration)) Option {
	return func(inj *Injector) { inj.onShortCircuit = fn }
}

// New builds an injector for cfg. A nil config yields an injector that
// passes every request through untouched.
func New(cfg *definition.BehaviorConfig, opts ...Option) *Injector {
	inj := &Injector{rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
	if cfg != nil {
		inj.latency = cfg.Latency
		inj.errorSim = cfg.ErrorSimulation
		inj.rateLimit = cfg.RateLimiting
	}
	for _, opt := range opts {
		opt(inj)
	}
	return inj
}

// Window is the rate limiting accounting period.
const Window = time.Minute

// Middleware wraps next with the injector's pipeline.
func (inj *Injector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		inj.countRequest()

		if retryAfter, limited := inj.takeToken(start); limited {
			w.Header().Set("Retry-After", fmt.Sprintf("%d", int(retryAfter.Seconds())+1))
			writeJSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
			inj.shortCircuited(r, http.StatusTooManyRequests, time.Since(start))
			return
		}

		if err := inj.sleep(r.Context()); err != nil {
			// Client went away mid-delay.
			return
		}

		if code, inject := inj.drawError(); inject {
			writeJSONError(w, code, "injected error")
			inj.shortCircuited(r, code, time.Since(start))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// takeToken records a request against the current fixed window. When the
// window's budget is exhausted it reports true along with the time remaining
// until the window resets. A fresh window starts exactly Window after the
// previous one began, so a budget of R guarantees at most R acceptances per
// window.
func (inj *Injector) takeToken(now time.Time) (time.Duration, bool) {
	if inj.rateLimit == nil || inj.rateLimit.RequestsPerMinute <= 0 {
		return 0, false
	}
	inj.mu.Lock()
	defer inj.mu.Unlock()

	if inj.windowStart.IsZero() || now.Sub(inj.windowStart) >= Window {
		inj.windowStart = now
		inj.windowCount = 0
	}
	if inj.windowCount >= inj.rateLimit.RequestsPerMinute {
		inj.stats.RateLimited++
		return Window - now.Sub(inj.windowStart), true
	}
	inj.windowCount++
	return 0, false
}

// sleep blocks for a uniform draw in [min,max] milliseconds, or returns
// early when ctx is done.
func (inj *Injector) sleep(ctx context.Context) error {
	if inj.latency == nil {
		return nil
	}
	min, max := inj.latency.MinMs, inj.latency.MaxMs
	if max < min {
		max = min
	}
	inj.mu.Lock()
	delay := min
	if max > min {
		delay = min + inj.rng.Intn(max-min+1)
	}
	inj.stats.Delayed++
	inj.mu.Unlock()

	if delay <= 0 {
		return nil
	}
	t := time.NewTimer(time.Duration(delay) * time.Millisecond)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// drawError decides whether to short-circuit this request with a configured
// error status. The draw is independent per request.
func (inj *Injector) drawError() (int, bool) {
	if inj.errorSim == nil || inj.errorSim.Rate <= 0 {
		return 0, false
	}
	inj.mu.Lock()
	defer inj.mu.Unlock()
	if inj.rng.Float64() >= inj.errorSim.Rate {
		return 0, false
	}
	inj.stats.ErrorsSent++
	codes := inj.errorSim.Codes
	if len(codes) == 0 {
		return http.StatusInternalServerError, true
	}
	return codes[inj.rng.Intn(len(codes))], true
}

func (inj *Injector) shortCircuited(r *http.Request, status int, elapsed time.Duration) {
	if inj.onShortCircuit != nil {
		inj.onShortCircuit(r, status, elapsed)
	}
}

func (inj *Injector) countRequest() {
	inj.mu.Lock()
	inj.stats.Requests++
	inj.mu.Unlock()
}

// Stats returns a copy of the injector's counters.
func (inj *Injector) Stats() Stats {
	inj.mu.Lock()
	defer inj.mu.Unlock()
	return inj.stats
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg}) //nolint:errcheck
}
