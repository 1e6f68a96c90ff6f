package sim

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/apipulse/pulsed/pkg/behavior"
	"github.com/apipulse/pulsed/pkg/definition"
	"github.com/apipulse/pulsed/pkg/pulseerr"
	"github.com/apipulse/pulsed/pkg/requestlog"
	"github.com/apipulse/pulsed/pkg/router"
	"github.com/apipulse/pulsed/pkg/state"
)

// Instance is one running simulated service: definition, state, router, and
// the HTTP server bound to its port.
type Instance struct {
	def    *definition.ServiceDefinition
	st     *state.State
	rt     *router.Router
	inj    *behavior.Injector
	logs   requestlog.Store
	logger *slog.Logger

	mu       sync.Mutex
	port     int
	listener net.Listener
	server   *http.Server
	running  bool
}

func newInstance(def *definition.ServiceDefinition, logger *slog.Logger, logs requestlog.Store, override func() string, baseDir string) (*Instance, error) {
	st := state.New(def.Fixtures, def.Bucket)
	rt, err := router.New(def, st,
		router.WithLogger(logger),
		router.WithLogStore(logs),
		router.WithOverride(override),
		router.WithBaseDir(baseDir),
	)
	if err != nil {
		return nil, err
	}
	// Rejections and injected errors never reach the router, so the
	// injector records them in the request log itself.
	var opts []behavior.Option
	if logs != nil {
		opts = append(opts, behavior.WithShortCircuitHook(func(r *http.Request, status int, elapsed time.Duration) {
			logs.Log(requestlog.NewEntry(def.Name, r.Method, r.URL.Path, status, elapsed))
		}))
	}
	return &Instance{
		def:    def,
		st:     st,
		rt:     rt,
		inj:    behavior.New(def.Behavior, opts...),
		logs:   logs,
		logger: logger,
	}, nil
}

// Start binds the instance to 127.0.0.1:port and begins serving. Starting a
// running instance is a no-op. On failure the instance reports stopped and
// holds no socket.
func (in *Instance) Start(port int) error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.running {
		return nil
	}

	addr := fmt.Sprintf("127.0.0.1:%d", port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return &pulseerr.Error{
			Kind:       pulseerr.KindRuntime,
			Message:    fmt.Sprintf("cannot bind %s for service %q", addr, in.def.Name),
			Suggestion: "the port may be in use; pick another or widen the port range",
			Err:        err,
		}
	}

	in.port = port
	in.listener = listener
	in.server = &http.Server{Handler: in.handler()}
	in.running = true

	go func() {
		if err := in.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			in.logger.Error("serve failed", "service", in.def.Name, "error", err)
		}
	}()

	in.logger.Info("service started", "service", in.def.Name, "port", port, "base_path", in.def.Server.BasePathOrDefault())
	return nil
}

// handler builds the serving chain. The introspection route bypasses the
// behavior pipeline so log queries stay readable while the service is rate
// limited or failing on purpose.
func (in *Instance) handler() http.Handler {
	wrapped := in.inj.Middleware(in.rt)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == router.LogsPath {
			in.rt.ServeHTTP(w, r)
			return
		}
		wrapped.ServeHTTP(w, r)
	})
}

// Stop closes the listener without draining in-flight requests. Stopping a
// stopped instance is a no-op.
func (in *Instance) Stop() error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if !in.running {
		return nil
	}
	err := in.server.Close()
	in.running = false
	in.listener = nil
	in.server = nil
	in.logger.Info("service stopped", "service", in.def.Name, "port", in.port)
	return err
}

// Running reports whether the instance is serving.
func (in *Instance) Running() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.running
}

// Port returns the bound port, zero before the first start.
func (in *Instance) Port() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.port
}

// State exposes the instance's fixtures/bucket for introspection and tests.
func (in *Instance) State() *state.State { return in.st }

// Logs returns the request log store this instance writes to.
func (in *Instance) Logs() requestlog.Store { return in.logs }

// BehaviorStats returns the injector's counters.
func (in *Instance) BehaviorStats() behavior.Stats { return in.inj.Stats() }

// findFreePort probes ports in [start, end] and returns the first that binds.
func findFreePort(start, end int) (int, error) {
	for port := start; port <= end; port++ {
		l, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
		if err == nil {
			l.Close()
			return port, nil
		}
	}
	return 0, pulseerr.Runtime(
		fmt.Sprintf("no free port in range %d-%d", start, end),
		"stop unused services or widen the port range",
	)
}
