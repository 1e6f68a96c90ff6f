// Package sim owns the running simulation: one instance per loaded service
// definition, port allocation, lifecycle, and the manager-wide scenario
// override.
package sim

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/apipulse/pulsed/pkg/config"
	"github.com/apipulse/pulsed/pkg/definition"
	"github.com/apipulse/pulsed/pkg/logging"
	"github.com/apipulse/pulsed/pkg/pulseerr"
	"github.com/apipulse/pulsed/pkg/recording"
	"github.com/apipulse/pulsed/pkg/requestlog"
	"github.com/apipulse/pulsed/pkg/storage"
)

// ServiceInfo summarizes one managed service for status output.
type ServiceInfo struct {
	Name          string `json:"name"`
	Port          int    `json:"port"`
	BasePath      string `json:"base_path"`
	EndpointCount int    `json:"endpoint_count"`
	IsRunning     bool   `json:"is_running"`
}

// Status aggregates the manager's view of its services.
type Status struct {
	ServicesCount  int           `json:"services_count"`
	ActiveServices []ServiceInfo `json:"active_services"`
	IsActive       bool          `json:"is_active"`
}

// Manager loads service definitions and runs one Instance per service.
type Manager struct {
	logger    *slog.Logger
	logs      *requestlog.InMemoryStore
	store     storage.Store
	portStart int
	portEnd   int
	baseDir   string

	mu        sync.RWMutex
	instances map[string]*Instance
	order     []string
	override  string
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

// WithPortRange sets the range used when a definition does not pin a port.
func WithPortRange(start, end int) ManagerOption {
	return func(m *Manager) { m.portStart, m.portEnd = start, end }
}

// WithLogStore sets the shared request log store.
func WithLogStore(s *requestlog.InMemoryStore) ManagerOption {
	return func(m *Manager) { m.logs = s }
}

// WithStorage attaches a persistence backend. Loaded definitions are saved
// to it; nil disables persistence.
func WithStorage(s storage.Store) ManagerOption {
	return func(m *Manager) { m.store = s }
}

// WithBaseDir sets the directory relative paths in definitions (graphql
// schemas) resolve against.
func WithBaseDir(dir string) ManagerOption {
	return func(m *Manager) { m.baseDir = dir }
}

// NewManager creates an empty manager.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		logger:    logging.Nop(),
		logs:      requestlog.NewInMemoryStore(0),
		portStart: 4000,
		portEnd:   4999,
		baseDir:   ".",
		instances: make(map[string]*Instance),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Load builds instances for defs, replacing any prior set. Running instances
// from a previous load are stopped first.
func (m *Manager) Load(ctx context.Context, defs []*definition.ServiceDefinition) error {
	m.Stop()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.instances = make(map[string]*Instance, len(defs))
	m.order = m.order[:0]

	for _, def := range defs {
		if _, dup := m.instances[def.Name]; dup {
			return pulseerr.DuplicateName(def.Name)
		}
		inst, err := newInstance(def, m.logger.With("service", def.Name), m.logs, m.currentOverride, m.baseDir)
		if err != nil {
			return err
		}
		m.instances[def.Name] = inst
		m.order = append(m.order, def.Name)

		if m.store != nil {
			if err := m.store.SaveService(ctx, def); err != nil {
				m.logger.Warn("persist failed", "service", def.Name, "error", err)
			}
		}
	}
	m.logger.Info("definitions loaded", "services", len(defs))
	return nil
}

// LoadDir loads every valid definition under root, logging per-file results.
// It fails only when nothing valid is found.
func (m *Manager) LoadDir(ctx context.Context, root string) (*config.LoadSummary, error) {
	summary, err := config.LoadAllWithSummary(root)
	if err != nil {
		return nil, err
	}
	for _, fr := range summary.FileResults {
		if fr.Status == config.StatusValid {
			m.logger.Debug("definition ok", "file", fr.Path)
			continue
		}
		m.logger.Warn("definition skipped", "file", fr.Path, "status", string(fr.Status), "error", fr.Error)
	}
	if len(summary.Services) == 0 {
		return summary, pulseerr.Config("no valid service definitions found in "+root,
			"fix the errors above or point at a different directory")
	}
	if err := m.Load(ctx, summary.Services); err != nil {
		return summary, err
	}
	return summary, nil
}

// Start brings up every loaded service. Allocation is per-service atomic: a
// pinned port wins, otherwise the first free port in the range is probed.
// The first failure stops the rollout and reports which service failed.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.RLock()
	names := append([]string(nil), m.order...)
	m.mu.RUnlock()

	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := m.StartService(name); err != nil {
			return err
		}
	}
	return nil
}

// StartService starts one service by name.
func (m *Manager) StartService(name string) error {
	inst, err := m.instance(name)
	if err != nil {
		return err
	}
	if inst.Running() {
		return nil
	}
	port := inst.def.Server.Port
	if port == 0 {
		port, err = findFreePort(m.portStart, m.portEnd)
		if err != nil {
			return err
		}
	}
	return inst.Start(port)
}

// Stop stops every running instance.
func (m *Manager) Stop() {
	m.mu.RLock()
	names := append([]string(nil), m.order...)
	m.mu.RUnlock()

	for _, name := range names {
		if inst, err := m.instance(name); err == nil {
			inst.Stop() //nolint:errcheck
		}
	}
}

// StopService stops one service by name.
func (m *Manager) StopService(name string) error {
	inst, err := m.instance(name)
	if err != nil {
		return err
	}
	return inst.Stop()
}

// Status reports the manager's aggregate state.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st := Status{ServicesCount: len(m.order)}
	for _, name := range m.order {
		inst := m.instances[name]
		info := ServiceInfo{
			Name:          name,
			Port:          inst.Port(),
			BasePath:      inst.def.Server.BasePathOrDefault(),
			EndpointCount: len(inst.def.Endpoints),
			IsRunning:     inst.Running(),
		}
		st.ActiveServices = append(st.ActiveServices, info)
		if info.IsRunning {
			st.IsActive = true
		}
	}
	return st
}

// SetScenario installs the manager-wide scenario override. The empty string
// clears it; otherwise it is a strategy name, force-error, or a named
// scenario that every instance's selection will prefer.
func (m *Manager) SetScenario(name string) {
	m.mu.Lock()
	m.override = name
	m.mu.Unlock()
	m.logger.Info("scenario override set", "override", name)
}

// Scenario returns the current override.
func (m *Manager) Scenario() string {
	return m.currentOverride()
}

func (m *Manager) currentOverride() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.override
}

// Instance returns the named instance for fixture/bucket introspection.
func (m *Manager) Instance(name string) (*Instance, error) {
	return m.instance(name)
}

// Logs returns the shared request log store.
func (m *Manager) Logs() *requestlog.InMemoryStore { return m.logs }

// ValidateConfigurations loads and validates every definition under root
// without starting any server.
func (m *Manager) ValidateConfigurations(root string) (*config.LoadSummary, error) {
	return config.LoadAllWithSummary(root)
}

// Record proxies live traffic to targetURL on a local port, capturing every
// exchange, until ctx is done. The captures are then converted into a
// definition named serviceName and written under outputDir. The path of the
// written file is returned.
func (m *Manager) Record(ctx context.Context, targetURL, serviceName, outputDir string) (string, error) {
	proxy, err := recording.NewProxy(targetURL)
	if err != nil {
		return "", err
	}
	port, err := findFreePort(m.portStart, m.portEnd)
	if err != nil {
		return "", err
	}
	server := &http.Server{Addr: fmt.Sprintf("127.0.0.1:%d", port), Handler: proxy}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			m.logger.Error("recording proxy failed", "error", err)
		}
	}()
	m.logger.Info("recording", "target", targetURL, "port", port)

	<-ctx.Done()
	server.Close() //nolint:errcheck

	captures := proxy.Captures()
	if len(captures) == 0 {
		return "", pulseerr.Runtime("no traffic captured", "send requests through the recording proxy before stopping it")
	}
	def := recording.Convert(captures, serviceName)
	return recording.WriteDefinition(def, outputDir)
}

func (m *Manager) instance(name string) (*Instance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inst, ok := m.instances[name]
	if !ok {
		return nil, pulseerr.NotFound("service " + name)
	}
	return inst, nil
}
