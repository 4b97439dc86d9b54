package system

import (
	"context"
	"fmt"
	"sync"

	core "github.com/R3E-Network/proofwork/internal/app/core/service"
)

// Manager owns the lifecycle of every background Service the application
// registers: the outbox processors per topic, the lease reaper, and the
// HTTP listener. Start/Stop order follows registration order; Stop runs in
// reverse so dependents shut down before what they depend on.
type Manager struct {
	mu       sync.Mutex
	services []Service
	started  bool
}

// NewManager returns an empty Manager.
func NewManager() *Manager {
	return &Manager{}
}

// Register adds a service. Safe to call before Start; calling after Start
// returns an error since there is no running-service catch-up.
func (m *Manager) Register(svc Service) error {
	if svc == nil {
		return fmt.Errorf("system: nil service")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return fmt.Errorf("system: cannot register %s after Start", svc.Name())
	}
	for _, existing := range m.services {
		if existing.Name() == svc.Name() {
			return fmt.Errorf("system: service %s already registered", svc.Name())
		}
	}
	m.services = append(m.services, svc)
	return nil
}

// Start starts every registered service in registration order. If a
// service fails to start, services started so far are stopped in reverse
// order before the error is returned.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	services := append([]Service(nil), m.services...)
	m.started = true
	m.mu.Unlock()

	for i, svc := range services {
		if err := svc.Start(ctx); err != nil {
			m.stopFrom(ctx, services, i-1)
			return fmt.Errorf("start %s: %w", svc.Name(), err)
		}
	}
	return nil
}

// Stop stops every registered service in reverse registration order,
// continuing past individual errors and returning the first one.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	services := append([]Service(nil), m.services...)
	m.mu.Unlock()
	return m.stopFrom(ctx, services, len(services)-1)
}

func (m *Manager) stopFrom(ctx context.Context, services []Service, fromIdx int) error {
	var firstErr error
	for i := fromIdx; i >= 0; i-- {
		if err := services[i].Stop(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("stop %s: %w", services[i].Name(), err)
		}
	}
	return firstErr
}

// Descriptors collects Descriptor() from every registered service that
// implements DescriptorProvider, sorted by layer and then name.
func (m *Manager) Descriptors() []core.Descriptor {
	m.mu.Lock()
	defer m.mu.Unlock()
	var providers []DescriptorProvider
	for _, svc := range m.services {
		if p, ok := svc.(DescriptorProvider); ok {
			providers = append(providers, p)
		}
	}
	return CollectDescriptors(providers)
}
