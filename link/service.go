package link

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/database64128/pcielink-go/pprof"
)

// Service is implemented by long-running components started from the
// top-level configuration.
type Service interface {
	// String returns the service's name.
	String() string

	// Start starts the service.
	Start(ctx context.Context) error

	// Stop stops the service.
	Stop() error
}

// ServiceConfig is the top-level configuration. It may be marshaled
// as or unmarshaled from JSON.
type ServiceConfig struct {
	Loopbacks []LoopbackConfig `json:"loopbacks"`
	Pprof     pprof.Config     `json:"pprof"`
}

// Manager initializes the service manager.
func (sc *ServiceConfig) Manager(logger *zap.Logger) (*Manager, error) {
	if len(sc.Loopbacks) == 0 {
		return nil, errors.New("no services to start")
	}

	services := make([]Service, 0, len(sc.Loopbacks)+1)

	for i := range sc.Loopbacks {
		lb, err := sc.Loopbacks[i].NewLoopback(logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create loopback service %s: %w", sc.Loopbacks[i].Name, err)
		}
		services = append(services, lb)
	}

	if sc.Pprof.Enabled {
		services = append(services, sc.Pprof.NewService(logger))
	}

	return &Manager{services, logger}, nil
}

// Manager manages the services.
type Manager struct {
	services []Service
	logger   *zap.Logger
}

// Start starts all configured services.
func (m *Manager) Start(ctx context.Context) error {
	for _, s := range m.services {
		if err := s.Start(ctx); err != nil {
			return fmt.Errorf("failed to start %s: %w", s.String(), err)
		}
	}
	return nil
}

// Stop stops all running services.
func (m *Manager) Stop() {
	for _, s := range m.services {
		if err := s.Stop(); err != nil {
			m.logger.Warn("Failed to stop service",
				zap.Stringer("service", s),
				zap.Error(err),
			)
			continue
		}
		m.logger.Info("Stopped service", zap.Stringer("service", s))
	}
}
