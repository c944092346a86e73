package bus

import (
	"errors"
	"fmt"

	"github.com/opensource-finance/fraudsentry/internal/domain"
)

var (
	// ErrTenantRequired is returned when a tenant is missing or not publishable.
	ErrTenantRequired = errors.New("bus: tenantID is required")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("bus: closed")
)

// New creates a new event bus based on configuration.
// For Community tier: returns ChannelBus.
// For Pro tier: returns NATSBus.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "channel":
		return NewChannelBus(cfg.ChannelBufferSize), nil

	case "nats":
		return NewNATSBus(cfg)

	default:
		return nil, fmt.Errorf("unsupported event bus type: %s", cfg.Type)
	}
}

func checkPublishTenant(tenantID string) error {
	if tenantID == "" || tenantID == domain.AllTenants {
		return ErrTenantRequired
	}
	return nil
}
