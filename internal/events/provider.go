package events

import (
	"github.com/agor-sh/agor/internal/common/config"
	"github.com/agor-sh/agor/internal/common/logger"
	"github.com/agor-sh/agor/internal/events/bus"
)

// NewEventBus returns a NATS-backed bus when a NATS URL is configured,
// otherwise the in-memory bus. The daemon is single-process by default,
// so the in-memory bus is the common case.
func NewEventBus(cfg config.NATSConfig, log *logger.Logger) (bus.EventBus, error) {
	if cfg.URL != "" {
		return bus.NewNATSEventBus(cfg, log)
	}
	return bus.NewMemoryEventBus(log), nil
}
