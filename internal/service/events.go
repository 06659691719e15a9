package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/agor-sh/agor/internal/common/logger"
	"github.com/agor-sh/agor/internal/events/bus"
)

// Payload is the envelope every mutation event carries: the service
// name, the verb, and the entity that changed.
type Payload struct {
	Service string `json:"service"`
	Verb    string `json:"verb"`
	Payload any    `json:"payload"`
}

// publisher emits mutation events strictly after the store commit. The
// services call it only once the repository returned success.
type publisher struct {
	bus    bus.EventBus
	logger *logger.Logger
}

// publish sends one event; failures are logged, never propagated, so a
// slow bus cannot fail a committed mutation.
func (p *publisher) publish(ctx context.Context, subject, eventType, serviceName, verb string, entity any) {
	event := bus.NewEvent(eventType, "daemon", Payload{
		Service: serviceName,
		Verb:    verb,
		Payload: entity,
	})
	if err := p.bus.Publish(ctx, subject, event); err != nil {
		p.logger.Error("failed to publish event",
			zap.String("subject", subject),
			zap.String("event_type", eventType),
			zap.Error(err))
	}
}
