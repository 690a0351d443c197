// Package alertbus implements the Alert Bus (C12): a single-subscriber,
// synchronous, in-process publisher for locally-originated alerts. The
// Cloud Control Channel Worker (C10) is the one subscriber in practice.
package alertbus

import (
	"context"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/fleetedge/upflux-gateway/pkg/cloudmsg"
)

// Subscriber receives published alerts. Implemented by the Cloud Control
// Channel Worker's SendAlert method.
type Subscriber interface {
	SendAlert(ctx context.Context, alert cloudmsg.Alert) error
}

// Bus holds a single subscriber slot.
type Bus struct {
	mu         sync.RWMutex
	subscriber Subscriber
	logger     *slog.Logger
	dropped    prometheus.Counter
}

// NewBus creates an empty Bus. dropped may be nil in tests.
func NewBus(logger *slog.Logger, dropped prometheus.Counter) *Bus {
	return &Bus{logger: logger, dropped: dropped}
}

// Attach sets the bus's one subscriber, replacing any previous one.
func (b *Bus) Attach(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscriber = sub
}

// Publish delivers alert synchronously to the attached subscriber. If no
// subscriber is attached, the alert is dropped with a warning.
func (b *Bus) Publish(ctx context.Context, alert cloudmsg.Alert) error {
	b.mu.RLock()
	sub := b.subscriber
	b.mu.RUnlock()

	if sub == nil {
		b.logger.Warn("alert dropped: no subscriber attached", "message", alert.Message, "source", alert.Source)
		if b.dropped != nil {
			b.dropped.Inc()
		}
		return nil
	}
	return sub.SendAlert(ctx, alert)
}
