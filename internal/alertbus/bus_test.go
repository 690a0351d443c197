package alertbus

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/fleetedge/upflux-gateway/pkg/cloudmsg"
)

type fakeSubscriber struct {
	received []cloudmsg.Alert
}

func (f *fakeSubscriber) SendAlert(_ context.Context, alert cloudmsg.Alert) error {
	f.received = append(f.received, alert)
	return nil
}

func newTestBus() *Bus {
	return NewBus(slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
}

func TestPublishDeliversToSubscriber(t *testing.T) {
	b := newTestBus()
	sub := &fakeSubscriber{}
	b.Attach(sub)

	if err := b.Publish(context.Background(), cloudmsg.Alert{Message: "disk full"}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if len(sub.received) != 1 || sub.received[0].Message != "disk full" {
		t.Fatalf("received = %v, want one alert with message 'disk full'", sub.received)
	}
}

func TestPublishDropsWithoutSubscriber(t *testing.T) {
	b := newTestBus()
	if err := b.Publish(context.Background(), cloudmsg.Alert{Message: "orphan"}); err != nil {
		t.Fatalf("Publish() error = %v, want nil (drop, not fail)", err)
	}
}
