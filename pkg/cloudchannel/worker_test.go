package cloudchannel

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"google.golang.org/grpc/metadata"

	"github.com/fleetedge/upflux-gateway/pkg/cloudmsg"
)

// fakeStream is a minimal ControlChannel_OpenControlChannelClient that
// records sent messages without dialing a real connection.
type fakeStream struct {
	sent []*cloudmsg.ControlMessage
	recv chan *cloudmsg.ControlMessage
}

func newFakeStream() *fakeStream {
	return &fakeStream{recv: make(chan *cloudmsg.ControlMessage)}
}

func (f *fakeStream) Send(msg *cloudmsg.ControlMessage) error {
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeStream) Recv() (*cloudmsg.ControlMessage, error) {
	msg, ok := <-f.recv
	if !ok {
		return nil, io.EOF
	}
	return msg, nil
}

func (f *fakeStream) Header() (metadata.MD, error) { return nil, nil }
func (f *fakeStream) Trailer() metadata.MD         { return nil }
func (f *fakeStream) CloseSend() error             { return nil }
func (f *fakeStream) Context() context.Context     { return context.Background() }
func (f *fakeStream) SendMsg(m any) error          { return nil }
func (f *fakeStream) RecvMsg(m any) error          { return nil }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestWorker() *Worker {
	return NewWorker(Config{Target: "cloud.invalid:443", GatewayID: "gw-1"}, discardLogger())
}

func TestEnqueueSucceedsUnderCapacity(t *testing.T) {
	w := newTestWorker()
	if err := w.enqueue(&cloudmsg.ControlMessage{DeviceStatus: &cloudmsg.DeviceStatus{UUID: "dev-1"}}); err != nil {
		t.Fatalf("enqueue() error = %v", err)
	}
	select {
	case msg := <-w.send:
		if msg.DeviceStatus == nil || msg.DeviceStatus.UUID != "dev-1" {
			t.Fatalf("unexpected queued message: %+v", msg)
		}
	default:
		t.Fatal("expected a message on the send queue")
	}
}

func TestEnqueueRejectsWhenQueueFull(t *testing.T) {
	w := newTestWorker()
	w.send = make(chan *cloudmsg.ControlMessage, 1)

	if err := w.enqueue(&cloudmsg.ControlMessage{}); err != nil {
		t.Fatalf("first enqueue() error = %v", err)
	}
	if err := w.enqueue(&cloudmsg.ControlMessage{}); err == nil {
		t.Fatal("expected error when send queue is full")
	}
}

func TestHandleUnrecognizedVariantIsDroppedNotPanicked(t *testing.T) {
	w := newTestWorker()
	w.handle(nil, &cloudmsg.ControlMessage{SenderID: "cloud"})
}

func TestHandleVersionDataRequestWithoutDispatchIsNoop(t *testing.T) {
	w := newTestWorker()
	w.handleVersionDataRequest(nil)
	select {
	case msg := <-w.send:
		t.Fatalf("expected no queued response, got %+v", msg)
	default:
	}
}

func TestRunStreamSendsBareHandshakeBeforeAnythingElse(t *testing.T) {
	w := newTestWorker()
	stream := newFakeStream()
	defer close(stream.recv)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- w.runStream(ctx, stream)
	}()

	deadline := time.After(time.Second)
	for {
		if len(stream.sent) > 0 {
			break
		}
		select {
		case <-deadline:
			cancel()
			t.Fatal("timed out waiting for handshake to be sent")
		default:
			time.Sleep(time.Millisecond)
		}
	}
	cancel()
	<-errCh

	first := stream.sent[0]
	if first.SenderID != w.gatewayID {
		t.Fatalf("handshake sender_id = %q, want %q", first.SenderID, w.gatewayID)
	}
	if first.LicenseRequest != nil || first.MonitoringData != nil || first.LogUpload != nil ||
		first.LogResponse != nil || first.CommandResponse != nil || first.UpdateAck != nil ||
		first.AlertMessage != nil || first.AIRecommendations != nil || first.DeviceStatus != nil ||
		first.VersionDataResponse != nil {
		t.Fatalf("handshake message carries a payload, want none: %+v", first)
	}
}
