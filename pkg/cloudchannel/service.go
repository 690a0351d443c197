package cloudchannel

import (
	"context"

	"google.golang.org/grpc"

	"github.com/fleetedge/upflux-gateway/pkg/cloudmsg"
)

// serviceName and streamName mirror what protoc-gen-go-grpc would emit for
// a service with a single bidirectional-streaming RPC. Hand-written here
// because this repo carries no protobuf-compiler step (see DESIGN.md); the
// method set, stream wiring, and ServiceDesc below are otherwise exactly
// what codegen would produce.
const (
	serviceName = "upflux.gateway.ControlChannel"
	streamName  = "OpenControlChannel"
)

// ControlChannelClient is the client-side stub for the control channel
// service's single RPC.
type ControlChannelClient interface {
	OpenControlChannel(ctx context.Context, opts ...grpc.CallOption) (ControlChannel_OpenControlChannelClient, error)
}

type controlChannelClient struct {
	cc grpc.ClientConnInterface
}

// NewControlChannelClient builds a client stub over an established
// *grpc.ClientConn.
func NewControlChannelClient(cc grpc.ClientConnInterface) ControlChannelClient {
	return &controlChannelClient{cc: cc}
}

func (c *controlChannelClient) OpenControlChannel(ctx context.Context, opts ...grpc.CallOption) (ControlChannel_OpenControlChannelClient, error) {
	opts = append(opts, grpc.CallContentSubtype(codecName))
	stream, err := c.cc.NewStream(ctx, &grpc.StreamDesc{
		StreamName:    streamName,
		ServerStreams: true,
		ClientStreams: true,
	}, "/"+serviceName+"/"+streamName, opts...)
	if err != nil {
		return nil, err
	}
	return &controlChannelStream{ClientStream: stream}, nil
}

// ControlChannel_OpenControlChannelClient is the bidirectional stream
// handle the client uses to send and receive ControlMessage envelopes.
type ControlChannel_OpenControlChannelClient interface {
	Send(*cloudmsg.ControlMessage) error
	Recv() (*cloudmsg.ControlMessage, error)
	grpc.ClientStream
}

type controlChannelStream struct {
	grpc.ClientStream
}

func (s *controlChannelStream) Send(msg *cloudmsg.ControlMessage) error {
	return s.ClientStream.SendMsg(msg)
}

func (s *controlChannelStream) Recv() (*cloudmsg.ControlMessage, error) {
	msg := new(cloudmsg.ControlMessage)
	if err := s.ClientStream.RecvMsg(msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// ControlChannelServer is the server-side contract. The Gateway only ever
// acts as the client half of this RPC (it dials the cloud); the server
// half exists so tests can stand up an in-process fake cloud controller.
type ControlChannelServer interface {
	OpenControlChannel(ControlChannel_OpenControlChannelServer) error
}

// ControlChannel_OpenControlChannelServer is the stream handle passed to
// server implementations.
type ControlChannel_OpenControlChannelServer interface {
	Send(*cloudmsg.ControlMessage) error
	Recv() (*cloudmsg.ControlMessage, error)
	grpc.ServerStream
}

type controlChannelServerStream struct {
	grpc.ServerStream
}

func (s *controlChannelServerStream) Send(msg *cloudmsg.ControlMessage) error {
	return s.ServerStream.SendMsg(msg)
}

func (s *controlChannelServerStream) Recv() (*cloudmsg.ControlMessage, error) {
	msg := new(cloudmsg.ControlMessage)
	if err := s.ServerStream.RecvMsg(msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// RegisterControlChannelServer wires an implementation into a grpc server.
func RegisterControlChannelServer(s grpc.ServiceRegistrar, srv ControlChannelServer) {
	s.RegisterService(&serviceDesc, srv)
}

func openControlChannelHandler(srv any, stream grpc.ServerStream) error {
	return srv.(ControlChannelServer).OpenControlChannel(&controlChannelServerStream{ServerStream: stream})
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*ControlChannelServer)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    streamName,
			Handler:       openControlChannelHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "cloudchannel.proto",
}
