package forward

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/banshee-data/sensorapi/internal/flatcodec"
	"github.com/banshee-data/sensorapi/internal/scanmsg"
)

const (
	serviceName = "sensorapi.forward.v1.Forwarder"
	streamName  = "Stream"
	streamPath  = "/" + serviceName + "/" + streamName
)

// forwarderServer is the server side of the Forwarder service. The request
// is a comma separated list of kind names (empty for every kind); each
// response carries one encoded envelope.
type forwarderServer interface {
	stream(kinds []scanmsg.Kind, stream grpc.ServerStream) error
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*forwarderServer)(nil),
	Streams: []grpc.StreamDesc{{
		StreamName:    streamName,
		Handler:       streamHandler,
		ServerStreams: true,
	}},
	Metadata: "sensorapi/forward/v1/forward.proto",
}

func streamHandler(srv any, stream grpc.ServerStream) error {
	req := new(wrapperspb.StringValue)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	kinds, err := parseKinds(req.GetValue())
	if err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	return srv.(forwarderServer).stream(kinds, stream)
}

func parseKinds(s string) ([]scanmsg.Kind, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var kinds []scanmsg.Kind
	for _, name := range strings.Split(s, ",") {
		k, err := scanmsg.ParseKind(name)
		if err != nil {
			return nil, err
		}
		kinds = append(kinds, k)
	}
	return kinds, nil
}

func (p *Publisher) stream(kinds []scanmsg.Kind, stream grpc.ServerStream) error {
	c, err := p.addClient(kinds)
	if err != nil {
		return status.Error(codes.ResourceExhausted, err.Error())
	}
	defer p.removeClient(c.id)

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-p.stopCh:
			return status.Error(codes.Unavailable, "publisher stopped")
		case f := <-c.frames:
			if err := stream.SendMsg(wrapperspb.Bytes(f.data)); err != nil {
				return err
			}
		}
	}
}

// Subscription is the client side of one stream.
type Subscription struct {
	stream grpc.ClientStream
	cancel context.CancelFunc
}

// Subscribe opens a stream on conn for kinds, or every kind if none are
// given.
func Subscribe(ctx context.Context, conn grpc.ClientConnInterface, kinds ...scanmsg.Kind) (*Subscription, error) {
	names := make([]string, 0, len(kinds))
	for _, k := range kinds {
		if !k.Valid() {
			return nil, fmt.Errorf("invalid message kind %d", int(k))
		}
		names = append(names, k.String())
	}

	ctx, cancel := context.WithCancel(ctx)
	stream, err := conn.NewStream(ctx, &serviceDesc.Streams[0], streamPath)
	if err != nil {
		cancel()
		return nil, err
	}
	if err := stream.SendMsg(wrapperspb.String(strings.Join(names, ","))); err != nil {
		cancel()
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		cancel()
		return nil, err
	}
	return &Subscription{stream: stream, cancel: cancel}, nil
}

// Recv blocks for the next envelope. It returns io.EOF when the server ends
// the stream cleanly.
func (s *Subscription) Recv() (flatcodec.Envelope, error) {
	resp := new(wrapperspb.BytesValue)
	if err := s.stream.RecvMsg(resp); err != nil {
		return flatcodec.Envelope{}, err
	}
	return flatcodec.DecodeEnvelope(resp.GetValue())
}

// Close cancels the stream.
func (s *Subscription) Close() {
	s.cancel()
}
