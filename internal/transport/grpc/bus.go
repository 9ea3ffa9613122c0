package grpc

import (
	"context"
	"errors"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const publishTimeout = 5 * time.Second

// GrpcBus publishes events to a remote EventService over gRPC.
// Used when BusProvider == "grpc" in config.
type GrpcBus struct {
	conn *grpc.ClientConn
}

// NewGrpcBusFromAddr dials the remote EventService and returns a GrpcBus and a cleanup function.
func NewGrpcBusFromAddr(addr string) (*GrpcBus, func(), error) {
	conn, err := Dial(addr)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() { _ = conn.Close() }
	return NewGrpcBus(conn), cleanup, nil
}

func NewGrpcBus(conn *grpc.ClientConn) *GrpcBus {
	return &GrpcBus{conn: conn}
}

// Publish sends an event to the remote EventService.
func (b *GrpcBus) Publish(topic string, data []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	var res EventResponse
	err := b.conn.Invoke(ctx, publishMethod, &EventRequest{Topic: topic, Payload: data}, &res)
	if err != nil {
		return err
	}
	if !res.Success {
		return errors.New("event rejected: " + res.ErrorMessage)
	}
	return nil
}

// Dial opens a client connection that speaks the JSON codec.
func Dial(addr string, opts ...grpc.DialOption) (*grpc.ClientConn, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
	}, opts...)
	return grpc.NewClient(addr, opts...)
}
