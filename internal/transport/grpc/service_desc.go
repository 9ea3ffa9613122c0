package grpc

import (
	"context"

	"chargeline/internal/model"

	"google.golang.org/grpc"
)

const (
	chargeServiceName = "chargeline.ChargeService"
	eventServiceName  = "chargeline.EventService"

	debitMethod   = "/" + chargeServiceName + "/Debit"
	resetMethod   = "/" + chargeServiceName + "/ResetBalance"
	publishMethod = "/" + eventServiceName + "/Publish"
)

type ChargeServer interface {
	Debit(ctx context.Context, req *DebitRequest) (*model.ChargeResult, error)
	ResetBalance(ctx context.Context, req *ResetRequest) (*model.ResetResult, error)
}

type EventServer interface {
	Publish(ctx context.Context, req *EventRequest) (*EventResponse, error)
}

var chargeServiceDesc = grpc.ServiceDesc{
	ServiceName: chargeServiceName,
	HandlerType: (*ChargeServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Debit",
			Handler: unaryHandler(debitMethod, func(srv any, ctx context.Context, req *DebitRequest) (any, error) {
				return srv.(ChargeServer).Debit(ctx, req)
			}),
		},
		{
			MethodName: "ResetBalance",
			Handler: unaryHandler(resetMethod, func(srv any, ctx context.Context, req *ResetRequest) (any, error) {
				return srv.(ChargeServer).ResetBalance(ctx, req)
			}),
		},
	},
	Streams: []grpc.StreamDesc{},
}

var eventServiceDesc = grpc.ServiceDesc{
	ServiceName: eventServiceName,
	HandlerType: (*EventServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Publish",
			Handler: unaryHandler(publishMethod, func(srv any, ctx context.Context, req *EventRequest) (any, error) {
				return srv.(EventServer).Publish(ctx, req)
			}),
		},
	},
	Streams: []grpc.StreamDesc{},
}

// unaryHandler builds the method handler protoc-gen-go-grpc would generate
// for a unary call taking *Req.
func unaryHandler[Req any](fullMethod string, call func(srv any, ctx context.Context, req *Req) (any, error)) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv, ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv, ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}
