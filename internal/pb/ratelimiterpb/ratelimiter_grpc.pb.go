package ratelimiterpb

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const RateLimiter_ConsumeToken_FullMethodName = "/ratelimiter.RateLimiter/ConsumeToken"

// RateLimiterClient is the client API for the RateLimiter service.
type RateLimiterClient interface {
	ConsumeToken(ctx context.Context, in *ConsumeTokenRequest, opts ...grpc.CallOption) (*ConsumeTokenResponse, error)
}

type rateLimiterClient struct {
	cc grpc.ClientConnInterface
}

func NewRateLimiterClient(cc grpc.ClientConnInterface) RateLimiterClient {
	return &rateLimiterClient{cc}
}

func (c *rateLimiterClient) ConsumeToken(ctx context.Context, in *ConsumeTokenRequest, opts ...grpc.CallOption) (*ConsumeTokenResponse, error) {
	out := new(ConsumeTokenResponse)
	err := c.cc.Invoke(ctx, RateLimiter_ConsumeToken_FullMethodName, in, out, opts...)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RateLimiterServer is the server API for the RateLimiter service.
type RateLimiterServer interface {
	ConsumeToken(context.Context, *ConsumeTokenRequest) (*ConsumeTokenResponse, error)
}

// UnimplementedRateLimiterServer can be embedded for forward-compatible
// partial implementations.
type UnimplementedRateLimiterServer struct{}

func (UnimplementedRateLimiterServer) ConsumeToken(context.Context, *ConsumeTokenRequest) (*ConsumeTokenResponse, error) {
	return nil, status.Errorf(codes.Unimplemented, "method ConsumeToken not implemented")
}

func RegisterRateLimiterServer(s grpc.ServiceRegistrar, srv RateLimiterServer) {
	s.RegisterService(&RateLimiter_ServiceDesc, srv)
}

func _RateLimiter_ConsumeToken_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(ConsumeTokenRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RateLimiterServer).ConsumeToken(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: RateLimiter_ConsumeToken_FullMethodName,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(RateLimiterServer).ConsumeToken(ctx, req.(*ConsumeTokenRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// RateLimiter_ServiceDesc is the grpc.ServiceDesc for the RateLimiter
// service.
var RateLimiter_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "ratelimiter.RateLimiter",
	HandlerType: (*RateLimiterServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "ConsumeToken",
			Handler:    _RateLimiter_ConsumeToken_Handler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "proto/ratelimiter.proto",
}
