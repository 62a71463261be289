package chatdbpb

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	ChatDatabase_GetChats_FullMethodName = "/chatdb.ChatDatabase/GetChats"
	ChatDatabase_GetClips_FullMethodName = "/chatdb.ChatDatabase/GetClips"
)

// ChatDatabaseClient is the client API for the ChatDatabase service.
type ChatDatabaseClient interface {
	GetChats(ctx context.Context, in *GetChatsRequest, opts ...grpc.CallOption) (*GetChatsResponse, error)
	GetClips(ctx context.Context, in *GetClipsRequest, opts ...grpc.CallOption) (*GetClipsResponse, error)
}

type chatDatabaseClient struct {
	cc grpc.ClientConnInterface
}

func NewChatDatabaseClient(cc grpc.ClientConnInterface) ChatDatabaseClient {
	return &chatDatabaseClient{cc}
}

func (c *chatDatabaseClient) GetChats(ctx context.Context, in *GetChatsRequest, opts ...grpc.CallOption) (*GetChatsResponse, error) {
	out := new(GetChatsResponse)
	err := c.cc.Invoke(ctx, ChatDatabase_GetChats_FullMethodName, in, out, opts...)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *chatDatabaseClient) GetClips(ctx context.Context, in *GetClipsRequest, opts ...grpc.CallOption) (*GetClipsResponse, error) {
	out := new(GetClipsResponse)
	err := c.cc.Invoke(ctx, ChatDatabase_GetClips_FullMethodName, in, out, opts...)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ChatDatabaseServer is the server API for the ChatDatabase service.
type ChatDatabaseServer interface {
	GetChats(context.Context, *GetChatsRequest) (*GetChatsResponse, error)
	GetClips(context.Context, *GetClipsRequest) (*GetClipsResponse, error)
}

// UnimplementedChatDatabaseServer can be embedded for forward-compatible
// partial implementations.
type UnimplementedChatDatabaseServer struct{}

func (UnimplementedChatDatabaseServer) GetChats(context.Context, *GetChatsRequest) (*GetChatsResponse, error) {
	return nil, status.Errorf(codes.Unimplemented, "method GetChats not implemented")
}

func (UnimplementedChatDatabaseServer) GetClips(context.Context, *GetClipsRequest) (*GetClipsResponse, error) {
	return nil, status.Errorf(codes.Unimplemented, "method GetClips not implemented")
}

func RegisterChatDatabaseServer(s grpc.ServiceRegistrar, srv ChatDatabaseServer) {
	s.RegisterService(&ChatDatabase_ServiceDesc, srv)
}

func _ChatDatabase_GetChats_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(GetChatsRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ChatDatabaseServer).GetChats(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: ChatDatabase_GetChats_FullMethodName,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ChatDatabaseServer).GetChats(ctx, req.(*GetChatsRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _ChatDatabase_GetClips_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(GetClipsRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ChatDatabaseServer).GetClips(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: ChatDatabase_GetClips_FullMethodName,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ChatDatabaseServer).GetClips(ctx, req.(*GetClipsRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// ChatDatabase_ServiceDesc is the grpc.ServiceDesc for the ChatDatabase
// service.
var ChatDatabase_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "chatdb.ChatDatabase",
	HandlerType: (*ChatDatabaseServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "GetChats",
			Handler:    _ChatDatabase_GetChats_Handler,
		},
		{
			MethodName: "GetClips",
			Handler:    _ChatDatabase_GetClips_Handler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "proto/chatdb.proto",
}
