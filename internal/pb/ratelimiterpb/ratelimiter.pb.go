// Package ratelimiterpb holds hand-maintained message types for the
// RateLimiter gRPC service, kept in sync with proto/ratelimiter.proto.
// The structs use the legacy message form: the protobuf runtime derives
// field descriptors from the struct tags.
package ratelimiterpb

import "fmt"

type ConsumeTokenRequest struct {
	ID        int64 `protobuf:"varint,1,opt,name=id,proto3" json:"id,omitempty"`
	Timestamp int64 `protobuf:"varint,2,opt,name=timestamp,proto3" json:"timestamp,omitempty"`
}

func (m *ConsumeTokenRequest) Reset()         { *m = ConsumeTokenRequest{} }
func (m *ConsumeTokenRequest) String() string { return fmt.Sprintf("%+v", *m) }
func (*ConsumeTokenRequest) ProtoMessage()    {}

type ConsumeTokenResponse struct {
	Success bool `protobuf:"varint,1,opt,name=success,proto3" json:"success,omitempty"`
}

func (m *ConsumeTokenResponse) Reset()         { *m = ConsumeTokenResponse{} }
func (m *ConsumeTokenResponse) String() string { return fmt.Sprintf("%+v", *m) }
func (*ConsumeTokenResponse) ProtoMessage()    {}
