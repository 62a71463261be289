// Package chatdbpb holds hand-maintained message types for the ChatDatabase
// gRPC service, kept in sync with proto/chatdb.proto. The structs use the
// legacy message form: the protobuf runtime derives field descriptors from
// the struct tags, so regenerating with protoc is not required for wire
// compatibility as long as tags and field numbers match the proto file.
package chatdbpb

import "fmt"

type GetChatsRequest struct {
	BroadcasterID  int64 `protobuf:"varint,1,opt,name=broadcaster_id,json=broadcasterId,proto3" json:"broadcaster_id,omitempty"`
	StartTimestamp int64 `protobuf:"varint,2,opt,name=start_timestamp,json=startTimestamp,proto3" json:"start_timestamp,omitempty"`
	EndTimestamp   int64 `protobuf:"varint,3,opt,name=end_timestamp,json=endTimestamp,proto3" json:"end_timestamp,omitempty"`
	Limit          int32 `protobuf:"varint,4,opt,name=limit,proto3" json:"limit,omitempty"`
}

func (m *GetChatsRequest) Reset()         { *m = GetChatsRequest{} }
func (m *GetChatsRequest) String() string { return fmt.Sprintf("%+v", *m) }
func (*GetChatsRequest) ProtoMessage()    {}

type ChatMessage struct {
	BroadcasterID int64  `protobuf:"varint,1,opt,name=broadcaster_id,json=broadcasterId,proto3" json:"broadcaster_id,omitempty"`
	Timestamp     int64  `protobuf:"varint,2,opt,name=timestamp,proto3" json:"timestamp,omitempty"`
	MessageID     string `protobuf:"bytes,3,opt,name=message_id,json=messageId,proto3" json:"message_id,omitempty"`
	Message       string `protobuf:"bytes,4,opt,name=message,proto3" json:"message,omitempty"`
}

func (m *ChatMessage) Reset()         { *m = ChatMessage{} }
func (m *ChatMessage) String() string { return fmt.Sprintf("%+v", *m) }
func (*ChatMessage) ProtoMessage()    {}

type GetChatsResponse struct {
	Chats []*ChatMessage `protobuf:"bytes,1,rep,name=chats,proto3" json:"chats,omitempty"`
}

func (m *GetChatsResponse) Reset()         { *m = GetChatsResponse{} }
func (m *GetChatsResponse) String() string { return fmt.Sprintf("%+v", *m) }
func (*GetChatsResponse) ProtoMessage()    {}

type GetClipsRequest struct {
	StartTimestamp int64 `protobuf:"varint,1,opt,name=start_timestamp,json=startTimestamp,proto3" json:"start_timestamp,omitempty"`
	EndTimestamp   int64 `protobuf:"varint,2,opt,name=end_timestamp,json=endTimestamp,proto3" json:"end_timestamp,omitempty"`
}

func (m *GetClipsRequest) Reset()         { *m = GetClipsRequest{} }
func (m *GetClipsRequest) String() string { return fmt.Sprintf("%+v", *m) }
func (*GetClipsRequest) ProtoMessage()    {}

type Clip struct {
	ClipID       string `protobuf:"bytes,1,opt,name=clip_id,json=clipId,proto3" json:"clip_id,omitempty"`
	EmbedURL     string `protobuf:"bytes,2,opt,name=embed_url,json=embedUrl,proto3" json:"embed_url,omitempty"`
	ThumbnailURL string `protobuf:"bytes,3,opt,name=thumbnail_url,json=thumbnailUrl,proto3" json:"thumbnail_url,omitempty"`
}

func (m *Clip) Reset()         { *m = Clip{} }
func (m *Clip) String() string { return fmt.Sprintf("%+v", *m) }
func (*Clip) ProtoMessage()    {}

type GetClipsResponse struct {
	Clips []*Clip `protobuf:"bytes,1,rep,name=clips,proto3" json:"clips,omitempty"`
}

func (m *GetClipsResponse) Reset()         { *m = GetClipsResponse{} }
func (m *GetClipsResponse) String() string { return fmt.Sprintf("%+v", *m) }
func (*GetClipsResponse) ProtoMessage()    {}
