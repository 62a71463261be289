// Package platform talks to the streaming platform: the Helix-style REST
// API for stream listings and clips, and the IRC-over-WebSocket chat
// gateway for room traffic.
package platform

import (
	"context"
	"errors"

	"github.com/chatpulse/chatpulse/internal/event"
)

// ErrClippingDisabled marks a channel that rejects clip creation. The
// poller's capability probe keys off it.
var ErrClippingDisabled = errors.New("platform: clipping disabled for broadcaster")

// Stream is one live broadcast from the stream listing.
type Stream struct {
	BroadcasterID int64
	Login         string
	ViewerCount   int
}

// Clip is the metadata of a finished clip.
type Clip struct {
	ID           string
	EmbedURL     string
	ThumbnailURL string
}

// Roster lists live broadcasters, most viewers first.
type Roster interface {
	ListLiveStreams(ctx context.Context, first int) ([]Stream, error)
}

// Clipper creates clips and fetches their metadata once they materialize.
type Clipper interface {
	CreateClip(ctx context.Context, broadcasterID int64) (clipID string, err error)
	GetClip(ctx context.Context, clipID string) (Clip, error)
}

// PrivateMessage is one chat line, already merged with the room state in
// effect when it arrived.
type PrivateMessage struct {
	ID            string
	Channel       string
	Text          string
	IsMe          bool
	Bits          int
	SentTimestamp int64 // milliseconds since epoch, from tmi-sent-ts
	Emotes        string

	ReplyParentMsgID           string
	ReplyParentUserID          string
	ReplyParentUserLogin       string
	ReplyParentDisplayName     string
	ReplyParentMsgBody         string
	ReplyThreadParentMsgID     string
	ReplyThreadParentUserLogin string

	Room event.RoomState
	User event.UserState
}

// ChatSocket joins and leaves chat rooms and hands inbound messages to a
// single handler. Implementations serialize socket writes internally.
type ChatSocket interface {
	JoinRoom(ctx context.Context, login string) error
	LeaveRoom(ctx context.Context, login string) error
	OnMessage(handler func(PrivateMessage))
}
