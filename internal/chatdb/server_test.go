package chatdb

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/chatpulse/chatpulse/internal/pb/chatdbpb"
	"github.com/chatpulse/chatpulse/internal/store/cassandra"
)

type fakeStore struct {
	chats    []cassandra.Chat
	clips    []cassandra.Clip
	err      error
	gotLimit int
}

func (f *fakeStore) GetChats(_ context.Context, _, _, _ int64, limit int) ([]cassandra.Chat, error) {
	f.gotLimit = limit
	return f.chats, f.err
}

func (f *fakeStore) GetClips(_ context.Context, _, _ int64) ([]cassandra.Clip, error) {
	return f.clips, f.err
}

func TestGetChatsTranslatesRows(t *testing.T) {
	store := &fakeStore{chats: []cassandra.Chat{
		{BroadcasterID: 42, YearMonth: 202401, Timestamp: 1704067200000, MessageID: "a", Message: "one"},
		{BroadcasterID: 42, YearMonth: 202401, Timestamp: 1704067201000, MessageID: "b", Message: "two"},
	}}
	srv := NewServer(store, zerolog.Nop())

	resp, err := srv.GetChats(context.Background(), &chatdbpb.GetChatsRequest{
		BroadcasterID:  42,
		StartTimestamp: 1704067200000,
		EndTimestamp:   1704070000000,
		Limit:          21,
	})
	require.NoError(t, err)
	require.Len(t, resp.Chats, 2)
	assert.Equal(t, 21, store.gotLimit)
	assert.Equal(t, int64(42), resp.Chats[0].BroadcasterID)
	assert.Equal(t, "a", resp.Chats[0].MessageID)
	assert.Equal(t, "two", resp.Chats[1].Message)
}

func TestGetChatsEmptyResult(t *testing.T) {
	srv := NewServer(&fakeStore{}, zerolog.Nop())

	resp, err := srv.GetChats(context.Background(), &chatdbpb.GetChatsRequest{BroadcasterID: 1, Limit: 20})
	require.NoError(t, err)
	assert.Empty(t, resp.Chats)
}

func TestGetChatsStorageError(t *testing.T) {
	srv := NewServer(&fakeStore{err: errors.New("partition unavailable")}, zerolog.Nop())

	_, err := srv.GetChats(context.Background(), &chatdbpb.GetChatsRequest{BroadcasterID: 1, Limit: 20})
	require.Error(t, err)
	st, ok := status.FromError(err)
	require.True(t, ok)
	assert.Equal(t, codes.Internal, st.Code())
	assert.Contains(t, st.Message(), "partition unavailable")
}

func TestGetClipsTranslatesRows(t *testing.T) {
	store := &fakeStore{clips: []cassandra.Clip{
		{Timestamp: 1000, ClipID: "c1", EmbedURL: "https://example.test/embed/c1", ThumbnailURL: "https://example.test/thumb/c1"},
	}}
	srv := NewServer(store, zerolog.Nop())

	resp, err := srv.GetClips(context.Background(), &chatdbpb.GetClipsRequest{StartTimestamp: 0, EndTimestamp: 2000})
	require.NoError(t, err)
	require.Len(t, resp.Clips, 1)
	assert.Equal(t, "c1", resp.Clips[0].ClipID)
	assert.Equal(t, "https://example.test/embed/c1", resp.Clips[0].EmbedURL)
}

func TestGetClipsStorageError(t *testing.T) {
	srv := NewServer(&fakeStore{err: errors.New("timeout")}, zerolog.Nop())

	_, err := srv.GetClips(context.Background(), &chatdbpb.GetClipsRequest{})
	require.Error(t, err)
	st, _ := status.FromError(err)
	assert.Equal(t, codes.Internal, st.Code())
}
