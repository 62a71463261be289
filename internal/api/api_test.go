package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/chatpulse/chatpulse/internal/cursor"
	"github.com/chatpulse/chatpulse/internal/pb/chatdbpb"
)

type fakeDB struct {
	chatReq  *chatdbpb.GetChatsRequest
	chatResp *chatdbpb.GetChatsResponse
	chatErr  error
	clipReq  *chatdbpb.GetClipsRequest
	clipResp *chatdbpb.GetClipsResponse
	clipErr  error
}

func (f *fakeDB) GetChats(_ context.Context, in *chatdbpb.GetChatsRequest, _ ...grpc.CallOption) (*chatdbpb.GetChatsResponse, error) {
	f.chatReq = in
	if f.chatErr != nil {
		return nil, f.chatErr
	}
	return f.chatResp, nil
}

func (f *fakeDB) GetClips(_ context.Context, in *chatdbpb.GetClipsRequest, _ ...grpc.CallOption) (*chatdbpb.GetClipsResponse, error) {
	f.clipReq = in
	if f.clipErr != nil {
		return nil, f.clipErr
	}
	return f.clipResp, nil
}

func get(t *testing.T, db *fakeDB, url string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, url, nil)
	rec := httptest.NewRecorder()
	New(db, zerolog.Nop()).Router().ServeHTTP(rec, req)
	return rec
}

func chatRows(n int, startMs int64) []*chatdbpb.ChatMessage {
	rows := make([]*chatdbpb.ChatMessage, 0, n)
	for i := 0; i < n; i++ {
		rows = append(rows, &chatdbpb.ChatMessage{
			BroadcasterID: 42,
			Timestamp:     startMs + int64(i)*1000,
			MessageID:     uuid.NewString(),
			Message:       fmt.Sprintf("line %d", i),
		})
	}
	return rows
}

func TestChatEndpointReturnsMessages(t *testing.T) {
	db := &fakeDB{chatResp: &chatdbpb.GetChatsResponse{Chats: chatRows(2, 1704067200000)}}

	rec := get(t, db, "/v1.0/42/chat?start=2024-01-01T00:00:00Z&end=2024-01-02T00:00:00Z")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	require.Equal(t, int64(42), db.chatReq.BroadcasterID)
	require.Equal(t, int64(1704067200000), db.chatReq.StartTimestamp)
	require.Equal(t, int64(1704153600000), db.chatReq.EndTimestamp)
	require.Equal(t, int32(21), db.chatReq.Limit, "default limit plus the look-ahead row")

	var body chatsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Messages, 2)
	require.Empty(t, body.Cursor)
	require.Equal(t, "line 0", body.Messages[0].Message)
	require.Equal(t, int64(1704067200000), body.Messages[0].Timestamp)
}

func TestChatEndpointPaginates(t *testing.T) {
	rows := chatRows(6, 1704067200000)
	db := &fakeDB{chatResp: &chatdbpb.GetChatsResponse{Chats: rows}}

	rec := get(t, db, "/v1.0/42/chat?start=2024-01-01T00:00:00Z&end=2024-01-02T00:00:00Z&limit=5")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, int32(6), db.chatReq.Limit)

	var body chatsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Messages, 5)
	require.NotEmpty(t, body.Cursor)

	cur, err := cursor.Parse(body.Cursor)
	require.NoError(t, err)
	require.Equal(t, int64(42), cur.BroadcasterID)
	require.Equal(t, int32(202401), cur.YearMonth)
	require.Equal(t, rows[5].Timestamp, cur.Timestamp)
	require.Equal(t, rows[5].MessageID, cur.MessageID.String())
}

func TestChatEndpointFollowsCursor(t *testing.T) {
	db := &fakeDB{chatResp: &chatdbpb.GetChatsResponse{Chats: nil}}
	after := cursor.Cursor{
		BroadcasterID: 42,
		YearMonth:     202401,
		Timestamp:     1704067200000,
		MessageID:     uuid.MustParse("33569d6a-8a67-4e48-aa55-b11bf86e2268"),
	}.Encode()

	rec := get(t, db, "/v1.0/42/chat?start=2023-12-01T00:00:00Z&end=2024-02-01T00:00:00Z&after="+after)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, int64(1704067200000), db.chatReq.StartTimestamp, "cursor timestamp must replace start")
}

func TestChatEndpointRejectsForeignCursor(t *testing.T) {
	db := &fakeDB{}
	after := cursor.Cursor{
		BroadcasterID: 43,
		YearMonth:     202401,
		Timestamp:     1704067200000,
		MessageID:     uuid.MustParse("33569d6a-8a67-4e48-aa55-b11bf86e2268"),
	}.Encode()

	rec := get(t, db, "/v1.0/42/chat?start=2023-12-01T00:00:00Z&end=2024-02-01T00:00:00Z&after="+after)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "InvalidRequest")
	require.Nil(t, db.chatReq, "a rejected cursor must not reach the backend")
}

func TestChatEndpointRejectsMonthMismatchedCursor(t *testing.T) {
	db := &fakeDB{}
	after := cursor.Cursor{
		BroadcasterID: 42,
		YearMonth:     202402,
		Timestamp:     1704067200000,
		MessageID:     uuid.MustParse("33569d6a-8a67-4e48-aa55-b11bf86e2268"),
	}.Encode()

	rec := get(t, db, "/v1.0/42/chat?start=2023-12-01T00:00:00Z&end=2024-02-01T00:00:00Z&after="+after)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "InvalidRequest")
	require.Nil(t, db.chatReq)
}

func TestChatEndpointValidatesParams(t *testing.T) {
	cases := map[string]string{
		"missing start": "/v1.0/42/chat?end=2024-01-02T00:00:00Z",
		"bad start":     "/v1.0/42/chat?start=yesterday&end=2024-01-02T00:00:00Z",
		"missing end":   "/v1.0/42/chat?start=2024-01-01T00:00:00Z",
		"limit zero":    "/v1.0/42/chat?start=2024-01-01T00:00:00Z&end=2024-01-02T00:00:00Z&limit=0",
		"limit too big": "/v1.0/42/chat?start=2024-01-01T00:00:00Z&end=2024-01-02T00:00:00Z&limit=101",
		"limit garbage": "/v1.0/42/chat?start=2024-01-01T00:00:00Z&end=2024-01-02T00:00:00Z&limit=abc",
		"bad cursor":    "/v1.0/42/chat?start=2024-01-01T00:00:00Z&end=2024-01-02T00:00:00Z&after=!!!",
	}
	for name, url := range cases {
		t.Run(name, func(t *testing.T) {
			db := &fakeDB{}
			rec := get(t, db, url)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			require.Contains(t, rec.Body.String(), "InvalidRequest")
			require.Nil(t, db.chatReq)
		})
	}
}

func TestChatEndpointRequiresNumericBroadcaster(t *testing.T) {
	rec := get(t, &fakeDB{}, "/v1.0/notanumber/chat?start=2024-01-01T00:00:00Z&end=2024-01-02T00:00:00Z")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestChatEndpointReportsBackendFailure(t *testing.T) {
	db := &fakeDB{chatErr: status.Error(codes.Internal, "storage timeout")}

	rec := get(t, db, "/v1.0/42/chat?start=2024-01-01T00:00:00Z&end=2024-01-02T00:00:00Z")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Contains(t, rec.Body.String(), "storage timeout")
}

func TestClipEndpointReturnsClipURLs(t *testing.T) {
	db := &fakeDB{clipResp: &chatdbpb.GetClipsResponse{Clips: []*chatdbpb.Clip{
		{ClipID: "c1", EmbedURL: "https://clips.example/embed?c=1", ThumbnailURL: "https://clips.example/t/1.jpg"},
		{ClipID: "c2", EmbedURL: "https://clips.example/embed?c=2", ThumbnailURL: "https://clips.example/t/2.jpg"},
	}}}

	rec := get(t, db, "/v1.0/clip?start=2024-01-01T00:00:00Z&end=2024-01-01T01:00:00Z")
	require.Equal(t, http.StatusOK, rec.Code)

	require.Equal(t, int64(1704067200), db.clipReq.StartTimestamp, "clip range is in seconds")
	require.Equal(t, int64(1704070800), db.clipReq.EndTimestamp)

	var body clipsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, []clipURL{
		{EmbedURL: "https://clips.example/embed?c=1", ThumbnailURL: "https://clips.example/t/1.jpg"},
		{EmbedURL: "https://clips.example/embed?c=2", ThumbnailURL: "https://clips.example/t/2.jpg"},
	}, body.ClipURLs)
}

func TestClipEndpointEmptyRangeIsAnEmptyList(t *testing.T) {
	db := &fakeDB{clipResp: &chatdbpb.GetClipsResponse{}}

	rec := get(t, db, "/v1.0/clip?start=2024-01-01T00:00:00Z&end=2024-01-01T01:00:00Z")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"clip_urls":[]}`, rec.Body.String())
}

func TestClipEndpointReportsBackendFailure(t *testing.T) {
	db := &fakeDB{clipErr: status.Error(codes.Internal, "storage timeout")}

	rec := get(t, db, "/v1.0/clip?start=2024-01-01T00:00:00Z&end=2024-01-01T01:00:00Z")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestClipEndpointValidatesParams(t *testing.T) {
	rec := get(t, &fakeDB{}, "/v1.0/clip?start=notatime&end=2024-01-01T01:00:00Z")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "InvalidRequest")
}
