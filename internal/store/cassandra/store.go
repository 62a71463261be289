// Package cassandra persists chat messages and clip metadata in the
// wide-column store. Chat rows are partitioned by (broadcaster, year-month)
// so a range read walks one month partition at a time; clips share a single
// partition and are clustered by timestamp.
package cassandra

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/rs/zerolog"

	"github.com/chatpulse/chatpulse/internal/event"
	"github.com/chatpulse/chatpulse/internal/partition"
)

// insertChunkSize bounds rows per InsertChats call into one logical unit of
// work; within a chunk, rows are batched per partition so a batch never
// spans partitions.
const insertChunkSize = 1000

// clipBucket is the single partition key all clip rows share. Clip volume
// is a handful of rows per hour, so one partition reads the whole range in
// one query.
const clipBucket = 1

const (
	insertChatCQL = `INSERT INTO chat_by_broadcaster_and_timestamp (broadcaster_id, year_month, timestamp, message_id, message) VALUES (?, ?, ?, ?, ?)`
	selectChatCQL = `SELECT broadcaster_id, timestamp, message_id, message FROM chat_by_broadcaster_and_timestamp WHERE broadcaster_id = ? AND year_month = ? AND timestamp >= ? AND timestamp <= ? LIMIT ?`
	insertClipCQL = `INSERT INTO clips_by_timestamp (bucket, timestamp, clip_id, embed_url, thumbnail_url) VALUES (?, ?, ?, ?, ?)`
	selectClipCQL = `SELECT timestamp, clip_id, embed_url, thumbnail_url FROM clips_by_timestamp WHERE bucket = ? AND timestamp >= ? AND timestamp <= ?`
)

// Chat is one chat table row.
type Chat struct {
	BroadcasterID int64
	YearMonth     int32
	Timestamp     int64
	MessageID     string
	Message       string
}

// FromEvent builds a row from a validated chat event, deriving the
// partition month from the event timestamp.
func FromEvent(m event.ChatMessage) Chat {
	return Chat{
		BroadcasterID: m.BroadcasterID,
		YearMonth:     partition.Month(m.Timestamp),
		Timestamp:     m.Timestamp,
		MessageID:     m.MessageID,
		Message:       m.Message,
	}
}

// Clip is one clip table row. Timestamp is the anomaly's Unix second.
type Clip struct {
	Timestamp    int64
	ClipID       string
	EmbedURL     string
	ThumbnailURL string
}

// Store wraps one Cassandra session. Safe for concurrent use.
type Store struct {
	session *gocql.Session
	logger  zerolog.Logger
}

func New(hosts []string, keyspace string, logger zerolog.Logger) (*Store, error) {
	cluster := gocql.NewCluster(hosts...)
	cluster.Keyspace = keyspace
	cluster.Consistency = gocql.Quorum
	cluster.Timeout = 10 * time.Second
	cluster.ConnectTimeout = 10 * time.Second

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("cassandra connect %v: %w", hosts, err)
	}
	return &Store{session: session, logger: logger}, nil
}

// InsertChats writes rows in chunks, one unlogged batch per partition.
// The insert is idempotent: the primary key includes the message id, so a
// redelivered batch overwrites identical rows.
func (s *Store) InsertChats(ctx context.Context, chats []Chat) error {
	for start := 0; start < len(chats); start += insertChunkSize {
		end := start + insertChunkSize
		if end > len(chats) {
			end = len(chats)
		}
		if err := s.insertChunk(ctx, chats[start:end]); err != nil {
			return err
		}
	}
	return nil
}

type chatPartition struct {
	broadcasterID int64
	yearMonth     int32
}

func (s *Store) insertChunk(ctx context.Context, chats []Chat) error {
	groups := make(map[chatPartition][]Chat)
	for _, c := range chats {
		key := chatPartition{c.BroadcasterID, c.YearMonth}
		groups[key] = append(groups[key], c)
	}

	for key, group := range groups {
		batch := s.session.NewBatch(gocql.UnloggedBatch).WithContext(ctx)
		for _, c := range group {
			batch.Query(insertChatCQL, c.BroadcasterID, c.YearMonth, c.Timestamp, c.MessageID, c.Message)
		}
		if err := s.session.ExecuteBatch(batch); err != nil {
			return fmt.Errorf("insert %d chats for broadcaster %d month %d: %w",
				len(group), key.broadcasterID, key.yearMonth, err)
		}
	}
	return nil
}

// GetChats returns up to limit rows in [startMs, endMs] in timestamp order,
// walking month partitions from the start month to the end month.
func (s *Store) GetChats(ctx context.Context, broadcasterID, startMs, endMs int64, limit int) ([]Chat, error) {
	fetch := func(ctx context.Context, ym int32, remaining int) ([]Chat, error) {
		iter := s.session.Query(selectChatCQL, broadcasterID, ym, startMs, endMs, remaining).
			WithContext(ctx).Iter()

		page := make([]Chat, 0, remaining)
		var c Chat
		for iter.Scan(&c.BroadcasterID, &c.Timestamp, &c.MessageID, &c.Message) {
			c.YearMonth = ym
			page = append(page, c)
		}
		if err := iter.Close(); err != nil {
			return nil, fmt.Errorf("select chats for broadcaster %d month %d: %w", broadcasterID, ym, err)
		}
		return page, nil
	}
	return walkMonths(ctx, startMs, endMs, limit, fetch)
}

// pageFunc fetches up to remaining rows from one month partition.
type pageFunc func(ctx context.Context, ym int32, remaining int) ([]Chat, error)

// walkMonths visits month partitions in order, stopping as soon as limit
// rows are collected or the end month has been read. Empty months in the
// middle of the range advance the walk rather than ending it.
func walkMonths(ctx context.Context, startMs, endMs int64, limit int, fetch pageFunc) ([]Chat, error) {
	if limit <= 0 || endMs < startMs {
		return nil, nil
	}

	endYM := partition.Month(endMs)
	out := make([]Chat, 0, limit)
	for ym := partition.Month(startMs); ym <= endYM && len(out) < limit; ym = partition.Next(ym) {
		page, err := fetch(ctx, ym, limit-len(out))
		if err != nil {
			return nil, err
		}
		out = append(out, page...)
	}
	return out, nil
}

// InsertClip writes one clip row.
func (s *Store) InsertClip(ctx context.Context, clip Clip) error {
	err := s.session.Query(insertClipCQL, clipBucket, clip.Timestamp, clip.ClipID, clip.EmbedURL, clip.ThumbnailURL).
		WithContext(ctx).Exec()
	if err != nil {
		return fmt.Errorf("insert clip at %d: %w", clip.Timestamp, err)
	}
	return nil
}

// GetClips returns clips in [startS, endS] in timestamp order.
func (s *Store) GetClips(ctx context.Context, startS, endS int64) ([]Clip, error) {
	iter := s.session.Query(selectClipCQL, clipBucket, startS, endS).WithContext(ctx).Iter()

	var out []Clip
	var c Clip
	for iter.Scan(&c.Timestamp, &c.ClipID, &c.EmbedURL, &c.ThumbnailURL) {
		out = append(out, c)
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("select clips in [%d, %d]: %w", startS, endS, err)
	}
	return out, nil
}

func (s *Store) Close() {
	s.session.Close()
}
