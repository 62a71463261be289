// Package postgres stores the registry of every streamer the poller has
// ever seen live. The registrar consults it (through a bloom filter) to
// avoid re-inserting known streamers on every poll cycle.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

const (
	insertStreamerSQL  = `INSERT INTO Streamer (streamer_id) VALUES ($1) ON CONFLICT DO NOTHING`
	selectStreamersSQL = `SELECT streamer_id FROM Streamer`
)

// Registry wraps a pgx connection pool. Safe for concurrent use.
type Registry struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

func NewRegistry(ctx context.Context, dsn string, logger zerolog.Logger) (*Registry, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return &Registry{pool: pool, logger: logger}, nil
}

// InsertStreamers registers ids in one batch round-trip. Conflicts are
// no-ops, so redelivered broadcaster events are harmless.
func (r *Registry) InsertStreamers(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, id := range ids {
		batch.Queue(insertStreamerSQL, id)
	}
	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()
	for _, id := range ids {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("insert streamer %d: %w", id, err)
		}
	}
	return nil
}

// StreamerIDs returns every registered id. Called once at startup to warm
// the registrar's bloom filter; the table holds one row per streamer ever
// seen, so a full scan stays cheap.
func (r *Registry) StreamerIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.pool.Query(ctx, selectStreamersSQL)
	if err != nil {
		return nil, fmt.Errorf("select streamers: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("scan streamers: %w", err)
	}
	return ids, nil
}

func (r *Registry) Close() {
	r.pool.Close()
}
