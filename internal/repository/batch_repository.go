package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"sentiment-engine/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel/trace"
)

const createSyncBatchesTable = `
CREATE TABLE IF NOT EXISTS sync_batches (
    batch_id      TEXT        PRIMARY KEY,
    pair          TEXT        NOT NULL,
    timeframe     TEXT        NOT NULL,
    model         TEXT        NOT NULL,
    correlation   DOUBLE PRECISION NOT NULL DEFAULT 0,
    bullish_pct   DOUBLE PRECISION,
    bearish_pct   DOUBLE PRECISION,
    total_votes   INTEGER,
    fear_greed    INTEGER,
    succeeded     TEXT[]      NOT NULL DEFAULT '{}',
    failed_json   JSONB       NOT NULL DEFAULT '{}',
    started_at    TIMESTAMPTZ NOT NULL,
    finished_at   TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sync_batches_pair_finished
    ON sync_batches (pair, finished_at DESC);
`

type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// BatchRepository archives finished sync batches.
type BatchRepository struct {
	pool   PgxPool
	tracer trace.Tracer
}

func NewBatchRepository(pool PgxPool, tracer trace.Tracer) *BatchRepository {
	return &BatchRepository{pool: pool, tracer: tracer}
}

func (r *BatchRepository) RunMigrations(ctx context.Context) error {
	ctx, span := r.tracer.Start(ctx, "batch-repo.run-migrations")
	defer span.End()

	_, err := r.pool.Exec(ctx, createSyncBatchesTable)
	return err
}

func (r *BatchRepository) InsertBatch(ctx context.Context, rec domain.BatchRecord) error {
	ctx, span := r.tracer.Start(ctx, "batch-repo.insert-batch")
	defer span.End()

	failed := rec.Failed
	if failed == nil {
		failed = map[string]string{}
	}
	failedJSON, err := json.Marshal(failed)
	if err != nil {
		return fmt.Errorf("encode failed resources: %w", err)
	}
	succeeded := rec.Succeeded
	if succeeded == nil {
		succeeded = []string{}
	}

	var bullish, bearish, votes any
	if rec.Poll != nil {
		bullish, bearish, votes = rec.Poll.BullishPct, rec.Poll.BearishPct, rec.Poll.TotalVotes
	}
	var fearGreed any
	if rec.FearGreed != nil {
		fearGreed = *rec.FearGreed
	}

	_, err = r.pool.Exec(ctx,
		`INSERT INTO sync_batches (
		     batch_id, pair, timeframe, model, correlation,
		     bullish_pct, bearish_pct, total_votes, fear_greed,
		     succeeded, failed_json, started_at, finished_at
		 ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 ON CONFLICT (batch_id) DO NOTHING`,
		rec.BatchID, strings.ToUpper(rec.Pair), rec.Timeframe, rec.Model, rec.Correlation,
		bullish, bearish, votes, fearGreed,
		succeeded, string(failedJSON), rec.StartedAt.UTC(), rec.FinishedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert batch %s: %w", rec.BatchID, err)
	}
	return nil
}

// ListBatches returns the most recent batches, newest first. An empty pair lists all pairs.
func (r *BatchRepository) ListBatches(ctx context.Context, pair string, limit int) ([]domain.BatchRecord, error) {
	ctx, span := r.tracer.Start(ctx, "batch-repo.list-batches")
	defer span.End()

	if limit <= 0 || limit > 500 {
		limit = 50
	}

	rows, err := r.pool.Query(ctx,
		`SELECT batch_id, pair, timeframe, model, correlation,
		        bullish_pct, bearish_pct, total_votes, fear_greed,
		        succeeded, failed_json::text, started_at, finished_at
		 FROM sync_batches
		 WHERE ($1 = '' OR pair = $1)
		 ORDER BY finished_at DESC
		 LIMIT $2`,
		strings.ToUpper(strings.TrimSpace(pair)), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.BatchRecord
	for rows.Next() {
		var (
			rec              domain.BatchRecord
			bullish, bearish *float64
			votes, fearGreed *int
			failedJSON       string
		)
		if err := rows.Scan(
			&rec.BatchID, &rec.Pair, &rec.Timeframe, &rec.Model, &rec.Correlation,
			&bullish, &bearish, &votes, &fearGreed,
			&rec.Succeeded, &failedJSON, &rec.StartedAt, &rec.FinishedAt,
		); err != nil {
			return nil, err
		}
		if bullish != nil && bearish != nil && votes != nil {
			rec.Poll = &domain.PollStats{BullishPct: *bullish, BearishPct: *bearish, TotalVotes: *votes}
		}
		rec.FearGreed = fearGreed
		if failedJSON != "" {
			if err := json.Unmarshal([]byte(failedJSON), &rec.Failed); err != nil {
				return nil, fmt.Errorf("decode failed resources for %s: %w", rec.BatchID, err)
			}
		}
		rec.StartedAt = rec.StartedAt.UTC()
		rec.FinishedAt = rec.FinishedAt.UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}
