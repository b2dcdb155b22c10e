package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/invigilo/invigilo-backend/internal/config"
	"github.com/invigilo/invigilo-backend/internal/repository"
)

// ViolationWorker drains persist_violations_queue into the violation_events
// table. Events are append-only; CopyFrom handles the steady state and a
// row-by-row fallback mops up after bulk failures.
type ViolationWorker struct {
	pool *pgxpool.Pool
	rdb  *redis.Client
	log  zerolog.Logger
}

// NewViolationWorker creates a new ViolationWorker.
func NewViolationWorker(pool *pgxpool.Pool, rdb *redis.Client, log zerolog.Logger) *ViolationWorker {
	return &ViolationWorker{
		pool: pool,
		rdb:  rdb,
		log:  log.With().Str("component", "violation_worker").Logger(),
	}
}

// Start begins the worker loop. Cancel the context to stop; the buffered
// batch flushes before exit.
func (w *ViolationWorker) Start(ctx context.Context) {
	w.log.Info().Msg("Worker started")

	batch := make([]*repository.ViolationJob, 0, BatchSize)
	lastFlush := time.Now()

	for {
		if len(batch) > 0 &&
			(len(batch) >= BatchSize || time.Since(lastFlush) >= BatchTimeout) {
			w.flushSafe(ctx, batch)
			batch = batch[:0]
			lastFlush = time.Now()
		}

		select {
		case <-ctx.Done():
			w.log.Info().Msg("Shutdown requested. Flushing remaining batch...")
			w.flushSafe(context.Background(), batch)
			return

		default:
			item, err := w.rdb.BLPop(ctx, PollTimeout, config.WorkerKey.PersistViolationsQueue).Result()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					continue
				}
				if ctx.Err() != nil {
					continue
				}
				w.log.Error().Err(err).Msg("Redis connection error, sleeping 3s")
				sleepCtx(ctx, 3*time.Second)
				continue
			}
			if len(item) < 2 {
				continue
			}

			var job repository.ViolationJob
			if err := json.Unmarshal([]byte(item[1]), &job); err != nil {
				w.log.Error().Err(err).Str("data", item[1]).Msg("Discarding malformed JSON")
				continue
			}
			batch = append(batch, &job)
		}
	}
}

func (w *ViolationWorker) flushSafe(ctx context.Context, batch []*repository.ViolationJob) {
	if len(batch) == 0 {
		return
	}
	if err := w.bulkInsert(ctx, batch); err != nil {
		w.log.Warn().Err(err).Int("count", len(batch)).Msg("Bulk insert failed, attempting row-by-row recovery")
		w.fallbackInsert(ctx, batch)
	}
}

func (w *ViolationWorker) bulkInsert(ctx context.Context, batch []*repository.ViolationJob) error {
	rows := make([][]interface{}, 0, len(batch))
	for _, job := range batch {
		sid, err := uuid.Parse(job.SessionID)
		if err != nil {
			// Trigger fallback, which drops the bad row individually.
			return err
		}
		rows = append(rows, []interface{}{
			sid, job.Type, job.OccurredAtTime(), job.Details,
		})
	}

	_, err := w.pool.CopyFrom(
		ctx,
		pgx.Identifier{"violation_events"},
		[]string{"session_id", "type", "occurred_at", "details"},
		pgx.CopyFromRows(rows),
	)
	return err
}

func (w *ViolationWorker) fallbackInsert(ctx context.Context, batch []*repository.ViolationJob) {
	requeue := make([]*repository.ViolationJob, 0)

	for _, job := range batch {
		sid, err := uuid.Parse(job.SessionID)
		if err != nil {
			w.log.Error().Str("session_id", job.SessionID).Msg("Dropping violation with invalid UUID")
			continue
		}

		_, err = w.pool.Exec(ctx,
			`INSERT INTO violation_events (session_id, type, occurred_at, details)
			 VALUES ($1, $2, $3, $4)`,
			sid, job.Type, job.OccurredAtTime(), job.Details)
		if err != nil {
			w.log.Error().Err(err).Str("session_id", job.SessionID).Msg("Insert failed, requeueing")
			requeue = append(requeue, job)
		}
	}

	if len(requeue) > 0 {
		pipe := w.rdb.Pipeline()
		for _, job := range requeue {
			data, _ := json.Marshal(job)
			pipe.RPush(ctx, config.WorkerKey.PersistViolationsQueue, data)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			w.log.Error().Err(err).Msg("CRITICAL: Failed to requeue violations. Data loss occurred.")
			return
		}
		w.log.Info().Int("count", len(requeue)).Msg("Requeued failed violations back to Redis")
		sleepCtx(ctx, 2*time.Second)
	}
}
