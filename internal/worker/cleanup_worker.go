package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/invigilo/invigilo-backend/internal/config"
	"github.com/invigilo/invigilo-backend/internal/model"
	"github.com/invigilo/invigilo-backend/internal/repository"
)

// CleanupWorker settles finished attempts: it flushes whatever the answer
// hash still holds into session_answers, then drops the attempt's hot keys.
// Runs after the final session write, so nothing it touches is still being
// mutated.
type CleanupWorker struct {
	pool *pgxpool.Pool
	rdb  *redis.Client
	log  zerolog.Logger
}

// NewCleanupWorker creates a new CleanupWorker.
func NewCleanupWorker(pool *pgxpool.Pool, rdb *redis.Client, log zerolog.Logger) *CleanupWorker {
	return &CleanupWorker{
		pool: pool,
		rdb:  rdb,
		log:  log.With().Str("component", "cleanup_worker").Logger(),
	}
}

// Start begins the worker loop. Cancel the context to stop; the queue keeps
// unprocessed jobs for the next boot.
func (w *CleanupWorker) Start(ctx context.Context) {
	w.log.Info().Msg("Worker started")

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Worker stopped")
			return
		default:
			w.processNext(ctx)
		}
	}
}

func (w *CleanupWorker) processNext(ctx context.Context) {
	item, err := w.rdb.BLPop(ctx, PollTimeout, config.WorkerKey.PersistResultsQueue).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
			w.log.Error().Err(err).Msg("BLPop error")
		}
		return
	}
	if len(item) < 2 {
		return
	}

	var job repository.CleanupJob
	if err := json.Unmarshal([]byte(item[1]), &job); err != nil {
		w.log.Error().Err(err).Str("data", item[1]).Msg("Discarding malformed JSON")
		return
	}

	if err := w.settle(ctx, &job); err != nil {
		w.log.Error().Err(err).
			Str("session_id", job.SessionID).
			Msg("Settle error, retrying in 5s")
		w.rdb.RPush(ctx, config.WorkerKey.PersistResultsQueue, item[1])
		sleepCtx(ctx, 5*time.Second)
	}
}

// settle makes every hash answer durable before deleting the key. The upsert
// keeps the newest payload, so a lagging answer job racing this flush cannot
// clobber it.
func (w *CleanupWorker) settle(ctx context.Context, job *repository.CleanupJob) error {
	sid, err := uuid.Parse(job.SessionID)
	if err != nil {
		w.log.Error().Str("session_id", job.SessionID).Msg("Dropping cleanup job with invalid UUID")
		return nil
	}

	hashKey := config.CacheKey.AttemptAnswersKey(job.SessionID)
	fields, err := w.rdb.HGetAll(ctx, hashKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}

	for field, raw := range fields {
		qid, err := uuid.Parse(field)
		if err != nil {
			continue
		}
		var ans model.Answer
		if err := json.Unmarshal([]byte(raw), &ans); err != nil {
			w.log.Error().Err(err).Str("question_id", field).Msg("Skipping malformed answer payload")
			continue
		}
		if _, err := w.pool.Exec(ctx,
			`INSERT INTO session_answers (session_id, question_id, payload, updated_at)
			 VALUES ($1, $2, $3::jsonb, $4)
			 ON CONFLICT (session_id, question_id) DO UPDATE
			 SET payload = EXCLUDED.payload,
			     updated_at = EXCLUDED.updated_at
			 WHERE session_answers.updated_at <= EXCLUDED.updated_at`,
			sid, qid, raw, ans.UpdatedAt); err != nil {
			return err
		}
	}

	pipe := w.rdb.Pipeline()
	pipe.Del(ctx, hashKey)
	pipe.Del(ctx, config.CacheKey.AttemptDeadlineKey(job.SessionID))
	_, err = pipe.Exec(ctx)
	return err
}
