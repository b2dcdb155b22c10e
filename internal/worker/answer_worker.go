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
	"github.com/invigilo/invigilo-backend/internal/repository"
)

const (
	BatchSize    = 50
	BatchTimeout = 2 * time.Second
	PollTimeout  = 1 * time.Second // Must be >= 1s to satisfy Redis
)

// sleepCtx waits for d or until the context is cancelled, whichever comes
// first. Retry backoffs must not outlive the shutdown drain window.
func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// AnswerWorker drains persist_answers_queue into the session_answers table.
// The Redis hash stays the hot copy; this worker only makes answers durable.
type AnswerWorker struct {
	pool *pgxpool.Pool
	rdb  *redis.Client
	log  zerolog.Logger
}

// NewAnswerWorker creates a new AnswerWorker.
func NewAnswerWorker(pool *pgxpool.Pool, rdb *redis.Client, log zerolog.Logger) *AnswerWorker {
	return &AnswerWorker{
		pool: pool,
		rdb:  rdb,
		log:  log.With().Str("component", "answer_worker").Logger(),
	}
}

// Start begins the worker loop. Call in a goroutine; cancel the context to
// stop, remaining batched items are flushed before exit.
func (w *AnswerWorker) Start(ctx context.Context) {
	w.log.Info().Msg("Worker started")

	batch := make([]*repository.AnswerJob, 0, BatchSize)
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
			item, err := w.rdb.BLPop(ctx, PollTimeout, config.WorkerKey.PersistAnswersQueue).Result()
			if err != nil {
				if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
					w.log.Error().Err(err).Msg("BLPop error")
				}
				continue
			}
			if len(item) < 2 {
				continue
			}

			var job repository.AnswerJob
			if err := json.Unmarshal([]byte(item[1]), &job); err != nil {
				w.log.Error().Err(err).Str("data", item[1]).Msg("Discarding malformed JSON")
				continue
			}
			batch = append(batch, &job)
		}
	}
}

func (w *AnswerWorker) flushSafe(ctx context.Context, batch []*repository.AnswerJob) {
	if len(batch) == 0 {
		return
	}
	if err := w.bulkUpsert(ctx, batch); err != nil {
		w.log.Warn().Err(err).Int("count", len(batch)).Msg("Bulk upsert failed, attempting row-by-row recovery")
		w.fallbackUpsert(ctx, batch)
	}
}

// bulkUpsert writes the whole batch in one statement via UNNEST. ON CONFLICT
// keeps the newest payload per (session, question) even if jobs arrive out
// of order.
func (w *AnswerWorker) bulkUpsert(ctx context.Context, batch []*repository.AnswerJob) error {
	n := len(batch)
	sessionIDs := make([]uuid.UUID, 0, n)
	questionIDs := make([]uuid.UUID, 0, n)
	payloads := make([]string, 0, n)
	updatedAts := make([]time.Time, 0, n)

	for _, job := range batch {
		sid, err := uuid.Parse(job.SessionID)
		if err != nil {
			return err
		}
		qid, err := uuid.Parse(job.QuestionID)
		if err != nil {
			return err
		}
		sessionIDs = append(sessionIDs, sid)
		questionIDs = append(questionIDs, qid)
		payloads = append(payloads, job.Payload)
		updatedAts = append(updatedAts, job.UpdatedAt)
	}

	query := `
		INSERT INTO session_answers (session_id, question_id, payload, updated_at)
		SELECT u.session_id, u.question_id, u.payload::jsonb, u.updated_at
		FROM UNNEST(
			$1::uuid[],
			$2::uuid[],
			$3::text[],
			$4::timestamptz[]
		) AS u (session_id, question_id, payload, updated_at)
		ON CONFLICT (session_id, question_id) DO UPDATE
		SET payload = EXCLUDED.payload,
		    updated_at = EXCLUDED.updated_at
		WHERE session_answers.updated_at <= EXCLUDED.updated_at
	`
	_, err := w.pool.Exec(ctx, query, sessionIDs, questionIDs, payloads, updatedAts)
	return err
}

func (w *AnswerWorker) fallbackUpsert(ctx context.Context, batch []*repository.AnswerJob) {
	requeue := make([]*repository.AnswerJob, 0)

	for _, job := range batch {
		sid, errS := uuid.Parse(job.SessionID)
		qid, errQ := uuid.Parse(job.QuestionID)
		if errS != nil || errQ != nil {
			w.log.Error().Str("session_id", job.SessionID).Msg("Dropping answer with invalid UUID")
			continue
		}

		_, err := w.pool.Exec(ctx,
			`INSERT INTO session_answers (session_id, question_id, payload, updated_at)
			 VALUES ($1, $2, $3::jsonb, $4)
			 ON CONFLICT (session_id, question_id) DO UPDATE
			 SET payload = EXCLUDED.payload,
			     updated_at = EXCLUDED.updated_at
			 WHERE session_answers.updated_at <= EXCLUDED.updated_at`,
			sid, qid, job.Payload, job.UpdatedAt)
		if err != nil {
			w.log.Error().Err(err).Str("session_id", job.SessionID).Msg("Upsert failed, requeueing")
			requeue = append(requeue, job)
		}
	}

	if len(requeue) > 0 {
		w.requeue(ctx, requeue)
	}
}

func (w *AnswerWorker) requeue(ctx context.Context, jobs []*repository.AnswerJob) {
	pipe := w.rdb.Pipeline()
	for _, job := range jobs {
		data, _ := json.Marshal(job)
		pipe.RPush(ctx, config.WorkerKey.PersistAnswersQueue, data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		w.log.Error().Err(err).Msg("CRITICAL: Failed to requeue answers. Data loss occurred.")
		return
	}
	w.log.Info().Int("count", len(jobs)).Msg("Requeued failed answers back to Redis")
	// Avoid thrashing while the database is down hard.
	sleepCtx(ctx, 2*time.Second)
}
