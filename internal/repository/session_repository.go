package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/invigilo/invigilo-backend/internal/config"
	"github.com/invigilo/invigilo-backend/internal/model"
	"github.com/invigilo/invigilo-backend/internal/session"
)

// AnswerJob is one queued answer write, drained into PostgreSQL by the
// answer worker.
type AnswerJob struct {
	SessionID  string    `json:"session_id"`
	QuestionID string    `json:"question_id"`
	Payload    string    `json:"payload"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ViolationJob is one queued integrity event. OccurredAt is unix
// milliseconds: whole seconds are too coarse for the debounce window, which
// must hold after a recovery reload.
type ViolationJob struct {
	SessionID  string `json:"session_id"`
	Type       string `json:"type"`
	OccurredAt int64  `json:"occurred_at"`
	Details    string `json:"details,omitempty"`
}

// OccurredAtTime converts the queued timestamp back to time.Time.
func (j *ViolationJob) OccurredAtTime() time.Time {
	return time.UnixMilli(j.OccurredAt)
}

// CleanupJob asks the cleanup worker to settle a finished attempt: flush any
// answers still sitting in Redis, then drop the attempt's hot keys.
type CleanupJob struct {
	SessionID string `json:"session_id"`
}

// SessionRepository implements the session engine's Store over PostgreSQL
// and Redis. The session row is written synchronously — the engine's retry
// and SUBMITTING_FAILED semantics depend on Save reporting truthfully — while
// per-answer rows and violation events ride Redis queues to the workers so
// a hot exam never stalls on row-by-row inserts.
type SessionRepository struct {
	pool *pgxpool.Pool
	rdb  *redis.Client
}

// NewSessionRepository creates a new SessionRepository.
func NewSessionRepository(pool *pgxpool.Pool, rdb *redis.Client) *SessionRepository {
	return &SessionRepository{pool: pool, rdb: rdb}
}

var _ session.Store = (*SessionRepository)(nil)

// Save upserts the full session snapshot. Answers newer than the previous
// save land in the Redis hash and the persist queue; a terminal snapshot
// additionally enqueues cleanup of the attempt's hot keys.
func (r *SessionRepository) Save(ctx context.Context, s *model.Session) error {
	order, err := json.Marshal(s.QuestionOrder)
	if err != nil {
		return fmt.Errorf("marshal question order: %w", err)
	}
	var result []byte
	if s.Result != nil {
		if result, err = json.Marshal(s.Result); err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}
	}

	_, err = r.pool.Exec(ctx,
		`INSERT INTO sessions
		   (id, assignment_id, user_id, state, submit_reason, started_at, deadline,
		    finished_at, violation_count, last_saved_at, question_order, result)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), $10, $11)
		 ON CONFLICT (id) DO UPDATE
		 SET state = EXCLUDED.state,
		     submit_reason = EXCLUDED.submit_reason,
		     finished_at = EXCLUDED.finished_at,
		     violation_count = GREATEST(sessions.violation_count, EXCLUDED.violation_count),
		     last_saved_at = NOW(),
		     result = EXCLUDED.result`,
		s.ID, s.AssignmentID, s.UserID, s.State, nullableReason(s.SubmitReason),
		s.StartedAt, s.Deadline, s.FinishedAt, s.ViolationCount, order, result)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}

	if err := r.pushAnswers(ctx, s); err != nil {
		return err
	}

	// The deadline mirror lets reconnecting clients read expiry without a
	// database round trip. Write-once: the deadline never moves.
	deadlineKey := config.CacheKey.AttemptDeadlineKey(s.ID.String())
	ttl := time.Until(s.Deadline) + time.Hour
	if ttl > 0 {
		r.rdb.SetNX(ctx, deadlineKey, s.Deadline.Unix(), ttl)
	}

	activeKey := config.CacheKey.UserActiveSessionKey(s.UserID)
	if s.State.Terminal() || s.State == model.SessionStateSubmitFailed {
		r.rdb.Del(ctx, activeKey)
		job, _ := json.Marshal(CleanupJob{SessionID: s.ID.String()})
		if err := r.rdb.RPush(ctx, config.WorkerKey.PersistResultsQueue, job).Err(); err != nil {
			return fmt.Errorf("enqueue cleanup: %w", err)
		}
	} else {
		r.rdb.Set(ctx, activeKey, s.ID.String(), time.Until(s.Deadline)+time.Hour)
	}
	return nil
}

// pushAnswers mirrors changed answers into the Redis hash and queues their
// durable write. LastSavedAt bounds the delta so an unchanged answer is not
// re-enqueued on every flush.
func (r *SessionRepository) pushAnswers(ctx context.Context, s *model.Session) error {
	hashKey := config.CacheKey.AttemptAnswersKey(s.ID.String())

	pipe := r.rdb.Pipeline()
	queued := 0
	for qid, ans := range s.Answers {
		if s.LastSavedAt != nil && !ans.UpdatedAt.After(*s.LastSavedAt) {
			continue
		}
		payload, err := json.Marshal(ans)
		if err != nil {
			return fmt.Errorf("marshal answer: %w", err)
		}
		pipe.HSet(ctx, hashKey, qid.String(), payload)

		job, _ := json.Marshal(AnswerJob{
			SessionID:  s.ID.String(),
			QuestionID: qid.String(),
			Payload:    string(payload),
			UpdatedAt:  ans.UpdatedAt,
		})
		pipe.RPush(ctx, config.WorkerKey.PersistAnswersQueue, job)
		queued++
	}
	if queued == 0 {
		return nil
	}
	pipe.Expire(ctx, hashKey, time.Until(s.Deadline)+24*time.Hour)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("push answers: %w", err)
	}
	return nil
}

// Load retrieves a session snapshot: the row from PostgreSQL, answers from
// the Redis hash with the durable table as fallback.
func (r *SessionRepository) Load(ctx context.Context, sessionID uuid.UUID) (*model.Session, error) {
	s := &model.Session{}
	var reason *string
	var order, result []byte
	err := r.pool.QueryRow(ctx,
		`SELECT id, assignment_id, user_id, state, submit_reason, started_at, deadline,
		        finished_at, violation_count, last_saved_at, question_order, result
		 FROM sessions
		 WHERE id = $1`, sessionID,
	).Scan(&s.ID, &s.AssignmentID, &s.UserID, &s.State, &reason, &s.StartedAt,
		&s.Deadline, &s.FinishedAt, &s.ViolationCount, &s.LastSavedAt, &order, &result)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, session.ErrSessionNotFound
		}
		return nil, err
	}
	if reason != nil {
		s.SubmitReason = model.SubmitReason(*reason)
	}
	if len(order) > 0 {
		if err := json.Unmarshal(order, &s.QuestionOrder); err != nil {
			return nil, fmt.Errorf("unmarshal question order: %w", err)
		}
	}
	if len(result) > 0 {
		s.Result = &model.GradingResult{}
		if err := json.Unmarshal(result, s.Result); err != nil {
			return nil, fmt.Errorf("unmarshal result: %w", err)
		}
	}

	answers, err := r.loadAnswers(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	s.Answers = answers
	return s, nil
}

func (r *SessionRepository) loadAnswers(ctx context.Context, sessionID uuid.UUID) (map[uuid.UUID]*model.Answer, error) {
	answers := make(map[uuid.UUID]*model.Answer)

	fields, err := r.rdb.HGetAll(ctx, config.CacheKey.AttemptAnswersKey(sessionID.String())).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("load answer hash: %w", err)
	}
	for field, raw := range fields {
		qid, err := uuid.Parse(field)
		if err != nil {
			continue
		}
		var ans model.Answer
		if err := json.Unmarshal([]byte(raw), &ans); err != nil {
			return nil, fmt.Errorf("unmarshal answer: %w", err)
		}
		answers[qid] = &ans
	}
	if len(answers) > 0 {
		return answers, nil
	}

	// Hash evicted or empty: fall back to the durable table.
	rows, err := r.pool.Query(ctx,
		`SELECT question_id, payload
		 FROM session_answers
		 WHERE session_id = $1`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var qid uuid.UUID
		var payload []byte
		if err := rows.Scan(&qid, &payload); err != nil {
			return nil, err
		}
		var ans model.Answer
		if err := json.Unmarshal(payload, &ans); err != nil {
			return nil, fmt.Errorf("unmarshal answer: %w", err)
		}
		answers[qid] = &ans
	}
	return answers, rows.Err()
}

// AppendViolation enqueues one integrity event for the violation worker.
// The queue survives restarts, so an accepted event is never lost even if
// the batch insert lags.
func (r *SessionRepository) AppendViolation(ctx context.Context, ev model.ViolationEvent) error {
	job, err := json.Marshal(ViolationJob{
		SessionID:  ev.SessionID.String(),
		Type:       string(ev.Type),
		OccurredAt: ev.OccurredAt.UnixMilli(),
		Details:    ev.Details,
	})
	if err != nil {
		return fmt.Errorf("marshal violation: %w", err)
	}
	if err := r.rdb.RPush(ctx, config.WorkerKey.PersistViolationsQueue, job).Err(); err != nil {
		return fmt.Errorf("enqueue violation: %w", err)
	}
	return nil
}

// LoadViolations returns the recorded events for a session in order.
func (r *SessionRepository) LoadViolations(ctx context.Context, sessionID uuid.UUID) ([]model.ViolationEvent, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT session_id, type, occurred_at, details
		 FROM violation_events
		 WHERE session_id = $1
		 ORDER BY occurred_at ASC, id ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []model.ViolationEvent
	for rows.Next() {
		var ev model.ViolationEvent
		if err := rows.Scan(&ev.SessionID, &ev.Type, &ev.OccurredAt, &ev.Details); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// LoadActive lists sessions that were in flight at their last save.
func (r *SessionRepository) LoadActive(ctx context.Context) ([]*model.Session, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id
		 FROM sessions
		 WHERE state IN ($1, $2, $3)`,
		model.SessionStateSetup, model.SessionStateActive, model.SessionStateSubmitting)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sessions := make([]*model.Session, 0, len(ids))
	for _, id := range ids {
		s, err := r.Load(ctx, id)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, nil
}

// CountAttempts returns how many attempts a user has used on an assignment.
// In-flight attempts count; an attempt is spent when it starts, not when it
// ends.
func (r *SessionRepository) CountAttempts(ctx context.Context, assignmentID uuid.UUID, userID int) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM sessions
		 WHERE assignment_id = $1 AND user_id = $2`, assignmentID, userID,
	).Scan(&n)
	return n, err
}

// AttemptRow is one line of the instructor results view.
type AttemptRow struct {
	SessionID      uuid.UUID          `json:"session_id"`
	UserID         int                `json:"user_id"`
	StudentName    string             `json:"student_name"`
	State          model.SessionState `json:"state"`
	SubmitReason   model.SubmitReason `json:"submit_reason,omitempty"`
	Score          *float64           `json:"score"`
	ViolationCount int                `json:"violation_count"`
	StartedAt      time.Time          `json:"started_at"`
	FinishedAt     *time.Time         `json:"finished_at"`
}

// ListByAssignment retrieves attempt rows for the instructor results view.
func (r *SessionRepository) ListByAssignment(ctx context.Context, assignmentID uuid.UUID, page, perPage int) ([]AttemptRow, int64, error) {
	offset := (page - 1) * perPage

	var total int64
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM sessions WHERE assignment_id = $1`, assignmentID,
	).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.pool.Query(ctx,
		`SELECT s.id, s.user_id, st.name, s.state, s.submit_reason,
		        (s.result->>'score')::float8, s.violation_count, s.started_at, s.finished_at
		 FROM sessions s
		 JOIN students st ON s.user_id = st.id
		 WHERE s.assignment_id = $1
		 ORDER BY st.name ASC, s.started_at DESC
		 LIMIT $2 OFFSET $3`, assignmentID, perPage, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []AttemptRow
	for rows.Next() {
		var row AttemptRow
		var reason *string
		if err := rows.Scan(&row.SessionID, &row.UserID, &row.StudentName, &row.State,
			&reason, &row.Score, &row.ViolationCount, &row.StartedAt, &row.FinishedAt); err != nil {
			return nil, 0, err
		}
		if reason != nil {
			row.SubmitReason = model.SubmitReason(*reason)
		}
		out = append(out, row)
	}
	return out, total, rows.Err()
}

func nullableReason(r model.SubmitReason) *string {
	if r == "" {
		return nil
	}
	s := string(r)
	return &s
}
