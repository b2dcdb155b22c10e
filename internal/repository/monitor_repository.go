package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/invigilo/invigilo-backend/internal/model"
)

// MonitorRepository provides the aggregate queries behind the live
// proctoring view. Counts come from the durable tables; the per-event live
// feed rides Redis pub/sub and never touches these queries.
type MonitorRepository struct {
	pool *pgxpool.Pool
}

// NewMonitorRepository creates a new MonitorRepository.
func NewMonitorRepository(pool *pgxpool.Pool) *MonitorRepository {
	return &MonitorRepository{pool: pool}
}

// GetActiveUserIDs returns users with an in-flight session for the assignment.
func (r *MonitorRepository) GetActiveUserIDs(ctx context.Context, assignmentID uuid.UUID) ([]int, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT user_id FROM sessions WHERE assignment_id = $1 AND state = $2`,
		assignmentID, model.SessionStateActive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetAnsweredCounts returns the count of answered questions per user for the
// assignment, covering every user with at least one persisted answer.
func (r *MonitorRepository) GetAnsweredCounts(ctx context.Context, assignmentID uuid.UUID) (map[int]int64, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT s.user_id, COUNT(*)
		 FROM session_answers sa
		 JOIN sessions s ON sa.session_id = s.id
		 WHERE s.assignment_id = $1
		 GROUP BY s.user_id`,
		assignmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[int]int64)
	for rows.Next() {
		var uid int
		var count int64
		if err := rows.Scan(&uid, &count); err != nil {
			return nil, err
		}
		result[uid] = count
	}
	return result, rows.Err()
}

// GetViolationCounts returns the number of recorded violation events per user
// for the assignment.
func (r *MonitorRepository) GetViolationCounts(ctx context.Context, assignmentID uuid.UUID) (map[int]int64, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT s.user_id, COUNT(*)
		 FROM violation_events v
		 JOIN sessions s ON v.session_id = s.id
		 WHERE s.assignment_id = $1
		 GROUP BY s.user_id`,
		assignmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[int]int64)
	for rows.Next() {
		var uid int
		var count int64
		if err := rows.Scan(&uid, &count); err != nil {
			return nil, err
		}
		counts[uid] = count
	}
	return counts, rows.Err()
}
