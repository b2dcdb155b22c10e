package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/invigilo/invigilo-backend/internal/model"
)

// AssignmentRepository handles assignment and question data access. Policy,
// environment and question payloads live in JSONB columns; the relational
// part is only what lists and lookups filter on.
type AssignmentRepository struct {
	pool *pgxpool.Pool
}

// NewAssignmentRepository creates a new AssignmentRepository.
func NewAssignmentRepository(pool *pgxpool.Pool) *AssignmentRepository {
	return &AssignmentRepository{pool: pool}
}

// Create inserts a new draft assignment.
func (r *AssignmentRepository) Create(ctx context.Context, a *model.Assignment) error {
	policy, err := json.Marshal(a.Policy)
	if err != nil {
		return fmt.Errorf("marshal policy: %w", err)
	}
	env, err := json.Marshal(a.Environment)
	if err != nil {
		return fmt.Errorf("marshal environment: %w", err)
	}

	return r.pool.QueryRow(ctx,
		`INSERT INTO assignments
		   (title, author_id, type, status, time_limit_seconds, max_attempts,
		    available_from, available_until, entry_token, violation_policy,
		    environment, randomize_order)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 RETURNING id, created_at, updated_at`,
		a.Title, a.AuthorID, a.Type, a.Status, a.TimeLimitSeconds, a.MaxAttempts,
		a.AvailableFrom, a.AvailableUntil, a.EntryToken, policy, env, a.RandomizeOrder,
	).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
}

// Update rewrites the mutable columns of a draft assignment.
func (r *AssignmentRepository) Update(ctx context.Context, a *model.Assignment) error {
	policy, err := json.Marshal(a.Policy)
	if err != nil {
		return fmt.Errorf("marshal policy: %w", err)
	}
	env, err := json.Marshal(a.Environment)
	if err != nil {
		return fmt.Errorf("marshal environment: %w", err)
	}

	tag, err := r.pool.Exec(ctx,
		`UPDATE assignments
		 SET title = $1, time_limit_seconds = $2, max_attempts = $3,
		     available_from = $4, available_until = $5, entry_token = $6,
		     violation_policy = $7, environment = $8, randomize_order = $9,
		     updated_at = NOW()
		 WHERE id = $10`,
		a.Title, a.TimeLimitSeconds, a.MaxAttempts, a.AvailableFrom, a.AvailableUntil,
		a.EntryToken, policy, env, a.RandomizeOrder, a.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateStatus moves an assignment between DRAFT, PUBLISHED and ARCHIVED.
func (r *AssignmentRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status model.AssignmentStatus) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE assignments SET status = $1, updated_at = NOW() WHERE id = $2`,
		status, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetByID retrieves an assignment with its questions in presentation order.
func (r *AssignmentRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Assignment, error) {
	a := &model.Assignment{}
	var policy, env []byte
	err := r.pool.QueryRow(ctx,
		`SELECT id, title, author_id, type, status, time_limit_seconds, max_attempts,
		        available_from, available_until, entry_token, violation_policy,
		        environment, randomize_order, created_at, updated_at
		 FROM assignments
		 WHERE id = $1`, id,
	).Scan(&a.ID, &a.Title, &a.AuthorID, &a.Type, &a.Status, &a.TimeLimitSeconds,
		&a.MaxAttempts, &a.AvailableFrom, &a.AvailableUntil, &a.EntryToken,
		&policy, &env, &a.RandomizeOrder, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(policy, &a.Policy); err != nil {
		return nil, fmt.Errorf("unmarshal policy: %w", err)
	}
	if err := json.Unmarshal(env, &a.Environment); err != nil {
		return nil, fmt.Errorf("unmarshal environment: %w", err)
	}

	questions, err := r.listQuestions(ctx, id)
	if err != nil {
		return nil, err
	}
	a.Questions = questions
	return a, nil
}

// List retrieves assignments for an author with pagination.
func (r *AssignmentRepository) List(ctx context.Context, authorID, page, perPage int) ([]model.Assignment, int64, error) {
	offset := (page - 1) * perPage

	var total int64
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM assignments WHERE author_id = $1`, authorID,
	).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, title, author_id, type, status, time_limit_seconds, max_attempts,
		        available_from, available_until, randomize_order, created_at, updated_at
		 FROM assignments
		 WHERE author_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2 OFFSET $3`, authorID, perPage, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []model.Assignment
	for rows.Next() {
		var a model.Assignment
		if err := rows.Scan(&a.ID, &a.Title, &a.AuthorID, &a.Type, &a.Status,
			&a.TimeLimitSeconds, &a.MaxAttempts, &a.AvailableFrom, &a.AvailableUntil,
			&a.RandomizeOrder, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, 0, err
		}
		out = append(out, a)
	}
	return out, total, rows.Err()
}

// ListPublished retrieves every published assignment, without questions.
// Used to prewarm the payload cache at startup.
func (r *AssignmentRepository) ListPublished(ctx context.Context) ([]model.Assignment, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, title, author_id, type, status, time_limit_seconds, max_attempts,
		        available_from, available_until, randomize_order, created_at, updated_at
		 FROM assignments
		 WHERE status = $1
		 ORDER BY created_at ASC`, model.AssignmentStatusPublished)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Assignment
	for rows.Next() {
		var a model.Assignment
		if err := rows.Scan(&a.ID, &a.Title, &a.AuthorID, &a.Type, &a.Status,
			&a.TimeLimitSeconds, &a.MaxAttempts, &a.AvailableFrom, &a.AvailableUntil,
			&a.RandomizeOrder, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Delete removes a draft assignment and its questions.
func (r *AssignmentRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM assignments WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ReplaceQuestions swaps the full question set atomically. Called only on
// drafts, so no session can hold a stale order.
func (r *AssignmentRepository) ReplaceQuestions(ctx context.Context, assignmentID uuid.UUID, questions []model.Question) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`DELETE FROM questions WHERE assignment_id = $1`, assignmentID); err != nil {
		return err
	}

	for i := range questions {
		q := &questions[i]
		q.AssignmentID = assignmentID
		payload, err := questionPayload(q)
		if err != nil {
			return err
		}
		if err := tx.QueryRow(ctx,
			`INSERT INTO questions (assignment_id, type, text, points, order_num, payload)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 RETURNING id`,
			assignmentID, q.Type, q.Text, q.Points, q.OrderNum, payload,
		).Scan(&q.ID); err != nil {
			return err
		}
	}

	if _, err := tx.Exec(ctx,
		`UPDATE assignments SET updated_at = NOW() WHERE id = $1`, assignmentID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *AssignmentRepository) listQuestions(ctx context.Context, assignmentID uuid.UUID) ([]model.Question, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, assignment_id, type, text, points, order_num, payload
		 FROM questions
		 WHERE assignment_id = $1
		 ORDER BY order_num ASC, id ASC`, assignmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Question
	for rows.Next() {
		var q model.Question
		var payload []byte
		if err := rows.Scan(&q.ID, &q.AssignmentID, &q.Type, &q.Text, &q.Points,
			&q.OrderNum, &payload); err != nil {
			return nil, err
		}
		if err := applyQuestionPayload(&q, payload); err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

// questionBody is the JSONB shape of the type-specific question payload.
type questionBody struct {
	Options          json.RawMessage  `json:"options,omitempty"`
	CorrectOptionIDs []string         `json:"correct_option_ids,omitempty"`
	StarterCode      string           `json:"starter_code,omitempty"`
	AllowedLanguages []string         `json:"allowed_languages,omitempty"`
	TestCases        []model.TestCase `json:"test_cases,omitempty"`
}

func questionPayload(q *model.Question) ([]byte, error) {
	body := questionBody{
		Options:          q.Options,
		CorrectOptionIDs: q.CorrectOptionIDs,
		StarterCode:      q.StarterCode,
		AllowedLanguages: q.AllowedLanguages,
		TestCases:        q.TestCases,
	}
	out, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal question payload: %w", err)
	}
	return out, nil
}

func applyQuestionPayload(q *model.Question, payload []byte) error {
	var body questionBody
	if err := json.Unmarshal(payload, &body); err != nil {
		return fmt.Errorf("unmarshal question payload: %w", err)
	}
	q.Options = body.Options
	q.CorrectOptionIDs = body.CorrectOptionIDs
	q.StarterCode = body.StarterCode
	q.AllowedLanguages = body.AllowedLanguages
	q.TestCases = body.TestCases
	return nil
}
