package service

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/invigilo/invigilo-backend/internal/config"
	"github.com/invigilo/invigilo-backend/internal/model"
	"github.com/invigilo/invigilo-backend/internal/repository"
)

// MonitorService powers the live proctoring view: per-event feed over Redis
// pub/sub plus an aggregate snapshot from the durable tables.
type MonitorService struct {
	repo *repository.MonitorRepository
	rdb  *redis.Client
	log  zerolog.Logger
}

// NewMonitorService creates a new MonitorService.
func NewMonitorService(repo *repository.MonitorRepository, rdb *redis.Client, log zerolog.Logger) *MonitorService {
	return &MonitorService{
		repo: repo,
		rdb:  rdb,
		log:  log.With().Str("component", "monitor_service").Logger(),
	}
}

// Publish pushes one event onto the assignment's live channel. Best effort;
// the feed is a convenience view, the durable record lives elsewhere.
func (s *MonitorService) Publish(ctx context.Context, assignmentID uuid.UUID, ev model.MonitorEvent) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to marshal monitor event")
		return
	}
	channel := config.CacheKey.AssignmentMonitorChannel(assignmentID.String())
	if err := s.rdb.Publish(ctx, channel, data).Err(); err != nil {
		s.log.Warn().Err(err).
			Str("assignment_id", assignmentID.String()).
			Msg("Failed to publish monitor event")
	}
}

// Subscribe opens a pub/sub subscription on the assignment's live channel.
// The caller owns the subscription and must Close it.
func (s *MonitorService) Subscribe(ctx context.Context, assignmentID uuid.UUID) *redis.PubSub {
	return s.rdb.Subscribe(ctx, config.CacheKey.AssignmentMonitorChannel(assignmentID.String()))
}

// GetProgress builds the aggregate snapshot for an assignment: one row per
// user with an active attempt, with answered and violation counts. The three
// queries are independent, so they run in parallel.
func (s *MonitorService) GetProgress(ctx context.Context, assignmentID uuid.UUID) ([]model.AttemptProgress, error) {
	var (
		wg         sync.WaitGroup
		activeIDs  []int
		answered   map[int]int64
		violations map[int]int64
		errActive  error
		errAnswer  error
		errViolate error
	)

	wg.Add(3)
	go func() {
		defer wg.Done()
		activeIDs, errActive = s.repo.GetActiveUserIDs(ctx, assignmentID)
	}()
	go func() {
		defer wg.Done()
		answered, errAnswer = s.repo.GetAnsweredCounts(ctx, assignmentID)
	}()
	go func() {
		defer wg.Done()
		violations, errViolate = s.repo.GetViolationCounts(ctx, assignmentID)
	}()
	wg.Wait()

	for _, err := range []error{errActive, errAnswer, errViolate} {
		if err != nil {
			return nil, err
		}
	}

	progress := make([]model.AttemptProgress, 0, len(activeIDs))
	for _, uid := range activeIDs {
		progress = append(progress, model.AttemptProgress{
			UserID:         uid,
			AnsweredCount:  answered[uid],
			ViolationCount: violations[uid],
		})
	}
	sort.Slice(progress, func(i, j int) bool {
		return progress[i].UserID < progress[j].UserID
	})
	return progress, nil
}
