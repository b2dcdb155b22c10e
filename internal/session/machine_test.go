package session

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/invigilo/invigilo-backend/internal/model"
)

// memStore is an in-memory Store with injectable save failures.
type memStore struct {
	mu         sync.Mutex
	sessions   map[uuid.UUID]*model.Session
	violations map[uuid.UUID][]model.ViolationEvent
	saves      int
	failSaves  bool
}

func newMemStore() *memStore {
	return &memStore{
		sessions:   make(map[uuid.UUID]*model.Session),
		violations: make(map[uuid.UUID][]model.ViolationEvent),
	}
}

func (s *memStore) setFailSaves(fail bool) {
	s.mu.Lock()
	s.failSaves = fail
	s.mu.Unlock()
}

func (s *memStore) saveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

func (s *memStore) Load(_ context.Context, id uuid.UUID) (*model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess.Clone(), nil
}

func (s *memStore) Save(_ context.Context, sess *model.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSaves {
		return ErrStoreUnavailable
	}
	s.saves++
	s.sessions[sess.ID] = sess.Clone()
	return nil
}

func (s *memStore) AppendViolation(_ context.Context, ev model.ViolationEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.violations[ev.SessionID] = append(s.violations[ev.SessionID], ev)
	return nil
}

func (s *memStore) LoadViolations(_ context.Context, id uuid.UUID) ([]model.ViolationEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.ViolationEvent(nil), s.violations[id]...), nil
}

func (s *memStore) LoadActive(_ context.Context) ([]*model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Session
	for _, sess := range s.sessions {
		switch sess.State {
		case model.SessionStateSetup, model.SessionStateActive, model.SessionStateSubmitting:
			out = append(out, sess.Clone())
		}
	}
	return out, nil
}

// countingGrader awards full points for any non-nil answer and counts calls.
type countingGrader struct {
	calls atomic.Int64
}

func (g *countingGrader) GradeQuestion(_ context.Context, q model.Question, ans *model.Answer) model.QuestionResult {
	g.calls.Add(1)
	qr := model.QuestionResult{Type: q.Type, PointsPossible: q.Points}
	if ans != nil {
		qr.PointsAwarded = q.Points
	}
	return qr
}

// fakeClock is a manual time source anchored to real time so background
// timers never fire on their own during a test.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Now()}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

type testEnv struct {
	registry *Registry
	store    *memStore
	grader   *countingGrader
	clock    *fakeClock
	spec     *model.Assignment
}

func newTestEnv(t *testing.T, policy model.ViolationPolicy) *testEnv {
	t.Helper()

	q1 := uuid.New()
	q2 := uuid.New()
	spec := &model.Assignment{
		ID:               uuid.New(),
		Title:            "Algorithms Midterm",
		Type:             model.AssignmentTypeMixed,
		Status:           model.AssignmentStatusPublished,
		TimeLimitSeconds: 600,
		Policy:           policy,
		Questions: []model.Question{
			{ID: q1, Type: model.QuestionTypeObjective, Points: 10},
			{ID: q2, Type: model.QuestionTypeCoding, Points: 20, AllowedLanguages: []string{"python3"}},
		},
	}

	store := newMemStore()
	grader := &countingGrader{}
	clock := newFakeClock()

	cfg := Config{
		Store:            store,
		Grader:           grader,
		Log:              zerolog.Nop(),
		AutosaveInterval: time.Hour,
		AutosaveDebounce: time.Millisecond,
		HeartbeatTick:    time.Hour,
		FinalSaveRetries: 1,
		Now:              clock.Now,
	}
	specs := func(_ context.Context, id uuid.UUID) (*model.Assignment, error) {
		return spec, nil
	}
	return &testEnv{
		registry: NewRegistry(cfg, specs),
		store:    store,
		grader:   grader,
		clock:    clock,
		spec:     spec,
	}
}

func (e *testEnv) answer(t *testing.T, m *Machine) {
	t.Helper()
	err := m.RecordAnswer(e.spec.Questions[0].ID, model.Answer{SelectedOptionIDs: []string{"a"}})
	assert.NoError(t, err)
}

func TestStartFixesDeadline(t *testing.T) {
	env := newTestEnv(t, model.ViolationPolicy{})
	started := env.clock.Now()

	m, err := env.registry.Start(context.Background(), env.spec, 1)
	assert.NoError(t, err)

	sess := m.Session()
	assert.Equal(t, model.SessionStateActive, sess.State)
	assert.Equal(t, started.Add(10*time.Minute), sess.Deadline)

	// Edits and heartbeats never move the deadline.
	env.answer(t, m)
	env.clock.Advance(time.Minute)
	m.Heartbeat(env.clock.Now())
	assert.Equal(t, sess.Deadline, m.Session().Deadline)
}

func TestRecordAnswerValidation(t *testing.T) {
	env := newTestEnv(t, model.ViolationPolicy{})
	m, err := env.registry.Start(context.Background(), env.spec, 1)
	assert.NoError(t, err)

	err = m.RecordAnswer(uuid.New(), model.Answer{Text: "hi"})
	assert.ErrorIs(t, err, ErrUnknownQuestion)

	err = m.RecordAnswer(env.spec.Questions[1].ID, model.Answer{Code: "x", Language: "cobol"})
	assert.ErrorIs(t, err, ErrLanguageNotAllowed)

	err = m.RecordAnswer(env.spec.Questions[1].ID, model.Answer{Code: "print(1)", Language: "python3"})
	assert.NoError(t, err)
}

func TestRecordAnswerReplacesWhole(t *testing.T) {
	env := newTestEnv(t, model.ViolationPolicy{})
	m, err := env.registry.Start(context.Background(), env.spec, 1)
	assert.NoError(t, err)

	qid := env.spec.Questions[1].ID
	assert.NoError(t, m.RecordAnswer(qid, model.Answer{Code: "draft one", Language: "python3"}))
	assert.NoError(t, m.RecordAnswer(qid, model.Answer{Code: "draft two", Language: "python3"}))

	got := m.Session().Answers[qid]
	assert.Equal(t, "draft two", got.Code)
}

func TestSubmitGradesAndCloses(t *testing.T) {
	env := newTestEnv(t, model.ViolationPolicy{})
	m, err := env.registry.Start(context.Background(), env.spec, 1)
	assert.NoError(t, err)
	env.answer(t, m)

	result, err := m.Submit(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 10.0, result.Score)
	assert.Equal(t, 30.0, result.MaxScore)
	assert.Len(t, result.Questions, 2)

	sess := m.Session()
	assert.Equal(t, model.SessionStateClosed, sess.State)
	assert.Equal(t, model.SubmitReasonUser, sess.SubmitReason)
	assert.NotNil(t, sess.FinishedAt)
}

func TestSubmitIdempotent(t *testing.T) {
	env := newTestEnv(t, model.ViolationPolicy{})
	m, err := env.registry.Start(context.Background(), env.spec, 1)
	assert.NoError(t, err)
	env.answer(t, m)

	first, err := m.Submit(context.Background())
	assert.NoError(t, err)

	// Duplicate submits return the already-computed result without grading
	// anything again.
	graded := env.grader.calls.Load()
	second, err := m.Submit(context.Background())
	assert.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, graded, env.grader.calls.Load())
}

func TestMutationsAfterSubmitRejected(t *testing.T) {
	env := newTestEnv(t, model.ViolationPolicy{})
	m, err := env.registry.Start(context.Background(), env.spec, 1)
	assert.NoError(t, err)
	env.answer(t, m)

	_, err = m.Submit(context.Background())
	assert.NoError(t, err)

	err = m.RecordAnswer(env.spec.Questions[0].ID, model.Answer{Text: "late"})
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestHeartbeatExpiresSession(t *testing.T) {
	env := newTestEnv(t, model.ViolationPolicy{})
	m, err := env.registry.Start(context.Background(), env.spec, 1)
	assert.NoError(t, err)
	env.answer(t, m)

	now := env.clock.Advance(11 * time.Minute)
	resp := m.Heartbeat(now)
	assert.Equal(t, model.SessionStateSubmitting, resp.State)
	assert.Zero(t, resp.RemainingSeconds)

	_, err = m.Result(context.Background())
	assert.NoError(t, err)
	sess := m.Session()
	assert.Equal(t, model.SessionStateClosed, sess.State)
	assert.Equal(t, model.SubmitReasonTimeout, sess.SubmitReason)
}

func TestTimeoutWithoutAnswersAbandons(t *testing.T) {
	env := newTestEnv(t, model.ViolationPolicy{})
	m, err := env.registry.Start(context.Background(), env.spec, 1)
	assert.NoError(t, err)

	m.Heartbeat(env.clock.Advance(11 * time.Minute))
	<-m.Done()

	sess := m.Session()
	assert.Equal(t, model.SessionStateAbandoned, sess.State)
	assert.Zero(t, env.grader.calls.Load())

	_, err = m.Result(context.Background())
	assert.ErrorIs(t, err, ErrNotGraded)
}

func TestForcedSubmitOnViolationThreshold(t *testing.T) {
	env := newTestEnv(t, model.ViolationPolicy{MaxViolations: 2, AutoSubmitOnViolation: true})
	m, err := env.registry.Start(context.Background(), env.spec, 1)
	assert.NoError(t, err)
	env.answer(t, m)

	base := env.clock.Now()
	count, err := m.ReportViolation(context.Background(), model.ViolationEvent{
		Type: model.ViolationFocusLost, OccurredAt: base,
	})
	assert.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, model.SessionStateActive, m.Session().State)

	count, err = m.ReportViolation(context.Background(), model.ViolationEvent{
		Type: model.ViolationTabSwitch, OccurredAt: base.Add(time.Second),
	})
	assert.NoError(t, err)
	assert.Equal(t, 2, count)

	_, err = m.Result(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, model.SubmitReasonForced, m.Session().SubmitReason)
}

func TestTimeoutBeatsForcedAtDeadline(t *testing.T) {
	env := newTestEnv(t, model.ViolationPolicy{MaxViolations: 1, AutoSubmitOnViolation: true})
	m, err := env.registry.Start(context.Background(), env.spec, 1)
	assert.NoError(t, err)
	env.answer(t, m)

	// The report lands after the deadline has passed but before any heartbeat
	// noticed. The clock, not arrival order, decides the reason.
	env.clock.Advance(11 * time.Minute)
	_, err = m.ReportViolation(context.Background(), model.ViolationEvent{
		Type: model.ViolationFullscreenExit, OccurredAt: env.clock.Now(),
	})
	assert.NoError(t, err)

	_, err = m.Result(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, model.SubmitReasonTimeout, m.Session().SubmitReason)
}

func TestViolationCountMonotonic(t *testing.T) {
	env := newTestEnv(t, model.ViolationPolicy{MaxViolations: 100})
	m, err := env.registry.Start(context.Background(), env.spec, 1)
	assert.NoError(t, err)

	base := env.clock.Now()
	prev := 0
	types := []model.ViolationType{
		model.ViolationFocusLost,
		model.ViolationTabSwitch,
		model.ViolationFocusLost,
		model.ViolationBlockedInput,
	}
	for i, vt := range types {
		count, err := m.ReportViolation(context.Background(), model.ViolationEvent{
			Type: vt, OccurredAt: base.Add(time.Duration(i) * 10 * time.Second),
		})
		assert.NoError(t, err)
		assert.GreaterOrEqual(t, count, prev)
		prev = count
	}
	assert.Equal(t, 4, prev)
}

func TestViolationAfterCloseIsAuditOnly(t *testing.T) {
	env := newTestEnv(t, model.ViolationPolicy{MaxViolations: 1, AutoSubmitOnViolation: true})
	m, err := env.registry.Start(context.Background(), env.spec, 1)
	assert.NoError(t, err)
	env.answer(t, m)

	_, err = m.Submit(context.Background())
	assert.NoError(t, err)

	_, err = m.ReportViolation(context.Background(), model.ViolationEvent{
		Type: model.ViolationFocusLost, OccurredAt: env.clock.Now(),
	})
	assert.NoError(t, err)
	assert.Equal(t, model.SessionStateClosed, m.Session().State)
	assert.Equal(t, model.SubmitReasonUser, m.Session().SubmitReason)

	events, err := env.store.LoadViolations(context.Background(), m.Session().ID)
	assert.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestSecondStartRejectedWhileActive(t *testing.T) {
	env := newTestEnv(t, model.ViolationPolicy{})
	m, err := env.registry.Start(context.Background(), env.spec, 7)
	assert.NoError(t, err)

	_, err = env.registry.Start(context.Background(), env.spec, 7)
	assert.ErrorIs(t, err, ErrAlreadyActive)

	// Different student, same assignment: fine.
	_, err = env.registry.Start(context.Background(), env.spec, 8)
	assert.NoError(t, err)

	env.answer(t, m)
	_, err = m.Submit(context.Background())
	assert.NoError(t, err)

	// Terminal session no longer blocks the next attempt.
	_, err = env.registry.Start(context.Background(), env.spec, 7)
	assert.NoError(t, err)
}

func TestFinalSaveFailureFlagsSession(t *testing.T) {
	env := newTestEnv(t, model.ViolationPolicy{})
	m, err := env.registry.Start(context.Background(), env.spec, 1)
	assert.NoError(t, err)
	env.answer(t, m)

	env.store.setFailSaves(true)
	_, err = m.Submit(context.Background())
	assert.ErrorIs(t, err, ErrStoreUnavailable)

	sess := m.Session()
	assert.Equal(t, model.SessionStateSubmitFailed, sess.State)
	// Answers stay put for manual recovery.
	assert.Len(t, sess.Answers, 1)
}

func TestRecoverResumesActiveSessions(t *testing.T) {
	env := newTestEnv(t, model.ViolationPolicy{})
	m, err := env.registry.Start(context.Background(), env.spec, 1)
	assert.NoError(t, err)
	env.answer(t, m)
	assert.NoError(t, m.saveSnapshot(context.Background()))
	sessionID := m.Session().ID

	// Fresh registry over the same store, as after a restart.
	cfg := Config{
		Store:            env.store,
		Grader:           env.grader,
		Log:              zerolog.Nop(),
		AutosaveInterval: time.Hour,
		AutosaveDebounce: time.Millisecond,
		HeartbeatTick:    time.Hour,
		FinalSaveRetries: 1,
		Now:              env.clock.Now,
	}
	fresh := NewRegistry(cfg, func(_ context.Context, id uuid.UUID) (*model.Assignment, error) {
		return env.spec, nil
	})
	assert.NoError(t, fresh.Recover(context.Background()))

	rm, err := fresh.Get(sessionID)
	assert.NoError(t, err)
	sess := rm.Session()
	assert.Equal(t, model.SessionStateActive, sess.State)
	assert.Len(t, sess.Answers, 1)

	// The recovered deadline is the original one; once past it the session
	// times out as usual.
	rm.Heartbeat(env.clock.Advance(11 * time.Minute))
	_, err = rm.Result(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, model.SubmitReasonTimeout, rm.Session().SubmitReason)
}

func TestRecoverExpiredSessionSubmitsImmediately(t *testing.T) {
	env := newTestEnv(t, model.ViolationPolicy{})
	m, err := env.registry.Start(context.Background(), env.spec, 1)
	assert.NoError(t, err)
	env.answer(t, m)
	assert.NoError(t, m.saveSnapshot(context.Background()))
	sessionID := m.Session().ID

	// Deadline passes while the process is "down".
	env.clock.Advance(11 * time.Minute)

	cfg := Config{
		Store:            env.store,
		Grader:           env.grader,
		Log:              zerolog.Nop(),
		AutosaveInterval: time.Hour,
		AutosaveDebounce: time.Millisecond,
		HeartbeatTick:    time.Hour,
		FinalSaveRetries: 1,
		Now:              env.clock.Now,
	}
	fresh := NewRegistry(cfg, func(_ context.Context, id uuid.UUID) (*model.Assignment, error) {
		return env.spec, nil
	})
	assert.NoError(t, fresh.Recover(context.Background()))

	rm, err := fresh.Get(sessionID)
	assert.NoError(t, err)
	_, err = rm.Result(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, model.SubmitReasonTimeout, rm.Session().SubmitReason)
}

func TestTerminalMachineEvicted(t *testing.T) {
	env := newTestEnv(t, model.ViolationPolicy{})
	m, err := env.registry.Start(context.Background(), env.spec, 1)
	assert.NoError(t, err)
	env.answer(t, m)
	sessionID := m.Session().ID

	_, err = m.Submit(context.Background())
	assert.NoError(t, err)

	// Eviction runs off Done on its own goroutine; both indexes drain
	// shortly after the terminal save.
	assert.Eventually(t, func() bool {
		env.registry.mu.Lock()
		defer env.registry.mu.Unlock()
		return len(env.registry.machines) == 0 && len(env.registry.active) == 0
	}, time.Second, 5*time.Millisecond)

	_, err = env.registry.Get(sessionID)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	// The graded result outlives the machine in the store.
	sess, err := env.store.Load(context.Background(), sessionID)
	assert.NoError(t, err)
	assert.NotNil(t, sess.Result)
}

func TestFailedFinalSaveStaysResident(t *testing.T) {
	env := newTestEnv(t, model.ViolationPolicy{})
	m, err := env.registry.Start(context.Background(), env.spec, 1)
	assert.NoError(t, err)
	env.answer(t, m)
	sessionID := m.Session().ID

	env.store.setFailSaves(true)
	_, err = m.Submit(context.Background())
	assert.ErrorIs(t, err, ErrStoreUnavailable)

	// Wait until the reaper has run (it clears the active index first), then
	// verify the machine survived it: nothing durable holds this attempt.
	assert.Eventually(t, func() bool {
		env.registry.mu.Lock()
		defer env.registry.mu.Unlock()
		return len(env.registry.active) == 0
	}, time.Second, 5*time.Millisecond)

	got, err := env.registry.Get(sessionID)
	assert.NoError(t, err)
	assert.Equal(t, model.SessionStateSubmitFailed, got.Session().State)
}

func TestShuffledOrderFrozenAtStart(t *testing.T) {
	env := newTestEnv(t, model.ViolationPolicy{})
	env.spec.RandomizeOrder = true

	m, err := env.registry.Start(context.Background(), env.spec, 1)
	assert.NoError(t, err)

	order := m.Session().QuestionOrder
	assert.Len(t, order, len(env.spec.Questions))
	assert.ElementsMatch(t, []uuid.UUID{env.spec.Questions[0].ID, env.spec.Questions[1].ID}, order)

	// The frozen order never changes mid-attempt.
	env.answer(t, m)
	assert.Equal(t, order, m.Session().QuestionOrder)
}
