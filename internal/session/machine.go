package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/invigilo/invigilo-backend/internal/model"
	"github.com/invigilo/invigilo-backend/internal/violation"
)

// Config wires one machine's collaborators and tuning.
type Config struct {
	Store  Store
	Grader Grader
	Log    zerolog.Logger

	AutosaveInterval time.Duration
	AutosaveDebounce time.Duration
	HeartbeatTick    time.Duration
	FinalSaveRetries int

	// Now is the machine's time source; nil means time.Now. Tests inject it.
	Now func() time.Time
}

func (c *Config) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// Machine owns the lifecycle of one assessment attempt. All transitions are
// serialized through its mutex: exactly one transition can be in flight for a
// session, while different sessions proceed fully in parallel. The first
// transition out of ACTIVE wins; everything after it is a no-op.
type Machine struct {
	cfg  Config
	spec *model.Assignment

	mu     sync.Mutex
	sess   *model.Session
	events []model.ViolationEvent

	clock    *Clock
	autosave *Autosave

	// done closes once the session reached a terminal state; waiters get the
	// result computed at grading time, identical on every read.
	done     chan struct{}
	finalErr error
}

// newMachine allocates a machine around an existing session snapshot. The
// registry is the only caller.
func newMachine(cfg Config, spec *model.Assignment, sess *model.Session, events []model.ViolationEvent) *Machine {
	if sess.Answers == nil {
		sess.Answers = make(map[uuid.UUID]*model.Answer)
	}
	m := &Machine{
		cfg:    cfg,
		spec:   spec,
		sess:   sess,
		events: events,
		done:   make(chan struct{}),
	}
	m.cfg.Log = cfg.Log.With().
		Str("session_id", sess.ID.String()).
		Str("assignment_id", spec.ID.String()).
		Int("user_id", sess.UserID).
		Logger()
	return m
}

// activate moves SETUP → ACTIVE and starts the clock and autosave bound to
// this session. Deadline was fixed when the session was allocated and is
// never touched again.
func (m *Machine) activate(ctx context.Context) {
	m.mu.Lock()
	m.sess.State = model.SessionStateActive
	deadline := m.sess.Deadline
	m.mu.Unlock()

	m.autosave = NewAutosave(m.cfg.AutosaveInterval, m.cfg.AutosaveDebounce, m.saveSnapshot, m.cfg.Log)
	m.autosave.Start(ctx)

	m.clock = NewClock(deadline, m.cfg.HeartbeatTick, func(now time.Time) {
		m.Heartbeat(now)
	})
	m.clock.Start()

	m.cfg.Log.Info().Time("deadline", deadline).Msg("session_started")
}

// Session returns a deep copy of the current session snapshot.
func (m *Machine) Session() *model.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sess.Clone()
}

// Done exposes completion for callers that need to wait without submitting.
func (m *Machine) Done() <-chan struct{} { return m.done }

// RecordAnswer replaces one question's answer wholesale and marks the session
// dirty for autosave. It never performs I/O itself — persistence is decoupled
// from edit latency.
func (m *Machine) RecordAnswer(questionID uuid.UUID, ans model.Answer) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sess.State != model.SessionStateActive {
		return ErrSessionClosed
	}

	q := m.question(questionID)
	if q == nil {
		return ErrUnknownQuestion
	}
	if q.Type == model.QuestionTypeCoding && ans.Language != "" && !q.AllowsLanguage(ans.Language) {
		return ErrLanguageNotAllowed
	}

	ans.QuestionID = questionID
	ans.UpdatedAt = m.cfg.now()
	m.sess.Answers[questionID] = &ans

	m.autosave.MarkDirty()
	return nil
}

// Heartbeat is the single expiry enforcement point, fed by both the server
// clock and client pings. Once now reaches the deadline the session submits
// with reason timeout, regardless of any pending violation bookkeeping.
func (m *Machine) Heartbeat(now time.Time) model.HeartbeatResponse {
	m.mu.Lock()

	if m.sess.State == model.SessionStateActive && !now.Before(m.sess.Deadline) {
		m.beginSubmitLocked(model.SubmitReasonTimeout, now)
	}

	resp := model.HeartbeatResponse{
		State:          m.sess.State,
		ViolationCount: m.sess.ViolationCount,
	}
	if remaining := m.sess.Deadline.Sub(now); remaining > 0 {
		resp.RemainingSeconds = remaining.Seconds()
	}
	m.mu.Unlock()
	return resp
}

// ReportViolation appends an integrity event and applies the policy. Reports
// against a session that already left ACTIVE are recorded for audit but can
// no longer force anything. The violation count never decreases.
func (m *Machine) ReportViolation(ctx context.Context, ev model.ViolationEvent) (int, error) {
	ev.SessionID = m.sess.ID
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = m.cfg.now()
	}

	m.mu.Lock()
	m.events = append(m.events, ev)

	eval := violation.Evaluate(m.events, m.spec.Policy)
	if eval.Count > m.sess.ViolationCount {
		m.sess.ViolationCount = eval.Count
	}
	count := m.sess.ViolationCount

	if eval.Exceeded && m.sess.State == model.SessionStateActive {
		// Tie-break lives inside beginSubmitLocked: an expired exam cannot be
		// salvaged by violation bookkeeping, so timeout wins over forced.
		m.beginSubmitLocked(model.SubmitReasonForced, m.cfg.now())
	}
	m.mu.Unlock()

	m.cfg.Log.Warn().
		Str("type", string(ev.Type)).
		Int("count", count).
		Msg("violation_recorded")

	// Append-only audit write; a store hiccup degrades to a warning, the
	// in-memory count already advanced and will re-derive on recovery.
	if err := m.cfg.Store.AppendViolation(ctx, ev); err != nil {
		m.cfg.Log.Warn().Err(err).Msg("Violation append failed")
	}
	return count, nil
}

// Submit drives an explicit student submission and blocks until grading
// finished. Calling it on a session already past ACTIVE is a no-op that
// returns the existing result — a second submit never double-grades.
func (m *Machine) Submit(ctx context.Context) (*model.GradingResult, error) {
	m.mu.Lock()
	if m.sess.State == model.SessionStateActive {
		m.beginSubmitLocked(model.SubmitReasonUser, m.cfg.now())
	}
	m.mu.Unlock()

	return m.Result(ctx)
}

// resumeSubmit restarts a submission that a crash interrupted. The registry
// calls it during recovery after reactivating the session.
func (m *Machine) resumeSubmit(reason model.SubmitReason) {
	if reason == "" {
		reason = model.SubmitReasonUser
	}
	m.mu.Lock()
	m.beginSubmitLocked(reason, m.cfg.now())
	m.mu.Unlock()
}

// Result waits for the terminal state and returns the grading result. The
// result is computed exactly once and identical on every call.
func (m *Machine) Result(ctx context.Context) (*model.GradingResult, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-m.done:
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.finalErr != nil {
		return nil, m.finalErr
	}
	if m.sess.Result == nil {
		return nil, ErrNotGraded
	}
	return m.sess.Result, nil
}

// beginSubmitLocked is the single authoritative transition out of ACTIVE.
// Caller must hold m.mu. First transition wins: if the state already left
// ACTIVE this does nothing. A forced submission racing an expired deadline
// resolves to timeout here, by rule, not by arrival order.
func (m *Machine) beginSubmitLocked(reason model.SubmitReason, now time.Time) {
	if m.sess.State != model.SessionStateActive {
		return
	}
	if reason != model.SubmitReasonTimeout && !now.Before(m.sess.Deadline) {
		reason = model.SubmitReasonTimeout
	}

	m.sess.State = model.SessionStateSubmitting
	m.sess.SubmitReason = reason

	if reason != model.SubmitReasonUser {
		m.cfg.Log.Info().Str("reason", string(reason)).Msg("session_forced_submit")
	}

	go m.finalize(reason)
}

// finalize runs the submit pipeline: stop timers, drain autosave, grade,
// persist, close. It runs on its own goroutine exactly once per session and
// is never cancelled mid-run — a partially-graded result helps nobody.
func (m *Machine) finalize(reason model.SubmitReason) {
	ctx := context.Background()

	if m.clock != nil {
		m.clock.Stop()
	}
	// Stop-and-drain before the final write: after this returns no autosave
	// can race the submit-path save.
	if m.autosave != nil {
		m.autosave.Stop()
	}

	m.mu.Lock()
	snapshot := m.sess.Clone()
	m.mu.Unlock()

	// Deadline passed and the student never produced anything: terminal
	// abandoned, nothing to grade.
	if reason == model.SubmitReasonTimeout && len(snapshot.Answers) == 0 {
		m.closeAs(ctx, model.SessionStateAbandoned, nil)
		return
	}

	result := m.grade(ctx, snapshot)

	m.cfg.Log.Info().
		Float64("score", result.Score).
		Float64("max_score", result.MaxScore).
		Msg("grading_completed")

	m.closeAs(ctx, model.SessionStateClosed, result)
}

// grade walks the assignment's questions and collects per-question results.
// Grading failures stay per-question; partial results always beat none for a
// time-boxed exam.
func (m *Machine) grade(ctx context.Context, snapshot *model.Session) *model.GradingResult {
	result := &model.GradingResult{
		SessionID: snapshot.ID,
		GradedAt:  m.cfg.now(),
	}

	for i := range m.spec.Questions {
		q := m.spec.Questions[i]
		qr := m.cfg.Grader.GradeQuestion(ctx, q, snapshot.Answers[q.ID])
		qr.QuestionID = q.ID
		result.Questions = append(result.Questions, qr)
		result.Score += qr.PointsAwarded
		result.MaxScore += q.Points
	}
	return result
}

// closeAs writes the terminal snapshot with bounded retries. If the store
// stays down the session parks in SUBMITTING_FAILED for manual recovery —
// flagged, never silently lost. The computed result still serves reads.
func (m *Machine) closeAs(ctx context.Context, terminal model.SessionState, result *model.GradingResult) {
	now := m.cfg.now()

	m.mu.Lock()
	if result != nil {
		m.sess.Result = result
		m.sess.State = model.SessionStateGraded
	}
	m.sess.FinishedAt = &now
	m.mu.Unlock()

	saved := false
	backoff := time.Second
	for attempt := 0; attempt <= m.cfg.FinalSaveRetries; attempt++ {
		m.mu.Lock()
		m.sess.State = terminal
		snap := m.sess.Clone()
		m.mu.Unlock()

		if err := m.cfg.Store.Save(ctx, snap); err != nil {
			m.cfg.Log.Error().Err(err).Int("attempt", attempt+1).Msg("Final save failed")
			if attempt < m.cfg.FinalSaveRetries {
				time.Sleep(backoff)
				if backoff < 10*time.Second {
					backoff *= 2
				}
			}
			continue
		}
		saved = true
		break
	}

	m.mu.Lock()
	if saved {
		m.sess.State = terminal
		t := m.cfg.now()
		m.sess.LastSavedAt = &t
	} else {
		m.sess.State = model.SessionStateSubmitFailed
		m.finalErr = ErrStoreUnavailable
		m.cfg.Log.Error().Msg("Session flagged for manual recovery")
	}
	m.mu.Unlock()

	close(m.done)
}

// saveSnapshot is the autosave callback: clone under the lock, write outside
// it, stamp LastSavedAt only on success.
func (m *Machine) saveSnapshot(ctx context.Context) error {
	m.mu.Lock()
	snap := m.sess.Clone()
	m.mu.Unlock()

	if err := m.cfg.Store.Save(ctx, snap); err != nil {
		return err
	}

	m.mu.Lock()
	t := m.cfg.now()
	m.sess.LastSavedAt = &t
	m.mu.Unlock()
	return nil
}

func (m *Machine) question(id uuid.UUID) *model.Question {
	for i := range m.spec.Questions {
		if m.spec.Questions[i].ID == id {
			return &m.spec.Questions[i]
		}
	}
	return nil
}
