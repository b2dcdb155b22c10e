package session

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"

	"github.com/google/uuid"

	"github.com/invigilo/invigilo-backend/internal/model"
)

// Registry owns all live machines in this process. It enforces the
// one-active-attempt rule per (assignment, user) and rebuilds machines for
// sessions that were mid-flight when the process last stopped.
type Registry struct {
	cfg   Config
	specs SpecLoader

	mu       sync.Mutex
	machines map[uuid.UUID]*Machine
	active   map[activeKey]uuid.UUID
}

type activeKey struct {
	assignmentID uuid.UUID
	userID       int
}

// NewRegistry builds an empty registry. Call Recover before serving traffic.
func NewRegistry(cfg Config, specs SpecLoader) *Registry {
	return &Registry{
		cfg:      cfg,
		specs:    specs,
		machines: make(map[uuid.UUID]*Machine),
		active:   make(map[activeKey]uuid.UUID),
	}
}

// Start allocates a new attempt: deadline fixed at now+limit, question order
// frozen, state ACTIVE, clock and autosave running. The initial snapshot is
// persisted before the machine goes live so a crash right after start still
// recovers the attempt.
func (r *Registry) Start(ctx context.Context, spec *model.Assignment, userID int) (*Machine, error) {
	now := r.cfg.now()

	sess := &model.Session{
		ID:            uuid.New(),
		AssignmentID:  spec.ID,
		UserID:        userID,
		State:         model.SessionStateSetup,
		StartedAt:     now,
		Deadline:      now.Add(spec.TimeLimit()),
		QuestionOrder: questionOrder(spec),
		Answers:       make(map[uuid.UUID]*model.Answer),
	}

	key := activeKey{assignmentID: spec.ID, userID: userID}

	r.mu.Lock()
	if id, ok := r.active[key]; ok {
		if m, live := r.machines[id]; live && !m.Session().State.Terminal() {
			r.mu.Unlock()
			return nil, ErrAlreadyActive
		}
	}
	m := newMachine(r.cfg, spec, sess, nil)
	r.machines[sess.ID] = m
	r.active[key] = sess.ID
	r.mu.Unlock()

	if err := r.cfg.Store.Save(ctx, sess.Clone()); err != nil {
		r.mu.Lock()
		delete(r.machines, sess.ID)
		delete(r.active, key)
		r.mu.Unlock()
		return nil, fmt.Errorf("persist initial session: %w", err)
	}

	m.activate(ctx)
	r.reap(m, key)
	return m, nil
}

// Get returns the live machine for a session id.
func (r *Registry) Get(sessionID uuid.UUID) (*Machine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.machines[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return m, nil
}

// ActiveFor returns the user's live machine for an assignment, if any.
func (r *Registry) ActiveFor(assignmentID uuid.UUID, userID int) (*Machine, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.active[activeKey{assignmentID: assignmentID, userID: userID}]
	if !ok {
		return nil, false
	}
	m, ok := r.machines[id]
	return m, ok
}

// Recover rebuilds machines for sessions the store reports as non-terminal.
// Attempts whose deadline already passed while the process was down submit
// immediately with reason timeout; the rest resume ticking where they left
// off. Recovery is best-effort per session: one bad row never blocks the rest.
func (r *Registry) Recover(ctx context.Context) error {
	log := r.cfg.Log

	sessions, err := r.cfg.Store.LoadActive(ctx)
	if err != nil {
		return fmt.Errorf("load active sessions: %w", err)
	}

	recovered := 0
	for _, sess := range sessions {
		spec, err := r.specs(ctx, sess.AssignmentID)
		if err != nil {
			log.Error().Err(err).
				Str("session_id", sess.ID.String()).
				Msg("Recovery skipped, assignment spec unavailable")
			continue
		}

		events, err := r.cfg.Store.LoadViolations(ctx, sess.ID)
		if err != nil && !errors.Is(err, ErrSessionNotFound) {
			log.Warn().Err(err).
				Str("session_id", sess.ID.String()).
				Msg("Recovering without violation history")
		}

		key := activeKey{assignmentID: sess.AssignmentID, userID: sess.UserID}
		prior, priorReason := sess.State, sess.SubmitReason
		m := newMachine(r.cfg, spec, sess, events)

		r.mu.Lock()
		r.machines[sess.ID] = m
		r.active[key] = sess.ID
		r.mu.Unlock()

		m.activate(ctx)
		switch {
		case prior == model.SessionStateSubmitting:
			// The crash interrupted a submission; finish it, same reason.
			m.resumeSubmit(priorReason)
		case !r.cfg.now().Before(sess.Deadline):
			m.Heartbeat(r.cfg.now())
		}
		r.reap(m, key)
		recovered++
	}

	if recovered > 0 {
		log.Info().Int("sessions", recovered).Msg("Recovered in-flight sessions")
	}
	return nil
}

// Shutdown waits for every in-flight finalize to complete. Active sessions
// are not force-submitted: their snapshots are already persisted and they
// resume on the next start via Recover.
func (r *Registry) Shutdown(ctx context.Context) {
	r.mu.Lock()
	machines := make([]*Machine, 0, len(r.machines))
	for _, m := range r.machines {
		machines = append(machines, m)
	}
	r.mu.Unlock()

	for _, m := range machines {
		s := m.Session()
		switch s.State {
		case model.SessionStateSubmitting, model.SessionStateGraded:
			select {
			case <-m.Done():
			case <-ctx.Done():
				return
			}
		case model.SessionStateActive:
			// Persist the latest snapshot so recovery starts from the freshest
			// state; clock and autosave die with the process.
			if m.autosave != nil {
				m.autosave.Stop()
			}
			if m.clock != nil {
				m.clock.Stop()
			}
			if err := m.saveSnapshot(ctx); err != nil {
				r.cfg.Log.Error().Err(err).
					Str("session_id", s.ID.String()).
					Msg("Shutdown snapshot failed")
			}
		}
	}
}

// reap runs once the machine reaches a terminal state: the active index entry
// goes so the student can start their next attempt (attempt-count limits
// permitting), and the machine itself is evicted. The terminal snapshot is
// already persisted, so later reads come from the store. A session whose final
// save failed stays resident: its in-memory result is the only copy left
// until manual recovery.
func (r *Registry) reap(m *Machine, key activeKey) {
	go func() {
		<-m.Done()
		state := m.Session().State
		r.mu.Lock()
		if r.active[key] == m.sess.ID {
			delete(r.active, key)
		}
		if state != model.SessionStateSubmitFailed {
			delete(r.machines, m.sess.ID)
		}
		r.mu.Unlock()
	}()
}

// questionOrder freezes the presentation order at start. Shuffled orders use
// a per-session seed so the order survives reloads and restarts unchanged.
func questionOrder(spec *model.Assignment) []uuid.UUID {
	order := make([]uuid.UUID, len(spec.Questions))
	for i := range spec.Questions {
		order[i] = spec.Questions[i].ID
	}
	if spec.RandomizeOrder {
		rand.Shuffle(len(order), func(i, j int) {
			order[i], order[j] = order[j], order[i]
		})
	}
	return order
}
