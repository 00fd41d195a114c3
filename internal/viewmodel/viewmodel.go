// Package viewmodel reduces the snapshots of one connection into the latest
// session state a presentation can read.
//
// The model is written only by the connection callbacks. Every snapshot
// replaces the previous state as a whole, nothing is merged. Until the first
// snapshot arrives the accessors report ok == false, which is different from
// a known but empty value.
package viewmodel

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/event"
	"github.com/victornm/livequiz/internal/roster"
)

type Config struct {
	GameID uuid.UUID
	// Quiz resolves question ids, it may also be set later with SetQuiz.
	Quiz *domain.Quiz
	// EventBus is optional. Applied snapshots, answered notifications and
	// the end of the session are published on it.
	EventBus *event.Bus
	Logger   *slog.Logger
}

type Model struct {
	gameID uuid.UUID
	run    uuid.UUID
	eb     *event.Bus
	logger *slog.Logger

	changed chan struct{}

	mu       sync.RWMutex
	quiz     *domain.Quiz
	ready    bool
	seq      int64
	snapshot domain.Snapshot
	roster   *roster.Directory
	open     bool
	closed   bool
	err      error
}

func New(c Config) *Model {
	m := &Model{
		gameID:  c.GameID,
		run:     uuid.Must(uuid.NewV7()),
		eb:      c.EventBus,
		logger:  c.Logger,
		quiz:    c.Quiz,
		changed: make(chan struct{}, 1),
	}

	if m.logger == nil {
		m.logger = slog.Default()
	}

	return m
}

func (m *Model) OnOpen() {
	m.mu.Lock()
	m.open = true
	m.mu.Unlock()

	m.notify()
}

func (m *Model) OnState(s domain.Snapshot) {
	s = s.Clone()

	m.mu.Lock()
	m.seq++
	seq := m.seq
	m.ready = true
	m.snapshot = s
	m.roster = roster.FromSnapshot(s)
	m.mu.Unlock()

	m.notify()
	m.publish(domain.EventSnapshotApplied{
		GameID:   m.gameID,
		Run:      m.run,
		Seq:      seq,
		Snapshot: s.Clone(),
	})
}

// OnPlayerAnswered is advisory. It never changes the model, the next
// snapshot carries whatever the answer caused.
func (m *Model) OnPlayerAnswered(playerID uuid.UUID) {
	m.publish(domain.EventPlayerAnswered{
		GameID:   m.gameID,
		PlayerID: playerID,
	})
}

func (m *Model) OnError(err error) {
	m.logger.Warn("viewmodel: connection error", "game", m.gameID, "error", err)

	m.mu.Lock()
	m.err = err
	m.mu.Unlock()

	m.notify()
}

func (m *Model) OnClose() {
	m.mu.Lock()
	m.open = false
	m.closed = true
	m.mu.Unlock()

	m.notify()
	m.publish(domain.EventSessionClosed{GameID: m.gameID})
}

// Run identifies this model in published events. Models created later get
// greater runs.
func (m *Model) Run() uuid.UUID {
	return m.run
}

// SetQuiz installs the quiz definition used to resolve the current question.
func (m *Model) SetQuiz(q *domain.Quiz) {
	m.mu.Lock()
	m.quiz = q
	m.mu.Unlock()

	m.notify()
}

// Changed is signalled after every update. Signals coalesce, a reader that
// falls behind sees one signal and reads the latest state.
func (m *Model) Changed() <-chan struct{} {
	return m.changed
}

// Ready reports whether the first snapshot has arrived.
func (m *Model) Ready() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.ready
}

// Seq is the number of snapshots applied so far.
func (m *Model) Seq() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.seq
}

func (m *Model) Participants() (*roster.Directory, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.roster, m.ready
}

// Creator returns the creator of the last snapshot. creator is nil when the
// snapshot had none.
func (m *Model) Creator() (creator *domain.Participant, ok bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.ready {
		return nil, false
	}

	if c, present := m.roster.Creator(); present {
		return &c, true
	}

	return nil, true
}

func (m *Model) Players() ([]domain.Participant, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.ready {
		return nil, false
	}

	return m.roster.Players(), true
}

// CurrentQuestion resolves the active question against the quiz. An id the
// quiz does not know counts as no current question.
func (m *Model) CurrentQuestion() (domain.Question, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.ready {
		return domain.Question{}, false
	}

	return m.quiz.Question(m.snapshot.CurrentQuestion)
}

func (m *Model) Deadline() (time.Time, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.deadline()
}

// Remaining is the time left to answer at now, never negative.
func (m *Model) Remaining(now time.Time) (time.Duration, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	d, ok := m.deadline()
	if !ok {
		return 0, false
	}

	return max(d.Sub(now), 0), true
}

func (m *Model) deadline() (time.Time, bool) {
	if !m.ready || !m.snapshot.HasQuestion() || m.snapshot.CurrentDeadline.IsZero() {
		return time.Time{}, false
	}

	return m.snapshot.CurrentDeadline, true
}

// Closed reports whether the connection ended. It is the only end of session
// signal, a finished game and a lost connection look the same.
func (m *Model) Closed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.closed
}

// Err is the last transport error reported, if any.
func (m *Model) Err() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.err
}

func (m *Model) notify() {
	select {
	case m.changed <- struct{}{}:
	default:
	}
}

func (m *Model) publish(e event.Event) {
	if m.eb == nil {
		return
	}

	m.eb.Publish(context.Background(), e)
}
