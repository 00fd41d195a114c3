package domain

import (
	"time"

	"github.com/google/uuid"
)

// Participant is either the creator or a player of a game. Its identity is
// assigned by the server, clients never make one up.
type Participant struct {
	ID              uuid.UUID
	Nickname        string
	Color           string
	BackgroundColor string
}

// Snapshot is the server's complete view of a session at the time it was sent.
// A snapshot replaces whatever the client knew before, it is never a diff.
type Snapshot struct {
	// Creator is nil when the server did not send one yet.
	Creator *Participant
	// Players are in server order.
	Players         []Participant
	CurrentQuestion uuid.UUID
	CurrentDeadline time.Time
}

// HasQuestion reports whether a question is active.
func (s Snapshot) HasQuestion() bool {
	return s.CurrentQuestion != uuid.Nil
}

// Clone returns a deep copy so receivers can keep the snapshot around.
func (s Snapshot) Clone() Snapshot {
	c := s
	if s.Creator != nil {
		creator := *s.Creator
		c.Creator = &creator
	}
	if s.Players != nil {
		c.Players = append(make([]Participant, 0, len(s.Players)), s.Players...)
	}

	return c
}

// Quiz is the definition a game is played from.
type Quiz struct {
	ID          uuid.UUID
	Name        string
	Description string
	Questions   []Question
}

// Question looks up a question by ID.
func (q *Quiz) Question(id uuid.UUID) (Question, bool) {
	if q == nil || id == uuid.Nil {
		return Question{}, false
	}

	for _, question := range q.Questions {
		if question.ID == id {
			return question, true
		}
	}

	return Question{}, false
}

// Question is a multiple choice question.
type Question struct {
	ID          uuid.UUID
	Title       string
	Description string
	Duration    time.Duration
	Category    string
	Order       int
	Options     []Option
}

type Option struct {
	OptionID   uuid.UUID
	OptionText string
}

// Game is the public view of a game, as returned when looking it up by code.
type Game struct {
	ID     uuid.UUID
	QuizID uuid.UUID
	Code   string
}

// Player is a freshly registered player of a game.
type Player struct {
	ID       uuid.UUID
	Nickname string
	GameID   uuid.UUID
}
