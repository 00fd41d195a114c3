// Package protocol defines the frames exchanged over a game connection.
//
// Inbound frames are pushed by the server and look like
//
//	{"type": "state", "stateContent": {"creator": {...}, "players": [...], "currentQuestion": "...", "currentDeadline": "..."}}
//	{"type": "playerAnswered", "playerAnsweredContent": {"playerID": "..."}}
//
// Outbound frames are commands: {"action": "next"}, {"action": "finish"} for
// the creator and {"action": "answer", "content": {"optionID": "..."}} for
// players.
package protocol

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/victornm/livequiz/internal/domain"
)

type Kind string

const (
	KindState          Kind = "state"
	KindPlayerAnswered Kind = "playerAnswered"
)

func (k Kind) IsValid() bool {
	switch k {
	case KindState, KindPlayerAnswered:
		return true
	default:
		return false
	}
}

// NoQuestion is the currentQuestion value while no question is active.
var NoQuestion = uuid.Nil

var (
	ErrUnknownKind = stderrors.New("protocol: unknown kind")
	ErrNoContent   = stderrors.New("protocol: missing content")
)

// Envelope is a decoded inbound frame. Only the field matching Kind is set.
type Envelope struct {
	Kind     Kind
	Snapshot domain.Snapshot
	PlayerID uuid.UUID
}

type (
	frame struct {
		Type                  Kind                   `json:"type"`
		StateContent          *stateContent          `json:"stateContent"`
		PlayerAnsweredContent *playerAnsweredContent `json:"playerAnsweredContent"`
	}

	stateContent struct {
		Creator         *participant  `json:"creator"`
		Players         []participant `json:"players"`
		CurrentQuestion string        `json:"currentQuestion"`
		CurrentDeadline *string       `json:"currentDeadline"`
	}

	participant struct {
		ID              string `json:"id"`
		Nickname        string `json:"nickname"`
		Color           string `json:"color"`
		BackgroundColor string `json:"backgroundColor"`
	}

	playerAnsweredContent struct {
		PlayerID string `json:"playerID"`
	}
)

// Decode parses one inbound frame. Callers drop frames that fail to decode,
// including ErrUnknownKind, so newer servers can add kinds.
func Decode(data []byte) (Envelope, error) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Envelope{}, fmt.Errorf("protocol: unmarshal: %w", err)
	}

	switch f.Type {
	case KindState:
		if f.StateContent == nil {
			return Envelope{}, ErrNoContent
		}

		s, err := f.StateContent.toDomain()
		if err != nil {
			return Envelope{}, err
		}

		return Envelope{Kind: KindState, Snapshot: s}, nil

	case KindPlayerAnswered:
		if f.PlayerAnsweredContent == nil {
			return Envelope{}, ErrNoContent
		}

		id, err := parseID(f.PlayerAnsweredContent.PlayerID)
		if err != nil {
			return Envelope{}, fmt.Errorf("protocol: player id: %w", err)
		}

		return Envelope{Kind: KindPlayerAnswered, PlayerID: id}, nil

	default:
		return Envelope{}, fmt.Errorf("%w: %q", ErrUnknownKind, f.Type)
	}
}

func (c *stateContent) toDomain() (domain.Snapshot, error) {
	var (
		s   domain.Snapshot
		err error
	)

	if c.Creator != nil {
		creator, err := c.Creator.toDomain()
		if err != nil {
			return s, fmt.Errorf("protocol: creator: %w", err)
		}

		// Some servers send an empty creator before the real one is known.
		if creator.ID != uuid.Nil || creator.Nickname != "" {
			s.Creator = &creator
		}
	}

	s.Players = make([]domain.Participant, 0, len(c.Players))
	for i, p := range c.Players {
		player, err := p.toDomain()
		if err != nil {
			return s, fmt.Errorf("protocol: player %d: %w", i, err)
		}
		s.Players = append(s.Players, player)
	}

	s.CurrentQuestion, err = parseID(c.CurrentQuestion)
	if err != nil {
		return s, fmt.Errorf("protocol: current question: %w", err)
	}

	if c.CurrentDeadline != nil && *c.CurrentDeadline != "" {
		s.CurrentDeadline, err = time.Parse(time.RFC3339Nano, *c.CurrentDeadline)
		if err != nil {
			return s, fmt.Errorf("protocol: current deadline: %w", err)
		}
	}

	return s, nil
}

func (p participant) toDomain() (domain.Participant, error) {
	id, err := parseID(p.ID)
	if err != nil {
		return domain.Participant{}, err
	}

	return domain.Participant{
		ID:              id,
		Nickname:        p.Nickname,
		Color:           p.Color,
		BackgroundColor: p.BackgroundColor,
	}, nil
}

func parseID(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, nil
	}

	return uuid.Parse(s)
}
