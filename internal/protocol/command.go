package protocol

import (
	"encoding/json"
	"fmt"
)

// Command is an outbound frame.
type Command interface {
	IsValid() bool
}

type CreatorAction string

const (
	NextQuestionAction CreatorAction = "next"
	FinishGameAction   CreatorAction = "finish"
)

func (c CreatorAction) IsValid() bool {
	switch c {
	case NextQuestionAction, FinishGameAction:
		return true
	default:
		return false
	}
}

type PlayerAction string

const AnswerAction PlayerAction = "answer"

func (p PlayerAction) IsValid() bool {
	return p == AnswerAction
}

type CreatorCommand struct {
	Action CreatorAction `json:"action"`
}

func (c CreatorCommand) IsValid() bool {
	return c.Action.IsValid()
}

type PlayerCommand struct {
	Action  PlayerAction `json:"action"`
	Content Answer       `json:"content"`
}

func (p PlayerCommand) IsValid() bool {
	return p.Action.IsValid() && p.Content.OptionID != ""
}

type Answer struct {
	OptionID string `json:"optionID"`
}

func NextQuestion() CreatorCommand {
	return CreatorCommand{Action: NextQuestionAction}
}

func FinishGame() CreatorCommand {
	return CreatorCommand{Action: FinishGameAction}
}

func SubmitAnswer(optionID string) PlayerCommand {
	return PlayerCommand{Action: AnswerAction, Content: Answer{OptionID: optionID}}
}

// Encode serializes a command into the payload of one text frame.
func Encode(c Command) ([]byte, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("protocol: marshal command: %w", err)
	}

	return b, nil
}
