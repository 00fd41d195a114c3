package viewmodel

import (
	"time"

	"github.com/victornm/livequiz/internal/domain"
)

type (
	// View is a consistent copy of the model, shaped for JSON. Pointer and
	// slice fields are null while the value is unknown.
	View struct {
		GameID    string        `json:"gameID"`
		Ready     bool          `json:"ready"`
		Connected bool          `json:"connected"`
		Closed    bool          `json:"closed"`
		Run       string        `json:"run"`
		Seq       int64         `json:"seq"`
		Creator   *Participant  `json:"creator"`
		Players   []Participant `json:"players"`
		Question  *Question     `json:"question"`
		Deadline  *time.Time    `json:"deadline"`
		Remaining *float64      `json:"remainingSeconds"`
		Error     string        `json:"error,omitempty"`
	}

	Participant struct {
		ID              string `json:"id"`
		Nickname        string `json:"nickname"`
		Color           string `json:"color"`
		BackgroundColor string `json:"backgroundColor"`
	}

	Question struct {
		ID          string   `json:"id"`
		Title       string   `json:"title"`
		Description string   `json:"description"`
		Category    string   `json:"category"`
		Order       int      `json:"order"`
		Duration    float64  `json:"durationSeconds"`
		Options     []Option `json:"options"`
	}

	Option struct {
		ID   string `json:"id"`
		Text string `json:"text"`
	}
)

// View renders the model as seen at now.
func (m *Model) View(now time.Time) View {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v := View{
		GameID:    m.gameID.String(),
		Ready:     m.ready,
		Connected: m.open,
		Closed:    m.closed,
		Run:       m.run.String(),
		Seq:       m.seq,
	}

	if m.err != nil {
		v.Error = m.err.Error()
	}

	if !m.ready {
		return v
	}

	if c, ok := m.roster.Creator(); ok {
		p := ToParticipant(c)
		v.Creator = &p
	}

	v.Players = make([]Participant, 0, m.roster.Len())
	for _, p := range m.roster.Players() {
		v.Players = append(v.Players, ToParticipant(p))
	}

	if q, ok := m.quiz.Question(m.snapshot.CurrentQuestion); ok {
		question := toQuestion(q)
		v.Question = &question
	}

	if d, ok := m.deadline(); ok {
		left := max(d.Sub(now), 0).Seconds()
		v.Deadline = &d
		v.Remaining = &left
	}

	return v
}

// ToParticipant renders a participant the way View does.
func ToParticipant(p domain.Participant) Participant {
	return Participant{
		ID:              p.ID.String(),
		Nickname:        p.Nickname,
		Color:           p.Color,
		BackgroundColor: p.BackgroundColor,
	}
}

func toQuestion(q domain.Question) Question {
	options := make([]Option, 0, len(q.Options))
	for _, o := range q.Options {
		options = append(options, Option{ID: o.OptionID.String(), Text: o.OptionText})
	}

	return Question{
		ID:          q.ID.String(),
		Title:       q.Title,
		Description: q.Description,
		Category:    q.Category,
		Order:       q.Order,
		Duration:    q.Duration.Seconds(),
		Options:     options,
	}
}
