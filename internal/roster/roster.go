package roster

import (
	"github.com/google/uuid"

	"github.com/victornm/livequiz/internal/domain"
)

type Role string

const (
	RoleCreator Role = "creator"
	RolePlayer  Role = "player"
)

// Entry is a participant together with the role it has in the game.
type Entry struct {
	domain.Participant
	Role Role
}

// Directory is an immutable roster built from one snapshot. Replacing the
// roster means building a new Directory, entries are never merged.
type Directory struct {
	creator *domain.Participant
	players []domain.Participant
	byID    map[uuid.UUID]Entry
}

// FromSnapshot builds the directory of the given snapshot.
func FromSnapshot(s domain.Snapshot) *Directory {
	d := &Directory{
		players: make([]domain.Participant, len(s.Players)),
		byID:    make(map[uuid.UUID]Entry, len(s.Players)+1),
	}

	copy(d.players, s.Players)
	for _, p := range d.players {
		d.byID[p.ID] = Entry{Participant: p, Role: RolePlayer}
	}

	if s.Creator != nil {
		creator := *s.Creator
		d.creator = &creator
		d.byID[creator.ID] = Entry{Participant: creator, Role: RoleCreator}
	}

	return d
}

// Creator returns the creator, ok is false when the server did not send one.
func (d *Directory) Creator() (domain.Participant, bool) {
	if d == nil || d.creator == nil {
		return domain.Participant{}, false
	}

	return *d.creator, true
}

// Players returns a copy of the players in server order.
func (d *Directory) Players() []domain.Participant {
	if d == nil {
		return nil
	}

	return append(make([]domain.Participant, 0, len(d.players)), d.players...)
}

// Lookup finds a participant by ID.
func (d *Directory) Lookup(id uuid.UUID) (Entry, bool) {
	if d == nil {
		return Entry{}, false
	}

	e, ok := d.byID[id]
	return e, ok
}

func (d *Directory) Contains(id uuid.UUID) bool {
	_, ok := d.Lookup(id)
	return ok
}

// Len is the number of players, the creator is not counted.
func (d *Directory) Len() int {
	if d == nil {
		return 0
	}

	return len(d.players)
}
