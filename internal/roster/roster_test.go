package roster_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/roster"
)

func TestFromSnapshot(t *testing.T) {
	var (
		creator = domain.Participant{ID: uuid.New(), Nickname: "Adorable Beaver"}
		a       = domain.Participant{ID: uuid.New(), Nickname: "Calm Fox"}
		b       = domain.Participant{ID: uuid.New(), Nickname: "Brave Mango"}
	)

	d := roster.FromSnapshot(domain.Snapshot{Creator: &creator, Players: []domain.Participant{b, a}})

	got, ok := d.Creator()
	require.True(t, ok)
	assert.Equal(t, creator, got)

	assert.Equal(t, []domain.Participant{b, a}, d.Players(), "server order is kept")
	assert.Equal(t, 2, d.Len())

	e, ok := d.Lookup(a.ID)
	require.True(t, ok)
	assert.Equal(t, roster.RolePlayer, e.Role)

	e, ok = d.Lookup(creator.ID)
	require.True(t, ok)
	assert.Equal(t, roster.RoleCreator, e.Role)

	assert.False(t, d.Contains(uuid.New()))
}

func TestDirectory_IsolatedFromSnapshot(t *testing.T) {
	players := []domain.Participant{{ID: uuid.New(), Nickname: "Calm Fox"}}
	d := roster.FromSnapshot(domain.Snapshot{Players: players})

	players[0].Nickname = "changed"
	d.Players()[0].Nickname = "changed too"

	assert.Equal(t, "Calm Fox", d.Players()[0].Nickname)
}

func TestDirectory_NoCreator(t *testing.T) {
	d := roster.FromSnapshot(domain.Snapshot{})

	_, ok := d.Creator()
	assert.False(t, ok)
	assert.Empty(t, d.Players())

	var unknown *roster.Directory
	_, ok = unknown.Creator()
	assert.False(t, ok)
	assert.Nil(t, unknown.Players())
	assert.Zero(t, unknown.Len())
}
