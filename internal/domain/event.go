package domain

import (
	"bytes"

	"github.com/google/uuid"
)

const (
	EventNameSnapshotApplied = "snapshot.applied"
	EventNamePlayerAnswered  = "player.answered"
	EventNameSessionClosed   = "session.closed"
)

// EventSnapshotApplied is published after the view model replaced its state.
// Run identifies the view model that applied it and is time ordered, a
// restarted client starts a newer run. Seq increases by one per snapshot of
// the same run. Handlers run asynchronously and must order snapshots by
// (Run, Seq) to discard stale ones.
type EventSnapshotApplied struct {
	GameID   uuid.UUID
	Run      uuid.UUID
	Seq      int64
	Snapshot Snapshot
}

// Newer reports whether e was applied after o.
func (e EventSnapshotApplied) Newer(o EventSnapshotApplied) bool {
	if c := bytes.Compare(e.Run[:], o.Run[:]); c != 0 {
		return c > 0
	}

	return e.Seq > o.Seq
}

func (EventSnapshotApplied) Name() string { return EventNameSnapshotApplied }

// EventPlayerAnswered is advisory only, it may be lost or duplicated.
type EventPlayerAnswered struct {
	GameID   uuid.UUID
	PlayerID uuid.UUID
}

func (EventPlayerAnswered) Name() string { return EventNamePlayerAnswered }

type EventSessionClosed struct {
	GameID uuid.UUID
}

func (EventSessionClosed) Name() string { return EventNameSessionClosed }
