// Package journal keeps every snapshot applied by this client in Postgres,
// which gives a replayable history of a game as this participant saw it.
package journal

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/errors"
	"github.com/victornm/livequiz/internal/event"
)

const Schema = `
CREATE TABLE IF NOT EXISTS session_snapshots (
	game_id          UUID        NOT NULL,
	run_id           UUID        NOT NULL,
	seq              BIGINT      NOT NULL,
	current_question UUID        NOT NULL,
	current_deadline TIMESTAMPTZ,
	creator          JSONB,
	players          JSONB       NOT NULL,
	recorded_at      TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (game_id, run_id, seq)
);`

// DB is the subset of *pgxpool.Pool the journal needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Config struct {
	EventBus *event.Bus
	DB       DB
	Now      func() time.Time
}

type Journal struct {
	db  DB
	now func() time.Time
}

func New(c Config) *Journal {
	j := &Journal{
		db:  c.DB,
		now: c.Now,
	}

	if j.now == nil {
		j.now = time.Now
	}

	if c.EventBus != nil {
		c.EventBus.Subscribe(domain.EventNameSnapshotApplied, func(ctx context.Context, e event.Event) error {
			return j.Record(ctx, e.(domain.EventSnapshotApplied))
		})
	}

	return j
}

// Migrate creates the journal table when it does not exist yet.
func (j *Journal) Migrate(ctx context.Context) error {
	if _, err := j.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("journal: migrate: %w", err)
	}

	return nil
}

// Entry is one recorded snapshot.
type Entry struct {
	GameID     uuid.UUID
	Run        uuid.UUID
	Seq        int64
	Snapshot   domain.Snapshot
	RecordedAt time.Time
}

type participant struct {
	ID              uuid.UUID `json:"id"`
	Nickname        string    `json:"nickname"`
	Color           string    `json:"color"`
	BackgroundColor string    `json:"backgroundColor"`
}

// Record appends a snapshot. Recording the same sequence of the same run twice
// keeps the first one.
func (j *Journal) Record(ctx context.Context, e domain.EventSnapshotApplied) error {
	const stmt = `
INSERT INTO session_snapshots (game_id, run_id, seq, current_question, current_deadline, creator, players, recorded_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (game_id, run_id, seq) DO NOTHING;`

	var creator []byte
	if c := e.Snapshot.Creator; c != nil {
		b, err := json.Marshal(participant(*c))
		if err != nil {
			return fmt.Errorf("journal: marshal creator: %w", err)
		}
		creator = b
	}

	players := make([]participant, 0, len(e.Snapshot.Players))
	for _, p := range e.Snapshot.Players {
		players = append(players, participant(p))
	}

	pb, err := json.Marshal(players)
	if err != nil {
		return fmt.Errorf("journal: marshal players: %w", err)
	}

	var deadline *time.Time
	if d := e.Snapshot.CurrentDeadline; !d.IsZero() {
		deadline = &d
	}

	_, err = j.db.Exec(ctx, stmt, e.GameID, e.Run, e.Seq, e.Snapshot.CurrentQuestion, deadline, creator, pb, j.now())
	if err != nil {
		return fmt.Errorf("journal: insert snapshot: game=%s run=%s seq=%d: %w", e.GameID, e.Run, e.Seq, err)
	}

	return nil
}

// Latest returns the newest snapshot recorded for a game: the highest
// sequence of the latest run. Runs are time ordered uuids.
func (j *Journal) Latest(ctx context.Context, gameID uuid.UUID) (*Entry, error) {
	const stmt = `
SELECT run_id, seq, current_question, current_deadline, creator, players, recorded_at
FROM session_snapshots
WHERE game_id = $1
ORDER BY run_id DESC, seq DESC
LIMIT 1;`

	var (
		entry    = Entry{GameID: gameID}
		deadline *time.Time
		creator  []byte
		players  []byte
	)

	err := j.db.QueryRow(ctx, stmt, gameID).Scan(&entry.Run, &entry.Seq, &entry.Snapshot.CurrentQuestion, &deadline, &creator, &players, &entry.RecordedAt)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.New(errors.CodeNotFound, errors.WithMessagef("no snapshot recorded: game=%s", gameID))
	}

	if err != nil {
		return nil, fmt.Errorf("journal: select latest: game=%s: %w", gameID, err)
	}

	if deadline != nil {
		entry.Snapshot.CurrentDeadline = *deadline
	}

	if len(creator) > 0 {
		var c participant
		if err := json.Unmarshal(creator, &c); err != nil {
			return nil, fmt.Errorf("journal: unmarshal creator: %w", err)
		}
		p := domain.Participant(c)
		entry.Snapshot.Creator = &p
	}

	var ps []participant
	if err := json.Unmarshal(players, &ps); err != nil {
		return nil, fmt.Errorf("journal: unmarshal players: %w", err)
	}

	entry.Snapshot.Players = make([]domain.Participant, 0, len(ps))
	for _, p := range ps {
		entry.Snapshot.Players = append(entry.Snapshot.Players, domain.Participant(p))
	}

	return &entry, nil
}
