// Package relay republishes the session state seen by this client to Redis,
// so other local processes can follow a game without opening their own
// connection.
package relay

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/errors"
	"github.com/victornm/livequiz/internal/event"
)

const maxConcurrent = 100

// storeSnapshot keeps the newest snapshot by (run, seq). Runs are time
// ordered uuids compared as strings, a restarted client wins over the
// previous one. Bus handlers run concurrently, an older snapshot may arrive
// after a newer one.
var storeSnapshot = redis.NewScript(`
local run = redis.call('HGET', KEYS[1], 'run') or ''
local seq = tonumber(redis.call('HGET', KEYS[1], 'seq') or '0')
if ARGV[1] < run then
	return 0
end
if ARGV[1] == run and tonumber(ARGV[2]) <= seq then
	return 0
end
redis.call('HSET', KEYS[1], 'run', ARGV[1], 'seq', ARGV[2], 'data', ARGV[3])
return 1
`)

type (
	Notification struct {
		Event string `json:"event"`
		Data  any    `json:"data"`
	}

	Snapshot struct {
		GameID          string        `json:"gameID"`
		Run             string        `json:"run"`
		Seq             int64         `json:"seq"`
		Creator         *Participant  `json:"creator"`
		Players         []Participant `json:"players"`
		CurrentQuestion string        `json:"currentQuestion"`
		CurrentDeadline *time.Time    `json:"currentDeadline"`
	}

	Participant struct {
		ID              string `json:"id"`
		Nickname        string `json:"nickname"`
		Color           string `json:"color"`
		BackgroundColor string `json:"backgroundColor"`
	}

	PlayerAnswered struct {
		GameID   string `json:"gameID"`
		PlayerID string `json:"playerID"`
	}

	SessionClosed struct {
		GameID string `json:"gameID"`
	}
)

type Config struct {
	EventBus *event.Bus
	Redis    redis.UniversalClient
	Prefix   string
}

type Relay struct {
	redis  redis.UniversalClient
	prefix string
}

func New(c Config) *Relay {
	r := &Relay{
		redis:  c.Redis,
		prefix: c.Prefix,
	}

	if c.EventBus == nil {
		return r
	}

	c.EventBus.Subscribe(domain.EventNameSnapshotApplied, func(ctx context.Context, e event.Event) error {
		return r.PublishSnapshot(ctx, e.(domain.EventSnapshotApplied))
	})

	c.EventBus.Subscribe(domain.EventNamePlayerAnswered, func(ctx context.Context, e event.Event) error {
		return r.PublishPlayerAnswered(ctx, e.(domain.EventPlayerAnswered))
	})

	c.EventBus.Subscribe(domain.EventNameSessionClosed, func(ctx context.Context, e event.Event) error {
		return r.PublishSessionClosed(ctx, e.(domain.EventSessionClosed))
	})

	return r
}

// PublishSnapshot stores the snapshot as the latest of its game and notifies
// the game channel and the channel of every player in it. A snapshot older
// than the stored one, by run then sequence, is ignored.
func (r *Relay) PublishSnapshot(ctx context.Context, e domain.EventSnapshotApplied) error {
	data := toSnapshot(e)

	b, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("relay: marshal snapshot: %w", err)
	}

	stored, err := storeSnapshot.Run(ctx, r.redis, []string{r.SnapshotKey(e.GameID)}, e.Run.String(), e.Seq, b).Int()
	if err != nil {
		return fmt.Errorf("relay: store snapshot: game=%s run=%s seq=%d: %w", e.GameID, e.Run, e.Seq, err)
	}

	if stored == 0 {
		return nil
	}

	var eg errgroup.Group
	eg.SetLimit(maxConcurrent)

	eg.Go(func() error {
		return r.publishNotification(ctx, r.GameChannel(e.GameID), e.Name(), data)
	})

	for _, p := range e.Snapshot.Players {
		eg.Go(func() error {
			return r.publishNotification(ctx, r.PlayerChannel(p.ID), e.Name(), data)
		})
	}

	return eg.Wait()
}

func (r *Relay) PublishPlayerAnswered(ctx context.Context, e domain.EventPlayerAnswered) error {
	return r.publishNotification(ctx, r.GameChannel(e.GameID), e.Name(), PlayerAnswered{
		GameID:   e.GameID.String(),
		PlayerID: e.PlayerID.String(),
	})
}

func (r *Relay) PublishSessionClosed(ctx context.Context, e domain.EventSessionClosed) error {
	return r.publishNotification(ctx, r.GameChannel(e.GameID), e.Name(), SessionClosed{
		GameID: e.GameID.String(),
	})
}

// Latest returns the newest snapshot stored for a game.
func (r *Relay) Latest(ctx context.Context, gameID uuid.UUID) (*Snapshot, error) {
	b, err := r.redis.HGet(ctx, r.SnapshotKey(gameID), "data").Bytes()
	if stderrors.Is(err, redis.Nil) {
		return nil, errors.New(errors.CodeNotFound, errors.WithMessagef("snapshot not found: game=%s", gameID))
	}

	if err != nil {
		return nil, fmt.Errorf("relay: get snapshot: game=%s: %w", gameID, err)
	}

	var s Snapshot
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("relay: unmarshal snapshot: game=%s: %w", gameID, err)
	}

	return &s, nil
}

func (r *Relay) GameChannel(gameID uuid.UUID) string {
	return fmt.Sprintf("%s:game:%s", r.prefix, gameID)
}

func (r *Relay) PlayerChannel(playerID uuid.UUID) string {
	return fmt.Sprintf("%s:player:%s", r.prefix, playerID)
}

func (r *Relay) SnapshotKey(gameID uuid.UUID) string {
	return fmt.Sprintf("%s:game:%s:snapshot", r.prefix, gameID)
}

func (r *Relay) publishNotification(ctx context.Context, channel, event string, data any) error {
	n := Notification{
		Event: event,
		Data:  data,
	}

	b, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("relay: marshal %s: %v", event, err)
	}

	return r.redis.Publish(ctx, channel, b).Err()
}

func toSnapshot(e domain.EventSnapshotApplied) Snapshot {
	s := Snapshot{
		GameID:  e.GameID.String(),
		Run:     e.Run.String(),
		Seq:     e.Seq,
		Players: make([]Participant, 0, len(e.Snapshot.Players)),
	}

	if c := e.Snapshot.Creator; c != nil {
		p := toParticipant(*c)
		s.Creator = &p
	}

	for _, p := range e.Snapshot.Players {
		s.Players = append(s.Players, toParticipant(p))
	}

	if e.Snapshot.HasQuestion() {
		s.CurrentQuestion = e.Snapshot.CurrentQuestion.String()
	}

	if d := e.Snapshot.CurrentDeadline; !d.IsZero() {
		s.CurrentDeadline = &d
	}

	return s
}

func toParticipant(p domain.Participant) Participant {
	return Participant{
		ID:              p.ID.String(),
		Nickname:        p.Nickname,
		Color:           p.Color,
		BackgroundColor: p.BackgroundColor,
	}
}
