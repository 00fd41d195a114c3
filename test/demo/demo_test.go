//go:build integration_test

package demo

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/victornm/livequiz/internal/auth"
	"github.com/victornm/livequiz/internal/backend"
	"github.com/victornm/livequiz/internal/creator"
	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/event"
	"github.com/victornm/livequiz/internal/player"
	"github.com/victornm/livequiz/internal/relay"
	"github.com/victornm/livequiz/internal/viewmodel"
)

const (
	baseURL   = "http://localhost:8080"
	redisAddr = "localhost:6379"
	prefix    = "demo"
	players   = 3
)

// TestGame plays a whole game against a running backend: one creator, a few
// players joining by code, every question answered with its first option.
// DEMO_GAME_ID, DEMO_GAME_CODE and DEMO_TOKEN describe a game in progress.
func TestGame(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	var (
		bc     = makeBackend(t)
		rc     = makeRedis(t)
		eb     = event.NewBus()
		wg     = new(sync.WaitGroup)
		gameID = uuid.MustParse(env(t, "DEMO_GAME_ID"))
	)
	defer eb.Stop()

	relay.New(relay.Config{EventBus: eb, Redis: rc, Prefix: prefix})
	subscribeToGame(t, rc, wg, gameID)

	quiz, err := bc.LookupQuizByGame(ctx, gameID)
	require.NoError(t, err)
	t.Logf("Playing quiz %q with %d questions", quiz.Name, len(quiz.Questions))

	// The creator's view is the one relayed to Redis
	cm := viewmodel.New(viewmodel.Config{GameID: gameID, Quiz: quiz, EventBus: eb})
	cc, err := creator.New(creator.Config{
		SocketURL:  baseURL,
		GameID:     gameID,
		Credential: auth.Credential{Token: env(t, "DEMO_TOKEN")},
		Observer:   cm,
	})
	require.NoError(t, err)
	require.NoError(t, cc.Connect(ctx))
	defer cc.Close()

	// Players join by code
	type participant struct {
		c *player.Controller
		m *viewmodel.Model
	}

	game, err := bc.LookupGameByCode(ctx, env(t, "DEMO_GAME_CODE"))
	require.NoError(t, err)
	require.Equal(t, gameID, game.ID)

	var ps []participant
	for range players {
		p, err := bc.CreatePlayer(ctx, game.ID)
		require.NoError(t, err)

		m := viewmodel.New(viewmodel.Config{GameID: game.ID, Quiz: quiz})
		c, err := player.New(player.Config{SocketURL: baseURL, GameID: game.ID, PlayerID: p.ID, Observer: m})
		require.NoError(t, err)
		require.NoError(t, c.Connect(ctx))
		defer c.Close()

		ps = append(ps, participant{c: c, m: m})
	}

	require.Eventually(t, func() bool {
		got, ok := cm.Players()
		return ok && len(got) >= players
	}, 10*time.Second, 100*time.Millisecond, "creator should see every player")

	for range quiz.Questions {
		seq := cm.Seq()
		require.NoError(t, cc.AdvanceQuestion())

		require.Eventually(t, func() bool {
			_, ok := cm.CurrentQuestion()
			return ok && cm.Seq() > seq
		}, 10*time.Second, 100*time.Millisecond, "server should announce the next question")

		q, _ := cm.CurrentQuestion()
		t.Logf("Question %d: %q", q.Order, q.Title)

		var eg errgroup.Group
		for i, p := range ps {
			eg.Go(func() error {
				if !assert.Eventually(t, func() bool {
					pq, ok := p.m.CurrentQuestion()
					return ok && pq.ID == q.ID
				}, 10*time.Second, 100*time.Millisecond) {
					return fmt.Errorf("player %d never saw question %s", i, q.ID)
				}

				if err := p.c.SubmitAnswer(q.Options[0].OptionID.String()); err != nil {
					return fmt.Errorf("player %d submit answer: %w", i, err)
				}
				return nil
			})
		}
		require.NoError(t, eg.Wait())

		left, _ := cm.Remaining(time.Now())
		t.Logf("Answers sent, %s left", left.Round(time.Second))
	}

	require.NoError(t, cc.FinishGame())

	select {
	case <-cc.Done():
	case <-time.After(10 * time.Second):
		cc.Close()
	}

	latest, err := relay.New(relay.Config{Redis: rc, Prefix: prefix}).Latest(ctx, gameID)
	require.NoError(t, err)
	t.Logf("Last relayed snapshot: seq=%d players=%d", latest.Seq, len(latest.Players))

	wg.Wait()
}

func subscribeToGame(t *testing.T, rc redis.UniversalClient, wg *sync.WaitGroup, gameID uuid.UUID) {
	wg.Add(1)
	sub := subscribeRedis(t, rc, fmt.Sprintf("%s:game:%s", prefix, gameID))
	go func() {
		defer wg.Done()

		for msg := range sub {
			var n struct {
				Event string          `json:"event"`
				Data  json.RawMessage `json:"data"`
			}
			if err := json.Unmarshal([]byte(msg.Payload), &n); err != nil {
				t.Logf("unmarshal notification: %v", err)
				continue
			}

			switch n.Event {
			case domain.EventNameSnapshotApplied:
				var s relay.Snapshot
				if err := json.Unmarshal(n.Data, &s); err != nil {
					t.Logf("unmarshal snapshot: %v", err)
					continue
				}
				t.Logf("snapshot %d: %d players, question %q", s.Seq, len(s.Players), s.CurrentQuestion)

			case domain.EventNameSessionClosed:
				return
			}
		}
	}()
}

func subscribeRedis(t *testing.T, rc redis.UniversalClient, channel string) <-chan *redis.Message {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	t.Cleanup(cancel)

	sub := rc.Subscribe(ctx, channel)
	t.Cleanup(func() { sub.Close() })

	c := make(chan *redis.Message)
	go func() {
		defer close(c)

		for {
			msg, err := sub.ReceiveMessage(ctx)
			if err != nil {
				t.Log(err)
				return
			}

			select {
			case c <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()

	return c
}

func makeBackend(t *testing.T) *backend.Client {
	c, err := backend.New(backend.Config{BaseURL: baseURL})
	require.NoError(t, err)
	return c
}

func makeRedis(t *testing.T) redis.UniversalClient {
	r := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: []string{redisAddr},
	})
	t.Cleanup(func() { r.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := r.Ping(ctx).Err(); err != nil {
		t.Fatal(err)
	}

	return r
}

func env(t *testing.T, key string) string {
	v := os.Getenv(key)
	if v == "" {
		t.Skipf("%s not set", key)
	}
	return v
}
