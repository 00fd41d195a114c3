// Package player joins a game as a player and submits answers.
package player

import (
	"context"

	"github.com/google/uuid"

	"github.com/victornm/livequiz/internal/connection"
	"github.com/victornm/livequiz/internal/errors"
	"github.com/victornm/livequiz/internal/protocol"
)

type Config struct {
	// SocketURL is the base URL of the backend's websocket endpoints.
	SocketURL string
	GameID    uuid.UUID
	// PlayerID comes from the backend when the player was registered, the
	// connection path is the only thing that authorises it.
	PlayerID uuid.UUID
	Observer connection.Observer

	connection.Options
}

type Controller struct {
	gameID   uuid.UUID
	playerID uuid.UUID
	conn     *connection.Conn
}

func New(c Config) (*Controller, error) {
	if c.GameID == uuid.Nil || c.PlayerID == uuid.Nil {
		return nil, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("player: game and player ids are required: game=%s player=%s", c.GameID, c.PlayerID))
	}

	url, err := protocol.Endpoint(c.SocketURL, protocol.PlayerPath(c.GameID, c.PlayerID))
	if err != nil {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithCause(err))
	}

	if c.Logger != nil {
		c.Logger = c.Logger.With("role", "player", "game", c.GameID, "player", c.PlayerID)
	}

	return &Controller{
		gameID:   c.GameID,
		playerID: c.PlayerID,
		conn: connection.New(connection.Config{
			URL:      url,
			Observer: c.Observer,
			Options:  c.Options,
		}),
	}, nil
}

func (c *Controller) Connect(ctx context.Context) error {
	return c.conn.Connect(ctx)
}

// SubmitAnswer sends the chosen option for the current question. Whether it
// was accepted shows in a later snapshot, never here.
func (c *Controller) SubmitAnswer(optionID string) error {
	return c.conn.Send(protocol.SubmitAnswer(optionID))
}

func (c *Controller) Close() {
	c.conn.Close()
}

func (c *Controller) Done() <-chan struct{} {
	return c.conn.Done()
}

func (c *Controller) State() connection.State {
	return c.conn.State()
}

func (c *Controller) GameID() uuid.UUID {
	return c.gameID
}

func (c *Controller) PlayerID() uuid.UUID {
	return c.playerID
}
