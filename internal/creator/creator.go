// Package creator drives a game as its creator: it paces the questions and
// finishes the game. It never changes session state locally, the effect of a
// command is only visible once the server pushes the next snapshot.
package creator

import (
	"context"

	"github.com/google/uuid"

	"github.com/victornm/livequiz/internal/auth"
	"github.com/victornm/livequiz/internal/connection"
	"github.com/victornm/livequiz/internal/errors"
	"github.com/victornm/livequiz/internal/protocol"
)

type Config struct {
	// SocketURL is the base URL of the backend's websocket endpoints.
	SocketURL  string
	GameID     uuid.UUID
	Credential auth.Credential
	Observer   connection.Observer

	connection.Options
}

type Controller struct {
	gameID uuid.UUID
	conn   *connection.Conn
}

func New(c Config) (*Controller, error) {
	if c.GameID == uuid.Nil {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("creator: game id is required"))
	}

	url, err := protocol.Endpoint(c.SocketURL, protocol.CreatorPath(c.GameID))
	if err != nil {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithCause(err))
	}

	if c.Logger != nil {
		c.Logger = c.Logger.With("role", "creator", "game", c.GameID)
	}

	return &Controller{
		gameID: c.GameID,
		conn: connection.New(connection.Config{
			URL:               url,
			Credential:        c.Credential,
			RequireCredential: true,
			Observer:          c.Observer,
			Options:           c.Options,
		}),
	}, nil
}

// Connect fails with errors.ErrMissingCredential before dialing when the
// controller has no token.
func (c *Controller) Connect(ctx context.Context) error {
	return c.conn.Connect(ctx)
}

// AdvanceQuestion asks the server to move to the next question.
func (c *Controller) AdvanceQuestion() error {
	return c.conn.Send(protocol.NextQuestion())
}

func (c *Controller) FinishGame() error {
	return c.conn.Send(protocol.FinishGame())
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
