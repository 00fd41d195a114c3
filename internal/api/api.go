// Package api exposes the local console of a running session over HTTP.
// Commands are forwarded to the controller, session state is only ever read
// from the view model.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/victornm/livequiz/internal/errors"
	"github.com/victornm/livequiz/internal/journal"
	"github.com/victornm/livequiz/internal/relay"
	"github.com/victornm/livequiz/internal/viewmodel"
)

type (
	Creator interface {
		AdvanceQuestion() error
		FinishGame() error
	}

	Player interface {
		SubmitAnswer(optionID string) error
	}

	Journal interface {
		Latest(ctx context.Context, gameID uuid.UUID) (*journal.Entry, error)
	}

	Relay interface {
		Latest(ctx context.Context, gameID uuid.UUID) (*relay.Snapshot, error)
	}
)

type Config struct {
	Router gin.IRouter
	GameID uuid.UUID
	Model  *viewmodel.Model

	// Exactly one of Creator and Player is set, depending on the role.
	Creator Creator
	Player  Player

	// Journal and Relay are optional.
	Journal Journal
	Relay   Relay

	Now func() time.Time
}

type API struct {
	gameID  uuid.UUID
	model   *viewmodel.Model
	creator Creator
	player  Player
	journal Journal
	relay   Relay
	now     func() time.Time
}

func New(c Config) *API {
	a := &API{
		gameID:  c.GameID,
		model:   c.Model,
		creator: c.Creator,
		player:  c.Player,
		journal: c.Journal,
		relay:   c.Relay,
		now:     c.Now,
	}

	if a.now == nil {
		a.now = time.Now
	}

	c.Router.GET("/healthz", a.Health)

	g := c.Router.Group("/v1/session")
	g.GET("", a.GetSession)
	g.POST("/next", a.AdvanceQuestion)
	g.POST("/finish", a.FinishGame)
	g.POST("/answers", a.SubmitAnswer)
	g.GET("/history/latest", a.GetRecordedSnapshot)
	g.GET("/relay/latest", a.GetRelayedSnapshot)

	return a
}

func (a *API) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (a *API) GetSession(c *gin.Context) {
	c.JSON(http.StatusOK, a.model.View(a.now()))
}

func (a *API) AdvanceQuestion(c *gin.Context) {
	if a.creator == nil {
		abort(c, errNotCreator)
		return
	}

	if err := a.creator.AdvanceQuestion(); err != nil {
		abort(c, err)
		return
	}

	c.Status(http.StatusAccepted)
}

func (a *API) FinishGame(c *gin.Context) {
	if a.creator == nil {
		abort(c, errNotCreator)
		return
	}

	if err := a.creator.FinishGame(); err != nil {
		abort(c, err)
		return
	}

	c.Status(http.StatusAccepted)
}

type SubmitAnswerRequest struct {
	OptionID string `json:"optionID" binding:"required"`
}

func (a *API) SubmitAnswer(c *gin.Context) {
	if a.player == nil {
		abort(c, errNotPlayer)
		return
	}

	var req SubmitAnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("invalid answer: %v", err)))
		return
	}

	if err := a.player.SubmitAnswer(req.OptionID); err != nil {
		abort(c, err)
		return
	}

	c.Status(http.StatusAccepted)
}

func (a *API) GetRecordedSnapshot(c *gin.Context) {
	if a.journal == nil {
		abort(c, errors.New(errors.CodeNotFound, errors.WithMessagef("journal is not configured")))
		return
	}

	e, err := a.journal.Latest(c.Request.Context(), a.gameID)
	if err != nil {
		abort(c, err)
		return
	}

	c.JSON(http.StatusOK, toRecordedSnapshot(e))
}

func (a *API) GetRelayedSnapshot(c *gin.Context) {
	if a.relay == nil {
		abort(c, errors.New(errors.CodeNotFound, errors.WithMessagef("relay is not configured")))
		return
	}

	s, err := a.relay.Latest(c.Request.Context(), a.gameID)
	if err != nil {
		abort(c, err)
		return
	}

	c.JSON(http.StatusOK, s)
}

type RecordedSnapshot struct {
	GameID          string                  `json:"gameID"`
	Run             string                  `json:"run"`
	Seq             int64                   `json:"seq"`
	Creator         *viewmodel.Participant  `json:"creator"`
	Players         []viewmodel.Participant `json:"players"`
	CurrentQuestion string                  `json:"currentQuestion"`
	CurrentDeadline *time.Time              `json:"currentDeadline"`
	RecordedAt      time.Time               `json:"recordedAt"`
}

func toRecordedSnapshot(e *journal.Entry) RecordedSnapshot {
	s := e.Snapshot
	r := RecordedSnapshot{
		GameID:     e.GameID.String(),
		Run:        e.Run.String(),
		Seq:        e.Seq,
		Players:    make([]viewmodel.Participant, 0, len(s.Players)),
		RecordedAt: e.RecordedAt,
	}

	if s.Creator != nil {
		p := viewmodel.ToParticipant(*s.Creator)
		r.Creator = &p
	}

	for _, p := range s.Players {
		r.Players = append(r.Players, viewmodel.ToParticipant(p))
	}

	if s.HasQuestion() {
		r.CurrentQuestion = s.CurrentQuestion.String()
	}

	if !s.CurrentDeadline.IsZero() {
		d := s.CurrentDeadline
		r.CurrentDeadline = &d
	}

	return r
}

var (
	errNotCreator = errors.New(errors.CodePermissionDenied, errors.WithMessagef("only the creator paces the game"))
	errNotPlayer  = errors.New(errors.CodePermissionDenied, errors.WithMessagef("only players answer"))
)

func abort(c *gin.Context, err error) {
	e := errors.Convert(err)
	c.AbortWithStatusJSON(e.HTTPStatusCode(), e)
}
