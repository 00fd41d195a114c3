// Package backend is the REST client of the game backend. It covers what a
// session needs before and around its connection: credentials, the quiz of
// a game and player registration.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/victornm/livequiz/internal/auth"
	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/errors"
)

const (
	defaultTimeout = 10 * time.Second

	// The backend returns issued tokens in this response header.
	tokenHeader = "token"

	maxErrorBody = 512
)

type Config struct {
	BaseURL string
	Timeout time.Duration
	// HTTPClient overrides the client built from Timeout.
	HTTPClient *http.Client
	Logger     *slog.Logger
}

type Client struct {
	base   *url.URL
	hc     *http.Client
	logger *slog.Logger
}

var _ auth.Refresher = (*Client)(nil)

func New(c Config) (*Client, error) {
	base, err := url.Parse(c.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("backend: parse base url: %w", err)
	}

	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("backend: unsupported scheme %q", base.Scheme)
	}

	cl := &Client{
		base:   base,
		hc:     c.HTTPClient,
		logger: c.Logger,
	}

	if cl.hc == nil {
		timeout := c.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		cl.hc = &http.Client{Timeout: timeout}
	}

	if cl.logger == nil {
		cl.logger = slog.Default()
	}

	return cl, nil
}

// ExchangeCode trades an OAuth authorisation code for a backend credential.
func (c *Client) ExchangeCode(ctx context.Context, code string) (auth.Credential, error) {
	if code == "" {
		return auth.Credential{}, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("backend: empty authorisation code"))
	}

	body, err := json.Marshal(map[string]string{"code": code})
	if err != nil {
		return auth.Credential{}, errors.Internal(err)
	}

	resp, err := c.do(ctx, http.MethodPost, "/api/v1/tokens", nil, bytes.NewReader(body), auth.Credential{})
	if err != nil {
		return auth.Credential{}, fmt.Errorf("backend: exchange code: %w", err)
	}
	defer resp.Body.Close()

	return tokenFrom(resp)
}

// Refresh returns a new credential for c. The given credential is left
// untouched, callers switch to the returned value.
func (c *Client) Refresh(ctx context.Context, cred auth.Credential) (auth.Credential, error) {
	if cred.Empty() {
		return auth.Credential{}, errors.ErrMissingCredential
	}

	resp, err := c.do(ctx, http.MethodPut, "/api/v1/tokens", nil, nil, cred)
	if err != nil {
		return auth.Credential{}, fmt.Errorf("backend: refresh token: %w", err)
	}
	defer resp.Body.Close()

	return tokenFrom(resp)
}

type (
	quizResponse struct {
		ID                      uuid.UUID          `json:"id"`
		Name                    string             `json:"name"`
		Description             string             `json:"description"`
		MultipleChoiceQuestions []questionResponse `json:"multipleChoiceQuestions"`
	}

	questionResponse struct {
		ID                uuid.UUID        `json:"id"`
		Title             string           `json:"title"`
		Description       string           `json:"description"`
		DurationInSeconds uint             `json:"durationInSeconds"`
		Category          string           `json:"category"`
		Order             uint             `json:"order"`
		Options           []optionResponse `json:"options"`
	}

	optionResponse struct {
		ID         uuid.UUID `json:"id"`
		TextOption string    `json:"textOption"`
	}

	gameResponse struct {
		ID     uuid.UUID `json:"id"`
		QuizID uuid.UUID `json:"quizID"`
		Code   string    `json:"code"`
	}

	playerResponse struct {
		ID       uuid.UUID `json:"id"`
		NickName string    `json:"nickName"`
		GameID   uuid.UUID `json:"gameID"`
	}
)

// LookupQuizByGame fetches the public quiz definition of a game. Correct
// answers are never part of it.
func (c *Client) LookupQuizByGame(ctx context.Context, gameID uuid.UUID) (*domain.Quiz, error) {
	var q quizResponse
	if err := c.getJSON(ctx, fmt.Sprintf("/api/v1/games/%s/quiz", gameID), nil, &q); err != nil {
		return nil, fmt.Errorf("backend: lookup quiz: game=%s: %w", gameID, err)
	}

	quiz := &domain.Quiz{
		ID:          q.ID,
		Name:        q.Name,
		Description: q.Description,
		Questions:   make([]domain.Question, 0, len(q.MultipleChoiceQuestions)),
	}

	for _, mc := range q.MultipleChoiceQuestions {
		question := domain.Question{
			ID:          mc.ID,
			Title:       mc.Title,
			Description: mc.Description,
			Duration:    time.Duration(mc.DurationInSeconds) * time.Second,
			Category:    mc.Category,
			Order:       int(mc.Order),
			Options:     make([]domain.Option, 0, len(mc.Options)),
		}

		for _, o := range mc.Options {
			question.Options = append(question.Options, domain.Option{OptionID: o.ID, OptionText: o.TextOption})
		}

		quiz.Questions = append(quiz.Questions, question)
	}

	return quiz, nil
}

// LookupGameByCode resolves the join code players type in.
func (c *Client) LookupGameByCode(ctx context.Context, code string) (*domain.Game, error) {
	if code == "" {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("backend: empty game code"))
	}

	var g gameResponse
	if err := c.getJSON(ctx, "/api/v1/games", url.Values{"code": {code}}, &g); err != nil {
		return nil, fmt.Errorf("backend: lookup game: code=%s: %w", code, err)
	}

	game := &domain.Game{ID: g.ID, QuizID: g.QuizID, Code: g.Code}
	if game.Code == "" {
		game.Code = code
	}

	return game, nil
}

// CreatePlayer registers a new player in a game. The backend assigns the
// identity, it fails with CodeAlreadyExists when the game is full.
func (c *Client) CreatePlayer(ctx context.Context, gameID uuid.UUID) (*domain.Player, error) {
	resp, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/v1/games/%s/players", gameID), nil, nil, auth.Credential{})
	if err != nil {
		return nil, fmt.Errorf("backend: create player: game=%s: %w", gameID, err)
	}
	defer resp.Body.Close()

	var p playerResponse
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return nil, errors.Internal(fmt.Errorf("backend: decode player: %w", err))
	}

	if p.ID == uuid.Nil {
		return nil, errors.Internal(fmt.Errorf("backend: player without id: game=%s", gameID))
	}

	if p.GameID == uuid.Nil {
		p.GameID = gameID
	}

	return &domain.Player{ID: p.ID, Nickname: p.NickName, GameID: p.GameID}, nil
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	resp, err := c.do(ctx, http.MethodGet, path, query, nil, auth.Credential{})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Internal(fmt.Errorf("decode response: %w", err))
	}

	return nil
}

// do sends one request and turns any non-2xx response into an *errors.Error.
// The caller closes the body of a successful response.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body io.Reader, cred auth.Credential) (*http.Response, error) {
	u := c.base.JoinPath(path)
	u.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, errors.Internal(err)
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if !cred.Empty() {
		req.Header.Set("Authorization", cred.Header())
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, errors.New(errors.CodeUnavailable, errors.WithCause(err))
	}

	c.logger.DebugContext(ctx, "backend: request done", "method", method, "path", path, "status", resp.StatusCode)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()

		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, errors.FromHTTPStatus(resp.StatusCode,
			errors.WithMessagef("%s %s: %s %s", method, path, resp.Status, bytes.TrimSpace(msg)),
		)
	}

	return resp, nil
}

func tokenFrom(resp *http.Response) (auth.Credential, error) {
	cred := auth.Credential{Token: resp.Header.Get(tokenHeader)}
	if cred.Empty() {
		return auth.Credential{}, errors.New(errors.CodeUnauthenticated, errors.WithMessagef("backend: response carries no token"))
	}

	return cred, nil
}
