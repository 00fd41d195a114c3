package server

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/victornm/livequiz/internal/api"
	"github.com/victornm/livequiz/internal/auth"
	"github.com/victornm/livequiz/internal/backend"
	"github.com/victornm/livequiz/internal/connection"
	"github.com/victornm/livequiz/internal/creator"
	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/errors"
	"github.com/victornm/livequiz/internal/event"
	"github.com/victornm/livequiz/internal/journal"
	"github.com/victornm/livequiz/internal/player"
	"github.com/victornm/livequiz/internal/relay"
	"github.com/victornm/livequiz/internal/telemetry"
	"github.com/victornm/livequiz/internal/viewmodel"
)

const (
	RoleCreator = "creator"
	RolePlayer  = "player"

	closeTimeout = 5 * time.Second
)

type Config struct {
	HTTP struct {
		Port int32
	}

	Backend struct {
		// BaseURL of the REST API, e.g. http://localhost:8080.
		BaseURL string
		// SocketURL defaults to BaseURL.
		SocketURL string
		Timeout   time.Duration
	}

	Session struct {
		Role string

		// A creator needs GameID and either Token or AuthCode.
		GameID   string
		Token    string
		AuthCode string
		// RefreshToken trades Token for a fresh one before connecting.
		RefreshToken bool

		// A player needs GameID or GameCode. Without PlayerID a new player
		// is registered.
		GameCode string
		PlayerID string
	}

	Connection struct {
		PingInterval     time.Duration
		HandshakeTimeout time.Duration
		SendQueue        int
	}

	Redis struct {
		Relay struct {
			Addrs  []string
			Pass   string
			Prefix string
		}
	}

	Postgres struct {
		Journal struct {
			Addr string
			User string
			Pass string
			Name string
		}
	}
}

// session is what the server needs from either controller.
type session interface {
	Connect(ctx context.Context) error
	Close()
	Done() <-chan struct{}
	State() connection.State
}

type options struct {
	registerer prometheus.Registerer
}

type Option func(o *options)

// WithRegisterer registers the session metrics somewhere else than the
// default prometheus registry.
func WithRegisterer(r prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = r
	}
}

type Server struct {
	c Config

	eb      *event.Bus
	metrics *telemetry.Metrics
	logger  *slog.Logger

	infra struct {
		redis struct {
			relay redis.UniversalClient
		}

		postgres struct {
			journal *pgxpool.Pool
		}
	}

	service struct {
		backend *backend.Client
		relay   *relay.Relay
		journal *journal.Journal
	}

	gameID  uuid.UUID
	model   *viewmodel.Model
	session session
	creator *creator.Controller
	player  *player.Controller

	ctx    context.Context
	cancel context.CancelFunc

	http *http.Server
}

func Init(c Config, opts ...Option) (*Server, error) {
	o := options{registerer: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(&o)
	}

	s := &Server{
		c:      c,
		logger: slog.Default(),
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.eb = event.NewBus()
	s.metrics = telemetry.NewMetrics(o.registerer)
	s.metrics.Subscribe(s.eb)

	if err := s.initInfra(); err != nil {
		s.release()
		return nil, fmt.Errorf("server: init infra: %w", err)
	}

	if err := s.initService(); err != nil {
		s.release()
		return nil, fmt.Errorf("server: init service: %w", err)
	}

	if err := s.initSession(); err != nil {
		s.release()
		return nil, fmt.Errorf("server: init session: %w", err)
	}

	s.initAPI()
	return s, nil
}

func (s *Server) initInfra() error {
	if err := s.initRedis(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}

	if err := s.initPostgres(); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}

	return nil
}

func (s *Server) initRedis() error {
	rc := s.c.Redis.Relay
	if len(rc.Addrs) == 0 {
		s.logger.Info("server: redis relay disabled")
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	r := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    rc.Addrs,
		Password: rc.Pass,
	})

	if err := telemetry.MonitorRedis(r, s.logger); err != nil {
		return fmt.Errorf("relay: %w", err)
	}

	if err := r.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("relay: %w", err)
	}

	s.infra.redis.relay = r
	return nil
}

func (s *Server) initPostgres() error {
	pc := s.c.Postgres.Journal
	if pc.Addr == "" {
		s.logger.Info("server: postgres journal disabled")
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cc, err := pgxpool.ParseConfig(fmt.Sprintf("postgres://%s:%s@%s/%s", pc.User, pc.Pass, pc.Addr, pc.Name))
	if err != nil {
		return fmt.Errorf("journal: %w", err)
	}

	db, err := pgxpool.NewWithConfig(ctx, cc)
	if err != nil {
		return fmt.Errorf("journal: %w", err)
	}

	if err := db.Ping(ctx); err != nil {
		db.Close()
		return fmt.Errorf("journal: %w", err)
	}

	s.infra.postgres.journal = db
	return nil
}

func (s *Server) initService() error {
	var err error
	s.service.backend, err = backend.New(backend.Config{
		BaseURL: s.c.Backend.BaseURL,
		Timeout: s.c.Backend.Timeout,
		Logger:  s.logger,
	})
	if err != nil {
		return err
	}

	if s.infra.redis.relay != nil {
		s.service.relay = relay.New(relay.Config{
			EventBus: s.eb,
			Redis:    s.infra.redis.relay,
			Prefix:   s.c.Redis.Relay.Prefix,
		})
	}

	if s.infra.postgres.journal != nil {
		s.service.journal = journal.New(journal.Config{
			EventBus: s.eb,
			DB:       s.infra.postgres.journal,
		})

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := s.service.journal.Migrate(ctx); err != nil {
			return err
		}
	}

	return nil
}

// initSession resolves who we are in which game, then builds the view model
// and the controller of that role. Nothing is connected yet.
func (s *Server) initSession() error {
	ctx, cancel := context.WithTimeout(s.ctx, 30*time.Second)
	defer cancel()

	socketURL := s.c.Backend.SocketURL
	if socketURL == "" {
		socketURL = s.c.Backend.BaseURL
	}

	opts := connection.Options{
		HandshakeTimeout: s.c.Connection.HandshakeTimeout,
		PingInterval:     s.c.Connection.PingInterval,
		SendQueue:        s.c.Connection.SendQueue,
		Logger:           s.logger,
		Metrics:          s.metrics,
	}

	switch s.c.Session.Role {
	case RoleCreator:
		gameID, err := uuid.Parse(s.c.Session.GameID)
		if err != nil {
			return fmt.Errorf("game id: %w", err)
		}
		s.gameID = gameID

		cred, err := s.credential(ctx)
		if err != nil {
			return err
		}

		s.initModel(ctx)
		s.creator, err = creator.New(creator.Config{
			SocketURL:  socketURL,
			GameID:     gameID,
			Credential: cred,
			Observer:   s.model,
			Options:    opts,
		})
		if err != nil {
			return err
		}
		s.session = s.creator

	case RolePlayer:
		gameID, err := s.playerGame(ctx)
		if err != nil {
			return err
		}
		s.gameID = gameID

		playerID, err := s.playerIdentity(ctx, gameID)
		if err != nil {
			return err
		}

		s.initModel(ctx)
		s.player, err = player.New(player.Config{
			SocketURL: socketURL,
			GameID:    gameID,
			PlayerID:  playerID,
			Observer:  s.model,
			Options:   opts,
		})
		if err != nil {
			return err
		}
		s.session = s.player

	default:
		return fmt.Errorf("unknown role %q", s.c.Session.Role)
	}

	s.logger.InfoContext(ctx, "server: session ready", "role", s.c.Session.Role, "game", s.gameID)
	return nil
}

// credential returns the creator's token. The configured token is used as is
// unless a refresh is asked for, an authorisation code is exchanged first.
// Ending up without a token is ErrMissingCredential.
func (s *Server) credential(ctx context.Context) (auth.Credential, error) {
	cred := auth.Credential{Token: s.c.Session.Token}

	var err error
	switch {
	case cred.Empty() && s.c.Session.AuthCode != "":
		cred, err = s.service.backend.ExchangeCode(ctx, s.c.Session.AuthCode)
	case !cred.Empty() && s.c.Session.RefreshToken:
		cred, err = s.service.backend.Refresh(ctx, cred)
	}

	if err != nil {
		return auth.Credential{}, err
	}

	if cred.Empty() {
		return auth.Credential{}, errors.ErrMissingCredential
	}

	return cred, nil
}

func (s *Server) playerGame(ctx context.Context) (uuid.UUID, error) {
	if s.c.Session.GameID != "" {
		return uuid.Parse(s.c.Session.GameID)
	}

	g, err := s.service.backend.LookupGameByCode(ctx, s.c.Session.GameCode)
	if err != nil {
		return uuid.Nil, err
	}

	return g.ID, nil
}

func (s *Server) playerIdentity(ctx context.Context, gameID uuid.UUID) (uuid.UUID, error) {
	if s.c.Session.PlayerID != "" {
		return uuid.Parse(s.c.Session.PlayerID)
	}

	p, err := s.service.backend.CreatePlayer(ctx, gameID)
	if err != nil {
		return uuid.Nil, err
	}

	s.logger.InfoContext(ctx, "server: registered player", "game", gameID, "player", p.ID, "nickname", p.Nickname)
	return p.ID, nil
}

// initModel builds the view model. A missing quiz only means questions
// cannot be displayed, the session still works.
func (s *Server) initModel(ctx context.Context) {
	var quiz *domain.Quiz

	q, err := s.service.backend.LookupQuizByGame(ctx, s.gameID)
	if err != nil {
		s.logger.WarnContext(ctx, "server: lookup quiz failed", "game", s.gameID, "error", err)
	} else {
		quiz = q
	}

	s.model = viewmodel.New(viewmodel.Config{
		GameID:   s.gameID,
		Quiz:     quiz,
		EventBus: s.eb,
		Logger:   s.logger,
	})
}

func (s *Server) initAPI() {
	e := gin.New()
	e.GET("/metrics", gin.WrapH(promhttp.Handler()))
	pprof.Register(e, "/debug/pprof")
	e.Use(gin.Recovery())

	c := api.Config{
		Router: e,
		GameID: s.gameID,
		Model:  s.model,
	}

	if s.creator != nil {
		c.Creator = s.creator
	}

	if s.player != nil {
		c.Player = s.player
	}

	if s.service.journal != nil {
		c.Journal = s.service.journal
	}

	if s.service.relay != nil {
		c.Relay = s.service.relay
	}

	api.New(c)

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.c.HTTP.Port),
		Handler:           e,
		ReadHeaderTimeout: 60 * time.Second,
	}
}

// Start connects the session and serves the console until Shutdown.
func (s *Server) Start() error {
	ctx := s.ctx

	if err := s.session.Connect(ctx); err != nil {
		return fmt.Errorf("server: connect: %w", err)
	}

	var eg errgroup.Group
	eg.Go(func() error {
		s.watch(ctx)
		return nil
	})

	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: HTTP listening on port %d", s.c.HTTP.Port))
		if err := s.http.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	return eg.Wait()
}

// watch logs session updates until the connection ends. The connection is
// not reopened, the console keeps serving the last state.
func (s *Server) watch(ctx context.Context) {
	for {
		select {
		case <-s.model.Changed():
			s.logger.DebugContext(ctx, "server: session updated", "game", s.gameID, "seq", s.model.Seq())

		case <-s.session.Done():
			attrs := []any{"game", s.gameID, "seq", s.model.Seq()}
			if err := s.model.Err(); err != nil {
				attrs = append(attrs, "error", err)
			}
			s.logger.InfoContext(ctx, "server: session ended", attrs...)
			return
		}
	}
}

func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()

	// Done never closes for a session that was not connected.
	if s.session.State() != connection.StateDisconnected {
		s.session.Close()
		select {
		case <-s.session.Done():
		case <-ctx.Done():
		}
	}

	if err := s.http.Shutdown(ctx); err != nil {
		slog.ErrorContext(ctx, "server: shutdown HTTP failed", "error", err)
	}

	s.release()
	slog.InfoContext(ctx, "server: shutdown completed")
}

// release stops what Init started, in reverse order.
func (s *Server) release() {
	s.cancel()
	s.eb.Stop()

	if r := s.infra.redis.relay; r != nil {
		_ = r.Close()
	}

	if db := s.infra.postgres.journal; db != nil {
		db.Close()
	}
}
