package server_test

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/livequiz/internal/errors"
	"github.com/victornm/livequiz/internal/server"
)

var (
	gameID   = uuid.MustParse("5a3bb5b8-5e36-4c39-8f6b-0e9d1d7d6a01")
	playerID = uuid.MustParse("c0ffee00-5e36-4c39-8f6b-0e9d1d7d6a01")
)

func TestInit(t *testing.T) {
	tests := map[string]struct {
		arrange func(c *server.Config)
		assert  func(t *testing.T, s *server.Server, err error, hits int32)
	}{
		"creator without token nor auth code": {
			arrange: func(c *server.Config) {
				c.Session.Role = server.RoleCreator
				c.Session.GameID = gameID.String()
			},
			assert: func(t *testing.T, s *server.Server, err error, hits int32) {
				require.ErrorIs(t, err, errors.ErrMissingCredential)
				assert.Nil(t, s)
				assert.Zero(t, hits, "nothing is asked from the backend")
			},
		},
		"creator with a token": {
			arrange: func(c *server.Config) {
				c.Session.Role = server.RoleCreator
				c.Session.GameID = gameID.String()
				c.Session.Token = "secret"
			},
			assert: func(t *testing.T, s *server.Server, err error, hits int32) {
				require.NoError(t, err)
				require.NotNil(t, s)
			},
		},
		"creator exchanges an auth code": {
			arrange: func(c *server.Config) {
				c.Session.Role = server.RoleCreator
				c.Session.GameID = gameID.String()
				c.Session.AuthCode = "good"
			},
			assert: func(t *testing.T, s *server.Server, err error, hits int32) {
				require.NoError(t, err)
				require.NotNil(t, s)
			},
		},
		"creator with a rejected auth code": {
			arrange: func(c *server.Config) {
				c.Session.Role = server.RoleCreator
				c.Session.GameID = gameID.String()
				c.Session.AuthCode = "bad"
			},
			assert: func(t *testing.T, s *server.Server, err error, hits int32) {
				require.Error(t, err)
				assert.Equal(t, errors.CodeUnauthenticated, errors.Convert(err).Code)
			},
		},
		"creator with an invalid game id": {
			arrange: func(c *server.Config) {
				c.Session.Role = server.RoleCreator
				c.Session.GameID = "not-a-game"
				c.Session.Token = "secret"
			},
			assert: func(t *testing.T, s *server.Server, err error, hits int32) {
				require.Error(t, err)
				assert.Nil(t, s)
			},
		},
		"player joins by code": {
			arrange: func(c *server.Config) {
				c.Session.Role = server.RolePlayer
				c.Session.GameCode = "KO384B"
			},
			assert: func(t *testing.T, s *server.Server, err error, hits int32) {
				require.NoError(t, err)
				require.NotNil(t, s)
				assert.EqualValues(t, 3, hits, "game lookup, player registration and quiz lookup")
			},
		},
		"unknown role": {
			arrange: func(c *server.Config) {
				c.Session.Role = "spectator"
			},
			assert: func(t *testing.T, s *server.Server, err error, hits int32) {
				require.Error(t, err)
				assert.Nil(t, s)
			},
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			url, hits := makeBackend(t)

			var c server.Config
			c.Backend.BaseURL = url
			c.Backend.Timeout = time.Second
			tt.arrange(&c)

			s, err := server.Init(c, server.WithRegisterer(prometheus.NewRegistry()))
			if s != nil {
				defer shutdown(t, s)
			}

			tt.assert(t, s, err, hits.Load())
		})
	}
}

// shutdown must not wait for a session that never connected.
func shutdown(t *testing.T, s *server.Server) {
	t.Helper()

	done := make(chan struct{})
	go func() {
		s.Shutdown()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown waited for a session that was never connected")
	}
}

// makeBackend starts a fake backend and counts the requests it serves.
func makeBackend(t *testing.T) (string, *atomic.Int32) {
	t.Helper()

	var hits atomic.Int32

	gin.SetMode(gin.TestMode)
	e := gin.New()
	e.Use(func(c *gin.Context) {
		hits.Add(1)
	})

	e.POST("/api/v1/tokens", func(c *gin.Context) {
		var in struct {
			Code string `json:"code"`
		}
		if err := c.ShouldBindJSON(&in); err != nil || in.Code != "good" {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		c.Header("token", "issued")
		c.Status(http.StatusOK)
	})

	e.GET("/api/v1/games", func(c *gin.Context) {
		if c.Query("code") != "KO384B" {
			c.AbortWithStatus(http.StatusNotFound)
			return
		}
		c.JSON(http.StatusOK, gin.H{"id": gameID, "code": "KO384B"})
	})

	e.POST("/api/v1/games/:id/players", func(c *gin.Context) {
		c.JSON(http.StatusCreated, gin.H{"id": playerID, "nickName": "Blue Fox", "gameID": c.Param("id")})
	})

	e.GET("/api/v1/games/:id/quiz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"id":   uuid.New(),
			"name": "Capitals",
			"multipleChoiceQuestions": []gin.H{
				{"id": uuid.New(), "title": "Capital of France?", "durationInSeconds": 20, "options": []gin.H{{"id": uuid.New(), "textOption": "Paris"}}},
			},
		})
	})

	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)

	return srv.URL, &hits
}
