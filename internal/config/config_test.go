package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/livequiz/internal/config"
)

type testConfig struct {
	HTTP struct {
		Port int32
	}

	Session struct {
		Role   string
		GameID string
	}

	Connection struct {
		PingInterval time.Duration
	}

	Redis struct {
		Addrs []string
	}
}

const file = `
http:
  port: 8090
session:
  role: creator
connection:
  pingInterval: 15s
redis:
  addrs: ["localhost:6379"]
`

func TestLoad(t *testing.T) {
	tests := map[string]struct {
		arrange func(t *testing.T) (path string, opts []config.Option)
		assert  func(t *testing.T, c testConfig, err error)
	}{
		"file values override defaults": {
			arrange: func(t *testing.T) (string, []config.Option) {
				return writeFile(t, file), nil
			},
			assert: func(t *testing.T, c testConfig, err error) {
				require.NoError(t, err)
				assert.EqualValues(t, 8090, c.HTTP.Port)
				assert.Equal(t, "creator", c.Session.Role)
				assert.Equal(t, 15*time.Second, c.Connection.PingInterval)
				assert.Equal(t, []string{"localhost:6379"}, c.Redis.Addrs)
				assert.Equal(t, "default-game", c.Session.GameID, "keys missing from the file keep their default")
			},
		},
		"environment overrides the file": {
			arrange: func(t *testing.T) (string, []config.Option) {
				t.Setenv("SESSION_ROLE", "player")
				t.Setenv("SESSION_GAMEID", "from-env")
				return writeFile(t, file), nil
			},
			assert: func(t *testing.T, c testConfig, err error) {
				require.NoError(t, err)
				assert.Equal(t, "player", c.Session.Role)
				assert.Equal(t, "from-env", c.Session.GameID)
			},
		},
		"environment only with a prefix": {
			arrange: func(t *testing.T) (string, []config.Option) {
				t.Setenv("LIVEQUIZ_HTTP_PORT", "9000")
				return "", []config.Option{config.WithEnvPrefix("LIVEQUIZ")}
			},
			assert: func(t *testing.T, c testConfig, err error) {
				require.NoError(t, err)
				assert.EqualValues(t, 9000, c.HTTP.Port)
				assert.Equal(t, "default-game", c.Session.GameID)
			},
		},
		"missing file": {
			arrange: func(t *testing.T) (string, []config.Option) {
				return filepath.Join(t.TempDir(), "missing.yaml"), nil
			},
			assert: func(t *testing.T, c testConfig, err error) {
				require.Error(t, err)
			},
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			path, opts := tt.arrange(t)

			var c testConfig
			c.Session.GameID = "default-game"

			err := config.Load(path, &c, opts...)
			tt.assert(t, c, err)
		})
	}
}

func writeFile(t *testing.T, content string) string {
	t.Helper()

	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}
