package protocol

import (
	"fmt"
	"net/url"

	"github.com/google/uuid"
)

func CreatorPath(gameID uuid.UUID) string {
	return fmt.Sprintf("/api/v1/games/%s/connection", gameID)
}

func PlayerPath(gameID, playerID uuid.UUID) string {
	return fmt.Sprintf("/api/v1/games/%s/players/%s/connection", gameID, playerID)
}

// Endpoint joins a socket base URL such as ws://host:8080 with a connection
// path.
func Endpoint(base, path string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("protocol: parse socket url: %w", err)
	}

	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("protocol: unsupported socket scheme %q", u.Scheme)
	}

	return u.JoinPath(path).String(), nil
}
