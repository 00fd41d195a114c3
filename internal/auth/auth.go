package auth

import (
	"context"
	"strings"
)

const bearerSchema = "Bearer"

// Credential is a bearer token issued by the backend. It is passed around
// explicitly, a refresh produces a new value instead of mutating this one.
type Credential struct {
	Token string
}

func (c Credential) Empty() bool {
	return strings.TrimSpace(c.Token) == ""
}

// Subprotocol is the websocket subprotocol that carries the token, the
// backend accepts it in place of an Authorization header.
func (c Credential) Subprotocol() string {
	return bearerSchema + "_" + c.Token
}

// Header is the value of the Authorization header for REST calls.
func (c Credential) Header() string {
	return bearerSchema + " " + c.Token
}

// Refresher exchanges a credential for a fresh one.
type Refresher interface {
	Refresh(ctx context.Context, c Credential) (Credential, error)
}
