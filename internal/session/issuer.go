package session

import (
	"context"

	"github.com/dkeye/Stage/internal/domain"
)

// Token is a short-lived signed capability for one (room, role) pair.
type Token struct {
	Value    string
	Identity domain.Identity
}

// TokenIssuer is the external collaborator that mints capability tokens. Any
// error is terminal for the connect attempt.
type TokenIssuer interface {
	Mint(ctx context.Context, room domain.RoomID, role domain.Role) (Token, error)
}
