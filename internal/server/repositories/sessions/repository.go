package sessions

import (
	"context"

	"github.com/dmitrijs2005/mmarket/internal/server/models"
)

// TokenValidator reports whether a stored token is still acceptable. An
// error means the token could not be judged and the session is kept.
type TokenValidator func(ctx context.Context, token string) (bool, error)

// RemoveFilter selects sessions to remove: every session of UserID, or only
// the one of UserAgentRaw when it is set.
type RemoveFilter struct {
	UserID       int64
	UserAgentRaw *string
}

// Repository is the store of active sessions keyed by user id and the hash
// of the raw User-Agent.
type Repository interface {
	Create(ctx context.Context, userID int64, token, userAgentRaw string, rights models.Rights) error
	Refresh(ctx context.Context, userID int64, token, userAgentRaw string) error
	GetOne(ctx context.Context, userID int64, userAgentRaw string) (*models.Session, error)
	GetAllByUserID(ctx context.Context, userID int64) ([]*models.Session, error)
	Remove(ctx context.Context, filter RemoveFilter) error
	UpdateAllByUserID(ctx context.Context, userID int64, rights models.Rights) error
	Cleanup(ctx context.Context, validate TokenValidator) (int, error)
	RemoveAll(ctx context.Context) error
	Ping(ctx context.Context) error
}
