package addresses

import (
	"context"

	"github.com/dmitrijs2005/mmarket/internal/server/models"
)

// Repository stores addresses and their links to users.
type Repository interface {
	Create(ctx context.Context, a *models.Address) (*models.Address, error)
	Update(ctx context.Context, a *models.Address) error
	Delete(ctx context.Context, id int64) error
	Link(ctx context.Context, userID, addressID int64) error
	Unlink(ctx context.Context, userID, addressID int64) error
	IsLinked(ctx context.Context, userID, addressID int64) (bool, error)
	GetForUser(ctx context.Context, userID int64) ([]*models.Address, error)
	RemoveForUser(ctx context.Context, userID int64) error
}
