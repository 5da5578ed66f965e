package users

import (
	"context"

	"github.com/dmitrijs2005/mmarket/internal/server/models"
)

// Repository is the relational store of users. Missing rows are reported
// as common.ErrorNotFound and unique violations as common.ErrorAlreadyExists.
type Repository interface {
	Create(ctx context.Context, user *models.User) (*models.User, error)
	GetByID(ctx context.Context, id int64) (*models.User, error)
	GetByUniqueProperties(ctx context.Context, props models.UniqueProperties) (*models.User, error)
	GetAll(ctx context.Context) ([]*models.User, error)
	GetSome(ctx context.Context, limit, offset int) ([]*models.User, error)
	GetByScope(ctx context.Context, scope models.Scope) ([]*models.User, error)
	Update(ctx context.Context, id int64, patch models.UserPatch) (*models.User, error)
	UpdateRights(ctx context.Context, id int64, rights models.Rights) error
	UpdateLookupHash(ctx context.Context, id int64, lookupHash string, lookupNoise int64) error
	Remove(ctx context.Context, id int64) error
	Restore(ctx context.Context, id int64) error
	Delete(ctx context.Context, id int64) error
	RemoveAll(ctx context.Context, keepPhonenumber string) error
}
