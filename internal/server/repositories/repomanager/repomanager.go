package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/mmarket/internal/dbx"
	"github.com/dmitrijs2005/mmarket/internal/server/repositories/addresses"
	"github.com/dmitrijs2005/mmarket/internal/server/repositories/users"
)

// RepositoryManager vends relational repositories bound to either the pool
// or a running transaction.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Users(db dbx.DBTX) users.Repository
	Addresses(db dbx.DBTX) addresses.Repository
}
