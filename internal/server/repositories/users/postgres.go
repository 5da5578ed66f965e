// Package users implements the PostgreSQL-backed user repository.
package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/mmarket/internal/common"
	"github.com/dmitrijs2005/mmarket/internal/dbx"
	"github.com/dmitrijs2005/mmarket/internal/server/models"
	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

const userColumns = `id, username, email, phonenumber, name, birthdate, rights, lookup_hash, lookup_noise, deleted_at, created_at, updated_at`

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(row scanner) (*models.User, error) {
	u := &models.User{}
	var rights, lookupHash sql.NullString

	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.Phonenumber, &u.Name, &u.Birthdate,
		&rights, &lookupHash, &u.LookupNoise, &u.DeletedAt, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}

	u.Rights = models.Rights(rights.String)
	u.LookupHash = lookupHash.String
	return u, nil
}

func mapError(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return common.ErrorNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", common.ErrorAlreadyExists, pgErr.ConstraintName)
	}
	return fmt.Errorf("db error: %w", err)
}

func (r *PostgresRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	query :=
		`INSERT INTO users (username, email, phonenumber, name, birthdate, rights, lookup_hash, lookup_noise)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id, created_at, updated_at
		 `

	err := r.db.QueryRowContext(ctx, query,
		user.Username, user.Email, user.Phonenumber, user.Name, user.Birthdate,
		string(user.Rights), user.LookupHash, user.LookupNoise,
	).Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return nil, mapError(err)
	}

	return user, nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id int64) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	u, err := scanUser(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, mapError(err)
	}
	return u, nil
}

// GetByUniqueProperties looks the user up by the first identifier present
// in props, in the order username, phonenumber, email.
func (r *PostgresRepository) GetByUniqueProperties(ctx context.Context, props models.UniqueProperties) (*models.User, error) {
	var column, value string
	switch {
	case props.Username != nil:
		column, value = "username", *props.Username
	case props.Phonenumber != nil:
		column, value = "phonenumber", *props.Phonenumber
	case props.Email != nil:
		column, value = "email", *props.Email
	default:
		return nil, common.ErrorNotFound
	}

	query := `SELECT ` + userColumns + ` FROM users WHERE ` + column + ` = $1`

	u, err := scanUser(r.db.QueryRowContext(ctx, query, value))
	if err != nil {
		return nil, mapError(err)
	}
	return u, nil
}

func (r *PostgresRepository) GetAll(ctx context.Context) ([]*models.User, error) {
	return r.list(ctx, `SELECT `+userColumns+` FROM users ORDER BY id`)
}

func (r *PostgresRepository) GetSome(ctx context.Context, limit, offset int) ([]*models.User, error) {
	return r.list(ctx, `SELECT `+userColumns+` FROM users ORDER BY id LIMIT $1 OFFSET $2`, limit, offset)
}

func (r *PostgresRepository) GetByScope(ctx context.Context, scope models.Scope) ([]*models.User, error) {
	switch scope {
	case models.ScopeAll:
		return r.GetAll(ctx)
	case models.ScopeDeleted:
		return r.list(ctx, `SELECT `+userColumns+` FROM users WHERE deleted_at IS NOT NULL ORDER BY id`)
	case models.ScopeCustomer, models.ScopeManager, models.ScopeAdmin, models.ScopeDisabled:
		return r.list(ctx, `SELECT `+userColumns+` FROM users WHERE rights = $1 AND deleted_at IS NULL ORDER BY id`, string(scope))
	default:
		return nil, common.NewValidationError(fmt.Sprintf("unknown scope %q", scope))
	}
}

func (r *PostgresRepository) list(ctx context.Context, query string, args ...any) ([]*models.User, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	result := make([]*models.User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, mapError(err)
		}
		result = append(result, u)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return result, nil
}

// Update applies the non-nil fields of patch. The lookup hash is left as
// is: it keeps pointing at the existing credential.
func (r *PostgresRepository) Update(ctx context.Context, id int64, patch models.UserPatch) (*models.User, error) {
	query :=
		`UPDATE users SET
		   username = COALESCE($2, username),
		   email = COALESCE($3, email),
		   phonenumber = COALESCE($4, phonenumber),
		   name = COALESCE($5, name),
		   birthdate = COALESCE($6, birthdate),
		   updated_at = now()
		 WHERE id = $1
		 RETURNING ` + userColumns

	u, err := scanUser(r.db.QueryRowContext(ctx, query, id,
		patch.Username, patch.Email, patch.Phonenumber, patch.Name, patch.Birthdate))
	if err != nil {
		return nil, mapError(err)
	}
	return u, nil
}

func (r *PostgresRepository) UpdateRights(ctx context.Context, id int64, rights models.Rights) error {
	query := `UPDATE users SET rights = $2, updated_at = now() WHERE id = $1`
	return r.execOne(ctx, query, id, string(rights))
}

func (r *PostgresRepository) UpdateLookupHash(ctx context.Context, id int64, lookupHash string, lookupNoise int64) error {
	query := `UPDATE users SET lookup_hash = $2, lookup_noise = $3, updated_at = now() WHERE id = $1`
	return r.execOne(ctx, query, id, lookupHash, lookupNoise)
}

// Remove soft-deletes the user.
func (r *PostgresRepository) Remove(ctx context.Context, id int64) error {
	query := `UPDATE users SET deleted_at = now(), updated_at = now() WHERE id = $1 AND deleted_at IS NULL`
	return r.execOne(ctx, query, id)
}

func (r *PostgresRepository) Restore(ctx context.Context, id int64) error {
	query := `UPDATE users SET deleted_at = NULL, updated_at = now() WHERE id = $1`
	return r.execOne(ctx, query, id)
}

// Delete removes the row permanently; address links cascade.
func (r *PostgresRepository) Delete(ctx context.Context, id int64) error {
	return r.execOne(ctx, `DELETE FROM users WHERE id = $1`, id)
}

// RemoveAll deletes every user except the one owning keepPhonenumber.
func (r *PostgresRepository) RemoveAll(ctx context.Context, keepPhonenumber string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE phonenumber IS DISTINCT FROM $1`, keepPhonenumber)
	if err != nil {
		return mapError(err)
	}
	return nil
}

func (r *PostgresRepository) execOne(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return mapError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return mapError(err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}
