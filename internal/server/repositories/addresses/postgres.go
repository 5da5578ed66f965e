// Package addresses implements the PostgreSQL-backed address repository.
package addresses

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/mmarket/internal/common"
	"github.com/dmitrijs2005/mmarket/internal/dbx"
	"github.com/dmitrijs2005/mmarket/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, a *models.Address) (*models.Address, error) {
	query :=
		`INSERT INTO addresses (region, region_district, numbered_address, street, house, entrance, floor, flat, entrance_key)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING id
		 `

	err := r.db.QueryRowContext(ctx, query,
		a.Region, a.RegionDistrict, a.NumberedAddress, a.Street, a.House,
		a.Entrance, a.Floor, a.Flat, a.EntranceKey,
	).Scan(&a.ID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return a, nil
}

func (r *PostgresRepository) Update(ctx context.Context, a *models.Address) error {
	query :=
		`UPDATE addresses SET region = $2, region_district = $3, numbered_address = $4, street = $5,
		   house = $6, entrance = $7, floor = $8, flat = $9, entrance_key = $10
		 WHERE id = $1
		 `

	res, err := r.db.ExecContext(ctx, query, a.ID,
		a.Region, a.RegionDistrict, a.NumberedAddress, a.Street, a.House,
		a.Entrance, a.Floor, a.Flat, a.EntranceKey)
	return affectedOne(res, err)
}

func (r *PostgresRepository) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM addresses WHERE id = $1`, id)
	return affectedOne(res, err)
}

func (r *PostgresRepository) Link(ctx context.Context, userID, addressID int64) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO user_addresses (user_id, address_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		userID, addressID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Unlink(ctx context.Context, userID, addressID int64) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM user_addresses WHERE user_id = $1 AND address_id = $2`, userID, addressID)
	return affectedOne(res, err)
}

func (r *PostgresRepository) IsLinked(ctx context.Context, userID, addressID int64) (bool, error) {
	var linked bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM user_addresses WHERE user_id = $1 AND address_id = $2)`,
		userID, addressID).Scan(&linked)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return linked, nil
}

func (r *PostgresRepository) GetForUser(ctx context.Context, userID int64) ([]*models.Address, error) {
	query :=
		`SELECT a.id, a.region, a.region_district, a.numbered_address, a.street, a.house,
		        a.entrance, a.floor, a.flat, a.entrance_key
		 FROM addresses a
		 JOIN user_addresses ua ON ua.address_id = a.id
		 WHERE ua.user_id = $1
		 ORDER BY a.id
		 `

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	result := make([]*models.Address, 0)
	for rows.Next() {
		a := &models.Address{}
		if err := rows.Scan(&a.ID, &a.Region, &a.RegionDistrict, &a.NumberedAddress, &a.Street, &a.House,
			&a.Entrance, &a.Floor, &a.Flat, &a.EntranceKey); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		result = append(result, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return result, nil
}

// RemoveForUser deletes every address linked to the user; the links go
// with them through ON DELETE CASCADE.
func (r *PostgresRepository) RemoveForUser(ctx context.Context, userID int64) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM addresses WHERE id IN (SELECT address_id FROM user_addresses WHERE user_id = $1)`, userID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func affectedOne(res sql.Result, err error) error {
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return common.ErrorNotFound
		}
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}
