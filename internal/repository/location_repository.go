package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/rmf-intake/internal/domain"
)

// LocationRepository manages location persistence.
type LocationRepository interface {
	Create(ctx context.Context, location *domain.Location) error
	Update(ctx context.Context, location *domain.Location) error
	// Lookup finds an active location whose id or case-insensitive name
	// equals ref.
	Lookup(ctx context.Context, ref string) (*domain.Location, error)
	ListActive(ctx context.Context) ([]domain.Location, error)
}

type locationRepository struct {
	db DBTX
}

// NewLocationRepository builds the repository.
func NewLocationRepository(db DBTX) LocationRepository {
	return &locationRepository{db: db}
}

func (r *locationRepository) Create(ctx context.Context, location *domain.Location) error {
	const query = `
        INSERT INTO locations (name, is_active)
        VALUES ($1,$2)
        RETURNING id, created_at, updated_at`
	return r.db.QueryRow(ctx, query,
		location.Name,
		location.IsActive,
	).Scan(&location.ID, &location.CreatedAt, &location.UpdatedAt)
}

func (r *locationRepository) Update(ctx context.Context, location *domain.Location) error {
	const query = `
        UPDATE locations SET name=$1, is_active=$2, updated_at=NOW()
        WHERE id=$3`
	cmd, err := r.db.Exec(ctx, query,
		location.Name,
		location.IsActive,
		location.ID,
	)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *locationRepository) Lookup(ctx context.Context, ref string) (*domain.Location, error) {
	const query = `
        SELECT id, name, is_active, created_at, updated_at
        FROM locations WHERE is_active=TRUE AND (id::text=$1 OR LOWER(name)=LOWER($1))
        LIMIT 1`
	var location domain.Location
	if err := r.db.QueryRow(ctx, query, ref).Scan(
		&location.ID,
		&location.Name,
		&location.IsActive,
		&location.CreatedAt,
		&location.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &location, nil
}

func (r *locationRepository) ListActive(ctx context.Context) ([]domain.Location, error) {
	const query = `
        SELECT id, name, is_active, created_at, updated_at
        FROM locations WHERE is_active = TRUE ORDER BY name`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Location
	for rows.Next() {
		var location domain.Location
		if err := rows.Scan(&location.ID, &location.Name, &location.IsActive, &location.CreatedAt, &location.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, location)
	}
	return result, rows.Err()
}
