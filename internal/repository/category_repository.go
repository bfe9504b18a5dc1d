package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/rmf-intake/internal/domain"
)

// CategoryRepository manages persistence for maintenance categories.
type CategoryRepository interface {
	Create(ctx context.Context, category *domain.Category) error
	Update(ctx context.Context, category *domain.Category) error
	GetByID(ctx context.Context, id string) (*domain.Category, error)
	ListActive(ctx context.Context) ([]domain.Category, error)
}

type categoryRepository struct {
	db DBTX
}

// NewCategoryRepository constructs repository.
func NewCategoryRepository(db DBTX) CategoryRepository {
	return &categoryRepository{db: db}
}

func (r *categoryRepository) Create(ctx context.Context, category *domain.Category) error {
	const query = `
        INSERT INTO categories (name, code, is_active)
        VALUES ($1,$2,$3)
        RETURNING id, created_at, updated_at`
	return r.db.QueryRow(ctx, query,
		category.Name,
		category.Code,
		category.IsActive,
	).Scan(&category.ID, &category.CreatedAt, &category.UpdatedAt)
}

func (r *categoryRepository) Update(ctx context.Context, category *domain.Category) error {
	if !isRecordID(category.ID) {
		return pgx.ErrNoRows
	}
	const query = `
        UPDATE categories SET name=$1, code=$2, is_active=$3, updated_at=NOW()
        WHERE id=$4`
	cmd, err := r.db.Exec(ctx, query,
		category.Name,
		category.Code,
		category.IsActive,
		category.ID,
	)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *categoryRepository) GetByID(ctx context.Context, id string) (*domain.Category, error) {
	if !isRecordID(id) {
		return nil, pgx.ErrNoRows
	}
	const query = `
        SELECT id, name, code, is_active, created_at, updated_at
        FROM categories WHERE id=$1`
	var category domain.Category
	if err := r.db.QueryRow(ctx, query, id).Scan(
		&category.ID,
		&category.Name,
		&category.Code,
		&category.IsActive,
		&category.CreatedAt,
		&category.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &category, nil
}

func (r *categoryRepository) ListActive(ctx context.Context) ([]domain.Category, error) {
	const query = `
        SELECT id, name, code, is_active, created_at, updated_at
        FROM categories WHERE is_active=TRUE ORDER BY name`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Category
	for rows.Next() {
		var category domain.Category
		if err := rows.Scan(&category.ID, &category.Name, &category.Code, &category.IsActive, &category.CreatedAt, &category.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, category)
	}
	return result, rows.Err()
}

// DefaultCategories mirrors the rows seeded by migration 0004 for stores that
// do not run migrations.
var DefaultCategories = []domain.Category{
	{Name: "Electrical", Code: "ELEC", IsActive: true},
	{Name: "Plumbing", Code: "PLUMB", IsActive: true},
	{Name: "Carpentry", Code: "CARP", IsActive: true},
	{Name: "Air Conditioning", Code: "AIRCON", IsActive: true},
	{Name: "Civil Works", Code: "CIVIL", IsActive: true},
}

// SeedCategories inserts categories, skipping codes that already exist.
func SeedCategories(ctx context.Context, repo CategoryRepository, categories []domain.Category) error {
	for _, category := range categories {
		category := category
		if err := repo.Create(ctx, &category); err != nil && !IsUniqueViolation(err) {
			return fmt.Errorf("seed category %s: %w", category.Code, err)
		}
	}
	return nil
}
