package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/spec-kit/rmf-intake/internal/domain"
	"github.com/spec-kit/rmf-intake/internal/repository"
	apperrors "github.com/spec-kit/rmf-intake/pkg/util/errorutil"
)

// ReferenceService manages the categories and locations intake forms offer.
type ReferenceService struct {
	store repository.Store
}

// NewReferenceService constructs the service.
func NewReferenceService(store repository.Store) *ReferenceService {
	return &ReferenceService{store: store}
}

// ListCategories returns active categories ordered by name.
func (s *ReferenceService) ListCategories(ctx context.Context) ([]domain.Category, error) {
	categories, err := s.store.Repositories().Categories.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	return categories, nil
}

// CreateCategory adds a category. The code is upper-cased and must be
// alphabetic since it is embedded in control numbers.
func (s *ReferenceService) CreateCategory(ctx context.Context, name, code string) (*domain.Category, error) {
	var invalid []string
	name = strings.TrimSpace(name)
	if name == "" {
		invalid = append(invalid, "name")
	}
	normalized, ok := domain.NormalizeCategoryCode(code)
	if !ok {
		invalid = append(invalid, "code")
	}
	if len(invalid) > 0 {
		return nil, apperrors.NewValidationError("missing or invalid fields", invalid)
	}

	category := &domain.Category{Name: name, Code: normalized, IsActive: true}
	if err := s.store.Repositories().Categories.Create(ctx, category); err != nil {
		if repository.IsUniqueViolation(err) {
			return nil, apperrors.NewConflict("category code already exists", map[string]any{"code": normalized})
		}
		return nil, fmt.Errorf("create category: %w", err)
	}
	return category, nil
}

// SetCategoryActive retires or restores a category. Tickets already filed
// under it keep their control numbers.
func (s *ReferenceService) SetCategoryActive(ctx context.Context, id string, active bool) (*domain.Category, error) {
	var category *domain.Category
	err := s.store.WithinTx(ctx, func(repos repository.Repositories) error {
		var err error
		category, err = repos.Categories.GetByID(ctx, id)
		if err != nil {
			if repository.IsNotFound(err) {
				return apperrors.NewNotFound("category", map[string]any{"category_id": id})
			}
			return fmt.Errorf("load category: %w", err)
		}
		category.IsActive = active
		return repos.Categories.Update(ctx, category)
	})
	if err != nil {
		return nil, err
	}
	return category, nil
}

// ListLocations returns active locations ordered by name.
func (s *ReferenceService) ListLocations(ctx context.Context) ([]domain.Location, error) {
	locations, err := s.store.Repositories().Locations.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list locations: %w", err)
	}
	return locations, nil
}

// CreateLocation adds a named location.
func (s *ReferenceService) CreateLocation(ctx context.Context, name string) (*domain.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperrors.NewValidationError("location name is required", []string{"name"})
	}
	location := &domain.Location{Name: name, IsActive: true}
	if err := s.store.Repositories().Locations.Create(ctx, location); err != nil {
		return nil, fmt.Errorf("create location: %w", err)
	}
	return location, nil
}
