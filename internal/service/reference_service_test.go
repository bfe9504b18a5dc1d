package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/rmf-intake/internal/repository"
	apperrors "github.com/spec-kit/rmf-intake/pkg/util/errorutil"
)

func TestReferenceService_Categories(t *testing.T) {
	svc := NewReferenceService(repository.NewMemoryStore())
	ctx := context.Background()

	created, err := svc.CreateCategory(ctx, "Air Conditioning", " aircon ")
	require.NoError(t, err)
	assert.Equal(t, "AIRCON", created.Code)

	_, err = svc.CreateCategory(ctx, "Duplicate", "AIRCON")
	requireCode(t, err, apperrors.CodeConflict)

	_, err = svc.CreateCategory(ctx, "", "B2")
	domainErr := requireCode(t, err, apperrors.CodeValidation)
	assert.ElementsMatch(t, []string{"name", "code"}, domainErr.Details["fields"])

	_, err = svc.SetCategoryActive(ctx, created.ID, false)
	require.NoError(t, err)
	active, err := svc.ListCategories(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)

	_, err = svc.SetCategoryActive(ctx, "missing", true)
	requireCode(t, err, apperrors.CodeNotFound)
}

func TestReferenceService_Locations(t *testing.T) {
	svc := NewReferenceService(repository.NewMemoryStore())
	ctx := context.Background()

	_, err := svc.CreateLocation(ctx, "Gymnasium")
	require.NoError(t, err)
	_, err = svc.CreateLocation(ctx, "Annex")
	require.NoError(t, err)
	_, err = svc.CreateLocation(ctx, "  ")
	requireCode(t, err, apperrors.CodeValidation)

	locations, err := svc.ListLocations(ctx)
	require.NoError(t, err)
	require.Len(t, locations, 2)
	assert.Equal(t, "Annex", locations[0].Name)
}
