// Package allocator mints control numbers of the form
// RMF-{categoryCode}-{YYYY}-{MM}-{SEQ}. SEQ is shared by every category and
// restarts at 1 each (year, month); it is padded to three digits and widens
// past 999.
package allocator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/rmf-intake/internal/clock"
	"github.com/spec-kit/rmf-intake/internal/domain"
)

// ErrCategoryNotFound is returned when the category id does not resolve to an
// active category with a usable code.
var ErrCategoryNotFound = errors.New("category not found")

// CategoryLookup resolves category ids.
type CategoryLookup interface {
	GetByID(ctx context.Context, id string) (*domain.Category, error)
}

// SequenceSource hands out the next value of a (year, month) bucket. Next must
// be atomic across concurrent callers and never return a value twice. A value
// whose ticket is never written stays consumed, so gaps are possible.
type SequenceSource interface {
	Next(ctx context.Context, year, month int) (int64, error)
}

// Allocator composes control numbers.
type Allocator struct {
	categories CategoryLookup
	sequences  SequenceSource
	clock      clock.Clock
	location   *time.Location
}

// New returns an Allocator. A nil location means UTC.
func New(categories CategoryLookup, sequences SequenceSource, clk clock.Clock, location *time.Location) *Allocator {
	if clk == nil {
		clk = clock.Real()
	}
	if location == nil {
		location = time.UTC
	}
	return &Allocator{categories: categories, sequences: sequences, clock: clk, location: location}
}

// Allocate mints the next control number for categoryID in the current
// bucket.
func (a *Allocator) Allocate(ctx context.Context, categoryID string) (string, error) {
	category, err := a.categories.GetByID(ctx, categoryID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("%w: %s", ErrCategoryNotFound, categoryID)
		}
		return "", fmt.Errorf("resolve category: %w", err)
	}
	if !category.IsActive {
		return "", fmt.Errorf("%w: %s is inactive", ErrCategoryNotFound, categoryID)
	}
	code, ok := domain.NormalizeCategoryCode(category.Code)
	if !ok {
		return "", fmt.Errorf("%w: %s has no usable code", ErrCategoryNotFound, categoryID)
	}

	now := a.clock.Now().In(a.location)
	year, month := now.Year(), int(now.Month())
	seq, err := a.sequences.Next(ctx, year, month)
	if err != nil {
		return "", fmt.Errorf("next sequence %04d-%02d: %w", year, month, err)
	}
	if seq < 1 {
		return "", fmt.Errorf("sequence source returned %d for %04d-%02d", seq, year, month)
	}

	return domain.ControlNumber{CategoryCode: code, Year: year, Month: month, Sequence: seq}.String(), nil
}
