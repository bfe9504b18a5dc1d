package repository

import (
	"context"
	"fmt"

	"github.com/spec-kit/rmf-intake/internal/domain"
)

// SequenceRepository hands out control number sequence values per
// (year, month) bucket.
type SequenceRepository interface {
	Next(ctx context.Context, year, month int) (int64, error)
}

type sequenceRepository struct {
	db DBTX
}

// NewSequenceRepository builds repository.
func NewSequenceRepository(db DBTX) SequenceRepository {
	return &sequenceRepository{db: db}
}

// Next increments the bucket counter in a single statement. The row lock
// taken by ON CONFLICT DO UPDATE serializes concurrent callers until their
// transactions end. A bucket seen for the first time starts after the highest
// sequence already issued in it.
func (r *sequenceRepository) Next(ctx context.Context, year, month int) (int64, error) {
	const query = `
        INSERT INTO control_number_sequences (year, month, last_value)
        VALUES ($1, $2, COALESCE((
            SELECT MAX(CAST(split_part(control_number, '-', 5) AS BIGINT))
            FROM tickets WHERE control_number LIKE $3), 0) + 1)
        ON CONFLICT (year, month) DO UPDATE
            SET last_value = control_number_sequences.last_value + 1, updated_at = NOW()
        RETURNING last_value`
	var value int64
	if err := r.db.QueryRow(ctx, query, year, month, bucketPattern(year, month)).Scan(&value); err != nil {
		return 0, err
	}
	return value, nil
}

// bucketPattern matches every control number issued in the bucket.
func bucketPattern(year, month int) string {
	return fmt.Sprintf("%s-%%-%04d-%02d-%%", domain.ControlNumberPrefix, year, month)
}
