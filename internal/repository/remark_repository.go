package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/rmf-intake/internal/domain"
)

// RemarkRepository manages ticket remarks. Lists are in creation order.
type RemarkRepository interface {
	Create(ctx context.Context, remark *domain.Remark) error
	UpdateBody(ctx context.Context, remark *domain.Remark) error
	GetByID(ctx context.Context, ticketID, remarkID string) (*domain.Remark, error)
	ListByTicket(ctx context.Context, ticketID string) ([]domain.Remark, error)
	LatestByTickets(ctx context.Context, ticketIDs []string) (map[string]domain.Remark, error)
}

type remarkRepository struct {
	db DBTX
}

// NewRemarkRepository builds repository.
func NewRemarkRepository(db DBTX) RemarkRepository {
	return &remarkRepository{db: db}
}

func (r *remarkRepository) Create(ctx context.Context, remark *domain.Remark) error {
	const query = `
        INSERT INTO remarks (ticket_id, body, added_by, created_at)
        VALUES ($1,$2,$3,$4)
        RETURNING id`
	return r.db.QueryRow(ctx, query,
		remark.TicketID,
		remark.Body,
		remark.AddedBy,
		remark.CreatedAt,
	).Scan(&remark.ID)
}

// UpdateBody changes only body and updated_at.
func (r *remarkRepository) UpdateBody(ctx context.Context, remark *domain.Remark) error {
	if !isRecordID(remark.ID) {
		return pgx.ErrNoRows
	}
	const query = `UPDATE remarks SET body=$1, updated_at=$2 WHERE id=$3 AND ticket_id=$4`
	cmd, err := r.db.Exec(ctx, query, remark.Body, remark.UpdatedAt, remark.ID, remark.TicketID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *remarkRepository) GetByID(ctx context.Context, ticketID, remarkID string) (*domain.Remark, error) {
	if !isRecordID(remarkID) {
		return nil, pgx.ErrNoRows
	}
	const query = `
        SELECT id, ticket_id, body, added_by, created_at, updated_at
        FROM remarks WHERE id=$1 AND ticket_id=$2`
	var remark domain.Remark
	if err := r.db.QueryRow(ctx, query, remarkID, ticketID).Scan(
		&remark.ID,
		&remark.TicketID,
		&remark.Body,
		&remark.AddedBy,
		&remark.CreatedAt,
		&remark.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &remark, nil
}

func (r *remarkRepository) ListByTicket(ctx context.Context, ticketID string) ([]domain.Remark, error) {
	const query = `
        SELECT id, ticket_id, body, added_by, created_at, updated_at
        FROM remarks WHERE ticket_id=$1 ORDER BY position ASC`
	rows, err := r.db.Query(ctx, query, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Remark
	for rows.Next() {
		var remark domain.Remark
		if err := rows.Scan(
			&remark.ID,
			&remark.TicketID,
			&remark.Body,
			&remark.AddedBy,
			&remark.CreatedAt,
			&remark.UpdatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, remark)
	}
	return result, rows.Err()
}

// LatestByTickets returns the most recently created remark of each ticket
// that has one.
func (r *remarkRepository) LatestByTickets(ctx context.Context, ticketIDs []string) (map[string]domain.Remark, error) {
	result := make(map[string]domain.Remark, len(ticketIDs))
	if len(ticketIDs) == 0 {
		return result, nil
	}
	const query = `
        SELECT DISTINCT ON (ticket_id) id, ticket_id, body, added_by, created_at, updated_at
        FROM remarks WHERE ticket_id = ANY($1) ORDER BY ticket_id, position DESC`
	rows, err := r.db.Query(ctx, query, ticketIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var remark domain.Remark
		if err := rows.Scan(
			&remark.ID,
			&remark.TicketID,
			&remark.Body,
			&remark.AddedBy,
			&remark.CreatedAt,
			&remark.UpdatedAt,
		); err != nil {
			return nil, err
		}
		result[remark.TicketID] = remark
	}
	return result, rows.Err()
}
