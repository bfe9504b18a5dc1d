package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/rmf-intake/internal/domain"
)

// TicketFilter captures list parameters.
type TicketFilter struct {
	Statuses    []domain.TicketStatus
	CategoryID  *string
	ReportYear  *int
	ReportMonth *int
	SearchTerm  *string
	Limit       int
	Offset      int
}

// TicketRepository encapsulates ticket persistence.
type TicketRepository interface {
	Create(ctx context.Context, ticket *domain.Ticket) error
	Update(ctx context.Context, ticket *domain.Ticket) error
	GetByID(ctx context.Context, id string) (*domain.Ticket, error)
	GetByControlNumber(ctx context.Context, controlNumber string) (*domain.Ticket, error)
	// GetByControlNumberForUpdate locks the row until the surrounding
	// transaction ends.
	GetByControlNumberForUpdate(ctx context.Context, controlNumber string) (*domain.Ticket, error)
	ListWithFilter(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error)
	Delete(ctx context.Context, id string) error
}

type ticketRepository struct {
	db DBTX
}

// NewTicketRepository instantiates repository.
func NewTicketRepository(db DBTX) TicketRepository {
	return &ticketRepository{db: db}
}

const ticketColumns = `id, control_number, category_id, location, COALESCE(level_of_repair, ''), description,
               reported_by, end_user, status, received_at, accomplished_at, target_date,
               report_year, report_month, file_url, created_at, updated_at`

func (r *ticketRepository) Create(ctx context.Context, ticket *domain.Ticket) error {
	const query = `
        INSERT INTO tickets (control_number, category_id, location, level_of_repair, description, reported_by, end_user,
            status, received_at, accomplished_at, target_date, report_year, report_month, file_url)
        VALUES ($1,$2,$3,NULLIF($4,''),$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
        RETURNING id, created_at, updated_at`
	return r.db.QueryRow(ctx, query,
		ticket.ControlNumber,
		ticket.CategoryID,
		ticket.Location,
		string(ticket.LevelOfRepair),
		ticket.Description,
		ticket.ReportedBy,
		ticket.EndUser,
		string(ticket.Status),
		ticket.ReceivedAt,
		ticket.AccomplishedAt,
		ticket.TargetDate,
		ticket.ReportYear,
		ticket.ReportMonth,
		ticket.FileURL,
	).Scan(&ticket.ID, &ticket.CreatedAt, &ticket.UpdatedAt)
}

// Update never touches control_number.
func (r *ticketRepository) Update(ctx context.Context, ticket *domain.Ticket) error {
	const query = `
        UPDATE tickets SET category_id=$1, location=$2, level_of_repair=NULLIF($3,''), description=$4, reported_by=$5,
            end_user=$6, status=$7, received_at=$8, accomplished_at=$9, target_date=$10, report_year=$11,
            report_month=$12, file_url=$13, updated_at=NOW()
        WHERE id=$14
        RETURNING updated_at`
	err := r.db.QueryRow(ctx, query,
		ticket.CategoryID,
		ticket.Location,
		string(ticket.LevelOfRepair),
		ticket.Description,
		ticket.ReportedBy,
		ticket.EndUser,
		string(ticket.Status),
		ticket.ReceivedAt,
		ticket.AccomplishedAt,
		ticket.TargetDate,
		ticket.ReportYear,
		ticket.ReportMonth,
		ticket.FileURL,
		ticket.ID,
	).Scan(&ticket.UpdatedAt)
	return err
}

func (r *ticketRepository) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE id=$1`
	return r.fetchSingle(ctx, query, id)
}

func (r *ticketRepository) GetByControlNumber(ctx context.Context, controlNumber string) (*domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE control_number=$1`
	return r.fetchSingle(ctx, query, controlNumber)
}

func (r *ticketRepository) GetByControlNumberForUpdate(ctx context.Context, controlNumber string) (*domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE control_number=$1 FOR UPDATE`
	return r.fetchSingle(ctx, query, controlNumber)
}

func (r *ticketRepository) fetchSingle(ctx context.Context, query string, arg any) (*domain.Ticket, error) {
	ticket, err := scanTicket(r.db.QueryRow(ctx, query, arg))
	if err != nil {
		return nil, err
	}
	return ticket, nil
}

func (r *ticketRepository) ListWithFilter(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error) {
	if filter.CategoryID != nil && !isRecordID(*filter.CategoryID) {
		return nil, nil
	}

	clauses := []string{"1=1"}
	args := []any{}

	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, status := range filter.Statuses {
			args = append(args, string(status))
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		clauses = append(clauses, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.CategoryID != nil {
		args = append(args, *filter.CategoryID)
		clauses = append(clauses, fmt.Sprintf("category_id=$%d", len(args)))
	}
	if filter.ReportYear != nil {
		args = append(args, *filter.ReportYear)
		clauses = append(clauses, fmt.Sprintf("report_year=$%d", len(args)))
	}
	if filter.ReportMonth != nil {
		args = append(args, *filter.ReportMonth)
		clauses = append(clauses, fmt.Sprintf("report_month=$%d", len(args)))
	}
	if filter.SearchTerm != nil && strings.TrimSpace(*filter.SearchTerm) != "" {
		search := "%" + strings.ToLower(strings.TrimSpace(*filter.SearchTerm)) + "%"
		args = append(args, search)
		placeholder := fmt.Sprintf("$%d", len(args))
		clauses = append(clauses, fmt.Sprintf(
			"(LOWER(description) LIKE %[1]s OR LOWER(reported_by) LIKE %[1]s OR LOWER(control_number) LIKE %[1]s)", placeholder))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	query := fmt.Sprintf(`SELECT %s FROM tickets WHERE %s ORDER BY received_at DESC, control_number DESC LIMIT %d OFFSET %d`,
		ticketColumns, strings.Join(clauses, " AND "), limit, offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Ticket
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *ticket)
	}
	return result, rows.Err()
}

// Delete removes the ticket; remarks, asset metadata and history cascade.
func (r *ticketRepository) Delete(ctx context.Context, id string) error {
	cmd, err := r.db.Exec(ctx, `DELETE FROM tickets WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func scanTicket(row pgx.Row) (*domain.Ticket, error) {
	var (
		ticket domain.Ticket
		level  string
		status string
	)
	if err := row.Scan(
		&ticket.ID,
		&ticket.ControlNumber,
		&ticket.CategoryID,
		&ticket.Location,
		&level,
		&ticket.Description,
		&ticket.ReportedBy,
		&ticket.EndUser,
		&status,
		&ticket.ReceivedAt,
		&ticket.AccomplishedAt,
		&ticket.TargetDate,
		&ticket.ReportYear,
		&ticket.ReportMonth,
		&ticket.FileURL,
		&ticket.CreatedAt,
		&ticket.UpdatedAt,
	); err != nil {
		return nil, err
	}
	ticket.LevelOfRepair = domain.LevelOfRepair(level)
	ticket.Status = domain.TicketStatus(status)
	return &ticket, nil
}
