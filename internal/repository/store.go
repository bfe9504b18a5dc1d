package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is the query surface shared by *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repositories bundles every record repository bound to one connection or
// transaction.
type Repositories struct {
	Tickets    TicketRepository
	Remarks    RemarkRepository
	Assets     AssetRepository
	Categories CategoryRepository
	Locations  LocationRepository
	History    TicketHistoryRepository
	Sequences  SequenceRepository
}

// Store hands out repositories and runs units of work atomically.
type Store interface {
	Repositories() Repositories
	// WithinTx runs fn against repositories bound to a single transaction.
	// A non-nil error from fn rolls everything back.
	WithinTx(ctx context.Context, fn func(Repositories) error) error
	Ping(ctx context.Context) error
}

// uniqueViolation is the SQLSTATE for unique_violation.
const uniqueViolation = "23505"

// IsUniqueViolation reports whether err came from a unique constraint.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// IsNotFound reports whether err means the record does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// isRecordID reports whether id can match a uuid primary key. Anything else
// would make Postgres fail with invalid_text_representation.
func isRecordID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// TxBeginner is a DBTX that can open transactions. *pgxpool.Pool satisfies it.
type TxBeginner interface {
	DBTX
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
}

// PostgresStore is the pgx-backed Store.
type PostgresStore struct {
	db TxBeginner
}

// NewPostgresStore wraps a pool.
func NewPostgresStore(db TxBeginner) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Repositories() Repositories {
	return bind(s.db)
}

func (s *PostgresStore) WithinTx(ctx context.Context, fn func(Repositories) error) (err error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
		}
	}()

	if err = fn(bind(tx)); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func bind(db DBTX) Repositories {
	return Repositories{
		Tickets:    NewTicketRepository(db),
		Remarks:    NewRemarkRepository(db),
		Assets:     NewAssetRepository(db),
		Categories: NewCategoryRepository(db),
		Locations:  NewLocationRepository(db),
		History:    NewTicketHistoryRepository(db),
		Sequences:  NewSequenceRepository(db),
	}
}
