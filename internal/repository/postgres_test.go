package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/rmf-intake/internal/domain"
)

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		mock.Close()
	})
	return mock
}

var ticketColumnNames = []string{
	"id", "control_number", "category_id", "location", "level_of_repair", "description", "reported_by", "end_user",
	"status", "received_at", "accomplished_at", "target_date", "report_year", "report_month", "file_url",
	"created_at", "updated_at",
}

func TestTicketRepository_Create(t *testing.T) {
	mock := newMock(t)
	repo := NewTicketRepository(mock)
	now := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)

	ticket := &domain.Ticket{ControlNumber: "RMF-ELEC-2024-03-001", CategoryID: "cat-1", Status: domain.TicketStatusPending}
	ticket.SetReceivedAt(now, time.UTC)

	args := make([]any, 14)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	args[0] = "RMF-ELEC-2024-03-001"
	mock.ExpectQuery("INSERT INTO tickets").
		WithArgs(args...).
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow("t-1", now, now))

	require.NoError(t, repo.Create(context.Background(), ticket))
	assert.Equal(t, "t-1", ticket.ID)
	assert.Equal(t, now, ticket.CreatedAt)
}

func TestTicketRepository_GetByControlNumber(t *testing.T) {
	mock := newMock(t)
	repo := NewTicketRepository(mock)
	received := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)
	endUser := "Room 12"

	mock.ExpectQuery("SELECT .* FROM tickets WHERE control_number").
		WithArgs("RMF-ELEC-2024-03-001").
		WillReturnRows(pgxmock.NewRows(ticketColumnNames).AddRow(
			"t-1", "RMF-ELEC-2024-03-001", "cat-1", "Main Hall", "Major", "sparks", "Dana", &endUser,
			"In Progress", received, (*time.Time)(nil), (*time.Time)(nil), 2024, 3, (*string)(nil),
			received, received,
		))

	ticket, err := repo.GetByControlNumber(context.Background(), "RMF-ELEC-2024-03-001")
	require.NoError(t, err)
	assert.Equal(t, domain.LevelMajor, ticket.LevelOfRepair)
	assert.Equal(t, domain.TicketStatusInProgress, ticket.Status)
	require.NotNil(t, ticket.EndUser)
	assert.Equal(t, "Room 12", *ticket.EndUser)
	assert.Nil(t, ticket.AccomplishedAt)
	assert.Equal(t, 3, ticket.ReportMonth)
}

func TestTicketRepository_GetByControlNumberMissing(t *testing.T) {
	mock := newMock(t)
	repo := NewTicketRepository(mock)

	mock.ExpectQuery("SELECT .* FROM tickets WHERE control_number").
		WithArgs("RMF-ELEC-2024-03-404").
		WillReturnError(pgx.ErrNoRows)

	_, err := repo.GetByControlNumber(context.Background(), "RMF-ELEC-2024-03-404")
	assert.True(t, IsNotFound(err))
}

func TestTicketRepository_DeleteMissing(t *testing.T) {
	mock := newMock(t)
	repo := NewTicketRepository(mock)

	mock.ExpectExec("DELETE FROM tickets").
		WithArgs("t-404").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	assert.ErrorIs(t, repo.Delete(context.Background(), "t-404"), pgx.ErrNoRows)
}

func TestSequenceRepository_Next(t *testing.T) {
	mock := newMock(t)
	repo := NewSequenceRepository(mock)

	mock.ExpectQuery("INSERT INTO control_number_sequences").
		WithArgs(2024, 3, "RMF-%-2024-03-%").
		WillReturnRows(pgxmock.NewRows([]string{"last_value"}).AddRow(int64(5)))

	next, err := repo.Next(context.Background(), 2024, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(5), next)
}

func TestRemarkRepository_UpdateBodyMissing(t *testing.T) {
	mock := newMock(t)
	repo := NewRemarkRepository(mock)
	now := time.Now()

	remarkID := "9b2f6c1e-2d4a-4c8e-9f3b-5a6d7e8f9012"

	mock.ExpectExec("UPDATE remarks SET body").
		WithArgs("edited", &now, remarkID, "t-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := repo.UpdateBody(context.Background(), &domain.Remark{ID: remarkID, TicketID: "t-1", Body: "edited", UpdatedAt: &now})
	assert.True(t, IsNotFound(err))
}

func TestTicketRepository_GetByControlNumberForUpdateLocksRow(t *testing.T) {
	mock := newMock(t)
	repo := NewTicketRepository(mock)
	received := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`FROM tickets WHERE control_number=\$1 FOR UPDATE`).
		WithArgs("RMF-ELEC-2024-03-001").
		WillReturnRows(pgxmock.NewRows(ticketColumnNames).AddRow(
			"t-1", "RMF-ELEC-2024-03-001", "cat-1", "Main Hall", "", "sparks", "Dana", (*string)(nil),
			"Pending", received, (*time.Time)(nil), (*time.Time)(nil), 2024, 3, (*string)(nil),
			received, received,
		))

	ticket, err := repo.GetByControlNumberForUpdate(context.Background(), "RMF-ELEC-2024-03-001")
	require.NoError(t, err)
	assert.Equal(t, "t-1", ticket.ID)
}

func TestRepositories_MalformedIDsAreNotFound(t *testing.T) {
	ctx := context.Background()

	for _, id := range []string{"ELEC", "not-a-uuid", ""} {
		t.Run("category "+id, func(t *testing.T) {
			repo := NewCategoryRepository(newMock(t))
			_, err := repo.GetByID(ctx, id)
			assert.True(t, IsNotFound(err))
			assert.True(t, IsNotFound(repo.Update(ctx, &domain.Category{ID: id, Name: "Electrical", Code: "ELEC"})))
		})
		t.Run("remark "+id, func(t *testing.T) {
			repo := NewRemarkRepository(newMock(t))
			_, err := repo.GetByID(ctx, "t-1", id)
			assert.True(t, IsNotFound(err))
			assert.True(t, IsNotFound(repo.UpdateBody(ctx, &domain.Remark{ID: id, TicketID: "t-1", Body: "edited"})))
		})
	}
}

func TestTicketRepository_ListWithMalformedCategoryIsEmpty(t *testing.T) {
	repo := NewTicketRepository(newMock(t))
	category := "ELEC"

	tickets, err := repo.ListWithFilter(context.Background(), TicketFilter{CategoryID: &category})
	require.NoError(t, err)
	assert.Empty(t, tickets)
}

func TestCategoryRepository_GetByIDQueriesValidID(t *testing.T) {
	mock := newMock(t)
	repo := NewCategoryRepository(mock)
	id := "3f1c2b4a-8d7e-4f6a-9b0c-1d2e3f4a5b6c"
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery("FROM categories WHERE id").
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "code", "is_active", "created_at", "updated_at"}).
			AddRow(id, "Electrical", "ELEC", true, now, now))

	category, err := repo.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "ELEC", category.Code)
}

func TestRemarkRepository_LatestByTicketsEmpty(t *testing.T) {
	mock := newMock(t)
	repo := NewRemarkRepository(mock)

	latest, err := repo.LatestByTickets(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, latest)
}

func TestHistoryRepository_ListByTicket(t *testing.T) {
	mock := newMock(t)
	repo := NewTicketHistoryRepository(mock)
	at := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery("FROM ticket_history WHERE ticket_id").
		WithArgs("t-1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "ticket_id", "changed_by", "change_type", "old_value", "new_value", "created_at"}).
			AddRow("h-1", "t-1", (*string)(nil), "STATUS_CHANGE",
				map[string]any{"status": "Pending"}, map[string]any{"status": "Completed"}, at))

	entries, err := repo.ListByTicket(context.Background(), "t-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.ChangeTypeStatus, entries[0].ChangeType)
	assert.Equal(t, "Completed", entries[0].NewValue["status"])
}

func TestPostgresStore_WithinTxCommits(t *testing.T) {
	mock := newMock(t)
	store := NewPostgresStore(mock)

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO control_number_sequences").
		WithArgs(2024, 3, "RMF-%-2024-03-%").
		WillReturnRows(pgxmock.NewRows([]string{"last_value"}).AddRow(int64(1)))
	mock.ExpectCommit()

	err := store.WithinTx(context.Background(), func(repos Repositories) error {
		_, err := repos.Sequences.Next(context.Background(), 2024, 3)
		return err
	})
	require.NoError(t, err)
}

func TestPostgresStore_WithinTxRollsBack(t *testing.T) {
	mock := newMock(t)
	store := NewPostgresStore(mock)
	boom := errors.New("boom")

	mock.ExpectBegin()
	mock.ExpectRollback()

	err := store.WithinTx(context.Background(), func(Repositories) error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestPostgresStore_BeginFails(t *testing.T) {
	mock := newMock(t)
	store := NewPostgresStore(mock)

	mock.ExpectBegin().WillReturnError(errors.New("pool exhausted"))

	called := false
	err := store.WithinTx(context.Background(), func(Repositories) error {
		called = true
		return nil
	})
	require.Error(t, err)
	assert.False(t, called)
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, IsUniqueViolation(&pgconn.PgError{Code: "23505"}))
	assert.False(t, IsUniqueViolation(&pgconn.PgError{Code: "23503"}))
	assert.False(t, IsUniqueViolation(errors.New("23505")))
}
