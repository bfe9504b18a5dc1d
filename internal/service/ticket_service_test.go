package service

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/rmf-intake/internal/allocator"
	"github.com/spec-kit/rmf-intake/internal/cache"
	"github.com/spec-kit/rmf-intake/internal/clock"
	"github.com/spec-kit/rmf-intake/internal/domain"
	"github.com/spec-kit/rmf-intake/internal/events"
	"github.com/spec-kit/rmf-intake/internal/repository"
	"github.com/spec-kit/rmf-intake/internal/storage"
	"github.com/spec-kit/rmf-intake/internal/upload"
	apperrors "github.com/spec-kit/rmf-intake/pkg/util/errorutil"
)

var intakeTime = time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC)

type fixture struct {
	svc        *TicketService
	store      *repository.MemoryStore
	files      *storage.MemoryStore
	clock      *clock.FakeClock
	dispatcher events.Dispatcher
	elec       domain.Category
	plumb      domain.Category
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:      repository.NewMemoryStore(),
		files:      storage.NewMemoryStore(),
		clock:      clock.Fake(intakeTime),
		dispatcher: events.NewInMemoryDispatcher(),
	}
	ctx := context.Background()
	repos := f.store.Repositories()
	f.elec = domain.Category{Name: "Electrical", Code: "ELEC", IsActive: true}
	require.NoError(t, repos.Categories.Create(ctx, &f.elec))
	f.plumb = domain.Category{Name: "Plumbing", Code: "PLUMB", IsActive: true}
	require.NoError(t, repos.Categories.Create(ctx, &f.plumb))
	require.NoError(t, repos.Locations.Create(ctx, &domain.Location{Name: "Main Building", IsActive: true}))

	f.svc = f.service(f.store, nil)
	return f
}

func (f *fixture) service(store repository.Store, ticketCache cache.TicketCache) *TicketService {
	return NewTicketService(TicketDependencies{
		Store:      store,
		Assets:     f.files,
		Validator:  upload.NewValidator(f.files, upload.WithClock(f.clock)),
		Allocator:  allocator.New(f.store.Repositories().Categories, f.store.Repositories().Sequences, f.clock, time.UTC),
		Cache:      ticketCache,
		Dispatcher: f.dispatcher,
		Clock:      f.clock,
		Location:   time.UTC,
	})
}

func (f *fixture) create(t *testing.T, mutate ...func(*CreateTicketInput)) *domain.Ticket {
	t.Helper()
	input := CreateTicketInput{
		Description: "Flickering lights in hallway",
		Location:    "main building",
		ReportedBy:  "J. Cruz",
		CategoryID:  f.elec.ID,
	}
	for _, m := range mutate {
		m(&input)
	}
	ticket, err := f.svc.CreateTicket(context.Background(), nil, input)
	require.NoError(t, err)
	return ticket
}

func pngUpload(t *testing.T, name string) *upload.File {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(2, 2, color.RGBA{B: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	data := buf.Bytes()
	return &upload.File{Filename: name, Size: int64(len(data)), ContentType: "image/png", Body: bytes.NewReader(data)}
}

func requireCode(t *testing.T, err error, code string) *apperrors.DomainError {
	t.Helper()
	var domainErr *apperrors.DomainError
	require.ErrorAs(t, err, &domainErr)
	require.Equal(t, code, domainErr.Code, "unexpected error: %v", err)
	return domainErr
}

type failingHistory struct {
	repository.TicketHistoryRepository
}

func (failingHistory) Create(context.Context, *domain.TicketHistory) error {
	return errors.New("disk full")
}

// failingHistoryStore makes every transactional history write fail.
type failingHistoryStore struct {
	repository.Store
}

func (s failingHistoryStore) WithinTx(ctx context.Context, fn func(repository.Repositories) error) error {
	return s.Store.WithinTx(ctx, func(repos repository.Repositories) error {
		repos.History = failingHistory{repos.History}
		return fn(repos)
	})
}

func TestCreateTicket_AssignsControlNumberAndDefaults(t *testing.T) {
	f := newFixture(t)
	ticket := f.create(t, func(in *CreateTicketInput) {
		remarks := "Reported twice this week"
		in.Remarks = &remarks
		in.LevelOfRepair = "urgent"
	})

	assert.Equal(t, "RMF-ELEC-2024-03-001", ticket.ControlNumber)
	assert.Equal(t, domain.TicketStatusPending, ticket.Status)
	assert.Equal(t, domain.LevelCritical, ticket.LevelOfRepair)
	assert.Equal(t, "Main Building", ticket.Location)
	assert.Nil(t, ticket.AccomplishedAt)
	assert.Equal(t, intakeTime, ticket.ReceivedAt)
	assert.Equal(t, 2024, ticket.ReportYear)
	assert.Equal(t, 3, ticket.ReportMonth)
	require.Len(t, ticket.Remarks, 1)
	assert.Equal(t, "Reported twice this week", ticket.Remarks[0].Body)

	history, err := f.svc.TicketHistory(context.Background(), ticket.ControlNumber)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, domain.ChangeTypeCreated, history[0].ChangeType)
}

func TestCreateTicket_UnknownLocationIsKeptAsText(t *testing.T) {
	f := newFixture(t)
	ticket := f.create(t, func(in *CreateTicketInput) { in.Location = "Annex B, 2nd floor" })
	assert.Equal(t, "Annex B, 2nd floor", ticket.Location)
}

func TestCreateTicket_StoresValidatedFile(t *testing.T) {
	f := newFixture(t)
	ticket := f.create(t, func(in *CreateTicketInput) { in.File = pngUpload(t, "photo.png") })

	require.NotNil(t, ticket.Asset)
	require.NotNil(t, ticket.FileURL)
	assert.Equal(t, ticket.Asset.StoredName, *ticket.FileURL)
	assert.Equal(t, "image/png", ticket.Asset.ContentType)
	assert.Equal(t, []string{ticket.Asset.StoredName}, f.files.Names())
}

func TestCreateTicket_MissingFields(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.CreateTicket(context.Background(), nil, CreateTicketInput{LevelOfRepair: "severe", Status: "archived"})

	domainErr := requireCode(t, err, apperrors.CodeValidation)
	assert.ElementsMatch(t,
		[]string{"description", "location", "reportedBy", "item", "levelOfRepair", "status"},
		domainErr.Details["fields"])
}

func TestCreateTicket_UnknownOrInactiveCategory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	retired := domain.Category{Name: "Retired", Code: "OLD", IsActive: false}
	require.NoError(t, f.store.Repositories().Categories.Create(ctx, &retired))

	for _, id := range []string{"missing", retired.ID} {
		_, err := f.svc.CreateTicket(ctx, nil, CreateTicketInput{
			Description: "Leak", Location: "Main Building", ReportedBy: "A", CategoryID: id,
			File: pngUpload(t, "leak.png"),
		})
		requireCode(t, err, apperrors.CodeCategoryNotFound)
	}
	assert.Empty(t, f.files.Names())
}

func TestCreateTicket_RejectedFileCreatesNothing(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.CreateTicket(context.Background(), nil, CreateTicketInput{
		Description: "Leak", Location: "Main Building", ReportedBy: "A", CategoryID: f.elec.ID,
		File: &upload.File{Filename: "notes.pdf", Size: 4, ContentType: "application/pdf", Body: bytes.NewReader([]byte("%PDF"))},
	})
	domainErr := requireCode(t, err, apperrors.CodeFileRejected)
	assert.Equal(t, "InvalidFormat", domainErr.Details["reason"])

	tickets, err := f.svc.ListTickets(context.Background(), ListTicketsInput{})
	require.NoError(t, err)
	assert.Empty(t, tickets)
	assert.Empty(t, f.files.Names())
}

func TestCreateTicket_FailedInsertRemovesFile(t *testing.T) {
	f := newFixture(t)
	svc := f.service(failingHistoryStore{f.store}, nil)

	_, err := svc.CreateTicket(context.Background(), nil, CreateTicketInput{
		Description: "Leak", Location: "Main Building", ReportedBy: "A", CategoryID: f.elec.ID,
		File: pngUpload(t, "leak.png"),
	})
	require.Error(t, err)
	assert.Empty(t, f.files.Names())

	_, err = f.store.Repositories().Tickets.GetByControlNumber(context.Background(), "RMF-ELEC-2024-03-001")
	assert.True(t, repository.IsNotFound(err))
}

func TestCreateTicket_ContinuesFromExistingNumbers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, cn := range []string{"RMF-ELEC-2024-03-003", "RMF-ELEC-2024-03-004"} {
		require.NoError(t, f.store.Repositories().Tickets.Create(ctx, &domain.Ticket{
			ControlNumber: cn, CategoryID: f.elec.ID, Status: domain.TicketStatusPending,
		}))
	}

	ticket := f.create(t)
	assert.Equal(t, "RMF-ELEC-2024-03-005", ticket.ControlNumber)
}

func TestCreateTicket_RetriesWhenNumberIsTaken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	repos := f.store.Repositories()

	// Open the bucket, then plant the number the counter will issue next.
	_, err := repos.Sequences.Next(ctx, 2024, 3)
	require.NoError(t, err)
	require.NoError(t, repos.Tickets.Create(ctx, &domain.Ticket{
		ControlNumber: "RMF-ELEC-2024-03-002", CategoryID: f.elec.ID, Status: domain.TicketStatusPending,
	}))

	ticket := f.create(t)
	assert.Equal(t, "RMF-ELEC-2024-03-003", ticket.ControlNumber)
}

func TestCreateTicket_ConcurrentIntakeGetsDistinctNumbers(t *testing.T) {
	f := newFixture(t)
	const callers = 50

	results := make(chan string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			categoryID := f.elec.ID
			if i%2 == 1 {
				categoryID = f.plumb.ID
			}
			ticket, err := f.svc.CreateTicket(context.Background(), nil, CreateTicketInput{
				Description: "Concurrent", Location: "Main Building", ReportedBy: "Load", CategoryID: categoryID,
			})
			if assert.NoError(t, err) {
				results <- ticket.ControlNumber
			}
		}(i)
	}
	wg.Wait()
	close(results)

	seen := map[int64]bool{}
	for cn := range results {
		parsed, err := domain.ParseControlNumber(cn)
		require.NoError(t, err)
		assert.False(t, seen[parsed.Sequence], "sequence %d issued twice", parsed.Sequence)
		seen[parsed.Sequence] = true
	}
	assert.Len(t, seen, callers)
	for seq := int64(1); seq <= callers; seq++ {
		assert.True(t, seen[seq], "sequence %d missing", seq)
	}
}

func TestCreateTicket_CompletedStampsAccomplishedDate(t *testing.T) {
	f := newFixture(t)
	ticket := f.create(t, func(in *CreateTicketInput) { in.Status = "Completed" })
	require.NotNil(t, ticket.AccomplishedAt)
	assert.Equal(t, intakeTime, *ticket.AccomplishedAt)

	explicit := intakeTime.Add(-time.Hour)
	_, err := f.svc.CreateTicket(context.Background(), nil, CreateTicketInput{
		Description: "x", Location: "y", ReportedBy: "z", CategoryID: f.elec.ID, DateAccomplished: &explicit,
	})
	requireCode(t, err, apperrors.CodeValidation)
}

func TestUpdateTicket_ReplacesFileAfterCommit(t *testing.T) {
	f := newFixture(t)
	original := f.create(t, func(in *CreateTicketInput) { in.File = pngUpload(t, "before.png") })
	oldName := original.Asset.StoredName

	f.clock.Advance(time.Minute)
	updated, err := f.svc.UpdateTicket(context.Background(), &Actor{StaffID: "staff-1", Role: domain.StaffRoleStaff},
		original.ControlNumber, UpdateTicketInput{File: pngUpload(t, "after.png")})
	require.NoError(t, err)

	require.NotNil(t, updated.Asset)
	newName := updated.Asset.StoredName
	assert.NotEqual(t, oldName, newName)
	assert.Equal(t, []string{newName}, f.files.Names())
	assert.Equal(t, original.ControlNumber, updated.ControlNumber)

	history, err := f.svc.TicketHistory(context.Background(), original.ControlNumber)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, domain.ChangeTypeFile, history[1].ChangeType)
	require.NotNil(t, history[1].ChangedBy)
	assert.Equal(t, "staff-1", *history[1].ChangedBy)
}

func TestUpdateTicket_FailedUpdateKeepsOldFile(t *testing.T) {
	f := newFixture(t)
	original := f.create(t, func(in *CreateTicketInput) { in.File = pngUpload(t, "before.png") })
	failing := f.service(failingHistoryStore{f.store}, nil)

	f.clock.Advance(time.Minute)
	_, err := failing.UpdateTicket(context.Background(), nil, original.ControlNumber,
		UpdateTicketInput{File: pngUpload(t, "after.png")})
	require.Error(t, err)

	assert.Equal(t, []string{original.Asset.StoredName}, f.files.Names())
	reloaded, err := f.svc.GetTicket(context.Background(), original.ControlNumber)
	require.NoError(t, err)
	assert.Equal(t, original.Asset.StoredName, reloaded.Asset.StoredName)
}

func TestUpdateTicket_CategoryChangeKeepsControlNumber(t *testing.T) {
	f := newFixture(t)
	original := f.create(t)

	updated, err := f.svc.UpdateTicket(context.Background(), nil, original.ControlNumber,
		UpdateTicketInput{CategoryID: &f.plumb.ID})
	require.NoError(t, err)
	assert.Equal(t, "RMF-ELEC-2024-03-001", updated.ControlNumber)
	assert.Equal(t, f.plumb.ID, updated.CategoryID)
	require.NotNil(t, updated.Category)
	assert.Equal(t, "PLUMB", updated.Category.Code)

	history, err := f.svc.TicketHistory(context.Background(), original.ControlNumber)
	require.NoError(t, err)
	assert.Equal(t, domain.ChangeTypeCategory, history[len(history)-1].ChangeType)
}

func TestUpdateTicket_RejectsBlankRequiredFields(t *testing.T) {
	f := newFixture(t)
	original := f.create(t)
	blank := "  "

	_, err := f.svc.UpdateTicket(context.Background(), nil, original.ControlNumber,
		UpdateTicketInput{Description: &blank, ReportedBy: &blank})
	domainErr := requireCode(t, err, apperrors.CodeValidation)
	assert.ElementsMatch(t, []string{"description", "reportedBy"}, domainErr.Details["fields"])
}

func TestUpdateTicket_UnknownTicket(t *testing.T) {
	f := newFixture(t)
	status := "Completed"
	_, err := f.svc.UpdateTicket(context.Background(), nil, "RMF-ELEC-2024-03-999", UpdateTicketInput{Status: &status})
	requireCode(t, err, apperrors.CodeNotFound)
}

func TestUpdateStatus_StampsAndClearsAccomplishedDate(t *testing.T) {
	f := newFixture(t)
	original := f.create(t)
	ctx := context.Background()

	var published []events.Event
	f.dispatcher.Subscribe(events.EventTicketStatusChanged, func(_ context.Context, e events.Event) error {
		published = append(published, e)
		return nil
	})

	f.clock.Advance(48 * time.Hour)
	completed, err := f.svc.UpdateStatus(ctx, nil, original.ControlNumber, "completed", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusCompleted, completed.Status)
	require.NotNil(t, completed.AccomplishedAt)
	assert.Equal(t, intakeTime.Add(48*time.Hour), *completed.AccomplishedAt)

	f.clock.Advance(time.Hour)
	reopened, err := f.svc.UpdateStatus(ctx, nil, original.ControlNumber, "In Progress", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusInProgress, reopened.Status)
	assert.Nil(t, reopened.AccomplishedAt)

	_, err = f.svc.UpdateStatus(ctx, nil, original.ControlNumber, "", nil)
	requireCode(t, err, apperrors.CodeValidation)

	require.Len(t, published, 2)
	payload, ok := published[0].Payload.(events.TicketStatusChangedPayload)
	require.True(t, ok)
	assert.Equal(t, domain.TicketStatusPending, payload.OldStatus)
	assert.Equal(t, domain.TicketStatusCompleted, payload.NewStatus)
}

func TestUpdateStatus_ExplicitAccomplishedDate(t *testing.T) {
	f := newFixture(t)
	original := f.create(t)
	ctx := context.Background()

	explicit := intakeTime.Add(6 * time.Hour)
	completed, err := f.svc.UpdateStatus(ctx, nil, original.ControlNumber, "Completed", &explicit)
	require.NoError(t, err)
	require.NotNil(t, completed.AccomplishedAt)
	assert.Equal(t, explicit, *completed.AccomplishedAt)

	_, err = f.svc.UpdateStatus(ctx, nil, original.ControlNumber, "Pending", &explicit)
	requireCode(t, err, apperrors.CodeValidation)
}

func TestRemarks_AppendInOrderAndEdit(t *testing.T) {
	f := newFixture(t)
	original := f.create(t)
	ctx := context.Background()

	var ids []string
	for _, body := range []string{"first", "second", "third"} {
		f.clock.Advance(time.Minute)
		remark, err := f.svc.AddRemark(ctx, nil, original.ControlNumber, body, nil)
		require.NoError(t, err)
		ids = append(ids, remark.ID)
	}

	f.clock.Advance(time.Minute)
	edited, err := f.svc.EditRemark(ctx, &Actor{StaffID: "staff-2"}, original.ControlNumber, ids[0], "first, corrected")
	require.NoError(t, err)
	assert.Equal(t, "first, corrected", edited.Body)
	require.NotNil(t, edited.UpdatedAt)

	ticket, err := f.svc.GetTicket(ctx, original.ControlNumber)
	require.NoError(t, err)
	require.Len(t, ticket.Remarks, 3)
	assert.Equal(t, []string{"first, corrected", "second", "third"},
		[]string{ticket.Remarks[0].Body, ticket.Remarks[1].Body, ticket.Remarks[2].Body})
	assert.Equal(t, "third", ticket.CurrentRemark().Body)

	history, err := f.svc.TicketHistory(ctx, original.ControlNumber)
	require.NoError(t, err)
	assert.Equal(t, domain.ChangeTypeRemarkEdit, history[len(history)-1].ChangeType)

	_, err = f.svc.AddRemark(ctx, nil, original.ControlNumber, "   ", nil)
	requireCode(t, err, apperrors.CodeValidation)
	_, err = f.svc.EditRemark(ctx, nil, original.ControlNumber, "no-such-remark", "x")
	requireCode(t, err, apperrors.CodeNotFound)
}

func TestListTickets_SummariesCarryCurrentRemark(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.create(t)
	f.clock.Advance(time.Hour)
	second := f.create(t, func(in *CreateTicketInput) { in.CategoryID = f.plumb.ID })
	_, err := f.svc.AddRemark(ctx, nil, first.ControlNumber, "waiting on parts", nil)
	require.NoError(t, err)

	summaries, err := f.svc.ListTickets(ctx, ListTicketsInput{})
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	assert.Equal(t, second.ControlNumber, summaries[0].Ticket.ControlNumber)
	assert.Nil(t, summaries[0].CurrentRemark)
	require.NotNil(t, summaries[1].CurrentRemark)
	assert.Equal(t, "waiting on parts", summaries[1].CurrentRemark.Body)

	filtered, err := f.svc.ListTickets(ctx, ListTicketsInput{CategoryID: f.plumb.ID})
	require.NoError(t, err)
	require.Len(t, filtered, 1)

	_, err = f.svc.ListTickets(ctx, ListTicketsInput{Status: "lost"})
	requireCode(t, err, apperrors.CodeValidation)
}

func TestDeleteTicket_RemovesRecordRemarksAndFile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ticket := f.create(t, func(in *CreateTicketInput) { in.File = pngUpload(t, "photo.png") })
	_, err := f.svc.AddRemark(ctx, nil, ticket.ControlNumber, "note", nil)
	require.NoError(t, err)

	require.NoError(t, f.svc.DeleteTicket(ctx, &Actor{StaffID: "admin-1", Role: domain.StaffRoleAdmin}, ticket.ControlNumber))

	_, err = f.svc.GetTicket(ctx, ticket.ControlNumber)
	requireCode(t, err, apperrors.CodeNotFound)
	assert.Empty(t, f.files.Names())
	remarks, err := f.store.Repositories().Remarks.ListByTicket(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Empty(t, remarks)

	err = f.svc.DeleteTicket(ctx, nil, ticket.ControlNumber)
	requireCode(t, err, apperrors.CodeNotFound)
}

func TestDeletedNumbersAreNotReissued(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.create(t)
	require.NoError(t, f.svc.DeleteTicket(ctx, nil, first.ControlNumber))

	second := f.create(t)
	assert.Equal(t, "RMF-ELEC-2024-03-002", second.ControlNumber)
}

func TestGetTicket_CacheIsInvalidatedOnWrite(t *testing.T) {
	f := newFixture(t)
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	f.svc = f.service(f.store, cache.NewRedisTicketCache(client, time.Minute, nil))
	ctx := context.Background()

	ticket := f.create(t)
	fetched, err := f.svc.GetTicket(ctx, ticket.ControlNumber)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusPending, fetched.Status)
	assert.True(t, server.Exists("rmf:ticket:"+ticket.ControlNumber))

	_, err = f.svc.UpdateStatus(ctx, nil, ticket.ControlNumber, "Completed", nil)
	require.NoError(t, err)
	assert.False(t, server.Exists("rmf:ticket:"+ticket.ControlNumber))

	fetched, err = f.svc.GetTicket(ctx, ticket.ControlNumber)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusCompleted, fetched.Status)
}

func TestOpenAsset(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ticket := f.create(t, func(in *CreateTicketInput) { in.File = pngUpload(t, "photo.png") })

	rc, asset, err := f.svc.OpenAsset(ctx, ticket.Asset.StoredName)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, asset.SizeBytes, int64(len(data)))
	assert.Equal(t, "image/png", asset.ContentType)

	for _, name := range []string{"../etc/passwd", "unknown.png", ""} {
		_, _, err := f.svc.OpenAsset(ctx, name)
		requireCode(t, err, apperrors.CodeNotFound)
	}
}
