package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

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

const defaultAllocationAttempts = 5

// Recorder receives intake counters.
type Recorder interface {
	TicketCreated(category string)
	UploadRejected(reason string)
}

type noopRecorder struct{}

func (noopRecorder) TicketCreated(string)  {}
func (noopRecorder) UploadRejected(string) {}

// TicketService owns the ticket lifecycle: intake, staff updates, remarks and
// deletion. Stored files and records are kept consistent by writing a new
// file before the record commits and deleting an old one only after.
type TicketService struct {
	store       repository.Store
	assets      storage.AssetStore
	validator   *upload.Validator
	allocator   *allocator.Allocator
	cache       cache.TicketCache
	dispatcher  events.Dispatcher
	clock       clock.Clock
	location    *time.Location
	logger      *zap.Logger
	metrics     Recorder
	maxAttempts int
}

// TicketDependencies bundles collaborators for the ticket service.
type TicketDependencies struct {
	Store                 repository.Store
	Assets                storage.AssetStore
	Validator             *upload.Validator
	Allocator             *allocator.Allocator
	Cache                 cache.TicketCache
	Dispatcher            events.Dispatcher
	Clock                 clock.Clock
	Location              *time.Location
	Logger                *zap.Logger
	Metrics               Recorder
	MaxAllocationAttempts int
}

// Actor is the caller behind a mutation. A nil *Actor is anonymous intake.
type Actor struct {
	StaffID string
	Role    domain.StaffRole
}

// CreateTicketInput describes ticket intake. Enum fields carry the raw client
// value and are validated here.
type CreateTicketInput struct {
	Description      string
	Location         string
	ReportedBy       string
	CategoryID       string
	EndUser          *string
	LevelOfRepair    string
	Remarks          *string
	Status           string
	TargetDate       *time.Time
	DateReceived     *time.Time
	DateAccomplished *time.Time
	File             *upload.File
}

// ListTicketsInput describes list filters.
type ListTicketsInput struct {
	Status      string
	CategoryID  string
	ReportYear  *int
	ReportMonth *int
	Search      string
	Page        int
	PageSize    int
}

// TicketSummary is a list row: the ticket plus its current remark.
type TicketSummary struct {
	Ticket        domain.Ticket
	CurrentRemark *domain.Remark
}

// NewTicketService constructs the service.
func NewTicketService(deps TicketDependencies) *TicketService {
	s := &TicketService{
		store:       deps.Store,
		assets:      deps.Assets,
		validator:   deps.Validator,
		allocator:   deps.Allocator,
		cache:       deps.Cache,
		dispatcher:  deps.Dispatcher,
		clock:       deps.Clock,
		location:    deps.Location,
		logger:      deps.Logger,
		metrics:     deps.Metrics,
		maxAttempts: deps.MaxAllocationAttempts,
	}
	if s.cache == nil {
		s.cache = cache.Noop{}
	}
	if s.clock == nil {
		s.clock = clock.Real()
	}
	if s.location == nil {
		s.location = time.UTC
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.metrics == nil {
		s.metrics = noopRecorder{}
	}
	if s.maxAttempts <= 0 {
		s.maxAttempts = defaultAllocationAttempts
	}
	return s
}

// CreateTicket validates the input and any attached file, mints a control
// number and persists the ticket with its seed remark, asset metadata and
// history in one transaction.
func (s *TicketService) CreateTicket(ctx context.Context, actor *Actor, input CreateTicketInput) (*domain.Ticket, error) {
	var missing []string
	description := strings.TrimSpace(input.Description)
	if description == "" {
		missing = append(missing, "description")
	}
	locationRef := strings.TrimSpace(input.Location)
	if locationRef == "" {
		missing = append(missing, "location")
	}
	reportedBy := strings.TrimSpace(input.ReportedBy)
	if reportedBy == "" {
		missing = append(missing, "reportedBy")
	}
	categoryID := strings.TrimSpace(input.CategoryID)
	if categoryID == "" {
		missing = append(missing, "item")
	}
	level, ok := domain.ParseLevelOfRepair(input.LevelOfRepair)
	if !ok {
		missing = append(missing, "levelOfRepair")
	}
	status := domain.TicketStatusPending
	if strings.TrimSpace(input.Status) != "" {
		if status, ok = domain.ParseTicketStatus(input.Status); !ok {
			missing = append(missing, "status")
		}
	}
	if len(missing) > 0 {
		return nil, apperrors.NewValidationError("missing or invalid fields", missing)
	}

	now := s.clock.Now()
	accomplishedAt, err := accomplishedAfter(domain.TicketStatusPending, nil, status, input.DateAccomplished, now)
	if err != nil {
		return nil, err
	}

	repos := s.store.Repositories()
	category, err := s.activeCategory(ctx, repos, categoryID)
	if err != nil {
		return nil, err
	}
	location, err := s.resolveLocation(ctx, repos, locationRef)
	if err != nil {
		return nil, err
	}

	ticket := &domain.Ticket{
		CategoryID:     category.ID,
		Location:       location,
		LevelOfRepair:  level,
		Description:    description,
		ReportedBy:     reportedBy,
		EndUser:        trimmedOrNil(input.EndUser),
		Status:         status,
		AccomplishedAt: accomplishedAt,
		TargetDate:     input.TargetDate,
	}
	receivedAt := now
	if input.DateReceived != nil {
		receivedAt = *input.DateReceived
	}
	ticket.SetReceivedAt(receivedAt, s.location)

	asset, err := s.acceptFile(ctx, input.File)
	if err != nil {
		return nil, err
	}
	if asset != nil {
		ticket.FileURL = &asset.StoredName
	}

	var seed *domain.Remark
	if body := trimmedOrNil(input.Remarks); body != nil {
		seed = &domain.Remark{Body: *body, AddedBy: actorID(actor), CreatedAt: now}
	}

	err = s.insertWithControlNumber(ctx, ticket, func(repos repository.Repositories) error {
		if seed != nil {
			seed.TicketID = ticket.ID
			if err := repos.Remarks.Create(ctx, seed); err != nil {
				return fmt.Errorf("create seed remark: %w", err)
			}
		}
		if asset != nil {
			asset.TicketID = ticket.ID
			if err := repos.Assets.Upsert(ctx, asset); err != nil {
				return fmt.Errorf("save asset metadata: %w", err)
			}
		}
		return repos.History.Create(ctx, &domain.TicketHistory{
			TicketID:   ticket.ID,
			ChangedBy:  actorID(actor),
			ChangeType: domain.ChangeTypeCreated,
			NewValue: map[string]any{
				"control_number": ticket.ControlNumber,
				"status":         string(ticket.Status),
				"category_id":    ticket.CategoryID,
			},
			CreatedAt: now,
		})
	})
	if err != nil {
		if asset != nil {
			s.removeFile(ctx, asset.StoredName, "discard upload of failed intake")
		}
		return nil, err
	}

	ticket.Category = category
	ticket.Asset = asset
	if seed != nil {
		ticket.Remarks = []domain.Remark{*seed}
	}

	s.logger.Info("ticket created",
		zap.String("control_number", ticket.ControlNumber),
		zap.String("category", category.Code),
		zap.Bool("has_file", asset != nil))
	s.metrics.TicketCreated(category.Code)
	s.publishEvent(ctx, actor, ticket, events.EventTicketCreated, events.TicketCreatedPayload{
		CategoryCode:  category.Code,
		Location:      ticket.Location,
		LevelOfRepair: ticket.LevelOfRepair,
		Status:        ticket.Status,
		ReportedBy:    ticket.ReportedBy,
		HasFile:       asset != nil,
	})
	return ticket, nil
}

// insertWithControlNumber allocates a control number and inserts the ticket,
// running extra inside the same transaction. A unique violation means the
// number was taken by a row the counter did not know about; the next attempt
// draws a fresh number.
func (s *TicketService) insertWithControlNumber(ctx context.Context, ticket *domain.Ticket, extra func(repository.Repositories) error) error {
	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		controlNumber, err := s.allocator.Allocate(ctx, ticket.CategoryID)
		if err != nil {
			if errors.Is(err, allocator.ErrCategoryNotFound) {
				return apperrors.NewCategoryNotFound(ticket.CategoryID)
			}
			return fmt.Errorf("allocate control number: %w", err)
		}
		ticket.ControlNumber = controlNumber

		err = s.store.WithinTx(ctx, func(repos repository.Repositories) error {
			if err := repos.Tickets.Create(ctx, ticket); err != nil {
				return err
			}
			return extra(repos)
		})
		if err == nil {
			return nil
		}
		if !repository.IsUniqueViolation(err) {
			return fmt.Errorf("create ticket: %w", err)
		}
		lastErr = err
		s.logger.Warn("control number collision, retrying",
			zap.String("control_number", controlNumber),
			zap.Int("attempt", attempt))
	}
	return fmt.Errorf("create ticket after %d attempts: %w", s.maxAttempts, lastErr)
}

// GetTicket returns the ticket with its remarks, asset and category.
func (s *TicketService) GetTicket(ctx context.Context, controlNumber string) (*domain.Ticket, error) {
	if cached, ok := s.cache.Get(ctx, controlNumber); ok {
		return cached, nil
	}
	ticket, err := s.loadTicket(ctx, s.store.Repositories(), controlNumber)
	if err != nil {
		return nil, err
	}
	s.cache.Set(ctx, ticket)
	return ticket, nil
}

// ListTickets returns a page of tickets, newest received first.
func (s *TicketService) ListTickets(ctx context.Context, input ListTicketsInput) ([]TicketSummary, error) {
	filter := repository.TicketFilter{
		ReportYear:  input.ReportYear,
		ReportMonth: input.ReportMonth,
	}
	if raw := strings.TrimSpace(input.Status); raw != "" {
		status, ok := domain.ParseTicketStatus(raw)
		if !ok {
			return nil, apperrors.NewValidationError("invalid status filter", []string{"status"})
		}
		filter.Statuses = []domain.TicketStatus{status}
	}
	if input.ReportMonth != nil && (*input.ReportMonth < 1 || *input.ReportMonth > 12) {
		return nil, apperrors.NewValidationError("invalid report month", []string{"reportMonth"})
	}
	if id := strings.TrimSpace(input.CategoryID); id != "" {
		filter.CategoryID = &id
	}
	if term := strings.TrimSpace(input.Search); term != "" {
		filter.SearchTerm = &term
	}
	filter.Limit, filter.Offset = paginate(input.Page, input.PageSize)

	repos := s.store.Repositories()
	tickets, err := repos.Tickets.ListWithFilter(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list tickets: %w", err)
	}
	ids := make([]string, len(tickets))
	for i := range tickets {
		ids[i] = tickets[i].ID
	}
	latest, err := repos.Remarks.LatestByTickets(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load current remarks: %w", err)
	}

	result := make([]TicketSummary, 0, len(tickets))
	for _, ticket := range tickets {
		summary := TicketSummary{Ticket: ticket}
		if remark, ok := latest[ticket.ID]; ok {
			remark := remark
			summary.CurrentRemark = &remark
		}
		result = append(result, summary)
	}
	return result, nil
}

// TicketHistory lists audit entries oldest first.
func (s *TicketService) TicketHistory(ctx context.Context, controlNumber string) ([]domain.TicketHistory, error) {
	repos := s.store.Repositories()
	ticket, err := s.findTicket(ctx, repos, controlNumber)
	if err != nil {
		return nil, err
	}
	history, err := repos.History.ListByTicket(ctx, ticket.ID)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	return history, nil
}

// DeleteTicket removes the ticket with its remarks, history and asset
// metadata, then deletes the stored file.
func (s *TicketService) DeleteTicket(ctx context.Context, actor *Actor, controlNumber string) error {
	var (
		ticket   *domain.Ticket
		fileName string
		remarks  int
	)
	err := s.store.WithinTx(ctx, func(repos repository.Repositories) error {
		var err error
		ticket, err = s.lockTicket(ctx, repos, controlNumber)
		if err != nil {
			return err
		}
		asset, err := repos.Assets.GetByTicket(ctx, ticket.ID)
		switch {
		case err == nil:
			fileName = asset.StoredName
		case repository.IsNotFound(err):
			if ticket.FileURL != nil {
				fileName = *ticket.FileURL
			}
		default:
			return fmt.Errorf("load asset: %w", err)
		}
		existing, err := repos.Remarks.ListByTicket(ctx, ticket.ID)
		if err != nil {
			return fmt.Errorf("count remarks: %w", err)
		}
		remarks = len(existing)
		if err := repos.Tickets.Delete(ctx, ticket.ID); err != nil {
			return fmt.Errorf("delete ticket: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if fileName != "" {
		s.removeFile(ctx, fileName, "delete asset of removed ticket")
	}
	s.cache.Invalidate(ctx, controlNumber)

	s.logger.Info("ticket deleted", zap.String("control_number", controlNumber), zap.Int("remarks", remarks))
	s.publishEvent(ctx, actor, ticket, events.EventTicketDeleted, events.TicketDeletedPayload{
		RemarksRemoved: remarks,
		FileRemoved:    fileName != "",
	})
	return nil
}

// Location is the zone report periods and plain dates are interpreted in.
func (s *TicketService) Location() *time.Location {
	return s.location
}

func (s *TicketService) findTicket(ctx context.Context, repos repository.Repositories, controlNumber string) (*domain.Ticket, error) {
	ticket, err := repos.Tickets.GetByControlNumber(ctx, strings.TrimSpace(controlNumber))
	return ticketOrNotFound(ticket, err, controlNumber)
}

// lockTicket loads the ticket and holds its row lock until the transaction
// ends. Mutations read the ticket through it before touching its asset.
func (s *TicketService) lockTicket(ctx context.Context, repos repository.Repositories, controlNumber string) (*domain.Ticket, error) {
	ticket, err := repos.Tickets.GetByControlNumberForUpdate(ctx, strings.TrimSpace(controlNumber))
	return ticketOrNotFound(ticket, err, controlNumber)
}

func ticketOrNotFound(ticket *domain.Ticket, err error, controlNumber string) (*domain.Ticket, error) {
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, apperrors.NewNotFound("ticket", map[string]any{"control_number": controlNumber})
		}
		return nil, fmt.Errorf("load ticket: %w", err)
	}
	return ticket, nil
}

func (s *TicketService) loadTicket(ctx context.Context, repos repository.Repositories, controlNumber string) (*domain.Ticket, error) {
	ticket, err := s.findTicket(ctx, repos, controlNumber)
	if err != nil {
		return nil, err
	}
	if ticket.Remarks, err = repos.Remarks.ListByTicket(ctx, ticket.ID); err != nil {
		return nil, fmt.Errorf("load remarks: %w", err)
	}
	asset, err := repos.Assets.GetByTicket(ctx, ticket.ID)
	switch {
	case err == nil:
		ticket.Asset = asset
	case !repository.IsNotFound(err):
		return nil, fmt.Errorf("load asset: %w", err)
	}
	category, err := repos.Categories.GetByID(ctx, ticket.CategoryID)
	switch {
	case err == nil:
		ticket.Category = category
	case !repository.IsNotFound(err):
		return nil, fmt.Errorf("load category: %w", err)
	}
	return ticket, nil
}

func (s *TicketService) activeCategory(ctx context.Context, repos repository.Repositories, id string) (*domain.Category, error) {
	category, err := repos.Categories.GetByID(ctx, id)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, apperrors.NewCategoryNotFound(id)
		}
		return nil, fmt.Errorf("load category: %w", err)
	}
	if !category.IsActive {
		return nil, apperrors.NewCategoryNotFound(id)
	}
	return category, nil
}

// resolveLocation maps a location id or name to its canonical name. Unknown
// references are kept as free text.
func (s *TicketService) resolveLocation(ctx context.Context, repos repository.Repositories, ref string) (string, error) {
	location, err := repos.Locations.Lookup(ctx, ref)
	if err != nil {
		if repository.IsNotFound(err) {
			return ref, nil
		}
		return "", fmt.Errorf("resolve location: %w", err)
	}
	return location.Name, nil
}

// acceptFile runs the trust chain. A nil file yields a nil asset.
func (s *TicketService) acceptFile(ctx context.Context, file *upload.File) (*domain.UploadedAsset, error) {
	if file == nil {
		return nil, nil
	}
	result, err := s.validator.Validate(ctx, *file)
	if err != nil {
		if rejected, ok := upload.IsRejected(err); ok {
			s.metrics.UploadRejected(string(rejected.Reason))
			return nil, apperrors.NewFileRejected(string(rejected.Reason), rejected.Message, err)
		}
		return nil, fmt.Errorf("validate upload: %w", err)
	}
	return &domain.UploadedAsset{
		StoredName:  result.StoredName,
		ContentType: result.ContentType,
		SizeBytes:   result.SizeBytes,
		Digest:      result.Digest,
		CreatedAt:   s.clock.Now(),
	}, nil
}

// removeFile deletes a stored file outside any request deadline. The records
// are already consistent, so a failure only leaves an orphan and is logged.
func (s *TicketService) removeFile(ctx context.Context, name, reason string) {
	if err := s.assets.Delete(context.WithoutCancel(ctx), name); err != nil {
		s.logger.Error("failed to remove stored file",
			zap.String("stored_name", name),
			zap.String("reason", reason),
			zap.Error(err))
	}
}

func (s *TicketService) publishEvent(ctx context.Context, actor *Actor, ticket *domain.Ticket, eventType events.EventType, payload any) {
	if s.dispatcher == nil || ticket == nil {
		return
	}
	event := events.Event{
		ID:            uuid.NewString(),
		Type:          eventType,
		TicketID:      ticket.ID,
		ControlNumber: ticket.ControlNumber,
		Timestamp:     s.clock.Now(),
		Payload:       payload,
	}
	if actor != nil {
		staffID := actor.StaffID
		event.Actor = events.Actor{StaffID: &staffID, Role: actor.Role}
	}
	if err := s.dispatcher.Publish(ctx, event); err != nil {
		s.logger.Warn("event handlers failed", zap.String("event_type", string(eventType)), zap.Error(err))
	}
}

func actorID(actor *Actor) *string {
	if actor == nil || actor.StaffID == "" {
		return nil
	}
	id := actor.StaffID
	return &id
}

func trimmedOrNil(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func paginate(page, pageSize int) (limit, offset int) {
	page, pageSize = PageBounds(page, pageSize)
	return pageSize, (page - 1) * pageSize
}

// PageBounds returns the page and page size a list request is served with.
// Sizes default to 20 and are capped at 100.
func PageBounds(page, pageSize int) (int, int) {
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	if page <= 0 {
		page = 1
	}
	return page, pageSize
}

func stringPreview(body string, max int) string {
	runes := []rune(strings.TrimSpace(body))
	if len(runes) <= max {
		return string(runes)
	}
	if max <= 3 {
		return string(runes[:max])
	}
	return string(runes[:max-3]) + "..."
}
