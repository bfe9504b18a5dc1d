package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/rmf-intake/internal/domain"
	"github.com/spec-kit/rmf-intake/internal/events"
	"github.com/spec-kit/rmf-intake/internal/repository"
	"github.com/spec-kit/rmf-intake/internal/storage"
	"github.com/spec-kit/rmf-intake/internal/upload"
	apperrors "github.com/spec-kit/rmf-intake/pkg/util/errorutil"
)

// UpdateTicketInput carries a partial staff update; nil fields are left
// untouched. A non-nil File replaces the current asset.
type UpdateTicketInput struct {
	Description      *string
	Location         *string
	ReportedBy       *string
	CategoryID       *string
	EndUser          *string
	LevelOfRepair    *string
	Status           *string
	TargetDate       *time.Time
	DateReceived     *time.Time
	DateAccomplished *time.Time
	File             *upload.File
}

// UpdateTicket applies a staff edit. The control number never changes, even
// when the category does. A replacement file is validated and written first,
// the record is committed, and only then is the previous file deleted.
func (s *TicketService) UpdateTicket(ctx context.Context, actor *Actor, controlNumber string, input UpdateTicketInput) (*domain.Ticket, error) {
	var invalid []string
	requireText := func(value *string, field string) {
		if value != nil && strings.TrimSpace(*value) == "" {
			invalid = append(invalid, field)
		}
	}
	requireText(input.Description, "description")
	requireText(input.Location, "location")
	requireText(input.ReportedBy, "reportedBy")
	requireText(input.CategoryID, "item")

	var level *domain.LevelOfRepair
	if input.LevelOfRepair != nil {
		parsed, ok := domain.ParseLevelOfRepair(*input.LevelOfRepair)
		if !ok {
			invalid = append(invalid, "levelOfRepair")
		}
		level = &parsed
	}
	var status *domain.TicketStatus
	if input.Status != nil {
		parsed, ok := domain.ParseTicketStatus(*input.Status)
		if !ok {
			invalid = append(invalid, "status")
		}
		status = &parsed
	}
	if len(invalid) > 0 {
		return nil, apperrors.NewValidationError("missing or invalid fields", invalid)
	}

	repos := s.store.Repositories()
	if _, err := s.findTicket(ctx, repos, controlNumber); err != nil {
		return nil, err
	}
	var category *domain.Category
	if input.CategoryID != nil {
		var err error
		if category, err = s.activeCategory(ctx, repos, strings.TrimSpace(*input.CategoryID)); err != nil {
			return nil, err
		}
	}
	var location *string
	if input.Location != nil {
		resolved, err := s.resolveLocation(ctx, repos, strings.TrimSpace(*input.Location))
		if err != nil {
			return nil, err
		}
		location = &resolved
	}

	asset, err := s.acceptFile(ctx, input.File)
	if err != nil {
		return nil, err
	}

	var (
		updated   *domain.Ticket
		oldStatus domain.TicketStatus
		oldFile   string
	)
	err = s.store.WithinTx(ctx, func(repos repository.Repositories) error {
		ticket, err := s.lockTicket(ctx, repos, controlNumber)
		if err != nil {
			return err
		}
		now := s.clock.Now()
		changedBy := actorID(actor)
		var entries []domain.TicketHistory
		record := func(changeType domain.TicketChangeType, oldValue, newValue map[string]any) {
			entries = append(entries, domain.TicketHistory{
				TicketID:   ticket.ID,
				ChangedBy:  changedBy,
				ChangeType: changeType,
				OldValue:   oldValue,
				NewValue:   newValue,
				CreatedAt:  now,
			})
		}

		if input.Description != nil {
			ticket.Description = strings.TrimSpace(*input.Description)
		}
		if location != nil {
			ticket.Location = *location
		}
		if input.ReportedBy != nil {
			ticket.ReportedBy = strings.TrimSpace(*input.ReportedBy)
		}
		if input.EndUser != nil {
			ticket.EndUser = trimmedOrNil(input.EndUser)
		}
		if level != nil {
			ticket.LevelOfRepair = *level
		}
		if category != nil && category.ID != ticket.CategoryID {
			record(domain.ChangeTypeCategory,
				map[string]any{"category_id": ticket.CategoryID},
				map[string]any{"category_id": category.ID, "control_number": ticket.ControlNumber})
			s.logger.Info("category changed, control number kept",
				zap.String("control_number", ticket.ControlNumber),
				zap.String("category", category.Code))
			ticket.CategoryID = category.ID
		}

		oldStatus = ticket.Status
		nextStatus := ticket.Status
		if status != nil {
			nextStatus = *status
		}
		oldAccomplished := ticket.AccomplishedAt
		accomplished, err := accomplishedAfter(oldStatus, oldAccomplished, nextStatus, input.DateAccomplished, now)
		if err != nil {
			return err
		}
		ticket.Status = nextStatus
		ticket.AccomplishedAt = accomplished
		if nextStatus != oldStatus {
			record(domain.ChangeTypeStatus,
				map[string]any{"status": string(oldStatus), "accomplished_at": oldAccomplished},
				map[string]any{"status": string(nextStatus), "accomplished_at": accomplished})
		}

		if input.DateReceived != nil || input.TargetDate != nil || (input.DateAccomplished != nil && nextStatus == oldStatus) {
			oldDates := map[string]any{"received_at": ticket.ReceivedAt, "target_date": ticket.TargetDate, "accomplished_at": oldAccomplished}
			if input.DateReceived != nil {
				ticket.SetReceivedAt(*input.DateReceived, s.location)
			}
			if input.TargetDate != nil {
				target := *input.TargetDate
				ticket.TargetDate = &target
			}
			record(domain.ChangeTypeDates, oldDates,
				map[string]any{"received_at": ticket.ReceivedAt, "target_date": ticket.TargetDate, "accomplished_at": ticket.AccomplishedAt})
		}

		if asset != nil {
			previous, err := repos.Assets.GetByTicket(ctx, ticket.ID)
			switch {
			case err == nil:
				oldFile = previous.StoredName
			case repository.IsNotFound(err):
				if ticket.FileURL != nil {
					oldFile = *ticket.FileURL
				}
			default:
				return fmt.Errorf("load asset: %w", err)
			}
			asset.TicketID = ticket.ID
			if err := repos.Assets.Upsert(ctx, asset); err != nil {
				return fmt.Errorf("save asset metadata: %w", err)
			}
			ticket.FileURL = &asset.StoredName
			record(domain.ChangeTypeFile,
				map[string]any{"file": nullable(oldFile)},
				map[string]any{"file": asset.StoredName})
		}

		if err := repos.Tickets.Update(ctx, ticket); err != nil {
			return fmt.Errorf("update ticket: %w", err)
		}
		for i := range entries {
			if err := repos.History.Create(ctx, &entries[i]); err != nil {
				return fmt.Errorf("record history: %w", err)
			}
		}
		updated = ticket
		return nil
	})
	if err != nil {
		if asset != nil {
			s.removeFile(ctx, asset.StoredName, "discard upload of failed update")
		}
		return nil, err
	}

	if asset != nil && oldFile != "" && oldFile != asset.StoredName {
		s.removeFile(ctx, oldFile, "delete replaced asset")
	}
	s.cache.Invalidate(ctx, controlNumber)

	if updated.Status != oldStatus {
		s.publishEvent(ctx, actor, updated, events.EventTicketStatusChanged, events.TicketStatusChangedPayload{
			OldStatus:      oldStatus,
			NewStatus:      updated.Status,
			AccomplishedAt: updated.AccomplishedAt,
		})
	}
	if asset != nil {
		s.publishEvent(ctx, actor, updated, events.EventTicketFileReplaced, events.TicketFileReplacedPayload{
			OldFile: nullable(oldFile),
			NewFile: asset.StoredName,
		})
	}
	return s.loadTicket(ctx, s.store.Repositories(), controlNumber)
}

// UpdateStatus writes a new status, stamping or clearing the accomplished date.
func (s *TicketService) UpdateStatus(ctx context.Context, actor *Actor, controlNumber, status string, dateAccomplished *time.Time) (*domain.Ticket, error) {
	if strings.TrimSpace(status) == "" {
		return nil, apperrors.NewValidationError("status is required", []string{"status"})
	}
	return s.UpdateTicket(ctx, actor, controlNumber, UpdateTicketInput{Status: &status, DateAccomplished: dateAccomplished})
}

// AddRemark appends a remark. addedBy defaults to the acting staff member.
func (s *TicketService) AddRemark(ctx context.Context, actor *Actor, controlNumber, body string, addedBy *string) (*domain.Remark, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, apperrors.NewValidationError("remark body is required", []string{"body"})
	}
	author := trimmedOrNil(addedBy)
	if author == nil {
		author = actorID(actor)
	}

	var (
		ticket *domain.Ticket
		remark *domain.Remark
	)
	err := s.store.WithinTx(ctx, func(repos repository.Repositories) error {
		var err error
		if ticket, err = s.lockTicket(ctx, repos, controlNumber); err != nil {
			return err
		}
		remark = &domain.Remark{TicketID: ticket.ID, Body: body, AddedBy: author, CreatedAt: s.clock.Now()}
		if err := repos.Remarks.Create(ctx, remark); err != nil {
			return fmt.Errorf("create remark: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.cache.Invalidate(ctx, controlNumber)
	s.publishEvent(ctx, actor, ticket, events.EventTicketRemarkAdded, events.TicketRemarkAddedPayload{
		RemarkID:    remark.ID,
		AddedBy:     remark.AddedBy,
		BodyPreview: stringPreview(remark.Body, 120),
	})
	return remark, nil
}

// EditRemark replaces a remark body. Its position and creation time are
// unchanged.
func (s *TicketService) EditRemark(ctx context.Context, actor *Actor, controlNumber, remarkID, body string) (*domain.Remark, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, apperrors.NewValidationError("remark body is required", []string{"body"})
	}

	var remark *domain.Remark
	err := s.store.WithinTx(ctx, func(repos repository.Repositories) error {
		ticket, err := s.lockTicket(ctx, repos, controlNumber)
		if err != nil {
			return err
		}
		remark, err = repos.Remarks.GetByID(ctx, ticket.ID, remarkID)
		if err != nil {
			if repository.IsNotFound(err) {
				return apperrors.NewNotFound("remark", map[string]any{"remark_id": remarkID})
			}
			return fmt.Errorf("load remark: %w", err)
		}
		previous := remark.Body
		now := s.clock.Now()
		remark.Body = body
		remark.UpdatedAt = &now
		if err := repos.Remarks.UpdateBody(ctx, remark); err != nil {
			return fmt.Errorf("update remark: %w", err)
		}
		return repos.History.Create(ctx, &domain.TicketHistory{
			TicketID:   ticket.ID,
			ChangedBy:  actorID(actor),
			ChangeType: domain.ChangeTypeRemarkEdit,
			OldValue:   map[string]any{"remark_id": remark.ID, "body": previous},
			NewValue:   map[string]any{"remark_id": remark.ID, "body": body},
			CreatedAt:  now,
		})
	})
	if err != nil {
		return nil, err
	}

	s.cache.Invalidate(ctx, controlNumber)
	return remark, nil
}

// OpenAsset streams a stored file that is referenced by a ticket.
func (s *TicketService) OpenAsset(ctx context.Context, name string) (io.ReadCloser, *domain.UploadedAsset, error) {
	notFound := apperrors.NewNotFound("file", map[string]any{"filename": name})
	if err := storage.ValidateName(name); err != nil {
		return nil, nil, notFound
	}
	asset, err := s.store.Repositories().Assets.GetByStoredName(ctx, name)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, nil, notFound
		}
		return nil, nil, fmt.Errorf("load asset: %w", err)
	}
	rc, err := s.assets.Open(ctx, name)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.logger.Warn("asset metadata without file", zap.String("stored_name", name))
			return nil, nil, notFound
		}
		return nil, nil, fmt.Errorf("open asset: %w", err)
	}
	return rc, asset, nil
}

func nullable(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}
