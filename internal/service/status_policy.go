package service

import (
	"time"

	"github.com/spec-kit/rmf-intake/internal/domain"
	apperrors "github.com/spec-kit/rmf-intake/pkg/util/errorutil"
)

// accomplishedAfter applies the accomplished-date policy to a status write.
//
// accomplishedAt means "currently completed": entering Completed stamps it
// (the explicit date wins, otherwise now), staying Completed keeps the stored
// date unless an explicit one is given, and leaving Completed clears it. An
// explicit date on a non-Completed result is rejected.
func accomplishedAfter(prev domain.TicketStatus, prevAt *time.Time, next domain.TicketStatus, explicit *time.Time, now time.Time) (*time.Time, error) {
	if next != domain.TicketStatusCompleted {
		if explicit != nil {
			return nil, apperrors.NewValidationError("dateAccomplished is only allowed when status is Completed", []string{"dateAccomplished"})
		}
		return nil, nil
	}
	if explicit != nil {
		at := *explicit
		return &at, nil
	}
	if prev == domain.TicketStatusCompleted && prevAt != nil {
		at := *prevAt
		return &at, nil
	}
	at := now
	return &at, nil
}
