package domain

import "time"

// TicketChangeType captures what changed in a history entry.
type TicketChangeType string

const (
	ChangeTypeCreated    TicketChangeType = "CREATED"
	ChangeTypeStatus     TicketChangeType = "STATUS_CHANGE"
	ChangeTypeCategory   TicketChangeType = "CATEGORY_CHANGE"
	ChangeTypeFile       TicketChangeType = "FILE_CHANGE"
	ChangeTypeDates      TicketChangeType = "DATES_CHANGE"
	ChangeTypeRemarkEdit TicketChangeType = "REMARK_EDIT"
)

// TicketHistory is an immutable audit trail entry.
type TicketHistory struct {
	ID         string
	TicketID   string
	ChangedBy  *string
	ChangeType TicketChangeType
	OldValue   map[string]any
	NewValue   map[string]any
	CreatedAt  time.Time
}
