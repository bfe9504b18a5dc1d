package domain

import "time"

// Remark is an append-only note attached to a ticket. Only Body and
// UpdatedAt change after creation, and only through an explicit edit.
type Remark struct {
	ID        string
	TicketID  string
	Body      string
	AddedBy   *string
	CreatedAt time.Time
	UpdatedAt *time.Time
}
