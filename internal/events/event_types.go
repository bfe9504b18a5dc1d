package events

import (
	"time"

	"github.com/spec-kit/rmf-intake/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventTicketCreated       EventType = "ticket_created"
	EventTicketStatusChanged EventType = "ticket_status_changed"
	EventTicketRemarkAdded   EventType = "ticket_remark_added"
	EventTicketFileReplaced  EventType = "ticket_file_replaced"
	EventTicketDeleted       EventType = "ticket_deleted"
)

// Actor identifies who caused an event. Both fields are empty for anonymous
// intake.
type Actor struct {
	StaffID *string          `json:"staff_id,omitempty"`
	Role    domain.StaffRole `json:"role,omitempty"`
}

// Event represents a domain event emitted by services.
type Event struct {
	ID            string      `json:"id"`
	Type          EventType   `json:"type"`
	TicketID      string      `json:"ticket_id"`
	ControlNumber string      `json:"control_number"`
	Actor         Actor       `json:"actor"`
	Timestamp     time.Time   `json:"timestamp"`
	Payload       interface{} `json:"payload"`
}

// TicketCreatedPayload payload.
type TicketCreatedPayload struct {
	CategoryCode  string               `json:"category_code"`
	Location      string               `json:"location"`
	LevelOfRepair domain.LevelOfRepair `json:"level_of_repair,omitempty"`
	Status        domain.TicketStatus  `json:"status"`
	ReportedBy    string               `json:"reported_by"`
	HasFile       bool                 `json:"has_file"`
}

// TicketStatusChangedPayload payload.
type TicketStatusChangedPayload struct {
	OldStatus      domain.TicketStatus `json:"old_status"`
	NewStatus      domain.TicketStatus `json:"new_status"`
	AccomplishedAt *time.Time          `json:"accomplished_at,omitempty"`
}

// TicketRemarkAddedPayload payload.
type TicketRemarkAddedPayload struct {
	RemarkID    string  `json:"remark_id"`
	AddedBy     *string `json:"added_by,omitempty"`
	BodyPreview string  `json:"body_preview"`
}

// TicketFileReplacedPayload payload.
type TicketFileReplacedPayload struct {
	OldFile *string `json:"old_file,omitempty"`
	NewFile string  `json:"new_file"`
}

// TicketDeletedPayload payload.
type TicketDeletedPayload struct {
	RemarksRemoved int  `json:"remarks_removed"`
	FileRemoved    bool `json:"file_removed"`
}
