package dto

import (
	"time"

	"github.com/spec-kit/rmf-intake/internal/domain"
)

// StatusUpdateRequest payload for PATCH /api/tickets/:controlNumber/status.
type StatusUpdateRequest struct {
	Status           string  `json:"status" form:"status"`
	DateAccomplished *string `json:"dateAccomplished" form:"dateAccomplished"`
}

// RemarkRequest payload for adding or editing a remark.
type RemarkRequest struct {
	Body    string  `json:"body" form:"body"`
	AddedBy *string `json:"addedBy" form:"addedBy"`
}

// CategoryResponse is a maintenance category.
type CategoryResponse struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Code string `json:"code"`
}

// LocationResponse is a known location.
type LocationResponse struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// AssetResponse describes the stored photo.
type AssetResponse struct {
	URL         string    `json:"url"`
	StoredName  string    `json:"storedName"`
	ContentType string    `json:"contentType"`
	SizeBytes   int64     `json:"sizeBytes"`
	Digest      string    `json:"digest"`
	UploadedAt  time.Time `json:"uploadedAt"`
}

// RemarkResponse is one remark.
type RemarkResponse struct {
	ID        string     `json:"id"`
	Body      string     `json:"body"`
	AddedBy   *string    `json:"addedBy"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
}

// TicketSummary is a list row.
type TicketSummary struct {
	ID               string               `json:"id"`
	ControlNumber    string               `json:"controlNumber"`
	CategoryID       string               `json:"categoryId"`
	Location         string               `json:"location"`
	LevelOfRepair    domain.LevelOfRepair `json:"levelOfRepair,omitempty"`
	Description      string               `json:"description"`
	ReportedBy       string               `json:"reportedBy"`
	Status           domain.TicketStatus  `json:"status"`
	DateReceived     time.Time            `json:"dateReceived"`
	DateAccomplished *time.Time           `json:"dateAccomplished"`
	ReportYear       int                  `json:"reportYear"`
	ReportMonth      int                  `json:"reportMonth"`
	FileURL          *string              `json:"fileUrl"`
	CurrentRemark    *RemarkResponse      `json:"currentRemark"`
}

// TicketResponse is the full ticket.
type TicketResponse struct {
	ID               string               `json:"id"`
	ControlNumber    string               `json:"controlNumber"`
	Category         *CategoryResponse    `json:"category,omitempty"`
	CategoryID       string               `json:"categoryId"`
	Location         string               `json:"location"`
	LevelOfRepair    domain.LevelOfRepair `json:"levelOfRepair,omitempty"`
	Description      string               `json:"description"`
	ReportedBy       string               `json:"reportedBy"`
	EndUser          *string              `json:"endUser"`
	Status           domain.TicketStatus  `json:"status"`
	DateReceived     time.Time            `json:"dateReceived"`
	DateAccomplished *time.Time           `json:"dateAccomplished"`
	TargetDate       *time.Time           `json:"targetDate"`
	ReportYear       int                  `json:"reportYear"`
	ReportMonth      int                  `json:"reportMonth"`
	FileURL          *string              `json:"fileUrl"`
	File             *AssetResponse       `json:"file,omitempty"`
	Remarks          []RemarkResponse     `json:"remarks"`
	CurrentRemark    *RemarkResponse      `json:"currentRemark"`
	CreatedAt        time.Time            `json:"createdAt"`
	UpdatedAt        time.Time            `json:"updatedAt"`
}

// TicketHistoryResponse is one audit entry.
type TicketHistoryResponse struct {
	ID         string                  `json:"id"`
	ChangeType domain.TicketChangeType `json:"changeType"`
	ChangedBy  *string                 `json:"changedBy"`
	OldValue   map[string]any          `json:"oldValue,omitempty"`
	NewValue   map[string]any          `json:"newValue,omitempty"`
	CreatedAt  time.Time               `json:"createdAt"`
}

// Pagination echoes the page that was served.
type Pagination struct {
	Page     int `json:"page"`
	PageSize int `json:"pageSize"`
	Count    int `json:"count"`
}
