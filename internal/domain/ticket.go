package domain

import (
	"strings"
	"time"
)

// TicketStatus enumerates lifecycle states for tickets.
type TicketStatus string

const (
	TicketStatusPending    TicketStatus = "Pending"
	TicketStatusInProgress TicketStatus = "In Progress"
	TicketStatusCompleted  TicketStatus = "Completed"
)

// ParseTicketStatus accepts the display value or a loose spelling
// ("in_progress", "IN-PROGRESS", "completed").
func ParseTicketStatus(raw string) (TicketStatus, bool) {
	switch normalizeEnum(raw) {
	case "pending":
		return TicketStatusPending, true
	case "inprogress":
		return TicketStatusInProgress, true
	case "completed":
		return TicketStatusCompleted, true
	}
	return "", false
}

// LevelOfRepair classifies the severity of the reported concern. The zero
// value means unset.
type LevelOfRepair string

const (
	LevelUnset    LevelOfRepair = ""
	LevelMinor    LevelOfRepair = "Minor"
	LevelMajor    LevelOfRepair = "Major"
	LevelCritical LevelOfRepair = "Critical"
)

// ParseLevelOfRepair accepts Minor, Major, Critical, Urgent or
// Critical/Urgent in any case. Blank input yields LevelUnset.
func ParseLevelOfRepair(raw string) (LevelOfRepair, bool) {
	switch normalizeEnum(raw) {
	case "":
		return LevelUnset, true
	case "minor":
		return LevelMinor, true
	case "major":
		return LevelMajor, true
	case "critical", "urgent", "criticalurgent":
		return LevelCritical, true
	}
	return "", false
}

func normalizeEnum(raw string) string {
	replacer := strings.NewReplacer(" ", "", "_", "", "-", "", "/", "")
	return strings.ToLower(replacer.Replace(strings.TrimSpace(raw)))
}

// Ticket is the aggregate for maintenance requests.
type Ticket struct {
	ID             string
	ControlNumber  string
	CategoryID     string
	Location       string
	LevelOfRepair  LevelOfRepair
	Description    string
	ReportedBy     string
	EndUser        *string
	Status         TicketStatus
	ReceivedAt     time.Time
	AccomplishedAt *time.Time
	TargetDate     *time.Time
	ReportYear     int
	ReportMonth    int
	FileURL        *string
	CreatedAt      time.Time
	UpdatedAt      time.Time

	Remarks  []Remark
	Asset    *UploadedAsset
	Category *Category
}

// SetReceivedAt stamps the received date and re-derives the reporting period
// in loc so the two never diverge.
func (t *Ticket) SetReceivedAt(at time.Time, loc *time.Location) {
	if loc == nil {
		loc = time.UTC
	}
	t.ReceivedAt = at
	local := at.In(loc)
	t.ReportYear = local.Year()
	t.ReportMonth = int(local.Month())
}

// CurrentRemark returns the most recently created remark, the one summaries
// display. Remarks are kept in creation order.
func (t *Ticket) CurrentRemark() *Remark {
	if len(t.Remarks) == 0 {
		return nil
	}
	return &t.Remarks[len(t.Remarks)-1]
}
