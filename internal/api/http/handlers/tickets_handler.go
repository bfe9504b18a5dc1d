package handlers

import (
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/rmf-intake/internal/api/dto"
	"github.com/spec-kit/rmf-intake/internal/auth"
	"github.com/spec-kit/rmf-intake/internal/domain"
	"github.com/spec-kit/rmf-intake/internal/service"
	"github.com/spec-kit/rmf-intake/internal/upload"
	apperrors "github.com/spec-kit/rmf-intake/pkg/util/errorutil"
)

// TicketsHandler exposes ticket intake and staff ticket management.
type TicketsHandler struct {
	service      *service.TicketService
	publicPrefix string
}

// NewTicketsHandler constructs handler. publicPrefix is the URL prefix stored
// files are served under.
func NewTicketsHandler(ticketService *service.TicketService, publicPrefix string) *TicketsHandler {
	return &TicketsHandler{service: ticketService, publicPrefix: strings.TrimRight(publicPrefix, "/")}
}

// CreateTicket POST /api/tickets.
func (h *TicketsHandler) CreateTicket(c *fiber.Ctx) error {
	form := newFormReader(c, h.service.Location())
	input := service.CreateTicketInput{
		Description:      form.text("description"),
		Location:         form.text("location"),
		ReportedBy:       form.text("reportedBy"),
		CategoryID:       form.first("item", "categoryId"),
		EndUser:          form.optional("endUser"),
		LevelOfRepair:    form.text("levelOfRepair"),
		Remarks:          form.optional("remarks"),
		Status:           form.text("status"),
		TargetDate:       form.date("targetDate"),
		DateReceived:     form.date("dateReceived"),
		DateAccomplished: form.date("dateAccomplished"),
	}
	if err := form.err(); err != nil {
		return err
	}
	file, closeFile, err := formFile(c)
	if err != nil {
		return err
	}
	defer closeFile()
	input.File = file

	ticket, err := h.service.CreateTicket(c.UserContext(), actorFrom(c), input)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{
		"message": "Ticket created",
		"ticket":  h.ticketResponse(ticket),
	})
}

// ListTickets GET /api/tickets.
func (h *TicketsHandler) ListTickets(c *fiber.Ctx) error {
	input := service.ListTicketsInput{
		Status:     c.Query("status"),
		CategoryID: firstNonEmpty(c.Query("category"), c.Query("item")),
		Search:     c.Query("search"),
		Page:       parseInt(c.Query("page"), 1),
		PageSize:   parseInt(c.Query("page_size"), 20),
	}
	var invalid []string
	if raw := c.Query("reportYear"); raw != "" {
		year, err := strconv.Atoi(raw)
		if err != nil {
			invalid = append(invalid, "reportYear")
		}
		input.ReportYear = &year
	}
	if raw := c.Query("reportMonth"); raw != "" {
		month, err := strconv.Atoi(raw)
		if err != nil {
			invalid = append(invalid, "reportMonth")
		}
		input.ReportMonth = &month
	}
	if len(invalid) > 0 {
		return apperrors.NewValidationError("invalid query parameters", invalid)
	}

	summaries, err := h.service.ListTickets(c.UserContext(), input)
	if err != nil {
		return err
	}
	items := make([]dto.TicketSummary, 0, len(summaries))
	for i := range summaries {
		items = append(items, h.ticketSummary(&summaries[i]))
	}
	page, pageSize := service.PageBounds(input.Page, input.PageSize)
	return c.JSON(fiber.Map{
		"data":       items,
		"pagination": dto.Pagination{Page: page, PageSize: pageSize, Count: len(items)},
	})
}

// GetTicket GET /api/tickets/:controlNumber.
func (h *TicketsHandler) GetTicket(c *fiber.Ctx) error {
	ticket, err := h.service.GetTicket(c.UserContext(), c.Params("controlNumber"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": h.ticketResponse(ticket)})
}

// UpdateTicket PUT /api/tickets/:controlNumber.
func (h *TicketsHandler) UpdateTicket(c *fiber.Ctx) error {
	form := newFormReader(c, h.service.Location())
	input := service.UpdateTicketInput{
		Description:      form.present("description"),
		Location:         form.present("location"),
		ReportedBy:       form.present("reportedBy"),
		CategoryID:       form.presentFirst("item", "categoryId"),
		EndUser:          form.present("endUser"),
		LevelOfRepair:    form.present("levelOfRepair"),
		Status:           form.present("status"),
		TargetDate:       form.date("targetDate"),
		DateReceived:     form.date("dateReceived"),
		DateAccomplished: form.date("dateAccomplished"),
	}
	if err := form.err(); err != nil {
		return err
	}
	file, closeFile, err := formFile(c)
	if err != nil {
		return err
	}
	defer closeFile()
	input.File = file

	ticket, err := h.service.UpdateTicket(c.UserContext(), actorFrom(c), c.Params("controlNumber"), input)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"message": "Ticket updated", "ticket": h.ticketResponse(ticket)})
}

// UpdateStatus PATCH /api/tickets/:controlNumber/status.
func (h *TicketsHandler) UpdateStatus(c *fiber.Ctx) error {
	var req dto.StatusUpdateRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	var accomplished *time.Time
	if req.DateAccomplished != nil && strings.TrimSpace(*req.DateAccomplished) != "" {
		parsed, err := parseDate(*req.DateAccomplished, h.service.Location())
		if err != nil {
			return apperrors.NewValidationError("invalid date", []string{"dateAccomplished"})
		}
		accomplished = &parsed
	}
	ticket, err := h.service.UpdateStatus(c.UserContext(), actorFrom(c), c.Params("controlNumber"), req.Status, accomplished)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"message": "Status updated", "ticket": h.ticketResponse(ticket)})
}

// DeleteTicket DELETE /api/tickets/:controlNumber.
func (h *TicketsHandler) DeleteTicket(c *fiber.Ctx) error {
	if err := h.service.DeleteTicket(c.UserContext(), actorFrom(c), c.Params("controlNumber")); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"message": "Ticket deleted"})
}

// AddRemark POST /api/tickets/:controlNumber/remarks.
func (h *TicketsHandler) AddRemark(c *fiber.Ctx) error {
	var req dto.RemarkRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	remark, err := h.service.AddRemark(c.UserContext(), actorFrom(c), c.Params("controlNumber"), req.Body, req.AddedBy)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": remarkResponse(remark)})
}

// EditRemark PUT /api/tickets/:controlNumber/remarks/:remarkId.
func (h *TicketsHandler) EditRemark(c *fiber.Ctx) error {
	var req dto.RemarkRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	remark, err := h.service.EditRemark(c.UserContext(), actorFrom(c), c.Params("controlNumber"), c.Params("remarkId"), req.Body)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": remarkResponse(remark)})
}

// History GET /api/tickets/:controlNumber/history.
func (h *TicketsHandler) History(c *fiber.Ctx) error {
	entries, err := h.service.TicketHistory(c.UserContext(), c.Params("controlNumber"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": historyResponses(entries)})
}

// ServeAsset GET /uploads/:filename.
func (h *TicketsHandler) ServeAsset(c *fiber.Ctx) error {
	rc, asset, err := h.service.OpenAsset(c.UserContext(), c.Params("filename"))
	if err != nil {
		return err
	}
	c.Set(fiber.HeaderContentType, asset.ContentType)
	c.Set(fiber.HeaderCacheControl, "public, max-age=86400")
	c.Set("X-Content-Type-Options", "nosniff")
	return c.SendStream(rc, int(asset.SizeBytes))
}

func actorFrom(c *fiber.Ctx) *service.Actor {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok || principal == nil {
		return nil
	}
	return &service.Actor{StaffID: principal.StaffID, Role: principal.Role}
}

// formFile opens the optional "file" part. The returned close func is always
// safe to call.
func formFile(c *fiber.Ctx) (*upload.File, func(), error) {
	noop := func() {}
	if isNotMultipart(c) {
		return nil, noop, nil
	}
	form, err := c.MultipartForm()
	if err != nil {
		return nil, noop, apperrors.NewValidationError("invalid multipart body", []string{"file"})
	}
	headers := form.File["file"]
	if len(headers) == 0 {
		return nil, noop, nil
	}
	header := headers[0]
	opened, err := header.Open()
	if err != nil {
		return nil, noop, apperrors.NewValidationError("invalid file upload", []string{"file"})
	}
	return fileFromHeader(header, opened), func() { _ = opened.Close() }, nil
}

func fileFromHeader(header *multipart.FileHeader, body io.Reader) *upload.File {
	return &upload.File{
		Filename:    header.Filename,
		Size:        header.Size,
		ContentType: header.Header.Get(fiber.HeaderContentType),
		Body:        body,
	}
}

func isNotMultipart(c *fiber.Ctx) bool {
	return !strings.HasPrefix(strings.ToLower(c.Get(fiber.HeaderContentType)), fiber.MIMEMultipartForm)
}

// formReader reads multipart or urlencoded fields and collects date parse
// failures as one validation error.
type formReader struct {
	c        *fiber.Ctx
	location *time.Location
	invalid  []string
}

func newFormReader(c *fiber.Ctx, location *time.Location) *formReader {
	return &formReader{c: c, location: location}
}

func (f *formReader) has(key string) bool {
	if form, err := f.c.MultipartForm(); err == nil && form != nil {
		_, ok := form.Value[key]
		return ok
	}
	return f.c.Request().PostArgs().Has(key)
}

func (f *formReader) text(key string) string {
	return strings.TrimSpace(f.c.FormValue(key))
}

func (f *formReader) first(keys ...string) string {
	for _, key := range keys {
		if v := f.text(key); v != "" {
			return v
		}
	}
	return ""
}

func (f *formReader) optional(key string) *string {
	v := f.text(key)
	if v == "" {
		return nil
	}
	return &v
}

// present returns a pointer for any field that was sent, even blank, so the
// service can reject blanking a required field.
func (f *formReader) present(key string) *string {
	if !f.has(key) {
		return nil
	}
	v := f.text(key)
	return &v
}

func (f *formReader) presentFirst(keys ...string) *string {
	for _, key := range keys {
		if v := f.present(key); v != nil {
			return v
		}
	}
	return nil
}

func (f *formReader) date(key string) *time.Time {
	raw := f.text(key)
	if raw == "" {
		return nil
	}
	parsed, err := parseDate(raw, f.location)
	if err != nil {
		f.invalid = append(f.invalid, key)
		return nil
	}
	return &parsed
}

func (f *formReader) err() error {
	if len(f.invalid) == 0 {
		return nil
	}
	return apperrors.NewValidationError("invalid date", f.invalid)
}

// parseDate accepts RFC 3339 timestamps or plain dates. A plain date is
// midnight in location so it lands in the report period it names.
func parseDate(raw string, location *time.Location) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	if location == nil {
		location = time.UTC
	}
	return time.ParseInLocation(time.DateOnly, raw, location)
}

func parseInt(val string, def int) int {
	if val == "" {
		return def
	}
	parsed, err := strconv.Atoi(val)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func (h *TicketsHandler) fileURL(storedName *string) *string {
	if storedName == nil || *storedName == "" {
		return nil
	}
	url := h.publicPrefix + "/" + *storedName
	return &url
}

func (h *TicketsHandler) ticketSummary(summary *service.TicketSummary) dto.TicketSummary {
	ticket := summary.Ticket
	resp := dto.TicketSummary{
		ID:               ticket.ID,
		ControlNumber:    ticket.ControlNumber,
		CategoryID:       ticket.CategoryID,
		Location:         ticket.Location,
		LevelOfRepair:    ticket.LevelOfRepair,
		Description:      ticket.Description,
		ReportedBy:       ticket.ReportedBy,
		Status:           ticket.Status,
		DateReceived:     ticket.ReceivedAt,
		DateAccomplished: ticket.AccomplishedAt,
		ReportYear:       ticket.ReportYear,
		ReportMonth:      ticket.ReportMonth,
		FileURL:          h.fileURL(ticket.FileURL),
	}
	if summary.CurrentRemark != nil {
		remark := remarkResponse(summary.CurrentRemark)
		resp.CurrentRemark = &remark
	}
	return resp
}

func (h *TicketsHandler) ticketResponse(ticket *domain.Ticket) dto.TicketResponse {
	resp := dto.TicketResponse{
		ID:               ticket.ID,
		ControlNumber:    ticket.ControlNumber,
		CategoryID:       ticket.CategoryID,
		Location:         ticket.Location,
		LevelOfRepair:    ticket.LevelOfRepair,
		Description:      ticket.Description,
		ReportedBy:       ticket.ReportedBy,
		EndUser:          ticket.EndUser,
		Status:           ticket.Status,
		DateReceived:     ticket.ReceivedAt,
		DateAccomplished: ticket.AccomplishedAt,
		TargetDate:       ticket.TargetDate,
		ReportYear:       ticket.ReportYear,
		ReportMonth:      ticket.ReportMonth,
		FileURL:          h.fileURL(ticket.FileURL),
		Remarks:          make([]dto.RemarkResponse, 0, len(ticket.Remarks)),
		CreatedAt:        ticket.CreatedAt,
		UpdatedAt:        ticket.UpdatedAt,
	}
	if ticket.Category != nil {
		resp.Category = &dto.CategoryResponse{ID: ticket.Category.ID, Name: ticket.Category.Name, Code: ticket.Category.Code}
	}
	if ticket.Asset != nil {
		resp.File = &dto.AssetResponse{
			URL:         *h.fileURL(&ticket.Asset.StoredName),
			StoredName:  ticket.Asset.StoredName,
			ContentType: ticket.Asset.ContentType,
			SizeBytes:   ticket.Asset.SizeBytes,
			Digest:      ticket.Asset.Digest,
			UploadedAt:  ticket.Asset.CreatedAt,
		}
	}
	for i := range ticket.Remarks {
		resp.Remarks = append(resp.Remarks, remarkResponse(&ticket.Remarks[i]))
	}
	if current := ticket.CurrentRemark(); current != nil {
		remark := remarkResponse(current)
		resp.CurrentRemark = &remark
	}
	return resp
}

func remarkResponse(remark *domain.Remark) dto.RemarkResponse {
	return dto.RemarkResponse{
		ID:        remark.ID,
		Body:      remark.Body,
		AddedBy:   remark.AddedBy,
		CreatedAt: remark.CreatedAt,
		UpdatedAt: remark.UpdatedAt,
	}
}

func historyResponses(entries []domain.TicketHistory) []dto.TicketHistoryResponse {
	resp := make([]dto.TicketHistoryResponse, 0, len(entries))
	for _, entry := range entries {
		resp = append(resp, dto.TicketHistoryResponse{
			ID:         entry.ID,
			ChangeType: entry.ChangeType,
			ChangedBy:  entry.ChangedBy,
			OldValue:   entry.OldValue,
			NewValue:   entry.NewValue,
			CreatedAt:  entry.CreatedAt,
		})
	}
	return resp
}
