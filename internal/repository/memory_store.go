package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/spec-kit/rmf-intake/internal/domain"
)

// MemoryStore is a process-local Store used for development and tests. All
// operations are serialized; a transaction holds the lock for its whole
// duration and restores a snapshot when it fails.
type MemoryStore struct {
	mu   sync.Mutex
	data *memoryData
	now  func() time.Time
}

type bucketKey struct {
	year  int
	month int
}

type memoryData struct {
	tickets    map[string]domain.Ticket
	remarks    []domain.Remark
	assets     map[string]domain.UploadedAsset
	categories map[string]domain.Category
	locations  map[string]domain.Location
	history    []domain.TicketHistory
	sequences  map[bucketKey]int64
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: &memoryData{
			tickets:    map[string]domain.Ticket{},
			assets:     map[string]domain.UploadedAsset{},
			categories: map[string]domain.Category{},
			locations:  map[string]domain.Location{},
			sequences:  map[bucketKey]int64{},
		},
		now: time.Now,
	}
}

func (s *MemoryStore) Repositories() Repositories {
	return s.bind(false)
}

func (s *MemoryStore) WithinTx(ctx context.Context, fn func(Repositories) error) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.data.clone()
	defer func() {
		if p := recover(); p != nil {
			s.data = snapshot
			panic(p)
		}
		if err != nil {
			s.data = snapshot
		}
	}()

	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(s.bind(true))
}

func (s *MemoryStore) Ping(context.Context) error {
	return nil
}

func (s *MemoryStore) bind(inTx bool) Repositories {
	m := memoryConn{store: s, inTx: inTx}
	return Repositories{
		Tickets:    memoryTickets{m},
		Remarks:    memoryRemarks{m},
		Assets:     memoryAssets{m},
		Categories: memoryCategories{m},
		Locations:  memoryLocations{m},
		History:    memoryHistory{m},
		Sequences:  memorySequences{m},
	}
}

// memoryConn runs repository calls under the store lock unless it belongs to
// a transaction that already holds it.
type memoryConn struct {
	store *MemoryStore
	inTx  bool
}

func (c memoryConn) with(ctx context.Context, fn func(d *memoryData) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !c.inTx {
		c.store.mu.Lock()
		defer c.store.mu.Unlock()
	}
	return fn(c.store.data)
}

func (c memoryConn) now() time.Time {
	return c.store.now().UTC()
}

func (d *memoryData) clone() *memoryData {
	out := &memoryData{
		tickets:    make(map[string]domain.Ticket, len(d.tickets)),
		remarks:    append([]domain.Remark(nil), d.remarks...),
		assets:     make(map[string]domain.UploadedAsset, len(d.assets)),
		categories: make(map[string]domain.Category, len(d.categories)),
		locations:  make(map[string]domain.Location, len(d.locations)),
		history:    append([]domain.TicketHistory(nil), d.history...),
		sequences:  make(map[bucketKey]int64, len(d.sequences)),
	}
	for k, v := range d.tickets {
		out.tickets[k] = v
	}
	for k, v := range d.assets {
		out.assets[k] = v
	}
	for k, v := range d.categories {
		out.categories[k] = v
	}
	for k, v := range d.locations {
		out.locations[k] = v
	}
	for k, v := range d.sequences {
		out.sequences[k] = v
	}
	return out
}

func errUnique(constraint string) error {
	return &pgconn.PgError{Code: uniqueViolation, ConstraintName: constraint, Message: "duplicate key value violates unique constraint"}
}

// stored strips the loaded associations so only column data is kept.
func stored(t domain.Ticket) domain.Ticket {
	t.Remarks = nil
	t.Asset = nil
	t.Category = nil
	return t
}

type memoryTickets struct{ memoryConn }

func (r memoryTickets) Create(ctx context.Context, ticket *domain.Ticket) error {
	return r.with(ctx, func(d *memoryData) error {
		for _, existing := range d.tickets {
			if existing.ControlNumber == ticket.ControlNumber {
				return errUnique("tickets_control_number_key")
			}
		}
		if _, ok := d.categories[ticket.CategoryID]; !ok {
			return &pgconn.PgError{Code: "23503", ConstraintName: "tickets_category_id_fkey"}
		}
		now := r.now()
		ticket.ID = uuid.NewString()
		ticket.CreatedAt = now
		ticket.UpdatedAt = now
		d.tickets[ticket.ID] = stored(*ticket)
		return nil
	})
}

func (r memoryTickets) Update(ctx context.Context, ticket *domain.Ticket) error {
	return r.with(ctx, func(d *memoryData) error {
		existing, ok := d.tickets[ticket.ID]
		if !ok {
			return pgx.ErrNoRows
		}
		next := stored(*ticket)
		next.ControlNumber = existing.ControlNumber
		next.CreatedAt = existing.CreatedAt
		next.UpdatedAt = r.now()
		d.tickets[ticket.ID] = next
		ticket.UpdatedAt = next.UpdatedAt
		return nil
	})
}

func (r memoryTickets) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	var out domain.Ticket
	err := r.with(ctx, func(d *memoryData) error {
		t, ok := d.tickets[id]
		if !ok {
			return pgx.ErrNoRows
		}
		out = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r memoryTickets) GetByControlNumber(ctx context.Context, controlNumber string) (*domain.Ticket, error) {
	var out *domain.Ticket
	err := r.with(ctx, func(d *memoryData) error {
		for _, t := range d.tickets {
			if t.ControlNumber == controlNumber {
				t := t
				out = &t
				return nil
			}
		}
		return pgx.ErrNoRows
	})
	return out, err
}

// GetByControlNumberForUpdate needs no row lock here: memory transactions
// are already serialized.
func (r memoryTickets) GetByControlNumberForUpdate(ctx context.Context, controlNumber string) (*domain.Ticket, error) {
	return r.GetByControlNumber(ctx, controlNumber)
}

func (r memoryTickets) ListWithFilter(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error) {
	var result []domain.Ticket
	err := r.with(ctx, func(d *memoryData) error {
		search := ""
		if filter.SearchTerm != nil {
			search = strings.ToLower(strings.TrimSpace(*filter.SearchTerm))
		}
		for _, t := range d.tickets {
			if len(filter.Statuses) > 0 && !containsStatus(filter.Statuses, t.Status) {
				continue
			}
			if filter.CategoryID != nil && t.CategoryID != *filter.CategoryID {
				continue
			}
			if filter.ReportYear != nil && t.ReportYear != *filter.ReportYear {
				continue
			}
			if filter.ReportMonth != nil && t.ReportMonth != *filter.ReportMonth {
				continue
			}
			if search != "" &&
				!strings.Contains(strings.ToLower(t.Description), search) &&
				!strings.Contains(strings.ToLower(t.ReportedBy), search) &&
				!strings.Contains(strings.ToLower(t.ControlNumber), search) {
				continue
			}
			result = append(result, t)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].ReceivedAt.Equal(result[j].ReceivedAt) {
			return result[i].ReceivedAt.After(result[j].ReceivedAt)
		}
		return result[i].ControlNumber > result[j].ControlNumber
	})

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	if offset >= len(result) {
		return nil, nil
	}
	end := offset + limit
	if end > len(result) {
		end = len(result)
	}
	return result[offset:end], nil
}

func containsStatus(statuses []domain.TicketStatus, status domain.TicketStatus) bool {
	for _, s := range statuses {
		if s == status {
			return true
		}
	}
	return false
}

// Delete cascades to remarks, asset metadata and history like the
// foreign keys do in Postgres.
func (r memoryTickets) Delete(ctx context.Context, id string) error {
	return r.with(ctx, func(d *memoryData) error {
		if _, ok := d.tickets[id]; !ok {
			return pgx.ErrNoRows
		}
		delete(d.tickets, id)
		delete(d.assets, id)

		remarks := d.remarks[:0]
		for _, rm := range d.remarks {
			if rm.TicketID != id {
				remarks = append(remarks, rm)
			}
		}
		d.remarks = remarks

		history := d.history[:0]
		for _, h := range d.history {
			if h.TicketID != id {
				history = append(history, h)
			}
		}
		d.history = history
		return nil
	})
}

type memoryRemarks struct{ memoryConn }

func (r memoryRemarks) Create(ctx context.Context, remark *domain.Remark) error {
	return r.with(ctx, func(d *memoryData) error {
		if _, ok := d.tickets[remark.TicketID]; !ok {
			return &pgconn.PgError{Code: "23503", ConstraintName: "remarks_ticket_id_fkey"}
		}
		remark.ID = uuid.NewString()
		if remark.CreatedAt.IsZero() {
			remark.CreatedAt = r.now()
		}
		d.remarks = append(d.remarks, *remark)
		return nil
	})
}

func (r memoryRemarks) UpdateBody(ctx context.Context, remark *domain.Remark) error {
	return r.with(ctx, func(d *memoryData) error {
		for i := range d.remarks {
			if d.remarks[i].ID == remark.ID && d.remarks[i].TicketID == remark.TicketID {
				d.remarks[i].Body = remark.Body
				d.remarks[i].UpdatedAt = remark.UpdatedAt
				return nil
			}
		}
		return pgx.ErrNoRows
	})
}

func (r memoryRemarks) GetByID(ctx context.Context, ticketID, remarkID string) (*domain.Remark, error) {
	var out *domain.Remark
	err := r.with(ctx, func(d *memoryData) error {
		for _, rm := range d.remarks {
			if rm.ID == remarkID && rm.TicketID == ticketID {
				rm := rm
				out = &rm
				return nil
			}
		}
		return pgx.ErrNoRows
	})
	return out, err
}

func (r memoryRemarks) ListByTicket(ctx context.Context, ticketID string) ([]domain.Remark, error) {
	var result []domain.Remark
	err := r.with(ctx, func(d *memoryData) error {
		for _, rm := range d.remarks {
			if rm.TicketID == ticketID {
				result = append(result, rm)
			}
		}
		return nil
	})
	return result, err
}

func (r memoryRemarks) LatestByTickets(ctx context.Context, ticketIDs []string) (map[string]domain.Remark, error) {
	result := make(map[string]domain.Remark, len(ticketIDs))
	wanted := make(map[string]struct{}, len(ticketIDs))
	for _, id := range ticketIDs {
		wanted[id] = struct{}{}
	}
	err := r.with(ctx, func(d *memoryData) error {
		for _, rm := range d.remarks {
			if _, ok := wanted[rm.TicketID]; ok {
				result[rm.TicketID] = rm
			}
		}
		return nil
	})
	return result, err
}

type memoryAssets struct{ memoryConn }

func (r memoryAssets) Upsert(ctx context.Context, asset *domain.UploadedAsset) error {
	return r.with(ctx, func(d *memoryData) error {
		if _, ok := d.tickets[asset.TicketID]; !ok {
			return &pgconn.PgError{Code: "23503", ConstraintName: "ticket_assets_ticket_id_fkey"}
		}
		for id, existing := range d.assets {
			if id != asset.TicketID && existing.StoredName == asset.StoredName {
				return errUnique("ticket_assets_stored_name_key")
			}
		}
		d.assets[asset.TicketID] = *asset
		return nil
	})
}

func (r memoryAssets) GetByTicket(ctx context.Context, ticketID string) (*domain.UploadedAsset, error) {
	var out domain.UploadedAsset
	err := r.with(ctx, func(d *memoryData) error {
		a, ok := d.assets[ticketID]
		if !ok {
			return pgx.ErrNoRows
		}
		out = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r memoryAssets) GetByStoredName(ctx context.Context, storedName string) (*domain.UploadedAsset, error) {
	var out *domain.UploadedAsset
	err := r.with(ctx, func(d *memoryData) error {
		for _, a := range d.assets {
			if a.StoredName == storedName {
				a := a
				out = &a
				return nil
			}
		}
		return pgx.ErrNoRows
	})
	return out, err
}

func (r memoryAssets) DeleteByTicket(ctx context.Context, ticketID string) error {
	return r.with(ctx, func(d *memoryData) error {
		if _, ok := d.assets[ticketID]; !ok {
			return pgx.ErrNoRows
		}
		delete(d.assets, ticketID)
		return nil
	})
}

type memoryCategories struct{ memoryConn }

func (r memoryCategories) Create(ctx context.Context, category *domain.Category) error {
	return r.with(ctx, func(d *memoryData) error {
		for _, existing := range d.categories {
			if existing.Code == category.Code {
				return errUnique("categories_code_key")
			}
		}
		now := r.now()
		if category.ID == "" {
			category.ID = uuid.NewString()
		}
		category.CreatedAt = now
		category.UpdatedAt = now
		d.categories[category.ID] = *category
		return nil
	})
}

func (r memoryCategories) Update(ctx context.Context, category *domain.Category) error {
	return r.with(ctx, func(d *memoryData) error {
		existing, ok := d.categories[category.ID]
		if !ok {
			return pgx.ErrNoRows
		}
		category.CreatedAt = existing.CreatedAt
		category.UpdatedAt = r.now()
		d.categories[category.ID] = *category
		return nil
	})
}

func (r memoryCategories) GetByID(ctx context.Context, id string) (*domain.Category, error) {
	var out domain.Category
	err := r.with(ctx, func(d *memoryData) error {
		c, ok := d.categories[id]
		if !ok {
			return pgx.ErrNoRows
		}
		out = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r memoryCategories) ListActive(ctx context.Context) ([]domain.Category, error) {
	var result []domain.Category
	err := r.with(ctx, func(d *memoryData) error {
		for _, c := range d.categories {
			if c.IsActive {
				result = append(result, c)
			}
		}
		return nil
	})
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, err
}

type memoryLocations struct{ memoryConn }

func (r memoryLocations) Create(ctx context.Context, location *domain.Location) error {
	return r.with(ctx, func(d *memoryData) error {
		now := r.now()
		if location.ID == "" {
			location.ID = uuid.NewString()
		}
		location.CreatedAt = now
		location.UpdatedAt = now
		d.locations[location.ID] = *location
		return nil
	})
}

func (r memoryLocations) Update(ctx context.Context, location *domain.Location) error {
	return r.with(ctx, func(d *memoryData) error {
		existing, ok := d.locations[location.ID]
		if !ok {
			return pgx.ErrNoRows
		}
		location.CreatedAt = existing.CreatedAt
		location.UpdatedAt = r.now()
		d.locations[location.ID] = *location
		return nil
	})
}

func (r memoryLocations) Lookup(ctx context.Context, ref string) (*domain.Location, error) {
	var out *domain.Location
	err := r.with(ctx, func(d *memoryData) error {
		if l, ok := d.locations[ref]; ok && l.IsActive {
			out = &l
			return nil
		}
		for _, l := range d.locations {
			if l.IsActive && strings.EqualFold(l.Name, ref) {
				l := l
				out = &l
				return nil
			}
		}
		return pgx.ErrNoRows
	})
	return out, err
}

func (r memoryLocations) ListActive(ctx context.Context) ([]domain.Location, error) {
	var result []domain.Location
	err := r.with(ctx, func(d *memoryData) error {
		for _, l := range d.locations {
			if l.IsActive {
				result = append(result, l)
			}
		}
		return nil
	})
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, err
}

type memoryHistory struct{ memoryConn }

func (r memoryHistory) Create(ctx context.Context, history *domain.TicketHistory) error {
	return r.with(ctx, func(d *memoryData) error {
		if _, ok := d.tickets[history.TicketID]; !ok {
			return &pgconn.PgError{Code: "23503", ConstraintName: "ticket_history_ticket_id_fkey"}
		}
		history.ID = uuid.NewString()
		if history.CreatedAt.IsZero() {
			history.CreatedAt = r.now()
		}
		d.history = append(d.history, *history)
		return nil
	})
}

func (r memoryHistory) ListByTicket(ctx context.Context, ticketID string) ([]domain.TicketHistory, error) {
	var result []domain.TicketHistory
	err := r.with(ctx, func(d *memoryData) error {
		for _, h := range d.history {
			if h.TicketID == ticketID {
				result = append(result, h)
			}
		}
		return nil
	})
	return result, err
}

type memorySequences struct{ memoryConn }

// Next seeds an unseen bucket from the highest sequence already issued in
// it, mirroring the Postgres upsert.
func (r memorySequences) Next(ctx context.Context, year, month int) (int64, error) {
	var value int64
	err := r.with(ctx, func(d *memoryData) error {
		key := bucketKey{year: year, month: month}
		last, ok := d.sequences[key]
		if !ok {
			for _, t := range d.tickets {
				cn, err := domain.ParseControlNumber(t.ControlNumber)
				if err != nil || cn.Year != year || cn.Month != month {
					continue
				}
				if cn.Sequence > last {
					last = cn.Sequence
				}
			}
		}
		value = last + 1
		d.sequences[key] = value
		return nil
	})
	return value, err
}
