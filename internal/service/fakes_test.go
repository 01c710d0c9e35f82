package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/iliyamo/studio-booking/internal/model"
	"github.com/iliyamo/studio-booking/internal/queue"
)

// In-memory stores with the same conditional-write semantics as the MySQL
// repositories.  Each store guards its rows with its own mutex, so the
// booking steps interleave across stores exactly as they do against the
// database.

type memClasses struct {
	mu         sync.Mutex
	rows       map[uint64]*model.ClassSession
	nextID     uint64
	releaseErr error
	active     map[uint64]bool // class id -> has upcoming confirmed reservations
}

func newMemClasses(classes ...model.ClassSession) *memClasses {
	m := &memClasses{rows: map[uint64]*model.ClassSession{}, active: map[uint64]bool{}}
	for i := range classes {
		c := classes[i]
		m.rows[c.ID] = &c
		if c.ID > m.nextID {
			m.nextID = c.ID
		}
	}
	return m
}

func (m *memClasses) GetByID(_ context.Context, id uint64) (*model.ClassSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.rows[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memClasses) ReserveSeat(_ context.Context, id uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.rows[id]
	switch {
	case !ok:
		return model.ErrNotFound
	case !c.IsActive:
		return model.ErrClassInactive
	case c.CurrentEnrollment >= c.MaxCapacity:
		return model.ErrCapacityExceeded
	}
	c.CurrentEnrollment++
	return nil
}

func (m *memClasses) ReleaseSeat(_ context.Context, id uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.releaseErr != nil {
		return m.releaseErr
	}
	if c, ok := m.rows[id]; ok && c.CurrentEnrollment > 0 {
		c.CurrentEnrollment--
	}
	return nil
}

func (m *memClasses) Create(_ context.Context, c *model.ClassSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.rows {
		if o.DayOfWeek == c.DayOfWeek && o.StartTime == c.StartTime && o.Room == c.Room {
			return model.ErrDuplicateSlot
		}
	}
	m.nextID++
	c.ID = m.nextID
	cp := *c
	m.rows[c.ID] = &cp
	return nil
}

func (m *memClasses) Update(_ context.Context, c *model.ClassSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.rows[c.ID]
	if !ok {
		return model.ErrNotFound
	}
	if o.CurrentEnrollment > c.MaxCapacity {
		return model.ErrCapacityBelowEnrollment
	}
	cp := *c
	cp.CurrentEnrollment = o.CurrentEnrollment
	m.rows[c.ID] = &cp
	return nil
}

func (m *memClasses) Delete(_ context.Context, id uint64, _ time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[id]; !ok {
		return false, model.ErrNotFound
	}
	if m.active[id] {
		return false, model.ErrHasActiveBookings
	}
	delete(m.rows, id)
	return true, nil
}

func (m *memClasses) HasUpcomingBookings(_ context.Context, id uint64, _ time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active[id], nil
}

func (m *memClasses) List(_ context.Context, f model.ClassFilter) ([]model.ClassSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.ClassSession
	for _, c := range m.rows {
		if f.IsActive != nil && c.IsActive != *f.IsActive {
			continue
		}
		if f.Discipline != nil && c.Discipline != *f.Discipline {
			continue
		}
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memClasses) enrollment(id uint64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rows[id].CurrentEnrollment
}

type memBalances struct {
	mu        sync.Mutex
	rows      map[uint64]*model.PackageBalance
	nextID    uint64
	refundErr error
}

func newMemBalances(balances ...model.PackageBalance) *memBalances {
	m := &memBalances{rows: map[uint64]*model.PackageBalance{}}
	for i := range balances {
		b := balances[i]
		m.rows[b.ID] = &b
		if b.ID > m.nextID {
			m.nextID = b.ID
		}
	}
	return m
}

func (m *memBalances) Create(_ context.Context, b *model.PackageBalance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	usable := false
	for _, o := range m.rows {
		if b.PaymentID != nil && o.PaymentID != nil && *o.PaymentID == *b.PaymentID {
			return model.ErrPaymentAlreadyUsed
		}
		if o.UserID == b.UserID && o.EffectiveStatus(b.PurchaseDate) == model.BalanceActive {
			usable = true
		}
	}
	m.nextID++
	b.ID = m.nextID
	b.IsDefault = !usable
	cp := *b
	m.rows[b.ID] = &cp
	return nil
}

func (m *memBalances) GetByID(_ context.Context, id uint64, now time.Time) (*model.PackageBalance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.rows[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	b.Status = b.EffectiveStatus(now)
	cp := *b
	return &cp, nil
}

func (m *memBalances) ListByUser(_ context.Context, userID uint64, status *model.BalanceStatus, now time.Time) ([]model.PackageBalance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.PackageBalance
	for _, b := range m.rows {
		if b.UserID != userID {
			continue
		}
		b.Status = b.EffectiveStatus(now)
		if status != nil && b.Status != *status {
			continue
		}
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (m *memBalances) ActiveForUser(ctx context.Context, userID uint64, now time.Time) (*model.PackageBalance, error) {
	active := model.BalanceActive
	list, _ := m.ListByUser(ctx, userID, &active, now)
	for i := range list {
		if list[i].IsDefault {
			return &list[i], nil
		}
	}
	if len(list) == 0 {
		return nil, model.ErrNotFound
	}
	return &list[0], nil
}

func (m *memBalances) SetDefault(_ context.Context, userID, balanceID uint64, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.rows[balanceID]
	if !ok {
		return model.ErrNotFound
	}
	if b.UserID != userID {
		return model.ErrForbidden
	}
	switch b.EffectiveStatus(now) {
	case model.BalanceExpired:
		return model.ErrBalanceExpired
	case model.BalanceDepleted:
		return model.ErrBalanceDepleted
	}
	for _, o := range m.rows {
		if o.UserID == userID {
			o.IsDefault = o.ID == balanceID
		}
	}
	return nil
}

func (m *memBalances) ConsumeOne(_ context.Context, id uint64, now time.Time) (*model.PackageBalance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.rows[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	if err := b.Consume(now); err != nil {
		b.Status = b.EffectiveStatus(now)
		return nil, err
	}
	b.Version++
	cp := *b
	return &cp, nil
}

func (m *memBalances) RefundOne(_ context.Context, id uint64, now time.Time) (*model.PackageBalance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.refundErr != nil {
		return nil, m.refundErr
	}
	b, ok := m.rows[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	if b.Refund(now) {
		b.Version++
	}
	cp := *b
	return &cp, nil
}

func (m *memBalances) remaining(id uint64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rows[id].RemainingClasses
}

type memReservations struct {
	mu        sync.Mutex
	rows      map[uint64]*model.Reservation
	nextID    uint64
	createErr error
	classes   *memClasses
}

func newMemReservations(classes *memClasses) *memReservations {
	return &memReservations{rows: map[uint64]*model.Reservation{}, classes: classes}
}

func (m *memReservations) Create(_ context.Context, r *model.Reservation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	for _, o := range m.rows {
		if o.UserID == r.UserID && o.ClassID == r.ClassID && o.Date.Equal(r.Date) && o.Status.HoldsSeat() {
			return model.ErrDuplicateBooking
		}
	}
	m.nextID++
	r.ID = m.nextID
	cp := *r
	m.rows[r.ID] = &cp
	return nil
}

func (m *memReservations) GetByID(_ context.Context, id uint64) (*model.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *memReservations) HasActive(_ context.Context, userID, classID uint64, date time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.rows {
		if o.UserID == userID && o.ClassID == classID && o.Date.Equal(date) && o.Status.HoldsSeat() {
			return true, nil
		}
	}
	return false, nil
}

func (m *memReservations) Transition(_ context.Context, t model.ReservationTransition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[t.ID]
	if !ok {
		return model.ErrNotFound
	}
	if r.Status != t.From {
		return model.ErrInvalidState
	}
	t.Apply(r)
	return nil
}

func (m *memReservations) put(r model.Reservation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.ID == 0 {
		m.nextID++
		r.ID = m.nextID
	} else if r.ID > m.nextID {
		m.nextID = r.ID
	}
	m.rows[r.ID] = &r
}

func (m *memReservations) detail(r *model.Reservation) model.ReservationDetail {
	d := model.ReservationDetail{
		ID: r.ID, UserID: r.UserID, ClassID: r.ClassID, Date: r.Date.Format(model.DateFormat),
		Status: r.Status, Attended: r.Attended, BalanceID: r.BalanceID,
		CancelledAt: r.CancelledAt, CancelReason: r.CancelReason, CreatedAt: r.CreatedAt,
	}
	if m.classes != nil {
		if c, err := m.classes.GetByID(context.Background(), r.ClassID); err == nil {
			d.ClassName, d.Discipline, d.Teacher = c.Name, c.Discipline, c.Teacher
			d.DayOfWeek, d.StartTime, d.EndTime, d.Room = c.DayOfWeek, c.StartTime, c.EndTime, c.Room
		}
	}
	return d
}

func (m *memReservations) Detail(_ context.Context, id uint64) (*model.ReservationDetail, error) {
	m.mu.Lock()
	r, ok := m.rows[id]
	m.mu.Unlock()
	if !ok {
		return nil, model.ErrNotFound
	}
	d := m.detail(r)
	return &d, nil
}

func (m *memReservations) List(_ context.Context, f model.ReservationFilter) ([]model.ReservationDetail, error) {
	m.mu.Lock()
	var rows []*model.Reservation
	for _, r := range m.rows {
		switch {
		case f.UserID != nil && r.UserID != *f.UserID:
		case f.ClassID != nil && r.ClassID != *f.ClassID:
		case f.Status != nil && r.Status != *f.Status:
		case f.Date != nil && !r.Date.Equal(*f.Date):
		case f.FromDate != nil && r.Date.Before(*f.FromDate):
		default:
			rows = append(rows, r)
		}
	}
	m.mu.Unlock()
	sort.Slice(rows, func(i, j int) bool { return rows[i].ID > rows[j].ID })
	out := make([]model.ReservationDetail, 0, len(rows))
	for _, r := range rows {
		out = append(out, m.detail(r))
	}
	return out, nil
}

func (m *memReservations) Stats(_ context.Context, today time.Time) (model.BookingStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var s model.BookingStats
	for _, r := range m.rows {
		s.Total++
		switch r.Status {
		case model.StatusConfirmed:
			s.Confirmed++
			if !r.Date.Before(today) {
				s.Upcoming++
			}
		case model.StatusCompleted:
			s.Completed++
		case model.StatusCancelled:
			s.Cancelled++
		case model.StatusNoShow:
			s.NoShow++
		}
	}
	return s, nil
}

func (m *memReservations) count(status model.ReservationStatus) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.rows {
		if r.Status == status {
			n++
		}
	}
	return n
}

type memPackages map[uint64]*model.PackageDefinition

func (m memPackages) GetByID(_ context.Context, id uint64) (*model.PackageDefinition, error) {
	p, ok := m[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

type memPayments map[uint64]*model.Payment

func (m memPayments) GetByID(_ context.Context, id uint64) (*model.Payment, error) {
	p, ok := m[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

type recordingEvents struct {
	mu        sync.Mutex
	confirmed []queue.BookingConfirmedEvent
	cancelled []queue.BookingCancelledEvent
	err       error
}

func (r *recordingEvents) PublishConfirmed(_ context.Context, ev queue.BookingConfirmedEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.confirmed = append(r.confirmed, ev)
	return r.err
}

func (r *recordingEvents) PublishCancelled(_ context.Context, ev queue.BookingCancelledEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancelled = append(r.cancelled, ev)
	return r.err
}

type recordingOutcomes struct {
	mu   sync.Mutex
	seen map[string]int
}

func (r *recordingOutcomes) ObserveBooking(op, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.seen == nil {
		r.seen = map[string]int{}
	}
	r.seen[op+"/"+outcome]++
}

type recordingPurger struct {
	mu       sync.Mutex
	prefixes []string
}

func (r *recordingPurger) Purge(_ context.Context, prefix string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prefixes = append(r.prefixes, prefix)
	return nil
}

var errStorage = errors.New("storage unavailable")
