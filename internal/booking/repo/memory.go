package repo

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"booking-service/internal/booking/domain"
)

// Memory implements every repository port in process memory. It backs the
// memory storage driver and the package tests.
type Memory struct {
	mu sync.Mutex

	nextRequestID int64
	nextBookingID int64
	requests      map[int64]domain.Request
	bookings      map[int64]domain.Booking

	rides    map[int64]domain.Ride
	subZones map[string]domain.SubZone
	genders  map[int64]domain.Gender
	today    map[int64]struct{}

	claims      map[string]struct{}
	outbox      map[string]domain.OutboxEntry
	deadLetters []domain.DeadLetter

	now func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		requests: make(map[int64]domain.Request),
		bookings: make(map[int64]domain.Booking),
		rides:    make(map[int64]domain.Ride),
		subZones: make(map[string]domain.SubZone),
		genders:  make(map[int64]domain.Gender),
		today:    make(map[int64]struct{}),
		claims:   make(map[string]struct{}),
		outbox:   make(map[string]domain.OutboxEntry),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

var (
	_ domain.LedgerRepository     = (*Memory)(nil)
	_ domain.ProjectionRepository = (*Memory)(nil)
	_ domain.Deduplicator         = (*Memory)(nil)
	_ domain.OutboxRepository     = (*Memory)(nil)
	_ domain.DeadLetterRepository = (*Memory)(nil)
)

func (m *Memory) CreateRequest(ctx context.Context, req *domain.Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.hasActiveRequestLocked(req.StudentID, req.RideID) {
		return domain.ErrDuplicateRequest
	}

	m.nextRequestID++
	now := m.now()
	req.ID = m.nextRequestID
	req.CreatedAt, req.UpdatedAt = now, now
	m.requests[req.ID] = *req
	return nil
}

func (m *Memory) GetRequest(ctx context.Context, id int64) (*domain.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	req, ok := m.requests[id]
	if !ok {
		return nil, domain.ErrRequestNotFound
	}
	return &req, nil
}

func (m *Memory) ListRequests(ctx context.Context, filter domain.ListFilter) ([]domain.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := []domain.Request{}
	for _, req := range m.requests {
		if matches(filter, req.StudentID, req.RideID) {
			out = append(out, req)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) HasActiveRequest(ctx context.Context, studentID, rideID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hasActiveRequestLocked(studentID, rideID), nil
}

func (m *Memory) hasActiveRequestLocked(studentID, rideID int64) bool {
	for _, req := range m.requests {
		if req.StudentID == studentID && req.RideID == rideID && req.Status.IsActive() {
			return true
		}
	}
	return false
}

func (m *Memory) TransitionRequest(ctx context.Context, id int64, from []domain.RequestStatus, to domain.RequestStatus) (*domain.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transitionRequestLocked(id, from, to)
}

func (m *Memory) transitionRequestLocked(id int64, from []domain.RequestStatus, to domain.RequestStatus) (*domain.Request, error) {
	req, ok := m.requests[id]
	if !ok {
		return nil, domain.ErrRequestNotFound
	}
	if !slices.Contains(from, req.Status) {
		return nil, domain.ErrStaleStatus
	}
	req.Status = to
	req.UpdatedAt = m.now()
	m.requests[id] = req
	return &req, nil
}

func (m *Memory) AcceptRequest(ctx context.Context, id int64, from []domain.RequestStatus, booking *domain.Booking) (*domain.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	req, err := m.transitionRequestLocked(id, from, domain.RequestAccepted)
	if err != nil {
		return nil, err
	}

	m.nextBookingID++
	now := m.now()
	booking.ID = m.nextBookingID
	booking.CreatedAt, booking.UpdatedAt = now, now
	m.bookings[booking.ID] = *booking
	return req, nil
}

func (m *Memory) GetBooking(ctx context.Context, id int64) (*domain.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.bookings[id]
	if !ok {
		return nil, domain.ErrBookingNotFound
	}
	return &b, nil
}

func (m *Memory) ListBookings(ctx context.Context, filter domain.ListFilter) ([]domain.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := []domain.Booking{}
	for _, b := range m.bookings {
		if matches(filter, b.StudentID, b.RideID) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) TransitionBooking(ctx context.Context, id int64, from []domain.BookingStatus, to domain.BookingStatus) (domain.BookingChange, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transitionBookingLocked(id, from, to, false)
}

func (m *Memory) CancelBooking(ctx context.Context, id int64, from []domain.BookingStatus) (domain.BookingChange, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transitionBookingLocked(id, from, domain.BookingCancelled, true)
}

func (m *Memory) transitionBookingLocked(id int64, from []domain.BookingStatus, to domain.BookingStatus, notToday bool) (domain.BookingChange, error) {
	b, ok := m.bookings[id]
	if !ok {
		return domain.BookingChange{}, domain.ErrBookingNotFound
	}
	if !slices.Contains(from, b.Status) {
		return domain.BookingChange{Booking: b, Previous: b.Status}, domain.ErrStaleStatus
	}
	if _, active := m.today[b.RideID]; notToday && active {
		return domain.BookingChange{Booking: b, Previous: b.Status}, domain.ErrRideActiveToday
	}
	prev := b.Status
	b.Status = to
	b.UpdatedAt = m.now()
	if to == domain.BookingPaid && b.PaidAt == nil {
		paidAt := b.UpdatedAt
		b.PaidAt = &paidAt
	}
	m.bookings[id] = b
	return domain.BookingChange{Booking: b, Previous: prev}, nil
}

func (m *Memory) CompleteRideBookings(ctx context.Context, rideID int64) ([]domain.BookingChange, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	from := domain.BookingSourcesFor(domain.BookingCompleted)
	var changes []domain.BookingChange
	for id, b := range m.bookings {
		if b.RideID != rideID || !slices.Contains(from, b.Status) {
			continue
		}
		prev := b.Status
		b.Status = domain.BookingCompleted
		b.UpdatedAt = m.now()
		m.bookings[id] = b
		changes = append(changes, domain.BookingChange{Booking: b, Previous: prev})
	}
	sort.Slice(changes, func(i, j int) bool { return changes[i].Booking.ID < changes[j].Booking.ID })
	return changes, nil
}

func matches(f domain.ListFilter, studentID, rideID int64) bool {
	if f.StudentID != 0 && f.StudentID != studentID {
		return false
	}
	if f.RideID != 0 && f.RideID != rideID {
		return false
	}
	return true
}

func (m *Memory) UpsertRide(ctx context.Context, ride domain.Ride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rides[ride.ID] = ride
	return nil
}

func (m *Memory) GetRide(ctx context.Context, id int64) (*domain.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ride, ok := m.rides[id]
	if !ok {
		return nil, domain.ErrRideNotFound
	}
	return &ride, nil
}

func (m *Memory) UpsertSubZone(ctx context.Context, zone domain.SubZone) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subZones[zone.Name] = zone
	return nil
}

func (m *Memory) GetSubZone(ctx context.Context, name string) (*domain.SubZone, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	zone, ok := m.subZones[name]
	if !ok {
		return nil, domain.ErrSubZoneNotFound
	}
	return &zone, nil
}

func (m *Memory) UpsertUserGender(ctx context.Context, userID int64, gender domain.Gender) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.genders[userID] = gender
	return nil
}

func (m *Memory) GetUserGender(ctx context.Context, userID int64) (domain.Gender, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	gender, ok := m.genders[userID]
	if !ok {
		return "", domain.ErrGenderNotFound
	}
	return gender, nil
}

func (m *Memory) MarkRideToday(ctx context.Context, rideID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.today[rideID] = struct{}{}
	return nil
}

func (m *Memory) ClearRideToday(ctx context.Context, rideID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.today, rideID)
	return nil
}

func (m *Memory) IsRideToday(ctx context.Context, rideID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.today[rideID]
	return ok, nil
}

func (m *Memory) ClaimEffect(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.claims[key]; ok {
		return false, nil
	}
	m.claims[key] = struct{}{}
	return true, nil
}

func (m *Memory) ReleaseEffect(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.claims, key)
	return nil
}

func (m *Memory) SaveOutbox(ctx context.Context, entry domain.OutboxEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = m.now()
	}
	m.outbox[entry.ID] = entry
	return nil
}

func (m *Memory) PendingOutbox(ctx context.Context, limit int) ([]domain.OutboxEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]domain.OutboxEntry, 0, len(m.outbox))
	for _, e := range m.outbox {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) MarkOutboxSent(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.outbox, id)
	return nil
}

func (m *Memory) RecordOutboxFailure(ctx context.Context, id string, cause string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.outbox[id]
	if !ok {
		return nil
	}
	e.Attempts++
	e.LastError = cause
	m.outbox[id] = e
	return nil
}

func (m *Memory) SaveDeadLetter(ctx context.Context, letter domain.DeadLetter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if letter.CreatedAt.IsZero() {
		letter.CreatedAt = m.now()
	}
	m.deadLetters = append(m.deadLetters, letter)
	return nil
}

// DeadLetters returns a copy of the stored dead letters.
func (m *Memory) DeadLetters() []domain.DeadLetter {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.deadLetters)
}

// Ping lets the memory store stand in for a database health check.
func (m *Memory) Ping(ctx context.Context) error {
	return nil
}
