package domain

import "context"

// LedgerRepository is the durable store of requests and bookings. Status
// writes are compare-and-set: they succeed only while the record still holds
// one of the from statuses and return ErrStaleStatus otherwise.
type LedgerRepository interface {
	CreateRequest(ctx context.Context, req *Request) error
	GetRequest(ctx context.Context, id int64) (*Request, error)
	ListRequests(ctx context.Context, filter ListFilter) ([]Request, error)
	HasActiveRequest(ctx context.Context, studentID, rideID int64) (bool, error)
	TransitionRequest(ctx context.Context, id int64, from []RequestStatus, to RequestStatus) (*Request, error)
	// AcceptRequest marks the request accepted and inserts booking in one
	// transaction. booking.ID and timestamps are filled in.
	AcceptRequest(ctx context.Context, id int64, from []RequestStatus, booking *Booking) (*Request, error)

	GetBooking(ctx context.Context, id int64) (*Booking, error)
	ListBookings(ctx context.Context, filter ListFilter) ([]Booking, error)
	TransitionBooking(ctx context.Context, id int64, from []BookingStatus, to BookingStatus) (BookingChange, error)
	// CancelBooking moves the booking to Cancelled unless its ride is in the
	// active-today set at write time, in which case it returns
	// ErrRideActiveToday.
	CancelBooking(ctx context.Context, id int64, from []BookingStatus) (BookingChange, error)
	// CompleteRideBookings moves every non-terminal booking on the ride to
	// Completed and reports each change.
	CompleteRideBookings(ctx context.Context, rideID int64) ([]BookingChange, error)
}

type ProjectionRepository interface {
	UpsertRide(ctx context.Context, ride Ride) error
	GetRide(ctx context.Context, id int64) (*Ride, error)
	UpsertSubZone(ctx context.Context, zone SubZone) error
	GetSubZone(ctx context.Context, name string) (*SubZone, error)
	UpsertUserGender(ctx context.Context, userID int64, gender Gender) error
	GetUserGender(ctx context.Context, userID int64) (Gender, error)
	MarkRideToday(ctx context.Context, rideID int64) error
	ClearRideToday(ctx context.Context, rideID int64) error
	IsRideToday(ctx context.Context, rideID int64) (bool, error)
}

// Deduplicator records idempotency keys. ClaimEffect returns false when the
// key was already claimed.
type Deduplicator interface {
	ClaimEffect(ctx context.Context, key string) (bool, error)
	ReleaseEffect(ctx context.Context, key string) error
}

type OutboxRepository interface {
	SaveOutbox(ctx context.Context, entry OutboxEntry) error
	PendingOutbox(ctx context.Context, limit int) ([]OutboxEntry, error)
	MarkOutboxSent(ctx context.Context, id string) error
	RecordOutboxFailure(ctx context.Context, id string, cause string) error
}

type DeadLetterRepository interface {
	SaveDeadLetter(ctx context.Context, letter DeadLetter) error
}

// Broker publishes a message body to exchange with routingKey.
type Broker interface {
	Publish(ctx context.Context, exchange, routingKey, messageKey string, body []byte) error
}

// EffectPublisher drains the effects of a committed transition. Drain
// returns an error only for effects that were neither published nor parked
// for a later retry.
type EffectPublisher interface {
	Drain(ctx context.Context, effects []Effect) error
}
