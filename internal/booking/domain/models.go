package domain

import "time"

// Ride is the local projection of a ride owned by the ride service.
type Ride struct {
	ID        int64   `json:"id"`
	DriverID  int64   `json:"driverId"`
	BasePrice float64 `json:"basePrice"`
	GirlsOnly bool    `json:"girlsOnly"`
}

type SubZone struct {
	Name  string  `json:"subzoneName"`
	Price float64 `json:"subZonePrice"`
}

type Gender string

const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
)

type Request struct {
	ID          int64         `json:"id"`
	StudentID   int64         `json:"studentId"`
	RideID      int64         `json:"rideId"`
	SubZoneName string        `json:"subZoneName"`
	Price       float64       `json:"price"`
	Status      RequestStatus `json:"status"`
	CreatedAt   time.Time     `json:"createdAt"`
	UpdatedAt   time.Time     `json:"updatedAt"`
}

type Booking struct {
	ID        int64         `json:"id"`
	RequestID int64         `json:"requestId"`
	StudentID int64         `json:"studentId"`
	RideID    int64         `json:"rideId"`
	Price     float64       `json:"price"`
	Status    BookingStatus `json:"status"`
	PaidAt    *time.Time    `json:"paidAt,omitempty"`
	CreatedAt time.Time     `json:"createdAt"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

// WasPaid reports whether payment was confirmed at any point. PaidAt is kept
// when the booking later completes.
func (b Booking) WasPaid() bool {
	return b.PaidAt != nil
}

// BookingChange pairs a booking after a status write with the status it
// held before.
type BookingChange struct {
	Booking  Booking
	Previous BookingStatus
}

func (c BookingChange) Changed() bool {
	return c.Previous != c.Booking.Status
}

// ListFilter narrows request and booking listings. Zero fields match all.
type ListFilter struct {
	StudentID int64
	RideID    int64
}

type CreateRequestInput struct {
	RideID        int64
	SubZoneName   string
	PaymentOption string
}

type OutboxEntry struct {
	ID        string
	Topic     string
	Key       string
	Body      []byte
	DedupKey  string
	Attempts  int
	LastError string
	CreatedAt time.Time
}

type DeadLetter struct {
	ID        string
	Topic     string
	Body      []byte
	Error     string
	Attempts  int
	CreatedAt time.Time
}
