package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Effect is one outbound message produced by a ledger transition. Effects
// with a DedupKey are published at most once per key.
type Effect struct {
	Topic    string
	Key      string
	Payload  any
	DedupKey string
}

func (e Effect) Body() ([]byte, error) {
	body, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", e.Topic, err)
	}
	return body, nil
}

type Notification struct {
	Request string `json:"request"`
	Subject string `json:"subject"`
	Message string `json:"message"`
	UserID  int64  `json:"userId"`
}

type PaymentDetails struct {
	ID        int64   `json:"id"`
	Price     float64 `json:"price"`
	StudentID int64   `json:"studentId"`
}

type RefundRequest struct {
	BookingID string `json:"bookingId"`
}

type SeatChange struct {
	RideID string `json:"rideId"`
}

func itoa(id int64) string { return strconv.FormatInt(id, 10) }

func BookingCancelledNotice(b Booking, driverID int64) Effect {
	return Effect{
		Topic: TopicNotificationRequests,
		Key:   itoa(b.ID),
		Payload: Notification{
			Request: "Booking Cancelled",
			Subject: "Booking Cancelled",
			Message: "A booking has been cancelled",
			UserID:  driverID,
		},
		DedupKey: "booking-cancelled:" + itoa(b.ID),
	}
}

func RideCancelledNotice(b Booking) Effect {
	return Effect{
		Topic: TopicNotificationRequests,
		Key:   itoa(b.RideID),
		Payload: Notification{
			Request: "Ride Cancelled",
			Subject: "Ride Cancelled",
			Message: fmt.Sprintf("The ride with id: %d has been cancelled", b.RideID),
			UserID:  b.StudentID,
		},
		DedupKey: fmt.Sprintf("ride-cancelled:%d:%d", b.RideID, b.ID),
	}
}

func RideCompletedNotice(b Booking) Effect {
	return Effect{
		Topic: TopicNotificationRequests,
		Key:   itoa(b.RideID),
		Payload: Notification{
			Request: "Ride Completed",
			Subject: "Ride Completed",
			Message: fmt.Sprintf("The ride with id: %d has been completed", b.RideID),
			UserID:  b.StudentID,
		},
		DedupKey: fmt.Sprintf("ride-completed:%d:%d", b.RideID, b.ID),
	}
}

func BookingReminder(b Booking, rideTime time.Time) Effect {
	return Effect{
		Topic: TopicNotificationRequests,
		Key:   itoa(b.StudentID),
		Payload: Notification{
			Request: "Booking Reminder",
			Subject: "Ride Reminder",
			Message: "This is a reminder that you have a ride scheduled at: " + rideTime.UTC().Format(time.RFC3339),
			UserID:  b.StudentID,
		},
		DedupKey: fmt.Sprintf("reminder:%d:%d", b.RideID, b.ID),
	}
}

// PaymentRequestNotice is sent on demand and is never deduplicated.
func PaymentRequestNotice(b Booking, userID int64) Effect {
	return Effect{
		Topic: TopicNotificationRequests,
		Key:   itoa(b.ID),
		Payload: Notification{
			Request: "Request Payment",
			Subject: "Request Payment for Booking",
			Message: "Please pay the ride",
			UserID:  userID,
		},
	}
}

func PaymentRegistration(b Booking) Effect {
	return Effect{
		Topic:    TopicPaymentDetails,
		Key:      itoa(b.ID),
		Payload:  PaymentDetails{ID: b.ID, Price: b.Price, StudentID: b.StudentID},
		DedupKey: "payment-details:" + itoa(b.ID),
	}
}

func RefundRequested(b Booking) Effect {
	return Effect{
		Topic:    TopicRefundRequest,
		Key:      itoa(b.ID),
		Payload:  RefundRequest{BookingID: itoa(b.ID)},
		DedupKey: "refund-request:" + itoa(b.ID),
	}
}

// SeatReduce is keyed by the booking that consumed the seat.
func SeatReduce(b Booking) Effect {
	return Effect{
		Topic:    TopicSeatReduce,
		Key:      itoa(b.RideID),
		Payload:  SeatChange{RideID: itoa(b.RideID)},
		DedupKey: "seat-reduce:" + itoa(b.ID),
	}
}

func SeatIncrease(b Booking) Effect {
	return Effect{
		Topic:    TopicSeatIncrease,
		Key:      itoa(b.RideID),
		Payload:  SeatChange{RideID: itoa(b.RideID)},
		DedupKey: "seat-increase:" + itoa(b.ID),
	}
}
