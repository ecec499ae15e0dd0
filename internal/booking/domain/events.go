package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Inbound topics, used as routing keys on the ride exchange.
const (
	TopicRideDetails       = "ride-details"
	TopicSubZoneDetails    = "subzone-details"
	TopicBookingPaid       = "booking-paid"
	TopicNotifyPassengers  = "notify-passengers"
	TopicRideCancelled     = "ride-cancelled"
	TopicRideCompleted     = "ride-completed"
	TopicUserGenderDetails = "user-gender-details"
)

var InboundTopics = []string{
	TopicRideDetails,
	TopicSubZoneDetails,
	TopicBookingPaid,
	TopicNotifyPassengers,
	TopicRideCancelled,
	TopicRideCompleted,
	TopicUserGenderDetails,
}

// Outbound topics.
const (
	TopicNotificationRequests = "notificationRequests"
	TopicPaymentDetails       = "payment-details"
	TopicRefundRequest        = "refund-request"
	TopicSeatReduce           = "seat-reduce"
	TopicSeatIncrease         = "seat-increase"
)

// FlexID decodes an id sent either as a JSON number or as a numeric string.
type FlexID int64

func (id *FlexID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if string(b) == "null" {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		b = []byte(strings.TrimSpace(s))
	}
	n, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return fmt.Errorf("id %s: %w", b, ErrInvalidPayload)
	}
	*id = FlexID(n)
	return nil
}

func (id FlexID) Int64() int64 { return int64(id) }

type RideDetailsEvent struct {
	ID        FlexID  `json:"id"`
	DriverID  FlexID  `json:"driverId"`
	BasePrice float64 `json:"basePrice"`
	GirlsOnly bool    `json:"girlsOnly"`
}

func (e RideDetailsEvent) Ride() Ride {
	return Ride{ID: e.ID.Int64(), DriverID: e.DriverID.Int64(), BasePrice: e.BasePrice, GirlsOnly: e.GirlsOnly}
}

type SubZoneDetailsEvent struct {
	SubzoneName  string  `json:"subzoneName"`
	SubZonePrice float64 `json:"subZonePrice"`
}

type NotifyPassengersEvent struct {
	RideID   FlexID    `json:"rideId"`
	RideTime time.Time `json:"rideTime"`
}

type UserGenderEvent struct {
	ID     FlexID `json:"id"`
	Gender Gender `json:"gender"`
}

// DecodeEvent unmarshals body into v, wrapping failures in ErrInvalidPayload.
func DecodeEvent(body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}

// DecodeBareID reads bodies that carry only an id, such as booking-paid.
func DecodeBareID(body []byte) (int64, error) {
	var id FlexID
	if err := DecodeEvent(body, &id); err != nil {
		return 0, err
	}
	return id.Int64(), nil
}

func (e SubZoneDetailsEvent) Validate() error {
	if strings.TrimSpace(e.SubzoneName) == "" {
		return fmt.Errorf("%w: subzoneName is required", ErrInvalidPayload)
	}
	return nil
}

func (e UserGenderEvent) Validate() error {
	if e.Gender == "" {
		return fmt.Errorf("%w: gender is required", ErrInvalidPayload)
	}
	return nil
}
