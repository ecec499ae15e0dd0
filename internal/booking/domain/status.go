package domain

import (
	"fmt"
	"slices"
	"strings"
)

type RequestStatus string

const (
	RequestAwaitingCash RequestStatus = "Awaiting Driver's Response - Payment in Cash"
	RequestAwaitingVisa RequestStatus = "Awaiting Driver's Response - Payment in Visa"
	RequestAccepted     RequestStatus = "Accepted"
	RequestRejected     RequestStatus = "Rejected"
	RequestCancelled    RequestStatus = "Cancelled"
)

type BookingStatus string

const (
	BookingAwaitingPayment BookingStatus = "Awaiting Payment"
	BookingPaymentInCash   BookingStatus = "Payment In Cash"
	BookingPaid            BookingStatus = "Paid"
	BookingCompleted       BookingStatus = "Completed"
	BookingCancelled       BookingStatus = "Cancelled"
)

type PaymentOption string

const (
	PaymentCash PaymentOption = "Cash"
	PaymentVisa PaymentOption = "Visa"
)

// ParsePaymentOption is case-insensitive; an empty option means cash.
func ParsePaymentOption(s string) (PaymentOption, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "cash":
		return PaymentCash, nil
	case "visa":
		return PaymentVisa, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidPaymentOption, s)
}

// InitialRequestStatus returns the awaiting status for the chosen payment.
func InitialRequestStatus(p PaymentOption) RequestStatus {
	if p == PaymentVisa {
		return RequestAwaitingVisa
	}
	return RequestAwaitingCash
}

var requestTransitions = map[RequestStatus][]RequestStatus{
	RequestAwaitingCash: {RequestAccepted, RequestRejected, RequestCancelled},
	RequestAwaitingVisa: {RequestAccepted, RequestRejected, RequestCancelled},
	RequestAccepted:     {},
	RequestRejected:     {},
	RequestCancelled:    {},
}

// AwaitingRequestStatuses are the only statuses a request can leave.
var AwaitingRequestStatuses = []RequestStatus{RequestAwaitingCash, RequestAwaitingVisa}

func (s RequestStatus) Valid() bool {
	_, ok := requestTransitions[s]
	return ok
}

func (s RequestStatus) IsTerminal() bool {
	return s.Valid() && len(requestTransitions[s]) == 0
}

// IsActive reports whether the request still blocks a new request by the
// same student for the same ride.
func (s RequestStatus) IsActive() bool {
	return s != RequestCancelled && s != RequestRejected
}

func (s RequestStatus) IsCash() bool {
	return s == RequestAwaitingCash
}

func (s RequestStatus) CanTransitionTo(next RequestStatus) bool {
	return slices.Contains(requestTransitions[s], next)
}

var bookingTransitions = map[BookingStatus][]BookingStatus{
	BookingAwaitingPayment: {BookingPaid, BookingCompleted, BookingCancelled},
	BookingPaymentInCash:   {BookingPaid, BookingCompleted, BookingCancelled},
	BookingPaid:            {BookingCompleted, BookingCancelled},
	BookingCompleted:       {},
	BookingCancelled:       {},
}

// BookingSourcesFor lists every status from which a booking may move to next.
func BookingSourcesFor(next BookingStatus) []BookingStatus {
	var from []BookingStatus
	for _, s := range []BookingStatus{BookingAwaitingPayment, BookingPaymentInCash, BookingPaid} {
		if s.CanTransitionTo(next) {
			from = append(from, s)
		}
	}
	return from
}

// InitialBookingStatus derives the booking status from the accepted request.
func InitialBookingStatus(req RequestStatus) BookingStatus {
	if req.IsCash() {
		return BookingPaymentInCash
	}
	return BookingAwaitingPayment
}

func (s BookingStatus) Valid() bool {
	_, ok := bookingTransitions[s]
	return ok
}

func (s BookingStatus) IsTerminal() bool {
	return s.Valid() && len(bookingTransitions[s]) == 0
}

func (s BookingStatus) CanTransitionTo(next BookingStatus) bool {
	return slices.Contains(bookingTransitions[s], next)
}
