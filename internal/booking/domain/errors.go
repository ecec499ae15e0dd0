package domain

import (
	"errors"
	"fmt"

	"booking-service/internal/shared/apperrors"
)

func wrap(sentinel error, msg string) error {
	return fmt.Errorf("%w: %s", sentinel, msg)
}

var (
	ErrRideNotFound    = wrap(apperrors.ErrNotFound, "ride not found")
	ErrSubZoneNotFound = wrap(apperrors.ErrNotFound, "subzone not found")
	ErrGenderNotFound  = wrap(apperrors.ErrNotFound, "user gender not found")
	ErrRequestNotFound = wrap(apperrors.ErrNotFound, "request not found")
	ErrBookingNotFound = wrap(apperrors.ErrNotFound, "booking not found")

	ErrIsRideDriver     = wrap(apperrors.ErrForbidden, "you are the driver of this ride")
	ErrNotRideDriver    = wrap(apperrors.ErrForbidden, "you are not the driver of this ride")
	ErrNotRequestOwner  = wrap(apperrors.ErrForbidden, "you are not the student of this request")
	ErrNotBookingOwner  = wrap(apperrors.ErrForbidden, "you are not the student of this booking")
	ErrGirlsOnly        = wrap(apperrors.ErrForbidden, "you cannot request a ride for a girls only ride")
	ErrGenderUnverified = wrap(apperrors.ErrForbidden, "girls only ride requires a known gender")

	ErrDuplicateRequest = wrap(apperrors.ErrConflict, "you have already requested this ride")
	ErrRequestRejected  = wrap(apperrors.ErrConflict, "request has already been rejected")
	ErrRequestClosed    = wrap(apperrors.ErrConflict, "request is no longer awaiting a response")
	ErrBookingClosed    = wrap(apperrors.ErrConflict, "booking can no longer change status")
	ErrRideActiveToday  = wrap(apperrors.ErrConflict, "you cannot cancel a booking for a ride scheduled for today")
	ErrStaleStatus      = wrap(apperrors.ErrConflict, "status changed concurrently")

	ErrInvalidPaymentOption = wrap(apperrors.ErrValidation, "invalid payment option")
	ErrInvalidPayload       = errors.New("invalid event payload")
)

// RequestTransitionError picks the error a caller sees when a request cannot
// move out of current.
func RequestTransitionError(current RequestStatus) error {
	if current == RequestRejected {
		return ErrRequestRejected
	}
	return fmt.Errorf("%w (status %q)", ErrRequestClosed, current)
}
