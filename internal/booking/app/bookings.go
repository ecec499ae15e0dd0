package app

import (
	"context"
	"fmt"

	"booking-service/internal/booking/authz"
	"booking-service/internal/booking/domain"
)

// CancelBooking cancels a booking on a ride that is not running today and
// releases the seat, tells the driver and asks for a refund.
func (s *BookingService) CancelBooking(ctx context.Context, caller authz.Caller, id int64) (*domain.Booking, error) {
	instance := "BookingService.CancelBooking"

	if err := s.gate.Permit(authz.OpCancelBooking, caller); err != nil {
		return nil, s.reject(instance, err)
	}
	booking, err := s.ledger.GetBooking(ctx, id)
	if err != nil {
		return nil, s.reject(instance, err)
	}
	subject := authz.Subject{StudentID: booking.StudentID}
	if err := s.gate.PermitRecord(authz.OpCancelBooking, caller, subject, domain.ErrNotBookingOwner); err != nil {
		return nil, s.reject(instance, err)
	}

	active, err := s.projections.IsRideActiveToday(ctx, booking.RideID)
	if err != nil {
		return nil, s.reject(instance, err)
	}
	if active {
		return nil, s.reject(instance, domain.ErrRideActiveToday)
	}

	if !booking.Status.CanTransitionTo(domain.BookingCancelled) {
		return nil, s.reject(instance, fmt.Errorf("%w (status %q)", domain.ErrBookingClosed, booking.Status))
	}

	driverID, err := s.rideDriver(ctx, booking.RideID)
	if err != nil {
		return nil, s.reject(instance, err)
	}

	// The ledger re-checks the active-today set in the same write, so a
	// reminder that lands after the check above still blocks the cancel.
	change, err := s.ledger.CancelBooking(ctx, id, []domain.BookingStatus{booking.Status})
	if err != nil {
		if isStale(err) {
			err = fmt.Errorf("%w (status %q)", domain.ErrBookingClosed, change.Previous)
		}
		return nil, s.reject(instance, err)
	}
	cancelled := change.Booking
	s.logger.OK(instance, fmt.Sprintf("booking %d cancelled by student %d", cancelled.ID, caller.ID))

	_ = s.drain(ctx, []domain.Effect{
		domain.SeatIncrease(cancelled),
		domain.BookingCancelledNotice(cancelled, driverID),
		domain.RefundRequested(cancelled),
	})
	return &cancelled, nil
}

// RequestPaymentSend asks userID to pay for an existing booking. A zero
// userID targets the booking's student.
func (s *BookingService) RequestPaymentSend(ctx context.Context, caller authz.Caller, bookingID, userID int64) error {
	instance := "BookingService.RequestPaymentSend"

	if err := s.gate.Permit(authz.OpRequestPaymentSend, caller); err != nil {
		return s.reject(instance, err)
	}
	booking, err := s.ledger.GetBooking(ctx, bookingID)
	if err != nil {
		return s.reject(instance, err)
	}
	if userID == 0 {
		userID = booking.StudentID
	}

	_ = s.drain(ctx, []domain.Effect{domain.PaymentRequestNotice(*booking, userID)})
	s.logger.OK(instance, fmt.Sprintf("payment request for booking %d sent to user %d", booking.ID, userID))
	return nil
}

func (s *BookingService) FetchAllBookings(ctx context.Context, caller authz.Caller) ([]domain.Booking, error) {
	if err := s.gate.Permit(authz.OpFetchAllBookings, caller); err != nil {
		return nil, s.reject("BookingService.FetchAllBookings", err)
	}
	return s.ledger.ListBookings(ctx, domain.ListFilter{})
}

func (s *BookingService) FetchBooking(ctx context.Context, caller authz.Caller, id int64) (*domain.Booking, error) {
	instance := "BookingService.FetchBooking"

	if err := s.gate.Permit(authz.OpFetchBooking, caller); err != nil {
		return nil, s.reject(instance, err)
	}
	booking, err := s.ledger.GetBooking(ctx, id)
	if err != nil {
		return nil, s.reject(instance, err)
	}
	if err := s.permitRideScoped(ctx, authz.OpFetchBooking, caller, booking.RideID); err != nil {
		return nil, s.reject(instance, err)
	}
	return booking, nil
}

func (s *BookingService) FetchMyBookings(ctx context.Context, caller authz.Caller) ([]domain.Booking, error) {
	if err := s.gate.Permit(authz.OpFetchMyBookings, caller); err != nil {
		return nil, s.reject("BookingService.FetchMyBookings", err)
	}
	return s.ledger.ListBookings(ctx, domain.ListFilter{StudentID: caller.ID})
}

func (s *BookingService) FetchBookingsForRide(ctx context.Context, caller authz.Caller, rideID int64) ([]domain.Booking, error) {
	if err := s.permitRideScoped(ctx, authz.OpFetchBookingsForRide, caller, rideID); err != nil {
		return nil, s.reject("BookingService.FetchBookingsForRide", err)
	}
	return s.ledger.ListBookings(ctx, domain.ListFilter{RideID: rideID})
}
