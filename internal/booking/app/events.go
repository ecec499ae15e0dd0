package app

import (
	"context"
	"errors"
	"fmt"

	"booking-service/internal/booking/domain"
	"booking-service/internal/shared/util"
)

// EventHandler applies one inbound message body. Errors marked with
// util.Permanent are not worth redelivering.
type EventHandler func(ctx context.Context, body []byte) error

// EventHandlers maps every inbound topic to its handler.
func (s *BookingService) EventHandlers() map[string]EventHandler {
	return map[string]EventHandler{
		domain.TopicRideDetails:       s.handleRideDetails,
		domain.TopicSubZoneDetails:    s.handleSubZoneDetails,
		domain.TopicBookingPaid:       s.handleBookingPaid,
		domain.TopicNotifyPassengers:  s.handleNotifyPassengers,
		domain.TopicRideCancelled:     s.handleRideCancelled,
		domain.TopicRideCompleted:     s.handleRideCompleted,
		domain.TopicUserGenderDetails: s.handleUserGender,
	}
}

func decode(body []byte, v any) error {
	if err := domain.DecodeEvent(body, v); err != nil {
		return util.Permanent(err)
	}
	return nil
}

func decodeID(body []byte) (int64, error) {
	id, err := domain.DecodeBareID(body)
	if err != nil {
		return 0, util.Permanent(err)
	}
	return id, nil
}

func (s *BookingService) handleRideDetails(ctx context.Context, body []byte) error {
	var ev domain.RideDetailsEvent
	if err := decode(body, &ev); err != nil {
		return err
	}
	return s.ApplyRideDetails(ctx, ev.Ride())
}

func (s *BookingService) handleSubZoneDetails(ctx context.Context, body []byte) error {
	var ev domain.SubZoneDetailsEvent
	if err := decode(body, &ev); err != nil {
		return err
	}
	if err := ev.Validate(); err != nil {
		return util.Permanent(err)
	}
	return s.ApplySubZone(ctx, domain.SubZone{Name: ev.SubzoneName, Price: ev.SubZonePrice})
}

func (s *BookingService) handleBookingPaid(ctx context.Context, body []byte) error {
	id, err := decodeID(body)
	if err != nil {
		return err
	}
	return s.ApplyBookingPaid(ctx, id)
}

func (s *BookingService) handleNotifyPassengers(ctx context.Context, body []byte) error {
	var ev domain.NotifyPassengersEvent
	if err := decode(body, &ev); err != nil {
		return err
	}
	return s.ApplyNotifyPassengers(ctx, ev)
}

func (s *BookingService) handleRideCancelled(ctx context.Context, body []byte) error {
	id, err := decodeID(body)
	if err != nil {
		return err
	}
	return s.ApplyRideCancelled(ctx, id)
}

func (s *BookingService) handleRideCompleted(ctx context.Context, body []byte) error {
	id, err := decodeID(body)
	if err != nil {
		return err
	}
	return s.ApplyRideCompleted(ctx, id)
}

func (s *BookingService) handleUserGender(ctx context.Context, body []byte) error {
	var ev domain.UserGenderEvent
	if err := decode(body, &ev); err != nil {
		return err
	}
	if err := ev.Validate(); err != nil {
		return util.Permanent(err)
	}
	return s.ApplyUserGender(ctx, ev.ID.Int64(), ev.Gender)
}

func (s *BookingService) ApplyRideDetails(ctx context.Context, ride domain.Ride) error {
	if err := s.projections.UpsertRide(ctx, ride); err != nil {
		return err
	}
	s.logger.OK("BookingService.ApplyRideDetails", fmt.Sprintf("ride %d stored (driver %d, base price %.2f, girls only %t)", ride.ID, ride.DriverID, ride.BasePrice, ride.GirlsOnly))
	return nil
}

func (s *BookingService) ApplySubZone(ctx context.Context, zone domain.SubZone) error {
	if err := s.projections.UpsertSubZone(ctx, zone); err != nil {
		return err
	}
	s.logger.OK("BookingService.ApplySubZone", fmt.Sprintf("subzone %q stored (price %.2f)", zone.Name, zone.Price))
	return nil
}

func (s *BookingService) ApplyUserGender(ctx context.Context, userID int64, gender domain.Gender) error {
	if err := s.projections.UpsertUserGender(ctx, userID, gender); err != nil {
		return err
	}
	s.logger.OK("BookingService.ApplyUserGender", fmt.Sprintf("gender of user %d stored", userID))
	return nil
}

// ApplyBookingPaid marks a booking paid. Redelivery of an already paid
// booking is a no-op; a closed booking is left untouched.
func (s *BookingService) ApplyBookingPaid(ctx context.Context, bookingID int64) error {
	instance := "BookingService.ApplyBookingPaid"

	change, err := s.ledger.TransitionBooking(ctx, bookingID, domain.BookingSourcesFor(domain.BookingPaid), domain.BookingPaid)
	switch {
	case errors.Is(err, domain.ErrBookingNotFound):
		return util.Permanent(fmt.Errorf("booking %d: %w", bookingID, err))
	case isStale(err) && change.Previous == domain.BookingPaid:
		s.logger.Debug(instance, fmt.Sprintf("booking %d already paid", bookingID))
		return nil
	case isStale(err):
		s.logger.Warn(instance, fmt.Sprintf("booking %d is %q, payment ignored", bookingID, change.Previous))
		return nil
	case err != nil:
		return err
	}

	s.logger.OK(instance, fmt.Sprintf("booking %d is now %q", bookingID, change.Booking.Status))
	return nil
}

// ApplyNotifyPassengers marks the ride as running today and reminds every
// student whose booking is paid.
func (s *BookingService) ApplyNotifyPassengers(ctx context.Context, ev domain.NotifyPassengersEvent) error {
	rideID := ev.RideID.Int64()
	if err := s.projections.MarkRideActiveToday(ctx, rideID); err != nil {
		return err
	}

	bookings, err := s.ledger.ListBookings(ctx, domain.ListFilter{RideID: rideID})
	if err != nil {
		return err
	}

	var effects []domain.Effect
	for _, b := range bookings {
		if b.Status == domain.BookingPaid {
			effects = append(effects, domain.BookingReminder(b, ev.RideTime))
		}
	}
	if err := s.drain(ctx, effects); err != nil {
		return err
	}

	s.logger.OK("BookingService.ApplyNotifyPassengers", fmt.Sprintf("ride %d active today, %d reminders", rideID, len(effects)))
	return nil
}

// ApplyRideCancelled notifies students holding a live booking. Booking
// statuses are not changed.
func (s *BookingService) ApplyRideCancelled(ctx context.Context, rideID int64) error {
	bookings, err := s.ledger.ListBookings(ctx, domain.ListFilter{RideID: rideID})
	if err != nil {
		return err
	}

	var effects []domain.Effect
	for _, b := range bookings {
		if b.Status == domain.BookingPaid || b.Status == domain.BookingPaymentInCash {
			effects = append(effects, domain.RideCancelledNotice(b))
		}
	}
	if err := s.drain(ctx, effects); err != nil {
		return err
	}

	s.logger.OK("BookingService.ApplyRideCancelled", fmt.Sprintf("ride %d cancelled, %d students notified", rideID, len(effects)))
	return nil
}

// ApplyRideCompleted clears the ride from today's set and completes its
// bookings. Every completed booking that was paid gets a completion notice;
// the notices are derived from stored state so a redelivery can resend one
// whose publish was lost, and dedup keys stop duplicates.
func (s *BookingService) ApplyRideCompleted(ctx context.Context, rideID int64) error {
	if err := s.projections.ClearRideActiveToday(ctx, rideID); err != nil {
		return err
	}

	changes, err := s.ledger.CompleteRideBookings(ctx, rideID)
	if err != nil {
		return err
	}

	bookings, err := s.ledger.ListBookings(ctx, domain.ListFilter{RideID: rideID})
	if err != nil {
		return err
	}

	var effects []domain.Effect
	for _, b := range bookings {
		if b.Status == domain.BookingCompleted && b.WasPaid() {
			effects = append(effects, domain.RideCompletedNotice(b))
		}
	}
	if err := s.drain(ctx, effects); err != nil {
		return err
	}

	s.logger.OK("BookingService.ApplyRideCompleted", fmt.Sprintf("ride %d completed, %d bookings closed", rideID, len(changes)))
	return nil
}
