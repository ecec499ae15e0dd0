package app

import (
	"context"
	"errors"
	"fmt"

	"booking-service/internal/booking/authz"
	"booking-service/internal/booking/domain"
)

func (s *BookingService) CreateRequest(ctx context.Context, caller authz.Caller, input domain.CreateRequestInput) (*domain.Request, error) {
	instance := "BookingService.CreateRequest"

	if err := s.gate.Permit(authz.OpCreateRequest, caller); err != nil {
		return nil, s.reject(instance, err)
	}

	payment, err := domain.ParsePaymentOption(input.PaymentOption)
	if err != nil {
		return nil, s.reject(instance, err)
	}

	ride, err := s.projections.LookupRide(ctx, input.RideID)
	if err != nil {
		return nil, s.reject(instance, err)
	}
	if ride.DriverID == caller.ID {
		return nil, s.reject(instance, domain.ErrIsRideDriver)
	}

	if ride.GirlsOnly {
		gender, err := s.projections.LookupUserGender(ctx, caller.ID)
		switch {
		case errors.Is(err, domain.ErrGenderNotFound):
			return nil, s.reject(instance, domain.ErrGenderUnverified)
		case err != nil:
			return nil, s.reject(instance, err)
		case gender == domain.GenderMale:
			return nil, s.reject(instance, domain.ErrGirlsOnly)
		}
	}

	zone, err := s.projections.LookupSubZone(ctx, input.SubZoneName)
	if err != nil {
		return nil, s.reject(instance, err)
	}

	exists, err := s.ledger.HasActiveRequest(ctx, caller.ID, ride.ID)
	if err != nil {
		return nil, s.reject(instance, err)
	}
	if exists {
		return nil, s.reject(instance, domain.ErrDuplicateRequest)
	}

	req := &domain.Request{
		StudentID:   caller.ID,
		RideID:      ride.ID,
		SubZoneName: zone.Name,
		Price:       ride.BasePrice + zone.Price,
		Status:      domain.InitialRequestStatus(payment),
	}
	if err := s.ledger.CreateRequest(ctx, req); err != nil {
		return nil, s.reject(instance, err)
	}

	s.logger.OK(instance, fmt.Sprintf("request %d created by user %d for ride %d (%q, price %.2f)", req.ID, req.StudentID, req.RideID, req.Status, req.Price))
	return req, nil
}

// AcceptRequest turns an awaiting request into a booking. The booking copies
// the request price.
func (s *BookingService) AcceptRequest(ctx context.Context, caller authz.Caller, id int64) (*domain.Booking, error) {
	instance := "BookingService.AcceptRequest"

	req, err := s.driverOwnedRequest(ctx, authz.OpAcceptRequest, caller, id)
	if err != nil {
		return nil, s.reject(instance, err)
	}
	if !req.Status.CanTransitionTo(domain.RequestAccepted) {
		return nil, s.reject(instance, domain.RequestTransitionError(req.Status))
	}

	booking := &domain.Booking{
		RequestID: req.ID,
		StudentID: req.StudentID,
		RideID:    req.RideID,
		Price:     req.Price,
		Status:    domain.InitialBookingStatus(req.Status),
	}
	if _, err := s.ledger.AcceptRequest(ctx, req.ID, []domain.RequestStatus{req.Status}, booking); err != nil {
		return nil, s.reject(instance, s.requestWriteError(ctx, req.ID, err))
	}
	s.logger.OK(instance, fmt.Sprintf("request %d accepted, booking %d is %q", req.ID, booking.ID, booking.Status))

	var effects []domain.Effect
	if booking.Status == domain.BookingAwaitingPayment {
		effects = append(effects, domain.PaymentRegistration(*booking))
	}
	effects = append(effects, domain.SeatReduce(*booking))
	_ = s.drain(ctx, effects)

	return booking, nil
}

func (s *BookingService) RejectRequest(ctx context.Context, caller authz.Caller, id int64) (*domain.Request, error) {
	instance := "BookingService.RejectRequest"

	req, err := s.driverOwnedRequest(ctx, authz.OpRejectRequest, caller, id)
	if err != nil {
		return nil, s.reject(instance, err)
	}
	updated, err := s.moveRequest(ctx, req, domain.RequestRejected)
	if err != nil {
		return nil, s.reject(instance, err)
	}

	s.logger.OK(instance, fmt.Sprintf("request %d rejected", updated.ID))
	return updated, nil
}

func (s *BookingService) CancelRequest(ctx context.Context, caller authz.Caller, id int64) (*domain.Request, error) {
	instance := "BookingService.CancelRequest"

	if err := s.gate.Permit(authz.OpCancelRequest, caller); err != nil {
		return nil, s.reject(instance, err)
	}
	req, err := s.ledger.GetRequest(ctx, id)
	if err != nil {
		return nil, s.reject(instance, err)
	}
	subject := authz.Subject{StudentID: req.StudentID}
	if err := s.gate.PermitRecord(authz.OpCancelRequest, caller, subject, domain.ErrNotRequestOwner); err != nil {
		return nil, s.reject(instance, err)
	}

	updated, err := s.moveRequest(ctx, req, domain.RequestCancelled)
	if err != nil {
		return nil, s.reject(instance, err)
	}

	s.logger.OK(instance, fmt.Sprintf("request %d cancelled by student %d", updated.ID, caller.ID))
	return updated, nil
}

// driverOwnedRequest loads request id and proves the caller drives its ride.
func (s *BookingService) driverOwnedRequest(ctx context.Context, op authz.Operation, caller authz.Caller, id int64) (*domain.Request, error) {
	if err := s.gate.Permit(op, caller); err != nil {
		return nil, err
	}
	req, err := s.ledger.GetRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.permitRideScoped(ctx, op, caller, req.RideID); err != nil {
		return nil, err
	}
	return req, nil
}

func (s *BookingService) moveRequest(ctx context.Context, req *domain.Request, to domain.RequestStatus) (*domain.Request, error) {
	if !req.Status.CanTransitionTo(to) {
		return nil, domain.RequestTransitionError(req.Status)
	}
	updated, err := s.ledger.TransitionRequest(ctx, req.ID, []domain.RequestStatus{req.Status}, to)
	if err != nil {
		return nil, s.requestWriteError(ctx, req.ID, err)
	}
	return updated, nil
}

// requestWriteError turns a lost compare-and-set into the error the caller
// would have seen had the concurrent write landed first.
func (s *BookingService) requestWriteError(ctx context.Context, id int64, err error) error {
	if !isStale(err) {
		return err
	}
	current, getErr := s.ledger.GetRequest(ctx, id)
	if getErr != nil {
		return err
	}
	return domain.RequestTransitionError(current.Status)
}

func (s *BookingService) FetchAllRequests(ctx context.Context, caller authz.Caller) ([]domain.Request, error) {
	if err := s.gate.Permit(authz.OpFetchAllRequests, caller); err != nil {
		return nil, s.reject("BookingService.FetchAllRequests", err)
	}
	return s.ledger.ListRequests(ctx, domain.ListFilter{})
}

func (s *BookingService) FetchRequest(ctx context.Context, caller authz.Caller, id int64) (*domain.Request, error) {
	req, err := s.driverOwnedRequest(ctx, authz.OpFetchRequest, caller, id)
	if err != nil {
		return nil, s.reject("BookingService.FetchRequest", err)
	}
	return req, nil
}

func (s *BookingService) FetchMyRequests(ctx context.Context, caller authz.Caller) ([]domain.Request, error) {
	if err := s.gate.Permit(authz.OpFetchMyRequests, caller); err != nil {
		return nil, s.reject("BookingService.FetchMyRequests", err)
	}
	return s.ledger.ListRequests(ctx, domain.ListFilter{StudentID: caller.ID})
}

func (s *BookingService) FetchRequestsForRide(ctx context.Context, caller authz.Caller, rideID int64) ([]domain.Request, error) {
	if err := s.permitRideScoped(ctx, authz.OpFetchRequestsForRide, caller, rideID); err != nil {
		return nil, s.reject("BookingService.FetchRequestsForRide", err)
	}
	return s.ledger.ListRequests(ctx, domain.ListFilter{RideID: rideID})
}
