package app

import (
	"context"
	"errors"

	"booking-service/internal/booking/authz"
	"booking-service/internal/booking/domain"
	"booking-service/internal/shared/apperrors"
	"booking-service/internal/shared/util"
)

// Projections is the read-through view of externally owned entities.
type Projections interface {
	UpsertRide(ctx context.Context, ride domain.Ride) error
	LookupRide(ctx context.Context, id int64) (domain.Ride, error)
	UpsertSubZone(ctx context.Context, zone domain.SubZone) error
	LookupSubZone(ctx context.Context, name string) (domain.SubZone, error)
	UpsertUserGender(ctx context.Context, userID int64, gender domain.Gender) error
	LookupUserGender(ctx context.Context, userID int64) (domain.Gender, error)
	MarkRideActiveToday(ctx context.Context, rideID int64) error
	ClearRideActiveToday(ctx context.Context, rideID int64) error
	IsRideActiveToday(ctx context.Context, rideID int64) (bool, error)
}

// BookingService coordinates the request and booking lifecycles. Every
// mutating operation commits the ledger write first and then hands the
// resulting effects to the publisher.
type BookingService struct {
	ledger      domain.LedgerRepository
	projections Projections
	gate        *authz.Gate
	effects     domain.EffectPublisher
	logger      *util.Logger
}

func NewBookingService(ledger domain.LedgerRepository, projections Projections, gate *authz.Gate, effects domain.EffectPublisher, logger *util.Logger) *BookingService {
	return &BookingService{
		ledger:      ledger,
		projections: projections,
		gate:        gate,
		effects:     effects,
		logger:      logger,
	}
}

// reject logs a refused operation at the level matching its cause.
func (s *BookingService) reject(instance string, err error) error {
	if apperrors.IsBusiness(err) {
		s.logger.Warn(instance, err.Error())
	} else {
		s.logger.Error(instance, err)
	}
	return err
}

// rideDriver returns the driver of rideID, used as the ownership subject of
// ride-scoped records.
func (s *BookingService) rideDriver(ctx context.Context, rideID int64) (int64, error) {
	ride, err := s.projections.LookupRide(ctx, rideID)
	if err != nil {
		return 0, err
	}
	return ride.DriverID, nil
}

// permitRideScoped runs the role check for op and, when the caller is not
// exempt, proves the caller drives rideID.
func (s *BookingService) permitRideScoped(ctx context.Context, op authz.Operation, caller authz.Caller, rideID int64) error {
	if err := s.gate.Permit(op, caller); err != nil {
		return err
	}
	if !s.gate.NeedsOwnership(op, caller) {
		return nil
	}
	driverID, err := s.rideDriver(ctx, rideID)
	if err != nil {
		return err
	}
	return s.gate.PermitRecord(op, caller, authz.Subject{DriverID: driverID}, domain.ErrNotRideDriver)
}

// drain hands effects to the publisher. Callers on the call surface ignore
// the error: the ledger write already committed and the publisher logged the
// loss. Event handlers return it so the delivery is retried.
func (s *BookingService) drain(ctx context.Context, effects []domain.Effect) error {
	if len(effects) == 0 {
		return nil
	}
	return s.effects.Drain(ctx, effects)
}

func isStale(err error) bool {
	return errors.Is(err, domain.ErrStaleStatus)
}
