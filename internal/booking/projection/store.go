package projection

import (
	"context"
	"fmt"
	"sync"

	"booking-service/internal/booking/domain"
	"booking-service/internal/shared/util"
)

// Store is a read-through cache over the persistent projections. The
// repository is the source of truth: writes go to it first and lookups fall
// back to it on a miss, so a fresh process starts with an empty cache.
type Store struct {
	repo domain.ProjectionRepository
	log  *util.Logger

	mu       sync.RWMutex
	rides    map[int64]domain.Ride
	subZones map[string]domain.SubZone
	genders  map[int64]domain.Gender
	today    map[int64]struct{}
}

func NewStore(repo domain.ProjectionRepository, log *util.Logger) *Store {
	return &Store{
		repo:     repo,
		log:      log,
		rides:    make(map[int64]domain.Ride),
		subZones: make(map[string]domain.SubZone),
		genders:  make(map[int64]domain.Gender),
		today:    make(map[int64]struct{}),
	}
}

func (s *Store) UpsertRide(ctx context.Context, ride domain.Ride) error {
	if err := s.repo.UpsertRide(ctx, ride); err != nil {
		return fmt.Errorf("persist ride %d: %w", ride.ID, err)
	}
	s.mu.Lock()
	s.rides[ride.ID] = ride
	s.mu.Unlock()
	return nil
}

func (s *Store) LookupRide(ctx context.Context, id int64) (domain.Ride, error) {
	s.mu.RLock()
	ride, ok := s.rides[id]
	s.mu.RUnlock()
	if ok {
		return ride, nil
	}

	stored, err := s.repo.GetRide(ctx, id)
	if err != nil {
		return domain.Ride{}, err
	}
	s.log.Debug("Projection.LookupRide", fmt.Sprintf("cache miss for ride %d filled from store", id))

	// An upsert that landed while the store was read wins over this fill.
	s.mu.Lock()
	defer s.mu.Unlock()
	if cached, ok := s.rides[id]; ok {
		return cached, nil
	}
	s.rides[id] = *stored
	return *stored, nil
}

func (s *Store) UpsertSubZone(ctx context.Context, zone domain.SubZone) error {
	if err := s.repo.UpsertSubZone(ctx, zone); err != nil {
		return fmt.Errorf("persist subzone %q: %w", zone.Name, err)
	}
	s.mu.Lock()
	s.subZones[zone.Name] = zone
	s.mu.Unlock()
	return nil
}

func (s *Store) LookupSubZone(ctx context.Context, name string) (domain.SubZone, error) {
	s.mu.RLock()
	zone, ok := s.subZones[name]
	s.mu.RUnlock()
	if ok {
		return zone, nil
	}

	stored, err := s.repo.GetSubZone(ctx, name)
	if err != nil {
		return domain.SubZone{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if cached, ok := s.subZones[name]; ok {
		return cached, nil
	}
	s.subZones[name] = *stored
	return *stored, nil
}

func (s *Store) UpsertUserGender(ctx context.Context, userID int64, gender domain.Gender) error {
	if err := s.repo.UpsertUserGender(ctx, userID, gender); err != nil {
		return fmt.Errorf("persist gender of user %d: %w", userID, err)
	}
	s.mu.Lock()
	s.genders[userID] = gender
	s.mu.Unlock()
	return nil
}

func (s *Store) LookupUserGender(ctx context.Context, userID int64) (domain.Gender, error) {
	s.mu.RLock()
	gender, ok := s.genders[userID]
	s.mu.RUnlock()
	if ok {
		return gender, nil
	}

	stored, err := s.repo.GetUserGender(ctx, userID)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if cached, ok := s.genders[userID]; ok {
		return cached, nil
	}
	s.genders[userID] = stored
	return stored, nil
}

func (s *Store) MarkRideActiveToday(ctx context.Context, rideID int64) error {
	if err := s.repo.MarkRideToday(ctx, rideID); err != nil {
		return fmt.Errorf("mark ride %d active today: %w", rideID, err)
	}
	s.mu.Lock()
	s.today[rideID] = struct{}{}
	s.mu.Unlock()
	return nil
}

func (s *Store) ClearRideActiveToday(ctx context.Context, rideID int64) error {
	// Drop the cached flag first so a failed store write never leaves a
	// stale positive entry behind.
	s.mu.Lock()
	delete(s.today, rideID)
	s.mu.Unlock()

	if err := s.repo.ClearRideToday(ctx, rideID); err != nil {
		return fmt.Errorf("clear ride %d active today: %w", rideID, err)
	}
	return nil
}

// IsRideActiveToday caches positives only; a miss always asks the store.
func (s *Store) IsRideActiveToday(ctx context.Context, rideID int64) (bool, error) {
	s.mu.RLock()
	_, ok := s.today[rideID]
	s.mu.RUnlock()
	if ok {
		return true, nil
	}

	active, err := s.repo.IsRideToday(ctx, rideID)
	if err != nil {
		return false, fmt.Errorf("check ride %d active today: %w", rideID, err)
	}
	if active {
		s.mu.Lock()
		s.today[rideID] = struct{}{}
		s.mu.Unlock()
	}
	return active, nil
}
