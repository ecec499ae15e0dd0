package projection

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"booking-service/internal/booking/domain"
	"booking-service/internal/booking/repo"
	"booking-service/internal/shared/util"
)

// countingRepo counts store reads and can fail writes.
type countingRepo struct {
	*repo.Memory
	rideReads  int
	todayReads int
	failWrites bool
}

func (c *countingRepo) GetRide(ctx context.Context, id int64) (*domain.Ride, error) {
	c.rideReads++
	return c.Memory.GetRide(ctx, id)
}

func (c *countingRepo) IsRideToday(ctx context.Context, id int64) (bool, error) {
	c.todayReads++
	return c.Memory.IsRideToday(ctx, id)
}

func (c *countingRepo) UpsertRide(ctx context.Context, ride domain.Ride) error {
	if c.failWrites {
		return errors.New("db down")
	}
	return c.Memory.UpsertRide(ctx, ride)
}

func TestLookupFallsBackToStoreOnMiss(t *testing.T) {
	ctx := context.Background()
	backing := &countingRepo{Memory: repo.NewMemory()}
	require.NoError(t, backing.Memory.UpsertRide(ctx, domain.Ride{ID: 1, DriverID: 9, BasePrice: 50}))

	s := NewStore(backing, util.Discard())

	ride, err := s.LookupRide(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(9), ride.DriverID)
	assert.Equal(t, 1, backing.rideReads)

	_, err = s.LookupRide(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, backing.rideReads, "second lookup is served from cache")

	_, err = s.LookupRide(ctx, 2)
	assert.ErrorIs(t, err, domain.ErrRideNotFound)
}

func TestUpsertIsLastWriteWins(t *testing.T) {
	ctx := context.Background()
	s := NewStore(repo.NewMemory(), util.Discard())

	require.NoError(t, s.UpsertSubZone(ctx, domain.SubZone{Name: "Z1", Price: 10}))
	require.NoError(t, s.UpsertSubZone(ctx, domain.SubZone{Name: "Z1", Price: 12}))
	zone, err := s.LookupSubZone(ctx, "Z1")
	require.NoError(t, err)
	assert.Equal(t, 12.0, zone.Price)

	require.NoError(t, s.UpsertUserGender(ctx, 4, domain.GenderFemale))
	gender, err := s.LookupUserGender(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, domain.GenderFemale, gender)

	_, err = s.LookupUserGender(ctx, 5)
	assert.ErrorIs(t, err, domain.ErrGenderNotFound)
	_, err = s.LookupSubZone(ctx, "nowhere")
	assert.ErrorIs(t, err, domain.ErrSubZoneNotFound)
}

func TestFailedPersistDoesNotPopulateCache(t *testing.T) {
	ctx := context.Background()
	backing := &countingRepo{Memory: repo.NewMemory(), failWrites: true}
	s := NewStore(backing, util.Discard())

	require.Error(t, s.UpsertRide(ctx, domain.Ride{ID: 1}))
	_, err := s.LookupRide(ctx, 1)
	assert.ErrorIs(t, err, domain.ErrRideNotFound)
}

func TestActiveTodaySurvivesRestart(t *testing.T) {
	ctx := context.Background()
	backing := &countingRepo{Memory: repo.NewMemory()}

	first := NewStore(backing, util.Discard())
	require.NoError(t, first.MarkRideActiveToday(ctx, 7))

	restarted := NewStore(backing, util.Discard())
	active, err := restarted.IsRideActiveToday(ctx, 7)
	require.NoError(t, err)
	assert.True(t, active)

	reads := backing.todayReads
	active, err = restarted.IsRideActiveToday(ctx, 7)
	require.NoError(t, err)
	assert.True(t, active)
	assert.Equal(t, reads, backing.todayReads, "positive answers are cached")

	require.NoError(t, restarted.ClearRideActiveToday(ctx, 7))
	active, err = restarted.IsRideActiveToday(ctx, 7)
	require.NoError(t, err)
	assert.False(t, active)

	active, err = first.IsRideActiveToday(ctx, 8)
	require.NoError(t, err)
	assert.False(t, active)
}

// racingRepo runs onRead after reading from the store and before the read
// is returned, standing in for an upsert that lands mid-lookup.
type racingRepo struct {
	*repo.Memory
	onRead func()
}

func (r *racingRepo) race() {
	if r.onRead != nil {
		hook := r.onRead
		r.onRead = nil
		hook()
	}
}

func (r *racingRepo) GetRide(ctx context.Context, id int64) (*domain.Ride, error) {
	ride, err := r.Memory.GetRide(ctx, id)
	r.race()
	return ride, err
}

func (r *racingRepo) GetSubZone(ctx context.Context, name string) (*domain.SubZone, error) {
	zone, err := r.Memory.GetSubZone(ctx, name)
	r.race()
	return zone, err
}

func (r *racingRepo) GetUserGender(ctx context.Context, userID int64) (domain.Gender, error) {
	gender, err := r.Memory.GetUserGender(ctx, userID)
	r.race()
	return gender, err
}

func TestMissFillNeverOverwritesConcurrentUpsert(t *testing.T) {
	ctx := context.Background()
	backing := &racingRepo{Memory: repo.NewMemory()}
	require.NoError(t, backing.Memory.UpsertRide(ctx, domain.Ride{ID: 1, DriverID: 9, BasePrice: 50}))
	require.NoError(t, backing.Memory.UpsertSubZone(ctx, domain.SubZone{Name: "Z1", Price: 10}))
	require.NoError(t, backing.Memory.UpsertUserGender(ctx, 4, domain.GenderFemale))

	s := NewStore(backing, util.Discard())

	backing.onRead = func() {
		require.NoError(t, s.UpsertRide(ctx, domain.Ride{ID: 1, DriverID: 9, BasePrice: 50, GirlsOnly: true}))
	}
	ride, err := s.LookupRide(ctx, 1)
	require.NoError(t, err)
	assert.True(t, ride.GirlsOnly)
	ride, err = s.LookupRide(ctx, 1)
	require.NoError(t, err)
	assert.True(t, ride.GirlsOnly, "cache keeps the newer upsert")

	backing.onRead = func() {
		require.NoError(t, s.UpsertSubZone(ctx, domain.SubZone{Name: "Z1", Price: 15}))
	}
	zone, err := s.LookupSubZone(ctx, "Z1")
	require.NoError(t, err)
	assert.Equal(t, 15.0, zone.Price)

	backing.onRead = func() {
		require.NoError(t, s.UpsertUserGender(ctx, 4, domain.GenderMale))
	}
	gender, err := s.LookupUserGender(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, domain.GenderMale, gender)
}
