package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"booking-service/internal/booking/domain"
)

func (r *Postgres) UpsertRide(ctx context.Context, ride domain.Ride) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO rides (id, driver_id, base_price, girls_only)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET driver_id = EXCLUDED.driver_id,
		    base_price = EXCLUDED.base_price,
		    girls_only = EXCLUDED.girls_only,
		    updated_at = NOW()
	`, ride.ID, ride.DriverID, ride.BasePrice, ride.GirlsOnly)
	if err != nil {
		return fmt.Errorf("upsert ride failed: %w", err)
	}
	return nil
}

func (r *Postgres) GetRide(ctx context.Context, id int64) (*domain.Ride, error) {
	var ride domain.Ride
	err := r.db.QueryRow(ctx, `
		SELECT id, driver_id, base_price, girls_only FROM rides WHERE id = $1
	`, id).Scan(&ride.ID, &ride.DriverID, &ride.BasePrice, &ride.GirlsOnly)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrRideNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get ride %d: %w", id, err)
	}
	return &ride, nil
}

func (r *Postgres) UpsertSubZone(ctx context.Context, zone domain.SubZone) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO subzones (name, price)
		VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE
		SET price = EXCLUDED.price, updated_at = NOW()
	`, zone.Name, zone.Price)
	if err != nil {
		return fmt.Errorf("upsert subzone failed: %w", err)
	}
	return nil
}

func (r *Postgres) GetSubZone(ctx context.Context, name string) (*domain.SubZone, error) {
	var zone domain.SubZone
	err := r.db.QueryRow(ctx, `
		SELECT name, price FROM subzones WHERE name = $1
	`, name).Scan(&zone.Name, &zone.Price)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrSubZoneNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get subzone %q: %w", name, err)
	}
	return &zone, nil
}

func (r *Postgres) UpsertUserGender(ctx context.Context, userID int64, gender domain.Gender) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO user_genders (user_id, gender)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE
		SET gender = EXCLUDED.gender, updated_at = NOW()
	`, userID, string(gender))
	if err != nil {
		return fmt.Errorf("upsert user gender failed: %w", err)
	}
	return nil
}

func (r *Postgres) GetUserGender(ctx context.Context, userID int64) (domain.Gender, error) {
	var gender string
	err := r.db.QueryRow(ctx, `
		SELECT gender FROM user_genders WHERE user_id = $1
	`, userID).Scan(&gender)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", domain.ErrGenderNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get gender of user %d: %w", userID, err)
	}
	return domain.Gender(gender), nil
}

func (r *Postgres) MarkRideToday(ctx context.Context, rideID int64) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO rides_today (ride_id) VALUES ($1)
		ON CONFLICT (ride_id) DO NOTHING
	`, rideID)
	if err != nil {
		return fmt.Errorf("mark ride today failed: %w", err)
	}
	return nil
}

func (r *Postgres) ClearRideToday(ctx context.Context, rideID int64) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM rides_today WHERE ride_id = $1`, rideID); err != nil {
		return fmt.Errorf("clear ride today failed: %w", err)
	}
	return nil
}

func (r *Postgres) IsRideToday(ctx context.Context, rideID int64) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM rides_today WHERE ride_id = $1)
	`, rideID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check ride today %d: %w", rideID, err)
	}
	return exists, nil
}
