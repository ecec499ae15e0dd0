package repo

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"booking-service/internal/booking/domain"
)

//go:embed schema.sql
var schema string

const uniqueViolation = "23505"

type Postgres struct {
	db *pgxpool.Pool
}

func NewPostgres(db *pgxpool.Pool) *Postgres {
	return &Postgres{db: db}
}

var (
	_ domain.LedgerRepository     = (*Postgres)(nil)
	_ domain.ProjectionRepository = (*Postgres)(nil)
	_ domain.Deduplicator         = (*Postgres)(nil)
	_ domain.OutboxRepository     = (*Postgres)(nil)
	_ domain.DeadLetterRepository = (*Postgres)(nil)
)

// Migrate applies the embedded schema. Every statement is idempotent.
func (r *Postgres) Migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(schema, ";\n") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := r.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (r *Postgres) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func requestStatuses(in []domain.RequestStatus) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = string(s)
	}
	return out
}

func bookingStatuses(in []domain.BookingStatus) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = string(s)
	}
	return out
}

const requestColumns = `id, student_id, ride_id, subzone_name, price, status, created_at, updated_at`

func scanRequest(row pgx.Row) (domain.Request, error) {
	var (
		req    domain.Request
		status string
	)
	err := row.Scan(&req.ID, &req.StudentID, &req.RideID, &req.SubZoneName, &req.Price, &status, &req.CreatedAt, &req.UpdatedAt)
	req.Status = domain.RequestStatus(status)
	return req, err
}

const bookingColumns = `id, request_id, student_id, ride_id, price, status, paid_at, created_at, updated_at`

func scanBooking(row pgx.Row) (domain.Booking, error) {
	var (
		b      domain.Booking
		status string
	)
	err := row.Scan(&b.ID, &b.RequestID, &b.StudentID, &b.RideID, &b.Price, &status, &b.PaidAt, &b.CreatedAt, &b.UpdatedAt)
	b.Status = domain.BookingStatus(status)
	return b, err
}

func (r *Postgres) CreateRequest(ctx context.Context, req *domain.Request) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO requests (student_id, ride_id, subzone_name, price, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at
	`, req.StudentID, req.RideID, req.SubZoneName, req.Price, string(req.Status),
	).Scan(&req.ID, &req.CreatedAt, &req.UpdatedAt)
	if isUniqueViolation(err) {
		return domain.ErrDuplicateRequest
	}
	if err != nil {
		return fmt.Errorf("insert request failed: %w", err)
	}
	return nil
}

func (r *Postgres) GetRequest(ctx context.Context, id int64) (*domain.Request, error) {
	req, err := scanRequest(r.db.QueryRow(ctx, `SELECT `+requestColumns+` FROM requests WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrRequestNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get request %d: %w", id, err)
	}
	return &req, nil
}

func (r *Postgres) ListRequests(ctx context.Context, filter domain.ListFilter) ([]domain.Request, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+requestColumns+`
		FROM requests
		WHERE ($1::bigint = 0 OR student_id = $1) AND ($2::bigint = 0 OR ride_id = $2)
		ORDER BY id
	`, filter.StudentID, filter.RideID)
	if err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	defer rows.Close()

	out := []domain.Request{}
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan request: %w", err)
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

func (r *Postgres) HasActiveRequest(ctx context.Context, studentID, rideID int64) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM requests
			WHERE student_id = $1 AND ride_id = $2 AND status NOT IN ($3, $4)
		)
	`, studentID, rideID, string(domain.RequestCancelled), string(domain.RequestRejected)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check active request: %w", err)
	}
	return exists, nil
}

func (r *Postgres) TransitionRequest(ctx context.Context, id int64, from []domain.RequestStatus, to domain.RequestStatus) (*domain.Request, error) {
	return r.transitionRequest(ctx, r.db, id, from, to)
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (r *Postgres) transitionRequest(ctx context.Context, q querier, id int64, from []domain.RequestStatus, to domain.RequestStatus) (*domain.Request, error) {
	req, err := scanRequest(q.QueryRow(ctx, `
		UPDATE requests
		SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = ANY($3)
		RETURNING `+requestColumns,
		string(to), id, requestStatuses(from)))
	if errors.Is(err, pgx.ErrNoRows) {
		if _, getErr := r.GetRequest(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, domain.ErrStaleStatus
	}
	if err != nil {
		return nil, fmt.Errorf("update request %d: %w", id, err)
	}
	return &req, nil
}

func (r *Postgres) AcceptRequest(ctx context.Context, id int64, from []domain.RequestStatus, booking *domain.Booking) (*domain.Request, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	req, err := r.transitionRequest(ctx, tx, id, from, domain.RequestAccepted)
	if err != nil {
		return nil, err
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO bookings (request_id, student_id, ride_id, price, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at
	`, booking.RequestID, booking.StudentID, booking.RideID, booking.Price, string(booking.Status),
	).Scan(&booking.ID, &booking.CreatedAt, &booking.UpdatedAt)
	if isUniqueViolation(err) {
		return nil, domain.ErrStaleStatus
	}
	if err != nil {
		return nil, fmt.Errorf("insert booking failed: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit accept: %w", err)
	}
	return req, nil
}

func (r *Postgres) GetBooking(ctx context.Context, id int64) (*domain.Booking, error) {
	b, err := scanBooking(r.db.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrBookingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get booking %d: %w", id, err)
	}
	return &b, nil
}

func (r *Postgres) ListBookings(ctx context.Context, filter domain.ListFilter) ([]domain.Booking, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE ($1::bigint = 0 OR student_id = $1) AND ($2::bigint = 0 OR ride_id = $2)
		ORDER BY id
	`, filter.StudentID, filter.RideID)
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}
	defer rows.Close()

	out := []domain.Booking{}
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("scan booking: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (r *Postgres) TransitionBooking(ctx context.Context, id int64, from []domain.BookingStatus, to domain.BookingStatus) (domain.BookingChange, error) {
	return r.transitionBooking(ctx, id, from, to, false)
}

func (r *Postgres) CancelBooking(ctx context.Context, id int64, from []domain.BookingStatus) (domain.BookingChange, error) {
	return r.transitionBooking(ctx, id, from, domain.BookingCancelled, true)
}

// transitionBooking locks the booking, checks its status against from and
// writes to. With notToday the write also requires the booking's ride to be
// absent from rides_today at that moment.
func (r *Postgres) transitionBooking(ctx context.Context, id int64, from []domain.BookingStatus, to domain.BookingStatus, notToday bool) (domain.BookingChange, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return domain.BookingChange{}, err
	}
	defer tx.Rollback(ctx)

	current, err := scanBooking(tx.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.BookingChange{}, domain.ErrBookingNotFound
	}
	if err != nil {
		return domain.BookingChange{}, fmt.Errorf("lock booking %d: %w", id, err)
	}

	change := domain.BookingChange{Booking: current, Previous: current.Status}
	if !slices.Contains(from, current.Status) {
		return change, domain.ErrStaleStatus
	}

	err = tx.QueryRow(ctx, `
		UPDATE bookings b
		SET status = $1,
		    paid_at = CASE WHEN $1 = $3 THEN COALESCE(b.paid_at, NOW()) ELSE b.paid_at END,
		    updated_at = NOW()
		WHERE b.id = $2
		  AND (NOT $4::boolean OR NOT EXISTS (SELECT 1 FROM rides_today t WHERE t.ride_id = b.ride_id))
		RETURNING b.status, b.paid_at, b.updated_at
	`, string(to), id, string(domain.BookingPaid), notToday,
	).Scan((*string)(&change.Booking.Status), &change.Booking.PaidAt, &change.Booking.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return change, domain.ErrRideActiveToday
	}
	if err != nil {
		return domain.BookingChange{}, fmt.Errorf("update booking %d: %w", id, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.BookingChange{}, fmt.Errorf("commit booking %d: %w", id, err)
	}
	return change, nil
}

func (r *Postgres) CompleteRideBookings(ctx context.Context, rideID int64) ([]domain.BookingChange, error) {
	rows, err := r.db.Query(ctx, `
		WITH prev AS (
			SELECT id, status FROM bookings
			WHERE ride_id = $1 AND status = ANY($2)
			FOR UPDATE
		)
		UPDATE bookings b
		SET status = $3, updated_at = NOW()
		FROM prev
		WHERE b.id = prev.id
		RETURNING b.id, b.request_id, b.student_id, b.ride_id, b.price, b.status, b.paid_at, b.created_at, b.updated_at, prev.status
	`, rideID, bookingStatuses(domain.BookingSourcesFor(domain.BookingCompleted)), string(domain.BookingCompleted))
	if err != nil {
		return nil, fmt.Errorf("complete bookings of ride %d: %w", rideID, err)
	}
	defer rows.Close()

	var changes []domain.BookingChange
	for rows.Next() {
		var (
			b            domain.Booking
			status, prev string
		)
		if err := rows.Scan(&b.ID, &b.RequestID, &b.StudentID, &b.RideID, &b.Price, &status, &b.PaidAt, &b.CreatedAt, &b.UpdatedAt, &prev); err != nil {
			return nil, fmt.Errorf("scan completed booking: %w", err)
		}
		b.Status = domain.BookingStatus(status)
		changes = append(changes, domain.BookingChange{Booking: b, Previous: domain.BookingStatus(prev)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return changes, nil
}
