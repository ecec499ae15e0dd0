package api

import (
	"context"
	"net/http"
	"time"

	"booking-service/internal/booking/authz"
	"booking-service/internal/booking/domain"
	"booking-service/internal/shared/middleware"
	"booking-service/internal/shared/util"
)

// Service is the call surface exposed over HTTP.
type Service interface {
	FetchAllRequests(ctx context.Context, caller authz.Caller) ([]domain.Request, error)
	FetchAllBookings(ctx context.Context, caller authz.Caller) ([]domain.Booking, error)
	FetchRequest(ctx context.Context, caller authz.Caller, id int64) (*domain.Request, error)
	FetchBooking(ctx context.Context, caller authz.Caller, id int64) (*domain.Booking, error)
	FetchMyRequests(ctx context.Context, caller authz.Caller) ([]domain.Request, error)
	FetchMyBookings(ctx context.Context, caller authz.Caller) ([]domain.Booking, error)
	FetchRequestsForRide(ctx context.Context, caller authz.Caller, rideID int64) ([]domain.Request, error)
	FetchBookingsForRide(ctx context.Context, caller authz.Caller, rideID int64) ([]domain.Booking, error)
	CreateRequest(ctx context.Context, caller authz.Caller, input domain.CreateRequestInput) (*domain.Request, error)
	AcceptRequest(ctx context.Context, caller authz.Caller, id int64) (*domain.Booking, error)
	RejectRequest(ctx context.Context, caller authz.Caller, id int64) (*domain.Request, error)
	CancelRequest(ctx context.Context, caller authz.Caller, id int64) (*domain.Request, error)
	CancelBooking(ctx context.Context, caller authz.Caller, id int64) (*domain.Booking, error)
	RequestPaymentSend(ctx context.Context, caller authz.Caller, bookingID, userID int64) error
}

type Handler struct {
	service Service
	logger  *util.Logger
}

func NewHandler(service Service, logger *util.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// RegisterRoutes builds the service mux. health and the session cookie
// route are served without authentication; every other route needs a bearer
// credential and runs under the per-call timeout.
func (h *Handler) RegisterRoutes(auth authz.Authenticator, health http.Handler, timeout time.Duration) http.Handler {
	mux := http.NewServeMux()
	protected := func(fn http.HandlerFunc) http.Handler {
		return AuthMiddleware(auth, h.logger)(middleware.Timeout(timeout)(fn))
	}

	mux.Handle("GET /requests", protected(h.FetchAllRequests))
	mux.Handle("GET /bookings", protected(h.FetchAllBookings))
	mux.Handle("GET /requests/{id}", protected(h.FetchRequest))
	mux.Handle("GET /bookings/{id}", protected(h.FetchBooking))
	mux.Handle("GET /me/requests", protected(h.FetchMyRequests))
	mux.Handle("GET /me/bookings", protected(h.FetchMyBookings))
	mux.Handle("GET /rides/{rideId}/requests", protected(h.FetchRequestsForRide))
	mux.Handle("GET /rides/{rideId}/bookings", protected(h.FetchBookingsForRide))

	mux.Handle("POST /requests", protected(h.CreateRequest))
	mux.Handle("POST /requests/{id}/accept", protected(h.AcceptRequest))
	mux.Handle("POST /requests/{id}/reject", protected(h.RejectRequest))
	mux.Handle("POST /requests/{id}/cancel", protected(h.CancelRequest))
	mux.Handle("POST /bookings/{id}/cancel", protected(h.CancelBooking))
	mux.Handle("POST /bookings/{id}/payment-request", protected(h.RequestPaymentSend))

	mux.Handle("POST /session/cookie", h.SetSessionCookie(auth))

	if health != nil {
		mux.Handle("GET /health", health)
	}

	return middleware.RequestID(AccessLog(h.logger)(mux))
}
