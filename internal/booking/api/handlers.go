package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"booking-service/internal/booking/authz"
	"booking-service/internal/booking/domain"
	"booking-service/internal/shared/apperrors"
	"booking-service/internal/shared/util"
	"booking-service/internal/shared/validation"
)

const maxBodyBytes = 1 << 20

// caller is set by AuthMiddleware on every protected route.
func caller(r *http.Request) authz.Caller {
	c, _ := authz.CallerFrom(r.Context())
	return c
}

func pathID(r *http.Request, name string) (int64, error) {
	return validation.ParseID(r.PathValue(name), name)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := decoder.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: empty body: %w", apperrors.ErrValidation, err)
		}
		return fmt.Errorf("%w: invalid JSON body: %v", apperrors.ErrValidation, err)
	}
	return nil
}

func (h *Handler) fail(w http.ResponseWriter, instance string, err error) {
	if util.ErrResponseInJson(w, err) >= http.StatusInternalServerError {
		h.logger.Error(instance, err)
	}
}

func (h *Handler) FetchAllRequests(w http.ResponseWriter, r *http.Request) {
	requests, err := h.service.FetchAllRequests(r.Context(), caller(r))
	if err != nil {
		h.fail(w, "FetchAllRequests", err)
		return
	}
	util.ResponseInJson(w, http.StatusOK, requests)
}

func (h *Handler) FetchAllBookings(w http.ResponseWriter, r *http.Request) {
	bookings, err := h.service.FetchAllBookings(r.Context(), caller(r))
	if err != nil {
		h.fail(w, "FetchAllBookings", err)
		return
	}
	util.ResponseInJson(w, http.StatusOK, bookings)
}

func (h *Handler) FetchRequest(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, "FetchRequest", err)
		return
	}
	req, err := h.service.FetchRequest(r.Context(), caller(r), id)
	if err != nil {
		h.fail(w, "FetchRequest", err)
		return
	}
	util.ResponseInJson(w, http.StatusOK, req)
}

func (h *Handler) FetchBooking(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, "FetchBooking", err)
		return
	}
	booking, err := h.service.FetchBooking(r.Context(), caller(r), id)
	if err != nil {
		h.fail(w, "FetchBooking", err)
		return
	}
	util.ResponseInJson(w, http.StatusOK, booking)
}

func (h *Handler) FetchMyRequests(w http.ResponseWriter, r *http.Request) {
	requests, err := h.service.FetchMyRequests(r.Context(), caller(r))
	if err != nil {
		h.fail(w, "FetchMyRequests", err)
		return
	}
	util.ResponseInJson(w, http.StatusOK, requests)
}

func (h *Handler) FetchMyBookings(w http.ResponseWriter, r *http.Request) {
	bookings, err := h.service.FetchMyBookings(r.Context(), caller(r))
	if err != nil {
		h.fail(w, "FetchMyBookings", err)
		return
	}
	util.ResponseInJson(w, http.StatusOK, bookings)
}

func (h *Handler) FetchRequestsForRide(w http.ResponseWriter, r *http.Request) {
	rideID, err := pathID(r, "rideId")
	if err != nil {
		h.fail(w, "FetchRequestsForRide", err)
		return
	}
	requests, err := h.service.FetchRequestsForRide(r.Context(), caller(r), rideID)
	if err != nil {
		h.fail(w, "FetchRequestsForRide", err)
		return
	}
	util.ResponseInJson(w, http.StatusOK, requests)
}

func (h *Handler) FetchBookingsForRide(w http.ResponseWriter, r *http.Request) {
	rideID, err := pathID(r, "rideId")
	if err != nil {
		h.fail(w, "FetchBookingsForRide", err)
		return
	}
	bookings, err := h.service.FetchBookingsForRide(r.Context(), caller(r), rideID)
	if err != nil {
		h.fail(w, "FetchBookingsForRide", err)
		return
	}
	util.ResponseInJson(w, http.StatusOK, bookings)
}

func (h *Handler) CreateRequest(w http.ResponseWriter, r *http.Request) {
	var body CreateRequestBody
	if err := decodeBody(w, r, &body); err != nil {
		h.fail(w, "CreateRequest", err)
		return
	}
	if err := validation.ValidatePositiveID(body.RideID.Int64(), "rideId"); err != nil {
		h.fail(w, "CreateRequest", err)
		return
	}
	if err := validation.ValidateStringNotEmpty(body.SubzoneName, "subzoneName"); err != nil {
		h.fail(w, "CreateRequest", err)
		return
	}

	req, err := h.service.CreateRequest(r.Context(), caller(r), domain.CreateRequestInput{
		RideID:        body.RideID.Int64(),
		SubZoneName:   body.SubzoneName,
		PaymentOption: body.PaymentOption,
	})
	if err != nil {
		h.fail(w, "CreateRequest", err)
		return
	}
	util.ResponseInJson(w, http.StatusCreated, req)
}

func (h *Handler) AcceptRequest(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, "AcceptRequest", err)
		return
	}
	booking, err := h.service.AcceptRequest(r.Context(), caller(r), id)
	if err != nil {
		h.fail(w, "AcceptRequest", err)
		return
	}
	util.ResponseInJson(w, http.StatusCreated, booking)
}

func (h *Handler) RejectRequest(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, "RejectRequest", err)
		return
	}
	req, err := h.service.RejectRequest(r.Context(), caller(r), id)
	if err != nil {
		h.fail(w, "RejectRequest", err)
		return
	}
	util.ResponseInJson(w, http.StatusOK, req)
}

func (h *Handler) CancelRequest(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, "CancelRequest", err)
		return
	}
	req, err := h.service.CancelRequest(r.Context(), caller(r), id)
	if err != nil {
		h.fail(w, "CancelRequest", err)
		return
	}
	util.ResponseInJson(w, http.StatusOK, req)
}

func (h *Handler) CancelBooking(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, "CancelBooking", err)
		return
	}
	booking, err := h.service.CancelBooking(r.Context(), caller(r), id)
	if err != nil {
		h.fail(w, "CancelBooking", err)
		return
	}
	util.ResponseInJson(w, http.StatusOK, booking)
}

func (h *Handler) RequestPaymentSend(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, "RequestPaymentSend", err)
		return
	}
	// The body is optional; an absent userId targets the booking's student.
	var body PaymentRequestBody
	if err := decodeBody(w, r, &body); err != nil && !errors.Is(err, io.EOF) {
		h.fail(w, "RequestPaymentSend", err)
		return
	}

	if err := h.service.RequestPaymentSend(r.Context(), caller(r), id, body.UserID.Int64()); err != nil {
		h.fail(w, "RequestPaymentSend", err)
		return
	}
	util.ResponseInJson(w, http.StatusAccepted, MessageResponse{Message: "OK!"})
}

// SetSessionCookie stores a token in the HttpOnly Authorization cookie so
// browser clients can call the protected routes without a header. The token
// is resolved first so a garbage credential is never planted.
func (h *Handler) SetSessionCookie(auth authz.Authenticator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body SessionCookieBody
		if err := decodeBody(w, r, &body); err != nil {
			h.fail(w, "SetSessionCookie", err)
			return
		}
		token := strings.TrimSpace(strings.TrimPrefix(body.Token, "Bearer "))
		if token == "" {
			h.fail(w, "SetSessionCookie", fmt.Errorf("%w: token is required", apperrors.ErrValidation))
			return
		}
		if _, err := auth.Resolve(token); err != nil {
			h.fail(w, "SetSessionCookie", err)
			return
		}

		http.SetCookie(w, &http.Cookie{
			Name:     authCookie,
			Value:    token,
			Path:     "/",
			Expires:  time.Now().Add(cookieTTL),
			HttpOnly: true,
			Secure:   true,
			SameSite: http.SameSiteLaxMode,
		})
		util.ResponseInJson(w, http.StatusOK, MessageResponse{Message: "Added Cookie!"})
	}
}
