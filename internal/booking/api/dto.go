package api

import "booking-service/internal/booking/domain"

type CreateRequestBody struct {
	RideID        domain.FlexID `json:"rideId"`
	SubzoneName   string        `json:"subzoneName"`
	PaymentOption string        `json:"paymentOption"`
}

type PaymentRequestBody struct {
	UserID domain.FlexID `json:"userId"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

type SessionCookieBody struct {
	Token string `json:"token"`
}
