package util

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"booking-service/internal/shared/apperrors"
)

func ResponseInJson(w http.ResponseWriter, statusCode int, object interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(object)
}

// ErrResponseInJson writes err with the status from apperrors.CheckError and
// returns that status. Internal errors are not echoed to the caller.
func ErrResponseInJson(w http.ResponseWriter, err error) int {
	statusCode := apperrors.CheckError(err)
	message := err.Error()

	if statusCode == http.StatusInternalServerError {
		message = "internal error"
		if errors.Is(err, context.DeadlineExceeded) {
			statusCode = http.StatusGatewayTimeout
			message = "request timed out"
		}
	}

	WriteJSONError(w, message, statusCode)
	return statusCode
}

func WriteJSONError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
