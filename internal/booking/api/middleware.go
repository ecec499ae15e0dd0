package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"booking-service/internal/booking/authz"
	"booking-service/internal/shared/apperrors"
	"booking-service/internal/shared/middleware"
	"booking-service/internal/shared/util"
)

const (
	authCookie = "Authorization"
	// cookieTTL matches the lifetime browsers were given for the session cookie.
	cookieTTL = 45000 * time.Second
)

// bearerToken reads the credential from the Authorization header, falling
// back to the Authorization cookie.
func bearerToken(r *http.Request) (string, error) {
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
			return "", fmt.Errorf("%w: invalid Authorization format", apperrors.ErrUnauthorized)
		}
		return strings.TrimSpace(parts[1]), nil
	}

	if cookie, err := r.Cookie(authCookie); err == nil && cookie.Value != "" {
		return strings.TrimPrefix(cookie.Value, "Bearer "), nil
	}
	return "", fmt.Errorf("%w: missing Authorization header", apperrors.ErrUnauthorized)
}

func AuthMiddleware(auth authz.Authenticator, logger *util.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := bearerToken(r)
			if err == nil {
				var caller authz.Caller
				caller, err = auth.Resolve(token)
				if err == nil {
					next.ServeHTTP(w, r.WithContext(authz.WithCaller(r.Context(), caller)))
					return
				}
			}

			logger.Warn("AuthMiddleware", err.Error())
			util.ErrResponseInJson(w, err)
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// AccessLog writes one HTTP line per request, tagged with its request id.
func AccessLog(logger *util.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			logger.HTTP(rec.status, time.Since(start), r.RemoteAddr, r.Method, r.URL.Path, middleware.GetRequestID(r.Context()))
		})
	}
}
