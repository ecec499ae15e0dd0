package health

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"time"

	"booking-service/internal/shared/util"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Service   string            `json:"service"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
}

// Check reports nil when the dependency is reachable.
type Check func(ctx context.Context) error

type Pinger interface {
	Ping(ctx context.Context) error
}

type Closer interface {
	IsClosed() bool
}

func PingCheck(p Pinger) Check {
	return p.Ping
}

func ConnectionCheck(c Closer) Check {
	return func(context.Context) error {
		if c.IsClosed() {
			return errConnectionClosed
		}
		return nil
	}
}

var errConnectionClosed = errors.New("connection closed")

// Handler creates a health check handler for a service
func Handler(serviceName string, checks map[string]Check) http.HandlerFunc {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(w http.ResponseWriter, r *http.Request) {
		health := HealthResponse{
			Status:    "healthy",
			Service:   serviceName,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Checks:    make(map[string]string, len(checks)),
		}

		for _, name := range names {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			err := checks[name](ctx)
			cancel()

			if err != nil {
				health.Status = "unhealthy"
				health.Checks[name] = "down"
			} else {
				health.Checks[name] = "up"
			}
		}

		statusCode := http.StatusOK
		if health.Status == "unhealthy" {
			statusCode = http.StatusServiceUnavailable
		}
		util.ResponseInJson(w, statusCode, health)
	}
}
