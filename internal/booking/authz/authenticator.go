package authz

import (
	"fmt"

	"booking-service/internal/shared/apperrors"
	"booking-service/internal/shared/jwt"
)

// Authenticator resolves a caller from an opaque bearer credential.
type Authenticator interface {
	Resolve(token string) (Caller, error)
}

type tokenParser interface {
	Parse(token string) (*jwt.Claims, error)
}

// TokenAuthenticator adapts the shared JWT manager.
type TokenAuthenticator struct {
	parser tokenParser
}

func NewTokenAuthenticator(p tokenParser) *TokenAuthenticator {
	return &TokenAuthenticator{parser: p}
}

func (a *TokenAuthenticator) Resolve(token string) (Caller, error) {
	claims, err := a.parser.Parse(token)
	if err != nil {
		return Caller{}, err
	}
	id, err := claims.ID()
	if err != nil {
		return Caller{}, err
	}

	role := Role(claims.Role)
	switch role {
	case RoleAdmin, RoleStudent, RoleDriver:
	default:
		return Caller{}, fmt.Errorf("%w: unknown role %q", apperrors.ErrUnauthorized, claims.Role)
	}
	return Caller{ID: id, Role: role}, nil
}
