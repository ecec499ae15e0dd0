package validation

import (
	"fmt"
	"strconv"
	"strings"

	"booking-service/internal/shared/apperrors"
)

// ParseID parses a positive decimal id taken from a path or query value.
func ParseID(raw, fieldName string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", apperrors.ErrValidation, fieldName)
	}
	if err := ValidatePositiveID(id, fieldName); err != nil {
		return 0, err
	}
	return id, nil
}

// ValidatePositiveID validates that an id is positive
func ValidatePositiveID(id int64, fieldName string) error {
	if id <= 0 {
		return fmt.Errorf("%w: %s must be positive", apperrors.ErrValidation, fieldName)
	}
	return nil
}

// ValidateStringNotEmpty validates that a string is not empty
func ValidateStringNotEmpty(value, fieldName string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%w: %s cannot be empty", apperrors.ErrValidation, fieldName)
	}
	return nil
}

// ValidateMaxLength validates that a string fits the column it is stored in
func ValidateMaxLength(value, fieldName string, max int) error {
	if len(value) > max {
		return fmt.Errorf("%w: %s must be at most %d characters", apperrors.ErrValidation, fieldName, max)
	}
	return nil
}
