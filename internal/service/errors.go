package service

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput covers missing or malformed ids, names, and urls.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound indicates a referenced entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrForbidden indicates the entity belongs to a different user.
	ErrForbidden = errors.New("forbidden")

	// ErrConceptNotReady indicates a recipe referenced a concept that has not
	// reached completed state yet.
	ErrConceptNotReady = errors.New("concept not completed")
)

// invalidInput wraps ErrInvalidInput with detail.
func invalidInput(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// notFound wraps ErrNotFound with detail.
func notFound(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}
