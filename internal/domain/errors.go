package domain

import (
	"errors"
	"fmt"
)

// Domain errors
var (
	ErrPlayerNotFound  = errors.New("player not found")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrInvalidName     = errors.New("player name must not be empty")
	ErrInvalidPlayerID = errors.New("player id must not be empty")
	ErrInvalidScore    = errors.New("score must be between 0 and 2^53")
	ErrInvalidRequest  = errors.New("invalid request")
	ErrInternalError   = errors.New("internal server error")
)

// IsNotFoundError checks if an error is a not-found type error
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrPlayerNotFound)
}

// IsInvalidArgument checks if an error was caused by caller input
func IsInvalidArgument(err error) bool {
	return errors.Is(err, ErrInvalidArgument) || errors.Is(err, ErrInvalidRequest)
}

// invalid tags a specific validation error so it also matches ErrInvalidArgument
func invalid(err error) error {
	return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
}
