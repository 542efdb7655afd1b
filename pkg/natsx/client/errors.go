package client

import (
	"errors"
	"fmt"
)

// Connection state.
var (
	ErrClientClosed = errors.New("client is closed")
	ErrNotConnected = errors.New("client not connected")
)

// Input validation. Every validator wraps one of these.
var (
	ErrInvalidSubject = errors.New("invalid subject")
	ErrInvalidKey     = errors.New("invalid key")
	ErrInvalidValue   = errors.New("invalid value")
	ErrInvalidBucket  = errors.New("invalid bucket name")
)

// WrapValidationError names the field that failed validation. A nil err
// stays nil.
func WrapValidationError(field string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("invalid %s: %w", field, err)
}
