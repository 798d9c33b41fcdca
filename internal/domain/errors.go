package domain

import (
	"errors"
	"strings"
)

var (
	// ErrDuplicateSubscription is returned when the (recipient, product, brand) triple is taken.
	ErrDuplicateSubscription = errors.New("Trend filters already exists")
	// ErrNotFound is returned by lookups that match nothing.
	ErrNotFound = errors.New("not found")
)

// ValidationError lists required request fields that were missing or empty.
type ValidationError struct {
	Missing []string
}

func (e *ValidationError) Error() string {
	return "Missing required field(s): " + strings.Join(e.Missing, ", ")
}
