package domain

import "github.com/cockroachdb/errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrSeatUnavailable  = errors.New("seat unavailable")
	ErrConflict         = errors.New("conflict")
	ErrHoldExpired      = errors.New("hold expired")
	ErrNotHeldByCaller  = errors.New("seat not held by caller")
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrInvalidInput     = errors.New("invalid input")
	ErrAlreadyExists    = errors.New("already exists")
)

// Specific lookups wrap ErrNotFound, so errors.Is(err, ErrNotFound) holds for
// all of them while each stays distinct from the others.
var (
	ErrSeatNotFound   = errors.Wrap(ErrNotFound, "seat")
	ErrEventNotFound  = errors.Wrap(ErrNotFound, "event")
	ErrChartNotFound  = errors.Wrap(ErrNotFound, "seating chart")
	ErrSectorNotFound = errors.Wrap(ErrNotFound, "sector")
)

// ErrSerializationFailure is a transaction retry error from the SQL store. It is
// an optimistic miss like any other.
var ErrSerializationFailure = errors.Wrap(ErrConflict, "serialization failure")

// StoreFailure tags err as a persistence failure so callers can match it with
// errors.Is(err, ErrStoreUnavailable) while keeping the driver error in the chain.
func StoreFailure(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return errors.Mark(errors.Wrapf(err, format, args...), ErrStoreUnavailable)
}

// Invalid builds an ErrInvalidInput with a field specific message.
func Invalid(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrInvalidInput)
}
