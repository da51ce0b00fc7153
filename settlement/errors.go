package settlement

import "github.com/go-errors/errors"

var (
	// ErrAlreadyInFlight is returned when a settlement is requested for
	// a (peer, asset, method) triple that already has one in progress,
	// per §4.G's duplicate-suppression requirement.
	ErrAlreadyInFlight = errors.New("settlement: already in flight for this peer/asset/method")

	// ErrUnknownMethod is returned when no Method is registered under
	// the requested id.
	ErrUnknownMethod = errors.New("settlement: unknown settlement method")

	// ErrRetriesExhausted is returned when an operation failed on every
	// retry attempt.
	ErrRetriesExhausted = errors.New("settlement: retries exhausted")
)
