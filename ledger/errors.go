package ledger

import "github.com/go-errors/errors"

var (
	// ErrCreditLimitExceeded is returned by prepare when reserving the
	// requested amount would push the account's debit balance plus its
	// pending reservations past its configured credit limit.
	ErrCreditLimitExceeded = errors.New("ledger: credit limit exceeded")

	// ErrUnknownReservation is returned by commit/rollback when passed a
	// reservation token the ledger did not issue, or already resolved.
	ErrUnknownReservation = errors.New("ledger: unknown or already-resolved reservation")

	// ErrBackendUnavailable is returned when the ledger is backed by an
	// external transfer engine that is unreachable; the ledger fails
	// closed rather than forward without accounting, per §4.B.
	ErrBackendUnavailable = errors.New("ledger: backing transfer engine unavailable")
)
