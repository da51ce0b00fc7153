package keymgr

import "github.com/go-errors/errors"

// Error kinds returned by KeyManager implementations. Callers branch on
// these via errors.Is rather than parsing messages.
var (
	// ErrKeyNotFound indicates the requested keyId has no corresponding
	// key material in the configured backend.
	ErrKeyNotFound = errors.New("keymgr: key not found")

	// ErrBackendUnavailable indicates a transient failure reaching the
	// signing backend (network blip, throttling). Retryable.
	ErrBackendUnavailable = errors.New("keymgr: backend unavailable")

	// ErrSigningRejected indicates the backend's own policy denied the
	// signing request (e.g. a KMS key policy or HSM PIN lockout).
	// Non-retryable.
	ErrSigningRejected = errors.New("keymgr: signing rejected by policy")

	// ErrConfigError indicates the backend's required configuration
	// block was missing or invalid at construction time. Fatal.
	ErrConfigError = errors.New("keymgr: configuration error")
)
