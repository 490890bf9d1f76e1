package visa

import (
	"errors"
	"fmt"
)

// ErrLoggedOut is wrapped into a FetchError when the upstream returns a
// sign-in page where data was expected. Callers should Invalidate() the
// session and let the next cycle re-authenticate.
var ErrLoggedOut = errors.New("visa: session logged out")

type AuthReason string

const (
	AuthMissingToken AuthReason = "missing_token"
	AuthRejected     AuthReason = "rejected"
	AuthTransport    AuthReason = "transport"
)

// AuthError is terminal for the poll task that observes it: authentication
// failures are not retried within the same task.
type AuthError struct {
	Reason AuthReason
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("visa auth failed (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("visa auth failed (%s)", e.Reason)
}

func (e *AuthError) Unwrap() error { return e.Err }

type FetchKind string

const (
	FetchTransport        FetchKind = "transport"
	FetchMalformedPayload FetchKind = "malformed_payload"
)

// FetchError is recoverable: a failed fetch during continuous polling is a
// "no data" cycle, not a crash.
type FetchError struct {
	Kind FetchKind
	Op   string
	Err  error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("visa fetch %s failed (%s): %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("visa fetch %s failed (%s)", e.Op, e.Kind)
}

func (e *FetchError) Unwrap() error { return e.Err }
