package breaker

import (
	"errors"
	"fmt"
)

// ErrTimedOut is returned when the caller's wait exceeds the call timeout.
// The guarded operation keeps running; its eventual outcome is still
// counted but never delivered to the caller.
var ErrTimedOut = errors.New("breaker: call timed out")

// RefusedError is returned by the admission check when a service is
// WARNING or BLOCKED. The guarded operation was never invoked.
type RefusedError struct {
	Service string
	Status  Status
}

func (e *RefusedError) Error() string {
	return fmt.Sprintf("breaker: service %s refused (status %s)", e.Service, e.Status)
}

// IsRefused reports whether err is an admission refusal.
func IsRefused(err error) bool {
	var re *RefusedError
	return errors.As(err, &re)
}
