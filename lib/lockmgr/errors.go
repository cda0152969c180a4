package lockmgr

import (
	"errors"
	"fmt"
)

var (
	// ErrNotHeld is returned when the caller holds no token for the lock
	ErrNotHeld = errors.New("lock is not held")
	// ErrNotOwned is returned when the stored token differs from the caller's token
	ErrNotOwned = errors.New("lock is no longer owned")
	// ErrNoExpiry is returned when extending a lock that was created without timeout
	ErrNoExpiry = errors.New("lock has no expiry")
	// ErrInvalidSleep is returned when the poll interval is not smaller than the timeout
	ErrInvalidSleep = errors.New("sleep must be less than timeout")
	// ErrNotAcquired is returned by Do if the lock could not be taken
	ErrNotAcquired = errors.New("lock could not be acquired")
)

// LockError reports misuse of a lock or the loss of its ownership.
// It is never retried.
type LockError struct {
	Name string
	Err  error
}

func (e *LockError) Error() string {
	return fmt.Sprintf("lock %q: %v", e.Name, e.Err)
}

func (e *LockError) Unwrap() error {
	return e.Err
}

func lockError(name string, err error) error {
	return &LockError{Name: name, Err: err}
}
