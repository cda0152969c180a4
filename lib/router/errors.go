package router

import "fmt"

// RoutingError is returned when a request could not be delivered to the owner
// of its slot within the redirect budget, or when the one-shot ASK attempt was
// redirected again
type RoutingError struct {
	Slot      uint16
	Redirects int
	Reason    string
}

func (e *RoutingError) Error() string {
	return fmt.Sprintf("routing slot %d failed after %d redirects: %s", e.Slot, e.Redirects, e.Reason)
}

// ConnectionError is returned when a node stays unreachable after one
// refresh and retry
type ConnectionError struct {
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection to %s failed: %v", e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// CrossSlotError is returned when the keys of a request, or of a pipeline
// that must stay on one slot, hash to different slots. Nothing was sent.
type CrossSlotError struct {
	Slots []uint16
}

func (e *CrossSlotError) Error() string {
	return fmt.Sprintf("keys in request don't hash to the same slot (slots %v)", e.Slots)
}
