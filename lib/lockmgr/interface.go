package lockmgr

import (
	"context"
	"github.com/ValentinKolb/cKV/lib/router"
	"github.com/ValentinKolb/cKV/rpc/common"
	"time"
)

// Dispatcher is the part of the router the lock manager needs.
// It is implemented by *router.Router.
type Dispatcher interface {
	// Route sends a request to the owner of the target slot
	Route(ctx context.Context, target router.Target, req *common.Message) (*common.Message, error)
	// Broadcast sends a request to every primary
	Broadcast(ctx context.Context, req *common.Message) (map[string]*common.Message, error)
}

// ILockManager creates locks on top of a Dispatcher.
type ILockManager interface {
	// NewLock creates a lock for the key name. The options are validated before
	// anything is sent to the cluster. The first lock created with the automatic
	// strategy runs the strategy probe, later locks reuse its result.
	NewLock(ctx context.Context, name string, opts ...LockOption) (ILock, error)

	// Selection returns the cached result of the strategy probe
	Selection() Selection
}

// ILock is a distributed mutual exclusion lock on a single key.
//
// All methods fail with a *LockError for misuse and ownership loss. Errors of
// the cluster (routing, connection, server replies) are returned unchanged.
type ILock interface {
	// Name returns the key of the lock
	Name() string

	// Strategy returns the strategy the lock uses for release and extend
	Strategy() Strategy

	// Acquire tries to take the lock. By default it blocks, polling every sleep
	// interval until the lock is taken or the blocking timeout elapsed. It
	// returns false if the lock could not be taken in time, contention is not
	// an error. If ctx is done while waiting, ctx.Err() is returned and the
	// caller holds nothing.
	Acquire(ctx context.Context, opts ...AcquireOption) (bool, error)

	// Release gives up the lock. The local token is cleared in every case.
	Release(ctx context.Context) error

	// Extend adds additional to the remaining expiry of the lock.
	// Locks without an expiry can not be extended.
	Extend(ctx context.Context, additional time.Duration) (bool, error)

	// Locked reports whether anyone holds the lock
	Locked(ctx context.Context) (bool, error)

	// Owned reports whether the stored token is the token of the caller
	Owned(ctx context.Context) (bool, error)

	// Do acquires the lock, runs fn and releases the lock on every exit path.
	// It fails with ErrNotAcquired if the lock could not be taken.
	Do(ctx context.Context, fn func(ctx context.Context) error) error
}

// --------------------------------------------------------------------------
// Strategy selection
// --------------------------------------------------------------------------

// Selection is the cached result of the strategy probe
type Selection int32

const (
	// SelectionUnknown means no probe has run yet
	SelectionUnknown Selection = iota
	// SelectionAtomicAvailable means the scripts could be installed on every primary
	SelectionAtomicAvailable
	// SelectionAtomicUnavailable means the installation failed, locks use the fallback strategy
	SelectionAtomicUnavailable
)

func (s Selection) String() string {
	switch s {
	case SelectionAtomicAvailable:
		return "atomic-available"
	case SelectionAtomicUnavailable:
		return "atomic-unavailable"
	default:
		return "unknown"
	}
}

// Strategy selects how a lock is released and extended
type Strategy int

const (
	// StrategyAuto uses the probe to choose between atomic and fallback
	StrategyAuto Strategy = iota
	// StrategyAtomic evaluates compare-and-delete/extend as scripts on the node
	StrategyAtomic
	// StrategyFallback reads the token and acts in a second request
	StrategyFallback
)

func (s Strategy) String() string {
	switch s {
	case StrategyAtomic:
		return "atomic"
	case StrategyFallback:
		return "fallback"
	default:
		return "auto"
	}
}

// TokenScope selects where a lock keeps the token of its holder
type TokenScope int

const (
	// ScopeContext keeps the token in the Holder attached to the context of
	// the caller (see WithHolder). Calls without a Holder share the lock's own.
	ScopeContext TokenScope = iota
	// ScopeInstance keeps the token in the lock itself, so the lock can be
	// released from any context
	ScopeInstance
)
