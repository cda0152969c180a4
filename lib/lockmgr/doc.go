// Package lockmgr implements a distributed mutual exclusion lock on top of the
// router. A lock is a single key; whoever manages to set the key holds the
// lock. The value of the key is a random token that identifies the holder.
//
// Core Functionality:
//   - Lock acquisition with an optional expiry, blocking or non-blocking
//   - Release and extension that verify ownership by comparing tokens
//   - Scoped acquisition with guaranteed release (Do)
//
// Implementation Approach:
//
//	Mutual exclusion comes only from the set-if-absent request, which the node
//	executes atomically. Release and extend must not touch a key that another
//	holder set after our lock expired, so they compare the stored token first.
//	Two strategies do that:
//
//	- Atomic: compare-and-delete and compare-and-extend are installed on the
//	  nodes as scripts and evaluated as a single step. If a node lost its
//	  scripts it answers NOSCRIPT, the script is installed on that node again
//	  and the evaluation is retried once.
//
//	- Fallback: the token is read with Get and the key is deleted or its
//	  expiry updated in a second request. A lock that expires between the two
//	  requests can be released or extended although another client acquired
//	  it in the meantime. This race is accepted.
//
// Strategy Selection:
//
//	The first lock a manager creates with StrategyAuto runs Probe, which
//	installs both scripts on every primary. The result is cached for the
//	lifetime of the manager and never probed again: a failed probe
//	(e.g. scripting disabled on a node) downgrades all later locks to the
//	fallback strategy, even if scripts become available later. WithStrategy
//	bypasses the probe for a single lock.
//
// Token Scoping:
//
//	By default the token lives in the Holder attached to the caller's context
//	(see WithHolder), so two goroutines with their own holders can share one
//	lock value without seeing each other's token. Calls without a holder
//	share the lock's own holder. ScopeInstance always uses the lock's own
//	holder, which allows acquiring in one goroutine and releasing in another.
//
// Usage Example:
//
//	mgr := lockmgr.NewLockManager(r)
//
//	l, err := mgr.NewLock(ctx, "resource:123",
//	    lockmgr.WithTimeout(30*time.Second),
//	    lockmgr.WithBlockingTimeout(5*time.Second),
//	)
//	if err != nil {
//	    // Handle error (e.g. sleep >= timeout)
//	}
//
//	ok, err := l.Acquire(ctx)
//	if err != nil || !ok {
//	    // Handle error or contention
//	}
//	// Use the resource safely
//	// ...
//	if err := l.Release(ctx); err != nil {
//	    // The lock expired and may be held by someone else
//	}
//
// Limitations:
//
//	Locks rely on expiry for liveness. A holder that pauses longer than the
//	timeout loses the lock without noticing until Release or Extend fails.
//	Locking is not linearizable across network partitions.
package lockmgr
