package lockmgr

import (
	"bytes"
	"context"
	"github.com/ValentinKolb/cKV/lib/router"
	"github.com/ValentinKolb/cKV/rpc/common"
	"github.com/VictoriaMetrics/metrics"
	"github.com/hashicorp/go-multierror"
	"github.com/lni/dragonboat/v4/logger"
	"sync"
	"sync/atomic"
	"time"
)

var Logger = logger.GetLogger("lockmgr")

// DefaultSleep is the poll interval of blocking acquisition
const DefaultSleep = 100 * time.Millisecond

// cleanupTimeout bounds the release of an abandoned acquisition
const cleanupTimeout = 5 * time.Second

var (
	acquiredTotal   = metrics.NewCounter(`ckv_lock_acquire_total{result="acquired"}`)
	contendedTotal  = metrics.NewCounter(`ckv_lock_acquire_total{result="contended"}`)
	abandonedTotal  = metrics.NewCounter(`ckv_lock_acquire_total{result="abandoned"}`)
	failedTotal     = metrics.NewCounter(`ckv_lock_acquire_total{result="error"}`)
	downgradesTotal = metrics.NewCounter(`ckv_lock_strategy_downgrades_total`)
)

// --------------------------------------------------------------------------
// Manager
// --------------------------------------------------------------------------

type lockManagerImpl struct {
	d            Dispatcher
	defaultSleep time.Duration

	selection atomic.Int32
	probeMu   sync.Mutex
}

// ManagerOption configures a lock manager
type ManagerOption func(*lockManagerImpl)

// WithDefaultSleep sets the poll interval of locks created without WithSleep
func WithDefaultSleep(d time.Duration) ManagerOption {
	return func(m *lockManagerImpl) {
		if d > 0 {
			m.defaultSleep = d
		}
	}
}

// WithSelection seeds the strategy cache, the probe is skipped unless sel is SelectionUnknown
func WithSelection(sel Selection) ManagerOption {
	return func(m *lockManagerImpl) {
		m.selection.Store(int32(sel))
	}
}

// NewLockManager creates a lock manager that sends its requests through d.
// Use one manager per client, the strategy probe runs once per manager.
//
// Usage:
//
//	mgr := lockmgr.NewLockManager(r)
//	l, err := mgr.NewLock(ctx, "resource:123", lockmgr.WithTimeout(30*time.Second))
//	if err != nil {
//	    return err
//	}
//	err = l.Do(ctx, func(ctx context.Context) error {
//	    // use the resource
//	    return nil
//	})
func NewLockManager(d Dispatcher, opts ...ManagerOption) ILockManager {
	m := &lockManagerImpl{
		d:            d,
		defaultSleep: DefaultSleep,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *lockManagerImpl) Selection() Selection {
	return Selection(m.selection.Load())
}

func (m *lockManagerImpl) NewLock(ctx context.Context, name string, opts ...LockOption) (ILock, error) {
	l := &lockImpl{
		name:  name,
		sleep: m.defaultSleep,
		own:   NewHolder(),
		d:     m.d,
	}
	for _, opt := range opts {
		opt(l)
	}

	// validate before anything is sent
	if l.timeout > 0 && l.sleep >= l.timeout {
		return nil, lockError(name, ErrInvalidSleep)
	}

	switch l.kind {
	case StrategyAtomic:
		l.strategy = &atomicStrategy{d: m.d}
	case StrategyFallback:
		l.strategy = &fallbackStrategy{d: m.d}
	default:
		l.strategy = newStrategy(m.selectStrategy(ctx), m.d)
	}
	return l, nil
}

// selectStrategy returns the cached selection and runs the probe if there is none yet
func (m *lockManagerImpl) selectStrategy(ctx context.Context) Selection {
	if sel := m.Selection(); sel != SelectionUnknown {
		return sel
	}

	m.probeMu.Lock()
	defer m.probeMu.Unlock()
	if sel := m.Selection(); sel != SelectionUnknown {
		return sel
	}

	sel, err := Probe(ctx, m.d)
	if err != nil {
		downgradesTotal.Inc()
		Logger.Warningf("Atomic lock scripts unavailable, using the fallback strategy: %v", err)
	} else {
		Logger.Debugf("Atomic lock scripts installed")
	}
	m.selection.Store(int32(sel))
	return sel
}

// --------------------------------------------------------------------------
// Lock options
// --------------------------------------------------------------------------

// LockOption configures a lock
type LockOption func(*lockImpl)

// WithTimeout sets the expiry of the lock key, zero means no expiry
func WithTimeout(d time.Duration) LockOption {
	return func(l *lockImpl) { l.timeout = d }
}

// WithSleep sets the poll interval of blocking acquisition
func WithSleep(d time.Duration) LockOption {
	return func(l *lockImpl) { l.sleep = d }
}

// WithBlockingTimeout bounds how long Acquire blocks, zero means no bound
func WithBlockingTimeout(d time.Duration) LockOption {
	return func(l *lockImpl) { l.blockingTimeout = d }
}

// WithTokenScope selects where the token of the holder is kept
func WithTokenScope(scope TokenScope) LockOption {
	return func(l *lockImpl) { l.scope = scope }
}

// WithStrategy forces a strategy instead of the probed one
func WithStrategy(s Strategy) LockOption {
	return func(l *lockImpl) { l.kind = s }
}

// AcquireOption overrides the blocking behaviour of one Acquire call
type AcquireOption func(*acquireConfig)

type acquireConfig struct {
	blocking bool
	timeout  time.Duration
}

// NonBlocking makes a single attempt
func NonBlocking() AcquireOption {
	return func(c *acquireConfig) { c.blocking = false }
}

// BlockFor blocks for at most d, zero means no bound
func BlockFor(d time.Duration) AcquireOption {
	return func(c *acquireConfig) {
		c.blocking = true
		c.timeout = d
	}
}

// --------------------------------------------------------------------------
// Lock
// --------------------------------------------------------------------------

type lockImpl struct {
	name            string
	timeout         time.Duration
	sleep           time.Duration
	blockingTimeout time.Duration
	scope           TokenScope
	kind            Strategy

	own      *Holder
	d        Dispatcher
	strategy lockStrategy
}

// --------------------------------------------------------------------------
// Interface Methods (docu see ILock)
// --------------------------------------------------------------------------

func (l *lockImpl) Name() string {
	return l.name
}

func (l *lockImpl) Strategy() Strategy {
	return l.strategy.kind()
}

func (l *lockImpl) Acquire(ctx context.Context, opts ...AcquireOption) (bool, error) {
	cfg := acquireConfig{blocking: true, timeout: l.blockingTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}

	var deadline time.Time
	if cfg.timeout > 0 {
		deadline = time.Now().Add(cfg.timeout)
	}

	token := newToken()
	for {
		ok, err := l.tryAcquire(ctx, token)
		if err != nil {
			return false, err
		}
		if ok {
			acquiredTotal.Inc()
			l.holder(ctx).set(l, token)
			return true, nil
		}
		if !cfg.blocking {
			contendedTotal.Inc()
			return false, nil
		}

		wait := l.sleep
		if !deadline.IsZero() {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				contendedTotal.Inc()
				return false, nil
			}
			wait = min(wait, remaining)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			abandonedTotal.Inc()
			return false, ctx.Err()
		case <-timer.C:
		}
	}
}

func (l *lockImpl) Release(ctx context.Context) error {
	token, ok := l.holder(ctx).take(l)
	if !ok {
		return lockError(l.name, ErrNotHeld)
	}
	released, err := l.strategy.release(ctx, l.name, token)
	if err != nil {
		return err
	}
	if !released {
		return lockError(l.name, ErrNotOwned)
	}
	return nil
}

func (l *lockImpl) Extend(ctx context.Context, additional time.Duration) (bool, error) {
	token, ok := l.holder(ctx).get(l)
	if !ok {
		return false, lockError(l.name, ErrNotHeld)
	}
	if l.timeout <= 0 {
		return false, lockError(l.name, ErrNoExpiry)
	}
	extended, err := l.strategy.extend(ctx, l.name, token, additional)
	if err != nil {
		return false, err
	}
	if !extended {
		return false, lockError(l.name, ErrNotOwned)
	}
	return true, nil
}

func (l *lockImpl) Locked(ctx context.Context) (bool, error) {
	resp, err := l.d.Route(ctx, router.ByKey(l.name), common.NewGetRequest(l.name))
	if err != nil {
		return false, err
	}
	return resp.Ok, nil
}

func (l *lockImpl) Owned(ctx context.Context) (bool, error) {
	token, ok := l.holder(ctx).get(l)
	if !ok {
		return false, nil
	}
	resp, err := l.d.Route(ctx, router.ByKey(l.name), common.NewGetRequest(l.name))
	if err != nil {
		return false, err
	}
	return resp.Ok && string(resp.Value) == string(token), nil
}

func (l *lockImpl) Do(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	ok, err := l.Acquire(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return lockError(l.name, ErrNotAcquired)
	}

	defer func() {
		if rerr := l.Release(ctx); rerr != nil {
			if err == nil {
				err = rerr
			} else {
				err = multierror.Append(err, rerr)
			}
		}
	}()
	return fn(ctx)
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// holder returns the holder the token of the caller is kept in
func (l *lockImpl) holder(ctx context.Context) *Holder {
	if l.scope == ScopeContext {
		if h := HolderFrom(ctx); h != nil {
			return h
		}
	}
	return l.own
}

// tryAcquire makes one set-if-absent attempt. A failed reply does not mean the
// node did not apply the request: the router resends it after a lost reply,
// and the resend then finds this attempt's own token. Contention is therefore
// confirmed by reading the key, and an attempt that ends in an error is
// released with a context that is not cancelled, so the caller either holds
// the lock or nothing.
func (l *lockImpl) tryAcquire(ctx context.Context, token []byte) (bool, error) {
	resp, err := l.d.Route(ctx, router.ByKey(l.name), common.NewSetIfAbsentRequest(l.name, token, l.timeout))
	if err == nil && resp.Ok {
		return true, nil
	}
	if err == nil {
		resp, err = l.d.Route(ctx, router.ByKey(l.name), common.NewGetRequest(l.name))
		if err == nil {
			return resp.Ok && bytes.Equal(resp.Value, token), nil
		}
	}

	l.cleanup(ctx, token)
	if ctx.Err() != nil {
		abandonedTotal.Inc()
		return false, ctx.Err()
	}
	failedTotal.Inc()
	return false, err
}

// cleanup removes the key if it stores token
func (l *lockImpl) cleanup(ctx context.Context, token []byte) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	if _, err := l.strategy.release(cctx, l.name, token); err != nil {
		Logger.Warningf("Failed to clean up failed acquisition of %q: %v", l.name, err)
	}
}
