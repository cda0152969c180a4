package memstore

import (
	"bytes"
	"github.com/ValentinKolb/cKV/lib/slot"
	"github.com/ValentinKolb/cKV/lib/store"
	"github.com/puzpuzpuz/xsync/v3"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

const defaultGCInterval = 100 * time.Millisecond

// entry is a stored value with its deadline in unix milliseconds (0 = no expiry)
type entry struct {
	value    []byte
	deadline int64
}

func (e entry) live(now int64) bool {
	return e.deadline == 0 || e.deadline > now
}

type storeImpl struct {
	data       *xsync.MapOf[string, entry]
	expMu      sync.Mutex
	expiries   *expiryQueue
	clock      func() time.Time
	gcInterval time.Duration

	closed atomic.Bool
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// Option configures the store
type Option func(*storeImpl)

// WithClock replaces the wall clock used for expiry
func WithClock(clock func() time.Time) Option {
	return func(s *storeImpl) { s.clock = clock }
}

// WithGCInterval sets how often expired keys are removed
func WithGCInterval(d time.Duration) Option {
	return func(s *storeImpl) {
		if d > 0 {
			s.gcInterval = d
		}
	}
}

// NewMemStore creates a new in-memory store and starts its expiry goroutine
func NewMemStore(opts ...Option) store.IStore {
	s := &storeImpl{
		data:       xsync.NewMapOf[string, entry](),
		expiries:   newExpiryQueue(),
		clock:      time.Now,
		gcInterval: defaultGCInterval,
		stopCh:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.wg.Add(1)
	go s.gcLoop()
	return s
}

// --------------------------------------------------------------------------
// Interface Methods (docu see store.IStore)
// --------------------------------------------------------------------------

func (s *storeImpl) Set(key string, value []byte, ttl time.Duration) error {
	if err := s.check(ttl); err != nil {
		return err
	}
	e := entry{value: clone(value), deadline: s.deadline(ttl)}
	s.data.Compute(key, func(entry, bool) (entry, bool) {
		s.track(key, e.deadline)
		return e, false
	})
	return nil
}

func (s *storeImpl) SetIfAbsent(key string, value []byte, ttl time.Duration) (bool, error) {
	if err := s.check(ttl); err != nil {
		return false, err
	}
	now := s.nowMillis()
	e := entry{value: clone(value), deadline: s.deadline(ttl)}

	written := false
	s.data.Compute(key, func(old entry, loaded bool) (entry, bool) {
		if loaded && old.live(now) {
			return old, false
		}
		written = true
		s.track(key, e.deadline)
		return e, false
	})
	return written, nil
}

func (s *storeImpl) Get(key string) ([]byte, bool, error) {
	if s.closed.Load() {
		return nil, false, store.NewError(store.RetCClosed, "store is closed")
	}
	e, ok := s.data.Load(key)
	if !ok || !e.live(s.nowMillis()) {
		return nil, false, nil
	}
	return e.value, true, nil
}

func (s *storeImpl) Delete(key string) (bool, error) {
	if s.closed.Load() {
		return false, store.NewError(store.RetCClosed, "store is closed")
	}
	now := s.nowMillis()
	deleted := false
	s.data.Compute(key, func(old entry, loaded bool) (entry, bool) {
		deleted = loaded && old.live(now)
		if loaded {
			s.untrack(key)
		}
		return old, true
	})
	return deleted, nil
}

func (s *storeImpl) PExpire(key string, ttl time.Duration) (bool, error) {
	if err := s.check(ttl); err != nil {
		return false, err
	}
	now := s.nowMillis()
	deadline := s.deadline(ttl)

	updated := false
	s.data.Compute(key, func(old entry, loaded bool) (entry, bool) {
		if !loaded {
			return old, true
		}
		if !old.live(now) {
			s.untrack(key)
			return old, true
		}
		updated = true
		old.deadline = deadline
		s.track(key, deadline)
		return old, false
	})
	return updated, nil
}

func (s *storeImpl) PTTL(key string) (int64, error) {
	if s.closed.Load() {
		return 0, store.NewError(store.RetCClosed, "store is closed")
	}
	now := s.nowMillis()
	e, ok := s.data.Load(key)
	switch {
	case !ok || !e.live(now):
		return -2, nil
	case e.deadline == 0:
		return -1, nil
	default:
		return e.deadline - now, nil
	}
}

func (s *storeImpl) CompareAndDelete(key string, expected []byte) (bool, error) {
	if s.closed.Load() {
		return false, store.NewError(store.RetCClosed, "store is closed")
	}
	now := s.nowMillis()
	deleted := false
	s.data.Compute(key, func(old entry, loaded bool) (entry, bool) {
		if !loaded {
			return old, true
		}
		if old.live(now) && bytes.Equal(old.value, expected) {
			deleted = true
			s.untrack(key)
			return old, true
		}
		return old, false
	})
	return deleted, nil
}

func (s *storeImpl) CompareAndExtend(key string, expected []byte, extra time.Duration) (bool, error) {
	if err := s.check(extra); err != nil {
		return false, err
	}
	now := s.nowMillis()
	extended := false
	s.data.Compute(key, func(old entry, loaded bool) (entry, bool) {
		if !loaded {
			return old, true
		}
		if !old.live(now) || old.deadline == 0 || !bytes.Equal(old.value, expected) {
			return old, false
		}
		old.deadline += extra.Milliseconds()
		extended = true
		s.track(key, old.deadline)
		return old, false
	})
	return extended, nil
}

func (s *storeImpl) CountKeysInSlot(sl uint16) (int, error) {
	keys, err := s.slotKeys(sl)
	return len(keys), err
}

func (s *storeImpl) KeysInSlot(sl uint16, count int) ([]string, error) {
	if count < 0 {
		return nil, store.NewError(store.RetCInvalidOperation, "count must not be negative")
	}
	keys, err := s.slotKeys(sl)
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	if len(keys) > count {
		keys = keys[:count]
	}
	return keys, nil
}

func (s *storeImpl) DumpSlot(sl uint16) ([]store.Entry, error) {
	if s.closed.Load() {
		return nil, store.NewError(store.RetCClosed, "store is closed")
	}
	now := s.nowMillis()
	var entries []store.Entry
	s.data.Range(func(key string, e entry) bool {
		if e.live(now) && slot.Of(key) == sl {
			var ttl time.Duration
			if e.deadline != 0 {
				ttl = time.Duration(e.deadline-now) * time.Millisecond
			}
			entries = append(entries, store.Entry{Key: key, Value: e.value, TTL: ttl})
		}
		return true
	})
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries, nil
}

func (s *storeImpl) Restore(e store.Entry) error {
	return s.Set(e.Key, e.Value, e.TTL)
}

func (s *storeImpl) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	close(s.stopCh)
	s.wg.Wait()
	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func (s *storeImpl) nowMillis() int64 {
	return s.clock().UnixMilli()
}

// deadline converts a ttl to an absolute deadline, 0 for no expiry
func (s *storeImpl) deadline(ttl time.Duration) int64 {
	if ttl <= 0 {
		return 0
	}
	ms := ttl.Milliseconds()
	if ms == 0 {
		ms = 1
	}
	return s.nowMillis() + ms
}

// check validates the store state and a ttl argument
func (s *storeImpl) check(ttl time.Duration) error {
	if s.closed.Load() {
		return store.NewError(store.RetCClosed, "store is closed")
	}
	if ttl < 0 {
		return store.NewError(store.RetCInvalidOperation, "ttl must not be negative")
	}
	return nil
}

// track schedules or cancels the expiry of a key. It is called from inside
// the Compute callback that writes the key, so the schedule of a key changes
// in the same order as its entry.
func (s *storeImpl) track(key string, deadline int64) {
	s.expMu.Lock()
	defer s.expMu.Unlock()
	if deadline == 0 {
		s.expiries.cancel(key)
	} else {
		s.expiries.schedule(key, deadline)
	}
}

func (s *storeImpl) untrack(key string) {
	s.track(key, 0)
}

// slotKeys returns the live keys of a slot in map order
func (s *storeImpl) slotKeys(sl uint16) ([]string, error) {
	if s.closed.Load() {
		return nil, store.NewError(store.RetCClosed, "store is closed")
	}
	now := s.nowMillis()
	keys := make([]string, 0)
	s.data.Range(func(key string, e entry) bool {
		if e.live(now) && slot.Of(key) == sl {
			keys = append(keys, key)
		}
		return true
	})
	return keys, nil
}

// gcLoop removes expired keys until the store is closed
func (s *storeImpl) gcLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.gcInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.collect()
		}
	}
}

// collect deletes the keys whose deadline passed. A key that was rewritten
// since it was scheduled keeps its new value.
func (s *storeImpl) collect() {
	now := s.nowMillis()

	s.expMu.Lock()
	due := s.expiries.popDue(now)
	s.expMu.Unlock()

	for _, it := range due {
		s.data.Compute(it.key, func(old entry, loaded bool) (entry, bool) {
			if !loaded {
				return old, true
			}
			return old, old.deadline == it.deadline
		})
	}
}

// clone copies a value so callers can reuse their buffers
func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append(make([]byte, 0, len(b)), b...)
}
