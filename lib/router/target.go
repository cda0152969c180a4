package router

import "github.com/ValentinKolb/cKV/lib/slot"

// Target selects the slot a request is routed by
type Target struct {
	key      string
	keys     []string
	slot     uint16
	explicit bool
}

// ByKey routes by the slot of a key
func ByKey(key string) Target {
	return Target{key: key}
}

// ByKeys routes a request that touches several keys. All keys must hash to
// the same slot, use hash tags to co-locate them.
func ByKeys(keys ...string) Target {
	if len(keys) == 0 {
		return Target{}
	}
	return Target{key: keys[0], keys: keys}
}

// BySlot routes to the owner of an explicit slot
func BySlot(s uint16) Target {
	return Target{slot: s, explicit: true}
}

// Slot returns the slot of the target. For a multi-key target it is the slot
// of the first key.
func (t Target) Slot() uint16 {
	if t.explicit {
		return t.slot
	}
	return slot.Of(t.key)
}

// slots returns the distinct slots of the target in key order
func (t Target) slots() []uint16 {
	first := t.Slot()
	out := []uint16{first}
	for _, k := range t.keys {
		s := slot.Of(k)
		if !containsSlot(out, s) {
			out = append(out, s)
		}
	}
	return out
}

func containsSlot(slots []uint16, s uint16) bool {
	for _, x := range slots {
		if x == s {
			return true
		}
	}
	return false
}
