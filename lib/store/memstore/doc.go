// Package memstore implements store.IStore in memory.
//
// Entries live in an xsync.MapOf; every conditional operation (set-if-absent,
// compare-and-delete, compare-and-extend, pexpire) runs inside MapOf.Compute,
// so it is atomic with respect to other writers of the same key.
//
// Expiry uses the wall clock with millisecond resolution. Expired entries are
// invisible to all operations right away and are removed by a background
// goroutine that pops due deadlines from a heap. Slot queries scan the map,
// which is fine for development nodes.
package memstore
