// Package store defines the key-value store a development node serves its
// slots from (IStore) and the error type shared by its implementations.
//
// The contract covers what the cluster client needs from a node: plain
// get/set/delete, the set-if-absent primitive locks are built on, millisecond
// expiry (PExpire/PTTL), the compare-and-act primitives behind the lock
// scripts, and per-slot enumeration for introspection and slot migration.
//
// Implementations:
//
//   - memstore: in-memory store on a concurrent map with wall clock expiry.
//     Available in the "github.com/ValentinKolb/cKV/lib/store/memstore" package.
package store
