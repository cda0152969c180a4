// Package topology keeps the map from slots to the nodes that own them.
//
// A Manager holds the current Snapshot behind an atomic pointer. Refresh asks
// the cluster for its shard list, builds a new snapshot and swaps it in;
// readers see either the old or the new snapshot. A MOVED redirect rebinds a
// single slot in the live snapshot through ApplyMoved, so later lookups for
// that slot go to the new owner without waiting for a refresh. ASK redirects
// never touch the map.
//
// Before the first successful refresh no slot has an owner and Resolve
// returns a *TopologyError.
package topology
