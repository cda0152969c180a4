// Package slot maps keys onto the fixed key space partitions ("slots") of the
// cluster. Every key belongs to exactly one of the 16384 slots, and every slot
// is owned by exactly one shard at any time.
//
// Hash Tags:
//
//	If a key contains a non-empty substring enclosed by the first "{" and the
//	next "}" after it, only that substring is hashed. This allows callers to
//	force related keys onto the same slot (and therefore the same node):
//
//	slot.Of("user:{1000}:profile") == slot.Of("user:{1000}:sessions")
//
// Algorithm:
//
//	The slot is the CRC16 (XMODEM variant, polynomial 0x1021, initial value 0)
//	of the (possibly tag-reduced) key, modulo 16384.
//
// Thread Safety:
//
//	All functions are pure and safe for concurrent use.
package slot
