package store

import (
	"fmt"
	"time"
)

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// Entry is a key with its value and remaining time to live (0 = no expiry)
type Entry struct {
	Key   string
	Value []byte
	TTL   time.Duration
}

// IStore is the key-value store of a development node.
// Expired keys are treated as absent by every operation.
type IStore interface {
	// Set inserts or updates a key–value pair. A zero ttl means no expiry.
	Set(key string, value []byte, ttl time.Duration) (err error)
	// SetIfAbsent inserts a key–value pair only if the key does not exist.
	// The returned bool reports whether the value was written.
	SetIfAbsent(key string, value []byte, ttl time.Duration) (written bool, err error)
	// Get returns the value for a key. The boolean return value indicates whether a value for the key was found.
	Get(key string) (value []byte, loaded bool, err error)
	// Delete deletes a key–value pair and reports whether it existed
	Delete(key string) (deleted bool, err error)
	// PExpire sets the time to live of an existing key
	PExpire(key string, ttl time.Duration) (updated bool, err error)
	// PTTL returns the remaining time to live in milliseconds,
	// -1 if the key has no expiry and -2 if the key does not exist
	PTTL(key string) (ttl int64, err error)

	// CompareAndDelete deletes the key if its value equals expected
	CompareAndDelete(key string, expected []byte) (deleted bool, err error)
	// CompareAndExtend adds extra to the remaining time to live of the key if its
	// value equals expected. Keys without expiry are left untouched.
	CompareAndExtend(key string, expected []byte, extra time.Duration) (extended bool, err error)

	// CountKeysInSlot returns the number of keys hashing to a slot
	CountKeysInSlot(slot uint16) (n int, err error)
	// KeysInSlot returns up to count keys hashing to a slot, sorted
	KeysInSlot(slot uint16, count int) (keys []string, err error)
	// DumpSlot returns all entries of a slot
	DumpSlot(slot uint16) (entries []Entry, err error)
	// Restore writes an entry, replacing an existing value
	Restore(entry Entry) (err error)

	// Close stops background work of the store
	Close() error
}

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error is a custom error type that wraps a return code (of type RetCode)
// and an error message.
type Error struct {
	Code RetCode // The return code
	Msg  string  // The error message.
}

// Error implements the error interface.
func (e *Error) Error() string {
	errorCode := ""
	switch e.Code {
	case RetCInternalError:
		errorCode = "InternalError"
	case RetCInvalidOperation:
		errorCode = "InvalidOperation"
	case RetCClosed:
		errorCode = "Closed"
	default:
		errorCode = "Unknown"
	}

	return fmt.Sprintf("StoreError (code %s): %s", errorCode, e.Msg)
}

// NewError creates a new store error with the given code and message.
func NewError(code RetCode, msg string) *Error {
	return &Error{
		Code: code,
		Msg:  msg,
	}
}

// --------------------------------------------------------------------------
// Return Codes
// --------------------------------------------------------------------------

type RetCode uint64

const (
	RetCSuccess          RetCode = iota // 0: Command executed successfully.
	RetCInternalError                   // 1: Command failed due to an internal error.
	RetCInvalidOperation                // 2: Invalid operation (e.g. a negative ttl).
	RetCClosed                          // 3: The store was closed.
)
