package common

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// RedirectKind tells whether a redirect is permanent or one-shot
type RedirectKind uint8

const (
	// RedirectMoved means the slot has a new owner, the client must update its map
	RedirectMoved RedirectKind = iota + 1
	// RedirectAsk means the slot is migrating, only this request goes to the target
	RedirectAsk
)

func (k RedirectKind) String() string {
	switch k {
	case RedirectMoved:
		return "MOVED"
	case RedirectAsk:
		return "ASK"
	default:
		return "UNKNOWN"
	}
}

// Redirect is the tagged value a node embeds in its reply when it does not
// serve the requested slot.
type Redirect struct {
	Kind RedirectKind
	Slot uint16
	Addr string // host:port of the target node, or a socket path
}

func (r Redirect) String() string {
	return fmt.Sprintf("%s %d %s", r.Kind, r.Slot, r.Addr)
}

// NewMovedResponse creates a MOVED redirect reply
func NewMovedResponse(slot uint16, addr string) *Message {
	return NewErrorResponse(Redirect{Kind: RedirectMoved, Slot: slot, Addr: addr}.String())
}

// NewAskResponse creates an ASK redirect reply
func NewAskResponse(slot uint16, addr string) *Message {
	return NewErrorResponse(Redirect{Kind: RedirectAsk, Slot: slot, Addr: addr}.String())
}

// ParseRedirect inspects a reply for a redirect signal.
// The second return value is false for every reply that is not a well formed redirect.
func ParseRedirect(msg *Message) (Redirect, bool) {
	if msg == nil || msg.Err == "" {
		return Redirect{}, false
	}

	fields := strings.Fields(msg.Err)
	if len(fields) != 3 {
		return Redirect{}, false
	}

	var kind RedirectKind
	switch fields[0] {
	case "MOVED":
		kind = RedirectMoved
	case "ASK":
		kind = RedirectAsk
	default:
		return Redirect{}, false
	}

	slot, err := strconv.ParseUint(fields[1], 10, 16)
	if err != nil || slot >= 16384 {
		return Redirect{}, false
	}

	if !ValidAddr(fields[2]) {
		return Redirect{}, false
	}

	return Redirect{Kind: kind, Slot: uint16(slot), Addr: fields[2]}, true
}

// ValidAddr reports whether addr is a host:port pair or an absolute unix socket path
func ValidAddr(addr string) bool {
	if strings.HasPrefix(addr, "/") {
		return true
	}
	_, _, err := net.SplitHostPort(addr)
	return err == nil
}

// --------------------------------------------------------------------------
// Server Error
// --------------------------------------------------------------------------

// ServerError is a non redirect error reply of a node
type ServerError struct {
	Msg string
}

func (e *ServerError) Error() string {
	return e.Msg
}

// Prefix returns the error class of the reply (e.g. "NOSCRIPT", "NOAUTH", "ERR")
func (e *ServerError) Prefix() string {
	prefix, _, _ := strings.Cut(e.Msg, " ")
	return prefix
}
