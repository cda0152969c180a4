package lockmgr

import (
	"context"
	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
)

// Holder keeps the tokens of the locks acquired by one logical unit of
// execution. Attach it to a context with WithHolder; every lock using
// ScopeContext then stores its token in the holder of the caller's context.
type Holder struct {
	tokens *xsync.MapOf[*lockImpl, []byte]
}

// NewHolder creates an empty holder
func NewHolder() *Holder {
	return &Holder{tokens: xsync.NewMapOf[*lockImpl, []byte]()}
}

type holderKey struct{}

// WithHolder returns a context carrying a new Holder
func WithHolder(ctx context.Context) context.Context {
	return context.WithValue(ctx, holderKey{}, NewHolder())
}

// HolderFrom returns the holder attached to ctx, or nil
func HolderFrom(ctx context.Context) *Holder {
	h, _ := ctx.Value(holderKey{}).(*Holder)
	return h
}

func (h *Holder) get(l *lockImpl) ([]byte, bool) {
	return h.tokens.Load(l)
}

func (h *Holder) set(l *lockImpl, token []byte) {
	h.tokens.Store(l, token)
}

// take returns the token and clears it
func (h *Holder) take(l *lockImpl) ([]byte, bool) {
	return h.tokens.LoadAndDelete(l)
}

// newToken creates a unique ownership token
func newToken() []byte {
	return []byte(uuid.NewString())
}
