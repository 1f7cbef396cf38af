package slate

import "context"

type scopeKind int

const (
	scopeRead scopeKind = iota + 1
	scopeWrite
	scopeAnnounce
)

func (k scopeKind) String() string {
	switch k {
	case scopeRead:
		return "read"
	case scopeWrite:
		return "write"
	case scopeAnnounce:
		return "announce"
	}
	return "none"
}

// scope is the active-context register carried by a block's ctx. Read and
// announce scopes carry the query context; write scopes carry the write
// context.
type scope struct {
	kind scopeKind
	qc   *QueryContext
	wc   *WriteContext
}

type scopeKey struct{}

func withScope(ctx context.Context, s *scope) context.Context {
	return context.WithValue(ctx, scopeKey{}, s)
}

func scopeFrom(ctx context.Context) *scope {
	s, _ := ctx.Value(scopeKey{}).(*scope)
	return s
}

func (s *scope) open() bool {
	if s == nil {
		return false
	}
	if s.wc != nil {
		return s.wc.open.Load()
	}
	return s.qc != nil && s.qc.open.Load()
}

// detach strips cancellation and any active scope from ctx for work that
// outlives the caller.
func detach(ctx context.Context) context.Context {
	return withScope(context.WithoutCancel(ctx), nil)
}

// IsInsideQuery reports whether ctx belongs to a running read, write or
// announce block.
func IsInsideQuery(ctx context.Context) bool {
	return scopeFrom(ctx).open()
}
