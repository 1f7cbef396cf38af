package slate

import (
	"context"
	"sync"
	"weak"
)

// Listener is notified of every committed mutation. HandleMutation runs
// while the write barrier is held: reads through result.Context() with ctx
// observe exactly the committed state, and no other mutation can start
// before it returns.
type Listener interface {
	HandleMutation(ctx context.Context, result *MutationResult)
}

// ListenerFunc adapts a function to a subscription callback.
type ListenerFunc func(ctx context.Context, result *MutationResult)

type listenerRegistry struct {
	mu     sync.Mutex
	weak   map[any]func() Listener
	subs   map[uint64]ListenerFunc
	nextID uint64
}

func (r *listenerRegistry) addWeak(key any, resolve func() Listener) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.weak == nil {
		r.weak = make(map[any]func() Listener)
	}
	r.weak[key] = resolve
	return len(r.weak) + len(r.subs)
}

func (r *listenerRegistry) removeWeak(key any) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.weak, key)
	return len(r.weak) + len(r.subs)
}

func (r *listenerRegistry) subscribe(fn ListenerFunc) (uint64, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.subs == nil {
		r.subs = make(map[uint64]ListenerFunc)
	}
	r.nextID++
	r.subs[r.nextID] = fn
	return r.nextID, len(r.weak) + len(r.subs)
}

func (r *listenerRegistry) unsubscribe(id uint64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.subs, id)
	return len(r.weak) + len(r.subs)
}

// live returns the callbacks to notify, pruning released listeners.
func (r *listenerRegistry) live() (out []ListenerFunc, pruned, remaining int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, resolve := range r.weak {
		l := resolve()
		if l == nil {
			delete(r.weak, key)
			pruned++
			continue
		}
		out = append(out, l.HandleMutation)
	}
	for _, fn := range r.subs {
		out = append(out, fn)
	}
	return out, pruned, len(r.weak) + len(r.subs)
}

// AddListener registers l without keeping it alive: once l is garbage
// collected it is dropped at the next announcement. Listeners are keyed by
// address, so adding the same listener twice registers it once. Pointers to
// a zero-size type may share one address; such listeners are
// indistinguishable here and should use Subscribe instead.
func AddListener[T any, P interface {
	*T
	Listener
}](c *Coordinator, l P) {
	wp := weak.Make((*T)(l))
	n := c.listeners.addWeak(wp, func() Listener {
		if p := wp.Value(); p != nil {
			return P(p)
		}
		return nil
	})
	c.metrics.setListeners(n)
}

// RemoveListener unregisters l.
func RemoveListener[T any, P interface {
	*T
	Listener
}](c *Coordinator, l P) {
	c.metrics.setListeners(c.listeners.removeWeak(weak.Make((*T)(l))))
}

// Subscribe registers fn until the returned cancel function is called.
func (c *Coordinator) Subscribe(fn ListenerFunc) (cancel func()) {
	id, n := c.listeners.subscribe(fn)
	c.metrics.setListeners(n)
	var once sync.Once
	return func() {
		once.Do(func() { c.metrics.setListeners(c.listeners.unsubscribe(id)) })
	}
}

func (c *Coordinator) announce(ctx context.Context, result *MutationResult) {
	callbacks, pruned, remaining := c.listeners.live()
	if pruned > 0 {
		c.logger.Debug("pruned released listeners", "count", pruned)
	}
	c.metrics.setListeners(remaining)
	actx := withScope(ctx, &scope{kind: scopeAnnounce, qc: result.qc})
	for _, fn := range callbacks {
		fn(actx, result)
	}
}
