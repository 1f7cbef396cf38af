package slate

import (
	"runtime"
	"sync"
)

// Executor runs error handlers attached with CatchOn.
type Executor interface {
	Execute(fn func())
}

// ExecutorFunc adapts a function to an Executor.
type ExecutorFunc func(fn func())

func (f ExecutorFunc) Execute(fn func()) { f(fn) }

// GoExecutor runs each handler on a new goroutine.
var GoExecutor Executor = ExecutorFunc(func(fn func()) { go fn() })

// handleState outlives the Handle so the operation can finish after the
// caller dropped it.
type handleState struct {
	mu       sync.Mutex
	err      error
	aborted  bool
	finished bool
	consumed bool
	orphaned bool
	handler  func(error)
	exec     Executor
	done     chan struct{}
	report   func(error)
}

// Handle is the deferred-error handle returned by every query and mutation.
// An error recorded on it is delivered exactly once to the handler attached
// with Catch, whether the handler is attached before or after the operation
// finished. If the Handle becomes unreachable while holding an error nobody
// consumed, the error is reported to the coordinator's uncaught-error
// handlers.
type Handle struct {
	s *handleState
}

func newHandle(report func(error)) *Handle {
	s := &handleState{done: make(chan struct{}), report: report}
	h := &Handle{s: s}
	runtime.AddCleanup(h, (*handleState).release, s)
	return h
}

// Catch delivers the recorded error to fn on the finishing goroutine, or
// immediately if the operation already finished.
func (h *Handle) Catch(fn func(error)) *Handle {
	return h.CatchOn(nil, fn)
}

// CatchOn is Catch with fn run through exec.
func (h *Handle) CatchOn(exec Executor, fn func(error)) *Handle {
	s := h.s
	s.mu.Lock()
	s.handler, s.exec = fn, exec
	deliver := s.takeLocked()
	s.mu.Unlock()
	deliver()
	return h
}

// Wait blocks until the operation finished and returns its error, which
// counts as consumed. An aborted mutation returns nil.
func (h *Handle) Wait() error {
	<-h.s.done
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	h.s.consumed = true
	return h.s.err
}

// Done is closed when the operation finished.
func (h *Handle) Done() <-chan struct{} { return h.s.done }

// Aborted reports whether the mutation finished by aborting.
func (h *Handle) Aborted() bool {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	return h.s.aborted
}

func (s *handleState) finish(err error) {
	s.mu.Lock()
	if isAbort(err) {
		s.aborted, err = true, nil
	}
	s.err, s.finished = err, true
	deliver := s.takeLocked()
	uncaught := s.orphaned && err != nil && !s.consumed
	close(s.done)
	s.mu.Unlock()
	deliver()
	if uncaught {
		s.report(err)
	}
}

// takeLocked marks the error consumed and returns its delivery, or a no-op
// when there is nothing to deliver yet.
func (s *handleState) takeLocked() func() {
	if !s.finished || s.err == nil || s.consumed || s.handler == nil {
		return func() {}
	}
	s.consumed = true
	fn, err, exec := s.handler, s.err, s.exec
	if exec == nil {
		return func() { fn(err) }
	}
	return func() { exec.Execute(func() { fn(err) }) }
}

// release runs once the Handle is unreachable.
func (s *handleState) release() {
	s.mu.Lock()
	s.orphaned = true
	uncaught := s.finished && s.err != nil && !s.consumed && s.handler == nil
	if uncaught {
		s.consumed = true
	}
	err := s.err
	s.mu.Unlock()
	if uncaught {
		s.report(err)
	}
}
