package slate

import (
	"context"
	"sort"
	"sync"

	"slate/pkg/domain"
)

// Move records an element that kept its identity but changed position.
type Move struct {
	From int // index in the previous values
	To   int // index in the new values
}

// StreamUpdate is one delivery of a stream. Inserted and Updated index into
// Values; Deleted indexes into the previous delivery's values.
type StreamUpdate[T Snapshot] struct {
	Values   []T
	Initial  bool
	Inserted []int
	Deleted  []int
	Updated  []int
	Moved    []Move
}

// Stream keeps a request's result current. The request is re-run inside
// the announcement of every mutation touching the entity, so the sink sees
// each committed state exactly once and in commit order.
type Stream[T Snapshot] struct {
	c         *Coordinator
	entity    *Entity[T]
	configure func(*Request[T])
	sink      func(StreamUpdate[T])

	mu     sync.Mutex
	ids    []domain.ID
	cancel func()
	closed bool
}

// Stream starts a stream over e. configure shapes the request (it may be
// nil); sink receives the initial result and every later change. Failures
// are logged and reported as uncaught errors.
//
// Like a Listener, sink runs while the write barrier is held. It must not
// wait on the coordinator: QuerySync or MutateSync with a fresh context
// deadlocks. Follow-up work goes through QueryAsync or MutateAsync.
func (e *Entity[T]) Stream(ctx context.Context, c *Coordinator, configure func(*Request[T]), sink func(StreamUpdate[T])) *Stream[T] {
	s := &Stream[T]{c: c, entity: e, configure: configure, sink: sink}
	c.QueryAsync(ctx, s.start).Catch(s.fail)
	return s
}

// Close stops deliveries.
func (s *Stream[T]) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

// start subscribes inside the initial read so no mutation falls between
// the initial result and the first announcement.
func (s *Stream[T]) start(ctx context.Context, qc *QueryContext) error {
	values, err := s.fetch(ctx, qc)
	if err != nil {
		return err
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.cancel = s.c.Subscribe(s.handleMutation)
	s.ids = identities(values)
	s.mu.Unlock()
	s.sink(StreamUpdate[T]{Values: values, Initial: true})
	return nil
}

func (s *Stream[T]) handleMutation(ctx context.Context, result *MutationResult) {
	if !result.Touches(s.entity.name) {
		return
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	prev := s.ids
	s.mu.Unlock()

	values, err := s.fetch(ctx, result.Context())
	if err != nil {
		s.fail(err)
		return
	}
	update := diffValues(prev, values, result.updated[s.entity.name])
	s.mu.Lock()
	s.ids = identities(values)
	s.mu.Unlock()
	s.sink(update)
}

func (s *Stream[T]) fetch(ctx context.Context, qc *QueryContext) ([]T, error) {
	req := s.entity.Query(qc)
	if s.configure != nil {
		s.configure(req)
	}
	return req.Fetch(ctx)
}

func (s *Stream[T]) fail(err error) {
	s.c.logger.Error("stream query failed", "entity", s.entity.name, "error", err)
	s.c.reportUncaught(err)
}

func identities[T Snapshot](values []T) []domain.ID {
	ids := make([]domain.ID, len(values))
	for i, v := range values {
		ids[i] = v.SlateID()
	}
	return ids
}

// diffValues compares two results by identity. Elements kept in place form
// the longest run whose previous positions increase; every other retained
// element is reported as moved.
func diffValues[T Snapshot](prev []domain.ID, next []T, updated map[domain.ID]Snapshot) StreamUpdate[T] {
	u := StreamUpdate[T]{Values: next}
	oldIndex := make(map[domain.ID]int, len(prev))
	for i, id := range prev {
		oldIndex[id] = i
	}
	present := make(map[domain.ID]struct{}, len(next))
	var kept, keptOld []int
	for i, v := range next {
		id := v.SlateID()
		present[id] = struct{}{}
		j, ok := oldIndex[id]
		if !ok {
			u.Inserted = append(u.Inserted, i)
			continue
		}
		kept = append(kept, i)
		keptOld = append(keptOld, j)
		if _, ok := updated[id]; ok {
			u.Updated = append(u.Updated, i)
		}
	}
	for i, id := range prev {
		if _, ok := present[id]; !ok {
			u.Deleted = append(u.Deleted, i)
		}
	}
	stable := increasingRun(keptOld)
	for k, i := range kept {
		if !stable[k] {
			u.Moved = append(u.Moved, Move{From: keptOld[k], To: i})
		}
	}
	return u
}

// increasingRun marks one longest strictly increasing subsequence of seq.
func increasingRun(seq []int) []bool {
	keep := make([]bool, len(seq))
	if len(seq) == 0 {
		return keep
	}
	var tails []int
	prev := make([]int, len(seq))
	for i, v := range seq {
		j := sort.Search(len(tails), func(k int) bool { return seq[tails[k]] >= v })
		prev[i] = -1
		if j > 0 {
			prev[i] = tails[j-1]
		}
		if j == len(tails) {
			tails = append(tails, i)
		} else {
			tails[j] = i
		}
	}
	for i := tails[len(tails)-1]; i >= 0; i = prev[i] {
		keep[i] = true
	}
	return keep
}
