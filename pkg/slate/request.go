package slate

import (
	"context"

	"slate/pkg/domain"
)

func filterAnd(r *domain.FetchRequest, p domain.Predicate) {
	if r.Predicate == nil {
		r.Predicate = p
		return
	}
	r.Predicate = domain.And(r.Predicate, p)
}

func filterOr(r *domain.FetchRequest, p domain.Predicate) {
	if r.Predicate == nil {
		r.Predicate = p
		return
	}
	r.Predicate = domain.Or(r.Predicate, p)
}

// Request builds a snapshot fetch for one entity inside a query context.
// Builder methods modify the request in place and return it for chaining.
type Request[T Snapshot] struct {
	qc     *QueryContext
	entity *Entity[T]
	fetch  domain.FetchRequest
}

// Filter narrows the request; successive filters are combined with AND.
func (r *Request[T]) Filter(p domain.Predicate) *Request[T] {
	filterAnd(&r.fetch, p)
	return r
}

// And is an alias of Filter.
func (r *Request[T]) And(p domain.Predicate) *Request[T] { return r.Filter(p) }

// Or widens the request with an alternative predicate.
func (r *Request[T]) Or(p domain.Predicate) *Request[T] {
	filterOr(&r.fetch, p)
	return r
}

// Sort appends a sort key.
func (r *Request[T]) Sort(key string, ascending bool) *Request[T] {
	r.fetch.Sort = append(r.fetch.Sort, domain.Sort{Key: key, Ascending: ascending})
	return r
}

func (r *Request[T]) Limit(n int) *Request[T] {
	r.fetch.Limit = n
	return r
}

func (r *Request[T]) Offset(n int) *Request[T] {
	r.fetch.Offset = n
	return r
}

// FetchRequest returns the store request built so far.
func (r *Request[T]) FetchRequest() domain.FetchRequest { return r.fetch }

// Fetch returns the matching snapshots.
func (r *Request[T]) Fetch(ctx context.Context) ([]T, error) {
	return r.run(ctx, r.fetch)
}

// FetchOne returns the first matching snapshot. The request itself is not
// modified.
func (r *Request[T]) FetchOne(ctx context.Context) (T, bool, error) {
	req := r.fetch
	req.Limit = 1
	out, err := r.run(ctx, req)
	if err != nil || len(out) == 0 {
		var zero T
		return zero, false, err
	}
	return out[0], true, nil
}

// Count returns the number of matching objects, ignoring limit and offset.
func (r *Request[T]) Count(ctx context.Context) (int, error) {
	var n int
	err := r.qc.use(ctx, func(oc domain.ObjectContext) error {
		req := r.fetch
		req.Limit, req.Offset = 0, 0
		var err error
		n, err = oc.Count(req)
		if err != nil {
			return underlying("count "+req.Entity, err)
		}
		return nil
	})
	return n, err
}

func (r *Request[T]) run(ctx context.Context, req domain.FetchRequest) ([]T, error) {
	var out []T
	err := r.qc.use(ctx, func(oc domain.ObjectContext) error {
		objects, err := oc.Fetch(req)
		if err != nil {
			return underlying("fetch "+req.Entity, err)
		}
		out = make([]T, 0, len(objects))
		for _, o := range objects {
			s, err := r.entity.snapshot(r.qc.c.cache, o)
			if err != nil {
				return err
			}
			out = append(out, s)
		}
		return nil
	})
	return out, err
}

// ObjectRequest fetches managed objects inside a mutation block.
type ObjectRequest struct {
	w     *WriteContext
	fetch domain.FetchRequest
}

// Filter narrows the request; successive filters are combined with AND.
func (r *ObjectRequest) Filter(p domain.Predicate) *ObjectRequest {
	filterAnd(&r.fetch, p)
	return r
}

// Or widens the request with an alternative predicate.
func (r *ObjectRequest) Or(p domain.Predicate) *ObjectRequest {
	filterOr(&r.fetch, p)
	return r
}

func (r *ObjectRequest) Sort(key string, ascending bool) *ObjectRequest {
	r.fetch.Sort = append(r.fetch.Sort, domain.Sort{Key: key, Ascending: ascending})
	return r
}

func (r *ObjectRequest) Limit(n int) *ObjectRequest {
	r.fetch.Limit = n
	return r
}

func (r *ObjectRequest) Offset(n int) *ObjectRequest {
	r.fetch.Offset = n
	return r
}

// Fetch returns the matching managed objects, pending changes included.
func (r *ObjectRequest) Fetch() ([]*domain.Object, error) {
	if err := r.w.check(); err != nil {
		return nil, err
	}
	return r.w.objects.Fetch(r.fetch)
}

// FetchOne returns the first matching object or nil.
func (r *ObjectRequest) FetchOne() (*domain.Object, error) {
	if err := r.w.check(); err != nil {
		return nil, err
	}
	req := r.fetch
	req.Limit = 1
	objects, err := r.w.objects.Fetch(req)
	if err != nil || len(objects) == 0 {
		return nil, err
	}
	return objects[0], nil
}

// Count returns the number of matching objects, ignoring limit and offset.
func (r *ObjectRequest) Count() (int, error) {
	if err := r.w.check(); err != nil {
		return 0, err
	}
	req := r.fetch
	req.Limit, req.Offset = 0, 0
	return r.w.objects.Count(req)
}

// DeleteAll deletes every matching object and returns how many were
// deleted. Deletions join the mutation's changeset.
func (r *ObjectRequest) DeleteAll() (int, error) {
	objects, err := r.Fetch()
	if err != nil {
		return 0, err
	}
	if err := r.w.Delete(objects...); err != nil {
		return 0, err
	}
	return len(objects), nil
}
