package domain

import (
	"fmt"
	"slices"
	"strings"
)

// Predicate selects managed objects. Predicates are opaque matchers evaluated
// by the store; they are not a query language.
type Predicate interface {
	Match(o *Object) bool
}

// PredicateFunc adapts a function to Predicate.
type PredicateFunc func(o *Object) bool

// Match implements Predicate.
func (f PredicateFunc) Match(o *Object) bool { return f(o) }

type comparison struct {
	attr string
	want any
	test func(c int) bool
	op   string
}

func (c comparison) Match(o *Object) bool {
	got := o.Value(c.attr)
	if (got == nil) != (c.want == nil) && c.op != "!=" {
		return false
	}
	return c.test(Compare(got, c.want))
}

func (c comparison) String() string { return fmt.Sprintf("%s %s %v", c.attr, c.op, c.want) }

// Eq matches objects whose attribute equals v.
func Eq(attr string, v any) Predicate {
	return comparison{attr: attr, want: v, op: "==", test: func(c int) bool { return c == 0 }}
}

// Ne matches objects whose attribute differs from v.
func Ne(attr string, v any) Predicate {
	return comparison{attr: attr, want: v, op: "!=", test: func(c int) bool { return c != 0 }}
}

// Lt matches objects whose attribute sorts before v.
func Lt(attr string, v any) Predicate {
	return comparison{attr: attr, want: v, op: "<", test: func(c int) bool { return c < 0 }}
}

// Le matches objects whose attribute sorts before or equal to v.
func Le(attr string, v any) Predicate {
	return comparison{attr: attr, want: v, op: "<=", test: func(c int) bool { return c <= 0 }}
}

// Gt matches objects whose attribute sorts after v.
func Gt(attr string, v any) Predicate {
	return comparison{attr: attr, want: v, op: ">", test: func(c int) bool { return c > 0 }}
}

// Ge matches objects whose attribute sorts after or equal to v.
func Ge(attr string, v any) Predicate {
	return comparison{attr: attr, want: v, op: ">=", test: func(c int) bool { return c >= 0 }}
}

// Contains matches string attributes containing substr.
func Contains(attr, substr string) Predicate {
	return PredicateFunc(func(o *Object) bool {
		s, ok := o.Value(attr).(string)
		return ok && strings.Contains(s, substr)
	})
}

// In matches objects whose attribute equals one of values.
func In(attr string, values ...any) Predicate {
	return PredicateFunc(func(o *Object) bool {
		got := o.Value(attr)
		return slices.ContainsFunc(values, func(v any) bool {
			return (got == nil) == (v == nil) && Compare(got, v) == 0
		})
	})
}

// IsNil matches objects without a value for attr.
func IsNil(attr string) Predicate {
	return PredicateFunc(func(o *Object) bool { return o.Value(attr) == nil })
}

// RelatedTo matches objects linked to id through rel.
func RelatedTo(rel string, id ID) Predicate {
	return PredicateFunc(func(o *Object) bool { return slices.Contains(o.rels[rel], id) })
}

type andPredicate []Predicate

func (a andPredicate) Match(o *Object) bool {
	for _, p := range a {
		if !p.Match(o) {
			return false
		}
	}
	return true
}

type orPredicate []Predicate

func (a orPredicate) Match(o *Object) bool {
	for _, p := range a {
		if p.Match(o) {
			return true
		}
	}
	return false
}

// And matches objects accepted by every non-nil predicate.
func And(ps ...Predicate) Predicate {
	ps = slices.DeleteFunc(slices.Clone(ps), func(p Predicate) bool { return p == nil })
	if len(ps) == 1 {
		return ps[0]
	}
	return andPredicate(ps)
}

// Or matches objects accepted by any non-nil predicate.
func Or(ps ...Predicate) Predicate {
	ps = slices.DeleteFunc(slices.Clone(ps), func(p Predicate) bool { return p == nil })
	if len(ps) == 1 {
		return ps[0]
	}
	return orPredicate(ps)
}

// Not inverts p.
func Not(p Predicate) Predicate {
	return PredicateFunc(func(o *Object) bool { return !p.Match(o) })
}

// Sort orders fetch results by one attribute.
type Sort struct {
	Key       string
	Ascending bool
}

// FetchRequest describes which objects of one entity to fetch. A zero Limit
// means unlimited.
type FetchRequest struct {
	Entity    string
	Predicate Predicate
	Sort      []Sort
	Limit     int
	Offset    int
}

// Apply filters, orders and pages objects in place according to the request.
// Objects without a sort key are ordered by identity so results are stable.
func (r FetchRequest) Apply(objects []*Object) []*Object {
	if r.Predicate != nil {
		objects = slices.DeleteFunc(objects, func(o *Object) bool { return !r.Predicate.Match(o) })
	}
	slices.SortStableFunc(objects, func(a, b *Object) int {
		for _, s := range r.Sort {
			c := Compare(a.Value(s.Key), b.Value(s.Key))
			if !s.Ascending {
				c = -c
			}
			if c != 0 {
				return c
			}
		}
		return strings.Compare(string(a.id), string(b.id))
	})
	if r.Offset > 0 {
		if r.Offset >= len(objects) {
			return objects[:0]
		}
		objects = objects[r.Offset:]
	}
	if r.Limit > 0 && r.Limit < len(objects) {
		objects = objects[:r.Limit]
	}
	return objects
}
