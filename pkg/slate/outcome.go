package slate

// Outcome is what a mutation block asks the pipeline to do with its
// changes. The zero value commits with a nil value.
type Outcome struct {
	value any
	abort bool
}

// Commit commits the block's changes and records v on the mutation result.
func Commit(v any) Outcome { return Outcome{value: v} }

// Abort discards the block's changes. Nothing is committed, no listener is
// notified and no error is reported.
func Abort() Outcome { return Outcome{abort: true} }

// Aborted reports whether o discards the changes.
func (o Outcome) Aborted() bool { return o.abort }

// Value returns the committed value.
func (o Outcome) Value() any { return o.value }
