// Package domain defines the contract between the slate coordinator and the
// object store it fronts: identities, the schema model, managed objects, fetch
// requests, and the persistence interfaces a store must implement.
package domain

import (
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// ID identifies a managed object. Temporary IDs are issued when an object is
// created and are replaced by permanent IDs before the owning context commits.
type ID string

const tempPrefix = "t-"

// TempID returns the temporary identity issued for the n-th created object of a context.
func TempID(n uint64) ID {
	return ID(tempPrefix + strconv.FormatUint(n, 10))
}

// NewPermanentID returns a new permanent identity. Permanent identities are
// never reused.
func NewPermanentID() ID {
	return ID(uuid.NewString())
}

// IsTemporary reports whether the identity was issued by TempID.
func (id ID) IsTemporary() bool {
	return strings.HasPrefix(string(id), tempPrefix)
}

// String implements fmt.Stringer.
func (id ID) String() string { return string(id) }
