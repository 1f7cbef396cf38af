package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Store errors shared by every ObjectContext implementation.
var (
	// ErrNotFound is returned when an identity does not resolve to an object.
	ErrNotFound = errors.New("object not found")
	// ErrUnknownEntity is returned for entity names absent from the model.
	ErrUnknownEntity = errors.New("unknown entity")
	// ErrUnknownProperty is returned for attribute or relationship names absent from the entity.
	ErrUnknownProperty = errors.New("unknown property")
	// ErrTypeMismatch is returned when a value does not fit an attribute type.
	ErrTypeMismatch = errors.New("type mismatch")
	// ErrReadOnly is returned when a read-only context is asked to change an object.
	ErrReadOnly = errors.New("object context is read-only")
	// ErrDeleted is returned when a deleted object is modified.
	ErrDeleted = errors.New("object is deleted")
	// ErrForeignObject is returned when objects from different contexts are linked.
	ErrForeignObject = errors.New("object belongs to another context")
	// ErrDeleteDenied is returned when a deny delete rule blocks a delete.
	ErrDeleteDenied = errors.New("delete denied by relationship rule")
	// ErrCardinality is returned when a to-one relationship is used as to-many or vice versa.
	ErrCardinality = errors.New("relationship cardinality mismatch")
)

// ValidationIssue describes one failed constraint detected while saving.
type ValidationIssue struct {
	Entity   string
	ID       ID
	Property string
	Message  string
}

// ValidationError aggregates the issues that blocked a save.
type ValidationError struct {
	Issues []ValidationIssue
}

func (e ValidationError) Error() string {
	if len(e.Issues) == 0 {
		return "validation failed"
	}
	parts := make([]string, 0, len(e.Issues))
	for _, is := range e.Issues {
		parts = append(parts, fmt.Sprintf("%s(%s).%s: %s", is.Entity, is.ID, is.Property, is.Message))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}
