package triage

import (
	"context"
	"time"
)

// Mutator edits a help request in place during Store.Update. It runs while the
// store holds the record exclusively, so it must not call back into the store.
type Mutator func(r *HelpRequest)

// Store is the persistence interface for help requests. Implementations assign
// ID and CreatedAt on Create and serialize concurrent updates of the same ID.
// Records returned by a Store are copies owned by the caller.
type Store interface {
	// Create validates r, applies defaults, assigns ID and CreatedAt, and persists it.
	// CreatedAt never decreases in insertion order: a clock reading older than
	// the newest stored record is clamped up to it.
	Create(ctx context.Context, r *HelpRequest) (*HelpRequest, error)

	// Get returns a *NotFoundError when no record has the given ID.
	Get(ctx context.Context, id string) (*HelpRequest, error)

	// List returns every record, newest CreatedAt first, ties newest insert first.
	List(ctx context.Context) ([]*HelpRequest, error)

	// ListCreatedBetween returns records with from <= CreatedAt < to, ordered as List.
	ListCreatedBetween(ctx context.Context, from, to time.Time) ([]*HelpRequest, error)

	// Update applies fn to the stored record and persists the result atomically.
	// It returns a *NotFoundError when no record has the given ID.
	Update(ctx context.Context, id string, fn Mutator) (*HelpRequest, error)
}
