// Package memstore provides an in-memory implementation of triage.Store.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/crisisconnect/internal/triage"
)

// Store holds help requests in memory. Suitable for dev/testing and
// single-instance deployments that can afford to lose data on restart.
type Store struct {
	mu      sync.RWMutex
	records map[string]*triage.HelpRequest // help request ID -> record
	order   []string                       // IDs in insertion order
	last    time.Time                      // CreatedAt of the newest record
	now     func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for CreatedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New initializes a new in-memory Store.
func New(opts ...Option) *Store {
	s := &Store{
		records: make(map[string]*triage.HelpRequest),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create validates r, assigns ID and CreatedAt, and stores a copy.
// CreatedAt never goes backwards relative to earlier inserts.
func (s *Store) Create(_ context.Context, r *triage.HelpRequest) (*triage.HelpRequest, error) {
	cp := r.Clone()
	cp.ApplyDefaults()
	if err := cp.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// compare wall clock readings, the monotonic one survives clock steps
	created := s.now().Round(0)
	if created.Before(s.last) {
		created = s.last
	}
	s.last = created

	cp.ID = ulid.Make().String()
	cp.CreatedAt = created
	s.records[cp.ID] = cp
	s.order = append(s.order, cp.ID)
	return cp.Clone(), nil
}

// Get retrieves a help request by its ID. Returns a copy.
func (s *Store) Get(_ context.Context, id string) (*triage.HelpRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id]
	if !ok {
		return nil, &triage.NotFoundError{ID: id}
	}
	return r.Clone(), nil
}

// List returns copies of every help request, newest first.
func (s *Store) List(_ context.Context) ([]*triage.HelpRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*triage.HelpRequest, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		out = append(out, s.records[s.order[i]].Clone())
	}
	return out, nil
}

// ListCreatedBetween returns copies of help requests with from <= CreatedAt < to, newest first.
func (s *Store) ListCreatedBetween(_ context.Context, from, to time.Time) ([]*triage.HelpRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*triage.HelpRequest
	for i := len(s.order) - 1; i >= 0; i-- {
		r := s.records[s.order[i]]
		if r.CreatedAt.Before(from) {
			// insertion order is CreatedAt order, nothing older can match
			break
		}
		if r.CreatedAt.Before(to) {
			out = append(out, r.Clone())
		}
	}
	return out, nil
}

// Update applies fn to a copy of the record under the write lock and stores
// the result. Concurrent updates of any ID are serialized.
func (s *Store) Update(_ context.Context, id string, fn triage.Mutator) (*triage.HelpRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return nil, &triage.NotFoundError{ID: id}
	}

	cp := r.Clone()
	fn(cp)
	// identity and creation time are immutable
	cp.ID = r.ID
	cp.CreatedAt = r.CreatedAt
	if err := cp.Validate(); err != nil {
		return nil, err
	}

	s.records[id] = cp
	return cp.Clone(), nil
}
