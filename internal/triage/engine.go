package triage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/linnemanlabs/go-core/log"
)

// DateLayout is the calendar-day format used by daily summaries.
const DateLayout = "2006-01-02"

// Notifier receives newly submitted help requests that meet the engine's
// notification threshold.
type Notifier interface {
	Notify(ctx context.Context, r *HelpRequest) error
}

// EngineHooks are optional callbacks for instrumentation. Nil fields are skipped.
type EngineHooks struct {
	// OnSubmit fires after a help request is persisted.
	OnSubmit func(r *HelpRequest)

	// OnTransition fires after a status or urgency write. field is "status" or "urgency".
	OnTransition func(field, from, to string)

	// OnReject fires when an operation fails with a validation or not-found error.
	OnReject func(operation, reason string)
}

// Option configures an Engine.
type Option func(*Engine)

// WithNotifier hands every submission with urgency at or above minUrgency to n.
func WithNotifier(n Notifier, minUrgency Urgency) Option {
	return func(e *Engine) {
		e.notifier = n
		e.notifyAt = minUrgency
	}
}

// Engine enforces the help request rules on top of a Store. Apart from
// tracking in-flight notifications it holds no state and is safe for
// concurrent use.
type Engine struct {
	store    Store
	logger   log.Logger
	hooks    EngineHooks
	notifier Notifier
	notifyAt Urgency
	inflight sync.WaitGroup
}

// NewEngine creates a triage engine backed by store.
func NewEngine(store Store, logger log.Logger, hooks EngineHooks, opts ...Option) *Engine {
	if logger == nil {
		logger = log.Nop()
	}
	e := &Engine{
		store:    store,
		logger:   logger,
		hooks:    hooks,
		notifyAt: UrgencyUrgent,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Submit validates and normalizes an intake submission and persists it as a
// new pending help request.
func (e *Engine) Submit(ctx context.Context, sub *Submission) (*HelpRequest, error) {
	if sub == nil {
		sub = &Submission{}
	}
	if err := sub.validate(); err != nil {
		e.reject("submit", err)
		return nil, err
	}

	r := sub.normalize()
	if err := r.Validate(); err != nil {
		e.reject("submit", err)
		return nil, err
	}

	created, err := e.store.Create(ctx, r)
	if err != nil {
		e.reject("submit", err)
		return nil, fmt.Errorf("create help request: %w", err)
	}

	if e.hooks.OnSubmit != nil {
		e.hooks.OnSubmit(created)
	}

	e.logger.Info(ctx, "help request submitted",
		"help_id", created.ID,
		"urgency", created.Urgency,
		"source", created.Source,
		"num_people", created.NumPeople,
	)

	if e.notifier != nil && created.Urgency.Rank() >= e.notifyAt.Rank() {
		// hand the notifier its own copy, the caller keeps created
		nctx, cp := context.WithoutCancel(ctx), created.Clone()
		e.inflight.Go(func() { e.notify(nctx, cp) })
	}

	return created, nil
}

// Get returns a single help request by ID.
func (e *Engine) Get(ctx context.Context, id string) (*HelpRequest, error) {
	r, err := e.store.Get(ctx, id)
	if err != nil {
		e.reject("get", err)
		return nil, err
	}
	return r, nil
}

// List returns every help request, most recent first.
func (e *Engine) List(ctx context.Context) ([]*HelpRequest, error) {
	return e.store.List(ctx)
}

// SetStatus overwrites the status of a help request. Any status may follow any
// other, including itself.
func (e *Engine) SetStatus(ctx context.Context, id string, status Status) (*HelpRequest, error) {
	if !status.Valid() {
		err := &ValidationError{Field: "status", Reason: "unrecognized value " + quote(string(status))}
		e.reject("set_status", err)
		return nil, err
	}

	var from Status
	r, err := e.store.Update(ctx, id, func(r *HelpRequest) {
		from = r.Status
		r.Status = status
	})
	if err != nil {
		e.reject("set_status", err)
		return nil, err
	}

	e.transitioned(ctx, r.ID, "status", string(from), string(status))
	return r, nil
}

// SetUrgency overwrites the urgency of a help request. Status is untouched.
func (e *Engine) SetUrgency(ctx context.Context, id string, urgency Urgency) (*HelpRequest, error) {
	if !urgency.Valid() {
		err := &ValidationError{Field: "urgency", Reason: "unrecognized value " + quote(string(urgency))}
		e.reject("set_urgency", err)
		return nil, err
	}

	var from Urgency
	r, err := e.store.Update(ctx, id, func(r *HelpRequest) {
		from = r.Urgency
		r.Urgency = urgency
	})
	if err != nil {
		e.reject("set_urgency", err)
		return nil, err
	}

	e.transitioned(ctx, r.ID, "urgency", string(from), string(urgency))
	return r, nil
}

// DailySummary counts the help requests created on asOf's calendar day, using
// asOf's location to decide where the day starts and ends.
func (e *Engine) DailySummary(ctx context.Context, asOf time.Time) (*Summary, error) {
	loc := asOf.Location()
	y, m, d := asOf.Date()
	from := time.Date(y, m, d, 0, 0, 0, 0, loc)
	to := from.AddDate(0, 0, 1)

	recs, err := e.store.ListCreatedBetween(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("list help requests for %s: %w", from.Format(DateLayout), err)
	}

	sameDay := recs[:0:0]
	for _, r := range recs {
		cy, cm, cd := r.CreatedAt.In(loc).Date()
		if cy == y && cm == m && cd == d {
			sameDay = append(sameDay, r)
		}
	}

	s := Summarize(sameDay)
	s.Date = from.Format(DateLayout)
	return &s, nil
}

// Summarize buckets records by urgency. Low has no dashboard bucket of its own
// and is counted with request.
func Summarize(recs []*HelpRequest) Summary {
	var s Summary
	for _, r := range recs {
		switch r.Urgency {
		case UrgencyCritical:
			s.CriticalCount++
		case UrgencyUrgent:
			s.UrgentCount++
		default:
			s.RequestCount++
		}
		s.TotalCount++
	}
	return s
}

func (e *Engine) transitioned(ctx context.Context, id, field, from, to string) {
	if e.hooks.OnTransition != nil {
		e.hooks.OnTransition(field, from, to)
	}
	e.logger.Info(ctx, "help request "+field+" updated",
		"help_id", id,
		"from", from,
		"to", to,
	)
}

func (e *Engine) reject(op string, err error) {
	if e.hooks.OnReject == nil {
		return
	}
	switch {
	case IsValidation(err):
		e.hooks.OnReject(op, "validation")
	case IsNotFound(err):
		e.hooks.OnReject(op, "not_found")
	}
}

// Wait blocks until every notification started by Submit has finished, or
// until ctx is done.
func (e *Engine) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for notifications: %w", ctx.Err())
	}
}

func (e *Engine) notify(ctx context.Context, r *HelpRequest) {
	if err := e.notifier.Notify(ctx, r); err != nil {
		e.logger.Error(ctx, err, "failed to notify coordinators", "help_id", r.ID, "urgency", r.Urgency)
	}
}
