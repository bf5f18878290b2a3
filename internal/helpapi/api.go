// Package helpapi exposes the triage engine over HTTP for the mobile app,
// the coordinator dashboard and intake scripts.
package helpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/crisisconnect/internal/authmw"
	"github.com/linnemanlabs/crisisconnect/internal/triage"
)

// HelpService defines the business operations helpapi needs.
type HelpService interface {
	Submit(ctx context.Context, sub *triage.Submission) (*triage.HelpRequest, error)
	Get(ctx context.Context, id string) (*triage.HelpRequest, error)
	List(ctx context.Context) ([]*triage.HelpRequest, error)
	SetStatus(ctx context.Context, id string, status triage.Status) (*triage.HelpRequest, error)
	SetUrgency(ctx context.Context, id string, urgency triage.Urgency) (*triage.HelpRequest, error)
	DailySummary(ctx context.Context, asOf time.Time) (*triage.Summary, error)
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger         log.Logger
	svc            HelpService
	adminToken     string
	allowedOrigins []string
	now            func() time.Time
}

// Option configures an API.
type Option func(*API)

// WithAdminToken requires "Authorization: Bearer <token>" on the status and
// urgency routes. An empty token leaves them open.
func WithAdminToken(token string) Option {
	return func(a *API) { a.adminToken = token }
}

// WithAllowedOrigins sets the CORS origin allow-list. Default is any origin.
func WithAllowedOrigins(origins []string) Option {
	return func(a *API) {
		if len(origins) > 0 {
			a.allowedOrigins = origins
		}
	}
}

// WithClock overrides the time source for summaries without an explicit date.
func WithClock(now func() time.Time) Option {
	return func(a *API) { a.now = now }
}

// New creates a new API handler.
func New(logger log.Logger, svc HelpService, opts ...Option) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("help service is required"))
	}
	a := &API{
		logger:         logger,
		svc:            svc,
		allowedOrigins: []string{"*"},
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Get("/", handleRoot)

	r.Route("/api/help", func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: a.allowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
			ExposedHeaders: []string{"X-Request-Id", "X-Trace-Id"},
			MaxAge:         300,
		}))

		r.Post("/", a.handleSubmit)
		r.Get("/", a.handleList)
		r.Get("/summary", a.handleSummary)
		r.Get("/{id}", a.handleGet)

		r.Group(func(r chi.Router) {
			r.Use(authmw.BearerToken(a.adminToken))
			r.Put("/{id}/status", a.handleSetStatus)
			r.Put("/{id}/urgency", a.handleSetUrgency)
		})
	})
}

func handleRoot(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("CrisisConnect API is running"))
}

// writeJSON encodes v with the given status. Encoding errors are ignored,
// the header is already on the wire.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// fail maps an engine error onto a response: validation 400, not found 404,
// anything else is logged and returned as an opaque 500.
func (a *API) fail(w http.ResponseWriter, r *http.Request, err error, msg string, kv ...any) {
	var ve *triage.ValidationError
	var nf *triage.NotFoundError
	switch {
	case errors.As(err, &ve):
		writeError(w, http.StatusBadRequest, ve.Error())
	case errors.As(err, &nf):
		writeError(w, http.StatusNotFound, "not found")
	default:
		a.logger.Error(r.Context(), err, msg, kv...)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
