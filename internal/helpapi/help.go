package helpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/crisisconnect/internal/triage"
)

// submitBody is the wire shape of a new help request. numPeople is loosely
// typed because the app and intake scripts send it as a number or a string.
type submitBody struct {
	Description  string         `json:"description"`
	Location     *triage.Point  `json:"location"`
	PhoneNumber  string         `json:"phoneNumber"`
	Source       triage.Source  `json:"source"`
	Urgency      triage.Urgency `json:"urgency"`
	RequestTypes []string       `json:"requestTypes"`
	Notes        string         `json:"notes"`
	ReporterName string         `json:"reporterName"`
	NumPeople    any            `json:"numPeople"`
}

func (b *submitBody) submission() *triage.Submission {
	return &triage.Submission{
		Description:  b.Description,
		Location:     b.Location,
		PhoneNumber:  b.PhoneNumber,
		Source:       b.Source,
		Urgency:      b.Urgency,
		RequestTypes: b.RequestTypes,
		Notes:        b.Notes,
		ReporterName: b.ReporterName,
		NumPeople:    triage.PeopleCount(b.NumPeople),
	}
}

func (a *API) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var body submitBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	created, err := a.svc.Submit(r.Context(), body.submission())
	if err != nil {
		a.fail(w, r, err, "failed to submit help request")
		return
	}

	annotate(r, created)
	writeJSON(w, http.StatusCreated, created)
}

func (a *API) handleList(w http.ResponseWriter, r *http.Request) {
	list, err := a.svc.List(r.Context())
	if err != nil {
		a.fail(w, r, err, "failed to list help requests")
		return
	}
	if list == nil {
		list = []*triage.HelpRequest{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (a *API) handleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("crisisconnect.help.id", id))

	got, err := a.svc.Get(r.Context(), id)
	if err != nil {
		a.fail(w, r, err, "failed to get help request", "help_id", id)
		return
	}

	annotate(r, got)
	writeJSON(w, http.StatusOK, got)
}

func (a *API) handleSetStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("crisisconnect.help.id", id))

	var body struct {
		Status triage.Status `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	updated, err := a.svc.SetStatus(r.Context(), id, body.Status)
	if err != nil {
		a.fail(w, r, err, "failed to update status", "help_id", id)
		return
	}

	annotate(r, updated)
	writeJSON(w, http.StatusOK, updated)
}

func (a *API) handleSetUrgency(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("crisisconnect.help.id", id))

	var body struct {
		Urgency triage.Urgency `json:"urgency"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	updated, err := a.svc.SetUrgency(r.Context(), id, body.Urgency)
	if err != nil {
		a.fail(w, r, err, "failed to update urgency", "help_id", id)
		return
	}

	annotate(r, updated)
	writeJSON(w, http.StatusOK, updated)
}

// handleSummary serves the per-day counts. date defaults to today and tz to
// the server's local zone.
func (a *API) handleSummary(w http.ResponseWriter, r *http.Request) {
	loc := time.Local
	if tz := r.URL.Query().Get("tz"); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid tz: unknown time zone")
			return
		}
		loc = l
	}

	asOf := a.now().In(loc)
	if date := r.URL.Query().Get("date"); date != "" {
		d, err := time.ParseInLocation(triage.DateLayout, date, loc)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid date: expected YYYY-MM-DD")
			return
		}
		asOf = d
	}

	summary, err := a.svc.DailySummary(r.Context(), asOf)
	if err != nil {
		a.fail(w, r, err, "failed to build daily summary", "date", asOf.Format(triage.DateLayout))
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func annotate(r *http.Request, hr *triage.HelpRequest) {
	span := trace.SpanFromContext(r.Context())
	if !span.IsRecording() {
		return
	}
	span.SetAttributes(
		attribute.String("crisisconnect.help.id", hr.ID),
		attribute.String("crisisconnect.help.status", string(hr.Status)),
		attribute.String("crisisconnect.help.urgency", string(hr.Urgency)),
	)
}
