package triage

import (
	"slices"
	"time"
)

// Status tracks where the response to a help request is in its lifecycle.
type Status string

const (
	// StatusPending means reported, nobody assigned yet
	StatusPending Status = "pending"

	// StatusDispatched means a responder is on the way
	StatusDispatched Status = "dispatched"

	// StatusRescued means the people involved were reached
	StatusRescued Status = "rescued"

	// StatusClosed means no further action is expected
	StatusClosed Status = "closed"
)

// Urgency is the triage priority of a help request, independent of Status.
type Urgency string

const (
	// UrgencyCritical is a life-threatening situation (SOS)
	UrgencyCritical Urgency = "critical"

	// UrgencyUrgent needs rescue or evacuation, or involves serious injury
	UrgencyUrgent Urgency = "urgent"

	// UrgencyRequest needs supplies such as food, water or first aid
	UrgencyRequest Urgency = "request"

	// UrgencyLow can wait
	UrgencyLow Urgency = "low"
)

// Source is the channel a help request arrived through.
type Source string

const (
	SourceApp     Source = "app"
	SourceSMS     Source = "sms"
	SourceTwitter Source = "twitter"
	SourceCall    Source = "call"
)

var (
	statuses  = []Status{StatusPending, StatusDispatched, StatusRescued, StatusClosed}
	urgencies = []Urgency{UrgencyCritical, UrgencyUrgent, UrgencyRequest, UrgencyLow}
	sources   = []Source{SourceApp, SourceSMS, SourceTwitter, SourceCall}
)

// Valid reports whether s is one of the recognized statuses.
func (s Status) Valid() bool { return slices.Contains(statuses, s) }

// Valid reports whether u is one of the recognized urgencies.
func (u Urgency) Valid() bool { return slices.Contains(urgencies, u) }

// Valid reports whether s is one of the recognized sources.
func (s Source) Valid() bool { return slices.Contains(sources, s) }

// Rank orders urgencies from least (0) to most pressing (3). Unknown values rank -1.
func (u Urgency) Rank() int {
	switch u {
	case UrgencyLow:
		return 0
	case UrgencyRequest:
		return 1
	case UrgencyUrgent:
		return 2
	case UrgencyCritical:
		return 3
	default:
		return -1
	}
}

// Location is a WGS84 coordinate pair.
type Location struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// HelpRequest is a single reported need for rescue or supplies.
type HelpRequest struct {
	ID           string    `json:"id"`
	Description  string    `json:"description"`
	Location     Location  `json:"location"`
	PhoneNumber  string    `json:"phoneNumber,omitempty"`
	Source       Source    `json:"source"`
	Status       Status    `json:"status"`
	Urgency      Urgency   `json:"urgency"`
	RequestTypes []string  `json:"requestTypes"`
	Notes        string    `json:"notes"`
	ReporterName string    `json:"reporterName"`
	NumPeople    int       `json:"numPeople"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Clone returns a deep copy so callers never share the RequestTypes backing array.
func (r *HelpRequest) Clone() *HelpRequest {
	cp := *r
	cp.RequestTypes = slices.Clone(r.RequestTypes)
	if cp.RequestTypes == nil {
		cp.RequestTypes = []string{}
	}
	return &cp
}

// ApplyDefaults fills the fields a store must never persist empty.
// ID and CreatedAt are left to the store.
func (r *HelpRequest) ApplyDefaults() {
	if r.Source == "" {
		r.Source = SourceApp
	}
	if r.Status == "" {
		r.Status = StatusPending
	}
	if r.Urgency == "" {
		r.Urgency = UrgencyRequest
	}
	if r.RequestTypes == nil {
		r.RequestTypes = []string{}
	}
	if r.NumPeople <= 0 {
		r.NumPeople = 1
	}
}

// Validate checks the invariants every persisted record must hold.
func (r *HelpRequest) Validate() error {
	if isBlank(r.Description) {
		return &ValidationError{Field: "description", Reason: "is required"}
	}
	if !finite(r.Location.Lat) || !finite(r.Location.Lng) {
		return &ValidationError{Field: "location", Reason: "lat and lng must be finite numbers"}
	}
	if !r.Source.Valid() {
		return &ValidationError{Field: "source", Reason: "unrecognized value " + quote(string(r.Source))}
	}
	if !r.Status.Valid() {
		return &ValidationError{Field: "status", Reason: "unrecognized value " + quote(string(r.Status))}
	}
	if !r.Urgency.Valid() {
		return &ValidationError{Field: "urgency", Reason: "unrecognized value " + quote(string(r.Urgency))}
	}
	if r.NumPeople < 1 {
		return &ValidationError{Field: "numPeople", Reason: "must be at least 1"}
	}
	return nil
}

// Summary is the dashboard's per-day count of help requests by urgency bucket.
// CriticalCount + UrgentCount + RequestCount == TotalCount.
type Summary struct {
	Date          string `json:"date"`
	CriticalCount int    `json:"criticalCount"`
	UrgentCount   int    `json:"urgentCount"`
	RequestCount  int    `json:"requestCount"`
	TotalCount    int    `json:"totalCount"`
}
