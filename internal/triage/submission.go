package triage

import (
	"math"
	"strconv"
	"strings"
)

// Point is a coordinate pair as received from a caller, where either half may
// be missing.
type Point struct {
	Lat *float64 `json:"lat"`
	Lng *float64 `json:"lng"`
}

// Submission is the intake input for a new help request. Zero values mean
// "not provided" and are normalized to defaults by Engine.Submit.
type Submission struct {
	Description  string
	Location     *Point
	PhoneNumber  string
	Source       Source
	Urgency      Urgency
	RequestTypes []string
	Notes        string
	ReporterName string
	NumPeople    int
}

// validate rejects submissions that must never reach a store.
func (s *Submission) validate() error {
	if isBlank(s.Description) {
		return &ValidationError{Field: "description", Reason: "is required"}
	}
	if s.Location == nil || s.Location.Lat == nil || s.Location.Lng == nil {
		return &ValidationError{Field: "location", Reason: "lat and lng are both required"}
	}
	if s.Source != "" && !s.Source.Valid() {
		return &ValidationError{Field: "source", Reason: "unrecognized value " + quote(string(s.Source))}
	}
	if s.Urgency != "" && !s.Urgency.Valid() {
		return &ValidationError{Field: "urgency", Reason: "unrecognized value " + quote(string(s.Urgency))}
	}
	return nil
}

// normalize builds the record to persist, with every optional field defaulted.
// Status is always pending for a new request regardless of input.
func (s *Submission) normalize() *HelpRequest {
	r := &HelpRequest{
		Description:  s.Description,
		Location:     Location{Lat: *s.Location.Lat, Lng: *s.Location.Lng},
		PhoneNumber:  s.PhoneNumber,
		Source:       s.Source,
		Status:       StatusPending,
		Urgency:      s.Urgency,
		RequestTypes: append([]string{}, s.RequestTypes...),
		Notes:        s.Notes,
		ReporterName: s.ReporterName,
		NumPeople:    s.NumPeople,
	}
	r.ApplyDefaults()
	return r
}

// PeopleCount converts a loosely typed JSON value into a head count. Anything
// that is not a positive whole number yields 1.
func PeopleCount(v any) int {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case int:
		f = float64(n)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 1
		}
		f = parsed
	default:
		return 1
	}
	if !finite(f) || f < 1 || f != math.Trunc(f) || f > math.MaxInt32 {
		return 1
	}
	return int(f)
}

func isBlank(s string) bool { return strings.TrimSpace(s) == "" }

func finite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }

func quote(s string) string { return strconv.Quote(s) }
