// Package triage is the business boundary for CrisisConnect help requests.
// It defines the HelpRequest model and its enumerations, the Store interface
// (persistence), and the Engine that validates submissions, applies status and
// urgency transitions, and projects daily dashboard counts.
package triage
