package models

import "time"

// AuditEntry is the immutable record of one completed request. Entries are
// append-only: nothing updates or deletes them after the insert.
type AuditEntry struct {
	RequestID           string
	QueryText           string
	Backend             string
	OperationKind       string
	OperationVerb       string
	Destructive         bool
	Confidence          float64
	RoutingSummary      string
	Status              string
	ErrorKind           string
	ErrorDetail         string
	ConfirmationOutcome string
	ResultCount         int
	ElapsedMS           int
	CreatedAt           time.Time
	Signals             []AuditSignal
}

// AuditSignal preserves one (signal, contribution) pair of the reasoning
// trail in the order it was evaluated.
type AuditSignal struct {
	EntryID  string
	Position int
	Name     string
	Backend  string
	Weight   float64
	Applied  float64
}
