package engine

import (
	"time"

	"github.com/multidb-router/backend/internal/backend"
	"github.com/multidb-router/backend/internal/routing"
)

// Request is the immutable inbound value. The engine assigns the id and
// timestamp at ingress and never mutates the rest.
type Request struct {
	Text              string
	Hint              backend.ID
	ConfirmationToken string
	Limit             int
}

// Status is the envelope-level outcome, mapped to HTTP classes at the edge.
type Status string

const (
	StatusOK        Status = "ok"
	StatusAwaiting  Status = "awaiting_confirmation"
	StatusAmbiguous Status = "ambiguous"
	StatusError     Status = "error"
	StatusCancelled Status = "cancelled"
)

type EnvelopeError struct {
	Kind      backend.ErrorKind `json:"kind"`
	Detail    string            `json:"detail"`
	Retryable bool              `json:"retryable"`
}

// Envelope is the uniform response shape for every outcome, success or not.
type Envelope struct {
	RequestID     string                 `json:"request_id"`
	Status        Status                 `json:"status"`
	BackendUsed   backend.ID             `json:"backend_used,omitempty"`
	OperationKind routing.OpKind         `json:"operation_kind"`
	Data          []backend.Record       `json:"data,omitempty"`
	Count         int                    `json:"count"`
	Error         *EnvelopeError         `json:"error,omitempty"`
	Confidence    float64                `json:"routing_confidence"`
	Reasoning     []routing.Contribution `json:"reasoning"`

	ConfirmationToken     string     `json:"confirmation_token,omitempty"`
	ConfirmationExpiresAt *time.Time `json:"confirmation_expires_at,omitempty"`
	Instruction           string     `json:"instruction,omitempty"`

	ElapsedMS int64 `json:"elapsed_ms"`
}
