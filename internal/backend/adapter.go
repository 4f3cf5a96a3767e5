package backend

import (
	"context"
	"time"
)

// Options bound every adapter call. MaxResults over-runs surface as
// result_too_large, deadline hits as backend_unavailable, and ReadOnly makes
// every Mutate fail fast with policy_violation regardless of upstream gating.
type Options struct {
	MaxResults int
	Timeout    time.Duration
	ReadOnly   bool
}

func (o Options) Normalize() Options {
	if o.MaxResults <= 0 {
		o.MaxResults = 1000
	}
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	return o
}

// Adapter is the capability contract every store implementation satisfies.
// Expressions are backend-native text; each adapter parses its own syntax and
// reports anything it cannot execute as backend_execution_error.
type Adapter interface {
	ID() ID
	Kind() StoreKind

	ListCollections(ctx context.Context) (*Result, error)
	Query(ctx context.Context, expression string, limit int) (*Result, error)
	Aggregate(ctx context.Context, pipeline string) (*Result, error)
	Mutate(ctx context.Context, kind MutationKind, target, payload string) (*Result, error)
	DescribeSchema(ctx context.Context, target string) (*Result, error)
	Explain(ctx context.Context, expression string) (*Result, error)

	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}
