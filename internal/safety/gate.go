package safety

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/multidb-router/backend/internal/backend"
	"github.com/multidb-router/backend/internal/routing"
	"github.com/multidb-router/backend/pkg/logger"
	"github.com/multidb-router/backend/pkg/utils"
)

// Outcome is the gate's verdict for one request.
type Outcome string

const (
	// OutcomeProceed: non-destructive, or a valid token was consumed.
	OutcomeProceed Outcome = "proceed"
	// OutcomeAwait: destructive with no token; a fresh token was minted.
	OutcomeAwait Outcome = "awaiting_confirmation"
	// OutcomeExpired / OutcomeRejected: the presented token failed; a fresh
	// token was minted and the request re-enters the confirmation round-trip.
	OutcomeExpired  Outcome = "expired"
	OutcomeRejected Outcome = "rejected"
	// OutcomeConfirmed: token accepted and invalidated.
	OutcomeConfirmed Outcome = "confirmed"
)

type Verdict struct {
	Outcome     Outcome
	Token       string // set when a new token was minted
	ExpiresAt   time.Time
	Instruction string
}

// Gate intercepts destructive operations. Destructive requests without a
// valid token never reach a backend; they get a single-use token and an
// instruction to resend. A failed token never silently executes either: it
// yields a fresh token.
type Gate struct {
	store TokenStore
	ttl   time.Duration
}

func NewGate(store TokenStore, ttl time.Duration) *Gate {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Gate{store: store, ttl: ttl}
}

// Check runs the confirmation state machine for one classified request.
func (g *Gate) Check(ctx context.Context, text, token string, target backend.ID, op routing.Classification) (*Verdict, error) {
	if !op.IsDestructive {
		return &Verdict{Outcome: OutcomeProceed}, nil
	}

	digest := utils.Digest(text)

	if token == "" {
		return g.mint(ctx, digest, target, op, OutcomeAwait)
	}

	c, err := g.store.Consume(ctx, token)
	switch {
	case errors.Is(err, ErrTokenExpired):
		logger.Warn("Confirmation token expired", zap.String("operation", string(op.Kind)))
		return g.mint(ctx, digest, target, op, OutcomeExpired)
	case errors.Is(err, ErrTokenNotFound):
		logger.Warn("Unknown or already-used confirmation token presented")
		return g.mint(ctx, digest, target, op, OutcomeRejected)
	case err != nil:
		return nil, fmt.Errorf("token store failure: %w", err)
	}

	if c.QueryDigest != digest {
		// Token was minted for different text. It is already invalidated by
		// the Consume above, which is intended: a mismatched replay burns it.
		logger.Warn("Confirmation token presented with different request text")
		return g.mint(ctx, digest, target, op, OutcomeRejected)
	}

	logger.Info("Destructive operation confirmed",
		zap.String("operation", string(op.Kind)),
		zap.String("backend", string(target)),
	)
	return &Verdict{Outcome: OutcomeConfirmed}, nil
}

func (g *Gate) mint(ctx context.Context, digest string, target backend.ID, op routing.Classification, outcome Outcome) (*Verdict, error) {
	c := Confirmation{
		Token:       uuid.New().String(),
		QueryDigest: digest,
		Backend:     string(target),
		Operation:   string(op.Kind),
		IssuedAt:    time.Now(),
		ExpiresAt:   time.Now().Add(g.ttl),
	}

	if err := g.store.Put(ctx, c); err != nil {
		return nil, fmt.Errorf("failed to store confirmation: %w", err)
	}

	logger.Info("Confirmation required for destructive operation",
		zap.String("operation", string(op.Kind)),
		zap.String("backend", string(target)),
		zap.Time("expires_at", c.ExpiresAt),
	)

	return &Verdict{
		Outcome:   outcome,
		Token:     c.Token,
		ExpiresAt: c.ExpiresAt,
		Instruction: fmt.Sprintf(
			"this %s operation is destructive; resend the same request with confirmation_token %q before %s to execute it",
			op.Kind, c.Token, c.ExpiresAt.Format(time.RFC3339),
		),
	}, nil
}
