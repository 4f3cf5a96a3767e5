package safety

import (
	"context"
	"errors"
	"time"
)

var (
	ErrTokenNotFound = errors.New("confirmation token not found")
	ErrTokenExpired  = errors.New("confirmation token expired")
)

// Confirmation is the pending-confirmation state minted for a destructive
// request. The token is single-use and bound to the digest of the request
// text it confirms.
type Confirmation struct {
	Token       string    `json:"token"`
	QueryDigest string    `json:"query_digest"`
	Backend     string    `json:"backend"`
	Operation   string    `json:"operation"`
	IssuedAt    time.Time `json:"issued_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// TokenStore holds pending confirmations. Consume must be atomic: of two
// concurrent confirmations with the same token, exactly one may succeed.
type TokenStore interface {
	Put(ctx context.Context, c Confirmation) error
	// Consume removes and returns the confirmation in one step. It returns
	// ErrTokenNotFound for unknown or already-consumed tokens and
	// ErrTokenExpired when the bounded window has elapsed.
	Consume(ctx context.Context, token string) (*Confirmation, error)
	Close() error
}
