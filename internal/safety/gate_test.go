package safety

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/multidb-router/backend/internal/backend"
	"github.com/multidb-router/backend/internal/routing"
)

var (
	readOp  = routing.Classification{Kind: routing.OpRead, Verb: "read"}
	writeOp = routing.Classification{Kind: routing.OpWrite, Verb: "delete", IsDestructive: true}
)

func newTestGate(t *testing.T, ttl time.Duration) *Gate {
	t.Helper()
	store := NewMemoryStore()
	t.Cleanup(func() { store.Close() })
	return NewGate(store, ttl)
}

func TestGateNonDestructiveProceeds(t *testing.T) {
	g := newTestGate(t, time.Minute)

	v, err := g.Check(context.Background(), "SELECT * FROM orders", "", backend.StoreC, readOp)
	require.NoError(t, err)
	assert.Equal(t, OutcomeProceed, v.Outcome)
	assert.Empty(t, v.Token)
}

func TestGateDestructiveWithoutTokenMints(t *testing.T) {
	g := newTestGate(t, time.Minute)

	v, err := g.Check(context.Background(), "DELETE FROM users", "", backend.StoreC, writeOp)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAwait, v.Outcome)
	assert.NotEmpty(t, v.Token)
	assert.True(t, v.ExpiresAt.After(time.Now()))
	assert.NotEmpty(t, v.Instruction)
}

func TestGateConfirmWithMintedToken(t *testing.T) {
	g := newTestGate(t, time.Minute)
	ctx := context.Background()
	text := "DELETE FROM users WHERE active = false"

	first, err := g.Check(ctx, text, "", backend.StoreC, writeOp)
	require.NoError(t, err)
	require.Equal(t, OutcomeAwait, first.Outcome)

	second, err := g.Check(ctx, text, first.Token, backend.StoreC, writeOp)
	require.NoError(t, err)
	assert.Equal(t, OutcomeConfirmed, second.Outcome)
}

func TestGateTokenIsSingleUse(t *testing.T) {
	g := newTestGate(t, time.Minute)
	ctx := context.Background()
	text := "DELETE FROM users"

	first, err := g.Check(ctx, text, "", backend.StoreC, writeOp)
	require.NoError(t, err)

	_, err = g.Check(ctx, text, first.Token, backend.StoreC, writeOp)
	require.NoError(t, err)

	// Replaying a consumed token is rejected and yields a fresh one.
	third, err := g.Check(ctx, text, first.Token, backend.StoreC, writeOp)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRejected, third.Outcome)
	assert.NotEmpty(t, third.Token)
	assert.NotEqual(t, first.Token, third.Token)
}

func TestGateDigestMismatchRejects(t *testing.T) {
	g := newTestGate(t, time.Minute)
	ctx := context.Background()

	first, err := g.Check(ctx, "DELETE FROM users", "", backend.StoreC, writeOp)
	require.NoError(t, err)

	// Same token, different request text: the token is burnt and a new one
	// is minted for the new text.
	v, err := g.Check(ctx, "DELETE FROM orders", first.Token, backend.StoreC, writeOp)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRejected, v.Outcome)
	assert.NotEmpty(t, v.Token)

	// The original token no longer confirms its original text either.
	v, err = g.Check(ctx, "DELETE FROM users", first.Token, backend.StoreC, writeOp)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRejected, v.Outcome)
}

func TestGateDigestIgnoresSurroundingWhitespace(t *testing.T) {
	g := newTestGate(t, time.Minute)
	ctx := context.Background()

	first, err := g.Check(ctx, "DELETE FROM users", "", backend.StoreC, writeOp)
	require.NoError(t, err)

	v, err := g.Check(ctx, "  DELETE FROM users \n", first.Token, backend.StoreC, writeOp)
	require.NoError(t, err)
	assert.Equal(t, OutcomeConfirmed, v.Outcome)
}

func TestGateExpiredToken(t *testing.T) {
	g := newTestGate(t, 15*time.Millisecond)
	ctx := context.Background()
	text := "DROP TABLE sessions"
	op := routing.Classification{Kind: routing.OpSchemaChange, Verb: "drop", IsDestructive: true}

	first, err := g.Check(ctx, text, "", backend.StoreC, op)
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond)

	v, err := g.Check(ctx, text, first.Token, backend.StoreC, op)
	require.NoError(t, err)
	assert.Equal(t, OutcomeExpired, v.Outcome)
	assert.NotEmpty(t, v.Token)
	assert.NotEqual(t, first.Token, v.Token)
}
