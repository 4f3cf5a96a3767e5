package engine

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/multidb-router/backend/internal/audit"
	"github.com/multidb-router/backend/internal/backend"
	"github.com/multidb-router/backend/internal/routing"
	"github.com/multidb-router/backend/internal/safety"
	"github.com/multidb-router/backend/internal/storage/sqlite"
)

// fakeAdapter counts calls and serves canned results so engine behavior can
// be asserted without any live store.
type fakeAdapter struct {
	id      backend.ID
	kind    backend.StoreKind
	calls   []string
	records []backend.Record
	err     error
}

func (f *fakeAdapter) ID() backend.ID          { return f.id }
func (f *fakeAdapter) Kind() backend.StoreKind { return f.kind }

func (f *fakeAdapter) result(op string) (*backend.Result, error) {
	f.calls = append(f.calls, op)
	if f.err != nil {
		return nil, f.err
	}
	return &backend.Result{
		Backend:   f.id,
		Operation: op,
		Records:   f.records,
		Count:     len(f.records),
	}, nil
}

func (f *fakeAdapter) ListCollections(context.Context) (*backend.Result, error) {
	return f.result("list_collections")
}

func (f *fakeAdapter) Query(context.Context, string, int) (*backend.Result, error) {
	return f.result("query")
}

func (f *fakeAdapter) Aggregate(context.Context, string) (*backend.Result, error) {
	return f.result("aggregate")
}

func (f *fakeAdapter) Mutate(_ context.Context, kind backend.MutationKind, _, _ string) (*backend.Result, error) {
	return f.result("mutate:" + string(kind))
}

func (f *fakeAdapter) DescribeSchema(context.Context, string) (*backend.Result, error) {
	return f.result("describe_schema")
}

func (f *fakeAdapter) Explain(context.Context, string) (*backend.Result, error) {
	return f.result("explain")
}

func (f *fakeAdapter) Ping(context.Context) error  { return nil }
func (f *fakeAdapter) Close(context.Context) error { return nil }

type testHarness struct {
	engine   *Engine
	storeA   *fakeAdapter
	storeB   *fakeAdapter
	storeC   *fakeAdapter
	recorder *audit.Recorder
}

func newHarness(t *testing.T, cfg Config) *testHarness {
	t.Helper()

	client, err := sqlite.NewClient(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	require.NoError(t, client.InitSchema())
	t.Cleanup(func() { client.Close() })

	store := safety.NewMemoryStore()
	t.Cleanup(func() { store.Close() })

	storeA := &fakeAdapter{id: backend.StoreA, kind: backend.KindDocument,
		records: []backend.Record{{"name": "alice"}}}
	storeB := &fakeAdapter{id: backend.StoreB, kind: backend.KindDocument}
	storeC := &fakeAdapter{id: backend.StoreC, kind: backend.KindRelational,
		records: []backend.Record{{"id": int64(1)}, {"id": int64(2)}}}

	recorder := audit.NewRecorder(client, nil)
	classifier := routing.NewClassifier(routing.NewExtractor(), 0.3, 0)
	gate := safety.NewGate(store, time.Minute)
	registry := backend.NewRegistry(storeA, storeB, storeC)

	return &testHarness{
		engine:   New(classifier, gate, registry, recorder, cfg),
		storeA:   storeA,
		storeB:   storeB,
		storeC:   storeC,
		recorder: recorder,
	}
}

func TestExecuteReadDispatch(t *testing.T) {
	h := newHarness(t, Config{DefaultLimit: 100})

	env := h.engine.Execute(context.Background(), Request{Text: "SELECT * FROM orders WHERE total > 100"})

	assert.Equal(t, StatusOK, env.Status)
	assert.Equal(t, backend.StoreC, env.BackendUsed)
	assert.Equal(t, routing.OpRead, env.OperationKind)
	assert.Equal(t, 2, env.Count)
	assert.Equal(t, []string{"query"}, h.storeC.calls)
	assert.Empty(t, h.storeA.calls)
	assert.NotEmpty(t, env.RequestID)
	assert.Nil(t, env.Error)
}

func TestExecuteRecordsAudit(t *testing.T) {
	h := newHarness(t, Config{DefaultLimit: 100})

	env := h.engine.Execute(context.Background(), Request{Text: "SELECT id FROM users"})
	require.Equal(t, StatusOK, env.Status)

	entry, err := h.recorder.Get(env.RequestID)
	require.NoError(t, err)
	assert.Equal(t, "SELECT id FROM users", entry.QueryText)
	assert.Equal(t, string(backend.StoreC), entry.Backend)
	assert.Equal(t, string(StatusOK), entry.Status)
	assert.NotEmpty(t, entry.Signals)
}

func TestExecuteAmbiguousSkipsDispatch(t *testing.T) {
	h := newHarness(t, Config{DefaultLimit: 100})

	env := h.engine.Execute(context.Background(), Request{Text: "Find all employees hired last year"})

	assert.Equal(t, StatusAmbiguous, env.Status)
	require.NotNil(t, env.Error)
	assert.Equal(t, backend.KindAmbiguousRoute, env.Error.Kind)
	assert.Empty(t, h.storeA.calls)
	assert.Empty(t, h.storeB.calls)
	assert.Empty(t, h.storeC.calls)
}

func TestExecuteHintResolvesAmbiguity(t *testing.T) {
	h := newHarness(t, Config{DefaultLimit: 100})

	env := h.engine.Execute(context.Background(), Request{
		Text: "Find all employees hired last year",
		Hint: backend.StoreC,
	})

	assert.Equal(t, StatusOK, env.Status)
	assert.Equal(t, backend.StoreC, env.BackendUsed)
	assert.Equal(t, 1.0, env.Confidence)
	assert.Equal(t, []string{"query"}, h.storeC.calls)
}

func TestExecuteUnknownHint(t *testing.T) {
	h := newHarness(t, Config{DefaultLimit: 100})

	env := h.engine.Execute(context.Background(), Request{
		Text: "SELECT 1",
		Hint: backend.ID("store_z"),
	})

	assert.Equal(t, StatusError, env.Status)
	require.NotNil(t, env.Error)
	assert.Equal(t, backend.KindValidation, env.Error.Kind)
	assert.Empty(t, h.storeC.calls)
}

func TestExecuteDestructiveRequiresConfirmation(t *testing.T) {
	h := newHarness(t, Config{DefaultLimit: 100})

	env := h.engine.Execute(context.Background(), Request{Text: "DELETE FROM users WHERE active = false"})

	assert.Equal(t, StatusAwaiting, env.Status)
	assert.NotEmpty(t, env.ConfirmationToken)
	require.NotNil(t, env.ConfirmationExpiresAt)
	assert.NotEmpty(t, env.Instruction)
	assert.Empty(t, h.storeC.calls, "no backend call before confirmation")
}

func TestExecuteConfirmedDestructiveDispatches(t *testing.T) {
	h := newHarness(t, Config{DefaultLimit: 100})
	text := "DELETE FROM users WHERE active = false"

	first := h.engine.Execute(context.Background(), Request{Text: text})
	require.Equal(t, StatusAwaiting, first.Status)

	second := h.engine.Execute(context.Background(), Request{
		Text:              text,
		ConfirmationToken: first.ConfirmationToken,
	})

	assert.Equal(t, StatusOK, second.Status)
	assert.Equal(t, []string{"mutate:delete"}, h.storeC.calls)
}

func TestExecuteReplayedTokenRejected(t *testing.T) {
	h := newHarness(t, Config{DefaultLimit: 100})
	text := "DELETE FROM users WHERE active = false"

	first := h.engine.Execute(context.Background(), Request{Text: text})
	h.engine.Execute(context.Background(), Request{Text: text, ConfirmationToken: first.ConfirmationToken})

	third := h.engine.Execute(context.Background(), Request{Text: text, ConfirmationToken: first.ConfirmationToken})

	assert.Equal(t, StatusAwaiting, third.Status)
	require.NotNil(t, third.Error)
	assert.Equal(t, backend.KindTokenInvalid, third.Error.Kind)
	assert.NotEmpty(t, third.ConfirmationToken)
	assert.Equal(t, []string{"mutate:delete"}, h.storeC.calls, "replay must not dispatch again")
}

func TestExecuteReadOnlyBeatsValidToken(t *testing.T) {
	h := newHarness(t, Config{DefaultLimit: 100, ReadOnly: true})

	env := h.engine.Execute(context.Background(), Request{Text: "DELETE FROM users"})

	assert.Equal(t, StatusError, env.Status)
	require.NotNil(t, env.Error)
	assert.Equal(t, backend.KindPolicyViolation, env.Error.Kind)
	assert.Empty(t, env.ConfirmationToken, "read-only mode must not mint tokens")
	assert.Empty(t, h.storeC.calls)
}

func TestExecuteCancelledBeforeDispatch(t *testing.T) {
	h := newHarness(t, Config{DefaultLimit: 100})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	env := h.engine.Execute(ctx, Request{Text: "SELECT * FROM orders"})

	assert.Equal(t, StatusCancelled, env.Status)
	require.NotNil(t, env.Error)
	assert.Equal(t, backend.KindCancelled, env.Error.Kind)
	assert.Empty(t, h.storeC.calls)
}

func TestExecuteBackendErrorSurfaces(t *testing.T) {
	h := newHarness(t, Config{DefaultLimit: 100})
	h.storeC.err = backend.NewError(backend.KindExecutionError, `relation "orders" does not exist`)

	env := h.engine.Execute(context.Background(), Request{Text: "SELECT * FROM orders"})

	assert.Equal(t, StatusError, env.Status)
	require.NotNil(t, env.Error)
	assert.Equal(t, backend.KindExecutionError, env.Error.Kind)
	assert.False(t, env.Error.Retryable)
}

func TestExecuteUnavailableIsRetryable(t *testing.T) {
	h := newHarness(t, Config{DefaultLimit: 100})
	h.storeC.err = backend.NewError(backend.KindUnavailable, "connection refused")

	env := h.engine.Execute(context.Background(), Request{Text: "SELECT * FROM orders"})

	assert.Equal(t, StatusError, env.Status)
	require.NotNil(t, env.Error)
	assert.Equal(t, backend.KindUnavailable, env.Error.Kind)
	assert.True(t, env.Error.Retryable)
}

func TestExecuteOperationDispatchMapping(t *testing.T) {
	tests := []struct {
		text string
		call string
	}{
		{"list all tables in postgres", "list_collections"},
		{"using postgres, count orders group by region", "aggregate"},
		{"describe the users table in postgres", "describe_schema"},
		{"explain select * from orders", "explain"},
	}

	for _, tt := range tests {
		t.Run(tt.call, func(t *testing.T) {
			h := newHarness(t, Config{DefaultLimit: 100})

			env := h.engine.Execute(context.Background(), Request{Text: tt.text})

			require.Equal(t, StatusOK, env.Status, "text: %s", tt.text)
			assert.Equal(t, []string{tt.call}, h.storeC.calls)
		})
	}
}
