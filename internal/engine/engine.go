package engine

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/multidb-router/backend/internal/audit"
	"github.com/multidb-router/backend/internal/backend"
	"github.com/multidb-router/backend/internal/metrics"
	"github.com/multidb-router/backend/internal/routing"
	"github.com/multidb-router/backend/internal/safety"
	"github.com/multidb-router/backend/internal/storage/models"
	"github.com/multidb-router/backend/pkg/circuitbreaker"
	"github.com/multidb-router/backend/pkg/logger"
)

type Config struct {
	ReadOnly     bool
	DefaultLimit int
}

// Engine runs the full pipeline for one request: extract signals, classify
// backend and operation, gate destructive operations, dispatch through the
// chosen adapter, normalize the outcome, and append exactly one audit entry.
type Engine struct {
	classifier *routing.Classifier
	gate       *safety.Gate
	registry   *backend.Registry
	recorder   *audit.Recorder
	breakers   map[backend.ID]*circuitbreaker.CircuitBreaker
	cfg        Config
}

func New(classifier *routing.Classifier, gate *safety.Gate, registry *backend.Registry, recorder *audit.Recorder, cfg Config) *Engine {
	breakers := make(map[backend.ID]*circuitbreaker.CircuitBreaker)
	for _, id := range registry.IDs() {
		breakers[id] = circuitbreaker.New(string(id), circuitbreaker.Config{
			FailureThreshold: 5,
			SuccessThreshold: 2,
			Timeout:          30 * time.Second,
			MaxRequests:      2,
			Logger:           logger.Named("breaker"),
		})
	}
	return &Engine{
		classifier: classifier,
		gate:       gate,
		registry:   registry,
		recorder:   recorder,
		breakers:   breakers,
		cfg:        cfg,
	}
}

func (e *Engine) Execute(ctx context.Context, req Request) *Envelope {
	start := time.Now()
	requestID := uuid.New().String()

	logger.Info("Processing request",
		zap.String("request_id", requestID),
		zap.String("text", req.Text),
	)

	decision := e.classifier.Route(req.Text)
	op := routing.ClassifyOperation(req.Text)

	env := &Envelope{
		RequestID:     requestID,
		OperationKind: op.Kind,
		Confidence:    decision.Confidence,
		Reasoning:     decision.Reasoning,
	}

	metrics.RoutingConfidence.Observe(decision.Confidence)

	// A caller hint is explicit intent and resolves ambiguity outright.
	if req.Hint != "" {
		if !backend.IsKnown(req.Hint) {
			e.fail(env, backend.NewErrorf(backend.KindValidation, "unknown backend hint %q", req.Hint))
			return e.finish(ctx, env, req, decision, op, "", start)
		}
		decision.Backend = req.Hint
		decision.Confidence = 1.0
		decision.Summary = fmt.Sprintf("caller-supplied hint for %s", req.Hint)
		decision.Reasoning = append(decision.Reasoning, routing.Contribution{
			Signal:  "caller_hint:" + string(req.Hint),
			Backend: req.Hint,
			Weight:  1.0,
			Applied: 1.0,
		})
		env.Confidence = 1.0
		env.Reasoning = decision.Reasoning
	}

	if decision.Backend == backend.Ambiguous {
		metrics.AmbiguousTotal.Inc()
		env.Status = StatusAmbiguous
		env.Error = &EnvelopeError{
			Kind: backend.KindAmbiguousRoute,
			Detail: fmt.Sprintf("%s; specify one of %v via the hint field and resend",
				decision.Summary, e.registry.IDs()),
		}
		return e.finish(ctx, env, req, decision, op, "", start)
	}
	env.BackendUsed = decision.Backend

	// Cancelled before dispatch: no backend effects at all.
	if err := ctx.Err(); err != nil {
		env.Status = StatusCancelled
		env.Error = &EnvelopeError{Kind: backend.KindCancelled, Detail: "request cancelled before dispatch"}
		return e.finish(ctx, env, req, decision, op, "", start)
	}

	// Read-only policy beats the confirmation handshake: no point minting a
	// token for an operation that can never run. Adapters enforce the same
	// policy again on every mutate call.
	if e.cfg.ReadOnly && op.IsDestructive {
		e.fail(env, backend.NewErrorf(backend.KindPolicyViolation,
			"%s operations are disabled: router is in read-only mode", op.Kind))
		return e.finish(ctx, env, req, decision, op, "", start)
	}

	verdict, err := e.gate.Check(ctx, req.Text, req.ConfirmationToken, decision.Backend, op)
	if err != nil {
		e.fail(env, backend.WrapError(backend.KindUnavailable, "", err))
		return e.finish(ctx, env, req, decision, op, "", start)
	}
	confirmation := string(verdict.Outcome)
	metrics.ConfirmationsTotal.WithLabelValues(confirmation).Inc()

	switch verdict.Outcome {
	case safety.OutcomeProceed, safety.OutcomeConfirmed:
		// fall through to dispatch
	default:
		env.Status = StatusAwaiting
		env.ConfirmationToken = verdict.Token
		env.ConfirmationExpiresAt = &verdict.ExpiresAt
		env.Instruction = verdict.Instruction
		env.Error = &EnvelopeError{Kind: gateErrorKind(verdict.Outcome), Detail: verdict.Instruction}
		return e.finish(ctx, env, req, decision, op, confirmation, start)
	}

	result, err := e.dispatch(ctx, decision.Backend, op, req)
	if err != nil {
		if backend.IsKind(err, backend.KindCancelled) || errors.Is(err, context.Canceled) {
			// Best-effort cancellation: any result the backend produced
			// anyway is discarded and the outcome audited as cancelled.
			env.Status = StatusCancelled
			env.Error = &EnvelopeError{Kind: backend.KindCancelled, Detail: "request cancelled during dispatch"}
		} else {
			e.fail(env, err)
		}
		metrics.DispatchErrors.WithLabelValues(string(decision.Backend), string(backend.KindOf(err))).Inc()
		return e.finish(ctx, env, req, decision, op, confirmation, start)
	}

	env.Status = StatusOK
	env.Data = result.Records
	env.Count = result.Count
	metrics.ResultRecords.Observe(float64(result.Count))

	return e.finish(ctx, env, req, decision, op, confirmation, start)
}

func (e *Engine) dispatch(ctx context.Context, id backend.ID, op routing.Classification, req Request) (*backend.Result, error) {
	adapter, ok := e.registry.Get(id)
	if !ok {
		return nil, backend.NewErrorf(backend.KindUnavailable, "no adapter registered for %s", id)
	}

	start := time.Now()
	var result *backend.Result
	var callErr error

	err := e.breakers[id].Execute(ctx, func() error {
		result, callErr = e.call(ctx, adapter, op, req)
		return callErr
	})
	metrics.DispatchDuration.WithLabelValues(string(id), string(op.Kind)).Observe(time.Since(start).Seconds())

	if errors.Is(err, circuitbreaker.ErrCircuitOpen) || errors.Is(err, circuitbreaker.ErrTooManyRequests) {
		return nil, backend.WrapError(backend.KindUnavailable, id, err)
	}
	if err != nil {
		return nil, err
	}

	result.Elapsed = time.Since(start)
	return result, nil
}

func (e *Engine) call(ctx context.Context, adapter backend.Adapter, op routing.Classification, req Request) (*backend.Result, error) {
	switch op.Verb {
	case "explain", "analyze":
		return adapter.Explain(ctx, req.Text)
	case "describe":
		return adapter.DescribeSchema(ctx, extractTarget(req.Text))
	}

	switch op.Kind {
	case routing.OpList:
		return adapter.ListCollections(ctx)
	case routing.OpAggregate:
		return adapter.Aggregate(ctx, req.Text)
	case routing.OpWrite, routing.OpSchemaChange:
		return adapter.Mutate(ctx, mutationKind(op), extractTarget(req.Text), req.Text)
	default:
		limit := req.Limit
		if limit <= 0 {
			limit = e.cfg.DefaultLimit
		}
		return adapter.Query(ctx, req.Text, limit)
	}
}

func (e *Engine) fail(env *Envelope, err error) {
	kind := backend.KindOf(err)
	detail := err.Error()
	var be *backend.Error
	if errors.As(err, &be) {
		detail = be.Detail
	}
	env.Status = StatusError
	env.Error = &EnvelopeError{Kind: kind, Detail: detail, Retryable: kind.Retryable()}
}

// finish stamps elapsed time and appends the single audit entry for this
// request. Every path through Execute ends here.
func (e *Engine) finish(_ context.Context, env *Envelope, req Request, decision routing.Decision, op routing.Classification, confirmation string, start time.Time) *Envelope {
	env.ElapsedMS = time.Since(start).Milliseconds()

	metrics.RequestsTotal.WithLabelValues(string(env.BackendUsed), string(env.Status)).Inc()

	entry := models.AuditEntry{
		RequestID:           env.RequestID,
		QueryText:           req.Text,
		Backend:             string(decision.Backend),
		OperationKind:       string(op.Kind),
		OperationVerb:       op.Verb,
		Destructive:         op.IsDestructive,
		Confidence:          env.Confidence,
		RoutingSummary:      decision.Summary,
		Status:              string(env.Status),
		ConfirmationOutcome: confirmation,
		ResultCount:         env.Count,
		ElapsedMS:           int(env.ElapsedMS),
		CreatedAt:           time.Now(),
	}
	if env.Error != nil {
		entry.ErrorKind = string(env.Error.Kind)
		entry.ErrorDetail = env.Error.Detail
	}
	for i, c := range env.Reasoning {
		entry.Signals = append(entry.Signals, models.AuditSignal{
			EntryID:  env.RequestID,
			Position: i,
			Name:     c.Signal,
			Backend:  string(c.Backend),
			Weight:   c.Weight,
			Applied:  c.Applied,
		})
	}

	if err := e.recorder.Record(entry); err != nil {
		// The response still goes out, but the trail has a hole; the
		// recorder already counted the failure.
		logger.Warn("Audit trail is missing this request",
			zap.String("request_id", env.RequestID),
			zap.Error(err),
		)
	}

	logger.Info("Request completed",
		zap.String("request_id", env.RequestID),
		zap.String("status", string(env.Status)),
		zap.String("backend", string(env.BackendUsed)),
		zap.String("operation", string(op.Kind)),
		zap.Int64("elapsed_ms", env.ElapsedMS),
	)
	return env
}

func gateErrorKind(outcome safety.Outcome) backend.ErrorKind {
	switch outcome {
	case safety.OutcomeExpired:
		return backend.KindTokenExpired
	case safety.OutcomeRejected:
		return backend.KindTokenInvalid
	default:
		return backend.KindAwaitingConfirmation
	}
}

func mutationKind(op routing.Classification) backend.MutationKind {
	if op.Kind == routing.OpSchemaChange {
		return backend.MutationSchema
	}
	switch op.Verb {
	case "insert":
		return backend.MutationInsert
	case "update":
		return backend.MutationUpdate
	default:
		return backend.MutationDelete
	}
}

var targetPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bdb\.(\w+)\.`),
	regexp.MustCompile(`(?i)\bfrom\s+"?(\w+)"?`),
	regexp.MustCompile(`(?i)\binto\s+"?(\w+)"?`),
	regexp.MustCompile(`(?i)\bupdate\s+"?(\w+)"?\s+set\b`),
	regexp.MustCompile(`(?i)\btruncate\s+(?:table\s+)?(?:the\s+)?"?(\w+)"?`),
	regexp.MustCompile(`(?i)\b(?:describe|schema of|structure of)\s+(?:the\s+)?"?(\w+)"?`),
	regexp.MustCompile(`(?i)\b(?:table|collection|view)\s+"?(\w+)"?`),
}

// extractTarget pulls a best-effort table/collection name out of the text.
// Empty means the adapter has to parse it from its own syntax or reject.
func extractTarget(text string) string {
	for _, re := range targetPatterns {
		if m := re.FindStringSubmatch(text); m != nil {
			return strings.ToLower(m[1])
		}
	}
	return ""
}
