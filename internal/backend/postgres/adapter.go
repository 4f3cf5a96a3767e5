package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/multidb-router/backend/internal/backend"
	"github.com/multidb-router/backend/pkg/logger"
	"github.com/multidb-router/backend/pkg/retry"
)

// Adapter serves the relational store over a pgx pool. Pool exhaustion and
// deadline hits surface as backend_unavailable so callers can retry with
// backoff instead of blocking.
type Adapter struct {
	id   backend.ID
	pool *pgxpool.Pool
	opts backend.Options
	log  *zap.Logger
}

func NewAdapter(ctx context.Context, id backend.ID, url string, maxConns int, opts backend.Options) (*Adapter, error) {
	log := logger.Named("adapter.postgres")

	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("invalid postgres url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = int32(maxConns)
	}

	pool, err := retry.DoWithResult(ctx, retry.Config{MaxAttempts: 3, Logger: log}, func() (*pgxpool.Pool, error) {
		p, err := pgxpool.NewWithConfig(ctx, cfg)
		if err != nil {
			return nil, err
		}
		if err := p.Ping(ctx); err != nil {
			p.Close()
			return nil, err
		}
		return p, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	log.Info("Postgres adapter initialized", zap.String("backend", string(id)))

	return &Adapter{id: id, pool: pool, opts: opts.Normalize(), log: log}, nil
}

func (a *Adapter) ID() backend.ID          { return a.id }
func (a *Adapter) Kind() backend.StoreKind { return backend.KindRelational }

func (a *Adapter) Ping(ctx context.Context) error {
	return a.pool.Ping(ctx)
}

func (a *Adapter) Close(_ context.Context) error {
	a.pool.Close()
	return nil
}

func (a *Adapter) ListCollections(ctx context.Context) (*backend.Result, error) {
	return a.query(ctx, "list_tables",
		`SELECT table_name AS name FROM information_schema.tables
		 WHERE table_schema = 'public' ORDER BY table_name`, 0, false)
}

func (a *Adapter) Query(ctx context.Context, expression string, limit int) (*backend.Result, error) {
	sql := strings.TrimSpace(expression)
	if sql == "" {
		return nil, backend.NewError(backend.KindExecutionError, "empty query expression")
	}
	return a.query(ctx, "query", sql, limit, true)
}

// Aggregate is a plain query in SQL; GROUP BY needs no separate machinery.
func (a *Adapter) Aggregate(ctx context.Context, pipeline string) (*backend.Result, error) {
	return a.query(ctx, "aggregate", strings.TrimSpace(pipeline), 0, true)
}

func (a *Adapter) Mutate(ctx context.Context, kind backend.MutationKind, target, payload string) (*backend.Result, error) {
	if a.opts.ReadOnly {
		return nil, backend.NewErrorf(backend.KindPolicyViolation,
			"backend %s is read-only; %s operations are disabled by policy", a.id, kind)
	}

	sql := strings.TrimSpace(payload)
	if !looksExecutable(sql) {
		return nil, backend.NewErrorf(backend.KindExecutionError,
			"cannot execute %s request as SQL: %q", kind, payload)
	}

	ctx, cancel := a.bound(ctx)
	defer cancel()

	tag, err := a.pool.Exec(ctx, sql)
	if err != nil {
		return nil, a.wrap(string(kind), err)
	}

	return a.result(string(kind), []backend.Record{{
		"rows_affected": tag.RowsAffected(),
		"command":       tag.String(),
	}}), nil
}

func (a *Adapter) DescribeSchema(ctx context.Context, target string) (*backend.Result, error) {
	if target == "" {
		return nil, backend.NewError(backend.KindExecutionError, "describe requires a table name")
	}

	ctx, cancel := a.bound(ctx)
	defer cancel()

	rows, err := a.pool.Query(ctx,
		`SELECT column_name, data_type, is_nullable, column_default
		 FROM information_schema.columns
		 WHERE table_name = $1 ORDER BY ordinal_position`, strings.ToLower(target))
	if err != nil {
		return nil, a.wrap("describe_schema", err)
	}

	records, err := a.collect(rows, 0, false)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, backend.NewErrorf(backend.KindExecutionError, "table %q not found", target)
	}
	return a.result("describe_schema", records), nil
}

func (a *Adapter) Explain(ctx context.Context, expression string) (*backend.Result, error) {
	sql, err := explainStatement(expression)
	if err != nil {
		return nil, err
	}
	return a.query(ctx, "explain", sql, 0, false)
}

// explainStatement validates that an EXPLAIN target is a real statement before
// anything reaches the server. Prepending EXPLAIN to prose like "analyze the
// orders table" would only fail with an opaque syntax error.
func explainStatement(expression string) (string, error) {
	sql := strings.TrimSpace(expression)
	stmt := explainPrefixRe.ReplaceAllString(sql, "")
	if !explainableRe.MatchString(stmt) {
		return "", backend.NewErrorf(backend.KindExecutionError,
			"cannot explain %q: expected a SQL statement to inspect", expression)
	}
	if !explainRe.MatchString(sql) {
		sql = "EXPLAIN " + sql
	}
	return sql, nil
}

var (
	explainRe       = regexp.MustCompile(`(?i)^\s*explain\b`)
	explainPrefixRe = regexp.MustCompile(`(?i)^\s*explain\s+(?:analyze\s+)?`)
	explainableRe   = regexp.MustCompile(`(?i)^\s*(select|insert|update|delete|with|values|table)\b`)
	executableRe    = regexp.MustCompile(`(?i)^\s*(select|insert|update|delete|create|drop|alter|truncate|grant|revoke|with|explain|analyze)\b`)
)

func looksExecutable(sql string) bool {
	return executableRe.MatchString(sql)
}

func (a *Adapter) query(ctx context.Context, operation, sql string, limit int, guard bool) (*backend.Result, error) {
	if guard && !looksExecutable(sql) {
		return nil, backend.NewErrorf(backend.KindExecutionError,
			"request is not executable SQL: %q", sql)
	}

	ctx, cancel := a.bound(ctx)
	defer cancel()

	rows, err := a.pool.Query(ctx, sql)
	if err != nil {
		return nil, a.wrap(operation, err)
	}

	records, err := a.collect(rows, limit, true)
	if err != nil {
		return nil, err
	}
	return a.result(operation, records), nil
}

// collect scans rows into uniform records, stopping one past the effective
// limit so an over-ceiling result fails instead of streaming unbounded data.
func (a *Adapter) collect(rows pgx.Rows, requested int, enforceCeiling bool) ([]backend.Record, error) {
	defer rows.Close()

	effective := a.opts.MaxResults
	callerBound := false
	if requested > 0 && requested <= a.opts.MaxResults {
		effective = requested
		callerBound = true
	}

	fields := rows.FieldDescriptions()
	var records []backend.Record

	for rows.Next() {
		if len(records) >= effective {
			if callerBound || !enforceCeiling {
				break
			}
			return nil, backend.NewErrorf(backend.KindResultTooLarge,
				"result exceeds the %d record ceiling; narrow the query or lower the limit", a.opts.MaxResults)
		}

		values, err := rows.Values()
		if err != nil {
			return nil, a.wrap("scan", err)
		}

		record := make(backend.Record, len(fields))
		for i, fd := range fields {
			record[string(fd.Name)] = values[i]
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, a.wrap("scan", err)
	}
	return records, nil
}

func (a *Adapter) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, a.opts.Timeout)
}

func (a *Adapter) result(operation string, records []backend.Record) *backend.Result {
	return &backend.Result{
		Backend:   a.id,
		Operation: operation,
		Records:   records,
		Count:     len(records),
	}
}

func (a *Adapter) wrap(operation string, err error) error {
	var pgErr *pgconn.PgError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		a.log.Warn("Postgres deadline exceeded", zap.String("operation", operation))
		return backend.WrapError(backend.KindUnavailable, a.id, err)
	case errors.Is(err, context.Canceled):
		return backend.WrapError(backend.KindCancelled, a.id, err)
	case errors.As(err, &pgErr):
		return backend.WrapError(backend.KindExecutionError, a.id, err)
	default:
		// Connection-level failures (pool exhausted, server gone) land here.
		a.log.Warn("Postgres unavailable", zap.String("operation", operation), zap.Error(err))
		return backend.WrapError(backend.KindUnavailable, a.id, err)
	}
}
