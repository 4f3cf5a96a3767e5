package mongo

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/multidb-router/backend/internal/backend"
	"github.com/multidb-router/backend/pkg/logger"
	"github.com/multidb-router/backend/pkg/retry"
)

// Adapter serves one MongoDB database. Two instances of it back store_a and
// store_b against the same cluster.
type Adapter struct {
	id   backend.ID
	db   *mongo.Database
	cli  *mongo.Client
	opts backend.Options
	log  *zap.Logger
}

func NewAdapter(ctx context.Context, id backend.ID, uri, database string, opts backend.Options) (*Adapter, error) {
	log := logger.Named("adapter.mongo")

	cli, err := retry.DoWithResult(ctx, retry.Config{MaxAttempts: 3, Logger: log}, func() (*mongo.Client, error) {
		c, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
		if err != nil {
			return nil, err
		}
		if err := c.Ping(ctx, nil); err != nil {
			c.Disconnect(ctx)
			return nil, err
		}
		return c, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}

	log.Info("MongoDB adapter initialized",
		zap.String("backend", string(id)),
		zap.String("database", database),
	)

	return &Adapter{
		id:   id,
		db:   cli.Database(database),
		cli:  cli,
		opts: opts.Normalize(),
		log:  log,
	}, nil
}

func (a *Adapter) ID() backend.ID          { return a.id }
func (a *Adapter) Kind() backend.StoreKind { return backend.KindDocument }

func (a *Adapter) Ping(ctx context.Context) error {
	return a.cli.Ping(ctx, nil)
}

func (a *Adapter) Close(ctx context.Context) error {
	return a.cli.Disconnect(ctx)
}

func (a *Adapter) ListCollections(ctx context.Context) (*backend.Result, error) {
	ctx, cancel := a.bound(ctx)
	defer cancel()

	names, err := a.db.ListCollectionNames(ctx, bson.D{})
	if err != nil {
		return nil, a.wrap("list_collections", err)
	}

	records := make([]backend.Record, 0, len(names))
	for _, name := range names {
		records = append(records, backend.Record{"name": name})
	}
	return a.result("list_collections", records), nil
}

func (a *Adapter) Query(ctx context.Context, expression string, limit int) (*backend.Result, error) {
	ctx, cancel := a.bound(ctx)
	defer cancel()

	ns, ok := ParseNamespace(expression)
	if !ok {
		return nil, backend.NewErrorf(backend.KindExecutionError,
			"cannot determine target collection in %q; expected db.<collection>.<operation>(...)", expression)
	}

	switch ns.Op {
	case "find", "findone":
		return a.find(ctx, ns, limit, ns.Op == "findone")
	case "countdocuments", "count":
		return a.count(ctx, ns)
	case "distinct":
		return a.distinct(ctx, ns)
	case "aggregate":
		return a.aggregate(ctx, ns)
	default:
		return nil, backend.NewErrorf(backend.KindExecutionError, "unsupported read operation %q", ns.Op)
	}
}

func (a *Adapter) Aggregate(ctx context.Context, pipeline string) (*backend.Result, error) {
	ctx, cancel := a.bound(ctx)
	defer cancel()

	ns, ok := ParseNamespace(pipeline)
	if !ok || ns.Op != "aggregate" {
		return nil, backend.NewErrorf(backend.KindExecutionError,
			"cannot parse aggregation %q; expected db.<collection>.aggregate([...])", pipeline)
	}
	return a.aggregate(ctx, ns)
}

func (a *Adapter) Mutate(ctx context.Context, kind backend.MutationKind, target, payload string) (*backend.Result, error) {
	if a.opts.ReadOnly {
		return nil, backend.NewErrorf(backend.KindPolicyViolation,
			"backend %s is read-only; %s operations are disabled by policy", a.id, kind)
	}

	ctx, cancel := a.bound(ctx)
	defer cancel()

	if kind == backend.MutationSchema {
		return a.schemaChange(ctx, payload)
	}

	ns, ok := ParseNamespace(payload)
	if !ok {
		if target == "" {
			return nil, backend.NewErrorf(backend.KindExecutionError,
				"cannot determine target collection for %s in %q", kind, payload)
		}
		ns = &Namespace{Collection: target, Op: string(kind) + "many"}
	}

	coll := a.db.Collection(ns.Collection)

	switch kind {
	case backend.MutationInsert:
		return a.insert(ctx, coll, ns)
	case backend.MutationUpdate:
		return a.update(ctx, coll, ns)
	case backend.MutationDelete:
		return a.delete(ctx, coll, ns)
	default:
		return nil, backend.NewErrorf(backend.KindExecutionError, "unsupported mutation kind %q", kind)
	}
}

func (a *Adapter) DescribeSchema(ctx context.Context, target string) (*backend.Result, error) {
	if target == "" {
		return nil, backend.NewError(backend.KindExecutionError, "describe requires a collection name")
	}

	ctx, cancel := a.bound(ctx)
	defer cancel()

	var stats bson.M
	err := a.db.RunCommand(ctx, bson.D{{Key: "collStats", Value: target}}).Decode(&stats)
	if err != nil {
		return nil, a.wrap("describe_schema", err)
	}
	return a.result("describe_schema", []backend.Record{backend.Record(stats)}), nil
}

func (a *Adapter) Explain(ctx context.Context, expression string) (*backend.Result, error) {
	ctx, cancel := a.bound(ctx)
	defer cancel()

	ns, ok := ParseNamespace(expression)
	if !ok {
		return nil, backend.NewErrorf(backend.KindExecutionError, "cannot parse expression to explain: %q", expression)
	}

	filter, err := parseDoc(firstArg(ns))
	if err != nil {
		return nil, err
	}

	var plan bson.M
	cmd := bson.D{{Key: "explain", Value: bson.D{
		{Key: "find", Value: ns.Collection},
		{Key: "filter", Value: filter},
	}}}
	if err := a.db.RunCommand(ctx, cmd).Decode(&plan); err != nil {
		return nil, a.wrap("explain", err)
	}
	return a.result("explain", []backend.Record{backend.Record(plan)}), nil
}

func (a *Adapter) find(ctx context.Context, ns *Namespace, limit int, single bool) (*backend.Result, error) {
	filter, err := parseDoc(firstArg(ns))
	if err != nil {
		return nil, err
	}
	coll := a.db.Collection(ns.Collection)

	if single {
		var doc bson.M
		err := coll.FindOne(ctx, filter).Decode(&doc)
		if err == mongo.ErrNoDocuments {
			return a.result("find_one", nil), nil
		}
		if err != nil {
			return nil, a.wrap("find_one", err)
		}
		return a.result("find_one", []backend.Record{backend.Record(doc)}), nil
	}

	effective, bounded := a.effectiveLimit(limit)
	cursor, err := coll.Find(ctx, filter, options.Find().SetLimit(int64(effective+1)))
	if err != nil {
		return nil, a.wrap("find", err)
	}

	var docs []bson.M
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, a.wrap("find", err)
	}

	records, err := a.capRecords(docs, effective, bounded)
	if err != nil {
		return nil, err
	}
	return a.result("find", records), nil
}

func (a *Adapter) count(ctx context.Context, ns *Namespace) (*backend.Result, error) {
	filter, err := parseDoc(firstArg(ns))
	if err != nil {
		return nil, err
	}
	n, err := a.db.Collection(ns.Collection).CountDocuments(ctx, filter)
	if err != nil {
		return nil, a.wrap("count", err)
	}
	return a.result("count", []backend.Record{{"count": n}}), nil
}

func (a *Adapter) distinct(ctx context.Context, ns *Namespace) (*backend.Result, error) {
	if len(ns.Args) == 0 {
		return nil, backend.NewError(backend.KindExecutionError, "distinct requires a field name")
	}
	field := strings.Trim(ns.Args[0], `"' `)

	filter := bson.M{}
	if len(ns.Args) > 1 {
		parsed, err := parseDoc(ns.Args[1])
		if err != nil {
			return nil, err
		}
		filter = parsed
	}

	values, err := a.db.Collection(ns.Collection).Distinct(ctx, field, filter)
	if err != nil {
		return nil, a.wrap("distinct", err)
	}

	records := make([]backend.Record, 0, len(values))
	for _, v := range values {
		records = append(records, backend.Record{field: v})
	}
	return a.result("distinct", records), nil
}

func (a *Adapter) aggregate(ctx context.Context, ns *Namespace) (*backend.Result, error) {
	var pipeline bson.A
	raw := NormalizeFilter(strings.Join(ns.Args, ","))
	if err := bson.UnmarshalExtJSON([]byte(raw), true, &pipeline); err != nil {
		return nil, backend.NewErrorf(backend.KindExecutionError, "invalid aggregation pipeline: %v", err)
	}

	cursor, err := a.db.Collection(ns.Collection).Aggregate(ctx, pipeline)
	if err != nil {
		return nil, a.wrap("aggregate", err)
	}

	var docs []bson.M
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, a.wrap("aggregate", err)
	}

	records, err := a.capRecords(docs, a.opts.MaxResults, false)
	if err != nil {
		return nil, err
	}
	return a.result("aggregate", records), nil
}

func (a *Adapter) insert(ctx context.Context, coll *mongo.Collection, ns *Namespace) (*backend.Result, error) {
	doc, err := parseDoc(firstArg(ns))
	if err != nil {
		return nil, err
	}
	res, err := coll.InsertOne(ctx, doc)
	if err != nil {
		return nil, a.wrap("insert", err)
	}
	return a.result("insert", []backend.Record{{"inserted_id": res.InsertedID}}), nil
}

func (a *Adapter) update(ctx context.Context, coll *mongo.Collection, ns *Namespace) (*backend.Result, error) {
	if len(ns.Args) < 2 {
		return nil, backend.NewError(backend.KindExecutionError, "update requires a filter and an update document")
	}
	filter, err := parseDoc(ns.Args[0])
	if err != nil {
		return nil, err
	}
	update, err := parseDoc(ns.Args[1])
	if err != nil {
		return nil, err
	}

	res, err := coll.UpdateMany(ctx, filter, update)
	if err != nil {
		return nil, a.wrap("update", err)
	}
	return a.result("update", []backend.Record{{
		"matched":  res.MatchedCount,
		"modified": res.ModifiedCount,
	}}), nil
}

func (a *Adapter) delete(ctx context.Context, coll *mongo.Collection, ns *Namespace) (*backend.Result, error) {
	filter, err := parseDoc(firstArg(ns))
	if err != nil {
		return nil, err
	}
	res, err := coll.DeleteMany(ctx, filter)
	if err != nil {
		return nil, a.wrap("delete", err)
	}
	return a.result("delete", []backend.Record{{"deleted": res.DeletedCount}}), nil
}

var (
	createCollRe = regexp.MustCompile(`(?i)\bcreate\s+(?:a\s+)?collection\s+(?:named\s+|called\s+)?"?(\w+)"?`)
	dropCollRe   = regexp.MustCompile(`(?i)\bdrop\s+(?:the\s+)?collection\s+"?(\w+)"?`)
)

func (a *Adapter) schemaChange(ctx context.Context, payload string) (*backend.Result, error) {
	if m := createCollRe.FindStringSubmatch(payload); m != nil {
		if err := a.db.CreateCollection(ctx, m[1]); err != nil {
			return nil, a.wrap("create_collection", err)
		}
		return a.result("create_collection", []backend.Record{{"created": m[1]}}), nil
	}
	if m := dropCollRe.FindStringSubmatch(payload); m != nil {
		if err := a.db.Collection(m[1]).Drop(ctx); err != nil {
			return nil, a.wrap("drop_collection", err)
		}
		return a.result("drop_collection", []backend.Record{{"dropped": m[1]}}), nil
	}
	return nil, backend.NewErrorf(backend.KindExecutionError,
		"unsupported schema change %q; supported: create/drop collection <name>", payload)
}

func (a *Adapter) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, a.opts.Timeout)
}

func (a *Adapter) effectiveLimit(requested int) (int, bool) {
	if requested > 0 && requested <= a.opts.MaxResults {
		return requested, true
	}
	return a.opts.MaxResults, false
}

// capRecords converts driver documents, failing with result_too_large when
// the ceiling (rather than an explicit caller limit) was exceeded.
func (a *Adapter) capRecords(docs []bson.M, effective int, callerBound bool) ([]backend.Record, error) {
	if len(docs) > effective {
		if !callerBound {
			return nil, backend.NewErrorf(backend.KindResultTooLarge,
				"result exceeds the %d record ceiling; narrow the query or lower the limit", a.opts.MaxResults)
		}
		docs = docs[:effective]
	}
	records := make([]backend.Record, 0, len(docs))
	for _, d := range docs {
		records = append(records, backend.Record(d))
	}
	return records, nil
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
	if errors.Is(err, context.DeadlineExceeded) || mongo.IsTimeout(err) || mongo.IsNetworkError(err) {
		a.log.Warn("MongoDB unavailable", zap.String("operation", operation), zap.Error(err))
		return backend.WrapError(backend.KindUnavailable, a.id, err)
	}
	if errors.Is(err, context.Canceled) {
		return backend.WrapError(backend.KindCancelled, a.id, err)
	}
	return backend.WrapError(backend.KindExecutionError, a.id, err)
}

func firstArg(ns *Namespace) string {
	if len(ns.Args) == 0 {
		return ""
	}
	return ns.Args[0]
}

func parseDoc(raw string) (bson.M, error) {
	normalized := NormalizeFilter(raw)
	var doc bson.M
	if err := bson.UnmarshalExtJSON([]byte(normalized), true, &doc); err != nil {
		return nil, backend.NewErrorf(backend.KindExecutionError, "invalid document %q: %v", raw, err)
	}
	return doc, nil
}
