package routing

import (
	"regexp"
	"strings"
)

// OpKind is the operation family a request asks for, independent of which
// backend it targets.
type OpKind string

const (
	OpRead         OpKind = "read"
	OpList         OpKind = "list"
	OpAggregate    OpKind = "aggregate"
	OpWrite        OpKind = "write"
	OpSchemaChange OpKind = "schema_change"
)

// Classification also carries the detected verb so dispatch can pick the
// right adapter call (explain vs describe vs plain query, insert vs delete).
type Classification struct {
	Kind          OpKind `json:"kind"`
	Verb          string `json:"verb"`
	IsDestructive bool   `json:"is_destructive"`
}

var (
	planInspectRe = regexp.MustCompile(`\b(explain|analyze)\b`)
	describeRe    = regexp.MustCompile(`\b(describe|schema of|structure of)\b`)
	insertRe      = regexp.MustCompile(`\binsert\b|\badd\b|\bcreate\s+(?:a\s+|an\s+|new\s+)*(?:document|record|row)\b`)
	updateRe      = regexp.MustCompile(`\bupdate\b|\bmodify\b|\bchange\b`)
	deleteRe      = regexp.MustCompile(`\bdelete\b|\bremove\b|\btruncate\b`)
	schemaRe      = regexp.MustCompile(`\b(create|drop|alter)\b`)
	ddlLeadRe     = regexp.MustCompile(`^\s*(create|drop|alter)\s+(?:table|index|view|schema|sequence|database|collection)\b`)
	aggregateRe   = regexp.MustCompile(`\baggregate\b|\bgroup\s+by\b|\bcount\s+by\b|\$group\b`)
	listRe        = regexp.MustCompile(`\b(list|show)\b[\s\S]*\b(collections|tables|databases|schemas|indexes|views)\b`)
)

// ClassifyOperation maps request text to an operation kind. Detection is not
// limited to formal statement syntax: natural phrasing that implies mutation
// ("remove inactive users") still classifies as a write.
func ClassifyOperation(text string) Classification {
	lower := strings.ToLower(text)

	// EXPLAIN and ANALYZE read query plans; they never mutate data even
	// though they sit next to write vocabulary.
	if m := planInspectRe.FindString(lower); m != "" {
		return Classification{Kind: OpRead, Verb: m}
	}

	// A statement that leads with DDL is schema work no matter what verbs
	// appear later: "ALTER TABLE users ADD COLUMN" must not read as an
	// insert because of the ADD.
	if m := ddlLeadRe.FindStringSubmatch(lower); m != nil {
		return destructive(OpSchemaChange, m[1])
	}

	if insertRe.MatchString(lower) {
		return destructive(OpWrite, "insert")
	}
	if updateRe.MatchString(lower) {
		return destructive(OpWrite, "update")
	}
	if deleteRe.MatchString(lower) {
		return destructive(OpWrite, "delete")
	}
	if m := schemaRe.FindString(lower); m != "" {
		return destructive(OpSchemaChange, m)
	}

	if aggregateRe.MatchString(lower) {
		return Classification{Kind: OpAggregate, Verb: "aggregate"}
	}
	if listRe.MatchString(lower) {
		return Classification{Kind: OpList, Verb: "list"}
	}
	if m := describeRe.FindString(lower); m != "" {
		return Classification{Kind: OpRead, Verb: "describe"}
	}

	return Classification{Kind: OpRead, Verb: "read"}
}

func destructive(kind OpKind, verb string) Classification {
	return Classification{Kind: kind, Verb: verb, IsDestructive: true}
}
