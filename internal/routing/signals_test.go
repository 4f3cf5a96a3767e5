package routing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/multidb-router/backend/internal/backend"
)

func signalNames(set SignalSet) []string {
	names := make([]string, 0, len(set.Signals))
	for _, s := range set.Signals {
		names = append(names, s.Name)
	}
	return names
}

func TestExtractExplicitMention(t *testing.T) {
	e := NewExtractor()

	set := e.Extract("How many records are in database a?")

	require.NotEmpty(t, set.Signals)
	assert.Contains(t, signalNames(set), "explicit_mention:database a")
	for _, s := range set.Signals {
		if s.Name == "explicit_mention:database a" {
			assert.Equal(t, SignalMention, s.Kind)
			assert.Equal(t, backend.StoreA, s.Backend)
			assert.Equal(t, 1.0, s.Weight)
		}
	}
}

func TestExtractMentionIsCaseInsensitive(t *testing.T) {
	e := NewExtractor()

	set := e.Extract("Query POSTGRES for the invoice totals")

	assert.Contains(t, signalNames(set), "explicit_mention:postgres")
}

func TestExtractMentionRequiresWordBoundary(t *testing.T) {
	e := NewExtractor()

	// "mongodb" inside a longer identifier is not a mention.
	set := e.Extract("the mongodbish thing")

	assert.NotContains(t, signalNames(set), "explicit_mention:mongodb")
}

func TestExtractLongerAliasSuppressesBareAlias(t *testing.T) {
	e := NewExtractor()

	set := e.Extract("count the users in mongodb b")

	names := signalNames(set)
	assert.Contains(t, names, "explicit_mention:mongodb b")
	assert.NotContains(t, names, "explicit_mention:mongodb")
	assert.NotContains(t, names, "explicit_mention:db b")
}

func TestExtractBareAliasStillFiresOutsideLongerSpan(t *testing.T) {
	e := NewExtractor()

	set := e.Extract("copy from mongodb b into plain mongodb")

	names := signalNames(set)
	assert.Contains(t, names, "explicit_mention:mongodb b")
	assert.Contains(t, names, "explicit_mention:mongodb")
}

func TestExtractMongoNamespaceSyntax(t *testing.T) {
	e := NewExtractor()

	set := e.Extract(`db.users.find({status: "active"})`)

	names := signalNames(set)
	assert.Contains(t, names, "syntax:mongo_namespace")
	assert.Contains(t, names, "syntax:mongo_method")
	for _, s := range set.Signals {
		if s.Kind == SignalSyntax {
			assert.Equal(t, backend.StoreA, s.Backend)
		}
	}
}

func TestExtractSQLStatementSyntax(t *testing.T) {
	e := NewExtractor()

	set := e.Extract("SELECT * FROM orders WHERE total > 100")

	names := signalNames(set)
	assert.Contains(t, names, "syntax:sql_statement")
	assert.Contains(t, names, "syntax:sql_select_from")
	for _, s := range set.Signals {
		if s.Kind == SignalSyntax {
			assert.Equal(t, backend.StoreC, s.Backend)
		}
	}
}

func TestExtractSQLStatementMustLeadText(t *testing.T) {
	e := NewExtractor()

	set := e.Extract("could you select something from orders")

	names := signalNames(set)
	assert.NotContains(t, names, "syntax:sql_statement")
	assert.Contains(t, names, "syntax:sql_select_from")
}

func TestExtractKeywords(t *testing.T) {
	e := NewExtractor()

	set := e.Extract("find all documents in the users collection")

	names := signalNames(set)
	assert.Contains(t, names, "keyword:documents")
	assert.Contains(t, names, "keyword:collection")
	assert.Contains(t, names, "keyword:find")
	assert.Greater(t, set.TokenCount, 0)
}

func TestExtractKeywordFiresOncePerWord(t *testing.T) {
	e := NewExtractor()

	set := e.Extract("table table table table")

	count := 0
	for _, s := range set.Signals {
		if s.Name == "keyword:table" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestExtractEmptyText(t *testing.T) {
	e := NewExtractor()

	assert.Empty(t, e.Extract("").Signals)
	assert.Empty(t, e.Extract("   \t\n").Signals)
}

func TestExtractIsDeterministic(t *testing.T) {
	e := NewExtractor()
	text := "show all rows in the orders table joined with customers"

	first := e.Extract(text)
	second := e.Extract(text)

	assert.Equal(t, first, second)
}
