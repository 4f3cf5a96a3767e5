package routing

import (
	"regexp"
	"strings"

	prose "github.com/jdkato/prose/v2"

	"github.com/multidb-router/backend/internal/backend"
)

type SignalKind string

const (
	SignalMention SignalKind = "mention"
	SignalSyntax  SignalKind = "syntax"
	SignalKeyword SignalKind = "keyword"
)

// Signal is one detected textual cue tying request text to a backend.
type Signal struct {
	Name    string     `json:"name"`
	Kind    SignalKind `json:"kind"`
	Backend backend.ID `json:"backend"`
	Weight  float64    `json:"weight"`
}

// SignalSet is the full ordered detection output for one request text.
// Extraction is a pure function of the text: same input, same set.
type SignalSet struct {
	Signals    []Signal
	TokenCount int
}

type mentionAlias struct {
	phrase  string
	backend backend.ID
	re      *regexp.Regexp
}

type syntaxPattern struct {
	name    string
	backend backend.ID
	weight  float64
	re      *regexp.Regexp
}

type keywordEntry struct {
	word    string
	backend backend.ID
	weight  float64
}

// Alias table mirrors the identifiers users actually type. Longer phrases sit
// first so their spans claim the text before the bare aliases are tried:
// "mongodb b" must swallow the overlapping "mongodb" match, not conflict
// with it.
var mentionAliases = buildMentionAliases([]struct {
	phrase  string
	backend backend.ID
}{
	{"database a", backend.StoreA},
	{"database b", backend.StoreB},
	{"database c", backend.StoreC},
	{"mongodb a", backend.StoreA},
	{"mongodb b", backend.StoreB},
	{"db a", backend.StoreA},
	{"db b", backend.StoreB},
	{"db c", backend.StoreC},
	{"store a", backend.StoreA},
	{"store b", backend.StoreB},
	{"store c", backend.StoreC},
	{"sql database", backend.StoreC},
	{"postgresql", backend.StoreC},
	{"postgres", backend.StoreC},
	{"mongodb", backend.StoreA},
	{"mongo", backend.StoreA},
})

func buildMentionAliases(entries []struct {
	phrase  string
	backend backend.ID
}) []mentionAlias {
	out := make([]mentionAlias, 0, len(entries))
	for _, e := range entries {
		out = append(out, mentionAlias{
			phrase:  e.phrase,
			backend: e.backend,
			re:      regexp.MustCompile(`\b` + regexp.QuoteMeta(e.phrase) + `\b`),
		})
	}
	return out
}

// Syntax markers. A statement keyword leading the text is the strongest cue;
// the same keyword mid-sentence scores lower.
var syntaxPatterns = []syntaxPattern{
	{"syntax:mongo_namespace", backend.StoreA, 1.0,
		regexp.MustCompile(`\bdb\.\w+\.\w+\s*\(`)},
	{"syntax:mongo_method", backend.StoreA, 0.6,
		regexp.MustCompile(`\.(find|findone|aggregate|insertone|insertmany|updateone|updatemany|deleteone|deletemany|countdocuments|distinct)\s*\(`)},
	{"syntax:mongo_stage", backend.StoreA, 0.4,
		regexp.MustCompile(`\$(match|group|lookup|project|unwind|sort|limit|skip|sum|avg)\b`)},
	{"syntax:sql_statement", backend.StoreC, 1.0,
		regexp.MustCompile(`^\s*(select|insert|update|delete|create|drop|alter|explain|analyze|grant|revoke)\b`)},
	{"syntax:sql_select_from", backend.StoreC, 0.6,
		regexp.MustCompile(`\bselect\b[\s\S]*\bfrom\b`)},
	{"syntax:sql_insert_into", backend.StoreC, 0.6,
		regexp.MustCompile(`\binsert\s+into\b`)},
	{"syntax:sql_update_set", backend.StoreC, 0.6,
		regexp.MustCompile(`\bupdate\b[\s\S]*\bset\b`)},
	{"syntax:sql_delete_from", backend.StoreC, 0.6,
		regexp.MustCompile(`\bdelete\s+from\b`)},
	{"syntax:sql_ddl", backend.StoreC, 0.6,
		regexp.MustCompile(`\b(create|alter|drop)\s+(table|index|view|schema|sequence)\b`)},
	{"syntax:sql_grant", backend.StoreC, 0.4,
		regexp.MustCompile(`\b(grant|revoke)\b`)},
}

// Domain vocabulary. Additive, but the classifier caps the category so
// repeating "collection" ten times cannot outscore real syntax.
var keywordTable = []keywordEntry{
	{"collection", backend.StoreA, 0.3},
	{"collections", backend.StoreA, 0.3},
	{"document", backend.StoreA, 0.3},
	{"documents", backend.StoreA, 0.3},
	{"nosql", backend.StoreA, 0.3},
	{"bson", backend.StoreA, 0.3},
	{"aggregation", backend.StoreA, 0.2},
	{"pipeline", backend.StoreA, 0.2},
	{"shard", backend.StoreA, 0.2},
	{"replica", backend.StoreA, 0.2},
	{"find", backend.StoreA, 0.2},

	{"table", backend.StoreC, 0.3},
	{"tables", backend.StoreC, 0.3},
	{"schema", backend.StoreC, 0.3},
	{"schemas", backend.StoreC, 0.3},
	{"column", backend.StoreC, 0.3},
	{"columns", backend.StoreC, 0.3},
	{"sql", backend.StoreC, 0.3},
	{"row", backend.StoreC, 0.2},
	{"rows", backend.StoreC, 0.2},
	{"join", backend.StoreC, 0.2},
	{"view", backend.StoreC, 0.2},
	{"views", backend.StoreC, 0.2},
	{"procedure", backend.StoreC, 0.2},
	{"trigger", backend.StoreC, 0.2},
	{"sequence", backend.StoreC, 0.2},
	{"transaction", backend.StoreC, 0.2},
}

type Extractor struct{}

func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extract derives the SignalSet for one request text. Matching is
// case-insensitive and tolerant of punctuation; each table entry fires at
// most once.
func (e *Extractor) Extract(text string) SignalSet {
	lower := strings.ToLower(text)
	set := SignalSet{}
	if strings.TrimSpace(lower) == "" {
		return set
	}

	var claimed [][2]int
	for _, alias := range mentionAliases {
		loc := matchOutsideClaimed(alias.re, lower, claimed)
		if loc == nil {
			continue
		}
		claimed = append(claimed, [2]int{loc[0], loc[1]})
		set.Signals = append(set.Signals, Signal{
			Name:    "explicit_mention:" + alias.phrase,
			Kind:    SignalMention,
			Backend: alias.backend,
			Weight:  1.0,
		})
	}

	for _, pat := range syntaxPatterns {
		if pat.re.MatchString(lower) {
			set.Signals = append(set.Signals, Signal{
				Name:    pat.name,
				Kind:    SignalSyntax,
				Backend: pat.backend,
				Weight:  pat.weight,
			})
		}
	}

	tokens := tokenize(lower)
	set.TokenCount = len(tokens)
	tokenSet := make(map[string]struct{}, len(tokens))
	for _, tok := range tokens {
		tokenSet[tok] = struct{}{}
	}

	for _, kw := range keywordTable {
		if _, ok := tokenSet[kw.word]; ok {
			set.Signals = append(set.Signals, Signal{
				Name:    "keyword:" + kw.word,
				Kind:    SignalKeyword,
				Backend: kw.backend,
				Weight:  kw.weight,
			})
		}
	}

	return set
}

// matchOutsideClaimed returns the first match of re whose span is not
// contained inside an already-claimed span. A bare alias overlapping a longer
// one names the same text, not a second backend.
func matchOutsideClaimed(re *regexp.Regexp, text string, claimed [][2]int) []int {
	for _, loc := range re.FindAllStringIndex(text, -1) {
		contained := false
		for _, c := range claimed {
			if loc[0] >= c[0] && loc[1] <= c[1] {
				contained = true
				break
			}
		}
		if !contained {
			return loc
		}
	}
	return nil
}

// tokenize splits on prose's rule-based tokenizer with the statistical stages
// disabled, and falls back to whitespace splitting if the document cannot be
// built.
func tokenize(lower string) []string {
	doc, err := prose.NewDocument(lower,
		prose.WithSegmentation(false),
		prose.WithTagging(false),
		prose.WithExtraction(false),
	)
	if err != nil {
		return strings.Fields(lower)
	}

	toks := doc.Tokens()
	out := make([]string, 0, len(toks))
	for _, t := range toks {
		out = append(out, t.Text)
	}
	return out
}
