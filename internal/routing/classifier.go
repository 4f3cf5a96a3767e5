package routing

import (
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/multidb-router/backend/internal/backend"
	"github.com/multidb-router/backend/pkg/utils"
)

// Category caps. Repetition inside a category cannot push a backend past
// these; they are also the normalization denominators for confidence.
const (
	capMention = 1.0
	capSyntax  = 1.0
	capKeyword = 0.6
)

// Contribution is one (signal, applied weight) pair in the reasoning trail.
// Applied can be lower than the raw weight when the category cap truncates it.
type Contribution struct {
	Signal  string     `json:"signal"`
	Backend backend.ID `json:"backend"`
	Weight  float64    `json:"weight"`
	Applied float64    `json:"applied"`
}

// Decision is the routing outcome for one request text. Identical text always
// produces an identical Decision.
type Decision struct {
	Backend    backend.ID     `json:"backend"`
	Confidence float64        `json:"confidence"`
	Reasoning  []Contribution `json:"reasoning"`
	Summary    string         `json:"summary"`
}

type Classifier struct {
	extractor     *Extractor
	minConfidence float64
	cache         *gocache.Cache
}

// NewClassifier builds the router. minConfidence is the raw winning total
// below which the route is Ambiguous rather than a guess. Decisions are
// cached by text digest; that is safe because classification is
// deterministic.
func NewClassifier(extractor *Extractor, minConfidence float64, cacheTTL time.Duration) *Classifier {
	var c *gocache.Cache
	if cacheTTL > 0 {
		c = gocache.New(cacheTTL, 2*cacheTTL)
	}
	return &Classifier{
		extractor:     extractor,
		minConfidence: minConfidence,
		cache:         c,
	}
}

func (c *Classifier) Route(text string) Decision {
	var key string
	if c.cache != nil {
		key = utils.Digest(text)
		if cached, ok := c.cache.Get(key); ok {
			return cached.(Decision)
		}
	}

	decision := c.route(c.extractor.Extract(text))

	if c.cache != nil {
		c.cache.Set(key, decision, gocache.DefaultExpiration)
	}
	return decision
}

func (c *Classifier) route(signals SignalSet) Decision {
	reasoning := make([]Contribution, 0, len(signals.Signals))
	totals := make(map[backend.ID]float64)
	applied := make(map[backend.ID]map[SignalKind]float64)
	mentioned := make(map[backend.ID]bool)

	for _, sig := range signals.Signals {
		if applied[sig.Backend] == nil {
			applied[sig.Backend] = make(map[SignalKind]float64)
		}

		ceiling := categoryCap(sig.Kind)
		remaining := ceiling - applied[sig.Backend][sig.Kind]
		use := sig.Weight
		if use > remaining {
			use = remaining
		}
		if use < 0 {
			use = 0
		}

		applied[sig.Backend][sig.Kind] += use
		totals[sig.Backend] += use
		if sig.Kind == SignalMention && use > 0 {
			mentioned[sig.Backend] = true
		}

		reasoning = append(reasoning, Contribution{
			Signal:  sig.Name,
			Backend: sig.Backend,
			Weight:  sig.Weight,
			Applied: use,
		})
	}

	// Explicit mention beats everything. Two different backends explicitly
	// named is conflicting intent, which only the caller can resolve.
	var mentionedIDs []backend.ID
	for _, id := range backend.KnownIDs() {
		if mentioned[id] {
			mentionedIDs = append(mentionedIDs, id)
		}
	}
	if len(mentionedIDs) == 1 {
		return Decision{
			Backend:    mentionedIDs[0],
			Confidence: 1.0,
			Reasoning:  reasoning,
			Summary:    fmt.Sprintf("explicit mention of %s", mentionedIDs[0]),
		}
	}
	if len(mentionedIDs) > 1 {
		return Decision{
			Backend:   backend.Ambiguous,
			Reasoning: reasoning,
			Summary:   "conflicting explicit mentions",
		}
	}

	// Highest total wins; an exact tie at the top is Ambiguous, never an
	// arbitrary pick. Iteration over KnownIDs keeps this reproducible.
	var winner backend.ID
	var best float64
	tied := false
	for _, id := range backend.KnownIDs() {
		total := totals[id]
		if total > best {
			winner, best, tied = id, total, false
		} else if total == best && best > 0 {
			tied = true
		}
	}

	if winner == "" || best < c.minConfidence {
		return Decision{
			Backend:   backend.Ambiguous,
			Reasoning: reasoning,
			Summary:   "no confident backend pattern detected",
		}
	}
	if tied {
		return Decision{
			Backend:   backend.Ambiguous,
			Reasoning: reasoning,
			Summary:   "equal signal weight for multiple backends",
		}
	}

	// Normalize against the best score the fired categories could have
	// produced, so keyword-only routes are not stuck near zero.
	var attainable float64
	for kind, sum := range applied[winner] {
		if sum > 0 {
			attainable += categoryCap(kind)
		}
	}
	confidence := best / attainable
	if confidence > 1.0 {
		confidence = 1.0
	}

	return Decision{
		Backend:    winner,
		Confidence: confidence,
		Reasoning:  reasoning,
		Summary:    fmt.Sprintf("%s signals outweigh alternatives", winner),
	}
}

func categoryCap(kind SignalKind) float64 {
	switch kind {
	case SignalMention:
		return capMention
	case SignalSyntax:
		return capSyntax
	default:
		return capKeyword
	}
}
