package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"manualqa-backend/internal/logger"
	"manualqa-backend/internal/models"
	"manualqa-backend/internal/store"
)

// factStage is one step of the fact lookup. Stages run in order and the first hit wins.
type factStage struct {
	factType models.FactType
	field    models.FactField
}

var factStages = []factStage{
	{factType: models.FactTypeSpec, field: models.FactFieldKey},
	{factType: models.FactTypeIntent, field: models.FactFieldIntent},
	{factType: models.FactTypeGolden, field: models.FactFieldQuery},
}

// minFactQueryLen keeps tiny fragments from matching inside unrelated fields.
const minFactQueryLen = 3

type FactMatcher struct {
	facts store.FactStore
	log   *logger.Logger
}

func NewFactMatcher(facts store.FactStore, log *logger.Logger) *FactMatcher {
	return &FactMatcher{facts: facts, log: log.With("service", "FactMatcher")}
}

// FindMatch returns the first fact matching the query, or nil on a miss.
// Store failures are returned as errors.
func (m *FactMatcher) FindMatch(ctx context.Context, query string) (*models.Fact, error) {
	text := NormalizeFactQuery(query)
	if len(text) < minFactQueryLen {
		return nil, nil
	}
	for _, st := range factStages {
		fact, err := m.facts.FindFact(ctx, st.factType, st.field, text)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("fact lookup (%s): %w", st.factType, err)
		}
		m.log.Debug("fact matched", "fact_type", st.factType, "field", st.field, "fact_id", fact.ID)
		return fact, nil
	}
	return nil, nil
}

var (
	spaceRe        = regexp.MustCompile(`\s+`)
	factSuffixRe   = regexp.MustCompile(`\s+—\s+.*$`)
	trailingPuncRe = regexp.MustCompile(`[\s?!.,;:]+$`)
)

// NormalizeFactQuery lowercases, collapses whitespace, drops a rewrite
// suffix, strips trailing punctuation and leading question phrases.
func NormalizeFactQuery(query string) string {
	q := strings.ToLower(strings.TrimSpace(query))
	q = spaceRe.ReplaceAllString(q, " ")
	q = factSuffixRe.ReplaceAllString(q, "")
	q = trailingPuncRe.ReplaceAllString(q, "")
	q = StripQuestionPrefixes(q)
	return strings.TrimSpace(q)
}

// FormatFactAnswer renders a fact as a short deterministic answer. No LLM is involved.
func FormatFactAnswer(f models.Fact) string {
	switch f.FactType {
	case models.FactTypeSpec:
		var b strings.Builder
		b.WriteString(strings.TrimSpace(f.Key))
		b.WriteString(": ")
		b.WriteString(strings.TrimSpace(f.Value))
		if u := strings.TrimSpace(f.Unit); u != "" {
			b.WriteString(" ")
			b.WriteString(u)
		}
		if c := strings.TrimSpace(f.Context); c != "" {
			b.WriteString(" (" + c + ")")
		}
		if f.Page != nil {
			fmt.Fprintf(&b, " [Page %d]", *f.Page)
		}
		return b.String()
	case models.FactTypeIntent:
		return "Intent detected: " + strings.TrimSpace(f.Intent)
	case models.FactTypeGolden:
		return "Q: " + strings.TrimSpace(f.Query) + "\nA: " + strings.TrimSpace(f.Expected)
	default:
		return strings.TrimSpace(f.Value)
	}
}
