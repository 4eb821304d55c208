package services

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"manualqa-backend/internal/clients/openai"
	"manualqa-backend/internal/logger"
	"manualqa-backend/internal/models"
)

// MaxFinalists is the hard upper bound on chunks handed to synthesis.
const MaxFinalists = 5

// VectorSearcher is the similarity search boundary.
type VectorSearcher interface {
	Search(ctx context.Context, query, namespace string, filter map[string]any, topK int) ([]models.Chunk, error)
}

// Reranker reorders a small candidate pool by relevance. It reports the
// name of the strategy that actually produced the order.
type Reranker interface {
	Rerank(ctx context.Context, query string, chunks []models.Chunk) ([]models.Chunk, string)
}

type RetrieverConfig struct {
	TopK         int
	ScoreFloor   float64
	MaxFinalists int
	Namespace    string
}

// RetrievalResult holds the finalists and a report of what each stage did.
type RetrievalResult struct {
	Finalists []models.Chunk
	Meta      models.RetrievalStats
}

// specValueRe matches a number followed by an engineering unit.
var specValueRe = regexp.MustCompile(`(?i)\b\d+(?:[.,]\d+)?\s*(?:` +
	`psig|psi|bar|mbar|kpa|mpa|` +
	`vac|vdc|kv|mv|volts?|v|` +
	`amps?|ma|` +
	`kw|mw|w|watts?|hp|kva|va|btu(?:/h)?|` +
	`°\s?[cf]|deg(?:rees)?\s?[cf]|` +
	`gpm|lpm|l/min|m3/h|cfm|scfm|gph|` +
	`rpm|hz|khz|nm|ft-?lbs?|db)\b`)

// IsSpecLike reports whether text contains a numeric value with a unit.
func IsSpecLike(text string) bool {
	return specValueRe.MatchString(text)
}

type VectorRetriever struct {
	searcher VectorSearcher
	reranker Reranker
	cfg      RetrieverConfig
	log      *logger.Logger
}

func NewVectorRetriever(searcher VectorSearcher, reranker Reranker, cfg RetrieverConfig, log *logger.Logger) *VectorRetriever {
	if cfg.TopK <= 0 {
		cfg.TopK = 40
	}
	if cfg.MaxFinalists <= 0 || cfg.MaxFinalists > MaxFinalists {
		cfg.MaxFinalists = MaxFinalists
	}
	if reranker == nil {
		reranker = SimilarityReranker{}
	}
	return &VectorRetriever{searcher: searcher, reranker: reranker, cfg: cfg, log: log.With("service", "VectorRetriever")}
}

// Retrieve runs wide recall, the score floor, the spec-likeness filter,
// rerank and truncation. It never returns an error: a failing search yields
// no finalists and Meta.Error.
func (r *VectorRetriever) Retrieve(ctx context.Context, query, namespace string, systems []models.SystemRef) RetrievalResult {
	if namespace == "" {
		namespace = r.cfg.Namespace
	}
	res := RetrievalResult{
		Finalists: []models.Chunk{},
		Meta: models.RetrievalStats{
			TopK:       r.cfg.TopK,
			ScoreFloor: r.cfg.ScoreFloor,
		},
	}
	if r.searcher == nil {
		res.Meta.Error = "vector search not configured"
		return res
	}

	filter := systemsFilter(systems)
	raw, err := r.searcher.Search(ctx, query, namespace, filter, r.cfg.TopK)
	if err == nil && len(raw) == 0 && filter != nil {
		r.log.Debug("no matches with systems filter, retrying unfiltered")
		res.Meta.FilterRelaxed = true
		raw, err = r.searcher.Search(ctx, query, namespace, nil, r.cfg.TopK)
	}
	if err != nil {
		r.log.Warn("vector search failed", "error", err)
		res.Meta.Error = err.Error()
		return res
	}
	res.Meta.RawCount = len(raw)

	floorPassed := make([]models.Chunk, 0, len(raw))
	for _, c := range raw {
		if c.Score >= r.cfg.ScoreFloor {
			floorPassed = append(floorPassed, c)
		}
	}
	res.Meta.FloorPassedCount = len(floorPassed)

	specLike := make([]models.Chunk, 0, len(floorPassed))
	for _, c := range floorPassed {
		if IsSpecLike(c.Content) {
			specLike = append(specLike, c)
		}
	}
	res.Meta.SpecFilteredCount = len(specLike)

	pool := specLike
	if len(pool) == 0 && len(floorPassed) > 0 {
		pool = floorPassed
		res.Meta.FallbackUsed = true
	}
	if len(pool) == 0 {
		return res
	}

	ranked, name := r.reranker.Rerank(ctx, query, pool)
	res.Meta.Reranker = name
	if len(ranked) > r.cfg.MaxFinalists {
		ranked = ranked[:r.cfg.MaxFinalists]
	}
	res.Finalists = ranked
	res.Meta.FinalCount = len(ranked)
	return res
}

// systemsFilter scopes the search to the manufacturers in context.
func systemsFilter(systems []models.SystemRef) map[string]any {
	seen := map[string]bool{}
	var mfrs []string
	for _, s := range systems {
		m := strings.TrimSpace(s.Manufacturer)
		if m == "" || seen[m] {
			continue
		}
		seen[m] = true
		mfrs = append(mfrs, m)
	}
	if len(mfrs) == 0 {
		return nil
	}
	return map[string]any{"manufacturer": map[string]any{"$in": mfrs}}
}

// --- rerankers ---

// SimilarityReranker blends the vector score with query term overlap.
type SimilarityReranker struct{}

func (SimilarityReranker) Rerank(_ context.Context, query string, chunks []models.Chunk) ([]models.Chunk, string) {
	terms := queryTerms(query)
	type scored struct {
		c     models.Chunk
		score float64
	}
	items := make([]scored, len(chunks))
	for i, c := range chunks {
		items[i] = scored{c: c, score: 0.8*c.Score + 0.2*termOverlap(terms, c.Content)}
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].score > items[j].score })
	out := make([]models.Chunk, len(items))
	for i, it := range items {
		out[i] = it.c
	}
	return out, "similarity"
}

func queryTerms(query string) []string {
	words := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	seen := map[string]bool{}
	var out []string
	for _, w := range words {
		if len(w) < 3 || lookupStopWords[w] || seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
	}
	return out
}

func termOverlap(terms []string, content string) float64 {
	if len(terms) == 0 {
		return 0
	}
	lc := strings.ToLower(content)
	hits := 0
	for _, t := range terms {
		if strings.Contains(lc, t) {
			hits++
		}
	}
	return float64(hits) / float64(len(terms))
}

// LLMReranker asks the model to score each candidate. On any failure it
// falls back to the similarity order.
type LLMReranker struct {
	llm      LLM
	fallback SimilarityReranker
	log      *logger.Logger
}

func NewLLMReranker(llm LLM, log *logger.Logger) *LLMReranker {
	return &LLMReranker{llm: llm, log: log.With("service", "LLMReranker")}
}

var rerankSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"scores": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"index": map[string]any{"type": "integer"},
					"score": map[string]any{"type": "number"},
				},
				"required":             []string{"index", "score"},
				"additionalProperties": false,
			},
		},
	},
	"required":             []string{"scores"},
	"additionalProperties": false,
}

func (r *LLMReranker) Rerank(ctx context.Context, query string, chunks []models.Chunk) ([]models.Chunk, string) {
	if r.llm == nil || len(chunks) < 2 {
		out, _ := r.fallback.Rerank(ctx, query, chunks)
		return out, "similarity"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\nPassages:\n", query)
	for i, c := range chunks {
		fmt.Fprintf(&b, "[%d] %s\n\n", i, truncateRunes(c.Content, 700))
	}
	b.WriteString("Score every passage from 0 to 1 for how directly it answers the question.")

	obj, err := r.llm.CompleteJSON(ctx, openai.CompletionRequest{
		System:      "You rank manual passages by relevance. Reply with JSON only.",
		User:        b.String(),
		MaxTokens:   400,
		Temperature: 0,
	}, "passage_scores", rerankSchema)
	if err != nil {
		r.log.Warn("llm rerank failed, using similarity order", "error", err)
		out, _ := r.fallback.Rerank(ctx, query, chunks)
		return out, "similarity-fallback"
	}

	scores := make(map[int]float64, len(chunks))
	if arr, ok := obj["scores"].([]any); ok {
		for _, item := range arr {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			idx, ok1 := m["index"].(float64)
			sc, ok2 := m["score"].(float64)
			if !ok1 || !ok2 || int(idx) < 0 || int(idx) >= len(chunks) {
				continue
			}
			scores[int(idx)] = sc
		}
	}
	if len(scores) == 0 {
		out, _ := r.fallback.Rerank(ctx, query, chunks)
		return out, "similarity-fallback"
	}

	idx := make([]int, len(chunks))
	for i := range idx {
		idx[i] = i
	}
	// Unscored passages keep their vector order behind the scored ones.
	sort.SliceStable(idx, func(a, b int) bool {
		sa, oka := scores[idx[a]]
		sb, okb := scores[idx[b]]
		if oka != okb {
			return oka
		}
		return sa > sb
	})
	out := make([]models.Chunk, len(chunks))
	for i, j := range idx {
		out[i] = chunks[j]
	}
	return out, "llm"
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
