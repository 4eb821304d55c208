package services

import (
	"context"
	"errors"
	"strings"
	"sync"

	"manualqa-backend/internal/clients/openai"
	"manualqa-backend/internal/logger"
	"manualqa-backend/internal/models"
	"manualqa-backend/internal/store"
	"manualqa-backend/internal/store/memory"
)

// fakeLLM records calls and answers from the configured funcs.
type fakeLLM struct {
	mu         sync.Mutex
	complete   func(req openai.CompletionRequest) (string, error)
	completeJS func(req openai.CompletionRequest, schemaName string) (map[string]any, error)

	completions []openai.CompletionRequest
	jsonSchemas []string
}

func (f *fakeLLM) Complete(_ context.Context, req openai.CompletionRequest) (string, error) {
	f.mu.Lock()
	f.completions = append(f.completions, req)
	fn := f.complete
	f.mu.Unlock()
	if fn == nil {
		return "stub answer", nil
	}
	return fn(req)
}

func (f *fakeLLM) CompleteJSON(_ context.Context, req openai.CompletionRequest, schemaName string, _ map[string]any) (map[string]any, error) {
	f.mu.Lock()
	f.jsonSchemas = append(f.jsonSchemas, schemaName)
	fn := f.completeJS
	f.mu.Unlock()
	if fn == nil {
		if schemaName == "intent_classification" {
			return map[string]any{"intent": "chat", "confidence": 0.9, "reasoning": "question"}, nil
		}
		return nil, errors.New("unexpected json call")
	}
	return fn(req, schemaName)
}

// completionsWithSystem returns recorded completions whose system prompt contains substr.
func (f *fakeLLM) completionsWithSystem(substr string) []openai.CompletionRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []openai.CompletionRequest
	for _, c := range f.completions {
		if strings.Contains(c.System, substr) {
			out = append(out, c)
		}
	}
	return out
}

// fakeSearcher serves canned chunks and records every call.
type fakeSearcher struct {
	mu      sync.Mutex
	results func(filter map[string]any) ([]models.Chunk, error)
	filters []map[string]any
	queries []string
	topKs   []int
}

func (f *fakeSearcher) Search(_ context.Context, query, _ string, filter map[string]any, topK int) ([]models.Chunk, error) {
	f.mu.Lock()
	f.filters = append(f.filters, filter)
	f.queries = append(f.queries, query)
	f.topKs = append(f.topKs, topK)
	fn := f.results
	f.mu.Unlock()
	if fn == nil {
		return nil, nil
	}
	return fn(filter)
}

func staticChunks(chunks ...models.Chunk) func(map[string]any) ([]models.Chunk, error) {
	return func(map[string]any) ([]models.Chunk, error) { return chunks, nil }
}

// failingFactStore wraps a store and fails every fact lookup.
type failingFactStore struct {
	store.Store
}

func (failingFactStore) FindFact(context.Context, models.FactType, models.FactField, string) (*models.Fact, error) {
	return nil, errors.New("fact index unavailable")
}

// failingSystemStore fails every systems search.
type failingSystemStore struct{}

func (failingSystemStore) SearchSystems(context.Context, string, int) ([]models.SystemRef, error) {
	return nil, errors.New("systems index unavailable")
}

// countingSystemStore counts searches against a memory store.
type countingSystemStore struct {
	*memory.Store
	mu    sync.Mutex
	calls int
}

func (c *countingSystemStore) SearchSystems(ctx context.Context, text string, limit int) ([]models.SystemRef, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return c.Store.SearchSystems(ctx, text, limit)
}

func (c *countingSystemStore) searchCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type pipelineFixture struct {
	store    *memory.Store
	llm      *fakeLLM
	searcher *fakeSearcher
	svc      *ChatService
	conv     *ConversationManager
}

type fixtureOption func(*fixtureDeps)

type fixtureDeps struct {
	factStore store.FactStore
	convStore store.ConversationStore
	log       *logger.Logger
}

func withLogger(log *logger.Logger) fixtureOption {
	return func(d *fixtureDeps) { d.log = log }
}

func withFactStore(fs store.FactStore) fixtureOption {
	return func(d *fixtureDeps) { d.factStore = fs }
}

func withConversationStore(cs store.ConversationStore) fixtureOption {
	return func(d *fixtureDeps) { d.convStore = cs }
}

func newPipeline(opts ...fixtureOption) *pipelineFixture {
	mem := memory.New()
	deps := fixtureDeps{factStore: mem, convStore: mem, log: logger.Nop()}
	for _, o := range opts {
		o(&deps)
	}
	log := deps.log
	llm := &fakeLLM{}
	searcher := &fakeSearcher{}
	conv := NewConversationManager(deps.convStore, llm, ConversationConfig{SummaryFrequency: 0, RenameAfterMessages: 2}, log)
	svc := NewChatService(ChatServiceDeps{
		Conversations: conv,
		Router:        NewQueryRouter(NewIntentClassifier(llm, log), log),
		Resolver:      NewContextResolver(mem, log),
		Facts:         NewFactMatcher(deps.factStore, log),
		Retriever:     NewVectorRetriever(searcher, SimilarityReranker{}, RetrieverConfig{TopK: 40, ScoreFloor: 0.5, MaxFinalists: 5, Namespace: "REIMAGINEDDOCS"}, log),
		Synthesizer:   NewAnswerSynthesizer(llm, DefaultStyleProfiles(), log),
		Namespace:     "REIMAGINEDDOCS",
		ContextSize:   10,
	}, log)
	return &pipelineFixture{store: mem, llm: llm, searcher: searcher, svc: svc, conv: conv}
}
