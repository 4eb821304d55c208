package services

import (
	"context"
	"errors"
	"testing"

	"manualqa-backend/internal/clients/openai"
	"manualqa-backend/internal/logger"
	"manualqa-backend/internal/models"
	"manualqa-backend/internal/store"
	"manualqa-backend/internal/store/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

var plainPressureSpec = models.Fact{
	FactType: models.FactTypeSpec,
	Key:      "operating pressure",
	Value:    "15",
	Unit:     "psi",
}

func TestProcessUserMessageFactHit(t *testing.T) {
	f := newPipeline()
	f.store.AddFacts(plainPressureSpec)
	ctx := context.Background()

	resp, err := f.svc.ProcessUserMessage(ctx, "operating pressure", ProcessOptions{})
	require.NoError(t, err)
	f.svc.Wait()

	assert.Equal(t, "operating pressure: 15 psi", resp.AssistantMessage.Content)
	assert.True(t, resp.RetrievalMeta.FactMatch)
	assert.Equal(t, models.FactTypeSpec, resp.RetrievalMeta.FactType)
	assert.Equal(t, models.RetrievalFactFirst, resp.RetrievalMeta.RetrievalMethod)
	assert.Equal(t, PipelineStandard, resp.RetrievalMeta.Pipeline)
	assert.Nil(t, resp.RetrievalMeta.Retrieval)
	assert.NotNil(t, resp.SystemsContext)
	assert.Empty(t, f.searcher.queries, "a fact hit skips vector retrieval")
	assert.Empty(t, f.llm.completionsWithSystem("Style:"), "a fact hit skips synthesis")

	msgs, err := f.conv.ListMessages(ctx, resp.ThreadID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, models.RoleUser, msgs[0].Role)
	assert.Equal(t, "operating pressure", msgs[0].Content)
	assert.Equal(t, models.RoleAssistant, msgs[1].Role)
	assert.Equal(t, resp.AssistantMessage.ID, msgs[1].ID)
	assert.True(t, msgs[1].Metadata.FactMatch)
}

func TestProcessUserMessageDegradedRetrieval(t *testing.T) {
	f := newPipeline()
	f.searcher.results = func(map[string]any) ([]models.Chunk, error) {
		return nil, errors.New("pinecone unavailable")
	}
	ctx := context.Background()

	resp, err := f.svc.ProcessUserMessage(ctx, "How do I descale the heat exchanger?", ProcessOptions{})
	require.NoError(t, err)
	f.svc.Wait()

	assert.Equal(t, models.RetrievalVectorError, resp.RetrievalMeta.RetrievalMethod)
	require.NotNil(t, resp.RetrievalMeta.Retrieval)
	assert.Equal(t, "pinecone unavailable", resp.RetrievalMeta.Retrieval.Error)
	assert.NotEmpty(t, resp.AssistantMessage.Content)

	synth := f.llm.completionsWithSystem("Style:")
	require.Len(t, synth, 1)
	assert.Contains(t, synth[0].User, "Do not guess")

	msgs, err := f.conv.ListMessages(ctx, resp.ThreadID)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
}

func TestProcessUserMessageCarriesContext(t *testing.T) {
	f := newPipeline()
	f.store.AddFacts(plainPressureSpec)
	f.store.AddSystems(acmeX1, betaPump)
	f.searcher.results = staticChunks(models.Chunk{ID: "c1", Content: "Rated pressure 30 psi.", Score: 0.8, Page: 12, DocID: "acme-x1"})
	ctx := context.Background()

	first, err := f.svc.ProcessUserMessage(ctx, "What is the operating pressure of the Acme X1 boiler?", ProcessOptions{})
	require.NoError(t, err)
	f.svc.Wait()
	require.NotEmpty(t, first.SystemsContext)
	assert.Equal(t, "sys-1", first.SystemsContext[0].ID)
	assert.Equal(t, models.RetrievalVector, first.RetrievalMeta.RetrievalMethod, "the question is longer than any fact key")

	second, err := f.svc.ProcessUserMessage(ctx, "what's its pressure rating?", ProcessOptions{
		SessionID: &first.SessionID,
		ThreadID:  &first.ThreadID,
	})
	require.NoError(t, err)
	f.svc.Wait()

	assert.Equal(t, first.ThreadID, second.ThreadID)
	require.NotEmpty(t, second.SystemsContext)
	assert.Equal(t, "sys-1", second.SystemsContext[0].ID)
	assert.Equal(t, ContextFromRecentMessage, second.RetrievalMeta.ContextSource)
	assert.Equal(t, models.RetrievalVector, second.RetrievalMeta.RetrievalMethod)
	assert.Equal(t, "what's its pressure rating? — Acme X1", second.AssistantMessage.Metadata.EnhancedQuery)
	assert.Equal(t, []models.Source{{DocID: "acme-x1", Page: 12, Score: 0.8}}, second.AssistantMessage.Metadata.Sources)

	require.Len(t, f.searcher.filters, 2)
	assert.Equal(t, map[string]any{"manufacturer": map[string]any{"$in": []string{"Acme"}}}, f.searcher.filters[1])
	assert.Equal(t, "what's its pressure rating? — Acme X1", f.searcher.queries[1])

	msgs, err := f.conv.ListMessages(ctx, first.ThreadID)
	require.NoError(t, err)
	assert.Len(t, msgs, 4)
}

func TestProcessUserMessageSwitchesToNamedEquipment(t *testing.T) {
	f := newPipeline()
	f.store.AddSystems(acmeX1, betaPump)
	f.searcher.results = staticChunks(models.Chunk{ID: "c1", Content: "Max flow 40 GPM.", Score: 0.9})
	ctx := context.Background()

	first, err := f.svc.ProcessUserMessage(ctx, "How do I descale the Acme X1 boiler?", ProcessOptions{})
	require.NoError(t, err)
	f.svc.Wait()
	require.NotEmpty(t, first.SystemsContext)
	assert.Equal(t, "sys-1", first.SystemsContext[0].ID)

	second, err := f.svc.ProcessUserMessage(ctx, "What is Beta P200 flow rate?", ProcessOptions{
		SessionID: &first.SessionID,
		ThreadID:  &first.ThreadID,
	})
	require.NoError(t, err)
	f.svc.Wait()

	require.NotEmpty(t, second.SystemsContext)
	assert.Equal(t, "sys-2", second.SystemsContext[0].ID)
	assert.Equal(t, ContextFromLookup, second.RetrievalMeta.ContextSource)
	assert.Equal(t, "What is Beta P200 flow rate?", second.AssistantMessage.Metadata.EnhancedQuery)
	require.Len(t, f.searcher.filters, 2)
	assert.Equal(t, map[string]any{"manufacturer": map[string]any{"$in": []string{"Beta"}}}, f.searcher.filters[1])
}

func TestProcessUserMessageLongQuestionsSkipShortFacts(t *testing.T) {
	f := newPipeline()
	f.store.AddFacts(
		models.Fact{FactType: models.FactTypeSpec, Key: "pressure", Value: "15", Unit: "psi"},
		models.Fact{FactType: models.FactTypeIntent, Intent: "maintenance", Value: "Service annually."},
	)
	f.searcher.results = staticChunks(models.Chunk{ID: "c1", Content: "Relief valve opens at 30 psi.", Score: 0.9})

	for _, q := range []string{
		"At what pressure does the Beta P200 relief valve open",
		"How often should I book maintenance for the Beta P200 seals",
	} {
		resp, err := f.svc.ProcessUserMessage(context.Background(), q, ProcessOptions{})
		require.NoError(t, err)
		f.svc.Wait()
		assert.False(t, resp.RetrievalMeta.FactMatch, q)
		assert.Equal(t, models.RetrievalVector, resp.RetrievalMeta.RetrievalMethod, q)
	}
}

func TestProcessUserMessageFactErrorIsAMiss(t *testing.T) {
	f := newPipeline(withFactStore(failingFactStore{Store: memory.New()}))
	f.searcher.results = staticChunks(models.Chunk{ID: "c1", Content: "Operating pressure 15 psi.", Score: 0.9})

	resp, err := f.svc.ProcessUserMessage(context.Background(), "operating pressure", ProcessOptions{})
	require.NoError(t, err)
	f.svc.Wait()

	assert.False(t, resp.RetrievalMeta.FactMatch)
	assert.Equal(t, models.RetrievalVector, resp.RetrievalMeta.RetrievalMethod)
	require.NotNil(t, resp.RetrievalMeta.Retrieval)
	assert.Equal(t, 1, resp.RetrievalMeta.Retrieval.FinalCount)
}

func TestProcessUserMessageFactErrorLogsThread(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	f := newPipeline(
		withFactStore(failingFactStore{Store: memory.New()}),
		withLogger(&logger.Logger{SugaredLogger: zap.New(core).Sugar()}),
	)
	f.searcher.results = staticChunks(models.Chunk{ID: "c1", Content: "Operating pressure 15 psi.", Score: 0.9})

	resp, err := f.svc.ProcessUserMessage(context.Background(), "operating pressure", ProcessOptions{})
	require.NoError(t, err)
	f.svc.Wait()

	entries := logs.FilterMessage("fact lookup failed, treating as miss").All()
	require.Len(t, entries, 1)
	assert.Equal(t, resp.ThreadID.String(), entries[0].ContextMap()["thread_id"])
}

func TestProcessUserMessageSummarization(t *testing.T) {
	f := newPipeline()
	f.store.AddFacts(plainPressureSpec)
	ctx := context.Background()
	f.llm.completeJS = func(req openai.CompletionRequest, schema string) (map[string]any, error) {
		if req.User == "summarize our conversation" {
			return map[string]any{"intent": "summarize", "confidence": 0.95, "reasoning": "recap"}, nil
		}
		return map[string]any{"intent": "chat", "confidence": 0.9, "reasoning": "question"}, nil
	}

	first, err := f.svc.ProcessUserMessage(ctx, "operating pressure", ProcessOptions{})
	require.NoError(t, err)
	f.svc.Wait()

	resp, err := f.svc.ProcessUserMessage(ctx, "summarize our conversation", ProcessOptions{ThreadID: &first.ThreadID})
	require.NoError(t, err)
	f.svc.Wait()

	assert.Equal(t, PipelineSummarization, resp.RetrievalMeta.Pipeline)
	assert.Equal(t, "summarize", resp.RetrievalMeta.Intent)
	assert.Equal(t, models.RetrievalSummarization, resp.RetrievalMeta.RetrievalMethod)
	assert.Equal(t, "stub answer", resp.AssistantMessage.Content)
	assert.Empty(t, f.searcher.queries)
}

func TestProcessUserMessageSummarizeEmptyThread(t *testing.T) {
	f := newPipeline()
	f.llm.completeJS = func(openai.CompletionRequest, string) (map[string]any, error) {
		return map[string]any{"intent": "summarize", "confidence": 0.95, "reasoning": "recap"}, nil
	}

	resp, err := f.svc.ProcessUserMessage(context.Background(), "summarize", ProcessOptions{})
	require.NoError(t, err)
	f.svc.Wait()

	assert.Contains(t, resp.AssistantMessage.Content, "nothing to summarize")
	assert.Empty(t, f.llm.completionsWithSystem("Style:"))
}

func TestProcessUserMessageAssetSummary(t *testing.T) {
	f := newPipeline()
	f.store.AddSystems(acmeX1)
	f.searcher.results = staticChunks(models.Chunk{ID: "c1", Content: "Maximum input 120 VAC.", Score: 0.7})
	f.llm.completeJS = func(openai.CompletionRequest, string) (map[string]any, error) {
		return map[string]any{"intent": "asset_summary", "confidence": 0.9, "reasoning": "overview"}, nil
	}

	resp, err := f.svc.ProcessUserMessage(context.Background(), "Give me an overview of the Acme X1 boiler", ProcessOptions{Style: StyleDetailed})
	require.NoError(t, err)
	f.svc.Wait()

	assert.Equal(t, models.RetrievalAssetSummary, resp.RetrievalMeta.RetrievalMethod)
	require.Len(t, f.searcher.queries, 1)
	assert.Equal(t, "Acme X1 overview specifications features", f.searcher.queries[0])
	synth := f.llm.completionsWithSystem("Style: detailed")
	require.Len(t, synth, 1)
	assert.Contains(t, synth[0].User, "Write an overview")
}

func TestProcessUserMessageAssetSummaryRetrievalError(t *testing.T) {
	f := newPipeline()
	f.store.AddSystems(acmeX1)
	f.searcher.results = func(map[string]any) ([]models.Chunk, error) {
		return nil, errors.New("pinecone unavailable")
	}
	f.llm.completeJS = func(openai.CompletionRequest, string) (map[string]any, error) {
		return map[string]any{"intent": "asset_summary", "confidence": 0.9, "reasoning": "overview"}, nil
	}

	resp, err := f.svc.ProcessUserMessage(context.Background(), "Give me an overview of the Acme X1 boiler", ProcessOptions{})
	require.NoError(t, err)
	f.svc.Wait()

	assert.Equal(t, PipelineAssetSummary, resp.RetrievalMeta.Pipeline)
	assert.Equal(t, models.RetrievalVectorError, resp.RetrievalMeta.RetrievalMethod)
	require.NotNil(t, resp.RetrievalMeta.Retrieval)
	assert.Equal(t, "pinecone unavailable", resp.RetrievalMeta.Retrieval.Error)
}

func TestProcessUserMessageAutoStyle(t *testing.T) {
	f := newPipeline()
	f.searcher.results = staticChunks(models.Chunk{ID: "c1", Content: "Max flow 40 GPM.", Score: 0.9})

	resp, err := f.svc.ProcessUserMessage(context.Background(), "what is the max flow of the Beta pump", ProcessOptions{Style: "auto"})
	require.NoError(t, err)
	f.svc.Wait()

	assert.Equal(t, StyleBrief, resp.RetrievalMeta.StyleDetected)
	assert.Equal(t, StyleBrief, resp.AssistantMessage.Metadata.Style)
	synth := f.llm.completionsWithSystem("Style: brief")
	require.Len(t, synth, 1)
	require.NotNil(t, synth[0].Seed)
}

func TestProcessUserMessageRejectsBadInput(t *testing.T) {
	f := newPipeline()
	ctx := context.Background()

	_, err := f.svc.ProcessUserMessage(ctx, "   ", ProcessOptions{})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.svc.ProcessUserMessage(ctx, "operating pressure", ProcessOptions{Style: "pirate"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	sessions, err := f.conv.ListSessions(ctx, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, sessions, "rejected requests create nothing")
}

func TestProcessUserMessageNotConfigured(t *testing.T) {
	svc := NewChatService(ChatServiceDeps{}, logger.Nop())
	_, err := svc.ProcessUserMessage(context.Background(), "operating pressure", ProcessOptions{})
	assert.ErrorIs(t, err, ErrNotConfigured)
	svc.Wait()
}

func TestProcessUserMessageSynthesisFailure(t *testing.T) {
	f := newPipeline()
	f.llm.complete = func(openai.CompletionRequest) (string, error) { return "", errors.New("model overloaded") }
	f.searcher.results = staticChunks(models.Chunk{ID: "c1", Content: "Max 15 psi.", Score: 0.9})
	ctx := context.Background()

	sess, err := f.conv.CreateSession(ctx, models.CreateSessionRequest{Name: "Acme"})
	require.NoError(t, err)
	th, err := f.conv.CreateThread(ctx, sess.ID, "")
	require.NoError(t, err)

	_, err = f.svc.ProcessUserMessage(ctx, "how does the burner ignite", ProcessOptions{SessionID: &sess.ID, ThreadID: &th.ID})
	require.Error(t, err)
	f.svc.Wait()

	msgs, err := f.conv.ListMessages(ctx, th.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs, "a failed turn records nothing")
}

// failingAssistantStore refuses to write assistant messages.
type failingAssistantStore struct {
	*memory.Store
}

func (s failingAssistantStore) CreateMessage(ctx context.Context, arg store.CreateMessageParams) (*models.Message, error) {
	if arg.Role == models.RoleAssistant {
		return nil, errors.New("disk full")
	}
	return s.Store.CreateMessage(ctx, arg)
}

func TestProcessUserMessagePersistenceFailure(t *testing.T) {
	mem := memory.New()
	f := newPipeline(withConversationStore(failingAssistantStore{Store: mem}), withFactStore(mem))
	mem.AddFacts(plainPressureSpec)

	_, err := f.svc.ProcessUserMessage(context.Background(), "operating pressure", ProcessOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	f.svc.Wait()
}

func TestProcessUserMessageThreadSessionMismatch(t *testing.T) {
	f := newPipeline()
	f.store.AddFacts(plainPressureSpec)
	ctx := context.Background()

	first, err := f.svc.ProcessUserMessage(ctx, "operating pressure", ProcessOptions{})
	require.NoError(t, err)
	other, err := f.conv.CreateSession(ctx, models.CreateSessionRequest{Name: "other"})
	require.NoError(t, err)

	_, err = f.svc.ProcessUserMessage(ctx, "operating pressure", ProcessOptions{SessionID: &other.ID, ThreadID: &first.ThreadID})
	assert.ErrorIs(t, err, ErrInvalidInput)
	f.svc.Wait()
}

func TestProcessUserMessageRenamesThread(t *testing.T) {
	f := newPipeline()
	f.store.AddFacts(plainPressureSpec)
	f.llm.complete = func(req openai.CompletionRequest) (string, error) { return "Acme X1 operating pressure", nil }
	ctx := context.Background()

	resp, err := f.svc.ProcessUserMessage(ctx, "operating pressure", ProcessOptions{})
	require.NoError(t, err)
	f.svc.Wait()

	th, err := f.conv.GetThread(ctx, resp.ThreadID)
	require.NoError(t, err)
	assert.Equal(t, "Acme X1 operating pressure", th.Name)
}
