package services

import (
	"context"
	"fmt"
	"strings"

	"manualqa-backend/internal/logger"
	"manualqa-backend/internal/models"
	"manualqa-backend/internal/observability"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

// ProcessOptions are the caller-supplied options for one chat turn.
type ProcessOptions struct {
	SessionID   *uuid.UUID
	ThreadID    *uuid.UUID
	ContextSize int
	Style       string
}

// ChatService composes the pipeline stages into one request/response cycle.
type ChatService struct {
	conversations *ConversationManager
	router        *QueryRouter
	resolver      *ContextResolver
	facts         *FactMatcher
	retriever     *VectorRetriever
	synthesizer   *AnswerSynthesizer
	namespace     string
	contextSize   int
	log           *logger.Logger
}

type ChatServiceDeps struct {
	Conversations *ConversationManager
	Router        *QueryRouter
	Resolver      *ContextResolver
	Facts         *FactMatcher
	Retriever     *VectorRetriever
	Synthesizer   *AnswerSynthesizer
	Namespace     string
	ContextSize   int
}

// NewChatService creates a new ChatService.
func NewChatService(deps ChatServiceDeps, log *logger.Logger) *ChatService {
	if deps.ContextSize <= 0 {
		deps.ContextSize = 10
	}
	return &ChatService{
		conversations: deps.Conversations,
		router:        deps.Router,
		resolver:      deps.Resolver,
		facts:         deps.Facts,
		retriever:     deps.Retriever,
		synthesizer:   deps.Synthesizer,
		namespace:     deps.Namespace,
		contextSize:   deps.ContextSize,
		log:           log.With("service", "ChatService"),
	}
}

func (s *ChatService) configured() error {
	var missing []string
	if s.conversations == nil {
		missing = append(missing, "conversation store")
	}
	if s.router == nil {
		missing = append(missing, "router")
	}
	if s.resolver == nil {
		missing = append(missing, "context resolver")
	}
	if s.facts == nil {
		missing = append(missing, "fact matcher")
	}
	if s.retriever == nil {
		missing = append(missing, "vector retriever")
	}
	if s.synthesizer == nil || s.synthesizer.llm == nil {
		missing = append(missing, "llm")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrNotConfigured, strings.Join(missing, ", "))
	}
	return nil
}

// turnState carries what the pipeline stages produced for one turn.
type turnState struct {
	enhancedQuery string
	systems       []models.SystemRef
	content       string
	sources       []models.Source
	meta          models.TurnMeta
	log           *logger.Logger
}

// ProcessUserMessage answers one user query and records the turn.
//
// Classification, context, fact and retrieval problems degrade the answer
// but never fail the request. Configuration, synthesis and persistence
// errors are returned.
func (s *ChatService) ProcessUserMessage(ctx context.Context, query string, opts ProcessOptions) (*models.ChatResponse, error) {
	if err := s.configured(); err != nil {
		return nil, err
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: query is required", ErrInvalidInput)
	}
	style, detected, err := s.synthesizer.Profiles().ResolveStyle(opts.Style, query)
	if err != nil {
		return nil, err
	}
	contextSize := opts.ContextSize
	if contextSize <= 0 {
		contextSize = s.contextSize
	}

	ctx, span := observability.StartSpan(ctx, "chat.process_user_message")
	defer span.End()

	thread, err := s.conversations.EnsureThread(ctx, opts.SessionID, opts.ThreadID, query)
	if err != nil {
		return nil, err
	}
	log := s.log.With("thread_id", thread.ID)

	var (
		route  Route
		recent []models.Message
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sctx, sp := observability.StartSpan(gctx, "chat.route")
		route = s.router.Route(sctx, query)
		sp.SetAttributes(attribute.String("pipeline", route.Pipeline), attribute.String("intent", route.Intent.String()))
		sp.End()
		return nil
	})
	g.Go(func() error {
		msgs, err := s.conversations.RecentMessages(gctx, thread.ID, contextSize)
		if err != nil {
			return fmt.Errorf("load recent messages: %w", err)
		}
		recent = msgs
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	st := turnState{
		enhancedQuery: query,
		log:           log,
		meta: models.TurnMeta{
			Intent:        route.Intent.String(),
			Pipeline:      route.Pipeline,
			StyleDetected: detected,
		},
	}

	switch route.Pipeline {
	case PipelineSummarization:
		err = s.runSummarization(ctx, thread, recent, style, &st)
	case PipelineAssetSummary:
		err = s.runAssetSummary(ctx, query, thread, recent, style, &st)
	default:
		err = s.runStandard(ctx, query, thread, recent, style, &st)
	}
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	pctx, pspan := observability.StartSpan(ctx, "chat.persist")
	assistantMeta := models.MessageMetadata{
		EnhancedQuery:   st.enhancedQuery,
		SystemsContext:  st.systems,
		FactMatch:       st.meta.FactMatch,
		FactType:        st.meta.FactType,
		RetrievalMethod: st.meta.RetrievalMethod,
		Sources:         st.sources,
		Style:           style,
		Intent:          st.meta.Intent,
	}
	userMsg, assistantMsg, thread, err := s.conversations.PersistTurn(pctx, Turn{
		Thread: thread,
		Query:  query,
		Answer: st.content,
		UserMeta: models.MessageMetadata{
			EnhancedQuery:  st.enhancedQuery,
			SystemsContext: st.systems,
			Intent:         st.meta.Intent,
		},
		AssistantMeta:  assistantMeta,
		SystemsContext: st.systems,
	})
	observability.EndSpan(pspan, err)
	if err != nil {
		return nil, err
	}

	s.conversations.ScheduleMaintenance(ctx, thread.ID)

	log.Info("turn processed",
		"pipeline", st.meta.Pipeline,
		"retrieval_method", st.meta.RetrievalMethod,
		"fact_match", st.meta.FactMatch,
		"systems", len(st.systems),
	)

	systems := st.systems
	if systems == nil {
		systems = []models.SystemRef{}
	}
	return &models.ChatResponse{
		SessionID:        thread.SessionID,
		ThreadID:         thread.ID,
		UserMessage:      *userMsg,
		AssistantMessage: *assistantMsg,
		SystemsContext:   systems,
		RetrievalMeta:    st.meta,
	}, nil
}

// runStandard is fact-first lookup with vector retrieval as the fallback.
func (s *ChatService) runStandard(ctx context.Context, query string, thread *models.Thread, recent []models.Message, style string, st *turnState) error {
	rctx, rspan := observability.StartSpan(ctx, "chat.resolve_context")
	resolved := s.resolver.Resolve(rctx, query, thread.Metadata, recent)
	rspan.SetAttributes(attribute.String("source", resolved.Source), attribute.Bool("rewritten", resolved.Rewritten))
	rspan.End()

	st.enhancedQuery = resolved.EffectiveQuery
	st.systems = resolved.SystemsContext
	st.meta.ContextSource = resolved.Source

	fctx, fspan := observability.StartSpan(ctx, "chat.fact_match")
	fact, err := s.facts.FindMatch(fctx, resolved.EffectiveQuery)
	observability.EndSpan(fspan, err)
	if err != nil {
		st.log.Warn("fact lookup failed, treating as miss", "error", err)
		fact = nil
	}
	if fact != nil {
		st.content = FormatFactAnswer(*fact)
		st.meta.FactMatch = true
		st.meta.FactType = fact.FactType
		st.meta.RetrievalMethod = models.RetrievalFactFirst
		if fact.DocID != "" || fact.Page != nil {
			src := models.Source{DocID: fact.DocID}
			if fact.Page != nil {
				src.Page = *fact.Page
			}
			st.sources = []models.Source{src}
		}
		return nil
	}

	vctx, vspan := observability.StartSpan(ctx, "chat.retrieve")
	res := s.retriever.Retrieve(vctx, resolved.EffectiveQuery, s.namespace, resolved.SystemsContext)
	vspan.SetAttributes(attribute.Int("raw", res.Meta.RawCount), attribute.Int("final", res.Meta.FinalCount))
	vspan.End()

	stats := res.Meta
	st.meta.Retrieval = &stats
	st.meta.RetrievalMethod = models.RetrievalVector
	if res.Meta.Error != "" {
		st.meta.RetrievalMethod = models.RetrievalVectorError
	}

	return s.synthesize(ctx, SynthesisInput{
		Query:          query,
		EnhancedQuery:  resolved.EffectiveQuery,
		SystemsContext: resolved.SystemsContext,
		Chunks:         res.Finalists,
		RetrievalError: res.Meta.Error,
		RecentMessages: recent,
		Style:          style,
		Task:           TaskAnswer,
	}, st)
}

// runAssetSummary builds an overview of the equipment the query names.
func (s *ChatService) runAssetSummary(ctx context.Context, query string, thread *models.Thread, recent []models.Message, style string, st *turnState) error {
	resolved := s.resolver.Resolve(ctx, query, thread.Metadata, recent)
	st.enhancedQuery = resolved.EffectiveQuery
	st.systems = resolved.SystemsContext
	st.meta.ContextSource = resolved.Source
	st.meta.RetrievalMethod = models.RetrievalAssetSummary

	searchText := resolved.EffectiveQuery
	if len(resolved.SystemsContext) > 0 {
		searchText = resolved.SystemsContext[0].Label() + " overview specifications features"
	}
	vctx, vspan := observability.StartSpan(ctx, "chat.retrieve")
	res := s.retriever.Retrieve(vctx, searchText, s.namespace, resolved.SystemsContext)
	vspan.End()
	stats := res.Meta
	st.meta.Retrieval = &stats
	if res.Meta.Error != "" {
		st.meta.RetrievalMethod = models.RetrievalVectorError
	}

	return s.synthesize(ctx, SynthesisInput{
		Query:          query,
		EnhancedQuery:  resolved.EffectiveQuery,
		SystemsContext: resolved.SystemsContext,
		Chunks:         res.Finalists,
		RetrievalError: res.Meta.Error,
		RecentMessages: recent,
		Style:          style,
		Task:           TaskAssetOverview,
	}, st)
}

// runSummarization recaps the thread. The systems context is carried over unchanged.
func (s *ChatService) runSummarization(ctx context.Context, thread *models.Thread, recent []models.Message, style string, st *turnState) error {
	st.systems = thread.Metadata.SystemsContext
	st.meta.RetrievalMethod = models.RetrievalSummarization
	if len(recent) == 0 {
		st.content = "There is nothing to summarize in this thread yet. Ask a question about your equipment to get started."
		return nil
	}
	sctx, span := observability.StartSpan(ctx, "chat.synthesize")
	text, err := s.synthesizer.SummarizeConversation(sctx, recent, thread.Metadata.Summary, style)
	observability.EndSpan(span, err)
	if err != nil {
		return err
	}
	st.content = text
	return nil
}

func (s *ChatService) synthesize(ctx context.Context, in SynthesisInput, st *turnState) error {
	sctx, span := observability.StartSpan(ctx, "chat.synthesize")
	out, err := s.synthesizer.Synthesize(sctx, in)
	observability.EndSpan(span, err)
	if err != nil {
		return err
	}
	st.content = out.Content
	st.sources = out.Sources
	return nil
}

// Wait blocks until background thread maintenance has finished.
func (s *ChatService) Wait() {
	if s.conversations != nil {
		s.conversations.Wait()
	}
}
