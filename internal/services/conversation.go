package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"manualqa-backend/internal/clients/openai"
	"manualqa-backend/internal/logger"
	"manualqa-backend/internal/models"
	"manualqa-backend/internal/store"

	"github.com/google/uuid"
)

type ConversationConfig struct {
	// SummaryFrequency is how many new messages trigger a thread summary. 0 disables.
	SummaryFrequency int
	// RenameAfterMessages is the message count at which a "New Thread" gets a title.
	RenameAfterMessages int
}

// ConversationManager owns session, thread and message bookkeeping.
type ConversationManager struct {
	store store.ConversationStore
	llm   LLM
	cfg   ConversationConfig
	log   *logger.Logger
	now   func() time.Time

	wg sync.WaitGroup
}

func NewConversationManager(st store.ConversationStore, llm LLM, cfg ConversationConfig, log *logger.Logger) *ConversationManager {
	return &ConversationManager{
		store: st,
		llm:   llm,
		cfg:   cfg,
		log:   log.With("service", "ConversationManager"),
		now:   time.Now,
	}
}

// --- sessions & threads ---

func (m *ConversationManager) CreateSession(ctx context.Context, req models.CreateSessionRequest) (*models.Session, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: session name is required", ErrInvalidInput)
	}
	return m.store.CreateSession(ctx, store.CreateSessionParams{
		Name:        name,
		Description: req.Description,
		Metadata:    req.Metadata,
	})
}

func (m *ConversationManager) GetSession(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	return m.store.GetSessionByID(ctx, id)
}

func (m *ConversationManager) ListSessions(ctx context.Context, limit, offset int) ([]models.Session, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return m.store.ListSessions(ctx, limit, offset)
}

func (m *ConversationManager) CreateThread(ctx context.Context, sessionID uuid.UUID, name string) (*models.Thread, error) {
	return m.store.CreateThread(ctx, store.CreateThreadParams{SessionID: sessionID, Name: strings.TrimSpace(name)})
}

func (m *ConversationManager) GetThread(ctx context.Context, id uuid.UUID) (*models.Thread, error) {
	return m.store.GetThreadByID(ctx, id)
}

func (m *ConversationManager) ListThreads(ctx context.Context, sessionID uuid.UUID) ([]models.Thread, error) {
	if _, err := m.store.GetSessionByID(ctx, sessionID); err != nil {
		return nil, err
	}
	return m.store.ListThreadsBySession(ctx, sessionID)
}

func (m *ConversationManager) ListMessages(ctx context.Context, threadID uuid.UUID) ([]models.Message, error) {
	if _, err := m.store.GetThreadByID(ctx, threadID); err != nil {
		return nil, err
	}
	return m.store.ListMessages(ctx, threadID)
}

// RecentMessages returns the n most recent messages, oldest first.
func (m *ConversationManager) RecentMessages(ctx context.Context, threadID uuid.UUID, n int) ([]models.Message, error) {
	return m.store.ListRecentMessages(ctx, threadID, n)
}

// EnsureThread loads or creates the session and thread a turn belongs to.
// A supplied thread must belong to the supplied session.
func (m *ConversationManager) EnsureThread(ctx context.Context, sessionID, threadID *uuid.UUID, firstQuery string) (*models.Thread, error) {
	if threadID != nil {
		th, err := m.store.GetThreadByID(ctx, *threadID)
		if err != nil {
			return nil, fmt.Errorf("load thread: %w", err)
		}
		if sessionID != nil && th.SessionID != *sessionID {
			return nil, fmt.Errorf("%w: thread %s does not belong to session %s", ErrInvalidInput, th.ID, *sessionID)
		}
		return th, nil
	}

	var sid uuid.UUID
	if sessionID != nil {
		sess, err := m.store.GetSessionByID(ctx, *sessionID)
		if err != nil {
			return nil, fmt.Errorf("load session: %w", err)
		}
		sid = sess.ID
	} else {
		sess, err := m.store.CreateSession(ctx, store.CreateSessionParams{Name: sessionNameFor(firstQuery)})
		if err != nil {
			return nil, fmt.Errorf("create session: %w", err)
		}
		sid = sess.ID
		m.log.Info("session created", "session_id", sid)
	}

	th, err := m.store.CreateThread(ctx, store.CreateThreadParams{SessionID: sid})
	if err != nil {
		return nil, fmt.Errorf("create thread: %w", err)
	}
	return th, nil
}

func sessionNameFor(query string) string {
	name := strings.Join(strings.Fields(query), " ")
	if name == "" {
		return "New Session"
	}
	return truncateRunes(name, 60)
}

// --- turns ---

// Turn is one processed user message and its answer.
type Turn struct {
	Thread        *models.Thread
	Query         string
	Answer        string
	UserMeta      models.MessageMetadata
	AssistantMeta models.MessageMetadata
	// SystemsContext replaces the thread's context when non-empty.
	SystemsContext []models.SystemRef
}

// PersistTurn writes the user message, then the assistant message, then
// updates the thread. Any failure is returned.
func (m *ConversationManager) PersistTurn(ctx context.Context, t Turn) (*models.Message, *models.Message, *models.Thread, error) {
	if t.Thread == nil {
		return nil, nil, nil, fmt.Errorf("%w: thread required", ErrInvalidInput)
	}
	userAt := m.now().UTC().Truncate(time.Microsecond)
	assistantAt := m.now().UTC().Truncate(time.Microsecond)
	if !assistantAt.After(userAt) {
		assistantAt = userAt.Add(time.Microsecond)
	}

	userMsg, err := m.store.CreateMessage(ctx, store.CreateMessageParams{
		ThreadID:  t.Thread.ID,
		Role:      models.RoleUser,
		Content:   t.Query,
		Metadata:  t.UserMeta,
		CreatedAt: userAt,
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("persist user message: %w", err)
	}
	assistantMsg, err := m.store.CreateMessage(ctx, store.CreateMessageParams{
		ThreadID:  t.Thread.ID,
		Role:      models.RoleAssistant,
		Content:   t.Answer,
		Metadata:  t.AssistantMeta,
		CreatedAt: assistantAt,
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("persist assistant message: %w", err)
	}

	update := store.UpdateThreadParams{ID: t.Thread.ID}
	if len(t.SystemsContext) > 0 {
		// Background summaries may have landed since the turn started.
		meta := t.Thread.Metadata
		if fresh, err := m.store.GetThreadByID(ctx, t.Thread.ID); err == nil {
			meta = fresh.Metadata
		}
		meta.SystemsContext = t.SystemsContext
		update.Metadata = &meta
	}
	th, err := m.store.UpdateThread(ctx, update)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("update thread: %w", err)
	}
	if err := m.store.TouchSession(ctx, th.SessionID); err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, nil, nil, fmt.Errorf("touch session: %w", err)
	}
	return userMsg, assistantMsg, th, nil
}

// --- background bookkeeping ---

// ScheduleMaintenance runs summarization and renaming in the background.
// The request context's values are kept but its cancellation is not.
func (m *ConversationManager) ScheduleMaintenance(ctx context.Context, threadID uuid.UUID) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Minute)
		defer cancel()
		m.MaybeSummarize(bg, threadID)
		m.MaybeRename(bg, threadID)
	}()
}

// Wait blocks until scheduled maintenance has finished.
func (m *ConversationManager) Wait() { m.wg.Wait() }

// MaybeSummarize stores a new thread summary once SummaryFrequency messages
// have accumulated since the last one. Failures keep the previous summary.
// It reports whether a summary was written.
func (m *ConversationManager) MaybeSummarize(ctx context.Context, threadID uuid.UUID) bool {
	freq := m.cfg.SummaryFrequency
	if freq <= 0 || m.llm == nil {
		return false
	}
	count, err := m.store.CountMessages(ctx, threadID)
	if err != nil {
		m.log.Warn("summary skipped: count failed", "thread_id", threadID, "error", err)
		return false
	}
	th, err := m.store.GetThreadByID(ctx, threadID)
	if err != nil {
		m.log.Warn("summary skipped: thread load failed", "thread_id", threadID, "error", err)
		return false
	}
	if count-th.Metadata.SummarizedMessageCount < freq {
		return false
	}

	msgs, err := m.store.ListRecentMessages(ctx, threadID, count-th.Metadata.SummarizedMessageCount)
	if err != nil {
		m.log.Warn("summary skipped: messages load failed", "thread_id", threadID, "error", err)
		return false
	}
	var b strings.Builder
	if th.Metadata.Summary != "" {
		b.WriteString("Previous summary:\n" + th.Metadata.Summary + "\n\nNew messages:\n")
	}
	writeTranscript(&b, msgs)

	summary, err := m.llm.Complete(ctx, openai.CompletionRequest{
		System:      "Summarize this equipment-support conversation in under 120 words. Keep equipment names, exact values and units, and any open questions.",
		User:        b.String(),
		MaxTokens:   300,
		Temperature: 0,
	})
	summary = strings.TrimSpace(summary)
	if err != nil || summary == "" {
		m.log.Warn("thread summary failed, keeping previous", "thread_id", threadID, "error", err)
		return false
	}

	// Reload so a context written by a concurrent turn is not clobbered.
	if fresh, err := m.store.GetThreadByID(ctx, threadID); err == nil {
		th = fresh
	}
	now := m.now().UTC()
	meta := th.Metadata
	meta.Summary = summary
	meta.LastSummarizedAt = &now
	meta.SummarizedMessageCount = count
	if _, err := m.store.UpdateThread(ctx, store.UpdateThreadParams{ID: threadID, Metadata: &meta}); err != nil {
		m.log.Warn("thread summary not saved", "thread_id", threadID, "error", err)
		return false
	}
	m.log.Info("thread summarized", "thread_id", threadID, "messages", count)
	return true
}

// MaybeRename gives a thread a short title while it still has the default
// name. A failure leaves the default name in place. It reports whether the
// thread was renamed.
func (m *ConversationManager) MaybeRename(ctx context.Context, threadID uuid.UUID) bool {
	if m.llm == nil {
		return false
	}
	th, err := m.store.GetThreadByID(ctx, threadID)
	if err != nil || th.Name != models.DefaultThreadName {
		return false
	}
	msgs, err := m.store.ListRecentMessages(ctx, threadID, max(m.cfg.RenameAfterMessages, 2))
	if err != nil || len(msgs) < m.cfg.RenameAfterMessages || len(msgs) == 0 {
		return false
	}

	var b strings.Builder
	writeTranscript(&b, msgs)
	raw, err := m.llm.Complete(ctx, openai.CompletionRequest{
		System:      "Write a title of at most six words for this conversation. Reply with the title only.",
		User:        b.String(),
		MaxTokens:   20,
		Temperature: 0,
	})
	if err != nil {
		m.log.Warn("thread rename failed", "thread_id", threadID, "error", err)
		return false
	}
	title := CleanTitle(raw)
	if title == "" || title == models.DefaultThreadName {
		return false
	}
	if _, err := m.store.UpdateThread(ctx, store.UpdateThreadParams{ID: threadID, Name: &title}); err != nil {
		m.log.Warn("thread rename not saved", "thread_id", threadID, "error", err)
		return false
	}
	return true
}

// CleanTitle strips quotes and trailing punctuation and keeps at most six words.
func CleanTitle(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "Title:")
	s = strings.Trim(strings.TrimSpace(s), `"'`+"`")
	words := strings.Fields(s)
	if len(words) > 6 {
		words = words[:6]
	}
	s = strings.Join(words, " ")
	s = strings.TrimRight(s, ".!?:;,")
	return truncateRunes(s, 80)
}
