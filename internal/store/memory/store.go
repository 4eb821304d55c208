// Package memory is an in-process store.Store used for local runs and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"manualqa-backend/internal/models"
	"manualqa-backend/internal/store"

	"github.com/google/uuid"
)

var _ store.Store = (*Store)(nil)

type Store struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]models.Session
	threads  map[uuid.UUID]models.Thread
	messages map[uuid.UUID][]models.Message // by thread, in insertion order
	facts    []models.Fact
	systems  []models.SystemRef
	seq      int64
	now      func() time.Time
}

func New() *Store {
	return &Store{
		sessions: map[uuid.UUID]models.Session{},
		threads:  map[uuid.UUID]models.Thread{},
		messages: map[uuid.UUID][]models.Message{},
		now:      time.Now,
	}
}

// LoadSeed reads facts and systems from a YAML file and adds them to the store.
func (s *Store) LoadSeed(path string) error {
	seed, err := store.ReadSeed(path)
	if err != nil {
		return err
	}
	s.AddFacts(seed.Facts...)
	s.AddSystems(seed.Systems...)
	return nil
}

func (s *Store) AddFacts(facts ...models.Fact) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range facts {
		if f.ID == uuid.Nil {
			f.ID = uuid.New()
		}
		s.facts = append(s.facts, f)
	}
}

func (s *Store) AddSystems(systems ...models.SystemRef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sys := range systems {
		if sys.ID == "" {
			sys.ID = uuid.NewString()
		}
		s.systems = append(s.systems, sys)
	}
}

// --- Sessions ---

func (s *Store) CreateSession(_ context.Context, arg store.CreateSessionParams) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if arg.ID == uuid.Nil {
		arg.ID = uuid.New()
	}
	now := s.now()
	sess := models.Session{
		ID:          arg.ID,
		Name:        arg.Name,
		Description: arg.Description,
		Metadata:    arg.Metadata,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.sessions[sess.ID] = sess
	return &sess, nil
}

func (s *Store) GetSessionByID(_ context.Context, id uuid.UUID) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &sess, nil
}

func (s *Store) ListSessions(_ context.Context, limit, offset int) ([]models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]models.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		items = append(items, sess)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].UpdatedAt.After(items[j].UpdatedAt) })
	return page(items, limit, offset), nil
}

func (s *Store) TouchSession(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return store.ErrNotFound
	}
	sess.UpdatedAt = s.now()
	s.sessions[id] = sess
	return nil
}

// --- Threads ---

func (s *Store) CreateThread(_ context.Context, arg store.CreateThreadParams) (*models.Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[arg.SessionID]; !ok {
		return nil, store.ErrNotFound
	}
	if arg.ID == uuid.Nil {
		arg.ID = uuid.New()
	}
	if arg.Name == "" {
		arg.Name = models.DefaultThreadName
	}
	now := s.now()
	th := models.Thread{
		ID:        arg.ID,
		SessionID: arg.SessionID,
		Name:      arg.Name,
		Metadata:  cloneThreadMeta(arg.Metadata),
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.threads[th.ID] = th
	out := th
	out.Metadata = cloneThreadMeta(th.Metadata)
	return &out, nil
}

func (s *Store) GetThreadByID(_ context.Context, id uuid.UUID) (*models.Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	th, ok := s.threads[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	th.Metadata = cloneThreadMeta(th.Metadata)
	return &th, nil
}

func (s *Store) ListThreadsBySession(_ context.Context, sessionID uuid.UUID) ([]models.Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := []models.Thread{}
	for _, th := range s.threads {
		if th.SessionID == sessionID {
			th.Metadata = cloneThreadMeta(th.Metadata)
			items = append(items, th)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].UpdatedAt.After(items[j].UpdatedAt) })
	return items, nil
}

func (s *Store) UpdateThread(_ context.Context, arg store.UpdateThreadParams) (*models.Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	th, ok := s.threads[arg.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if arg.Name != nil {
		th.Name = *arg.Name
	}
	if arg.Metadata != nil {
		th.Metadata = cloneThreadMeta(*arg.Metadata)
	}
	th.UpdatedAt = s.now()
	s.threads[th.ID] = th
	out := th
	out.Metadata = cloneThreadMeta(th.Metadata)
	return &out, nil
}

// --- Messages ---

func (s *Store) CreateMessage(_ context.Context, arg store.CreateMessageParams) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.threads[arg.ThreadID]; !ok {
		return nil, store.ErrNotFound
	}
	if arg.ID == uuid.Nil {
		arg.ID = uuid.New()
	}
	if arg.CreatedAt.IsZero() {
		arg.CreatedAt = s.now()
	}
	s.seq++
	msg := models.Message{
		ID:        arg.ID,
		ThreadID:  arg.ThreadID,
		Role:      arg.Role,
		Content:   arg.Content,
		Metadata:  arg.Metadata,
		Seq:       s.seq,
		CreatedAt: arg.CreatedAt,
	}
	s.messages[arg.ThreadID] = append(s.messages[arg.ThreadID], msg)
	return &msg, nil
}

func (s *Store) ListRecentMessages(_ context.Context, threadID uuid.UUID, limit int) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := s.orderedLocked(threadID)
	if limit <= 0 {
		return []models.Message{}, nil
	}
	if len(items) > limit {
		items = items[len(items)-limit:]
	}
	return items, nil
}

func (s *Store) ListMessages(_ context.Context, threadID uuid.UUID) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.orderedLocked(threadID), nil
}

func (s *Store) CountMessages(_ context.Context, threadID uuid.UUID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages[threadID]), nil
}

func (s *Store) orderedLocked(threadID uuid.UUID) []models.Message {
	items := append([]models.Message(nil), s.messages[threadID]...)
	sort.SliceStable(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.Before(items[j].CreatedAt)
		}
		return items[i].Seq < items[j].Seq
	})
	if items == nil {
		items = []models.Message{}
	}
	return items
}

// --- Facts & systems ---

// FindFact mirrors the postgres lookup: the field must contain the text
// (case-insensitive). The shortest such field is the closest match; ties go
// to the higher confidence.
func (s *Store) FindFact(_ context.Context, factType models.FactType, field models.FactField, text string) (*models.Fact, error) {
	text = strings.ToLower(strings.TrimSpace(text))
	if text == "" {
		return nil, store.ErrNotFound
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *models.Fact
	for i := range s.facts {
		f := &s.facts[i]
		if f.FactType != factType {
			continue
		}
		val, err := factFieldValue(f, field)
		if err != nil {
			return nil, err
		}
		val = strings.ToLower(strings.TrimSpace(val))
		if val == "" || !strings.Contains(val, text) {
			continue
		}
		if best == nil || betterFact(f, best, field) {
			best = f
		}
	}
	if best == nil {
		return nil, store.ErrNotFound
	}
	out := *best
	return &out, nil
}

func (s *Store) SearchSystems(_ context.Context, text string, limit int) ([]models.SystemRef, error) {
	terms := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	if len(terms) == 0 || limit <= 0 {
		return []models.SystemRef{}, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := []models.SystemRef{}
	for _, sys := range s.systems {
		haystack := strings.Fields(strings.ToLower(strings.Join([]string{sys.Manufacturer, sys.Model, sys.System, sys.Subsystem}, " ")))
		hits := 0
		for _, t := range terms {
			if len(t) < 2 {
				continue
			}
			for _, h := range haystack {
				if h == t {
					hits++
					break
				}
			}
		}
		if hits == 0 {
			continue
		}
		sys.Rank = float64(hits) / float64(len(haystack))
		items = append(items, sys)
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].Rank > items[j].Rank })
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func factFieldValue(f *models.Fact, field models.FactField) (string, error) {
	switch field {
	case models.FactFieldKey:
		return f.Key, nil
	case models.FactFieldIntent:
		return f.Intent, nil
	case models.FactFieldQuery:
		return f.Query, nil
	}
	return "", fmt.Errorf("unsupported fact field %q", field)
}

func betterFact(a, b *models.Fact, field models.FactField) bool {
	av, _ := factFieldValue(a, field)
	bv, _ := factFieldValue(b, field)
	if len(av) != len(bv) {
		return len(av) < len(bv)
	}
	return confidence(a) > confidence(b)
}

func confidence(f *models.Fact) float64 {
	if f.Confidence == nil {
		return -1
	}
	return *f.Confidence
}

func cloneThreadMeta(m models.ThreadMetadata) models.ThreadMetadata {
	m.SystemsContext = append([]models.SystemRef(nil), m.SystemsContext...)
	if m.LastSummarizedAt != nil {
		t := *m.LastSummarizedAt
		m.LastSummarizedAt = &t
	}
	return m
}

func page[T any](items []T, limit, offset int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
