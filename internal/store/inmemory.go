package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore is a simple in-process store for local/dev use and tests.
type InMemoryStore struct {
	mu        sync.RWMutex
	sessions  map[string]Session
	messages  map[string][]Message
	documents map[string]Document
	versions  map[string]int
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		sessions:  make(map[string]Session),
		messages:  make(map[string][]Message),
		documents: make(map[string]Document),
		versions:  make(map[string]int),
	}
}

func (s *InMemoryStore) CreateSession(_ context.Context, sess Session) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now().UTC()
	}
	s.sessions[sess.ID] = sess
	return sess, nil
}

func (s *InMemoryStore) GetSession(_ context.Context, id string) (Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return Session{}, ErrNotFound
	}
	return sess, nil
}

func (s *InMemoryStore) SaveMessage(_ context.Context, m Message) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	s.messages[m.SessionID] = append(s.messages[m.SessionID], m)
	return m, nil
}

func (s *InMemoryStore) ListMessages(_ context.Context, sessionID string) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	arr := s.messages[sessionID]
	out := make([]Message, len(arr))
	copy(out, arr)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *InMemoryStore) PersistDocument(_ context.Context, draft DocumentDraft) (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := draft.ProjectID + "|" + draft.Pattern
	s.versions[key]++
	doc := Document{
		ID:            uuid.NewString(),
		ProjectID:     draft.ProjectID,
		CreatedBy:     draft.CreatedBy,
		Content:       draft.Content,
		SummaryPoints: append([]string(nil), draft.SummaryPoints...),
		Pattern:       draft.Pattern,
		Version:       s.versions[key],
		CreatedAt:     time.Now().UTC(),
	}
	if draft.FieldSources != nil {
		doc.FieldSources = make(map[string]string, len(draft.FieldSources))
		for k, v := range draft.FieldSources {
			doc.FieldSources[k] = v
		}
	}
	s.documents[doc.ID] = doc
	return doc, nil
}

func (s *InMemoryStore) GetDocument(_ context.Context, id string) (Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.documents[id]
	if !ok {
		return Document{}, ErrNotFound
	}
	return doc, nil
}

func (s *InMemoryStore) LinkSession(_ context.Context, sessionID, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	if sess.CRSDocumentID != "" {
		return nil
	}
	sess.CRSDocumentID = documentID
	s.sessions[sessionID] = sess
	return nil
}

func (s *InMemoryStore) Close() error { return nil }
