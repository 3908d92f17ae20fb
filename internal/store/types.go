package store

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("record not found")

type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
)

// Session is one chat conversation; the unit of generation exclusivity.
type Session struct {
	ID            string    `json:"session_id"`
	ProjectID     string    `json:"project_id"`
	UserID        string    `json:"user_id"`
	Pattern       string    `json:"crs_pattern"`
	CRSDocumentID string    `json:"crs_document_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// Message is a single conversational turn within a session.
type Message struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Sender    Sender    `json:"sender"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// DocumentDraft is the input to document persistence. Every persist creates
// a new version; drafts are never updated in place.
type DocumentDraft struct {
	ProjectID      string            `json:"project_id"`
	CreatedBy      string            `json:"created_by"`
	Content        string            `json:"content"`
	SummaryPoints  []string          `json:"summary_points"`
	Pattern        string            `json:"pattern"`
	FieldSources   map[string]string `json:"field_sources,omitempty"`
	StoreEmbedding bool              `json:"store_embedding"`
}

// Document is a persisted CRS document version.
type Document struct {
	ID            string            `json:"id"`
	ProjectID     string            `json:"project_id"`
	CreatedBy     string            `json:"created_by"`
	Content       string            `json:"content"`
	SummaryPoints []string          `json:"summary_points"`
	Pattern       string            `json:"pattern"`
	FieldSources  map[string]string `json:"field_sources,omitempty"`
	Version       int               `json:"version"`
	CreatedAt     time.Time         `json:"created_at"`
}

// Store persists sessions, chat messages and CRS documents.
//
// LinkSession is first-wins: once a session points at a document, later
// links are silent no-ops. Regeneration still creates new document versions;
// the session keeps its original linkage.
type Store interface {
	CreateSession(ctx context.Context, s Session) (Session, error)
	GetSession(ctx context.Context, id string) (Session, error)

	SaveMessage(ctx context.Context, m Message) (Message, error)
	ListMessages(ctx context.Context, sessionID string) ([]Message, error)

	PersistDocument(ctx context.Context, draft DocumentDraft) (Document, error)
	GetDocument(ctx context.Context, id string) (Document, error)
	LinkSession(ctx context.Context, sessionID, documentID string) error

	Close() error
}
