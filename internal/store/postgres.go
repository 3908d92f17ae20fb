package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists sessions, messages and CRS documents in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector;`,
		`CREATE TABLE IF NOT EXISTS chat_sessions (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			crs_pattern TEXT NOT NULL,
			crs_document_id TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE TABLE IF NOT EXISTS chat_messages (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			sender TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_chat_messages_session_created ON chat_messages (session_id, created_at);`,
		`CREATE TABLE IF NOT EXISTS crs_documents (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			created_by TEXT NOT NULL,
			content TEXT NOT NULL,
			summary_points JSONB NOT NULL DEFAULT '[]',
			pattern TEXT NOT NULL,
			field_sources JSONB,
			version INTEGER NOT NULL,
			embedding vector(1536),
			embedding_requested BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_crs_documents_project_pattern ON crs_documents (project_id, pattern, version);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) CreateSession(ctx context.Context, sess Session) (Session, error) {
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO chat_sessions (id, project_id, user_id, crs_pattern, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		sess.ID, sess.ProjectID, sess.UserID, sess.Pattern, sess.CreatedAt,
	)
	if err != nil {
		return Session{}, fmt.Errorf("create session: %w", err)
	}
	return sess, nil
}

func (s *PostgresStore) GetSession(ctx context.Context, id string) (Session, error) {
	var (
		sess  Session
		docID *string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, project_id, user_id, crs_pattern, crs_document_id, created_at
		 FROM chat_sessions WHERE id=$1`, id,
	).Scan(&sess.ID, &sess.ProjectID, &sess.UserID, &sess.Pattern, &docID, &sess.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("get session: %w", err)
	}
	if docID != nil {
		sess.CRSDocumentID = *docID
	}
	return sess, nil
}

func (s *PostgresStore) SaveMessage(ctx context.Context, m Message) (Message, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO chat_messages (id, session_id, sender, content, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		m.ID, m.SessionID, string(m.Sender), m.Content, m.CreatedAt,
	)
	if err != nil {
		return Message{}, fmt.Errorf("save message: %w", err)
	}
	return m, nil
}

func (s *PostgresStore) ListMessages(ctx context.Context, sessionID string) ([]Message, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, session_id, sender, content, created_at
		 FROM chat_messages WHERE session_id=$1 ORDER BY created_at ASC`, sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var items []Message
	for rows.Next() {
		var (
			m      Message
			sender string
		)
		if err := rows.Scan(&m.ID, &m.SessionID, &sender, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		m.Sender = Sender(sender)
		items = append(items, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message rows: %w", err)
	}
	return items, nil
}

// PersistDocument inserts a new document version inside one transaction so a
// failed attempt leaves nothing visible to concurrent readers.
func (s *PostgresStore) PersistDocument(ctx context.Context, draft DocumentDraft) (Document, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Document{}, fmt.Errorf("begin persist: %w", err)
	}
	defer tx.Rollback(ctx)

	var version int
	err = tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(version), 0) + 1 FROM crs_documents WHERE project_id=$1 AND pattern=$2`,
		draft.ProjectID, draft.Pattern,
	).Scan(&version)
	if err != nil {
		return Document{}, fmt.Errorf("next document version: %w", err)
	}

	summary, err := json.Marshal(draft.SummaryPoints)
	if err != nil {
		return Document{}, fmt.Errorf("marshal summary points: %w", err)
	}
	var sources []byte
	if draft.FieldSources != nil {
		sources, err = json.Marshal(draft.FieldSources)
		if err != nil {
			return Document{}, fmt.Errorf("marshal field sources: %w", err)
		}
	}

	doc := Document{
		ID:            uuid.NewString(),
		ProjectID:     draft.ProjectID,
		CreatedBy:     draft.CreatedBy,
		Content:       draft.Content,
		SummaryPoints: draft.SummaryPoints,
		Pattern:       draft.Pattern,
		FieldSources:  draft.FieldSources,
		Version:       version,
		CreatedAt:     time.Now().UTC(),
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO crs_documents (id, project_id, created_by, content, summary_points, pattern, field_sources, version, embedding_requested, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		doc.ID, doc.ProjectID, doc.CreatedBy, doc.Content, summary, doc.Pattern, sources, doc.Version, draft.StoreEmbedding, doc.CreatedAt,
	)
	if err != nil {
		return Document{}, fmt.Errorf("insert document: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Document{}, fmt.Errorf("commit persist: %w", err)
	}
	return doc, nil
}

func (s *PostgresStore) GetDocument(ctx context.Context, id string) (Document, error) {
	var (
		doc     Document
		summary []byte
		sources []byte
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, project_id, created_by, content, summary_points, pattern, field_sources, version, created_at
		 FROM crs_documents WHERE id=$1`, id,
	).Scan(&doc.ID, &doc.ProjectID, &doc.CreatedBy, &doc.Content, &summary, &doc.Pattern, &sources, &doc.Version, &doc.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("get document: %w", err)
	}
	if len(summary) > 0 {
		if err := json.Unmarshal(summary, &doc.SummaryPoints); err != nil {
			return Document{}, fmt.Errorf("decode summary points: %w", err)
		}
	}
	if len(sources) > 0 {
		if err := json.Unmarshal(sources, &doc.FieldSources); err != nil {
			return Document{}, fmt.Errorf("decode field sources: %w", err)
		}
	}
	return doc, nil
}

func (s *PostgresStore) LinkSession(ctx context.Context, sessionID, documentID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE chat_sessions SET crs_document_id=$2 WHERE id=$1 AND crs_document_id IS NULL`,
		sessionID, documentID,
	)
	if err != nil {
		return fmt.Errorf("link session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Either the session does not exist or it is already linked; the
		// first-wins policy keeps the latter silent.
		var exists bool
		if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM chat_sessions WHERE id=$1)`, sessionID).Scan(&exists); err != nil {
			return fmt.Errorf("link session check: %w", err)
		}
		if !exists {
			return ErrNotFound
		}
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
