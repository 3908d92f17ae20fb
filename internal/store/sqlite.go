package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore backs single-node deployments that want persistence without a
// Postgres server. Same contract as PostgresStore, minus the embedding
// column (SQLite has no vector type; the request flag is still recorded).
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// modernc.org/sqlite serializes writes itself; one connection avoids
	// SQLITE_BUSY under concurrent generations.
	db.SetMaxOpenConns(1)

	if err := initSQLiteSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func initSQLiteSchema(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS chat_sessions (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			crs_pattern TEXT NOT NULL,
			crs_document_id TEXT,
			created_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS chat_messages (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			sender TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_chat_messages_session_created ON chat_messages (session_id, created_at);`,
		`CREATE TABLE IF NOT EXISTS crs_documents (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			created_by TEXT NOT NULL,
			content TEXT NOT NULL,
			summary_points TEXT NOT NULL DEFAULT '[]',
			pattern TEXT NOT NULL,
			field_sources TEXT,
			version INTEGER NOT NULL,
			embedding_requested INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		);`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init sqlite schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *SQLiteStore) CreateSession(ctx context.Context, sess Session) (Session, error) {
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_sessions (id, project_id, user_id, crs_pattern, created_at) VALUES (?, ?, ?, ?, ?)`,
		sess.ID, sess.ProjectID, sess.UserID, sess.Pattern, sess.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return Session{}, fmt.Errorf("create session: %w", err)
	}
	return sess, nil
}

func (s *SQLiteStore) GetSession(ctx context.Context, id string) (Session, error) {
	var (
		sess    Session
		docID   sql.NullString
		created string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, project_id, user_id, crs_pattern, crs_document_id, created_at FROM chat_sessions WHERE id=?`, id,
	).Scan(&sess.ID, &sess.ProjectID, &sess.UserID, &sess.Pattern, &docID, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("get session: %w", err)
	}
	sess.CRSDocumentID = docID.String
	sess.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	return sess, nil
}

func (s *SQLiteStore) SaveMessage(ctx context.Context, m Message) (Message, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_messages (id, session_id, sender, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		m.ID, m.SessionID, string(m.Sender), m.Content, m.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return Message{}, fmt.Errorf("save message: %w", err)
	}
	return m, nil
}

func (s *SQLiteStore) ListMessages(ctx context.Context, sessionID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, sender, content, created_at FROM chat_messages WHERE session_id=? ORDER BY created_at ASC`, sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var items []Message
	for rows.Next() {
		var (
			m       Message
			sender  string
			created string
		)
		if err := rows.Scan(&m.ID, &m.SessionID, &sender, &m.Content, &created); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		m.Sender = Sender(sender)
		m.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		items = append(items, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message rows: %w", err)
	}
	return items, nil
}

func (s *SQLiteStore) PersistDocument(ctx context.Context, draft DocumentDraft) (Document, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Document{}, fmt.Errorf("begin persist: %w", err)
	}
	defer tx.Rollback()

	var version int
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) + 1 FROM crs_documents WHERE project_id=? AND pattern=?`,
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

	_, err = tx.ExecContext(ctx,
		`INSERT INTO crs_documents (id, project_id, created_by, content, summary_points, pattern, field_sources, version, embedding_requested, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.ProjectID, doc.CreatedBy, doc.Content, string(summary), doc.Pattern, nullableString(sources), doc.Version, boolToInt(draft.StoreEmbedding), doc.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return Document{}, fmt.Errorf("insert document: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Document{}, fmt.Errorf("commit persist: %w", err)
	}
	return doc, nil
}

func (s *SQLiteStore) GetDocument(ctx context.Context, id string) (Document, error) {
	var (
		doc     Document
		summary string
		sources sql.NullString
		created string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, project_id, created_by, content, summary_points, pattern, field_sources, version, created_at
		 FROM crs_documents WHERE id=?`, id,
	).Scan(&doc.ID, &doc.ProjectID, &doc.CreatedBy, &doc.Content, &summary, &doc.Pattern, &sources, &doc.Version, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("get document: %w", err)
	}
	if summary != "" {
		if err := json.Unmarshal([]byte(summary), &doc.SummaryPoints); err != nil {
			return Document{}, fmt.Errorf("decode summary points: %w", err)
		}
	}
	if sources.Valid && sources.String != "" {
		if err := json.Unmarshal([]byte(sources.String), &doc.FieldSources); err != nil {
			return Document{}, fmt.Errorf("decode field sources: %w", err)
		}
	}
	doc.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	return doc, nil
}

func (s *SQLiteStore) LinkSession(ctx context.Context, sessionID, documentID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE chat_sessions SET crs_document_id=? WHERE id=? AND crs_document_id IS NULL`,
		documentID, sessionID,
	)
	if err != nil {
		return fmt.Errorf("link session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var exists int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM chat_sessions WHERE id=?`, sessionID).Scan(&exists); err != nil {
			return fmt.Errorf("link session check: %w", err)
		}
		if exists == 0 {
			return ErrNotFound
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func nullableString(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
