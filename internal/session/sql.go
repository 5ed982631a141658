package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"lexbrief/internal/models"
)

// SQLStore keeps sessions in the documents and turns tables.
type SQLStore struct {
	db  *sql.DB
	ttl time.Duration
	// mu serialises appends from this process; the (doc_id, seq) unique key
	// catches writers in other processes.
	mu sync.Mutex
}

// noExpiry stands in for a zero ExpiresAt so the expires_at filters keep the row.
var noExpiry = time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC)

func expiryColumn(t time.Time) time.Time {
	if t.IsZero() {
		return noExpiry
	}
	return t.UTC()
}

func NewSQLStore(db *sql.DB, ttl time.Duration) *SQLStore {
	return &SQLStore{db: db, ttl: ttl}
}

func (s *SQLStore) Create(ctx context.Context, doc *models.DocumentSession) error {
	if err := prepare(doc, s.ttl); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO documents (id, file_name, stored_path, text, task, summary, language, translated_summary, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.FileName, doc.StoredPath, doc.Text, doc.Task, doc.Summary,
		doc.Language, doc.TranslatedSummary, doc.CreatedAt.UTC(), expiryColumn(doc.ExpiresAt))
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	for i, t := range doc.Transcript {
		if err := insertTurn(ctx, tx, doc.ID, i+1, t); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLStore) Get(ctx context.Context, id string) (*models.DocumentSession, error) {
	var doc models.DocumentSession
	err := s.db.QueryRowContext(ctx, `
		SELECT id, file_name, stored_path, text, task, summary, language, translated_summary, created_at, expires_at
		FROM documents WHERE id = ? AND expires_at > ?`, id, time.Now().UTC()).
		Scan(&doc.ID, &doc.FileName, &doc.StoredPath, &doc.Text, &doc.Task, &doc.Summary,
			&doc.Language, &doc.TranslatedSummary, &doc.CreatedAt, &doc.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load document: %w", err)
	}
	if !doc.ExpiresAt.Before(noExpiry) {
		doc.ExpiresAt = time.Time{}
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT question, answer, created_at FROM turns WHERE doc_id = ? ORDER BY seq ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("load turns: %w", err)
	}
	defer rows.Close()
	doc.Transcript = []models.Turn{}
	for rows.Next() {
		var t models.Turn
		if err := rows.Scan(&t.Question, &t.Answer, &t.CreatedAt); err != nil {
			return nil, err
		}
		doc.Transcript = append(doc.Transcript, t)
	}
	return &doc, rows.Err()
}

func (s *SQLStore) AppendTurn(ctx context.Context, id string, turn models.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM documents WHERE id = ? AND expires_at > ?`, id, time.Now().UTC()).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	var next int
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) + 1 FROM turns WHERE doc_id = ?`, id).Scan(&next); err != nil {
		return err
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}
	if err := insertTurn(ctx, tx, id, next, turn); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLStore) Delete(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM turns WHERE doc_id = ?`, id); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

// PurgeExpired deletes sessions whose expires_at is at or before now.
func (s *SQLStore) PurgeExpired(ctx context.Context, now time.Time) ([]*models.DocumentSession, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, file_name, stored_path FROM documents WHERE expires_at <= ?`, now.UTC())
	if err != nil {
		return nil, err
	}
	var expired []*models.DocumentSession
	for rows.Next() {
		doc := &models.DocumentSession{}
		if err := rows.Scan(&doc.ID, &doc.FileName, &doc.StoredPath); err != nil {
			rows.Close()
			return nil, err
		}
		expired = append(expired, doc)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	purged := expired[:0]
	for _, doc := range expired {
		if err := s.Delete(ctx, doc.ID); err != nil && !errors.Is(err, ErrNotFound) {
			return purged, fmt.Errorf("purge %s: %w", doc.ID, err)
		}
		purged = append(purged, doc)
	}
	return purged, nil
}

func (s *SQLStore) Close() error { return s.db.Close() }

func insertTurn(ctx context.Context, tx *sql.Tx, docID string, seq int, t models.Turn) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO turns (doc_id, seq, question, answer, created_at) VALUES (?, ?, ?, ?, ?)`,
		docID, seq, t.Question, t.Answer, t.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert turn: %w", err)
	}
	return nil
}
