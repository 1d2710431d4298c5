// ABOUTME: Document rows record the per-file outcome of import runs.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DocumentStatus enumerates the per-file outcomes a run can record.
type DocumentStatus string

const (
	StatusImported DocumentStatus = "imported"
	StatusFailed   DocumentStatus = "failed"
	StatusSkipped  DocumentStatus = "skipped"
)

// Document describes one file handled during a run.
type Document struct {
	RunID     string
	RelPath   string
	SHA256    string
	SizeBytes int64
	Status    DocumentStatus
	Error     string
	CreatedAt time.Time
}

// RecordDocument inserts a document outcome row.
func (s *Store) RecordDocument(ctx context.Context, doc Document) error {
	if s == nil || s.DB == nil {
		return errors.New("ledger store is nil")
	}
	if doc.RunID == "" {
		return errors.New("document run_id is required")
	}
	if doc.RelPath == "" {
		return errors.New("document rel_path is required")
	}
	if doc.Status == "" {
		return errors.New("document status is required")
	}
	createdAt := doc.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.DB.ExecContext(ctx, `INSERT INTO documents (
		run_id, rel_path, sha256, size_bytes, status, error, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		doc.RunID,
		doc.RelPath,
		doc.SHA256,
		doc.SizeBytes,
		string(doc.Status),
		nullIfEmpty(doc.Error),
		formatTime(createdAt),
	)
	if err != nil {
		return fmt.Errorf("insert document %s: %w", doc.RelPath, err)
	}
	return nil
}

// HasImported reports whether a file with this path and content hash was
// already imported successfully by any previous run.
func (s *Store) HasImported(ctx context.Context, relPath, sha256 string) (bool, error) {
	if s == nil || s.DB == nil {
		return false, errors.New("ledger store is nil")
	}
	row := s.DB.QueryRowContext(ctx, `SELECT COUNT(1) FROM documents
		WHERE rel_path = ? AND sha256 = ? AND status = ?`,
		relPath, sha256, string(StatusImported))
	var count int
	if err := row.Scan(&count); err != nil {
		return false, fmt.Errorf("query document %s: %w", relPath, err)
	}
	return count > 0, nil
}

// DocumentsForRun lists the document rows recorded by one run in insertion
// order.
func (s *Store) DocumentsForRun(ctx context.Context, runID string) ([]Document, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("ledger store is nil")
	}
	rows, err := s.DB.QueryContext(ctx, `SELECT run_id, rel_path, sha256, size_bytes, status, COALESCE(error, ''), created_at
		FROM documents WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("list documents for run %s: %w", runID, err)
	}
	defer rows.Close()
	var docs []Document
	for rows.Next() {
		var (
			doc       Document
			status    string
			createdAt string
		)
		if err := rows.Scan(&doc.RunID, &doc.RelPath, &doc.SHA256, &doc.SizeBytes, &status, &doc.Error, &createdAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		doc.Status = DocumentStatus(status)
		if doc.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return docs, nil
}
