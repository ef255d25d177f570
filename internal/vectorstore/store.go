// Package vectorstore persists document elements and their embeddings in
// PostgreSQL with pgvector, and serves cosine nearest-neighbor searches for
// the query pipeline.
//
// Write discipline: all elements of one document commit in a single
// transaction, replacing any prior elements of the same source document.
// Concurrent ingestion of different documents is safe; the query path only
// reads.
package vectorstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"

	"github.com/fagpt/fagpt/internal/element"
)

// ErrDimensionMismatch indicates an element embedding whose length does not
// match the deployment's configured vector dimension. Mismatched embedding
// models degrade relevance silently, so this is rejected loudly at write time.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// DB is the subset of pgxpool.Pool the store needs.
// Defined by the consumer so tests can substitute a fake.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Result is one search hit: the stored element plus its cosine similarity
// to the query embedding (1 = identical direction).
type Result struct {
	Element    element.Element
	Similarity float64
}

// Store manages the elements table.
// Safe for concurrent use by multiple goroutines.
type Store struct {
	db     DB
	dim    int
	logger *slog.Logger
}

// New creates a Store. dim is the pinned embedding dimension; every write is
// validated against it. A nil logger falls back to slog.Default().
func New(db DB, dim int, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, dim: dim, logger: logger}
}

// Dimension returns the pinned embedding dimension.
func (s *Store) Dimension() int { return s.dim }

// ReplaceDocument atomically replaces all elements of sourceDoc with the
// given set. Prior elements of the same document are deleted in the same
// transaction, so re-ingesting a changed file supersedes its old content
// without ever exposing a mixed state.
func (s *Store) ReplaceDocument(ctx context.Context, sourceDoc string, elements []element.Element) (err error) {
	for i := range elements {
		if len(elements[i].Embedding) != s.dim {
			return fmt.Errorf("%w: element %s has %d dimensions, store expects %d",
				ErrDimensionMismatch, elements[i].ID, len(elements[i].Embedding), s.dim)
		}
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				s.logger.Warn("rollback failed", "source_doc", sourceDoc, "error", rbErr)
			}
		}
	}()

	if _, err = tx.Exec(ctx, `DELETE FROM elements WHERE source_doc = $1`, sourceDoc); err != nil {
		return fmt.Errorf("deleting prior elements of %q: %w", sourceDoc, err)
	}

	for i := range elements {
		if err = s.insertElement(ctx, tx, &elements[i]); err != nil {
			return err
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing elements of %q: %w", sourceDoc, err)
	}

	s.logger.Debug("stored document elements", "source_doc", sourceDoc, "count", len(elements))
	return nil
}

func (s *Store) insertElement(ctx context.Context, tx pgx.Tx, e *element.Element) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}

	bboxJSON, err := json.Marshal(e.BBox)
	if err != nil {
		return fmt.Errorf("marshaling bbox for element %s: %w", e.ID, err)
	}
	analysisJSON, err := marshalStringMap(e.Analysis)
	if err != nil {
		return fmt.Errorf("marshaling analysis for element %s: %w", e.ID, err)
	}
	metadataJSON, err := marshalStringMap(e.Metadata)
	if err != nil {
		return fmt.Errorf("marshaling metadata for element %s: %w", e.ID, err)
	}

	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO elements
			(id, source_doc, element_type, content, page, bbox, image_data, analysis, metadata, embedding, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		e.ID, e.SourceDoc, string(e.Type), nullableText(e.Content), e.Page,
		bboxJSON, e.ImageData, analysisJSON, metadataJSON,
		pgvector.NewVector(e.Embedding), createdAt,
	)
	if err != nil {
		return fmt.Errorf("inserting element %s: %w", e.ID, err)
	}
	return nil
}

// Search returns the nearest elements to the query embedding by cosine
// distance, most similar first. An empty store yields an empty slice, not
// an error.
func (s *Store) Search(ctx context.Context, embedding []float32, opts ...SearchOption) ([]Result, error) {
	if len(embedding) != s.dim {
		return nil, fmt.Errorf("%w: query has %d dimensions, store expects %d",
			ErrDimensionMismatch, len(embedding), s.dim)
	}

	cfg := buildSearchConfig(opts)
	vec := pgvector.NewVector(embedding)

	var rows pgx.Rows
	var err error
	if len(cfg.types) > 0 {
		types := make([]string, len(cfg.types))
		for i, t := range cfg.types {
			types[i] = string(t)
		}
		rows, err = s.db.Query(ctx, `
			SELECT id, source_doc, element_type, content, page, bbox, image_data, analysis, metadata, created_at,
			       1 - (embedding <=> $1) AS similarity
			FROM elements
			WHERE element_type = ANY($2)
			ORDER BY embedding <=> $1
			LIMIT $3`,
			vec, types, cfg.limit)
	} else {
		rows, err = s.db.Query(ctx, `
			SELECT id, source_doc, element_type, content, page, bbox, image_data, analysis, metadata, created_at,
			       1 - (embedding <=> $1) AS similarity
			FROM elements
			ORDER BY embedding <=> $1
			LIMIT $2`,
			vec, cfg.limit)
	}
	if err != nil {
		return nil, fmt.Errorf("searching elements: %w", err)
	}
	defer rows.Close()

	results := make([]Result, 0, cfg.limit)
	for rows.Next() {
		r, scanErr := s.scanResult(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading search rows: %w", err)
	}
	return results, nil
}

func (s *Store) scanResult(rows pgx.Rows) (Result, error) {
	var (
		r            Result
		elemType     string
		content      *string
		bboxJSON     []byte
		analysisJSON []byte
		metadataJSON []byte
	)
	err := rows.Scan(&r.Element.ID, &r.Element.SourceDoc, &elemType, &content,
		&r.Element.Page, &bboxJSON, &r.Element.ImageData, &analysisJSON,
		&metadataJSON, &r.Element.CreatedAt, &r.Similarity)
	if err != nil {
		return Result{}, fmt.Errorf("scanning search row: %w", err)
	}

	r.Element.Type = element.Type(elemType)
	if content != nil {
		r.Element.Content = *content
	}
	if err := json.Unmarshal(bboxJSON, &r.Element.BBox); err != nil {
		s.logger.Warn("failed to parse bbox", "element_id", r.Element.ID, "error", err)
	}
	r.Element.Analysis = unmarshalStringMap(analysisJSON, s.logger, r.Element.ID, "analysis")
	r.Element.Metadata = unmarshalStringMap(metadataJSON, s.logger, r.Element.ID, "metadata")
	return r, nil
}

// Count returns the total number of stored elements.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.QueryRow(ctx, `SELECT count(*) FROM elements`).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting elements: %w", err)
	}
	return count, nil
}

// DeleteDocument removes all elements belonging to sourceDoc.
func (s *Store) DeleteDocument(ctx context.Context, sourceDoc string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM elements WHERE source_doc = $1`, sourceDoc)
	if err != nil {
		return fmt.Errorf("deleting elements of %q: %w", sourceDoc, err)
	}
	s.logger.Debug("deleted document elements", "source_doc", sourceDoc, "count", tag.RowsAffected())
	return nil
}

// Clear removes every stored element. Used by the explicit database-clear
// operation of the ingest CLI; nothing else deletes across documents.
func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, `TRUNCATE elements`); err != nil {
		return fmt.Errorf("clearing elements: %w", err)
	}
	s.logger.Info("cleared element store")
	return nil
}

// nullableText maps the empty string to SQL NULL so image elements do not
// store empty content.
func nullableText(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func marshalStringMap(m map[string]string) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

func unmarshalStringMap(data []byte, logger *slog.Logger, id uuid.UUID, field string) map[string]string {
	if len(data) == 0 {
		return nil
	}
	var m map[string]string
	if err := json.Unmarshal(data, &m); err != nil {
		logger.Warn("failed to parse element field", "element_id", id, "field", field, "error", err)
		return nil
	}
	if len(m) == 0 {
		return nil
	}
	return m
}
