// Package chunkstore persists document chunks and their embeddings in
// Postgres with pgvector, and serves cosine-distance similarity search
// over them.
package chunkstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/docfoundry/docfoundry/pkg/models"
)

// ErrDimensionMismatch rejects writes or searches whose vectors do not
// match the store's configured dimension.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// Pair identifies a provider instance.
type Pair struct {
	ProviderType string
	ProviderName string
}

// DocumentRef carries the identity and tracking attributes of one
// document within a provider.
type DocumentRef struct {
	Pair
	DocumentID   string
	Filename     string
	ETag         string
	LastModified time.Time
	RelativePath string
}

// ChunkInput is one chunk to persist.
type ChunkInput struct {
	ChunkNum  int
	Text      string
	CharStart int
	CharEnd   int
	Embedding []float32
	Metadata  map[string]any
}

// SearchFilters optionally restricts search to a provider type and/or
// instance.
type SearchFilters struct {
	ProviderType string
	ProviderName string
}

// SearchResult is one search hit, nearest first.
type SearchResult struct {
	Chunk    models.Chunk
	Distance float64
}

// ChunkRef addresses one stored chunk.
type ChunkRef struct {
	DocumentID string
	ChunkNum   int
}

// ReconcileReport summarizes an orphan reconciliation pass.
type ReconcileReport struct {
	DocumentsRemoved int
	ChunksRemoved    int
}

// Store is the pgvector-backed chunk store.
type Store struct {
	db         *gorm.DB
	dimensions int
	logger     hclog.Logger
}

// NewStore creates a store enforcing the given vector dimension.
func NewStore(db *gorm.DB, dimensions int, logger hclog.Logger) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("database handle is required")
	}
	if dimensions <= 0 {
		return nil, fmt.Errorf("vector dimension must be positive, got %d", dimensions)
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Store{
		db:         db,
		dimensions: dimensions,
		logger:     logger.Named("chunkstore"),
	}, nil
}

// Dimensions returns the configured vector dimension.
func (s *Store) Dimensions() int {
	return s.dimensions
}

// UpsertDocumentChunks atomically replaces the chunk set of a document
// with the supplied ordered list: each chunk row is written keyed by
// (document_id, chunk_num), then stale rows with chunk_num beyond the
// new count are deleted. All or nothing.
func (s *Store) UpsertDocumentChunks(ctx context.Context, doc DocumentRef, chunks []ChunkInput) error {
	for _, c := range chunks {
		if len(c.Embedding) != s.dimensions {
			return fmt.Errorf("chunk %d of %s has dimension %d, store expects %d: %w",
				c.ChunkNum, doc.DocumentID, len(c.Embedding), s.dimensions, ErrDimensionMismatch)
		}
	}

	now := time.Now().UTC()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, c := range chunks {
			metadata, err := chunkMetadata(doc, c)
			if err != nil {
				return err
			}

			row := models.Chunk{
				DocumentID:   doc.DocumentID,
				Filename:     doc.Filename,
				ProviderType: doc.ProviderType,
				ProviderName: doc.ProviderName,
				ChunkNum:     c.ChunkNum,
				Text:         c.Text,
				Metadata:     metadata,
				Embedding:    models.Vector(c.Embedding),
				CreatedAt:    now,
			}
			err = tx.Clauses(clause.OnConflict{
				Columns: []clause.Column{{Name: "document_id"}, {Name: "chunk_num"}},
				DoUpdates: clause.AssignmentColumns([]string{
					"filename", "provider_type", "provider_name",
					"text", "metadata", "embedding", "created_at",
				}),
			}).Create(&row).Error
			if err != nil {
				return fmt.Errorf("failed to upsert chunk %d of %s: %w", c.ChunkNum, doc.DocumentID, err)
			}
		}

		err := tx.Where("document_id = ? AND chunk_num >= ?", doc.DocumentID, len(chunks)).
			Delete(&models.Chunk{}).Error
		if err != nil {
			return fmt.Errorf("failed to delete stale chunks of %s: %w", doc.DocumentID, err)
		}
		return nil
	})
}

// UpdateFileTracking inserts or overwrites the tracking row recording
// the indexed version of a document.
func (s *Store) UpdateFileTracking(ctx context.Context, doc DocumentRef) error {
	row := models.FileTracking{
		DocumentID:   doc.DocumentID,
		ProviderType: doc.ProviderType,
		ProviderName: doc.ProviderName,
		Filename:     doc.Filename,
		ETag:         doc.ETag,
		LastModified: doc.LastModified.UTC(),
		RelativePath: doc.RelativePath,
	}
	if err := row.Upsert(s.db.WithContext(ctx)); err != nil {
		return fmt.Errorf("failed to update tracking for %s: %w", doc.DocumentID, err)
	}
	return nil
}

// IsIndexed reports whether a tracking row exists for the document with
// exactly the given etag.
func (s *Store) IsIndexed(ctx context.Context, pair Pair, documentID, etag string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.FileTracking{}).
		Where("document_id = ? AND provider_type = ? AND provider_name = ? AND etag = ?",
			documentID, pair.ProviderType, pair.ProviderName, etag).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check tracking for %s: %w", documentID, err)
	}
	return count > 0, nil
}

// ReconcileOrphans deletes tracking and chunk rows for documents the
// provider no longer lists.
func (s *Store) ReconcileOrphans(ctx context.Context, pair Pair, presentIDs []string) (ReconcileReport, error) {
	var tracked []string
	err := s.db.WithContext(ctx).Model(&models.FileTracking{}).
		Where("provider_type = ? AND provider_name = ?", pair.ProviderType, pair.ProviderName).
		Pluck("document_id", &tracked).Error
	if err != nil {
		return ReconcileReport{}, fmt.Errorf("failed to list tracked documents: %w", err)
	}

	present := make(map[string]struct{}, len(presentIDs))
	for _, id := range presentIDs {
		present[id] = struct{}{}
	}

	var orphans []string
	for _, id := range tracked {
		if _, ok := present[id]; !ok {
			orphans = append(orphans, id)
		}
	}
	if len(orphans) == 0 {
		return ReconcileReport{}, nil
	}

	var report ReconcileReport
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("provider_type = ? AND provider_name = ? AND document_id IN ?",
			pair.ProviderType, pair.ProviderName, orphans).
			Delete(&models.Chunk{})
		if res.Error != nil {
			return fmt.Errorf("failed to delete orphan chunks: %w", res.Error)
		}
		report.ChunksRemoved = int(res.RowsAffected)

		res = tx.Where("provider_type = ? AND provider_name = ? AND document_id IN ?",
			pair.ProviderType, pair.ProviderName, orphans).
			Delete(&models.FileTracking{})
		if res.Error != nil {
			return fmt.Errorf("failed to delete orphan tracking rows: %w", res.Error)
		}
		report.DocumentsRemoved = int(res.RowsAffected)
		return nil
	})
	if err != nil {
		return ReconcileReport{}, err
	}

	s.logger.Info("reconciled orphans",
		"provider_type", pair.ProviderType,
		"provider_name", pair.ProviderName,
		"documents_removed", report.DocumentsRemoved,
		"chunks_removed", report.ChunksRemoved,
	)
	return report, nil
}

// DeleteProvider removes every chunk and tracking row owned by the
// provider pair.
func (s *Store) DeleteProvider(ctx context.Context, pair Pair) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("provider_type = ? AND provider_name = ?",
			pair.ProviderType, pair.ProviderName).
			Delete(&models.Chunk{}).Error
		if err != nil {
			return fmt.Errorf("failed to delete provider chunks: %w", err)
		}

		err = tx.Where("provider_type = ? AND provider_name = ?",
			pair.ProviderType, pair.ProviderName).
			Delete(&models.FileTracking{}).Error
		if err != nil {
			return fmt.Errorf("failed to delete provider tracking rows: %w", err)
		}
		return nil
	})
}

// searchRow is the raw scan target for Search.
type searchRow struct {
	ID           uint64
	DocumentID   string
	Filename     string
	ProviderType string
	ProviderName string
	ChunkNum     int
	Text         string
	Metadata     models.JSON
	CreatedAt    time.Time
	Distance     float64
}

// Search returns the k nearest chunks to the query vector by cosine
// distance, nearest first, optionally filtered by provider. Ties break
// on row id so results are deterministic for a fixed dataset.
func (s *Store) Search(ctx context.Context, queryVector []float32, k int, filters SearchFilters) ([]SearchResult, error) {
	if len(queryVector) != s.dimensions {
		return nil, fmt.Errorf("query vector has dimension %d, store expects %d: %w",
			len(queryVector), s.dimensions, ErrDimensionMismatch)
	}
	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}

	var sb strings.Builder
	sb.WriteString(`
		SELECT id, document_id, filename, provider_type, provider_name,
		       chunk_num, text, metadata, created_at,
		       embedding <=> ?::vector AS distance
		FROM docs_chunks`)
	args := []any{models.FormatVector(queryVector)}

	var where []string
	if filters.ProviderType != "" {
		where = append(where, "provider_type = ?")
		args = append(args, filters.ProviderType)
	}
	if filters.ProviderName != "" {
		where = append(where, "provider_name = ?")
		args = append(args, filters.ProviderName)
	}
	if len(where) > 0 {
		sb.WriteString("\n\t\tWHERE " + strings.Join(where, " AND "))
	}
	sb.WriteString("\n\t\tORDER BY distance, id\n\t\tLIMIT ?")
	args = append(args, k)

	var rows []searchRow
	if err := s.db.WithContext(ctx).Raw(sb.String(), args...).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("similarity search failed: %w", err)
	}

	results := make([]SearchResult, len(rows))
	for i, r := range rows {
		results[i] = SearchResult{
			Chunk: models.Chunk{
				ID:           r.ID,
				DocumentID:   r.DocumentID,
				Filename:     r.Filename,
				ProviderType: r.ProviderType,
				ProviderName: r.ProviderName,
				ChunkNum:     r.ChunkNum,
				Text:         r.Text,
				Metadata:     r.Metadata,
				CreatedAt:    r.CreatedAt,
			},
			Distance: r.Distance,
		}
	}

	s.logger.Debug("similarity search",
		"k", k,
		"results", len(results),
		"provider_type", filters.ProviderType,
		"provider_name", filters.ProviderName,
	)
	return results, nil
}

// FetchContextWindow returns, per target document, the chunks with
// chunk_num in [min_target − w, max_target + w], ordered by chunk_num.
func (s *Store) FetchContextWindow(ctx context.Context, targets []ChunkRef, w int) (map[string][]models.Chunk, error) {
	if w < 0 {
		return nil, fmt.Errorf("window must be non-negative, got %d", w)
	}

	type span struct{ lo, hi int }
	spans := make(map[string]span)
	for _, t := range targets {
		sp, ok := spans[t.DocumentID]
		if !ok {
			spans[t.DocumentID] = span{lo: t.ChunkNum, hi: t.ChunkNum}
			continue
		}
		if t.ChunkNum < sp.lo {
			sp.lo = t.ChunkNum
		}
		if t.ChunkNum > sp.hi {
			sp.hi = t.ChunkNum
		}
		spans[t.DocumentID] = sp
	}

	out := make(map[string][]models.Chunk, len(spans))
	for docID, sp := range spans {
		lo := sp.lo - w
		if lo < 0 {
			lo = 0
		}

		var chunks []models.Chunk
		err := s.db.WithContext(ctx).
			Where("document_id = ? AND chunk_num BETWEEN ? AND ?", docID, lo, sp.hi+w).
			Order("chunk_num").
			Find(&chunks).Error
		if err != nil {
			return nil, fmt.Errorf("failed to fetch context window for %s: %w", docID, err)
		}
		out[docID] = chunks
	}
	return out, nil
}

// CountChunks returns the total number of stored chunks.
func (s *Store) CountChunks(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Chunk{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return count, nil
}

// CountDocuments returns the number of tracked documents.
func (s *Store) CountDocuments(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.FileTracking{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count documents: %w", err)
	}
	return count, nil
}

// chunkMetadata assembles the chunk's metadata blob: char offsets plus
// the tracking fields, merged with any caller-supplied entries.
func chunkMetadata(doc DocumentRef, c ChunkInput) (models.JSON, error) {
	m := map[string]any{
		"document_id":   doc.DocumentID,
		"filename":      doc.Filename,
		"chunk_num":     c.ChunkNum,
		"char_start":    c.CharStart,
		"char_end":      c.CharEnd,
		"provider_type": doc.ProviderType,
		"provider_name": doc.ProviderName,
	}
	if doc.ETag != "" {
		m["etag"] = doc.ETag
	}
	if doc.RelativePath != "" {
		m["relative_path"] = doc.RelativePath
	}
	if !doc.LastModified.IsZero() {
		m["last_modified"] = doc.LastModified.UTC().Format(time.RFC3339)
	}
	for k, v := range c.Metadata {
		m[k] = v
	}
	return models.JSONFromMap(m)
}
