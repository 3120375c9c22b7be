package storage

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"github.com/dshills/repoask/internal/vectorstore"
)

// maxParams bounds the number of bound parameters per IN clause
const maxParams = 500

// Upsert inserts or replaces records in one transaction
func (s *SQLiteStorage) Upsert(ctx context.Context, namespace string, records []vectorstore.Record) error {
	if len(records) == 0 {
		return nil
	}

	return s.withTx(ctx, func(q querier) error {
		dim, err := namespaceDimension(ctx, q, namespace)
		if err != nil {
			return err
		}

		query := `
			INSERT INTO chunks (namespace, chunk_id, path, start_line, end_line, content_hash, content, vector, dimension, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(namespace, chunk_id) DO UPDATE SET
				path = excluded.path,
				start_line = excluded.start_line,
				end_line = excluded.end_line,
				content_hash = excluded.content_hash,
				content = excluded.content,
				vector = excluded.vector,
				dimension = excluded.dimension,
				updated_at = CURRENT_TIMESTAMP
		`
		for _, r := range records {
			if len(r.Vector) == 0 {
				return fmt.Errorf("%w: empty vector for %s", vectorstore.ErrDimensionMismatch, r.ID)
			}
			if dim == 0 {
				dim = len(r.Vector)
			}
			if len(r.Vector) != dim {
				return fmt.Errorf("%w: %s has %d, namespace has %d", vectorstore.ErrDimensionMismatch, r.ID, len(r.Vector), dim)
			}

			m := r.Metadata
			_, err := q.ExecContext(ctx, query,
				namespace, r.ID, m.Path, m.LineStart, m.LineEnd, m.ContentHash, m.Content,
				serializeVector(r.Vector), len(r.Vector))
			if err != nil {
				return fmt.Errorf("failed to upsert chunk %s: %w", r.ID, err)
			}
		}
		return nil
	})
}

// namespaceDimension returns the stored vector dimension, 0 when empty
func namespaceDimension(ctx context.Context, q querier, namespace string) (int, error) {
	var dim int
	err := q.QueryRowContext(ctx, `SELECT dimension FROM chunks WHERE namespace = ? LIMIT 1`, namespace).Scan(&dim)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read namespace dimension: %w", err)
	}
	return dim, nil
}

// Delete removes records by ID in one transaction
func (s *SQLiteStorage) Delete(ctx context.Context, namespace string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	return s.withTx(ctx, func(q querier) error {
		for start := 0; start < len(ids); start += maxParams {
			end := start + maxParams
			if end > len(ids) {
				end = len(ids)
			}
			batch := ids[start:end]

			args := make([]interface{}, 0, len(batch)+1)
			args = append(args, namespace)
			for _, id := range batch {
				args = append(args, id)
			}

			query := `DELETE FROM chunks WHERE namespace = ? AND chunk_id IN (` + placeholders(len(batch)) + `)`
			if _, err := q.ExecContext(ctx, query, args...); err != nil {
				return fmt.Errorf("failed to delete chunks: %w", err)
			}
		}
		return nil
	})
}

// Count returns the number of records in namespace
func (s *SQLiteStorage) Count(ctx context.Context, namespace string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks WHERE namespace = ?`, namespace).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return n, nil
}

// IDs returns every record ID in namespace, sorted
func (s *SQLiteStorage) IDs(ctx context.Context, namespace string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT chunk_id FROM chunks WHERE namespace = ? ORDER BY chunk_id`, namespace)
	if err != nil {
		return nil, fmt.Errorf("failed to list chunk ids: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Search returns the k most similar records in namespace
func (s *SQLiteStorage) Search(ctx context.Context, namespace string, vector []float32, k int) ([]vectorstore.Hit, error) {
	if k <= 0 || len(vector) == 0 {
		return []vectorstore.Hit{}, nil
	}
	// Use optimized SQL-based search when sqlite-vec is available
	if VectorExtensionAvailable {
		return searchVectorOptimized(ctx, s.db, namespace, vector, k)
	}

	// Scoring and metadata are two statements; one transaction keeps a
	// concurrent Delete from landing between them.
	var hits []vectorstore.Hit
	err := s.withTx(ctx, func(q querier) error {
		var err error
		hits, err = searchVectorFallback(ctx, q, namespace, vector, k)
		return err
	})
	if err != nil {
		return nil, err
	}
	return hits, nil
}

// searchVectorOptimized uses sqlite-vec extension for SQL-based vector similarity search
func searchVectorOptimized(ctx context.Context, q querier, namespace string, queryVector []float32, limit int) ([]vectorstore.Hit, error) {
	// vec_distance_cosine returns distance (lower is better); convert to similarity
	query := `
		SELECT chunk_id, path, start_line, end_line, content_hash, content,
		       1.0 - vec_distance_cosine(vector, ?) AS similarity
		FROM chunks
		WHERE namespace = ? AND dimension = ?
		ORDER BY similarity DESC, chunk_id ASC
		LIMIT ?
	`
	rows, err := q.QueryContext(ctx, query, serializeVector(queryVector), namespace, len(queryVector), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to execute vector search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	hits := make([]vectorstore.Hit, 0, limit)
	for rows.Next() {
		var h vectorstore.Hit
		m := &h.Metadata
		if err := rows.Scan(&h.ID, &m.Path, &m.LineStart, &m.LineEnd, &m.ContentHash, &m.Content, &h.Score); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// float32 distances in SQL can reorder near-ties; normalize ordering
	vectorstore.SortHits(hits)
	return hits, nil
}

// searchVectorFallback computes cosine similarity in Go for purego builds
func searchVectorFallback(ctx context.Context, q querier, namespace string, queryVector []float32, limit int) ([]vectorstore.Hit, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT chunk_id, vector FROM chunks WHERE namespace = ? AND dimension = ?`, namespace, len(queryVector))
	if err != nil {
		return nil, fmt.Errorf("failed to query embeddings: %w", err)
	}

	candidates, err := computeSimilarityScores(rows, queryVector)
	_ = rows.Close()
	if err != nil {
		return nil, err
	}

	vectorstore.SortHits(candidates)
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	return loadMetadata(ctx, q, namespace, candidates)
}

// computeSimilarityScores processes rows and computes cosine similarity
func computeSimilarityScores(rows *sql.Rows, queryVector []float32) ([]vectorstore.Hit, error) {
	candidates := make([]vectorstore.Hit, 0, 256)

	for rows.Next() {
		var id string
		var vectorBlob []byte
		if err := rows.Scan(&id, &vectorBlob); err != nil {
			return nil, err
		}

		vector := deserializeVector(vectorBlob)
		if len(vector) != len(queryVector) {
			continue
		}

		candidates = append(candidates, vectorstore.Hit{ID: id, Score: vectorstore.CosineSimilarity(queryVector, vector)})
	}

	return candidates, rows.Err()
}

// loadMetadata fills in the metadata of hits, keeping their order. Hits
// whose row no longer exists are dropped.
func loadMetadata(ctx context.Context, q querier, namespace string, hits []vectorstore.Hit) ([]vectorstore.Hit, error) {
	if len(hits) == 0 {
		return hits, nil
	}

	index := make(map[string]int, len(hits))
	args := make([]interface{}, 0, len(hits)+1)
	args = append(args, namespace)
	for i, h := range hits {
		index[h.ID] = i
		args = append(args, h.ID)
	}

	query := `SELECT chunk_id, path, start_line, end_line, content_hash, content
		FROM chunks WHERE namespace = ? AND chunk_id IN (` + placeholders(len(hits)) + `)`
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load chunk metadata: %w", err)
	}
	defer func() { _ = rows.Close() }()

	found := make([]bool, len(hits))
	for rows.Next() {
		var id string
		var m vectorstore.Metadata
		if err := rows.Scan(&id, &m.Path, &m.LineStart, &m.LineEnd, &m.ContentHash, &m.Content); err != nil {
			return nil, err
		}
		if i, ok := index[id]; ok {
			hits[i].Metadata = m
			found[i] = true
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	kept := hits[:0]
	for i, h := range hits {
		if found[i] {
			kept = append(kept, h)
		}
	}
	return kept, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// serializeVector converts a float32 slice to a byte blob (little-endian)
func serializeVector(vector []float32) []byte {
	blob := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(v))
	}
	return blob
}

// deserializeVector converts a byte blob back to a float32 slice
func deserializeVector(blob []byte) []float32 {
	vector := make([]float32, len(blob)/4)
	for i := range vector {
		bits := binary.LittleEndian.Uint32(blob[i*4:])
		vector[i] = math.Float32frombits(bits)
	}
	return vector
}

// SerializeVector is an exported helper for testing
func SerializeVector(vector []float32) []byte {
	return serializeVector(vector)
}

// DeserializeVector is an exported helper for testing
func DeserializeVector(blob []byte) []float32 {
	return deserializeVector(blob)
}
