package sqlite

import (
	"context"
	"encoding/binary"
	"log/slog"
	"math"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/kbforge/ragengine/store"
)

// float32ArrayToBLOB serializes a vector as little-endian float32 bytes.
func float32ArrayToBLOB(vec []float32) []byte {
	buf := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:i*4+4], math.Float32bits(v))
	}
	return buf
}

// blobToFloat32Array is the inverse of float32ArrayToBLOB.
func blobToFloat32Array(blob []byte) ([]float32, error) {
	if len(blob)%4 != 0 {
		return nil, errors.Errorf("invalid embedding BLOB length: %d", len(blob))
	}
	vec := make([]float32, len(blob)/4)
	for i := range vec {
		bits := binary.LittleEndian.Uint32(blob[i*4 : i*4+4])
		vec[i] = math.Float32frombits(bits)
	}
	return vec, nil
}

// cosineSimilarity computes cosine similarity between two vectors.
func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct float32
	var normA float32
	var normB float32

	for i := 0; i < len(a); i++ {
		dotProduct += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (float32(math.Sqrt(float64(normA))) * float32(math.Sqrt(float64(normB))))
}

func (d *DB) InsertChunks(ctx context.Context, chunks []*store.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	stmt := `
		INSERT INTO chunk (id, document_id, chunk_index, content, title, domain, source, section, page, created_ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	for _, chunk := range chunks {
		if _, err := tx.ExecContext(ctx, stmt,
			chunk.ID,
			chunk.DocumentID,
			chunk.Index,
			chunk.Content,
			chunk.Title,
			chunk.Domain,
			chunk.Source,
			chunk.Section,
			chunk.Page,
			chunk.CreatedTs,
		); err != nil {
			return errors.Wrapf(err, "failed to insert chunk %s", chunk.ID)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit chunk batch")
	}
	return nil
}

func (d *DB) GetChunksByIDs(ctx context.Context, ids []string) ([]*store.Chunk, error) {
	if len(ids) == 0 {
		return []*store.Chunk{}, nil
	}

	args := make([]any, 0, len(ids))
	for _, id := range ids {
		args = append(args, id)
	}
	query := `
		SELECT id, document_id, chunk_index, content, title, domain, source, section, page, created_ts
		FROM chunk
		WHERE id IN (?` + strings.Repeat(", ?", len(ids)-1) + `)
	`

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get chunks by ids")
	}
	defer rows.Close()

	list := []*store.Chunk{}
	for rows.Next() {
		var chunk store.Chunk
		if err := rows.Scan(
			&chunk.ID,
			&chunk.DocumentID,
			&chunk.Index,
			&chunk.Content,
			&chunk.Title,
			&chunk.Domain,
			&chunk.Source,
			&chunk.Section,
			&chunk.Page,
			&chunk.CreatedTs,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan chunk")
		}
		list = append(list, &chunk)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return list, nil
}

// FullTextSearch approximates keyword search with LIKE matching. SQLite has
// no ts_rank; the score is the number of query terms that matched.
func (d *DB) FullTextSearch(ctx context.Context, opts *store.FullTextSearchOptions) ([]*store.ChunkWithScore, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}

	terms := strings.Fields(opts.Query)
	if len(terms) == 0 {
		return []*store.ChunkWithScore{}, nil
	}

	scoreParts := []string{}
	args := []any{}
	for _, term := range terms {
		escaped := strings.ReplaceAll(strings.ReplaceAll(term, "%", "\\%"), "_", "\\_")
		scoreParts = append(scoreParts, "(c.content LIKE ? ESCAPE '\\')")
		args = append(args, "%"+escaped+"%")
	}
	scoreExpr := strings.Join(scoreParts, " + ")

	where := []string{"d.status = 'completed'"}
	if opts.Domain != nil {
		where = append(where, "c.domain = ?")
		args = append(args, *opts.Domain)
	}

	query := `
		SELECT
			c.id, c.document_id, c.chunk_index, c.content, c.title, c.domain, c.source, c.section, c.page, c.created_ts,
			(` + scoreExpr + `) AS score,
			d.updated_ts
		FROM chunk c
		INNER JOIN document d ON d.id = c.document_id
		WHERE ` + strings.Join(where, " AND ") + `
			AND (` + scoreExpr + `) > 0
		ORDER BY score DESC, d.updated_ts DESC, c.id ASC
		LIMIT ?
	`
	for _, term := range terms {
		escaped := strings.ReplaceAll(strings.ReplaceAll(term, "%", "\\%"), "_", "\\_")
		args = append(args, "%"+escaped+"%")
	}
	args = append(args, limit)

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to full-text search")
	}
	defer rows.Close()

	list := []*store.ChunkWithScore{}
	for rows.Next() {
		var chunk store.Chunk
		var result store.ChunkWithScore
		if err := rows.Scan(
			&chunk.ID,
			&chunk.DocumentID,
			&chunk.Index,
			&chunk.Content,
			&chunk.Title,
			&chunk.Domain,
			&chunk.Source,
			&chunk.Section,
			&chunk.Page,
			&chunk.CreatedTs,
			&result.Score,
			&result.DocUpdatedTs,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan chunk with score")
		}
		result.Chunk = &chunk
		list = append(list, &result)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return list, nil
}

func (d *DB) UpsertChunkVectors(ctx context.Context, chunks []*store.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	stmt := `
		INSERT INTO chunk_embedding (chunk_id, embedding, model, created_ts)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (chunk_id, model) DO UPDATE SET
			embedding = excluded.embedding,
			created_ts = excluded.created_ts
	`
	for _, chunk := range chunks {
		if len(chunk.Embedding) == 0 {
			return errors.Errorf("chunk %s has no embedding", chunk.ID)
		}
		blob := float32ArrayToBLOB(chunk.Embedding)
		if _, err := tx.ExecContext(ctx, stmt, chunk.ID, blob, d.profile.EmbeddingModel, chunk.CreatedTs); err != nil {
			return errors.Wrapf(err, "failed to upsert embedding for chunk %s", chunk.ID)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit embedding batch")
	}
	return nil
}

// VectorSearch loads candidate embeddings and computes cosine similarity in
// Go. A vector row whose relational chunk is gone is a stale hit; it is
// dropped from the result and logged, never surfaced to callers.
func (d *DB) VectorSearch(ctx context.Context, opts *store.VectorSearchOptions) ([]*store.ChunkWithScore, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}

	where := []string{"e.model = ?"}
	args := []any{d.profile.EmbeddingModel}
	if len(opts.Domains) > 0 {
		where = append(where, "(c.id IS NULL OR c.domain IN (?"+strings.Repeat(", ?", len(opts.Domains)-1)+"))")
		for _, domain := range opts.Domains {
			args = append(args, domain)
		}
	}

	query := `
		SELECT
			e.chunk_id, e.embedding,
			c.id, c.document_id, c.chunk_index, c.content, c.title, c.domain, c.source, c.section, c.page, c.created_ts,
			d.status, d.updated_ts
		FROM chunk_embedding e
		LEFT JOIN chunk c ON c.id = e.chunk_id
		LEFT JOIN document d ON d.id = c.document_id
		WHERE ` + strings.Join(where, " AND ")

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to vector search")
	}
	defer rows.Close()

	type candidate struct {
		chunk        *store.Chunk
		docUpdatedTs int64
		embedding    []float32
	}
	candidates := []candidate{}

	for rows.Next() {
		var vectorChunkID string
		var blob []byte
		var chunkID, documentID, content, title, domain, source, section *string
		var chunkIndex, page *int
		var createdTs, docUpdatedTs *int64
		var docStatus *string

		if err := rows.Scan(
			&vectorChunkID,
			&blob,
			&chunkID,
			&documentID,
			&chunkIndex,
			&content,
			&title,
			&domain,
			&source,
			&section,
			&page,
			&createdTs,
			&docStatus,
			&docUpdatedTs,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan vector search candidate")
		}

		if chunkID == nil {
			slog.Warn("dropping stale vector hit without relational chunk", "chunk_id", vectorChunkID)
			continue
		}
		if docStatus == nil || *docStatus != string(store.DocumentStatusCompleted) {
			continue
		}

		embedding, err := blobToFloat32Array(blob)
		if err != nil {
			slog.Warn("dropping vector hit with malformed embedding", "chunk_id", vectorChunkID, "error", err)
			continue
		}

		chunk := &store.Chunk{
			ID:         *chunkID,
			DocumentID: *documentID,
			Index:      *chunkIndex,
			Content:    *content,
			Title:      *title,
			Domain:     *domain,
			Source:     *source,
			Section:    *section,
			Page:       *page,
			CreatedTs:  *createdTs,
		}
		candidates = append(candidates, candidate{
			chunk:        chunk,
			docUpdatedTs: *docUpdatedTs,
			embedding:    embedding,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	results := []*store.ChunkWithScore{}
	for _, cand := range candidates {
		score := cosineSimilarity(opts.Vector, cand.embedding)
		if opts.MinScore > 0 && score < opts.MinScore {
			continue
		}
		results = append(results, &store.ChunkWithScore{
			Chunk:        cand.chunk,
			Score:        score,
			DocUpdatedTs: cand.docUpdatedTs,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if results[i].DocUpdatedTs != results[j].DocUpdatedTs {
			return results[i].DocUpdatedTs > results[j].DocUpdatedTs
		}
		return results[i].Chunk.ID < results[j].Chunk.ID
	})

	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (d *DB) VectorStats(ctx context.Context) (*store.VectorStats, error) {
	var count int64
	if err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunk_embedding`).Scan(&count); err != nil {
		return nil, errors.Wrap(err, "failed to count chunk embeddings")
	}
	return &store.VectorStats{
		Count:      count,
		Dimensions: d.profile.EmbeddingDimensions,
	}, nil
}
