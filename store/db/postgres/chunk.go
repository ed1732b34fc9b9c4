package postgres

import (
	"context"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"github.com/pkg/errors"

	"github.com/kbforge/ragengine/store"
)

// InsertChunks inserts the relational rows of one document's chunk batch in a
// single transaction, so a mid-batch failure leaves no partial chunks.
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
		VALUES (` + placeholders(10) + `)
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

// GetChunksByIDs returns chunk rows for the given IDs. Missing IDs are simply
// absent from the result; callers decide whether that is an error.
func (d *DB) GetChunksByIDs(ctx context.Context, ids []string) ([]*store.Chunk, error) {
	query := `
		SELECT id, document_id, chunk_index, content, title, domain, source, section, page, created_ts
		FROM chunk
		WHERE id = ANY(` + placeholder(1) + `)
	`
	rows, err := d.db.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, errors.Wrap(err, "failed to get chunks by ids")
	}
	defer rows.Close()

	list := []*store.Chunk{}
	for rows.Next() {
		chunk, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, chunk)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return list, nil
}

// FullTextSearch runs a keyword search over chunk content using postgres
// full-text search, restricted to completed documents.
func (d *DB) FullTextSearch(ctx context.Context, opts *store.FullTextSearchOptions) ([]*store.ChunkWithScore, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}

	where, args := []string{
		"d.status = 'completed'",
		"to_tsvector('english', c.content) @@ plainto_tsquery('english', " + placeholder(1) + ")",
	}, []any{opts.Query}

	if opts.Domain != nil {
		where = append(where, "c.domain = "+placeholder(len(args)+1))
		args = append(args, *opts.Domain)
	}

	query := `
		SELECT
			c.id, c.document_id, c.chunk_index, c.content, c.title, c.domain, c.source, c.section, c.page, c.created_ts,
			ts_rank(to_tsvector('english', c.content), plainto_tsquery('english', ` + placeholder(1) + `)) AS score,
			d.updated_ts
		FROM chunk c
		INNER JOIN document d ON d.id = c.document_id
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY score DESC, d.updated_ts DESC, c.id ASC
		LIMIT ` + placeholder(len(args)+1)
	args = append(args, limit)

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to full-text search")
	}
	defer rows.Close()

	return scanChunksWithScore(rows)
}

// UpsertChunkVectors writes the vector-index entries for one chunk batch.
// The chunk ID is the join key with the relational row.
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
		VALUES (` + placeholders(4) + `)
		ON CONFLICT (chunk_id, model)
		DO UPDATE SET
			embedding = EXCLUDED.embedding,
			created_ts = EXCLUDED.created_ts
	`
	now := time.Now().Unix()
	for _, chunk := range chunks {
		if len(chunk.Embedding) == 0 {
			return errors.Errorf("chunk %s has no embedding", chunk.ID)
		}
		vector := pgvector.NewVector(chunk.Embedding)
		if _, err := tx.ExecContext(ctx, stmt, chunk.ID, vector, d.profile.EmbeddingModel, now); err != nil {
			return errors.Wrapf(err, "failed to upsert embedding for chunk %s", chunk.ID)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit embedding batch")
	}
	return nil
}

// VectorSearch performs cosine-similarity search using pgvector.
// The <=> operator computes cosine distance (1 - cosine_similarity),
// so ordering by distance ASC returns the most similar first.
func (d *DB) VectorSearch(ctx context.Context, opts *store.VectorSearchOptions) ([]*store.ChunkWithScore, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}

	vector := pgvector.NewVector(opts.Vector)
	where, args := []string{
		"d.status = 'completed'",
		"e.model = " + placeholder(1),
	}, []any{d.profile.EmbeddingModel}

	if len(opts.Domains) > 0 {
		where = append(where, "c.domain = ANY("+placeholder(len(args)+1)+")")
		args = append(args, pq.Array(opts.Domains))
	}

	scoreExpr := "1 - (e.embedding <=> " + placeholder(len(args)+1) + ")"
	args = append(args, vector)
	if opts.MinScore > 0 {
		where = append(where, scoreExpr+" >= "+placeholder(len(args)+1))
		args = append(args, opts.MinScore)
	}

	orderArg := placeholder(len(args) + 1)
	args = append(args, vector)
	limitArg := placeholder(len(args) + 1)
	args = append(args, limit)

	query := `
		SELECT
			c.id, c.document_id, c.chunk_index, c.content, c.title, c.domain, c.source, c.section, c.page, c.created_ts,
			` + scoreExpr + ` AS score,
			d.updated_ts
		FROM chunk_embedding e
		INNER JOIN chunk c ON c.id = e.chunk_id
		INNER JOIN document d ON d.id = c.document_id
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY e.embedding <=> ` + orderArg + ` ASC, d.updated_ts DESC, c.id ASC
		LIMIT ` + limitArg

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to vector search")
	}
	defer rows.Close()

	return scanChunksWithScore(rows)
}

// VectorStats reports the vector index size.
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

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChunk(rows rowScanner) (*store.Chunk, error) {
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
	return &chunk, nil
}

func scanChunksWithScore(rows interface {
	rowScanner
	Next() bool
	Err() error
}) ([]*store.ChunkWithScore, error) {
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
