package postgres

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/kbforge/ragengine/store"
)

// InsertEntities persists extracted entities for a chunk batch.
// Rows are write-once; there is no update path.
func (d *DB) InsertEntities(ctx context.Context, entities []*store.ExtractedEntity) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	stmt := `
		INSERT INTO extracted_entity
			(chunk_id, document_id, entity_type, entity_text, attributes, confidence, char_start, char_end, verification_status, created_ts)
		VALUES (` + placeholders(10) + `)
	`
	for _, entity := range entities {
		attrs, err := json.Marshal(entity.Attributes)
		if err != nil {
			return errors.Wrap(err, "failed to marshal entity attributes")
		}
		if _, err := tx.ExecContext(ctx, stmt,
			entity.ChunkID,
			entity.DocumentID,
			entity.Type,
			entity.Text,
			string(attrs),
			entity.Confidence,
			entity.CharStart,
			entity.CharEnd,
			entity.VerificationStatus,
			entity.CreatedTs,
		); err != nil {
			return errors.Wrap(err, "failed to insert entity")
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit entity batch")
	}
	return nil
}

// GetEntitiesMatching returns entities whose text equals any of the tokens,
// case-insensitively.
func (d *DB) GetEntitiesMatching(ctx context.Context, find *store.FindEntitiesMatching) ([]*store.ExtractedEntity, error) {
	limit := find.Limit
	if limit <= 0 {
		limit = 50
	}

	tokens := make([]string, 0, len(find.Tokens))
	for _, token := range find.Tokens {
		tokens = append(tokens, strings.ToLower(token))
	}

	query := `
		SELECT id, chunk_id, document_id, entity_type, entity_text, attributes, confidence, char_start, char_end, verification_status, created_ts
		FROM extracted_entity
		WHERE LOWER(entity_text) = ANY(` + placeholder(1) + `)
		ORDER BY confidence DESC, id ASC
		LIMIT ` + placeholder(2)

	rows, err := d.db.QueryContext(ctx, query, pq.Array(tokens), limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get entities matching tokens")
	}
	defer rows.Close()

	list := []*store.ExtractedEntity{}
	for rows.Next() {
		var entity store.ExtractedEntity
		var attrs string
		if err := rows.Scan(
			&entity.ID,
			&entity.ChunkID,
			&entity.DocumentID,
			&entity.Type,
			&entity.Text,
			&attrs,
			&entity.Confidence,
			&entity.CharStart,
			&entity.CharEnd,
			&entity.VerificationStatus,
			&entity.CreatedTs,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan entity")
		}
		if err := json.Unmarshal([]byte(attrs), &entity.Attributes); err != nil {
			entity.Attributes = nil
		}
		list = append(list, &entity)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return list, nil
}
