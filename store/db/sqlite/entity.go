package sqlite

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/pkg/errors"

	"github.com/kbforge/ragengine/store"
)

func (d *DB) InsertEntities(ctx context.Context, entities []*store.ExtractedEntity) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	stmt := `
		INSERT INTO extracted_entity
			(chunk_id, document_id, entity_type, entity_text, attributes, confidence, char_start, char_end, verification_status, created_ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
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

func (d *DB) GetEntitiesMatching(ctx context.Context, find *store.FindEntitiesMatching) ([]*store.ExtractedEntity, error) {
	if len(find.Tokens) == 0 {
		return []*store.ExtractedEntity{}, nil
	}

	limit := find.Limit
	if limit <= 0 {
		limit = 50
	}

	args := make([]any, 0, len(find.Tokens)+1)
	for _, token := range find.Tokens {
		args = append(args, strings.ToLower(token))
	}
	args = append(args, limit)

	query := `
		SELECT id, chunk_id, document_id, entity_type, entity_text, attributes, confidence, char_start, char_end, verification_status, created_ts
		FROM extracted_entity
		WHERE LOWER(entity_text) IN (?` + strings.Repeat(", ?", len(find.Tokens)-1) + `)
		ORDER BY confidence DESC, id ASC
		LIMIT ?
	`

	rows, err := d.db.QueryContext(ctx, query, args...)
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
