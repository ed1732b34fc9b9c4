package postgres

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/pkg/errors"

	"github.com/kbforge/ragengine/store"
)

// CreateDocument inserts a document row in its initial lifecycle state.
func (d *DB) CreateDocument(ctx context.Context, create *store.Document) (*store.Document, error) {
	tags, err := json.Marshal(create.Tags)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal document tags")
	}

	stmt := `
		INSERT INTO document (id, title, content, domain, tags, status, chunk_count, created_ts, updated_ts)
		VALUES (` + placeholders(9) + `)
		RETURNING created_ts, updated_ts
	`
	err = d.db.QueryRowContext(ctx, stmt,
		create.ID,
		create.Title,
		create.Content,
		create.Domain,
		string(tags),
		create.Status,
		create.ChunkCount,
		create.CreatedTs,
		create.UpdatedTs,
	).Scan(&create.CreatedTs, &create.UpdatedTs)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create document")
	}

	return create, nil
}

// GetDocument returns a document by ID, or nil when it does not exist.
func (d *DB) GetDocument(ctx context.Context, id string) (*store.Document, error) {
	list, err := d.ListDocuments(ctx, &store.FindDocument{ID: &id})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

// UpdateDocumentStatus transitions a document's lifecycle state and, for the
// completed transition, records the chunk count.
func (d *DB) UpdateDocumentStatus(ctx context.Context, update *store.UpdateDocumentStatus) error {
	set, args := []string{}, []any{}

	set, args = append(set, "status = "+placeholder(len(args)+1)), append(args, update.Status)
	if update.ChunkCount != nil {
		set, args = append(set, "chunk_count = "+placeholder(len(args)+1)), append(args, *update.ChunkCount)
	}
	set = append(set, "updated_ts = EXTRACT(EPOCH FROM NOW())::BIGINT")

	stmt := `UPDATE document SET ` + strings.Join(set, ", ") + ` WHERE id = ` + placeholder(len(args)+1)
	args = append(args, update.ID)

	result, err := d.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return errors.Wrap(err, "failed to update document status")
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return errors.Errorf("document %s not found", update.ID)
	}
	return nil
}

// ListDocuments lists documents matching the filter.
func (d *DB) ListDocuments(ctx context.Context, find *store.FindDocument) ([]*store.Document, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ID != nil {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *find.ID)
	}
	if find.Domain != nil {
		where, args = append(where, "domain = "+placeholder(len(args)+1)), append(args, *find.Domain)
	}
	if find.Status != nil {
		where, args = append(where, "status = "+placeholder(len(args)+1)), append(args, *find.Status)
	}

	query := `
		SELECT id, title, content, domain, tags, status, chunk_count, created_ts, updated_ts
		FROM document
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY updated_ts DESC
	`
	if find.Limit != nil {
		query += " LIMIT " + placeholder(len(args)+1)
		args = append(args, *find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list documents")
	}
	defer rows.Close()

	list := []*store.Document{}
	for rows.Next() {
		var doc store.Document
		var tags string
		if err := rows.Scan(
			&doc.ID,
			&doc.Title,
			&doc.Content,
			&doc.Domain,
			&tags,
			&doc.Status,
			&doc.ChunkCount,
			&doc.CreatedTs,
			&doc.UpdatedTs,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan document")
		}
		if err := json.Unmarshal([]byte(tags), &doc.Tags); err != nil {
			doc.Tags = nil
		}
		list = append(list, &doc)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return list, nil
}
