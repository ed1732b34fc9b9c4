package store

import "context"

// DocumentStatus is the ingestion lifecycle state of a document.
// Transitions: pending → processing → {completed | failed}.
// Terminal states are final; a failed document must be resubmitted, not retried in place.
type DocumentStatus string

const (
	DocumentStatusPending    DocumentStatus = "pending"
	DocumentStatusProcessing DocumentStatus = "processing"
	DocumentStatusCompleted  DocumentStatus = "completed"
	DocumentStatusFailed     DocumentStatus = "failed"
)

// Document is a source document submitted for ingestion.
type Document struct {
	ID         string
	Title      string
	Content    string
	Domain     string
	Tags       []string
	Status     DocumentStatus
	ChunkCount int
	CreatedTs  int64
	UpdatedTs  int64
}

// UpdateDocumentStatus describes a status transition for a document.
type UpdateDocumentStatus struct {
	ID         string
	Status     DocumentStatus
	ChunkCount *int
}

// FindDocument is the filter for listing documents.
type FindDocument struct {
	ID     *string
	Domain *string
	Status *DocumentStatus
	Limit  *int
}

func (s *Store) CreateDocument(ctx context.Context, create *Document) (*Document, error) {
	return s.driver.CreateDocument(ctx, create)
}

func (s *Store) GetDocument(ctx context.Context, id string) (*Document, error) {
	return s.driver.GetDocument(ctx, id)
}

func (s *Store) UpdateDocumentStatus(ctx context.Context, update *UpdateDocumentStatus) error {
	return s.driver.UpdateDocumentStatus(ctx, update)
}

func (s *Store) ListDocuments(ctx context.Context, find *FindDocument) ([]*Document, error) {
	return s.driver.ListDocuments(ctx, find)
}
