package store

import "context"

// Driver is an interface for store driver.
// It contains all methods that interact with the underlying database.
type Driver interface {
	Close() error
	Migrate(ctx context.Context) error

	// Document model.
	CreateDocument(ctx context.Context, create *Document) (*Document, error)
	GetDocument(ctx context.Context, id string) (*Document, error)
	UpdateDocumentStatus(ctx context.Context, update *UpdateDocumentStatus) error
	ListDocuments(ctx context.Context, find *FindDocument) ([]*Document, error)

	// Chunk model (relational side).
	InsertChunks(ctx context.Context, chunks []*Chunk) error
	GetChunksByIDs(ctx context.Context, ids []string) ([]*Chunk, error)
	FullTextSearch(ctx context.Context, opts *FullTextSearchOptions) ([]*ChunkWithScore, error)

	// Chunk model (vector side).
	UpsertChunkVectors(ctx context.Context, chunks []*Chunk) error
	VectorSearch(ctx context.Context, opts *VectorSearchOptions) ([]*ChunkWithScore, error)
	VectorStats(ctx context.Context) (*VectorStats, error)

	// Entity model.
	InsertEntities(ctx context.Context, entities []*ExtractedEntity) error
	GetEntitiesMatching(ctx context.Context, find *FindEntitiesMatching) ([]*ExtractedEntity, error)
}
