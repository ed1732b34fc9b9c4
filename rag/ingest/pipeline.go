package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/kbforge/ragengine/rag/metrics"
	"github.com/kbforge/ragengine/store"
)

// DocumentStore is the slice of the backing store the pipeline writes to.
// This is a local interface to avoid circular dependencies and to keep the
// pipeline testable against mocks.
type DocumentStore interface {
	CreateDocument(ctx context.Context, create *store.Document) (*store.Document, error)
	UpdateDocumentStatus(ctx context.Context, update *store.UpdateDocumentStatus) error
	InsertChunks(ctx context.Context, chunks []*store.Chunk) error
	UpsertChunkVectors(ctx context.Context, chunks []*store.Chunk) error
	InsertEntities(ctx context.Context, entities []*store.ExtractedEntity) error
}

// Embedder batch-embeds chunk texts.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Pipeline ingests documents: a synchronous pending insert, then an
// asynchronous unit of work per document. Documents process concurrently;
// chunks within one document are written as a single ordered batch.
type Pipeline struct {
	store     DocumentStore
	embedder  Embedder
	chunker   *Chunker
	extractor EntityExtractor
	metrics   *metrics.Metrics

	wg sync.WaitGroup
}

// NewPipeline wires the pipeline. extractor may be nil to disable entity
// extraction; m may be nil to disable instrumentation.
func NewPipeline(documentStore DocumentStore, embedder Embedder, chunker *Chunker, extractor EntityExtractor, m *metrics.Metrics) *Pipeline {
	if chunker == nil {
		chunker = NewChunker(DefaultChunkSize, DefaultChunkOverlap)
	}
	return &Pipeline{
		store:     documentStore,
		embedder:  embedder,
		chunker:   chunker,
		extractor: extractor,
		metrics:   m,
	}
}

// AddDocumentRequest is the ingestion input.
type AddDocumentRequest struct {
	Title   string   `json:"title"`
	Content string   `json:"content"`
	Domain  string   `json:"domain,omitempty"`
	Tags    []string `json:"tags,omitempty"`
}

// AddDocument inserts the document in pending state and schedules the rest
// of the pipeline asynchronously. Only the initial insert can fail the call;
// later failures surface as a failed document status.
func (p *Pipeline) AddDocument(ctx context.Context, req *AddDocumentRequest) (string, error) {
	if req.Content == "" {
		return "", errors.New("document content required")
	}

	now := time.Now().Unix()
	doc := &store.Document{
		ID:        uuid.NewString(),
		Title:     req.Title,
		Content:   req.Content,
		Domain:    req.Domain,
		Tags:      req.Tags,
		Status:    store.DocumentStatusPending,
		CreatedTs: now,
		UpdatedTs: now,
	}

	if _, err := p.store.CreateDocument(ctx, doc); err != nil {
		return "", errors.Wrap(err, "failed to create document")
	}

	p.wg.Add(1)
	// The caller's deadline must not cancel ingestion mid-write; the unit of
	// work carries the caller's values but its own lifetime.
	go p.process(context.WithoutCancel(ctx), doc)

	return doc.ID, nil
}

// Close waits for in-flight document processing to finish.
func (p *Pipeline) Close() {
	p.wg.Wait()
}

func (p *Pipeline) process(ctx context.Context, doc *store.Document) {
	defer p.wg.Done()
	logger := slog.With("document_id", doc.ID)

	if err := p.store.UpdateDocumentStatus(ctx, &store.UpdateDocumentStatus{
		ID:     doc.ID,
		Status: store.DocumentStatusProcessing,
	}); err != nil {
		p.fail(ctx, logger, doc.ID, "mark processing", err)
		return
	}

	texts := p.chunker.Chunk(doc.Content)
	if len(texts) == 0 {
		p.fail(ctx, logger, doc.ID, "chunking", errors.New("document produced no chunks"))
		return
	}

	// One batched provider call; a batch failure fails the whole document
	// rather than leaving partial embeddings.
	vectors, err := p.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		p.fail(ctx, logger, doc.ID, "embedding", err)
		return
	}
	if len(vectors) != len(texts) {
		p.fail(ctx, logger, doc.ID, "embedding", errors.Errorf("embedding count mismatch: %d texts, %d vectors", len(texts), len(vectors)))
		return
	}

	now := time.Now().Unix()
	chunks := make([]*store.Chunk, 0, len(texts))
	for i, text := range texts {
		chunks = append(chunks, &store.Chunk{
			ID:         fmt.Sprintf("%s-%d", doc.ID, i),
			DocumentID: doc.ID,
			Index:      i,
			Content:    text,
			Embedding:  vectors[i],
			Title:      doc.Title,
			Domain:     doc.Domain,
			Source:     doc.Title,
			CreatedTs:  now,
		})
	}

	if err := p.store.InsertChunks(ctx, chunks); err != nil {
		p.fail(ctx, logger, doc.ID, "relational insert", err)
		return
	}

	// The vector upsert follows the relational insert. If it fails here, the
	// relational rows stay in place for inspection and the document is
	// failed; operators resubmit rather than retry in place.
	if err := p.store.UpsertChunkVectors(ctx, chunks); err != nil {
		p.fail(ctx, logger, doc.ID, "vector upsert", err)
		return
	}

	p.extractEntities(ctx, logger, chunks)

	chunkCount := len(chunks)
	if err := p.store.UpdateDocumentStatus(ctx, &store.UpdateDocumentStatus{
		ID:         doc.ID,
		Status:     store.DocumentStatusCompleted,
		ChunkCount: &chunkCount,
	}); err != nil {
		logger.Error("failed to mark document completed", "error", err)
		return
	}

	logger.Info("document ingested", "chunk_count", chunkCount)
	if p.metrics != nil {
		p.metrics.RecordIngestedDocument(string(store.DocumentStatusCompleted))
		p.metrics.RecordIngestedChunks(chunkCount)
	}
}

// extractEntities never changes the document's terminal status; extraction
// failures are logged only.
func (p *Pipeline) extractEntities(ctx context.Context, logger *slog.Logger, chunks []*store.Chunk) {
	if p.extractor == nil {
		return
	}

	entities, err := p.extractor.Extract(ctx, chunks)
	if err != nil {
		logger.Warn("entity extraction failed", "error_kind", "ExtractionFailure", "error", err)
		return
	}
	if len(entities) == 0 {
		return
	}
	if err := p.store.InsertEntities(ctx, entities); err != nil {
		logger.Warn("failed to persist extracted entities", "error_kind", "ExtractionFailure", "error", err)
	}
}

func (p *Pipeline) fail(ctx context.Context, logger *slog.Logger, docID, step string, err error) {
	logger.Error("ingestion step failed", "step", step, "error_kind", "IngestionStepFailure", "error", err)
	if updateErr := p.store.UpdateDocumentStatus(ctx, &store.UpdateDocumentStatus{
		ID:     docID,
		Status: store.DocumentStatusFailed,
	}); updateErr != nil {
		logger.Error("failed to mark document failed", "error", updateErr)
	}
	if p.metrics != nil {
		p.metrics.RecordIngestedDocument(string(store.DocumentStatusFailed))
	}
}
