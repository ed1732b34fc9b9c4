package rag

import (
	"context"

	"github.com/pkg/errors"

	"github.com/kbforge/ragengine/store"
)

// SemanticStrategy embeds the query and runs nearest-neighbor search over
// chunk embeddings.
type SemanticStrategy struct {
	cfg      *Config
	embedder EmbeddingService
	vectors  VectorSearcher
}

func NewSemanticStrategy(cfg *Config, embedder EmbeddingService, vectors VectorSearcher) *SemanticStrategy {
	return &SemanticStrategy{cfg: cfg, embedder: embedder, vectors: vectors}
}

func (s *SemanticStrategy) Name() string {
	return StrategySemantic
}

func (s *SemanticStrategy) Search(ctx context.Context, query *Query) ([]*SourceChunk, error) {
	vector, err := s.embedder.Embed(ctx, query.Text)
	if err != nil {
		return nil, errors.Wrap(err, "failed to embed query")
	}

	opts := &store.VectorSearchOptions{
		Vector:   vector,
		Limit:    maxResults(query, s.cfg),
		MinScore: minScore(query, s.cfg),
	}
	if query.Domain != "" {
		opts.Domains = []string{query.Domain}
	}

	hits, err := s.vectors.VectorSearch(ctx, opts)
	if err != nil {
		return nil, errors.Wrap(err, "vector search failed")
	}

	list := make([]scored, 0, len(hits))
	for _, hit := range hits {
		list = append(list, scored{source: toSourceChunk(hit), docUpdatedTs: hit.DocUpdatedTs})
	}
	return takeSources(list, maxResults(query, s.cfg)), nil
}
