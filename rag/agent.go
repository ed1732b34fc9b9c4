package rag

import (
	"context"

	"github.com/pkg/errors"

	"github.com/kbforge/ragengine/store"
)

// AgentStrategy is semantic retrieval scoped to the agent's registered
// knowledge domains, with a relevance boost for chunks in the agent's
// primary domain.
type AgentStrategy struct {
	cfg      *Config
	embedder EmbeddingService
	vectors  VectorSearcher
}

func NewAgentStrategy(cfg *Config, embedder EmbeddingService, vectors VectorSearcher) *AgentStrategy {
	return &AgentStrategy{cfg: cfg, embedder: embedder, vectors: vectors}
}

func (s *AgentStrategy) Name() string {
	return StrategyAgent
}

func (s *AgentStrategy) Search(ctx context.Context, query *Query) ([]*SourceChunk, error) {
	vector, err := s.embedder.Embed(ctx, query.Text)
	if err != nil {
		return nil, errors.Wrap(err, "failed to embed query")
	}

	opts := &store.VectorSearchOptions{
		Vector:   vector,
		Limit:    maxResults(query, s.cfg),
		MinScore: minScore(query, s.cfg),
		Domains:  s.cfg.AgentDomains[query.AgentID],
	}
	if len(opts.Domains) == 0 && query.Domain != "" {
		opts.Domains = []string{query.Domain}
	}

	hits, err := s.vectors.VectorSearch(ctx, opts)
	if err != nil {
		return nil, errors.Wrap(err, "vector search failed")
	}

	primaryDomain := s.cfg.AgentPrimaryDomain[query.AgentID]

	list := make([]scored, 0, len(hits))
	for _, hit := range hits {
		source := toSourceChunk(hit)
		if primaryDomain != "" && source.Metadata.Domain == primaryDomain {
			source.SimilarityScore += s.cfg.DomainBoost
		}
		list = append(list, scored{source: source, docUpdatedTs: hit.DocUpdatedTs})
	}
	return takeSources(list, maxResults(query, s.cfg)), nil
}
