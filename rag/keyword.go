package rag

import (
	"context"

	"github.com/pkg/errors"

	"github.com/kbforge/ragengine/store"
)

// KeywordStrategy runs relational full-text search; no embedding call.
type KeywordStrategy struct {
	cfg      *Config
	fulltext FullTextSearcher
}

func NewKeywordStrategy(cfg *Config, fulltext FullTextSearcher) *KeywordStrategy {
	return &KeywordStrategy{cfg: cfg, fulltext: fulltext}
}

func (s *KeywordStrategy) Name() string {
	return StrategyKeyword
}

func (s *KeywordStrategy) Search(ctx context.Context, query *Query) ([]*SourceChunk, error) {
	opts := &store.FullTextSearchOptions{
		Query: query.Text,
		Limit: maxResults(query, s.cfg),
	}
	if query.Domain != "" {
		domain := query.Domain
		opts.Domain = &domain
	}

	hits, err := s.fulltext.FullTextSearch(ctx, opts)
	if err != nil {
		return nil, errors.Wrap(err, "full-text search failed")
	}

	list := make([]scored, 0, len(hits))
	for _, hit := range hits {
		list = append(list, scored{source: toSourceChunk(hit), docUpdatedTs: hit.DocUpdatedTs})
	}
	return takeSources(list, maxResults(query, s.cfg)), nil
}
