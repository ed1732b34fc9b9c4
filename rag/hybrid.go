package rag

import (
	"context"
	"log/slog"
	"time"

	"github.com/pkg/errors"

	"github.com/kbforge/ragengine/store"
)

// HybridStrategy issues the vector search and the full-text search in
// parallel and merges by chunk ID, preferring the higher score when a chunk
// appears on both sides.
type HybridStrategy struct {
	cfg      *Config
	embedder EmbeddingService
	vectors  VectorSearcher
	fulltext FullTextSearcher
}

func NewHybridStrategy(cfg *Config, embedder EmbeddingService, vectors VectorSearcher, fulltext FullTextSearcher) *HybridStrategy {
	return &HybridStrategy{cfg: cfg, embedder: embedder, vectors: vectors, fulltext: fulltext}
}

func (s *HybridStrategy) Name() string {
	return StrategyHybrid
}

type subSearchResult struct {
	hits []*store.ChunkWithScore
	err  error
}

// runSubSearch runs fn under the sub-search timeout. A deadline hit is
// reported as a nil result, not an error, so one slow store cannot fail the
// whole query.
func runSubSearch(ctx context.Context, timeout time.Duration, name string, fn func(ctx context.Context) ([]*store.ChunkWithScore, error)) <-chan subSearchResult {
	out := make(chan subSearchResult, 1)
	go func() {
		subCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		hits, err := fn(subCtx)
		if err != nil && errors.Is(err, context.DeadlineExceeded) {
			slog.Warn("sub-search timed out, contributing empty results", "search", name, "timeout", timeout)
			out <- subSearchResult{hits: nil, err: nil}
			return
		}
		out <- subSearchResult{hits: hits, err: err}
	}()
	return out
}

func (s *HybridStrategy) Search(ctx context.Context, query *Query) ([]*SourceChunk, error) {
	limit := maxResults(query, s.cfg)

	vectorCh := runSubSearch(ctx, s.cfg.SubSearchTimeout, "vector", func(subCtx context.Context) ([]*store.ChunkWithScore, error) {
		vector, err := s.embedder.Embed(subCtx, query.Text)
		if err != nil {
			return nil, errors.Wrap(err, "failed to embed query")
		}
		opts := &store.VectorSearchOptions{
			Vector:   vector,
			Limit:    limit,
			MinScore: minScore(query, s.cfg),
		}
		if query.Domain != "" {
			opts.Domains = []string{query.Domain}
		}
		return s.vectors.VectorSearch(subCtx, opts)
	})

	keywordCh := runSubSearch(ctx, s.cfg.SubSearchTimeout, "keyword", func(subCtx context.Context) ([]*store.ChunkWithScore, error) {
		opts := &store.FullTextSearchOptions{Query: query.Text, Limit: limit}
		if query.Domain != "" {
			domain := query.Domain
			opts.Domain = &domain
		}
		return s.fulltext.FullTextSearch(subCtx, opts)
	})

	vectorResult := <-vectorCh
	keywordResult := <-keywordCh

	// A hard full-text failure makes hybrid unavailable; the engine falls
	// back to pure semantic retrieval. A vector failure only costs the
	// vector contribution since the keyword side can still serve.
	if keywordResult.err != nil {
		return nil, errors.Wrap(keywordResult.err, "full-text search failed")
	}
	if vectorResult.err != nil {
		slog.Warn("vector sub-search failed, merging keyword results only", "error", vectorResult.err)
		vectorResult.hits = nil
	}

	return mergeByChunkID(limit, vectorResult.hits, keywordResult.hits), nil
}

// mergeByChunkID merges ranked hit lists, keeping one entry per chunk with
// the higher score.
func mergeByChunkID(limit int, lists ...[]*store.ChunkWithScore) []*SourceChunk {
	merged := map[string]scored{}
	for _, hits := range lists {
		for _, hit := range hits {
			existing, ok := merged[hit.Chunk.ID]
			if ok && existing.source.SimilarityScore >= hit.Score {
				continue
			}
			merged[hit.Chunk.ID] = scored{source: toSourceChunk(hit), docUpdatedTs: hit.DocUpdatedTs}
		}
	}

	list := make([]scored, 0, len(merged))
	for _, s := range merged {
		list = append(list, s)
	}
	return takeSources(list, limit)
}
