package rag

import (
	"context"
	"log/slog"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/kbforge/ragengine/store"
)

// EntityAwareStrategy merges vector, keyword and entity-match retrieval.
// Chunks reached through entity matches carry the matched entity texts.
type EntityAwareStrategy struct {
	cfg      *Config
	embedder EmbeddingService
	vectors  VectorSearcher
	fulltext FullTextSearcher
	entities EntityMatcher
}

func NewEntityAwareStrategy(cfg *Config, embedder EmbeddingService, vectors VectorSearcher, fulltext FullTextSearcher, entities EntityMatcher) *EntityAwareStrategy {
	return &EntityAwareStrategy{
		cfg:      cfg,
		embedder: embedder,
		vectors:  vectors,
		fulltext: fulltext,
		entities: entities,
	}
}

func (s *EntityAwareStrategy) Name() string {
	return StrategyEntityAware
}

func (s *EntityAwareStrategy) Search(ctx context.Context, query *Query) ([]*SourceChunk, error) {
	limit := maxResults(query, s.cfg)

	var vectorHits, keywordHits []*store.ChunkWithScore
	var entityHits []*store.ChunkWithScore
	var matchedByChunk map[string][]string

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		result := <-runSubSearch(gctx, s.cfg.SubSearchTimeout, "vector", func(subCtx context.Context) ([]*store.ChunkWithScore, error) {
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
		vectorHits = result.hits
		return result.err
	})

	g.Go(func() error {
		result := <-runSubSearch(gctx, s.cfg.SubSearchTimeout, "keyword", func(subCtx context.Context) ([]*store.ChunkWithScore, error) {
			opts := &store.FullTextSearchOptions{Query: query.Text, Limit: limit}
			if query.Domain != "" {
				domain := query.Domain
				opts.Domain = &domain
			}
			return s.fulltext.FullTextSearch(subCtx, opts)
		})
		keywordHits = result.hits
		return result.err
	})

	g.Go(func() error {
		hits, matched, err := s.entityMatch(gctx, query, limit)
		if err != nil {
			return err
		}
		entityHits = hits
		matchedByChunk = matched
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	sources := mergeByChunkID(limit, vectorHits, keywordHits, entityHits)
	for _, source := range sources {
		if matched, ok := matchedByChunk[source.ID]; ok {
			source.MatchedEntities = matched
		}
	}
	return sources, nil
}

// entityMatch looks up extracted entities for query tokens and hydrates
// their owning chunks. An entity row whose chunk no longer exists is
// dropped and logged.
func (s *EntityAwareStrategy) entityMatch(ctx context.Context, query *Query, limit int) ([]*store.ChunkWithScore, map[string][]string, error) {
	tokens := queryTokens(query.Text)
	if len(tokens) == 0 {
		return nil, nil, nil
	}

	entities, err := s.entities.GetEntitiesMatching(ctx, &store.FindEntitiesMatching{Tokens: tokens, Limit: limit * 4})
	if err != nil {
		return nil, nil, errors.Wrap(err, "entity lookup failed")
	}
	if len(entities) == 0 {
		return nil, nil, nil
	}

	matchedByChunk := map[string][]string{}
	scoreByChunk := map[string]float32{}
	chunkIDs := []string{}
	for _, entity := range entities {
		if _, ok := matchedByChunk[entity.ChunkID]; !ok {
			chunkIDs = append(chunkIDs, entity.ChunkID)
		}
		matchedByChunk[entity.ChunkID] = append(matchedByChunk[entity.ChunkID], entity.Text)
		if entity.Confidence > scoreByChunk[entity.ChunkID] {
			scoreByChunk[entity.ChunkID] = entity.Confidence
		}
	}

	chunks, err := s.entities.GetChunksByIDs(ctx, chunkIDs)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to hydrate entity-matched chunks")
	}

	byID := map[string]*store.Chunk{}
	for _, chunk := range chunks {
		byID[chunk.ID] = chunk
	}

	hits := make([]*store.ChunkWithScore, 0, len(chunkIDs))
	for _, id := range chunkIDs {
		chunk, ok := byID[id]
		if !ok {
			slog.Warn("dropping entity match without chunk", "chunk_id", id)
			delete(matchedByChunk, id)
			continue
		}
		hits = append(hits, &store.ChunkWithScore{
			Chunk: chunk,
			Score: scoreByChunk[id],
		})
	}
	return hits, matchedByChunk, nil
}
