package rag

import (
	"context"
	"sort"
	"strings"

	"github.com/kbforge/ragengine/store"
)

// RetrievalStrategy turns a query into a ranked source list. Implementations
// must be safe for concurrent use; each Search call is request-scoped.
type RetrievalStrategy interface {
	Name() string
	Search(ctx context.Context, query *Query) ([]*SourceChunk, error)
}

// Narrow store interfaces so strategies can be unit-tested against mocks.
// These are local interfaces to avoid circular dependencies.

// VectorSearcher is the vector-index side of the backing store.
type VectorSearcher interface {
	VectorSearch(ctx context.Context, opts *store.VectorSearchOptions) ([]*store.ChunkWithScore, error)
}

// FullTextSearcher is the keyword side of the backing store.
type FullTextSearcher interface {
	FullTextSearch(ctx context.Context, opts *store.FullTextSearchOptions) ([]*store.ChunkWithScore, error)
}

// EntityMatcher looks up extracted entities by query tokens.
type EntityMatcher interface {
	GetEntitiesMatching(ctx context.Context, find *store.FindEntitiesMatching) ([]*store.ExtractedEntity, error)
	GetChunksByIDs(ctx context.Context, ids []string) ([]*store.Chunk, error)
}

func toSourceChunk(hit *store.ChunkWithScore) *SourceChunk {
	return &SourceChunk{
		ID:         hit.Chunk.ID,
		DocumentID: hit.Chunk.DocumentID,
		Content:    hit.Chunk.Content,
		Metadata: ChunkMetadata{
			Title:     hit.Chunk.Title,
			Domain:    hit.Chunk.Domain,
			Source:    hit.Chunk.Source,
			Section:   hit.Chunk.Section,
			Page:      hit.Chunk.Page,
			UpdatedTs: hit.DocUpdatedTs,
		},
		SimilarityScore: hit.Score,
	}
}

// scored pairs a source with its owning document's update timestamp so that
// equal scores break ties deterministically toward fresher documents.
type scored struct {
	source       *SourceChunk
	docUpdatedTs int64
}

func sortScored(list []scored) {
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].source.SimilarityScore != list[j].source.SimilarityScore {
			return list[i].source.SimilarityScore > list[j].source.SimilarityScore
		}
		if list[i].docUpdatedTs != list[j].docUpdatedTs {
			return list[i].docUpdatedTs > list[j].docUpdatedTs
		}
		return list[i].source.ID < list[j].source.ID
	})
}

func takeSources(list []scored, limit int) []*SourceChunk {
	sortScored(list)
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	sources := make([]*SourceChunk, 0, len(list))
	for _, s := range list {
		sources = append(sources, s.source)
	}
	return sources
}

func maxResults(query *Query, cfg *Config) int {
	if query.MaxResults > 0 {
		return query.MaxResults
	}
	return cfg.DefaultMaxResults
}

func minScore(query *Query, cfg *Config) float32 {
	if query.SimilarityThreshold > 0 {
		return query.SimilarityThreshold
	}
	return cfg.MinScore
}

// queryTokens splits a query text into lowercase tokens for entity matching.
func queryTokens(text string) []string {
	fields := strings.Fields(strings.ToLower(text))
	tokens := make([]string, 0, len(fields))
	seen := map[string]bool{}
	for _, field := range fields {
		token := strings.Trim(field, ".,;:!?\"'()[]{}")
		if token == "" || seen[token] {
			continue
		}
		seen[token] = true
		tokens = append(tokens, token)
	}
	return tokens
}

// buildContext joins source contents into the prompt context string.
func buildContext(sources []*SourceChunk) string {
	if len(sources) == 0 {
		return ""
	}
	parts := make([]string, 0, len(sources))
	for _, source := range sources {
		parts = append(parts, source.Content)
	}
	return strings.Join(parts, "\n\n---\n\n")
}
