package rag

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kbforge/ragengine/store"
)

type stubEntityMatcher struct {
	entities []*store.ExtractedEntity
	chunks   []*store.Chunk
	err      error
}

func (s *stubEntityMatcher) GetEntitiesMatching(context.Context, *store.FindEntitiesMatching) ([]*store.ExtractedEntity, error) {
	return s.entities, s.err
}

func (s *stubEntityMatcher) GetChunksByIDs(context.Context, []string) ([]*store.Chunk, error) {
	return s.chunks, nil
}

func TestEntityAwareStrategy_AnnotatesMatchedEntities(t *testing.T) {
	vectors := &stubVectorSearcher{hits: []*store.ChunkWithScore{hitFixture("v1", 0.9, 100)}}
	fulltext := &stubFullTextSearcher{}
	entities := &stubEntityMatcher{
		entities: []*store.ExtractedEntity{
			{ChunkID: "e1", Text: "metformin", Confidence: 0.95},
			{ChunkID: "e1", Text: "insulin", Confidence: 0.80},
		},
		chunks: []*store.Chunk{{ID: "e1", DocumentID: "doc-e1", Content: "dosage guidance"}},
	}

	strategy := NewEntityAwareStrategy(DefaultConfig(), &stubEmbedder{vector: []float32{1, 0}}, vectors, fulltext, entities)
	sources, err := strategy.Search(context.Background(), &Query{Text: "metformin dosage"})
	require.NoError(t, err)
	require.Len(t, sources, 2)

	byID := map[string]*SourceChunk{}
	for _, source := range sources {
		byID[source.ID] = source
	}
	require.Contains(t, byID, "e1")
	assert.ElementsMatch(t, []string{"metformin", "insulin"}, byID["e1"].MatchedEntities)
	assert.Equal(t, float32(0.95), byID["e1"].SimilarityScore, "entity hit scores by its highest-confidence entity")
	assert.Empty(t, byID["v1"].MatchedEntities)
}

func TestEntityAwareStrategy_ThreeWayMergeDeduplicates(t *testing.T) {
	vectors := &stubVectorSearcher{hits: []*store.ChunkWithScore{hitFixture("shared", 0.70, 100)}}
	fulltext := &stubFullTextSearcher{hits: []*store.ChunkWithScore{hitFixture("shared", 0.60, 100)}}
	entities := &stubEntityMatcher{
		entities: []*store.ExtractedEntity{{ChunkID: "shared", Text: "glucose", Confidence: 0.99}},
		chunks:   []*store.Chunk{{ID: "shared", DocumentID: "doc-shared", Content: "content shared"}},
	}

	strategy := NewEntityAwareStrategy(DefaultConfig(), &stubEmbedder{vector: []float32{1, 0}}, vectors, fulltext, entities)
	sources, err := strategy.Search(context.Background(), &Query{Text: "glucose"})
	require.NoError(t, err)

	require.Len(t, sources, 1)
	assert.Equal(t, float32(0.99), sources[0].SimilarityScore)
	assert.Equal(t, []string{"glucose"}, sources[0].MatchedEntities)
}

func TestEntityAwareStrategy_EntityLookupFailureSurfaces(t *testing.T) {
	vectors := &stubVectorSearcher{}
	fulltext := &stubFullTextSearcher{}
	entities := &stubEntityMatcher{err: errors.New("entity table gone")}

	strategy := NewEntityAwareStrategy(DefaultConfig(), &stubEmbedder{vector: []float32{1, 0}}, vectors, fulltext, entities)
	_, err := strategy.Search(context.Background(), &Query{Text: "glucose"})
	assert.Error(t, err, "an entity subsystem failure lets the engine fall back to hybrid")
}

func TestEntityAwareStrategy_DropsEntityMatchWithoutChunk(t *testing.T) {
	vectors := &stubVectorSearcher{}
	fulltext := &stubFullTextSearcher{}
	entities := &stubEntityMatcher{
		entities: []*store.ExtractedEntity{{ChunkID: "gone", Text: "glucose", Confidence: 0.9}},
		chunks:   nil,
	}

	strategy := NewEntityAwareStrategy(DefaultConfig(), &stubEmbedder{vector: []float32{1, 0}}, vectors, fulltext, entities)
	sources, err := strategy.Search(context.Background(), &Query{Text: "glucose"})
	require.NoError(t, err)
	assert.Empty(t, sources)
}
