package rag

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kbforge/ragengine/store"
)

type stubEmbedder struct {
	vector []float32
	err    error
}

func (s *stubEmbedder) Embed(context.Context, string) ([]float32, error) {
	return s.vector, s.err
}

func (s *stubEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	vectors := make([][]float32, len(texts))
	for i := range texts {
		vectors[i] = s.vector
	}
	return vectors, nil
}

func (s *stubEmbedder) Dimensions() int { return len(s.vector) }

type stubVectorSearcher struct {
	hits  []*store.ChunkWithScore
	err   error
	delay time.Duration
}

func (s *stubVectorSearcher) VectorSearch(ctx context.Context, _ *store.VectorSearchOptions) ([]*store.ChunkWithScore, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.hits, s.err
}

type stubFullTextSearcher struct {
	hits  []*store.ChunkWithScore
	err   error
	delay time.Duration
}

func (s *stubFullTextSearcher) FullTextSearch(ctx context.Context, _ *store.FullTextSearchOptions) ([]*store.ChunkWithScore, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.hits, s.err
}

func hitFixture(id string, score float32, docUpdatedTs int64) *store.ChunkWithScore {
	return &store.ChunkWithScore{
		Chunk: &store.Chunk{
			ID:         id,
			DocumentID: "doc-" + id,
			Content:    "content " + id,
		},
		Score:        score,
		DocUpdatedTs: docUpdatedTs,
	}
}

func TestHybridStrategy_MergeKeepsHigherScore(t *testing.T) {
	vectors := &stubVectorSearcher{hits: []*store.ChunkWithScore{
		hitFixture("shared", 0.70, 100),
		hitFixture("vector-only", 0.60, 100),
	}}
	fulltext := &stubFullTextSearcher{hits: []*store.ChunkWithScore{
		hitFixture("shared", 0.90, 100),
		hitFixture("keyword-only", 0.50, 100),
	}}

	strategy := NewHybridStrategy(DefaultConfig(), &stubEmbedder{vector: []float32{1, 0}}, vectors, fulltext)
	sources, err := strategy.Search(context.Background(), &Query{Text: "q"})
	require.NoError(t, err)

	require.Len(t, sources, 3, "a chunk on both sides appears exactly once")
	assert.Equal(t, "shared", sources[0].ID)
	assert.Equal(t, float32(0.90), sources[0].SimilarityScore, "merge keeps the higher of the two scores")
	assert.Equal(t, "vector-only", sources[1].ID)
	assert.Equal(t, "keyword-only", sources[2].ID)
}

func TestHybridStrategy_EqualScoresPreferFresherDocument(t *testing.T) {
	vectors := &stubVectorSearcher{hits: []*store.ChunkWithScore{
		hitFixture("old", 0.8, 100),
		hitFixture("fresh", 0.8, 200),
	}}
	fulltext := &stubFullTextSearcher{}

	strategy := NewHybridStrategy(DefaultConfig(), &stubEmbedder{vector: []float32{1, 0}}, vectors, fulltext)
	sources, err := strategy.Search(context.Background(), &Query{Text: "q"})
	require.NoError(t, err)

	require.Len(t, sources, 2)
	assert.Equal(t, "fresh", sources[0].ID)
}

func TestHybridStrategy_SlowSubSearchContributesEmpty(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SubSearchTimeout = 30 * time.Millisecond

	vectors := &stubVectorSearcher{hits: []*store.ChunkWithScore{hitFixture("v1", 0.9, 100)}}
	fulltext := &stubFullTextSearcher{
		hits:  []*store.ChunkWithScore{hitFixture("k1", 0.8, 100)},
		delay: 200 * time.Millisecond,
	}

	strategy := NewHybridStrategy(cfg, &stubEmbedder{vector: []float32{1, 0}}, vectors, fulltext)
	sources, err := strategy.Search(context.Background(), &Query{Text: "q"})
	require.NoError(t, err, "a timed-out sub-search must not fail the query")

	require.Len(t, sources, 1)
	assert.Equal(t, "v1", sources[0].ID)
}

func TestHybridStrategy_FullTextHardFailureSurfaces(t *testing.T) {
	vectors := &stubVectorSearcher{hits: []*store.ChunkWithScore{hitFixture("v1", 0.9, 100)}}
	fulltext := &stubFullTextSearcher{err: errors.New("relational store down")}

	strategy := NewHybridStrategy(DefaultConfig(), &stubEmbedder{vector: []float32{1, 0}}, vectors, fulltext)
	_, err := strategy.Search(context.Background(), &Query{Text: "q"})
	assert.Error(t, err, "a hard full-text failure makes hybrid unavailable")
}

func TestHybridStrategy_VectorFailureStillServesKeywordSide(t *testing.T) {
	vectors := &stubVectorSearcher{err: errors.New("vector store down")}
	fulltext := &stubFullTextSearcher{hits: []*store.ChunkWithScore{hitFixture("k1", 0.8, 100)}}

	strategy := NewHybridStrategy(DefaultConfig(), &stubEmbedder{vector: []float32{1, 0}}, vectors, fulltext)
	sources, err := strategy.Search(context.Background(), &Query{Text: "q"})
	require.NoError(t, err)

	require.Len(t, sources, 1)
	assert.Equal(t, "k1", sources[0].ID)
}

func TestHybridStrategy_RespectsMaxResults(t *testing.T) {
	vectors := &stubVectorSearcher{hits: []*store.ChunkWithScore{
		hitFixture("a", 0.9, 100),
		hitFixture("b", 0.8, 100),
		hitFixture("c", 0.7, 100),
	}}
	fulltext := &stubFullTextSearcher{}

	strategy := NewHybridStrategy(DefaultConfig(), &stubEmbedder{vector: []float32{1, 0}}, vectors, fulltext)
	sources, err := strategy.Search(context.Background(), &Query{Text: "q", MaxResults: 2})
	require.NoError(t, err)
	assert.Len(t, sources, 2)
}
