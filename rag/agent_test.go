package rag

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kbforge/ragengine/store"
)

type recordingVectorSearcher struct {
	stubVectorSearcher
	lastOpts *store.VectorSearchOptions
}

func (s *recordingVectorSearcher) VectorSearch(ctx context.Context, opts *store.VectorSearchOptions) ([]*store.ChunkWithScore, error) {
	s.lastOpts = opts
	return s.stubVectorSearcher.VectorSearch(ctx, opts)
}

func TestAgentStrategy_ScopesToAgentDomains(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AgentDomains = map[string][]string{"medbot": {"cardiology", "endocrinology"}}

	vectors := &recordingVectorSearcher{}
	strategy := NewAgentStrategy(cfg, &stubEmbedder{vector: []float32{1, 0}}, vectors)

	_, err := strategy.Search(context.Background(), &Query{Text: "q", AgentID: "medbot"})
	require.NoError(t, err)
	require.NotNil(t, vectors.lastOpts)
	assert.Equal(t, []string{"cardiology", "endocrinology"}, vectors.lastOpts.Domains)
}

func TestAgentStrategy_BoostsPrimaryDomainAndResorts(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AgentDomains = map[string][]string{"medbot": {"cardiology", "endocrinology"}}
	cfg.AgentPrimaryDomain = map[string]string{"medbot": "endocrinology"}

	primary := hitFixture("primary", 0.80, 100)
	primary.Chunk.Domain = "endocrinology"
	other := hitFixture("other", 0.83, 100)
	other.Chunk.Domain = "cardiology"

	vectors := &recordingVectorSearcher{stubVectorSearcher: stubVectorSearcher{
		hits: []*store.ChunkWithScore{other, primary},
	}}
	strategy := NewAgentStrategy(cfg, &stubEmbedder{vector: []float32{1, 0}}, vectors)

	sources, err := strategy.Search(context.Background(), &Query{Text: "q", AgentID: "medbot"})
	require.NoError(t, err)
	require.Len(t, sources, 2)

	// 0.80 + 0.05 boost outranks 0.83.
	assert.Equal(t, "primary", sources[0].ID)
	assert.InDelta(t, 0.85, float64(sources[0].SimilarityScore), 1e-6)
	assert.Equal(t, "other", sources[1].ID)
	assert.InDelta(t, 0.83, float64(sources[1].SimilarityScore), 1e-6)
}

func TestAgentStrategy_UnknownAgentFallsBackToQueryDomain(t *testing.T) {
	cfg := DefaultConfig()

	vectors := &recordingVectorSearcher{}
	strategy := NewAgentStrategy(cfg, &stubEmbedder{vector: []float32{1, 0}}, vectors)

	_, err := strategy.Search(context.Background(), &Query{Text: "q", AgentID: "stranger", Domain: "legal"})
	require.NoError(t, err)
	require.NotNil(t, vectors.lastOpts)
	assert.Equal(t, []string{"legal"}, vectors.lastOpts.Domains)
}
