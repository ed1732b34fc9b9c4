package rag

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kbforge/ragengine/rag/ingest"
	"github.com/kbforge/ragengine/rag/metrics"
	"github.com/kbforge/ragengine/store"
)

// memBackingStore is an in-memory dual store: relational rows and a vector
// index side by side, like the real drivers but without SQL.
type memBackingStore struct {
	mu      sync.Mutex
	docs    map[string]*store.Document
	chunks  []*store.Chunk
	vectors map[string][]float32
}

func newMemBackingStore() *memBackingStore {
	return &memBackingStore{
		docs:    map[string]*store.Document{},
		vectors: map[string][]float32{},
	}
}

func (m *memBackingStore) CreateDocument(_ context.Context, create *store.Document) (*store.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[create.ID] = create
	return create, nil
}

func (m *memBackingStore) UpdateDocumentStatus(_ context.Context, update *store.UpdateDocumentStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc := m.docs[update.ID]
	doc.Status = update.Status
	if update.ChunkCount != nil {
		doc.ChunkCount = *update.ChunkCount
	}
	return nil
}

func (m *memBackingStore) InsertChunks(_ context.Context, chunks []*store.Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chunks = append(m.chunks, chunks...)
	return nil
}

func (m *memBackingStore) UpsertChunkVectors(_ context.Context, chunks []*store.Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, chunk := range chunks {
		m.vectors[chunk.ID] = chunk.Embedding
	}
	return nil
}

func (m *memBackingStore) InsertEntities(context.Context, []*store.ExtractedEntity) error {
	return nil
}

func (m *memBackingStore) completed(chunk *store.Chunk) bool {
	doc, ok := m.docs[chunk.DocumentID]
	return ok && doc.Status == store.DocumentStatusCompleted
}

func (m *memBackingStore) VectorSearch(_ context.Context, opts *store.VectorSearchOptions) ([]*store.ChunkWithScore, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	hits := []*store.ChunkWithScore{}
	for _, chunk := range m.chunks {
		if !m.completed(chunk) {
			continue
		}
		vector, ok := m.vectors[chunk.ID]
		if !ok {
			continue
		}
		score := dot(opts.Vector, vector)
		if score < opts.MinScore {
			continue
		}
		hits = append(hits, &store.ChunkWithScore{
			Chunk:        chunk,
			Score:        score,
			DocUpdatedTs: m.docs[chunk.DocumentID].UpdatedTs,
		})
	}
	return hits, nil
}

func (m *memBackingStore) FullTextSearch(_ context.Context, opts *store.FullTextSearchOptions) ([]*store.ChunkWithScore, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	terms := strings.Fields(strings.ToLower(opts.Query))
	hits := []*store.ChunkWithScore{}
	for _, chunk := range m.chunks {
		if !m.completed(chunk) {
			continue
		}
		content := strings.ToLower(chunk.Content)
		matched := 0
		for _, term := range terms {
			if strings.Contains(content, term) {
				matched++
			}
		}
		if matched == 0 {
			continue
		}
		hits = append(hits, &store.ChunkWithScore{
			Chunk:        chunk,
			Score:        float32(matched),
			DocUpdatedTs: m.docs[chunk.DocumentID].UpdatedTs,
		})
	}
	return hits, nil
}

func dot(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// topicEmbedder maps texts about glucose or diabetes onto one unit vector
// and everything else onto an orthogonal one, so paraphrases about the same
// topic score 1.0 and unrelated text scores 0.
type topicEmbedder struct{}

func (topicEmbedder) embed(text string) []float32 {
	lower := strings.ToLower(text)
	if strings.Contains(lower, "glucose") || strings.Contains(lower, "diabetes") {
		return []float32{1, 0}
	}
	return []float32{0, 1}
}

func (e topicEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	return e.embed(text), nil
}

func (e topicEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = e.embed(text)
	}
	return vectors, nil
}

func (topicEmbedder) Dimensions() int { return 2 }

func TestIngestionQueryRoundTrip(t *testing.T) {
	ctx := context.Background()
	backing := newMemBackingStore()
	embedder := topicEmbedder{}

	pipeline := ingest.NewPipeline(backing, embedder, ingest.NewChunker(200, 40), nil, nil)
	docID, err := pipeline.AddDocument(ctx, &ingest.AddDocumentRequest{
		Title:   "Diabetes Care Guide",
		Content: "Regular diabetes monitoring is essential. Clinicians recommend checking glucose after meals.",
		Domain:  "endocrinology",
	})
	require.NoError(t, err)
	pipeline.Close()

	cfg := DefaultConfig()
	engine := NewEngine(cfg, nil, metrics.New(),
		NewSemanticStrategy(cfg, embedder, backing),
		NewKeywordStrategy(cfg, backing),
		NewHybridStrategy(cfg, embedder, backing, backing),
	)

	t.Run("keyword query returns the exact-phrase chunk first", func(t *testing.T) {
		result := engine.Query(ctx, &Query{Text: "diabetes monitoring", Strategy: StrategyKeyword})
		require.Empty(t, result.Metadata.ErrorKind)
		require.NotEmpty(t, result.Sources)
		assert.Equal(t, docID, result.Sources[0].DocumentID)
		assert.Contains(t, result.Sources[0].Content, "diabetes monitoring")
	})

	t.Run("semantic paraphrase finds the same chunk above threshold", func(t *testing.T) {
		result := engine.Query(ctx, &Query{
			Text:                "patient glucose tracking",
			Strategy:            StrategySemantic,
			SimilarityThreshold: 0.7,
		})
		require.Empty(t, result.Metadata.ErrorKind)
		require.NotEmpty(t, result.Sources)
		assert.Equal(t, docID, result.Sources[0].DocumentID)
		assert.GreaterOrEqual(t, result.Sources[0].SimilarityScore, float32(0.7))
	})

	t.Run("result context concatenates source content", func(t *testing.T) {
		result := engine.Query(ctx, &Query{Text: "diabetes monitoring", Strategy: StrategyKeyword})
		assert.Contains(t, result.Context, "diabetes")
	})
}
