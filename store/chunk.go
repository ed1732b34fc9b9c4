package store

import "context"

// Chunk is a fixed-size slice of a document's text, the unit of embedding
// and retrieval. The chunk ID is the join key between the relational row
// and the vector index entry; the two copies must agree or the vector hit
// is considered stale and dropped.
type Chunk struct {
	ID         string
	DocumentID string
	Index      int
	Content    string
	Embedding  []float32
	Title      string
	Domain     string
	Source     string
	Section    string
	Page       int
	CreatedTs  int64
}

// ChunkWithScore is a chunk returned by a search, with its relevance score
// and the owning document's update timestamp for deterministic tie-breaks.
type ChunkWithScore struct {
	Chunk        *Chunk
	Score        float32
	DocUpdatedTs int64
}

// FullTextSearchOptions configures a keyword search over chunk content.
type FullTextSearchOptions struct {
	Query  string
	Domain *string
	Limit  int
}

// VectorSearchOptions configures a nearest-neighbor search over chunk embeddings.
// Domains, when set, restricts hits to chunks whose domain is in the list.
type VectorSearchOptions struct {
	Vector   []float32
	Domains  []string
	Limit    int
	MinScore float32
}

// VectorStats reports the size of the vector index.
type VectorStats struct {
	Count      int64
	Dimensions int
}

func (s *Store) InsertChunks(ctx context.Context, chunks []*Chunk) error {
	return s.driver.InsertChunks(ctx, chunks)
}

func (s *Store) GetChunksByIDs(ctx context.Context, ids []string) ([]*Chunk, error) {
	if len(ids) == 0 {
		return []*Chunk{}, nil
	}
	return s.driver.GetChunksByIDs(ctx, ids)
}

func (s *Store) FullTextSearch(ctx context.Context, opts *FullTextSearchOptions) ([]*ChunkWithScore, error) {
	return s.driver.FullTextSearch(ctx, opts)
}

// UpsertChunkVectors writes the vector-index side of the dual write. It is
// separate from InsertChunks so a vector failure after a successful relational
// insert is observable (the document is marked failed, rows left in place).
func (s *Store) UpsertChunkVectors(ctx context.Context, chunks []*Chunk) error {
	return s.driver.UpsertChunkVectors(ctx, chunks)
}

func (s *Store) VectorSearch(ctx context.Context, opts *VectorSearchOptions) ([]*ChunkWithScore, error) {
	return s.driver.VectorSearch(ctx, opts)
}

func (s *Store) VectorStats(ctx context.Context) (*VectorStats, error) {
	return s.driver.VectorStats(ctx)
}
