package rag

import "time"

// Strategy names accepted in Query.Strategy and reported in result metadata.
const (
	StrategySemantic    = "semantic"
	StrategyKeyword     = "keyword"
	StrategyHybrid      = "hybrid"
	StrategyAgent       = "agent"
	StrategyEntityAware = "entity-aware"

	// StrategyError is reported when retrieval failed terminally; the result
	// carries an ErrorKind and no sources.
	StrategyError = "error"
)

// Error kinds surfaced in ResultMetadata.ErrorKind. Retrieval errors never
// cross the public API as Go errors; callers inspect the result instead.
const (
	ErrorKindCacheUnavailable    = "CacheUnavailable"
	ErrorKindStrategyUnavailable = "StrategyUnavailable"
	ErrorKindStoreTimeout        = "StoreTimeout"
	ErrorKindIngestionFailure    = "IngestionStepFailure"
	ErrorKindExtractionFailure   = "ExtractionFailure"
)

// Query is the immutable input to the engine.
type Query struct {
	Text                string  `json:"text"`
	AgentID             string  `json:"agentId,omitempty"`
	UserID              string  `json:"userId,omitempty"`
	Domain              string  `json:"domain,omitempty"`
	Phase               string  `json:"phase,omitempty"`
	MaxResults          int     `json:"maxResults,omitempty"`
	SimilarityThreshold float32 `json:"similarityThreshold,omitempty"`
	Strategy            string  `json:"strategy,omitempty"`
	IncludeMetadata     bool    `json:"includeMetadata,omitempty"`
}

// ChunkMetadata carries the descriptive fields of a source chunk. Extra is
// the escape hatch for forward-compatible fields; known fields stay typed.
type ChunkMetadata struct {
	Title     string            `json:"title,omitempty"`
	Domain    string            `json:"domain,omitempty"`
	Source    string            `json:"source,omitempty"`
	Section   string            `json:"section,omitempty"`
	Page      int               `json:"page,omitempty"`
	UpdatedTs int64             `json:"updatedTs,omitempty"`
	Extra     map[string]string `json:"extra,omitempty"`
}

// SourceChunk is one retrieved passage. MatchedEntities is populated only by
// entity-aware retrieval.
type SourceChunk struct {
	ID              string        `json:"id"`
	DocumentID      string        `json:"documentId"`
	Content         string        `json:"content"`
	Embedding       []float32     `json:"embedding,omitempty"`
	Metadata        ChunkMetadata `json:"metadata"`
	SimilarityScore float32       `json:"similarityScore,omitempty"`
	MatchedEntities []string      `json:"matchedEntities,omitempty"`
}

// ResultMetadata describes how a result was produced.
type ResultMetadata struct {
	Strategy       string  `json:"strategy"`
	ResponseTimeMs int64   `json:"responseTimeMs"`
	Cached         bool    `json:"cached"`
	Similarity     float32 `json:"similarity,omitempty"`
	TotalSources   int     `json:"totalSources"`
	ErrorKind      string  `json:"errorKind,omitempty"`
}

// RAGResult is the value returned for every query. It is created fresh per
// query and never mutated after return.
type RAGResult struct {
	Sources  []*SourceChunk `json:"sources"`
	Context  string         `json:"context"`
	Metadata ResultMetadata `json:"metadata"`
}

// Config tunes the engine and its strategies.
type Config struct {
	// DefaultStrategy is used when a query names no strategy. Unknown
	// strategy names also fall back to it.
	DefaultStrategy string

	// DefaultMaxResults bounds result size when the query does not.
	DefaultMaxResults int

	// MinScore is the vector-search floor applied when the query carries no
	// similarity threshold.
	MinScore float32

	// SemanticCacheThreshold is the cosine-similarity floor for semantic
	// cache hits.
	SemanticCacheThreshold float32

	// CacheTTL is the lifetime of cache entries written on query success.
	CacheTTL time.Duration

	// SubSearchTimeout bounds each parallel sub-search inside hybrid and
	// entity-aware retrieval. A timed-out sub-search contributes an empty
	// result set instead of failing the query.
	SubSearchTimeout time.Duration

	// AgentDomains maps an agent ID to its registered knowledge domains.
	AgentDomains map[string][]string

	// AgentPrimaryDomain maps an agent ID to the domain whose chunks get the
	// relevance boost.
	AgentPrimaryDomain map[string]string

	// DomainBoost is added to the similarity of chunks matching the agent's
	// primary domain before re-sorting.
	DomainBoost float32

	// EntityExtractionEnabled gates the entity-aware strategy. When false,
	// entity-aware queries are served by hybrid.
	EntityExtractionEnabled bool
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() *Config {
	return &Config{
		DefaultStrategy:        StrategyHybrid,
		DefaultMaxResults:      10,
		MinScore:               0.5,
		SemanticCacheThreshold: 0.85,
		CacheTTL:               time.Hour,
		SubSearchTimeout:       10 * time.Second,
		DomainBoost:            0.05,
	}
}

func (c *Config) normalize() {
	if c.DefaultStrategy == "" {
		c.DefaultStrategy = StrategyHybrid
	}
	if c.DefaultMaxResults <= 0 {
		c.DefaultMaxResults = 10
	}
	if c.SemanticCacheThreshold <= 0 || c.SemanticCacheThreshold > 1 {
		c.SemanticCacheThreshold = 0.85
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = time.Hour
	}
	if c.SubSearchTimeout <= 0 {
		c.SubSearchTimeout = 10 * time.Second
	}
	if c.DomainBoost <= 0 {
		c.DomainBoost = 0.05
	}
}
