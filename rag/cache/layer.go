// Package cache implements the layered query cache: an exact-match layer
// keyed by a hash of the normalized query text and a semantic layer matched
// by embedding cosine similarity, both in front of a pluggable key-value
// store. Payloads are opaque bytes; the engine owns their encoding.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"
)

const (
	exactKeyPrefix    = "rag:exact:"
	semanticKeyPrefix = "rag:sem:"
)

// Embedder generates the vector for a semantic cache probe. This is a local
// interface to avoid circular dependencies.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// EvictionObserver is notified when the size bound evicts entries.
type EvictionObserver interface {
	RecordCacheEviction(n int)
}

// Config tunes the cache layer.
type Config struct {
	// MaxSize bounds each cache type (exact, semantic) across all strategy
	// namespaces. Overflow evicts the least-recently-accessed entries.
	MaxSize int

	// DefaultTTL applies when a write carries no TTL.
	DefaultTTL time.Duration

	// LocalCapacity and LocalTTL size the in-process LRU fronting the remote
	// store for exact payloads.
	LocalCapacity int
	LocalTTL      time.Duration
}

func (c *Config) normalize() {
	if c.MaxSize <= 0 {
		c.MaxSize = 10000
	}
	if c.DefaultTTL <= 0 {
		c.DefaultTTL = time.Hour
	}
	if c.LocalCapacity <= 0 {
		c.LocalCapacity = 512
	}
	if c.LocalTTL <= 0 {
		c.LocalTTL = time.Minute
	}
}

// cacheEntry is the stored form of an exact-match entry. Hit bookkeeping is
// mutated on every hit; the payload never is.
type cacheEntry struct {
	Payload        []byte    `json:"payload"`
	CreatedAt      time.Time `json:"createdAt"`
	TTLSeconds     int64     `json:"ttlSeconds"`
	HitCount       int64     `json:"hitCount"`
	LastAccessedAt time.Time `json:"lastAccessedAt"`
}

// semanticEntry references the exact entry's payload by key instead of
// duplicating it; the exact entry is the payload's longest holder.
type semanticEntry struct {
	OriginalQuery  string    `json:"originalQuery"`
	Embedding      []float32 `json:"embedding"`
	PayloadKey     string    `json:"payloadKey"`
	CreatedAt      time.Time `json:"createdAt"`
	TTLSeconds     int64     `json:"ttlSeconds"`
	HitCount       int64     `json:"hitCount"`
	LastAccessedAt time.Time `json:"lastAccessedAt"`
}

// Layer is the two-layer cache. Every failure of the backing store is
// logged and treated as a miss; caching never fails a query.
type Layer struct {
	store    Store
	embedder Embedder
	cfg      Config
	local    *LRUCache[string, []byte]
	observer EvictionObserver
}

// NewLayer builds the cache layer. observer may be nil.
func NewLayer(store Store, embedder Embedder, cfg Config, observer EvictionObserver) *Layer {
	cfg.normalize()
	return &Layer{
		store:    store,
		embedder: embedder,
		cfg:      cfg,
		local:    NewLRUCache[string, []byte](cfg.LocalCapacity, cfg.LocalTTL),
		observer: observer,
	}
}

// GetExact looks up the deterministic key for the normalized query text
// within the strategy's namespace. A hit refreshes the entry's TTL (sliding
// expiry) and increments its hit count.
func (l *Layer) GetExact(ctx context.Context, text, strategy string) ([]byte, bool) {
	key := exactKey(text, strategy)

	if payload, ok := l.local.Get(key); ok {
		return payload, true
	}

	data, err := l.store.Get(ctx, key)
	if err != nil {
		if err != ErrCacheMiss {
			slog.Warn("cache store get failed, treating as miss", "error", err)
		}
		return nil, false
	}

	var entry cacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		slog.Warn("dropping undecodable cache entry", "key", key, "error", err)
		return nil, false
	}

	ttl := time.Duration(entry.TTLSeconds) * time.Second
	if l.expired(entry.CreatedAt, entry.LastAccessedAt, ttl) {
		return nil, false
	}

	entry.HitCount++
	entry.LastAccessedAt = time.Now()
	l.writeEntry(ctx, key, &entry, ttl)

	l.local.Set(key, entry.Payload, l.cfg.LocalTTL)
	return entry.Payload, true
}

// FindSemantic embeds the query and scans the strategy's semantic namespace
// for the highest-similarity entry above threshold. Ties break toward the
// most recent entry. The scan is linear; namespaces are bounded by MaxSize.
func (l *Layer) FindSemantic(ctx context.Context, text, strategy string, threshold float32) ([]byte, float32, bool) {
	vector, err := l.embedder.Embed(ctx, text)
	if err != nil {
		slog.Warn("semantic cache embed failed, treating as miss", "error", err)
		return nil, 0, false
	}

	keys, err := l.store.Keys(ctx, semanticKeyPrefix+strategy+":")
	if err != nil {
		slog.Warn("cache store keys failed, treating as miss", "error", err)
		return nil, 0, false
	}

	var bestKey string
	var bestEntry *semanticEntry
	var bestSimilarity float32

	for _, key := range keys {
		data, err := l.store.Get(ctx, key)
		if err != nil {
			continue
		}
		var entry semanticEntry
		if err := json.Unmarshal(data, &entry); err != nil {
			continue
		}
		ttl := time.Duration(entry.TTLSeconds) * time.Second
		if l.expired(entry.CreatedAt, entry.LastAccessedAt, ttl) {
			continue
		}

		similarity := cosineSimilarity(vector, entry.Embedding)
		if similarity < threshold {
			continue
		}
		if bestEntry == nil ||
			similarity > bestSimilarity ||
			(similarity == bestSimilarity && entry.CreatedAt.After(bestEntry.CreatedAt)) {
			entryCopy := entry
			bestKey, bestEntry, bestSimilarity = key, &entryCopy, similarity
		}
	}

	if bestEntry == nil {
		return nil, 0, false
	}

	payload, ok := l.resolvePayload(ctx, bestKey, bestEntry)
	if !ok {
		return nil, 0, false
	}

	bestEntry.HitCount++
	bestEntry.LastAccessedAt = time.Now()
	l.writeSemanticEntry(ctx, bestKey, bestEntry)

	return payload, bestSimilarity, true
}

// resolvePayload follows the semantic entry's payload reference. A dangling
// reference (exact entry evicted or expired) removes the semantic entry and
// counts as a miss.
func (l *Layer) resolvePayload(ctx context.Context, semKey string, entry *semanticEntry) ([]byte, bool) {
	data, err := l.store.Get(ctx, entry.PayloadKey)
	if err != nil {
		if err != ErrCacheMiss {
			slog.Warn("cache store get failed, treating as miss", "error", err)
			return nil, false
		}
		if delErr := l.store.DeleteMany(ctx, []string{semKey}); delErr != nil {
			slog.Warn("failed to remove dangling semantic entry", "key", semKey, "error", delErr)
		}
		return nil, false
	}

	var payloadEntry cacheEntry
	if err := json.Unmarshal(data, &payloadEntry); err != nil {
		return nil, false
	}
	return payloadEntry.Payload, true
}

// PutWithSemantics writes the exact entry and appends a semantic entry that
// shares its payload. Failures are logged, never surfaced.
func (l *Layer) PutWithSemantics(ctx context.Context, text, strategy string, payload []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = l.cfg.DefaultTTL
	}
	now := time.Now()
	key := exactKey(text, strategy)

	entry := cacheEntry{
		Payload:        payload,
		CreatedAt:      now,
		TTLSeconds:     int64(ttl / time.Second),
		LastAccessedAt: now,
	}
	l.writeEntry(ctx, key, &entry, ttl)
	l.local.Set(key, payload, l.cfg.LocalTTL)

	vector, err := l.embedder.Embed(ctx, text)
	if err != nil {
		slog.Warn("skipping semantic cache entry, embed failed", "error", err)
	} else {
		semEntry := semanticEntry{
			OriginalQuery:  text,
			Embedding:      vector,
			PayloadKey:     key,
			CreatedAt:      now,
			TTLSeconds:     int64(ttl / time.Second),
			LastAccessedAt: now,
		}
		l.writeSemanticEntry(ctx, semanticKey(text, strategy), &semEntry)
	}

	l.enforceSizeBound(ctx, exactKeyPrefix)
	l.enforceSizeBound(ctx, semanticKeyPrefix)
}

// enforceSizeBound evicts least-recently-accessed entries when a cache type
// exceeds MaxSize. Checked opportunistically on write.
func (l *Layer) enforceSizeBound(ctx context.Context, prefix string) {
	keys, err := l.store.Keys(ctx, prefix)
	if err != nil {
		slog.Warn("cache store keys failed, skipping eviction", "error", err)
		return
	}
	overage := len(keys) - l.cfg.MaxSize
	if overage <= 0 {
		return
	}

	type accessed struct {
		key            string
		lastAccessedAt time.Time
	}
	entries := make([]accessed, 0, len(keys))
	for _, key := range keys {
		data, err := l.store.Get(ctx, key)
		if err != nil {
			continue
		}
		var bookkeeping struct {
			LastAccessedAt time.Time `json:"lastAccessedAt"`
		}
		if err := json.Unmarshal(data, &bookkeeping); err != nil {
			continue
		}
		entries = append(entries, accessed{key: key, lastAccessedAt: bookkeeping.LastAccessedAt})
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].lastAccessedAt.Before(entries[j].lastAccessedAt)
	})

	if overage > len(entries) {
		overage = len(entries)
	}
	evict := make([]string, 0, overage)
	for _, entry := range entries[:overage] {
		evict = append(evict, entry.key)
		l.local.Remove(entry.key)
	}

	if err := l.store.DeleteMany(ctx, evict); err != nil {
		slog.Warn("cache eviction failed", "error", err)
		return
	}
	if l.observer != nil {
		l.observer.RecordCacheEviction(len(evict))
	}
}

func (l *Layer) writeEntry(ctx context.Context, key string, entry *cacheEntry, ttl time.Duration) {
	data, err := json.Marshal(entry)
	if err != nil {
		slog.Warn("failed to encode cache entry", "error", err)
		return
	}
	if err := l.store.SetWithTTL(ctx, key, data, ttl); err != nil {
		slog.Warn("cache store set failed", "key", key, "error", err)
	}
}

func (l *Layer) writeSemanticEntry(ctx context.Context, key string, entry *semanticEntry) {
	data, err := json.Marshal(entry)
	if err != nil {
		slog.Warn("failed to encode semantic cache entry", "error", err)
		return
	}
	ttl := time.Duration(entry.TTLSeconds) * time.Second
	if err := l.store.SetWithTTL(ctx, key, data, ttl); err != nil {
		slog.Warn("cache store set failed", "key", key, "error", err)
	}
}

// expired is the lazy TTL check for stores that do not expire server-side.
// Sliding expiry: the window restarts on every access.
func (l *Layer) expired(createdAt, lastAccessedAt time.Time, ttl time.Duration) bool {
	if ttl <= 0 {
		return false
	}
	reference := lastAccessedAt
	if reference.IsZero() {
		reference = createdAt
	}
	return time.Now().After(reference.Add(ttl))
}

func hashKey(text string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(text))))
	return hex.EncodeToString(sum[:])[:16]
}

func exactKey(text, strategy string) string {
	return exactKeyPrefix + strategy + ":" + hashKey(text)
}

func semanticKey(text, strategy string) string {
	return semanticKeyPrefix + strategy + ":" + hashKey(text)
}

// cosineSimilarity computes cosine similarity between two vectors.
func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct float32
	var normA float32
	var normB float32

	for i := 0; i < len(a); i++ {
		dotProduct += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (float32(math.Sqrt(float64(normA))) * float32(math.Sqrt(float64(normB))))
}
