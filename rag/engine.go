package rag

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/lithammer/shortuuid/v4"
	"github.com/pkg/errors"

	"github.com/kbforge/ragengine/rag/metrics"
)

// ResultCache is the cache layer seen by the engine. Payloads are opaque
// bytes; the engine owns the result encoding. A nil ResultCache disables
// caching entirely.
type ResultCache interface {
	// GetExact returns the payload for an exact query/strategy match.
	GetExact(ctx context.Context, text, strategy string) ([]byte, bool)

	// FindSemantic returns the payload of the most similar cached query in
	// the strategy's namespace, if its similarity reaches threshold.
	FindSemantic(ctx context.Context, text, strategy string, threshold float32) ([]byte, float32, bool)

	// PutWithSemantics writes the exact entry and appends a semantic entry.
	PutWithSemantics(ctx context.Context, text, strategy string, payload []byte, ttl time.Duration)
}

// fallbacks is the one-hop degradation chain. A strategy reached through a
// fallback never falls back again.
var fallbacks = map[string]string{
	StrategyEntityAware: StrategyHybrid,
	StrategyHybrid:      StrategySemantic,
}

// Engine is the public entry point of the query path: cache lookup, strategy
// dispatch, fallback and result assembly.
type Engine struct {
	cfg        *Config
	cache      ResultCache
	metrics    *metrics.Metrics
	strategies map[string]RetrievalStrategy
}

// NewEngine wires the engine. The strategy set is fixed at construction;
// queries naming an unregistered strategy use the configured default.
func NewEngine(cfg *Config, resultCache ResultCache, m *metrics.Metrics, strategies ...RetrievalStrategy) *Engine {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg.normalize()

	byName := make(map[string]RetrievalStrategy, len(strategies))
	for _, strategy := range strategies {
		byName[strategy.Name()] = strategy
	}

	return &Engine{
		cfg:        cfg,
		cache:      resultCache,
		metrics:    m,
		strategies: byName,
	}
}

// Query runs a single query to completion. It never returns a Go error:
// terminal failures come back as a result with empty sources,
// strategy "error" and a populated error kind.
func (e *Engine) Query(ctx context.Context, query *Query) *RAGResult {
	start := time.Now()
	requestID := shortuuid.New()
	logger := slog.With("request_id", requestID)

	strategyName := e.resolveStrategy(query.Strategy)
	logger.Info("query received", "strategy", strategyName, "text_len", len(query.Text))

	if result := e.checkCache(ctx, logger, query, strategyName); result != nil {
		result.Metadata.ResponseTimeMs = time.Since(start).Milliseconds()
		e.observe(strategyName, "cache_hit", start)
		return result
	}

	result := e.dispatch(ctx, logger, query, strategyName)

	if result.Metadata.ErrorKind == "" {
		e.populateCache(ctx, logger, query, strategyName, result)
		e.observe(result.Metadata.Strategy, "success", start)
	} else {
		e.observe(strategyName, "error", start)
	}

	result.Metadata.ResponseTimeMs = time.Since(start).Milliseconds()
	return result
}

// resolveStrategy normalizes the requested strategy name. Unknown or absent
// names use the configured default.
func (e *Engine) resolveStrategy(name string) string {
	switch name {
	case StrategySemantic, StrategyKeyword, StrategyHybrid, StrategyAgent, StrategyEntityAware:
		return name
	default:
		return e.cfg.DefaultStrategy
	}
}

func (e *Engine) checkCache(ctx context.Context, logger *slog.Logger, query *Query, strategyName string) *RAGResult {
	if e.cache == nil {
		return nil
	}

	if payload, ok := e.cache.GetExact(ctx, query.Text, strategyName); ok {
		if result := decodeResult(logger, payload); result != nil {
			logger.Info("exact cache hit", "strategy", strategyName)
			if e.metrics != nil {
				e.metrics.RecordCacheHit("exact")
			}
			result.Metadata.Cached = true
			return result
		}
	}

	if payload, similarity, ok := e.cache.FindSemantic(ctx, query.Text, strategyName, e.cfg.SemanticCacheThreshold); ok {
		if result := decodeResult(logger, payload); result != nil {
			logger.Info("semantic cache hit", "strategy", strategyName, "similarity", similarity)
			if e.metrics != nil {
				e.metrics.RecordCacheHit("semantic")
			}
			result.Metadata.Cached = true
			result.Metadata.Similarity = similarity
			return result
		}
	}

	if e.metrics != nil {
		e.metrics.RecordCacheMiss()
	}
	return nil
}

// dispatch runs the selected strategy with at most one fallback hop.
func (e *Engine) dispatch(ctx context.Context, logger *slog.Logger, query *Query, strategyName string) *RAGResult {
	// An entity-aware request with the entity subsystem disabled degrades to
	// hybrid immediately; this consumes the single fallback hop.
	hopUsed := false
	if strategyName == StrategyEntityAware {
		if _, ok := e.strategies[StrategyEntityAware]; !ok || !e.cfg.EntityExtractionEnabled {
			logger.Info("entity subsystem disabled, using hybrid", "requested", strategyName)
			e.recordFallback(StrategyEntityAware, StrategyHybrid)
			strategyName = StrategyHybrid
			hopUsed = true
		}
	}

	strategy, ok := e.strategies[strategyName]
	if !ok {
		return errorResult(ErrorKindStrategyUnavailable)
	}

	sources, err := strategy.Search(ctx, query)
	if err == nil {
		return successResult(strategyName, sources)
	}

	logger.Warn("strategy failed", "strategy", strategyName, "error", err)

	fallbackName, hasFallback := fallbacks[strategyName]
	if hopUsed || !hasFallback {
		return errorResult(errorKind(err))
	}

	fallback, ok := e.strategies[fallbackName]
	if !ok {
		return errorResult(errorKind(err))
	}

	e.recordFallback(strategyName, fallbackName)
	logger.Info("falling back", "from", strategyName, "to", fallbackName)

	sources, err = fallback.Search(ctx, query)
	if err != nil {
		logger.Warn("fallback strategy failed", "strategy", fallbackName, "error", err)
		return errorResult(errorKind(err))
	}
	return successResult(fallbackName, sources)
}

func (e *Engine) populateCache(ctx context.Context, logger *slog.Logger, query *Query, strategyName string, result *RAGResult) {
	if e.cache == nil {
		return
	}
	payload, err := json.Marshal(result)
	if err != nil {
		logger.Warn("failed to encode result for caching", "error", err)
		return
	}
	e.cache.PutWithSemantics(ctx, query.Text, strategyName, payload, e.cfg.CacheTTL)
}

func (e *Engine) recordFallback(from, to string) {
	if e.metrics != nil {
		e.metrics.RecordFallback(from, to)
	}
}

func (e *Engine) observe(strategy, outcome string, start time.Time) {
	if e.metrics != nil {
		e.metrics.ObserveQuery(strategy, outcome, time.Since(start).Seconds())
	}
}

func successResult(strategyName string, sources []*SourceChunk) *RAGResult {
	if sources == nil {
		sources = []*SourceChunk{}
	}
	return &RAGResult{
		Sources: sources,
		Context: buildContext(sources),
		Metadata: ResultMetadata{
			Strategy:     strategyName,
			TotalSources: len(sources),
		},
	}
}

func errorResult(kind string) *RAGResult {
	return &RAGResult{
		Sources: []*SourceChunk{},
		Metadata: ResultMetadata{
			Strategy:  StrategyError,
			ErrorKind: kind,
		},
	}
}

func errorKind(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorKindStoreTimeout
	}
	return ErrorKindStrategyUnavailable
}

func decodeResult(logger *slog.Logger, payload []byte) *RAGResult {
	var result RAGResult
	if err := json.Unmarshal(payload, &result); err != nil {
		logger.Warn("dropping undecodable cache payload", "error", err)
		return nil
	}
	return &result
}
