package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"knowledge-retrieval-service/internal/logger"
	"knowledge-retrieval-service/models"
	"knowledge-retrieval-service/utils"

	"github.com/redis/go-redis/v9"
)

const cacheIndexMax = 1000

// CacheEntry is the stored value for one cached query.
type CacheEntry struct {
	Query        string                `json:"query"`
	Embedding    []float32             `json:"embedding"`
	Results      models.SearchResponse `json:"results"`
	SearchType   string                `json:"search_type"`
	CreatedAt    time.Time             `json:"created_at"`
	LastAccessed time.Time             `json:"last_accessed"`
	AccessCount  int                   `json:"access_count"`
}

// CacheHit is returned on a successful probe.
type CacheHit struct {
	Results       models.SearchResponse
	Similarity    float64
	OriginalQuery string
	Age           time.Duration
	AccessCount   int
}

// CacheStats reports in-process hit counters plus stored entry counts.
type CacheStats struct {
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Entries int64 `json:"entries"`
}

// SemanticCache memoizes search responses keyed by query embedding: a probe
// matches any cached query whose embedding is cosine-similar beyond the
// threshold, not just exact text.
type SemanticCache struct {
	rdb       *redis.Client
	ttl       time.Duration
	threshold float64
	enabled   bool

	hits   atomic.Int64
	misses atomic.Int64
}

func NewSemanticCache(rdb *redis.Client, ttlSeconds int, threshold float64, enabled bool) *SemanticCache {
	return &SemanticCache{
		rdb:       rdb,
		ttl:       time.Duration(ttlSeconds) * time.Second,
		threshold: threshold,
		enabled:   enabled,
	}
}

func (sc *SemanticCache) Enabled() bool { return sc.enabled }

func cacheEntryKey(kbID, query, searchType string) string {
	return fmt.Sprintf("semantic_cache:%s:%s", kbID, utils.CacheQueryHash(query, searchType))
}

func cacheIndexKey(kbID string) string {
	return fmt.Sprintf("cache_index:%s", kbID)
}

// Get scans the KB's cache index for the most similar stored query. A match
// at or above the threshold is a hit; the entry's access stats are updated
// in place without extending its TTL.
func (sc *SemanticCache) Get(ctx context.Context, kbID, query string, queryEmbedding []float32, searchType string) (*CacheHit, error) {
	if !sc.enabled {
		return nil, nil
	}

	keys, err := sc.rdb.LRange(ctx, cacheIndexKey(kbID), 0, cacheIndexMax-1).Result()
	if err != nil && err != redis.Nil {
		return nil, err
	}
	if len(keys) == 0 {
		sc.misses.Add(1)
		return nil, nil
	}

	var bestKey string
	var bestEntry *CacheEntry
	bestScore := -1.0

	values, err := sc.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	for i, value := range values {
		raw, ok := value.(string)
		if !ok {
			continue // expired entry still referenced by the index
		}
		var entry CacheEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			continue
		}
		if entry.SearchType != searchType {
			continue
		}
		score := CosineSimilarity(queryEmbedding, entry.Embedding)
		if score > bestScore {
			bestScore = score
			bestEntry = &entry
			bestKey = keys[i]
		}
	}

	if bestEntry == nil || bestScore < sc.threshold {
		sc.misses.Add(1)
		return nil, nil
	}

	bestEntry.LastAccessed = time.Now()
	bestEntry.AccessCount++
	if payload, err := json.Marshal(bestEntry); err == nil {
		remaining, terr := sc.rdb.TTL(ctx, bestKey).Result()
		if terr != nil || remaining <= 0 {
			remaining = sc.ttl
		}
		if err := sc.rdb.SetEx(ctx, bestKey, payload, remaining).Err(); err != nil {
			logger.Warn("Cache access update failed", "key", bestKey, "error", err)
		}
	}

	sc.hits.Add(1)
	return &CacheHit{
		Results:       bestEntry.Results,
		Similarity:    bestScore,
		OriginalQuery: bestEntry.Query,
		Age:           time.Since(bestEntry.CreatedAt),
		AccessCount:   bestEntry.AccessCount,
	}, nil
}

// Put stores a response and registers its key in the KB index. The index is
// FIFO-trimmed to its cap; trimmed entries expire on their own TTL.
func (sc *SemanticCache) Put(ctx context.Context, kbID, query string, queryEmbedding []float32, results models.SearchResponse, searchType string) error {
	if !sc.enabled {
		return nil
	}

	now := time.Now()
	payload, err := json.Marshal(CacheEntry{
		Query:        query,
		Embedding:    queryEmbedding,
		Results:      results,
		SearchType:   searchType,
		CreatedAt:    now,
		LastAccessed: now,
	})
	if err != nil {
		return err
	}

	key := cacheEntryKey(kbID, query, searchType)
	pipe := sc.rdb.Pipeline()
	pipe.SetEx(ctx, key, payload, sc.ttl)
	pipe.LPush(ctx, cacheIndexKey(kbID), key)
	pipe.LTrim(ctx, cacheIndexKey(kbID), 0, cacheIndexMax-1)
	pipe.Expire(ctx, cacheIndexKey(kbID), 2*sc.ttl)
	_, err = pipe.Exec(ctx)
	return err
}

// Clear drops cached entries, for one KB or all.
func (sc *SemanticCache) Clear(ctx context.Context, kbID string) (int64, error) {
	pattern := "semantic_cache:*"
	if kbID != "" {
		pattern = fmt.Sprintf("semantic_cache:%s:*", kbID)
	}

	var deleted int64
	iter := sc.rdb.Scan(ctx, 0, pattern, 500).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return 0, err
	}
	if len(keys) > 0 {
		n, err := sc.rdb.Del(ctx, keys...).Result()
		if err != nil {
			return 0, err
		}
		deleted = n
	}

	if kbID != "" {
		sc.rdb.Del(ctx, cacheIndexKey(kbID))
	} else {
		idxIter := sc.rdb.Scan(ctx, 0, "cache_index:*", 500).Iterator()
		for idxIter.Next(ctx) {
			sc.rdb.Del(ctx, idxIter.Val())
		}
	}
	return deleted, nil
}

// Stats counts stored entries plus in-process hit ratios.
func (sc *SemanticCache) Stats(ctx context.Context, kbID string) (*CacheStats, error) {
	pattern := "semantic_cache:*"
	if kbID != "" {
		pattern = fmt.Sprintf("semantic_cache:%s:*", kbID)
	}

	var entries int64
	iter := sc.rdb.Scan(ctx, 0, pattern, 500).Iterator()
	for iter.Next(ctx) {
		entries++
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}

	return &CacheStats{
		Hits:    sc.hits.Load(),
		Misses:  sc.misses.Load(),
		Entries: entries,
	}, nil
}
