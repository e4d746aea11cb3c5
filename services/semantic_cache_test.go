package services

import (
	"context"
	"math"
	"testing"
	"time"

	"knowledge-retrieval-service/models"

	"github.com/redis/go-redis/v9"
)

func testRedis(t *testing.T) *redis.Client {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{Addr: "localhost:6379", DB: 15})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	return rdb
}

func TestSemanticCacheHitAndMiss(t *testing.T) {
	rdb := testRedis(t)
	ctx := context.Background()
	kbID := "test_cache_kb"
	sc := NewSemanticCache(rdb, 60, 0.95, true)
	defer sc.Clear(ctx, kbID)

	embedding := []float32{1, 0, 0, 0}
	resp := models.SearchResponse{TotalFound: 3, Returned: 3}

	if err := sc.Put(ctx, kbID, "refund policy duration", embedding, resp, "text"); err != nil {
		t.Fatalf("Put: %v", err)
	}

	// identical embedding is an exact hit
	hit, err := sc.Get(ctx, kbID, "refund policy duration", embedding, "text")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if hit == nil {
		t.Fatal("expected cache hit")
	}
	if math.Abs(hit.Similarity-1.0) > 1e-6 {
		t.Errorf("similarity = %v, want 1.0", hit.Similarity)
	}
	if hit.Results.TotalFound != 3 {
		t.Errorf("results not round-tripped: %+v", hit.Results)
	}
	if hit.AccessCount != 1 {
		t.Errorf("access count = %d, want 1", hit.AccessCount)
	}

	// second hit increments the counter
	hit, err = sc.Get(ctx, kbID, "refund policy duration", embedding, "text")
	if err != nil || hit == nil {
		t.Fatalf("second Get: %v, hit=%v", err, hit)
	}
	if hit.AccessCount != 2 {
		t.Errorf("access count = %d, want 2", hit.AccessCount)
	}

	// dissimilar embedding misses
	far := []float32{0, 1, 0, 0}
	hit, err = sc.Get(ctx, kbID, "unrelated", far, "text")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if hit != nil {
		t.Errorf("expected miss for dissimilar query, got similarity %v", hit.Similarity)
	}

	// same embedding, different search type misses
	hit, err = sc.Get(ctx, kbID, "refund policy duration", embedding, "product")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if hit != nil {
		t.Error("search types must not share entries")
	}
}

func TestSemanticCacheDisabled(t *testing.T) {
	sc := NewSemanticCache(nil, 60, 0.95, false)
	ctx := context.Background()

	if err := sc.Put(ctx, "kb", "q", []float32{1}, models.SearchResponse{}, "text"); err != nil {
		t.Errorf("disabled Put should be a no-op, got %v", err)
	}
	hit, err := sc.Get(ctx, "kb", "q", []float32{1}, "text")
	if err != nil || hit != nil {
		t.Errorf("disabled Get should miss silently, got %v, %v", hit, err)
	}
}

func TestSemanticCacheClear(t *testing.T) {
	rdb := testRedis(t)
	ctx := context.Background()
	kbID := "test_cache_clear_kb"
	sc := NewSemanticCache(rdb, 60, 0.95, true)

	embedding := []float32{1, 0}
	if err := sc.Put(ctx, kbID, "hello", embedding, models.SearchResponse{}, "text"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	deleted, err := sc.Clear(ctx, kbID)
	if err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if deleted == 0 {
		t.Error("expected at least one deleted entry")
	}
	hit, _ := sc.Get(ctx, kbID, "hello", embedding, "text")
	if hit != nil {
		t.Error("cleared entry still served")
	}
}
