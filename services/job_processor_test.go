package services

import (
	"context"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"knowledge-retrieval-service/internal/catalog"
	"knowledge-retrieval-service/internal/config"
	"knowledge-retrieval-service/models"
	"knowledge-retrieval-service/utils"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

func testJobProcessor(t *testing.T) *JobProcessor {
	t.Helper()
	return &JobProcessor{cfg: &config.Config{}, rdb: testRedis(t)}
}

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI("mongodb://localhost:27017"))
	if err != nil {
		t.Skipf("mongo not available: %v", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		t.Skipf("mongo not available: %v", err)
	}
	t.Cleanup(func() { client.Disconnect(context.Background()) })
	return catalog.New(client, "knowledge_retrieval_test")
}

func TestAdvanceNeverDecreases(t *testing.T) {
	jp := testJobProcessor(t)
	ctx := context.Background()
	docID := "test_job_monotonic"
	defer jp.rdb.Del(ctx, jobKey(docID))

	jp.advance(ctx, docID, models.DocStatusEmbedding, "embedding", 60)

	// a late write with lower progress must not move the bar backwards
	jp.advance(ctx, docID, models.DocStatusChunking, "chunking", 25)

	job, err := jp.GetJob(ctx, docID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job.Progress != 60 {
		t.Errorf("progress = %d, want 60", job.Progress)
	}
	if job.Status != models.DocStatusChunking {
		t.Errorf("status = %q, want %q", job.Status, models.DocStatusChunking)
	}

	jp.advance(ctx, docID, models.DocStatusStoring, "storing", 85)
	job, err = jp.GetJob(ctx, docID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job.Progress != 85 {
		t.Errorf("progress = %d, want 85", job.Progress)
	}
}

func TestGetJobMissing(t *testing.T) {
	jp := testJobProcessor(t)
	_, err := jp.GetJob(context.Background(), "no_such_job")
	if err != redis.Nil {
		t.Errorf("err = %v, want redis.Nil", err)
	}
}

func TestErrorMessageTruncation(t *testing.T) {
	// build a message longer than the cap that ends mid multi-byte rune
	long := strings.Repeat("x", maxErrorLen-1) + "héllo wörld"
	msg := utils.Truncate(long, maxErrorLen)

	if len(msg) > maxErrorLen {
		t.Errorf("len = %d, want <= %d", len(msg), maxErrorLen)
	}
	if !utf8.ValidString(msg) {
		t.Error("truncated message is not valid UTF-8")
	}

	// short messages pass through unchanged
	if got := utils.Truncate("small", maxErrorLen); got != "small" {
		t.Errorf("short message changed: %q", got)
	}
}

func TestJobRecordRoundTrip(t *testing.T) {
	jp := testJobProcessor(t)
	ctx := context.Background()
	docID := "test_job_roundtrip"
	defer jp.rdb.Del(ctx, jobKey(docID))

	if err := jp.writeJob(ctx, &models.Job{
		DocumentID:  docID,
		KBID:        "kb1",
		Status:      models.DocStatusQueued,
		Progress:    0,
		TotalChunks: 42,
	}); err != nil {
		t.Fatalf("writeJob: %v", err)
	}

	job, err := jp.GetJob(ctx, docID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job.KBID != "kb1" || job.Status != models.DocStatusQueued || job.TotalChunks != 42 {
		t.Errorf("round trip mismatch: %+v", job)
	}

	ttl, err := jp.rdb.TTL(ctx, jobKey(docID)).Result()
	if err != nil {
		t.Fatalf("TTL: %v", err)
	}
	if ttl <= 0 || ttl > jobTTL {
		t.Errorf("ttl = %v, want within (0, %v]", ttl, jobTTL)
	}
}

func TestProcessSkipsTerminalDocuments(t *testing.T) {
	cat := testCatalog(t)
	jp := &JobProcessor{cfg: &config.Config{}, rdb: testRedis(t), catalog: cat}
	ctx := context.Background()

	for _, status := range []string{models.DocStatusFailed, models.DocStatusCompleted} {
		docID := uuid.NewString()
		doc := &models.Document{
			ID:        docID,
			KBID:      "test_terminal_kb",
			Filename:  "doc.txt",
			Status:    status,
			CreatedAt: time.Now(),
			UpdatedAt: time.Now(),
		}
		if err := cat.InsertDocument(ctx, doc); err != nil {
			t.Fatalf("InsertDocument: %v", err)
		}
		t.Cleanup(func() { cat.DeleteDocument(ctx, docID) })

		// a retried task for a terminal document must be a no-op
		if err := jp.Process(ctx, docID); err != nil {
			t.Errorf("Process(%s doc) = %v, want nil", status, err)
		}
		got, err := cat.GetDocument(ctx, docID)
		if err != nil {
			t.Fatalf("GetDocument: %v", err)
		}
		if got.Status != status {
			t.Errorf("status flipped from %q to %q", status, got.Status)
		}
		if job, err := jp.GetJob(ctx, docID); err != redis.Nil {
			t.Errorf("expected no job record, got %+v (err %v)", job, err)
		}
	}
}

func TestEstimateSeconds(t *testing.T) {
	if got := EstimateSeconds(100); got != 10 {
		t.Errorf("tiny file estimate = %d, want floor of 10", got)
	}
	if got := EstimateSeconds(3_000_000); got <= 10 {
		t.Errorf("large file estimate = %d, want > 10", got)
	}
}
