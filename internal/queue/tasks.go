package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"knowledge-retrieval-service/internal/logger"
	"knowledge-retrieval-service/internal/telemetry"
	"knowledge-retrieval-service/services"
)

const (
	TaskDocumentProcess = "document:process"
	TaskScrapeJob       = "scrape:job"
	TaskSourceSync      = "scrape:sync"
)

type DocumentProcessPayload struct {
	DocumentID string `json:"document_id"`
	KBID       string `json:"kb_id"`
	TenantID   string `json:"tenant_id"`
}

type ScrapeJobPayload struct {
	JobID string `json:"job_id"`
}

type SourceSyncPayload struct {
	SourceID string `json:"source_id"`
}

// NewDocumentProcessTask enqueues a document ingestion run. Uploads go on
// the critical queue so interactive uploads finish ahead of background
// sync work.
func NewDocumentProcessTask(documentID, kbID, tenantID string) (*asynq.Task, error) {
	payload, err := json.Marshal(DocumentProcessPayload{
		DocumentID: documentID,
		KBID:       kbID,
		TenantID:   tenantID,
	})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(
		TaskDocumentProcess,
		payload,
		asynq.MaxRetry(3),
		asynq.Timeout(30*time.Minute),
		asynq.Queue("critical"),
	), nil
}

func NewScrapeJobTask(jobID string) (*asynq.Task, error) {
	payload, err := json.Marshal(ScrapeJobPayload{JobID: jobID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(
		TaskScrapeJob,
		payload,
		asynq.MaxRetry(2),
		asynq.Timeout(45*time.Minute),
		asynq.Queue("default"),
	), nil
}

func NewSourceSyncTask(sourceID string) (*asynq.Task, error) {
	payload, err := json.Marshal(SourceSyncPayload{SourceID: sourceID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(
		TaskSourceSync,
		payload,
		asynq.MaxRetry(1),
		asynq.Timeout(45*time.Minute),
		asynq.Queue("low"),
	), nil
}

// TaskProcessor dispatches queued tasks to the ingestion services.
type TaskProcessor struct {
	jobs    *services.JobProcessor
	scraper *services.ScrapeService
	sync    *services.SyncService
	metrics *telemetry.Metrics
}

func NewTaskProcessor(jobs *services.JobProcessor, scraper *services.ScrapeService, sync *services.SyncService, metrics *telemetry.Metrics) *TaskProcessor {
	return &TaskProcessor{jobs: jobs, scraper: scraper, sync: sync, metrics: metrics}
}

// Register binds the task handlers onto an asynq mux.
func (p *TaskProcessor) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TaskDocumentProcess, p.HandleDocumentProcess)
	mux.HandleFunc(TaskScrapeJob, p.HandleScrapeJob)
	mux.HandleFunc(TaskSourceSync, p.HandleSourceSync)
}

func (p *TaskProcessor) HandleDocumentProcess(ctx context.Context, t *asynq.Task) error {
	var payload DocumentProcessPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal document payload: %w", asynq.SkipRetry)
	}
	logger.Info("Processing document task", "document_id", payload.DocumentID, "kb_id", payload.KBID)

	start := time.Now()
	err := p.jobs.Process(ctx, payload.DocumentID)
	if p.metrics != nil {
		status := "completed"
		if err != nil {
			status = "failed"
		}
		p.metrics.RecordDocumentProcessing(time.Since(start).Seconds(), status)
	}
	return err
}

func (p *TaskProcessor) HandleScrapeJob(ctx context.Context, t *asynq.Task) error {
	var payload ScrapeJobPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal scrape payload: %w", asynq.SkipRetry)
	}
	logger.Info("Processing scrape job task", "job_id", payload.JobID)
	return p.scraper.RunScrapeJob(ctx, payload.JobID)
}

func (p *TaskProcessor) HandleSourceSync(ctx context.Context, t *asynq.Task) error {
	var payload SourceSyncPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal sync payload: %w", asynq.SkipRetry)
	}
	logger.Info("Processing source sync task", "source_id", payload.SourceID)
	_, err := p.sync.SyncSource(ctx, payload.SourceID)
	return err
}
