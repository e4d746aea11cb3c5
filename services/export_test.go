package services

import (
	"bytes"
	"testing"
	"time"

	"knowledge-retrieval-service/models"
)

func TestBuildExcel(t *testing.T) {
	es := &ExportService{}
	manifest := &exportManifest{
		KBID:          "kb-1",
		ExportedAt:    time.Now(),
		DocumentCount: 2,
		Documents: []models.Document{
			{
				ID:          "doc-1",
				Filename:    "guide.pdf",
				ContentType: "application/pdf",
				Size:        1024,
				Status:      models.DocStatusCompleted,
				ProcessingStats: &models.ProcessingStats{
					TotalChunks: 12,
					TotalPages:  3,
				},
				CreatedAt: time.Now(),
			},
			{
				ID:          "doc-2",
				Filename:    "notes.md",
				ContentType: "text/markdown",
				Size:        256,
				Status:      models.DocStatusFailed,
				CreatedAt:   time.Now(),
			},
		},
	}

	data, err := es.buildExcel(manifest)
	if err != nil {
		t.Fatalf("buildExcel: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("expected non-empty workbook")
	}
	// xlsx files are zip archives
	if !bytes.HasPrefix(data, []byte("PK")) {
		t.Errorf("expected zip magic at start of workbook, got %q", data[:2])
	}
}
