package services

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"knowledge-retrieval-service/internal/catalog"
	"knowledge-retrieval-service/models"

	"github.com/xuri/excelize/v2"
)

// ExportService produces downloadable snapshots of a knowledge base's
// document inventory.
type ExportService struct {
	catalog *catalog.Catalog
}

func NewExportService(cat *catalog.Catalog) *ExportService {
	return &ExportService{catalog: cat}
}

// ExportResult is a ready-to-serve file.
type ExportResult struct {
	Filename    string
	ContentType string
	Data        []byte
}

type exportManifest struct {
	KBID          string            `json:"kb_id"`
	ExportedAt    time.Time         `json:"exported_at"`
	DocumentCount int               `json:"document_count"`
	Documents     []models.Document `json:"documents"`
}

// ExportKB builds an export in the requested format: json, excel, or both
// (a zip holding one file of each).
func (es *ExportService) ExportKB(ctx context.Context, kbID, format string) (*ExportResult, error) {
	docs, err := es.catalog.DocumentsByKB(ctx, kbID)
	if err != nil {
		return nil, fmt.Errorf("load documents: %w", err)
	}
	manifest := &exportManifest{
		KBID:          kbID,
		ExportedAt:    time.Now(),
		DocumentCount: len(docs),
		Documents:     docs,
	}
	stamp := manifest.ExportedAt.Format("20060102-150405")

	switch format {
	case "", "json":
		data, err := json.MarshalIndent(manifest, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("marshal export: %w", err)
		}
		return &ExportResult{
			Filename:    fmt.Sprintf("kb-%s-%s.json", kbID, stamp),
			ContentType: "application/json",
			Data:        data,
		}, nil
	case "excel":
		data, err := es.buildExcel(manifest)
		if err != nil {
			return nil, err
		}
		return &ExportResult{
			Filename:    fmt.Sprintf("kb-%s-%s.xlsx", kbID, stamp),
			ContentType: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
			Data:        data,
		}, nil
	case "both":
		jsonData, err := json.MarshalIndent(manifest, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("marshal export: %w", err)
		}
		excelData, err := es.buildExcel(manifest)
		if err != nil {
			return nil, err
		}

		var buf bytes.Buffer
		zw := zip.NewWriter(&buf)
		for name, content := range map[string][]byte{
			"documents.json": jsonData,
			"documents.xlsx": excelData,
		} {
			w, err := zw.Create(name)
			if err != nil {
				return nil, fmt.Errorf("create zip entry: %w", err)
			}
			if _, err := w.Write(content); err != nil {
				return nil, fmt.Errorf("write zip entry: %w", err)
			}
		}
		if err := zw.Close(); err != nil {
			return nil, fmt.Errorf("close zip: %w", err)
		}
		return &ExportResult{
			Filename:    fmt.Sprintf("kb-%s-%s.zip", kbID, stamp),
			ContentType: "application/zip",
			Data:        buf.Bytes(),
		}, nil
	default:
		return nil, fmt.Errorf("unsupported export format %q", format)
	}
}

func (es *ExportService) buildExcel(manifest *exportManifest) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	sheetName := "Documents"
	index, err := f.NewSheet(sheetName)
	if err != nil {
		return nil, fmt.Errorf("create sheet: %w", err)
	}
	f.SetActiveSheet(index)
	f.DeleteSheet("Sheet1")

	headers := []string{
		"ID", "Filename", "Content Type", "Size", "Status",
		"Chunks", "Pages", "Source URL", "Created At",
	}
	for i, header := range headers {
		cell := fmt.Sprintf("%c1", 'A'+i)
		f.SetCellValue(sheetName, cell, header)
	}

	for rowIdx, doc := range manifest.Documents {
		row := rowIdx + 2
		chunks, pages := 0, 0
		if doc.ProcessingStats != nil {
			chunks = doc.ProcessingStats.TotalChunks
			pages = doc.ProcessingStats.TotalPages
		}
		f.SetCellValue(sheetName, fmt.Sprintf("A%d", row), doc.ID)
		f.SetCellValue(sheetName, fmt.Sprintf("B%d", row), doc.Filename)
		f.SetCellValue(sheetName, fmt.Sprintf("C%d", row), doc.ContentType)
		f.SetCellValue(sheetName, fmt.Sprintf("D%d", row), doc.Size)
		f.SetCellValue(sheetName, fmt.Sprintf("E%d", row), doc.Status)
		f.SetCellValue(sheetName, fmt.Sprintf("F%d", row), chunks)
		f.SetCellValue(sheetName, fmt.Sprintf("G%d", row), pages)
		f.SetCellValue(sheetName, fmt.Sprintf("H%d", row), doc.SourceURL)
		f.SetCellValue(sheetName, fmt.Sprintf("I%d", row), doc.CreatedAt.Format("2006-01-02 15:04:05"))
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}
