package services

import (
	"strings"
	"testing"
)

func TestDecomposeTable(t *testing.T) {
	td := NewTableDecomposer(nil, "", false)

	table := ParsedTable{
		Headers: []string{"Budget Estimate 2024-25", "Budget Estimate 2025-26"},
		Rows: []TableRow{
			{RowHeader: "Salaries", Values: []string{"1,200", "1,350"}},
			{RowHeader: "Rent", Values: []string{"400", "-"}},
		},
	}

	var stats TableStats
	chunks := td.Decompose("budget.pdf", 5, table, &stats)

	// 1 description + 3 cells (Rent 2025-26 is a placeholder)
	if len(chunks) != 4 {
		t.Fatalf("expected 4 chunks, got %d", len(chunks))
	}
	if chunks[0].Metadata.OriginalChunkType != "table_description" {
		t.Errorf("first chunk should be the description, got %q", chunks[0].Metadata.OriginalChunkType)
	}

	want := "budget.pdf: Salaries for Budget Estimate 2025-26 was 1,350"
	found := false
	for _, chunk := range chunks[1:] {
		if chunk.Content == want {
			found = true
		}
		if chunk.ChunkType != "table" {
			t.Errorf("cell chunk type = %q, want table", chunk.ChunkType)
		}
	}
	if !found {
		t.Errorf("missing cell chunk %q", want)
	}

	if stats.TablesProcessed != 1 || stats.DescriptionsGenerated != 1 || stats.RowChunksCreated != 3 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestParseDelimitedTable(t *testing.T) {
	text := `| Item | Q1 | Q2 |
|------|----|----|
| Salaries | 100 | 110 |
| Rent | 40 | N/A |`

	table, ok := parseDelimitedTable(text)
	if !ok {
		t.Fatal("expected table to parse")
	}
	if len(table.Headers) != 2 || table.Headers[0] != "Q1" {
		t.Errorf("headers = %v", table.Headers)
	}
	if len(table.Rows) != 2 || table.Rows[0].RowHeader != "Salaries" {
		t.Errorf("rows = %+v", table.Rows)
	}
}

func TestParseTableJSONFenced(t *testing.T) {
	raw := "```json\n{\"tables\": [{\"headers\": [\"A\"], \"rows\": [{\"row_header\": \"x\", \"values\": [\"1\"]}]}]}\n```"

	tables, err := parseTableJSON(raw)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if len(tables) != 1 || tables[0].Headers[0] != "A" {
		t.Errorf("tables = %+v", tables)
	}
}

func TestParseTableJSONGarbage(t *testing.T) {
	if _, err := parseTableJSON("not even close"); err == nil {
		t.Error("expected error for non-JSON output")
	}
}

func TestPlaceholderCells(t *testing.T) {
	for _, v := range []string{"", "-", "—", "N/A", "n/a", "  -  "} {
		if !isPlaceholderCell(v) {
			t.Errorf("%q should be a placeholder", v)
		}
	}
	if isPlaceholderCell("0") {
		t.Error("0 is a real value")
	}
}

func TestProcessTextTableRejectsProse(t *testing.T) {
	td := NewTableDecomposer(nil, "", false)
	var stats TableStats
	chunks := td.ProcessTextTable("doc.pdf", 1, "just a sentence with no structure", &stats)
	if len(chunks) != 0 {
		t.Errorf("expected no chunks, got %d", len(chunks))
	}
	if strings.TrimSpace(stats.ExtractionMethod) == "vision" {
		t.Error("method should not be vision")
	}
}
