package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"knowledge-retrieval-service/internal/ai"
	"knowledge-retrieval-service/internal/logger"
	"knowledge-retrieval-service/models"
)

// Values treated as empty cells during decomposition.
var cellPlaceholders = map[string]bool{
	"": true, "-": true, "—": true, "n/a": true, "na": true, "nil": true,
}

const tableExtractionPrompt = `You are a table extraction engine. Extract every table visible in this page image.
Respond with JSON only, no prose, in this exact shape:
{"tables": [{"headers": ["col1", "col2"], "rows": [{"row_header": "name", "values": ["v1", "v2"]}]}]}
The first column of each row is its row_header. If there are no tables, respond with {"tables": []}.`

// ParsedTable is one extracted table: column headers plus rows keyed by
// their first-column header.
type ParsedTable struct {
	Headers []string   `json:"headers"`
	Rows    []TableRow `json:"rows"`
}

type TableRow struct {
	RowHeader string   `json:"row_header"`
	Values    []string `json:"values"`
}

// TableStats accumulates per-document table processing counters.
type TableStats struct {
	TablesProcessed       int     `json:"tables_processed"`
	DescriptionsGenerated int     `json:"descriptions_generated"`
	RowChunksCreated      int     `json:"row_chunks_created"`
	TokensIn              int     `json:"tokens_in"`
	TokensOut             int     `json:"tokens_out"`
	ExtractionMethod      string  `json:"extraction_method"`
	CostEstimate          float64 `json:"cost_estimate"`
}

// TableDecomposer turns tables into a description chunk plus one cell chunk
// per (row, column, value) so columnar data stays retrievable pointwise.
type TableDecomposer struct {
	gemini      *ai.GeminiClient
	visionModel string
	useVision   bool
}

func NewTableDecomposer(gemini *ai.GeminiClient, visionModel string, useVision bool) *TableDecomposer {
	return &TableDecomposer{
		gemini:      gemini,
		visionModel: visionModel,
		useVision:   useVision,
	}
}

// ProcessPageImage extracts tables from a rasterized page via the vision
// model and decomposes them. A parse failure falls back to nothing rather
// than failing the document.
func (td *TableDecomposer) ProcessPageImage(ctx context.Context, docName string, pageNumber int, imageData []byte, stats *TableStats) []TypedChunk {
	if !td.useVision || td.gemini == nil {
		return nil
	}

	raw, err := td.gemini.GenerateWithImage(ctx, td.visionModel, tableExtractionPrompt, imageData, "png")
	if err != nil {
		logger.Warn("Vision table extraction failed", "doc", docName, "page", pageNumber, "error", err)
		return nil
	}
	stats.TokensIn += len(tableExtractionPrompt) / 4
	stats.TokensOut += len(raw) / 4
	stats.ExtractionMethod = "vision"
	// rough vision pricing proxy per call
	stats.CostEstimate += 0.0005

	tables, err := parseTableJSON(raw)
	if err != nil {
		logger.Warn("Table JSON parse failed", "doc", docName, "page", pageNumber, "error", err)
		return nil
	}

	var chunks []TypedChunk
	for _, table := range tables {
		chunks = append(chunks, td.Decompose(docName, pageNumber, table, stats)...)
	}
	return chunks
}

// ProcessTextTable decomposes a pre-extracted pipe or tab delimited table.
func (td *TableDecomposer) ProcessTextTable(docName string, pageNumber int, tableText string, stats *TableStats) []TypedChunk {
	table, ok := parseDelimitedTable(tableText)
	if !ok {
		return nil
	}
	if stats.ExtractionMethod == "" {
		stats.ExtractionMethod = "text"
	}
	return td.Decompose(docName, pageNumber, table, stats)
}

// Decompose emits the description chunk and the per-cell chunks.
func (td *TableDecomposer) Decompose(docName string, pageNumber int, table ParsedTable, stats *TableStats) []TypedChunk {
	if len(table.Headers) == 0 || len(table.Rows) == 0 {
		return nil
	}
	stats.TablesProcessed++

	rowHeaders := make([]string, 0, len(table.Rows))
	for _, row := range table.Rows {
		if row.RowHeader != "" {
			rowHeaders = append(rowHeaders, row.RowHeader)
		}
	}
	description := fmt.Sprintf("%s contains a table with columns %s and rows %s.",
		docName, strings.Join(table.Headers, ", "), strings.Join(rowHeaders, ", "))

	chunks := []TypedChunk{{
		Content:     description,
		ContentType: ContentTypeTabular,
		ChunkType:   models.ChunkTypeTable,
		Metadata: ChunkMetadata{
			CharCount:         len(description),
			WordCount:         len(strings.Fields(description)),
			HasTable:          true,
			OriginalChunkType: "table_description",
		},
	}}
	stats.DescriptionsGenerated++

	for _, row := range table.Rows {
		for i, value := range row.Values {
			if i >= len(table.Headers) {
				break
			}
			if isPlaceholderCell(value) || row.RowHeader == "" {
				continue
			}
			content := fmt.Sprintf("%s: %s for %s was %s", docName, row.RowHeader, table.Headers[i], strings.TrimSpace(value))
			chunks = append(chunks, TypedChunk{
				Content:     content,
				ContentType: ContentTypeTabular,
				ChunkType:   models.ChunkTypeTable,
				Metadata: ChunkMetadata{
					CharCount:         len(content),
					WordCount:         len(strings.Fields(content)),
					HasTable:          true,
					OriginalChunkType: "table_cell",
				},
			})
			stats.RowChunksCreated++
		}
	}
	return chunks
}

func isPlaceholderCell(value string) bool {
	return cellPlaceholders[strings.ToLower(strings.TrimSpace(value))]
}

// parseTableJSON strips code-fence wrappers and decodes the vision output.
func parseTableJSON(raw string) ([]ParsedTable, error) {
	cleaned := strings.TrimSpace(raw)
	if strings.HasPrefix(cleaned, "```") {
		cleaned = strings.TrimPrefix(cleaned, "```json")
		cleaned = strings.TrimPrefix(cleaned, "```")
		if idx := strings.LastIndex(cleaned, "```"); idx >= 0 {
			cleaned = cleaned[:idx]
		}
		cleaned = strings.TrimSpace(cleaned)
	}

	var payload struct {
		Tables []ParsedTable `json:"tables"`
	}
	if err := json.Unmarshal([]byte(cleaned), &payload); err != nil {
		// some responses return a single table object
		var single ParsedTable
		if err2 := json.Unmarshal([]byte(cleaned), &single); err2 == nil && len(single.Headers) > 0 {
			return []ParsedTable{single}, nil
		}
		return nil, err
	}
	return payload.Tables, nil
}

// parseDelimitedTable reads a pipe or tab separated text table. The first
// line supplies column headers; the first cell of each later line is the
// row header.
func parseDelimitedTable(text string) (ParsedTable, bool) {
	var table ParsedTable

	lines := strings.Split(strings.TrimSpace(text), "\n")
	if len(lines) < 2 {
		return table, false
	}

	sep := "|"
	if !strings.Contains(lines[0], "|") {
		if !strings.Contains(lines[0], "\t") {
			return table, false
		}
		sep = "\t"
	}

	splitRow := func(line string) []string {
		parts := strings.Split(line, sep)
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			out = append(out, strings.TrimSpace(p))
		}
		// pipe tables often have leading/trailing empty cells
		for len(out) > 0 && out[0] == "" {
			out = out[1:]
		}
		for len(out) > 0 && out[len(out)-1] == "" {
			out = out[:len(out)-1]
		}
		return out
	}

	header := splitRow(lines[0])
	if len(header) < 2 {
		return table, false
	}
	table.Headers = header[1:]

	for _, line := range lines[1:] {
		if isMarkdownDividerRow(line) {
			continue
		}
		cells := splitRow(line)
		if len(cells) < 2 {
			continue
		}
		table.Rows = append(table.Rows, TableRow{RowHeader: cells[0], Values: cells[1:]})
	}
	return table, len(table.Rows) > 0
}

func isMarkdownDividerRow(line string) bool {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return true
	}
	for _, r := range trimmed {
		if r != '|' && r != '-' && r != ':' && r != ' ' {
			return false
		}
	}
	return true
}
